package sandbox

import (
	"fmt"
	"math/big"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// QueryResult is the normalized outcome of one sandboxed query.
type QueryResult struct {
	Columns         []string `json:"columns"`
	Rows            [][]any  `json:"rows"`
	RowCount        int      `json:"rowCount"`
	ExecutionTimeMs int64    `json:"executionTimeMs"`
}

// uniqueColumns suffixes repeated names (a, a -> a, a_2) so that every column
// in a result can be addressed by name.
func uniqueColumns(names []string) []string {
	out := make([]string, len(names))
	used := make(map[string]struct{}, len(names))
	for i, name := range names {
		candidate := name
		for n := 2; ; n++ {
			if _, taken := used[candidate]; !taken {
				break
			}
			candidate = name + "_" + strconv.Itoa(n)
		}
		used[candidate] = struct{}{}
		out[i] = candidate
	}
	return out
}

// normalizeValue converts driver-native values into plain scalars that encode
// cleanly as JSON.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val
	case [16]byte:
		return uuid.UUID(val).String()
	case []byte:
		return fmt.Sprintf("\\x%x", val)
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		if val.NaN || val.InfinityModifier != pgtype.Finite {
			f, err := val.Float64Value()
			if err != nil || !f.Valid {
				return nil
			}
			return strconv.FormatFloat(f.Float64, 'g', -1, 64)
		}
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return numericString(val)
		}
		return f.Float64
	case *big.Int:
		return val.String()
	case netip.Prefix:
		return val.String()
	case netip.Addr:
		return val.String()
	case net.HardwareAddr:
		return val.String()
	case pgtype.Interval:
		if !val.Valid {
			return nil
		}
		return formatInterval(val)
	case pgtype.Time:
		if !val.Valid {
			return nil
		}
		return formatTime(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalizeValue(e)
		}
		return out
	case fmt.Stringer:
		return val.String()
	default:
		return v
	}
}

func numericString(n pgtype.Numeric) string {
	if n.Int == nil {
		return "0"
	}
	s := n.Int.String()
	if n.Exp > 0 {
		for range n.Exp {
			s += "0"
		}
		return s
	}
	if n.Exp == 0 {
		return s
	}
	neg := s[0] == '-'
	if neg {
		s = s[1:]
	}
	scale := int(-n.Exp)
	for len(s) <= scale {
		s = "0" + s
	}
	s = s[:len(s)-scale] + "." + s[len(s)-scale:]
	if neg {
		s = "-" + s
	}
	return s
}

func formatInterval(iv pgtype.Interval) string {
	us := iv.Microseconds
	sign := ""
	if us < 0 {
		sign = "-"
		us = -us
	}
	h := us / 3_600_000_000
	m := (us / 60_000_000) % 60
	s := (us / 1_000_000) % 60
	frac := us % 1_000_000

	clock := fmt.Sprintf("%s%02d:%02d:%02d", sign, h, m, s)
	if frac != 0 {
		clock += fmt.Sprintf(".%06d", frac)
	}

	out := ""
	if iv.Months != 0 {
		out += fmt.Sprintf("%d mons ", iv.Months)
	}
	if iv.Days != 0 {
		out += fmt.Sprintf("%d days ", iv.Days)
	}
	return out + clock
}

func formatTime(t pgtype.Time) string {
	us := t.Microseconds
	h := us / 3_600_000_000
	m := (us / 60_000_000) % 60
	s := (us / 1_000_000) % 60
	frac := us % 1_000_000
	if frac != 0 {
		return fmt.Sprintf("%02d:%02d:%02d.%06d", h, m, s, frac)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
