package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"safe-sql-sandbox/internal/auth"
	"safe-sql-sandbox/internal/sanitizer"
)

var (
	serverURL    string
	token        string
	assignmentID string
	hintsUsed    int
	difficulty   string
	category     string
	page         int
	limit        int
	userID       string
	role         string
	tokenTTL     time.Duration
	rawJSON      bool
)

func main() {
	root := &cobra.Command{
		Use:          "sqlsandbox",
		Short:        "CLI client for safe-sql-sandbox",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&serverURL, "server", envOr("SANDBOX_SERVER", "http://localhost:5000"), "Server URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("SANDBOX_TOKEN"), "Bearer token")
	root.PersistentFlags().BoolVar(&rawJSON, "json", false, "Print raw JSON responses")

	// Execute a query against an assignment
	execCmd := &cobra.Command{
		Use:   "exec [query]",
		Short: "Execute a query in an assignment's sandbox (reads stdin without an argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExec,
	}
	execCmd.Flags().StringVarP(&assignmentID, "assignment", "a", "", "Assignment ID")
	execCmd.Flags().IntVar(&hintsUsed, "hints-used", 0, "Hints used so far")
	_ = execCmd.MarkFlagRequired("assignment")
	root.AddCommand(execCmd)

	// Local validation
	root.AddCommand(&cobra.Command{
		Use:   "check [query]",
		Short: "Run the query sanitizer locally without contacting the server",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCheck,
	})

	assignmentsCmd := &cobra.Command{
		Use:   "assignments [id]",
		Short: "List assignments, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runAssignments,
	}
	assignmentsCmd.Flags().StringVar(&difficulty, "difficulty", "", "Filter by difficulty (easy, medium, hard)")
	assignmentsCmd.Flags().StringVar(&category, "category", "", "Filter by category")
	assignmentsCmd.Flags().IntVar(&page, "page", 1, "Page number")
	assignmentsCmd.Flags().IntVar(&limit, "limit", 20, "Page size")
	root.AddCommand(assignmentsCmd)

	hintCmd := &cobra.Command{
		Use:   "hint [current query]",
		Short: "Ask for the next hint",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHint,
	}
	hintCmd.Flags().StringVarP(&assignmentID, "assignment", "a", "", "Assignment ID")
	hintCmd.Flags().IntVar(&hintsUsed, "hints-used", 0, "Hints already received")
	_ = hintCmd.MarkFlagRequired("assignment")
	root.AddCommand(hintCmd)

	attemptsCmd := &cobra.Command{
		Use:   "attempts",
		Short: "List your recorded attempts (requires --token)",
		RunE:  runAttempts,
	}
	attemptsCmd.Flags().StringVarP(&assignmentID, "assignment", "a", "", "Only this assignment")
	attemptsCmd.Flags().IntVar(&page, "page", 1, "Page number")
	attemptsCmd.Flags().IntVar(&limit, "limit", 20, "Page size")
	root.AddCommand(attemptsCmd)

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  runHealth,
	})

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development token signed with JWT_SECRET",
		RunE:  runToken,
	}
	tokenCmd.Flags().StringVar(&userID, "user", "", "User ID")
	tokenCmd.Flags().StringVar(&role, "role", auth.RoleStudent, "Role")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultTTL, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
	root.AddCommand(tokenCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// envelope mirrors the server's response wrapper.
type envelope struct {
	Success        bool            `json:"success"`
	Data           json.RawMessage `json:"data"`
	Error          string          `json:"error"`
	Code           string          `json:"code"`
	BlockedReasons []string        `json:"blockedReasons"`
	Pagination     *struct {
		Page       int `json:"page"`
		Total      int `json:"total"`
		TotalPages int `json:"totalPages"`
	} `json:"pagination"`
}

type queryResult struct {
	Columns         []string `json:"columns"`
	Rows            [][]any  `json:"rows"`
	RowCount        int      `json:"rowCount"`
	ExecutionTimeMs int64    `json:"executionTimeMs"`
	Correctness     string   `json:"correctness"`
}

func runExec(_ *cobra.Command, args []string) error {
	q, err := queryArg(args)
	if err != nil {
		return err
	}

	env, err := call(http.MethodPost, "/api/query/execute", map[string]any{
		"assignmentId": assignmentID,
		"query":        q,
		"hintsUsed":    hintsUsed,
	})
	if err != nil {
		return err
	}
	if rawJSON {
		return nil
	}

	var res queryResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}

	data := pterm.TableData{res.Columns}
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatCell(v)
		}
		data = append(data, cells)
	}
	if len(res.Columns) > 0 {
		if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
			return err
		}
	}

	pterm.Info.Printfln("%d row(s) in %dms", res.RowCount, res.ExecutionTimeMs)
	switch res.Correctness {
	case "correct":
		pterm.Success.Println("Correct!")
	case "incorrect":
		pterm.Warning.Println("Not quite: the result differs from the expected output")
	}
	return nil
}

func runCheck(_ *cobra.Command, args []string) error {
	q, err := queryArg(args)
	if err != nil {
		return err
	}

	res := sanitizer.Sanitize(q)
	if rawJSON {
		return printJSON(res)
	}
	if res.IsAllowed {
		pterm.Success.Println("Query allowed")
		pterm.Println(res.SanitizedQuery)
		return nil
	}
	for _, r := range res.BlockedReasons {
		pterm.Println("  - " + r)
	}
	return fmt.Errorf("query blocked")
}

func runAssignments(_ *cobra.Command, args []string) error {
	if len(args) == 1 {
		env, err := call(http.MethodGet, "/api/assignments/"+url.PathEscape(args[0]), nil)
		if err != nil {
			return err
		}
		if rawJSON {
			return nil
		}
		var detail struct {
			ID           string   `json:"id"`
			Title        string   `json:"title"`
			Difficulty   string   `json:"difficulty"`
			Question     string   `json:"question"`
			Requirements []string `json:"requirements"`
			Tables       []struct {
				Name    string `json:"name"`
				Columns []struct {
					Name string `json:"name"`
					Type string `json:"type"`
				} `json:"columns"`
			} `json:"tables"`
		}
		if err := json.Unmarshal(env.Data, &detail); err != nil {
			return fmt.Errorf("decoding assignment: %w", err)
		}
		pterm.DefaultSection.Println(detail.Title + " (" + detail.Difficulty + ")")
		pterm.Println(detail.Question)
		for _, r := range detail.Requirements {
			pterm.Println("  - " + r)
		}
		for _, t := range detail.Tables {
			cols := make([]string, len(t.Columns))
			for i, c := range t.Columns {
				cols[i] = c.Name + " " + c.Type
			}
			pterm.Printfln("\n%s(%s)", t.Name, strings.Join(cols, ", "))
		}
		return nil
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("limit", strconv.Itoa(limit))
	if difficulty != "" {
		params.Set("difficulty", difficulty)
	}
	if category != "" {
		params.Set("category", category)
	}

	env, err := call(http.MethodGet, "/api/assignments?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	if rawJSON {
		return nil
	}

	var list []struct {
		ID            string `json:"id"`
		Title         string `json:"title"`
		Difficulty    string `json:"difficulty"`
		Category      string `json:"category"`
		EstimatedTime int    `json:"estimatedTime"`
	}
	if err := json.Unmarshal(env.Data, &list); err != nil {
		return fmt.Errorf("decoding assignments: %w", err)
	}

	data := pterm.TableData{{"ID", "Title", "Difficulty", "Category", "Minutes"}}
	for _, a := range list {
		data = append(data, []string{a.ID, a.Title, a.Difficulty, a.Category, strconv.Itoa(a.EstimatedTime)})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}
	printPagination(env)
	return nil
}

func runHint(_ *cobra.Command, args []string) error {
	current := ""
	if len(args) == 1 {
		current = args[0]
	}
	// The server only counts previous hints, so placeholders are enough.
	previous := make([]string, hintsUsed)

	env, err := call(http.MethodPost, "/api/hints/generate", map[string]any{
		"assignmentId":  assignmentID,
		"currentQuery":  current,
		"previousHints": previous,
	})
	if err != nil {
		return err
	}
	if rawJSON {
		return nil
	}

	var h struct {
		Hint      string `json:"hint"`
		HintsUsed int    `json:"hintsUsed"`
	}
	if err := json.Unmarshal(env.Data, &h); err != nil {
		return fmt.Errorf("decoding hint: %w", err)
	}
	pterm.Info.Printfln("Hint %d: %s", h.HintsUsed, h.Hint)
	return nil
}

func runAttempts(_ *cobra.Command, _ []string) error {
	if token == "" {
		return fmt.Errorf("attempts require --token or SANDBOX_TOKEN")
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("limit", strconv.Itoa(limit))
	if assignmentID != "" {
		params.Set("assignmentId", assignmentID)
	}

	env, err := call(http.MethodGet, "/api/attempts?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	if rawJSON {
		return nil
	}

	var list []struct {
		AssignmentID    string    `json:"assignmentId"`
		Query           string    `json:"query"`
		RowCount        int       `json:"rowCount"`
		ExecutionTimeMs int64     `json:"executionTimeMs"`
		Correctness     string    `json:"correctness"`
		AttemptedAt     time.Time `json:"attemptedAt"`
	}
	if err := json.Unmarshal(env.Data, &list); err != nil {
		return fmt.Errorf("decoding attempts: %w", err)
	}

	data := pterm.TableData{{"When", "Assignment", "Result", "Rows", "ms", "Query"}}
	for _, a := range list {
		data = append(data, []string{
			a.AttemptedAt.Local().Format(time.DateTime),
			a.AssignmentID,
			a.Correctness,
			strconv.Itoa(a.RowCount),
			strconv.FormatInt(a.ExecutionTimeMs, 10),
			truncate(strings.Join(strings.Fields(a.Query), " "), 60),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}
	printPagination(env)
	return nil
}

func runHealth(_ *cobra.Command, _ []string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if err := printJSON(result); err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server is %v", result["status"])
	}
	return nil
}

func runToken(_ *cobra.Command, _ []string) error {
	issuer, err := auth.NewIssuer(os.Getenv("JWT_SECRET"), os.Getenv("JWT_ISSUER"), tokenTTL)
	if err != nil {
		return fmt.Errorf("JWT_SECRET must be set to the server's secret: %w", err)
	}
	signed, err := issuer.Issue(userID, role)
	if err != nil {
		return err
	}
	fmt.Println(signed)
	return nil
}

// call sends a request to the server and returns the decoded envelope. Error
// envelopes become errors.
func call(method, path string, payload any) (*envelope, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, serverURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 70 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if rawJSON {
		var pretty bytes.Buffer
		if json.Indent(&pretty, raw, "", "  ") == nil {
			fmt.Println(pretty.String())
		} else {
			fmt.Println(string(raw))
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding response (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = resp.Status
		}
		if !rawJSON {
			for _, r := range env.BlockedReasons {
				pterm.Error.Println(r)
			}
		}
		return nil, fmt.Errorf("%s (%s, HTTP %d)", msg, env.Code, resp.StatusCode)
	}
	return &env, nil
}

func queryArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

func printPagination(env *envelope) {
	if env.Pagination != nil {
		pterm.Info.Printfln("page %d of %d (%d total)", env.Pagination.Page, env.Pagination.TotalPages, env.Pagination.Total)
	}
}

func printJSON(v any) error {
	formatted, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(formatted))
	return nil
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
