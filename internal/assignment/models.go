package assignment

// Difficulty grades an assignment for listing and filtering.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid reports whether d is one of the known difficulties.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Assignment is the summary shown in listings.
type Assignment struct {
	ID            string     `json:"id" yaml:"id"`
	Title         string     `json:"title" yaml:"title"`
	Description   string     `json:"description" yaml:"description"`
	Difficulty    Difficulty `json:"difficulty" yaml:"difficulty"`
	Category      string     `json:"category" yaml:"category"`
	EstimatedTime int        `json:"estimatedTime" yaml:"estimated_time"` // minutes
}

// ForeignKey points a column at another table's column.
type ForeignKey struct {
	Table  string `json:"table" yaml:"table"`
	Column string `json:"column" yaml:"column"`
}

// ColumnDefinition describes one column of a sample table.
type ColumnDefinition struct {
	Name       string      `json:"name" yaml:"name"`
	Type       string      `json:"type" yaml:"type"`
	Nullable   bool        `json:"nullable" yaml:"nullable"`
	PrimaryKey bool        `json:"primaryKey" yaml:"primary_key"`
	ForeignKey *ForeignKey `json:"foreignKey,omitempty" yaml:"foreign_key,omitempty"`
}

// TableSchema describes a table available in the assignment's schema.
type TableSchema struct {
	Name    string             `json:"name" yaml:"name"`
	Columns []ColumnDefinition `json:"columns" yaml:"columns"`
}

// Detail is the full assignment. Hints and SolutionQuery never leave the
// server.
type Detail struct {
	Assignment `yaml:",inline"`

	Question      string                      `json:"question" yaml:"question"`
	Requirements  []string                    `json:"requirements" yaml:"requirements"`
	Tables        []TableSchema               `json:"tables" yaml:"tables"`
	SampleData    map[string][]map[string]any `json:"sampleData" yaml:"sample_data"`
	Hints         []string                    `json:"-" yaml:"hints"`
	SolutionQuery string                      `json:"-" yaml:"solution_query"`
}
