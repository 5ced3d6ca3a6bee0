package model

import "time"

// QuerySpec describes one query execution against one workspace.
// Constructed per run; immutable.
type QuerySpec struct {
	Workspace Workspace
	Query     string
	Start     time.Time
	End       time.Time
}

// Column describes one column of a query result table.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// QueryResult is the normalized output of a query strategy. Every strategy
// must produce this shape so report builders stay format-agnostic.
type QueryResult struct {
	Workspace Workspace `json:"workspace"`
	Columns   []Column  `json:"columns"`
	Rows      [][]any   `json:"rows"`
	FetchedAt time.Time `json:"fetched_at"`
}

// RowCount returns the number of data rows in the result.
func (r QueryResult) RowCount() int {
	return len(r.Rows)
}
