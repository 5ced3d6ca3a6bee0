package model

import (
	"fmt"
	"time"
)

// TemplateType selects the deployment environment a report is rendered for.
type TemplateType string

const (
	TemplateTypeStg  TemplateType = "stg"
	TemplateTypeProd TemplateType = "prod"
)

// ParseTemplateType validates a template type read from configuration.
func ParseTemplateType(s string) (TemplateType, error) {
	switch TemplateType(s) {
	case TemplateTypeStg, TemplateTypeProd:
		return TemplateType(s), nil
	}
	return "", fmt.Errorf("unknown template type %q", s)
}

// Format is the rendered output format of a report.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
)

// Ext returns the file extension used in blob keys for this format.
func (f Format) Ext() string {
	return string(f)
}

// ReportRequest carries the collected query results of one run into a
// report builder. Results keep workspace report order; failed workspaces
// are simply absent.
type ReportRequest struct {
	TemplateType TemplateType
	Format       Format
	JobID        string
	Results      []QueryResult
	Start        time.Time
	End          time.Time
	// GeneratedAt is the only non-deterministic input to a builder. It is
	// rendered into a delimited header so the body stays byte-stable.
	GeneratedAt time.Time
}

// Report is an immutable rendered report ready for publishing.
type Report struct {
	Bytes        []byte
	ContentType  string
	SuggestedKey string
}
