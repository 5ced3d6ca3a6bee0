package kql

// Kusto query construction for the log-analytics workspaces. Queries are
// named templates with one variant per template type (stg/prod) because the
// staging and production apps log under different table layouts.

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"opspulse.app/reporter/internal/model"
)

const timeLayout = "2006-01-02 15:04:05"

// Params are the substitutions available to a query template.
// At least one keyword must be set.
type Params struct {
	ContainsKeyword   string
	StartsWithKeyword string
	Start             time.Time
	End               time.Time
}

// QueryName identifies a query template.
type QueryName string

const (
	QueryUserCount   QueryName = "user_count"
	QueryStrokeCount QueryName = "stroke_count"
)

var templates = map[QueryName]map[model.TemplateType]string{
	QueryUserCount: {
		model.TemplateTypeStg: `AppTraces
| where TimeGenerated between (datetime({{.StartTime}}) .. datetime({{.EndTime}}))
{{- if .ContainsKeyword}}
| where Message contains "{{.ContainsKeyword}}"
{{- end}}
{{- if .StartsWithKeyword}}
| where Message startswith "{{.StartsWithKeyword}}"
{{- end}}
| distinct UserId = tostring(Properties.user_id)`,
		model.TemplateTypeProd: `AppEvents
| where TimeGenerated between (datetime({{.StartTime}}) .. datetime({{.EndTime}}))
{{- if .ContainsKeyword}}
| where Name contains "{{.ContainsKeyword}}"
{{- end}}
{{- if .StartsWithKeyword}}
| where Name startswith "{{.StartsWithKeyword}}"
{{- end}}
| distinct UserId = tostring(Properties.user_id)`,
	},
	QueryStrokeCount: {
		model.TemplateTypeStg: `AppTraces
| where TimeGenerated between (datetime({{.StartTime}}) .. datetime({{.EndTime}}))
{{- if .ContainsKeyword}}
| where Message contains "{{.ContainsKeyword}}"
{{- end}}
{{- if .StartsWithKeyword}}
| where Message startswith "{{.StartsWithKeyword}}"
{{- end}}
| project TimeGenerated, UserId = tostring(Properties.user_id), Message`,
		model.TemplateTypeProd: `AppEvents
| where TimeGenerated between (datetime({{.StartTime}}) .. datetime({{.EndTime}}))
{{- if .ContainsKeyword}}
| where Name contains "{{.ContainsKeyword}}"
{{- end}}
{{- if .StartsWithKeyword}}
| where Name startswith "{{.StartsWithKeyword}}"
{{- end}}
| project TimeGenerated, UserId = tostring(Properties.user_id), Name`,
	},
}

type templateData struct {
	ContainsKeyword   string
	StartsWithKeyword string
	StartTime         string
	EndTime           string
}

// Build renders the named query template for the given template type.
// Returns an error for unknown query names and when no keyword is provided.
func Build(name QueryName, templateType model.TemplateType, params Params) (string, error) {
	variants, ok := templates[name]
	if !ok {
		return "", fmt.Errorf("unknown query name %q", name)
	}

	text, ok := variants[templateType]
	if !ok {
		return "", fmt.Errorf("query %q has no %s variant", name, templateType)
	}

	if params.ContainsKeyword == "" && params.StartsWithKeyword == "" {
		return "", fmt.Errorf("query %q requires a contains or startswith keyword", name)
	}

	tmpl, err := template.New(string(name)).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parsing query template %q: %w", name, err)
	}

	data := templateData{
		ContainsKeyword:   escape(params.ContainsKeyword),
		StartsWithKeyword: escape(params.StartsWithKeyword),
		StartTime:         params.Start.UTC().Format(timeLayout),
		EndTime:           params.End.UTC().Format(timeLayout),
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering query template %q: %w", name, err)
	}

	return strings.TrimSpace(sb.String()), nil
}

// escape neutralizes double quotes so keywords cannot break out of the
// KQL string literal they are substituted into.
func escape(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}
