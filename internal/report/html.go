package report

import (
	"bytes"
	"fmt"
	"html/template"

	"opspulse.app/reporter/internal/model"
)

// htmlBuilder renders one table per workspace. The generated-at timestamp
// lives in a single header element so the document body below it is stable
// for identical input.
type htmlBuilder struct {
	includeSummary bool
}

const htmlReport = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Usage Report {{.JobID}}</title>
</head>
<body>
<header>
<h1>Usage Report</h1>
<p class="meta">job {{.JobID}} | range {{.RangeStart}} / {{.RangeEnd}} | generated {{.GeneratedAt}}</p>
</header>
{{- if .Summary}}
<section>
<h2>Summary</h2>
<table>
<thead><tr><th>workspace</th><th>name</th><th>rows</th></tr></thead>
<tbody>
{{- range .Summary}}
<tr><td>{{.WorkspaceID}}</td><td>{{.Name}}</td><td>{{.RowCount}}</td></tr>
{{- end}}
</tbody>
</table>
</section>
{{- end}}
{{- range .Sections}}
<section>
<h2>{{.Title}}</h2>
<table>
<thead><tr>{{range .Header}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{- range .Rows}}
<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{- end}}
</tbody>
</table>
</section>
{{- end}}
</body>
</html>
`

var htmlTemplate = template.Must(template.New("report").Parse(htmlReport))

type htmlSummaryRow struct {
	WorkspaceID string
	Name        string
	RowCount    int
}

type htmlSection struct {
	Title  string
	Header []string
	Rows   [][]string
}

type htmlData struct {
	JobID       string
	RangeStart  string
	RangeEnd    string
	GeneratedAt string
	Summary     []htmlSummaryRow
	Sections    []htmlSection
}

func (b *htmlBuilder) Build(request model.ReportRequest) (model.Report, error) {
	data := htmlData{
		JobID:       request.JobID,
		RangeStart:  request.Start.UTC().Format("2006-01-02 15:04:05"),
		RangeEnd:    request.End.UTC().Format("2006-01-02 15:04:05"),
		GeneratedAt: request.GeneratedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}

	if b.includeSummary {
		for _, result := range request.Results {
			data.Summary = append(data.Summary, htmlSummaryRow{
				WorkspaceID: result.Workspace.ID,
				Name:        result.Workspace.Name,
				RowCount:    result.RowCount(),
			})
		}
	}

	for _, result := range request.Results {
		section := htmlSection{
			Title:  fmt.Sprintf("%s (%s)", result.Workspace.Name, result.Workspace.ID),
			Header: make([]string, len(result.Columns)),
		}
		for i, col := range result.Columns {
			section.Header[i] = col.Name
		}
		for _, row := range result.Rows {
			if len(row) != len(result.Columns) {
				return model.Report{}, fmt.Errorf("workspace %s: row has %d cells, schema has %d columns",
					result.Workspace.ID, len(row), len(result.Columns))
			}
			cells := make([]string, len(row))
			for i, cell := range row {
				cells[i] = formatCell(cell)
			}
			section.Rows = append(section.Rows, cells)
		}
		data.Sections = append(data.Sections, section)
	}

	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, data); err != nil {
		return model.Report{}, fmt.Errorf("executing report template: %w", err)
	}

	return model.Report{
		Bytes:        buf.Bytes(),
		ContentType:  "text/html; charset=utf-8",
		SuggestedKey: SuggestedKey(request),
	}, nil
}
