package report

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"opspulse.app/reporter/internal/model"
)

// csvBuilder renders one CSV section per workspace. Lines starting with '#'
// form the delimited header; everything below it is stable for identical
// input, so readers configured with '#' as the comment rune see only the
// column header and data rows.
type csvBuilder struct {
	includeSummary bool
}

func (b *csvBuilder) Build(request model.ReportRequest) (model.Report, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# job: %s\n", request.JobID)
	fmt.Fprintf(&buf, "# range: %s / %s\n",
		request.Start.UTC().Format("2006-01-02 15:04:05"),
		request.End.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&buf, "# generated_at: %s\n", request.GeneratedAt.UTC().Format("2006-01-02T15:04:05Z"))

	w := csv.NewWriter(&buf)

	if b.includeSummary {
		fmt.Fprintf(&buf, "# summary\n")
		if err := w.Write([]string{"workspace", "name", "row_count"}); err != nil {
			return model.Report{}, fmt.Errorf("writing summary header: %w", err)
		}
		for _, result := range request.Results {
			row := []string{result.Workspace.ID, result.Workspace.Name, fmt.Sprintf("%d", result.RowCount())}
			if err := w.Write(row); err != nil {
				return model.Report{}, fmt.Errorf("writing summary row: %w", err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return model.Report{}, fmt.Errorf("flushing summary: %w", err)
		}
	}

	for _, result := range request.Results {
		fmt.Fprintf(&buf, "# workspace: %s (%s)\n", result.Workspace.ID, result.Workspace.Name)

		header := make([]string, len(result.Columns))
		for i, col := range result.Columns {
			header[i] = col.Name
		}
		if err := w.Write(header); err != nil {
			return model.Report{}, fmt.Errorf("writing header for workspace %s: %w", result.Workspace.ID, err)
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
			if err := w.Write(cells); err != nil {
				return model.Report{}, fmt.Errorf("writing row for workspace %s: %w", result.Workspace.ID, err)
			}
		}

		w.Flush()
		if err := w.Error(); err != nil {
			return model.Report{}, fmt.Errorf("flushing workspace %s: %w", result.Workspace.ID, err)
		}
	}

	return model.Report{
		Bytes:        buf.Bytes(),
		ContentType:  "text/csv; charset=utf-8",
		SuggestedKey: SuggestedKey(request),
	}, nil
}

func formatCell(v any) string {
	switch cell := v.(type) {
	case nil:
		return ""
	case string:
		return cell
	case float64:
		// JSON numbers decode as float64. Print integral values without a
		// fractional part so counts read as counts.
		if cell == float64(int64(cell)) {
			return fmt.Sprintf("%d", int64(cell))
		}
		return fmt.Sprintf("%g", cell)
	default:
		return fmt.Sprintf("%v", cell)
	}
}
