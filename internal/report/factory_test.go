package report_test

import (
	"bytes"
	"encoding/csv"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"opspulse.app/reporter/internal/model"
	"opspulse.app/reporter/internal/report"
)

var _ = Describe("Factory", func() {
	var (
		factory *report.Factory
		request model.ReportRequest
	)

	caResult := func(rows int) model.QueryResult {
		result := model.QueryResult{
			Workspace: model.Workspace{ID: "ws-ca", Type: model.WorkspaceTypeCA, Name: "Company Analysis"},
			Columns: []model.Column{
				{Name: "TimeGenerated", Type: "datetime"},
				{Name: "UserId", Type: "string"},
			},
		}
		for i := range rows {
			result.Rows = append(result.Rows, []any{"2026-03-01T12:00:00Z", string(rune('a' + i))})
		}
		return result
	}

	BeforeEach(func() {
		factory = report.NewFactory()
		request = model.ReportRequest{
			TemplateType: model.TemplateTypeStg,
			Format:       model.FormatCSV,
			JobID:        "daily_usage",
			Results:      []model.QueryResult{caResult(5)},
			Start:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			End:          time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
			GeneratedAt:  time.Date(2026, 3, 2, 17, 5, 0, 0, time.UTC),
		}
	})

	Describe("Build", func() {
		It("returns ErrUnsupportedFormat for unregistered pairs", func() {
			request.Format = model.Format("xlsx")
			_, err := factory.Build(request)
			Expect(err).To(MatchError(report.ErrUnsupportedFormat))
		})

		It("rejects results with an empty schema", func() {
			request.Results[0].Columns = nil
			_, err := factory.Build(request)
			var re *report.RenderError
			Expect(errors.As(err, &re)).To(BeTrue())
		})

		It("is deterministic for identical request content", func() {
			first, err := factory.Build(request)
			Expect(err).NotTo(HaveOccurred())
			second, err := factory.Build(request)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Bytes).To(Equal(first.Bytes))
		})

		It("isolates the timestamp in the comment header", func() {
			first, err := factory.Build(request)
			Expect(err).NotTo(HaveOccurred())

			request.GeneratedAt = request.GeneratedAt.Add(time.Hour)
			second, err := factory.Build(request)
			Expect(err).NotTo(HaveOccurred())

			stripHeader := func(b []byte) string {
				var kept []string
				for _, line := range strings.Split(string(b), "\n") {
					if !strings.HasPrefix(line, "#") {
						kept = append(kept, line)
					}
				}
				return strings.Join(kept, "\n")
			}
			Expect(second.Bytes).NotTo(Equal(first.Bytes))
			Expect(stripHeader(second.Bytes)).To(Equal(stripHeader(first.Bytes)))
		})
	})

	Describe("CSV builder", func() {
		It("renders the header row plus every data row", func() {
			built, err := factory.Build(request)
			Expect(err).NotTo(HaveOccurred())
			Expect(built.ContentType).To(HavePrefix("text/csv"))

			reader := csv.NewReader(bytes.NewReader(built.Bytes))
			reader.Comment = '#'
			records, err := reader.ReadAll()
			Expect(err).NotTo(HaveOccurred())

			Expect(records).To(HaveLen(6))
			Expect(records[0]).To(Equal([]string{"TimeGenerated", "UserId"}))
			Expect(records[1][1]).To(Equal("a"))
			Expect(records[5][1]).To(Equal("e"))
		})

		It("prefixes a summary section for prod reports", func() {
			request.TemplateType = model.TemplateTypeProd
			built, err := factory.Build(request)
			Expect(err).NotTo(HaveOccurred())

			reader := csv.NewReader(bytes.NewReader(built.Bytes))
			reader.Comment = '#'
			reader.FieldsPerRecord = -1
			records, err := reader.ReadAll()
			Expect(err).NotTo(HaveOccurred())

			Expect(records[0]).To(Equal([]string{"workspace", "name", "row_count"}))
			Expect(records[1]).To(Equal([]string{"ws-ca", "Company Analysis", "5"}))
		})

		It("rejects rows that do not match the schema", func() {
			request.Results[0].Rows[2] = []any{"only-one-cell"}
			_, err := factory.Build(request)
			var re *report.RenderError
			Expect(errors.As(err, &re)).To(BeTrue())
		})
	})

	Describe("HTML builder", func() {
		BeforeEach(func() {
			request.Format = model.FormatHTML
		})

		It("renders one table section per workspace", func() {
			request.Results = append(request.Results, model.QueryResult{
				Workspace: model.Workspace{ID: "ws-alm", Type: model.WorkspaceTypeALM, Name: "ALM Chat"},
				Columns:   []model.Column{{Name: "UserId", Type: "string"}},
				Rows:      [][]any{{"u1"}},
			})

			built, err := factory.Build(request)
			Expect(err).NotTo(HaveOccurred())
			Expect(built.ContentType).To(HavePrefix("text/html"))

			body := string(built.Bytes)
			Expect(body).To(ContainSubstring("<h2>Company Analysis (ws-ca)</h2>"))
			Expect(body).To(ContainSubstring("<h2>ALM Chat (ws-alm)</h2>"))
			Expect(strings.Count(body, "<section>")).To(Equal(2))
		})

		It("escapes cell content", func() {
			request.Results[0].Rows[0][1] = `<script>alert("x")</script>`
			built, err := factory.Build(request)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(built.Bytes)).NotTo(ContainSubstring("<script>alert"))
		})
	})

	Describe("SuggestedKey", func() {
		It("derives the key from template type, job and range end", func() {
			Expect(report.SuggestedKey(request)).To(Equal("stg/daily_usage/20260302.csv"))
		})

		It("uses the format extension", func() {
			request.Format = model.FormatHTML
			request.TemplateType = model.TemplateTypeProd
			Expect(report.SuggestedKey(request)).To(Equal("prod/daily_usage/20260302.html"))
		})
	})
})
