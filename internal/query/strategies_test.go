package query_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"opspulse.app/reporter/internal/model"
	"opspulse.app/reporter/internal/query"
)

var _ = Describe("Strategies", func() {
	var (
		client   *mockLogsClient
		captured string
		spec     model.QuerySpec
	)

	BeforeEach(func() {
		captured = ""
		client = &mockLogsClient{
			queryFn: func(_ context.Context, _ string, q string, _, _ time.Time) (model.QueryResult, error) {
				captured = q
				return model.QueryResult{
					Columns: []model.Column{{Name: "UserId", Type: "string"}},
				}, nil
			},
		}
		spec = model.QuerySpec{
			Workspace: model.Workspace{ID: "ws-x", Type: model.WorkspaceTypeALM, Name: "ALM Chat"},
			Start:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			End:       time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		}
	})

	execute := func(t model.WorkspaceType) model.QueryResult {
		reg, err := query.NewRegistry(client, model.TemplateTypeStg)
		Expect(err).NotTo(HaveOccurred())
		s, err := reg.Get(t)
		Expect(err).NotTo(HaveOccurred())
		result, err := s.Execute(context.Background(), spec)
		Expect(err).NotTo(HaveOccurred())
		return result
	}

	DescribeTable("builds the workspace-specific query",
		func(t model.WorkspaceType, fragment string) {
			execute(t)
			Expect(captured).To(ContainSubstring(fragment))
		},
		Entry("alm filters on its completion event", model.WorkspaceTypeALM, `contains "alm_chat_completion"`),
		Entry("brain filters on its completion event", model.WorkspaceTypeBrain, `contains "brain_chat_completion"`),
		Entry("doc filters on the search path prefix", model.WorkspaceTypeDoc, `startswith "POST /api/search"`),
		Entry("ma bot filters on its message event", model.WorkspaceTypeMABot, `contains "ma_bot_message"`),
		Entry("ma web counts distinct users", model.WorkspaceTypeMAWeb, "distinct UserId"),
		Entry("ca filters on its request event", model.WorkspaceTypeCA, `contains "company_analysis_request"`),
	)

	It("includes the query window", func() {
		execute(model.WorkspaceTypeALM)
		Expect(captured).To(ContainSubstring("datetime(2026-03-01 00:00:00) .. datetime(2026-03-02 00:00:00)"))
	})

	It("prefers an explicit query override", func() {
		spec.Query = "AppTraces | take 1"
		execute(model.WorkspaceTypeALM)
		Expect(captured).To(Equal("AppTraces | take 1"))
	})

	It("stamps the workspace onto the result", func() {
		result := execute(model.WorkspaceTypeALM)
		Expect(result.Workspace.ID).To(Equal("ws-x"))
		Expect(result.Workspace.Name).To(Equal("ALM Chat"))
	})
})
