package query

import (
	"context"
	"fmt"

	"opspulse.app/reporter/internal/kql"
	"opspulse.app/reporter/internal/model"
)

// One strategy per workspace type. Each knows the keyword shape its
// application logs under; the KQL itself comes from the shared templates.

type almStrategy struct {
	client       LogsClient
	templateType model.TemplateType
}

func (s *almStrategy) Execute(ctx context.Context, spec model.QuerySpec) (model.QueryResult, error) {
	return run(ctx, s.client, s.templateType, spec, kql.QueryStrokeCount, kql.Params{
		ContainsKeyword: "alm_chat_completion",
	})
}

type brainStrategy struct {
	client       LogsClient
	templateType model.TemplateType
}

func (s *brainStrategy) Execute(ctx context.Context, spec model.QuerySpec) (model.QueryResult, error) {
	return run(ctx, s.client, s.templateType, spec, kql.QueryStrokeCount, kql.Params{
		ContainsKeyword: "brain_chat_completion",
	})
}

type docStrategy struct {
	client       LogsClient
	templateType model.TemplateType
}

func (s *docStrategy) Execute(ctx context.Context, spec model.QuerySpec) (model.QueryResult, error) {
	// Document search logs a request-path prefix rather than an event name.
	return run(ctx, s.client, s.templateType, spec, kql.QueryStrokeCount, kql.Params{
		StartsWithKeyword: "POST /api/search",
	})
}

type maBotStrategy struct {
	client       LogsClient
	templateType model.TemplateType
}

func (s *maBotStrategy) Execute(ctx context.Context, spec model.QuerySpec) (model.QueryResult, error) {
	return run(ctx, s.client, s.templateType, spec, kql.QueryStrokeCount, kql.Params{
		ContainsKeyword: "ma_bot_message",
	})
}

type maWebStrategy struct {
	client       LogsClient
	templateType model.TemplateType
}

func (s *maWebStrategy) Execute(ctx context.Context, spec model.QuerySpec) (model.QueryResult, error) {
	// The web frontend is measured by distinct active users, not strokes.
	return run(ctx, s.client, s.templateType, spec, kql.QueryUserCount, kql.Params{
		ContainsKeyword: "ma_web_session",
	})
}

type caStrategy struct {
	client       LogsClient
	templateType model.TemplateType
}

func (s *caStrategy) Execute(ctx context.Context, spec model.QuerySpec) (model.QueryResult, error) {
	return run(ctx, s.client, s.templateType, spec, kql.QueryStrokeCount, kql.Params{
		ContainsKeyword: "company_analysis_request",
	})
}

// run renders the query, executes it, and stamps the workspace onto the
// normalized result.
func run(ctx context.Context, client LogsClient, templateType model.TemplateType, spec model.QuerySpec, name kql.QueryName, params kql.Params) (model.QueryResult, error) {
	params.Start = spec.Start
	params.End = spec.End

	q := spec.Query
	if q == "" {
		var err error
		q, err = kql.Build(name, templateType, params)
		if err != nil {
			return model.QueryResult{}, Permanent(spec.Workspace.ID, fmt.Errorf("building query: %w", err))
		}
	}

	result, err := client.Query(ctx, spec.Workspace.ID, q, spec.Start, spec.End)
	if err != nil {
		return model.QueryResult{}, err
	}

	result.Workspace = spec.Workspace
	return result, nil
}
