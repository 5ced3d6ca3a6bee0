package pipeline_test

import (
	"context"
	"sync"

	"opspulse.app/reporter/internal/model"
	"opspulse.app/reporter/internal/publish"
	"opspulse.app/reporter/internal/store"
)

type mockExecutor struct {
	mu    sync.Mutex
	runFn func(ctx context.Context, spec model.QuerySpec) (model.QueryResult, error)
	specs []model.QuerySpec
}

func (m *mockExecutor) Run(ctx context.Context, spec model.QuerySpec) (model.QueryResult, error) {
	m.mu.Lock()
	m.specs = append(m.specs, spec)
	m.mu.Unlock()
	if m.runFn != nil {
		return m.runFn(ctx, spec)
	}
	return model.QueryResult{}, nil
}

func (m *mockExecutor) seenWorkspaces() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.specs))
	for _, s := range m.specs {
		ids = append(ids, s.Workspace.ID)
	}
	return ids
}

type mockPublisher struct {
	mu        sync.Mutex
	publishFn func(ctx context.Context, rpt model.Report) (publish.PublishResult, error)
	published []model.Report
}

func (m *mockPublisher) Publish(ctx context.Context, rpt model.Report) (publish.PublishResult, error) {
	m.mu.Lock()
	m.published = append(m.published, rpt)
	m.mu.Unlock()
	if m.publishFn != nil {
		return m.publishFn(ctx, rpt)
	}
	return publish.PublishResult{Key: rpt.SuggestedKey, ETag: "etag"}, nil
}

type mockRunStore struct {
	mu       sync.Mutex
	created  []model.ReportRun
	finished []model.ReportRun

	createErr error
	finishErr error
}

func (m *mockRunStore) Create(_ context.Context, run model.ReportRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, run)
	return nil
}

func (m *mockRunStore) Finish(_ context.Context, run model.ReportRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finishErr != nil {
		return m.finishErr
	}
	m.finished = append(m.finished, run)
	return nil
}

func (m *mockRunStore) ListByJob(context.Context, string, int) ([]model.ReportRun, error) {
	return nil, nil
}

func (m *mockRunStore) GetLatestByJob(context.Context, string) (model.ReportRun, error) {
	return model.ReportRun{}, store.ErrNotFound
}
