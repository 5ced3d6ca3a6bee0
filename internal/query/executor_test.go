package query_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"opspulse.app/reporter/core/config"
	"opspulse.app/reporter/internal/model"
	"opspulse.app/reporter/internal/query"
	"opspulse.app/reporter/internal/registry"
	"opspulse.app/reporter/internal/retry"
)

var _ = Describe("Executor", func() {
	var (
		workspaces *registry.WorkspaceRegistry
		strategies map[model.WorkspaceType]query.Strategy
		caMock     *mockStrategy
		spec       model.QuerySpec
	)

	newExecutor := func(cfg query.ExecutorConfig) *query.Executor {
		reg, err := query.NewRegistryWith(strategies)
		Expect(err).NotTo(HaveOccurred())
		return query.NewExecutor(workspaces, reg, cfg)
	}

	fastRetry := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	okResult := model.QueryResult{
		Columns: []model.Column{{Name: "UserId", Type: "string"}},
		Rows:    [][]any{{"u1"}},
	}

	BeforeEach(func() {
		var err error
		workspaces, err = registry.FromConfig(config.WorkspacesConfig{
			ALM:   "ws-alm",
			Brain: "ws-brain",
			Doc:   "ws-doc",
			MABot: "ws-ma-bot",
			MAWeb: "ws-ma-web",
			CA:    "ws-ca",
		})
		Expect(err).NotTo(HaveOccurred())

		caMock = &mockStrategy{}
		strategies = make(map[model.WorkspaceType]query.Strategy)
		for _, t := range model.AllWorkspaceTypes() {
			strategies[t] = &mockStrategy{}
		}
		strategies[model.WorkspaceTypeCA] = caMock

		spec = model.QuerySpec{
			Workspace: model.Workspace{ID: "ws-ca"},
			Start:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			End:       time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		}
	})

	It("runs the strategy for the workspace type", func() {
		caMock.executeFn = func(_ context.Context, s model.QuerySpec) (model.QueryResult, error) {
			// The registry fills in type and name from the bare id.
			Expect(s.Workspace.Type).To(Equal(model.WorkspaceTypeCA))
			Expect(s.Workspace.Name).To(Equal("Company Analysis"))
			return okResult, nil
		}

		result, err := newExecutor(query.ExecutorConfig{Retry: fastRetry}).Run(context.Background(), spec)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.RowCount()).To(Equal(1))
		Expect(caMock.calls).To(Equal(1))
	})

	It("fails unknown workspaces without invoking any strategy", func() {
		spec.Workspace.ID = "ws-nope"

		_, err := newExecutor(query.ExecutorConfig{Retry: fastRetry}).Run(context.Background(), spec)
		Expect(err).To(MatchError(registry.ErrUnknownWorkspace))
		Expect(caMock.calls).To(BeZero())
		for _, s := range strategies {
			Expect(s.(*mockStrategy).calls).To(BeZero())
		}
	})

	It("retries transient errors and succeeds", func() {
		caMock.executeFn = func(_ context.Context, _ model.QuerySpec) (model.QueryResult, error) {
			if caMock.calls < 3 {
				return model.QueryResult{}, query.Transient("ws-ca", errors.New("throttled"))
			}
			return okResult, nil
		}

		result, err := newExecutor(query.ExecutorConfig{Retry: fastRetry}).Run(context.Background(), spec)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.RowCount()).To(Equal(1))
		Expect(caMock.calls).To(Equal(3))
	})

	It("does not retry permanent errors", func() {
		caMock.executeFn = func(_ context.Context, _ model.QuerySpec) (model.QueryResult, error) {
			return model.QueryResult{}, query.Permanent("ws-ca", errors.New("bad query"))
		}

		_, err := newExecutor(query.ExecutorConfig{Retry: fastRetry}).Run(context.Background(), spec)
		var qe *query.QueryError
		Expect(errors.As(err, &qe)).To(BeTrue())
		Expect(qe.Class).To(Equal(query.ErrorClassPermanent))
		Expect(caMock.calls).To(Equal(1))
	})

	It("reports retry exhaustion as a permanent error", func() {
		caMock.executeFn = func(_ context.Context, _ model.QuerySpec) (model.QueryResult, error) {
			return model.QueryResult{}, query.Transient("ws-ca", errors.New("throttled"))
		}

		_, err := newExecutor(query.ExecutorConfig{Retry: fastRetry}).Run(context.Background(), spec)
		var qe *query.QueryError
		Expect(errors.As(err, &qe)).To(BeTrue())
		Expect(qe.Class).To(Equal(query.ErrorClassPermanent))
		Expect(err.Error()).To(ContainSubstring("retries exhausted"))
		Expect(caMock.calls).To(Equal(3))
	})

	It("defaults only the unset retry knobs", func() {
		caMock.executeFn = func(_ context.Context, _ model.QuerySpec) (model.QueryResult, error) {
			return model.QueryResult{}, query.Transient("ws-ca", errors.New("throttled"))
		}

		start := time.Now()
		_, err := newExecutor(query.ExecutorConfig{
			Retry: retry.Policy{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		}).Run(context.Background(), spec)
		Expect(err).To(HaveOccurred())

		// The attempt count falls back to the default while the configured
		// delays are kept, so the retries finish in milliseconds rather than
		// on the second-scale default backoff.
		Expect(caMock.calls).To(Equal(retry.DefaultPolicy().MaxAttempts))
		Expect(time.Since(start)).To(BeNumerically("<", 500*time.Millisecond))
	})

	It("treats attempt timeouts as transient", func() {
		caMock.executeFn = func(ctx context.Context, _ model.QuerySpec) (model.QueryResult, error) {
			if caMock.calls == 1 {
				<-ctx.Done()
				return model.QueryResult{}, ctx.Err()
			}
			return okResult, nil
		}

		result, err := newExecutor(query.ExecutorConfig{
			Timeout: 10 * time.Millisecond,
			Retry:   fastRetry,
		}).Run(context.Background(), spec)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.RowCount()).To(Equal(1))
		Expect(caMock.calls).To(Equal(2))
	})

	It("rejects results with no columns", func() {
		caMock.executeFn = func(_ context.Context, _ model.QuerySpec) (model.QueryResult, error) {
			return model.QueryResult{}, nil
		}

		_, err := newExecutor(query.ExecutorConfig{Retry: fastRetry}).Run(context.Background(), spec)
		var qe *query.QueryError
		Expect(errors.As(err, &qe)).To(BeTrue())
		Expect(qe.Class).To(Equal(query.ErrorClassPermanent))
	})
})
