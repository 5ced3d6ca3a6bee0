package scheduler_test

import (
	"context"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"opspulse.app/reporter/internal/model"
	"opspulse.app/reporter/internal/scheduler"
)

// farFuture never fires during a test run.
const farFuture = "0 0 1 1 *"

var _ = Describe("Scheduler", func() {
	newScheduler := func(cfg scheduler.Config) *scheduler.Scheduler {
		s, err := scheduler.New(cfg)
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	successfulRun := func(calls *atomic.Int32) scheduler.RunFunc {
		return func(_ context.Context, jobID string) (model.ReportRun, error) {
			calls.Add(1)
			return model.ReportRun{ID: 1, JobID: jobID, Status: model.RunStatusSuccess}, nil
		}
	}

	It("rejects malformed cron specs", func() {
		_, err := scheduler.New(scheduler.Config{CronSpec: "not a cron"})
		Expect(err).To(HaveOccurred())
	})

	It("accepts day-of-week names", func() {
		_, err := scheduler.New(scheduler.Config{CronSpec: "5 17 * * MON-FRI"})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Trigger", func() {
		It("runs the registered job", func() {
			var calls atomic.Int32
			s := newScheduler(scheduler.Config{CronSpec: farFuture, Enabled: true})
			Expect(s.Register("daily_usage", successfulRun(&calls))).To(Succeed())

			Expect(s.Trigger(context.Background(), "daily_usage")).To(Succeed())

			Eventually(func() int32 { return calls.Load() }).Should(Equal(int32(1)))
			Eventually(func() bool {
				status, err := s.JobStatusByID("daily_usage")
				Expect(err).NotTo(HaveOccurred())
				return !status.Running && status.LastStatus != nil
			}).Should(BeTrue())

			status, err := s.JobStatusByID("daily_usage")
			Expect(err).NotTo(HaveOccurred())
			Expect(*status.LastStatus).To(Equal(model.RunStatusSuccess))
			Expect(status.LastRun).NotTo(BeNil())
		})

		It("returns ErrUnknownJob for unregistered jobs", func() {
			s := newScheduler(scheduler.Config{CronSpec: farFuture, Enabled: true})
			err := s.Trigger(context.Background(), "nope")
			Expect(err).To(MatchError(scheduler.ErrUnknownJob))
		})

		It("ignores a trigger while a run is in flight", func() {
			release := make(chan struct{})
			started := make(chan struct{}, 2)
			s := newScheduler(scheduler.Config{CronSpec: farFuture, Enabled: true})
			Expect(s.Register("daily_usage", func(_ context.Context, jobID string) (model.ReportRun, error) {
				started <- struct{}{}
				<-release
				return model.ReportRun{ID: 1, JobID: jobID, Status: model.RunStatusSuccess}, nil
			})).To(Succeed())

			Expect(s.Trigger(context.Background(), "daily_usage")).To(Succeed())
			<-started

			err := s.Trigger(context.Background(), "daily_usage")
			Expect(err).To(MatchError(scheduler.ErrAlreadyRunning))

			close(release)
			Eventually(func() bool {
				status, _ := s.JobStatusByID("daily_usage")
				return !status.Running
			}).Should(BeTrue())

			// Idle again, so a new trigger is accepted.
			Expect(s.Trigger(context.Background(), "daily_usage")).To(Succeed())
		})

		It("recovers from panicking runs", func() {
			s := newScheduler(scheduler.Config{CronSpec: farFuture, Enabled: true})
			Expect(s.Register("daily_usage", func(context.Context, string) (model.ReportRun, error) {
				panic("boom")
			})).To(Succeed())

			Expect(s.Trigger(context.Background(), "daily_usage")).To(Succeed())

			Eventually(func() bool {
				status, _ := s.JobStatusByID("daily_usage")
				return !status.Running
			}).Should(BeTrue())
			// The job is triggerable again after the panic.
			Expect(s.Trigger(context.Background(), "daily_usage")).To(Succeed())
		})
	})

	Describe("shutdown", func() {
		It("cancels in-flight runs on Stop but not on the trigger's context", func() {
			s := newScheduler(scheduler.Config{CronSpec: farFuture, Enabled: true})

			started := make(chan struct{})
			cancelled := make(chan struct{})
			Expect(s.Register("daily_usage", func(ctx context.Context, jobID string) (model.ReportRun, error) {
				close(started)
				<-ctx.Done()
				close(cancelled)
				return model.ReportRun{}, ctx.Err()
			})).To(Succeed())

			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = s.Run(context.Background())
			}()

			triggerCtx, cancelTrigger := context.WithCancel(context.Background())
			Expect(s.Trigger(triggerCtx, "daily_usage")).To(Succeed())
			Eventually(started).Should(BeClosed())

			// The run must survive its trigger going away.
			cancelTrigger()
			Consistently(cancelled, 100*time.Millisecond).ShouldNot(BeClosed())

			s.Stop()
			Expect(cancelled).To(BeClosed())
			Eventually(done).Should(BeClosed())
		})

		It("cancels in-flight runs when the loop context ends", func() {
			s := newScheduler(scheduler.Config{CronSpec: farFuture, Enabled: true})

			cancelled := make(chan struct{})
			Expect(s.Register("daily_usage", func(ctx context.Context, jobID string) (model.ReportRun, error) {
				<-ctx.Done()
				close(cancelled)
				return model.ReportRun{}, ctx.Err()
			})).To(Succeed())

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = s.Run(ctx)
			}()

			Expect(s.Trigger(context.Background(), "daily_usage")).To(Succeed())
			cancel()

			Eventually(cancelled).Should(BeClosed())
			Eventually(done).Should(BeClosed())
		})
	})

	Describe("TriggerAll", func() {
		It("fires every registered job", func() {
			var a, b atomic.Int32
			s := newScheduler(scheduler.Config{CronSpec: farFuture, Enabled: true})
			Expect(s.Register("job-a", successfulRun(&a))).To(Succeed())
			Expect(s.Register("job-b", successfulRun(&b))).To(Succeed())

			results := s.TriggerAll(context.Background())
			Expect(results).To(HaveLen(2))
			Expect(results["job-a"]).To(Succeed())
			Expect(results["job-b"]).To(Succeed())

			Eventually(func() int32 { return a.Load() + b.Load() }).Should(Equal(int32(2)))
		})
	})

	Describe("debug mode", func() {
		It("fires immediately at startup", func() {
			var calls atomic.Int32
			s := newScheduler(scheduler.Config{CronSpec: farFuture, Enabled: true, DebugMode: true})
			Expect(s.Register("daily_usage", successfulRun(&calls))).To(Succeed())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = s.Run(ctx)
			}()

			Eventually(func() int32 { return calls.Load() }).Should(Equal(int32(1)))

			s.Stop()
			Eventually(done).Should(BeClosed())
		})

		It("still respects Enabled", func() {
			var calls atomic.Int32
			s := newScheduler(scheduler.Config{CronSpec: farFuture, Enabled: false, DebugMode: true})
			Expect(s.Register("daily_usage", successfulRun(&calls))).To(Succeed())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = s.Run(ctx)
			}()

			Consistently(func() int32 { return calls.Load() }, 100*time.Millisecond).Should(BeZero())

			s.Stop()
			Eventually(done).Should(BeClosed())
		})
	})

	Describe("Healthy", func() {
		It("reports false before the loop starts and true after", func() {
			s := newScheduler(scheduler.Config{CronSpec: farFuture, Enabled: true})
			Expect(s.Register("daily_usage", func(_ context.Context, jobID string) (model.ReportRun, error) {
				return model.ReportRun{JobID: jobID, Status: model.RunStatusSuccess}, nil
			})).To(Succeed())

			Expect(s.Healthy(time.Minute)).To(BeFalse())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = s.Run(ctx)
			}()

			Eventually(func() bool { return s.Healthy(time.Minute) }).Should(BeTrue())

			s.Stop()
			Eventually(done).Should(BeClosed())
		})
	})

	Describe("Status", func() {
		It("lists jobs in registration order with the next fire time", func() {
			s := newScheduler(scheduler.Config{CronSpec: farFuture, Enabled: true})
			Expect(s.Register("job-b", func(_ context.Context, jobID string) (model.ReportRun, error) {
				return model.ReportRun{JobID: jobID}, nil
			})).To(Succeed())
			Expect(s.Register("job-a", func(_ context.Context, jobID string) (model.ReportRun, error) {
				return model.ReportRun{JobID: jobID}, nil
			})).To(Succeed())

			statuses := s.Status()
			Expect(statuses).To(HaveLen(2))
			Expect(statuses[0].ID).To(Equal("job-b"))
			Expect(statuses[1].ID).To(Equal("job-a"))
			Expect(statuses[0].NextRun).NotTo(BeNil())
		})

		It("omits the next fire time when disabled", func() {
			s := newScheduler(scheduler.Config{CronSpec: farFuture, Enabled: false})
			Expect(s.Register("job-a", func(_ context.Context, jobID string) (model.ReportRun, error) {
				return model.ReportRun{JobID: jobID}, nil
			})).To(Succeed())

			statuses := s.Status()
			Expect(statuses[0].NextRun).To(BeNil())
		})
	})
})
