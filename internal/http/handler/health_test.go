package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"opspulse.app/reporter/internal/http/handler"
	"opspulse.app/reporter/internal/model"
	"opspulse.app/reporter/internal/scheduler"
)

var _ = Describe("HealthHandler", func() {
	var (
		router *gin.Engine
		sched  *mockScheduler
	)

	get := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		sched = &mockScheduler{healthy: true}
		router.GET("/health", handler.NewHealthHandler(sched, 30*time.Second).Health)
	})

	It("answers 200 with the job table while the loop heartbeats", func() {
		status := model.RunStatusSuccess
		sched.status = []scheduler.JobStatus{{
			ID:         model.JobDailyUsage,
			Running:    false,
			LastStatus: &status,
		}}

		w := get()
		Expect(w.Code).To(Equal(http.StatusOK))

		var body struct {
			Status string                `json:"status"`
			Jobs   []scheduler.JobStatus `json:"jobs"`
		}
		Expect(json.Unmarshal(w.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Status).To(Equal("ok"))
		Expect(body.Jobs).To(HaveLen(1))
		Expect(body.Jobs[0].ID).To(Equal(model.JobDailyUsage))
		Expect(*body.Jobs[0].LastStatus).To(Equal(model.RunStatusSuccess))
	})

	It("answers 503 once the loop has gone quiet", func() {
		sched.healthy = false

		w := get()
		Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
	})

	It("asks the scheduler with the configured window", func() {
		get()
		Expect(sched.windows).To(ConsistOf(30 * time.Second))
	})

	It("defaults a non-positive window", func() {
		router = gin.New()
		router.GET("/health", handler.NewHealthHandler(sched, 0).Health)

		get()
		Expect(sched.windows).To(ConsistOf(time.Minute))
	})
})
