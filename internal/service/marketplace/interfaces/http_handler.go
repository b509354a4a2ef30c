package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"rentbot/internal/service/marketplace/application"
	"rentbot/internal/service/marketplace/domain"
)

// HealthReporter 由 *application.SweepService 实现
type HealthReporter interface {
	Health(ctx context.Context) (application.HealthReport, error)
}

// JobRunner 由 *Scheduler 实现
type JobRunner interface {
	RunJob(ctx context.Context, name string) error
}

// AdminHandler 是运维用的 HTTP 入口，只挂在内部端口上
type AdminHandler struct {
	health HealthReporter
	jobs   JobRunner
}

func NewAdminHandler(health HealthReporter, jobs JobRunner) *AdminHandler {
	return &AdminHandler{health: health, jobs: jobs}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/health", h.handleHealth)
	mux.HandleFunc("/admin/sweeps/", h.handleRunSweep)
}

type healthResponse struct {
	Pending  int64            `json:"pending"`
	Users    int64            `json:"users"`
	ByStatus map[string]int64 `json:"byStatus"`
	Warning  bool             `json:"warning"`
}

func (h *AdminHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	report, err := h.health.Health(ctx)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	resp := healthResponse{
		Pending:  report.Pending,
		Users:    report.Users,
		ByStatus: make(map[string]int64, len(report.ByStatus)),
		Warning:  report.Warning,
	}
	for status, n := range report.ByStatus {
		resp.ByStatus[string(status)] = n
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleRunSweep 手动触发一次后台任务：POST /admin/sweeps/<name>
func (h *AdminHandler) handleRunSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/admin/sweeps/")
	if name == "" {
		http.Error(w, "job name is required", http.StatusBadRequest)
		return
	}
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	if err := h.jobs.RunJob(ctx, name); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor 根据错误类型返回不同的 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrTransientStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
