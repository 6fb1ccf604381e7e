package api

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/securotron/internal/task"
)

// RunnerStatus exposes the lifecycle state of the task runner
type RunnerStatus interface {
	State() task.RunnerState
}

// QueueStatus exposes the depth of the in-process task queue
type QueueStatus interface {
	Len() int
	Cap() int
}

// HealthResponse is the body of GET /healthz
type HealthResponse struct {
	Status        string `json:"status"`
	State         string `json:"state"`
	QueueLength   int    `json:"queue_length"`
	QueueCapacity int    `json:"queue_capacity"`
}

// HealthHandler reports agent readiness.
type HealthHandler struct {
	runner RunnerStatus
	queue  QueueStatus
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(runner RunnerStatus, queue QueueStatus, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &HealthHandler{
		runner: runner,
		queue:  queue,
		logger: logger.With("component", "health"),
	}
}

// Health handles GET /healthz.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	state := h.runner.State()

	resp := HealthResponse{
		Status:        "ok",
		State:         state.String(),
		QueueLength:   h.queue.Len(),
		QueueCapacity: h.queue.Cap(),
	}

	status := http.StatusOK
	if state != task.StateRunning {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
		h.logger.Debug("health check while not running", "state", resp.State)
	}

	RespondWithJSON(w, status, resp)
}

// Live handles GET /livez.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		h.logger.Error("failed to write liveness response", "error", err)
	}
}
