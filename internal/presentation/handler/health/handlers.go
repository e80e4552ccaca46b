package health

import (
	"context"
	"net/http"
	"time"

	"github.com/hilthontt/visper-relay/internal/infrastructure/json"
)

const (
	statusOK        = "ok"
	statusUnhealthy = "unhealthy"
)

// Check reports the state of one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

type Handler struct {
	started time.Time
	checks  map[string]Check
}

func NewHandler(checks map[string]Check) *Handler {
	return &Handler{started: time.Now(), checks: checks}
}

// GetLive always reports ok while the process serves requests.
func (h *Handler) GetLive(w http.ResponseWriter, r *http.Request) {
	json.Write(w, http.StatusOK, h.response(statusOK, nil))
}

// GetHealth runs every check and answers 503 when any fails.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := statusOK
	components := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = statusUnhealthy
			components[name] = err.Error()
			continue
		}
		components[name] = statusOK
	}

	code := http.StatusOK
	if status != statusOK {
		code = http.StatusServiceUnavailable
	}
	json.Write(w, code, h.response(status, components))
}

func (h *Handler) response(status string, components map[string]string) healthResponse {
	return healthResponse{
		Status:     status,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		Components: components,
	}
}
