package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sitepulse-io/sitepulse/internal/domain"
	"github.com/sitepulse-io/sitepulse/internal/report"
)

// ingestPriority is the queue priority for events admitted over HTTP.
// The queue supports differentiated priorities for future producers; the
// HTTP path uses a single level.
const ingestPriority = 1

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// Enqueuer is the slice of the durable queue the admission path needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, event domain.Event, priority int) (uuid.UUID, error)
}

// Reporter answers stats queries.
type Reporter interface {
	SiteReport(ctx context.Context, siteID, date string) (domain.SiteReport, error)
}

// Pinger provides component health status for the /health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MetricsSink defines the interface for recording API metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	EventAdmitted()
	EventRejected(reason string)
	EnqueueError()
	ReportServedHTTP(status int)
}

type Handler struct {
	queue   Enqueuer
	reports Reporter

	db        Pinger // optional, nil = no db component in verbose health
	queuePing Pinger // optional, nil = no queue component in verbose health
	metrics   MetricsSink
	clock     func() time.Time
}

func NewHandler(queue Enqueuer, reports Reporter) *Handler {
	return &Handler{
		queue:   queue,
		reports: reports,
		clock:   time.Now,
	}
}

// WithHealthCheckers sets the component pingers for verbose /health responses.
func (h *Handler) WithHealthCheckers(db, queue Pinger) *Handler {
	h.db = db
	h.queuePing = queue
	return h
}

// WithMetrics attaches a metrics sink to the handler.
func (h *Handler) WithMetrics(sink MetricsSink) *Handler {
	h.metrics = sink
	return h
}

// WithClock overrides the handler's time source. Tests only.
func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/api/event" && r.Method == http.MethodPost:
		h.ingestEvent(w, r)

	case path == "/api/stats" && r.Method == http.MethodGet:
		h.siteStats(w, r)

	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// ingestEvent is the admission path. It validates, enqueues, and returns
// as soon as the queue write is acknowledged: response latency is bounded
// by the enqueue, never by the storage write.
func (h *Handler) ingestEvent(w http.ResponseWriter, r *http.Request) {
	// Limit request body size to prevent DoS via large payloads
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.rejected("invalid_json")
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	event, err := validateEvent(req)
	if err != nil {
		h.rejected(rejectionReason(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.queue.Enqueue(r.Context(), event, ingestPriority); err != nil {
		log.Printf("api: enqueue error: %v", err)
		if h.metrics != nil {
			h.metrics.EnqueueError()
		}
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if h.metrics != nil {
		h.metrics.EventAdmitted()
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Event received"})
}

func (h *Handler) siteStats(w http.ResponseWriter, r *http.Request) {
	siteID := r.URL.Query().Get("site_id")
	date := r.URL.Query().Get("date")

	rep, err := h.reports.SiteReport(r.Context(), siteID, date)
	if err != nil {
		switch {
		case errors.Is(err, report.ErrMissingSiteID):
			h.reportServed(http.StatusBadRequest)
			writeError(w, http.StatusBadRequest, "site_id query parameter is required")
		case errors.Is(err, report.ErrInvalidDate):
			h.reportServed(http.StatusBadRequest)
			writeError(w, http.StatusBadRequest, "date must be formatted YYYY-MM-DD")
		default:
			log.Printf("api: stats error: %v", err)
			h.reportServed(http.StatusInternalServerError)
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.reportServed(http.StatusOK)
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "OK",
		Timestamp: h.clock().UTC().Format(time.RFC3339),
	}

	// Check components only if verbose mode requested via ?verbose=true
	if r.URL.Query().Get("verbose") != "true" {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Components = make(map[string]string)
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	check := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[name] = "unhealthy: " + err.Error()
		} else {
			resp.Components[name] = "healthy"
		}
	}
	check("database", h.db)
	check("queue", h.queuePing)

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

func (h *Handler) rejected(reason string) {
	if h.metrics != nil {
		h.metrics.EventRejected(reason)
	}
}

func (h *Handler) reportServed(status int) {
	if h.metrics != nil {
		h.metrics.ReportServedHTTP(status)
	}
}

// rejectionReason maps a validation error to a bounded-cardinality
// metrics label.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingSiteFields):
		return "missing_site_fields"
	case errors.Is(err, ErrMissingEventFields):
		return "missing_event_fields"
	case errors.Is(err, ErrInvalidTimestamp):
		return "invalid_timestamp"
	default:
		return "other"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: msg})
}
