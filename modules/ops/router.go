package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/postflow/modules/credential"
	"github.com/dmitrymomot/postflow/pkg/queue"
	"github.com/dmitrymomot/postflow/pkg/resilience"
)

const defaultDeadTaskLimit = 50

// QueueAdmin is the queue surface the router exposes.
// *queue.Admin satisfies it.
type QueueAdmin interface {
	Stats(ctx context.Context, queue string) (queue.Stats, error)
	Pause(ctx context.Context, queue string) error
	Resume(ctx context.Context, queue string) error
	DeadTasks(ctx context.Context, queue string, limit int) ([]queue.DeadTask, error)
	RetryDeadTask(ctx context.Context, id uuid.UUID) error
}

// BreakerAdmin is the circuit breaker surface the router exposes.
// *resilience.Breaker satisfies it.
type BreakerAdmin interface {
	Targets(ctx context.Context) ([]string, error)
	State(ctx context.Context, target string) (resilience.BreakerState, error)
	Reset(ctx context.Context, target string) error
}

// CredentialStats reports credential health across accounts.
// *credential.Manager satisfies it.
type CredentialStats interface {
	Stats(ctx context.Context) (credential.Stats, error)
}

// RouterOptions configures which surfaces to mount in the ops module.
// Each surface is optional and will only be mounted if provided.
type RouterOptions struct {
	Queue       QueueAdmin
	Breakers    BreakerAdmin
	Credentials CredentialStats

	// HealthChecks are named probes for GET /healthz, e.g. database and
	// cache pings. All checks run on every request; any failure turns the
	// response into 503 with the failing checks named.
	HealthChecks map[string]func(context.Context) error
}

// Router creates the operational HTTP surface: queue introspection and
// control, circuit breaker state, credential health, and liveness.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Mount("/ops", ops.Router(ops.RouterOptions{
//	    Queue:    queueAdmin,
//	    Breakers: breaker,
//	    HealthChecks: map[string]func(context.Context) error{
//	        "postgres": pg.Healthcheck(pool),
//	        "redis":    redis.Healthcheck(client),
//	    },
//	}))
func Router(opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	if opts.Queue != nil {
		r.Route("/queue", func(q chi.Router) {
			q.Get("/stats", handleQueueStats(opts.Queue))
			q.Post("/{queue}/pause", handleQueuePause(opts.Queue))
			q.Post("/{queue}/resume", handleQueueResume(opts.Queue))
			q.Get("/dead", handleDeadTasks(opts.Queue))
			q.Post("/dead/{id}/retry", handleRetryDeadTask(opts.Queue))
		})
	}

	if opts.Breakers != nil {
		r.Route("/breakers", func(b chi.Router) {
			b.Get("/", handleBreakerList(opts.Breakers))
			b.Get("/{target}", handleBreakerState(opts.Breakers))
			b.Delete("/{target}", handleBreakerReset(opts.Breakers))
		})
	}

	if opts.Credentials != nil {
		r.Get("/credentials/stats", handleCredentialStats(opts.Credentials))
	}

	if len(opts.HealthChecks) > 0 {
		r.Get("/healthz", handleHealthz(opts.HealthChecks))
	}

	return r
}

func handleQueueStats(admin QueueAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// An empty queue filter spans all queues
		name := r.URL.Query().Get("queue")

		stats, err := admin.Stats(r.Context(), name)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		respondJSON(w, http.StatusOK, stats)
	}
}

func handleQueuePause(admin QueueAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "queue")
		if err := admin.Pause(r.Context(), name); err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"queue": name, "status": "paused"})
	}
}

func handleQueueResume(admin QueueAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "queue")
		if err := admin.Resume(r.Context(), name); err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"queue": name, "status": "active"})
	}
}

func handleDeadTasks(admin QueueAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// An empty queue filter spans all queues
		name := r.URL.Query().Get("queue")

		limit := defaultDeadTaskLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				respondError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
				return
			}
			limit = parsed
		}

		tasks, err := admin.DeadTasks(r.Context(), name, limit)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		if tasks == nil {
			tasks = []queue.DeadTask{}
		}
		respondJSON(w, http.StatusOK, tasks)
	}
}

func handleRetryDeadTask(admin QueueAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, http.StatusBadRequest, errors.New("invalid dead task id"))
			return
		}

		switch err := admin.RetryDeadTask(r.Context(), id); {
		case err == nil:
			respondJSON(w, http.StatusOK, map[string]string{"id": id.String(), "status": "requeued"})
		case errors.Is(err, queue.ErrDeadTaskNotFound):
			respondError(w, http.StatusNotFound, err)
		case errors.Is(err, queue.ErrDuplicateTask):
			respondError(w, http.StatusConflict, err)
		default:
			respondError(w, http.StatusInternalServerError, err)
		}
	}
}

// breakerRecord pairs a target name with its circuit state for list responses
type breakerRecord struct {
	Target string `json:"target"`
	resilience.BreakerState
}

func handleBreakerList(breakers BreakerAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targets, err := breakers.Targets(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}

		records := make([]breakerRecord, 0, len(targets))
		for _, target := range targets {
			st, err := breakers.State(r.Context(), target)
			if err != nil {
				respondError(w, http.StatusInternalServerError, err)
				return
			}
			records = append(records, breakerRecord{Target: target, BreakerState: st})
		}
		respondJSON(w, http.StatusOK, records)
	}
}

func handleBreakerState(breakers BreakerAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := chi.URLParam(r, "target")
		st, err := breakers.State(r.Context(), target)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		respondJSON(w, http.StatusOK, breakerRecord{Target: target, BreakerState: st})
	}
}

func handleBreakerReset(breakers BreakerAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := chi.URLParam(r, "target")
		if err := breakers.Reset(r.Context(), target); err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"target": target, "state": "closed"})
	}
}

func handleCredentialStats(creds CredentialStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := creds.Stats(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		respondJSON(w, http.StatusOK, stats)
	}
}

func handleHealthz(checks map[string]func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}
		respondJSON(w, status, results)
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}
