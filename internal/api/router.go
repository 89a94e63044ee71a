package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/cors"
)

type RouterConfig struct {
	AllowedOrigins []string
	// AdminToken guards operator endpoints when set.
	AdminToken string
}

func Router(h *Handler, cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()
	admin := requireToken(cfg.AdminToken)

	mux.HandleFunc("POST /api/contact", h.Contact)
	mux.HandleFunc("GET /v1/health", h.Health)

	mux.Handle("GET /v1/scheduler/status", admin(h.SchedulerStatus))
	mux.Handle("POST /v1/scheduler/start", admin(h.SchedulerStart))
	mux.Handle("POST /v1/scheduler/stop", admin(h.SchedulerStop))

	mux.Handle("POST /v1/drain", admin(h.Drain))
	mux.Handle("GET /v1/queue", admin(h.ListQueue))
	mux.Handle("GET /v1/queue/dead-letters", admin(h.ListDeadLetters))
	mux.Handle("POST /v1/queue/dead-letters/requeue", admin(h.RequeueDeadLetters))

	mux.Handle("GET /v1/messages", admin(h.ListMessages))

	mux.Handle("POST /api/test-email", admin(h.TestEmail))
	mux.Handle("GET /api/debug-env", admin(h.DebugEnv))
	mux.Handle("GET /api/test-db", admin(h.TestDB))

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("contact-relay"))
	})

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	return c.Handler(mux)
}

func requireToken(token string) func(http.HandlerFunc) http.Handler {
	return func(next http.HandlerFunc) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
				return
			}
			next(w, r)
		})
	}
}
