package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/LeventeLantos/contact-relay/internal/model"
	"github.com/LeventeLantos/contact-relay/internal/repo"
	"github.com/LeventeLantos/contact-relay/internal/scheduler"
	"github.com/LeventeLantos/contact-relay/internal/service"
)

type Submitter interface {
	Submit(ctx context.Context, sub model.Submission) (model.QueueEntry, error)
}

type DrainRunner interface {
	Run(ctx context.Context) (service.DrainResult, error)
}

type QueueInspector interface {
	Pending() ([]model.QueueEntry, error)
	DeadLetters() ([]model.DeadLetter, error)
	Requeue() (int, error)
}

type MessageStore interface {
	repo.MessageRepository
	repo.Pinger
	Count(ctx context.Context) (int64, error)
	ServerInfo(ctx context.Context) (repo.ServerInfo, error)
}

// EmailTester is the email channel as seen by the test-email endpoint.
type EmailTester interface {
	Check(ctx context.Context) error
	Notify(ctx context.Context, entries []model.QueueEntry) error
}

type Deps struct {
	Contact Submitter
	Drainer DrainRunner
	Sched   *scheduler.Scheduler
	Queue   QueueInspector
	Store   MessageStore
	Email   EmailTester
	Env     map[string]any
	Logger  *slog.Logger
}

type Handler struct {
	contact Submitter
	drainer DrainRunner
	sched   *scheduler.Scheduler
	queue   QueueInspector
	store   MessageStore
	email   EmailTester
	env     map[string]any
	log     *slog.Logger
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		contact: d.Contact,
		drainer: d.Drainer,
		sched:   d.Sched,
		queue:   d.Queue,
		store:   d.Store,
		email:   d.Email,
		env:     d.Env,
		log:     logger.With("component", "api"),
	}
}

const maxSubmissionBytes = 1 << 20

// Contact acknowledges a submission only after it is in the queue document.
func (h *Handler) Contact(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmissionBytes)

	var sub model.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"success": false, "error": "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid JSON body"})
		return
	}

	if _, err := h.contact.Submit(r.Context(), sub); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "could not queue message"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) Drain(w http.ResponseWriter, r *http.Request) {
	res, err := h.drainer.Run(r.Context())
	if errors.Is(err, service.ErrDrainRunning) {
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	body := map[string]any{"result": res}
	if res.NotifyErr != nil {
		body["notifyError"] = res.NotifyErr.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	items, err := h.queue.Pending()
	if err != nil {
		h.log.Warn("queue read failed", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "items": items})
}

func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	items, err := h.queue.DeadLetters()
	if err != nil {
		h.log.Warn("dead-letter read failed", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "items": items})
}

func (h *Handler) RequeueDeadLetters(w http.ResponseWriter, r *http.Request) {
	n, err := h.queue.Requeue()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.log.Info("dead letters requeued", "count", n)
	writeJSON(w, http.StatusOK, map[string]any{"requeued": n})
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.store.ListRecent(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	total, err := h.store.Count(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

// TestEmail verifies the SMTP settings by connecting, then sends a sample
// entry through the email channel.
func (h *Handler) TestEmail(w http.ResponseWriter, r *http.Request) {
	if h.email == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "email is not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := h.email.Check(ctx); err != nil {
		h.log.Error("email configuration check failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "email configuration is invalid: " + err.Error()})
		return
	}

	sample := model.QueueEntry{
		ID:        "test-email",
		Name:      "Test User",
		Email:     "test@example.com",
		Message:   "This is a test message from the contact relay.",
		CreatedAt: time.Now().UTC(),
	}

	if err := h.email.Notify(ctx, []model.QueueEntry{sample}); err != nil {
		h.log.Error("test email failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "test email sent"})
}

func (h *Handler) DebugEnv(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.env)
}

func (h *Handler) TestDB(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	info, err := h.store.ServerInfo(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "currentTime": info.Now, "dbVersion": info.Version})
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
