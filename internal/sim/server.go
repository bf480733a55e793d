// Package sim is a scripted stand-in for the analysis service. It speaks the
// same REST and WebSocket protocol as the real backend so the dashboard,
// the obs CLI and the tests can run without one. It does not analyze chats:
// task progress is driven by test calls or by the autopilot.
package sim

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abelbrown/chatpulse/internal/logging"
	"github.com/abelbrown/chatpulse/internal/push"
	"github.com/abelbrown/chatpulse/internal/task"
)

// ErrUnknownTask is returned by control methods for ids the server never issued.
var ErrUnknownTask = errors.New("sim: unknown task")

// ErrTerminal is returned when changing a task that already finished.
var ErrTerminal = errors.New("sim: task already terminal")

// Options configures a Server.
type Options struct {
	// DisablePush makes /ws refuse upgrades, forcing clients onto polling.
	DisablePush bool
	// ResultPoints is the length of generated sentiment series.
	ResultPoints int
}

type record struct {
	snap   task.Snapshot
	chatID string
	order  int
}

// Server implements http.Handler.
type Server struct {
	opts Options
	mux  *http.ServeMux
	hub  *hub
	now  func() time.Time

	mu         sync.Mutex
	tasks      map[task.ID]*record
	results    map[task.ID]task.Result
	failStatus []int // queued status codes for GET /tasks/{id}
	created    int
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.ResultPoints <= 0 {
		opts.ResultPoints = 5000
	}
	s := &Server{
		opts:    opts,
		mux:     http.NewServeMux(),
		hub:     newHub(),
		now:     time.Now,
		tasks:   make(map[task.ID]*record),
		results: make(map[task.ID]task.Result),
	}
	s.mux.HandleFunc("POST /tasks", s.handleSubmit)
	s.mux.HandleFunc("GET /tasks", s.handleList)
	s.mux.HandleFunc("GET /tasks/{id}", s.handleStatus)
	s.mux.HandleFunc("GET /tasks/{id}/result", s.handleResult)
	s.mux.HandleFunc("POST /tasks/{id}/cancel", s.handleCancel)
	s.mux.HandleFunc("GET /ws", s.handleWS)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// CreateTask registers a pending task and returns its id.
func (s *Server) CreateTask(chatID string) task.ID {
	id := task.ID(uuid.NewString())
	s.mu.Lock()
	s.created++
	s.tasks[id] = &record{
		snap:   task.Snapshot{TaskID: id, Status: task.StatusPending, Message: "queued"},
		chatID: chatID,
		order:  s.created,
	}
	s.mu.Unlock()
	logging.Info("sim: task created", "task", id, "chat", chatID)
	return id
}

// Snapshot returns the REST view of a task.
func (s *Server) Snapshot(id task.ID) (task.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	if !ok {
		return task.Snapshot{}, false
	}
	return rec.snap, true
}

// SetSnapshot changes what GET /tasks/{id} reports without pushing anything.
func (s *Server) SetSnapshot(id task.ID, status task.Status, progress float64, message string) error {
	_, err := s.update(id, status, progress, message)
	return err
}

// SetProgress updates a running task and pushes task_progress to subscribers.
func (s *Server) SetProgress(id task.ID, status task.Status, progress float64, message string) error {
	snap, err := s.update(id, status, progress, message)
	if err != nil {
		return err
	}
	s.PushProgress(task.ProgressEvent{
		TaskID:    id,
		Status:    snap.Status,
		Progress:  snap.Progress,
		Message:   snap.Message,
		Timestamp: s.now(),
	})
	return nil
}

// PushProgress sends a progress frame without touching the REST view.
func (s *Server) PushProgress(ev task.ProgressEvent) int {
	frame, err := push.Encode(push.TypeProgress, ev)
	if err != nil {
		return 0
	}
	return s.hub.publish(ev.TaskID, frame)
}

// Complete moves a task to a terminal status and pushes task_completed.
// A completed task gets a generated result unless one was set.
func (s *Server) Complete(id task.ID, status task.Status, message string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("sim: %q is not terminal", status)
	}
	progress := -1.0
	if status == task.StatusCompleted {
		progress = 100
	}
	snap, err := s.update(id, status, progress, message)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if _, ok := s.results[id]; !ok && status == task.StatusCompleted {
		s.results[id] = s.generateLocked(id)
	}
	s.mu.Unlock()

	frame, err := push.Encode(push.TypeCompleted, task.CompletionEvent{
		TaskID:    id,
		Status:    snap.Status,
		Message:   snap.Message,
		Timestamp: s.now(),
	})
	if err == nil {
		s.hub.publish(id, frame)
	}
	logging.Info("sim: task finished", "task", id, "status", status)
	return nil
}

// update applies a status change. progress < 0 keeps the current value.
func (s *Server) update(id task.ID, status task.Status, progress float64, message string) (task.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[id]
	if !ok {
		return task.Snapshot{}, ErrUnknownTask
	}
	if rec.snap.Status.IsTerminal() {
		return rec.snap, ErrTerminal
	}

	now := s.now()
	rec.snap.Status = status
	if progress >= 0 {
		rec.snap.Progress = task.ClampProgress(progress)
	}
	rec.snap.Message = message
	if status != task.StatusPending && rec.snap.StartedAt == nil {
		rec.snap.StartedAt = &now
	}
	if status.IsTerminal() {
		rec.snap.CompletedAt = &now
	}
	return rec.snap, nil
}

// SetResult fixes the payload returned for id.
func (s *Server) SetResult(id task.ID, res task.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res.TaskID = id
	s.results[id] = res
}

// FailStatus makes the next len(codes) status requests fail with the given
// HTTP codes, in order.
func (s *Server) FailStatus(codes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = append(s.failStatus, codes...)
}

// DropClients abruptly closes every WebSocket and returns how many there were.
func (s *Server) DropClients() int {
	return s.hub.dropAll()
}

// Subscribers returns how many clients are subscribed to id.
func (s *Server) Subscribers(id task.ID) int {
	return s.hub.subscribers(id)
}

// Clients returns the number of connected WebSocket clients.
func (s *Server) Clients() int {
	return s.hub.count()
}

// Active returns the ids of non-terminal tasks in creation order.
func (s *Server) Active() []task.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := make([]*record, 0, len(s.tasks))
	for _, rec := range s.tasks {
		if !rec.snap.Status.IsTerminal() {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].order < recs[j].order })
	ids := make([]task.ID, len(recs))
	for i, rec := range recs {
		ids[i] = rec.snap.TaskID
	}
	return ids
}

// generateLocked builds a deterministic sentiment trace for id.
func (s *Server) generateLocked(id task.ID) task.Result {
	rec := s.tasks[id]
	n := s.opts.ResultPoints
	start := s.now().Add(-time.Duration(n) * time.Minute)
	points := make([]task.SentimentPoint, n)
	for i := range points {
		x := float64(i)
		v := 0.6*math.Sin(x/180) + 0.3*math.Sin(x/23) + 0.1*math.Cos(x/7)
		points[i] = task.SentimentPoint{
			Time:       start.Add(time.Duration(i) * time.Minute),
			Sentiment:  math.Max(-1, math.Min(1, v)),
			Confidence: 0.5 + 0.5*math.Abs(math.Cos(x/50)),
		}
	}
	return task.Result{
		TaskID:       id,
		ChatID:       rec.chatID,
		Summary:      fmt.Sprintf("%d messages analyzed; mood swings twice and settles positive.", n),
		MessageCount: n,
		Participants: []string{"ana", "bo", "chen"},
		Topics: []task.Topic{
			{Label: "release planning", Share: 0.42},
			{Label: "bugs", Share: 0.31},
			{Label: "lunch", Share: 0.27},
		},
		Sentiment: points,
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req task.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ChatID == "" {
		http.Error(w, "chat_id is required", http.StatusBadRequest)
		return
	}
	id := s.CreateTask(req.ChatID)
	writeJSON(w, http.StatusAccepted, task.SubmitResponse{TaskID: id, Status: task.StatusPending})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	snaps := make([]task.Snapshot, 0, len(s.tasks))
	for _, rec := range s.tasks {
		snaps = append(snaps, rec.snap)
	}
	s.mu.Unlock()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].TaskID < snaps[j].TaskID })
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := task.ID(r.PathValue("id"))

	s.mu.Lock()
	if len(s.failStatus) > 0 {
		code := s.failStatus[0]
		s.failStatus = s.failStatus[1:]
		s.mu.Unlock()
		http.Error(w, http.StatusText(code), code)
		return
	}
	rec, ok := s.tasks[id]
	var snap task.Snapshot
	if ok {
		snap = rec.snap
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := task.ID(r.PathValue("id"))

	s.mu.Lock()
	rec, ok := s.tasks[id]
	res, haveResult := s.results[id]
	var status task.Status
	if ok {
		status = rec.snap.Status
	}
	s.mu.Unlock()

	switch {
	case !ok:
		http.Error(w, "task not found", http.StatusNotFound)
	case status != task.StatusCompleted:
		http.Error(w, "task not completed", http.StatusConflict)
	case !haveResult:
		http.Error(w, "result unavailable", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := task.ID(r.PathValue("id"))
	err := s.Complete(id, task.StatusCancelled, "cancelled by user")
	switch {
	case errors.Is(err, ErrUnknownTask):
		http.Error(w, "task not found", http.StatusNotFound)
	case errors.Is(err, ErrTerminal):
		http.Error(w, "task already finished", http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "status": task.StatusCancelled})
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.opts.DisablePush {
		http.Error(w, "push disabled", http.StatusServiceUnavailable)
		return
	}
	s.hub.serve(w, r)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("sim: encode response", "err", err)
	}
}
