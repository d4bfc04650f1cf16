package server

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maypok86/otter/v2"

	"github.com/cafu47/streamwall/telemetry"
	"github.com/cafu47/streamwall/wall"
)

// playbackReporter is implemented by handles whose state the page reports.
type playbackReporter interface {
	ReportPlayback(wall.Playback)
}

// Session is one browser page's wall.
type Session struct {
	ID      string
	Manager *wall.Manager

	cancel context.CancelFunc

	mu       sync.Mutex
	reporter playbackReporter
}

// ReportPlayback forwards page-observed player state to the active handle
// when that handle relies on the page. It reports whether anything took it.
func (s *Session) ReportPlayback(pb wall.Playback) bool {
	s.mu.Lock()
	r := s.reporter
	s.mu.Unlock()
	if r == nil {
		return false
	}
	r.ReportPlayback(pb)
	return true
}

func (s *Session) track(h wall.Handle) {
	r, _ := h.(playbackReporter)
	s.mu.Lock()
	s.reporter = r
	s.mu.Unlock()
}

// CreateRequest describes the page opening a wall.
type CreateRequest struct {
	// Fragment is the page's address fragment, e.g. "#twitch/alice_stream".
	Fragment string `json:"fragment"`
	// Query is the page's raw query string, with or without '?'.
	Query  string `json:"query"`
	Mobile bool   `json:"mobile"`
}

// SessionOptions configures a Sessions registry.
type SessionOptions struct {
	// Wall is the template every session's wall.Options is copied from.
	Wall           wall.Options
	HideChatMobile bool
	IdleTTL        time.Duration
	MaxSessions    int
	Logger         *slog.Logger
}

// Sessions owns the running walls. A session not touched for IdleTTL is
// evicted and its wall stopped.
type Sessions struct {
	ctx   context.Context
	opts  SessionOptions
	log   *slog.Logger
	cache *otter.Cache[string, *Session]
	wg    sync.WaitGroup
}

// NewSessions returns a registry whose walls stop when ctx is done.
func NewSessions(ctx context.Context, opts SessionOptions) *Sessions {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 10 * time.Minute
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 10_000
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Sessions{
		ctx:  ctx,
		opts: opts,
		log:  opts.Logger.With(slog.String("component", "sessions")),
	}
	s.cache = otter.Must(&otter.Options[string, *Session]{
		MaximumSize:      opts.MaxSessions,
		ExpiryCalculator: otter.ExpiryAccessing[string, *Session](opts.IdleTTL),
		OnDeletion: func(e otter.DeletionEvent[string, *Session]) {
			e.Value.cancel()
			s.log.Debug("session removed", slog.String("session", e.Key), slog.Any("cause", e.Cause))
			telemetry.SetActiveSessions(s.cache.EstimatedSize())
		},
	})
	return s
}

// Create starts a wall for req and registers it.
func (s *Sessions) Create(req CreateRequest) *Session {
	query, err := url.ParseQuery(strings.TrimPrefix(req.Query, "?"))
	if err != nil {
		s.log.Debug("ignoring malformed page query", slog.Any("err", err))
	}
	sess := &Session{ID: uuid.New().String()}

	opts := s.opts.Wall
	opts.History = wall.NewMemoryHistory(req.Fragment)
	opts.ShowChat = wall.ChatVisible(query, req.Mobile, s.opts.HideChatMobile)
	opts.Logger = s.log.With(slog.String("session", sess.ID))
	newHandle := opts.NewHandle
	opts.NewHandle = func(p wall.Platform) (wall.Handle, error) {
		h, err := newHandle(p)
		if err != nil {
			return nil, err
		}
		sess.track(h)
		return h, nil
	}
	sess.Manager = wall.NewManager(opts)

	ctx, cancel := context.WithCancel(s.ctx)
	sess.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := sess.Manager.Run(ctx); err != nil {
			s.log.Warn("wall stopped", slog.String("session", sess.ID), slog.Any("err", err))
		}
	}()

	s.cache.Set(sess.ID, sess)
	telemetry.SetActiveSessions(s.cache.EstimatedSize())
	s.log.Info("session created", slog.String("session", sess.ID), slog.Bool("mobile", req.Mobile))
	return sess
}

// Get returns the session and refreshes its idle timer.
func (s *Sessions) Get(id string) (*Session, bool) {
	return s.cache.GetIfPresent(id)
}

// Delete stops and forgets the session.
func (s *Sessions) Delete(id string) bool {
	sess, ok := s.cache.Invalidate(id)
	if ok {
		sess.cancel()
	}
	return ok
}

// Len returns the approximate number of live sessions.
func (s *Sessions) Len() int { return s.cache.EstimatedSize() }

// Close stops every session and waits for their walls to finish.
func (s *Sessions) Close() {
	var ids []string
	for id, sess := range s.cache.All() {
		sess.cancel()
		ids = append(ids, id)
	}
	for _, id := range ids {
		s.cache.Invalidate(id)
	}
	s.wg.Wait()
}
