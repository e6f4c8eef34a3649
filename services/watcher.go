package services

import (
	"context"
	"sync"
	"time"

	"clarify/config"
	"clarify/internal/cache"
	"clarify/internal/logger"
	"clarify/internal/ratelimit"
	"clarify/internal/scheduler"
	"clarify/models"
	"clarify/store"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// View update types.
const (
	ViewStatus    = "status"
	ViewTick      = "tick"
	ViewCompleted = "completed"
)

// ViewUpdate is pushed to an open conversation view.
type ViewUpdate struct {
	Type             string               `json:"type"`
	Conversation     *models.Conversation `json:"conversation,omitempty"`
	RemainingSeconds int64                `json:"remaining_seconds"`
	Stale            bool                 `json:"stale,omitempty"`
}

// WatcherConfig sets the polling cadence of view sessions.
type WatcherConfig struct {
	StatusInterval time.Duration
	TimerTick      time.Duration
	CacheVersion   string
	CacheTTL       time.Duration
}

// Watcher runs one status poll and one countdown per open conversation view.
type Watcher struct {
	lifecycle *Lifecycle
	gw        *store.Gateway
	sched     *scheduler.Scheduler
	cache     cache.Cache[models.Conversation]
	cfg       WatcherConfig
	group     singleflight.Group
	log       *logger.Logger
	now       func() time.Time
}

func NewWatcher(lifecycle *Lifecycle, gw *store.Gateway, sched *scheduler.Scheduler, c cache.Cache[models.Conversation], cfg WatcherConfig, log *logger.Logger) *Watcher {
	if cfg.StatusInterval < config.MinStatusInterval {
		cfg.StatusInterval = config.MinStatusInterval
	}
	if cfg.TimerTick <= 0 {
		cfg.TimerTick = time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	if c == nil {
		c = cache.NewMemory[models.Conversation]()
	}
	return &Watcher{
		lifecycle: lifecycle,
		gw:        gw,
		sched:     sched,
		cache:     c,
		cfg:       cfg,
		log:       log.With("service", "Watcher"),
		now:       defaultNow,
	}
}

// Lifecycle returns the controller sessions read through.
func (w *Watcher) Lifecycle() *Lifecycle { return w.lifecycle }

// ViewSession is one user's open view of one conversation.
type ViewSession struct {
	ID             string
	ConversationID string
	UserID         string

	w       *Watcher
	deliver func(ViewUpdate)
	mu      sync.Mutex
	last    models.Conversation
	closed  bool
}

// Open starts polling convID for userID and pushes updates to deliver.
func (w *Watcher) Open(ctx context.Context, convID, userID string, deliver func(ViewUpdate)) (*ViewSession, error) {
	conv, err := w.lifecycle.Get(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	w.cache.Set(ctx, w.cacheKey(convID), conv, w.cfg.CacheTTL)

	s := &ViewSession{
		ID:             uuid.NewString(),
		ConversationID: convID,
		UserID:         userID,
		w:              w,
		deliver:        deliver,
		last:           conv,
	}
	if err := w.sched.Every(s.statusJob(), w.cfg.StatusInterval, s.pollStatus, scheduler.Tagged(s.tag())); err != nil {
		return nil, err
	}
	if err := w.sched.Every(s.timerJob(), w.cfg.TimerTick, s.tick, scheduler.Tagged(s.tag())); err != nil {
		w.sched.RemoveTagged(s.tag())
		return nil, err
	}
	s.push(ViewUpdate{Type: ViewStatus, Conversation: &conv, RemainingSeconds: remaining(conv, w.now())})
	w.log.Debug("view opened", "session", s.ID, "conversation", convID, "user", userID)
	return s, nil
}

func (w *Watcher) cacheKey(convID string) string {
	return cache.Key(w.cfg.CacheVersion, "conversation", convID)
}

func (s *ViewSession) tag() string       { return "view:" + s.ID }
func (s *ViewSession) statusJob() string { return s.tag() + ":status" }
func (s *ViewSession) timerJob() string  { return s.tag() + ":timer" }

// Pause suspends status polling, e.g. while a message is being sent.
func (s *ViewSession) Pause() { s.w.sched.Pause(s.statusJob()) }

// Resume restarts status polling.
func (s *ViewSession) Resume() { s.w.sched.Resume(s.statusJob()) }

// Refresh polls the status outside the schedule.
func (s *ViewSession) Refresh() error { return s.w.sched.RunNow(s.statusJob()) }

// Close tears the session down. Results of in-flight polls are dropped.
func (s *ViewSession) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.w.sched.RemoveTagged(s.tag())
	s.w.log.Debug("view closed", "session", s.ID)
}

// Last returns the last known conversation state.
func (s *ViewSession) Last() models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *ViewSession) push(u ViewUpdate) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if !closed && s.deliver != nil {
		s.deliver(u)
	}
}

func (s *ViewSession) setLast(conv models.Conversation) {
	s.mu.Lock()
	s.last = conv
	s.mu.Unlock()
}

// pollStatus refetches the conversation. The newest fetch replaces local state.
func (s *ViewSession) pollStatus(ctx context.Context) {
	w := s.w
	ctx = ratelimit.WithCaller(ctx, s.UserID)
	v, err, _ := w.group.Do("status:"+s.ConversationID, func() (interface{}, error) {
		return w.gw.Conversations.Get(ctx, s.ConversationID)
	})
	if err != nil {
		cached, ok := w.cache.Get(ctx, w.cacheKey(s.ConversationID))
		if !ok {
			w.log.Warn("status poll failed", "conversation", s.ConversationID, "error", err)
			return
		}
		s.setLast(cached)
		s.push(ViewUpdate{Type: ViewStatus, Conversation: &cached, RemainingSeconds: remaining(cached, w.now()), Stale: true})
		return
	}
	conv := v.(models.Conversation)
	w.cache.Set(ctx, w.cacheKey(s.ConversationID), conv, w.cfg.CacheTTL)
	s.setLast(conv)
	s.push(ViewUpdate{Type: ViewStatus, Conversation: &conv, RemainingSeconds: remaining(conv, w.now())})
}

// tick advances the countdown and triggers auto-completion once it reaches zero.
func (s *ViewSession) tick(ctx context.Context) {
	w := s.w
	ctx = ratelimit.WithCaller(ctx, s.UserID)
	conv := s.Last()
	if conv.ExpiresAt == nil || conv.Status.Terminal() {
		return
	}
	now := w.now()
	if !conv.Expired(now) {
		s.push(ViewUpdate{Type: ViewTick, RemainingSeconds: remaining(conv, now)})
		return
	}
	if conv.Status != models.StatusActive && conv.Status != models.StatusWaiting {
		return
	}

	type outcome struct {
		conv models.Conversation
		done bool
	}
	v, err, _ := w.group.Do("complete:"+s.ConversationID, func() (interface{}, error) {
		updated, done, err := w.lifecycle.AutoComplete(ctx, s.ConversationID)
		return outcome{conv: updated, done: done}, err
	})
	if err != nil {
		w.log.Warn("auto-completion failed", "conversation", s.ConversationID, "error", err)
		return
	}
	res := v.(outcome)
	w.cache.Set(ctx, w.cacheKey(s.ConversationID), res.conv, w.cfg.CacheTTL)
	s.setLast(res.conv)
	switch {
	case res.done:
		s.push(ViewUpdate{Type: ViewCompleted, Conversation: &res.conv})
	case res.conv.Status.Terminal():
		s.push(ViewUpdate{Type: ViewStatus, Conversation: &res.conv})
	}
}

func remaining(conv models.Conversation, now time.Time) int64 {
	if conv.ExpiresAt == nil {
		return 0
	}
	d := conv.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return int64(d.Round(time.Second) / time.Second)
}
