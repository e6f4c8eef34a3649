package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"clarify/internal/logger"
	"clarify/internal/notify"
	"clarify/models"
	"clarify/store"
)

const validAssessment = `{"feedback":"You explained your view clearly.","improvement_tips":"Ask your partner why they disagree.","scores":{"empathy":3,"clarity":2,"open_mindedness":1}}`

// fakeOracle replays scripted responses; the last one repeats.
type fakeOracle struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []string
}

func (f *fakeOracle) Invoke(_ context.Context, req OracleRequest) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, req.Prompt)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return json.RawMessage(validAssessment), nil
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return json.RawMessage(resp), nil
}

func (f *fakeOracle) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeOracle) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	t           *testing.T
	ctx         context.Context
	gw          *store.Gateway
	oracle      *fakeOracle
	notes       *notify.Recorder
	dispatch    *notify.Dispatcher
	clock       *testClock
	progression *Progression
	coach       *Coach
	opinions    *OpinionService
	lifecycle   *Lifecycle
	matchmaker  *Matchmaker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.NewNop()
	env := &testEnv{
		t:      t,
		ctx:    context.Background(),
		gw:     store.NewMemoryGateway(),
		oracle: &fakeOracle{},
		notes:  &notify.Recorder{},
		clock:  &testClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)},
	}
	env.dispatch = notify.NewDispatcher(env.notes, log)
	env.progression = NewProgression(env.gw, env.dispatch, log)
	env.progression.now = env.clock.Now
	env.coach = NewCoach(env.gw, env.oracle, env.progression, log)
	env.opinions = NewOpinionService(env.gw, log)
	env.opinions.now = env.clock.Now
	env.lifecycle = NewLifecycle(env.gw, env.coach, env.progression, env.opinions, env.dispatch, log)
	env.lifecycle.now = env.clock.Now
	env.matchmaker = NewMatchmaker(env.gw, env.lifecycle, log)
	t.Cleanup(env.dispatch.Flush)
	return env
}

func (e *testEnv) user(id, name string) {
	e.t.Helper()
	if _, err := e.gw.Users.Create(e.ctx, models.User{ID: id, DisplayName: name}); err != nil {
		e.t.Fatalf("seed user: %v", err)
	}
}

func (e *testEnv) topic(id, title string, tags ...string) models.Topic {
	e.t.Helper()
	topic, err := e.gw.Topics.Create(e.ctx, models.Topic{ID: id, Title: title, Tags: tags})
	if err != nil {
		e.t.Fatalf("seed topic: %v", err)
	}
	return topic
}

func (e *testEnv) opinion(userID, topicID string, stance models.Stance) models.TopicOpinion {
	e.t.Helper()
	op, err := e.gw.Opinions.Create(e.ctx, models.TopicOpinion{
		UserID:           userID,
		TopicID:          topicID,
		Stance:           stance,
		Reasoning:        "I have thought about this for a while.",
		WillingToDiscuss: true,
		CreatedDate:      e.clock.Now(),
		UpdatedDate:      e.clock.Now(),
	})
	if err != nil {
		e.t.Fatalf("seed opinion: %v", err)
	}
	return op
}

func (e *testEnv) conversation(c models.Conversation) models.Conversation {
	e.t.Helper()
	if c.TopicID == "" {
		c.TopicID = "t1"
	}
	if c.CreatedDate.IsZero() {
		c.CreatedDate = e.clock.Now()
	}
	conv, err := e.gw.Conversations.Create(e.ctx, c)
	if err != nil {
		e.t.Fatalf("seed conversation: %v", err)
	}
	return conv
}

// activeConversation seeds an active conversation between a and b on t1 expiring in an hour.
func (e *testEnv) activeConversation() models.Conversation {
	e.t.Helper()
	started := e.clock.Now()
	expires := started.Add(time.Hour)
	return e.conversation(models.Conversation{
		Participant1ID: "a",
		Participant2ID: "b",
		Status:         models.StatusActive,
		TimerDuration:  60,
		StartedAt:      &started,
		ExpiresAt:      &expires,
	})
}

func (e *testEnv) message(convID, senderID, content string) models.Message {
	e.t.Helper()
	e.clock.Advance(time.Second)
	typ := models.MessageTypeUser
	if senderID == models.SystemSender {
		typ = models.MessageTypeSystem
	}
	msg, err := e.gw.Messages.Create(e.ctx, models.Message{
		ConversationID: convID,
		SenderID:       senderID,
		Content:        content,
		MessageType:    typ,
		SentAt:         e.clock.Now(),
	})
	if err != nil {
		e.t.Fatalf("seed message: %v", err)
	}
	return msg
}

func (e *testEnv) profile(userID string) models.UserProfile {
	e.t.Helper()
	p, err := e.progression.Profile(e.ctx, userID)
	if err != nil {
		e.t.Fatalf("load profile: %v", err)
	}
	return p
}

func (e *testEnv) reload(convID string) models.Conversation {
	e.t.Helper()
	conv, err := e.gw.Conversations.Get(e.ctx, convID)
	if err != nil {
		e.t.Fatalf("reload conversation: %v", err)
	}
	return conv
}

func (e *testEnv) sent(userID, typ string) []models.Notification {
	e.dispatch.Flush()
	return e.notes.OfType(userID, typ)
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
