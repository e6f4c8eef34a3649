package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"clarify/internal/logger"
	"clarify/models"
	"clarify/store"
)

const autoCompletionFeedback = "Conversation completed automatically when the timer ran out."

// InvitationInput describes a conversation to open between two users.
type InvitationInput struct {
	TopicID   string
	InviterID string
	InviteeID string
	Timer     time.Duration
}

func (in InvitationInput) validate() error {
	switch {
	case strings.TrimSpace(in.TopicID) == "":
		return models.NewValidationError("topic_id", "topic is required")
	case in.InviterID == "":
		return models.ErrUnauthenticated
	case strings.TrimSpace(in.InviteeID) == "":
		return models.NewValidationError("partner_id", "partner is required")
	case in.InviterID == in.InviteeID:
		return models.NewValidationError("partner_id", "cannot start a conversation with yourself")
	case in.Timer < 0:
		return models.NewValidationError("timer", "timer cannot be negative")
	}
	return nil
}

// SendResult is the outcome of posting a message. The message is stored even
// when its analysis fails; AnalysisErr then carries the scoring failure.
type SendResult struct {
	Conversation models.Conversation
	Message      models.Message
	Score        *ScoreResult
	AnalysisErr  error
}

// Lifecycle owns the conversation state machine.
type Lifecycle struct {
	gw          *store.Gateway
	coach       *Coach
	progression *Progression
	opinions    *OpinionService
	notify      Notifier
	locks       *keyedMutex
	log         *logger.Logger
	now         func() time.Time
}

func NewLifecycle(gw *store.Gateway, coach *Coach, progression *Progression, opinions *OpinionService, notify Notifier, log *logger.Logger) *Lifecycle {
	if notify == nil {
		notify = nopNotifier{}
	}
	return &Lifecycle{
		gw:          gw,
		coach:       coach,
		progression: progression,
		opinions:    opinions,
		notify:      notify,
		locks:       newKeyedMutex(),
		log:         log.With("service", "Lifecycle"),
		now:         defaultNow,
	}
}

// Get returns a conversation the user takes part in.
func (l *Lifecycle) Get(ctx context.Context, convID, userID string) (models.Conversation, error) {
	conv, err := l.gw.Conversations.Get(ctx, convID)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to load conversation: %w", err)
	}
	if !conv.IsParticipant(userID) {
		return models.Conversation{}, models.ErrNotParticipant
	}
	return conv, nil
}

// Messages returns the conversation's messages in sent_at order.
func (l *Lifecycle) Messages(ctx context.Context, convID, userID string) ([]models.Message, error) {
	if _, err := l.Get(ctx, convID, userID); err != nil {
		return nil, err
	}
	msgs, err := l.gw.Messages.Filter(ctx, store.Filter{"conversation_id": convID}, "sent_at", 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return msgs, nil
}

// Invitations lists open invitations addressed to the user, newest first.
func (l *Lifecycle) Invitations(ctx context.Context, userID string) ([]models.Conversation, error) {
	convs, err := l.gw.Conversations.Filter(ctx, store.Filter{
		"participant2_id": userID,
		"status":          models.StatusInvited,
	}, "-created_date", 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load invitations: %w", err)
	}
	return convs, nil
}

// CreateInvitation opens an invited conversation. The timer only starts with the first message.
func (l *Lifecycle) CreateInvitation(ctx context.Context, in InvitationInput) (models.Conversation, error) {
	conv, err := l.create(ctx, in, models.StatusInvited)
	if err != nil {
		return models.Conversation{}, err
	}
	l.notify.Send(models.Notification{
		UserID: conv.Participant2ID,
		Type:   models.NotifyInvitation,
		Title:  "New conversation invitation",
		Body:   "Someone with a different view wants to talk with you.",
		Data:   map[string]string{"conversation_id": conv.ID, "topic_id": conv.TopicID},
	})
	return conv, nil
}

// CreateDirect opens a conversation for an auto-matched pair; it skips the invitation step.
func (l *Lifecycle) CreateDirect(ctx context.Context, in InvitationInput) (models.Conversation, error) {
	conv, err := l.create(ctx, in, models.StatusWaiting)
	if err != nil {
		return models.Conversation{}, err
	}
	l.postWelcome(ctx, conv)
	for _, p := range []string{conv.Participant1ID, conv.Participant2ID} {
		l.notify.Send(models.Notification{
			UserID: p,
			Type:   models.NotifyInvitationAccepted,
			Title:  "You have a new conversation",
			Body:   "You were matched with someone. Say hello!",
			Data:   map[string]string{"conversation_id": conv.ID},
		})
	}
	return conv, nil
}

func (l *Lifecycle) create(ctx context.Context, in InvitationInput, status models.ConversationStatus) (models.Conversation, error) {
	if err := in.validate(); err != nil {
		return models.Conversation{}, err
	}
	if _, err := l.gw.Topics.Get(ctx, in.TopicID); err != nil {
		return models.Conversation{}, fmt.Errorf("failed to load topic: %w", err)
	}
	conv, err := l.gw.Conversations.Create(ctx, models.Conversation{
		TopicID:            in.TopicID,
		Participant1ID:     in.InviterID,
		Participant2ID:     in.InviteeID,
		Status:             status,
		TimerDuration:      int(in.Timer / time.Minute),
		CompletionFeedback: []models.CompletionFeedback{},
		CreatedDate:        l.now(),
	})
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to create conversation: %w", err)
	}
	l.log.Info("conversation created", "conversation", conv.ID, "status", status, "topic", conv.TopicID)
	return conv, nil
}

// AcceptInvitation moves an invitation to waiting. Only the invitee may accept.
func (l *Lifecycle) AcceptInvitation(ctx context.Context, convID, userID string) (models.Conversation, error) {
	unlock := l.locks.Lock(convID)
	conv, err := l.loadForInvitee(ctx, convID, userID)
	if err == nil {
		conv, err = l.apply(ctx, conv, EventAccept, store.Fields{})
	}
	unlock()
	if err != nil {
		return models.Conversation{}, err
	}

	l.postWelcome(ctx, conv)
	l.notify.Send(models.Notification{
		UserID: conv.Participant1ID,
		Type:   models.NotifyInvitationAccepted,
		Title:  "Invitation accepted",
		Body:   "Your conversation partner is ready to talk.",
		Data:   map[string]string{"conversation_id": conv.ID},
	})
	return conv, nil
}

// RejectInvitation closes an invitation. Only the invitee may reject.
func (l *Lifecycle) RejectInvitation(ctx context.Context, convID, userID string) (models.Conversation, error) {
	unlock := l.locks.Lock(convID)
	conv, err := l.loadForInvitee(ctx, convID, userID)
	if err == nil {
		conv, err = l.apply(ctx, conv, EventReject, store.Fields{})
	}
	unlock()
	if err != nil {
		return models.Conversation{}, err
	}

	l.notify.Send(models.Notification{
		UserID: conv.Participant1ID,
		Type:   models.NotifyInvitationRejected,
		Title:  "Invitation declined",
		Body:   "Your invitation was declined. Try another match.",
		Data:   map[string]string{"conversation_id": conv.ID},
	})
	return conv, nil
}

func (l *Lifecycle) loadForInvitee(ctx context.Context, convID, userID string) (models.Conversation, error) {
	conv, err := l.Get(ctx, convID, userID)
	if err != nil {
		return models.Conversation{}, err
	}
	if conv.Participant2ID != userID {
		return models.Conversation{}, fmt.Errorf("only the invited user can respond: %w", models.ErrNotParticipant)
	}
	return conv, nil
}

// SendMessage posts a user message. The first message activates a waiting
// conversation and starts its timer. The message is then scored.
func (l *Lifecycle) SendMessage(ctx context.Context, convID, userID, content string) (SendResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return SendResult{}, models.NewValidationError("content", "message cannot be empty")
	}

	unlock := l.locks.Lock(convID)
	conv, msg, expired, err := l.postLocked(ctx, convID, userID, content)
	unlock()
	if expired {
		if _, _, acErr := l.AutoComplete(ctx, convID); acErr != nil {
			l.log.Warn("auto-completion after expiry failed", "conversation", convID, "error", acErr)
		}
	}
	if err != nil {
		return SendResult{}, err
	}

	l.notify.Send(models.Notification{
		UserID: conv.OtherParticipant(userID),
		Type:   models.NotifyMessage,
		Title:  "New message",
		Body:   preview(content, 80),
		Data:   map[string]string{"conversation_id": conv.ID, "message_id": msg.ID},
	})

	res := SendResult{Conversation: conv, Message: msg}
	score, err := l.coach.ScoreMessage(ctx, msg.ID)
	if err != nil {
		l.log.Warn("message analysis failed", "message", msg.ID, "error", err)
		res.AnalysisErr = err
	} else {
		res.Score = &score
		res.Message = score.Message
	}
	if fresh, err := l.gw.Conversations.Get(ctx, convID); err == nil {
		res.Conversation = fresh
	}
	return res, nil
}

func (l *Lifecycle) postLocked(ctx context.Context, convID, userID, content string) (models.Conversation, models.Message, bool, error) {
	conv, err := l.Get(ctx, convID, userID)
	if err != nil {
		return models.Conversation{}, models.Message{}, false, err
	}
	if !AcceptsMessages(conv.Status) {
		return conv, models.Message{}, false, fmt.Errorf("cannot send messages to a %s conversation: %w", conv.Status, models.ErrInvalidTransition)
	}
	now := l.now()
	if conv.Expired(now) {
		return conv, models.Message{}, true, fmt.Errorf("conversation timer has run out: %w", models.ErrInvalidTransition)
	}

	if conv.Status == models.StatusWaiting {
		fields := store.Fields{"started_at": now}
		if conv.TimerDuration > 0 {
			fields["expires_at"] = now.Add(time.Duration(conv.TimerDuration) * time.Minute)
		}
		if conv, err = l.apply(ctx, conv, EventFirstMessage, fields); err != nil {
			return models.Conversation{}, models.Message{}, false, err
		}
	}

	msg, err := l.gw.Messages.Create(ctx, models.Message{
		ConversationID: conv.ID,
		SenderID:       userID,
		Content:        content,
		MessageType:    models.MessageTypeUser,
		SentAt:         now,
	})
	if err != nil {
		return models.Conversation{}, models.Message{}, false, fmt.Errorf("failed to save message: %w", err)
	}
	return conv, msg, false, nil
}

// Rescore retries the analysis of a message that has none, e.g. after the
// oracle broke its contract. Either participant may ask.
func (l *Lifecycle) Rescore(ctx context.Context, convID, messageID, userID string) (ScoreResult, error) {
	if _, err := l.Get(ctx, convID, userID); err != nil {
		return ScoreResult{}, err
	}
	msg, err := l.gw.Messages.Get(ctx, messageID)
	if err != nil {
		return ScoreResult{}, fmt.Errorf("failed to load message: %w", err)
	}
	if msg.ConversationID != convID {
		return ScoreResult{}, fmt.Errorf("message %q in conversation %q: %w", messageID, convID, models.ErrNotFound)
	}
	return l.coach.ScoreMessage(ctx, messageID)
}

// RequestCompletion proposes ending the conversation.
func (l *Lifecycle) RequestCompletion(ctx context.Context, convID, userID, feedback string) (models.Conversation, error) {
	unlock := l.locks.Lock(convID)
	conv, err := l.Get(ctx, convID, userID)
	if err == nil {
		conv, err = l.apply(ctx, conv, EventRequestCompletion, store.Fields{
			"completion_request": models.CompletionRequest{
				RequestedBy: userID,
				RequestedAt: l.now(),
				Feedback:    strings.TrimSpace(feedback),
			},
		})
	}
	unlock()
	if err != nil {
		return models.Conversation{}, err
	}

	l.notify.Send(models.Notification{
		UserID: conv.OtherParticipant(userID),
		Type:   models.NotifyCompletionRequested,
		Title:  "Wrap up?",
		Body:   "Your partner would like to end the conversation.",
		Data:   map[string]string{"conversation_id": conv.ID},
	})
	return conv, nil
}

// RespondCompletion accepts or rejects a pending completion request. Only the
// participant who did not ask may respond.
func (l *Lifecycle) RespondCompletion(ctx context.Context, convID, userID string, accept bool, feedback string) (models.Conversation, error) {
	unlock := l.locks.Lock(convID)
	defer unlock()

	conv, err := l.Get(ctx, convID, userID)
	if err != nil {
		return models.Conversation{}, err
	}
	req := conv.CompletionRequest
	if req != nil && req.RequestedBy == userID {
		return models.Conversation{}, fmt.Errorf("the requester cannot answer their own request: %w", models.ErrInvalidTransition)
	}

	if !accept {
		conv, err = l.apply(ctx, conv, EventRejectCompletion, store.Fields{
			"completion_request": (*models.CompletionRequest)(nil),
		})
		if err != nil {
			return models.Conversation{}, err
		}
		l.notify.Send(models.Notification{
			UserID: conv.OtherParticipant(userID),
			Type:   models.NotifyCompletionRejected,
			Title:  "Let's keep talking",
			Body:   "Your partner would like to continue the conversation.",
			Data:   map[string]string{"conversation_id": conv.ID},
		})
		return conv, nil
	}

	merged := append([]models.CompletionFeedback(nil), conv.CompletionFeedback...)
	if req != nil {
		merged = append(merged, models.CompletionFeedback{UserID: req.RequestedBy, Timestamp: req.RequestedAt, Feedback: req.Feedback})
	}
	merged = append(merged, models.CompletionFeedback{UserID: userID, Timestamp: l.now(), Feedback: strings.TrimSpace(feedback)})

	return l.completeConversation(ctx, conv, EventAcceptCompletion, store.Fields{
		"completion_feedback": merged,
		"completion_request":  (*models.CompletionRequest)(nil),
	})
}

// SubmitFeedback records a participant's closing feedback. The first feedback
// moves an active conversation to waiting_completion; the second completes it.
func (l *Lifecycle) SubmitFeedback(ctx context.Context, convID, userID, feedback string) (models.Conversation, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return models.Conversation{}, models.NewValidationError("feedback", "feedback cannot be empty")
	}

	unlock := l.locks.Lock(convID)
	defer unlock()

	conv, err := l.Get(ctx, convID, userID)
	if err != nil {
		return models.Conversation{}, err
	}
	if conv.HasFeedbackFrom(userID) {
		return models.Conversation{}, fmt.Errorf("feedback already submitted: %w", models.ErrInvalidTransition)
	}
	entries := append(append([]models.CompletionFeedback(nil), conv.CompletionFeedback...),
		models.CompletionFeedback{UserID: userID, Timestamp: l.now(), Feedback: feedback})
	fields := store.Fields{"completion_feedback": entries}

	if conv.Status == models.StatusWaitingCompletion {
		return l.completeConversation(ctx, conv, EventFinalFeedback, fields)
	}
	conv, err = l.apply(ctx, conv, EventSubmitFeedback, fields)
	if err != nil {
		return models.Conversation{}, err
	}
	l.notify.Send(models.Notification{
		UserID: conv.OtherParticipant(userID),
		Type:   models.NotifyCompletionRequested,
		Title:  "Your partner wrapped up",
		Body:   "Leave your feedback to complete the conversation.",
		Data:   map[string]string{"conversation_id": conv.ID},
	})
	return conv, nil
}

// AutoComplete completes an expired conversation. It is a no-op unless the
// conversation is still active or waiting and its timer has run out, so
// repeated ticks complete it at most once.
func (l *Lifecycle) AutoComplete(ctx context.Context, convID string) (models.Conversation, bool, error) {
	unlock := l.locks.Lock(convID)
	defer unlock()

	conv, err := l.gw.Conversations.Get(ctx, convID)
	if err != nil {
		return models.Conversation{}, false, fmt.Errorf("failed to load conversation: %w", err)
	}
	if (conv.Status != models.StatusActive && conv.Status != models.StatusWaiting) || !conv.Expired(l.now()) {
		return conv, false, nil
	}

	now := l.now()
	feedback := append([]models.CompletionFeedback(nil), conv.CompletionFeedback...)
	for _, p := range []string{conv.Participant1ID, conv.Participant2ID} {
		if !conv.HasFeedbackFrom(p) {
			feedback = append(feedback, models.CompletionFeedback{UserID: p, Timestamp: now, Feedback: autoCompletionFeedback})
		}
	}
	conv, err = l.completeConversation(ctx, conv, EventExpire, store.Fields{
		"completion_feedback": feedback,
		"completion_request":  (*models.CompletionRequest)(nil),
		"auto_completed":      true,
	})
	if err != nil {
		return models.Conversation{}, false, err
	}
	return conv, true, nil
}

// Sweep auto-completes every expired conversation. Failures are logged per conversation.
func (l *Lifecycle) Sweep(ctx context.Context) (int, error) {
	candidates, err := l.gw.Conversations.Filter(ctx, store.Or(
		store.Filter{"status": models.StatusActive},
		store.Filter{"status": models.StatusWaiting},
	), "", 0)
	if err != nil {
		return 0, fmt.Errorf("failed to load open conversations: %w", err)
	}

	now := l.now()
	completed := 0
	for _, conv := range candidates {
		if !conv.Expired(now) {
			continue
		}
		_, done, err := l.AutoComplete(ctx, conv.ID)
		if err != nil {
			l.log.Warn("sweep failed to complete conversation", "conversation", conv.ID, "error", err)
			continue
		}
		if done {
			completed++
		}
	}
	if completed > 0 {
		l.log.Info("sweep completed expired conversations", "count", completed)
	}
	return completed, nil
}

// completeConversation is the single path into the completed state. Callers
// hold the conversation lock and pass a freshly read conversation, so the
// transition and its bonuses happen once.
func (l *Lifecycle) completeConversation(ctx context.Context, conv models.Conversation, event LifecycleEvent, fields store.Fields) (models.Conversation, error) {
	updated, err := l.apply(ctx, conv, event, fields)
	if err != nil {
		return models.Conversation{}, err
	}

	for _, p := range []string{updated.Participant1ID, updated.Participant2ID} {
		if _, err := l.progression.AwardPoints(ctx, Award{
			UserID:    p,
			Key:       "completion:" + updated.ID,
			Points:    CompletionBonus,
			Completed: true,
			Action:    "conversation_completed",
		}); err != nil {
			l.log.Error("failed to award completion bonus", "conversation", updated.ID, "user", p, "error", err)
		}
		if err := l.opinions.RecordCompletion(ctx, p, updated.TopicID); err != nil {
			l.log.Warn("failed to count completion on opinion", "user", p, "topic", updated.TopicID, "error", err)
		}
		l.notify.Send(models.Notification{
			UserID: p,
			Type:   models.NotifyConversationCompleted,
			Title:  "Conversation complete",
			Body:   fmt.Sprintf("Nice work! You earned %d bonus points.", CompletionBonus),
			Data:   map[string]string{"conversation_id": updated.ID, "auto_completed": fmt.Sprint(updated.AutoCompleted)},
		})
	}
	return updated, nil
}

// apply runs event through the transition table and persists the new status with fields.
func (l *Lifecycle) apply(ctx context.Context, conv models.Conversation, event LifecycleEvent, fields store.Fields) (models.Conversation, error) {
	to, err := Transition(conv.Status, event)
	if err != nil {
		return models.Conversation{}, err
	}
	fields["status"] = to
	updated, err := l.gw.Conversations.Update(ctx, conv.ID, fields)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to update conversation: %w", err)
	}
	l.log.Info("conversation transition", "conversation", conv.ID, "event", event, "from", conv.Status, "to", to)
	return updated, nil
}

func (l *Lifecycle) postWelcome(ctx context.Context, conv models.Conversation) {
	topic, err := l.gw.Topics.Get(ctx, conv.TopicID)
	if err != nil {
		l.log.Warn("welcome message without topic", "topic", conv.TopicID, "error", err)
		topic = models.Topic{ID: conv.TopicID, Title: "this topic"}
	}

	describe := func(userID, fallback string) string {
		name := fallback
		if u, err := l.gw.Users.Get(ctx, userID); err == nil && u.DisplayName != "" {
			name = u.DisplayName
		}
		var stance models.Stance
		if op, err := l.opinions.Find(ctx, userID, conv.TopicID); err == nil && op != nil {
			stance = op.Stance
		}
		return name + " " + stance.Label()
	}

	content := fmt.Sprintf(
		"Welcome! This conversation is about %q. %s, while %s. Take turns, explain your reasoning and look for common ground.",
		topic.Title,
		describe(conv.Participant1ID, "Participant 1"),
		describe(conv.Participant2ID, "Participant 2"),
	)
	if _, err := l.gw.Messages.Create(ctx, models.Message{
		ConversationID: conv.ID,
		SenderID:       models.SystemSender,
		Content:        content,
		MessageType:    models.MessageTypeSystem,
		SentAt:         l.now(),
	}); err != nil {
		l.log.Warn("failed to post welcome message", "conversation", conv.ID, "error", err)
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
