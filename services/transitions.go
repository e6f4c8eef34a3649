package services

import (
	"fmt"

	"clarify/models"
)

// LifecycleEvent is something that can move a conversation between states.
type LifecycleEvent string

const (
	EventAccept            LifecycleEvent = "accept"
	EventReject            LifecycleEvent = "reject"
	EventFirstMessage      LifecycleEvent = "first_message"
	EventRequestCompletion LifecycleEvent = "request_completion"
	EventAcceptCompletion  LifecycleEvent = "accept_completion"
	EventRejectCompletion  LifecycleEvent = "reject_completion"
	EventSubmitFeedback    LifecycleEvent = "submit_feedback"
	EventFinalFeedback     LifecycleEvent = "final_feedback"
	EventExpire            LifecycleEvent = "expire"
)

type transitionKey struct {
	from  models.ConversationStatus
	event LifecycleEvent
}

var transitions = map[transitionKey]models.ConversationStatus{
	{models.StatusInvited, EventAccept}:                       models.StatusWaiting,
	{models.StatusInvited, EventReject}:                       models.StatusRejected,
	{models.StatusWaiting, EventFirstMessage}:                 models.StatusActive,
	{models.StatusActive, EventRequestCompletion}:             models.StatusCompletionRequested,
	{models.StatusWaiting, EventRequestCompletion}:            models.StatusCompletionRequested,
	{models.StatusCompletionRequested, EventAcceptCompletion}: models.StatusCompleted,
	{models.StatusCompletionRequested, EventRejectCompletion}: models.StatusActive,
	{models.StatusActive, EventSubmitFeedback}:                models.StatusWaitingCompletion,
	{models.StatusWaitingCompletion, EventFinalFeedback}:      models.StatusCompleted,
	{models.StatusActive, EventExpire}:                        models.StatusCompleted,
	{models.StatusWaiting, EventExpire}:                       models.StatusCompleted,
}

// Transition is the only place that decides a conversation's next status.
func Transition(from models.ConversationStatus, event LifecycleEvent) (models.ConversationStatus, error) {
	if from.Terminal() {
		return from, fmt.Errorf("conversation is %s: %w", from, models.ErrInvalidTransition)
	}
	to, ok := transitions[transitionKey{from, event}]
	if !ok {
		return from, fmt.Errorf("cannot %s a conversation that is %s: %w", event, from, models.ErrInvalidTransition)
	}
	return to, nil
}

// AcceptsMessages reports whether participants may post in status s.
func AcceptsMessages(s models.ConversationStatus) bool {
	return s == models.StatusWaiting || s == models.StatusActive
}
