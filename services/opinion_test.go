package services

import (
	"testing"
	"time"

	"clarify/models"
)

func TestOpinionUpsert(t *testing.T) {
	env := newTestEnv(t)
	env.topic("t1", "Remote work")

	in := OpinionInput{TopicID: "t1", Stance: models.StanceAgree, Reasoning: "It saves commuting time.", WillingToDiscuss: true}
	created, err := env.opinions.Upsert(env.ctx, "a", in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	env.clock.Advance(time.Minute)
	in.Stance = models.StanceDisagree
	in.WillingToDiscuss = false
	updated, err := env.opinions.Upsert(env.ctx, "a", in)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ID != created.ID {
		t.Errorf("upsert created a second opinion")
	}
	if updated.Stance != models.StanceDisagree || updated.WillingToDiscuss || !updated.UpdatedDate.After(created.UpdatedDate) {
		t.Errorf("opinion = %+v", updated)
	}
	if !updated.CreatedDate.Equal(created.CreatedDate) {
		t.Errorf("created date moved")
	}
}

func TestOpinionValidation(t *testing.T) {
	env := newTestEnv(t)
	env.topic("t1", "Remote work")
	tests := []struct {
		name string
		in   OpinionInput
		err  error
	}{
		{"bad stance", OpinionInput{TopicID: "t1", Stance: "maybe", Reasoning: "long enough reasoning"}, models.ErrValidation},
		{"short reasoning", OpinionInput{TopicID: "t1", Stance: models.StanceAgree, Reasoning: "   yes    "}, models.ErrValidation},
		{"no topic", OpinionInput{Stance: models.StanceAgree, Reasoning: "long enough reasoning"}, models.ErrValidation},
		{"unknown topic", OpinionInput{TopicID: "t9", Stance: models.StanceAgree, Reasoning: "long enough reasoning"}, models.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.opinions.Upsert(env.ctx, "a", tt.in)
			wantErr(t, err, tt.err)
		})
	}
	_, err := env.opinions.Upsert(env.ctx, "", OpinionInput{TopicID: "t1", Stance: models.StanceAgree, Reasoning: "long enough reasoning"})
	wantErr(t, err, models.ErrUnauthenticated)
}

func TestRecordCompletionWithoutOpinionIsNoop(t *testing.T) {
	env := newTestEnv(t)
	if err := env.opinions.RecordCompletion(env.ctx, "a", "t1"); err != nil {
		t.Fatalf("record: %v", err)
	}
	op, err := env.opinions.Find(env.ctx, "a", "t1")
	if err != nil || op != nil {
		t.Errorf("find = %v, %v", op, err)
	}
}
