package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"clarify/models"
)

func seedProfile(t *testing.T, env *testEnv, p models.UserProfile) models.UserProfile {
	t.Helper()
	if p.HighestScores == nil {
		p.HighestScores = map[string]int{}
	}
	p.Level = models.LevelForPoints(p.TotalPoints)
	created, err := env.gw.Profiles.Create(env.ctx, p)
	if err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	return created
}

func TestLevelForPoints(t *testing.T) {
	tests := []struct{ points, level int }{
		{0, 1}, {99, 1}, {100, 2}, {105, 2}, {450, 5}, {-20, 1},
	}
	for _, tt := range tests {
		if got := models.LevelForPoints(tt.points); got != tt.level {
			t.Errorf("LevelForPoints(%d) = %d, want %d", tt.points, got, tt.level)
		}
	}
}

func TestProfileIsCreatedOnFirstAccess(t *testing.T) {
	env := newTestEnv(t)
	p := env.profile("u1")
	if p.Level != 1 || p.TotalPoints != 0 || p.AvatarColor == "" {
		t.Fatalf("unexpected fresh profile %+v", p)
	}
	again := env.profile("u1")
	if again.ID != p.ID {
		t.Errorf("second access created another profile")
	}
}

func TestAwardPointsLevelsUpOnce(t *testing.T) {
	env := newTestEnv(t)
	seedProfile(t, env, models.UserProfile{UserID: "u1", TotalPoints: 95})

	res, err := env.progression.AwardPoints(env.ctx, Award{UserID: "u1", Key: "message:m1", Points: 10})
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if !res.Applied || !res.LeveledUp || res.PreviousLevel != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Profile.TotalPoints != 105 || res.Profile.Level != 2 {
		t.Errorf("profile = %d points, level %d", res.Profile.TotalPoints, res.Profile.Level)
	}

	again, err := env.progression.AwardPoints(env.ctx, Award{UserID: "u1", Key: "message:m1", Points: 10})
	if err != nil {
		t.Fatalf("repeat award: %v", err)
	}
	if again.Applied {
		t.Error("same key applied twice")
	}
	if got := env.profile("u1").TotalPoints; got != 105 {
		t.Errorf("total points = %d after repeat, want 105", got)
	}
	if n := len(env.sent("u1", models.NotifyLevelUp)); n != 1 {
		t.Errorf("level_up notifications = %d, want 1", n)
	}
}

func TestAwardPointsConcurrentSameKey(t *testing.T) {
	env := newTestEnv(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.progression.AwardPoints(context.Background(), Award{UserID: "u1", Key: "completion:c1", Points: CompletionBonus, Completed: true}); err != nil {
				t.Errorf("award: %v", err)
			}
		}()
	}
	wg.Wait()

	p := env.profile("u1")
	if p.TotalPoints != CompletionBonus || p.ConversationsCompleted != 1 {
		t.Errorf("profile = %+v", p)
	}
	if n := len(env.sent("u1", models.NotifyBadgeAwarded)); n != 1 {
		t.Errorf("badge notifications = %d, want 1", n)
	}
}

func TestAwardPointsDistinctKeysAccumulate(t *testing.T) {
	env := newTestEnv(t)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("message:m%d", i)
			if _, err := env.progression.AwardPoints(context.Background(), Award{UserID: "u1", Key: key, Points: 3}); err != nil {
				t.Errorf("award: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if got := env.profile("u1").TotalPoints; got != 30 {
		t.Errorf("total points = %d, want 30", got)
	}
}

func TestAwardPointsClampsAtZero(t *testing.T) {
	env := newTestEnv(t)
	seedProfile(t, env, models.UserProfile{UserID: "u1", TotalPoints: 4})
	res, err := env.progression.AwardPoints(env.ctx, Award{UserID: "u1", Key: "message:m1", Points: -9})
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if res.Profile.TotalPoints != 0 || res.Profile.Level != 1 {
		t.Errorf("profile = %d points, level %d", res.Profile.TotalPoints, res.Profile.Level)
	}
}

func TestAwardPointsHighestScoresOnlyGrow(t *testing.T) {
	env := newTestEnv(t)
	seedProfile(t, env, models.UserProfile{UserID: "u1", HighestScores: map[string]int{"empathy": 7, "clarity": 2}})
	res, err := env.progression.AwardPoints(env.ctx, Award{
		UserID:  "u1",
		Key:     "message:m1",
		Points:  1,
		Highest: map[string]int{"empathy": 4, "clarity": 5, "open_mindedness": 1},
	})
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	want := map[string]int{"empathy": 7, "clarity": 5, "open_mindedness": 1}
	for k, v := range want {
		if res.Profile.HighestScores[k] != v {
			t.Errorf("highest_scores[%s] = %d, want %d", k, res.Profile.HighestScores[k], v)
		}
	}
}

func TestBadgesAreAwardedOnce(t *testing.T) {
	env := newTestEnv(t)
	seedProfile(t, env, models.UserProfile{UserID: "u1", ConversationsCompleted: 4, TotalPoints: 380})

	res, err := env.progression.AwardPoints(env.ctx, Award{UserID: "u1", Key: "completion:c5", Points: CompletionBonus, Completed: true})
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	wantBadges := []string{models.BadgeFirstConversation, models.BadgeConversations5, models.BadgeLevel5}
	if fmt.Sprint(res.NewBadges) != fmt.Sprint(wantBadges) {
		t.Errorf("new badges = %v, want %v", res.NewBadges, wantBadges)
	}

	res, err = env.progression.AwardPoints(env.ctx, Award{UserID: "u1", Key: "message:m9", Points: 1})
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if len(res.NewBadges) != 0 {
		t.Errorf("badges awarded again: %v", res.NewBadges)
	}
	if got := len(env.profile("u1").Badges); got != 3 {
		t.Errorf("badge count = %d, want 3", got)
	}
}

func TestAwardPointsRejectsSystemUser(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.progression.AwardPoints(env.ctx, Award{UserID: models.SystemSender, Key: "message:m1", Points: 5})
	wantErr(t, err, models.ErrValidation)
}
