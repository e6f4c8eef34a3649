package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"clarify/models"
	"clarify/store"
)

func candidates(ms []Match) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Topic.ID+"/"+m.Candidate.UserID)
	}
	return out
}

func TestMatchTypeAccepts(t *testing.T) {
	tests := []struct {
		typ  MatchType
		want []int
	}{
		{MatchAll, []int{0, 1, 2, 3, 4}},
		{MatchSimilar, []int{0, 1}},
		{MatchModerate, []int{2}},
		{MatchOpposite, []int{3, 4}},
	}
	for _, tt := range tests {
		var got []int
		for d := 0; d <= 4; d++ {
			if tt.typ.Accepts(d) {
				got = append(got, d)
			}
		}
		if len(got) != len(tt.want) {
			t.Errorf("%s accepts %v, want %v", tt.typ, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s accepts %v, want %v", tt.typ, got, tt.want)
				break
			}
		}
	}
}

func TestParseMatchType(t *testing.T) {
	if mt, err := ParseMatchType(""); err != nil || mt != MatchAll {
		t.Errorf("empty = %q, %v", mt, err)
	}
	if mt, err := ParseMatchType(" Opposite "); err != nil || mt != MatchOpposite {
		t.Errorf("Opposite = %q, %v", mt, err)
	}
	if _, err := ParseMatchType("closest"); !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestStanceDistanceIsSymmetricAndBounded(t *testing.T) {
	stances := []models.Stance{
		models.StanceStronglyAgree, models.StanceAgree, models.StanceNeutral,
		models.StanceDisagree, models.StanceStronglyDisagree,
	}
	for _, a := range stances {
		for _, b := range stances {
			d := models.StanceDistance(a, b)
			if d != models.StanceDistance(b, a) {
				t.Errorf("distance(%s,%s) is not symmetric", a, b)
			}
			if d < 0 || d > 4 {
				t.Errorf("distance(%s,%s) = %d out of range", a, b, d)
			}
		}
	}
	if d := models.StanceDistance(models.StanceAgree, models.StanceStronglyDisagree); d != 3 {
		t.Errorf("agree vs strongly_disagree = %d, want 3", d)
	}
}

func TestFindMatchesByType(t *testing.T) {
	env := newTestEnv(t)
	env.user("a", "Ada")
	env.user("b", "Ben")
	env.topic("t1", "Remote work")
	env.opinion("a", "t1", models.StanceAgree)
	env.opinion("b", "t1", models.StanceStronglyDisagree)

	opposite, err := env.matchmaker.FindMatches(env.ctx, "a", MatchQuery{Type: MatchOpposite})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(opposite) != 1 {
		t.Fatalf("opposite matches = %v", candidates(opposite))
	}
	m := opposite[0]
	if m.Distance != 3 || m.Candidate.DisplayName != "Ben" || m.MyStance != models.StanceAgree || m.CandidateStance != models.StanceStronglyDisagree {
		t.Errorf("unexpected match %+v", m)
	}
	if m.Candidate.Level != 1 {
		t.Errorf("candidate level = %d", m.Candidate.Level)
	}

	similar, err := env.matchmaker.FindMatches(env.ctx, "a", MatchQuery{Type: MatchSimilar})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(similar) != 0 {
		t.Errorf("similar matches = %v", candidates(similar))
	}
	moderate, _ := env.matchmaker.FindMatches(env.ctx, "a", MatchQuery{Type: MatchModerate})
	if len(moderate) != 0 {
		t.Errorf("moderate matches = %v", candidates(moderate))
	}
}

func TestFindMatchesFiltersAndOrder(t *testing.T) {
	env := newTestEnv(t)
	env.topic("t1", "Remote work", "work")
	env.topic("t2", "School uniforms", "education")
	env.topic("t3", "Nuclear power", "energy")
	env.opinion("a", "t3", models.StanceNeutral)
	env.clock.Advance(time.Minute)
	env.opinion("a", "t1", models.StanceAgree)
	env.clock.Advance(time.Minute)
	env.opinion("a", "t2", models.StanceDisagree)

	env.opinion("b", "t1", models.StanceDisagree)
	env.opinion("b", "t2", models.StanceAgree)
	env.opinion("c", "t2", models.StanceStronglyAgree)
	env.opinion("d", "t3", models.StanceAgree)
	if _, err := env.gw.Opinions.Create(env.ctx, models.TopicOpinion{UserID: "e", TopicID: "t1", Stance: "furious"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	all, err := env.matchmaker.FindMatches(env.ctx, "a", MatchQuery{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	got := candidates(all)
	want := []string{"t2/b", "t2/c", "t1/b", "t3/d"}
	if len(got) != len(want) {
		t.Fatalf("matches = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("matches = %v, want %v", got, want)
		}
	}

	work, _ := env.matchmaker.FindMatches(env.ctx, "a", MatchQuery{Tag: "work"})
	if g := candidates(work); len(g) != 1 || g[0] != "t1/b" {
		t.Errorf("work matches = %v", g)
	}
}

func TestFindMatchesUsesOnlyRecentWillingOpinions(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5"} {
		env.topic(id, "Topic "+id)
		env.opinion("b", id, models.StanceStronglyDisagree)
	}
	env.opinion("a", "t1", models.StanceAgree)
	for _, id := range []string{"t2", "t3", "t4"} {
		env.clock.Advance(time.Minute)
		env.opinion("a", id, models.StanceAgree)
	}
	env.clock.Advance(time.Minute)
	if _, err := env.gw.Opinions.Create(env.ctx, models.TopicOpinion{
		UserID: "a", TopicID: "t5", Stance: models.StanceAgree, UpdatedDate: env.clock.Now(),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ms, err := env.matchmaker.FindMatches(env.ctx, "a", MatchQuery{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	got := candidates(ms)
	want := []string{"t4/b", "t3/b", "t2/b"}
	if len(got) != len(want) {
		t.Fatalf("matches = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("matches = %v, want %v", got, want)
		}
	}
}

func TestFindMatchesExcludesBlockedPairs(t *testing.T) {
	env := newTestEnv(t)
	env.topic("t1", "Remote work")
	env.topic("t2", "School uniforms")
	env.opinion("a", "t1", models.StanceAgree)
	env.opinion("a", "t2", models.StanceAgree)
	for _, u := range []string{"b", "c", "d"} {
		env.opinion(u, "t1", models.StanceDisagree)
	}
	env.opinion("b", "t2", models.StanceDisagree)

	env.conversation(models.Conversation{TopicID: "t1", Participant1ID: "a", Participant2ID: "b", Status: models.StatusActive})
	env.conversation(models.Conversation{TopicID: "t1", Participant1ID: "c", Participant2ID: "a", Status: models.StatusInvited})
	env.conversation(models.Conversation{TopicID: "t1", Participant1ID: "a", Participant2ID: "d", Status: models.StatusCompleted})

	ms, err := env.matchmaker.FindMatches(env.ctx, "a", MatchQuery{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	got := map[string]bool{}
	for _, k := range candidates(ms) {
		got[k] = true
	}
	if got["t1/b"] || got["t1/c"] {
		t.Errorf("blocked pairs matched: %v", candidates(ms))
	}
	if !got["t1/d"] || !got["t2/b"] {
		t.Errorf("expected t1/d and t2/b, got %v", candidates(ms))
	}
}

func TestInviteBlocksTheMatch(t *testing.T) {
	env := newTestEnv(t)
	env.topic("t1", "Remote work")
	env.opinion("a", "t1", models.StanceAgree)
	env.opinion("b", "t1", models.StanceStronglyDisagree)

	conv, err := env.matchmaker.Invite(env.ctx, "a", InviteRequest{TopicID: "t1", PartnerID: "b", Timer: 48 * time.Hour})
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if conv.Status != models.StatusInvited || conv.TimerDuration != 2880 {
		t.Errorf("conversation = %+v", conv)
	}

	ms, _ := env.matchmaker.FindMatches(env.ctx, "a", MatchQuery{})
	if len(ms) != 0 {
		t.Errorf("invited pair still matched: %v", candidates(ms))
	}
	_, err = env.matchmaker.Invite(env.ctx, "a", InviteRequest{TopicID: "t1", PartnerID: "b"})
	wantErr(t, err, models.ErrInvalidTransition)

	if _, err := env.lifecycle.RejectInvitation(env.ctx, conv.ID, "b"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	ms, _ = env.matchmaker.FindMatches(env.ctx, "a", MatchQuery{})
	if len(ms) != 1 {
		t.Errorf("rejected pair should match again, got %v", candidates(ms))
	}
}

func TestConcurrentInvitesCreateOneConversation(t *testing.T) {
	env := newTestEnv(t)
	env.topic("t1", "Remote work")

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.matchmaker.Invite(context.Background(), "a", InviteRequest{TopicID: "t1", PartnerID: "b"})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else if !errors.Is(err, models.ErrInvalidTransition) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 {
		t.Errorf("%d invites succeeded, want 1", ok)
	}
	convs, _ := env.gw.Conversations.Filter(env.ctx, store.Filter{"participant1_id": "a"}, "", 0)
	if len(convs) != 1 {
		t.Errorf("stored conversations = %d", len(convs))
	}
}

func TestFailedInviteReleasesThePair(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.matchmaker.Invite(env.ctx, "a", InviteRequest{TopicID: "t1", PartnerID: "b"})
	wantErr(t, err, models.ErrNotFound)

	env.topic("t1", "Remote work")
	if _, err := env.matchmaker.Invite(env.ctx, "a", InviteRequest{TopicID: "t1", PartnerID: "b"}); err != nil {
		t.Errorf("retry after failure: %v", err)
	}
}

func TestInviteAgainAfterRejection(t *testing.T) {
	env := newTestEnv(t)
	env.topic("t1", "Remote work")

	first, err := env.matchmaker.Invite(env.ctx, "a", InviteRequest{TopicID: "t1", PartnerID: "b"})
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if _, err := env.lifecycle.RejectInvitation(env.ctx, first.ID, "b"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	second, err := env.matchmaker.Invite(env.ctx, "a", InviteRequest{TopicID: "t1", PartnerID: "b"})
	if err != nil {
		t.Fatalf("invite after rejection: %v", err)
	}
	if second.ID == first.ID || second.Status != models.StatusInvited {
		t.Errorf("second invitation = %+v", second)
	}

	_, err = env.matchmaker.Invite(env.ctx, "a", InviteRequest{TopicID: "t1", PartnerID: "b"})
	wantErr(t, err, models.ErrInvalidTransition)
}

func TestFindMatchesStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	env.topic("t1", "Remote work")
	env.opinion("a", "t1", models.StanceAgree)
	env.opinion("b", "t1", models.StanceDisagree)

	ctx, cancel := context.WithCancel(env.ctx)
	cancel()
	if _, err := env.matchmaker.FindMatches(ctx, "a", MatchQuery{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
