package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clarify/internal/logger"
	"clarify/models"
	"clarify/store"
)

const (
	// CompletionBonus is awarded to each participant when a conversation completes.
	CompletionBonus = 20
	// recentAwardsCap bounds the award keys remembered per profile.
	recentAwardsCap = 256
)

var avatarColors = []string{"#6366f1", "#0ea5e9", "#10b981", "#f59e0b", "#ef4444", "#8b5cf6", "#ec4899", "#14b8a6"}

// Notifier queues a notification for background delivery.
type Notifier interface {
	Send(n models.Notification)
}

type nopNotifier struct{}

func (nopNotifier) Send(models.Notification) {}

// Award is one logical point-award event. Key identifies the event: an award
// whose key was already applied is skipped. Highest holds candidate values for
// highest_scores per category; Completed marks a conversation completion.
type Award struct {
	UserID    string
	Key       string
	Points    int
	Highest   map[string]int
	Completed bool
	Action    string
}

// AwardResult describes what an award changed.
type AwardResult struct {
	Profile       models.UserProfile
	Applied       bool
	PreviousLevel int
	LeveledUp     bool
	NewBadges     []string
	Events        []models.GamificationEvent
}

// Progression owns every read-modify-write of user profiles.
type Progression struct {
	gw     *store.Gateway
	notify Notifier
	log    *logger.Logger
	locks  *keyedMutex
	now    func() time.Time
}

func NewProgression(gw *store.Gateway, notify Notifier, log *logger.Logger) *Progression {
	return &Progression{
		gw:     gw,
		notify: notify,
		log:    log.With("service", "Progression"),
		locks:  newKeyedMutex(),
		now:    defaultNow,
	}
}

func defaultNow() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// Profile returns the user's profile, creating it on first access.
func (p *Progression) Profile(ctx context.Context, userID string) (models.UserProfile, error) {
	if userID == "" {
		return models.UserProfile{}, models.ErrUnauthenticated
	}
	unlock := p.locks.Lock(userID)
	defer unlock()
	return p.loadOrCreate(ctx, userID)
}

func (p *Progression) loadOrCreate(ctx context.Context, userID string) (models.UserProfile, error) {
	found, err := p.gw.Profiles.Filter(ctx, store.Filter{"user_id": userID}, "", 1)
	if err != nil {
		return models.UserProfile{}, fmt.Errorf("failed to load profile: %w", err)
	}
	if len(found) > 0 {
		return found[0], nil
	}
	profile := models.UserProfile{
		UserID:        userID,
		Level:         1,
		Badges:        []string{},
		HighestScores: map[string]int{},
		AvatarColor:   avatarColorFor(userID),
		RecentAwards:  []string{},
		UpdatedDate:   p.now(),
	}
	created, err := p.gw.Profiles.Create(ctx, profile)
	if err != nil {
		return models.UserProfile{}, fmt.Errorf("failed to create profile: %w", err)
	}
	p.log.Info("created profile", "user", userID)
	return created, nil
}

func avatarColorFor(userID string) string {
	sum := 0
	for _, r := range userID {
		sum += int(r)
	}
	return avatarColors[sum%len(avatarColors)]
}

// AwardPoints applies a to the user's profile exactly once per key. Calls for
// the same user are serialized and always start from a fresh read.
func (p *Progression) AwardPoints(ctx context.Context, a Award) (AwardResult, error) {
	if a.UserID == "" || a.UserID == models.SystemSender {
		return AwardResult{}, models.NewValidationError("user_id", "award needs a user")
	}
	if a.Key == "" {
		return AwardResult{}, models.NewValidationError("key", "award needs an idempotency key")
	}

	unlock := p.locks.Lock(a.UserID)
	defer unlock()

	profile, err := p.loadOrCreate(ctx, a.UserID)
	if err != nil {
		return AwardResult{}, err
	}
	result := AwardResult{Profile: profile, PreviousLevel: profile.Level}
	for _, k := range profile.RecentAwards {
		if k == a.Key {
			p.log.Debug("award already applied", "user", a.UserID, "key", a.Key)
			return result, nil
		}
	}

	next := profile
	next.TotalPoints = profile.TotalPoints + a.Points
	if next.TotalPoints < 0 {
		next.TotalPoints = 0
	}
	next.Level = models.LevelForPoints(next.TotalPoints)
	if a.Completed {
		next.ConversationsCompleted++
	}

	next.HighestScores = make(map[string]int, len(profile.HighestScores)+len(a.Highest))
	for k, v := range profile.HighestScores {
		next.HighestScores[k] = v
	}
	for k, v := range a.Highest {
		if prev, ok := next.HighestScores[k]; !ok || v > prev {
			next.HighestScores[k] = v
		}
	}

	next.Badges = append([]string(nil), profile.Badges...)
	for _, badge := range models.BadgeTable {
		if next.HasBadge(badge.ID) || !badge.Qualifies(next) {
			continue
		}
		next.Badges = append(next.Badges, badge.ID)
		result.NewBadges = append(result.NewBadges, badge.ID)
	}

	next.RecentAwards = append(append([]string(nil), profile.RecentAwards...), a.Key)
	if len(next.RecentAwards) > recentAwardsCap {
		next.RecentAwards = next.RecentAwards[len(next.RecentAwards)-recentAwardsCap:]
	}
	next.UpdatedDate = p.now()

	updated, err := p.gw.Profiles.Update(ctx, profile.ID, store.Fields{
		"total_points":            next.TotalPoints,
		"level":                   next.Level,
		"conversations_completed": next.ConversationsCompleted,
		"highest_scores":          next.HighestScores,
		"badges":                  next.Badges,
		"recent_awards":           next.RecentAwards,
		"updated_date":            next.UpdatedDate,
	})
	if err != nil {
		return AwardResult{}, fmt.Errorf("failed to update profile: %w", err)
	}

	result.Profile = updated
	result.Applied = true
	result.LeveledUp = updated.Level > profile.Level
	result.Events = p.events(a, result)
	p.publish(result.Events)
	return result, nil
}

func (p *Progression) events(a Award, r AwardResult) []models.GamificationEvent {
	now := p.now()
	events := []models.GamificationEvent{{
		Type:      "score_updated",
		UserID:    a.UserID,
		Points:    a.Points,
		NewScore:  r.Profile.TotalPoints,
		Action:    a.Action,
		Timestamp: now,
	}}
	if r.LeveledUp {
		events = append(events, models.GamificationEvent{
			Type:      "level_up",
			UserID:    a.UserID,
			NewLevel:  r.Profile.Level,
			NewScore:  r.Profile.TotalPoints,
			Timestamp: now,
		})
	}
	for _, id := range r.NewBadges {
		events = append(events, models.GamificationEvent{
			Type:      "badge_awarded",
			UserID:    a.UserID,
			BadgeName: badgeName(id),
			Timestamp: now,
		})
	}
	return events
}

func (p *Progression) publish(events []models.GamificationEvent) {
	if p.notify == nil {
		return
	}
	for _, ev := range events {
		switch ev.Type {
		case "level_up":
			p.notify.Send(models.Notification{
				UserID: ev.UserID,
				Type:   models.NotifyLevelUp,
				Title:  "Level up!",
				Body:   fmt.Sprintf("You reached level %d.", ev.NewLevel),
				Data:   map[string]string{"level": fmt.Sprint(ev.NewLevel)},
			})
		case "badge_awarded":
			p.notify.Send(models.Notification{
				UserID: ev.UserID,
				Type:   models.NotifyBadgeAwarded,
				Title:  "New badge",
				Body:   fmt.Sprintf("You earned the %s badge.", ev.BadgeName),
				Data:   map[string]string{"badge": ev.BadgeName},
			})
		}
	}
}

func badgeName(id string) string {
	for _, b := range models.BadgeTable {
		if b.ID == id {
			return b.Name
		}
	}
	return id
}

// IsNotFound reports whether err means a record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
