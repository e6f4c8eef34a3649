package utils

import (
	"context"
	"fmt"

	"clarify/internal/logger"
	"clarify/models"
	"clarify/store"
)

var sampleTopics = []models.Topic{
	{ID: "remote-work", Title: "Remote work should be the default for office jobs", Tags: []string{"work", "society"}, Language: "en"},
	{ID: "nuclear-energy", Title: "Nuclear power is essential for reaching net zero", Tags: []string{"energy", "climate"}, Language: "en"},
	{ID: "social-media-age", Title: "Social media should require users to be 16 or older", Tags: []string{"technology", "society"}, Language: "en"},
	{ID: "four-day-week", Title: "A four-day work week should be standard", Tags: []string{"work", "economy"}, Language: "en"},
	{ID: "city-cars", Title: "Private cars should be banned from city centres", Tags: []string{"climate", "cities"}, Language: "en"},
}

var sampleUsers = []models.User{
	{ID: "demo-ada", DisplayName: "Ada", Role: "user"},
	{ID: "demo-ben", DisplayName: "Ben", Role: "user"},
}

// SeedSampleData populates topics and demo users when the topics collection is empty.
func SeedSampleData(ctx context.Context, gw *store.Gateway, log *logger.Logger) error {
	existing, err := gw.Topics.List(ctx, "", 1)
	if err != nil {
		return fmt.Errorf("failed to check topics: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	for _, topic := range sampleTopics {
		if _, err := gw.Topics.Create(ctx, topic); err != nil {
			return fmt.Errorf("failed to seed topic %q: %w", topic.ID, err)
		}
	}
	for _, user := range sampleUsers {
		if _, err := gw.Users.Create(ctx, user); err != nil {
			log.Warn("failed to seed user", "user", user.ID, "error", err)
		}
	}
	log.Info("seeded sample data", "topics", len(sampleTopics), "users", len(sampleUsers))
	return nil
}
