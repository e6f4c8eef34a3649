package controllers

import (
	"clarify/internal/logger"
	"clarify/services"
)

// Controller serves the HTTP API over the conversation services.
type Controller struct {
	Matchmaker  *services.Matchmaker
	Lifecycle   *services.Lifecycle
	Opinions    *services.OpinionService
	Progression *services.Progression
	log         *logger.Logger
}

func New(matchmaker *services.Matchmaker, lifecycle *services.Lifecycle, opinions *services.OpinionService, progression *services.Progression, log *logger.Logger) *Controller {
	return &Controller{
		Matchmaker:  matchmaker,
		Lifecycle:   lifecycle,
		Opinions:    opinions,
		Progression: progression,
		log:         log.With("component", "controllers"),
	}
}
