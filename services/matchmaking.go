package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"clarify/internal/logger"
	"clarify/internal/ratelimit"
	"clarify/models"
	"clarify/store"

	"golang.org/x/sync/errgroup"
)

// MatchType selects candidates by stance distance. Modes do not fall back to one another.
type MatchType string

const (
	MatchAll      MatchType = "all"
	MatchSimilar  MatchType = "similar"
	MatchModerate MatchType = "moderate"
	MatchOpposite MatchType = "opposite"
)

// TagAll disables the tag filter.
const TagAll = "all"

// OwnOpinionLimit is how many of the user's most recent opinions seed matching.
const OwnOpinionLimit = 3

func ParseMatchType(s string) (MatchType, error) {
	switch t := MatchType(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return MatchAll, nil
	case MatchAll, MatchSimilar, MatchModerate, MatchOpposite:
		return t, nil
	default:
		return "", models.NewValidationError("type", fmt.Sprintf("unknown match type %q", s))
	}
}

// Accepts reports whether a pair at stance distance d passes the filter.
func (t MatchType) Accepts(d int) bool {
	switch t {
	case MatchSimilar:
		return d <= 1
	case MatchModerate:
		return d == 2
	case MatchOpposite:
		return d >= 3
	default:
		return true
	}
}

// MatchQuery holds the user's filters.
type MatchQuery struct {
	Type MatchType
	Tag  string
}

// Candidate is the display data of a potential partner.
type Candidate struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Level       int    `json:"level"`
	AvatarColor string `json:"avatar_color"`
}

// Match is one qualifying (own opinion, candidate opinion) pair.
type Match struct {
	Topic              models.Topic  `json:"topic"`
	Candidate          Candidate     `json:"candidate"`
	CandidateStance    models.Stance `json:"candidate_stance"`
	MyStance           models.Stance `json:"my_stance"`
	Distance           int           `json:"distance"`
	CandidateReasoning string        `json:"candidate_reasoning"`
}

// InviteRequest turns a match into an invitation.
type InviteRequest struct {
	TopicID   string
	PartnerID string
	Timer     time.Duration
}

type pendingInvite struct {
	conversationID string
}

// Matchmaker pairs users by stance distance and issues invitations.
type Matchmaker struct {
	gw        *store.Gateway
	lifecycle *Lifecycle
	log       *logger.Logger

	mu sync.Mutex
	// pending holds pairs invited from this process that reads may not show yet.
	pending map[string]map[string]pendingInvite
}

func NewMatchmaker(gw *store.Gateway, lifecycle *Lifecycle, log *logger.Logger) *Matchmaker {
	return &Matchmaker{
		gw:        gw,
		lifecycle: lifecycle,
		log:       log.With("service", "Matchmaker"),
		pending:   make(map[string]map[string]pendingInvite),
	}
}

func pairKey(topicID, partnerID string) string {
	return topicID + "-" + partnerID
}

type matchInputs struct {
	own      []models.TopicOpinion
	blocked  map[string]struct{}
	topics   map[string]models.Topic
	profiles map[string]models.UserProfile
	users    map[string]models.User
}

// FindMatches lists every qualifying pair for the user. The result is not
// ranked or deduplicated. A candidate or topic that fails to load is skipped.
func (m *Matchmaker) FindMatches(ctx context.Context, userID string, q MatchQuery) ([]Match, error) {
	if userID == "" {
		return nil, models.ErrUnauthenticated
	}
	if q.Type == "" {
		q.Type = MatchAll
	}
	if q.Tag == "" {
		q.Tag = TagAll
	}

	in, err := m.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	perOpinion := make([][]Match, len(in.own))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, mine := range in.own {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			topic, ok := in.topics[mine.TopicID]
			if !ok {
				m.log.Warn("skipping opinion on unknown topic", "topic", mine.TopicID)
				return nil
			}
			if q.Tag != TagAll && !topic.HasTag(q.Tag) {
				return nil
			}
			others, err := m.gw.Opinions.Filter(gctx, store.Filter{"topic_id": mine.TopicID}, "", 0)
			if err != nil {
				m.log.Warn("skipping topic, failed to load opinions", "topic", mine.TopicID, "error", err)
				return nil
			}
			for _, other := range others {
				match, ok, err := m.consider(userID, mine, other, topic, q, in)
				if err != nil {
					m.log.Warn("skipping candidate", "candidate", other.UserID, "topic", other.TopicID, "error", err)
					continue
				}
				if ok {
					perOpinion[i] = append(perOpinion[i], match)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Match
	for _, ms := range perOpinion {
		out = append(out, ms...)
	}
	m.log.Debug("matches computed", "user", userID, "type", q.Type, "tag", q.Tag, "count", len(out))
	return out, nil
}

func (m *Matchmaker) consider(userID string, mine, other models.TopicOpinion, topic models.Topic, q MatchQuery, in matchInputs) (Match, bool, error) {
	if other.UserID == "" || other.UserID == userID {
		return Match{}, false, nil
	}
	if _, blocked := in.blocked[pairKey(topic.ID, other.UserID)]; blocked {
		return Match{}, false, nil
	}
	if !other.Stance.Valid() {
		return Match{}, false, fmt.Errorf("invalid stance %q", other.Stance)
	}
	d := models.StanceDistance(mine.Stance, other.Stance)
	if !q.Type.Accepts(d) {
		return Match{}, false, nil
	}

	cand := Candidate{UserID: other.UserID, DisplayName: "Anonymous", Level: 1}
	if u, ok := in.users[other.UserID]; ok && u.DisplayName != "" {
		cand.DisplayName = u.DisplayName
	}
	if p, ok := in.profiles[other.UserID]; ok {
		cand.Level = p.Level
		cand.AvatarColor = p.AvatarColor
	}
	return Match{
		Topic:              topic,
		Candidate:          cand,
		CandidateStance:    other.Stance,
		MyStance:           mine.Stance,
		Distance:           d,
		CandidateReasoning: other.Reasoning,
	}, true, nil
}

func (m *Matchmaker) load(ctx context.Context, userID string) (matchInputs, error) {
	in := matchInputs{
		topics:   map[string]models.Topic{},
		profiles: map[string]models.UserProfile{},
		users:    map[string]models.User{},
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		own, err := m.gw.Opinions.Filter(gctx, store.Filter{"user_id": userID, "willing_to_discuss": true}, "-updated_date", OwnOpinionLimit)
		if err != nil {
			return fmt.Errorf("failed to load own opinions: %w", err)
		}
		in.own = own
		return nil
	})
	g.Go(func() error {
		blocked, err := m.blockedPairs(gctx, userID)
		if err != nil {
			return err
		}
		in.blocked = blocked
		return nil
	})
	g.Go(func() error {
		topics, err := m.gw.Topics.List(gctx, "", 0)
		if err != nil {
			return fmt.Errorf("failed to load topics: %w", err)
		}
		for _, t := range topics {
			in.topics[t.ID] = t
		}
		return nil
	})
	g.Go(func() error {
		profiles, err := m.gw.Profiles.List(gctx, "", 0)
		if err != nil {
			m.log.Warn("matching without profiles", "error", err)
			return nil
		}
		for _, p := range profiles {
			in.profiles[p.UserID] = p
		}
		return nil
	})
	g.Go(func() error {
		users, err := m.gw.Users.List(gctx, "", 0)
		if err != nil {
			m.log.Warn("matching without display names", "error", err)
			return nil
		}
		for _, u := range users {
			in.users[u.ID] = u
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return matchInputs{}, err
	}
	return in, nil
}

// blockedPairs builds the (topic, partner) keys of the user's open conversations
// merged with invitations this process issued that reads do not reflect yet.
func (m *Matchmaker) blockedPairs(ctx context.Context, userID string) (map[string]struct{}, error) {
	blocked, seen, err := m.openPairs(ctx, userID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.prunePending(userID, seen)
	for key := range m.pending[userID] {
		blocked[key] = struct{}{}
	}
	return blocked, nil
}

// prunePending drops the invitations whose conversation shows up in seen; from
// then on the stored status decides. Callers hold m.mu.
func (m *Matchmaker) prunePending(userID string, seen map[string]struct{}) {
	for key, p := range m.pending[userID] {
		if _, visible := seen[p.conversationID]; visible {
			delete(m.pending[userID], key)
		}
	}
}

// openPairs reads the stored conversations of the user. It returns the keys of
// the blocking ones and the ids of all of them.
func (m *Matchmaker) openPairs(ctx context.Context, userID string) (map[string]struct{}, map[string]struct{}, error) {
	convs, err := m.gw.Conversations.Filter(ctx, store.Or(
		store.Filter{"participant1_id": userID},
		store.Filter{"participant2_id": userID},
	), "", 0)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	blocked := make(map[string]struct{})
	seen := make(map[string]struct{}, len(convs))
	for _, c := range convs {
		seen[c.ID] = struct{}{}
		if c.Status.Blocking() {
			blocked[pairKey(c.TopicID, c.OtherParticipant(userID))] = struct{}{}
		}
	}
	return blocked, seen, nil
}

// Invite turns a match into an invitation. The pair is blocked before the
// conversation is created so a second accept of the same match fails.
func (m *Matchmaker) Invite(ctx context.Context, userID string, req InviteRequest) (models.Conversation, error) {
	if userID == "" {
		return models.Conversation{}, models.ErrUnauthenticated
	}
	key := pairKey(req.TopicID, req.PartnerID)

	open, seen, err := m.openPairs(ratelimit.FreshReads(ctx), userID)
	if err != nil {
		return models.Conversation{}, err
	}

	m.mu.Lock()
	m.prunePending(userID, seen)
	if _, dup := m.pending[userID][key]; dup {
		m.mu.Unlock()
		return models.Conversation{}, fmt.Errorf("an invitation for this match is already open: %w", models.ErrInvalidTransition)
	}
	if _, exists := open[key]; exists {
		m.mu.Unlock()
		return models.Conversation{}, fmt.Errorf("a conversation on this topic with this partner is already open: %w", models.ErrInvalidTransition)
	}
	m.register(userID, key, pendingInvite{})
	m.mu.Unlock()

	conv, err := m.lifecycle.CreateInvitation(ctx, InvitationInput{
		TopicID:   req.TopicID,
		InviterID: userID,
		InviteeID: req.PartnerID,
		Timer:     req.Timer,
	})
	if err != nil {
		m.unregister(userID, key)
		return models.Conversation{}, err
	}

	m.mu.Lock()
	m.register(userID, key, pendingInvite{conversationID: conv.ID})
	m.mu.Unlock()
	return conv, nil
}

func (m *Matchmaker) register(userID, key string, p pendingInvite) {
	if m.pending[userID] == nil {
		m.pending[userID] = make(map[string]pendingInvite)
	}
	m.pending[userID][key] = p
}

func (m *Matchmaker) unregister(userID, key string) {
	m.mu.Lock()
	delete(m.pending[userID], key)
	m.mu.Unlock()
}
