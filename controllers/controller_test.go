package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"clarify/internal/logger"
	"clarify/internal/notify"
	"clarify/middlewares"
	"clarify/models"
	"clarify/services"
	"clarify/store"
	"clarify/utils"

	"github.com/gin-gonic/gin"
)

const assessmentJSON = `{"feedback":"Clear and kind.","improvement_tips":"Ask a question back.","scores":{"empathy":2,"clarity":2,"open_mindedness":1}}`

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	utils.SetJWTSecret("controller-test-secret")
	os.Exit(m.Run())
}

type apiEnv struct {
	t      *testing.T
	ctx    context.Context
	gw     *store.Gateway
	router *gin.Engine
}

func newAPIEnv(t *testing.T, oracle services.Oracle) *apiEnv {
	t.Helper()
	log := logger.NewNop()
	gw := store.NewMemoryGateway()
	dispatch := notify.NewDispatcher(&notify.Recorder{}, log)
	t.Cleanup(dispatch.Flush)

	progression := services.NewProgression(gw, dispatch, log)
	coach := services.NewCoach(gw, oracle, progression, log)
	opinions := services.NewOpinionService(gw, log)
	lifecycle := services.NewLifecycle(gw, coach, progression, opinions, dispatch, log)
	matchmaker := services.NewMatchmaker(gw, lifecycle, log)
	ctl := New(matchmaker, lifecycle, opinions, progression, log)

	router := gin.New()
	auth := router.Group("/")
	auth.Use(middlewares.AuthMiddleware())
	{
		auth.GET("/matches", ctl.GetMatches)
		auth.POST("/matches/invite", ctl.InviteMatch)
		auth.PUT("/opinions", ctl.UpsertOpinion)
		auth.GET("/invitations", ctl.GetInvitations)
		auth.GET("/profile", ctl.GetProfile)
		auth.GET("/conversations/:id", ctl.GetConversation)
		auth.POST("/conversations/:id/accept", ctl.AcceptInvitation)
		auth.POST("/conversations/:id/reject", ctl.RejectInvitation)
		auth.GET("/conversations/:id/messages", ctl.GetMessages)
		auth.POST("/conversations/:id/messages", ctl.SendMessage)
		auth.POST("/conversations/:id/messages/:mid/score", ctl.RescoreMessage)
		auth.POST("/conversations/:id/completion", ctl.RequestCompletion)
		auth.POST("/conversations/:id/completion/accept", ctl.AcceptCompletion)
		auth.POST("/conversations/:id/completion/reject", ctl.RejectCompletion)
		auth.POST("/conversations/:id/feedback", ctl.SubmitFeedback)
	}

	env := &apiEnv{t: t, ctx: context.Background(), gw: gw, router: router}
	env.seed()
	return env
}

func (e *apiEnv) seed() {
	e.t.Helper()
	for _, u := range []models.User{{ID: "ada", DisplayName: "Ada"}, {ID: "ben", DisplayName: "Ben"}, {ID: "cy", DisplayName: "Cy"}} {
		if _, err := e.gw.Users.Create(e.ctx, u); err != nil {
			e.t.Fatalf("seed user: %v", err)
		}
	}
	if _, err := e.gw.Topics.Create(e.ctx, models.Topic{ID: "t1", Title: "Remote work", Tags: []string{"work"}}); err != nil {
		e.t.Fatalf("seed topic: %v", err)
	}
}

func (e *apiEnv) do(method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := utils.GenerateJWTToken(userID, time.Hour)
		if err != nil {
			e.t.Fatalf("token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func staticOracle(raw string) services.Oracle {
	return services.OracleFunc(func(context.Context, services.OracleRequest) (json.RawMessage, error) {
		return json.RawMessage(raw), nil
	})
}

func opinionBody(stance models.Stance) gin.H {
	return gin.H{
		"topic_id":           "t1",
		"stance":             stance,
		"reasoning":          "I have thought about this for a long time.",
		"willing_to_discuss": true,
	}
}

// invite runs the opinion, match and invitation steps and returns the conversation id.
func (e *apiEnv) invite() string {
	e.t.Helper()
	expectStatus(e.t, e.do(http.MethodPut, "/opinions", "ada", opinionBody(models.StanceStronglyAgree)), http.StatusOK)
	expectStatus(e.t, e.do(http.MethodPut, "/opinions", "ben", opinionBody(models.StanceStronglyDisagree)), http.StatusOK)

	w := e.do(http.MethodPost, "/matches/invite", "ada", gin.H{"topic_id": "t1", "partner_id": "ben", "timer_minutes": 30})
	expectStatus(e.t, w, http.StatusCreated)
	return decode[models.Conversation](e.t, w).ID
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	env := newAPIEnv(t, staticOracle(assessmentJSON))
	expectStatus(t, env.do(http.MethodGet, "/profile", "", nil), http.StatusUnauthorized)
}

func TestProfileIsCreatedOnFirstRead(t *testing.T) {
	env := newAPIEnv(t, staticOracle(assessmentJSON))
	w := env.do(http.MethodGet, "/profile", "ada", nil)
	expectStatus(t, w, http.StatusOK)

	body := decode[struct {
		Profile      models.UserProfile `json:"profile"`
		PointsToNext int                `json:"points_to_next"`
		Badges       []badgeView        `json:"badges"`
	}](t, w)
	if body.Profile.UserID != "ada" || body.Profile.Level != 1 {
		t.Errorf("unexpected profile %+v", body.Profile)
	}
	if body.PointsToNext != models.PointsPerLevel {
		t.Errorf("points_to_next = %d", body.PointsToNext)
	}
	if len(body.Badges) != len(models.BadgeTable) {
		t.Errorf("expected every badge listed, got %d", len(body.Badges))
	}
}

func TestOpinionValidationNamesTheField(t *testing.T) {
	env := newAPIEnv(t, staticOracle(assessmentJSON))
	w := env.do(http.MethodPut, "/opinions", "ada", opinionBody("sort_of"))
	expectStatus(t, w, http.StatusBadRequest)
	if body := decode[map[string]interface{}](t, w); body["field"] != "stance" {
		t.Errorf("expected field stance, got %v", body)
	}
}

func TestMatchTypeMustBeKnown(t *testing.T) {
	env := newAPIEnv(t, staticOracle(assessmentJSON))
	expectStatus(t, env.do(http.MethodGet, "/matches?type=closest", "ada", nil), http.StatusBadRequest)
}

func TestMatchInviteAcceptAndSend(t *testing.T) {
	env := newAPIEnv(t, staticOracle(assessmentJSON))
	expectStatus(t, env.do(http.MethodPut, "/opinions", "ada", opinionBody(models.StanceStronglyAgree)), http.StatusOK)
	expectStatus(t, env.do(http.MethodPut, "/opinions", "ben", opinionBody(models.StanceStronglyDisagree)), http.StatusOK)

	w := env.do(http.MethodGet, "/matches?type=opposite&tag=work", "ada", nil)
	expectStatus(t, w, http.StatusOK)
	matches := decode[struct {
		Matches []services.Match `json:"matches"`
		Count   int              `json:"count"`
	}](t, w)
	if matches.Count != 1 || matches.Matches[0].Candidate.UserID != "ben" {
		t.Fatalf("expected ben as the only match, got %+v", matches)
	}

	w = env.do(http.MethodPost, "/matches/invite", "ada", gin.H{"topic_id": "t1", "partner_id": "ben", "timer_minutes": 30})
	expectStatus(t, w, http.StatusCreated)
	conv := decode[models.Conversation](t, w)
	if conv.Status != models.StatusInvited || conv.TimerDuration != 30 {
		t.Fatalf("unexpected conversation %+v", conv)
	}

	w = env.do(http.MethodGet, "/invitations", "ben", nil)
	expectStatus(t, w, http.StatusOK)
	if inv := decode[map[string][]models.Conversation](t, w)["invitations"]; len(inv) != 1 || inv[0].ID != conv.ID {
		t.Fatalf("expected the invitation for ben, got %+v", inv)
	}

	expectStatus(t, env.do(http.MethodPost, "/conversations/"+conv.ID+"/accept", "ada", nil), http.StatusForbidden)
	w = env.do(http.MethodPost, "/conversations/"+conv.ID+"/accept", "ben", nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode[models.Conversation](t, w); got.Status != models.StatusWaiting {
		t.Fatalf("expected waiting, got %s", got.Status)
	}

	w = env.do(http.MethodPost, "/conversations/"+conv.ID+"/messages", "ada", gin.H{"content": "I think remote work helps people focus."})
	expectStatus(t, w, http.StatusCreated)
	sent := decode[struct {
		Conversation models.Conversation     `json:"conversation"`
		Message      models.Message          `json:"message"`
		Score        models.ParticipantScore `json:"score"`
	}](t, w)
	if sent.Conversation.Status != models.StatusActive || sent.Conversation.ExpiresAt == nil {
		t.Errorf("first message should start the timer, got %+v", sent.Conversation)
	}
	if !sent.Message.Analyzed() || sent.Score.Total != 5 {
		t.Errorf("expected a scored message, got %+v / %+v", sent.Message, sent.Score)
	}

	w = env.do(http.MethodGet, "/conversations/"+conv.ID+"/messages", "ben", nil)
	expectStatus(t, w, http.StatusOK)
	msgs := decode[map[string][]models.Message](t, w)["messages"]
	if len(msgs) != 2 || !msgs[0].IsSystem() || msgs[1].SenderID != "ada" {
		t.Fatalf("expected welcome then ada's message, got %+v", msgs)
	}
}

func TestDuplicateInviteConflicts(t *testing.T) {
	env := newAPIEnv(t, staticOracle(assessmentJSON))
	env.invite()
	w := env.do(http.MethodPost, "/matches/invite", "ada", gin.H{"topic_id": "t1", "partner_id": "ben"})
	expectStatus(t, w, http.StatusConflict)
}

func TestOutsidersAndUnknownConversations(t *testing.T) {
	env := newAPIEnv(t, staticOracle(assessmentJSON))
	id := env.invite()

	expectStatus(t, env.do(http.MethodGet, "/conversations/"+id, "cy", nil), http.StatusForbidden)
	expectStatus(t, env.do(http.MethodGet, "/conversations/missing", "ada", nil), http.StatusNotFound)
	expectStatus(t, env.do(http.MethodGet, "/conversations/"+id, "ben", nil), http.StatusOK)
}

func TestAnalysisFailureStillStoresMessage(t *testing.T) {
	env := newAPIEnv(t, staticOracle(`{"feedback":"missing scores"}`))
	id := env.invite()
	expectStatus(t, env.do(http.MethodPost, "/conversations/"+id+"/accept", "ben", nil), http.StatusOK)

	w := env.do(http.MethodPost, "/conversations/"+id+"/messages", "ben", gin.H{"content": "Offices build trust between colleagues."})
	expectStatus(t, w, http.StatusCreated)
	body := decode[map[string]interface{}](t, w)
	if body["retryable"] != true || body["analysis_error"] == nil {
		t.Fatalf("expected an analysis error marker, got %v", body)
	}
	if _, scored := body["score"]; scored {
		t.Errorf("no score expected after a contract violation")
	}

	msg := body["message"].(map[string]interface{})
	w = env.do(http.MethodPost, fmt.Sprintf("/conversations/%s/messages/%s/score", id, msg["id"]), "ada", nil)
	expectStatus(t, w, http.StatusBadGateway)
}

func TestSendingToAnInvitationConflicts(t *testing.T) {
	env := newAPIEnv(t, staticOracle(assessmentJSON))
	id := env.invite()
	expectStatus(t, env.do(http.MethodPost, "/conversations/"+id+"/messages", "ada", gin.H{"content": "hello there"}), http.StatusConflict)
	expectStatus(t, env.do(http.MethodPost, "/conversations/"+id+"/messages", "ada", gin.H{"content": "   "}), http.StatusBadRequest)
}

func TestCompletionRequestAndAccept(t *testing.T) {
	env := newAPIEnv(t, staticOracle(assessmentJSON))
	id := env.invite()
	expectStatus(t, env.do(http.MethodPost, "/conversations/"+id+"/accept", "ben", nil), http.StatusOK)
	expectStatus(t, env.do(http.MethodPost, "/conversations/"+id+"/messages", "ada", gin.H{"content": "Remote work saves commuting time."}), http.StatusCreated)

	w := env.do(http.MethodPost, "/conversations/"+id+"/completion", "ada", gin.H{"feedback": "Thanks, this was useful."})
	expectStatus(t, w, http.StatusOK)
	if got := decode[models.Conversation](t, w); got.Status != models.StatusCompletionRequested {
		t.Fatalf("expected completion_requested, got %s", got.Status)
	}

	expectStatus(t, env.do(http.MethodPost, "/conversations/"+id+"/completion/accept", "ada", nil), http.StatusConflict)
	w = env.do(http.MethodPost, "/conversations/"+id+"/completion/accept", "ben", nil)
	expectStatus(t, w, http.StatusOK)
	done := decode[models.Conversation](t, w)
	if done.Status != models.StatusCompleted || len(done.CompletionFeedback) != 2 {
		t.Fatalf("expected completed with two feedback entries, got %+v", done)
	}
}

func TestFeedbackRequiresText(t *testing.T) {
	env := newAPIEnv(t, staticOracle(assessmentJSON))
	id := env.invite()
	w := env.do(http.MethodPost, "/conversations/"+id+"/feedback", "ada", gin.H{"feedback": ""})
	expectStatus(t, w, http.StatusBadRequest)
	if body := decode[map[string]interface{}](t, w); body["field"] != "feedback" {
		t.Errorf("expected field feedback, got %v", body)
	}
}

func TestRespondErrorMapping(t *testing.T) {
	ctl := &Controller{log: logger.NewNop()}
	tests := []struct {
		name      string
		err       error
		status    int
		retryable bool
	}{
		{"validation", models.NewValidationError("content", "empty"), http.StatusBadRequest, false},
		{"unauthenticated", models.ErrUnauthenticated, http.StatusUnauthorized, false},
		{"not participant", fmt.Errorf("load: %w", models.ErrNotParticipant), http.StatusForbidden, false},
		{"not found", fmt.Errorf("conversation: %w", models.ErrNotFound), http.StatusNotFound, false},
		{"invalid transition", models.ErrInvalidTransition, http.StatusConflict, false},
		{"rate limited", fmt.Errorf("list: %w", models.ErrRateLimited), http.StatusServiceUnavailable, true},
		{"transient", models.ErrTransient, http.StatusServiceUnavailable, true},
		{"contract", models.ErrContractViolation, http.StatusBadGateway, true},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			ctl.respondError(c, tt.err)
			expectStatus(t, w, tt.status)
			body := decode[map[string]interface{}](t, w)
			if got := body["retryable"] == true; got != tt.retryable {
				t.Errorf("retryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}
