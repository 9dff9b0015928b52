package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/splax/promptstash/internal/domain"
	"github.com/splax/promptstash/internal/mailer"
	"github.com/splax/promptstash/internal/repository"
	"github.com/splax/promptstash/internal/service/activity"
	"github.com/splax/promptstash/internal/service/auth"
	"github.com/splax/promptstash/internal/service/favorite"
	"github.com/splax/promptstash/internal/service/invitation"
	"github.com/splax/promptstash/internal/service/prompt"
	"github.com/splax/promptstash/internal/service/rating"
	"github.com/splax/promptstash/internal/service/team"
	"github.com/splax/promptstash/internal/ws"
	"github.com/splax/promptstash/pkg/config"
)

// memoryRepo implements every repository interface for router tests.
type memoryRepo struct {
	mu          sync.Mutex
	users       map[string]*domain.User
	teams       map[string]*domain.Team
	members     map[string]map[string]*domain.TeamMember
	prompts     map[string]*domain.Prompt
	ratings     map[string]*domain.Rating
	invitations map[string]*domain.Invitation
	comments    map[string]*domain.Comment
	favorites   map[string]*domain.Favorite
	counters    map[string]int64
	events      []domain.ActivityEvent
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		users:       make(map[string]*domain.User),
		teams:       make(map[string]*domain.Team),
		members:     make(map[string]map[string]*domain.TeamMember),
		prompts:     make(map[string]*domain.Prompt),
		ratings:     make(map[string]*domain.Rating),
		invitations: make(map[string]*domain.Invitation),
		comments:    make(map[string]*domain.Comment),
		favorites:   make(map[string]*domain.Favorite),
		counters:    make(map[string]int64),
	}
}

func (m *memoryRepo) CreateUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *memoryRepo) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryRepo) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (m *memoryRepo) CreateTeam(_ context.Context, t *domain.Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *t
	m.teams[t.ID] = &copied
	m.members[t.ID] = map[string]*domain.TeamMember{
		t.OwnerID: {TeamID: t.ID, UserID: t.OwnerID, Role: domain.RoleOwner, CreatedAt: t.CreatedAt},
	}
	return nil
}

func (m *memoryRepo) GetTeamByID(_ context.Context, teamID string) (*domain.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[teamID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (m *memoryRepo) ListTeamsByUser(_ context.Context, userID string) ([]domain.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Team
	for teamID, members := range m.members {
		if _, ok := members[userID]; ok {
			out = append(out, *m.teams[teamID])
		}
	}
	return out, nil
}

func (m *memoryRepo) DeleteTeam(_ context.Context, teamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.teams[teamID]; !ok {
		return repository.ErrNotFound
	}
	for id, inv := range m.invitations {
		if inv.TeamID == teamID && inv.Status == domain.InvitationStatusPending {
			delete(m.invitations, id)
		}
	}
	delete(m.teams, teamID)
	delete(m.members, teamID)
	return nil
}

func (m *memoryRepo) GetMember(_ context.Context, teamID, userID string) (*domain.TeamMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[teamID][userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *member
	return &copied, nil
}

func (m *memoryRepo) ListMembers(_ context.Context, teamID string) ([]domain.TeamMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TeamMember
	for _, member := range m.members[teamID] {
		out = append(out, *member)
	}
	return out, nil
}

func (m *memoryRepo) UpsertMember(_ context.Context, member *domain.TeamMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[member.TeamID] == nil {
		m.members[member.TeamID] = make(map[string]*domain.TeamMember)
	}
	copied := *member
	m.members[member.TeamID][member.UserID] = &copied
	return nil
}

func (m *memoryRepo) DeleteMember(_ context.Context, teamID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[teamID][userID]; !ok {
		return repository.ErrNotFound
	}
	delete(m.members[teamID], userID)
	return nil
}

func (m *memoryRepo) CreatePrompt(_ context.Context, p *domain.Prompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *p
	m.prompts[p.ID] = &copied
	return nil
}

func (m *memoryRepo) GetPromptByID(_ context.Context, promptID string) (*domain.Prompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prompts[promptID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (m *memoryRepo) ListPromptsByTeam(_ context.Context, teamID string) ([]domain.Prompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Prompt
	for _, p := range m.prompts {
		if p.TeamID == teamID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memoryRepo) UpdatePromptContent(_ context.Context, p *domain.Prompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.prompts[p.ID]
	if !ok {
		return repository.ErrNotFound
	}
	existing.Title = p.Title
	existing.Body = p.Body
	existing.Tags = p.Tags
	existing.UpdatedAt = p.UpdatedAt
	return nil
}

func (m *memoryRepo) DeletePrompt(_ context.Context, promptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.prompts[promptID]; !ok {
		return repository.ErrNotFound
	}
	delete(m.prompts, promptID)
	return nil
}

func (m *memoryRepo) GetPromptStats(_ context.Context, promptID string) (domain.PromptStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prompts[promptID]
	if !ok {
		return domain.PromptStats{}, repository.ErrNotFound
	}
	return p.Stats, nil
}

func (m *memoryRepo) CompareAndSwapStats(_ context.Context, promptID string, expectedVersion int64, stats domain.PromptStats) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prompts[promptID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if p.Stats.Version != expectedVersion {
		return false, nil
	}
	stats.Version = expectedVersion + 1
	p.Stats = stats
	return true, nil
}

func (m *memoryRepo) IncrementUsageCounter(_ context.Context, promptID, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := promptID + "/" + name
	m.counters[key]++
	return m.counters[key], nil
}

func (m *memoryRepo) ListUsageCounters(context.Context, string) (map[string]int64, error) {
	return nil, nil
}

func (m *memoryRepo) GetRating(_ context.Context, promptID, userID string) (*domain.Rating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.ratings[promptID+"/"+userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *r
	return &copied, nil
}

func (m *memoryRepo) UpsertRating(_ context.Context, r *domain.Rating) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := r.PromptID + "/" + r.UserID
	previous := 0
	if existing, ok := m.ratings[key]; ok {
		previous = existing.Value
	}
	copied := *r
	m.ratings[key] = &copied
	return previous, nil
}

func (m *memoryRepo) DeleteRating(_ context.Context, promptID, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := promptID + "/" + userID
	previous := 0
	if existing, ok := m.ratings[key]; ok {
		previous = existing.Value
	}
	delete(m.ratings, key)
	return previous, nil
}

func (m *memoryRepo) CreateInvitation(_ context.Context, inv *domain.Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.invitations {
		if existing.TeamID == inv.TeamID && existing.Email == inv.Email && existing.Status == domain.InvitationStatusPending {
			return repository.ErrDuplicate
		}
	}
	copied := *inv
	m.invitations[inv.ID] = &copied
	return nil
}

func (m *memoryRepo) GetInvitationByID(_ context.Context, invitationID string) (*domain.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invitations[invitationID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *inv
	return &copied, nil
}

func (m *memoryRepo) ListPendingByEmail(_ context.Context, email string) ([]domain.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Invitation
	for _, inv := range m.invitations {
		if inv.Email == email && inv.Status == domain.InvitationStatusPending {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (m *memoryRepo) ListPendingByTeam(_ context.Context, teamID string) ([]domain.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Invitation
	for _, inv := range m.invitations {
		if inv.TeamID == teamID && inv.Status == domain.InvitationStatusPending {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (m *memoryRepo) AcceptInvitation(_ context.Context, invitationID string, member *domain.TeamMember, respondedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[member.TeamID] == nil {
		m.members[member.TeamID] = make(map[string]*domain.TeamMember)
	}
	if _, ok := m.members[member.TeamID][member.UserID]; !ok {
		copied := *member
		m.members[member.TeamID][member.UserID] = &copied
	}
	if inv, ok := m.invitations[invitationID]; ok && inv.Status == domain.InvitationStatusPending {
		inv.Status = domain.InvitationStatusAccepted
		inv.AcceptedBy = member.UserID
		inv.RespondedAt = respondedAt
	}
	return nil
}

func (m *memoryRepo) MarkRejected(_ context.Context, invitationID string, respondedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invitations[invitationID]
	if !ok || inv.Status != domain.InvitationStatusPending {
		return repository.ErrNotFound
	}
	inv.Status = domain.InvitationStatusRejected
	inv.RespondedAt = respondedAt
	return nil
}

func (m *memoryRepo) DeletePending(_ context.Context, invitationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invitations[invitationID]
	if !ok || inv.Status != domain.InvitationStatusPending {
		return repository.ErrNotFound
	}
	delete(m.invitations, invitationID)
	return nil
}

func (m *memoryRepo) CreateComment(_ context.Context, c *domain.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *c
	m.comments[c.ID] = &copied
	return nil
}

func (m *memoryRepo) GetCommentByID(_ context.Context, commentID string) (*domain.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[commentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (m *memoryRepo) ListCommentsByPrompt(_ context.Context, promptID string) ([]domain.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Comment
	for _, c := range m.comments {
		if c.PromptID == promptID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memoryRepo) DeleteComment(_ context.Context, commentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.comments[commentID]; !ok {
		return repository.ErrNotFound
	}
	delete(m.comments, commentID)
	return nil
}

func (m *memoryRepo) GetFavorite(_ context.Context, userID, promptID string) (*domain.Favorite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.favorites[userID+"/"+promptID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *f
	return &copied, nil
}

func (m *memoryRepo) UpsertFavorite(_ context.Context, f *domain.Favorite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := f.UserID + "/" + f.PromptID
	if _, ok := m.favorites[key]; ok {
		return nil
	}
	copied := *f
	m.favorites[key] = &copied
	return nil
}

func (m *memoryRepo) DeleteFavorite(_ context.Context, userID, promptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.favorites, userID+"/"+promptID)
	return nil
}

func (m *memoryRepo) ListFavoritesByUser(_ context.Context, userID string) ([]domain.Favorite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Favorite
	for _, f := range m.favorites {
		if f.UserID == userID {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (m *memoryRepo) AppendActivity(_ context.Context, event domain.ActivityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = int64(len(m.events) + 1)
	m.events = append(m.events, event)
	return nil
}

func (m *memoryRepo) ListActivityByTeam(_ context.Context, teamID string, limit, _ int) ([]domain.ActivityEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ActivityEvent
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if m.events[i].TeamID == teamID {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

func newTestRouter(t *testing.T) (*Router, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.APIConfig{
		JWTSecret:       "router-test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
		InviteLinkBase:  "https://app.example.com/invitations",
	}
	activitySvc := activity.New(repo, ws.NewHub(), log)
	authSvc := auth.New(repo, log, cfg)
	teamSvc := team.New(repo, activitySvc, log)
	promptSvc := prompt.New(repo, repo, repo, activitySvc, log)
	ratingSvc := rating.New(repo, repo, repo, log)
	invitationSvc := invitation.New(repo, repo, repo, mailer.Noop{}, activitySvc, log, cfg)
	favoriteSvc := favorite.New(repo, repo, repo, log)

	router := NewRouter(log, authSvc, teamSvc, promptSvc, ratingSvc, invitationSvc, favoriteSvc, activitySvc, NewMemoryRateLimiter(), nil)
	t.Cleanup(router.Close)
	return router, repo
}

func doJSON(t *testing.T, router *Router, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", recorder.Body.String(), err)
	}
	return out
}

func signupUser(t *testing.T, router *Router, email string) string {
	t.Helper()
	recorder := doJSON(t, router, http.MethodPost, "/auth/signup", "", map[string]string{
		"email":    email,
		"password": "longenough",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("signup %s: status %d body %s", email, recorder.Code, recorder.Body.String())
	}
	body := decodeBody(t, recorder)
	tokens := body["tokens"].(map[string]any)
	return tokens["AccessToken"].(string)
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)
	recorder := doJSON(t, router, http.MethodGet, "/healthz", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status %d", recorder.Code)
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	router, _ := newTestRouter(t)
	for _, path := range []string{"/teams", "/invitations", "/favorites", "/prompts/p1"} {
		recorder := doJSON(t, router, http.MethodGet, path, "", nil)
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, recorder.Code)
		}
	}
}

func TestSignupDuplicateEmailConflict(t *testing.T) {
	router, _ := newTestRouter(t)
	signupUser(t, router, "dup@example.com")
	recorder := doJSON(t, router, http.MethodPost, "/auth/signup", "", map[string]string{
		"email":    "dup@example.com",
		"password": "longenough",
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}
}

func TestSignupRateLimited(t *testing.T) {
	router, _ := newTestRouter(t)
	for i := 0; i < rateLimitSignup; i++ {
		doJSON(t, router, http.MethodPost, "/auth/signup", "", map[string]string{
			"email":    fmt.Sprintf("user%d@example.com", i),
			"password": "longenough",
		})
	}
	recorder := doJSON(t, router, http.MethodPost, "/auth/signup", "", map[string]string{
		"email":    "late@example.com",
		"password": "longenough",
	})
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", recorder.Code)
	}
	if recorder.Header().Get("X-RateLimit-Limit") == "" {
		t.Fatal("expected rate limit headers")
	}
}

func TestInvitationFlow(t *testing.T) {
	router, _ := newTestRouter(t)
	ownerToken := signupUser(t, router, "owner@example.com")
	inviteeToken := signupUser(t, router, "invitee@example.com")

	recorder := doJSON(t, router, http.MethodPost, "/teams", ownerToken, map[string]string{"name": "research"})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create team: %d %s", recorder.Code, recorder.Body.String())
	}
	teamID := decodeBody(t, recorder)["ID"].(string)

	// invitee cannot see the team yet
	recorder = doJSON(t, router, http.MethodGet, "/teams/"+teamID, inviteeToken, nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 before joining, got %d", recorder.Code)
	}

	recorder = doJSON(t, router, http.MethodPost, "/teams/"+teamID+"/invitations", ownerToken, map[string]string{
		"email": "Invitee@Example.com",
		"role":  "member",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("invite: %d %s", recorder.Code, recorder.Body.String())
	}

	// duplicate pending invitation for same team and email
	recorder = doJSON(t, router, http.MethodPost, "/teams/"+teamID+"/invitations", ownerToken, map[string]string{
		"email": "invitee@example.com",
		"role":  "admin",
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("duplicate invite: expected 409, got %d", recorder.Code)
	}

	recorder = doJSON(t, router, http.MethodGet, "/invitations", inviteeToken, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("list invitations: %d", recorder.Code)
	}
	var pending []map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &pending); err != nil {
		t.Fatalf("decode invitations: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending invitation, got %d", len(pending))
	}
	invitationID := pending[0]["ID"].(string)

	// the owner's token cannot accept someone else's invitation
	recorder = doJSON(t, router, http.MethodPost, "/invitations/"+invitationID+"/accept", ownerToken, nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("foreign accept: expected 403, got %d", recorder.Code)
	}

	recorder = doJSON(t, router, http.MethodPost, "/invitations/"+invitationID+"/accept", inviteeToken, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("accept: %d %s", recorder.Code, recorder.Body.String())
	}

	// accepting again is an idempotent success
	recorder = doJSON(t, router, http.MethodPost, "/invitations/"+invitationID+"/accept", inviteeToken, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("second accept: expected 200, got %d", recorder.Code)
	}

	// membership granted
	recorder = doJSON(t, router, http.MethodGet, "/teams/"+teamID, inviteeToken, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("team visible after join: %d", recorder.Code)
	}

	// but a plain member cannot delete the team
	recorder = doJSON(t, router, http.MethodDelete, "/teams/"+teamID, inviteeToken, nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("member delete: expected 403, got %d", recorder.Code)
	}

	// nor promote themselves
	var inviteeID string
	recorder = doJSON(t, router, http.MethodGet, "/teams/"+teamID+"/members", ownerToken, nil)
	var members []map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &members); err != nil {
		t.Fatalf("decode members: %v", err)
	}
	for _, member := range members {
		if member["Role"].(string) == "member" {
			inviteeID = member["UserID"].(string)
		}
	}
	if inviteeID == "" {
		t.Fatalf("invitee membership missing: %v", members)
	}
	recorder = doJSON(t, router, http.MethodPut, "/teams/"+teamID+"/members/"+inviteeID, inviteeToken, map[string]string{"role": "admin"})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("self promotion: expected 403, got %d", recorder.Code)
	}
}

func TestPromptRatingFlow(t *testing.T) {
	router, _ := newTestRouter(t)
	token := signupUser(t, router, "rater@example.com")

	recorder := doJSON(t, router, http.MethodPost, "/teams", token, map[string]string{"name": "prompts"})
	teamID := decodeBody(t, recorder)["ID"].(string)

	recorder = doJSON(t, router, http.MethodPost, "/teams/"+teamID+"/prompts", token, map[string]any{
		"title": "summarize",
		"body":  "Summarize the following text.",
		"tags":  []string{"summary"},
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create prompt: %d %s", recorder.Code, recorder.Body.String())
	}
	promptID := decodeBody(t, recorder)["ID"].(string)

	recorder = doJSON(t, router, http.MethodPut, "/prompts/"+promptID+"/rating", token, map[string]int{"value": 9})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("out of range rating: expected 400, got %d", recorder.Code)
	}

	recorder = doJSON(t, router, http.MethodPut, "/prompts/"+promptID+"/rating", token, map[string]int{"value": 4})
	if recorder.Code != http.StatusOK {
		t.Fatalf("rate: %d %s", recorder.Code, recorder.Body.String())
	}
	stats := decodeBody(t, recorder)
	if stats["Total"].(float64) != 1 {
		t.Fatalf("unexpected stats %v", stats)
	}

	recorder = doJSON(t, router, http.MethodPost, "/prompts/"+promptID+"/usage", token, map[string]string{"counter": "copied"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("usage: %d %s", recorder.Code, recorder.Body.String())
	}
	usage := decodeBody(t, recorder)
	if usage["count"].(float64) != 1 {
		t.Fatalf("unexpected usage %v", usage)
	}

	recorder = doJSON(t, router, http.MethodPut, "/favorites/"+promptID, token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("favorite toggle: %d %s", recorder.Code, recorder.Body.String())
	}
	if !decodeBody(t, recorder)["favorited"].(bool) {
		t.Fatal("expected favorited true")
	}

	recorder = doJSON(t, router, http.MethodGet, "/prompts/unknown", token, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("unknown prompt: expected 404, got %d", recorder.Code)
	}
}

func TestWriteServiceErrorConflictExhaustion(t *testing.T) {
	router, _ := newTestRouter(t)
	recorder := httptest.NewRecorder()
	router.writeServiceError(recorder, rating.ErrConflictRetryExhausted)
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", recorder.Code)
	}
	if recorder.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After header, got %q", recorder.Header().Get("Retry-After"))
	}
}
