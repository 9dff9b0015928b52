package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/promptstash/internal/domain"
	"github.com/splax/promptstash/internal/policy"
	"github.com/splax/promptstash/internal/repository"
	"github.com/splax/promptstash/internal/service/activity"
	"github.com/splax/promptstash/internal/service/auth"
	"github.com/splax/promptstash/internal/service/favorite"
	"github.com/splax/promptstash/internal/service/invitation"
	"github.com/splax/promptstash/internal/service/prompt"
	"github.com/splax/promptstash/internal/service/rating"
	"github.com/splax/promptstash/internal/service/team"
	"github.com/splax/promptstash/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux        *http.ServeMux
	logger     *slog.Logger
	auth       auth.Service
	team       team.Service
	prompt     prompt.Service
	rating     rating.Service
	invitation invitation.Service
	favorite   favorite.Service
	activity   activity.Service
	upgrader   websocket.Upgrader
	limiter    RateLimiter
	dbHealth   func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	statsConflicts     prometheus.Counter
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitSignup    = 5
	rateLimitLogin     = 12
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	rateLimitRealtime  = 30
	healthCheckTimeout = 2 * time.Second

	activityDefaultLimit  = 50
	activityBackfillLimit = 25
	sseHeartbeatInterval  = 15 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, teamSvc team.Service, promptSvc prompt.Service, ratingSvc rating.Service, invitationSvc invitation.Service, favoriteSvc favorite.Service, activitySvc activity.Service, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:        http.NewServeMux(),
		logger:     logger,
		auth:       authSvc,
		team:       teamSvc,
		prompt:     promptSvc,
		rating:     ratingSvc,
		invitation: invitationSvc,
		favorite:   favoriteSvc,
		activity:   activitySvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/signup", r.audit("/auth/signup", r.withRateLimit("/auth/signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/auth/login", r.audit("/auth/login", r.withRateLimit("/auth/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/teams", r.audit("/teams", r.handlerAuthRate("/teams", rateLimitUserWrite, rateWindowDefault, r.handleTeams)))
	r.mux.HandleFunc("/teams/", r.audit("/teams/", r.handlerAuthRate("/teams/", rateLimitUserWrite, rateWindowDefault, r.handleTeamSubroutes)))
	r.mux.HandleFunc("/prompts/", r.audit("/prompts/", r.handlerAuthRate("/prompts/", rateLimitUserWrite, rateWindowDefault, r.handlePromptSubroutes)))
	r.mux.HandleFunc("/invitations", r.audit("/invitations", r.handlerAuthRate("/invitations", rateLimitUserRead, rateWindowDefault, r.handleMyInvitations)))
	r.mux.HandleFunc("/invitations/", r.audit("/invitations/", r.handlerAuthRate("/invitations/", rateLimitUserWrite, rateWindowDefault, r.handleInvitationSubroutes)))
	r.mux.HandleFunc("/favorites", r.audit("/favorites", r.handlerAuthRate("/favorites", rateLimitUserRead, rateWindowDefault, r.handleFavorites)))
	r.mux.HandleFunc("/favorites/", r.audit("/favorites/", r.handlerAuthRate("/favorites/", rateLimitUserWrite, rateWindowDefault, r.handleFavoriteToggle)))
	r.mux.HandleFunc("/ws/activity", r.audit("/ws/activity", r.handlerAuthRate("/ws/activity", rateLimitRealtime, rateWindowRealtime, r.handleActivityWS)))
	r.mux.HandleFunc("/sse/activity", r.audit("/sse/activity", r.handlerAuthRate("/sse/activity", rateLimitRealtime, rateWindowRealtime, r.handleActivitySSE)))
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
		Password    string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, tokens, err := r.auth.Signup(req.Context(), payload.Email, payload.DisplayName, payload.Password)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":   userPayload(user),
		"tokens": tokens,
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, tokens, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":   userPayload(user),
		"tokens": tokens,
	})
}

func (r *Router) handleTeams(w http.ResponseWriter, req *http.Request) {
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := r.team.Create(req.Context(), info.UserID, payload.Name)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	case http.MethodGet:
		teams, err := r.team.ListMine(req.Context(), info.UserID)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, teams)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleTeamSubroutes(w http.ResponseWriter, req *http.Request) {
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	parts := splitPath(req.URL.Path, "/teams/")
	if len(parts) == 0 || parts[0] == "" {
		r.notFound(w)
		return
	}
	teamID := parts[0]
	switch {
	case len(parts) == 1:
		r.handleTeam(w, req, info, teamID)
	case len(parts) == 2 && parts[1] == "members":
		r.handleTeamMembers(w, req, info, teamID)
	case len(parts) == 3 && parts[1] == "members":
		r.handleTeamMember(w, req, info, teamID, parts[2])
	case len(parts) == 2 && parts[1] == "invitations":
		r.handleTeamInvitations(w, req, info, teamID)
	case len(parts) == 3 && parts[1] == "invitations":
		r.handleTeamInvitation(w, req, info, teamID, parts[2])
	case len(parts) == 2 && parts[1] == "prompts":
		r.handleTeamPrompts(w, req, info, teamID)
	case len(parts) == 2 && parts[1] == "activity":
		r.handleTeamActivity(w, req, info, teamID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleTeam(w http.ResponseWriter, req *http.Request, info authInfo, teamID string) {
	switch req.Method {
	case http.MethodGet:
		t, err := r.team.Get(req.Context(), info.UserID, teamID)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	case http.MethodDelete:
		if err := r.team.Delete(req.Context(), info.UserID, teamID); err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleTeamMembers(w http.ResponseWriter, req *http.Request, info authInfo, teamID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	members, err := r.team.ListMembers(req.Context(), info.UserID, teamID)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (r *Router) handleTeamMember(w http.ResponseWriter, req *http.Request, info authInfo, teamID, targetID string) {
	switch req.Method {
	case http.MethodPut:
		var payload struct {
			Role string `json:"role"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := r.team.ChangeRole(req.Context(), info.UserID, teamID, targetID, domain.Role(payload.Role)); err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	case http.MethodDelete:
		if err := r.team.RemoveMember(req.Context(), info.UserID, teamID, targetID); err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleTeamInvitations(w http.ResponseWriter, req *http.Request, info authInfo, teamID string) {
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Email string `json:"email"`
			Role  string `json:"role"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if payload.Role == "" {
			payload.Role = string(domain.RoleMember)
		}
		result, err := r.invitation.Create(req.Context(), info.UserID, teamID, payload.Email, domain.Role(payload.Role))
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		body := map[string]any{"invitation": result.Invitation}
		if result.EmailErr != nil {
			body["email_status"] = "failed"
		} else {
			body["email_status"] = "sent"
		}
		writeJSON(w, http.StatusCreated, body)
	case http.MethodGet:
		invitations, err := r.invitation.ListPendingForTeam(req.Context(), info.UserID, teamID)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, invitations)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleTeamInvitation(w http.ResponseWriter, req *http.Request, info authInfo, teamID, invitationID string) {
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	if err := r.invitation.Cancel(req.Context(), info.UserID, teamID, invitationID); err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (r *Router) handleTeamPrompts(w http.ResponseWriter, req *http.Request, info authInfo, teamID string) {
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Title string   `json:"title"`
			Body  string   `json:"body"`
			Tags  []string `json:"tags"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := r.prompt.Create(req.Context(), info.UserID, teamID, payload.Title, payload.Body, payload.Tags)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	case http.MethodGet:
		prompts, err := r.prompt.ListByTeam(req.Context(), info.UserID, teamID)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, prompts)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleTeamActivity(w http.ResponseWriter, req *http.Request, info authInfo, teamID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	// membership gate; activity itself has no policy hooks
	if _, err := r.team.Get(req.Context(), info.UserID, teamID); err != nil {
		r.writeServiceError(w, err)
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = activityDefaultLimit
	}
	offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	events, err := r.activity.List(req.Context(), teamID, limit, offset)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (r *Router) handlePromptSubroutes(w http.ResponseWriter, req *http.Request) {
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	parts := splitPath(req.URL.Path, "/prompts/")
	if len(parts) == 0 || parts[0] == "" {
		r.notFound(w)
		return
	}
	promptID := parts[0]
	switch {
	case len(parts) == 1:
		r.handlePrompt(w, req, info, promptID)
	case len(parts) == 2 && parts[1] == "rating":
		r.handlePromptRating(w, req, info, promptID)
	case len(parts) == 2 && parts[1] == "usage":
		r.handlePromptUsage(w, req, info, promptID)
	case len(parts) == 2 && parts[1] == "comments":
		r.handlePromptComments(w, req, info, promptID)
	case len(parts) == 3 && parts[1] == "comments":
		r.handlePromptComment(w, req, info, parts[2])
	default:
		r.notFound(w)
	}
}

func (r *Router) handlePrompt(w http.ResponseWriter, req *http.Request, info authInfo, promptID string) {
	switch req.Method {
	case http.MethodGet:
		p, err := r.prompt.Get(req.Context(), info.UserID, promptID)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodPut:
		var payload struct {
			Title string   `json:"title"`
			Body  string   `json:"body"`
			Tags  []string `json:"tags"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		updated, err := r.prompt.Update(req.Context(), info.UserID, promptID, payload.Title, payload.Body, payload.Tags)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := r.prompt.Delete(req.Context(), info.UserID, promptID); err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handlePromptRating(w http.ResponseWriter, req *http.Request, info authInfo, promptID string) {
	switch req.Method {
	case http.MethodPut:
		var payload struct {
			Value int `json:"value"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		stats, err := r.rating.Submit(req.Context(), info.UserID, promptID, payload.Value)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	case http.MethodDelete:
		stats, err := r.rating.Remove(req.Context(), info.UserID, promptID)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	case http.MethodGet:
		stats, err := r.rating.Stats(req.Context(), info.UserID, promptID)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handlePromptUsage(w http.ResponseWriter, req *http.Request, info authInfo, promptID string) {
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Counter string `json:"counter"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		count, err := r.rating.IncrementUsage(req.Context(), info.UserID, promptID, payload.Counter)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"counter": payload.Counter, "count": count})
	case http.MethodGet:
		counters, err := r.rating.UsageCounters(req.Context(), info.UserID, promptID)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, counters)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handlePromptComments(w http.ResponseWriter, req *http.Request, info authInfo, promptID string) {
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Body string `json:"body"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		comment, err := r.prompt.AddComment(req.Context(), info.UserID, promptID, payload.Body)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, comment)
	case http.MethodGet:
		comments, err := r.prompt.ListComments(req.Context(), info.UserID, promptID)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, comments)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handlePromptComment(w http.ResponseWriter, req *http.Request, info authInfo, commentID string) {
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	if err := r.prompt.DeleteComment(req.Context(), info.UserID, commentID); err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (r *Router) handleMyInvitations(w http.ResponseWriter, req *http.Request) {
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	invitations, err := r.invitation.ListPendingForEmail(req.Context(), info.Email)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invitations)
}

func (r *Router) handleInvitationSubroutes(w http.ResponseWriter, req *http.Request) {
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	parts := splitPath(req.URL.Path, "/invitations/")
	if len(parts) != 2 || parts[0] == "" {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	user := &domain.User{ID: info.UserID, Email: info.Email, DisplayName: info.DisplayName}
	switch parts[1] {
	case "accept":
		inv, err := r.invitation.Accept(req.Context(), user, parts[0])
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, inv)
	case "reject":
		inv, err := r.invitation.Reject(req.Context(), user, parts[0])
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, inv)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleFavorites(w http.ResponseWriter, req *http.Request) {
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	favorites, err := r.favorite.List(req.Context(), info.UserID)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, favorites)
}

func (r *Router) handleFavoriteToggle(w http.ResponseWriter, req *http.Request) {
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	parts := splitPath(req.URL.Path, "/favorites/")
	if len(parts) != 1 || parts[0] == "" {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodPut {
		r.methodNotAllowed(w)
		return
	}
	favorited, err := r.favorite.Toggle(req.Context(), info.UserID, parts[0])
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"favorited": favorited})
}

func (r *Router) handleActivityWS(w http.ResponseWriter, req *http.Request) {
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	teamID := strings.TrimSpace(req.URL.Query().Get("team_id"))
	if teamID == "" {
		writeError(w, http.StatusBadRequest, "team_id query parameter required")
		return
	}
	if _, err := r.team.Get(req.Context(), info.UserID, teamID); err != nil {
		r.writeServiceError(w, err)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.activity.Hub().Register(teamID, client)
	go func() {
		defer func() {
			r.activity.Hub().Unregister(teamID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleActivitySSE(w http.ResponseWriter, req *http.Request) {
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	teamID := strings.TrimSpace(req.URL.Query().Get("team_id"))
	if teamID == "" {
		writeError(w, http.StatusBadRequest, "team_id query parameter required")
		return
	}
	if _, err := r.team.Get(req.Context(), info.UserID, teamID); err != nil {
		r.writeServiceError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	client := ws.NewSSEClient(w, flusher, r.logger)
	if err := client.Heartbeat(); err != nil {
		return
	}
	// backfill recent events so a reconnecting client does not miss context
	events, err := r.activity.List(req.Context(), teamID, activityBackfillLimit, 0)
	if err == nil {
		for i := len(events) - 1; i >= 0; i-- {
			payload, err := activity.MarshalEvent(events[i])
			if err != nil {
				continue
			}
			if err := client.Send(payload); err != nil {
				return
			}
		}
	}

	r.activity.Hub().Register(teamID, client)
	defer func() {
		r.activity.Hub().Unregister(teamID, client)
		client.Close()
	}()

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// writeServiceError maps sentinel errors to HTTP statuses.
func (r *Router) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, policy.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission denied")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, rating.ErrConflictRetryExhausted):
		r.recordStatsConflict()
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "temporarily busy, retry")
	case errors.Is(err, policy.ErrInvalidOperation),
		errors.Is(err, invitation.ErrDuplicateInvitation),
		errors.Is(err, invitation.ErrInvitationClosed),
		errors.Is(err, auth.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidEmail),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, team.ErrInvalidName),
		errors.Is(err, team.ErrInvalidRole),
		errors.Is(err, invitation.ErrInvalidRole),
		errors.Is(err, prompt.ErrInvalidTitle),
		errors.Is(err, prompt.ErrInvalidBody),
		errors.Is(err, prompt.ErrInvalidComment),
		errors.Is(err, rating.ErrInvalidRating),
		errors.Is(err, rating.ErrInvalidCounter):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		r.logger.Error("unhandled service error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (r *Router) mustAuthInfo(w http.ResponseWriter, req *http.Request) (authInfo, bool) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return authInfo{}, false
	}
	return info, true
}

func userPayload(user *domain.User) map[string]any {
	return map[string]any{
		"id":           user.ID,
		"email":        user.Email,
		"display_name": user.DisplayName,
	}
}

func splitPath(path, prefix string) []string {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)
		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
