package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/internal/auth"
	"github.com/MarcoPoloResearchLab/murmur/internal/social"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultHeartbeatInterval = 25 * time.Second
	defaultRedeliveryDelay   = time.Second
	redeliveryTimeout        = 30 * time.Second
)

var (
	errMissingSocialService = errors.New("social service dependency required")
	errMissingTokenIssuer   = errors.New("token issuer dependency required")
	errMissingSessions      = errors.New("session validator dependency required")
)

// SocialService is the subset of social.Service the HTTP layer drives.
type SocialService interface {
	SignupOrLogin(ctx context.Context, username, password string) (social.LoginResult, error)
	Follow(ctx context.Context, userID int64, followee string) error
	CreatePost(ctx context.Context, userID int64, message string) (social.PublishResult, error)
	RedeliverFailed(ctx context.Context, report social.FanoutReport) (social.FanoutReport, error)
	RenderHome(ctx context.Context, userID int64) (social.HomeView, error)
	Ping(ctx context.Context) error
}

type SessionTokenIssuer interface {
	IssueSessionToken(userID int64, username string) (string, time.Time, error)
}

type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.Session, error)
	CookieName() string
}

type Dependencies struct {
	Service           SocialService
	TokenIssuer       SessionTokenIssuer
	Sessions          SessionValidator
	Realtime          *RealtimeDispatcher
	Logger            *zap.Logger
	AllowedOrigins    []string
	SecureCookies     bool
	HeartbeatInterval time.Duration
	RedeliveryDelay   time.Duration
	Clock             func() time.Time
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Service == nil {
		return nil, errMissingSocialService
	}
	if deps.TokenIssuer == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	redeliveryDelay := deps.RedeliveryDelay
	if redeliveryDelay <= 0 {
		redeliveryDelay = defaultRedeliveryDelay
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	handler := &httpHandler{
		service:           deps.Service,
		tokens:            deps.TokenIssuer,
		sessions:          deps.Sessions,
		realtime:          realtime,
		logger:            logger,
		secureCookies:     deps.SecureCookies,
		heartbeatInterval: heartbeat,
		redeliveryDelay:   redeliveryDelay,
		clock:             clock,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(accessLogMiddleware(logger))
	router.Use(corsMiddleware(deps.AllowedOrigins))

	router.GET("/healthz", handler.handleHealth)
	router.POST("/session", handler.handleSession)
	router.POST("/logout", handler.handleLogout)

	authenticated := router.Group("/")
	authenticated.Use(handler.identifySession)
	authenticated.GET("/", handler.handleHome)
	authenticated.POST("/follow", handler.handleFollow)
	authenticated.POST("/posts", handler.handleCreatePost)
	authenticated.GET("/timeline/stream", handler.handleTimelineStream)

	return router, nil
}

type httpHandler struct {
	service           SocialService
	tokens            SessionTokenIssuer
	sessions          SessionValidator
	realtime          *RealtimeDispatcher
	logger            *zap.Logger
	secureCookies     bool
	heartbeatInterval time.Duration
	redeliveryDelay   time.Duration
	clock             func() time.Time
}

type sessionRequestPayload struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

type sessionResponsePayload struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Created  bool   `json:"created"`
}

func (h *httpHandler) handleSession(c *gin.Context) {
	var request sessionRequestPayload
	if err := c.ShouldBind(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.service.SignupOrLogin(c.Request.Context(), request.Username, request.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}

	token, expiresAt, err := h.tokens.IssueSessionToken(result.UserID, result.Username)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Int64("user_id", result.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	h.setSessionCookie(c, token, expiresAt)

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, sessionResponsePayload{
		UserID:   result.UserID,
		Username: result.Username,
		Created:  result.Created,
	})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.sessions.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	c.Status(http.StatusNoContent)
}

type followRequestPayload struct {
	Username string `json:"username" form:"username"`
}

func (h *httpHandler) handleFollow(c *gin.Context) {
	var request followRequestPayload
	if err := c.ShouldBind(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.service.Follow(c.Request.Context(), sessionUserID(c), request.Username); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"following": strings.TrimSpace(request.Username)})
}

type postRequestPayload struct {
	Message string `json:"message" form:"message"`
}

type postResponsePayload struct {
	PostID           int64    `json:"post_id"`
	FailedDeliveries []string `json:"failed_deliveries"`
	FollowersPending bool     `json:"followers_pending"`
}

func (h *httpHandler) handleCreatePost(c *gin.Context) {
	var request postRequestPayload
	if err := c.ShouldBind(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.service.CreatePost(c.Request.Context(), sessionUserID(c), request.Message)
	var partial *social.PartialFanoutError
	switch {
	case err == nil:
	case errors.As(err, &partial):
		h.scheduleRedelivery(partial.Report)
	case result.PostID != 0:
		// The post is stored, so the client gets its ID rather than an error.
		h.logger.Error("post stored but fan-out failed",
			zap.Int64("post_id", result.PostID), zap.Error(err))
		result.Report.FollowersUnknown = true
		h.scheduleRedelivery(result.Report)
	default:
		h.writeError(c, err)
		return
	}

	report := result.Report
	h.realtime.NotifyTimelines(result.PostID, report.Author, report.Delivered, h.clock())

	failed := report.Failed
	if failed == nil {
		failed = []string{}
	}
	c.JSON(http.StatusCreated, postResponsePayload{
		PostID:           result.PostID,
		FailedDeliveries: failed,
		FollowersPending: report.FollowersUnknown,
	})
}

// scheduleRedelivery retries failed timeline pushes in the background once.
func (h *httpHandler) scheduleRedelivery(report social.FanoutReport) {
	go func() {
		time.Sleep(h.redeliveryDelay)
		ctx, cancel := context.WithTimeout(context.Background(), redeliveryTimeout)
		defer cancel()

		redelivered, err := h.service.RedeliverFailed(ctx, report)
		h.realtime.NotifyTimelines(report.PostID, report.Author, redelivered.Delivered, h.clock())
		if err != nil {
			h.logger.Error("redelivery failed",
				zap.Int64("post_id", report.PostID),
				zap.Strings("failed", redelivered.Failed),
				zap.Error(err))
			return
		}
		h.logger.Info("redelivery completed",
			zap.Int64("post_id", report.PostID),
			zap.Int("delivered", len(redelivered.Delivered)))
	}()
}

type timelineEntryPayload struct {
	PostID    int64  `json:"post_id"`
	Author    string `json:"author"`
	Message   string `json:"message"`
	Time      string `json:"time"`
	CreatedAt string `json:"created_at"`
}

type homeResponsePayload struct {
	Username       string                 `json:"username"`
	SuggestedUsers []string               `json:"suggested_users"`
	Timeline       []timelineEntryPayload `json:"timeline"`
	Skipped        int                    `json:"skipped"`
}

func (h *httpHandler) handleHome(c *gin.Context) {
	view, err := h.service.RenderHome(c.Request.Context(), sessionUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	response := homeResponsePayload{
		Username:       view.Username,
		SuggestedUsers: view.SuggestedUsers,
		Timeline:       make([]timelineEntryPayload, 0, len(view.Timeline)),
		Skipped:        view.Skipped,
	}
	if response.SuggestedUsers == nil {
		response.SuggestedUsers = []string{}
	}
	for _, entry := range view.Timeline {
		response.Timeline = append(response.Timeline, timelineEntryPayload{
			PostID:    entry.PostID,
			Author:    entry.Author,
			Message:   entry.Message,
			Time:      entry.TimeLabel,
			CreatedAt: entry.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, response)
}

type timelineEventPayload struct {
	PostID    int64  `json:"postId"`
	Author    string `json:"author"`
	Timestamp string `json:"timestamp"`
}

func (h *httpHandler) handleTimelineStream(c *gin.Context) {
	username := c.GetString(usernameContextKey)
	if sessionUserID(c) <= 0 || username == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "login_required"})
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, username)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-stream:
			if !ok {
				return
			}
			c.SSEvent(message.EventType, timelineEventPayload{
				PostID:    message.PostID,
				Author:    message.Author,
				Timestamp: message.Timestamp.UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
			c.Writer.Flush()
		}
	}
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if err := h.service.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) setSessionCookie(c *gin.Context, token string, expiresAt time.Time) {
	maxAge := int(expiresAt.Sub(h.clock()).Seconds())
	if maxAge <= 0 {
		maxAge = 1
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.sessions.CookieName(),
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
