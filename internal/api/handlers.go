package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"anonrelay/internal/auth"
	"anonrelay/internal/notify"
	"anonrelay/internal/relay"
)

// Handler translates HTTP calls from the chat gateway into relay events.
type Handler struct {
	engine *relay.Engine
	auth   *auth.Service
	hub    *notify.Hub
	logger *slog.Logger
}

// NewHandler constructs a Handler. hub may be nil when notifications do not
// go out over websocket.
func NewHandler(engine *relay.Engine, authService *auth.Service, hub *notify.Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine: engine,
		auth:   authService,
		hub:    hub,
		logger: logger.With("component", "api"),
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/healthz", h.health)

	authed := api.Group("")
	authed.Use(h.auth.Middleware())
	if h.hub != nil {
		authed.GET("/gateway/ws", h.gatewayWS)
	}

	userRoutes := authed.Group("/users/:id")
	userRoutes.Use(auth.PathUser())
	userRoutes.POST("/chats", h.createChat)
	userRoutes.GET("/chats", h.listMyChats)
	userRoutes.POST("/chats/join", h.joinChat)
	userRoutes.POST("/chats/:session_id/enter", h.enterChat)
	userRoutes.POST("/messages", h.sendMessage)

	adminRoutes := authed.Group("/admin/:id")
	adminRoutes.Use(auth.PathUser())
	adminRoutes.GET("/stats", h.adminStats)
	adminRoutes.GET("/sessions", h.adminListSessions)
	adminRoutes.GET("/sessions/:session_id", h.adminSessionDetail)
	adminRoutes.DELETE("/sessions/:session_id", h.adminCloseSession)
	adminRoutes.POST("/broadcast", h.adminBroadcast)
	adminRoutes.POST("/cleanup", h.adminCleanup)
}

type joinRequest struct {
	Passphrase string `json:"passphrase" binding:"required"`
}

type textRequest struct {
	Text string `json:"text" binding:"required"`
}

func (h *Handler) health(c *gin.Context) {
	sessions, users := h.engine.Index().Counts()
	gateways := 0
	if h.hub != nil {
		gateways = h.hub.Connected()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"bound_sessions": sessions,
		"bound_users":    users,
		"gateways":       gateways,
	})
}

func (h *Handler) createChat(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	h.dispatch(c, http.StatusCreated, relay.CreateRequest{UserID: userID})
}

func (h *Handler) listMyChats(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	h.dispatch(c, http.StatusOK, relay.ListMySessions{UserID: userID})
}

func (h *Handler) joinChat(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	h.dispatch(c, http.StatusOK, relay.JoinRequest{UserID: userID, Passphrase: req.Passphrase})
}

func (h *Handler) enterChat(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	h.dispatch(c, http.StatusOK, relay.EnterSession{UserID: userID, SessionID: c.Param("session_id")})
}

func (h *Handler) sendMessage(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	h.dispatch(c, http.StatusCreated, relay.MessageEvent{UserID: userID, Text: req.Text})
}

func (h *Handler) adminStats(c *gin.Context) {
	callerID, _ := auth.UserIDFromContext(c)
	h.dispatch(c, http.StatusOK, relay.AdminStats{CallerID: callerID})
}

func (h *Handler) adminListSessions(c *gin.Context) {
	callerID, _ := auth.UserIDFromContext(c)
	h.dispatch(c, http.StatusOK, relay.AdminListSessions{CallerID: callerID})
}

func (h *Handler) adminSessionDetail(c *gin.Context) {
	callerID, _ := auth.UserIDFromContext(c)
	h.dispatch(c, http.StatusOK, relay.AdminSessionDetail{CallerID: callerID, SessionID: c.Param("session_id")})
}

func (h *Handler) adminCloseSession(c *gin.Context) {
	callerID, _ := auth.UserIDFromContext(c)
	h.dispatch(c, http.StatusOK, relay.AdminCloseSession{CallerID: callerID, SessionID: c.Param("session_id")})
}

func (h *Handler) adminBroadcast(c *gin.Context) {
	callerID, _ := auth.UserIDFromContext(c)
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	h.dispatch(c, http.StatusOK, relay.AdminBroadcast{CallerID: callerID, Text: req.Text})
}

func (h *Handler) adminCleanup(c *gin.Context) {
	callerID, _ := auth.UserIDFromContext(c)
	h.dispatch(c, http.StatusOK, relay.AdminForceCleanup{CallerID: callerID})
}

func (h *Handler) gatewayWS(c *gin.Context) {
	if err := h.hub.ServeWS(c.Request.Context(), c.Writer, c.Request); err != nil {
		h.logger.Warn("gateway websocket failed", "request_id", RequestID(c), "err", err)
	}
}

func (h *Handler) dispatch(c *gin.Context, status int, ev relay.Event) {
	out, err := h.engine.Handle(c.Request.Context(), ev)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(status, out)
}

// writeError maps relay errors onto status codes. Storage details never
// reach the caller.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, relay.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, relay.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, relay.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, relay.ErrSessionFull), errors.Is(err, relay.ErrNotInSession):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, relay.ErrLimitExceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", "request_id", RequestID(c), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
