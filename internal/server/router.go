package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Bestalexmartin/Cuebe-sub002/internal/script"
)

const userIDContextKey = "cuebe_user_id"

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingScriptService  = errors.New("script service dependency required")
	errMissingHub            = errors.New("script hub dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenValidator checks a bearer credential and returns its subject.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

type Dependencies struct {
	Tokens        TokenValidator
	ScriptService *script.Service
	Hub           *ScriptHub
	Logger        *zap.Logger
}

// NewHTTPHandler wires the script endpoints: create, fetch, save, and the
// realtime channel. Every non-2xx body carries {"detail": "..."}.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.ScriptService == nil {
		return nil, errMissingScriptService
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:  deps.Tokens,
		scripts: deps.ScriptService,
		hub:     deps.Hub,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/scripts", handler.handleCreateScript)
	protected.GET("/scripts/:script_id", handler.handleGetScript)
	protected.POST("/scripts/:script_id/save", handler.handleSaveScript)
	protected.GET("/scripts/:script_id/channel", handler.handleChannel)

	return router, nil
}

type httpHandler struct {
	tokens   TokenValidator
	scripts  *script.Service
	hub      *ScriptHub
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

type createScriptPayload struct {
	Title string `json:"title"`
}

func (h *httpHandler) handleCreateScript(c *gin.Context) {
	ownerID, ok := h.requestUser(c)
	if !ok {
		return
	}

	var request createScriptPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "title is required"})
		return
	}

	state, err := h.scripts.CreateScript(c.Request.Context(), ownerID, strings.TrimSpace(request.Title))
	if err != nil {
		h.logger.Error("script creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "script creation failed"})
		return
	}
	c.JSON(http.StatusCreated, state)
}

func (h *httpHandler) handleGetScript(c *gin.Context) {
	scriptID, ok := h.requestScript(c)
	if !ok {
		return
	}

	state, err := h.scripts.GetState(c.Request.Context(), scriptID)
	if err != nil {
		h.respondServiceError(c, err, "script fetch failed")
		return
	}
	c.JSON(http.StatusOK, state)
}

type savePayload struct {
	Operations []script.EditOperation `json:"operations"`
}

func (h *httpHandler) handleSaveScript(c *gin.Context) {
	userID, ok := h.requestUser(c)
	if !ok {
		return
	}
	scriptID, ok := h.requestScript(c)
	if !ok {
		return
	}

	var request savePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid save payload"})
		return
	}
	if len(request.Operations) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "operations are required"})
		return
	}

	state, err := h.scripts.ApplyOperations(c.Request.Context(), userID, scriptID, request.Operations)
	if err != nil {
		h.respondServiceError(c, err, "save failed")
		return
	}
	c.JSON(http.StatusOK, state)
}

// handleChannel upgrades the connection and joins the script's hub. The read
// loop relays every well-formed envelope from this connection to every other
// one on the same script; the write loop pumps relayed envelopes out.
func (h *httpHandler) handleChannel(c *gin.Context) {
	scriptID, ok := h.requestScript(c)
	if !ok {
		return
	}
	if _, err := h.scripts.GetState(c.Request.Context(), scriptID); err != nil {
		h.respondServiceError(c, err, "script fetch failed")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("channel upgrade failed",
			zap.String("script_id", scriptID.String()), zap.Error(err))
		return
	}
	defer conn.Close()

	senderID, stream, cancel := h.hub.Subscribe(c.Request.Context(), scriptID.String())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, payload, readErr := conn.ReadMessage()
			if readErr != nil {
				return
			}
			if !json.Valid(payload) {
				continue
			}
			h.hub.Publish(ChannelMessage{
				ScriptID: scriptID.String(),
				SenderID: senderID,
				Payload:  payload,
			})
		}
	}()

	for {
		select {
		case <-done:
			return
		case message := <-stream:
			if writeErr := conn.WriteMessage(websocket.TextMessage, message.Payload); writeErr != nil {
				return
			}
		}
	}
}

// authorizeRequest accepts the Authorization header or, for websocket
// clients that cannot set headers, the access_token query parameter.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	switch {
	case strings.HasPrefix(header, "Bearer "):
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	default:
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) requestUser(c *gin.Context) (script.UserID, bool) {
	userID, err := script.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "unauthorized"})
		return script.UserID(""), false
	}
	return userID, true
}

func (h *httpHandler) requestScript(c *gin.Context) (script.ScriptID, bool) {
	scriptID, err := script.NewScriptID(c.Param("script_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid script id"})
		return script.ScriptID(""), false
	}
	return scriptID, true
}

// respondServiceError maps service failures onto the endpoint contract:
// unknown script is 404, a rejected operation is 422 with the rejection
// reason verbatim, anything else is 500.
func (h *httpHandler) respondServiceError(c *gin.Context, err error, fallback string) {
	if errors.Is(err, script.ErrScriptNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "script not found"})
		return
	}
	var rejected *script.OperationRejectedError
	if errors.As(err, &rejected) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": rejected.Error()})
		return
	}
	h.logger.Error(fallback, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"detail": fallback})
}
