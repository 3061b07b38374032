package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/SAISURYACHARAN89/codesync/internal/api/ws"
	"github.com/SAISURYACHARAN89/codesync/internal/domain/broadcast"
	"github.com/SAISURYACHARAN89/codesync/internal/domain/execution"
	"github.com/SAISURYACHARAN89/codesync/internal/domain/session"
	"github.com/SAISURYACHARAN89/codesync/internal/shared/apperr"
	"github.com/SAISURYACHARAN89/codesync/internal/shared/id"
)

// Sandbox is the part of execution.Sandbox the handlers use.
type Sandbox interface {
	Execute(ctx context.Context, req execution.Request) (*execution.Result, error)
	Languages() []execution.Profile
	Health() execution.Health
}

// ConnectionCounter reports open websocket connections.
type ConnectionCounter interface {
	Connections() int
}

// Deps are the collaborators of the HTTP handlers.
type Deps struct {
	Registry *session.Registry
	Router   *broadcast.Router
	Sandbox  Sandbox
	Gateway  ConnectionCounter // optional
	Logger   *zap.Logger
	Version  string
}

// Handlers contains all HTTP handlers
type Handlers struct {
	registry *session.Registry
	router   *broadcast.Router
	sandbox  Sandbox
	gateway  ConnectionCounter
	logger   *zap.Logger
	version  string
	started  time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(deps Deps) *Handlers {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	return &Handlers{
		registry: deps.Registry,
		router:   deps.Router,
		sandbox:  deps.Sandbox,
		gateway:  deps.Gateway,
		logger:   deps.Logger,
		version:  deps.Version,
		started:  time.Now(),
	}
}

// Register mounts the routes on r.
func (h *Handlers) Register(r gin.IRoutes) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/languages", h.Languages)
	r.GET("/sessions/:id", h.GetSession)
	r.POST("/execute", h.Execute)
	r.POST("/run-code", h.Execute)
}

// Root handles liveness
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "codesync",
		"version": h.version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	body := gin.H{
		"status":   "healthy",
		"uptime":   time.Since(h.started).Round(time.Second).String(),
		"sessions": h.registry.Stats(),
		"attached": h.router.Attached(),
	}
	if h.gateway != nil {
		body["connections"] = h.gateway.Connections()
	}
	if h.sandbox != nil {
		body["sandbox"] = h.sandbox.Health()
	}
	c.JSON(http.StatusOK, body)
}

// Languages lists the configured language profiles
func (h *Handlers) Languages(c *gin.Context) {
	if h.sandbox == nil {
		c.JSON(http.StatusOK, gin.H{"languages": []execution.Profile{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"languages": h.sandbox.Languages()})
}

// GetSession returns a session snapshot
func (h *Handlers) GetSession(c *gin.Context) {
	const op = "http.session"

	code := id.NormalizeCode(c.Param("id"))
	if !id.IsValidCode(string(code)) {
		h.respondError(c, apperr.Validation(op, "not a valid session code"), nil)
		return
	}
	snap, ok := h.registry.Lookup(code)
	if !ok {
		h.respondError(c, apperr.NotFound(op, "session %q not found", code), nil)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ExecuteRequest is the body of POST /execute. "code", "input" and "roomId"
// are accepted for older editor clients.
type ExecuteRequest struct {
	Language  string `json:"language"`
	Source    string `json:"source"`
	Code      string `json:"code"`
	Stdin     string `json:"stdin"`
	Input     string `json:"input"`
	SessionID string `json:"sessionId"`
	RoomID    string `json:"roomId"`
}

func (r ExecuteRequest) normalize() execution.Request {
	req := execution.Request{
		Language: strings.TrimSpace(r.Language),
		Source:   r.Source,
		Stdin:    r.Stdin,
	}
	if req.Source == "" {
		req.Source = r.Code
	}
	if req.Stdin == "" {
		req.Stdin = r.Input
	}
	sessionID := r.SessionID
	if sessionID == "" {
		sessionID = r.RoomID
	}
	if sessionID = strings.TrimSpace(sessionID); sessionID != "" {
		req.SessionID = id.NormalizeCode(sessionID)
	}
	return req
}

// Execute runs code in the sandbox. When the request names a session the
// result is also broadcast to its members as execution-output.
func (h *Handlers) Execute(c *gin.Context) {
	const op = "http.execute"

	var body ExecuteRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.respondError(c, apperr.Validation(op, "invalid request body: %v", err), nil)
		return
	}

	req := body.normalize()
	if req.Language == "" || req.Source == "" {
		h.respondError(c, apperr.Validation(op, "language and source are required"), nil)
		return
	}
	if req.SessionID != "" && !id.IsValidCode(string(req.SessionID)) {
		h.respondError(c, apperr.Validation(op, "sessionId is not a valid session code"), nil)
		return
	}
	if req.SessionID != "" && !h.registry.Exists(req.SessionID) {
		h.respondError(c, apperr.NotFound(op, "session %q not found", req.SessionID), nil)
		return
	}
	if h.sandbox == nil {
		h.respondError(c, apperr.Infra(op, nil, "execution unavailable"), nil)
		return
	}

	result, err := h.sandbox.Execute(c.Request.Context(), req)
	if err != nil {
		// Infra failures after provisioning still carry a result
		var partial interface{}
		if result != nil {
			partial = result
		}
		h.respondError(c, err, partial)
		return
	}

	if req.SessionID != "" {
		h.publish(req.SessionID, result)
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) publish(sessionID id.SessionID, result *execution.Result) {
	frame, err := ws.Encode(ws.MessageExecutionOutput, ws.ExecutionOutput{
		SessionID: sessionID,
		Result:    result,
	})
	if err != nil {
		h.logger.Error("Failed to encode execution output", zap.Error(err))
		return
	}
	report := h.router.Broadcast(sessionID, frame, "")
	h.logger.Debug("Published execution output",
		zap.String("session_id", string(sessionID)),
		zap.String("execution_id", string(result.ID)),
		zap.Int("delivered", report.Delivered),
	)
}
