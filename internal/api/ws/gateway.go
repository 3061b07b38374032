package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/SAISURYACHARAN89/codesync/internal/domain/broadcast"
	"github.com/SAISURYACHARAN89/codesync/internal/domain/execution"
	"github.com/SAISURYACHARAN89/codesync/internal/domain/session"
	"github.com/SAISURYACHARAN89/codesync/internal/infrastructure/config"
	"github.com/SAISURYACHARAN89/codesync/internal/infrastructure/monitoring"
	"github.com/SAISURYACHARAN89/codesync/internal/infrastructure/tracing"
	"github.com/SAISURYACHARAN89/codesync/internal/shared/apperr"
	"github.com/SAISURYACHARAN89/codesync/internal/shared/id"
)

// Executor runs code on behalf of a member. Implemented by execution.Sandbox.
type Executor interface {
	Execute(ctx context.Context, req execution.Request) (*execution.Result, error)
}

// Deps are the collaborators of a Gateway.
type Deps struct {
	Registry *session.Registry
	Router   *broadcast.Router
	Executor Executor // optional; execute-code fails with infra when nil
	Metrics  *monitoring.Metrics
	Tracer   *tracing.Tracer
	Logger   *zap.Logger
}

type handlerFunc func(ctx context.Context, cl *client, env Envelope) error

// Gateway terminates websocket connections and turns frames into registry,
// router and sandbox calls.
type Gateway struct {
	cfg      config.GatewayConfig
	upgrader websocket.Upgrader

	registry *session.Registry
	router   *broadcast.Router
	executor Executor
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
	logger   *zap.Logger
	handlers map[MessageType]handlerFunc

	// ctx outlives connections; executions run under it so a disconnect
	// does not cancel them.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	clients map[id.MemberID]*client
	wg      sync.WaitGroup
}

// New creates a gateway. origins restricts the Origin header of upgrade
// requests; empty or "*" allows any origin.
func New(cfg config.GatewayConfig, origins []string, deps Deps) *Gateway {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = (cfg.PongWait * 9) / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    1024,
			WriteBufferSize:   1024,
			EnableCompression: cfg.Compression,
			CheckOrigin:       originChecker(origins),
		},
		registry: deps.Registry,
		router:   deps.Router,
		executor: deps.Executor,
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		logger:   deps.Logger,
		ctx:      ctx,
		cancel:   cancel,
		clients:  make(map[id.MemberID]*client),
	}
	g.handlers = map[MessageType]handlerFunc{
		MessageCreateSession: g.handleCreate,
		MessageJoinSession:   g.handleJoin,
		MessageLeaveSession:  g.handleLeave,
		MessageCodeChange:    g.handleCodeChange,
		MessageCursorUpdate:  g.handleCursor,
		MessageSignal:        g.handleSignal,
		MessageExecuteCode:   g.handleExecute,
		MessagePing:          g.handlePing,
	}
	return g
}

func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	allowAll := len(origins) == 0
	for _, o := range origins {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin
			return true
		}
		return allowed[strings.ToLower(strings.TrimRight(origin, "/"))]
	}
}

// HandleConnection upgrades the request and serves the connection until it
// closes.
func (g *Gateway) HandleConnection(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		g.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	traceID, _ := tracing.ExtractTraceContext(c.Request.Header)
	if traceID == "" {
		traceID = id.NewTraceID()
	}
	g.serve(tracing.WithTrace(g.ctx, traceID, ""), conn)
}

func (g *Gateway) serve(ctx context.Context, conn *websocket.Conn) {
	limit := rate.Inf
	if g.cfg.MessagesPerSecond > 0 {
		limit = rate.Limit(g.cfg.MessagesPerSecond)
	}
	burst := g.cfg.MessageBurst
	if burst <= 0 {
		burst = 1
	}

	cl := newClient(id.NewMemberID(), conn, g.cfg.SendBuffer, rate.NewLimiter(limit, burst))
	if !g.register(cl) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(g.cfg.WriteWait))
		_ = conn.Close()
		return
	}
	defer g.wg.Done()

	log := g.logger.With(zap.String("member_id", string(cl.member)))
	g.router.Attach(cl.member, cl)
	if g.metrics != nil {
		g.metrics.IncWSConnections()
	}
	log.Debug("WebSocket connected", zap.String("trace_id", string(tracing.GetTraceID(ctx))))

	cl.Deliver(g.frame(MessageConnected, Connected{MemberID: cl.member}))

	written := make(chan struct{})
	go func() {
		defer close(written)
		g.writePump(cl)
	}()

	cl.Close(g.readPump(ctx, cl, log))
	g.disconnect(cl)
	<-written

	reason := cl.Reason()
	if g.metrics != nil {
		g.metrics.DecWSConnections(reason)
	}
	log.Debug("WebSocket disconnected", zap.String("reason", reason))
}

func (g *Gateway) register(cl *client) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false
	}
	g.clients[cl.member] = cl
	g.wg.Add(1)
	return true
}

// disconnect detaches the member and tells the rest of its session.
func (g *Gateway) disconnect(cl *client) {
	g.router.Detach(cl.member)

	g.mu.Lock()
	delete(g.clients, cl.member)
	g.mu.Unlock()

	if departure, ok := g.registry.LeaveSession(cl.member); ok {
		g.announceDeparture(departure)
	}
}

// readPump handles frames one at a time until the connection fails and
// returns the close reason.
func (g *Gateway) readPump(ctx context.Context, cl *client, log *zap.Logger) string {
	if g.cfg.MaxMessageBytes > 0 {
		cl.conn.SetReadLimit(g.cfg.MaxMessageBytes)
	}
	_ = cl.conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	})

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && (closeErr.Code == websocket.CloseNormalClosure ||
				closeErr.Code == websocket.CloseGoingAway ||
				closeErr.Code == websocket.CloseNoStatusReceived) {
				return reasonClosed
			}
			log.Debug("WebSocket read failed", zap.Error(err))
			return reasonReadError
		}

		if !cl.limiter.Allow() {
			if g.metrics != nil {
				g.metrics.RecordWSMessage("in", "rate-limited")
			}
			cl.Deliver(errorFrame(apperr.Validation("ws.read", "rate limit exceeded")))
			continue
		}

		g.dispatch(ctx, cl, data, log)
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
// It exits once the queue is closed and drained, or on the first write error.
func (g *Gateway) writePump(cl *client) {
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			if !ok {
				reason := cl.Reason()
				_ = cl.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(closeCode(reason), reason))
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				cl.Close(reasonWriteError)
				return
			}

		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cl.Close(reasonWriteError)
				return
			}
		}
	}
}

// Connections returns the number of open connections.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// Shutdown closes every connection, cancels running executions and waits
// for connection and execution goroutines to finish or ctx to expire.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	clients := make([]*client, 0, len(g.clients))
	for _, cl := range g.clients {
		clients = append(clients, cl)
	}
	g.mu.Unlock()

	g.cancel()
	for _, cl := range clients {
		cl.Close(reasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
