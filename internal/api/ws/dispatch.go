package ws

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/SAISURYACHARAN89/codesync/internal/domain/broadcast"
	"github.com/SAISURYACHARAN89/codesync/internal/domain/execution"
	"github.com/SAISURYACHARAN89/codesync/internal/domain/session"
	"github.com/SAISURYACHARAN89/codesync/internal/shared/apperr"
	"github.com/SAISURYACHARAN89/codesync/internal/shared/id"
)

// dispatch decodes one frame and runs its handler to completion. Handler
// errors and panics become error frames; the connection stays open.
func (g *Gateway) dispatch(ctx context.Context, cl *client, data []byte, log *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic in websocket handler", zap.Any("panic", r), zap.Stack("stack"))
			cl.Deliver(errorFrame(apperr.Internal("ws.dispatch", fmt.Errorf("panic: %v", r))))
		}
	}()

	env, err := Decode(data)
	if err != nil {
		g.fail(cl, err, log)
		return
	}

	handler, ok := g.handlers[env.Type]
	if g.metrics != nil {
		label := string(env.Type)
		if !ok {
			label = "unknown"
		}
		g.metrics.RecordWSMessage("in", label)
	}
	if !ok {
		g.fail(cl, apperr.Validation("ws.dispatch", "unknown message type %q", env.Type), log)
		return
	}

	if err := handler(ctx, cl, env); err != nil {
		g.fail(cl, err, log)
	}
}

func (g *Gateway) fail(cl *client, err error, log *zap.Logger) {
	if apperr.KindOf(err) == apperr.KindInternal {
		log.Error("WebSocket handler failed", zap.Error(err))
	} else {
		log.Debug("WebSocket request rejected", zap.Error(err))
	}
	cl.Deliver(errorFrame(err))
}

// frame encodes an outbound frame, falling back to an internal error frame.
func (g *Gateway) frame(t MessageType, payload interface{}) []byte {
	data, err := Encode(t, payload)
	if err != nil {
		g.logger.Error("Failed to encode frame", zap.String("type", string(t)), zap.Error(err))
		return errorFrame(apperr.Internal("ws.encode", err))
	}
	if g.metrics != nil {
		g.metrics.RecordWSMessage("out", string(t))
	}
	return data
}

func (g *Gateway) announceDeparture(d session.Departure) {
	if d.Destroyed || len(d.Remaining) == 0 {
		return
	}
	g.router.Broadcast(d.SessionID,
		g.frame(MessageMemberLeft, MemberEvent{SessionID: d.SessionID, MemberID: d.MemberID}),
		d.MemberID)
}

// requireMember normalizes sessionID and checks the member belongs to it.
func (g *Gateway) requireMember(op string, sessionID id.SessionID, member id.MemberID) (id.SessionID, error) {
	if sessionID == "" {
		return "", apperr.Validation(op, "sessionId is required")
	}
	sid := id.NormalizeCode(string(sessionID))
	if !id.IsValidCode(string(sid)) {
		return "", apperr.Validation(op, "sessionId is not a valid session code")
	}
	if !g.registry.IsMember(sid, member) {
		return "", apperr.NotFound(op, "not a member of session %q", sid)
	}
	return sid, nil
}

func (g *Gateway) handleCreate(_ context.Context, cl *client, _ Envelope) error {
	sessionID, departure, err := g.registry.CreateSession(cl.member)
	if err != nil {
		return err
	}
	if departure != nil {
		g.announceDeparture(*departure)
	}

	cl.Deliver(g.frame(MessageSessionCreated, SessionState{
		SessionID: sessionID,
		Members:   []id.MemberID{cl.member},
	}))
	return nil
}

func (g *Gateway) handleJoin(_ context.Context, cl *client, env Envelope) error {
	const op = "ws.join-session"

	var req JoinRequest
	if err := decodePayload(env, &req); err != nil {
		return err
	}
	if req.SessionID == "" {
		return apperr.Validation(op, "sessionId is required")
	}
	sessionID := id.NormalizeCode(string(req.SessionID))
	if !id.IsValidCode(string(sessionID)) {
		return apperr.Validation(op, "sessionId is not a valid session code")
	}

	others, departure, err := g.registry.JoinSession(sessionID, cl.member)
	if errors.Is(err, apperr.ErrNotFound) {
		cl.Deliver(g.frame(MessageSessionNotFound, SessionNotFound{SessionID: sessionID}))
		return nil
	}
	if err != nil {
		return err
	}
	if departure != nil {
		g.announceDeparture(*departure)
	}

	if others == nil {
		others = []id.MemberID{}
	}
	cl.Deliver(g.frame(MessageSessionJoined, SessionState{SessionID: sessionID, Members: others}))
	g.router.Broadcast(sessionID,
		g.frame(MessageMemberJoined, MemberEvent{SessionID: sessionID, MemberID: cl.member}),
		cl.member)
	return nil
}

func (g *Gateway) handleLeave(_ context.Context, cl *client, _ Envelope) error {
	if departure, ok := g.registry.LeaveSession(cl.member); ok {
		g.announceDeparture(departure)
	}
	return nil
}

func (g *Gateway) handleCodeChange(_ context.Context, cl *client, env Envelope) error {
	var req CodeChange
	if err := decodePayload(env, &req); err != nil {
		return err
	}
	sessionID, err := g.requireMember("ws.code-change", req.SessionID, cl.member)
	if err != nil {
		return err
	}

	g.router.Broadcast(sessionID, g.frame(MessageDocumentUpdated, DocumentUpdated{
		SessionID: sessionID,
		Code:      req.Code,
		From:      cl.member,
	}), cl.member)
	return nil
}

func (g *Gateway) handleCursor(_ context.Context, cl *client, env Envelope) error {
	const op = "ws.cursor-update"

	var req CursorUpdate
	if err := decodePayload(env, &req); err != nil {
		return err
	}
	sessionID, err := g.requireMember(op, req.SessionID, cl.member)
	if err != nil {
		return err
	}
	if req.Position.Line < 0 || req.Position.Column < 0 {
		return apperr.Validation(op, "cursor position must not be negative")
	}
	if _, err := g.registry.RecordCursor(cl.member, req.Position); err != nil {
		return err
	}

	g.router.Broadcast(sessionID, g.frame(MessageCursorUpdated, CursorUpdated{
		SessionID: sessionID,
		MemberID:  cl.member,
		Position:  req.Position,
	}), cl.member)
	return nil
}

func (g *Gateway) handleSignal(_ context.Context, cl *client, env Envelope) error {
	const op = "ws.signal"

	var req SignalRequest
	if err := decodePayload(env, &req); err != nil {
		return err
	}
	if req.To == "" {
		return apperr.Validation(op, "signal target is required")
	}
	sessionID, err := g.requireMember(op, req.SessionID, cl.member)
	if err != nil {
		return err
	}

	result := g.router.Unicast(sessionID, req.To, g.frame(MessageSignal, SignalRelay{
		SessionID: sessionID,
		From:      cl.member,
		Signal:    req.Signal,
	}))
	if result != broadcast.Delivered {
		g.logger.Debug("Signal not delivered",
			zap.String("session_id", string(sessionID)),
			zap.String("to", string(req.To)),
			zap.Stringer("result", result),
		)
	}
	return nil
}

func (g *Gateway) handlePing(_ context.Context, cl *client, _ Envelope) error {
	cl.Deliver(g.frame(MessagePong, nil))
	return nil
}

// handleExecute validates membership and hands the request to a goroutine so
// the read loop is never blocked by a running program.
func (g *Gateway) handleExecute(ctx context.Context, cl *client, env Envelope) error {
	const op = "ws.execute-code"

	var req ExecuteRequest
	if err := decodePayload(env, &req); err != nil {
		return err
	}
	if g.executor == nil {
		return apperr.Infra(op, errors.New("no executor configured"), "execution unavailable")
	}

	execReq := req.toRequest(cl.member)
	if req.SessionID != "" {
		sessionID, err := g.requireMember(op, req.SessionID, cl.member)
		if err != nil {
			return err
		}
		execReq.SessionID = sessionID
	}

	if !g.startExecution() {
		return apperr.Infra(op, errors.New("gateway closed"), "server shutting down")
	}
	go g.runExecution(ctx, execReq)
	return nil
}

func (g *Gateway) startExecution() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false
	}
	g.wg.Add(1)
	return true
}

// runExecution sends the result to the requester as execution-result and to
// the rest of the session as execution-output.
func (g *Gateway) runExecution(ctx context.Context, req execution.Request) {
	defer g.wg.Done()

	log := g.logger.With(
		zap.String("member_id", string(req.MemberID)),
		zap.String("language", req.Language),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic in execution", zap.Any("panic", r), zap.Stack("stack"))
			g.router.Send(req.MemberID, errorFrame(apperr.Internal("ws.execute-code", fmt.Errorf("panic: %v", r))))
		}
	}()

	span, ctx := g.tracer.StartSpan(ctx, "ws.execute-code")
	span.SetTag("member_id", string(req.MemberID))
	span.SetTag("language", req.Language)
	defer g.tracer.Submit(span)

	result, err := g.executor.Execute(ctx, req)
	if err != nil {
		span.SetError(err)
	}
	if result == nil {
		g.router.Send(req.MemberID, errorFrame(err))
		return
	}
	if err != nil {
		log.Warn("Execution failed", zap.String("execution_id", string(result.ID)), zap.Error(err))
	}

	g.router.Send(req.MemberID, g.frame(MessageExecutionResult, result))
	if req.SessionID != "" {
		g.router.Broadcast(req.SessionID, g.frame(MessageExecutionOutput, ExecutionOutput{
			SessionID: req.SessionID,
			From:      req.MemberID,
			Result:    result,
		}), req.MemberID)
	}
}
