package ws

import (
	"encoding/json"

	"github.com/bytedance/sonic"

	"github.com/SAISURYACHARAN89/codesync/internal/domain/execution"
	"github.com/SAISURYACHARAN89/codesync/internal/domain/session"
	"github.com/SAISURYACHARAN89/codesync/internal/shared/apperr"
	"github.com/SAISURYACHARAN89/codesync/internal/shared/id"
)

// MessageType is the "type" field of every frame.
type MessageType string

const (
	// Client -> Server
	MessageCreateSession MessageType = "create-session"
	MessageJoinSession   MessageType = "join-session"
	MessageLeaveSession  MessageType = "leave-session"
	MessageCodeChange    MessageType = "code-change"
	MessageCursorUpdate  MessageType = "cursor-update"
	MessageSignal        MessageType = "signal"
	MessageExecuteCode   MessageType = "execute-code"
	MessagePing          MessageType = "ping"

	// Server -> Client
	MessageConnected       MessageType = "connected"
	MessageSessionCreated  MessageType = "session-created"
	MessageSessionJoined   MessageType = "session-joined"
	MessageSessionNotFound MessageType = "session-not-found"
	MessageMemberJoined    MessageType = "member-joined"
	MessageMemberLeft      MessageType = "member-left"
	MessageDocumentUpdated MessageType = "document-updated"
	MessageCursorUpdated   MessageType = "cursor-updated"
	MessageExecutionOutput MessageType = "execution-output"
	MessageExecutionResult MessageType = "execution-result"
	MessagePong            MessageType = "pong"
	MessageError           MessageType = "error"
)

// Envelope is the wire form of a frame.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound payloads

type JoinRequest struct {
	SessionID id.SessionID `json:"sessionId"`
}

type CodeChange struct {
	SessionID id.SessionID `json:"sessionId"`
	Code      string       `json:"code"`
}

type CursorUpdate struct {
	SessionID id.SessionID     `json:"sessionId"`
	Position  session.Position `json:"position"`
}

type SignalRequest struct {
	SessionID id.SessionID    `json:"sessionId"`
	To        id.MemberID     `json:"to"`
	Signal    json.RawMessage `json:"signal"`
}

// ExecuteRequest accepts "code" and "input" as aliases of "source" and
// "stdin" for older editor clients.
type ExecuteRequest struct {
	SessionID id.SessionID `json:"sessionId,omitempty"`
	Language  string       `json:"language"`
	Source    string       `json:"source,omitempty"`
	Code      string       `json:"code,omitempty"`
	Stdin     string       `json:"stdin,omitempty"`
	Input     string       `json:"input,omitempty"`
}

func (r ExecuteRequest) toRequest(member id.MemberID) execution.Request {
	source := r.Source
	if source == "" {
		source = r.Code
	}
	stdin := r.Stdin
	if stdin == "" {
		stdin = r.Input
	}
	return execution.Request{
		Language:  r.Language,
		Source:    source,
		Stdin:     stdin,
		SessionID: r.SessionID,
		MemberID:  member,
	}
}

// Outbound payloads

type Connected struct {
	MemberID id.MemberID `json:"memberId"`
}

type SessionState struct {
	SessionID id.SessionID  `json:"sessionId"`
	Members   []id.MemberID `json:"members"`
}

type SessionNotFound struct {
	SessionID id.SessionID `json:"sessionId"`
}

type MemberEvent struct {
	SessionID id.SessionID `json:"sessionId"`
	MemberID  id.MemberID  `json:"memberId"`
}

type DocumentUpdated struct {
	SessionID id.SessionID `json:"sessionId"`
	Code      string       `json:"code"`
	From      id.MemberID  `json:"from"`
}

type CursorUpdated struct {
	SessionID id.SessionID     `json:"sessionId"`
	MemberID  id.MemberID      `json:"memberId"`
	Position  session.Position `json:"position"`
}

type SignalRelay struct {
	SessionID id.SessionID    `json:"sessionId"`
	From      id.MemberID     `json:"from"`
	Signal    json.RawMessage `json:"signal"`
}

type ExecutionOutput struct {
	SessionID id.SessionID      `json:"sessionId"`
	From      id.MemberID       `json:"from"`
	Result    *execution.Result `json:"result"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type outbound struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Encode renders a frame.
func Encode(t MessageType, payload interface{}) ([]byte, error) {
	return sonic.Marshal(outbound{Type: t, Payload: payload})
}

// Decode parses a frame. The payload is left raw for the handler.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return Envelope{}, apperr.Validation("ws.decode", "malformed frame: %v", err)
	}
	if env.Type == "" {
		return Envelope{}, apperr.Validation("ws.decode", "frame has no type")
	}
	return env, nil
}

// decodePayload unmarshals an envelope payload into v.
func decodePayload(env Envelope, v interface{}) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return apperr.Validation("ws."+string(env.Type), "missing payload")
	}
	if err := sonic.Unmarshal(env.Payload, v); err != nil {
		return apperr.Validation("ws."+string(env.Type), "malformed payload: %v", err)
	}
	return nil
}

// errorFrame renders err as an error frame with its taxonomy code.
func errorFrame(err error) []byte {
	frame, encErr := Encode(MessageError, ErrorPayload{
		Code:    apperr.KindOf(err).String(),
		Message: apperr.Message(err),
	})
	if encErr != nil {
		return []byte(`{"type":"error","payload":{"code":"internal","message":"internal error"}}`)
	}
	return frame
}
