/*
Package ws implements the session gateway: the websocket endpoint editors
connect to.

Each connection gets a fresh member id, a read loop that handles frames one
at a time, and a write loop that drains a bounded send queue. The queue is the
member's broadcast.Handle; a peer that lets it fill up is disconnected.

# Frames

Every frame is a JSON envelope:

	{"type": "code-change", "payload": {"sessionId": "K3Q9ZD", "code": "print(1)"}}

Message Types (Client → Server):
  - create-session: create a session and join it
  - join-session: {sessionId}
  - leave-session: leave the current session
  - code-change: {sessionId, code}, relayed to the other members
  - cursor-update: {sessionId, position}, recorded and relayed
  - signal: {sessionId, to, signal}, relayed to one member
  - execute-code: {sessionId?, language, source, stdin?}
  - ping

Message Types (Server → Client):
  - connected: {memberId}
  - session-created, session-joined: {sessionId, members}
  - session-not-found: {sessionId}
  - member-joined, member-left: {sessionId, memberId}
  - document-updated: {sessionId, code, from}
  - cursor-updated: {sessionId, memberId, position}
  - signal: {sessionId, from, signal}
  - execution-result: the result, to the requester
  - execution-output: {sessionId, from, result}, to the rest of the session
  - pong
  - error: {code, message}

Errors never close the connection. The error code is the apperr kind name
(validation, not-found, unsupported-language, timeout, infra, internal).

# Example Usage

	gateway := ws.New(cfg.Gateway, cfg.CORS.Origins, ws.Deps{
		Registry: registry,
		Router:   router,
		Executor: sandbox,
		Metrics:  metrics,
		Logger:   logger.Component("gateway"),
	})
	engine.GET("/ws", gateway.HandleConnection)
*/
package ws
