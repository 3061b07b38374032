// Package session tracks live collaboration sessions and their members.
//
// A session is identified by a short human-shareable code and exists only
// while it has at least one member. The Registry is the single owner of the
// session table and the member → session index; the gateway consults it for
// every join, leave and cursor update, and the broadcast router reads
// membership from it.
//
// Invariants:
//   - a member belongs to at most one session
//   - a live session is never empty; the last leave destroys it
//   - a newly allocated code never equals the code of a live session
//
// Example Usage:
//
//	reg := session.NewRegistry(session.Options{Logger: log})
//	code, _, err := reg.CreateSession(member)
//	others, _, err := reg.JoinSession(code, other)
//	dep, ok := reg.LeaveSession(other)
package session
