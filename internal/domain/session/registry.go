package session

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SAISURYACHARAN89/codesync/internal/shared/apperr"
	"github.com/SAISURYACHARAN89/codesync/internal/shared/id"
)

// Position is a cursor location in the shared document.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Departure describes the effect of a member leaving a session.
type Departure struct {
	SessionID id.SessionID
	MemberID  id.MemberID
	Remaining []id.MemberID
	Destroyed bool
}

// Snapshot is a read-only copy of a session's state.
type Snapshot struct {
	ID        id.SessionID             `json:"sessionId"`
	Members   []id.MemberID            `json:"members"`
	Cursors   map[id.MemberID]Position `json:"cursors,omitempty"`
	CreatedAt time.Time                `json:"createdAt"`
}

// Stats summarizes registry occupancy.
type Stats struct {
	Sessions int `json:"sessions"`
	Members  int `json:"members"`
}

// Observer is notified after every mutation with the new occupancy.
// Used to feed gauges; called with the registry lock released.
type Observer interface {
	SessionCreated()
	CodeCollision()
	Occupancy(Stats)
}

type session struct {
	id        id.SessionID
	members   []id.MemberID
	cursors   map[id.MemberID]Position
	createdAt time.Time
}

func (s *session) indexOf(member id.MemberID) int {
	for i, m := range s.members {
		if m == member {
			return i
		}
	}
	return -1
}

func (s *session) others(exclude id.MemberID) []id.MemberID {
	out := make([]id.MemberID, 0, len(s.members))
	for _, m := range s.members {
		if m != exclude {
			out = append(out, m)
		}
	}
	return out
}

// Options configures a Registry.
type Options struct {
	// NewCode produces candidate session codes; defaults to 6-char random codes
	NewCode id.CodeFunc
	// MaxAttempts bounds the collision retry loop
	MaxAttempts int
	Observer    Observer
	Logger      *zap.Logger
	Now         func() time.Time
}

// Registry owns all live sessions and the member → session index.
// All mutations are serialized by a single mutex.
type Registry struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*session
	memberOf map[id.MemberID]id.SessionID

	newCode     id.CodeFunc
	maxAttempts int
	observer    Observer
	logger      *zap.Logger
	now         func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry(opts Options) *Registry {
	if opts.NewCode == nil {
		opts.NewCode = id.RandomCode(id.DefaultCodeLength)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 16
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Registry{
		sessions:    make(map[id.SessionID]*session),
		memberOf:    make(map[id.MemberID]id.SessionID),
		newCode:     opts.NewCode,
		maxAttempts: opts.MaxAttempts,
		observer:    opts.Observer,
		logger:      opts.Logger,
		now:         opts.Now,
	}
}

// CreateSession allocates a session whose code is not used by any live
// session and attaches creator as its first member. If creator was in another
// session it leaves it first; that departure is returned so the caller can
// notify the remaining members.
func (r *Registry) CreateSession(creator id.MemberID) (id.SessionID, *Departure, error) {
	r.mu.Lock()

	var (
		code       id.SessionID
		collisions int
	)
	for attempt := 0; ; attempt++ {
		if attempt == r.maxAttempts {
			r.mu.Unlock()
			r.notifyCollisions(collisions)
			return "", nil, apperr.Internal("session.create",
				fmt.Errorf("no free session code after %d attempts", r.maxAttempts))
		}

		candidate, err := r.newCode()
		if err != nil {
			r.mu.Unlock()
			r.notifyCollisions(collisions)
			return "", nil, apperr.Internal("session.create", err)
		}
		candidate = id.NormalizeCode(string(candidate))
		if _, taken := r.sessions[candidate]; !taken {
			code = candidate
			break
		}
		collisions++
	}

	departure := r.leaveLocked(creator)

	r.sessions[code] = &session{
		id:        code,
		members:   []id.MemberID{creator},
		cursors:   make(map[id.MemberID]Position),
		createdAt: r.now(),
	}
	r.memberOf[creator] = code
	stats := r.statsLocked()
	r.mu.Unlock()

	r.notifyCollisions(collisions)
	if r.observer != nil {
		r.observer.SessionCreated()
		r.observer.Occupancy(stats)
	}
	r.logger.Debug("Session created",
		zap.String("session_id", string(code)),
		zap.String("member_id", string(creator)),
		zap.Int("collisions", collisions),
	)

	return code, departure, nil
}

// JoinSession adds member to the session and returns the other members in
// join order. Joining the session the member is already in is a no-op that
// still returns the other members. A member in a different session leaves it
// first; that departure is returned.
func (r *Registry) JoinSession(sessionID id.SessionID, member id.MemberID) ([]id.MemberID, *Departure, error) {
	sessionID = id.NormalizeCode(string(sessionID))

	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return nil, nil, apperr.NotFound("session.join", "session %q not found", sessionID)
	}

	var departure *Departure
	if current, in := r.memberOf[member]; in && current != sessionID {
		departure = r.leaveLocked(member)
	}
	if s.indexOf(member) < 0 {
		s.members = append(s.members, member)
		r.memberOf[member] = sessionID
	}
	others := s.others(member)
	stats := r.statsLocked()
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.Occupancy(stats)
	}
	return others, departure, nil
}

// LeaveSession removes member from its session, destroying the session if it
// becomes empty. Returns false when the member was in no session.
func (r *Registry) LeaveSession(member id.MemberID) (Departure, bool) {
	r.mu.Lock()
	departure := r.leaveLocked(member)
	stats := r.statsLocked()
	r.mu.Unlock()

	if departure == nil {
		return Departure{}, false
	}
	if r.observer != nil {
		r.observer.Occupancy(stats)
	}
	if departure.Destroyed {
		r.logger.Debug("Session destroyed", zap.String("session_id", string(departure.SessionID)))
	}
	return *departure, true
}

func (r *Registry) leaveLocked(member id.MemberID) *Departure {
	sessionID, ok := r.memberOf[member]
	if !ok {
		return nil
	}
	delete(r.memberOf, member)

	s := r.sessions[sessionID]
	if i := s.indexOf(member); i >= 0 {
		s.members = append(s.members[:i], s.members[i+1:]...)
	}
	delete(s.cursors, member)

	d := &Departure{SessionID: sessionID, MemberID: member}
	if len(s.members) == 0 {
		delete(r.sessions, sessionID)
		d.Destroyed = true
		return d
	}
	d.Remaining = append([]id.MemberID(nil), s.members...)
	return d
}

// RecordCursor stores the member's latest cursor position.
func (r *Registry) RecordCursor(member id.MemberID, pos Position) (id.SessionID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID, ok := r.memberOf[member]
	if !ok {
		return "", apperr.NotFound("session.cursor", "member is not in a session")
	}
	r.sessions[sessionID].cursors[member] = pos
	return sessionID, nil
}

// Members returns the members of a session in join order, or nil.
func (r *Registry) Members(sessionID id.SessionID) []id.MemberID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	return append([]id.MemberID(nil), s.members...)
}

// IsMember reports whether member currently belongs to sessionID.
func (r *Registry) IsMember(sessionID id.SessionID, member id.MemberID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	current, ok := r.memberOf[member]
	return ok && current == sessionID
}

// SessionOf returns the session the member belongs to.
func (r *Registry) SessionOf(member id.MemberID) (id.SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessionID, ok := r.memberOf[member]
	return sessionID, ok
}

// Exists reports whether a live session has this id.
func (r *Registry) Exists(sessionID id.SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.sessions[id.NormalizeCode(string(sessionID))]
	return ok
}

// Lookup returns a copy of the session state.
func (r *Registry) Lookup(sessionID id.SessionID) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id.NormalizeCode(string(sessionID))]
	if !ok {
		return Snapshot{}, false
	}

	cursors := make(map[id.MemberID]Position, len(s.cursors))
	for m, p := range s.cursors {
		cursors[m] = p
	}
	return Snapshot{
		ID:        s.id,
		Members:   append([]id.MemberID(nil), s.members...),
		Cursors:   cursors,
		CreatedAt: s.createdAt,
	}, true
}

// Stats returns current occupancy.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statsLocked()
}

func (r *Registry) statsLocked() Stats {
	return Stats{Sessions: len(r.sessions), Members: len(r.memberOf)}
}

func (r *Registry) notifyCollisions(n int) {
	if n == 0 {
		return
	}
	r.logger.Warn("Session code collision", zap.Int("collisions", n))
	if r.observer != nil {
		for i := 0; i < n; i++ {
			r.observer.CodeCollision()
		}
	}
}
