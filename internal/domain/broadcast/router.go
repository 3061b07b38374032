package broadcast

import (
	"sync"

	"go.uber.org/zap"

	"github.com/SAISURYACHARAN89/codesync/internal/infrastructure/monitoring"
	"github.com/SAISURYACHARAN89/codesync/internal/shared/id"
)

// Handle is the delivery endpoint of one connected member.
// Deliver must not block; it reports false when the frame was not queued.
type Handle interface {
	Deliver(frame []byte) bool
}

// HandleFunc adapts a function to Handle.
type HandleFunc func(frame []byte) bool

// Deliver calls f(frame).
func (f HandleFunc) Deliver(frame []byte) bool { return f(frame) }

// Membership answers who is in a session. Implemented by session.Registry.
type Membership interface {
	Members(sessionID id.SessionID) []id.MemberID
	IsMember(sessionID id.SessionID, member id.MemberID) bool
}

// Report summarizes one broadcast.
type Report struct {
	Delivered int
	Dropped   []id.MemberID
}

// UnicastResult is the outcome of a Unicast
type UnicastResult int

const (
	Delivered UnicastResult = iota
	TargetNotInSession
	TargetDropped
)

func (r UnicastResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case TargetNotInSession:
		return "target-not-in-session"
	case TargetDropped:
		return "target-dropped"
	default:
		return "unknown"
	}
}

const (
	kindBroadcast = "broadcast"
	kindUnicast   = "unicast"
)

// Router fans frames out to session members through their handles.
type Router struct {
	membership Membership
	metrics    *monitoring.Metrics
	logger     *zap.Logger

	mu      sync.RWMutex
	handles map[id.MemberID]Handle
}

// NewRouter creates a router reading membership from m.
func NewRouter(m Membership, metrics *monitoring.Metrics, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		membership: m,
		metrics:    metrics,
		logger:     logger,
		handles:    make(map[id.MemberID]Handle),
	}
}

// Attach registers the handle for member, replacing any previous one.
func (r *Router) Attach(member id.MemberID, h Handle) {
	r.mu.Lock()
	r.handles[member] = h
	r.mu.Unlock()
}

// Detach forgets member's handle. Safe to call more than once.
func (r *Router) Detach(member id.MemberID) {
	r.mu.Lock()
	delete(r.handles, member)
	r.mu.Unlock()
}

// Attached returns the number of attached handles.
func (r *Router) Attached() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Broadcast delivers frame to every member of the session except exclude.
// Members without a handle are skipped; members whose handle refuses the
// frame are listed in Report.Dropped so the caller can disconnect them.
func (r *Router) Broadcast(sessionID id.SessionID, frame []byte, exclude id.MemberID) Report {
	members := r.membership.Members(sessionID)

	var report Report
	r.mu.RLock()
	for _, m := range members {
		if m == exclude {
			continue
		}
		h, ok := r.handles[m]
		if !ok {
			continue
		}
		if h.Deliver(frame) {
			report.Delivered++
		} else {
			report.Dropped = append(report.Dropped, m)
		}
	}
	r.mu.RUnlock()

	if len(report.Dropped) > 0 {
		r.logger.Warn("Dropped broadcast frames",
			zap.String("session_id", string(sessionID)),
			zap.Int("dropped", len(report.Dropped)),
		)
	}
	if r.metrics != nil {
		r.metrics.RecordDelivery(kindBroadcast, report.Delivered, len(report.Dropped))
	}
	return report
}

// Unicast delivers frame to target only if target is a member of sessionID.
func (r *Router) Unicast(sessionID id.SessionID, target id.MemberID, frame []byte) UnicastResult {
	if !r.membership.IsMember(sessionID, target) {
		return TargetNotInSession
	}

	r.mu.RLock()
	h, ok := r.handles[target]
	r.mu.RUnlock()
	if !ok {
		return TargetNotInSession
	}

	result := Delivered
	if !h.Deliver(frame) {
		result = TargetDropped
	}
	if r.metrics != nil {
		if result == Delivered {
			r.metrics.RecordDelivery(kindUnicast, 1, 0)
		} else {
			r.metrics.RecordDelivery(kindUnicast, 0, 1)
		}
	}
	return result
}

// Send delivers frame to member regardless of session. Used for replies.
func (r *Router) Send(member id.MemberID, frame []byte) bool {
	r.mu.RLock()
	h, ok := r.handles[member]
	r.mu.RUnlock()
	return ok && h.Deliver(frame)
}
