package session

import "github.com/SAISURYACHARAN89/codesync/internal/infrastructure/monitoring"

type metricsObserver struct {
	m *monitoring.Metrics
}

// MetricsObserver feeds registry events into Prometheus collectors.
func MetricsObserver(m *monitoring.Metrics) Observer {
	return metricsObserver{m: m}
}

func (o metricsObserver) SessionCreated() { o.m.IncSessionsCreated() }
func (o metricsObserver) CodeCollision()  { o.m.IncCodeCollisions() }
func (o metricsObserver) Occupancy(s Stats) {
	o.m.SetSessions(s.Sessions, s.Members)
}
