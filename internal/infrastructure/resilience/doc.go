/*
Package resilience provides a circuit breaker for dependencies that can fail
independently of the request being served, such as the container engine or a
remote execution runner.

# Overview

A breaker counts failures of calls made through it. Once ReadyToTrip says the
dependency is unhealthy the breaker opens and rejects calls immediately with
ErrCircuitOpen, until Timeout elapses and a limited number of trial calls are
let through in the half-open state.

Settings.IsSuccessful lets callers decide which errors say something about
the dependency. The sandbox uses it so that user programs failing to compile
or timing out never trip the breaker guarding the container engine.

# Usage

	breaker := resilience.New("container", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	id, err := resilience.Execute(breaker, func() (string, error) {
		return engine.Create(ctx, spec)
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open
*/
package resilience
