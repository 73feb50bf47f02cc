package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates total failure.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	bus      BusPinger
	listener ListenerChecker
}

// New creates a Service. listener can be nil.
func New(bus BusPinger, listener ListenerChecker) *Service {
	return &Service{bus: bus, listener: listener}
}

// Check runs health checks against all components.
// A bus failure makes the node unhealthy; a stopped listener only degrades it,
// since the node can still coordinate its own queries.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	busOK := s.bus.Ping(ctx) == nil
	if busOK {
		checks["bus"] = CheckOK
	} else {
		checks["bus"] = CheckError
	}

	if s.listener != nil {
		if s.listener.Running() {
			checks["listener"] = CheckOK
		} else {
			checks["listener"] = CheckError
		}
	}

	status := Healthy
	if !busOK {
		status = Unhealthy
	} else {
		for _, v := range checks {
			if v == CheckError {
				status = Degraded
				break
			}
		}
	}

	return Report{Status: status, Checks: checks}
}
