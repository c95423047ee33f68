package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates unreachable peers; searches report their splits as failed.
	Degraded Status = "degraded"
	// Unhealthy indicates the metastore is down and no search can be planned.
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

// PeerCheckPrefix prefixes the check name of every peer node.
const PeerCheckPrefix = "node:"

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	metastore MetastorePinger
	peers     PeerPinger
}

// New creates a Service. peers can be nil.
func New(metastore MetastorePinger, peers PeerPinger) *Service {
	return &Service{metastore: metastore, peers: peers}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)
	status := Healthy

	if s.peers != nil {
		for node, err := range s.peers.Ping(ctx) {
			if err != nil {
				checks[PeerCheckPrefix+node] = CheckError
				status = Degraded
			} else {
				checks[PeerCheckPrefix+node] = CheckOK
			}
		}
	}

	if err := s.metastore.Ping(ctx); err != nil {
		checks["metastore"] = CheckError
		status = Unhealthy
	} else {
		checks["metastore"] = CheckOK
	}

	return Report{Status: status, Checks: checks}
}
