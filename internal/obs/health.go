package obs

import "context"

// CheckResult is the outcome of a single subsystem health check.
type CheckResult struct {
	Healthy bool
	Message string
}

// HealthStatus aggregates every subsystem's CheckResult.
type HealthStatus struct {
	Status string
	Checks map[string]*CheckResult
}

// Subsystem is checked by HealthChecker.Check; the storage adapters and
// the blob store each implement it.
type Subsystem interface {
	Name() string
	HealthCheck(ctx context.Context) *CheckResult
}

// HealthChecker aggregates health across every registered subsystem.
type HealthChecker struct {
	subsystems []Subsystem
}

// NewHealthChecker creates a health checker over the given subsystems.
func NewHealthChecker(subsystems ...Subsystem) *HealthChecker {
	return &HealthChecker{subsystems: subsystems}
}

// Check runs every subsystem's check and rolls them up into one status.
// "degraded" is reported if any subsystem is unhealthy; the database is
// never reported as fully down by this layer, since the coordinator itself
// being reachable means at least one subsystem is working.
func (hc *HealthChecker) Check(ctx context.Context) *HealthStatus {
	status := &HealthStatus{Status: "healthy", Checks: make(map[string]*CheckResult)}
	for _, s := range hc.subsystems {
		result := s.HealthCheck(ctx)
		status.Checks[s.Name()] = result
		if !result.Healthy {
			status.Status = "degraded"
		}
	}
	if len(hc.subsystems) == 0 {
		status.Checks["basic"] = &CheckResult{Healthy: true, Message: "no subsystems registered"}
	}
	return status
}
