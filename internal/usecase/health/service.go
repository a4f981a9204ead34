package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates the service answers but cannot reconcile.
	Degraded Status = "degraded"
	// Unhealthy indicates storage is unavailable.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
	// CheckStopped indicates the scheduler loop is not running.
	CheckStopped CheckResult = "stopped"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	storage   StoragePinger
	source    SourceChecker
	scheduler SchedulerStatus
}

// New creates a Service. source and scheduler can be nil.
func New(storage StoragePinger, source SourceChecker, scheduler SchedulerStatus) *Service {
	return &Service{storage: storage, source: source, scheduler: scheduler}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)
	status := Healthy

	if err := s.storage.Ping(ctx); err != nil {
		checks["storage"] = CheckError
		status = Unhealthy
	} else {
		checks["storage"] = CheckOK
	}

	if s.source != nil {
		if err := s.source.HealthCheck(ctx); err != nil {
			checks["source"] = CheckError
		} else {
			checks["source"] = CheckOK
		}
	}

	if s.scheduler != nil {
		if s.scheduler.Status().Running {
			checks["scheduler"] = CheckOK
		} else {
			checks["scheduler"] = CheckStopped
		}
	}

	if status == Healthy {
		for _, v := range checks {
			if v != CheckOK {
				status = Degraded
				break
			}
		}
	}

	return Report{Status: status, Checks: checks}
}
