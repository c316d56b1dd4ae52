package healthcheck

// HealthcheckFunc returns a status message, and whether the check is healthy.
// Healthchecks must not block; downstream dependencies should be reported on
// via a watchdog style, and not by making a roundtrip.
type HealthcheckFunc func() (string, HealthyStatus)

type HealthyStatus bool

const (
	Healthy   = HealthyStatus(true)
	Unhealthy = HealthyStatus(false)
)

// HealthCheckProvider is implemented by components which contribute checks to
// the readiness endpoint.
type HealthCheckProvider interface {
	HealthChecks() []HealthcheckFunc
}

func MaybeAppendHealthChecks(healthChecks []HealthcheckFunc, maybeProvider interface{}) []HealthcheckFunc {
	if hcp, ok := maybeProvider.(HealthCheckProvider); ok {
		healthChecks = append(healthChecks, hcp.HealthChecks()...)
	}
	return healthChecks
}
