package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the Prometheus instruments for the login-security subsystem.
// Services depend on the narrow slices of it they need, never on the registry.
type Recorder struct {
	LoginAttemptsTotal *prometheus.CounterVec
	LockoutsTotal      prometheus.Counter
	StoreErrorsTotal   *prometheus.CounterVec
	ReclaimedTotal     prometheus.Counter
	ReclaimFailures    prometheus.Counter
	ReclaimRunsTotal   *prometheus.CounterVec
	RevokedTotal       prometheus.Counter
}

func New() *Recorder {
	return &Recorder{
		LoginAttemptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bastion_login_attempts_total",
			Help: "Total number of login attempts by outcome",
		}, []string{"result"}),
		LockoutsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bastion_account_lockouts_total",
			Help: "Total number of accounts locked after repeated failures",
		}),
		StoreErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bastion_attempt_store_errors_total",
			Help: "Total number of attempt-store failures by operation",
		}, []string{"op"}),
		ReclaimedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bastion_lockouts_reclaimed_total",
			Help: "Total number of expired lockouts reset by the reclaimer",
		}),
		ReclaimFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bastion_lockout_reclaim_failures_total",
			Help: "Total number of per-record failures during reclaim runs",
		}),
		ReclaimRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bastion_lockout_reclaim_runs_total",
			Help: "Total number of reclaim runs by status",
		}, []string{"status"}),
		RevokedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bastion_tokens_revoked_total",
			Help: "Total number of tokens added to the revocation blacklist",
		}),
	}
}

func (r *Recorder) IncrementLoginOutcome(result string) {
	r.LoginAttemptsTotal.WithLabelValues(result).Inc()
}

func (r *Recorder) IncrementLockouts() {
	r.LockoutsTotal.Inc()
}

func (r *Recorder) IncrementStoreErrors(op string) {
	r.StoreErrorsTotal.WithLabelValues(op).Inc()
}

func (r *Recorder) AddReclaimedLockouts(n int) {
	r.ReclaimedTotal.Add(float64(n))
}

func (r *Recorder) AddReclaimFailures(n int) {
	r.ReclaimFailures.Add(float64(n))
}

func (r *Recorder) IncrementReclaimRuns(status string) {
	r.ReclaimRunsTotal.WithLabelValues(status).Inc()
}

func (r *Recorder) IncrementRevocations() {
	r.RevokedTotal.Inc()
}
