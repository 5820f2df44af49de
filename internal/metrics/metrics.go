package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 集中注册业务指标，nil 接收者上的调用均为空操作
type Metrics struct {
	gateVerdicts       *prometheus.CounterVec
	activations        *prometheus.CounterVec
	depositTransitions *prometheus.CounterVec
	balanceMutations   *prometheus.CounterVec
	collaboratorErrors *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		gateVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "license_gate_verdicts_total",
			Help: "License gate evaluations by reason (valid for success).",
		}, []string{"reason"}),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "license_activations_total",
			Help: "License activation attempts by outcome.",
		}, []string{"outcome"}),
		depositTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_deposit_transitions_total",
			Help: "Deposit transactions entering a state.",
		}, []string{"status"}),
		balanceMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_balance_units_total",
			Help: "Currency units credited or debited through the balance authority.",
		}, []string{"direction"}),
		collaboratorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collaborator_errors_total",
			Help: "Failed calls to external collaborators.",
		}, []string{"collaborator"}),
	}
	reg.MustRegister(m.gateVerdicts, m.activations, m.depositTransitions, m.balanceMutations, m.collaboratorErrors)
	return m
}

func (m *Metrics) GateVerdict(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "valid"
	}
	m.gateVerdicts.WithLabelValues(reason).Inc()
}

func (m *Metrics) Activation(outcome string) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DepositTransition(status string) {
	if m == nil {
		return
	}
	m.depositTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) Credited(amount int64) {
	if m == nil {
		return
	}
	m.balanceMutations.WithLabelValues("credit").Add(float64(amount))
}

func (m *Metrics) Debited(amount int64) {
	if m == nil {
		return
	}
	m.balanceMutations.WithLabelValues("debit").Add(float64(amount))
}

func (m *Metrics) CollaboratorError(name string) {
	if m == nil {
		return
	}
	m.collaboratorErrors.WithLabelValues(name).Inc()
}
