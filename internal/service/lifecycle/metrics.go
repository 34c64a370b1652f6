package lifecycle

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/osval-do/USOP/internal/fsm"
)

// Outcome labels for the transitions counter.
const (
	OutcomeCommitted = "committed"
	OutcomeUnknown   = "unknown"
	OutcomeIllegal   = "illegal"
	OutcomeDenied    = "denied"
	OutcomeTimeout   = "timeout"
	OutcomeFailed    = "failed"
)

var commandBuckets = []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// Metrics counts transition attempts and times external commands. A nil *Metrics records nothing.
type Metrics struct {
	transitions *prometheus.CounterVec
	commands    *prometheus.HistogramVec
}

// NewMetrics registers the lifecycle collectors, reusing collectors that are already registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "usop",
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Lifecycle transition attempts by outcome",
		}, []string{"transition", "outcome"}),
		commands: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "usop",
			Subsystem: "lifecycle",
			Name:      "command_duration_seconds",
			Help:      "Duration of orchestration commands",
			Buckets:   commandBuckets,
		}, []string{"transition"}),
	}
	if reg == nil {
		return m
	}
	m.transitions = register(reg, m.transitions)
	m.commands = register(reg, m.commands)
	return m
}

func (m *Metrics) observeTransition(transition string, err error) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(transition, outcomeOf(err)).Inc()
}

func (m *Metrics) observeCommand(transition string, d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.commands.WithLabelValues(transition).Observe(d.Seconds())
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func outcomeOf(err error) string {
	var orch *OrchestrationError
	switch {
	case err == nil:
		return OutcomeCommitted
	case errors.Is(err, fsm.ErrUnknownTransition):
		return OutcomeUnknown
	case errors.Is(err, fsm.ErrIllegalTransition):
		return OutcomeIllegal
	case errors.Is(err, ErrAuthorizationDenied):
		return OutcomeDenied
	case errors.As(err, &orch) && orch.TimedOut:
		return OutcomeTimeout
	default:
		return OutcomeFailed
	}
}
