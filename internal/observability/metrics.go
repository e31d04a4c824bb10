package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/signalsfoundry/intrusion-game/core"
	"github.com/signalsfoundry/intrusion-game/model"
)

const namespace = "netgame"

// GameCollector bundles Prometheus metrics for game events and agent
// training. It satisfies core.MetricsRecorder so the engine can drive it
// directly.
type GameCollector struct {
	gatherer prometheus.Gatherer

	Inspections  *prometheus.CounterVec
	Messages     *prometheus.CounterVec
	Infections   prometheus.Counter
	Quarantines  *prometheus.CounterVec
	Severed      prometheus.Counter
	Turns        prometheus.Counter
	Episodes     *prometheus.CounterVec
	EpisodeTurns prometheus.Histogram
	EpisodeScore *prometheus.GaugeVec

	InfectedNodes  prometheus.Gauge
	ReachableNodes prometheus.Gauge

	Epsilon          *prometheus.GaugeVec
	TrainingLoss     *prometheus.GaugeVec
	TrainingSamples  *prometheus.CounterVec
	TrainingDuration *prometheus.HistogramVec
}

var _ core.MetricsRecorder = (*GameCollector)(nil)

// NewGameCollector registers game metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewGameCollector(reg prometheus.Registerer) (*GameCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &GameCollector{gatherer: gatherer}

	var err error
	if c.Inspections, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inspections_total",
		Help:      "Messages inspected by the defender, labeled by ground truth and assigned suspicion label.",
	}, []string{"truth", "label"}), "inspections_total"); err != nil {
		return nil, err
	}
	if c.Messages, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_total",
		Help:      "Messages processed, labeled by outcome (inspected, uninspected, dropped).",
	}, []string{"outcome"}), "messages_total"); err != nil {
		return nil, err
	}
	if c.Infections, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "infections_total",
		Help:      "Nodes newly infected.",
	}), "infections_total"); err != nil {
		return nil, err
	}
	if c.Quarantines, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quarantines_total",
		Help:      "Quarantine actions taken, labeled by kind (isolate, sever).",
	}, []string{"kind"}), "quarantines_total"); err != nil {
		return nil, err
	}
	if c.Severed, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "severed_edges_total",
		Help:      "Directed edges removed by quarantine actions.",
	}), "severed_edges_total"); err != nil {
		return nil, err
	}
	if c.Turns, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_total",
		Help:      "Turns played across all episodes.",
	}), "turns_total"); err != nil {
		return nil, err
	}
	if c.Episodes, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "episodes_total",
		Help:      "Completed episodes, labeled by whether the turn limit cut them short.",
	}, []string{"truncated"}), "episodes_total"); err != nil {
		return nil, err
	}
	if c.EpisodeTurns, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "episode_turns",
		Help:      "Turns per completed episode.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	}), "episode_turns"); err != nil {
		return nil, err
	}
	if c.EpisodeScore, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "episode_score",
		Help:      "Cumulative reward of the last completed episode, per role.",
	}, []string{"role"}), "episode_score"); err != nil {
		return nil, err
	}
	if c.InfectedNodes, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "infected_nodes",
		Help:      "Infected nodes at the end of the last turn.",
	}), "infected_nodes"); err != nil {
		return nil, err
	}
	if c.ReachableNodes, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "reachable_nodes",
		Help:      "Nodes the attacker could target at the end of the last turn.",
	}), "reachable_nodes"); err != nil {
		return nil, err
	}
	if c.Epsilon, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "agent_epsilon",
		Help:      "Current exploration rate, per role.",
	}, []string{"role"}), "agent_epsilon"); err != nil {
		return nil, err
	}
	if c.TrainingLoss, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "training_loss",
		Help:      "Mean loss of the last training sweep, per role.",
	}, []string{"role"}), "training_loss"); err != nil {
		return nil, err
	}
	if c.TrainingSamples, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "training_samples_total",
		Help:      "Experiences replayed during training, per role.",
	}, []string{"role"}), "training_samples_total"); err != nil {
		return nil, err
	}
	if c.TrainingDuration, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "training_duration_seconds",
		Help:      "Wall time of a training sweep, per role.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"role"}), "training_duration_seconds"); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *GameCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *GameCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *GameCollector) ObserveInspection(truth model.TrafficLabel, label model.SuspicionLabel) {
	if c == nil {
		return
	}
	c.Inspections.WithLabelValues(string(truth), label.String()).Inc()
	c.Messages.WithLabelValues("inspected").Inc()
}

func (c *GameCollector) ObserveUninspected() {
	if c == nil {
		return
	}
	c.Messages.WithLabelValues("uninspected").Inc()
}

func (c *GameCollector) ObserveDropped() {
	if c == nil {
		return
	}
	c.Messages.WithLabelValues("dropped").Inc()
}

func (c *GameCollector) ObserveInfection() {
	if c == nil {
		return
	}
	c.Infections.Inc()
}

func (c *GameCollector) ObserveQuarantine(kind string, edges int) {
	if c == nil {
		return
	}
	c.Quarantines.WithLabelValues(kind).Inc()
	if edges > 0 {
		c.Severed.Add(float64(edges))
	}
}

func (c *GameCollector) ObserveTurn(summary core.TurnSummary) {
	if c == nil {
		return
	}
	c.Turns.Inc()
	c.InfectedNodes.Set(float64(summary.Infected))
	c.ReachableNodes.Set(float64(summary.Reachable))
}

func (c *GameCollector) ObserveEpisode(result core.EpisodeResult) {
	if c == nil {
		return
	}
	c.Episodes.WithLabelValues(strconv.FormatBool(result.Truncated)).Inc()
	c.EpisodeTurns.Observe(float64(result.Turns))
	c.EpisodeScore.WithLabelValues("Attacker").Set(result.AttackerScore)
	c.EpisodeScore.WithLabelValues("Defender").Set(result.DefenderScore)
}

// ObserveTraining records one training sweep of role. Sweeps without a
// loss leave the loss gauge untouched.
func (c *GameCollector) ObserveTraining(role string, report core.TrainReport, took time.Duration) {
	if c == nil {
		return
	}
	c.Epsilon.WithLabelValues(role).Set(report.Epsilon)
	c.TrainingSamples.WithLabelValues(role).Add(float64(report.Samples))
	c.TrainingDuration.WithLabelValues(role).Observe(took.Seconds())
	if report.HasLoss {
		c.TrainingLoss.WithLabelValues(role).Set(report.MeanLoss)
	}
}

// SetEpsilon publishes the exploration rate of role.
func (c *GameCollector) SetEpsilon(role string, eps float64) {
	if c == nil {
		return
	}
	c.Epsilon.WithLabelValues(role).Set(eps)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
