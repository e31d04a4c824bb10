package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/signalsfoundry/intrusion-game/core"
	"github.com/signalsfoundry/intrusion-game/model"
)

func TestGameCollectorRecordsMessageOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewGameCollector(reg)
	if err != nil {
		t.Fatalf("NewGameCollector: %v", err)
	}

	collector.ObserveInspection(model.LabelMalicious, model.SuspicionHigh)
	collector.ObserveInspection(model.LabelMalicious, model.SuspicionHigh)
	collector.ObserveInspection(model.LabelBenign, model.SuspicionLow)
	collector.ObserveUninspected()
	collector.ObserveDropped()

	if got := testutil.ToFloat64(collector.Inspections.WithLabelValues("Malicious", "HIGH")); got != 2 {
		t.Fatalf("inspections{Malicious,HIGH} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.Inspections.WithLabelValues("Benign", "LOW")); got != 1 {
		t.Fatalf("inspections{Benign,LOW} = %v, want 1", got)
	}
	for outcome, want := range map[string]float64{"inspected": 3, "uninspected": 1, "dropped": 1} {
		if got := testutil.ToFloat64(collector.Messages.WithLabelValues(outcome)); got != want {
			t.Fatalf("messages{%s} = %v, want %v", outcome, got, want)
		}
	}
}

func TestGameCollectorRecordsQuarantineAndEpisodes(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewGameCollector(reg)
	if err != nil {
		t.Fatalf("NewGameCollector: %v", err)
	}

	collector.ObserveInfection()
	collector.ObserveQuarantine(core.QuarantineIsolate, 3)
	collector.ObserveQuarantine(core.QuarantineSever, 1)
	collector.ObserveQuarantine(core.QuarantineIsolate, 0)
	collector.ObserveTurn(core.TurnSummary{Infected: 2, Reachable: 4})
	collector.ObserveEpisode(core.EpisodeResult{Turns: 7, AttackerScore: 1.5, DefenderScore: -1.5})
	collector.ObserveEpisode(core.EpisodeResult{Turns: 10000, Truncated: true})

	if got := testutil.ToFloat64(collector.Infections); got != 1 {
		t.Fatalf("infections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Quarantines.WithLabelValues(core.QuarantineIsolate)); got != 2 {
		t.Fatalf("quarantines{isolate} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.Severed); got != 4 {
		t.Fatalf("severed edges = %v, want 4", got)
	}
	if got := testutil.ToFloat64(collector.InfectedNodes); got != 2 {
		t.Fatalf("infected nodes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.Episodes.WithLabelValues("true")); got != 1 {
		t.Fatalf("episodes{truncated=true} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.EpisodeScore.WithLabelValues("Defender")); got != 0 {
		t.Fatalf("defender score gauge = %v, want last episode's 0", got)
	}
	if count := histogramSampleCount(t, reg, "netgame_episode_turns", nil); count != 2 {
		t.Fatalf("episode_turns sample_count = %d, want 2", count)
	}
}

func TestGameCollectorTraining(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewGameCollector(reg)
	if err != nil {
		t.Fatalf("NewGameCollector: %v", err)
	}

	collector.ObserveTraining("Defender", core.TrainReport{Samples: 12, MeanLoss: 0.5, HasLoss: true, Epsilon: 0.9}, 20*time.Millisecond)
	collector.ObserveTraining("Defender", core.TrainReport{Epsilon: 0.9}, time.Millisecond)

	if got := testutil.ToFloat64(collector.TrainingLoss.WithLabelValues("Defender")); got != 0.5 {
		t.Fatalf("training loss = %v, want 0.5 kept from the sweep with a loss", got)
	}
	if got := testutil.ToFloat64(collector.TrainingSamples.WithLabelValues("Defender")); got != 12 {
		t.Fatalf("training samples = %v, want 12", got)
	}
	if got := testutil.ToFloat64(collector.Epsilon.WithLabelValues("Defender")); got != 0.9 {
		t.Fatalf("epsilon = %v, want 0.9", got)
	}
	if count := histogramSampleCount(t, reg, "netgame_training_duration_seconds", map[string]string{"role": "Defender"}); count != 2 {
		t.Fatalf("training duration sample_count = %d, want 2", count)
	}
}

func TestNewGameCollectorReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewGameCollector(reg)
	if err != nil {
		t.Fatalf("first NewGameCollector: %v", err)
	}
	second, err := NewGameCollector(reg)
	if err != nil {
		t.Fatalf("second NewGameCollector: %v", err)
	}

	first.ObserveInfection()
	if got := testutil.ToFloat64(second.Infections); got != 1 {
		t.Fatalf("second collector sees %v infections, want shared counter", got)
	}
}

func TestNilGameCollectorIsSafe(t *testing.T) {
	var c *GameCollector
	c.ObserveInspection(model.LabelBenign, model.SuspicionNone)
	c.ObserveUninspected()
	c.ObserveDropped()
	c.ObserveInfection()
	c.ObserveQuarantine(core.QuarantineSever, 1)
	c.ObserveTurn(core.TurnSummary{})
	c.ObserveEpisode(core.EpisodeResult{})
	c.ObserveTraining("Attacker", core.TrainReport{}, 0)
	c.SetEpsilon("Attacker", 1)
}

func TestMetricsHandlerExposesGameMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewGameCollector(reg)
	if err != nil {
		t.Fatalf("NewGameCollector: %v", err)
	}
	collector.ObserveInspection(model.LabelBenign, model.SuspicionNone)
	collector.ObserveTurn(core.TurnSummary{Infected: 3, Reachable: 5})
	collector.SetEpsilon("Attacker", 0.25)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"netgame_inspections_total",
		"netgame_messages_total",
		"netgame_turns_total",
		"netgame_infected_nodes 3",
		"netgame_reachable_nodes 5",
		`netgame_agent_epsilon{role="Attacker"} 0.25`,
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output:\n%s", metric, body)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
