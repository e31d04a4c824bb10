package observability

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/intrusion-game/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// TracingConfig governs how game tracing is initialised.
type TracingConfig struct {
	Enabled      bool
	ServiceName  string
	Exporter     string // stdout | otlp
	Endpoint     string // used when Exporter == otlp
	SampleRatio  float64
	// EpisodeEvery keeps the spans of one episode in every EpisodeEvery.
	// Values below 2 trace every episode.
	EpisodeEvery int
}

// TracingConfigFromEnv reads the GAME_TRACING_* and GAME_OTLP_ENDPOINT
// variables. Unset or malformed values fall back to defaults.
func TracingConfigFromEnv() TracingConfig {
	return TracingConfig{
		Enabled:      strings.EqualFold(os.Getenv("GAME_TRACING_ENABLED"), "true"),
		ServiceName:  envOr("GAME_TRACING_SERVICE_NAME", "netgame"),
		Exporter:     strings.ToLower(envOr("GAME_TRACING_EXPORTER", "stdout")),
		Endpoint:     os.Getenv("GAME_OTLP_ENDPOINT"),
		SampleRatio:  envRatio("GAME_TRACING_SAMPLE_RATIO", 1),
		EpisodeEvery: envPositiveInt("GAME_TRACING_EPISODE_EVERY", 1),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envRatio(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v < 0 || v > 1 {
		return def
	}
	return v
}

func envPositiveInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v < 1 {
		return def
	}
	return v
}

// Sampler builds the sampler InitTracing installs: whole episodes are
// thinned by EpisodeEvery, then traces are ratio sampled at the root.
func (cfg TracingConfig) Sampler() sdktrace.Sampler {
	return newEpisodeSampler(cfg.EpisodeEvery, sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio)))
}

// EpisodeAttribute is the span attribute carrying the 1-based episode number.
const EpisodeAttribute attribute.Key = "episode"

// episodeSampler drops game.* spans whose episode number falls between
// kept episodes. Their children inherit the decision through next.
type episodeSampler struct {
	every int
	next  sdktrace.Sampler
}

func newEpisodeSampler(every int, next sdktrace.Sampler) sdktrace.Sampler {
	if every < 2 {
		return next
	}
	return episodeSampler{every: every, next: next}
}

func (s episodeSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	if strings.HasPrefix(p.Name, "game.") {
		for _, kv := range p.Attributes {
			if kv.Key != EpisodeAttribute {
				continue
			}
			if (kv.Value.AsInt64()-1)%int64(s.every) != 0 {
				return sdktrace.SamplingResult{
					Decision:   sdktrace.Drop,
					Tracestate: trace.SpanContextFromContext(p.ParentContext).TraceState(),
				}
			}
			break
		}
	}
	return s.next.ShouldSample(p)
}

func (s episodeSampler) Description() string {
	return fmt.Sprintf("EpisodeSampler{every=%d,%s}", s.every, s.next.Description())
}

// InitTracing installs the global tracer provider and propagators described
// by cfg. The returned function flushes pending spans.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}

	if !cfg.Enabled {
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Info(ctx, "tracing disabled; using noop tracer provider")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := exporterFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(
		ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.namespace", "netgame"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	sampler := cfg.Sampler()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.String("sampler", sampler.Description()),
	)

	return tp.Shutdown, nil
}

func exporterFromConfig(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "stdout", "":
		return stdouttrace.New(
			stdouttrace.WithWriter(os.Stdout),
			stdouttrace.WithPrettyPrint(),
			stdouttrace.WithoutTimestamps(),
		)
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
		return otlptrace.New(ctx, client)
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s", cfg.Exporter)
	}
}

// ShutdownWithTimeout invokes the provided shutdown function with a bounded
// timeout, swallowing errors in the shutdown path.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}

const tracerName = "github.com/signalsfoundry/intrusion-game/internal/observability"

// StartSpan starts a span for a run-level operation. The run ID carried by
// ctx, if any, is attached as an attribute.
func StartSpan(ctx context.Context, name string, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs := make([]attribute.KeyValue, 0, len(extra)+1)
	if runID := logging.RunIDFromContext(ctx); runID != "" {
		attrs = append(attrs, attribute.String("run_id", runID))
	}
	attrs = append(attrs, extra...)
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}
