// Package config holds the immutable tunables of a game run. A Config is
// built once (defaults, then an optional YAML file, then CLI overrides),
// validated, and passed by value into the engine, the agents and the
// session runner.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the root configuration value.
type Config struct {
	// Seed drives the single random source of a run. Zero asks the runner to
	// derive one from the clock.
	Seed int64 `yaml:"seed"`

	Paths   Paths   `yaml:"paths"`
	Game    Game    `yaml:"game"`
	Agent   Agent   `yaml:"agent"`
	Dataset Dataset `yaml:"dataset"`
	Storage Storage `yaml:"storage"`
}

// Paths locates the input files of a run.
type Paths struct {
	Topology string `yaml:"topology"`
	Traffic  string `yaml:"traffic"`
	Attacks  string `yaml:"attacks"`
}

// Game tunes the engine.
type Game struct {
	MaxBackgroundMessages int             `yaml:"max_background_messages" validate:"gte=1"`
	Cutoffs               Cutoffs         `yaml:"suspicion_cutoffs"`
	Inspection            InspectionCurve `yaml:"inspection"`
	MinPotential          float64         `yaml:"min_potential" validate:"gt=0"`
	// MaxTurns truncates an episode that fails to terminate on its own.
	// Zero disables the guard.
	MaxTurns int `yaml:"max_turns" validate:"gte=0"`
}

// Cutoffs are the three ascending boundaries between suspicion labels.
type Cutoffs struct {
	None   float64 `yaml:"none" validate:"gte=0,lte=1"`
	Low    float64 `yaml:"low" validate:"gte=0,lte=1"`
	Medium float64 `yaml:"medium" validate:"gte=0,lte=1"`
}

// InspectionCurve parameterises the logistic load curve
// p(L) = 1 / (1 + exp(Steepness * (L - Capacity))).
type InspectionCurve struct {
	Capacity  float64 `yaml:"capacity" validate:"gte=0"`
	Steepness float64 `yaml:"steepness" validate:"gte=0"`
}

// Agent tunes both learning agents.
type Agent struct {
	MemoryCapacity int     `yaml:"memory_capacity" validate:"gte=1"`
	Epsilon        float64 `yaml:"epsilon" validate:"gte=0,lte=1"`
	EpsilonMin     float64 `yaml:"epsilon_min" validate:"gte=0,lte=1"`
	EpsilonDecay   float64 `yaml:"epsilon_decay" validate:"gt=0,lte=1"`
	LearningRate   float64 `yaml:"learning_rate" validate:"gt=0"`
	HiddenLayers   []int   `yaml:"hidden_layers" validate:"dive,gte=1"`
	ShuffleReplay  bool    `yaml:"shuffle_replay"`
}

// Dataset describes the CSV layout of the traffic and attack datasets.
type Dataset struct {
	HasHeader bool   `yaml:"has_header"`
	Schema    Schema `yaml:"schema"`
}

// Schema holds zero-based column offsets.
type Schema struct {
	Duration     int `yaml:"duration" validate:"gte=0"`
	Origin       int `yaml:"origin" validate:"gte=0"`
	Destination  int `yaml:"destination" validate:"gte=0"`
	TotalPackets int `yaml:"total_packets" validate:"gte=0"`
	TotalBytes   int `yaml:"total_bytes" validate:"gte=0"`
	SourceBytes  int `yaml:"source_bytes" validate:"gte=0"`
	Label        int `yaml:"label" validate:"gte=0"`
}

// MaxColumn returns the highest offset referenced by the schema.
func (s Schema) MaxColumn() int {
	hi := s.Duration
	for _, c := range []int{s.Origin, s.Destination, s.TotalPackets, s.TotalBytes, s.SourceBytes, s.Label} {
		if c > hi {
			hi = c
		}
	}
	return hi
}

// Storage selects where learned models and loss logs are persisted.
type Storage struct {
	Backend    string `yaml:"backend" validate:"oneof=memory file sqlite"`
	ModelsDir  string `yaml:"models_dir"`
	LogsDir    string `yaml:"logs_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Paths: Paths{
			Topology: "configs/networks/default.txt",
			Traffic:  "configs/datasets/traffic.csv",
			Attacks:  "configs/datasets/attacks.csv",
		},
		Game: Game{
			MaxBackgroundMessages: 5,
			Cutoffs:               Cutoffs{None: 0.1, Low: 0.35, Medium: 0.6},
			Inspection:            InspectionCurve{Capacity: 4, Steepness: 1},
			MinPotential:          1,
			MaxTurns:              10000,
		},
		Agent: Agent{
			MemoryCapacity: 1000,
			Epsilon:        1,
			EpsilonMin:     0.1,
			EpsilonDecay:   0.999,
			LearningRate:   0.001,
			HiddenLayers:   []int{24, 24},
			ShuffleReplay:  true,
		},
		Dataset: Dataset{
			HasHeader: true,
			Schema: Schema{
				Duration:     1,
				Origin:       3,
				Destination:  6,
				TotalPackets: 9,
				TotalBytes:   10,
				SourceBytes:  11,
				Label:        14,
			},
		},
		Storage: Storage{
			Backend:    "file",
			ModelsDir:  "../local_models",
			LogsDir:    "../local_logs",
			SQLitePath: "../local_models/netgame.db",
		},
	}
}

// Load reads a YAML file over Default and validates the result. An empty
// path yields the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and the cross-field invariants the struct
// tags cannot express.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	cut := c.Game.Cutoffs
	if !(cut.None < cut.Low && cut.Low < cut.Medium) {
		return fmt.Errorf("%w: suspicion cutoffs must be strictly increasing, got %v < %v < %v",
			ErrInvalid, cut.None, cut.Low, cut.Medium)
	}
	if c.Storage.Backend == "file" && (c.Storage.ModelsDir == "" || c.Storage.LogsDir == "") {
		return fmt.Errorf("%w: file storage needs models_dir and logs_dir", ErrInvalid)
	}
	if c.Storage.Backend == "sqlite" && c.Storage.SQLitePath == "" {
		return fmt.Errorf("%w: sqlite storage needs sqlite_path", ErrInvalid)
	}
	return nil
}
