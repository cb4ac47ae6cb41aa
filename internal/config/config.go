// Package config loads the simulator configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/gpsfix/model"
)

// Config is the complete run configuration.
type Config struct {
	Console ConsoleConfig `yaml:"console"`
	Fix     FixConfig     `yaml:"fix"`
	Origin  OriginConfig  `yaml:"origin"`
	Walk    WalkConfig    `yaml:"walk"`
	Track   TrackConfig   `yaml:"track"`
	HTTP    HTTPConfig    `yaml:"http"`
	Sinks   SinksConfig   `yaml:"sinks"`
	Logging LoggingConfig `yaml:"logging"`
}

type ConsoleConfig struct {
	Hostname       string  `yaml:"hostname" validate:"required"`
	Port           int     `yaml:"port" validate:"min=1,max=65535"`
	TimeoutSeconds float64 `yaml:"timeout_seconds" validate:"gt=0"`
	AuthToken      string  `yaml:"auth_token"`
	// AuthTokenFile is read when AuthToken is empty, e.g.
	// ~/.emulator_console_auth_token.
	AuthTokenFile string `yaml:"auth_token_file"`
	SkipGreeting  bool   `yaml:"skip_greeting"`
}

type FixConfig struct {
	AltitudeMeters float64 `yaml:"altitude_meters"`
	Satellites     int     `yaml:"satellites" validate:"min=1,max=12"`
	// TLEFile switches the satellite count to constellation visibility.
	TLEFile              string  `yaml:"tle_file"`
	ElevationMaskDegrees float64 `yaml:"elevation_mask_degrees" validate:"gte=0,lte=90"`
}

type OriginConfig struct {
	Latitude  float64 `yaml:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `yaml:"longitude" validate:"gte=-180,lte=180"`
}

type WalkConfig struct {
	Legs   []LegConfig `yaml:"legs" validate:"dive"`
	Cycles int         `yaml:"cycles" validate:"gte=0"`
	// Seed makes the jitter reproducible; 0 draws a random seed.
	Seed uint64 `yaml:"seed"`
}

type LegConfig struct {
	HeadingDegrees       float64 `yaml:"heading_degrees"`
	Steps                int     `yaml:"steps" validate:"gte=0"`
	StepMeters           float64 `yaml:"step_meters" validate:"gte=0"`
	StepJitterMeters     float64 `yaml:"step_jitter_meters" validate:"gte=0"`
	HeadingJitterDegrees float64 `yaml:"heading_jitter_degrees" validate:"gte=0"`
	DelaySeconds         float64 `yaml:"delay_seconds" validate:"gte=0"`
}

type TrackConfig struct {
	// Path selects track replay instead of the random walk.
	Path         string  `yaml:"path"`
	DelaySeconds float64 `yaml:"delay_seconds" validate:"gte=0"`
}

type HTTPConfig struct {
	// Addr enables /metrics, /healthz and /fixes when set.
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

type SinksConfig struct {
	Kafka  KafkaConfig  `yaml:"kafka"`
	Serial SerialConfig `yaml:"serial"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" validate:"omitempty,dive,hostname_port"`
	Topic   string   `yaml:"topic" validate:"required_with=Brokers"`
}

type SerialConfig struct {
	Device   string `yaml:"device"`
	BaudRate int    `yaml:"baud_rate" validate:"gt=0"`
	Sentence string `yaml:"sentence" validate:"omitempty,oneof=gga rmc"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the configuration used when no file is given: the
// emulator on localhost:5554 and the out-and-back demo walk.
func Default() Config {
	leg := func(heading float64) LegConfig {
		return LegConfig{
			HeadingDegrees:       heading,
			Steps:                50,
			StepMeters:           5,
			StepJitterMeters:     5,
			HeadingJitterDegrees: 30,
			DelaySeconds:         1,
		}
	}
	return Config{
		Console: ConsoleConfig{
			Hostname:       "localhost",
			Port:           5554,
			TimeoutSeconds: 10,
		},
		Fix: FixConfig{
			AltitudeMeters:       65,
			Satellites:           7,
			ElevationMaskDegrees: 10,
		},
		Origin: OriginConfig{Latitude: 52.4559497304728, Longitude: 13.2975200387581},
		Walk:   WalkConfig{Legs: []LegConfig{leg(90), leg(180)}},
		Track:  TrackConfig{DelaySeconds: 1},
		Sinks: SinksConfig{
			Serial: SerialConfig{BaudRate: 4800, Sentence: "gga"},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults and validates the result. Keys absent
// from the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse config %s: %v", model.ErrInvalidInput, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and converts validator failures into
// ErrInvalidInput.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", model.ErrInvalidInput, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}
	if c.Track.Path == "" && len(c.Walk.Legs) == 0 {
		return fmt.Errorf("%w: walk needs at least one leg when no track is set", model.ErrInvalidInput)
	}
	return nil
}

// Timeout returns the acknowledgement timeout.
func (c ConsoleConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds)
}

// ResolveAuthToken returns the inline token or the trimmed contents of
// AuthTokenFile. A leading ~ expands to the home directory.
func (c ConsoleConfig) ResolveAuthToken() (string, error) {
	if c.AuthToken != "" || c.AuthTokenFile == "" {
		return c.AuthToken, nil
	}
	path := c.AuthTokenFile
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve auth token file: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read auth token: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// Position returns the origin as a validated position.
func (o OriginConfig) Position() (model.GeoPosition, error) {
	return model.NewGeoPosition(o.Latitude, o.Longitude)
}

// MotionLegs converts the configured legs to motion parameters.
func (w WalkConfig) MotionLegs() ([]model.MotionParameters, error) {
	out := make([]model.MotionParameters, 0, len(w.Legs))
	for i, l := range w.Legs {
		p, err := model.NewMotionParameters(l.HeadingDegrees, l.Steps, l.StepMeters, l.StepJitterMeters, l.HeadingJitterDegrees, seconds(l.DelaySeconds))
		if err != nil {
			return nil, fmt.Errorf("walk leg %d: %w", i+1, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Delay returns the pause between replayed waypoints.
func (t TrackConfig) Delay() time.Duration {
	return seconds(t.DelaySeconds)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
