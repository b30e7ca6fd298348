// Package throughput measures publish/subscribe throughput and latency over
// the shared-memory transport.
//
// A run is made of trials. Each trial declares a publisher and a subscriber on
// the same topic, sends a CompressedImage a fixed number of times and reports
// how many bytes were sent and received, and how long it took.
package throughput

import (
	"errors"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

var logger = log.WithFields(log.Fields{" pkg": "throughput"})

// Mode selects how a trial hands the message to the publisher.
type Mode string

const (
	// ModeBuffer serializes the message into a buffer, then sends the buffer.
	ModeBuffer Mode = "buffer"
	// ModePayload serializes the message straight into the memory file.
	ModePayload Mode = "payload"
)

// Defaults of a run.
const (
	DefaultTopic       = "image"
	DefaultLoops       = 2560
	DefaultMessageSize = 4 * 1024 * 1024
	DefaultFormat      = "jpg"
	DefaultAckTimeout  = 100 * time.Millisecond
	DefaultMatchDelay  = 2 * time.Second
)

// Trial is one measurement.
type Trial struct {
	Mode     Mode `yaml:"mode"`
	ZeroCopy bool `yaml:"zero_copy"`
}

// ModeLabel returns the MODE banner text of the trial.
func (t Trial) ModeLabel() string {
	switch t.Mode {
	case ModeBuffer:
		return "BUFFER"
	case ModePayload:
		return "PAYLOAD"
	}
	return "UNKNOWN"
}

// LayerLabel returns the LAYER banner text of the trial.
func (t Trial) LayerLabel() string {
	if t.ZeroCopy {
		return "SHM ZERO-COPY"
	}
	return "SHM"
}

// Label returns a one-line description of the trial, e.g. "BUFFER / SHM ZERO-COPY".
func (t Trial) Label() string {
	return t.ModeLabel() + " / " + t.LayerLabel()
}

// Config holds the parameters of a run.
type Config struct {
	Topic       string        `yaml:"topic"`
	Loops       int           `yaml:"loops"`
	MessageSize int           `yaml:"message_size"`
	Format      string        `yaml:"format"`
	AckTimeout  time.Duration `yaml:"ack_timeout"`
	MatchDelay  time.Duration `yaml:"match_delay"`
	SegmentDir  string        `yaml:"segment_dir"`
	Histogram   bool          `yaml:"histogram"`
	Trials      []Trial       `yaml:"trials"`
}

// DefaultConfig returns the configuration of the reference run: four trials,
// buffer then payload, each without then with zero-copy.
func DefaultConfig() *Config {
	return &Config{
		Topic:       DefaultTopic,
		Loops:       DefaultLoops,
		MessageSize: DefaultMessageSize,
		Format:      DefaultFormat,
		AckTimeout:  DefaultAckTimeout,
		MatchDelay:  DefaultMatchDelay,
		Trials: []Trial{
			{Mode: ModeBuffer, ZeroCopy: false},
			{Mode: ModeBuffer, ZeroCopy: true},
			{Mode: ModePayload, ZeroCopy: false},
			{Mode: ModePayload, ZeroCopy: true},
		},
	}
}

// LoadConfig reads a YAML configuration file. Fields absent from the file keep
// their DefaultConfig value.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(b)
}

// ParseConfig decodes a YAML configuration on top of DefaultConfig.
func ParseConfig(b []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.WithFields(log.Fields{
		"topic":  cfg.Topic,
		"loops":  cfg.Loops,
		"size":   cfg.MessageSize,
		"trials": len(cfg.Trials),
	}).Debug("Config loaded")
	return cfg, nil
}

// Validate checks that the configuration describes a runnable set of trials.
func (c *Config) Validate() error {
	var errs []error
	if c.Topic == "" {
		errs = append(errs, errors.New("topic must not be empty"))
	}
	if c.Loops <= 0 {
		errs = append(errs, fmt.Errorf("loops must be positive, got %d", c.Loops))
	}
	if c.MessageSize < 0 {
		errs = append(errs, fmt.Errorf("message_size must not be negative, got %d", c.MessageSize))
	}
	if c.AckTimeout < 0 {
		errs = append(errs, fmt.Errorf("ack_timeout must not be negative, got %s", c.AckTimeout))
	}
	if c.MatchDelay < 0 {
		errs = append(errs, fmt.Errorf("match_delay must not be negative, got %s", c.MatchDelay))
	}
	if len(c.Trials) == 0 {
		errs = append(errs, errors.New("no trial configured"))
	}
	for i, t := range c.Trials {
		if t.Mode != ModeBuffer && t.Mode != ModePayload {
			errs = append(errs, fmt.Errorf("trial %d: unknown mode %q", i, t.Mode))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
