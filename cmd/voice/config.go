package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lokutor-ai/lokutor-realtime/pkg/realtime"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Audio   AudioConfig   `yaml:"audio"`
	Record  RecordConfig  `yaml:"record"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	URL      string `yaml:"url"`
	RelayURL string `yaml:"relay_url"`
}

type SessionConfig struct {
	Mode             string        `yaml:"mode"`
	Questions        []interface{} `yaml:"questions"`
	AutoStart        *bool         `yaml:"auto_start"`
	HandshakeTimeout string        `yaml:"handshake_timeout"`
}

type AudioConfig struct {
	SampleRate       int     `yaml:"sample_rate"`
	FrameSize        int     `yaml:"frame_size"`
	LocalBargeIn     bool    `yaml:"local_barge_in"`
	VADThreshold     float64 `yaml:"vad_threshold"`
	VADEchoThreshold float64 `yaml:"vad_echo_threshold"`
	EchoCorrelation  float64 `yaml:"echo_correlation"`
}

type RecordConfig struct {
	Dir string `yaml:"dir"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig reads a YAML file with ${VAR} expansion. An empty path yields
// the defaults. Environment overrides are applied last.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.setDefaults()

	if _, err := cfg.handshakeTimeout(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LOKUTOR_SERVER_URL"); v != "" {
		c.Server.URL = v
	}
	if v := os.Getenv("LOKUTOR_RELAY_URL"); v != "" {
		c.Server.RelayURL = v
	}
	if v := os.Getenv("LOKUTOR_MODE"); v != "" {
		c.Session.Mode = v
	}
	if v := os.Getenv("LOKUTOR_RECORD_DIR"); v != "" {
		c.Record.Dir = v
	}
	if v, err := strconv.ParseBool(os.Getenv("LOKUTOR_LOCAL_BARGE_IN")); err == nil {
		c.Audio.LocalBargeIn = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

func (c *Config) setDefaults() {
	def := realtime.DefaultConfig()

	if c.Server.URL == "" {
		c.Server.URL = def.ServerURL
	}
	if c.Server.RelayURL == "" {
		c.Server.RelayURL = def.RelayURL
	}
	if c.Session.Mode == "" {
		c.Session.Mode = string(def.Mode)
	}
	if c.Session.AutoStart == nil {
		autoStart := def.AutoStartRecording
		c.Session.AutoStart = &autoStart
	}
	if c.Session.HandshakeTimeout == "" {
		c.Session.HandshakeTimeout = def.HandshakeTimeout.String()
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = def.SampleRate
	}
	if c.Audio.FrameSize == 0 {
		c.Audio.FrameSize = def.FrameSize
	}
	if c.Audio.VADThreshold == 0 {
		c.Audio.VADThreshold = def.VADThreshold
	}
	if c.Audio.VADEchoThreshold == 0 {
		c.Audio.VADEchoThreshold = def.VADEchoThreshold
	}
	if c.Audio.EchoCorrelation == 0 {
		c.Audio.EchoCorrelation = def.EchoCorrelation
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) handshakeTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Session.HandshakeTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid handshake_timeout %q: %w", c.Session.HandshakeTimeout, err)
	}
	return d, nil
}

// Realtime converts the file config into a session config.
func (c *Config) Realtime() realtime.Config {
	rc := realtime.DefaultConfig()
	rc.ServerURL = c.Server.URL
	rc.RelayURL = c.Server.RelayURL
	rc.Mode = realtime.Mode(c.Session.Mode)
	rc.Questions = c.Session.Questions
	rc.AutoStartRecording = *c.Session.AutoStart
	rc.HandshakeTimeout, _ = c.handshakeTimeout()
	rc.SampleRate = c.Audio.SampleRate
	rc.FrameSize = c.Audio.FrameSize
	rc.LocalBargeIn = c.Audio.LocalBargeIn
	rc.VADThreshold = c.Audio.VADThreshold
	rc.VADEchoThreshold = c.Audio.VADEchoThreshold
	rc.EchoCorrelation = c.Audio.EchoCorrelation
	return rc
}

func setupLogger(cfg LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
