// Package config loads the call service configuration. Values are layered:
// built-in defaults, then an optional YAML file, then command-line flags,
// then CALLSVC_* environment variables.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sebas/callservice/internal/callservice/policy"
)

const envPrefix = "CALLSVC_"

// Config holds the call service configuration.
type Config struct {
	File string `yaml:"-"`

	NodeID string `yaml:"node_id"`

	Log LogConfig `yaml:"log"`

	// Registry limits
	MaxLiveCalls int `yaml:"max_live_calls"`
	MaxRinging   int `yaml:"max_ringing"`
	MaxDialing   int `yaml:"max_dialing"`

	// Conference member limits
	CSConferenceLimit  int  `yaml:"cs_conference_limit"`
	IMSConferenceLimit int  `yaml:"ims_conference_limit"`
	StrictConference   bool `yaml:"strict_conference"`

	RingTimeout          time.Duration `yaml:"ring_timeout"`
	TransportTimeout     time.Duration `yaml:"transport_timeout"`
	MaxTransportRequests int64         `yaml:"max_transport_requests"`
	EventQueueSize       int           `yaml:"event_queue_size"`
	EmergencyNumbers     []string      `yaml:"emergency_numbers"`

	GRPCAddr  string `yaml:"grpc_addr"`
	HTTPAddr  string `yaml:"http_addr"`  // HTTP API and websocket reports; empty disables
	NATSURL   string `yaml:"nats_url"`   // empty disables NATS publishing
	JWTSecret string `yaml:"jwt_secret"` // empty disables authentication

	SIP SIPConfig `yaml:"sip"`

	Radio RadioConfig `yaml:"radio"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"` // empty logs to stdout only
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// SIPConfig configures the SIP transport.
type SIPConfig struct {
	ListenAddr    string `yaml:"listen_addr"` // empty disables SIP
	Network       string `yaml:"network"`
	AdvertiseAddr string `yaml:"advertise_addr"`
	MediaPort     int    `yaml:"media_port"`
	Domain        string `yaml:"domain"`
	CallType      string `yaml:"call_type"` // VOIP or IMS
}

// RadioConfig describes the simulated radio environment.
type RadioConfig struct {
	AirplaneMode bool                `yaml:"airplane_mode"`
	Slots        []policy.SlotStatus `yaml:"slots"`
	AutoAnswer   bool                `yaml:"auto_answer"` // simulated remote party answers dialed calls
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		NodeID: "callservice-0",
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
		MaxLiveCalls:         6,
		MaxRinging:           1,
		MaxDialing:           1,
		CSConferenceLimit:    5,
		IMSConferenceLimit:   5,
		RingTimeout:          60 * time.Second,
		TransportTimeout:     10 * time.Second,
		MaxTransportRequests: 8,
		EventQueueSize:       256,
		EmergencyNumbers:     []string{"112", "911"},
		GRPCAddr:             "127.0.0.1:7070",
		HTTPAddr:             "127.0.0.1:7071",
		SIP: SIPConfig{
			Network:   "udp",
			MediaPort: 10000,
			CallType:  "VOIP",
		},
		Radio: RadioConfig{
			Slots:      defaultSlots(2),
			AutoAnswer: true,
		},
	}
}

func defaultSlots(n int) []policy.SlotStatus {
	slots := make([]policy.SlotStatus, n)
	for i := range slots {
		slots[i] = policy.SlotStatus{SIMPresent: true, InService: true, IMSRegistered: i == 0}
	}
	return slots
}

// Load builds the configuration from args (without the program name) and
// the environment.
func Load(args []string) (*Config, error) {
	// First pass only locates the config file.
	probe := Default()
	if err := bind(probe, new(int)).Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	cfg.File = probe.File
	if cfg.File != "" {
		if err := loadFile(cfg.File, cfg); err != nil {
			return nil, err
		}
	}

	slots := len(cfg.Radio.Slots)
	if err := bind(cfg, &slots).Parse(args); err != nil {
		return nil, err
	}
	if err := overrideWithEnv(cfg, &slots); err != nil {
		return nil, err
	}
	cfg.resizeSlots(slots)
	cfg.SIP.CallType = strings.ToUpper(cfg.SIP.CallType)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bind registers flags whose defaults are the current values of cfg.
func bind(cfg *Config, slots *int) *flag.FlagSet {
	fs := flag.NewFlagSet("callserviced", flag.ContinueOnError)
	fs.StringVar(&cfg.File, "config", cfg.File, "Path to YAML configuration file")
	fs.StringVar(&cfg.NodeID, "node", cfg.NodeID, "Node identifier stamped on published events")
	fs.StringVar(&cfg.Log.Level, "loglevel", cfg.Log.Level, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.Log.File, "logfile", cfg.Log.File, "Rotating log file (empty logs to stdout only)")
	fs.IntVar(&cfg.MaxLiveCalls, "max-calls", cfg.MaxLiveCalls, "Maximum live calls")
	fs.IntVar(&cfg.MaxRinging, "max-ringing", cfg.MaxRinging, "Maximum simultaneously ringing calls")
	fs.IntVar(&cfg.MaxDialing, "max-dialing", cfg.MaxDialing, "Maximum simultaneously dialing calls")
	fs.IntVar(&cfg.CSConferenceLimit, "cs-conference-limit", cfg.CSConferenceLimit, "Maximum CS conference members")
	fs.IntVar(&cfg.IMSConferenceLimit, "ims-conference-limit", cfg.IMSConferenceLimit, "Maximum IMS conference members")
	fs.DurationVar(&cfg.RingTimeout, "ring-timeout", cfg.RingTimeout, "Unanswered incoming calls are rejected after this long (0 disables)")
	fs.IntVar(&cfg.EventQueueSize, "queue", cfg.EventQueueSize, "Event loop queue size")
	fs.StringVar(&cfg.GRPCAddr, "grpc", cfg.GRPCAddr, "gRPC control API address")
	fs.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "HTTP API and websocket report address (empty disables)")
	fs.StringVar(&cfg.SIP.ListenAddr, "sip", cfg.SIP.ListenAddr, "SIP listen address for VoIP calls (empty disables)")
	fs.StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS server URL for call events (empty disables)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "HMAC secret for control API tokens (empty disables auth)")
	fs.IntVar(slots, "slots", *slots, "Number of SIM slots")
	fs.BoolVar(&cfg.Radio.AirplaneMode, "airplane", cfg.Radio.AirplaneMode, "Start in airplane mode")
	return fs
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func overrideWithEnv(cfg *Config, slots *int) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}
	str("NODE_ID", &cfg.NodeID)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FILE", &cfg.Log.File)
	str("GRPC_ADDR", &cfg.GRPCAddr)
	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("SIP_ADDR", &cfg.SIP.ListenAddr)
	str("SIP_ADVERTISE", &cfg.SIP.AdvertiseAddr)
	str("SIP_CALL_TYPE", &cfg.SIP.CallType)
	str("NATS_URL", &cfg.NATSURL)
	str("JWT_SECRET", &cfg.JWTSecret)

	if v := os.Getenv(envPrefix + "MAX_CALLS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_CALLS: %w", envPrefix, err)
		}
		cfg.MaxLiveCalls = n
	}
	if v := os.Getenv(envPrefix + "SLOTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sSLOTS: %w", envPrefix, err)
		}
		*slots = n
	}
	if v := os.Getenv(envPrefix + "RING_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sRING_TIMEOUT: %w", envPrefix, err)
		}
		cfg.RingTimeout = d
	}
	if v := os.Getenv(envPrefix + "AIRPLANE_MODE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sAIRPLANE_MODE: %w", envPrefix, err)
		}
		cfg.Radio.AirplaneMode = b
	}
	if v := os.Getenv(envPrefix + "EMERGENCY_NUMBERS"); v != "" {
		cfg.EmergencyNumbers = splitList(v)
	}
	return nil
}

// resizeSlots grows or shrinks the slot list to n, filling new slots with
// an in-service SIM.
func (c *Config) resizeSlots(n int) {
	if n < 0 || n == len(c.Radio.Slots) {
		return
	}
	if n < len(c.Radio.Slots) {
		c.Radio.Slots = c.Radio.Slots[:n]
		return
	}
	for len(c.Radio.Slots) < n {
		c.Radio.Slots = append(c.Radio.Slots, policy.SlotStatus{SIMPresent: true, InService: true})
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positive("max_live_calls", c.MaxLiveCalls)
	positive("max_ringing", c.MaxRinging)
	positive("max_dialing", c.MaxDialing)
	positive("cs_conference_limit", c.CSConferenceLimit)
	positive("ims_conference_limit", c.IMSConferenceLimit)
	positive("event_queue_size", c.EventQueueSize)
	positive("max_transport_requests", int(c.MaxTransportRequests))
	positive("slots", len(c.Radio.Slots))
	if c.RingTimeout < 0 {
		errs = append(errs, fmt.Errorf("ring_timeout must not be negative, got %s", c.RingTimeout))
	}
	if c.TransportTimeout <= 0 {
		errs = append(errs, fmt.Errorf("transport_timeout must be positive, got %s", c.TransportTimeout))
	}
	if c.GRPCAddr == "" {
		errs = append(errs, errors.New("grpc_addr is required"))
	}
	if t := c.SIP.CallType; t != "VOIP" && t != "IMS" {
		errs = append(errs, fmt.Errorf("sip.call_type must be VOIP or IMS, got %q", t))
	}
	return errors.Join(errs...)
}
