package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config defines the timing and addressing behavior of the system. It's
// constructed once at process start and passed by value into each component's
// constructor; there is no process-wide mutable config.
type Config struct {
	// Where the gateway accepts registrations and discovery queries.
	GatewayHost      string
	RegistrationPort int

	// How often the failure detector probes each registered node, how long it
	// waits for an ack, and how many consecutive misses make a node dead.
	HeartbeatInterval   time.Duration
	HeartbeatTimeout    time.Duration
	MaxMissedHeartbeats int

	// How often each partition manager polls for membership.
	DiscoveryInterval time.Duration

	// When the first rebalance runs after start, and how often after that.
	RebalanceDelay    time.Duration
	RebalanceInterval time.Duration

	// How long after an observed join/leave before rebalancing. Short, so
	// convergence doesn't wait for the next periodic cycle.
	PostAddDelay    time.Duration
	PostRemoveDelay time.Duration

	// How often partition metadata is reconciled with peers. The sync task is
	// currently a placeholder; the interval is here so it's tunable when it
	// grows behavior.
	MetadataSyncInterval time.Duration
}

// Default returns the intervals the system was designed around. Tests
// shorten these; production mostly shouldn't.
func Default() Config {
	return Config{
		GatewayHost:      "localhost",
		RegistrationPort: 8000,

		HeartbeatInterval:   5 * time.Second,
		HeartbeatTimeout:    3 * time.Second,
		MaxMissedHeartbeats: 3,

		DiscoveryInterval: 10 * time.Second,

		RebalanceDelay:    5 * time.Second,
		RebalanceInterval: 30 * time.Second,

		PostAddDelay:    2 * time.Second,
		PostRemoveDelay: 1 * time.Second,

		MetadataSyncInterval: 15 * time.Second,
	}
}

// fileConfig is the TOML shape. Durations are milliseconds, since TOML has no
// duration type. Zero/absent fields keep their defaults.
type fileConfig struct {
	GatewayHost      string `toml:"gateway_host"`
	RegistrationPort int    `toml:"registration_port"`

	HeartbeatIntervalMs int `toml:"heartbeat_interval_ms"`
	HeartbeatTimeoutMs  int `toml:"heartbeat_timeout_ms"`
	MaxMissedHeartbeats int `toml:"max_missed_heartbeats"`

	DiscoveryIntervalMs int `toml:"discovery_interval_ms"`

	RebalanceDelayMs    int `toml:"rebalance_delay_ms"`
	RebalanceIntervalMs int `toml:"rebalance_interval_ms"`

	PostAddDelayMs    int `toml:"post_add_delay_ms"`
	PostRemoveDelayMs int `toml:"post_remove_delay_ms"`

	MetadataSyncIntervalMs int `toml:"metadata_sync_interval_ms"`
}

// Load reads a TOML config file and overlays it onto the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if fc.GatewayHost != "" {
		cfg.GatewayHost = fc.GatewayHost
	}
	if fc.RegistrationPort != 0 {
		cfg.RegistrationPort = fc.RegistrationPort
	}
	if fc.HeartbeatIntervalMs != 0 {
		cfg.HeartbeatInterval = time.Duration(fc.HeartbeatIntervalMs) * time.Millisecond
	}
	if fc.HeartbeatTimeoutMs != 0 {
		cfg.HeartbeatTimeout = time.Duration(fc.HeartbeatTimeoutMs) * time.Millisecond
	}
	if fc.MaxMissedHeartbeats != 0 {
		cfg.MaxMissedHeartbeats = fc.MaxMissedHeartbeats
	}
	if fc.DiscoveryIntervalMs != 0 {
		cfg.DiscoveryInterval = time.Duration(fc.DiscoveryIntervalMs) * time.Millisecond
	}
	if fc.RebalanceDelayMs != 0 {
		cfg.RebalanceDelay = time.Duration(fc.RebalanceDelayMs) * time.Millisecond
	}
	if fc.RebalanceIntervalMs != 0 {
		cfg.RebalanceInterval = time.Duration(fc.RebalanceIntervalMs) * time.Millisecond
	}
	if fc.PostAddDelayMs != 0 {
		cfg.PostAddDelay = time.Duration(fc.PostAddDelayMs) * time.Millisecond
	}
	if fc.PostRemoveDelayMs != 0 {
		cfg.PostRemoveDelay = time.Duration(fc.PostRemoveDelayMs) * time.Millisecond
	}
	if fc.MetadataSyncIntervalMs != 0 {
		cfg.MetadataSyncInterval = time.Duration(fc.MetadataSyncIntervalMs) * time.Millisecond
	}

	return cfg, nil
}

// GatewayAddr returns the address nodes dial to register and discover.
func (c Config) GatewayAddr() string {
	return fmt.Sprintf("%s:%d", c.GatewayHost, c.RegistrationPort)
}
