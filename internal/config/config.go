// Package config holds the recognised configuration surface and its
// environment overrides.
package config

import (
	"strconv"
	"strings"
	"time"

	"crateclash/internal/input"
	"crateclash/internal/latency"
	"crateclash/internal/net/proto"
	"crateclash/internal/telemetry"
)

type Config struct {
	// Display
	CanvasWidth  int
	CanvasHeight int

	// Network
	LogNetworkTraffic bool
	FakeLag           time.Duration
	FakeLagVariation  float64
	Latency           latency.Config
	WireCodec         string
	ServerAddr        string
	ServerURL         string

	// Input
	LogKeyEvents bool
	KeyBindings  input.Bindings
	KeyHold      time.Duration

	// Authority
	StateInterval int
	WorldSeed     int64

	// Event log
	LogJSONPath string
}

func Default() Config {
	return Config{
		CanvasWidth:      800,
		CanvasHeight:     600,
		FakeLag:          600 * time.Millisecond,
		FakeLagVariation: 0.1,
		Latency:          latency.DefaultConfig(),
		WireCodec:        proto.CodecJSON,
		ServerAddr:       ":8080",
		ServerURL:        "ws://localhost:8080/ws",
		KeyBindings:      input.DefaultBindings(),
		KeyHold:          250 * time.Millisecond,
		StateInterval:    30,
		WorldSeed:        1,
	}
}

// FromEnv applies overrides from lookup on top of Default. Values that fail
// to parse are reported through logger and leave the default in place.
func FromEnv(lookup func(string) (string, bool), logger telemetry.Logger) Config {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	cfg := Default()
	p := parser{lookup: lookup, logger: logger}

	p.setInt("CANVAS_WIDTH", &cfg.CanvasWidth)
	p.setInt("CANVAS_HEIGHT", &cfg.CanvasHeight)

	p.setBool("LOG_NETWORK_TRAFFIC", &cfg.LogNetworkTraffic)
	p.setMillis("FAKE_LAG_MILLISECONDS", &cfg.FakeLag)
	p.setFloat("FAKE_LAG_VARIATION", &cfg.FakeLagVariation)
	p.setInt("PINGS_UNTIL_CLOCK_SYNCED", &cfg.Latency.PingsUntilSynced)
	p.setInt("PINGS_TO_STORE", &cfg.Latency.PingsToStore)
	p.setInt("PINGS_TO_IGNORE", &cfg.Latency.PingsToIgnore)
	p.setMillis("MILLISECONDS_BETWEEN_PINGS", &cfg.Latency.PingInterval)
	p.setMillis("MILLISECONDS_BETWEEN_PINGS_INITIALLY", &cfg.Latency.InitialPingInterval)
	p.setFloat("TIME_SYNC_LOWER_BOUND_WEIGHT", &cfg.Latency.LowerBoundWeight)
	p.setInt("EXTRA_FRAME_LATENCY_BUFFER", &cfg.Latency.ExtraFrameBuffer)
	p.setString("SERVER_ADDR", &cfg.ServerAddr)
	p.setString("SERVER_URL", &cfg.ServerURL)

	if raw, ok := p.get("WIRE_CODEC"); ok {
		if _, err := proto.CodecByName(raw); err == nil {
			cfg.WireCodec = strings.ToLower(raw)
		} else {
			logger.Printf("invalid WIRE_CODEC=%q: %v", raw, err)
		}
	}

	p.setBool("LOG_KEY_EVENTS", &cfg.LogKeyEvents)
	if raw, ok := p.get("KEY_BINDINGS"); ok {
		if bindings, err := input.ParseBindings(raw); err == nil {
			cfg.KeyBindings = bindings
		} else {
			logger.Printf("invalid KEY_BINDINGS=%q: %v", raw, err)
		}
	}
	p.setMillis("KEY_HOLD_MILLISECONDS", &cfg.KeyHold)

	p.setInt("STATE_INTERVAL_FRAMES", &cfg.StateInterval)
	if raw, ok := p.get("WORLD_SEED"); ok {
		if value, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cfg.WorldSeed = value
		} else {
			logger.Printf("invalid WORLD_SEED=%q: %v", raw, err)
		}
	}

	p.setString("LOG_JSON_PATH", &cfg.LogJSONPath)

	if cfg.Latency.LowerBoundWeight < 0 || cfg.Latency.LowerBoundWeight > 1 {
		logger.Printf("TIME_SYNC_LOWER_BOUND_WEIGHT=%v outside [0,1]; using default", cfg.Latency.LowerBoundWeight)
		cfg.Latency.LowerBoundWeight = latency.DefaultConfig().LowerBoundWeight
	}
	if cfg.FakeLagVariation < 0 || cfg.FakeLagVariation > 1 {
		logger.Printf("FAKE_LAG_VARIATION=%v outside [0,1]; using default", cfg.FakeLagVariation)
		cfg.FakeLagVariation = Default().FakeLagVariation
	}
	return cfg
}

type parser struct {
	lookup func(string) (string, bool)
	logger telemetry.Logger
}

func (p parser) get(name string) (string, bool) {
	if p.lookup == nil {
		return "", false
	}
	raw, ok := p.lookup(name)
	raw = strings.TrimSpace(raw)
	return raw, ok && raw != ""
}

func (p parser) setString(name string, dst *string) {
	if raw, ok := p.get(name); ok {
		*dst = raw
	}
}

func (p parser) setInt(name string, dst *int) {
	raw, ok := p.get(name)
	if !ok {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		p.logger.Printf("invalid %s=%q: %v", name, raw, err)
		return
	}
	if value < 0 {
		p.logger.Printf("invalid %s=%q: must not be negative", name, raw)
		return
	}
	*dst = value
}

func (p parser) setFloat(name string, dst *float64) {
	if raw, ok := p.get(name); ok {
		if value, err := strconv.ParseFloat(raw, 64); err == nil {
			*dst = value
		} else {
			p.logger.Printf("invalid %s=%q: %v", name, raw, err)
		}
	}
}

func (p parser) setBool(name string, dst *bool) {
	if raw, ok := p.get(name); ok {
		if value, err := strconv.ParseBool(raw); err == nil {
			*dst = value
		} else {
			p.logger.Printf("invalid %s=%q: %v", name, raw, err)
		}
	}
}

func (p parser) setMillis(name string, dst *time.Duration) {
	raw, ok := p.get(name)
	if !ok {
		return
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms < 0 {
		p.logger.Printf("invalid %s=%q: want non-negative milliseconds", name, raw)
		return
	}
	*dst = time.Duration(ms) * time.Millisecond
}

// Codec resolves WireCodec, falling back to JSON.
func (c Config) Codec() proto.Codec {
	codec, err := proto.CodecByName(c.WireCodec)
	if err != nil {
		return proto.JSON{}
	}
	return codec
}
