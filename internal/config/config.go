package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/niftyrun/internal/decision"
	"github.com/sawpanic/niftyrun/internal/domain"
	"github.com/sawpanic/niftyrun/internal/domain/guards"
	"github.com/sawpanic/niftyrun/internal/domain/signals"
	"github.com/sawpanic/niftyrun/internal/domain/sizing"
	"github.com/sawpanic/niftyrun/internal/infrastructure/db"
	"github.com/sawpanic/niftyrun/internal/instruments"
	"github.com/sawpanic/niftyrun/internal/marketdata"
	"github.com/sawpanic/niftyrun/internal/notify"
)

// DefaultPath is where the CLI looks for the configuration file
const DefaultPath = "config/niftyrun.yaml"

// Feed modes
const (
	FeedHeartbeat = "heartbeat"
	FeedWebSocket = "ws"
)

// ConfigError reports an invalid configuration field
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) error {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Config is the complete niftyrun configuration
type Config struct {
	Universe    UniverseConfig              `yaml:"universe"`
	Execution   ExecutionConfig             `yaml:"execution"`
	Risk        RiskConfig                  `yaml:"risk"`
	Signals     signals.Config              `yaml:"signals"`
	Policy      PolicyConfig                `yaml:"policy"`
	Instruments map[string]InstrumentConfig `yaml:"instruments"`
	Feed        FeedConfig                  `yaml:"feed"`
	OptionChain OptionChainConfig           `yaml:"option_chain"`
	Database    db.Config                   `yaml:"database"`
	Redis       RedisConfig                 `yaml:"redis"`
	Audit       AuditConfig                 `yaml:"audit"`
	HTTP        HTTPConfig                  `yaml:"http"`
	Telegram    notify.Config               `yaml:"telegram"`
}

type UniverseConfig struct {
	Indices []string `yaml:"indices"`
}

type ExecutionConfig struct {
	PrimaryBroker string `yaml:"primary_broker"`
}

// RiskConfig holds the account and guard limits
type RiskConfig struct {
	Capital           float64                 `yaml:"capital"`
	PerTradeRiskPct   float64                 `yaml:"per_trade_risk_pct"`
	MaxDailyLossPct   float64                 `yaml:"max_daily_loss_pct"`
	MaxPositions      int                     `yaml:"max_positions"`
	ConfidenceCeiling int                     `yaml:"confidence_ceiling"`
	TimeGuards        guards.TimeGuardsConfig `yaml:"time_guards"`
}

// PolicyConfig holds the stop rule and decision-record constants
type PolicyConfig struct {
	Stop       sizing.StopRule       `yaml:"stop"`
	PointValue float64               `yaml:"point_value"`
	Expiry     decision.ExpiryPolicy `yaml:"expiry"`
	EntryType  string                `yaml:"entry_type"`
	TSL        string                `yaml:"tsl"`
	RMultiple  float64               `yaml:"r_multiple"`
}

type InstrumentConfig struct {
	LotSize int `yaml:"lot_size"`
}

// FeedConfig selects the tick source and how day levels are derived
type FeedConfig struct {
	Mode     string        `yaml:"mode"`
	WSURL    string        `yaml:"ws_url"`
	Interval time.Duration `yaml:"interval"`
	Levels   string        `yaml:"levels"`
}

type OptionChainConfig struct {
	Source   string        `yaml:"source"`
	BaseURL  string        `yaml:"base_url"`
	Auth     string        `yaml:"auth"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	RPS      float64       `yaml:"rps"`
}

// RedisConfig backs both the option-chain cache and the risk state mirror. An
// empty address keeps both in process.
type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	RiskStateKey string `yaml:"risk_state_key"`
}

type AuditConfig struct {
	JSONLPath string `yaml:"jsonl_path"`
}

type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Default returns the demo configuration
func Default() Config {
	gc := guards.DefaultGuardConfig()
	pol := decision.DefaultPolicy()
	return Config{
		Universe:  UniverseConfig{Indices: []string{instruments.NIFTY50}},
		Execution: ExecutionConfig{PrimaryBroker: domain.BrokerAngelOne},
		Risk: RiskConfig{
			Capital:           17000,
			PerTradeRiskPct:   0.01,
			MaxDailyLossPct:   gc.MaxDailyLossPct,
			MaxPositions:      gc.MaxPositions,
			ConfidenceCeiling: pol.ConfidenceCeiling,
			TimeGuards:        gc.TimeGuards,
		},
		Signals: signals.DefaultConfig(),
		Policy: PolicyConfig{
			Stop:       sizing.DefaultStopRule(),
			PointValue: 1.0,
			Expiry:     pol.Expiry,
			EntryType:  pol.EntryType,
			TSL:        pol.TSL,
			RMultiple:  pol.RMultiple,
		},
		Feed: FeedConfig{Mode: FeedHeartbeat, Interval: time.Second, Levels: marketdata.LevelsDemo},
		OptionChain: OptionChainConfig{
			Source:   marketdata.SourceMock,
			BaseURL:  "https://api.sensibull.com",
			Timeout:  5 * time.Second,
			CacheTTL: 30 * time.Second,
			RPS:      2,
		},
		Database: db.DefaultConfig(),
		Redis:    RedisConfig{RiskStateKey: "niftyrun:risk_state"},
		HTTP:     HTTPConfig{Host: "127.0.0.1", Port: 8080},
		Telegram: notify.Config{Timeout: 5 * time.Second},
	}
}

// Load reads a .env file if present, then the YAML at path layered over
// Default(), then environment overrides, and validates the result. A missing
// file at the default path yields the demo configuration.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to load .env")
	}

	cfg := Default()
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
		log.Info().Str("path", path).Msg("config file not found, using defaults")
	default:
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnvOverrides layers the supported environment variables onto c
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv("CAPITAL"); v != "" {
		capital, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return invalid("CAPITAL", "not a number: %q", v)
		}
		c.Risk.Capital = capital
	}
	if v := os.Getenv("PRIMARY_BROKER"); v != "" {
		c.Execution.PrimaryBroker = v
	}
	c.Database.ApplyEnvOverrides()
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("SENSIBULL_BASE"); v != "" {
		c.OptionChain.BaseURL = v
	}
	if v := os.Getenv("SENSIBULL_AUTH"); v != "" {
		c.OptionChain.Auth = v
	}
	if v := os.Getenv("FEED_WS_URL"); v != "" {
		c.Feed.WSURL = v
		c.Feed.Mode = FeedWebSocket
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return invalid("HTTP_PORT", "not a port: %q", v)
		}
		c.HTTP.Port = port
	}
	return nil
}

// Validate returns a *ConfigError for the first invalid field
func (c Config) Validate() error {
	if len(c.Universe.Indices) == 0 {
		return invalid("universe.indices", "at least one index is required")
	}
	for _, idx := range c.Universe.Indices {
		if !instruments.IsKnown(idx) {
			return invalid("universe.indices", "unknown index %q", idx)
		}
	}
	if !domain.IsKnownBroker(c.Execution.PrimaryBroker) {
		return invalid("execution.primary_broker", "unknown broker %q", c.Execution.PrimaryBroker)
	}

	for _, f := range []struct {
		field string
		value float64
	}{
		{"risk.capital", c.Risk.Capital},
		{"risk.per_trade_risk_pct", c.Risk.PerTradeRiskPct},
		{"risk.max_daily_loss_pct", c.Risk.MaxDailyLossPct},
		{"signals.oi_momentum.min_oi_delta_5m_pct", c.Signals.OIMomentum.MinOIDelta5mPct},
		{"policy.stop.pct", c.Policy.Stop.Pct},
		{"policy.stop.points", c.Policy.Stop.Points},
		{"policy.stop.atr_mult", c.Policy.Stop.ATRMult},
		{"policy.stop.min_points", c.Policy.Stop.MinPoints},
		{"policy.point_value", c.Policy.PointValue},
		{"policy.r_multiple", c.Policy.RMultiple},
		{"option_chain.rps", c.OptionChain.RPS},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return invalid(f.field, "must be a finite number, got %v", f.value)
		}
	}

	r := c.Risk
	if r.Capital <= 0 {
		return invalid("risk.capital", "must be positive, got %v", r.Capital)
	}
	if r.PerTradeRiskPct <= 0 || r.PerTradeRiskPct > 1 {
		return invalid("risk.per_trade_risk_pct", "must be within (0, 1], got %v", r.PerTradeRiskPct)
	}
	if r.MaxDailyLossPct <= 0 {
		return invalid("risk.max_daily_loss_pct", "must be positive, got %v", r.MaxDailyLossPct)
	}
	if r.MaxPositions < 1 {
		return invalid("risk.max_positions", "must be at least 1, got %d", r.MaxPositions)
	}
	if r.ConfidenceCeiling < 0 || r.ConfidenceCeiling >= 100 {
		return invalid("risk.confidence_ceiling", "must be within [0, 100), got %d", r.ConfidenceCeiling)
	}
	if _, err := guards.NewChain(c.GuardConfig()); err != nil {
		return invalid("risk.time_guards", "%v", err)
	}

	if _, err := signals.NewRegistryFromConfig(c.Signals); err != nil {
		return invalid("signals", "%v", err)
	}
	if err := c.Policy.Stop.Validate(); err != nil {
		return invalid("policy.stop", "%v", err)
	}
	if c.Policy.PointValue <= 0 {
		return invalid("policy.point_value", "must be positive, got %v", c.Policy.PointValue)
	}
	if err := c.DecisionPolicy().Validate(); err != nil {
		return invalid("policy", "%v", err)
	}

	for sym, inst := range c.Instruments {
		if !instruments.IsKnown(sym) {
			return invalid("instruments", "unknown index %q", sym)
		}
		if inst.LotSize <= 0 {
			return invalid("instruments."+sym+".lot_size", "must be positive, got %d", inst.LotSize)
		}
	}

	switch c.Feed.Mode {
	case FeedHeartbeat:
	case FeedWebSocket:
		if c.Feed.WSURL == "" {
			return invalid("feed.ws_url", "required in ws mode")
		}
	default:
		return invalid("feed.mode", "must be heartbeat or ws, got %q", c.Feed.Mode)
	}
	if c.Feed.Interval <= 0 {
		return invalid("feed.interval", "must be positive, got %s", c.Feed.Interval)
	}
	if c.Feed.Levels != marketdata.LevelsDemo && c.Feed.Levels != marketdata.LevelsSession {
		return invalid("feed.levels", "must be demo or session, got %q", c.Feed.Levels)
	}

	switch c.OptionChain.Source {
	case marketdata.SourceMock, marketdata.SourceNeutral, marketdata.SourceSensibull:
	default:
		return invalid("option_chain.source", "unknown source %q", c.OptionChain.Source)
	}

	if err := c.Database.Validate(); err != nil {
		return invalid("database", "%v", err)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return invalid("http.port", "out of range: %d", c.HTTP.Port)
	}
	if err := c.Telegram.Validate(); err != nil {
		return invalid("telegram", "%v", err)
	}
	return nil
}

// GuardConfig projects the risk section onto the guard chain thresholds
func (c Config) GuardConfig() guards.GuardConfig {
	return guards.GuardConfig{
		MaxDailyLossPct: c.Risk.MaxDailyLossPct,
		MaxPositions:    c.Risk.MaxPositions,
		TimeGuards:      c.Risk.TimeGuards,
	}
}

// DecisionPolicy projects the policy and execution sections onto the assembler policy
func (c Config) DecisionPolicy() decision.Policy {
	p := decision.DefaultPolicy()
	p.ConfidenceCeiling = c.Risk.ConfidenceCeiling
	p.EntryType = c.Policy.EntryType
	p.TSL = c.Policy.TSL
	p.RMultiple = c.Policy.RMultiple
	p.Expiry = c.Policy.Expiry
	p.Broker = c.Execution.PrimaryBroker
	return p
}

// OptionChainHTTP returns the HTTP provider settings
func (c Config) OptionChainHTTP() marketdata.HTTPConfig {
	return marketdata.HTTPConfig{
		BaseURL:  c.OptionChain.BaseURL,
		Auth:     c.OptionChain.Auth,
		Timeout:  c.OptionChain.Timeout,
		CacheTTL: c.OptionChain.CacheTTL,
		RPS:      c.OptionChain.RPS,
	}
}

// LotSizeOverrides returns the configured lot sizes keyed by index
func (c Config) LotSizeOverrides() map[string]int {
	out := make(map[string]int, len(c.Instruments))
	for sym, inst := range c.Instruments {
		out[sym] = inst.LotSize
	}
	return out
}
