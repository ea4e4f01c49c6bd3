// Package config provides configuration loading and validation for the
// opportunity engine: endpoints, venues, monitored pairs and cycles, and
// the detection/qualifier/risk-gate thresholds.
package config

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Endpoints []EndpointConfig `mapstructure:"endpoints"`
	Venues    []VenueConfig   `mapstructure:"venues"`
	Pairs     []PairConfig    `mapstructure:"monitored_pairs"`
	Cycles    []CycleConfig   `mapstructure:"triangular_cycles"`
	Detection DetectionConfig `mapstructure:"detection"`
	Qualifier QualifierConfig `mapstructure:"qualifier"`
	Feed      FeedConfig      `mapstructure:"feed"`
	RiskGate  RiskGateConfig  `mapstructure:"risk_gate"`
	Store     StoreConfig     `mapstructure:"store"`
	HTTPAPI   HTTPAPIConfig   `mapstructure:"http_api"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// EndpointConfig describes one RPC endpoint in RpcPool's ordered list.
type EndpointConfig struct {
	URL           string        `mapstructure:"url"`
	Weight        int           `mapstructure:"weight"`
	MaxRetries    int           `mapstructure:"max_retries"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// VenueConfig describes one AMM venue (factory + fee schedule).
type VenueConfig struct {
	Name    string `mapstructure:"name"`
	Factory string `mapstructure:"factory"`
	FeeNum  uint64 `mapstructure:"fee_num"`
	FeeDen  uint64 `mapstructure:"fee_den"`
}

// FactoryAddress returns the venue's factory address as common.Address.
func (v VenueConfig) FactoryAddress() common.Address {
	return common.HexToAddress(v.Factory)
}

// TokenConfig is an explicitly-decimaled token reference used in pair and
// cycle configuration; decimals are never inferred.
type TokenConfig struct {
	Address  string `mapstructure:"address"`
	Symbol   string `mapstructure:"symbol"`
	Decimals uint8  `mapstructure:"decimals"`
}

// Addr returns the token's address as common.Address.
func (t TokenConfig) Addr() common.Address {
	return common.HexToAddress(t.Address)
}

// PairConfig is a monitored two-token pair with its declared quote token.
type PairConfig struct {
	TokenA TokenConfig `mapstructure:"token_a"`
	TokenB TokenConfig `mapstructure:"token_b"`
	Quote  TokenConfig `mapstructure:"quote"`
}

// CycleConfig is a monitored triangular cycle (three tokens, first == last
// implied) with its declared quote token for profit/gas comparison.
type CycleConfig struct {
	Tokens [3]TokenConfig `mapstructure:"tokens"`
	Quote  TokenConfig    `mapstructure:"quote"`
}

// DetectionConfig tunes the Detector (§4.5).
type DetectionConfig struct {
	MinMargin                float64 `mapstructure:"min_margin"`
	MaxPositionSize          string  `mapstructure:"max_position_size"` // decimal string, token units
	MaxBlockSkew             uint64  `mapstructure:"max_block_skew"`
	MaxOpportunitiesPerBlock int     `mapstructure:"max_opportunities_per_block"`
}

// QualifierConfig tunes the Qualifier (§4.6).
type QualifierConfig struct {
	MinProfitQuote     float64       `mapstructure:"min_profit_quote"`
	MinMargin          float64       `mapstructure:"min_margin"`
	MinLiquidityQuote  float64       `mapstructure:"min_liquidity_quote"`
	MaxPriceImpact      float64       `mapstructure:"max_price_impact"`
	MaxGasPriceWei      uint64        `mapstructure:"max_gas_price_wei"`
	SafetyMargin        float64       `mapstructure:"safety_margin"`
	OpportunityTimeout  time.Duration `mapstructure:"opportunity_timeout"`
	GasBuffer           float64       `mapstructure:"gas_buffer"`
	GasEstimateTwoLeg    uint64       `mapstructure:"gas_estimate_two_leg"`
	GasEstimateTriangular uint64      `mapstructure:"gas_estimate_triangular"`
	EmitRejected        bool          `mapstructure:"emit_rejected"`
}

// FeedConfig tunes PriceFeed (§4.4).
type FeedConfig struct {
	BatchSize         int           `mapstructure:"batch_size"`
	StaggerDelay      time.Duration `mapstructure:"stagger_delay"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	ScanInterval      time.Duration `mapstructure:"scan_interval"`
	FailoverThreshold int           `mapstructure:"failover_threshold"`
	CooldownPeriod    time.Duration `mapstructure:"cooldown_period"`
	UnhealthyAfter    time.Duration `mapstructure:"unhealthy_after"`
}

// RiskGateConfig tunes RiskGate (§4.7).
type RiskGateConfig struct {
	MaxPortfolioExposure   float64       `mapstructure:"max_portfolio_exposure"`
	MaxDailyLoss           float64       `mapstructure:"max_daily_loss"`
	MaxDrawdown            float64       `mapstructure:"max_drawdown"`
	MaxConcurrentPositions int           `mapstructure:"max_concurrent_positions"`
	MinPosition            string        `mapstructure:"min_position"`
	MaxPosition            string        `mapstructure:"max_position"`
	AssumedLossFraction    float64       `mapstructure:"assumed_loss_fraction"`
	KellyFraction          float64       `mapstructure:"kelly_fraction"`
	AvailableCapital       string        `mapstructure:"available_capital"`
	DailyResetAt           string        `mapstructure:"daily_reset_at"` // "HH:MM" wall-clock UTC
	ShutdownGrace          time.Duration `mapstructure:"shutdown_grace"`
}

// StoreConfig configures the opportunity store / price-history sink.
type StoreConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	BufferLimit     int           `mapstructure:"buffer_limit"`
	OutageMax       time.Duration `mapstructure:"outage_max"`
	PriceHistoryOn  bool          `mapstructure:"price_history_enabled"`
}

// HTTPAPIConfig configures the read-only HTTP API surface.
type HTTPAPIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPHeaders    string `mapstructure:"otlp_headers"`
	PrometheusPort int    `mapstructure:"prometheus_port"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("ARB")
	v.AutomaticEnv()

	bindEnvVars(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("app.name", "ARB_APP_NAME", "SERVICE_NAME")
	v.BindEnv("app.environment", "ARB_ENVIRONMENT", "ENVIRONMENT")
	v.BindEnv("app.log_level", "ARB_LOG_LEVEL", "LOG_LEVEL")

	v.BindEnv("qualifier.min_profit_quote", "ARB_MIN_PROFIT_QUOTE")
	v.BindEnv("qualifier.max_gas_price_wei", "ARB_MAX_GAS_PRICE_WEI")
	v.BindEnv("detection.min_margin", "ARB_MIN_MARGIN")

	v.BindEnv("store.endpoint", "ARB_STORE_ENDPOINT")
	v.BindEnv("http_api.listen_addr", "ARB_HTTP_LISTEN_ADDR")

	v.BindEnv("telemetry.enabled", "ARB_OTEL_ENABLED", "OTEL_ENABLED")
	v.BindEnv("telemetry.service_name", "ARB_OTEL_SERVICE_NAME", "OTEL_SERVICE_NAME")
	v.BindEnv("telemetry.otlp_endpoint", "ARB_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "arbflux")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("detection.min_margin", 0.005)
	v.SetDefault("detection.max_position_size", "1000000000000000000000") // 1000 tokens @ 18dp
	v.SetDefault("detection.max_block_skew", 1)

	v.SetDefault("qualifier.min_profit_quote", 10.0)
	v.SetDefault("qualifier.min_margin", 0.005)
	v.SetDefault("qualifier.min_liquidity_quote", 1000.0)
	v.SetDefault("qualifier.max_price_impact", 0.005)
	v.SetDefault("qualifier.max_gas_price_wei", 200_000_000_000) // 200 gwei
	v.SetDefault("qualifier.safety_margin", 0.1)
	v.SetDefault("qualifier.opportunity_timeout", "30s")
	v.SetDefault("qualifier.gas_buffer", 1.2)
	v.SetDefault("qualifier.gas_estimate_two_leg", 200_000)
	v.SetDefault("qualifier.gas_estimate_triangular", 300_000)
	v.SetDefault("qualifier.emit_rejected", true)

	v.SetDefault("feed.batch_size", 25)
	v.SetDefault("feed.stagger_delay", "100ms")
	v.SetDefault("feed.cache_ttl", "30s")
	v.SetDefault("feed.scan_interval", "5s")
	v.SetDefault("feed.failover_threshold", 3)
	v.SetDefault("feed.cooldown_period", "60s")
	v.SetDefault("feed.unhealthy_after", "30s")

	v.SetDefault("risk_gate.max_portfolio_exposure", 0.25)
	v.SetDefault("risk_gate.max_daily_loss", 500.0)
	v.SetDefault("risk_gate.max_drawdown", 0.2)
	v.SetDefault("risk_gate.max_concurrent_positions", 5)
	v.SetDefault("risk_gate.min_position", "1000000000000000") // 0.001 token @18dp
	v.SetDefault("risk_gate.max_position", "1000000000000000000000")
	v.SetDefault("risk_gate.assumed_loss_fraction", 0.1)
	v.SetDefault("risk_gate.kelly_fraction", 0.25)
	v.SetDefault("risk_gate.available_capital", "10000000000000000000000") // 10000 tokens @18dp
	v.SetDefault("risk_gate.daily_reset_at", "00:00")
	v.SetDefault("risk_gate.shutdown_grace", "5s")

	v.SetDefault("store.buffer_limit", 10_000)
	v.SetDefault("store.outage_max", "60s")
	v.SetDefault("store.price_history_enabled", true)

	v.SetDefault("http_api.listen_addr", ":8090")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "arbflux")
	v.SetDefault("telemetry.prometheus_port", 9090)
}

// Validate validates the configuration against the invariants spec §6 and
// §3 require: at least one endpoint, well-formed venue fee schedules,
// distinct pair and cycle tokens, a non-negative minimum profit, and a
// positive feed batch size and cache TTL.
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("endpoints cannot be empty")
	}
	for i, e := range c.Endpoints {
		if e.URL == "" {
			return fmt.Errorf("endpoints[%d].url is required", i)
		}
	}
	if len(c.Venues) == 0 {
		return fmt.Errorf("venues cannot be empty")
	}
	for _, v := range c.Venues {
		if v.Name == "" {
			return fmt.Errorf("venue name is required")
		}
		if !common.IsHexAddress(v.Factory) {
			return fmt.Errorf("venue %s: invalid factory address %q", v.Name, v.Factory)
		}
		if v.FeeDen == 0 {
			return fmt.Errorf("venue %s: fee_den cannot be zero", v.Name)
		}
		if v.FeeNum == 0 || v.FeeNum > v.FeeDen {
			return fmt.Errorf("venue %s: fee_num must be in (0, fee_den]", v.Name)
		}
	}
	for i, p := range c.Pairs {
		if err := validateToken(p.TokenA, fmt.Sprintf("monitored_pairs[%d].token_a", i)); err != nil {
			return err
		}
		if err := validateToken(p.TokenB, fmt.Sprintf("monitored_pairs[%d].token_b", i)); err != nil {
			return err
		}
		if p.TokenA.Addr() == p.TokenB.Addr() {
			return fmt.Errorf("monitored_pairs[%d]: token_a and token_b must be distinct", i)
		}
	}
	for i, cyc := range c.Cycles {
		seen := make(map[common.Address]bool, 3)
		for j, t := range cyc.Tokens {
			if err := validateToken(t, fmt.Sprintf("triangular_cycles[%d].tokens[%d]", i, j)); err != nil {
				return err
			}
			if seen[t.Addr()] {
				return fmt.Errorf("triangular_cycles[%d]: tokens must be distinct", i)
			}
			seen[t.Addr()] = true
		}
	}
	if c.Qualifier.MinProfitQuote < 0 {
		return fmt.Errorf("qualifier.min_profit_quote must be non-negative")
	}
	if c.Feed.BatchSize <= 0 {
		return fmt.Errorf("feed.batch_size must be positive")
	}
	if c.Feed.CacheTTL <= 0 {
		return fmt.Errorf("feed.cache_ttl must be positive")
	}
	return nil
}

func validateToken(t TokenConfig, path string) error {
	if !common.IsHexAddress(t.Address) {
		return fmt.Errorf("%s: invalid address %q", path, t.Address)
	}
	if t.Symbol == "" {
		return fmt.Errorf("%s: symbol is required", path)
	}
	return nil
}
