package config

import (
	"strings"

	"github.com/spf13/viper"
)

// RetryConfig mirrors execution.RetryConfig's shape for config decode.
type RetryConfig struct {
	MaxAttempts int     `mapstructure:"maxAttempts"`
	BaseDelayMs int     `mapstructure:"baseDelayMs"`
	MaxDelayMs  int     `mapstructure:"maxDelayMs"`
	Jitter      float64 `mapstructure:"jitter"`
}

// CircuitBreakerConfig mirrors execution.BreakerConfig's shape.
type CircuitBreakerConfig struct {
	FailureThreshold     int `mapstructure:"failureThreshold"`
	CooldownMs           int `mapstructure:"cooldownMs"`
	HalfOpenMaxSuccesses int `mapstructure:"halfOpenMaxSuccesses"`
}

// ReconciliationConfig mirrors reconciler.Config's shape.
type ReconciliationConfig struct {
	AckTimeoutMs  int64 `mapstructure:"ackTimeoutMs"`
	FillTimeoutMs int64 `mapstructure:"fillTimeoutMs"`
	PollIntervalMs int64 `mapstructure:"pollIntervalMs"`
}

// ReliabilityConfig bundles retry/breaker/reconciliation under execution.
type ReliabilityConfig struct {
	Retry           RetryConfig          `mapstructure:"retry"`
	CircuitBreaker  CircuitBreakerConfig `mapstructure:"circuitBreaker"`
	Reconciliation  ReconciliationConfig `mapstructure:"reconciliation"`
}

// PolicyConfig mirrors intent.Policy's shape.
type PolicyConfig struct {
	Mode            string  `mapstructure:"mode"`
	NotionalUsd     float64 `mapstructure:"notionalUsd"`
	LimitOffsetBps  float64 `mapstructure:"limitOffsetBps"`
	MinEdgeBps      float64 `mapstructure:"minEdgeBps"`
	MakerFeeBps     float64 `mapstructure:"makerFeeBps"`
	TakerFeeBps     float64 `mapstructure:"takerFeeBps"`
	PostOnly        bool    `mapstructure:"postOnly"`
	ReduceOnly      bool    `mapstructure:"reduceOnly"`
	TIF             string  `mapstructure:"tif"`
	CooldownMs      int64   `mapstructure:"cooldownMs"`
	DedupeWindowMs  int64   `mapstructure:"dedupeWindowMs"`
}

// ExecutionConfig is the execution sub-tree (spec.md §6).
type ExecutionConfig struct {
	Account     string            `mapstructure:"account"`
	Policy      PolicyConfig      `mapstructure:"policy"`
	Reliability ReliabilityConfig `mapstructure:"reliability"`
}

// PersistenceConfig is the persistence sub-tree.
type PersistenceConfig struct {
	Driver        string `mapstructure:"driver"`
	SqlitePath    string `mapstructure:"sqlitePath"`
	QueueCapacity int    `mapstructure:"queueCapacity"`
}

// GatewayConfig is the gateway (control-plane HTTP) sub-tree.
type GatewayConfig struct {
	Port int `mapstructure:"port"`
}

// ThrottleConfig mirrors domain.Throttle's shape.
type ThrottleConfig struct {
	WindowMs int64 `mapstructure:"windowMs"`
	MaxCount int   `mapstructure:"maxCount"`
}

// PriceBandConfig mirrors domain.PriceBand's shape, keyed by symbol in RiskConfig.
type PriceBandConfig struct {
	Min float64 `mapstructure:"min"`
	Max float64 `mapstructure:"max"`
}

// RiskConfig is the risk sub-tree.
type RiskConfig struct {
	Notional    float64                    `mapstructure:"notional"`
	MaxPosition float64                    `mapstructure:"maxPosition"`
	PriceBands  map[string]PriceBandConfig `mapstructure:"priceBands"`
	Throttle    ThrottleConfig             `mapstructure:"throttle"`
}

// ExitConfig mirrors exit.Config's shape for per-strategy decode.
type ExitConfig struct {
	MaxSymbolExposureUsd float64 `mapstructure:"maxSymbolExposureUsd"`
	MaxGrossExposureUsd  float64 `mapstructure:"maxGrossExposureUsd"`
	MaxDrawdownPct       float64 `mapstructure:"maxDrawdownPct"`
	MarginBufferPct      float64 `mapstructure:"marginBufferPct"`
	MinHoldMs            int64   `mapstructure:"minHoldMs"`
	MaxHoldMs            int64   `mapstructure:"maxHoldMs"`
	EpsilonBps           float64 `mapstructure:"epsilonBps"`
	SigmaLookback        int     `mapstructure:"sigmaLookback"`
	TPSigma              float64 `mapstructure:"tpSigma"`
	SLSigma              float64 `mapstructure:"slSigma"`
	InitArmPnLSigma      float64 `mapstructure:"initArmPnLSigma"`
	RetracePct           float64 `mapstructure:"retracePct"`
}

// StrategyConfig is one entry of the strategies list (spec.md §6).
type StrategyConfig struct {
	ID           string                 `mapstructure:"id"`
	Type         string                 `mapstructure:"type"`
	TradeSymbol  string                 `mapstructure:"tradeSymbol"`
	PrimaryFeed  string                 `mapstructure:"primaryFeed"`
	ExtraFeeds   []string               `mapstructure:"extraFeeds"`
	Params       map[string]any         `mapstructure:"params"`
	Mode         string                 `mapstructure:"mode"` // "live" or "sandbox"
	Priority     int                    `mapstructure:"priority"`
	Budget       map[string]float64     `mapstructure:"budget"`
	Exit         ExitConfig             `mapstructure:"exit"`
}

// AccountingConfig is the accounting sub-tree.
type AccountingConfig struct {
	SeedDemoBalance         float64 `mapstructure:"seedDemoBalance"`
	BalanceSyncIntervalMs   int64   `mapstructure:"balanceSyncIntervalMs"`
	BalanceSyncMaxDriftBps  float64 `mapstructure:"balanceSyncMaxDriftBps"`
	BalanceSyncMutatesLedger bool   `mapstructure:"balanceSyncMutatesLedger"`
}

// RebalancerExecutorConfig is the rebalancer's execution sub-tree.
type RebalancerExecutorConfig struct {
	Auto bool   `mapstructure:"auto"`
	Mode string `mapstructure:"mode"`
}

// RebalancerConfig is the rebalancer sub-tree.
type RebalancerConfig struct {
	Targets    map[string]float64       `mapstructure:"targets"`
	IntervalMs int64                    `mapstructure:"intervalMs"`
	Executor   RebalancerExecutorConfig `mapstructure:"executor"`
}

// Tree is the full nested configuration document spec.md §6 names,
// layered on top of the flat env-based Config for secrets/toggles.
type Tree struct {
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Execution   ExecutionConfig   `mapstructure:"execution"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Strategies  []StrategyConfig  `mapstructure:"strategies"`
	Accounting  AccountingConfig  `mapstructure:"accounting"`
	Rebalancer  RebalancerConfig  `mapstructure:"rebalancer"`
}

// LoadTree reads the nested document from configPath (YAML) with env
// override support (TRADING_CORE_<SECTION>_<KEY>), grounded on the
// viper pattern used for the nested bot config in the wider pack.
func LoadTree(configPath string) (*Tree, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TRADING_CORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var tree Tree
	if err := v.Unmarshal(&tree); err != nil {
		return nil, err
	}
	return &tree, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("persistence.driver", "memory")
	v.SetDefault("persistence.queueCapacity", 4096)
	v.SetDefault("gateway.port", 8080)
	v.SetDefault("execution.policy.mode", "market")
	v.SetDefault("execution.policy.tif", "IOC")
	v.SetDefault("execution.reliability.retry.maxAttempts", 3)
	v.SetDefault("execution.reliability.retry.baseDelayMs", 200)
	v.SetDefault("execution.reliability.retry.maxDelayMs", 5000)
	v.SetDefault("execution.reliability.retry.jitter", 0.2)
	v.SetDefault("execution.reliability.circuitBreaker.failureThreshold", 5)
	v.SetDefault("execution.reliability.circuitBreaker.cooldownMs", 30000)
	v.SetDefault("execution.reliability.circuitBreaker.halfOpenMaxSuccesses", 3)
	v.SetDefault("execution.reliability.reconciliation.ackTimeoutMs", 5000)
	v.SetDefault("execution.reliability.reconciliation.fillTimeoutMs", 30000)
	v.SetDefault("execution.reliability.reconciliation.pollIntervalMs", 1000)
	v.SetDefault("accounting.balanceSyncIntervalMs", 60000)
	v.SetDefault("accounting.balanceSyncMaxDriftBps", 50)
	v.SetDefault("rebalancer.intervalMs", 0) // 0 disables the rebalancer
}
