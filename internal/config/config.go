package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Cron   CronConfig   `mapstructure:"cron"`

	Broker    BrokerConfig    `mapstructure:"broker"`
	Modules   ModulesConfig   `mapstructure:"modules"`
	Cycle     CycleConfig     `mapstructure:"cycle"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Exit      ExitConfig      `mapstructure:"exit"`
	Optimizer OptimizerConfig `mapstructure:"optimizer"`

	ModuleDefaults map[string]any `mapstructure:"module_defaults"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
	// APIToken guards /api routes when set; empty leaves the API open.
	APIToken string `mapstructure:"api_token"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	DailyStats    string `mapstructure:"daily_stats"`
	SnapshotPrune string `mapstructure:"snapshot_prune"`
}

type BrokerConfig struct {
	// Mode is "live" or "simulated". Simulated fills are stamped on every
	// downstream record so they are never mistaken for real executions.
	Mode      string        `mapstructure:"mode"`
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	APIKeyEnv string        `mapstructure:"api_key_env"`

	StreamURL             string        `mapstructure:"stream_url"`
	StreamRefreshInterval time.Duration `mapstructure:"stream_refresh_interval"`

	// SimStartingCash seeds the simulated account in simulated mode.
	SimStartingCash float64 `mapstructure:"sim_starting_cash"`
}

// ModulesConfig lists the watchlist per decision module.
type ModulesConfig struct {
	CryptoSymbols []string `mapstructure:"crypto_symbols"`
	EquitySymbols []string `mapstructure:"equity_symbols"`
	FXSymbols     []string `mapstructure:"fx_symbols"`
}

type CycleConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// Budget is the soft wall-clock limit for one cycle; modules beyond it
	// are skipped and retried next cycle.
	Budget           time.Duration `mapstructure:"budget"`
	OptimizeEveryN   int           `mapstructure:"optimize_every_n"`
	FillPollInterval time.Duration `mapstructure:"fill_poll_interval"`
	FillPollTimeout  time.Duration `mapstructure:"fill_poll_timeout"`
}

type RiskConfig struct {
	MaxOpenPositions int     `mapstructure:"max_open_positions"`
	RiskPerTradePct  float64 `mapstructure:"risk_per_trade_pct"`
	DailyLossPct     float64 `mapstructure:"daily_loss_pct"`
	PerSymbolCapPct  float64 `mapstructure:"per_symbol_cap_pct"`

	// ClassCeilings maps asset class -> max fraction of equity during the
	// primary session; OffHoursCeilings applies during the off-hours session.
	// Both entry sizing and over-allocation exits read the same lookup.
	ClassCeilings    map[string]float64 `mapstructure:"class_ceilings"`
	OffHoursCeilings map[string]float64 `mapstructure:"off_hours_ceilings"`

	// Off-hours session window in UTC hours [start, end).
	OffHoursStartUTC int `mapstructure:"off_hours_start_utc"`
	OffHoursEndUTC   int `mapstructure:"off_hours_end_utc"`
}

type ExitConfig struct {
	StopLossPct float64       `mapstructure:"stop_loss_pct"`
	MinHold     time.Duration `mapstructure:"min_hold"`

	// LadderGains/LadderFracs define the profit-protection ladder: at gain
	// threshold LadderGains[i], exit LadderFracs[i] of the remaining quantity.
	LadderGains []float64 `mapstructure:"ladder_gains"`
	LadderFracs []float64 `mapstructure:"ladder_fracs"`

	FullTargetPct         float64 `mapstructure:"full_target_pct"`
	RebalanceMinProfitPct float64 `mapstructure:"rebalance_min_profit_pct"`
}

type OptimizerConfig struct {
	WindowDays       int     `mapstructure:"window_days"`
	MinSamples       int     `mapstructure:"min_samples"`
	MinValueVariance float64 `mapstructure:"min_value_variance"`
	MinConfidence    float64 `mapstructure:"min_confidence"`
	MaxChangesPerRun int     `mapstructure:"max_changes_per_run"`
	ExplorationBonus float64 `mapstructure:"exploration_bonus"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.api_token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.daily_stats", "@every 6h")
	v.SetDefault("cron.snapshot_prune", "0 0 3 * * *")

	v.SetDefault("broker.mode", "simulated")
	v.SetDefault("broker.base_url", "")
	v.SetDefault("broker.timeout", "10s")
	v.SetDefault("broker.api_key_env", "AT_BROKER_API_KEY")
	v.SetDefault("broker.stream_url", "")
	v.SetDefault("broker.stream_refresh_interval", "30s")
	v.SetDefault("broker.sim_starting_cash", 100000)

	v.SetDefault("modules.crypto_symbols", []string{"BTC-USD", "ETH-USD"})
	v.SetDefault("modules.equity_symbols", []string{"SPY", "QQQ"})
	v.SetDefault("modules.fx_symbols", []string{"EUR-USD", "USD-JPY"})

	v.SetDefault("cycle.interval", "60s")
	v.SetDefault("cycle.budget", "45s")
	v.SetDefault("cycle.optimize_every_n", 60)
	v.SetDefault("cycle.fill_poll_interval", "500ms")
	v.SetDefault("cycle.fill_poll_timeout", "15s")

	v.SetDefault("risk.max_open_positions", 12)
	v.SetDefault("risk.risk_per_trade_pct", 0.02)
	v.SetDefault("risk.daily_loss_pct", 0.03)
	v.SetDefault("risk.per_symbol_cap_pct", 0.10)
	v.SetDefault("risk.class_ceilings", map[string]float64{
		"crypto": 0.30,
		"equity": 0.50,
		"fx":     0.25,
	})
	v.SetDefault("risk.off_hours_ceilings", map[string]float64{
		"crypto": 0.20,
		"equity": 0.30,
		"fx":     0.15,
	})
	v.SetDefault("risk.off_hours_start_utc", 21)
	v.SetDefault("risk.off_hours_end_utc", 13)

	v.SetDefault("exit.stop_loss_pct", 0.10)
	v.SetDefault("exit.min_hold", "30m")
	v.SetDefault("exit.ladder_gains", []float64{0.06, 0.10, 0.15})
	v.SetDefault("exit.ladder_fracs", []float64{0.20, 0.30, 0.40})
	v.SetDefault("exit.full_target_pct", 0.25)
	v.SetDefault("exit.rebalance_min_profit_pct", 0.005)

	v.SetDefault("optimizer.window_days", 14)
	v.SetDefault("optimizer.min_samples", 20)
	v.SetDefault("optimizer.min_value_variance", 1e-6)
	v.SetDefault("optimizer.min_confidence", 0.6)
	v.SetDefault("optimizer.max_changes_per_run", 3)
	v.SetDefault("optimizer.exploration_bonus", 0.25)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
