// Package config loads service settings from the environment (optionally
// via a .env file) and the YAML position seed.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"trading-riskv1/internal/execution"
	"trading-riskv1/internal/model"
	smartconnect "trading-riskv1/pkg/smartconnect"
)

// Config holds all application configuration.
type Config struct {
	// Angel One credentials
	AngelAPIKey     string
	AngelClientCode string
	AngelPassword   string
	AngelTOTPSecret string

	// Infrastructure
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	HTTPAddr      string
	CORSOrigins   []string

	// Feed
	SubscribeTokens string // "exchangeType:token,..."
	StagingMode     bool
	SimWSURL        string
	TickBatchWindow time.Duration
	MarketHolidays  []string // extra YYYY-MM-DD closures

	// Sizing and display
	DefaultStopDistancePct float64
	DisplayMultiplier      float64
	PositionsFile          string
	TotalRisk              decimal.Decimal
	CheckpointInterval     time.Duration

	// Execution
	ExecutionMode    execution.Mode
	PaperSlippageBps int64
	GatewayURL       string

	// Alerts
	NotifyWebhookURL string
	TelegramBotToken string
	TelegramChatID   string

	LogLevel string
}

// Load reads envPath (or ./.env when empty) if it exists, then the
// environment. Variables already set in the environment win over the file.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	var errs []error
	c := &Config{
		AngelAPIKey:     os.Getenv("ANGEL_API_KEY"),
		AngelClientCode: os.Getenv("ANGEL_CLIENT_CODE"),
		AngelPassword:   os.Getenv("ANGEL_PASSWORD"),
		AngelTOTPSecret: os.Getenv("ANGEL_TOTP_SECRET"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/risk.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		CORSOrigins:   splitList(getEnv("CORS_ORIGINS", "*")),

		// Default: NIFTY 50 index on NSE_CM, for the quote board
		SubscribeTokens: getEnv("SUBSCRIBE_TOKENS", "1:99926000"),
		SimWSURL:        getEnv("SIM_WS_URL", "ws://localhost:9001/ws"),
		MarketHolidays:  splitList(getEnv("MARKET_HOLIDAYS", "")),

		PositionsFile:    getEnv("POSITIONS_FILE", ""),
		GatewayURL:       getEnv("GATEWAY_URL", ""),
		NotifyWebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if c.StagingMode, err = getBool("STAGING_MODE", false); err != nil {
		errs = append(errs, err)
	}
	if c.RedisEnabled, err = getBool("REDIS_ENABLED", true); err != nil {
		errs = append(errs, err)
	}
	windowMs, err := getInt("TICK_BATCH_WINDOW_MS", 250)
	if err != nil {
		errs = append(errs, err)
	}
	c.TickBatchWindow = time.Duration(windowMs) * time.Millisecond
	checkpointSec, err := getInt("CHECKPOINT_INTERVAL_SEC", 30)
	if err != nil {
		errs = append(errs, err)
	}
	c.CheckpointInterval = time.Duration(checkpointSec) * time.Second
	if c.DefaultStopDistancePct, err = getFloat("DEFAULT_STOP_DISTANCE_PCT", 0.10); err != nil {
		errs = append(errs, err)
	}
	if c.DisplayMultiplier, err = getFloat("DISPLAY_MULTIPLIER", 0.2); err != nil {
		errs = append(errs, err)
	}
	if c.PaperSlippageBps, err = getInt("PAPER_SLIPPAGE_BPS", 5); err != nil {
		errs = append(errs, err)
	}
	if c.TotalRisk, err = decimal.NewFromString(getEnv("TOTAL_RISK", "0")); err != nil {
		errs = append(errs, fmt.Errorf("TOTAL_RISK: %w", err))
	}
	if c.ExecutionMode, err = execution.ParseMode(getEnv("EXECUTION_MODE", "")); err != nil {
		errs = append(errs, err)
	}

	errs = append(errs, c.validate()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return c, nil
}

// NeedsBrokerSession reports whether a SmartAPI login is required: for the
// live feed outside staging, or to route orders to the broker.
func (c *Config) NeedsBrokerSession() bool {
	return !c.StagingMode || c.ExecutionMode == execution.ModeBroker
}

func (c *Config) validate() []error {
	var errs []error
	if c.NeedsBrokerSession() {
		for key, v := range map[string]string{
			"ANGEL_API_KEY":     c.AngelAPIKey,
			"ANGEL_CLIENT_CODE": c.AngelClientCode,
			"ANGEL_PASSWORD":    c.AngelPassword,
			"ANGEL_TOTP_SECRET": c.AngelTOTPSecret,
		} {
			if v == "" {
				errs = append(errs, fmt.Errorf("required env var %s not set", key))
			}
		}
	}
	if c.ExecutionMode == execution.ModeGateway && c.GatewayURL == "" {
		errs = append(errs, errors.New("GATEWAY_URL is required for EXECUTION_MODE=gateway"))
	}
	if c.TickBatchWindow <= 0 {
		errs = append(errs, errors.New("TICK_BATCH_WINDOW_MS must be positive"))
	}
	if c.CheckpointInterval <= 0 {
		errs = append(errs, errors.New("CHECKPOINT_INTERVAL_SEC must be positive"))
	}
	if c.DisplayMultiplier <= 0 || c.DisplayMultiplier == 1 {
		errs = append(errs, errors.New("DISPLAY_MULTIPLIER must be positive and not 1"))
	}
	if c.TotalRisk.IsNegative() {
		errs = append(errs, errors.New("TOTAL_RISK must not be negative"))
	}
	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together"))
	}
	return errs
}

// exchangeTypes maps exchange names used in positions to feed exchange types.
var exchangeTypes = map[string]int{
	"NSE": smartconnect.NSE_CM,
	"NFO": smartconnect.NSE_FO,
	"BSE": smartconnect.BSE_CM,
	"BFO": smartconnect.BSE_FO,
	"MCX": smartconnect.MCX_FO,
}

// TokenList merges SUBSCRIBE_TOKENS with the tokens of positions into feed
// subscription groups. Positions without an exchange are taken as NSE.
// Groups are ordered by exchange type; duplicate tokens are dropped.
func (c *Config) TokenList(positions []model.Position) ([]smartconnect.TokenListEntry, error) {
	groups := map[int][]string{}
	seen := map[string]bool{}
	add := func(exType int, token string) {
		key := strconv.Itoa(exType) + ":" + token
		if seen[key] {
			return
		}
		seen[key] = true
		groups[exType] = append(groups[exType], token)
	}

	for _, pair := range splitList(c.SubscribeTokens) {
		exStr, token, ok := strings.Cut(pair, ":")
		exType, err := strconv.Atoi(strings.TrimSpace(exStr))
		token = strings.TrimSpace(token)
		if !ok || err != nil || token == "" {
			return nil, fmt.Errorf("config: bad SUBSCRIBE_TOKENS entry %q", pair)
		}
		add(exType, token)
	}
	for _, p := range positions {
		exchange := strings.ToUpper(p.Exchange)
		if exchange == "" {
			exchange = "NSE"
		}
		exType, ok := exchangeTypes[exchange]
		if !ok {
			return nil, fmt.Errorf("config: position %s has unknown exchange %q", p.Token, p.Exchange)
		}
		add(exType, p.Token)
	}

	keys := make([]int, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]smartconnect.TokenListEntry, 0, len(keys))
	for _, k := range keys {
		out = append(out, smartconnect.TokenListEntry{ExchangeType: k, Tokens: groups[k]})
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getInt(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
