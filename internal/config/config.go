package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr  string
	StoreMode   string
	DatabaseURL string
	JWTSecret   string
	ConnectCode string

	DerivAPIToken        string
	DerivAppID           string
	DerivEndpoint        string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	HeartbeatGrace       time.Duration
	RequestTimeout       time.Duration

	CycleInterval    time.Duration
	SymbolDelay      time.Duration
	CandleCount      int
	MinCandles       int
	DefaultStake     float64
	ContractDuration time.Duration
	RetentionWindow  time.Duration

	MaxTradesPerCycle int
	DailyTradeLimit   int

	TelegramBotToken string
	TelegramChatID   string
}

func Load() Config {
	return Config{
		ListenAddr:  getEnv("LISTEN_ADDR", ":18090"),
		StoreMode:   getEnv("STORE_MODE", "postgres"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", "change-this-secret"),
		ConnectCode: getEnv("CONNECT_CODE", "DERIVBOT-ONE-TIME-CODE"),

		DerivAPIToken:        getEnv("DERIV_API_TOKEN", ""),
		DerivAppID:           getEnv("DERIV_APP_ID", "1089"),
		DerivEndpoint:        getEnv("DERIV_ENDPOINT", "wss://ws.derivws.com/websockets/v3"),
		MaxReconnectAttempts: getInt("DERIV_MAX_RECONNECT_ATTEMPTS", 10),
		ReconnectDelay:       getDuration("DERIV_RECONNECT_DELAY", 5*time.Second),
		ReconnectMaxDelay:    getDuration("DERIV_RECONNECT_MAX_DELAY", 20*time.Second),
		HeartbeatInterval:    getDuration("DERIV_HEARTBEAT_INTERVAL", 15*time.Second),
		HeartbeatGrace:       getDuration("DERIV_HEARTBEAT_GRACE", 10*time.Second),
		RequestTimeout:       getDuration("DERIV_REQUEST_TIMEOUT", 15*time.Second),

		CycleInterval:    getDuration("CYCLE_INTERVAL", 30*time.Second),
		SymbolDelay:      getDuration("SYMBOL_DELAY", 2*time.Second),
		CandleCount:      getInt("CANDLE_COUNT", 100),
		MinCandles:       getInt("MIN_CANDLES", 20),
		DefaultStake:     getFloat("DEFAULT_STAKE", 10),
		ContractDuration: getDuration("CONTRACT_DURATION", 5*time.Minute),
		RetentionWindow:  getDuration("RETENTION_WINDOW", time.Hour),

		MaxTradesPerCycle: getInt("MAX_TRADES_PER_CYCLE", 3),
		DailyTradeLimit:   getInt("DAILY_TRADE_LIMIT", 50),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
