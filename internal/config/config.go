package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string

	CustodiaEnv string

	IssuerPrivateKeySeedHex string
	IssuerPrivateKeyBase64  string
	IssuerKeyPassphrase     string
	IssuerKeyFile           string

	CheckpointMaxReceipts    int
	CheckpointIntervalMillis int

	AnchorMode     string
	AnchorEndpoint string
	AnchorNetwork  string

	RegoBundlePath   string
	RegoBundleSHA256 string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	HeadCacheTTL  int
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:                 addr,
		PostgresDSN:              os.Getenv("POSTGRES_DSN"),
		LogLevel:                 envDefault("LOG_LEVEL", "info"),
		CustodiaEnv:              os.Getenv("CUSTODIA_ENV"),
		IssuerPrivateKeySeedHex:  os.Getenv("ISSUER_PRIVATE_KEY_SEED_HEX"),
		IssuerPrivateKeyBase64:   os.Getenv("ISSUER_PRIVATE_KEY_BASE64"),
		IssuerKeyPassphrase:      os.Getenv("ISSUER_KEY_PASSPHRASE"),
		IssuerKeyFile:            os.Getenv("ISSUER_KEY_FILE"),
		CheckpointMaxReceipts:    envIntDefault("CHECKPOINT_MAX_RECEIPTS", 100),
		CheckpointIntervalMillis: envIntDefault("CHECKPOINT_INTERVAL_MS", 60000),
		AnchorMode:               envDefault("ANCHOR_MODE", "simulated"),
		AnchorEndpoint:           os.Getenv("ANCHOR_ENDPOINT"),
		AnchorNetwork:            envDefault("ANCHOR_NETWORK", "sim:local"),
		RegoBundlePath:           os.Getenv("REGO_BUNDLE_PATH"),
		RegoBundleSHA256:         os.Getenv("REGO_BUNDLE_SHA256"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  envIntDefault("REDIS_DB", 0),
		HeadCacheTTL:             envIntDefault("HEAD_CACHE_TTL_SECONDS", 300),
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func (c Config) CheckpointInterval() time.Duration {
	if c.CheckpointIntervalMillis <= 0 {
		return 0
	}
	return time.Duration(c.CheckpointIntervalMillis) * time.Millisecond
}
