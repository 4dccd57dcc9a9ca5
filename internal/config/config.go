package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port            string
	DatabaseDSN     string
	JWTSecret       string
	Env             string
	TokenTTLMinutes int

	MaxUserCount    int
	LiveTimeout     time.Duration
	ResultRetention time.Duration
	WaitingTTL      time.Duration
	SweepSpec       string
	HostOnlyStart   bool

	RateLimitPerSecond int
	RateLimitBurst     int
	CORSOrigins        []string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 读取整数配置，非法值回退到默认值。allowZero 控制 0 是否合法。
func getenvInt(key string, def int, allowZero bool) int {
	v, err := strconv.Atoi(getenv(key, ""))
	if err != nil || v < 0 || (v == 0 && !allowZero) {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v, err := strconv.ParseBool(getenv(key, ""))
	if err != nil {
		return def
	}
	return v
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func Load() Config {
	return Config{
		Port:            getenv("APP_PORT", "8080"),
		DatabaseDSN:     getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=gameserver port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:       getenv("JWT_SECRET", defaultJWTSecret),
		Env:             getenv("APP_ENV", "dev"),
		TokenTTLMinutes: getenvInt("TOKEN_TTL_MINUTES", 0, true),

		MaxUserCount:    getenvInt("ROOM_MAX_USER_COUNT", 4, false),
		LiveTimeout:     time.Duration(getenvInt("ROOM_LIVE_TIMEOUT_SECONDS", 300, false)) * time.Second,
		ResultRetention: time.Duration(getenvInt("ROOM_RESULT_RETENTION_SECONDS", 60, false)) * time.Second,
		WaitingTTL:      time.Duration(getenvInt("ROOM_WAITING_TTL_MINUTES", 30, false)) * time.Minute,
		SweepSpec:       getenv("ROOM_SWEEP_SPEC", "@every 1m"),
		HostOnlyStart:   getenvBool("ROOM_HOST_ONLY_START", false),

		RateLimitPerSecond: getenvInt("RATE_LIMIT_PER_SECOND", 20, false),
		RateLimitBurst:     getenvInt("RATE_LIMIT_BURST", 40, false),
		CORSOrigins:        splitList(getenv("CORS_ALLOWED_ORIGINS", "")),
	}
}

// Validate 检查启动所需的最小配置，非 dev 环境禁止使用默认密钥。
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("config: APP_PORT is empty")
	}
	if strings.TrimSpace(cfg.DatabaseDSN) == "" {
		return errors.New("config: DATABASE_DSN is empty")
	}
	if cfg.Env != "dev" && (cfg.JWTSecret == "" || cfg.JWTSecret == defaultJWTSecret) {
		return errors.New("config: JWT_SECRET must be set outside dev")
	}
	if cfg.MaxUserCount < 0 {
		return errors.New("config: ROOM_MAX_USER_COUNT must not be negative")
	}
	return nil
}
