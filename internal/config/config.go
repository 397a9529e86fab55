package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	Provider  ProviderConfig
	Token     TokenConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// ProviderConfig describes the single trusted upstream identity provider.
// The service never runs the authorization-code exchange itself; it only
// verifies id_tokens issued by this provider.
type ProviderConfig struct {
	Issuer   string
	ClientID string
}

type TokenConfig struct {
	Secret string
	// AnonymousTTL is the lifetime of the anonymous bearer token cookie.
	AnonymousTTL time.Duration
	// AccessTokenTTL is the lifetime of access tokens for linked sessions.
	AccessTokenTTL time.Duration
	// SessionTTL is the lifetime of the verified-session claims snapshot.
	SessionTTL time.Duration
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "5002")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_ENVIRONMENT", "development")
	viper.SetDefault("MONGODB_DATABASE", "driftnote")
	viper.SetDefault("MONGODB_TIMEOUT", 10)
	viper.SetDefault("ANONYMOUS_TOKEN_TTL_DAYS", 30)
	viper.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 15)
	viper.SetDefault("SESSION_TTL_HOURS", 168)
	viper.SetDefault("RATE_LIMIT_RPS", 10.0)
	viper.SetDefault("RATE_LIMIT_BURST", 20)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			Environment:  viper.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		MongoDB: MongoDBConfig{
			URI:      viper.GetString("MONGODB_URI"),
			Database: viper.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(viper.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       0,
		},
		Provider: ProviderConfig{
			Issuer:   viper.GetString("PROVIDER_ISSUER"),
			ClientID: viper.GetString("PROVIDER_CLIENT_ID"),
		},
		Token: TokenConfig{
			Secret:         os.Getenv("TOKEN_SECRET"),
			AnonymousTTL:   time.Duration(viper.GetInt("ANONYMOUS_TOKEN_TTL_DAYS")) * 24 * time.Hour,
			AccessTokenTTL: time.Duration(viper.GetInt("ACCESS_TOKEN_TTL_MINUTES")) * time.Minute,
			SessionTTL:     time.Duration(viper.GetInt("SESSION_TTL_HOURS")) * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:       viper.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:      viper.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:           viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         viper.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds: viper.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
	}

	// Basic validation
	if cfg.Token.Secret == "" {
		log.Println("WARNING: TOKEN_SECRET is not set; set a secure value in production")
	}

	return cfg, nil
}
