// Package config reads process configuration from the environment and
// webhook/platform secrets from a paramstore.Getter.
package config

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"student-helpdesk/internal/integrations/paramstore"
)

type Config struct {
	Env                string
	Port               string
	StateTable         string
	ParamPrefix        string
	RedisURL           string
	DedupTTL           time.Duration
	MaxContextMessages int
	OpenAIModel        string
	OpenAIBaseURL      string
	GraphBaseURL       string
	GraphVersion       string
	AllowUnsigned      bool
	SnowflakeNode      int64
}

// Load reads the environment. In development a .env file is loaded first when
// present; variables already set in the environment win.
func Load() (Config, error) {
	if getEnv("HELPDESK_ENV", "development") == "development" {
		_ = godotenv.Load(".env")
	}

	cfg := Config{
		Env:                getEnv("HELPDESK_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		StateTable:         getEnv("STATE_TABLE", ""),
		ParamPrefix:        strings.TrimRight(getEnv("PARAM_PREFIX", "/helpdesk"), "/"),
		RedisURL:           getEnv("REDIS_URL", ""),
		DedupTTL:           getEnvDuration("DEDUP_TTL", 24*time.Hour),
		MaxContextMessages: getEnvInt("MAX_CONTEXT_MESSAGES", 10),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", ""),
		GraphBaseURL:       getEnv("GRAPH_API_BASE_URL", "https://graph.facebook.com"),
		GraphVersion:       getEnv("GRAPH_API_VERSION", "v21.0"),
		AllowUnsigned:      getEnvBool("ALLOW_UNSIGNED_WEBHOOKS", false),
		SnowflakeNode:      int64(getEnvInt("SNOWFLAKE_NODE", defaultSnowflakeNode())),
	}

	if cfg.ParamPrefix == "" {
		return Config{}, errors.New("config: PARAM_PREFIX must not be empty")
	}
	if cfg.MaxContextMessages <= 0 {
		return Config{}, fmt.Errorf("config: MAX_CONTEXT_MESSAGES must be positive, got %d", cfg.MaxContextMessages)
	}
	if cfg.SnowflakeNode < 0 || cfg.SnowflakeNode > 1023 {
		return Config{}, fmt.Errorf("config: SNOWFLAKE_NODE must be within 0..1023, got %d", cfg.SnowflakeNode)
	}
	if cfg.AllowUnsigned && cfg.IsProduction() {
		return Config{}, errors.New("config: ALLOW_UNSIGNED_WEBHOOKS is not allowed in production")
	}
	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// Param returns the fully qualified parameter name under the prefix.
func (c Config) Param(name string) string {
	return c.ParamPrefix + "/" + strings.TrimLeft(name, "/")
}

// PlatformSecrets are the credentials of one messaging platform. Any field
// may be empty when the platform is not configured.
type PlatformSecrets struct {
	VerifyToken string
	AppSecret   string
	AccessToken string
	// PhoneNumberID is the WhatsApp sender number id; unused for Facebook.
	PhoneNumberID string
}

type Secrets struct {
	WhatsApp PlatformSecrets
	Facebook PlatformSecrets
}

// LoadSecrets resolves platform secrets under cfg.ParamPrefix. Missing
// parameters leave the field empty; any other lookup failure is returned.
// A shared verify_token fills in platforms without their own.
func LoadSecrets(ctx context.Context, cfg Config, getter paramstore.Getter) (Secrets, error) {
	if getter == nil {
		return Secrets{}, errors.New("config: param getter must not be nil")
	}

	var (
		out     Secrets
		err     error
		shared  string
		targets = []struct {
			name string
			dst  *string
		}{
			{"verify_token", &shared},
			{"whatsapp/verify_token", &out.WhatsApp.VerifyToken},
			{"whatsapp/app_secret", &out.WhatsApp.AppSecret},
			{"whatsapp/access_token", &out.WhatsApp.AccessToken},
			{"whatsapp/phone_number_id", &out.WhatsApp.PhoneNumberID},
			{"facebook/verify_token", &out.Facebook.VerifyToken},
			{"facebook/app_secret", &out.Facebook.AppSecret},
			{"facebook/page_access_token", &out.Facebook.AccessToken},
		}
	)
	for _, tgt := range targets {
		*tgt.dst, err = optionalParam(ctx, getter, cfg.Param(tgt.name))
		if err != nil {
			return Secrets{}, err
		}
	}

	if out.WhatsApp.VerifyToken == "" {
		out.WhatsApp.VerifyToken = shared
	}
	if out.Facebook.VerifyToken == "" {
		out.Facebook.VerifyToken = shared
	}
	return out, nil
}

func optionalParam(ctx context.Context, getter paramstore.Getter, name string) (string, error) {
	v, err := getter.GetParameter(ctx, name)
	if errors.Is(err, paramstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("config: load %s: %w", name, err)
	}
	return strings.TrimSpace(v), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// defaultSnowflakeNode spreads Lambda instances over the node space by
// hashing the instance's log stream name. Outside Lambda it is 1.
func defaultSnowflakeNode() int {
	stream := os.Getenv("AWS_LAMBDA_LOG_STREAM_NAME")
	if stream == "" {
		return 1
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(stream))
	return int(h.Sum32() % 1024)
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
