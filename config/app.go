package config

import (
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig is the process configuration read from the environment.
type AppConfig struct {
	Port            string
	MongoDB         string
	AllowedOrigins  []string
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	GeminiAPIKey    string
	GeminiLiveModel string
	GeminiLiveVoice string
	GeminiLiveURL   string
	VertexProjectID string
	VertexLocation  string
	VertexModel     string
	TuningFile      string
	PostgresEnabled bool
	RedisConfigured bool
}

// LoadEnv loads .env when present. A missing file is not an error.
func LoadEnv() {
	_ = godotenv.Load()
}

// InitApp reads AppConfig from the environment.
func InitApp() (*AppConfig, error) {
	cfg := &AppConfig{
		Port:            getenv("PORT", "8080"),
		MongoDB:         getenv("MONGO_DB", "intervue"),
		JWTSecret:       os.Getenv("SUPABASE_JWT_SECRET"),
		JWTIssuer:       os.Getenv("SUPABASE_JWT_ISSUER"),
		JWTAudience:     os.Getenv("SUPABASE_JWT_AUDIENCE"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		GeminiLiveModel: getenv("GEMINI_LIVE_MODEL", "gemini-2.5-flash-native-audio-preview-12-2025"),
		GeminiLiveVoice: getenv("GEMINI_LIVE_VOICE", "Zephyr"),
		GeminiLiveURL:   os.Getenv("GEMINI_LIVE_URL"),
		VertexProjectID: os.Getenv("VERTEX_PROJECT_ID"),
		VertexLocation:  getenv("VERTEX_LOCATION", "us-central1"),
		VertexModel:     getenv("VERTEX_MODEL", "gemini-2.0-flash"),
		TuningFile:      os.Getenv("INTERVIEW_CONFIG_FILE"),
		PostgresEnabled: os.Getenv("POSTGRES_URI") != "",
		RedisConfigured: redisAddr() != "",
	}
	for _, o := range strings.Split(os.Getenv("WS_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}
	if cfg.GeminiAPIKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable is not set")
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
