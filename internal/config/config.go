package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Mode string

const (
	ModeLocal  Mode = "local"  // mock tutor unless told otherwise
	ModeGemini Mode = "gemini" // Gemini API with an API key
	ModeVertex Mode = "vertex" // Gemini through Vertex AI
)

const envPrefix = "TUTOR"

type Config struct {
	Mode Mode

	Port string

	APIKey       string
	GCPProjectID string
	GCPLocation  string
	ModelName    string
	UseMockLLM   bool // true = use mock even with credentials

	RequestTimeout time.Duration

	TurnLogBackend string // "memory", "sqlite" or "firestore"
	SQLitePath     string

	LogLevel string

	MaxImageBytes     int64
	MaxImageDimension int

	RateLimitRPS   float64
	RateLimitBurst int

	SessionIdleTimeout time.Duration
	MaxSessions        int
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env")
// into the process environment. Missing files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// NewViper returns a viper instance with defaults and TUTOR_* env binding.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// the provider credential is also accepted under its usual name
	_ = v.BindEnv("api_key", envPrefix+"_API_KEY", "GEMINI_API_KEY")

	v.SetDefault("mode", string(ModeLocal))
	v.SetDefault("port", "8080")
	v.SetDefault("gcp_location", "us-central1")
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("turn_log_backend", "memory")
	v.SetDefault("sqlite_path", "clevercompass.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("max_image_bytes", 10*1024*1024)
	v.SetDefault("max_image_dimension", 0)
	v.SetDefault("rate_limit_rps", 5.0)
	v.SetDefault("rate_limit_burst", 10)
	v.SetDefault("session_idle_timeout", 24*time.Hour)
	v.SetDefault("max_sessions", 1000)

	return v
}

// Load reads a config file (if configFile is set) and the environment, and
// builds the config
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var mode Mode
	switch strings.ToLower(v.GetString("mode")) {
	case "gemini":
		mode = ModeGemini
	case "vertex", "gcp":
		mode = ModeVertex
	case "", "local":
		mode = ModeLocal
	default:
		mode = Mode(v.GetString("mode"))
	}

	useMock := mode == ModeLocal
	if v.IsSet("use_mock_llm") {
		useMock = v.GetBool("use_mock_llm")
	}

	cfg := &Config{
		Mode: mode,

		Port: v.GetString("port"),

		APIKey:       v.GetString("api_key"),
		GCPProjectID: v.GetString("gcp_project"),
		GCPLocation:  v.GetString("gcp_location"),
		ModelName:    v.GetString("model_name"),
		UseMockLLM:   useMock,

		RequestTimeout: v.GetDuration("request_timeout"),

		TurnLogBackend: strings.ToLower(v.GetString("turn_log_backend")),
		SQLitePath:     v.GetString("sqlite_path"),

		LogLevel: v.GetString("log_level"),

		MaxImageBytes:     v.GetInt64("max_image_bytes"),
		MaxImageDimension: v.GetInt("max_image_dimension"),

		RateLimitRPS:   v.GetFloat64("rate_limit_rps"),
		RateLimitBurst: v.GetInt("rate_limit_burst"),

		SessionIdleTimeout: v.GetDuration("session_idle_timeout"),
		MaxSessions:        v.GetInt("max_sessions"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the combinations that cannot work at runtime.
func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeLocal, ModeGemini, ModeVertex:
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q (want local, gemini or vertex)", c.Mode))
	}

	if !c.UseMockLLM {
		switch c.Mode {
		case ModeGemini:
			if c.APIKey == "" {
				errs = append(errs, errors.New("TUTOR_API_KEY (or GEMINI_API_KEY) must be set in gemini mode"))
			}
		case ModeVertex:
			if c.GCPProjectID == "" {
				errs = append(errs, errors.New("TUTOR_GCP_PROJECT must be set in vertex mode"))
			}
		case ModeLocal:
			errs = append(errs, errors.New("local mode only supports the mock tutor"))
		}
	}

	switch c.TurnLogBackend {
	case "memory", "sqlite":
	case "firestore":
		if c.GCPProjectID == "" {
			errs = append(errs, errors.New("TUTOR_GCP_PROJECT is required for the firestore turn log"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown turn log backend %q", c.TurnLogBackend))
	}

	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}

	return errors.Join(errs...)
}
