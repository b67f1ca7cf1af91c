package config

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Config holds every tunable of the chat widget engine.
//
// Values come from, in increasing precedence: built-in defaults, an optional
// YAML config file (CONFIG_FILE, default chatwidget.yaml if present), and
// environment variables (optionally loaded from a .env file).
type Config struct {
	// Backend endpoints
	BackendURL   string `yaml:"backend_url"`
	WebSocketURL string `yaml:"websocket_url"`

	// ProjectSource is the static tag identifying this storefront instance.
	// Attached to every session and outbound message.
	ProjectSource string `yaml:"project_source"`

	// StateFile is the path of the durable local key/value store
	// (visitor identity, contact profile, active session id).
	StateFile string `yaml:"state_file"`

	// Transport
	PollInterval         time.Duration `yaml:"poll_interval"`
	ReconnectMinDelay    time.Duration `yaml:"reconnect_min_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	ReconnectMaxAttempts int           `yaml:"reconnect_max_attempts"`
	TypingResetWindow    time.Duration `yaml:"typing_reset_window"`

	// Session lifecycle
	ProfileDebounce time.Duration `yaml:"profile_debounce"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`

	// Sound cues
	SoundEnabled bool `yaml:"sound_enabled"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Dev server (cmd/devserver only)
	DevServerPort string `yaml:"devserver_port"`
}

// LoadConfig builds the configuration from the environment.
func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		BackendURL:    getEnvOrDefault("CHAT_BACKEND_URL", "http://localhost:3001"),
		WebSocketURL:  getEnvOrDefault("CHAT_WEBSOCKET_URL", "ws://localhost:3001/ws"),
		ProjectSource: getEnvOrDefault("CHAT_PROJECT_SOURCE", "car-market-client"),

		StateFile: getEnvOrDefault("CHAT_STATE_FILE", defaultStateFile()),

		PollInterval:         getEnvAsDuration("CHAT_POLL_INTERVAL", 5*time.Second),
		ReconnectMinDelay:    getEnvAsDuration("CHAT_RECONNECT_MIN_DELAY", time.Second),
		ReconnectMaxDelay:    getEnvAsDuration("CHAT_RECONNECT_MAX_DELAY", 30*time.Second),
		ReconnectMaxAttempts: getEnvAsInt("CHAT_RECONNECT_MAX_ATTEMPTS", 10),
		TypingResetWindow:    getEnvAsDuration("CHAT_TYPING_RESET_WINDOW", time.Second),

		ProfileDebounce: getEnvAsDuration("CHAT_PROFILE_DEBOUNCE", time.Second),
		RequestTimeout:  getEnvAsDuration("CHAT_REQUEST_TIMEOUT", 15*time.Second),

		SoundEnabled: getEnvOrDefault("CHAT_SOUND_ENABLED", "true") == "true",

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),

		DevServerPort: getEnvOrDefault("DEVSERVER_PORT", "3001"),
	}

	// Settings from an optional configuration file.
	//
	// TODO: environment variables should have higher precedence, but the file
	// is decoded on top of them. Fine for now since deployments use one or the
	// other; replace with proper layered config handling if that changes.
	configFilePath := getEnvOrDefault("CONFIG_FILE", "chatwidget.yaml")
	if configFile, err := os.Open(configFilePath); err == nil {
		defer configFile.Close()
		if err := LoadConfigFile(configFile, cfg); err != nil {
			log.Fatalf("Failed to load config file %s: %v", configFilePath, err)
		}
		log.Printf("Loaded config file: %v", configFilePath)
	}

	return cfg
}

// LoadConfigFile decodes YAML settings from reader into config.
func LoadConfigFile(reader io.Reader, config *Config) error {
	decoder := yaml.NewDecoder(reader)

	if err := decoder.Decode(config); err != nil {
		return err
	}

	return nil
}

func defaultStateFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".chatwidget-state.json"
	}
	return filepath.Join(dir, "chatwidget", "state.json")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as time.Duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}
