package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const envPrefix = "STAYCHAT_"

// ServerConfig holds settings for the relay and its REST surface.
type ServerConfig struct {
	ListenAddr string         `yaml:"listen_addr"`
	Database   DatabaseConfig `yaml:"database"`
	JWT        JWTConfig      `yaml:"jwt"`
	Relay      RelayConfig    `yaml:"relay"`
	Log        LogConfig      `yaml:"log"`
	Metrics    bool           `yaml:"metrics"`
}

// RelayConfig tunes the websocket relay.
type RelayConfig struct {
	TypingQuietPeriod time.Duration `yaml:"typing_quiet_period"`
	SendBuffer        int           `yaml:"send_buffer"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	ReadLimit         int64         `yaml:"read_limit"`
	// StrictIdentity rejects join-user-room for any user other than the
	// one authenticated at upgrade. Disabling it lets any connection
	// subscribe to any user's inbox.
	StrictIdentity bool     `yaml:"strict_identity"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ClientConfig holds settings for the terminal client.
type ClientConfig struct {
	ServerURL     string        `yaml:"server_url"`
	Email         string        `yaml:"email"`
	Password      string        `yaml:"password"`
	ReconnectMin  time.Duration `yaml:"reconnect_min"`
	ReconnectMax  time.Duration `yaml:"reconnect_max"`
	LogFile       string        `yaml:"log_file"`
	Log           LogConfig     `yaml:"log"`
	CommandPrefix rune          `yaml:"-"`
}

// DatabaseConfig captures storage configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// JWTConfig defines token issuance parameters.
type JWTConfig struct {
	Secret     string        `yaml:"secret"`
	Issuer     string        `yaml:"issuer"`
	Expiration time.Duration `yaml:"expiration"`
}

// LogConfig selects the log level and output format ("console" or "json").
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr: ":8080",
		Database:   DatabaseConfig{Path: "staychat.db"},
		JWT: JWTConfig{
			Secret:     "replace-me",
			Issuer:     "staychat",
			Expiration: 24 * time.Hour,
		},
		Relay: RelayConfig{
			TypingQuietPeriod: 2 * time.Second,
			SendBuffer:        64,
			WriteTimeout:      10 * time.Second,
			PingInterval:      30 * time.Second,
			ReadLimit:         64 << 10,
			StrictIdentity:    true,
		},
		Log:     LogConfig{Level: "info", Format: "console"},
		Metrics: true,
	}
}

// DefaultClientConfig returns the built-in client defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ServerURL:     "http://localhost:8080",
		ReconnectMin:  500 * time.Millisecond,
		ReconnectMax:  10 * time.Second,
		LogFile:       "staychat-client.log",
		Log:           LogConfig{Level: "debug", Format: "json"},
		CommandPrefix: '/',
	}
}

// LoadServerConfig layers defaults, an optional YAML file, the environment
// (including a .env file) and command-line flags, in that order.
func LoadServerConfig(args []string) (ServerConfig, error) {
	_ = godotenv.Load()
	cfg := DefaultServerConfig()

	fs := pflag.NewFlagSet("staychat-server", pflag.ContinueOnError)
	configPath := fs.String("config", envOrDefault(envPrefix+"CONFIG", ""), "path to a YAML config file")
	addr := fs.String("addr", cfg.ListenAddr, "listen address")
	dbPath := fs.String("db", cfg.Database.Path, "sqlite database path")
	level := fs.String("log-level", cfg.Log.Level, "log level (debug, info, warn, error)")
	format := fs.String("log-format", cfg.Log.Format, "log format (console, json)")
	insecure := fs.Bool("insecure-user-rooms", false, "let any connection join any user room")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *configPath != "" {
		if err := loadFile(*configPath, &cfg); err != nil {
			return cfg, err
		}
	}
	applyServerEnv(&cfg)

	if fs.Changed("addr") {
		cfg.ListenAddr = *addr
	}
	if fs.Changed("db") {
		cfg.Database.Path = *dbPath
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = *level
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = *format
	}
	if fs.Changed("insecure-user-rooms") {
		cfg.Relay.StrictIdentity = !*insecure
	}

	return cfg, cfg.Validate()
}

// Validate reports settings the server cannot run with.
func (c ServerConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ListenAddr) == "" {
		errs = append(errs, errors.New("listen address required"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt secret required"))
	}
	if c.Relay.TypingQuietPeriod <= 0 {
		errs = append(errs, fmt.Errorf("typing quiet period must be positive, got %s", c.Relay.TypingQuietPeriod))
	}
	if c.Relay.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("send buffer must be positive, got %d", c.Relay.SendBuffer))
	}
	return errors.Join(errs...)
}

// LoadClientConfig builds the client configuration the same way as the server's.
func LoadClientConfig(args []string) (ClientConfig, error) {
	_ = godotenv.Load()
	cfg := DefaultClientConfig()

	fs := pflag.NewFlagSet("staychat-client", pflag.ContinueOnError)
	configPath := fs.String("config", envOrDefault(envPrefix+"CLIENT_CONFIG", ""), "path to a YAML config file")
	server := fs.StringP("server", "s", cfg.ServerURL, "server base URL")
	email := fs.StringP("email", "e", "", "account email")
	password := fs.StringP("password", "p", "", "account password")
	logFile := fs.String("log-file", cfg.LogFile, "file receiving client logs")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *configPath != "" {
		if err := loadFile(*configPath, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.ServerURL = envOrDefault(envPrefix+"SERVER_URL", cfg.ServerURL)
	cfg.Email = envOrDefault(envPrefix+"EMAIL", cfg.Email)
	cfg.Password = envOrDefault(envPrefix+"PASSWORD", cfg.Password)
	cfg.ReconnectMin = envDuration(envPrefix+"RECONNECT_MIN", cfg.ReconnectMin)
	cfg.ReconnectMax = envDuration(envPrefix+"RECONNECT_MAX", cfg.ReconnectMax)
	cfg.LogFile = envOrDefault(envPrefix+"CLIENT_LOG_FILE", cfg.LogFile)

	prefix := []rune(envOrDefault(envPrefix+"COMMAND_PREFIX", string(cfg.CommandPrefix)))
	if len(prefix) > 0 {
		cfg.CommandPrefix = prefix[0]
	}

	if fs.Changed("server") {
		cfg.ServerURL = *server
	}
	if fs.Changed("email") {
		cfg.Email = *email
	}
	if fs.Changed("password") {
		cfg.Password = *password
	}
	if fs.Changed("log-file") {
		cfg.LogFile = *logFile
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = cfg.ReconnectMin
	}
	return cfg, nil
}

func loadFile(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyServerEnv(cfg *ServerConfig) {
	cfg.ListenAddr = envOrDefault(envPrefix+"LISTEN_ADDR", cfg.ListenAddr)
	cfg.Database.Path = envOrDefault(envPrefix+"DB_PATH", cfg.Database.Path)
	cfg.JWT.Secret = envOrDefault(envPrefix+"JWT_SECRET", cfg.JWT.Secret)
	cfg.JWT.Issuer = envOrDefault(envPrefix+"JWT_ISSUER", cfg.JWT.Issuer)
	cfg.JWT.Expiration = envDuration(envPrefix+"JWT_EXPIRATION", cfg.JWT.Expiration)
	cfg.Relay.TypingQuietPeriod = envDuration(envPrefix+"TYPING_QUIET_PERIOD", cfg.Relay.TypingQuietPeriod)
	cfg.Relay.SendBuffer = envInt(envPrefix+"SEND_BUFFER", cfg.Relay.SendBuffer)
	cfg.Relay.WriteTimeout = envDuration(envPrefix+"WRITE_TIMEOUT", cfg.Relay.WriteTimeout)
	cfg.Relay.PingInterval = envDuration(envPrefix+"PING_INTERVAL", cfg.Relay.PingInterval)
	cfg.Relay.ReadLimit = int64(envInt(envPrefix+"READ_LIMIT", int(cfg.Relay.ReadLimit)))
	cfg.Relay.StrictIdentity = envBool(envPrefix+"STRICT_IDENTITY", cfg.Relay.StrictIdentity)
	if origins, ok := os.LookupEnv(envPrefix + "ALLOWED_ORIGINS"); ok {
		cfg.Relay.AllowedOrigins = splitList(origins)
	}
	cfg.Log.Level = envOrDefault(envPrefix+"LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOrDefault(envPrefix+"LOG_FORMAT", cfg.Log.Format)
	cfg.Metrics = envBool(envPrefix+"METRICS", cfg.Metrics)
}

func envOrDefault(key, value string) string {
	if env, ok := os.LookupEnv(key); ok {
		return env
	}
	return value
}

func envDuration(key string, def time.Duration) time.Duration {
	if env, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(env); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(key string, def int) int {
	if env, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(env); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if env, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(env); err == nil {
			return parsed
		}
	}
	return def
}

func splitList(value string) []string {
	var out []string
	for _, entry := range strings.Split(value, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
