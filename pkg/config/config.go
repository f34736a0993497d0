package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Chat struct {
		Address         string        `yaml:"address"`
		Token           string        `yaml:"token"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
	} `yaml:"chat"`

	Relay struct {
		Binary                    string        `yaml:"binary"`
		VideoCodec                string        `yaml:"video_codec"`
		AudioCodec                string        `yaml:"audio_codec"`
		Format                    string        `yaml:"format"`
		AllowedSourceSchemes      []string      `yaml:"allowed_source_schemes"`
		AllowedDestinationSchemes []string      `yaml:"allowed_destination_schemes"`
		StopGracePeriod           time.Duration `yaml:"stop_grace_period"`
		DiagnosticsBufferBytes    int           `yaml:"diagnostics_buffer_bytes"`
		DiagnosticsPreviewChars   int           `yaml:"diagnostics_preview_chars"`
	} `yaml:"relay"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"http"`

		Commands struct {
			PerSecond float64 `yaml:"per_second"`
			Burst     int     `yaml:"burst"`
		} `yaml:"commands"`
	} `yaml:"rate_limiting"`

	Tracing struct {
		Enabled        bool    `yaml:"enabled"`
		JaegerEndpoint string  `yaml:"jaeger_endpoint"`
		SampleRate     float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Notifications struct {
		Timeout      time.Duration `yaml:"timeout"`
		MaxAttempts  int           `yaml:"max_attempts"`
		InitialDelay time.Duration `yaml:"initial_delay"`
	} `yaml:"notifications"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Chat
	if c.Chat.Token == "" {
		return fmt.Errorf("chat.token must not be empty (set STREAMRELAY_CHAT_TOKEN)")
	}
	if c.Chat.Address == "" {
		return fmt.Errorf("chat.address must not be empty")
	}
	if c.Chat.PingInterval <= 0 {
		return fmt.Errorf("chat.ping_interval must be > 0")
	}
	if c.Chat.PongTimeout <= c.Chat.PingInterval {
		return fmt.Errorf("chat.pong_timeout must be > chat.ping_interval")
	}
	if c.Chat.WriteTimeout <= 0 {
		return fmt.Errorf("chat.write_timeout must be > 0")
	}

	// Relay
	if c.Relay.Binary == "" {
		return fmt.Errorf("relay.binary must not be empty")
	}
	if c.Relay.VideoCodec == "" || c.Relay.AudioCodec == "" || c.Relay.Format == "" {
		return fmt.Errorf("relay.video_codec, relay.audio_codec and relay.format must not be empty")
	}
	if len(c.Relay.AllowedSourceSchemes) == 0 {
		return fmt.Errorf("relay.allowed_source_schemes must not be empty")
	}
	if len(c.Relay.AllowedDestinationSchemes) == 0 {
		return fmt.Errorf("relay.allowed_destination_schemes must not be empty")
	}
	if c.Relay.StopGracePeriod <= 0 {
		return fmt.Errorf("relay.stop_grace_period must be > 0")
	}
	if c.Relay.DiagnosticsBufferBytes <= 0 {
		return fmt.Errorf("relay.diagnostics_buffer_bytes must be > 0")
	}
	if c.Relay.DiagnosticsPreviewChars <= 0 {
		return fmt.Errorf("relay.diagnostics_preview_chars must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.Channel == "" {
			return fmt.Errorf("redis.channel must not be empty when redis.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Commands.PerSecond <= 0 {
			return fmt.Errorf("rate_limiting.commands.per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Commands.Burst <= 0 {
			return fmt.Errorf("rate_limiting.commands.burst must be > 0 when rate limiting is enabled")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerEndpoint == "" {
			return fmt.Errorf("tracing.jaeger_endpoint must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Notifications
	if c.Notifications.Timeout <= 0 {
		return fmt.Errorf("notifications.timeout must be > 0")
	}
	if c.Notifications.MaxAttempts < 1 {
		return fmt.Errorf("notifications.max_attempts must be >= 1")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// Fall back to defaults plus environment.
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults. The chat token has
// no default.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Chat.Address = ":8081"
	cfg.Chat.PingInterval = 30 * time.Second
	cfg.Chat.PongTimeout = 60 * time.Second
	cfg.Chat.WriteTimeout = 10 * time.Second
	cfg.Chat.ShutdownTimeout = 30 * time.Second
	cfg.Chat.AllowedOrigins = []string{"*"}

	cfg.Relay.Binary = "ffmpeg"
	cfg.Relay.VideoCodec = "libx264"
	cfg.Relay.AudioCodec = "aac"
	cfg.Relay.Format = "flv"
	cfg.Relay.AllowedSourceSchemes = []string{"http", "https"}
	cfg.Relay.AllowedDestinationSchemes = []string{"rtmp", "rtmps"}
	cfg.Relay.StopGracePeriod = 10 * time.Second
	cfg.Relay.DiagnosticsBufferBytes = 64 * 1024
	cfg.Relay.DiagnosticsPreviewChars = 200

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.Channel = "streamrelay:events"

	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 20
	cfg.RateLimiting.HTTP.Burst = 40
	cfg.RateLimiting.Commands.PerSecond = 1
	cfg.RateLimiting.Commands.Burst = 5

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerEndpoint = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 0.1

	cfg.Notifications.Timeout = 10 * time.Second
	cfg.Notifications.MaxAttempts = 2
	cfg.Notifications.InitialDelay = 500 * time.Millisecond

	return cfg
}

func (c *Config) applyEnvOverrides() {
	// TELEGRAM_TOKEN is the legacy name; the prefixed variable wins.
	if token := os.Getenv("TELEGRAM_TOKEN"); token != "" {
		c.Chat.Token = token
	}
	if token := os.Getenv("STREAMRELAY_CHAT_TOKEN"); token != "" {
		c.Chat.Token = token
	}
	if addr := os.Getenv("STREAMRELAY_CHAT_ADDRESS"); addr != "" {
		c.Chat.Address = addr
	}
	if addr := os.Getenv("STREAMRELAY_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("STREAMRELAY_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if binary := os.Getenv("STREAMRELAY_RELAY_BINARY"); binary != "" {
		c.Relay.Binary = binary
	}
	if addr := os.Getenv("STREAMRELAY_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
}
