package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/eveneto/chatcore/pkg/config"
	"github.com/eveneto/chatcore/pkg/log"
)

type Config struct {
	API       APIConfig
	WebSocket WebSocketConfig
	Chat      ChatConfig
	Log       log.Config
}

type APIConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	PageSize int           `mapstructure:"page_size"`
}

type WebSocketConfig struct {
	BaseURL              string        `mapstructure:"base_url"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout"`
	PingInterval         time.Duration `mapstructure:"ping_interval"`
	PongWait             time.Duration `mapstructure:"pong_wait"`
	WriteWait            time.Duration `mapstructure:"write_wait"`
	MaxMessageSize       int64         `mapstructure:"max_message_size"`
	ReconnectBase        time.Duration `mapstructure:"reconnect_base"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
}

type ChatConfig struct {
	TypingTTL       time.Duration `mapstructure:"typing_ttl"`
	QueueSize       int           `mapstructure:"queue_size"`
	MaxMessageChars int           `mapstructure:"max_message_chars"`
	MaxFileBytes    int64         `mapstructure:"max_file_bytes"`
	CachePath       string        `mapstructure:"cache_path"`
	WarmStartLimit  int           `mapstructure:"warm_start_limit"`
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.timeout", "15s")
	v.SetDefault("api.page_size", 50)
	v.SetDefault("websocket.base_url", "ws://localhost:8000")
	v.SetDefault("websocket.handshake_timeout", "10s")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.reconnect_base", "1s")
	v.SetDefault("websocket.max_reconnect_attempts", 5)
	v.SetDefault("chat.typing_ttl", "8s")
	v.SetDefault("chat.queue_size", 64)
	v.SetDefault("chat.max_message_chars", 4000)
	v.SetDefault("chat.max_file_bytes", 10485760)
	v.SetDefault("chat.cache_path", "")
	v.SetDefault("chat.warm_start_limit", 50)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.app", "chatcore")

	// Override from environment
	v.BindEnv("api.base_url", "CHAT_API_BASE_URL")
	v.BindEnv("websocket.base_url", "CHAT_WS_BASE_URL")
	v.BindEnv("chat.cache_path", "CHAT_CACHE_PATH")
	v.BindEnv("log.level", "CHAT_LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.API.Timeout = parseDuration(v, "api.timeout", 15*time.Second)
	cfg.WebSocket.HandshakeTimeout = parseDuration(v, "websocket.handshake_timeout", 10*time.Second)
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.WebSocket.ReconnectBase = parseDuration(v, "websocket.reconnect_base", time.Second)
	cfg.Chat.TypingTTL = parseDuration(v, "chat.typing_ttl", 8*time.Second)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
