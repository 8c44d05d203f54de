package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	DefaultSystemPrompt = "You are a helpful assistant"
	DefaultTitleLength  = 30
	DefaultModel        = "gpt-4o"
	DefaultMaxTokens    = 1024
)

type Config struct {
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	LLM    LLMConfig    `mapstructure:"llm" yaml:"llm"`
	Chat   ChatConfig   `mapstructure:"chat" yaml:"chat"`
	Store  StoreConfig  `mapstructure:"store" yaml:"store"`
	Events EventsConfig `mapstructure:"events" yaml:"events"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	BasePath          string        `mapstructure:"base_path" yaml:"base_path"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type LLMConfig struct {
	URL       string        `mapstructure:"url" yaml:"url"`
	Model     string        `mapstructure:"model" yaml:"model"`
	Token     string        `mapstructure:"token" yaml:"token"`
	Type      string        `mapstructure:"type" yaml:"type"`
	MaxTokens int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type ChatConfig struct {
	SystemPrompt string `mapstructure:"system_prompt" yaml:"system_prompt"`
	TitleLength  int    `mapstructure:"title_length" yaml:"title_length"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

type EventsConfig struct {
	Driver        string `mapstructure:"driver" yaml:"driver"`
	Topic         string `mapstructure:"topic" yaml:"topic"`
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisGroup    string `mapstructure:"redis_group" yaml:"redis_group"`
	RedisConsumer string `mapstructure:"redis_consumer" yaml:"redis_consumer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// SetDefaults registers every default on v so that env overrides work for
// keys that never appear in a config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.base_path", "")
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Minute)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("llm.type", "openai")
	v.SetDefault("llm.url", "")
	v.SetDefault("llm.model", DefaultModel)
	v.SetDefault("llm.token", "")
	v.SetDefault("llm.max_tokens", DefaultMaxTokens)
	v.SetDefault("llm.timeout", time.Duration(0))

	v.SetDefault("chat.system_prompt", DefaultSystemPrompt)
	v.SetDefault("chat.title_length", DefaultTitleLength)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")

	v.SetDefault("events.driver", "gochannel")
	v.SetDefault("events.topic", "chat.messages")
	v.SetDefault("events.redis_addr", "localhost:6379")
	v.SetDefault("events.redis_group", "chat-relay")
	v.SetDefault("events.redis_consumer", "relay-1")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
}

func Load() (Config, error) {
	return LoadFrom(viper.GetViper())
}

func LoadFrom(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.LLM.Type {
	case "", "openai", "anthropics", "gemini":
	default:
		return errors.Errorf("invalid llm.type: %s", c.LLM.Type)
	}
	if c.LLM.MaxTokens < 0 {
		return errors.Errorf("invalid llm.max_tokens: %d", c.LLM.MaxTokens)
	}
	if c.Chat.TitleLength <= 0 {
		return errors.Errorf("invalid chat.title_length: %d", c.Chat.TitleLength)
	}
	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		return errors.Errorf("invalid store.driver: %s", c.Store.Driver)
	}
	switch c.Events.Driver {
	case "none", "gochannel":
	case "redis":
		if strings.TrimSpace(c.Events.RedisAddr) == "" {
			return errors.New("events.redis_addr is required for the redis driver")
		}
	default:
		return errors.Errorf("invalid events.driver: %s", c.Events.Driver)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		return errors.Errorf("invalid log.format: %s", c.Log.Format)
	}
	if bp := c.Server.BasePath; bp != "" && !strings.HasPrefix(bp, "/") {
		return errors.Errorf("server.base_path must start with /: %s", bp)
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.LLM.Token != "" {
		c.LLM.Token = "***"
	}
	return c
}
