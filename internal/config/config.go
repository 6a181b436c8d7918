package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type AgentConfig struct {
	Autostart   bool   `mapstructure:"autostart"`
	DisplayName string `mapstructure:"display_name"`
	ServerURL   string `mapstructure:"server_url"`
	MuteAudio   bool   `mapstructure:"mute_audio"`
	MuteVideo   bool   `mapstructure:"mute_video"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	SendQueue       int           `mapstructure:"send_queue"`
	Backpressure    string        `mapstructure:"backpressure"`
	ViolationLimit  int           `mapstructure:"violation_limit"`
	ViolationWindow time.Duration `mapstructure:"violation_window"`

	ICEServers         []string      `mapstructure:"ice_servers"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	MaxRecreate        int           `mapstructure:"max_recreate"`

	Agent AgentConfig `mapstructure:"agent"`
}

// Load reads config/config.<CONFIG_ENV>.yaml after the .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Info().Str("module", "config").Msg("loaded .env")
	}
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName if present; defaults and INTERVIEW_* variables
// fill the rest.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("INTERVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("secret", "INTERVIEW_SECRET", "SESSION_SECRET")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "30s")
	v.SetDefault("secret", "")
	v.SetDefault("send_queue", 32)
	v.SetDefault("backpressure", "kick")
	v.SetDefault("violation_limit", 5)
	v.SetDefault("violation_window", "1m")
	v.SetDefault("ice_servers", []string{})
	v.SetDefault("negotiation_timeout", "30s")
	v.SetDefault("max_recreate", 1)
	v.SetDefault("agent.autostart", false)
	v.SetDefault("agent.display_name", "AI Agent")
	v.SetDefault("agent.server_url", "")
	v.SetDefault("agent.mute_audio", true)
	v.SetDefault("agent.mute_video", true)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Secret == "" {
		cfg.Secret = uuid.NewString()
		log.Warn().Str("module", "config").Msg("no session secret configured, sessions will not survive a restart")
	}
	if cfg.Agent.ServerURL == "" {
		cfg.Agent.ServerURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.Port)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Bool("agent_autostart", cfg.Agent.Autostart).Msg("config ready")
	return &cfg, nil
}
