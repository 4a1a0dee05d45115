// Copyright 2024-2026 Aiku AI

// Package config loads the bridge configuration from YAML, upgrading it onto
// the embedded example config and applying environment overrides.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/mattermost-telnet-bridge/pkg/bridge"
)

//go:embed example-config.yaml
var ExampleConfig string

// EnvPrefix prefixes every environment override, e.g. TELNET_BRIDGE_TELNET_PASSWORD.
const EnvPrefix = "TELNET_BRIDGE"

const (
	PlatformMattermost = "mattermost"
	PlatformMatrix     = "matrix"
)

// Config is the whole bridge configuration.
type Config struct {
	Platform   string            `yaml:"platform"`
	Telnet     TelnetConfig      `yaml:"telnet"`
	Relay      RelayConfig       `yaml:"relay"`
	Mattermost MattermostConfig  `yaml:"mattermost"`
	Matrix     MatrixConfig      `yaml:"matrix"`
	AdminAPI   AdminAPIConfig    `yaml:"admin_api"`
	Logging    zeroconfig.Config `yaml:"logging"`
}

type TelnetConfig struct {
	Host           string          `yaml:"host"`
	Port           int             `yaml:"port"`
	Username       string          `yaml:"username"`
	Password       string          `yaml:"password"`
	DialTimeout    time.Duration   `yaml:"dial_timeout"`
	WriteTimeout   time.Duration   `yaml:"write_timeout"`
	ReadBufferSize int             `yaml:"read_buffer_size"`
	Handshake      HandshakeConfig `yaml:"handshake"`
}

type HandshakeConfig struct {
	BeforeUsername time.Duration `yaml:"before_username"`
	BeforePassword time.Duration `yaml:"before_password"`
	Settle         time.Duration `yaml:"settle"`
}

type RelayConfig struct {
	IgnoredUsers      []string `yaml:"ignored_users"`
	CodeBlockLanguage string   `yaml:"code_block_language"`
}

type MattermostConfig struct {
	ServerURL         string `yaml:"server_url"`
	Token             string `yaml:"token"`
	ChannelID         string `yaml:"channel_id"`
	SlashCommandToken string `yaml:"slash_command_token"`
	// BotPrefix is a username prefix for echo prevention. Posts from matching
	// usernames are never relayed to the telnet server.
	BotPrefix                 string `yaml:"bot_prefix"`
	RestrictCommandsToChannel bool   `yaml:"restrict_commands_to_channel"`
}

type MatrixConfig struct {
	HomeserverURL string `yaml:"homeserver_url"`
	UserID        string `yaml:"user_id"`
	AccessToken   string `yaml:"access_token"`
	RoomID        string `yaml:"room_id"`
	CommandPrefix string `yaml:"command_prefix"`
}

type AdminAPIConfig struct {
	Addr   string `yaml:"addr"`
	Secret string `yaml:"secret"`
}

// envOverrides are secrets and endpoint settings that deployments usually
// pass through the environment.
type envOverrides struct {
	TelnetHost        string `envconfig:"TELNET_HOST"`
	TelnetPort        int    `envconfig:"TELNET_PORT"`
	TelnetUsername    string `envconfig:"TELNET_USERNAME"`
	TelnetPassword    string `envconfig:"TELNET_PASSWORD"`
	MattermostToken   string `envconfig:"MATTERMOST_TOKEN"`
	SlashCommandToken string `envconfig:"MATTERMOST_SLASH_COMMAND_TOKEN"`
	MatrixAccessToken string `envconfig:"MATRIX_ACCESS_TOKEN"`
	AdminAPISecret    string `envconfig:"ADMIN_API_SECRET"`
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "platform")

	helper.Copy(up.Str, "telnet", "host")
	helper.Copy(up.Int, "telnet", "port")
	helper.Copy(up.Str, "telnet", "username")
	helper.Copy(up.Str, "telnet", "password")
	helper.Copy(up.Str, "telnet", "dial_timeout")
	helper.Copy(up.Str, "telnet", "write_timeout")
	helper.Copy(up.Int, "telnet", "read_buffer_size")
	helper.Copy(up.Str, "telnet", "handshake", "before_username")
	helper.Copy(up.Str, "telnet", "handshake", "before_password")
	helper.Copy(up.Str, "telnet", "handshake", "settle")

	helper.Copy(up.List, "relay", "ignored_users")
	helper.Copy(up.Str, "relay", "code_block_language")

	helper.Copy(up.Str, "mattermost", "server_url")
	helper.Copy(up.Str, "mattermost", "token")
	helper.Copy(up.Str, "mattermost", "channel_id")
	helper.Copy(up.Str, "mattermost", "slash_command_token")
	helper.Copy(up.Str, "mattermost", "bot_prefix")
	helper.Copy(up.Bool, "mattermost", "restrict_commands_to_channel")

	helper.Copy(up.Str, "matrix", "homeserver_url")
	helper.Copy(up.Str, "matrix", "user_id")
	helper.Copy(up.Str, "matrix", "access_token")
	helper.Copy(up.Str, "matrix", "room_id")
	helper.Copy(up.Str, "matrix", "command_prefix")

	helper.Copy(up.Str, "admin_api", "addr")
	helper.Copy(up.Str, "admin_api", "secret")

	helper.Copy(up.Map, "logging")
}

// Load reads the config file at path. See Parse.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse copies the values present in data onto the example config, so keys
// missing from data keep their defaults, then applies environment overrides.
func Parse(data []byte) (*Config, error) {
	var base yaml.Node
	if err := yaml.Unmarshal([]byte(ExampleConfig), &base); err != nil {
		return nil, fmt.Errorf("failed to parse example config: %w", err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		var user yaml.Node
		if err := yaml.Unmarshal(data, &user); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		upgradeConfig(up.NewHelper(&base, &user))
	}

	var cfg Config
	if err := base.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to read environment overrides: %w", err)
	}
	setIfNotEmpty(&c.Telnet.Host, env.TelnetHost)
	if env.TelnetPort != 0 {
		c.Telnet.Port = env.TelnetPort
	}
	setIfNotEmpty(&c.Telnet.Username, env.TelnetUsername)
	setIfNotEmpty(&c.Telnet.Password, env.TelnetPassword)
	setIfNotEmpty(&c.Mattermost.Token, env.MattermostToken)
	setIfNotEmpty(&c.Mattermost.SlashCommandToken, env.SlashCommandToken)
	setIfNotEmpty(&c.Matrix.AccessToken, env.MatrixAccessToken)
	setIfNotEmpty(&c.AdminAPI.Secret, env.AdminAPISecret)
	return nil
}

func setIfNotEmpty(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

// Validate reports every missing or invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Telnet.Host == "" {
		errs = append(errs, errors.New("telnet.host is required"))
	}
	if c.Telnet.Port <= 0 || c.Telnet.Port > 65535 {
		errs = append(errs, fmt.Errorf("telnet.port %d is out of range", c.Telnet.Port))
	}
	switch c.Platform {
	case PlatformMattermost:
		if c.Mattermost.ServerURL == "" {
			errs = append(errs, errors.New("mattermost.server_url is required"))
		}
		if c.Mattermost.Token == "" {
			errs = append(errs, errors.New("mattermost.token is required"))
		}
		if c.Mattermost.ChannelID == "" {
			errs = append(errs, errors.New("mattermost.channel_id is required"))
		}
	case PlatformMatrix:
		if c.Matrix.HomeserverURL == "" {
			errs = append(errs, errors.New("matrix.homeserver_url is required"))
		}
		if c.Matrix.AccessToken == "" {
			errs = append(errs, errors.New("matrix.access_token is required"))
		}
		if c.Matrix.RoomID == "" {
			errs = append(errs, errors.New("matrix.room_id is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown platform %q", c.Platform))
	}
	return errors.Join(errs...)
}

// BridgeOptions converts the telnet and relay sections for bridge.New.
func (c *Config) BridgeOptions() bridge.Options {
	return bridge.Options{
		Endpoint: bridge.Endpoint{Host: c.Telnet.Host, Port: c.Telnet.Port},
		Credentials: bridge.Credentials{
			Username: c.Telnet.Username,
			Password: c.Telnet.Password,
		},
		Handshake: bridge.HandshakeDelays{
			BeforeUsername: c.Telnet.Handshake.BeforeUsername,
			BeforePassword: c.Telnet.Handshake.BeforePassword,
			Settle:         c.Telnet.Handshake.Settle,
		},
		ReadBufferSize: c.Telnet.ReadBufferSize,
		Ignored:        bridge.NewIgnoreSet(c.Relay.IgnoredUsers...),
		Envelope:       bridge.Envelope{Language: c.Relay.CodeBlockLanguage},
	}
}

// Logger compiles the logging section.
func (c *Config) Logger() (*zerolog.Logger, error) {
	log, err := c.Logging.Compile()
	if err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	return log, nil
}
