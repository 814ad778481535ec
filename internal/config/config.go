package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"llmrouter/backend/internal/utils"
)

type User struct {
	Token            string `mapstructure:"token"`
	BypassModeration bool   `mapstructure:"bypass_moderation"`
}

type Config struct {
	API struct {
		ListenAddr          string `mapstructure:"listen_addr"`
		TLSCert             string `mapstructure:"tls_cert"`
		TLSKey              string `mapstructure:"tls_key"`
		DefaultModel        string `mapstructure:"default_model"`
		DefaultSystemPrompt string `mapstructure:"default_system_prompt"`
	} `mapstructure:"api"`

	Node struct {
		Token              string        `mapstructure:"token"`
		LivenessTimeout    time.Duration `mapstructure:"liveness_timeout"`
		CancelOnDisconnect bool          `mapstructure:"cancel_on_disconnect"`
		SendQueue          int           `mapstructure:"send_queue"`
		WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"node"`

	Timeouts struct {
		Admission  time.Duration `mapstructure:"admission"`
		Completion time.Duration `mapstructure:"completion"`
	} `mapstructure:"timeouts"`

	Moderation struct {
		Wordlist       string `mapstructure:"wordlist"`
		ChunkSize      int    `mapstructure:"chunk_size"`
		Overlap        int    `mapstructure:"overlap"`
		RecentMessages int    `mapstructure:"recent_messages"`
	} `mapstructure:"moderation"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Models []string        `mapstructure:"models"`
	Users  map[string]User `mapstructure:"users"`
}

const envPrefix = "LLMROUTER"

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.listen_addr", ":8087")
	v.SetDefault("api.default_model", "openbuddy-13b-v1.3-fp16")
	v.SetDefault("api.default_system_prompt", "You are a helpful assistant name Buddy.")
	v.SetDefault("node.liveness_timeout", 60*time.Second)
	v.SetDefault("node.cancel_on_disconnect", true)
	v.SetDefault("node.send_queue", 256)
	v.SetDefault("node.write_timeout", 10*time.Second)
	v.SetDefault("timeouts.admission", 30*time.Second)
	v.SetDefault("timeouts.completion", 600*time.Second)
	v.SetDefault("moderation.chunk_size", 50)
	v.SetDefault("moderation.overlap", 10)
	v.SetDefault("moderation.recent_messages", 3)
	v.SetDefault("log.level", "info")
}

// Load reads the YAML file at path. Environment variables prefixed with
// LLMROUTER_ override file values (LLMROUTER_NODE_TOKEN for node.token).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Node.Token == "" {
		errs = append(errs, errors.New("missing node.token"))
	}
	if len(c.Users) == 0 {
		errs = append(errs, errors.New("missing users"))
	}
	seen := make(map[string]string, len(c.Users))
	for name, u := range c.Users {
		if u.Token == "" {
			errs = append(errs, fmt.Errorf("missing token for user %s", name))
			continue
		}
		if other, dup := seen[u.Token]; dup {
			errs = append(errs, fmt.Errorf("duplicate token for users %s and %s", other, name))
		}
		seen[u.Token] = name
	}
	if c.Timeouts.Admission <= 0 || c.Timeouts.Completion <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.Moderation.ChunkSize <= 0 || c.Moderation.Overlap < 0 {
		errs = append(errs, errors.New("invalid moderation window"))
	}
	if (c.API.TLSCert == "") != (c.API.TLSKey == "") {
		errs = append(errs, errors.New("api.tls_cert and api.tls_key must be set together"))
	}
	return errors.Join(errs...)
}

// WriteDefault writes a starter config with freshly generated tokens. It
// refuses to overwrite an existing file.
func WriteDefault(path string) error {
	v := viper.New()
	setDefaults(v)
	v.Set("node.token", utils.NewToken(16))
	v.Set("models", []string{v.GetString("api.default_model")})
	v.Set("users", map[string]any{
		"first-user": map[string]any{
			"token":             utils.NewToken(16),
			"bypass_moderation": false,
		},
	})
	v.SetConfigType("yaml")
	if err := v.SafeWriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}
	return os.Chmod(path, 0o600)
}
