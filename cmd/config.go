package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the resolved configuration of every command.
type Config struct {
	Legacy    LegacyConfig    `mapstructure:"legacy"`
	Versioned VersionedConfig `mapstructure:"versioned"`
	Log       LogConfig       `mapstructure:"log"`
	Console   ConsoleConfig   `mapstructure:"console"`
	Ready     ReadyConfig     `mapstructure:"ready"`
}

// LegacyConfig selects and addresses the legacy namespace backend.
type LegacyConfig struct {
	Backend string      `mapstructure:"backend"` // bolt, redis or memory
	Path    string      `mapstructure:"path"`
	Origin  string      `mapstructure:"origin"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig addresses the Redis legacy backend.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	DB   int    `mapstructure:"db"`
}

// VersionedConfig locates the versioned store.
type VersionedConfig struct {
	Dir string `mapstructure:"dir"`
}

// LogConfig controls file logging.
type LogConfig struct {
	Dir string `mapstructure:"dir"`
}

// ConsoleConfig configures the HTTP console.
type ConsoleConfig struct {
	Addr   string `mapstructure:"addr"`
	Secret string `mapstructure:"secret"`
}

// ReadyConfig names the marker file a bootstrap pass waits for.
type ReadyConfig struct {
	Marker string `mapstructure:"marker"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("legacy.backend", "bolt")
	v.SetDefault("legacy.path", "~/.local/share/savesync/localstorage.db")
	v.SetDefault("legacy.origin", "localStorage")
	v.SetDefault("legacy.redis.addr", "localhost:6379")
	v.SetDefault("legacy.redis.db", 0)
	v.SetDefault("versioned.dir", "~/.local/share/savesync/idb")
	v.SetDefault("log.dir", "")
	v.SetDefault("console.addr", "127.0.0.1:8090")
	v.SetDefault("console.secret", "")
	v.SetDefault("ready.marker", "")
}

// flagKeys maps persistent flags to config keys.
var flagKeys = map[string]string{
	"legacy-backend": "legacy.backend",
	"legacy-path":    "legacy.path",
	"legacy-origin":  "legacy.origin",
	"redis-addr":     "legacy.redis.addr",
	"redis-db":       "legacy.redis.db",
	"versioned-dir":  "versioned.dir",
	"log-dir":        "log.dir",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("bind --%s: %w", flag, err)
		}
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("SAVESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// readConfigFile loads cfgFile, or savesync.yaml from the usual places when
// cfgFile is empty. A missing default file is not an error.
func readConfigFile(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		path, err := homedir.Expand(cfgFile)
		if err != nil {
			return err
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("savesync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home + "/.config/savesync")
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func loadConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	for _, p := range []*string{&cfg.Legacy.Path, &cfg.Versioned.Dir, &cfg.Log.Dir, &cfg.Ready.Marker} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return cfg, fmt.Errorf("expand %q: %w", *p, err)
		}
		*p = expanded
	}
	switch cfg.Legacy.Backend {
	case "bolt", "redis", "memory":
	default:
		return cfg, fmt.Errorf("unknown legacy backend %q (want bolt, redis or memory)", cfg.Legacy.Backend)
	}
	return cfg, nil
}
