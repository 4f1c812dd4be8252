package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ServerConfig configures the relay.
type ServerConfig struct {
	Server ListenConfig `mapstructure:"server"`
	Room   RoomConfig   `mapstructure:"room"`
	TURN   TURNConfig   `mapstructure:"turn"`
}

type ListenConfig struct {
	Address        string   `mapstructure:"address"`
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

type RoomConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// TURNConfig configures the optional embedded STUN/TURN helper. Users maps
// username to password.
type TURNConfig struct {
	Enabled  bool              `mapstructure:"enabled"`
	Address  string            `mapstructure:"address"`
	PublicIP string            `mapstructure:"publicIP"`
	Realm    string            `mapstructure:"realm"`
	Users    map[string]string `mapstructure:"users"`
}

// flagKeys maps serve command flags onto config keys.
var flagKeys = map[string]string{
	"addr":     "server.address",
	"origins":  "server.allowedOrigins",
	"capacity": "room.capacity",
	"turn":     "turn.enabled",
}

// LoadServer reads configuration from defaults, an optional yaml file,
// environment variables and flags, in increasing priority. fileName is the
// config name without extension, looked up in the working directory; a path
// ending in .yaml is used as-is.
func LoadServer(logger *slog.Logger, fileName string, flags *pflag.FlagSet) (*ServerConfig, error) {
	v := viper.New()

	// 1. Set default values
	v.SetDefault("server.address", ":5000")
	v.SetDefault("server.allowedOrigins", []string{})
	v.SetDefault("room.capacity", 4)
	v.SetDefault("turn.enabled", false)
	v.SetDefault("turn.address", "0.0.0.0:3478")
	v.SetDefault("turn.publicIP", "127.0.0.1")
	v.SetDefault("turn.realm", "meshcall")
	v.SetDefault("turn.users", map[string]string{})

	// 2. Set config file details
	if strings.HasSuffix(fileName, ".yaml") || strings.HasSuffix(fileName, ".yml") {
		v.SetConfigFile(fileName)
	} else {
		v.SetConfigName(fileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// 3. Set up environment variable handling
	v.SetEnvPrefix("MESHCALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("room.capacity", "MESHCALL_ROOM_CAPACITY", "MAX_USERS_PER_ROOM"); err != nil {
		return nil, err
	}

	// 4. Explicitly set flags win over everything else
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	// 5. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		logger.Debug("Config file not found, relying on defaults/env vars")
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Room.Capacity < 1 {
		return nil, fmt.Errorf("room.capacity must be at least 1, got %d", cfg.Room.Capacity)
	}
	if cfg.TURN.Enabled && len(cfg.TURN.Users) == 0 {
		return nil, errors.New("turn.enabled requires at least one entry in turn.users")
	}

	return &cfg, nil
}
