package main

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config drives the demo host. Values come from a YAML file when one is
// given, with environment variables overriding.
type Config struct {
	PluginPath  string        `yaml:"plugin_path" env:"SHOPSCRIPT_PLUGIN_PATH" env-default:"./shopscript-plugin"`
	Transport   string        `yaml:"transport" env:"SHOPSCRIPT_TRANSPORT" env-default:"stdio"`
	SocketPath  string        `yaml:"socket_path" env:"SHOPSCRIPT_SOCKET_PATH" env-default:"/tmp/shopscript.sock"`
	CallTimeout time.Duration `yaml:"call_timeout" env:"SHOPSCRIPT_CALL_TIMEOUT" env-default:"5s"`

	Log struct {
		Level  string `yaml:"level" env:"SHOPSCRIPT_LOG_LEVEL" env-default:"info"`
		Format string `yaml:"format" env:"SHOPSCRIPT_LOG_FORMAT" env-default:"console"`
	} `yaml:"log"`
}

// LoadConfig reads the config file at path if it exists, otherwise falls
// back to environment variables and defaults alone.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, &cfg); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			return &cfg, nil
		}
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env config: %w", err)
	}
	return &cfg, nil
}
