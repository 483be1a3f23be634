package executor

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// FeedsEnabled turns off the market data feeds, leaving only the time-based schedulers.
	FeedsEnabled bool `envconfig:"FEEDS_ENABLED" default:"true"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
