package controller

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	MaxLeverage    int `envconfig:"MAX_LEVERAGE" default:"50"`
	MaxTwapMinutes int `envconfig:"MAX_TWAP_MINUTES" default:"1440"`
	MaxAssetLength int `envconfig:"MAX_ASSET_LENGTH" default:"50"`
	MaxCronLength  int `envconfig:"MAX_CRON_LENGTH" default:"120"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
