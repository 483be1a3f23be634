package notification

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	PingInterval    time.Duration `envconfig:"WS_PING_INTERVAL" default:"30s"`
	PongWait        time.Duration `envconfig:"WS_PONG_WAIT" default:"60s"`
	WriteTimeout    time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"10s"`
	SendBuffer      int           `envconfig:"WS_SEND_BUFFER" default:"32"`
	MaxMessageBytes int64         `envconfig:"WS_MAX_MESSAGE_BYTES" default:"4096"`
	AllowedOrigins  []string      `envconfig:"WS_ALLOWED_ORIGINS"` // empty allows any origin
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
