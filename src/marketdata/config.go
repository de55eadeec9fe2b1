package marketdata

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	FeedURL string `envconfig:"MARKETDATA_FEED_URL" default:"wss://localhost:9443/ticks"`

	// Comma separated symbols to subscribe to.
	Symbols []string `envconfig:"MARKETDATA_SYMBOLS" default:"BTCUSD"`

	ReadTimeout        time.Duration `envconfig:"MARKETDATA_READ_TIMEOUT" default:"30s"`
	ReconnectBaseDelay time.Duration `envconfig:"MARKETDATA_RECONNECT_BASE_DELAY" default:"1s"`
	ReconnectMaxDelay  time.Duration `envconfig:"MARKETDATA_RECONNECT_MAX_DELAY" default:"30s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
