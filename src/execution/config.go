package execution

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BaseURL         string        `envconfig:"EXECUTION_BASE_URL" default:"https://testnet-exec.example.com"`
	APIKeySealed    string        `envconfig:"EXECUTION_API_KEY"`
	APISecretSealed string        `envconfig:"EXECUTION_API_SECRET"`
	RequestTimeout  time.Duration `envconfig:"EXECUTION_REQUEST_TIMEOUT" default:"15s"`

	MaxRetries     int           `envconfig:"EXECUTION_MAX_RETRIES" default:"3"`
	RetryBaseDelay time.Duration `envconfig:"EXECUTION_RETRY_BASE_DELAY" default:"500ms"`
	RetryMaxDelay  time.Duration `envconfig:"EXECUTION_RETRY_MAX_DELAY" default:"30s"`

	// Bound on tracked order states kept in memory; terminal orders are
	// evicted oldest-first past this point.
	OrderTrackerCapacity int `envconfig:"ORDER_TRACKER_CAPACITY" default:"10000"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
