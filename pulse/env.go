package pulse

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type envOptions struct {
	Cluster         string        `env:"PULSE_CLUSTER"`
	Host            string        `env:"PULSE_HOST"`
	Port            int           `env:"PULSE_PORT" env-default:"443"`
	Insecure        bool          `env:"PULSE_INSECURE" env-default:"false"`
	ActivityTimeout time.Duration `env:"PULSE_ACTIVITY_TIMEOUT" env-default:"30s"`
	AuthEndpoint    string        `env:"PULSE_AUTH_ENDPOINT"`
}

// OptionsFromEnv builds Options from PULSE_* environment variables:
// PULSE_CLUSTER, PULSE_HOST, PULSE_PORT, PULSE_INSECURE,
// PULSE_ACTIVITY_TIMEOUT (a Go duration) and PULSE_AUTH_ENDPOINT. Unset
// variables fall back to the same defaults NewClient applies.
func OptionsFromEnv() (Options, error) {
	var e envOptions
	if err := cleanenv.ReadEnv(&e); err != nil {
		return Options{}, fmt.Errorf("read pulse environment: %w", err)
	}
	opts := Options{
		Cluster:         e.Cluster,
		Host:            e.Host,
		Port:            e.Port,
		Insecure:        e.Insecure,
		ActivityTimeout: e.ActivityTimeout,
	}
	if e.AuthEndpoint != "" {
		opts.Auth = &AuthOptions{Endpoint: e.AuthEndpoint}
	}
	return opts, nil
}
