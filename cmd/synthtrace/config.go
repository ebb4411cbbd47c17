package main

import (
	"math"

	"github.com/ilyakaznacheev/cleanenv"
)

type ServiceConfig struct {
	Environment string `env:"SENTRY_ENVIRONMENT" env-default:"development"`
	SentryDSN   string `env:"SENTRY_DSN"`
	LogLevel    string `env:"SYNTHTRACE_LOG_LEVEL" env-default:"info"`

	// Bucket is a gocloud URL (file://, mem://, gs://). GCSBucket writes
	// through the storage client instead. Traces go to stdout when both are
	// empty.
	Bucket    string `env:"SYNTHTRACE_BUCKET"`
	GCSBucket string `env:"SYNTHTRACE_GCS_BUCKET"`
	Compress  bool   `env:"SYNTHTRACE_COMPRESS" env-default:"false"`

	MaxLength         int  `env:"SYNTHTRACE_MAX_LENGTH"`
	StrictPacketOrder bool `env:"SYNTHTRACE_STRICT_PACKET_ORDER" env-default:"false"`
}

func readConfig() (ServiceConfig, error) {
	var cfg ServiceConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return ServiceConfig{}, err
	}
	if cfg.MaxLength <= 0 || cfg.MaxLength > math.MaxInt32 {
		cfg.MaxLength = math.MaxInt32
	}
	return cfg, nil
}
