package server

import (
	"time"

	"github.com/inferloop/ipdsynth/pkg/constants"
)

// Config contains server configuration
type Config struct {
	Addr            string        `json:"addr"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	HealthTimeout   time.Duration `json:"health_timeout"`
	// Workers bounds the strata simulated concurrently per request.
	Workers int `json:"workers"`
	// SmallCell is the draw bound for suppressed counts without a recorded threshold.
	SmallCell int `json:"small_cell"`
}

func getDefaultConfig() *Config {
	return &Config{
		Addr:            constants.DefaultServerAddr,
		ReadTimeout:     constants.DefaultReadTimeout,
		WriteTimeout:    constants.DefaultWriteTimeout,
		IdleTimeout:     2 * constants.DefaultWriteTimeout,
		ShutdownTimeout: constants.DefaultShutdownTimeout,
		HealthTimeout:   5 * time.Second,
		Workers:         constants.DefaultWorkers,
		SmallCell:       constants.SmallCellThreshold,
	}
}

func (c *Config) applyDefaults() {
	d := getDefaultConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = d.HealthTimeout
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.SmallCell <= 0 {
		c.SmallCell = d.SmallCell
	}
}
