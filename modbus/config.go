package modbus

import (
	"time"

	"github.com/rwirdemann/rtusensors"
)

// Config holds the retry and timing policy of a transaction.
type Config struct {
	MaxAttempts       int           // total attempts, including the first
	InterAttemptDelay time.Duration // pause after a failed attempt
	ResponseTimeout   time.Duration // bound of the read of one response
	Sleep             func(time.Duration)
}

var DefaultConfig = Config{
	MaxAttempts:       3,
	InterAttemptDelay: 50 * time.Millisecond,
	ResponseTimeout:   time.Second,
}

// ConfigFromSerial builds the transaction policy configured for a bus. Unset
// values fall back to DefaultConfig.
func ConfigFromSerial(serial rtusensors.Serial) Config {
	cfg := Config{
		MaxAttempts:       serial.Attempts,
		InterAttemptDelay: time.Duration(serial.Delay) * time.Millisecond,
		ResponseTimeout:   time.Duration(serial.Timeout) * time.Millisecond,
	}
	if cfg.InterAttemptDelay <= 0 {
		cfg.InterAttemptDelay = DefaultConfig.InterAttemptDelay
	}
	return cfg.withDefaults()
}

// withDefaults fills the values a transaction cannot run without. A zero
// InterAttemptDelay is kept: the caller asked for immediate retries.
func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if c.InterAttemptDelay < 0 {
		c.InterAttemptDelay = 0
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = DefaultConfig.ResponseTimeout
	}
	if c.Sleep == nil {
		c.Sleep = time.Sleep
	}
	return c
}
