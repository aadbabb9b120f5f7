package server

import "github.com/raysh454/kansa/internal/logging"

type Config struct {
	// ListenAddr is the HTTP listen address for the API server.
	ListenAddr string

	// SubmitRatePerSec and SubmitBurst rate-limit scan submissions per
	// client address. A non-positive rate disables limiting.
	SubmitRatePerSec float64
	SubmitBurst      int

	Logger logging.Logger
}

// DefaultConfig returns server defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:       ":8080",
		SubmitRatePerSec: 5,
		SubmitBurst:      10,
	}
}
