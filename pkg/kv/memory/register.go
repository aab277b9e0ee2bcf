package memory

import (
	"time"

	"github.com/argenta/argenta-backend/pkg/kv"
)

const defaultJanitorInterval = 30 * time.Second

func init() {
	kv.RegisterBackend(kv.BackendMemory, func(cfg kv.Config) (kv.Store, error) {
		interval := cfg.JanitorInterval
		if interval == 0 {
			interval = defaultJanitorInterval
		}
		return New(interval), nil
	})
}

// NewStore creates an in-memory store with the default janitor interval.
func NewStore() kv.Store {
	return New(defaultJanitorInterval)
}
