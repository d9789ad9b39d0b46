package config

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Snapshot is an immutable, versioned view of the configuration. Workers
// always read the currently-active snapshot reference; a reload swaps the
// whole snapshot rather than mutating shared fields.
type Snapshot struct {
	Version int64
	Config  Config
}

// Store holds the active configuration snapshot.
type Store struct {
	path    string
	current atomic.Pointer[Snapshot]
	version atomic.Int64
}

// NewStore creates a store seeded with the given configuration.
func NewStore(path string, cfg Config) *Store {
	s := &Store{path: path}
	s.current.Store(&Snapshot{Version: s.version.Add(1), Config: cfg})
	return s
}

// Current returns the active snapshot. The returned value must not be mutated.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Reload re-reads the config file and atomically swaps in a new snapshot.
// In-flight workers keep the snapshot they started with.
func (s *Store) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}
	snap := &Snapshot{Version: s.version.Add(1), Config: cfg}
	s.current.Store(snap)
	log.Info().Int64("version", snap.Version).Msg("configuration reloaded")
	return nil
}
