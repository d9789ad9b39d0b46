// Package ops holds operator controls. The kill switch is a file sentinel:
// touching the file triggers an orchestrated shutdown of the run loop.
package ops

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultPollInterval = 2 * time.Second

// KillSwitch watches a sentinel file. State flips are pushed to subscribers
// and logged; polling keeps the check cheap and portable.
type KillSwitch struct {
	path     string
	interval time.Duration

	mu      sync.Mutex
	engaged bool
	subs    []chan bool

	stat func(string) (os.FileInfo, error)
}

// NewKillSwitch creates a switch over the sentinel path. A non-positive
// interval uses the default.
func NewKillSwitch(path string, interval time.Duration) *KillSwitch {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	k := &KillSwitch{
		path:     path,
		interval: interval,
		stat:     os.Stat,
	}
	k.engaged = k.present()
	return k
}

func (k *KillSwitch) present() bool {
	_, err := k.stat(k.path)
	return err == nil
}

// Engaged reports the state as of the last poll (or a direct check when no
// watcher is running).
func (k *KillSwitch) Engaged() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.engaged
}

// Subscribe returns a channel receiving every state flip. The channel is
// buffered; a slow reader drops intermediate flips but always sees the
// latest state eventually.
func (k *KillSwitch) Subscribe() <-chan bool {
	ch := make(chan bool, 1)
	k.mu.Lock()
	k.subs = append(k.subs, ch)
	k.mu.Unlock()
	return ch
}

// Watch polls the sentinel until ctx is done, updating state and notifying
// subscribers on every flip.
func (k *KillSwitch) Watch(ctx context.Context) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.poll()
		}
	}
}

func (k *KillSwitch) poll() {
	now := k.present()

	k.mu.Lock()
	changed := now != k.engaged
	k.engaged = now
	subs := k.subs
	k.mu.Unlock()

	if !changed {
		return
	}
	if now {
		log.Warn().Str("path", k.path).Msg("kill switch engaged")
	} else {
		log.Info().Str("path", k.path).Msg("kill switch released")
	}
	for _, ch := range subs {
		select {
		case ch <- now:
		default:
			// Replace a stale pending value so the reader sees the
			// latest state.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- now:
			default:
			}
		}
	}
}
