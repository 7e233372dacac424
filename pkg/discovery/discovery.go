// Package discovery surfaces (nickname, ip, port) triples to the rest of
// the node. The secure channel accepts any address it is handed and never
// validates that a peer was discovered first; this package is only a feed.
//
// The default implementation is a static roster file, polled for changes,
// so a LAN deployment can ship a peers.yaml instead of running an mDNS
// responder.
package discovery

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/lanchat/lanchat/pkg/log"
)

// Peer is one discovered endpoint.
type Peer struct {
	Nickname string `yaml:"nickname"`
	IP       string `yaml:"ip"`
	Port     int    `yaml:"port"`
}

func (p Peer) endpoint() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

// Callback receives a peer whenever its endpoint differs from the one last
// announced for its nickname (including the first time it is seen).
type Callback func(Peer)

// rosterFile is the on-disk shape of the static roster.
type rosterFile struct {
	Peers []Peer `yaml:"peers"`
}

// StaticRoster reads peers from a YAML file and re-reads it periodically,
// announcing only entries it has not seen before. A peer that reappears
// with the same nickname and endpoint is not re-announced; a peer whose
// address changed is.
type StaticRoster struct {
	path     string
	interval time.Duration

	mu   sync.Mutex
	seen map[string]string // nickname -> last announced endpoint

	cancel context.CancelFunc
	wg     sync.WaitGroup

	llog zerolog.Logger
}

// NewStaticRoster creates a roster over the YAML file at path, polling it
// every interval (default 5s).
func NewStaticRoster(path string, interval time.Duration) *StaticRoster {
	if interval == 0 {
		interval = 5 * time.Second
	}
	return &StaticRoster{
		path:     path,
		interval: interval,
		seen:     make(map[string]string),
		llog:     log.WithComponent("discovery"),
	}
}

// Start announces the current file contents immediately, then keeps
// polling in the background until ctx is cancelled or Stop is called. A
// missing file at startup is an error; a file that goes missing later is
// ignored until it comes back.
func (r *StaticRoster) Start(ctx context.Context, cb Callback) error {
	if _, err := os.Stat(r.path); err != nil {
		return fmt.Errorf("discovery: roster file unavailable: %w", err)
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.announce(cb)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.announce(cb)
			}
		}
	}()
	return nil
}

// Stop halts polling.
func (r *StaticRoster) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *StaticRoster) announce(cb Callback) {
	peers, err := r.read()
	if err != nil {
		r.llog.Debug().Err(err).Msg("roster read failed")
		return
	}

	for _, p := range peers {
		if p.Nickname == "" || p.IP == "" || p.Port == 0 {
			continue
		}
		r.mu.Lock()
		prev, known := r.seen[p.Nickname]
		fresh := !known || prev != p.endpoint()
		if fresh {
			r.seen[p.Nickname] = p.endpoint()
		}
		r.mu.Unlock()

		if fresh {
			r.llog.Info().Str("peer", p.Nickname).Str("endpoint", p.endpoint()).Msg("peer discovered")
			cb(p)
		}
	}
}

func (r *StaticRoster) read() ([]Peer, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, err
	}
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("discovery: bad roster file: %w", err)
	}
	return f.Peers, nil
}
