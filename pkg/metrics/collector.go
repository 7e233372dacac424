package metrics

import (
	"time"

	"github.com/lanchat/lanchat/pkg/log"
)

// StatsSource is anything that can report store-level totals; the encrypted
// store satisfies it. Defined here rather than imported so the store can
// itself record metrics without an import cycle.
type StatsSource interface {
	// Stats returns the number of contacts, messages in status pending,
	// and unread received messages.
	Stats() (contacts, pending, unread int)
}

// Collector periodically samples a StatsSource into the store gauges.
type Collector struct {
	source   StatsSource
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCollector creates a metrics collector sampling source every interval.
func NewCollector(source StatsSource, interval time.Duration) *Collector {
	if interval == 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics in the background.
func (c *Collector) Start() {
	go func() {
		defer close(c.doneCh)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		log.Logger.Info().Str("component", "metrics").Msg("metrics collector started")

		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop halts metric collection and waits for the sampling loop to exit.
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Collector) collect() {
	contacts, pending, unread := c.source.Stats()
	ContactsTotal.Set(float64(contacts))
	MessagesPending.Set(float64(pending))
	MessagesUnread.Set(float64(unread))
}
