package sessions

import (
	"sync"
	"time"

	"clawmon/internal/async"
	"clawmon/internal/logging"
)

// Poller refreshes the session store from the runtime CLI on a fixed
// interval. A failed poll cycle yields no updates and the next tick retries.
type Poller struct {
	cli      *CLI
	store    *Store
	interval time.Duration
	logger   logging.Logger

	started  sync.Once
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPoller constructs a poller over cli feeding store.
func NewPoller(cli *CLI, store *Store, interval time.Duration, logger logging.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		cli:      cli,
		store:    store,
		interval: interval,
		logger:   logging.OrNop(logger),
		stopCh:   make(chan struct{}),
	}
}

// Start polls immediately, then on every tick.
func (p *Poller) Start() {
	p.started.Do(func() {
		async.Go(p.logger, "sessions.poll", p.loop)
	})
}

// Stop terminates the poller. Safe to call before Start and more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *Poller) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.refresh()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.refresh()
		}
	}
}

func (p *Poller) refresh() {
	entries := p.cli.Sessions()
	for _, entry := range entries {
		p.store.Put(entry.SessionKey, entry)
	}
	if len(entries) > 0 {
		p.logger.Debug("refreshed %d sessions from CLI", len(entries))
	}
}
