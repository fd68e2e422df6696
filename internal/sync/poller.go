package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/sirupsen/logrus"
)

// entry pairs an account's store id with its fetcher.
type entry struct {
	accountID int64
	email     string
	fetcher   Fetcher
}

// Poller runs periodic sync passes for registered accounts on a shared
// interval. Each account polls in its own goroutine; store writes stay
// serialized by the store's transactions.
type Poller struct {
	syncer   *Syncer
	logger   *logrus.Logger
	interval time.Duration

	mu      gosync.Mutex
	entries []entry
	cancel  context.CancelFunc
	done    gosync.WaitGroup
	running bool
}

// NewPoller creates a poller that runs syncer every interval.
func NewPoller(syncer *Syncer, interval time.Duration, logger *logrus.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Poller{syncer: syncer, logger: logger, interval: interval}
}

// Register adds an account to the polling set. Accounts registered after
// Start are picked up on the next Start.
func (p *Poller) Register(accountID int64, email string, fetcher Fetcher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry{accountID: accountID, email: email, fetcher: fetcher})
}

// Start launches the polling goroutines. Each account syncs immediately
// and then on every tick until Stop is called or ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	entries := make([]entry, len(p.entries))
	copy(entries, p.entries)
	p.mu.Unlock()

	for _, e := range entries {
		p.done.Add(1)
		go p.poll(ctx, e)
	}
}

// Stop cancels all polling goroutines and waits for in-flight passes to
// reach their next checkpoint.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.running = false
	p.mu.Unlock()

	p.done.Wait()
}

func (p *Poller) poll(ctx context.Context, e entry) {
	defer p.done.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.syncOnce(ctx, e)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.syncOnce(ctx, e)
		}
	}
}

func (p *Poller) syncOnce(ctx context.Context, e entry) {
	res, err := p.syncer.SyncAccount(ctx, e.accountID, e.fetcher)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.WithError(err).WithField("account", e.email).Warn("Sync pass failed")
		return
	}

	p.logger.WithFields(logrus.Fields{
		"account":  e.email,
		"folders":  res.Folders,
		"inserted": res.Inserted,
		"updated":  res.Updated,
		"skipped":  res.Skipped,
	}).Info("Sync pass complete")
}
