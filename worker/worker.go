package worker

import (
	"context"
	"log"
	"time"
)

// Periodic runs a unit of work on a fixed interval until the context is
// cancelled. The first run fires after one full interval. Errors and
// panics from a cycle are logged and never terminate the loop; only
// cancellation does.
type Periodic struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
	Logger   *log.Logger
}

func (p *Periodic) Start(ctx context.Context) {
	p.Logger.Printf("%s worker started (interval %s)", p.Name, p.Interval)

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Logger.Printf("%s worker shutting down...", p.Name)
			return
		case <-ticker.C:
			p.safeRun(ctx)
		}
	}
}

func (p *Periodic) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.Logger.Printf("%s cycle panic recovered: %v", p.Name, r)
		}
	}()

	if err := p.Run(ctx); err != nil {
		p.Logger.Printf("%s cycle failed: %v", p.Name, err)
	}
}

// lockTTL derives a lock expiry from the poll interval. The TTL must be
// shorter than the interval so a crashed holder cannot starve other
// instances past one scheduling window.
func lockTTL(interval time.Duration) time.Duration {
	ttl := interval - 5*time.Second
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
