package cycler

import (
	"context"
	"errors"
	"time"
)

// ErrTriggerClosed reports that an event trigger's source channel was closed.
// The cycler treats it as a clean shutdown.
var ErrTriggerClosed = errors.New("cycler: trigger source closed")

// Trigger supplies the start of each tick. Wait blocks until the next tick is
// due and returns the tick timestamp.
type Trigger interface {
	Wait(ctx context.Context) (time.Time, error)
}

type periodic struct {
	period time.Duration
	ticker *time.Ticker
}

// Every returns a periodic trigger with a fixed tick period, for control-loop
// style cyclers.
func Every(period time.Duration) Trigger {
	return &periodic{period: period}
}

func (p *periodic) Wait(ctx context.Context) (time.Time, error) {
	if p.ticker == nil {
		p.ticker = time.NewTicker(p.period)
	}
	select {
	case <-ctx.Done():
		p.ticker.Stop()
		return time.Time{}, ctx.Err()
	case t := <-p.ticker.C:
		return t, nil
	}
}

type events struct {
	source <-chan time.Time
}

// OnEvents returns a trigger that starts a tick whenever an external input
// arrives, e.g. a sensor frame. The channel value is the tick timestamp.
func OnEvents(source <-chan time.Time) Trigger {
	return &events{source: source}
}

func (e *events) Wait(ctx context.Context) (time.Time, error) {
	select {
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	case t, ok := <-e.source:
		if !ok {
			return time.Time{}, ErrTriggerClosed
		}
		return t, nil
	}
}
