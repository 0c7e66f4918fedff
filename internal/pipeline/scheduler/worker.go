package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"eldorado/internal/model"
	"eldorado/internal/pipeline/validator"
)

// drainIdle is how long a drain worker sleeps when the queue is empty.
const drainIdle = 15 * time.Second

// EventWorker drains one family of queued events (validation types for
// manage mode, backfill types for backfill mode), running the repair
// protocol per item. Delivery is at-least-once; the protocol is
// idempotent.
type EventWorker struct {
	Sched *Scheduler
	Types []model.EventType

	// Once makes Drain return when the queue is empty instead of
	// sleeping, used by the one-shot CLI modes.
	Once bool
}

// Drain claims and processes events until ctx is cancelled (or, with
// Once, until the queue runs dry).
func (w *EventWorker) Drain(ctx context.Context) error {
	for {
		e, ok, err := w.Sched.Events.Claim(ctx, w.Sched.Cfg.Droplet, w.Types)
		if err != nil {
			return err
		}
		if !ok {
			if w.Once {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(drainIdle):
			}
			continue
		}

		if err := w.process(ctx, &e); err != nil {
			if ctx.Err() != nil {
				// Shutting down mid-item: put it back for the next run.
				w.Sched.Events.Release(context.Background(), e.ID)
				return nil
			}
			w.resolve(ctx, &e, err)
			continue
		}
		if err := w.Sched.Events.Complete(ctx, e.ID, model.EventDone, ""); err != nil {
			return err
		}
		if w.Sched.OnEventProcessed != nil {
			w.Sched.OnEventProcessed(string(e.Type), "done")
		}
	}
}

// process runs one event through the repair protocol.
func (w *EventWorker) process(ctx context.Context, e *model.Event) error {
	if w.Sched.Cfg.DryRun {
		log.Printf("[worker] dry-run: would process %s event %d for market %s window %s",
			e.Type, e.ID, e.MarketID, e.Start.Format(time.RFC3339))
		return nil
	}
	m, err := w.Sched.Markets.Get(ctx, e.MarketID)
	if err != nil {
		return err
	}
	log.Printf("[worker] processing %s event %d for %s window %s/%ds",
		e.Type, e.ID, m.Key(), e.Start.Format(time.RFC3339), e.Duration)
	return w.Sched.Validator.Repair(ctx, &m, e)
}

// resolve handles a failed repair: the item goes back to the queue for
// another attempt, escalating to error plus an alert once the repair
// budget is spent.
func (w *EventWorker) resolve(ctx context.Context, e *model.Event, cause error) {
	if e.Attempts < validator.MaxRepairAttempts() {
		log.Printf("[worker] event %d attempt %d failed: %v, requeueing", e.ID, e.Attempts, cause)
		if err := w.Sched.Events.Release(ctx, e.ID); err != nil {
			log.Printf("[worker] release event %d: %v", e.ID, err)
		}
		return
	}

	msg := fmt.Sprintf("event %d (%s) failed after %d attempts: %v", e.ID, e.Type, e.Attempts, cause)
	log.Printf("[worker] %s", msg)
	if err := w.Sched.Events.Complete(ctx, e.ID, model.EventError, cause.Error()); err != nil {
		log.Printf("[worker] complete event %d: %v", e.ID, err)
	}
	if w.Sched.OnEventProcessed != nil {
		w.Sched.OnEventProcessed(string(e.Type), "error")
	}
	if w.Sched.Alerts != nil {
		id := e.MarketID
		w.Sched.Alerts.Alert(ctx, "critical", e.Exchange, &id, msg)
	}
}
