// README: Long-running Firestore change-feed watcher that triggers the
// dispatch pipeline for each newly created SEARCHING delivery.
package dispatch

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"

	"agronet/internal/modules/delivery"
	"agronet/internal/types"
)

const deliveriesCollection = "deliveries"

// Watcher holds no mutable state beyond the store connection; every change
// event is turned into one Handler invocation, which makes the handler
// independently testable with synthetic events.
type Watcher struct {
	client  *firestore.Client
	handler func(ctx context.Context, ev Event)
	log     *zap.Logger
}

func NewWatcher(client *firestore.Client, handler func(ctx context.Context, ev Event), log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{client: client, handler: handler, log: log}
}

// Run blocks until ctx is cancelled. Only "added" changes trigger the
// handler: a delivery modified while still SEARCHING, or re-read after a
// reconnect, must not re-enter the pipeline as a fresh creation (the redis
// dispatch log covers the reconnect replay).
//
// Pipelines for distinct deliveries run concurrently and are fire-and-forget;
// a failure inside one never unsubscribes the watcher.
func (w *Watcher) Run(ctx context.Context) {
	for {
		if err := w.watch(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error("delivery watch interrupted, reconnecting", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (w *Watcher) watch(ctx context.Context) error {
	snaps := w.client.Collection(deliveriesCollection).
		Where("status", "==", string(delivery.StatusSearching)).
		Snapshots(ctx)
	defer snaps.Stop()

	for {
		snap, err := snaps.Next()
		if err != nil {
			return err
		}
		for _, change := range snap.Changes {
			if change.Kind != firestore.DocumentAdded {
				continue
			}
			ev, err := toEvent(change.Doc)
			if err != nil {
				w.log.Warn("malformed delivery document",
					zap.String("delivery_id", change.Doc.Ref.ID), zap.Error(err))
				continue
			}
			go w.handler(ctx, ev)
		}
	}
}

func toEvent(doc *firestore.DocumentSnapshot) (Event, error) {
	var d delivery.Delivery
	if err := doc.DataTo(&d); err != nil {
		return Event{}, err
	}
	d.ID = types.ID(doc.Ref.ID)
	return Event{ID: d.ID, Delivery: d}, nil
}
