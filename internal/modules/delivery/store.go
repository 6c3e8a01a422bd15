// README: Delivery store backed by Firestore; the accept path runs as a
// single transaction so concurrent claimants cannot double-assign.
package delivery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"agronet/internal/types"
)

const deliveriesCollection = "deliveries"

// Store is the persistence contract the service depends on. The production
// implementation is FirestoreStore; tests substitute an in-memory one.
type Store interface {
	Create(ctx context.Context, d *Delivery) error
	Get(ctx context.Context, id types.ID) (*Delivery, error)
	// Accept atomically transitions id from SEARCHING to ASSIGNED with the
	// given driver. It must perform the read, the status check, and the
	// write inside one storage-level transaction; returns ErrNotFound or
	// ErrAlreadyAssigned otherwise.
	Accept(ctx context.Context, id, driverID types.ID, at time.Time) error
	// UpdateStatus is a plain write; after assignment only one actor is
	// eligible, so it needs no transactional guard.
	UpdateStatus(ctx context.Context, id types.ID, to Status) error
	ListAvailable(ctx context.Context) ([]Delivery, error)
	ListByDriver(ctx context.Context, driverID types.ID) ([]Delivery, error)
}

type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) Create(ctx context.Context, d *Delivery) error {
	_, err := s.client.Collection(deliveriesCollection).Doc(string(d.ID)).Set(ctx, d)
	if err != nil {
		return fmt.Errorf("create delivery %s: %w", d.ID, err)
	}
	return nil
}

func (s *FirestoreStore) Get(ctx context.Context, id types.ID) (*Delivery, error) {
	doc, err := s.client.Collection(deliveriesCollection).Doc(string(id)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery %s: %w", id, err)
	}
	return snapshotToDelivery(doc)
}

func (s *FirestoreStore) Accept(ctx context.Context, id, driverID types.ID, at time.Time) error {
	ref := s.client.Collection(deliveriesCollection).Doc(string(id))

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		cur, err := doc.DataAt("status")
		if err != nil {
			return err
		}
		if st, ok := cur.(string); !ok || Status(st) != StatusSearching {
			return ErrAlreadyAssigned
		}

		return tx.Update(ref, []firestore.Update{
			{Path: "status", Value: string(StatusAssigned)},
			{Path: "driverId", Value: string(driverID)},
			{Path: "driverAssignedAt", Value: at},
		})
	})
}

func (s *FirestoreStore) UpdateStatus(ctx context.Context, id types.ID, to Status) error {
	_, err := s.client.Collection(deliveriesCollection).Doc(string(id)).Update(ctx, []firestore.Update{
		{Path: "status", Value: string(to)},
	})
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update delivery %s status: %w", id, err)
	}
	return nil
}

func (s *FirestoreStore) ListAvailable(ctx context.Context) ([]Delivery, error) {
	iter := s.client.Collection(deliveriesCollection).
		Where("status", "==", string(StatusSearching)).
		Documents(ctx)
	return s.queryAll(iter)
}

func (s *FirestoreStore) ListByDriver(ctx context.Context, driverID types.ID) ([]Delivery, error) {
	iter := s.client.Collection(deliveriesCollection).
		Where("driverId", "==", string(driverID)).
		Documents(ctx)
	return s.queryAll(iter)
}

// WatchAvailable streams the SEARCHING result set on every change until the
// context is cancelled. The first element is the current snapshot.
func (s *FirestoreStore) WatchAvailable(ctx context.Context) <-chan []Delivery {
	out := make(chan []Delivery)
	snaps := s.client.Collection(deliveriesCollection).
		Where("status", "==", string(StatusSearching)).
		Snapshots(ctx)

	go func() {
		defer close(out)
		defer snaps.Stop()
		for {
			snap, err := snaps.Next()
			if err != nil {
				return
			}
			ds, err := s.queryAll(snap.Documents)
			if err != nil {
				continue
			}
			select {
			case out <- ds:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (s *FirestoreStore) queryAll(iter *firestore.DocumentIterator) ([]Delivery, error) {
	defer iter.Stop()
	var out []Delivery
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("delivery query: %w", err)
		}
		d, err := snapshotToDelivery(doc)
		if err != nil {
			continue
		}
		out = append(out, *d)
	}
	return out, nil
}

func snapshotToDelivery(doc *firestore.DocumentSnapshot) (*Delivery, error) {
	var d Delivery
	if err := doc.DataTo(&d); err != nil {
		return nil, fmt.Errorf("decode delivery %s: %w", doc.Ref.ID, err)
	}
	d.ID = types.ID(doc.Ref.ID)
	return &d, nil
}
