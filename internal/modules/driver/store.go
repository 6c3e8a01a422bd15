// README: Driver directory backed by the Firestore users collection.
package driver

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"agronet/internal/modules/geo"
	"agronet/internal/types"
)

const usersCollection = "users"

type Store struct {
	client *firestore.Client
}

func NewStore(client *firestore.Client) *Store {
	return &Store{client: client}
}

// FindInRange returns every driver whose stored geohash falls in [lo, hi].
// The query relies on a composite index over (roles.isDriver,
// location.geohash).
func (s *Store) FindInRange(ctx context.Context, lo, hi string) ([]Record, error) {
	iter := s.client.Collection(usersCollection).
		Where("roles.isDriver", "==", true).
		Where("location.geohash", ">=", lo).
		Where("location.geohash", "<=", hi).
		Documents(ctx)
	defer iter.Stop()

	var records []Record
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("driver range query [%s,%s]: %w", lo, hi, err)
		}
		var r Record
		if err := doc.DataTo(&r); err != nil {
			// Malformed user documents must not take down a dispatch.
			continue
		}
		r.ID = types.ID(doc.Ref.ID)
		records = append(records, r)
	}
	return records, nil
}

// ReportLocation upserts a driver's position, recomputing the geohash so the
// stored key stays comparable with dispatch query bounds.
func (s *Store) ReportLocation(ctx context.Context, id types.ID, p types.Point) error {
	hash, err := geo.Encode(p.Lat, p.Lng)
	if err != nil {
		return err
	}
	_, err = s.client.Collection(usersCollection).Doc(string(id)).Update(ctx, []firestore.Update{
		{Path: "location", Value: Location{Lat: p.Lat, Lng: p.Lng, Geohash: hash}},
		{Path: "isOnline", Value: true},
		{Path: "lastLocationUpdate", Value: time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("update driver %s location: %w", id, err)
	}
	return nil
}
