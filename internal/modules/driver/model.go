// README: Driver directory records mirrored from the users collection.
package driver

import (
	"time"

	"agronet/internal/types"
)

// Location is a driver's last reported position. The geohash is recomputed
// on every report with the same precision the range queries use.
type Location struct {
	Lat     float64 `firestore:"lat"`
	Lng     float64 `firestore:"lng"`
	Geohash string  `firestore:"geohash"`
}

type Roles struct {
	IsDriver bool `firestore:"isDriver"`
}

// Record is a user document as the dispatcher sees it. Location and FCMToken
// are absent until the client has reported a position / registered for push.
type Record struct {
	ID                 types.ID  `firestore:"-"`
	Roles              Roles     `firestore:"roles"`
	Location           *Location `firestore:"location"`
	FCMToken           string    `firestore:"fcmToken"`
	Online             bool      `firestore:"isOnline"`
	LastLocationUpdate time.Time `firestore:"lastLocationUpdate"`
}

// Position returns the record's coordinates; ok is false when the driver has
// never reported a location.
func (r *Record) Position() (types.Point, bool) {
	if r.Location == nil {
		return types.Point{}, false
	}
	return types.Point{Lat: r.Location.Lat, Lng: r.Location.Lng}, true
}
