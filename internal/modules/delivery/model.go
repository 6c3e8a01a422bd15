// README: Delivery aggregate and status lifecycle definitions.
package delivery

import (
	"time"

	"agronet/internal/types"
)

type Status string

const (
	StatusSearching Status = "SEARCHING"
	StatusAssigned  Status = "ASSIGNED"
	StatusPickedUp  Status = "PICKED_UP"
	StatusDelivered Status = "DELIVERED"
)

// GeoAddress is a coordinate pair with a human-readable address.
type GeoAddress struct {
	Lat     float64 `firestore:"lat" json:"lat"`
	Lng     float64 `firestore:"lng" json:"lng"`
	Address string  `firestore:"address,omitempty" json:"address,omitempty"`
}

func (g *GeoAddress) Point() types.Point {
	return types.Point{Lat: g.Lat, Lng: g.Lng}
}

// Delivery is a delivery request document. DriverID is null exactly while the
// delivery is SEARCHING and immutable once set; only the accept transaction
// writes it.
type Delivery struct {
	ID         types.ID    `firestore:"-" json:"id"`
	OrderID    types.ID    `firestore:"orderId" json:"order_id"`
	Pickup     *GeoAddress `firestore:"pickupLocation" json:"pickup"`
	Drop       *GeoAddress `firestore:"dropLocation" json:"drop"`
	Status     Status      `firestore:"status" json:"status"`
	DriverID   *types.ID   `firestore:"driverId" json:"driver_id,omitempty"`
	CreatedAt  time.Time   `firestore:"createdAt" json:"created_at"`
	AssignedAt *time.Time  `firestore:"driverAssignedAt" json:"assigned_at,omitempty"`
}

// AllowedTransitions represents the linear delivery state flow as code.
// SEARCHING -> ASSIGNED happens only through the accept transaction;
// the later hops are plain writes by the assigned driver.
var AllowedTransitions = map[Status][]Status{
	StatusSearching: {StatusAssigned},
	StatusAssigned:  {StatusPickedUp},
	StatusPickedUp:  {StatusDelivered},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func ValidStatus(s Status) bool {
	switch s {
	case StatusSearching, StatusAssigned, StatusPickedUp, StatusDelivered:
		return true
	}
	return false
}

// Event is one entry in the state-transition audit log.
type Event struct {
	ID         int64
	DeliveryID types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	CreatedAt  time.Time
}
