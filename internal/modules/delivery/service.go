// README: Delivery service implements creation, accept arbitration, and the
// driver-gated status lifecycle.
package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agronet/internal/metrics"
	"agronet/internal/types"
)

var (
	ErrBadRequest        = errors.New("bad request")
	ErrNotFound          = errors.New("delivery not found")
	ErrAlreadyAssigned   = errors.New("delivery already taken by another driver")
	ErrForbidden         = errors.New("only the assigned driver may update this delivery")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Geocoder resolves a coordinate to a human-readable address. Optional;
// creation proceeds without an address when it is absent or failing.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, p types.Point) (string, error)
}

type Service struct {
	store   Store
	events  *EventLog
	geocode Geocoder
	log     *zap.Logger
}

func NewService(store Store, events *EventLog, geocode Geocoder, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, events: events, geocode: geocode, log: log}
}

type CreateCommand struct {
	OrderID types.ID
	Pickup  GeoAddress
	Drop    GeoAddress
}

type AcceptCommand struct {
	DeliveryID types.ID
	DriverID   types.ID
}

type AdvanceCommand struct {
	DeliveryID types.ID
	DriverID   types.ID
	NextStatus Status
}

// Create stores a new delivery in SEARCHING; the dispatch watcher picks it up
// from the change feed. Missing addresses are filled in best-effort.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (types.ID, error) {
	if cmd.OrderID == "" {
		return "", ErrBadRequest
	}

	pickup := cmd.Pickup
	drop := cmd.Drop
	if s.geocode != nil {
		if pickup.Address == "" {
			if addr, err := s.geocode.ReverseGeocode(ctx, pickup.Point()); err == nil {
				pickup.Address = addr
			}
		}
		if drop.Address == "" {
			if addr, err := s.geocode.ReverseGeocode(ctx, drop.Point()); err == nil {
				drop.Address = addr
			}
		}
	}

	d := &Delivery{
		ID:        types.ID(uuid.NewString()),
		OrderID:   cmd.OrderID,
		Pickup:    &pickup,
		Drop:      &drop,
		Status:    StatusSearching,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Create(ctx, d); err != nil {
		return "", err
	}
	s.appendEvent(ctx, d.ID, "", StatusSearching, "orderer", nil)
	return d.ID, nil
}

// Accept arbitrates the first-to-claim race. The store performs the
// read-check-write as one atomic unit; exactly one concurrent caller per
// delivery gets a nil error, everyone else sees ErrAlreadyAssigned.
func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) error {
	if cmd.DeliveryID == "" || cmd.DriverID == "" {
		return ErrBadRequest
	}
	err := s.store.Accept(ctx, cmd.DeliveryID, cmd.DriverID, time.Now().UTC())
	if errors.Is(err, ErrAlreadyAssigned) {
		metrics.AcceptConflictsTotal.Inc()
		return err
	}
	if err != nil {
		return err
	}
	metrics.DeliveriesAssignedTotal.Inc()
	s.log.Info("delivery assigned",
		zap.String("delivery_id", string(cmd.DeliveryID)),
		zap.String("driver_id", string(cmd.DriverID)))
	s.appendEvent(ctx, cmd.DeliveryID, StatusSearching, StatusAssigned, "driver", &cmd.DriverID)
	return nil
}

// Advance moves an assigned delivery along the linear lifecycle. Only the
// assigned driver may advance; after assignment there is no contention, so
// the write needs no transactional guard.
func (s *Service) Advance(ctx context.Context, cmd AdvanceCommand) error {
	if cmd.DeliveryID == "" || cmd.DriverID == "" || !ValidStatus(cmd.NextStatus) {
		return ErrBadRequest
	}

	d, err := s.store.Get(ctx, cmd.DeliveryID)
	if err != nil {
		return err
	}
	if d.DriverID == nil || *d.DriverID != cmd.DriverID {
		return ErrForbidden
	}
	if !CanTransition(d.Status, cmd.NextStatus) {
		return ErrInvalidTransition
	}

	if err := s.store.UpdateStatus(ctx, cmd.DeliveryID, cmd.NextStatus); err != nil {
		return err
	}
	s.appendEvent(ctx, cmd.DeliveryID, d.Status, cmd.NextStatus, "driver", &cmd.DriverID)
	return nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Delivery, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListAvailable(ctx context.Context) ([]Delivery, error) {
	return s.store.ListAvailable(ctx)
}

func (s *Service) ListByDriver(ctx context.Context, driverID types.ID) ([]Delivery, error) {
	if driverID == "" {
		return nil, ErrBadRequest
	}
	return s.store.ListByDriver(ctx, driverID)
}

func (s *Service) appendEvent(ctx context.Context, id types.ID, from, to Status, actorType string, actorID *types.ID) {
	if s.events == nil {
		return
	}
	err := s.events.Append(ctx, &Event{
		DeliveryID: id,
		FromStatus: from,
		ToStatus:   to,
		ActorType:  actorType,
		ActorID:    actorID,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		s.log.Warn("append delivery event", zap.String("delivery_id", string(id)), zap.Error(err))
	}
}
