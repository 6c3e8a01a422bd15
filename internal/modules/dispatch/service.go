// README: Dispatch pipeline: geo bounds -> candidate scan -> exact distance
// filter -> push fan-out. One invocation per newly created delivery.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"agronet/internal/metrics"
	"agronet/internal/modules/delivery"
	"agronet/internal/modules/driver"
	"agronet/internal/modules/geo"
	"agronet/internal/types"
)

// DefaultRadiusMeters is a fixed 5 km search disc. There is no expanding
// retry when it comes up empty.
const DefaultRadiusMeters = 5000.0

// DriverDirectory answers one geohash range query against the driver
// directory. Implemented by driver.Store.
type DriverDirectory interface {
	FindInRange(ctx context.Context, lo, hi string) ([]driver.Record, error)
}

// Recipient is a driver that passed the exact-distance filter and can be
// reached over push.
type Recipient struct {
	DriverID types.ID
	Token    string
}

// Event is one newly observed delivery document, as delivered by the watcher
// or synthesised in tests.
type Event struct {
	ID       types.ID
	Delivery delivery.Delivery
}

type Service struct {
	directory DriverDirectory
	pusher    Pusher
	dlog      Log
	radiusM   float64
	log       *zap.Logger
}

func NewService(directory DriverDirectory, pusher Pusher, dlog Log, radiusM float64, log *zap.Logger) *Service {
	if radiusM <= 0 {
		radiusM = DefaultRadiusMeters
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{directory: directory, pusher: pusher, dlog: dlog, radiusM: radiusM, log: log}
}

// HandleCreated runs the full pipeline for one new SEARCHING delivery.
// Every failure is local to this delivery: the method logs and returns, it
// never propagates an error back into the watcher loop.
func (s *Service) HandleCreated(ctx context.Context, ev Event) {
	log := s.log.With(zap.String("delivery_id", string(ev.ID)))

	if s.dlog != nil {
		if done, err := s.dlog.WasDispatched(ctx, ev.ID); err == nil && done {
			log.Debug("delivery already dispatched, skipping")
			return
		}
	}

	pickup := ev.Delivery.Pickup
	if pickup == nil {
		// A delivery without coordinates can never be geo-matched; it has
		// to be corrected upstream, so there is nothing to retry here.
		log.Warn("delivery has no pickup location, skipping dispatch")
		metrics.DispatchSkippedTotal.WithLabelValues("missing_pickup").Inc()
		return
	}
	center := pickup.Point()

	boxes, err := geo.QueryBounds(center, s.radiusM)
	if err != nil {
		log.Warn("invalid pickup coordinates, skipping dispatch",
			zap.Float64("lat", center.Lat), zap.Float64("lng", center.Lng), zap.Error(err))
		metrics.DispatchSkippedTotal.WithLabelValues("invalid_pickup").Inc()
		return
	}

	metrics.DeliveriesDispatchedTotal.Inc()

	candidates, err := s.scan(ctx, boxes)
	if err != nil {
		log.Error("candidate scan failed", zap.Error(err))
		return
	}

	recipients := FilterReachable(candidates, center, s.radiusM)

	if len(recipients) == 0 {
		log.Info("no drivers nearby", zap.Float64("radius_m", s.radiusM))
		metrics.NoDriversFoundTotal.Inc()
		s.markDispatched(ctx, ev.ID, nil)
		return
	}

	tokens := make([]string, len(recipients))
	notified := make([]types.ID, len(recipients))
	for i, r := range recipients {
		tokens[i] = r.Token
		notified[i] = r.DriverID
	}

	res, err := s.pusher.Send(ctx, tokens, Notification{
		Title:      "New Delivery Request!",
		Body:       fmt.Sprintf("Pickup within %.0fkm.", s.radiusM/1000),
		DeliveryID: ev.ID,
	})
	if err != nil {
		// Best-effort fan-out. No retry, no rollback.
		log.Error("push fan-out failed", zap.Int("tokens", len(tokens)), zap.Error(err))
	} else {
		log.Info("drivers notified",
			zap.Int("requested", res.Requested),
			zap.Int("delivered", res.Delivered),
			zap.Int("failed", res.Failed))
	}
	metrics.DriversNotifiedTotal.Add(float64(len(tokens)))

	s.markDispatched(ctx, ev.ID, notified)
}

// scan issues one range query per bounding box concurrently, awaits them
// jointly, and unions the results de-duplicated by driver id (boxes overlap
// at cell borders).
func (s *Service) scan(ctx context.Context, boxes []geo.Box) ([]driver.Record, error) {
	var (
		mu      sync.Mutex
		records []driver.Record
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, box := range boxes {
		g.Go(func() error {
			found, err := s.directory.FindInRange(ctx, box.Lo, box.Hi)
			if err != nil {
				return err
			}
			mu.Lock()
			records = append(records, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[types.ID]bool, len(records))
	unique := records[:0]
	for _, r := range records {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		unique = append(unique, r)
	}
	return unique, nil
}

// FilterReachable re-checks every candidate with the exact great-circle
// distance (geohash boxes over-approximate the circle) and drops drivers
// that cannot be reached: no reported location or no push token. An
// unreachable driver must not block dispatch.
func FilterReachable(candidates []driver.Record, center types.Point, radiusM float64) []Recipient {
	var out []Recipient
	for _, c := range candidates {
		pos, ok := c.Position()
		if !ok || c.FCMToken == "" {
			continue
		}
		if geo.DistanceMeters(center, pos) <= radiusM {
			out = append(out, Recipient{DriverID: c.ID, Token: c.FCMToken})
		}
	}
	return out
}

func (s *Service) markDispatched(ctx context.Context, id types.ID, notified []types.ID) {
	if s.dlog == nil {
		return
	}
	if err := s.dlog.MarkDispatched(ctx, id, notified); err != nil {
		s.log.Warn("record dispatch", zap.String("delivery_id", string(id)), zap.Error(err))
	}
}
