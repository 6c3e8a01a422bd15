package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"agronet/internal/types"
)

// Geocoder resolves coordinates to addresses via the Google Maps Geocoding
// API. Used best-effort when a delivery is created without addresses.
type Geocoder struct {
	client *maps.Client
}

// NewGeocoder creates a Geocoder with the given API key.
func NewGeocoder(apiKey string) (*Geocoder, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &Geocoder{client: client}, nil
}

// ReverseGeocode returns the formatted address closest to the given point.
func (g *Geocoder) ReverseGeocode(ctx context.Context, p types.Point) (string, error) {
	r := &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: p.Lat, Lng: p.Lng},
	}
	results, err := g.client.ReverseGeocode(ctx, r)
	if err != nil {
		return "", fmt.Errorf("maps api error: %w", err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("no address found for %.6f,%.6f", p.Lat, p.Lng)
	}
	return results[0].FormattedAddress, nil
}
