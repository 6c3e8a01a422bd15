// Package geo provides geohash-based proximity indexing: encoding coordinates
// into sortable keys, covering a search disc with key ranges, and exact
// great-circle distance.
package geo

import (
	"errors"
	"math"

	"github.com/mmcloughlin/geohash"

	"agronet/internal/types"
)

// StoragePrecision is the geohash length written onto driver documents.
// Queries compare against stored keys lexicographically, so the same
// precision must be used everywhere.
const StoragePrecision = 10

const earthRadiusM = 6371000.0

var ErrInvalidCoordinate = errors.New("latitude must be in [-90,90] and longitude in [-180,180]")

// Box is a single geohash range query: every stored key k with
// Lo <= k <= Hi falls inside the box.
type Box struct {
	Lo string
	Hi string
}

// cellHeightKm[p] is the north-south extent of a geohash cell of length p.
// Widths at the equator are equal (odd p) or double (even p); the east-west
// extent additionally shrinks with cos(lat).
var cellHeightKm = [...]float64{
	1:  5000,
	2:  625,
	3:  156,
	4:  19.5,
	5:  4.89,
	6:  0.61,
	7:  0.153,
	8:  0.0191,
	9:  0.00477,
	10: 0.000596,
}

// Encode returns the storage-precision geohash for a coordinate.
func Encode(lat, lng float64) (string, error) {
	if !valid(lat, lng) {
		return "", ErrInvalidCoordinate
	}
	return geohash.EncodeWithPrecision(lat, lng, StoragePrecision), nil
}

// QueryBounds returns geohash ranges that together contain every point within
// radiusMeters of center. The ranges over-cover: a geohash cell grid cannot
// represent a circle exactly. A radius <= 0 degenerates to the single box of
// the center cell.
func QueryBounds(center types.Point, radiusMeters float64) ([]Box, error) {
	if !valid(center.Lat, center.Lng) {
		return nil, ErrInvalidCoordinate
	}

	if radiusMeters <= 0 {
		h := geohash.EncodeWithPrecision(center.Lat, center.Lng, StoragePrecision)
		return []Box{rangeOf(h)}, nil
	}

	// Latitude extent of the disc. Near a pole the disc spans a longitude
	// range wider than any cell neighborhood, so the center-plus-neighbors
	// construction cannot contain it; cover the circumpolar band instead.
	latSpan := radiusMeters / earthRadiusM * (180 / math.Pi)
	north := center.Lat + latSpan
	south := center.Lat - latSpan
	if 90-math.Abs(center.Lat) <= 3*latSpan {
		return polarCap(south, north), nil
	}

	p := precisionFor(radiusMeters, math.Max(math.Abs(south), math.Abs(north)))
	centerCell := geohash.EncodeWithPrecision(center.Lat, center.Lng, p)

	// Center cell plus its eight neighbors cover the disc as long as the
	// smallest cell dimension is at least the radius (precisionFor
	// guarantees that). Neighbors can coincide near the poles, hence the
	// de-dup.
	cells := append(geohash.Neighbors(centerCell), centerCell)
	seen := make(map[string]bool, len(cells))
	boxes := make([]Box, 0, len(cells))
	for _, c := range cells {
		if seen[c] {
			continue
		}
		seen[c] = true
		boxes = append(boxes, rangeOf(c))
	}
	return boxes, nil
}

// DistanceMeters returns the haversine great-circle distance between two
// points.
func DistanceMeters(a, b types.Point) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	rLat1 := radians(a.Lat)
	rLat2 := radians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusM * c
}

// precisionFor picks the longest geohash prefix whose cells are still at
// least radiusMeters across in both dimensions. East-west cell extent
// shrinks with cos(lat), so the pole-most latitude the disc reaches governs.
func precisionFor(radiusMeters, extremeLat float64) uint {
	cosLat := math.Cos(radians(extremeLat))
	for p := uint(len(cellHeightKm) - 1); p > 1; p-- {
		minDimM := cellHeightKm[p] * 1000 * cosLat
		if minDimM >= radiusMeters {
			return p
		}
	}
	return 1
}

// polarCap returns the precision-1 cells of every latitude band the range
// [south, north] touches, across all longitudes. Any point in the disc lies
// in one of these bands, so the union contains the disc regardless of how
// longitudes converge at the pole.
func polarCap(south, north float64) []Box {
	if south < -90 {
		south = -90
	}
	if north > 90 {
		north = 90
	}
	seen := make(map[string]bool)
	var boxes []Box
	for band := -67.5; band <= 67.5; band += 45 {
		if band+22.5 < south || band-22.5 > north {
			continue
		}
		for lng := -157.5; lng < 180; lng += 45 {
			c := geohash.EncodeWithPrecision(band, lng, 1)
			if seen[c] {
				continue
			}
			seen[c] = true
			boxes = append(boxes, rangeOf(c))
		}
	}
	return boxes
}

// rangeOf turns a cell prefix into an inclusive key range. '~' sorts after
// every character of the geohash alphabet, so prefix+"~" upper-bounds all
// storage-precision keys inside the cell.
func rangeOf(prefix string) Box {
	return Box{Lo: prefix, Hi: prefix + "~"}
}

func valid(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
