package route

import (
	"fmt"
	"math"
	"strings"

	"github.com/example/pet-ride/internal/models"
)

// DecodePolyline decodes an encoded polyline with the given precision
// (5 for Google/OSRM "polyline", 6 for "polyline6").
func DecodePolyline(s string, precision int) ([]models.Coord, error) {
	factor := 1.0
	for i := 0; i < precision; i++ {
		factor *= 10
	}
	var (
		out      []models.Coord
		lat, lng int
		i        int
	)
	for i < len(s) {
		var dlat, dlng int
		var err error
		if dlat, i, err = decodeValue(s, i); err != nil {
			return nil, err
		}
		if dlng, i, err = decodeValue(s, i); err != nil {
			return nil, err
		}
		lat += dlat
		lng += dlng
		out = append(out, models.Coord{Lat: float64(lat) / factor, Lng: float64(lng) / factor})
	}
	return out, nil
}

func decodeValue(s string, i int) (int, int, error) {
	var result, shift int
	for {
		if i >= len(s) {
			return 0, i, fmt.Errorf("polyline truncated at %d", i)
		}
		b := int(s[i]) - 63
		i++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}
	if result&1 != 0 {
		return ^(result >> 1), i, nil
	}
	return result >> 1, i, nil
}

// EncodePolyline is the inverse of DecodePolyline.
func EncodePolyline(pts []models.Coord, precision int) string {
	factor := 1.0
	for i := 0; i < precision; i++ {
		factor *= 10
	}
	var b strings.Builder
	var plat, plng int
	for _, p := range pts {
		lat := int(math.Round(p.Lat * factor))
		lng := int(math.Round(p.Lng * factor))
		encodeValue(&b, lat-plat)
		encodeValue(&b, lng-plng)
		plat, plng = lat, lng
	}
	return b.String()
}

func encodeValue(b *strings.Builder, v int) {
	v <<= 1
	if v < 0 {
		v = ^v
	}
	for v >= 0x20 {
		b.WriteByte(byte((0x20 | (v & 0x1f)) + 63))
		v >>= 5
	}
	b.WriteByte(byte(v + 63))
}
