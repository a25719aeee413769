package route

import (
	"math"

	"github.com/example/pet-ride/internal/models"
)

// Layer is one stroke drawn on the map. An empty Color means the map's
// default route style.
type Layer struct {
	Points []models.Coord
	Color  string
	Width  float64
}

var congestionColors = map[models.Congestion]string{
	models.CongestionUnknown:  "#2F80ED",
	models.CongestionLow:      "#27AE60",
	models.CongestionModerate: "#F2C94C",
	models.CongestionHeavy:    "#EB5757",
	models.CongestionSevere:   "#8B0000",
}

// Overlay turns a route into draw layers: one per traffic segment when
// segment data exists, otherwise a single uncolored polyline.
func Overlay(r models.Route) []Layer {
	if len(r.Segments) == 0 {
		if len(r.Polyline) < 2 {
			return nil
		}
		return []Layer{{Points: r.Polyline, Width: 5}}
	}
	out := make([]Layer, 0, len(r.Segments))
	for _, s := range r.Segments {
		color, ok := congestionColors[s.Congestion]
		if !ok {
			color = congestionColors[models.CongestionUnknown]
		}
		out = append(out, Layer{Points: s.Points, Color: color, Width: 5})
	}
	return out
}

// EdgePadding is screen space, in points, kept clear around the fitted region.
type EdgePadding struct {
	Top, Right, Bottom, Left float64
}

// SheetPadding leaves room for the booking bottom sheet.
func SheetPadding(sheetHeight float64) EdgePadding {
	return EdgePadding{Top: 60, Right: 40, Bottom: sheetHeight + 40, Left: 40}
}

type Viewport struct {
	Center   models.Coord
	LatDelta float64
	LngDelta float64
	Padding  EdgePadding
}

// minDelta keeps a single-point fit from zooming in to street furniture.
const minDelta = 0.005

// FitViewport returns the region containing every point.
func FitViewport(points []models.Coord, pad EdgePadding) (Viewport, bool) {
	if len(points) == 0 {
		return Viewport{}, false
	}
	minLat, maxLat := math.Inf(1), math.Inf(-1)
	minLng, maxLng := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		minLat = math.Min(minLat, p.Lat)
		maxLat = math.Max(maxLat, p.Lat)
		minLng = math.Min(minLng, p.Lng)
		maxLng = math.Max(maxLng, p.Lng)
	}
	return Viewport{
		Center:   models.Coord{Lat: (minLat + maxLat) / 2, Lng: (minLng + maxLng) / 2},
		LatDelta: math.Max(maxLat-minLat, minDelta),
		LngDelta: math.Max(maxLng-minLng, minDelta),
		Padding:  pad,
	}, true
}
