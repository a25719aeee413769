package route

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/example/pet-ride/internal/models"
)

// Router resolves a drivable route through ordered waypoints.
type Router interface {
	Route(ctx context.Context, waypoints []models.Coord) (models.Route, error)
}

// OSRMClient performs route lookups against an OSRM-compatible HTTP server.
// Servers that support congestion annotations yield traffic segments.
type OSRMClient struct {
	Endpoint string
	Profile  string
	Client   *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{Endpoint: strings.TrimRight(endpoint, "/"), Profile: "driving", Client: &http.Client{Timeout: 4 * time.Second}}
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Geometry string  `json:"geometry"`
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Legs     []struct {
			Annotation *struct {
				Congestion []string `json:"congestion"`
			} `json:"annotation"`
		} `json:"legs"`
	} `json:"routes"`
}

func (o *OSRMClient) Route(ctx context.Context, waypoints []models.Coord) (models.Route, error) {
	if len(waypoints) < 2 {
		return models.Route{}, fmt.Errorf("route needs at least 2 waypoints, got %d", len(waypoints))
	}
	coords := make([]string, len(waypoints))
	for i, w := range waypoints {
		coords[i] = fmt.Sprintf("%.6f,%.6f", w.Lng, w.Lat)
	}
	url := fmt.Sprintf("%s/route/v1/%s/%s?overview=full&geometries=polyline&annotations=congestion",
		o.Endpoint, o.Profile, strings.Join(coords, ";"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Route{}, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return models.Route{}, err
	}
	defer resp.Body.Close()

	var out osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Route{}, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return models.Route{}, fmt.Errorf("osrm no route: %v", out.Code)
	}
	r := out.Routes[0]
	pts, err := DecodePolyline(r.Geometry, 5)
	if err != nil {
		return models.Route{}, fmt.Errorf("osrm geometry: %w", err)
	}
	var congestion []string
	for _, l := range r.Legs {
		if l.Annotation == nil {
			congestion = nil
			break
		}
		congestion = append(congestion, l.Annotation.Congestion...)
	}
	return models.Route{
		Polyline:  pts,
		Segments:  segmentsFrom(pts, congestion),
		DistanceM: r.Distance,
		DurationS: r.Duration,
	}, nil
}

// segmentsFrom groups consecutive edges of equal congestion. Annotation data
// that does not line up with the geometry is discarded.
func segmentsFrom(pts []models.Coord, congestion []string) []models.RouteSegment {
	if len(pts) < 2 || len(congestion) != len(pts)-1 {
		return nil
	}
	var out []models.RouteSegment
	for i, c := range congestion {
		level := models.Congestion(c)
		if n := len(out); n > 0 && out[n-1].Congestion == level {
			out[n-1].Points = append(out[n-1].Points, pts[i+1])
			continue
		}
		out = append(out, models.RouteSegment{Congestion: level, Points: []models.Coord{pts[i], pts[i+1]}})
	}
	return out
}
