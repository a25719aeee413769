package places

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/pet-ride/internal/models"
)

// NominatimClient implements Geocoder against a Nominatim-compatible server.
type NominatimClient struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client
}

func NewNominatimClient(endpoint string) *NominatimClient {
	return &NominatimClient{
		Endpoint:  strings.TrimRight(endpoint, "/"),
		UserAgent: "petride/1.0",
		Client:    &http.Client{Timeout: 5 * time.Second},
	}
}

type nominatimPlace struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}

func (p nominatimPlace) location() (models.Location, error) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return models.Location{}, fmt.Errorf("bad lat %q: %w", p.Lat, err)
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return models.Location{}, fmt.Errorf("bad lon %q: %w", p.Lon, err)
	}
	name := p.Name
	if name == "" {
		name, _, _ = strings.Cut(p.DisplayName, ",")
	}
	return models.Location{Name: name, Address: p.DisplayName, Latitude: lat, Longitude: lon}, nil
}

func (n *NominatimClient) get(ctx context.Context, path string, q url.Values, out any) error {
	q.Set("format", "jsonv2")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.Endpoint+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", n.UserAgent)
	resp, err := n.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nominatim %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (n *NominatimClient) Search(ctx context.Context, query string, near *models.Coord) ([]models.Location, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", "8")
	if near != nil {
		// bias, not bound, the results to ~0.2 degrees around the user
		q.Set("viewbox", fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", near.Lng-0.2, near.Lat+0.2, near.Lng+0.2, near.Lat-0.2))
	}
	var raw []nominatimPlace
	if err := n.get(ctx, "/search", q, &raw); err != nil {
		return nil, err
	}
	out := make([]models.Location, 0, len(raw))
	for _, p := range raw {
		loc, err := p.location()
		if err != nil {
			continue
		}
		out = append(out, loc)
	}
	return out, nil
}

func (n *NominatimClient) Reverse(ctx context.Context, at models.Coord) (models.Location, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(at.Lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(at.Lng, 'f', 6, 64))
	var p nominatimPlace
	if err := n.get(ctx, "/reverse", q, &p); err != nil {
		return models.Location{}, err
	}
	return p.location()
}
