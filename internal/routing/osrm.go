package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/example/driver-client/internal/models"
)

// OSRMClient performs route lookups against an OSRM HTTP server.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{Endpoint: strings.TrimRight(endpoint, "/"), Client: &http.Client{Timeout: 5 * time.Second}}
}

// Route queries OSRM /route between points and returns the first route.
func (o *OSRMClient) Route(ctx context.Context, from, to models.Coord) (Route, error) {
	// OSRM expects {lon},{lat} pairs: /route/v1/driving/{lon1},{lat1};{lon2},{lat2}?overview=false
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=false", o.Endpoint, from.Lng, from.Lat, to.Lng, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Route{}, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return Route{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusBadRequest {
		// OSRM reports NoRoute and friends as 400 with a JSON body.
		return Route{}, fmt.Errorf("osrm status %d", resp.StatusCode)
	}
	var out struct {
		Routes []struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
		} `json:"routes"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Route{}, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return Route{}, fmt.Errorf("osrm no route: %v %s", out.Code, out.Message)
	}
	return Route{DistanceMeters: out.Routes[0].Distance, DurationSeconds: out.Routes[0].Duration}, nil
}

func (o *OSRMClient) DistanceMeters(ctx context.Context, from, to models.Coord) (float64, error) {
	r, err := o.Route(ctx, from, to)
	if err != nil {
		return 0, err
	}
	return r.DistanceMeters, nil
}
