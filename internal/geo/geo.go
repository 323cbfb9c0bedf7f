package geo

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mmcloughlin/geohash"

	"github.com/example/driver-client/internal/models"
)

// Peer is the last known position of another participant on the map.
type Peer struct {
	ID      string       `json:"id"`
	Loc     models.Coord `json:"loc"`
	Updated time.Time    `json:"updated"`
}

// Index keeps peer positions pushed over the realtime channel.
type Index struct {
	mu    sync.RWMutex
	peers map[string]Peer
}

func NewIndex() *Index {
	return &Index{peers: make(map[string]Peer)}
}

func (g *Index) Upsert(p Peer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.Updated.IsZero() {
		p.Updated = time.Now()
	}
	g.peers[p.ID] = p
}

// Prune drops peers not refreshed within maxAge and reports how many.
func (g *Index) Prune(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-maxAge)
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for id, p := range g.peers {
		if p.Updated.Before(cutoff) {
			delete(g.peers, id)
			n++
		}
	}
	return n
}

func (g *Index) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.peers)
}

// Nearby returns up to limit peers ordered by distance from (lat, lon).
// Peers not refreshed within maxAge are skipped; maxAge <= 0 keeps all.
func (g *Index) Nearby(lat, lon float64, limit int, maxAge time.Duration) []Peer {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		p    Peer
		dist float64
	}
	now := time.Now()
	arr := make([]pair, 0, len(g.peers))
	for _, p := range g.peers {
		if maxAge > 0 && now.Sub(p.Updated) > maxAge {
			continue
		}
		arr = append(arr, pair{p, Haversine(lat, lon, p.Loc.Lat, p.Loc.Lng)})
	}
	sort.Slice(arr, func(i, j int) bool { return arr[i].dist < arr[j].dist })
	if limit > 0 && limit < len(arr) {
		arr = arr[:limit]
	}
	out := make([]Peer, 0, len(arr))
	for _, a := range arr {
		out = append(out, a.p)
	}
	return out
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// Distance is Haversine over two display-order coordinates.
func Distance(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}

// Cell returns the geohash cell containing c. Precision 7 is roughly a
// 150m square, which is what the sampler treats as significant movement.
func Cell(c models.Coord, precision uint) string {
	if precision == 0 || precision > 12 {
		precision = 7
	}
	return geohash.EncodeWithPrecision(c.Lat, c.Lng, precision)
}
