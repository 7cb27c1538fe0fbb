package comps

import (
	"math"
	"sort"
	"time"

	"github.com/yourorg/comps-api/internal/geo"
	"github.com/yourorg/comps-api/provider"
)

// DefaultCutoffDays is the trailing sale window.
const DefaultCutoffDays = 365

// FilterRecent keeps comps sold within cutoffDays of now, counting whole UTC
// days. Comps without a sale date pass. Future sales never pass. When the
// window leaves nothing, every comp not sold in the future is kept instead
// and degraded is true.
func FilterRecent(in []provider.Comp, now time.Time, cutoffDays int) (kept []provider.Comp, degraded bool) {
	if cutoffDays <= 0 {
		cutoffDays = DefaultCutoffDays
	}
	today := dayStart(now)
	strict := make([]provider.Comp, 0, len(in))
	past := make([]provider.Comp, 0, len(in))
	for _, c := range in {
		sold, ok := c.SoldAt()
		if !ok {
			strict = append(strict, c)
			past = append(past, c)
			continue
		}
		days := int(today.Sub(dayStart(sold)).Hours() / 24)
		if days < 0 {
			continue
		}
		past = append(past, c)
		if days <= cutoffDays {
			strict = append(strict, c)
		}
	}
	if len(strict) > 0 || len(past) == 0 {
		return strict, false
	}
	return past, true
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AnnotateDistance fills Distance for comps that have coordinates and no
// provider-supplied distance. Unknown distances stay nil.
func AnnotateDistance(in []provider.Comp, lat, lng float64) {
	for i := range in {
		c := &in[i]
		if c.Distance != nil || !c.HasCoords() {
			continue
		}
		d := geo.DistanceMiles(lat, lng, c.Latitude, c.Longitude)
		if math.IsNaN(d) {
			continue
		}
		c.Distance = &d
	}
}

// SortByDistance orders comps nearest first; comps with unknown distance
// keep their relative order at the end.
func SortByDistance(in []provider.Comp) {
	sort.SliceStable(in, func(i, j int) bool {
		di, dj := in[i].Distance, in[j].Distance
		if di == nil || dj == nil {
			return di != nil && dj == nil
		}
		return *di < *dj
	})
}
