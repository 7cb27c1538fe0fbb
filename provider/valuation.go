package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/yourorg/comps-api/internal/usage"
)

const valuationEndpoint = "/avm/value"

// ValuationClient asks the secondary provider for an automated valuation of
// the subject, which comes back with its supporting comparables.
type ValuationClient struct {
	t           *Transport
	radiusMiles float64
	compCount   int
}

func NewValuationClient(t *Transport, radiusMiles float64, compCount int) *ValuationClient {
	if compCount <= 0 || compCount > 25 {
		compCount = 25
	}
	return &ValuationClient{t: t, radiusMiles: radiusMiles, compCount: compCount}
}

func (c *ValuationClient) Name() string              { return SourceValuation }
func (c *ValuationClient) Meter() usage.Meter        { return usage.MeterB }
func (c *ValuationClient) Configured() bool          { return c.t.Configured() }
func (c *ValuationClient) RequiresCoordinates() bool { return false }

func (c *ValuationClient) Fetch(ctx context.Context, q Query) (Batch, error) {
	v := url.Values{}
	v.Set("address", q.FullAddress())
	v.Set("compCount", itoa(c.compCount))
	v.Set("daysOld", itoa(SoldWithinDays))
	if c.radiusMiles > 0 {
		v.Set("maxRadius", fmt.Sprintf("%.2f", c.radiusMiles))
	}
	if lat, lng, ok := q.Coordinates(); ok {
		v.Set("latitude", fmt.Sprintf("%.6f", lat))
		v.Set("longitude", fmt.Sprintf("%.6f", lng))
	}
	specHints(v, q)

	b, err := c.t.get(ctx, SourceValuation, valuationEndpoint, v)
	if err != nil {
		return b, err
	}
	res, err := MapValuationPayload(b.Raw)
	if err != nil {
		return b, fmt.Errorf("%s: %w: %w", SourceValuation, ErrDecode, err)
	}
	b.Comps, b.RawCount = res.Comps, res.RawCount
	b.AVMValue, b.AVMSubject = res.Value, res.Subject
	return b, nil
}

type valuationPayload struct {
	Price           flexFloat         `json:"price"`
	PriceRangeLow   flexFloat         `json:"priceRangeLow"`
	PriceRangeHigh  flexFloat         `json:"priceRangeHigh"`
	Latitude        flexFloat         `json:"latitude"`
	Longitude       flexFloat         `json:"longitude"`
	SubjectProperty json.RawMessage   `json:"subjectProperty"`
	Comparables     []json.RawMessage `json:"comparables"`
}

// ValuationResult is a mapped valuation payload.
type ValuationResult struct {
	Value    float64
	Subject  *SubjectRecord
	Comps    []Comp
	RawCount int
}

// MapValuationPayload maps the valuation response. The subject record falls
// back to the top-level coordinates so callers can always use it to locate
// the subject.
func MapValuationPayload(raw []byte) (ValuationResult, error) {
	var p valuationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return ValuationResult{}, err
	}
	res := ValuationResult{Value: float64(max(p.Price, 0)), RawCount: len(p.Comparables)}

	var subj *SubjectRecord
	if len(p.SubjectProperty) > 0 && string(p.SubjectProperty) != "null" {
		// a malformed subject only loses the fallback coordinates
		var sp secondaryProperty
		if json.Unmarshal(p.SubjectProperty, &sp) == nil {
			subj = sp.subject()
		}
	}
	if subj == nil && (p.Latitude != 0 || p.Longitude != 0) {
		subj = &SubjectRecord{}
	}
	if subj != nil {
		if subj.Latitude == 0 && subj.Longitude == 0 {
			subj.Latitude, subj.Longitude = float64(p.Latitude), float64(p.Longitude)
		}
		subj.PriceLow = float64(max(p.PriceRangeLow, 0))
		subj.PriceHigh = float64(max(p.PriceRangeHigh, 0))
		res.Subject = subj
	}

	res.Comps = make([]Comp, 0, len(p.Comparables))
	for _, l := range decodeItems[secondaryListing](p.Comparables) {
		if c, ok := l.comp(); ok {
			res.Comps = append(res.Comps, c)
		}
	}
	return res, nil
}
