package provider

import (
	"context"
	"fmt"
	"net/url"

	"github.com/yourorg/comps-api/internal/usage"
)

const recordsEndpoint = "/properties"

// RecordsClient searches public property records with a recorded sale in
// the subject's ZIP code.
type RecordsClient struct {
	t     *Transport
	limit int
}

func NewRecordsClient(t *Transport, limit int) *RecordsClient {
	if limit <= 0 {
		limit = 20
	}
	return &RecordsClient{t: t, limit: limit}
}

func (c *RecordsClient) Name() string              { return SourceRecords }
func (c *RecordsClient) Meter() usage.Meter        { return usage.MeterB }
func (c *RecordsClient) Configured() bool          { return c.t.Configured() }
func (c *RecordsClient) RequiresCoordinates() bool { return false }

func (c *RecordsClient) Fetch(ctx context.Context, q Query) (Batch, error) {
	v := url.Values{}
	v.Set("zipCode", q.ZipCode)
	v.Set("saleDateRange", itoa(SoldWithinDays))
	v.Set("limit", itoa(c.limit))
	specHints(v, q)

	b, err := c.t.get(ctx, SourceRecords, recordsEndpoint, v)
	if err != nil {
		return b, err
	}
	comps, n, err := MapRecordsPayload(b.Raw)
	b.Comps, b.RawCount = comps, n
	if err != nil {
		return b, fmt.Errorf("%s: %w: %w", SourceRecords, ErrDecode, err)
	}
	return b, nil
}

// MapRecordsPayload maps a property records search (bare array or
// {"properties": [...]}).
func MapRecordsPayload(raw []byte) ([]Comp, int, error) {
	items, n, err := decodeList[secondaryProperty](raw, "properties", "data")
	if err != nil {
		return nil, 0, err
	}
	out := make([]Comp, 0, len(items))
	for _, p := range items {
		if c, ok := p.comp(); ok {
			out = append(out, c)
		}
	}
	return out, n, nil
}
