package provider

import (
	"context"
	"fmt"
	"net/url"

	"github.com/yourorg/comps-api/internal/usage"
)

const listingsEndpoint = "/listings/sale"

// ListingsClient searches inactive (sold or withdrawn) sale listings in the
// subject's ZIP code.
type ListingsClient struct {
	t     *Transport
	limit int
}

func NewListingsClient(t *Transport, limit int) *ListingsClient {
	if limit <= 0 {
		limit = 20
	}
	return &ListingsClient{t: t, limit: limit}
}

func (c *ListingsClient) Name() string              { return SourceListings }
func (c *ListingsClient) Meter() usage.Meter        { return usage.MeterB }
func (c *ListingsClient) Configured() bool          { return c.t.Configured() }
func (c *ListingsClient) RequiresCoordinates() bool { return false }

func (c *ListingsClient) Fetch(ctx context.Context, q Query) (Batch, error) {
	v := url.Values{}
	v.Set("zipCode", q.ZipCode)
	v.Set("status", "Inactive")
	v.Set("daysOld", itoa(SoldWithinDays))
	v.Set("limit", itoa(c.limit))
	specHints(v, q)

	b, err := c.t.get(ctx, SourceListings, listingsEndpoint, v)
	if err != nil {
		return b, err
	}
	comps, n, err := MapListingsPayload(b.Raw)
	b.Comps, b.RawCount = comps, n
	if err != nil {
		return b, fmt.Errorf("%s: %w: %w", SourceListings, ErrDecode, err)
	}
	return b, nil
}

// MapListingsPayload maps a listings search (bare array or {"listings": [...]}).
func MapListingsPayload(raw []byte) ([]Comp, int, error) {
	items, n, err := decodeList[secondaryListing](raw, "listings", "data")
	if err != nil {
		return nil, 0, err
	}
	out := make([]Comp, 0, len(items))
	for _, l := range items {
		if c, ok := l.comp(); ok {
			out = append(out, c)
		}
	}
	return out, n, nil
}
