package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/yourorg/comps-api/internal/usage"
)

const primaryEndpoint = "/comps"

// PrimaryClient runs a radius search for recently sold homes around the
// subject's coordinates.
type PrimaryClient struct {
	t           *Transport
	radiusMiles float64
	limit       int
}

func NewPrimaryClient(t *Transport, radiusMiles float64, limit int) *PrimaryClient {
	if radiusMiles <= 0 {
		radiusMiles = 1
	}
	if limit <= 0 {
		limit = 20
	}
	return &PrimaryClient{t: t, radiusMiles: radiusMiles, limit: limit}
}

func (c *PrimaryClient) Name() string              { return SourcePrimary }
func (c *PrimaryClient) Meter() usage.Meter        { return usage.MeterA }
func (c *PrimaryClient) Configured() bool          { return c.t.Configured() }
func (c *PrimaryClient) RequiresCoordinates() bool { return true }

func (c *PrimaryClient) Fetch(ctx context.Context, q Query) (Batch, error) {
	lat, lng, ok := q.Coordinates()
	if !ok {
		return Batch{Provider: SourcePrimary, Endpoint: primaryEndpoint}, ErrNoCoordinates
	}
	v := url.Values{}
	v.Set("lat", fmt.Sprintf("%.6f", lat))
	v.Set("lng", fmt.Sprintf("%.6f", lng))
	v.Set("radius", fmt.Sprintf("%.2f", c.radiusMiles))
	v.Set("soldWithinDays", strconv.Itoa(SoldWithinDays))
	v.Set("limit", strconv.Itoa(c.limit))
	if q.Specs.Bedrooms > 0 {
		v.Set("bedrooms", formatHint(q.Specs.Bedrooms))
	}
	if q.Specs.Bathrooms > 0 {
		v.Set("bathrooms", formatHint(q.Specs.Bathrooms))
	}

	b, err := c.t.get(ctx, SourcePrimary, primaryEndpoint, v)
	if err != nil {
		return b, err
	}
	comps, n, err := MapPrimaryPayload(b.Raw)
	b.Comps, b.RawCount = comps, n
	if err != nil {
		return b, fmt.Errorf("%s: %w: %w", SourcePrimary, ErrDecode, err)
	}
	return b, nil
}

// primaryAddress is either a one-line string or a structured object.
type primaryAddress struct {
	line   string
	street string
	city   string
	state  string
	zip    string
}

func (a *primaryAddress) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		a.line = strings.TrimSpace(s)
		return nil
	}
	// numbers, arrays and null carry no usable address
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	var obj struct {
		StreetAddress flexString `json:"streetAddress"`
		City          flexString `json:"city"`
		State         flexString `json:"state"`
		Zipcode       flexString `json:"zipcode"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	a.street, a.city, a.state, a.zip = string(obj.StreetAddress), string(obj.City), string(obj.State), string(obj.Zipcode)
	return nil
}

func (a primaryAddress) String() string {
	if a.line != "" {
		return a.line
	}
	if a.street == "" {
		return ""
	}
	parts := []string{a.street}
	if a.city != "" {
		parts = append(parts, a.city)
	}
	if tail := strings.TrimSpace(a.state + " " + a.zip); tail != "" {
		parts = append(parts, tail)
	}
	return strings.Join(parts, ", ")
}

type primaryItem struct {
	ID            flexString     `json:"id"`
	PropertyID    flexString     `json:"propertyId"`
	Address       primaryAddress `json:"address"`
	StreetAddress flexString     `json:"streetAddress"`
	SalePrice     flexFloat      `json:"salePrice"`
	LastSoldPrice flexFloat      `json:"lastSoldPrice"`
	Price         flexFloat      `json:"price"`
	DateSold      flexDate       `json:"dateSold"`
	LastSoldDate  flexDate       `json:"lastSoldDate"`
	LivingArea    flexFloat      `json:"livingArea"`
	Bedrooms      flexFloat      `json:"bedrooms"`
	Bathrooms     flexFloat      `json:"bathrooms"`
	YearBuilt     flexFloat      `json:"yearBuilt"`
	DaysOnMarket  flexFloat      `json:"daysOnMarket"`
	Latitude      flexFloat      `json:"latitude"`
	Longitude     flexFloat      `json:"longitude"`
	Distance      *flexFloat     `json:"distance"`
	Basement      flexString     `json:"basement"`
	ParkingType   flexString     `json:"parkingType"`
	ParkingSpaces flexFloat      `json:"parkingSpaces"`
	Stories       flexFloat      `json:"stories"`
}

// MapPrimaryPayload maps a radius-search payload ({"results": [...]},
// {"comps": [...]} or a bare array). It returns the mapped comps and the
// number of raw items seen.
func MapPrimaryPayload(raw []byte) ([]Comp, int, error) {
	items, n, err := decodeList[primaryItem](raw, "results", "comps", "properties")
	if err != nil {
		return nil, 0, err
	}
	out := make([]Comp, 0, len(items))
	for _, p := range items {
		addr := nonEmpty(p.Address.String(), string(p.StreetAddress))
		if addr == "" {
			continue
		}
		out = append(out, Comp{
			ID:            firstNonEmpty(string(p.ID), string(p.PropertyID)),
			Address:       addr,
			SalePrice:     float64(firstPositive(p.SalePrice, p.LastSoldPrice, p.Price)),
			SaleDate:      nonEmpty(string(p.DateSold), string(p.LastSoldDate)),
			Sqft:          maxInt(p.LivingArea.Int(), 0),
			Beds:          maxInt(p.Bedrooms.Int(), 0),
			Baths:         float64(max(p.Bathrooms, 0)),
			YearBuilt:     maxInt(p.YearBuilt.Int(), 0),
			DOM:           maxInt(p.DaysOnMarket.Int(), 0),
			Latitude:      float64(p.Latitude),
			Longitude:     float64(p.Longitude),
			Distance:      optFloat(p.Distance),
			Basement:      basementLabel(p.Basement),
			ParkingType:   string(p.ParkingType),
			ParkingSpaces: maxInt(p.ParkingSpaces.Int(), 0),
			Levels:        maxInt(p.Stories.Int(), 0),
		})
	}
	return out, n, nil
}

func basementLabel(s flexString) string {
	switch strings.ToLower(string(s)) {
	case "true":
		return "Yes"
	case "false":
		return "No"
	}
	return string(s)
}
