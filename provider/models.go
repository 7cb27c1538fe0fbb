package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Source labels reported to callers.
const (
	SourcePrimary   = "PrimaryProvider"
	SourceValuation = "ValuationProvider"
	SourceListings  = "ListingsProvider"
	SourceRecords   = "PropertyRecordsProvider"
)

// SoldWithinDays is the sale-recency window requested from providers that
// accept one.
const SoldWithinDays = 365

var (
	ErrNotConfigured = errors.New("provider api key not configured")
	ErrNoCoordinates = errors.New("subject coordinates required")
	ErrDecode        = errors.New("unreadable provider payload")
)

// Specs are optional subject characteristics passed as search hints.
type Specs struct {
	Bedrooms  float64 `json:"bedrooms,omitempty"`
	Bathrooms float64 `json:"bathrooms,omitempty"`
}

// Query is the subject of a comparable-sale search.
type Query struct {
	Address        string
	ZipCode        string
	City           string
	State          string
	Specs          Specs
	Lat            *float64
	Lng            *float64
	SubjectAddress string
	PropertyID     string
	UserID         string
}

func (q Query) Coordinates() (lat, lng float64, ok bool) {
	if q.Lat == nil || q.Lng == nil {
		return 0, 0, false
	}
	return *q.Lat, *q.Lng, true
}

// FullAddress renders "line, city, ST zip", keeping an address that already
// carries its locality.
func (q Query) FullAddress() string {
	addr := strings.TrimSpace(q.Address)
	if strings.Contains(addr, ",") {
		if q.ZipCode != "" && !strings.Contains(addr, q.ZipCode) {
			return addr + " " + q.ZipCode
		}
		return addr
	}
	parts := []string{addr}
	if q.City != "" {
		parts = append(parts, q.City)
	}
	tail := strings.TrimSpace(q.State + " " + q.ZipCode)
	if tail != "" {
		parts = append(parts, tail)
	}
	return strings.Join(parts, ", ")
}

// Comp is the canonical comparable-sale record. Zero values mean unknown,
// except Distance where nil means unknown.
type Comp struct {
	ID            string   `json:"id,omitempty"`
	Address       string   `json:"address"`
	SalePrice     float64  `json:"salePrice,omitempty"`
	SaleDate      string   `json:"saleDate,omitempty"`
	Sqft          int      `json:"sqft,omitempty"`
	Beds          int      `json:"beds,omitempty"`
	Baths         float64  `json:"baths,omitempty"`
	YearBuilt     int      `json:"yearBuilt,omitempty"`
	DOM           int      `json:"dom,omitempty"`
	Latitude      float64  `json:"latitude,omitempty"`
	Longitude     float64  `json:"longitude,omitempty"`
	Distance      *float64 `json:"distance,omitempty"`
	Basement      string   `json:"basement,omitempty"`
	ParkingType   string   `json:"parkingType,omitempty"`
	ParkingSpaces int      `json:"parkingSpaces,omitempty"`
	Levels        int      `json:"levels,omitempty"`
}

func (c Comp) HasCoords() bool { return c.Latitude != 0 && c.Longitude != 0 }

// SoldAt parses SaleDate. ok is false when the date is absent.
func (c Comp) SoldAt() (time.Time, bool) {
	if c.SaleDate == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.DateOnly, c.SaleDate)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SubjectRecord is the valuation provider's view of the subject property.
type SubjectRecord struct {
	Address       string  `json:"address,omitempty"`
	Latitude      float64 `json:"latitude,omitempty"`
	Longitude     float64 `json:"longitude,omitempty"`
	Sqft          int     `json:"sqft,omitempty"`
	Beds          int     `json:"beds,omitempty"`
	Baths         float64 `json:"baths,omitempty"`
	YearBuilt     int     `json:"yearBuilt,omitempty"`
	LastSalePrice float64 `json:"lastSalePrice,omitempty"`
	LastSaleDate  string  `json:"lastSaleDate,omitempty"`
	PriceLow      float64 `json:"priceLow,omitempty"`
	PriceHigh     float64 `json:"priceHigh,omitempty"`
}

// Batch is one provider call's outcome. Charged is set when the provider
// answered with a 2xx status, even if the body then fails to decode, and
// tells the caller to count the call.
type Batch struct {
	Provider   string
	Endpoint   string
	Status     int
	Charged    bool
	RawCount   int
	Comps      []Comp
	AVMValue   float64
	AVMSubject *SubjectRecord
	Raw        []byte
}

// StatusError reports a non-2xx provider response.
type StatusError struct {
	Provider string
	Status   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.Provider, e.Status)
}
