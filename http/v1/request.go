package v1

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/yourorg/comps-api/internal/canon"
	"github.com/yourorg/comps-api/provider"
)

// ValidationError is a malformed request; it maps to 400.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return e.Msg }

// CompsRequest accepts both camelCase and snake_case field names.
type CompsRequest struct {
	Address             text       `json:"address"`
	ZipCode             text       `json:"zipCode"`
	ZipCodeSnake        text       `json:"zip_code"`
	City                text       `json:"city"`
	State               text       `json:"state"`
	StateCode           text       `json:"stateCode"`
	SubjectSpecs        *specsBody `json:"subjectSpecs"`
	SubjectSpecsSnake   *specsBody `json:"subject_specs"`
	Lat                 number     `json:"lat"`
	Lng                 number     `json:"lng"`
	UserID              text       `json:"userId"`
	UserIDSnake         text       `json:"user_id"`
	PropertyID          text       `json:"propertyId"`
	PropertyIDSnake     text       `json:"property_id"`
	SubjectAddress      text       `json:"subjectAddress"`
	SubjectAddressSnake text       `json:"subject_address"`
	Debug               flag       `json:"debug"`
}

type specsBody struct {
	Bedrooms  number `json:"bedrooms"`
	Bathrooms number `json:"bathrooms"`
}

const minAddressLen = 5

// Query validates the request and builds the resolver query.
func (b CompsRequest) Query() (provider.Query, error) {
	addr := strings.TrimSpace(string(b.Address))
	if len(addr) < minAddressLen {
		return provider.Query{}, &ValidationError{Field: "address", Msg: "address is required (at least 5 characters)"}
	}
	zip, ok := NormalizeZIP(pick(b.ZipCode, b.ZipCodeSnake))
	if !ok {
		return provider.Query{}, &ValidationError{Field: "zipCode", Msg: "zipCode must be a 5-digit ZIP code"}
	}
	q := provider.Query{
		Address:        addr,
		ZipCode:        zip,
		City:           strings.TrimSpace(string(b.City)),
		State:          canon.StateCode(pick(b.State, b.StateCode)),
		UserID:         pick(b.UserID, b.UserIDSnake),
		PropertyID:     pick(b.PropertyID, b.PropertyIDSnake),
		SubjectAddress: pick(b.SubjectAddress, b.SubjectAddressSnake),
	}
	if q.SubjectAddress == "" {
		q.SubjectAddress = addr
	}
	specs := b.SubjectSpecs
	if specs == nil {
		specs = b.SubjectSpecsSnake
	}
	if specs != nil {
		q.Specs.Bedrooms = max(specs.Bedrooms.v, 0)
		q.Specs.Bathrooms = max(specs.Bathrooms.v, 0)
	}
	if b.Lat.ok && b.Lng.ok && math.Abs(b.Lat.v) <= 90 && math.Abs(b.Lng.v) <= 180 && (b.Lat.v != 0 || b.Lng.v != 0) {
		lat, lng := b.Lat.v, b.Lng.v
		q.Lat, q.Lng = &lat, &lng
	}
	return q, nil
}

// NormalizeZIP strips non-digits and accepts a 5-digit ZIP or a ZIP+4.
func NormalizeZIP(s string) (string, bool) {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	d := sb.String()
	switch len(d) {
	case 5:
		return d, true
	case 9:
		return d[:5], true
	}
	return "", false
}

func pick(a, b text) string {
	if s := strings.TrimSpace(string(a)); s != "" {
		return s
	}
	return strings.TrimSpace(string(b))
}

// text accepts a JSON string or number.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || string(b) == "null":
		*t = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = text(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*t = text(n.String())
	}
	return nil
}

// number accepts a JSON number or numeric string. Anything else is absent.
type number struct {
	v  float64
	ok bool
}

func (n *number) UnmarshalJSON(b []byte) error {
	*n = number{}
	var s text
	if err := s.UnmarshalJSON(b); err != nil {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(string(s)), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	*n = number{v: f, ok: true}
	return nil
}

// flag accepts true/false or their string forms.
type flag bool

func (f *flag) UnmarshalJSON(b []byte) error {
	var s text
	if err := s.UnmarshalJSON(b); err != nil {
		var v bool
		if err := json.Unmarshal(b, &v); err != nil {
			return nil
		}
		*f = flag(v)
		return nil
	}
	v, _ := strconv.ParseBool(strings.TrimSpace(string(s)))
	*f = flag(v)
	return nil
}
