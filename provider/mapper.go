package provider

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// flexString accepts string, number or bool JSON and stores the text form.
// Objects and arrays decode to "".
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" || len(b) == 0 {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(str))
		return nil
	}
	if string(b) == "true" || string(b) == "false" {
		*s = flexString(b)
		return nil
	}
	if b[0] == '{' || b[0] == '[' {
		*s = ""
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*s = flexString(num.String())
	return nil
}

// flexFloat accepts numbers and numeric strings such as "$350,000".
// Anything unparseable decodes to zero.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		*f = 0
		return nil
	}
	clean := strings.NewReplacer("$", "", ",", "", " ", "").Replace(string(s))
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

func (f flexFloat) Int() int { return int(math.Round(float64(f))) }

// flexDate accepts ISO strings in the common layouts, US dates and epoch
// seconds or milliseconds. It keeps only the calendar date; unparseable
// input decodes to "".
type flexDate string

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
	"01/02/2006",
}

func (d *flexDate) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		*d = ""
		return nil
	}
	*d = flexDate(isoDate(string(s)))
	return nil
}

func isoDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n <= 0 {
			return ""
		}
		if n >= 1e11 {
			return time.UnixMilli(n).UTC().Format(time.DateOnly)
		}
		return time.Unix(n, 0).UTC().Format(time.DateOnly)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(time.DateOnly)
		}
	}
	return ""
}

func nonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(vals ...flexFloat) flexFloat {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func maxInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// optFloat keeps "absent" distinct from zero.
func optFloat(f *flexFloat) *float64 {
	if f == nil || *f < 0 {
		return nil
	}
	v := float64(*f)
	return &v
}

// decodeList accepts either a bare JSON array or an object carrying the
// array under one of keys. Items are decoded one by one and an item that
// does not fit T is skipped. It returns the decoded items and the number of
// raw items seen.
func decodeList[T any](raw []byte, keys ...string) ([]T, int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, 0, nil
	}
	var elems []json.RawMessage
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, 0, err
		}
	} else {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, 0, err
		}
		for _, k := range keys {
			v, ok := obj[k]
			if !ok || string(v) == "null" {
				continue
			}
			if err := json.Unmarshal(v, &elems); err != nil {
				return nil, 0, err
			}
			break
		}
	}
	return decodeItems[T](elems), len(elems), nil
}

func decodeItems[T any](elems []json.RawMessage) []T {
	out := make([]T, 0, len(elems))
	for _, e := range elems {
		var item T
		if err := json.Unmarshal(e, &item); err != nil {
			continue
		}
		out = append(out, item)
	}
	return out
}

func formatHint(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
