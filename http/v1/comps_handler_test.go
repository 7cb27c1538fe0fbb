package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/comps-api/internal/resolver"
	"github.com/yourorg/comps-api/internal/usage"
	"github.com/yourorg/comps-api/provider"
)

type stubResolver struct {
	got   provider.Query
	calls int
	res   *resolver.Result
	err   error
}

func (s *stubResolver) Resolve(_ context.Context, q provider.Query) (*resolver.Result, error) {
	s.calls++
	s.got = q
	if s.res == nil && s.err == nil {
		return &resolver.Result{Comps: []provider.Comp{}, Source: resolver.SourceNone, Warnings: []string{resolver.WarnNoData}}, nil
	}
	return s.res, s.err
}

func newRouter(d CompsDeps) http.Handler {
	r := chi.NewRouter()
	RegisterComps(r, d)
	return r
}

func post(t *testing.T, h http.Handler, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestResolveValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad json", `{"address":`, "invalid JSON body"},
		{"missing address", `{"zipCode":"62704"}`, "address is required (at least 5 characters)"},
		{"short address", `{"address":" 1 A ","zipCode":"62704"}`, "address is required (at least 5 characters)"},
		{"short zip", `{"address":"500 Oak Ave","zipCode":"6270"}`, "zipCode must be a 5-digit ZIP code"},
		{"six digit zip", `{"address":"500 Oak Ave","zipCode":"627041"}`, "zipCode must be a 5-digit ZIP code"},
		{"missing zip", `{"address":"500 Oak Ave"}`, "zipCode must be a 5-digit ZIP code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubResolver{}
			rec, out := post(t, newRouter(CompsDeps{Resolver: stub}), "/v1/comps/resolve", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, out["error"])
			assert.Equal(t, 0, stub.calls, "no provider work on a bad request")
		})
	}
}

func TestResolveAcceptsAliases(t *testing.T) {
	stub := &stubResolver{}
	body := `{
		"address": "500 Oak Ave",
		"zip_code": "62704-1234",
		"city": "Springfield",
		"stateCode": "illinois",
		"subject_specs": {"bedrooms": "3", "bathrooms": 2.5},
		"lat": "39.78", "lng": -89.65,
		"user_id": 77,
		"property_id": "P-1",
		"subject_address": "500 Oak Avenue, Springfield, IL"
	}`
	rec, _ := post(t, newRouter(CompsDeps{Resolver: stub}), "/api/comps", body)
	require.Equal(t, http.StatusOK, rec.Code)

	q := stub.got
	assert.Equal(t, "500 Oak Ave", q.Address)
	assert.Equal(t, "62704", q.ZipCode)
	assert.Equal(t, "Springfield", q.City)
	assert.Equal(t, "IL", q.State)
	assert.Equal(t, provider.Specs{Bedrooms: 3, Bathrooms: 2.5}, q.Specs)
	lat, lng, ok := q.Coordinates()
	require.True(t, ok)
	assert.Equal(t, 39.78, lat)
	assert.Equal(t, -89.65, lng)
	assert.Equal(t, "77", q.UserID)
	assert.Equal(t, "P-1", q.PropertyID)
	assert.Equal(t, "500 Oak Avenue, Springfield, IL", q.SubjectAddress)
}

func TestResolveDefaultsAndBadCoordinates(t *testing.T) {
	stub := &stubResolver{}
	rec, _ := post(t, newRouter(CompsDeps{Resolver: stub}), "/v1/comps/resolve",
		`{"address":"500 Oak Ave","zipCode":62704,"lat":"north","lng":-89.65}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "500 Oak Ave", stub.got.SubjectAddress)
	assert.Equal(t, "62704", stub.got.ZipCode)
	_, _, ok := stub.got.Coordinates()
	assert.False(t, ok)
}

func TestResolveResponseShape(t *testing.T) {
	d := 0.4
	stub := &stubResolver{res: &resolver.Result{
		Comps:              []provider.Comp{{ID: "c1", Address: "520 Oak Ave", SalePrice: 275000, SaleDate: "2026-08-01", Distance: &d}},
		Source:             provider.SourceValuation,
		SubjectSaleListing: &provider.Comp{Address: "500 Oak Ave", SalePrice: 250000},
		AVMValue:           301000,
		AVMSubject:         &provider.SubjectRecord{Address: "500 Oak Ave", Latitude: 39.78, Longitude: -89.65},
		Usage:              &usage.Snapshot{CountA: 100, CountB: 4, LimitA: 100, LimitB: 50},
		Warnings:           []string{"PrimaryProvider skipped: monthly limit reached (100/100)."},
		Attempts:           []resolver.Attempt{{Provider: provider.SourcePrimary, Outcome: resolver.OutcomeQuota}},
	}}
	rec, out := post(t, newRouter(CompsDeps{Resolver: stub}), "/v1/comps/resolve",
		`{"address":"500 Oak Ave","zipCode":"62704","userId":"u1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	comps := out["recentComps"].([]any)
	require.Len(t, comps, 1)
	assert.Equal(t, "520 Oak Ave", comps[0].(map[string]any)["address"])
	assert.Equal(t, 0.4, comps[0].(map[string]any)["distance"])
	assert.Equal(t, "ValuationProvider", out["source"])
	assert.Equal(t, 301000.0, out["avmValue"])
	assert.NotNil(t, out["avmSubject"])
	assert.NotNil(t, out["subjectSaleListing"])
	assert.Equal(t, map[string]any{"countA": 100.0, "countB": 4.0, "limitA": 100.0, "limitB": 50.0}, out["usage"])
	assert.Len(t, out["warnings"], 1)
	assert.NotContains(t, out, "debug")
	assert.NotContains(t, out, "Attempts")
}

func TestResolveDebug(t *testing.T) {
	stub := &stubResolver{res: &resolver.Result{
		Comps:    []provider.Comp{},
		Source:   resolver.SourceNone,
		Attempts: []resolver.Attempt{{Provider: provider.SourcePrimary, Outcome: resolver.OutcomeNoCoordinates}},
	}}
	_, out := post(t, newRouter(CompsDeps{Resolver: stub}), "/v1/comps/resolve",
		`{"address":"500 Oak Ave","zipCode":"62704","debug":"true"}`)
	dbg, ok := out["debug"].(map[string]any)
	require.True(t, ok)
	attempts := dbg["attempts"].([]any)
	require.Len(t, attempts, 1)
	assert.Equal(t, resolver.OutcomeNoCoordinates, attempts[0].(map[string]any)["outcome"])
	assert.Equal(t, "62704", dbg["query"].(map[string]any)["zipCode"])
	assert.Equal(t, []any{}, out["recentComps"])
}

func TestResolveInternalError(t *testing.T) {
	stub := &stubResolver{err: errors.New("boom")}
	rec, out := post(t, newRouter(CompsDeps{Resolver: stub}), "/v1/comps/resolve",
		`{"address":"500 Oak Ave","zipCode":"62704"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", out["error"])
}

func TestUsageEndpoint(t *testing.T) {
	tracker := usage.NewMemoryTracker()
	tracker.Set(usage.Counter{UserID: "u1", YearMonth: "2026-10", CountA: 120, CountB: 7})
	h := newRouter(CompsDeps{
		Resolver: &stubResolver{},
		Usage:    tracker,
		Limits:   usage.Limits{A: 100, B: 50},
		Now:      func() time.Time { return time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC) },
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/usage/u1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"userId":"u1","yearMonth":"2026-10","countA":100,"countB":7,"limitA":100,"limitB":50}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/usage/u2?month=2026-09", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"userId":"u2","yearMonth":"2026-09","countA":0,"countB":0,"limitA":100,"limitB":50}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/usage/u2?month=sept", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNormalizeZIP(t *testing.T) {
	for in, want := range map[string]string{
		"62704":      "62704",
		" 62704 ":    "62704",
		"62704-1234": "62704",
		"627041234":  "62704",
	} {
		got, ok := NormalizeZIP(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "6270", "627041", "abcde", "62704-12"} {
		_, ok := NormalizeZIP(in)
		assert.False(t, ok, fmt.Sprintf("%q", in))
	}
}

func TestResolveEndToEndWithPrimaryProvider(t *testing.T) {
	now := time.Now().UTC()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `{"results":[
			{"id":"1","address":"500 Oak Ave","dateSold":%q,"latitude":39.78,"longitude":-89.65},
			{"id":"2","address":"508 Oak Ave","dateSold":%q},
			{"id":"3","address":"512 Oak Ave","dateSold":%q,"latitude":39.782,"longitude":-89.652}
		]}`, now.AddDate(0, 0, -20).Format(time.DateOnly), now.AddDate(0, 0, -400).Format(time.DateOnly),
			now.AddDate(0, 0, -45).Format(time.DateOnly))
	}))
	defer upstream.Close()

	tr := provider.NewTransport(provider.TransportConfig{BaseURL: upstream.URL, APIKey: "k", Timeout: time.Second})
	res := resolver.New(resolver.Config{Strategies: []resolver.Strategy{
		provider.NewPrimaryClient(tr, 1, 10),
		provider.NewValuationClient(provider.NewTransport(provider.TransportConfig{}), 1, 10),
	}})

	rec, out := post(t, newRouter(CompsDeps{Resolver: res}), "/v1/comps/resolve",
		`{"address":"500 Oak Ave","zipCode":"62704","lat":39.78,"lng":-89.65}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["recentComps"], 1)
	assert.Equal(t, "PrimaryProvider", out["source"])
	assert.NotContains(t, out, "warnings")
}
