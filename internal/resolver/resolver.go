package resolver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/comps-api/internal/canon"
	"github.com/yourorg/comps-api/internal/comps"
	"github.com/yourorg/comps-api/internal/metrics"
	"github.com/yourorg/comps-api/internal/usage"
	"github.com/yourorg/comps-api/provider"
)

const (
	WarnNoData        = "No comparable sales found for this address or area."
	WarnNotConfigured = "No comparable-sales provider is configured; set PRIMARY_API_KEY or SECONDARY_API_KEY."
	WarnBudget        = "Resolution time budget exhausted; remaining providers were skipped."
	WarnUsageDown     = "Usage tracking is unavailable; monthly limits were not checked."

	// SourceNone labels a result with no comps.
	SourceNone = "none"

	DefaultBudget = 20 * time.Second
)

// Strategy is one provider in the fallback chain. The provider clients
// implement it.
type Strategy interface {
	Name() string
	Meter() usage.Meter
	Configured() bool
	RequiresCoordinates() bool
	Fetch(ctx context.Context, q provider.Query) (provider.Batch, error)
}

// Cache stores finished results keyed by property.
type Cache interface {
	Load(ctx context.Context, key string, dst any) (bool, error)
	Store(ctx context.Context, key string, v any, ttl time.Duration) error
}

// SnapshotWriter persists raw provider payloads.
type SnapshotWriter interface {
	WriteSnapshot(ctx context.Context, provider, endpoint, externalID string, payload []byte) error
}

type Config struct {
	// Strategies are tried in order; the first non-empty result wins.
	Strategies []Strategy
	// Usage may be nil, which disables quota accounting.
	Usage      usage.Tracker
	Limits     usage.Limits
	Budget     time.Duration
	CutoffDays int
	Cache      Cache
	CacheTTL   time.Duration
	Snapshots  SnapshotWriter
	Metrics    *metrics.Recorder
	Logger     *zap.Logger
}

type Resolver struct {
	cfg Config
	log *zap.Logger
	now func() time.Time
}

func New(cfg Config) *Resolver {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if cfg.CutoffDays <= 0 {
		cfg.CutoffDays = comps.DefaultCutoffDays
	}
	if cfg.Limits == (usage.Limits{}) {
		cfg.Limits = usage.DefaultLimits
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 6 * time.Hour
	}
	return &Resolver{cfg: cfg, log: cfg.Logger, now: time.Now}
}

// Limits returns the monthly ceilings in effect.
func (r *Resolver) Limits() usage.Limits { return r.cfg.Limits }

// Attempt is the diagnostic record of one strategy step.
type Attempt struct {
	Provider string `json:"provider"`
	Outcome  string `json:"outcome"`
	Status   int    `json:"status,omitempty"`
	RawCount int    `json:"rawCount"`
	Mapped   int    `json:"mapped"`
	Excluded int    `json:"excluded"`
	Kept     int    `json:"kept"`
	Degraded bool   `json:"degraded,omitempty"`
	Error    string `json:"error,omitempty"`
	TookMS   int64  `json:"tookMs"`
}

// Attempt outcomes.
const (
	OutcomeOK            = "ok"
	OutcomeEmpty         = "empty"
	OutcomeError         = "error"
	OutcomeNotConfigured = "skipped_not_configured"
	OutcomeNoCoordinates = "skipped_no_coordinates"
	OutcomeQuota         = "skipped_quota"
	OutcomeBudget        = "skipped_budget"
)

// Result is the assembled resolution.
type Result struct {
	Comps              []provider.Comp         `json:"recentComps"`
	Source             string                  `json:"source"`
	SubjectSaleListing *provider.Comp          `json:"subjectSaleListing,omitempty"`
	AVMValue           float64                 `json:"avmValue,omitempty"`
	AVMSubject         *provider.SubjectRecord `json:"avmSubject,omitempty"`
	Usage              *usage.Snapshot         `json:"usage,omitempty"`
	Warnings           []string                `json:"warnings,omitempty"`
	Attempts           []Attempt               `json:"-"`
	Cached             bool                    `json:"-"`
}

// cached is the part of a Result that does not depend on the caller.
type cached struct {
	Comps              []provider.Comp         `json:"comps"`
	Source             string                  `json:"source"`
	SubjectSaleListing *provider.Comp          `json:"subjectSaleListing,omitempty"`
	AVMValue           float64                 `json:"avmValue,omitempty"`
	AVMSubject         *provider.SubjectRecord `json:"avmSubject,omitempty"`
	Degraded           string                  `json:"degraded,omitempty"`
}

// run carries the state of one resolution.
type run struct {
	q        provider.Query
	month    string
	counter  usage.Counter
	tracked  bool
	res      *Result
	degraded string
}

// Resolve runs the fallback chain for q. It returns an error only when ctx
// is cancelled by the caller; provider failures become warnings.
func (r *Resolver) Resolve(ctx context.Context, q provider.Query) (*Result, error) {
	started := r.now()
	if strings.TrimSpace(q.SubjectAddress) == "" {
		q.SubjectAddress = q.Address
	}
	st := &run{
		q:     q,
		month: usage.YearMonth(started),
		res:   &Result{Comps: []provider.Comp{}},
	}

	key := cacheKey(q)
	if hit := r.loadCached(ctx, key, st); hit {
		r.trackUsage(ctx, st)
		r.assemble(st, true)
		r.cfg.Metrics.Resolution(st.res.Source, r.now().Sub(started))
		return st.res, nil
	}

	configured := 0
	for _, s := range r.cfg.Strategies {
		if s.Configured() {
			configured++
		}
	}
	if configured > 0 {
		r.trackUsage(ctx, st)
	}

	bctx, cancel := context.WithTimeout(ctx, r.cfg.Budget)
	defer cancel()

	for _, s := range r.cfg.Strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if bctx.Err() != nil {
			st.res.Attempts = append(st.res.Attempts, Attempt{Provider: s.Name(), Outcome: OutcomeBudget})
			if !slices.Contains(st.res.Warnings, WarnBudget) {
				st.res.Warnings = append(st.res.Warnings, WarnBudget)
			}
			continue
		}
		done, err := r.try(ctx, bctx, s, st)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}

	r.assemble(st, configured > 0)
	if st.res.Source != SourceNone {
		r.storeCached(ctx, key, st)
	}
	r.cfg.Metrics.Resolution(st.res.Source, r.now().Sub(started))
	r.log.Info("comps resolved",
		zap.String("source", st.res.Source),
		zap.Int("comps", len(st.res.Comps)),
		zap.Int("warnings", len(st.res.Warnings)),
		zap.Duration("took", r.now().Sub(started)))
	return st.res, nil
}

// try runs one strategy and reports whether it produced the result.
func (r *Resolver) try(ctx, bctx context.Context, s Strategy, st *run) (bool, error) {
	name := s.Name()
	at := Attempt{Provider: name}
	record := func() { st.res.Attempts = append(st.res.Attempts, at) }

	if !s.Configured() {
		at.Outcome = OutcomeNotConfigured
		r.log.Debug("provider not configured", zap.String("provider", name))
		record()
		return false, nil
	}
	lat, lng, hasCoords := st.q.Coordinates()
	if s.RequiresCoordinates() && !hasCoords {
		at.Outcome = OutcomeNoCoordinates
		st.res.Warnings = append(st.res.Warnings, fmt.Sprintf("%s skipped: subject coordinates are not available.", name))
		record()
		return false, nil
	}
	m := s.Meter()
	if st.tracked && !r.cfg.Limits.Allows(st.counter, m, 1) {
		at.Outcome = OutcomeQuota
		st.res.Warnings = append(st.res.Warnings, fmt.Sprintf("%s skipped: monthly limit reached (%d/%d).",
			name, st.counter.Count(m), r.cfg.Limits.Limit(m)))
		r.cfg.Metrics.QuotaSkip(string(m))
		record()
		return false, nil
	}

	callStart := r.now()
	b, err := s.Fetch(bctx, st.q)
	took := r.now().Sub(callStart)
	at.TookMS = took.Milliseconds()
	at.Status = b.Status
	at.RawCount = b.RawCount
	if b.Charged {
		r.charge(ctx, st, m)
	}
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		at.Outcome = OutcomeError
		at.Error = err.Error()
		st.res.Warnings = append(st.res.Warnings, failureWarning(name, err, bctx))
		r.log.Warn("provider call failed", zap.String("provider", name), zap.Error(err))
		outcome := metrics.OutcomeError
		var se *provider.StatusError
		if errors.As(err, &se) {
			outcome = metrics.OutcomeStatusError
		}
		r.cfg.Metrics.ProviderCall(name, outcome, took)
		record()
		return false, nil
	}
	r.snapshot(ctx, b, st.q)

	if b.AVMValue > 0 && st.res.AVMValue == 0 {
		st.res.AVMValue = b.AVMValue
	}
	if b.AVMSubject != nil {
		if st.res.AVMSubject == nil {
			st.res.AVMSubject = b.AVMSubject
		}
		if !hasCoords && b.AVMSubject.Latitude != 0 && b.AVMSubject.Longitude != 0 {
			alat, alng := b.AVMSubject.Latitude, b.AVMSubject.Longitude
			st.q.Lat, st.q.Lng = &alat, &alng
			lat, lng, hasCoords = alat, alng, true
		}
	}

	list := comps.Dedupe(b.Comps)
	at.Mapped = len(list)
	kept, excluded := comps.ExcludeSubject(list, st.q.SubjectAddress, st.q.PropertyID)
	at.Excluded = len(excluded)
	for _, ex := range excluded {
		if ex.Match == comps.MatchContains {
			r.log.Debug("subject excluded by containment",
				zap.String("provider", name),
				zap.String("candidate", ex.Comp.Address),
				zap.String("subject", st.q.SubjectAddress))
		}
		if st.res.SubjectSaleListing == nil && (ex.Comp.SalePrice > 0 || ex.Comp.SaleDate != "") {
			c := ex.Comp
			st.res.SubjectSaleListing = &c
		}
	}
	if hasCoords {
		comps.AnnotateDistance(kept, lat, lng)
	}
	kept, degraded := comps.FilterRecent(kept, r.now(), r.cfg.CutoffDays)
	at.Degraded = degraded
	at.Kept = len(kept)

	if len(kept) == 0 {
		at.Outcome = OutcomeEmpty
		r.cfg.Metrics.ProviderCall(name, metrics.OutcomeEmpty, took)
		record()
		return false, nil
	}
	comps.SortByDistance(kept)
	at.Outcome = OutcomeOK
	r.cfg.Metrics.ProviderCall(name, metrics.OutcomeOK, took)
	record()
	st.res.Comps = kept
	st.res.Source = name
	if degraded {
		st.degraded = degradedWarning(name, r.cfg.CutoffDays)
		st.res.Warnings = append(st.res.Warnings, st.degraded)
	}
	return true, nil
}

// charge records a successful call. The increment outlives a cancelled
// request so a 2xx answer is always counted.
func (r *Resolver) charge(ctx context.Context, st *run, m usage.Meter) {
	if !st.tracked {
		return
	}
	c, err := r.cfg.Usage.Increment(context.WithoutCancel(ctx), st.q.UserID, st.month, m)
	if err != nil {
		r.log.Error("usage increment failed",
			zap.String("user_id", st.q.UserID),
			zap.String("meter", string(m)),
			zap.Error(err))
		return
	}
	st.counter = c
}

func (r *Resolver) trackUsage(ctx context.Context, st *run) {
	if r.cfg.Usage == nil || strings.TrimSpace(st.q.UserID) == "" {
		return
	}
	c, err := r.cfg.Usage.Get(ctx, st.q.UserID, st.month)
	if err != nil {
		r.log.Warn("usage read failed", zap.String("user_id", st.q.UserID), zap.Error(err))
		st.res.Warnings = append(st.res.Warnings, WarnUsageDown)
		return
	}
	st.counter = c
	st.tracked = true
}

func (r *Resolver) assemble(st *run, configured bool) {
	res := st.res
	if res.Source == "" {
		res.Source = SourceNone
	}
	if st.tracked {
		snap := r.cfg.Limits.Snapshot(st.counter)
		res.Usage = &snap
	}
	if len(res.Comps) > 0 {
		return
	}
	if !configured {
		res.Warnings = append(res.Warnings, WarnNotConfigured)
		return
	}
	res.Warnings = append(res.Warnings, WarnNoData)
}

func (r *Resolver) snapshot(ctx context.Context, b provider.Batch, q provider.Query) {
	if r.cfg.Snapshots == nil || len(b.Raw) == 0 {
		return
	}
	if err := r.cfg.Snapshots.WriteSnapshot(context.WithoutCancel(ctx), b.Provider, b.Endpoint, q.PropertyID, b.Raw); err != nil {
		r.log.Warn("snapshot write failed", zap.String("provider", b.Provider), zap.Error(err))
	}
}

func (r *Resolver) loadCached(ctx context.Context, key string, st *run) bool {
	if r.cfg.Cache == nil || key == "" {
		return false
	}
	var c cached
	ok, err := r.cfg.Cache.Load(ctx, key, &c)
	if err != nil {
		r.log.Warn("result cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	r.cfg.Metrics.CacheLookup(ok)
	if !ok || len(c.Comps) == 0 {
		return false
	}
	st.res.Comps = c.Comps
	st.res.Source = c.Source
	st.res.SubjectSaleListing = c.SubjectSaleListing
	st.res.AVMValue = c.AVMValue
	st.res.AVMSubject = c.AVMSubject
	st.res.Cached = true
	if c.Degraded != "" {
		st.res.Warnings = append(st.res.Warnings, c.Degraded)
	}
	return true
}

func (r *Resolver) storeCached(ctx context.Context, key string, st *run) {
	if r.cfg.Cache == nil || key == "" {
		return
	}
	c := cached{
		Comps:              st.res.Comps,
		Source:             st.res.Source,
		SubjectSaleListing: st.res.SubjectSaleListing,
		AVMValue:           st.res.AVMValue,
		AVMSubject:         st.res.AVMSubject,
		Degraded:           st.degraded,
	}
	if err := r.cfg.Cache.Store(context.WithoutCancel(ctx), key, c, r.cfg.CacheTTL); err != nil {
		r.log.Warn("result cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// cacheKey identifies a subject independent of the caller.
func cacheKey(q provider.Query) string {
	_, _, _, _, key := canon.Canonicalize(q.Address, q.City, q.State, q.ZipCode)
	if key == "" {
		return ""
	}
	parts := []string{"comps:v1", key,
		strconv.FormatFloat(q.Specs.Bedrooms, 'f', -1, 64),
		strconv.FormatFloat(q.Specs.Bathrooms, 'f', -1, 64),
		strings.TrimSpace(q.PropertyID),
		canon.Normalize(q.SubjectAddress),
	}
	if lat, lng, ok := q.Coordinates(); ok {
		parts = append(parts, strconv.FormatFloat(lat, 'f', 5, 64), strconv.FormatFloat(lng, 'f', 5, 64))
	}
	return strings.Join(parts, "|")
}

func failureWarning(name string, err error, bctx context.Context) string {
	var se *provider.StatusError
	switch {
	case errors.As(err, &se):
		return fmt.Sprintf("%s returned HTTP %d.", name, se.Status)
	case errors.Is(err, context.DeadlineExceeded) && bctx.Err() != nil:
		return fmt.Sprintf("%s timed out.", name)
	case errors.Is(err, provider.ErrDecode):
		return fmt.Sprintf("%s returned an unreadable response.", name)
	}
	return fmt.Sprintf("%s request failed.", name)
}

func degradedWarning(name string, cutoffDays int) string {
	return fmt.Sprintf("%s: no sales within the last %d days; showing older sales.", name, cutoffDays)
}
