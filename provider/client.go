package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TransportConfig describes one upstream API account.
type TransportConfig struct {
	BaseURL   string
	KeyHeader string
	APIKey    string
	// Extra headers sent on every request, e.g. a RapidAPI host header.
	Headers  map[string]string
	Timeout  time.Duration
	RetryMax int
	// RPS caps outbound requests per second; zero disables the limiter.
	RPS    float64
	Logger *zap.Logger
}

// Transport is the HTTP plumbing shared by the provider clients. Clients
// that hit the same upstream account share one Transport and so one rate
// limiter.
type Transport struct {
	key       string
	keyHeader string
	baseURL   string
	headers   map[string]string
	http      *retryablehttp.Client
	limiter   *rate.Limiter
	log       *zap.Logger
}

func NewTransport(cfg TransportConfig) *Transport {
	lg := cfg.Logger
	if lg == nil {
		lg = zap.NewNop()
	}
	rc := retryablehttp.NewClient()
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 900 * time.Millisecond
	rc.RetryMax = max(cfg.RetryMax, 0)
	rc.HTTPClient.Timeout = cfg.Timeout
	if rc.HTTPClient.Timeout <= 0 {
		rc.HTTPClient.Timeout = 6 * time.Second
	}
	// hand non-2xx responses back instead of a "giving up" error
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = leveledZap{lg.Sugar()}

	var lim *rate.Limiter
	if cfg.RPS > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RPS), max(1, int(cfg.RPS)))
	}
	keyHeader := cfg.KeyHeader
	if keyHeader == "" {
		keyHeader = "X-Api-Key"
	}
	return &Transport{
		key:       strings.TrimSpace(cfg.APIKey),
		keyHeader: keyHeader,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		headers:   cfg.Headers,
		http:      rc,
		limiter:   lim,
		log:       lg,
	}
}

func (t *Transport) Configured() bool { return t != nil && t.key != "" && t.baseURL != "" }

// get issues one GET and returns the body of a 2xx response. See Batch for
// the meaning of Charged.
func (t *Transport) get(ctx context.Context, provider, endpoint string, q url.Values) (Batch, error) {
	b := Batch{Provider: provider, Endpoint: endpoint}
	if !t.Configured() {
		return b, ErrNotConfigured
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return b, fmt.Errorf("%s rate limit wait: %w", provider, err)
		}
	}
	u := fmt.Sprintf("%s%s?%s", t.baseURL, endpoint, q.Encode())
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return b, err
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set(t.keyHeader, t.key)
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	started := time.Now()
	resp, err := t.http.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return b, fmt.Errorf("%s %s: %w", provider, endpoint, err)
	}
	defer resp.Body.Close()
	b.Status = resp.StatusCode
	t.log.Debug("provider call",
		zap.String("provider", provider),
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(started)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return b, &StatusError{Provider: provider, Status: resp.StatusCode}
	}
	b.Charged = true
	raw, err := ioReadAllLimit(resp.Body, 4<<20) // 4MB guard
	if err != nil {
		return b, fmt.Errorf("%s %s read: %w", provider, endpoint, err)
	}
	b.Raw = raw
	return b, nil
}

func ioReadAllLimit(r io.Reader, limit int64) ([]byte, error) {
	lr := io.LimitReader(r, limit+1)
	b, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, errors.New("payload too large")
	}
	return b, nil
}

// leveledZap adapts zap to retryablehttp.LeveledLogger.
type leveledZap struct{ s *zap.SugaredLogger }

func (l leveledZap) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledZap) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledZap) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledZap) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
