package v1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/yourorg/comps-api/internal/resolver"
	"github.com/yourorg/comps-api/internal/usage"
	"github.com/yourorg/comps-api/provider"
)

// Resolver runs a comps resolution.
type Resolver interface {
	Resolve(ctx context.Context, q provider.Query) (*resolver.Result, error)
}

type CompsDeps struct {
	Resolver Resolver
	// Usage backs GET /v1/usage/{userId}; nil disables the route.
	Usage  usage.Tracker
	Limits usage.Limits
	Logger *zap.Logger
	Now    func() time.Time
}

type compsResponse struct {
	*resolver.Result
	Debug *debugInfo `json:"debug,omitempty"`
}

type debugInfo struct {
	Query    queryEcho          `json:"query"`
	Attempts []resolver.Attempt `json:"attempts"`
	Cached   bool               `json:"cached"`
	TookMS   int64              `json:"tookMs"`
}

type queryEcho struct {
	Address        string         `json:"address"`
	ZipCode        string         `json:"zipCode"`
	City           string         `json:"city,omitempty"`
	State          string         `json:"state,omitempty"`
	Specs          provider.Specs `json:"subjectSpecs"`
	Lat            *float64       `json:"lat,omitempty"`
	Lng            *float64       `json:"lng,omitempty"`
	SubjectAddress string         `json:"subjectAddress"`
	PropertyID     string         `json:"propertyId,omitempty"`
	UserID         string         `json:"userId,omitempty"`
}

type usageResponse struct {
	UserID    string `json:"userId"`
	YearMonth string `json:"yearMonth"`
	usage.Snapshot
}

func RegisterComps(r chi.Router, d CompsDeps) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Limits == (usage.Limits{}) {
		d.Limits = usage.DefaultLimits
	}
	h := func(w http.ResponseWriter, req *http.Request) { resolveComps(w, req, d) }
	r.Post("/v1/comps/resolve", h)
	r.Post("/api/comps", h)
	if d.Usage != nil {
		r.Get("/v1/usage/{userId}", func(w http.ResponseWriter, req *http.Request) { getUsage(w, req, d) })
	}
}

func resolveComps(w http.ResponseWriter, req *http.Request, d CompsDeps) {
	var body CompsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, 64<<10)).Decode(&body); err != nil {
		writeError(w, req, http.StatusBadRequest, "invalid JSON body")
		return
	}
	q, err := body.Query()
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			writeError(w, req, http.StatusBadRequest, ve.Error())
			return
		}
		writeError(w, req, http.StatusInternalServerError, "internal error")
		return
	}

	started := d.Now()
	res, err := d.Resolver.Resolve(req.Context(), q)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			d.Logger.Debug("comps request cancelled", zap.String("address", q.Address))
		} else {
			d.Logger.Error("comps resolve failed", zap.String("address", q.Address), zap.Error(err))
		}
		writeError(w, req, http.StatusInternalServerError, "internal error")
		return
	}

	out := compsResponse{Result: res}
	if bool(body.Debug) {
		out.Debug = &debugInfo{
			Query: queryEcho{
				Address: q.Address, ZipCode: q.ZipCode, City: q.City, State: q.State,
				Specs: q.Specs, Lat: q.Lat, Lng: q.Lng, SubjectAddress: q.SubjectAddress,
				PropertyID: q.PropertyID, UserID: q.UserID,
			},
			Attempts: res.Attempts,
			Cached:   res.Cached,
			TookMS:   d.Now().Sub(started).Milliseconds(),
		}
	}
	render.Status(req, http.StatusOK)
	render.JSON(w, req, out)
}

func getUsage(w http.ResponseWriter, req *http.Request, d CompsDeps) {
	userID := chi.URLParam(req, "userId")
	month := req.URL.Query().Get("month")
	if month == "" {
		month = usage.YearMonth(d.Now())
	} else if _, err := time.Parse("2006-01", month); err != nil {
		writeError(w, req, http.StatusBadRequest, "month must be YYYY-MM")
		return
	}
	c, err := d.Usage.Get(req.Context(), userID, month)
	if err != nil {
		d.Logger.Error("usage read failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, req, http.StatusInternalServerError, "internal error")
		return
	}
	render.JSON(w, req, usageResponse{UserID: userID, YearMonth: month, Snapshot: d.Limits.Snapshot(c)})
}

func writeError(w http.ResponseWriter, req *http.Request, status int, msg string) {
	render.Status(req, status)
	render.JSON(w, req, map[string]string{"error": msg})
}
