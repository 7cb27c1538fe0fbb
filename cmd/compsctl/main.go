package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpv1 "github.com/yourorg/comps-api/http/v1"
	"github.com/yourorg/comps-api/internal/app"
	"github.com/yourorg/comps-api/internal/logger"
	"github.com/yourorg/comps-api/internal/usage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type rootOpts struct {
	backend string
	verbose bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOpts{}
	root := &cobra.Command{
		Use:          "compsctl",
		Short:        "Resolve comparable sales and inspect usage from the command line",
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.backend, "backend", "", "usage backend (memory|postgres|sqlite|redis); defaults to USAGE_BACKEND")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log provider calls to stderr")

	root.AddCommand(newResolveCmd(opts), newUsageCmd(opts), newMigrateCmd(opts))
	return root
}

// open wires the app from the environment plus flag overrides.
func (o *rootOpts) open(ctx context.Context) (*app.App, error) {
	cfg := app.LoadConfig()
	if o.backend != "" {
		cfg.UsageBackend = strings.ToLower(o.backend)
	}
	lg := zap.NewNop()
	if o.verbose {
		var err error
		if lg, err = logger.New("debug", "console"); err != nil {
			return nil, err
		}
	}
	return app.New(ctx, cfg, lg)
}

func newResolveCmd(opts *rootOpts) *cobra.Command {
	var (
		body     httpv1.CompsRequest
		address  string
		zip      string
		city     string
		state    string
		lat, lng float64
		beds     float64
		baths    float64
		userID   string
		propID   string
		debug    bool
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve recent comparable sales for an address",
		Example: `  compsctl resolve --address "500 Oak Ave" --zip 62704 --lat 39.78 --lng -89.65
  compsctl resolve --address "500 Oak Ave" --zip 62704 --user u1 --debug`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw := map[string]any{
				"address": address, "zipCode": zip, "city": city, "state": state,
				"userId": userID, "propertyId": propID,
				"subjectSpecs": map[string]float64{"bedrooms": beds, "bathrooms": baths},
			}
			if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lng") {
				raw["lat"], raw["lng"] = lat, lng
			}
			b, _ := json.Marshal(raw)
			if err := json.Unmarshal(b, &body); err != nil {
				return err
			}
			q, err := body.Query()
			if err != nil {
				return err
			}

			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), a.Config.Budget+5*time.Second)
			defer cancel()
			res, err := a.Resolver.Resolve(ctx, q)
			if err != nil {
				return err
			}
			out := map[string]any{"result": res}
			if debug {
				out["attempts"] = res.Attempts
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	f := cmd.Flags()
	f.StringVar(&address, "address", "", "subject street address")
	f.StringVar(&zip, "zip", "", "subject ZIP code")
	f.StringVar(&city, "city", "", "subject city")
	f.StringVar(&state, "state", "", "subject state")
	f.Float64Var(&lat, "lat", 0, "subject latitude")
	f.Float64Var(&lng, "lng", 0, "subject longitude")
	f.Float64Var(&beds, "beds", 0, "bedroom hint")
	f.Float64Var(&baths, "baths", 0, "bathroom hint")
	f.StringVar(&userID, "user", "", "user to meter against")
	f.StringVar(&propID, "property-id", "", "provider property ID of the subject")
	f.BoolVar(&debug, "debug", false, "include provider attempts")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("zip")
	return cmd
}

func newUsageCmd(opts *rootOpts) *cobra.Command {
	var userID, month string
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show a user's monthly provider usage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if month == "" {
				month = usage.YearMonth(time.Now())
			} else if _, err := time.Parse("2006-01", month); err != nil {
				return fmt.Errorf("--month must be YYYY-MM: %w", err)
			}
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			c, err := a.Usage.Get(cmd.Context(), userID, month)
			if err != nil {
				return err
			}
			snap := a.Config.Limits.Snapshot(c)
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"userId": userID, "yearMonth": month,
				"countA": snap.CountA, "countB": snap.CountB,
				"limitA": snap.LimitA, "limitB": snap.LimitB,
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user ID")
	cmd.Flags().StringVar(&month, "month", "", "year-month, e.g. 2026-10 (default: current)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newMigrateCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the usage and snapshot tables for the SQL backends",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// app.New migrates SQL backends on open
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Store == nil {
				return fmt.Errorf("backend %q has no tables to migrate", a.Config.UsageBackend)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s backend\n", a.Config.UsageBackend)
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
