package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skyward-obs/features-cli/internal/model"
	"github.com/skyward-obs/features-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a read-only status server over the run ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newServeMux(st),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newServeMux builds the status API routes over the run ledger.
func newServeMux(st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/runs", func(w http.ResponseWriter, req *http.Request) {
		filter := store.RunFilter{
			Field: queryInt(req, "field"),
			CCD:   queryInt(req, "ccd"),
			Quad:  queryInt(req, "quad"),
			Limit: queryInt(req, "limit"),
		}

		runs, err := st.ListRuns(req.Context(), filter)
		if err != nil {
			zap.L().Error("list runs failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list runs"})
			return
		}
		writeJSON(w, http.StatusOK, runs)
	})

	r.Get("/api/runs/{field}/{ccd}/{quad}", func(w http.ResponseWriter, req *http.Request) {
		unit, err := unitFromURL(req)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		run, err := st.LatestForUnit(req.Context(), unit)
		if err != nil {
			zap.L().Error("latest run lookup failed", zap.String("unit", unit.String()), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "latest run"})
			return
		}
		if run == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no runs recorded for unit"})
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	return r
}

func unitFromURL(req *http.Request) (model.Unit, error) {
	field, err := strconv.Atoi(chi.URLParam(req, "field"))
	if err != nil {
		return model.Unit{}, eris.New("field must be an integer")
	}
	ccd, err := strconv.Atoi(chi.URLParam(req, "ccd"))
	if err != nil {
		return model.Unit{}, eris.New("ccd must be an integer")
	}
	quad, err := strconv.Atoi(chi.URLParam(req, "quad"))
	if err != nil {
		return model.Unit{}, eris.New("quad must be an integer")
	}
	return model.Unit{Field: field, CCD: ccd, Quad: quad}, nil
}

// queryInt parses an integer query parameter, treating absent or malformed
// values as zero.
func queryInt(req *http.Request, key string) int {
	v, err := strconv.Atoi(req.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
