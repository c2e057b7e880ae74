package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/rs/zerolog"

	"groupe-e-consumption/internal/consumption"
	"groupe-e-consumption/internal/service"
)

// ReadingSource is the read side of the refresh orchestrator.
type ReadingSource interface {
	Reading(res consumption.Resolution) (consumption.Reading, bool)
	Hourly() ([]consumption.HourlyStatistic, consumption.Window, bool)
	Status(res consumption.Resolution) service.Status
	Statuses() []service.Status
}

// Options configure the HTTP surface.
type Options struct {
	Listen  string
	Metrics http.Handler
}

// Server exposes cached readings, health and prometheus metrics.
type Server struct {
	source ReadingSource
	server *http.Server
	logger zerolog.Logger
}

// New builds the server and its routes.
func New(opts Options, source ReadingSource, logger zerolog.Logger) *Server {
	s := &Server{
		source: source,
		logger: logger.With().Str("component", "httpapi").Logger(),
	}

	if opts.Listen == "" {
		opts.Listen = ":9464"
	}

	s.server = &http.Server{
		Addr:         opts.Listen,
		Handler:      s.routes(opts.Metrics),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	return s
}

func (s *Server) routes(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /api/readings", gziphandler.GzipHandler(http.HandlerFunc(s.handleReadings)))
	mux.Handle("GET /api/readings/{resolution}", gziphandler.GzipHandler(http.HandlerFunc(s.handleReading)))
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return mux
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("http server starting")
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	s.logger.Info().Msg("http server stopping")
	return s.server.Shutdown(shutdownCtx)
}

type healthResponse struct {
	Status      string           `json:"status"`
	Resolutions []service.Status `json:"resolutions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Resolutions: s.source.Statuses()}
	for _, st := range resp.Resolutions {
		if st.State == service.StateFailed {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type windowView struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type readingView struct {
	Status  service.Status                `json:"status"`
	Reading *consumption.Reading          `json:"reading,omitempty"`
	Window  *windowView                   `json:"window,omitempty"`
	Hourly  []consumption.HourlyStatistic `json:"hourly,omitempty"`
}

func (s *Server) view(res consumption.Resolution) readingView {
	view := readingView{Status: s.source.Status(res)}
	if res == consumption.QuarterHourly {
		if hourly, window, ok := s.source.Hourly(); ok {
			view.Hourly = hourly
			view.Window = &windowView{Start: window.Start, End: window.End}
		}
		return view
	}
	if reading, ok := s.source.Reading(res); ok {
		view.Reading = &reading
	}
	return view
}

func (s *Server) handleReadings(w http.ResponseWriter, _ *http.Request) {
	views := make([]readingView, 0, len(consumption.Resolutions))
	for _, res := range consumption.Resolutions {
		views = append(views, s.view(res))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleReading(w http.ResponseWriter, r *http.Request) {
	res, err := consumption.ParseResolution(r.PathValue("resolution"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.view(res))
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
