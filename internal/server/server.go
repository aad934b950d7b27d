package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"SpotSentinel/internal/cache"
	"SpotSentinel/internal/entsoe"
	"SpotSentinel/internal/model"
	"SpotSentinel/internal/notifier"
	"SpotSentinel/internal/pricing"
	"SpotSentinel/internal/scheduler"
)

const keepaliveInterval = 30 * time.Second

// Server exposes the cached prices as JSON plus a server-sent-event stream
// of cache changes.
type Server struct {
	cache   *cache.Cache
	sched   *scheduler.Scheduler
	broker  *notifier.Broker
	loc     *time.Location
	market  string
	vatRate float64
	margin  float64 // default margin, cents/kWh
	version string

	http *http.Server
}

// New wires the handlers. Call ListenAndServe to start.
func New(addr string, c *cache.Cache, sched *scheduler.Scheduler, broker *notifier.Broker, loc *time.Location, market string, vatRate, defaultMarginCents float64, version string) *Server {
	s := &Server{
		cache:   c,
		sched:   sched,
		broker:  broker,
		loc:     loc,
		market:  market,
		vatRate: vatRate,
		margin:  defaultMarginCents,
		version: version,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/prices", s.handlePrices)
	mux.HandleFunc("GET /events", s.handleEvents)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	log.Printf("[INFO] http server listening on %s", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	today := model.DateOf(time.Now(), s.loc)
	tomorrow := today.Next()
	status := map[string]any{
		"market":           s.market,
		"today":            today.ISO(),
		"todayComplete":    s.cache.HasCompleteDay(today),
		"tomorrow":         tomorrow.ISO(),
		"tomorrowComplete": s.cache.HasCompleteDay(tomorrow),
		"subscribers":      s.broker.Subscribers(),
	}
	if lr := s.cache.LastRefresh(); !lr.IsZero() {
		status["lastRefresh"] = lr.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, status)
}

type intervalView struct {
	StartUTC        string  `json:"startUtc"`
	EndUTC          string  `json:"endUtc"`
	PriceEurPerMWh  float64 `json:"priceEurPerMwh"`
	SpotCentsPerKWh float64 `json:"spotCentsPerKwh"`
	TotalCents      float64 `json:"totalCentsPerKwh"`
	Color           string  `json:"color"`
}

type pricesResponse struct {
	Market        string         `json:"market"`
	Date          string         `json:"date"`
	Granularity   string         `json:"granularity,omitempty"`
	Complete      bool           `json:"complete"`
	IntervalCount int            `json:"intervalCount"`
	PublishedAt   string         `json:"publishedAt,omitempty"`
	MarginCents   float64        `json:"marginCents"`
	Intervals     []intervalView `json:"intervals"`
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	target, err := s.resolveDate(r.URL.Query().Get("date"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	margin := s.margin
	if v := r.URL.Query().Get("margin"); v != "" {
		margin, err = strconv.ParseFloat(v, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid margin"})
			return
		}
		if err := pricing.ValidateMargin(margin); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	intervals, meta, err := s.sched.DayOnDemand(r.Context(), target)
	if err != nil {
		var na *entsoe.NotAvailableError
		if errors.As(err, &na) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"date":  target.ISO(),
				"error": "no price data available for this date",
			})
			return
		}
		log.Printf("[ERROR] on-demand fetch for %s: %v", target, err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream fetch failed"})
		return
	}

	resp := pricesResponse{
		Market:        s.market,
		Date:          target.ISO(),
		MarginCents:   margin,
		IntervalCount: len(intervals),
		Intervals:     make([]intervalView, 0, len(intervals)),
	}
	if meta != nil {
		resp.Granularity = string(meta.Granularity)
		resp.Complete = len(intervals) >= meta.ExpectedIntervals
		if meta.PublishedAt != nil {
			resp.PublishedAt = meta.PublishedAt.UTC().Format(time.RFC3339)
		}
	}
	for _, it := range intervals {
		spot := pricing.CentsPerKWh(it.Price, s.vatRate)
		resp.Intervals = append(resp.Intervals, intervalView{
			StartUTC:        it.Start.UTC().Format(time.RFC3339),
			EndUTC:          it.End.UTC().Format(time.RFC3339),
			PriceEurPerMWh:  it.Price,
			SpotCentsPerKWh: spot,
			TotalCents:      pricing.TotalCents(spot, margin),
			Color:           pricing.ColorFor(spot),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) resolveDate(raw string) (model.Date, error) {
	today := model.DateOf(time.Now(), s.loc)
	switch raw {
	case "", "today":
		return today, nil
	case "tomorrow":
		return today.Next(), nil
	}
	d, err := model.ParseDate(raw)
	if err != nil {
		return model.Date{}, fmt.Errorf("invalid date %q", raw)
	}
	return d, nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id, events := s.broker.Subscribe()
	defer s.broker.Unsubscribe(id)

	writeSSE(w, "version_update", map[string]string{"type": "version", "version": s.version})
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-events:
			if !open {
				return
			}
			writeSSE(w, evt.Type, map[string]any{
				"type":        evt.Type,
				"date":        evt.Date,
				"granularity": string(evt.Granularity),
				"intervals":   evt.IntervalCount,
				"timestamp":   evt.Timestamp.Format(time.RFC3339),
			})
			flusher.Flush()
		case <-keepalive.C:
			writeSSE(w, "version_update", map[string]string{"type": "version", "version": s.version})
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[WARN] encode response: %v", err)
	}
}
