package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/peertrack/peertrack/internal/app/domain/market"
	appmetrics "github.com/peertrack/peertrack/internal/app/metrics"
	"github.com/peertrack/peertrack/internal/app/services/health"
	"github.com/peertrack/peertrack/internal/app/services/marketdata"
	"github.com/peertrack/peertrack/internal/app/services/registry"
	"github.com/peertrack/peertrack/internal/app/services/retention"
	"github.com/peertrack/peertrack/internal/app/storage"
	"github.com/peertrack/peertrack/pkg/logger"
)

// Deps are the services the API exposes.
type Deps struct {
	Registry  *registry.Service
	Market    *marketdata.Service
	Health    *health.Service
	Retention *retention.Service
	Log       *logger.Logger
}

// handler bundles the HTTP endpoints over the application services.
type handler struct {
	deps Deps
	log  *logger.Logger
}

// NewHandler returns the REST router.
func NewHandler(deps Deps) http.Handler {
	log := deps.Log
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{deps: deps, log: log}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(appmetrics.Middleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/market", func(r chi.Router) {
			r.Get("/summary", h.marketSummary)
			r.Get("/buy", h.buyPrices)
			r.Get("/sell", h.sellPrices)
			r.Get("/both", h.bothPrices)
			r.Get("/raw", h.rawData)
		})
		r.Route("/pairs", func(r chi.Router) {
			r.Post("/", h.createPair)
			r.Get("/", h.listPairs)
			r.Route("/{pairID}", func(r chi.Router) {
				r.Get("/", h.getPair)
				r.Put("/", h.updatePair)
				r.Post("/active", h.setPairActive)
			})
		})
		r.Post("/admin/cleanup", h.cleanup)
	})
	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", appmetrics.Handler())
	return r
}

func (h *handler) marketSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.deps.Market.MarketSummary(r.Context(), queryFromRequest(r), time.Now().UTC())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *handler) buyPrices(w http.ResponseWriter, r *http.Request) {
	view, err := h.deps.Market.BuyPrices(r.Context(), queryFromRequest(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) sellPrices(w http.ResponseWriter, r *http.Request) {
	view, err := h.deps.Market.SellPrices(r.Context(), queryFromRequest(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) bothPrices(w http.ResponseWriter, r *http.Request) {
	view, err := h.deps.Market.BothPrices(r.Context(), queryFromRequest(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) rawData(w http.ResponseWriter, r *http.Request) {
	q := marketdata.RawQuery{Query: queryFromRequest(r)}
	if raw := r.URL.Query().Get("trade_type"); raw != "" {
		tt, err := market.ParseTradeType(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		q.TradeType = tt
	}
	res, err := h.deps.Market.RawData(r.Context(), q)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type pairPayload struct {
	Asset                     string                   `json:"asset"`
	Fiat                      string                   `json:"fiat"`
	CollectionIntervalMinutes int                      `json:"collection_interval_minutes"`
	CollectionConfig          market.CollectionConfig  `json:"collection_config"`
	UseVolumeSampling         bool                     `json:"use_volume_sampling"`
	VolumeRanges              []decimal.Decimal        `json:"volume_ranges"`
	DefaultSampleVolume       decimal.Decimal          `json:"default_sample_volume"`
	MinTradeAmount            *decimal.Decimal         `json:"min_trade_amount"`
	MaxTradeAmount            *decimal.Decimal         `json:"max_trade_amount"`
}

func (h *handler) createPair(w http.ResponseWriter, r *http.Request) {
	var payload pairPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pair, err := h.deps.Registry.CreatePair(r.Context(), registry.CreateParams{
		Asset:                     payload.Asset,
		Fiat:                      payload.Fiat,
		CollectionIntervalMinutes: payload.CollectionIntervalMinutes,
		CollectionConfig:          payload.CollectionConfig,
		UseVolumeSampling:         payload.UseVolumeSampling,
		VolumeRanges:              payload.VolumeRanges,
		DefaultSampleVolume:       payload.DefaultSampleVolume,
		MinTradeAmount:            payload.MinTradeAmount,
		MaxTradeAmount:            payload.MaxTradeAmount,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, pair)
}

func (h *handler) listPairs(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	pairs, err := h.deps.Registry.ListPairs(r.Context(), activeOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, pairs)
}

func (h *handler) getPair(w http.ResponseWriter, r *http.Request) {
	pair, err := h.deps.Registry.GetPair(r.Context(), chi.URLParam(r, "pairID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *handler) updatePair(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CollectionIntervalMinutes *int                     `json:"collection_interval_minutes"`
		CollectionConfig          *market.CollectionConfig `json:"collection_config"`
		UseVolumeSampling         *bool                    `json:"use_volume_sampling"`
		VolumeRanges              *[]decimal.Decimal       `json:"volume_ranges"`
		DefaultSampleVolume       *decimal.Decimal         `json:"default_sample_volume"`
		MinTradeAmount            *decimal.Decimal         `json:"min_trade_amount"`
		MaxTradeAmount            *decimal.Decimal         `json:"max_trade_amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pair, err := h.deps.Registry.UpdatePair(r.Context(), chi.URLParam(r, "pairID"), registry.UpdateParams{
		CollectionIntervalMinutes: payload.CollectionIntervalMinutes,
		CollectionConfig:          payload.CollectionConfig,
		UseVolumeSampling:         payload.UseVolumeSampling,
		VolumeRanges:              payload.VolumeRanges,
		DefaultSampleVolume:       payload.DefaultSampleVolume,
		MinTradeAmount:            payload.MinTradeAmount,
		MaxTradeAmount:            payload.MaxTradeAmount,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *handler) setPairActive(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Active bool `json:"active"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pair, err := h.deps.Registry.SetActive(r.Context(), chi.URLParam(r, "pairID"), payload.Active)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *handler) cleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.deps.Retention.Cleanup(r.Context(), time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.Health.Status(r.Context(), time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func queryFromRequest(r *http.Request) marketdata.Query {
	qs := r.URL.Query()
	q := marketdata.Query{
		Asset: qs.Get("asset"),
		Fiat:  qs.Get("fiat"),
	}
	if raw := qs.Get("rows"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			q.Rows = n
		}
	}
	if raw := qs.Get("page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			q.Page = n
		}
	}
	if raw := qs.Get("trans_amount"); raw != "" {
		if amount, err := decimal.NewFromString(raw); err == nil {
			q.TransAmount = &amount
		}
	}
	if raw := qs.Get("pay_types"); raw != "" {
		for _, pt := range strings.Split(raw, ",") {
			if pt = strings.TrimSpace(pt); pt != "" {
				q.PayTypes = append(q.PayTypes, pt)
			}
		}
	}
	return q
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, marketdata.ErrFetchFailed):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
