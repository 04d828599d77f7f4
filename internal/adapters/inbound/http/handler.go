// handler.go provides HTTP REST API handlers for the adapter directory.
//
// This inbound adapter exposes the registry and price reads over HTTP:
//   - GET  /adapters                    list enabled adapters
//   - POST /adapters                    deploy an adapter
//   - GET  /adapters/{address}          describe one adapter
//   - GET  /adapters/{address}/price    latest normalized quote
//   - GET  /adapters/{address}/twap     trailing time-weighted average
//   - PUT  /adapters/{address}/price    push a manual price (owner only)
//   - PUT  /adapters/{address}/config   change window/staleness (owner only)
//
// Owner-gated routes take the capability token in the X-Owner-Token header.
// Price reads go through the quote cache when one is configured and fall
// back to the adapter services on a miss.
package http

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/archon-research/paymaster-oracle/internal/domain/entity"
	"github.com/archon-research/paymaster-oracle/internal/ports/inbound"
	"github.com/archon-research/paymaster-oracle/internal/ports/outbound"
	"github.com/archon-research/paymaster-oracle/internal/pkg/twap"
	"github.com/archon-research/paymaster-oracle/internal/services/adapter_factory"
	"github.com/archon-research/paymaster-oracle/internal/services/shared"
	"github.com/archon-research/paymaster-oracle/internal/services/twap_adapter"
)

// ownerTokenHeader carries the capability token on owner-gated routes.
const ownerTokenHeader = "X-Owner-Token"

// Handler implements HTTP handlers for the adapter API.
type Handler struct {
	directory inbound.AdapterDirectory
	cache     outbound.QuoteCache
	logger    *slog.Logger
	now       func() uint64
}

// NewHandler creates a new HTTP handler. The cache is optional; when nil
// every read goes straight to the adapter services.
func NewHandler(directory inbound.AdapterDirectory, cache outbound.QuoteCache, logger *slog.Logger) (*Handler, error) {
	if directory == nil {
		return nil, errors.New("adapter directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		directory: directory,
		cache:     cache,
		logger:    logger.With("component", "http-handler"),
		now:       func() uint64 { return uint64(time.Now().Unix()) },
	}, nil
}

// RegisterRoutes registers the HTTP routes with the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /adapters", h.ListAdapters)
	mux.HandleFunc("POST /adapters", h.DeployAdapter)
	mux.HandleFunc("GET /adapters/{address}", h.DescribeAdapter)
	mux.HandleFunc("GET /adapters/{address}/price", h.LatestPrice)
	mux.HandleFunc("GET /adapters/{address}/twap", h.TWAP)
	mux.HandleFunc("PUT /adapters/{address}/price", h.SetManualPrice)
	mux.HandleFunc("PUT /adapters/{address}/config", h.UpdateConfig)
}

// adapterResponse is the wire form of an adapter registration. The owner
// token hash is never exposed.
type adapterResponse struct {
	Address      string `json:"address"`
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	ChainID      int    `json:"chainId"`
	FeedID       string `json:"feedId"`
	Expo         int32  `json:"expo"`
	FixedPrice   int64  `json:"fixedPrice,omitempty"`
	TwapInterval uint32 `json:"twapInterval,omitempty"`
	MaxPriceAge  uint32 `json:"maxPriceAge,omitempty"`
	Salt         string `json:"salt"`
	Enabled      bool   `json:"enabled"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

func toAdapterResponse(a *entity.Adapter) adapterResponse {
	return adapterResponse{
		Address:      outbound.HexAddress(a.Address),
		Name:         a.Name,
		Kind:         string(a.Kind),
		ChainID:      a.ChainID,
		FeedID:       hex.EncodeToString(a.FeedID[:]),
		Expo:         a.Expo,
		FixedPrice:   a.FixedPrice,
		TwapInterval: a.TwapInterval,
		MaxPriceAge:  a.MaxPriceAge,
		Salt:         hex.EncodeToString(a.Salt[:]),
		Enabled:      a.Enabled,
		CreatedAt:    a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// priceResponse is the wire form of a normalized quote.
type priceResponse struct {
	Price       int64  `json:"price"`
	Conf        uint64 `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime uint64 `json:"publishTime"`
	Source      string `json:"source"`
}

// twapResponse is the wire form of a computed TWAP.
type twapResponse struct {
	Price      int64  `json:"price"`
	ComputedAt uint64 `json:"computedAt"`
	Source     string `json:"source"`
}

// ListAdapters handles GET /adapters.
func (h *Handler) ListAdapters(w http.ResponseWriter, r *http.Request) {
	adapters, err := h.directory.ListAdapters(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	out := make([]adapterResponse, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, toAdapterResponse(a))
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"adapters": out})
}

// deployRequest is the POST /adapters body.
type deployRequest struct {
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	ChainID      int    `json:"chainId"`
	OwnerToken   string `json:"ownerToken"`
	FeedID       string `json:"feedId,omitempty"`
	Expo         int32  `json:"expo"`
	FixedPrice   int64  `json:"fixedPrice,omitempty"`
	TwapInterval uint32 `json:"twapInterval,omitempty"`
	MaxPriceAge  uint32 `json:"maxPriceAge,omitempty"`
	Salt         string `json:"salt"`
}

// DeployAdapter handles POST /adapters.
func (h *Handler) DeployAdapter(w http.ResponseWriter, r *http.Request) {
	var body deployRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req := inbound.DeployRequest{
		Name:         body.Name,
		Kind:         entity.AdapterKind(body.Kind),
		ChainID:      body.ChainID,
		OwnerToken:   body.OwnerToken,
		Expo:         body.Expo,
		FixedPrice:   body.FixedPrice,
		TwapInterval: body.TwapInterval,
		MaxPriceAge:  body.MaxPriceAge,
	}

	if body.FeedID != "" {
		feedID, err := parse32(body.FeedID)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid feed ID")
			return
		}
		req.FeedID = feedID
	}
	salt, err := parse32(body.Salt)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid salt")
		return
	}
	req.Salt = salt

	adapter, err := h.directory.Deploy(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, toAdapterResponse(adapter))
}

// DescribeAdapter handles GET /adapters/{address}.
func (h *Handler) DescribeAdapter(w http.ResponseWriter, r *http.Request) {
	address, ok := h.pathAddress(w, r)
	if !ok {
		return
	}

	adapter, err := h.directory.DescribeAdapter(r.Context(), address)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, toAdapterResponse(adapter))
}

// LatestPrice handles GET /adapters/{address}/price.
func (h *Handler) LatestPrice(w http.ResponseWriter, r *http.Request) {
	address, ok := h.pathAddress(w, r)
	if !ok {
		return
	}

	if h.cache != nil {
		if quote, err := h.cache.GetLatest(r.Context(), address); err == nil {
			h.respondJSON(w, http.StatusOK, priceResponse{
				Price:       quote.Price,
				Conf:        quote.Conf,
				Expo:        quote.Expo,
				PublishTime: quote.PublishTime,
				Source:      "cache",
			})
			return
		} else if !errors.Is(err, outbound.ErrCacheMiss) {
			h.logger.Warn("quote cache read failed", "error", err)
		}
	}

	quote, err := h.directory.LatestPrice(r.Context(), address)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, priceResponse{
		Price:       quote.Price,
		Conf:        quote.Conf,
		Expo:        quote.Expo,
		PublishTime: quote.PublishTime,
		Source:      "adapter",
	})
}

// TWAP handles GET /adapters/{address}/twap. An optional "at" query
// parameter computes the average as of that unix timestamp and bypasses
// the cache.
func (h *Handler) TWAP(w http.ResponseWriter, r *http.Request) {
	address, ok := h.pathAddress(w, r)
	if !ok {
		return
	}

	at := h.now()
	pinned := false
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid 'at' timestamp")
			return
		}
		at = parsed
		pinned = true
	}

	if h.cache != nil && !pinned {
		if price, computedAt, err := h.cache.GetTWAP(r.Context(), address); err == nil {
			h.respondJSON(w, http.StatusOK, twapResponse{
				Price:      price,
				ComputedAt: computedAt,
				Source:     "cache",
			})
			return
		} else if !errors.Is(err, outbound.ErrCacheMiss) {
			h.logger.Warn("TWAP cache read failed", "error", err)
		}
	}

	price, err := h.directory.TWAP(r.Context(), address, at)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, twapResponse{
		Price:      price,
		ComputedAt: at,
		Source:     "adapter",
	})
}

// manualPriceRequest is the PUT /adapters/{address}/price body.
type manualPriceRequest struct {
	Price       int64  `json:"price"`
	Conf        uint64 `json:"conf"`
	PublishTime uint64 `json:"publishTime"`
}

// SetManualPrice handles PUT /adapters/{address}/price.
func (h *Handler) SetManualPrice(w http.ResponseWriter, r *http.Request) {
	address, ok := h.pathAddress(w, r)
	if !ok {
		return
	}
	token := r.Header.Get(ownerTokenHeader)
	if token == "" {
		h.respondError(w, http.StatusForbidden, "owner token required")
		return
	}

	var body manualPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.directory.SetManualPrice(r.Context(), address, token, body.Price, body.Conf, body.PublishTime); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// configRequest is the PUT /adapters/{address}/config body. Fields are
// pointers so a request can change one setting without the other.
type configRequest struct {
	TwapInterval *uint32 `json:"twapInterval,omitempty"`
	MaxPriceAge  *uint32 `json:"maxPriceAge,omitempty"`
}

// UpdateConfig handles PUT /adapters/{address}/config.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	address, ok := h.pathAddress(w, r)
	if !ok {
		return
	}
	token := r.Header.Get(ownerTokenHeader)
	if token == "" {
		h.respondError(w, http.StatusForbidden, "owner token required")
		return
	}

	var body configRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.TwapInterval == nil && body.MaxPriceAge == nil {
		h.respondError(w, http.StatusBadRequest, "no settings to update")
		return
	}

	if body.TwapInterval != nil {
		if err := h.directory.SetTwapInterval(r.Context(), address, token, *body.TwapInterval); err != nil {
			h.respondServiceError(w, err)
			return
		}
	}
	if body.MaxPriceAge != nil {
		if err := h.directory.SetMaxPriceAge(r.Context(), address, token, *body.MaxPriceAge); err != nil {
			h.respondServiceError(w, err)
			return
		}
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// pathAddress parses the {address} path segment. Writes a 400 response and
// returns false when the value is not a 20-byte hex address.
func (h *Handler) pathAddress(w http.ResponseWriter, r *http.Request) ([20]byte, bool) {
	raw := strings.TrimPrefix(r.PathValue("address"), "0x")
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != 20 {
		h.respondError(w, http.StatusBadRequest, "invalid adapter address")
		return [20]byte{}, false
	}
	var address [20]byte
	copy(address[:], decoded)
	return address, true
}

func parse32(raw string) ([32]byte, error) {
	decoded, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return [32]byte{}, err
	}
	if len(decoded) != 32 {
		return [32]byte{}, fmt.Errorf("expected 32 bytes, got %d", len(decoded))
	}
	var out [32]byte
	copy(out[:], decoded)
	return out, nil
}

// respondServiceError maps service errors to HTTP status codes.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, outbound.ErrAdapterNotFound):
		h.respondError(w, http.StatusNotFound, "adapter not found")
	case errors.Is(err, shared.ErrUnauthorized):
		h.respondError(w, http.StatusForbidden, "owner token mismatch")
	case errors.Is(err, adapter_factory.ErrKindMismatch):
		h.respondError(w, http.StatusConflict, "operation not supported by adapter kind")
	case errors.Is(err, adapter_factory.ErrAddressCollision):
		h.respondError(w, http.StatusConflict, "address collision with existing registration")
	case errors.Is(err, twap.ErrInsufficientData):
		h.respondError(w, http.StatusServiceUnavailable, "insufficient price data")
	case errors.Is(err, twap_adapter.ErrStalePrice):
		h.respondError(w, http.StatusServiceUnavailable, "price is stale")
	case errors.Is(err, outbound.ErrFeedUnavailable):
		h.respondError(w, http.StatusBadGateway, "upstream feed unavailable")
	default:
		h.logger.Error("request failed", "error", err)
		h.respondError(w, http.StatusBadRequest, err.Error())
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
