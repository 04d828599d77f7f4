// Package refresh_worker keeps TWAP adapters current. It refreshes every
// adapter on a periodic ticker and consumes permissionless refresh requests
// from a queue, then writes the resulting quotes to the cache backing the
// read API.
package refresh_worker

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/archon-research/paymaster-oracle/internal/pkg/twap"
	"github.com/archon-research/paymaster-oracle/internal/ports/inbound"
	"github.com/archon-research/paymaster-oracle/internal/ports/outbound"
	"github.com/archon-research/paymaster-oracle/internal/services/twap_adapter"
)

// AdapterSource yields the running TWAP adapter services. The factory
// implements it.
type AdapterSource interface {
	TwapServices() []*twap_adapter.Service
}

// Config holds configuration for the refresh worker.
type Config struct {
	MaxMessages     int
	PollInterval    time.Duration
	RefreshInterval time.Duration
	Logger          *slog.Logger

	// Now returns the current unix time in seconds; tests inject a clock.
	Now func() uint64
}

func configDefaults() Config {
	return Config{
		MaxMessages:     10,
		PollInterval:    100 * time.Millisecond,
		RefreshInterval: 15 * time.Second,
		Logger:          slog.Default(),
		Now:             func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// Service runs the refresh loops.
type Service struct {
	config   Config
	adapters AdapterSource
	consumer outbound.QueueConsumer
	cache    outbound.QuoteCache
	metrics  outbound.MetricsRecorder

	started     atomic.Bool
	lastAttempt atomic.Int64 // unix seconds of the last refresh pass

	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

var _ inbound.HealthChecker = (*Service)(nil)

// NewService creates a new refresh worker service. metrics may be nil when
// telemetry is disabled.
func NewService(
	config Config,
	adapters AdapterSource,
	consumer outbound.QueueConsumer,
	cache outbound.QuoteCache,
	metrics outbound.MetricsRecorder,
) (*Service, error) {
	if adapters == nil {
		return nil, fmt.Errorf("adapters cannot be nil")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}
	if cache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}

	defaults := configDefaults()
	if config.MaxMessages == 0 {
		config.MaxMessages = defaults.MaxMessages
	}
	if config.PollInterval == 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.RefreshInterval == 0 {
		config.RefreshInterval = defaults.RefreshInterval
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}

	return &Service{
		config:   config,
		adapters: adapters,
		consumer: consumer,
		cache:    cache,
		metrics:  metrics,
		logger:   config.Logger.With("component", "refresh-worker"),
	}, nil
}

// Start begins the periodic refresh and queue consumption loops.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	go s.pollLoop()
	go s.refreshLoop()

	s.started.Store(true)
	s.lastAttempt.Store(time.Now().Unix())
	s.logger.Info("refresh worker started",
		"adapters", len(s.adapters.TwapServices()),
		"refreshInterval", s.config.RefreshInterval)
	return nil
}

// Stop stops the service.
func (s *Service) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.started.Store(false)
	s.logger.Info("refresh worker stopped")
	return nil
}

// IsReady reports whether the worker is started and serving.
func (s *Service) IsReady() bool {
	return s.started.Load()
}

// IsHealthy reports whether the refresh loop has run recently. Three missed
// intervals mark the worker unhealthy.
func (s *Service) IsHealthy() bool {
	if !s.started.Load() {
		return false
	}
	last := time.Unix(s.lastAttempt.Load(), 0)
	return time.Since(last) < 3*s.config.RefreshInterval
}

func (s *Service) pollLoop() {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.processMessages(s.ctx); err != nil {
				s.logger.Error("error processing messages", "error", err)
			}
		}
	}
}

func (s *Service) refreshLoop() {
	ticker := time.NewTicker(s.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.RefreshAll(s.ctx); err != nil {
				s.logger.Error("refresh pass had failures", "error", err)
			}
		}
	}
}

// RefreshAll updates every TWAP adapter once. Per-adapter failures are
// collected and joined, never fatal to the pass.
func (s *Service) RefreshAll(ctx context.Context) error {
	s.lastAttempt.Store(time.Now().Unix())

	var errs []error
	for _, svc := range s.adapters.TwapServices() {
		if err := s.refreshOne(ctx, svc); err != nil {
			s.logger.Error("failed to refresh adapter",
				"adapter", svc.Adapter().Name, "error", err)
			errs = append(errs, fmt.Errorf("adapter %s: %w", svc.Adapter().Name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) processMessages(ctx context.Context) error {
	messages, err := s.consumer.ReceiveMessages(ctx, s.config.MaxMessages)
	if err != nil {
		return fmt.Errorf("receiving messages: %w", err)
	}

	if len(messages) == 0 {
		return nil
	}

	s.logger.Info("received refresh requests", "count", len(messages))

	var errs []error
	for _, msg := range messages {
		if err := s.processMessage(ctx, msg); err != nil {
			s.logger.Error("failed to process refresh request", "error", err)
			errs = append(errs, err)
			continue
		}

		if deleteErr := s.consumer.DeleteMessage(ctx, msg.ReceiptHandle); deleteErr != nil {
			s.logger.Error("failed to delete message", "error", deleteErr)
		}
	}

	return errors.Join(errs...)
}

// refreshRequest is the queue message payload. UpdateData entries are
// hex-encoded feed update payloads to push upstream before reading.
type refreshRequest struct {
	AdapterAddress string   `json:"adapterAddress"`
	UpdateData     []string `json:"updateData,omitempty"`
}

// RefreshRequestBody encodes a refresh request the way producers are
// expected to publish it on the queue.
func RefreshRequestBody(address [20]byte, updateData [][]byte) (string, error) {
	req := refreshRequest{AdapterAddress: outbound.HexAddress(address)}
	for _, item := range updateData {
		req.UpdateData = append(req.UpdateData, hex.EncodeToString(item))
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (s *Service) processMessage(ctx context.Context, msg outbound.QueueMessage) error {
	var req refreshRequest
	if err := json.Unmarshal([]byte(msg.Body), &req); err != nil {
		return fmt.Errorf("parsing refresh request: %w", err)
	}

	svc := s.findAdapter(req.AdapterAddress)
	if svc == nil {
		return fmt.Errorf("unknown adapter %q", req.AdapterAddress)
	}

	if len(req.UpdateData) > 0 {
		updateData, err := decodeUpdateData(req.UpdateData)
		if err != nil {
			return fmt.Errorf("parsing update data: %w", err)
		}
		if err := svc.RefreshFeed(ctx, updateData); err != nil {
			return fmt.Errorf("refreshing feed: %w", err)
		}
	}

	return s.refreshOne(ctx, svc)
}

func (s *Service) findAdapter(address string) *twap_adapter.Service {
	for _, svc := range s.adapters.TwapServices() {
		if strings.EqualFold(outbound.HexAddress(svc.Adapter().Address), address) {
			return svc
		}
	}
	return nil
}

func decodeUpdateData(encoded []string) ([][]byte, error) {
	out := make([][]byte, len(encoded))
	for i, item := range encoded {
		raw, err := hex.DecodeString(strings.TrimPrefix(item, "0x"))
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out[i] = raw
	}
	return out, nil
}

// refreshOne updates a single adapter and republishes its quotes to the
// cache. A stale upstream value is an update failure; cache writes are best
// effort.
func (s *Service) refreshOne(ctx context.Context, svc *twap_adapter.Service) error {
	start := time.Now()
	err := svc.Update(ctx)
	if s.metrics != nil {
		s.metrics.RecordRefresh(ctx, svc.Adapter().Name, err == nil, time.Since(start))
	}
	if err != nil {
		return err
	}

	address := svc.Adapter().Address

	quote, err := svc.LatestPrice(ctx)
	if err == nil {
		if cacheErr := s.cache.SetLatest(ctx, address, quote); cacheErr != nil {
			s.logger.Error("failed to cache latest quote", "adapter", svc.Adapter().Name, "error", cacheErr)
		}
	}

	now := s.config.Now()
	avg, err := svc.TWAP(ctx, now)
	switch {
	case errors.Is(err, twap.ErrInsufficientData):
		s.logger.Debug("not enough history for twap yet", "adapter", svc.Adapter().Name)
	case err != nil:
		s.logger.Error("failed to compute twap", "adapter", svc.Adapter().Name, "error", err)
	default:
		if cacheErr := s.cache.SetTWAP(ctx, address, avg, now); cacheErr != nil {
			s.logger.Error("failed to cache twap", "adapter", svc.Adapter().Name, "error", cacheErr)
		}
	}

	return nil
}
