// Package manual_price implements the manually pushed price adapter: the
// owner sets the value, everyone reads it. Serves as an override source when
// no live feed exists for an asset.
package manual_price

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/archon-research/paymaster-oracle/internal/domain/entity"
	"github.com/archon-research/paymaster-oracle/internal/pkg/twap"
	"github.com/archon-research/paymaster-oracle/internal/ports/outbound"
	"github.com/archon-research/paymaster-oracle/internal/services/shared"
	"github.com/archon-research/paymaster-oracle/internal/services/twap_adapter"
)

// Config holds configuration for a manual price adapter service.
type Config struct {
	Logger *slog.Logger

	// Now returns the current unix time in seconds; tests inject a clock.
	Now func() uint64
}

// Service holds an owner-pushed quote. Pushes must advance the publish
// time; reads apply the adapter's staleness bound so a forgotten override
// fails loudly instead of serving an ancient price.
type Service struct {
	adapter *entity.Adapter
	events  outbound.EventSink

	mu          sync.Mutex
	quote       entity.PriceQuote
	hasQuote    bool
	maxPriceAge uint32

	now    func() uint64
	logger *slog.Logger
}

// NewService creates a manual price adapter service.
func NewService(config Config, adapter *entity.Adapter, events outbound.EventSink) (*Service, error) {
	if adapter == nil {
		return nil, fmt.Errorf("adapter cannot be nil")
	}
	if adapter.Kind != entity.AdapterKindManual {
		return nil, fmt.Errorf("adapter %s has kind %q, want %q", adapter.Name, adapter.Kind, entity.AdapterKindManual)
	}
	if events == nil {
		return nil, fmt.Errorf("events cannot be nil")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = func() uint64 { return uint64(time.Now().Unix()) }
	}

	return &Service{
		adapter:     adapter,
		events:      events,
		maxPriceAge: adapter.MaxPriceAge,
		now:         config.Now,
		logger:      config.Logger.With("component", "manual-adapter", "adapter", adapter.Name),
	}, nil
}

// Adapter returns the underlying registration record.
func (s *Service) Adapter() *entity.Adapter {
	return s.adapter
}

// Set pushes a new price. Owner capability required. A publish time that
// does not advance the stored one is silently ignored, mirroring the
// history-buffer monotonicity rule, and emits nothing.
func (s *Service) Set(ctx context.Context, ownerToken string, price int64, conf uint64, publishTime uint64) error {
	if err := shared.Authorize(s.adapter.OwnerToken, ownerToken); err != nil {
		return err
	}
	if publishTime == 0 {
		return fmt.Errorf("publishTime must be positive")
	}

	s.mu.Lock()
	if s.hasQuote && publishTime <= s.quote.PublishTime {
		s.mu.Unlock()
		s.logger.Debug("ignored non-advancing manual push", "publishTime", publishTime)
		return nil
	}
	s.quote = entity.PriceQuote{Price: price, Conf: conf, Expo: s.adapter.Expo, PublishTime: publishTime}
	s.hasQuote = true
	s.mu.Unlock()

	if err := s.events.Publish(ctx, outbound.PriceUpdatedEvent{
		Adapter:     s.adapter.Address,
		Price:       price,
		Conf:        conf,
		Expo:        s.adapter.Expo,
		PublishTime: publishTime,
	}); err != nil {
		s.logger.Error("failed to publish event", "error", err)
	}

	s.logger.Info("manual price set", "price", price, "publishTime", publishTime)
	return nil
}

// LatestPrice returns the pushed quote. Fails with
// twap.ErrInsufficientData before the first push and with
// twap_adapter.ErrStalePrice once the quote is older than the staleness
// bound.
func (s *Service) LatestPrice(ctx context.Context) (entity.PriceQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasQuote {
		return entity.PriceQuote{}, twap.ErrInsufficientData
	}
	now := s.now()
	if age := s.quote.Age(now); age > uint64(s.maxPriceAge) {
		return entity.PriceQuote{}, fmt.Errorf("%w: published %d, now %d, age %d exceeds %d",
			twap_adapter.ErrStalePrice, s.quote.PublishTime, now, age, s.maxPriceAge)
	}
	return s.quote, nil
}

// SetMaxPriceAge changes the staleness bound. Owner capability required.
func (s *Service) SetMaxPriceAge(ctx context.Context, ownerToken string, age uint32) error {
	if err := shared.Authorize(s.adapter.OwnerToken, ownerToken); err != nil {
		return err
	}
	if age == 0 {
		return fmt.Errorf("maxPriceAge must be positive")
	}

	s.mu.Lock()
	s.maxPriceAge = age
	s.mu.Unlock()

	if err := s.events.Publish(ctx, outbound.MaxPriceAgeUpdatedEvent{
		Adapter: s.adapter.Address,
		NewAge:  age,
	}); err != nil {
		s.logger.Error("failed to publish event", "error", err)
	}

	s.logger.Info("max price age updated", "age", age)
	return nil
}
