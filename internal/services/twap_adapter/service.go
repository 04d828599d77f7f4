// Package twap_adapter implements the TWAP price adapter: it feeds a bounded
// observation history from an upstream push oracle and serves latest-price
// and time-weighted-average reads over it.
package twap_adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/archon-research/paymaster-oracle/internal/domain/entity"
	"github.com/archon-research/paymaster-oracle/internal/pkg/pricehistory"
	"github.com/archon-research/paymaster-oracle/internal/pkg/twap"
	"github.com/archon-research/paymaster-oracle/internal/ports/outbound"
	"github.com/archon-research/paymaster-oracle/internal/services/shared"
)

// ErrStalePrice is returned when the fetched observation is older than the
// adapter's staleness bound. The history is left untouched.
var ErrStalePrice = errors.New("stale price")

// Config holds configuration for a TWAP adapter service.
type Config struct {
	HistoryCapacity int
	Logger          *slog.Logger

	// Now returns the current unix time in seconds. Tests inject a fixed
	// clock; production leaves it nil.
	Now func() uint64
}

func configDefaults() Config {
	return Config{
		HistoryCapacity: pricehistory.MaxHistory,
		Logger:          slog.Default(),
		Now:             func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// Service is the TWAP engine for one adapter registration. A single mutex
// guards the whole fetch → staleness check → insert sequence as well as the
// config fields, so readers never observe a torn history buffer.
type Service struct {
	adapter *entity.Adapter
	feed    outbound.PriceFeed
	events  outbound.EventSink
	repo    outbound.AdapterRepository // optional; nil disables persistence

	mu           sync.Mutex
	history      *pricehistory.History
	twapInterval uint32
	maxPriceAge  uint32
	lastConf     uint64

	now    func() uint64
	logger *slog.Logger
}

// NewService creates a TWAP adapter service for a registered adapter.
// repo may be nil for ephemeral (in-memory only) operation.
func NewService(
	config Config,
	adapter *entity.Adapter,
	feed outbound.PriceFeed,
	events outbound.EventSink,
	repo outbound.AdapterRepository,
) (*Service, error) {
	if adapter == nil {
		return nil, fmt.Errorf("adapter cannot be nil")
	}
	if adapter.Kind != entity.AdapterKindTwap {
		return nil, fmt.Errorf("adapter %s has kind %q, want %q", adapter.Name, adapter.Kind, entity.AdapterKindTwap)
	}
	if feed == nil {
		return nil, fmt.Errorf("feed cannot be nil")
	}
	if events == nil {
		return nil, fmt.Errorf("events cannot be nil")
	}

	defaults := configDefaults()
	if config.HistoryCapacity == 0 {
		config.HistoryCapacity = defaults.HistoryCapacity
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}

	return &Service{
		adapter:      adapter,
		feed:         feed,
		events:       events,
		repo:         repo,
		history:      pricehistory.New(config.HistoryCapacity),
		twapInterval: adapter.TwapInterval,
		maxPriceAge:  adapter.MaxPriceAge,
		now:          config.Now,
		logger:       config.Logger.With("component", "twap-adapter", "adapter", adapter.Name),
	}, nil
}

// Adapter returns the underlying registration record.
func (s *Service) Adapter() *entity.Adapter {
	return s.adapter
}

// WarmStart reloads persisted observations into the history buffer, oldest
// first. Called once after a restart, before the refresh loop begins; a
// missing repo makes it a no-op.
func (s *Service) WarmStart(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.repo.GetRecentObservations(ctx, s.adapter.Address, s.history.Cap())
	if err != nil {
		return fmt.Errorf("loading stored observations: %w", err)
	}

	// Newest first from the repo; replay oldest first so Accept's
	// monotonicity check holds.
	loaded := 0
	for i := len(stored) - 1; i >= 0; i-- {
		if s.history.Accept(pricehistory.Observation{Price: stored[i].Price, Timestamp: stored[i].PublishTime}) {
			loaded++
		}
	}

	s.logger.Info("history warm start", "stored", len(stored), "loaded", loaded)
	return nil
}

// Update fetches the latest observation from the upstream feed, applies the
// staleness bound, and inserts it into the history. A PriceUpdated event is
// emitted only when the observation actually advanced the window; duplicate
// or out-of-order publishes are ignored without error. All validation
// happens before any mutation.
func (s *Service) Update(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	quote, err := s.feed.FetchLatest(ctx, s.adapter.FeedID)
	if err != nil {
		return fmt.Errorf("fetching feed: %w", err)
	}

	now := s.now()
	if age := quote.Age(now); age > uint64(s.maxPriceAge) {
		return fmt.Errorf("%w: published %d, now %d, age %d exceeds %d",
			ErrStalePrice, quote.PublishTime, now, age, s.maxPriceAge)
	}

	if !s.history.Accept(pricehistory.Observation{Price: quote.Price, Timestamp: quote.PublishTime}) {
		s.logger.Debug("ignored non-advancing observation", "publishTime", quote.PublishTime)
		return nil
	}
	s.lastConf = quote.Conf

	if s.repo != nil {
		obs, err := entity.NewStoredObservation(s.adapter.Address, quote.Price, quote.PublishTime)
		if err != nil {
			s.logger.Error("invalid observation entity", "error", err)
		} else if err := s.repo.InsertObservation(ctx, obs); err != nil {
			// Persistence is a mirror of the in-memory history, not the
			// source of truth; a failed insert only degrades warm starts.
			s.logger.Error("failed to persist observation", "error", err)
		}
	}

	s.publish(ctx, outbound.PriceUpdatedEvent{
		Adapter:     s.adapter.Address,
		Price:       quote.Price,
		Conf:        quote.Conf,
		Expo:        quote.Expo,
		PublishTime: quote.PublishTime,
	})

	s.logger.Info("price updated",
		"price", quote.Price,
		"publishTime", quote.PublishTime,
		"historyLen", s.history.Len())
	return nil
}

// RefreshFeed pushes signed update data to the upstream feed, paying the fee
// it quotes for the payload. Used when a refresh request carries update data
// for a feed that is behind.
func (s *Service) RefreshFeed(ctx context.Context, updateData [][]byte) error {
	if len(updateData) == 0 {
		return fmt.Errorf("update data cannot be empty")
	}

	fee, err := s.feed.UpdateFee(ctx, updateData)
	if err != nil {
		return fmt.Errorf("querying update fee: %w", err)
	}
	if err := s.feed.SubmitUpdate(ctx, updateData, fee); err != nil {
		return fmt.Errorf("submitting feed update: %w", err)
	}

	s.logger.Info("feed refreshed", "fee", fee.String(), "payloads", len(updateData))
	return nil
}

// LatestPrice returns the most recent accepted observation as a normalized
// quote. Fails with twap.ErrInsufficientData while the history is empty.
func (s *Service) LatestPrice(ctx context.Context) (entity.PriceQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obs, ok := s.history.Latest()
	if !ok {
		return entity.PriceQuote{}, twap.ErrInsufficientData
	}
	return entity.PriceQuote{
		Price:       obs.Price,
		Conf:        s.lastConf,
		Expo:        s.adapter.Expo,
		PublishTime: obs.Timestamp,
	}, nil
}

// TWAP computes the time-weighted average price over the trailing window
// ending at now. The result is computed fresh on every call; configuration
// changes take effect immediately.
func (s *Service) TWAP(ctx context.Context, now uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return twap.Compute(s.history.Snapshot(), now, s.twapInterval)
}

// Snapshot returns the current history window, oldest first. Diagnostics and
// tests only.
func (s *Service) Snapshot() []pricehistory.Observation {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.history.Snapshot()
}

// SetTwapInterval changes the trailing window. Owner capability required;
// takes effect for the next read.
func (s *Service) SetTwapInterval(ctx context.Context, ownerToken string, interval uint32) error {
	if err := shared.Authorize(s.adapter.OwnerToken, ownerToken); err != nil {
		return err
	}
	if interval == 0 {
		return fmt.Errorf("twapInterval must be positive")
	}

	s.mu.Lock()
	s.twapInterval = interval
	maxAge := s.maxPriceAge
	s.mu.Unlock()

	if err := s.persistConfig(ctx, interval, maxAge); err != nil {
		return err
	}

	s.publish(ctx, outbound.TwapIntervalUpdatedEvent{
		Adapter:     s.adapter.Address,
		NewInterval: interval,
	})
	s.logger.Info("twap interval updated", "interval", interval)
	return nil
}

// SetMaxPriceAge changes the staleness bound for incoming observations.
// Owner capability required; takes effect for the next update.
func (s *Service) SetMaxPriceAge(ctx context.Context, ownerToken string, age uint32) error {
	if err := shared.Authorize(s.adapter.OwnerToken, ownerToken); err != nil {
		return err
	}
	if age == 0 {
		return fmt.Errorf("maxPriceAge must be positive")
	}

	s.mu.Lock()
	s.maxPriceAge = age
	interval := s.twapInterval
	s.mu.Unlock()

	if err := s.persistConfig(ctx, interval, age); err != nil {
		return err
	}

	s.publish(ctx, outbound.MaxPriceAgeUpdatedEvent{
		Adapter: s.adapter.Address,
		NewAge:  age,
	})
	s.logger.Info("max price age updated", "age", age)
	return nil
}

func (s *Service) persistConfig(ctx context.Context, interval, age uint32) error {
	if s.repo == nil {
		return nil
	}
	if err := s.repo.UpdateAdapterConfig(ctx, s.adapter.Address, interval, age); err != nil {
		return fmt.Errorf("persisting adapter config: %w", err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, event outbound.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish event", "type", event.EventType(), "error", err)
	}
}
