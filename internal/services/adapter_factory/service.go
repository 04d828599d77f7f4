// Package adapter_factory registers price adapters at deterministic
// addresses and routes directory operations to the right adapter service.
package adapter_factory

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/archon-research/paymaster-oracle/internal/domain/entity"
	"github.com/archon-research/paymaster-oracle/internal/ports/inbound"
	"github.com/archon-research/paymaster-oracle/internal/ports/outbound"
	"github.com/archon-research/paymaster-oracle/internal/services/fixed_price"
	"github.com/archon-research/paymaster-oracle/internal/services/manual_price"
	"github.com/archon-research/paymaster-oracle/internal/services/shared"
	"github.com/archon-research/paymaster-oracle/internal/services/twap_adapter"
)

// ErrKindMismatch is returned when an operation is routed to an adapter of
// the wrong kind, such as asking a fixed adapter for a TWAP.
var ErrKindMismatch = errors.New("operation not supported by adapter kind")

// ErrAddressCollision is returned when a derived address is already
// registered with different parameters.
var ErrAddressCollision = errors.New("address already registered with different parameters")

// Config holds configuration for the adapter factory.
type Config struct {
	// Deployer is mixed into every derived address so two deployments of
	// the same registry never collide.
	Deployer [20]byte

	// HistoryCapacity bounds the in-memory price history of TWAP adapters.
	HistoryCapacity int

	Logger *slog.Logger

	// Now returns the current unix time in seconds; tests inject a clock.
	Now func() uint64
}

// handle pairs a registration record with its running service. Exactly one
// of the service fields is set, matching the adapter kind.
type handle struct {
	adapter *entity.Adapter
	twap    *twap_adapter.Service
	manual  *manual_price.Service
	fixed   *fixed_price.Service
}

// Service is the adapter factory and directory. Addresses are derived in
// the CREATE2 discipline from (deployer, salt, init params), so the same
// deployment request always lands on the same address and re-deploying is
// idempotent.
type Service struct {
	config Config
	repo   outbound.AdapterRepository
	feed   outbound.PriceFeed
	events outbound.EventSink

	mu      sync.RWMutex
	handles map[[20]byte]*handle

	logger *slog.Logger
}

var _ inbound.AdapterDirectory = (*Service)(nil)

// NewService creates an adapter factory service.
func NewService(config Config, repo outbound.AdapterRepository, feed outbound.PriceFeed, events outbound.EventSink) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("repo cannot be nil")
	}
	if feed == nil {
		return nil, fmt.Errorf("feed cannot be nil")
	}
	if events == nil {
		return nil, fmt.Errorf("events cannot be nil")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Service{
		config:  config,
		repo:    repo,
		feed:    feed,
		events:  events,
		handles: make(map[[20]byte]*handle),
		logger:  config.Logger.With("component", "adapter-factory"),
	}, nil
}

// DeriveAddress computes the deterministic address a deployment request
// would land on without registering anything.
func (s *Service) DeriveAddress(req inbound.DeployRequest) [20]byte {
	return deriveAddress(s.config.Deployer, req)
}

func deriveAddress(deployer [20]byte, req inbound.DeployRequest) [20]byte {
	// The encoding stands in for CREATE2 init code: every parameter that
	// defines the adapter's behavior feeds the hash, so distinct configs
	// can never share an address.
	var buf bytes.Buffer
	buf.WriteString(string(req.Kind))
	buf.WriteByte(0)
	buf.WriteString(req.Name)
	buf.WriteByte(0)
	binary.Write(&buf, binary.BigEndian, int64(req.ChainID))
	tokenHash := shared.HashToken(req.OwnerToken)
	buf.Write(tokenHash[:])
	buf.Write(req.FeedID[:])
	binary.Write(&buf, binary.BigEndian, req.Expo)
	binary.Write(&buf, binary.BigEndian, req.FixedPrice)
	binary.Write(&buf, binary.BigEndian, req.TwapInterval)
	binary.Write(&buf, binary.BigEndian, req.MaxPriceAge)

	derived := crypto.CreateAddress2(common.BytesToAddress(deployer[:]), req.Salt, crypto.Keccak256(buf.Bytes()))
	return derived
}

// Deploy registers a new adapter. The address is derived from the request;
// re-deploying an identical request returns the existing registration
// without a second event.
func (s *Service) Deploy(ctx context.Context, req inbound.DeployRequest) (*entity.Adapter, error) {
	address := deriveAddress(s.config.Deployer, req)

	adapter, err := entity.NewAdapter(address, req.Name, req.Kind, req.ChainID,
		shared.HashToken(req.OwnerToken), req.FeedID, req.Expo, req.FixedPrice,
		req.TwapInterval, req.MaxPriceAge, req.Salt)
	if err != nil {
		return nil, fmt.Errorf("invalid deploy request: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.lookupLocked(ctx, address)
	switch {
	case err == nil:
		if !sameRegistration(existing.adapter, adapter) {
			return nil, fmt.Errorf("%w: %s", ErrAddressCollision, outbound.HexAddress(address))
		}
		s.logger.Debug("deploy is idempotent, returning existing adapter", "address", outbound.HexAddress(address))
		return existing.adapter, nil
	case !errors.Is(err, outbound.ErrAdapterNotFound):
		return nil, fmt.Errorf("failed to check existing registration: %w", err)
	}

	if err := s.repo.InsertAdapter(ctx, adapter); err != nil {
		return nil, fmt.Errorf("failed to persist adapter: %w", err)
	}
	h, err := s.buildLocked(adapter)
	if err != nil {
		return nil, err
	}
	s.handles[address] = h

	if err := s.events.Publish(ctx, outbound.AdapterDeployedEvent{
		Adapter: address,
		Kind:    string(adapter.Kind),
		Name:    adapter.Name,
		Salt:    fmt.Sprintf("%x", adapter.Salt),
	}); err != nil {
		s.logger.Error("failed to publish event", "error", err)
	}

	s.logger.Info("adapter deployed",
		"address", outbound.HexAddress(address), "kind", adapter.Kind, "name", adapter.Name)
	return adapter, nil
}

// LoadEnabled builds services for every enabled adapter in storage and
// warm-starts the TWAP ones from their persisted observations. Called once
// at startup.
func (s *Service) LoadEnabled(ctx context.Context) error {
	adapters, err := s.repo.ListEnabledAdapters(ctx)
	if err != nil {
		return fmt.Errorf("failed to list adapters: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, adapter := range adapters {
		if _, ok := s.handles[adapter.Address]; ok {
			continue
		}
		h, err := s.buildLocked(adapter)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if h.twap != nil {
			if err := h.twap.WarmStart(ctx); err != nil {
				s.logger.Error("warm start failed", "adapter", adapter.Name, "error", err)
			}
		}
		s.handles[adapter.Address] = h
	}

	s.logger.Info("adapters loaded", "count", len(s.handles))
	return errors.Join(errs...)
}

// TwapServices returns the running TWAP adapter services, for the refresh
// worker's periodic loop.
func (s *Service) TwapServices() []*twap_adapter.Service {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*twap_adapter.Service
	for _, h := range s.handles {
		if h.twap != nil {
			out = append(out, h.twap)
		}
	}
	return out
}

// ListAdapters returns all enabled adapter registrations.
func (s *Service) ListAdapters(ctx context.Context) ([]*entity.Adapter, error) {
	return s.repo.ListEnabledAdapters(ctx)
}

// DescribeAdapter returns one adapter registration.
func (s *Service) DescribeAdapter(ctx context.Context, address [20]byte) (*entity.Adapter, error) {
	h, err := s.handleFor(ctx, address)
	if err != nil {
		return nil, err
	}
	return h.adapter, nil
}

// LatestPrice returns the newest normalized quote for an adapter of any
// kind.
func (s *Service) LatestPrice(ctx context.Context, address [20]byte) (entity.PriceQuote, error) {
	h, err := s.handleFor(ctx, address)
	if err != nil {
		return entity.PriceQuote{}, err
	}
	switch {
	case h.twap != nil:
		return h.twap.LatestPrice(ctx)
	case h.manual != nil:
		return h.manual.LatestPrice(ctx)
	default:
		return h.fixed.LatestPrice(ctx)
	}
}

// TWAP returns the time-weighted average price of a TWAP adapter.
func (s *Service) TWAP(ctx context.Context, address [20]byte, now uint64) (int64, error) {
	h, err := s.handleFor(ctx, address)
	if err != nil {
		return 0, err
	}
	if h.twap == nil {
		return 0, fmt.Errorf("%w: %s is %s", ErrKindMismatch, h.adapter.Name, h.adapter.Kind)
	}
	return h.twap.TWAP(ctx, now)
}

// SetManualPrice pushes a new value to a manual adapter.
func (s *Service) SetManualPrice(ctx context.Context, address [20]byte, ownerToken string, price int64, conf uint64, publishTime uint64) error {
	h, err := s.handleFor(ctx, address)
	if err != nil {
		return err
	}
	if h.manual == nil {
		return fmt.Errorf("%w: %s is %s", ErrKindMismatch, h.adapter.Name, h.adapter.Kind)
	}
	return h.manual.Set(ctx, ownerToken, price, conf, publishTime)
}

// SetTwapInterval changes the trailing window of a TWAP adapter.
func (s *Service) SetTwapInterval(ctx context.Context, address [20]byte, ownerToken string, interval uint32) error {
	h, err := s.handleFor(ctx, address)
	if err != nil {
		return err
	}
	if h.twap == nil {
		return fmt.Errorf("%w: %s is %s", ErrKindMismatch, h.adapter.Name, h.adapter.Kind)
	}
	return h.twap.SetTwapInterval(ctx, ownerToken, interval)
}

// SetMaxPriceAge changes the staleness bound of a TWAP or manual adapter.
func (s *Service) SetMaxPriceAge(ctx context.Context, address [20]byte, ownerToken string, age uint32) error {
	h, err := s.handleFor(ctx, address)
	if err != nil {
		return err
	}
	switch {
	case h.twap != nil:
		return h.twap.SetMaxPriceAge(ctx, ownerToken, age)
	case h.manual != nil:
		return h.manual.SetMaxPriceAge(ctx, ownerToken, age)
	default:
		return fmt.Errorf("%w: %s is %s", ErrKindMismatch, h.adapter.Name, h.adapter.Kind)
	}
}

// handleFor returns the running service for an address, building it from
// storage on first use.
func (s *Service) handleFor(ctx context.Context, address [20]byte) (*handle, error) {
	s.mu.RLock()
	h, ok := s.handles[address]
	s.mu.RUnlock()
	if ok {
		return h, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(ctx, address)
}

// lookupLocked looks up a handle, falling back to storage and caching the
// built service. Caller holds s.mu.
func (s *Service) lookupLocked(ctx context.Context, address [20]byte) (*handle, error) {
	if h, ok := s.handles[address]; ok {
		return h, nil
	}

	adapter, err := s.repo.GetAdapter(ctx, address)
	if err != nil {
		return nil, err
	}
	h, err := s.buildLocked(adapter)
	if err != nil {
		return nil, err
	}
	if h.twap != nil {
		if err := h.twap.WarmStart(ctx); err != nil {
			s.logger.Error("warm start failed", "adapter", adapter.Name, "error", err)
		}
	}
	s.handles[address] = h
	return h, nil
}

// buildLocked constructs the service matching an adapter's kind. Caller
// holds s.mu.
func (s *Service) buildLocked(adapter *entity.Adapter) (*handle, error) {
	h := &handle{adapter: adapter}

	switch adapter.Kind {
	case entity.AdapterKindTwap:
		svc, err := twap_adapter.NewService(twap_adapter.Config{
			HistoryCapacity: s.config.HistoryCapacity,
			Logger:          s.config.Logger,
			Now:             s.config.Now,
		}, adapter, s.feed, s.events, s.repo)
		if err != nil {
			return nil, fmt.Errorf("failed to build twap adapter %s: %w", adapter.Name, err)
		}
		h.twap = svc
	case entity.AdapterKindManual:
		svc, err := manual_price.NewService(manual_price.Config{
			Logger: s.config.Logger,
			Now:    s.config.Now,
		}, adapter, s.events)
		if err != nil {
			return nil, fmt.Errorf("failed to build manual adapter %s: %w", adapter.Name, err)
		}
		h.manual = svc
	case entity.AdapterKindFixed:
		svc, err := fixed_price.NewService(adapter)
		if err != nil {
			return nil, fmt.Errorf("failed to build fixed adapter %s: %w", adapter.Name, err)
		}
		h.fixed = svc
	default:
		return nil, fmt.Errorf("unknown adapter kind %q", adapter.Kind)
	}

	return h, nil
}

func sameRegistration(a, b *entity.Adapter) bool {
	return a.Name == b.Name &&
		a.Kind == b.Kind &&
		a.ChainID == b.ChainID &&
		a.OwnerToken == b.OwnerToken &&
		a.FeedID == b.FeedID &&
		a.Expo == b.Expo &&
		a.FixedPrice == b.FixedPrice &&
		a.TwapInterval == b.TwapInterval &&
		a.MaxPriceAge == b.MaxPriceAge &&
		a.Salt == b.Salt
	// Enabled and timestamps are lifecycle state, not identity.
}
