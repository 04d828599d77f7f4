// Package fixed_price implements the constant-price adapter: a passthrough
// that always reports the price fixed at deployment. Used for stable assets
// whose paymaster rate never moves.
package fixed_price

import (
	"context"
	"fmt"
	"time"

	"github.com/archon-research/paymaster-oracle/internal/domain/entity"
)

// Service serves a single fixed quote. It has no mutation surface and no
// history; every read succeeds.
type Service struct {
	adapter *entity.Adapter
	now     func() uint64
}

// NewService creates a fixed-price adapter service.
func NewService(adapter *entity.Adapter) (*Service, error) {
	if adapter == nil {
		return nil, fmt.Errorf("adapter cannot be nil")
	}
	if adapter.Kind != entity.AdapterKindFixed {
		return nil, fmt.Errorf("adapter %s has kind %q, want %q", adapter.Name, adapter.Kind, entity.AdapterKindFixed)
	}
	return &Service{
		adapter: adapter,
		now:     func() uint64 { return uint64(time.Now().Unix()) },
	}, nil
}

// Adapter returns the underlying registration record.
func (s *Service) Adapter() *entity.Adapter {
	return s.adapter
}

// LatestPrice returns the fixed quote stamped with the current time. The
// confidence interval of a constant is zero.
func (s *Service) LatestPrice(ctx context.Context) (entity.PriceQuote, error) {
	return entity.PriceQuote{
		Price:       s.adapter.FixedPrice,
		Conf:        0,
		Expo:        s.adapter.Expo,
		PublishTime: s.now(),
	}, nil
}
