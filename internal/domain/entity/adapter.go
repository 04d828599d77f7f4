package entity

import (
	"fmt"
	"time"
)

// AdapterKind identifies how an adapter derives its price.
type AdapterKind string

// Supported adapter kinds.
const (
	AdapterKindFixed  AdapterKind = "fixed"
	AdapterKindManual AdapterKind = "manual"
	AdapterKindTwap   AdapterKind = "twap"
)

// Valid reports whether k is a known adapter kind.
func (k AdapterKind) Valid() bool {
	switch k {
	case AdapterKindFixed, AdapterKindManual, AdapterKindTwap:
		return true
	}
	return false
}

// Adapter is a registered price-oracle adapter. The Address is derived
// deterministically by the factory from (deployer, salt, init params), so a
// record can be re-created from the same inputs on any environment.
type Adapter struct {
	Address      [20]byte // deterministic identity, primary key
	Name         string
	Kind         AdapterKind
	ChainID      int
	OwnerToken   [32]byte // hash of the owner capability token
	FeedID       [32]byte // upstream feed identifier; zero for fixed/manual
	Expo         int32    // price exponent, e.g. -8 for 1e-8 units
	FixedPrice   int64    // only meaningful for AdapterKindFixed
	TwapInterval uint32   // trailing window in seconds; twap kind only
	MaxPriceAge  uint32   // max accepted observation age in seconds
	Salt         [32]byte
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewAdapter creates a new Adapter entity with validation.
func NewAdapter(
	address [20]byte,
	name string,
	kind AdapterKind,
	chainID int,
	ownerToken [32]byte,
	feedID [32]byte,
	expo int32,
	fixedPrice int64,
	twapInterval uint32,
	maxPriceAge uint32,
	salt [32]byte,
) (*Adapter, error) {
	a := &Adapter{
		Address:      address,
		Name:         name,
		Kind:         kind,
		ChainID:      chainID,
		OwnerToken:   ownerToken,
		FeedID:       feedID,
		Expo:         expo,
		FixedPrice:   fixedPrice,
		TwapInterval: twapInterval,
		MaxPriceAge:  maxPriceAge,
		Salt:         salt,
		Enabled:      true,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) validate() error {
	if a.Address == ([20]byte{}) {
		return fmt.Errorf("address must not be zero")
	}
	if a.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("unknown adapter kind %q", a.Kind)
	}
	if a.ChainID <= 0 {
		return fmt.Errorf("chainID must be positive, got %d", a.ChainID)
	}
	switch a.Kind {
	case AdapterKindTwap:
		if a.FeedID == ([32]byte{}) {
			return fmt.Errorf("twap adapter requires a feed ID")
		}
		if a.TwapInterval == 0 {
			return fmt.Errorf("twapInterval must be positive")
		}
		if a.MaxPriceAge == 0 {
			return fmt.Errorf("maxPriceAge must be positive")
		}
	case AdapterKindManual:
		if a.MaxPriceAge == 0 {
			return fmt.Errorf("maxPriceAge must be positive")
		}
	case AdapterKindFixed:
		if a.FixedPrice <= 0 {
			return fmt.Errorf("fixedPrice must be positive, got %d", a.FixedPrice)
		}
	}
	return nil
}
