package entity

import (
	"fmt"
	"time"
)

// PriceQuote is a normalized price observation from an upstream feed.
// Price is a fixed-point value scaled by 10^Expo; Conf is the feed's
// confidence interval in the same units.
type PriceQuote struct {
	Price       int64
	Conf        uint64
	Expo        int32
	PublishTime uint64 // unix seconds
}

// Age returns how old the quote is relative to now (unix seconds).
// A quote published in the future has age zero.
func (q PriceQuote) Age(now uint64) uint64 {
	if q.PublishTime >= now {
		return 0
	}
	return now - q.PublishTime
}

// StoredObservation is an accepted history entry persisted for warm starts
// and diagnostics.
type StoredObservation struct {
	ID             int64
	AdapterAddress [20]byte
	Price          int64
	PublishTime    uint64
	CreatedAt      time.Time
}

// NewStoredObservation creates a StoredObservation with validation.
func NewStoredObservation(adapterAddress [20]byte, price int64, publishTime uint64) (*StoredObservation, error) {
	o := &StoredObservation{
		AdapterAddress: adapterAddress,
		Price:          price,
		PublishTime:    publishTime,
		CreatedAt:      time.Now().UTC(),
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *StoredObservation) validate() error {
	if o.AdapterAddress == ([20]byte{}) {
		return fmt.Errorf("adapterAddress must not be zero")
	}
	if o.PublishTime == 0 {
		return fmt.Errorf("publishTime must be positive")
	}
	return nil
}
