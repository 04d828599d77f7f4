package outbound

import (
	"context"
	"encoding/hex"
)

// EventType represents the type of notification event.
type EventType string

// Event type constants.
const (
	EventTypePriceUpdated        EventType = "price_updated"
	EventTypeTwapIntervalUpdated EventType = "twap_interval_updated"
	EventTypeMaxPriceAgeUpdated  EventType = "max_price_age_updated"
	EventTypeAdapterDeployed     EventType = "adapter_deployed"
)

// Event is the interface all notification events implement.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType
	// AdapterAddress returns the hex-encoded adapter address the event
	// belongs to.
	AdapterAddress() string
}

// HexAddress renders a 20-byte adapter address as 0x-prefixed hex.
func HexAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

// PriceUpdatedEvent is published exactly once per window-advancing update.
// Ignored duplicate or out-of-order pushes never produce one.
type PriceUpdatedEvent struct {
	Adapter     [20]byte `json:"-"`
	Price       int64    `json:"price"`
	Conf        uint64   `json:"conf"`
	Expo        int32    `json:"expo"`
	PublishTime uint64   `json:"publishTime"`
}

func (e PriceUpdatedEvent) EventType() EventType   { return EventTypePriceUpdated }
func (e PriceUpdatedEvent) AdapterAddress() string { return HexAddress(e.Adapter) }

// TwapIntervalUpdatedEvent is published once per successful interval change.
type TwapIntervalUpdatedEvent struct {
	Adapter     [20]byte `json:"-"`
	NewInterval uint32   `json:"newInterval"`
}

func (e TwapIntervalUpdatedEvent) EventType() EventType   { return EventTypeTwapIntervalUpdated }
func (e TwapIntervalUpdatedEvent) AdapterAddress() string { return HexAddress(e.Adapter) }

// MaxPriceAgeUpdatedEvent is published once per successful staleness-bound
// change.
type MaxPriceAgeUpdatedEvent struct {
	Adapter [20]byte `json:"-"`
	NewAge  uint32   `json:"newAge"`
}

func (e MaxPriceAgeUpdatedEvent) EventType() EventType   { return EventTypeMaxPriceAgeUpdated }
func (e MaxPriceAgeUpdatedEvent) AdapterAddress() string { return HexAddress(e.Adapter) }

// AdapterDeployedEvent is published once per new factory registration.
// Idempotent re-deployments of an identical request do not emit.
type AdapterDeployedEvent struct {
	Adapter [20]byte `json:"-"`
	Kind    string   `json:"kind"`
	Name    string   `json:"name"`
	Salt    string   `json:"salt"`
}

func (e AdapterDeployedEvent) EventType() EventType   { return EventTypeAdapterDeployed }
func (e AdapterDeployedEvent) AdapterAddress() string { return HexAddress(e.Adapter) }

// EventSink publishes adapter notifications for downstream indexing.
// Emission is decoupled from the mutation itself; a failed publish is logged
// by the caller and never rolls back state.
type EventSink interface {
	// Publish publishes a notification event.
	Publish(ctx context.Context, event Event) error

	// Close closes the sink and releases any resources.
	Close() error
}
