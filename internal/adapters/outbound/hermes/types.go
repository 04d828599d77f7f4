package hermes

import (
	"fmt"
	"strconv"

	"github.com/archon-research/paymaster-oracle/internal/domain/entity"
)

// latestPriceResponse is the response shape of /v2/updates/price/latest.
type latestPriceResponse struct {
	Binary binaryUpdate  `json:"binary"`
	Parsed []parsedPrice `json:"parsed"`
}

// binaryUpdate carries the signed update payload(s) for on-chain submission.
type binaryUpdate struct {
	Encoding string   `json:"encoding"`
	Data     []string `json:"data"`
}

// parsedPrice is one decoded feed entry in the response.
type parsedPrice struct {
	ID    string     `json:"id"`
	Price priceField `json:"price"`
}

// priceField mirrors Hermes' price object. Price and Conf are decimal
// strings on the wire.
type priceField struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

// toQuote converts a wire-format price into the normalized quote.
func (p priceField) toQuote() (entity.PriceQuote, error) {
	price, err := strconv.ParseInt(p.Price, 10, 64)
	if err != nil {
		return entity.PriceQuote{}, fmt.Errorf("parsing price %q: %w", p.Price, err)
	}
	conf, err := strconv.ParseUint(p.Conf, 10, 64)
	if err != nil {
		return entity.PriceQuote{}, fmt.Errorf("parsing conf %q: %w", p.Conf, err)
	}
	if p.PublishTime < 0 {
		return entity.PriceQuote{}, fmt.Errorf("negative publish time %d", p.PublishTime)
	}
	return entity.PriceQuote{
		Price:       price,
		Conf:        conf,
		Expo:        p.Expo,
		PublishTime: uint64(p.PublishTime),
	}, nil
}

// streamMessage is one message on the Hermes price stream. The SSE/WS
// stream reuses the latest-update shape per message.
type streamMessage struct {
	Binary binaryUpdate  `json:"binary"`
	Parsed []parsedPrice `json:"parsed"`
}

// hermesError is the error body Hermes returns on 4xx responses.
type hermesError struct {
	Message string `json:"message"`
}
