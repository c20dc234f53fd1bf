package stream

import (
	"strings"

	"broker-streaming/internal/interfaces"
	"broker-streaming/internal/types"
)

const (
	DhanFeedURL = "wss://api-feed.dhan.co/v1/ws/marketData"

	dhanDefaultMode     = "FULL"
	dhanDefaultExchange = "NSE_EQ"
)

type dhanInstrument struct {
	ExchangeSegment      string `json:"exchangeSegment"`
	ExchangeInstrumentID string `json:"exchangeInstrumentID"`
}

type dhanSubscription struct {
	Mode        string           `json:"mode"`
	Instruments []dhanInstrument `json:"instruments"`
}

type dhanSubscribeFrame struct {
	Authorization string           `json:"authorization"`
	Subscription  dhanSubscription `json:"subscription"`
}

// DhanSubscriber builds the single DhanHQ feed subscription frame
type DhanSubscriber struct{}

var _ interfaces.Subscriber = DhanSubscriber{}

func (DhanSubscriber) Endpoint() string { return DhanFeedURL }

func (DhanSubscriber) Subscribe(creds types.CredentialSet, cfg types.StreamConfig) ([]any, error) {
	mode := strings.ToUpper(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = dhanDefaultMode
	}

	instruments := make([]dhanInstrument, 0, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		id := inst.Token
		if id == "" {
			id = inst.Symbol
		}
		segment := inst.Exchange
		if segment == "" {
			segment = dhanDefaultExchange
		}
		instruments = append(instruments, dhanInstrument{ExchangeSegment: segment, ExchangeInstrumentID: id})
	}

	return []any{dhanSubscribeFrame{
		Authorization: creds.AccessToken,
		Subscription:  dhanSubscription{Mode: mode, Instruments: instruments},
	}}, nil
}
