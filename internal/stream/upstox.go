package stream

import (
	"strings"

	"github.com/google/uuid"

	"broker-streaming/internal/interfaces"
	"broker-streaming/internal/types"
)

const (
	UpstoxFeedURL = "wss://socket-v2.upstox.com/feed/market-data-streamer/v2"

	upstoxDefaultMode = "full"
)

type upstoxData struct {
	Mode           string   `json:"mode"`
	InstrumentKeys []string `json:"instrumentKeys"`
}

type upstoxSubscribeFrame struct {
	GUID   string     `json:"guid"`
	Method string     `json:"method"`
	Data   upstoxData `json:"data"`
}

// UpstoxSubscriber builds the Upstox "sub" frame with a fresh correlation id
type UpstoxSubscriber struct {
	// NewGUID defaults to uuid.NewString
	NewGUID func() string
}

var _ interfaces.Subscriber = UpstoxSubscriber{}

func (UpstoxSubscriber) Endpoint() string { return UpstoxFeedURL }

func (u UpstoxSubscriber) Subscribe(_ types.CredentialSet, cfg types.StreamConfig) ([]any, error) {
	newGUID := u.NewGUID
	if newGUID == nil {
		newGUID = uuid.NewString
	}
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = upstoxDefaultMode
	}

	keys := make([]string, 0, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		keys = append(keys, UpstoxInstrumentKey(inst))
	}

	return []any{upstoxSubscribeFrame{
		GUID:   newGUID(),
		Method: "sub",
		Data:   upstoxData{Mode: mode, InstrumentKeys: keys},
	}}, nil
}

// UpstoxInstrumentKey prefers the raw token, then EXCHANGE:SYMBOL, then the symbol
func UpstoxInstrumentKey(inst types.Instrument) string {
	switch {
	case inst.Token != "":
		return inst.Token
	case inst.Exchange != "":
		return inst.Exchange + ":" + inst.Symbol
	default:
		return inst.Symbol
	}
}
