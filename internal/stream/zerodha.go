package stream

import (
	"fmt"
	"strconv"
	"strings"

	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"broker-streaming/internal/interfaces"
	"broker-streaming/internal/types"
)

const ZerodhaFeedURL = "wss://ws.kite.trade/"

type kiteAuth struct {
	APIKey      string `json:"api_key"`
	AccessToken string `json:"access_token"`
}

// kiteFrame is the {"a": action, "v": value} shape of Kite ticker requests
type kiteFrame struct {
	Action string `json:"a"`
	Value  any    `json:"v"`
}

// ZerodhaSubscriber authenticates, subscribes and optionally sets a mode
type ZerodhaSubscriber struct{}

var _ interfaces.Subscriber = ZerodhaSubscriber{}

func (ZerodhaSubscriber) Endpoint() string { return ZerodhaFeedURL }

func (ZerodhaSubscriber) Subscribe(creds types.CredentialSet, cfg types.StreamConfig) ([]any, error) {
	tokens := make([]uint32, 0, len(cfg.Instruments))
	var missing []string
	for _, inst := range cfg.Instruments {
		token, err := strconv.ParseUint(strings.TrimSpace(inst.Token), 10, 32)
		if err != nil {
			missing = append(missing, fmt.Sprintf("token for %q", inst.Symbol))
			continue
		}
		tokens = append(tokens, uint32(token))
	}
	if len(missing) > 0 {
		return nil, &types.ConfigError{
			Provider: "zerodha",
			Missing:  missing,
			Reason:   "instruments need a numeric instrument token",
		}
	}

	frames := []any{
		kiteFrame{Action: "authenticate", Value: kiteAuth{APIKey: creds.APIKey, AccessToken: creds.AccessToken}},
		kiteFrame{Action: "subscribe", Value: tokens},
	}

	if cfg.Mode != "" {
		mode, err := kiteMode(cfg.Mode)
		if err != nil {
			return nil, err
		}
		frames = append(frames, kiteFrame{Action: "mode", Value: []any{mode, tokens}})
	}
	return frames, nil
}

func kiteMode(raw string) (kiteticker.Mode, error) {
	switch mode := kiteticker.Mode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case kiteticker.ModeLTP, kiteticker.ModeQuote, kiteticker.ModeFull:
		return mode, nil
	default:
		return "", &types.ConfigError{
			Provider: "zerodha",
			Reason:   fmt.Sprintf("unknown mode %q (want %s, %s or %s)", raw, kiteticker.ModeLTP, kiteticker.ModeQuote, kiteticker.ModeFull),
		}
	}
}
