package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"

	"broker-streaming/internal/interfaces"
	"broker-streaming/internal/logger"
	"broker-streaming/internal/provider"
	"broker-streaming/internal/sink"
	"broker-streaming/internal/store"
	"broker-streaming/internal/trace"
	"broker-streaming/internal/types"
)

// initializeSystem loads .env and sets up logging and tracing
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

// options is the parsed command line
type options struct {
	provider      string
	symbols       []string
	exchange      string
	useToken      bool
	generateToken bool
	configPath    string
	natsURL       string
	mode          string
	creds         types.CredentialSet
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("streamer", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: streamer [flags] <provider> [symbols...]")
		fs.PrintDefaults()
	}

	var o options
	fs.StringVar(&o.exchange, "exchange", "", "exchange segment to use for all symbols")
	fs.BoolVar(&o.useToken, "token", false, "treat symbols as instrument tokens")
	fs.BoolVar(&o.generateToken, "generate-token", false, "only generate the access token and exit")
	fs.StringVar(&o.creds.APIKey, "api-key", "", "API key for the provider")
	fs.StringVar(&o.creds.APISecret, "api-secret", "", "API secret for the provider")
	fs.StringVar(&o.creds.ClientID, "client-id", "", "client identifier when required (e.g. Dhan)")
	fs.StringVar(&o.creds.RedirectURI, "redirect-uri", "", "redirect URI for OAuth based providers")
	fs.StringVar(&o.creds.Username, "username", "", "login username")
	fs.StringVar(&o.creds.Password, "password", "", "login password")
	fs.StringVar(&o.creds.TOTPSecret, "totp-secret", "", "TOTP secret for MFA flows")
	fs.StringVar(&o.configPath, "config", "", "YAML profile with credentials, instruments and stream settings")
	fs.StringVar(&o.natsURL, "nats-url", "", "also publish messages to this NATS server")
	fs.StringVar(&o.mode, "mode", "", "feed mode, provider specific")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		o.provider = fs.Arg(0)
		o.symbols = fs.Args()[1:]
	}
	return &o, nil
}

// resolve merges the profile (or defaults and environment) with the flags.
// Non-empty flags win.
func resolve(o *options) (*store.Config, []types.Instrument, error) {
	var (
		cfg *store.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = store.LoadConfig(o.configPath)
		if err != nil {
			return nil, nil, err
		}
	} else {
		cfg = store.Default()
	}

	if o.provider != "" {
		cfg.Provider = provider.Normalize(o.provider)
	}
	if cfg.Provider == "" {
		return nil, nil, errors.New("a provider is required")
	}
	mergeCredentials(&cfg.Credentials, o.creds)
	if o.mode != "" {
		cfg.Stream.Mode = o.mode
	}
	if o.natsURL != "" {
		cfg.NATS.URL = o.natsURL
	}
	if o.exchange != "" {
		cfg.Exchange = o.exchange
	}

	instruments := cfg.Instruments
	if len(o.symbols) > 0 {
		instruments = store.BuildInstruments(o.symbols, cfg.Exchange, o.useToken)
	}
	return cfg, instruments, nil
}

func mergeCredentials(dst *types.CredentialSet, src types.CredentialSet) {
	set := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	set(&dst.APIKey, src.APIKey)
	set(&dst.APISecret, src.APISecret)
	set(&dst.ClientID, src.ClientID)
	set(&dst.RedirectURI, src.RedirectURI)
	set(&dst.Username, src.Username)
	set(&dst.Password, src.Password)
	set(&dst.TOTPSecret, src.TOTPSecret)
}

// buildSink prints to stdout and, when configured, publishes to NATS as well
func buildSink(ctx context.Context, cfg *store.Config, stdout io.Writer) (interfaces.MessageSink, error) {
	printer := sink.NewPrinter(stdout)
	if cfg.NATS.URL == "" {
		return printer, nil
	}
	pub, err := sink.ConnectNATS(ctx, cfg.NATS.URL, cfg.NATS.SubjectPrefix, cfg.Provider)
	if err != nil {
		return nil, err
	}
	return sink.Fanout{printer, pub}, nil
}
