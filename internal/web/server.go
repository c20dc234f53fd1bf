// Package web serves a small form for generating broker access tokens.
package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"broker-streaming/internal/interfaces"
	"broker-streaming/internal/logger"
	"broker-streaming/internal/provider"
	"broker-streaming/internal/types"
)

//go:embed templates/*.tmpl
var embeddedFS embed.FS

// HistoryLimit caps how many generated bundles are remembered
const HistoryLimit = 20

// AuthFactory builds the login ceremony for a provider
type AuthFactory func(name string, creds *types.CredentialSet) (interfaces.TokenGenerator, error)

// Entry is one remembered token generation
type Entry struct {
	Provider    string            `json:"provider"`
	GeneratedAt time.Time         `json:"generated_at"`
	Bundle      types.TokenBundle `json:"bundle"`
}

// Server holds the token history for the lifetime of the process
type Server struct {
	newAuth AuthFactory
	now     func() time.Time

	mu      sync.Mutex
	history []Entry
}

type Option func(*Server)

// WithAuthFactory replaces the provider registry lookup
func WithAuthFactory(f AuthFactory) Option {
	return func(s *Server) {
		if f != nil {
			s.newAuth = f
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		newAuth: func(name string, creds *types.CredentialSet) (interfaces.TokenGenerator, error) {
			return provider.NewAuthenticator(name, creds)
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// History returns remembered entries, newest first
func (s *Server) History() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.history...)
}

func (s *Server) remember(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append([]Entry{e}, s.history...)
	if len(s.history) > HistoryLimit {
		s.history = s.history[:HistoryLimit]
	}
}

// Router builds the gin engine serving the form
func (s *Server) Router() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	tmpl, err := template.New("web").ParseFS(embeddedFS, "templates/index.tmpl")
	if err != nil {
		return nil, err
	}
	router.SetHTMLTemplate(tmpl)

	router.GET("/", s.index)
	router.POST("/", s.generate)
	return router, nil
}

// Run serves on addr until ctx is cancelled
func (s *Server) Run(ctx context.Context, addr string) error {
	router, err := s.Router()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info(ctx, "Web server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// generated is the template view of a bundle
type generated struct {
	Provider     string
	GeneratedAt  string
	AccessToken  string
	RefreshToken string
	ExpiresIn    string
}

func view(e Entry) generated {
	g := generated{
		Provider:     e.Provider,
		GeneratedAt:  e.GeneratedAt.UTC().Format(time.RFC3339),
		AccessToken:  e.Bundle.AccessToken,
		RefreshToken: e.Bundle.RefreshToken,
	}
	if e.Bundle.ExpiresIn != nil {
		g.ExpiresIn = strconv.Itoa(*e.Bundle.ExpiresIn)
	}
	return g
}

func (s *Server) render(c *gin.Context, status int, errMsg string, gen *generated) {
	history := s.History()
	rows := make([]generated, 0, len(history))
	for _, e := range history {
		rows = append(rows, view(e))
	}
	c.HTML(status, "index.tmpl", gin.H{
		"Providers": provider.Names(),
		"History":   rows,
		"Error":     errMsg,
		"Generated": gen,
	})
}

func (s *Server) index(c *gin.Context) {
	s.render(c, http.StatusOK, "", nil)
}

func optional(c *gin.Context, key string) string {
	return strings.TrimSpace(c.PostForm(key))
}

func (s *Server) generate(c *gin.Context) {
	ctx := c.Request.Context()

	name := provider.Normalize(c.PostForm("provider"))
	if !provider.Supported(name) {
		s.render(c, http.StatusBadRequest, "Please choose a valid provider.", nil)
		return
	}

	creds := &types.CredentialSet{
		APIKey:      optional(c, "api_key"),
		APISecret:   optional(c, "api_secret"),
		ClientID:    optional(c, "client_id"),
		RedirectURI: optional(c, "redirect_uri"),
		Username:    optional(c, "username"),
		Password:    optional(c, "password"),
		TOTPSecret:  optional(c, "totp_secret"),
	}
	if creds.APIKey == "" || creds.APISecret == "" {
		s.render(c, http.StatusBadRequest, "API key and secret are required to generate tokens.", nil)
		return
	}

	bundle, err := s.token(ctx, name, creds)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, types.ErrConfig) {
			status = http.StatusBadRequest
		}
		s.render(c, status, "Failed to generate tokens: "+err.Error(), nil)
		return
	}

	entry := Entry{Provider: name, GeneratedAt: s.now(), Bundle: *bundle}
	s.remember(entry)
	gen := view(entry)
	s.render(c, http.StatusOK, "", &gen)
}

func (s *Server) token(ctx context.Context, name string, creds *types.CredentialSet) (*types.TokenBundle, error) {
	gen, err := s.newAuth(name, creds)
	if err != nil {
		return nil, err
	}
	return gen.GenerateToken(ctx)
}
