package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/corpchat/internal/attachments"
	"github.com/Tyrowin/corpchat/internal/auth"
	"github.com/Tyrowin/corpchat/internal/groups"
	"github.com/Tyrowin/corpchat/internal/history"
	"github.com/Tyrowin/corpchat/internal/hub"
	"github.com/Tyrowin/corpchat/internal/identity"
	"github.com/Tyrowin/corpchat/internal/router"
	"github.com/gorilla/websocket"
)

// Server owns every component of the service and exposes them over HTTP and
// the live channel.
type Server struct {
	cfg      Config
	log      *slog.Logger
	accounts *identity.Store
	groups   *groups.Directory
	history  *history.Log
	registry *hub.Registry
	router   *router.Router
	tokens   *auth.Tokens
	hasher   *auth.Hasher
	files    *attachments.DiskStore
	origins  originPolicy
	upgrader websocket.Upgrader
	started  time.Time

	// lifecycle guards closing and orders pumps.Add before pumps.Wait.
	lifecycle sync.Mutex
	closing   bool
	pumps     sync.WaitGroup
}

// New builds the in-memory stores, the registry and the router from cfg.
func New(cfg Config, log *slog.Logger) (*Server, error) {
	cfg = sanitizeConfig(cfg)

	files, err := attachments.NewDiskStore(cfg.UploadDir, cfg.MaxUploadSize, log)
	if err != nil {
		return nil, fmt.Errorf("attachment store: %w", err)
	}

	accounts := identity.NewStore(log)
	directory := groups.NewDirectory(accounts, log)
	messages := history.NewLog(cfg.MessageLogCapacity, log)
	registry := hub.NewRegistry(log)

	s := &Server{
		cfg:      cfg,
		log:      log,
		accounts: accounts,
		groups:   directory,
		history:  messages,
		registry: registry,
		router:   router.New(accounts, directory, messages, registry, log, cfg.HistoryDefaultLimit),
		tokens:   auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL),
		hasher:   auth.NewHasher(cfg.BcryptCost),
		files:    files,
		origins:  newOriginPolicy(cfg.AllowedOrigins, log),
		started:  time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

// Config returns the sanitized configuration the server runs with.
func (s *Server) Config() Config {
	return s.cfg
}

// attach registers client for userID and starts its pumps. Once CloseSessions
// has begun it refuses, and the caller must close the connection.
func (s *Server) attach(userID string, client *Client) bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.closing {
		return false
	}
	s.registry.Register(userID, client)
	client.run()
	return true
}

// CloseSessions closes every live session and waits for their pumps to exit,
// or for ctx to expire. Connections upgraded afterwards are refused.
func (s *Server) CloseSessions(ctx context.Context) error {
	s.lifecycle.Lock()
	s.closing = true
	s.lifecycle.Unlock()

	closed := s.registry.CloseAll()
	s.log.Info("live sessions closed", "count", closed)

	done := make(chan struct{})
	go func() {
		s.pumps.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for session pumps: %w", ctx.Err())
	}
}
