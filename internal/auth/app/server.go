package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/keyfold/keyfold/internal/auth/api/web"
	"github.com/keyfold/keyfold/internal/auth/ceremony"
	"github.com/keyfold/keyfold/internal/auth/passkey"
	"github.com/keyfold/keyfold/internal/auth/session"
	authsqlite "github.com/keyfold/keyfold/internal/auth/storage/sqlite"
	"github.com/keyfold/keyfold/internal/platform/logging"
)

// Server hosts the authentication HTTP API.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *authsqlite.Store
	logger     *logging.Logger
}

// New creates a configured server listening on addr.
func New(addr, dbPath string, logger *logging.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	store, err := openStore(dbPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	sessionConfig := session.LoadConfigFromEnv()
	hashKey, blockKey, err := sessionConfig.Keys()
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}
	codec := session.NewCodec(hashKey, blockKey)

	ceremonies, err := ceremony.NewService(passkey.LoadConfigFromEnv(), store, store)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	handler := web.NewHandler(ceremonies, codec, sessionConfig, logger)
	return &Server{
		listener:   listener,
		httpServer: &http.Server{Handler: handler.Routes()},
		store:      store,
		logger:     logger,
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a server until the context ends.
func Run(ctx context.Context, addr, dbPath string, logger *logging.Logger) error {
	server, err := New(addr, dbPath, logger)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.closeStore()

	s.logger.Info("auth server listening", "addr", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		<-serveErr
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

func openStore(path string) (*authsqlite.Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join("data", "keyfold.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := authsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("close store", "error", err)
	}
}
