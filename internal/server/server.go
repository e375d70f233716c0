package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"endpoint-dispatcher/internal/echo"
	"endpoint-dispatcher/internal/route"
	"endpoint-dispatcher/internal/static"
	"endpoint-dispatcher/internal/store"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

const (
	// DefaultAddr is the listen address when Options.Addr is empty.
	DefaultAddr = "0.0.0.0:8080"
	// DefaultRoot is the document root when Options.Root is empty.
	DefaultRoot = "./www"
	// DefaultMaxConns caps concurrent connections when Options.MaxConns is 0.
	DefaultMaxConns = 10

	// JSONEchoPrefix mounts the JSON echo endpoint.
	JSONEchoPrefix = "/json-echo/"
	// TextEchoPrefix mounts the plain text echo endpoint.
	TextEchoPrefix = "/text-echo/"
	// LegacyEchoPrefix is the older name of the JSON echo endpoint.
	LegacyEchoPrefix = "/pruebas/"
)

// Options configures a Server. Zero values fall back to the defaults above.
type Options struct {
	Addr         string
	Root         string
	MaxConns     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Journal receives one record per request when set.
	Journal store.Store
}

// Server wires the route table, middleware and listener together.
type Server struct {
	opts    Options
	logger  *zap.Logger
	table   *route.Router
	router  *mux.Router
	server  *http.Server
	journal store.Store

	// journalWG tracks journal writes still in flight.
	journalWG sync.WaitGroup
}

// NewServer builds a Server from opts. Nothing listens until Start or Serve.
func NewServer(opts Options, logger *zap.Logger) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.Root == "" {
		opts.Root = DefaultRoot
	}
	if opts.MaxConns == 0 {
		opts.MaxConns = DefaultMaxConns
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 15 * time.Second
	}

	s := &Server{
		opts:    opts,
		logger:  logger,
		table:   route.New(),
		journal: opts.Journal,
	}
	s.routes()

	s.server = &http.Server{
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		ErrorLog:     zap.NewStdLog(logger.Named("http")),
	}
	s.build()
	return s
}

func (s *Server) routes() {
	s.table.Handle(route.Root, static.New(s.opts.Root, s.logger.Named("static")))
	s.table.Handle(JSONEchoPrefix, echo.NewJSON(s.logger.Named("json-echo")))
	s.table.Handle(TextEchoPrefix, echo.NewText(s.logger.Named("text-echo")))
	s.table.Handle(LegacyEchoPrefix, echo.NewJSON(s.logger.Named("json-echo")))
}

// build mounts the route table and the middleware chain.
func (s *Server) build() {
	s.router = s.table.Build()
	s.router.Use(s.requestID, s.instrument, s.recoverer)
	s.server.Handler = s.router
}

// Handler is the full request pipeline, usable without a listener.
func (s *Server) Handler() http.Handler { return s.router }

// Listen opens the TCP listener, capped at MaxConns concurrent connections.
func (s *Server) Listen() (net.Listener, error) {
	l, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return nil, err
	}
	if s.opts.MaxConns > 0 {
		l = netutil.LimitListener(l, s.opts.MaxConns)
	}
	return l, nil
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	l, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections on l. It returns nil after a graceful Stop.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("Web server listening",
		zap.String("addr", l.Addr().String()),
		zap.String("root", s.opts.Root),
		zap.Int("max_conns", s.opts.MaxConns))

	err := s.server.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down, then waits for pending journal writes so the
// journal can be closed safely afterwards.
func (s *Server) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.journalWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
		return errors.Join(err, fmt.Errorf("journal writes still pending: %w", ctx.Err()))
	}
}
