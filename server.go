package tabsync

import (
	"context"
	"errors"
	"net"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/tabsync/core"
	"pkt.systems/tabsync/httpapi"
	"pkt.systems/tabsync/internal/eventbus"
	"pkt.systems/tabsync/internal/mirror"
	"pkt.systems/tabsync/schema"
)

// Server composes the workspace store, the sync coordinator and the HTTP
// transport.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	Addr() string
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Service schema.ServiceConfig
	HTTP    httpapi.Config
}

// ServerDeps captures optional collaborators. A nil Mirror selects the
// filesystem mirror.
type ServerDeps struct {
	Mirror    core.Mirror
	EventSink core.EventSink
	Logger    pslog.Logger
}

// New constructs a tabsync server.
func New(cfg ServerConfig, deps ServerDeps) (Server, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg.Service)
	if err != nil {
		return nil, err
	}
	cfg.Service = normalized
	if len(cfg.Service.Roots) == 0 {
		return nil, errors.New("at least one workspace root is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	m := deps.Mirror
	if m == nil {
		m = mirror.New(mirror.Options{Debounce: cfg.Service.WatchDebounce})
	}

	store := core.NewStore(cfg.Service.Roots, m, logger)
	hub := httpapi.NewHub(cfg.HTTP.HubHistory, logger)
	bus := eventbus.New(logger)
	sink := composeSinks(deps.EventSink, hub, bus)

	coord, err := core.NewCoordinator(cfg.Service, core.CoordinatorDeps{
		Store:     store,
		Mirror:    m,
		EventSink: sink,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	httpSrv, err := httpapi.NewServer(cfg.HTTP, httpapi.Deps{
		Store:       store,
		Coordinator: coord,
		Hub:         hub,
		Bus:         bus,
		Tap:         sink,
	})
	if err != nil {
		return nil, err
	}
	return &compositeServer{
		cfg:     cfg,
		store:   store,
		coord:   coord,
		httpSrv: httpSrv,
	}, nil
}

type compositeServer struct {
	cfg     ServerConfig
	store   *core.Store
	coord   *core.Coordinator
	httpSrv *httpapi.Server
	logger  pslog.Logger

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	errCh    chan error
	done     chan struct{}
	listener net.Listener
	started  bool
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.mu.Unlock()

	log := pslog.Ctx(ctx)
	loaded := s.store.Load(ctx)
	log.Info(
		"server start",
		"roots", len(s.cfg.Service.Roots),
		"workspaces", loaded,
		"http_addr", s.cfg.HTTP.Addr,
		"http_base_path", s.cfg.HTTP.BasePath,
	)
	listener, err := net.Listen("tcp", s.cfg.HTTP.Addr)
	if err != nil {
		log.Error("http listen failed", "addr", s.cfg.HTTP.Addr, "err", err)
		return err
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		_ = listener.Close()
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 1)
	s.done = make(chan struct{})
	s.listener = listener
	s.logger = log
	s.started = true
	runCtx, errCh, done := s.ctx, s.errCh, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := httpapi.Serve(runCtx, listener, s.httpSrv.Handler()); err != nil {
			log.Error("http server failed", "err", err)
			errCh <- err
		}
	}()
	return nil
}

func (s *compositeServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.cfg.HTTP.Addr
	}
	return s.listener.Addr().String()
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested", "watches", s.coord.ActiveWatches())
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-done:
		log.Info("server stopped")
		return nil
	}
}
