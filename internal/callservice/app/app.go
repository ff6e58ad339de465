// Package app wires the call service together and supervises its servers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sebas/callservice/internal/callservice/api"
	"github.com/sebas/callservice/internal/callservice/call"
	"github.com/sebas/callservice/internal/callservice/conference"
	"github.com/sebas/callservice/internal/callservice/config"
	"github.com/sebas/callservice/internal/callservice/control"
	"github.com/sebas/callservice/internal/callservice/events"
	"github.com/sebas/callservice/internal/callservice/ipc"
	"github.com/sebas/callservice/internal/callservice/listener"
	"github.com/sebas/callservice/internal/callservice/policy"
	"github.com/sebas/callservice/internal/callservice/registry"
	"github.com/sebas/callservice/internal/callservice/report"
	"github.com/sebas/callservice/internal/callservice/transport"
)

// ShutdownTimeout bounds graceful shutdown of the HTTP server and the
// final flush of published events.
const ShutdownTimeout = 5 * time.Second

// CallService is the assembled service.
type CallService struct {
	cfg *config.Config

	loop      *control.Loop
	calls     *registry.Registry
	env       *policy.StaticEnvironment
	hub       *listener.Hub
	manager   *control.Manager
	sim       *transport.Simulator
	sip       *transport.SIPAdapter // nil when SIP is disabled
	reports   *report.Hub           // nil when the HTTP address is empty
	publisher events.Publisher
	grpc      *ipc.Server
	http      *api.Server

	ready    chan struct{}
	grpcAddr string
	httpAddr string
}

// New assembles the service from cfg. Nothing listens until Run.
func New(cfg *config.Config) (*CallService, error) {
	s := &CallService{
		cfg:   cfg,
		loop:  control.NewLoop(cfg.EventQueueSize),
		calls: registry.New(registry.Limits{MaxLiveCalls: cfg.MaxLiveCalls, MaxRinging: cfg.MaxRinging, MaxDialing: cfg.MaxDialing}),
		env:   policy.NewStaticEnvironment(cfg.Radio.Slots, cfg.Radio.AirplaneMode),
		hub:   listener.NewHub(),
		sim:   transport.NewSimulator(transport.SimulatorConfig{AutoAnswer: cfg.Radio.AutoAnswer, AlertDelay: 500 * time.Millisecond, AnswerDelay: 2 * time.Second}),
		ready: make(chan struct{}),
	}

	confs := conference.NewEngines(cfg.CSConferenceLimit, cfg.IMSConferenceLimit)
	confs.SetStrict(cfg.StrictConference)

	router := transport.NewRouter(s.sim)
	if cfg.SIP.ListenAddr != "" {
		sipAdapter, err := newSIPAdapter(cfg.SIP)
		if err != nil {
			s.calls.Close()
			return nil, err
		}
		s.sip = sipAdapter
		router.Register(sipAdapter.CallType(), sipAdapter)
	}

	s.manager = control.New(control.Config{
		RingTimeout:          cfg.RingTimeout,
		TransportTimeout:     cfg.TransportTimeout,
		MaxTransportRequests: cfg.MaxTransportRequests,
		EmergencyNumbers:     cfg.EmergencyNumbers,
	}, control.Deps{
		Calls:       s.calls,
		Conferences: confs,
		Env:         s.env,
		Hub:         s.hub,
		Router:      router,
		Loop:        s.loop,
	})
	s.sim.SetReporter(s.manager)
	if s.sip != nil {
		s.sip.SetReporter(s.manager)
	}

	publishers := []events.Publisher{events.NewLogPublisher(slog.Default())}
	if cfg.HTTPAddr != "" {
		s.reports = report.NewHub()
		publishers = append(publishers, s.reports)
	}
	if cfg.NATSURL != "" {
		natsCfg := events.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.Name = cfg.NodeID
		nats, err := events.NewNATSPublisher(natsCfg, slog.Default())
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		publishers = append(publishers, nats)
	}
	s.publisher = events.NewFanout(publishers...)
	s.hub.AddOneObserver(events.NewReporter(events.NewBuilder(cfg.NodeID), s.publisher))

	s.grpc = ipc.NewServer(s.manager, ipc.NewAuthenticator(cfg.JWTSecret))
	if s.reports != nil {
		s.http = api.NewServer(s.manager, s.sim, s.env, s.reports)
	} else {
		s.http = api.NewServer(s.manager, s.sim, s.env, nil)
	}
	return s, nil
}

func newSIPAdapter(cfg config.SIPConfig) (*transport.SIPAdapter, error) {
	host, portStr, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid SIP listen address %q: %w", cfg.ListenAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid SIP port %q: %w", portStr, err)
	}
	advertise := cfg.AdvertiseAddr
	if advertise == "" {
		advertise = host
	}
	if advertise == "" || advertise == "0.0.0.0" {
		advertise = "127.0.0.1"
	}
	domain := cfg.Domain
	if domain == "" {
		domain = advertise
	}
	callType, ok := call.ParseCallType(cfg.CallType)
	if !ok {
		return nil, fmt.Errorf("invalid SIP call type %q", cfg.CallType)
	}
	return transport.NewSIPAdapter(transport.SIPConfig{
		Network:       cfg.Network,
		ListenAddr:    cfg.ListenAddr,
		AdvertiseAddr: advertise,
		Port:          port,
		MediaPort:     cfg.MediaPort,
		Domain:        domain,
		CallType:      callType,
	})
}

// Manager returns the control layer.
func (s *CallService) Manager() *control.Manager {
	return s.manager
}

// Environment returns the simulated radio environment.
func (s *CallService) Environment() *policy.StaticEnvironment {
	return s.env
}

// Simulator returns the transport that serves non-VoIP calls.
func (s *CallService) Simulator() *transport.Simulator {
	return s.sim
}

// Ready is closed once Run is serving.
func (s *CallService) Ready() <-chan struct{} {
	return s.ready
}

// Addrs returns the bound gRPC and HTTP addresses. Valid after Ready.
func (s *CallService) Addrs() (grpcAddr, httpAddr string) {
	return s.grpcAddr, s.httpAddr
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails.
func (s *CallService) Run(ctx context.Context) error {
	grpcLis, err := net.Listen("tcp", s.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.GRPCAddr, err)
	}
	s.grpcAddr = grpcLis.Addr().String()
	var httpLis net.Listener
	if s.cfg.HTTPAddr != "" {
		httpLis, err = net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			grpcLis.Close()
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.HTTPAddr, err)
		}
		s.httpAddr = httpLis.Addr().String()
	}

	// The loop outlives the servers so shutdown can still run loop tasks.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan error, 1)
	go func() { loopDone <- s.loop.Run(loopCtx) }()
	defer func() {
		stopLoop()
		<-loopDone
	}()
	select {
	case <-s.loop.Started():
	case err := <-loopDone:
		grpcLis.Close()
		if httpLis != nil {
			httpLis.Close()
		}
		loopDone <- err
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.grpc.Serve(grpcLis)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.grpc.Stop()
		return nil
	})

	if httpLis != nil {
		g.Go(func() error {
			return s.reports.Run(gctx)
		})
		g.Go(func() error {
			return s.http.Serve(httpLis)
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
			defer cancel()
			return s.http.Shutdown(shutdownCtx)
		})
	}

	if s.sip != nil {
		g.Go(func() error {
			return s.sip.Start(gctx)
		})
	}

	slog.Info("[App] Call service running",
		"node_id", s.cfg.NodeID,
		"grpc", s.grpcAddr,
		"http", s.httpAddr,
		"sip", s.cfg.SIP.ListenAddr,
	)
	close(s.ready)

	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if cerr := s.manager.Close(shutdownCtx); cerr != nil {
		slog.Warn("[App] Failed to stop ring timers", "error", cerr)
	}
	if ferr := s.publisher.Flush(shutdownCtx); ferr != nil {
		slog.Warn("[App] Failed to flush events", "error", ferr)
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases resources held outside Run.
func (s *CallService) Close() error {
	var errs []error
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	if s.sip != nil {
		errs = append(errs, s.sip.Close())
	}
	s.calls.Close()
	return errors.Join(errs...)
}
