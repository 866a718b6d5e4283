// Package web is an example HTTP front-end for the actor runtime. It
// registers actors as route targets: request payloads are decoded into
// immutable records, turned into message closures, and posted through an
// ingress pump that runs on the goroutine owning the StartContext, so every
// post observes the runtime's context-confinement discipline. Responses
// travel back through futures and are encoded as JSON.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/sync/errgroup"

	"github.com/troupelabs/troupe/actor"
)

// serverConfig holds the optional knobs collected from ServerOptions.
type serverConfig struct {
	// readHeaderTimeout bounds how long a client may take to send its
	// request headers.
	readHeaderTimeout fn.Option[time.Duration]

	// shutdownGrace bounds the drain of in-flight requests once the
	// server stops.
	shutdownGrace fn.Option[time.Duration]

	// ingressDepth is the capacity of the ingress queue between HTTP
	// handler goroutines and the pump.
	ingressDepth int
}

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*serverConfig)

// WithReadHeaderTimeout overrides the default header read timeout.
func WithReadHeaderTimeout(d time.Duration) ServerOption {
	return func(cfg *serverConfig) {
		cfg.readHeaderTimeout = fn.Some(d)
	}
}

// WithShutdownGrace overrides the default drain period for in-flight
// requests at shutdown.
func WithShutdownGrace(d time.Duration) ServerOption {
	return func(cfg *serverConfig) {
		cfg.shutdownGrace = fn.Some(d)
	}
}

// WithIngressDepth overrides the capacity of the ingress queue.
func WithIngressDepth(n int) ServerOption {
	return func(cfg *serverConfig) {
		cfg.ingressDepth = n
	}
}

// Server maps HTTP routes onto actors. Routes are registered before Serve;
// Serve runs the ingress pump on the calling goroutine and the HTTP
// listener on background goroutines.
type Server struct {
	// addr is the listen address handed to net.Listen.
	addr string

	// mux holds the registered routes.
	mux *http.ServeMux

	// ingress carries bind closures from handler goroutines to the pump
	// goroutine that owns the StartContext.
	ingress chan func(actor.PostContext)

	// quit is closed when the pump stops accepting binds, releasing any
	// handler blocked on ingress.
	quit chan struct{}

	// ready is closed once the listener is bound; see Ready.
	ready chan struct{}

	// listenAddr holds the bound address as a string once ready.
	listenAddr atomic.Value

	// readHeaderTimeout and shutdownGrace are resolved config values.
	readHeaderTimeout time.Duration
	shutdownGrace     time.Duration
}

// NewServer creates a server that will bind to addr. A port of zero
// selects an ephemeral port, observable through Addr once Ready fires.
func NewServer(addr string, opts ...ServerOption) *Server {
	cfg := serverConfig{
		ingressDepth: 64,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		addr:    addr,
		mux:     http.NewServeMux(),
		ingress: make(chan func(actor.PostContext), cfg.ingressDepth),
		quit:    make(chan struct{}),
		ready:   make(chan struct{}),

		readHeaderTimeout: cfg.readHeaderTimeout.UnwrapOr(
			5 * time.Second,
		),
		shutdownGrace: cfg.shutdownGrace.UnwrapOr(5 * time.Second),
	}

	s.mux.HandleFunc("GET /healthz", func(
		w http.ResponseWriter, r *http.Request,
	) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"status":"ok"}`)
	})

	return s
}

// Ready returns a channel closed once the listener is bound and Addr is
// valid.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listen address. Only valid after Ready fires.
func (s *Server) Addr() string {
	addr, _ := s.listenAddr.Load().(string)
	return addr
}

// Route registers an HTTP route backed by an actor. Each request's JSON
// body is decoded into a fresh Req record (an empty body decodes to the
// zero value, accommodating GET routes), handed to the target behavior via
// a message closure, and the Resp answer is encoded back as JSON.
//
// The handler runs on an arbitrary HTTP goroutine, so it never posts
// directly: it enqueues a bind closure that the pump executes on the
// goroutine owning the StartContext.
func Route[B any, Req any, Resp any](s *Server, pattern string,
	target *actor.Actor[B], handle func(B, Req) (Resp, error),
) {
	s.mux.HandleFunc(pattern, func(
		w http.ResponseWriter, r *http.Request,
	) {
		requestID := uuid.NewString()

		var req Req
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil &&
			!errors.Is(err, io.EOF) {

			http.Error(
				w, "malformed request body",
				http.StatusBadRequest,
			)
			return
		}

		// The future surfaces on this channel once the pump has
		// posted the request closure.
		futures := make(chan actor.Future[Resp], 1)
		bind := func(c actor.PostContext) {
			futures <- actor.Ask(
				c, target, func(b B) (Resp, error) {
					return handle(b, req)
				},
			)
		}

		select {
		case s.ingress <- bind:

		case <-s.quit:
			http.Error(
				w, "server shutting down",
				http.StatusServiceUnavailable,
			)
			return

		case <-r.Context().Done():
			return
		}

		var future actor.Future[Resp]
		select {
		case future = <-futures:

		case <-s.quit:
			http.Error(
				w, "server shutting down",
				http.StatusServiceUnavailable,
			)
			return

		case <-r.Context().Done():
			return
		}

		resp, err := future.Await(r.Context()).Unpack()
		switch {
		case errors.Is(err, actor.ErrActorTerminated):
			http.Error(
				w, "target actor unavailable",
				http.StatusServiceUnavailable,
			)
			return

		case err != nil:
			log.ErrorS(r.Context(), "Route handler failed", err,
				"pattern", pattern,
				"request_id", requestID,
				"actor", target.Name())

			http.Error(
				w, err.Error(),
				http.StatusBadGateway,
			)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.WarnS(r.Context(), "Response encoding failed",
				err, "request_id", requestID)
			return
		}

		log.DebugS(r.Context(), "Route served",
			"pattern", pattern,
			"request_id", requestID,
			"actor", target.Name())
	})
}

// Serve binds the listener and runs until ctx is cancelled. It must be
// invoked on the goroutine that owns sctx (typically the startup closure
// of Run): the ingress pump executes every bind closure right here, which
// is what keeps all posting on the context's own goroutine.
func (s *Server) Serve(ctx context.Context, sctx *actor.StartContext) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("unable to listen on %s: %w", s.addr, err)
	}

	s.listenAddr.Store(lis.Addr().String())
	close(s.ready)

	httpServer := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: s.readHeaderTimeout,
	}

	log.InfoS(ctx, "HTTP front-end listening", "addr", s.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		serveErr := httpServer.Serve(lis)
		if errors.Is(serveErr, http.ErrServerClosed) {
			return nil
		}

		return serveErr
	})
	g.Go(func() error {
		<-gctx.Done()

		drainCtx, cancel := context.WithTimeout(
			context.Background(), s.shutdownGrace,
		)
		defer cancel()

		return httpServer.Shutdown(drainCtx)
	})

	// The ingress pump: every bind closure executes on this goroutine,
	// the one sctx is bound to.
	for {
		select {
		case bind := <-s.ingress:
			bind(sctx)

		case <-gctx.Done():
			// Stop accepting binds, release blocked handlers,
			// then wait for the listener to drain.
			close(s.quit)

			log.InfoS(ctx, "HTTP front-end stopping",
				"addr", s.Addr())

			return g.Wait()
		}
	}
}
