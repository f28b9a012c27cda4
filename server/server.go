package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/objimpl/vm"
	"github.com/chazu/objimpl/vm/snapshot"
)

var log = commonlog.GetLogger("objimpl.server")

// ObjimplServer serves heap inspection over Connect and gRPC on the same
// port, with CBOR-encoded messages.
type ObjimplServer struct {
	worker  *HeapWorker
	handles *HandleStore
	mux     *http.ServeMux

	mu   sync.Mutex
	http *http.Server

	stopSweeper func()
}

// ServerOption configures an ObjimplServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	store         *snapshot.Store
	sweepInterval time.Duration
	handleTTL     time.Duration
}

// WithSnapshotStore enables the Snapshot procedure.
func WithSnapshotStore(st *snapshot.Store) ServerOption {
	return func(c *serverConfig) { c.store = st }
}

// WithHandleTTL sets how long unused handles live and how often they are
// swept.
func WithHandleTTL(interval, ttl time.Duration) ServerOption {
	return func(c *serverConfig) {
		c.sweepInterval = interval
		c.handleTTL = ttl
	}
}

// New creates a server wrapping h. From here on h must only be used
// through the server's worker.
func New(h *vm.Heap, opts ...ServerOption) *ObjimplServer {
	cfg := &serverConfig{
		sweepInterval: 5 * time.Minute,
		handleTTL:     30 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	worker := NewHeapWorker(h)
	handles := NewHandleStore()
	s := &ObjimplServer{
		worker:  worker,
		handles: handles,
		mux:     http.NewServeMux(),
	}

	inspectSvc := NewInspectService(worker, handles)
	heapSvc := NewHeapService(worker, handles, cfg.store)
	codec := connect.WithCodec(Codec{})

	s.mux.Handle(InspectProcedure, connect.NewUnaryHandler(InspectProcedure, inspectSvc.Inspect, codec))
	s.mux.Handle(InspectSlotProcedure, connect.NewUnaryHandler(InspectSlotProcedure, inspectSvc.InspectSlot, codec))
	s.mux.Handle(RootsProcedure, connect.NewUnaryHandler(RootsProcedure, inspectSvc.Roots, codec))
	s.mux.Handle(ReleaseProcedure, connect.NewUnaryHandler(ReleaseProcedure, inspectSvc.Release, codec))
	s.mux.Handle(StatsProcedure, connect.NewUnaryHandler(StatsProcedure, heapSvc.Stats, codec))
	s.mux.Handle(CollectProcedure, connect.NewUnaryHandler(CollectProcedure, heapSvc.Collect, codec))
	s.mux.Handle(SnapshotProcedure, connect.NewUnaryHandler(SnapshotProcedure, heapSvc.Snapshot, codec))

	s.stopSweeper = handles.StartSweeper(worker, cfg.sweepInterval, cfg.handleTTL)
	return s
}

// Handler returns the HTTP handler serving every procedure.
func (s *ObjimplServer) Handler() http.Handler {
	return s.mux
}

// Worker returns the worker that owns the heap.
func (s *ObjimplServer) Worker() *HeapWorker {
	return s.worker
}

// NewHTTPServer returns an http.Server for handler that accepts HTTP/1.1
// and unencrypted HTTP/2, so plaintext gRPC clients can connect.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		Protocols:         new(http.Protocols),
	}
	srv.Protocols.SetHTTP1(true)
	srv.Protocols.SetUnencryptedHTTP2(true)
	return srv
}

// Serve accepts connections on l until Shutdown.
func (s *ObjimplServer) Serve(l net.Listener) error {
	srv := NewHTTPServer(l.Addr().String(), s.mux)
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()
	log.Noticef("heap %s: serving inspection on %s", s.worker.Heap().ID(), l.Addr())
	err := srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe listens on addr ("host:port" or ":port") and serves.
func (s *ObjimplServer) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Shutdown stops accepting requests, waits for running ones and stops the
// worker.
func (s *ObjimplServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.Stop()
	return err
}

// Stop shuts down the sweeper and the worker.
func (s *ObjimplServer) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
		s.stopSweeper = nil
	}
	select {
	case <-s.worker.quit:
	default:
		s.worker.Stop()
	}
}
