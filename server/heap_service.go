package server

import (
	"context"
	"fmt"
	"time"

	"connectrpc.com/connect"

	"github.com/chazu/objimpl/vm"
	"github.com/chazu/objimpl/vm/snapshot"
)

// HeapService implements the HeapService handler: counters, explicit
// collections and snapshots.
type HeapService struct {
	worker  *HeapWorker
	handles *HandleStore
	store   *snapshot.Store
}

// NewHeapService creates a HeapService. store may be nil, in which case
// Snapshot fails with FailedPrecondition.
func NewHeapService(worker *HeapWorker, handles *HandleStore, store *snapshot.Store) *HeapService {
	return &HeapService{worker: worker, handles: handles, store: store}
}

// Stats returns heap and collector counters.
func (s *HeapService) Stats(
	ctx context.Context,
	req *connect.Request[StatsRequest],
) (*connect.Response[StatsResponse], error) {
	result, err := s.worker.Do(func(h *vm.Heap) any {
		gc := h.Collector()
		return &StatsResponse{
			HeapID:    h.ID().String(),
			Heap:      h.Stats(),
			Sweeps:    gc.SweepCount(),
			Last:      gc.LastStats(),
			Handles:   s.handles.Len(),
			Marking:   gc.Marking(),
			Timestamp: time.Now(),
		}
	})
	if err != nil {
		return nil, workerError(err)
	}
	return connect.NewResponse(result.(*StatsResponse)), nil
}

// Collect runs a major collection, or a minor one when requested.
func (s *HeapService) Collect(
	ctx context.Context,
	req *connect.Request[CollectRequest],
) (*connect.Response[CollectResponse], error) {
	result, err := s.worker.Do(func(h *vm.Heap) any {
		if req.Msg.Minor {
			return h.Collector().CollectNursery()
		}
		return h.Collector().Collect()
	})
	if err != nil {
		return nil, workerError(err)
	}
	return connect.NewResponse(&CollectResponse{Stats: *result.(*vm.CollectorStats)}), nil
}

// Snapshot captures the heap on the worker and archives it.
func (s *HeapService) Snapshot(
	ctx context.Context,
	req *connect.Request[SnapshotRequest],
) (*connect.Response[SnapshotResponse], error) {
	if s.store == nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("no snapshot store configured"))
	}
	result, err := s.worker.Do(func(h *vm.Heap) any {
		snap, err := snapshot.Capture(h, req.Msg.Label)
		if err != nil {
			return err
		}
		return snap
	})
	if err != nil {
		return nil, workerError(err)
	}
	if errVal, ok := result.(error); ok {
		return nil, connect.NewError(connect.CodeInternal, errVal)
	}
	snap := result.(*snapshot.Snapshot)
	if err := s.store.Save(ctx, snap); err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&SnapshotResponse{ID: snap.ID, Objects: len(snap.Objects)}), nil
}
