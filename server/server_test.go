package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/chazu/objimpl/vm"
	"github.com/chazu/objimpl/vm/snapshot"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure
// ---------------------------------------------------------------------------

// newTestHeap builds a heap with one root: {count: 3, items: [child, 2]}.
func newTestHeap(t *testing.T) *vm.Heap {
	t.Helper()
	h := vm.NewHeap(vm.DefaultHeapConfig())
	root, _ := h.NewPlainObject(vm.AllocKind4, vm.Null)
	child, _ := h.NewPlainObject(vm.AllocKind2, vm.Null)
	items, _ := h.NewArray(4)
	if _, err := child.DefineProperty(vm.NameKey("leaf"), vm.True); err != nil {
		t.Fatal(err)
	}
	items.SetElement(0, child.ToValue())
	items.SetElement(1, vm.FromSmallInt(2))
	root.DefineProperty(vm.NameKey("count"), vm.FromSmallInt(3))
	root.DefineProperty(vm.NameKey("items"), items.ToValue())
	h.AddRoot(root)
	return h
}

func newTestServices(t *testing.T, store *snapshot.Store) (*InspectService, *HeapService) {
	t.Helper()
	worker := NewHeapWorker(newTestHeap(t))
	t.Cleanup(worker.Stop)
	handles := NewHandleStore()
	return NewInspectService(worker, handles), NewHeapService(worker, handles, store)
}

func firstRoot(t *testing.T, svc *InspectService) string {
	t.Helper()
	resp, err := svc.Roots(context.Background(), connect.NewRequest(&RootsRequest{}))
	if err != nil {
		t.Fatalf("Roots: %v", err)
	}
	if len(resp.Msg.Roots) != 1 {
		t.Fatalf("expected 1 root, got %d", len(resp.Msg.Roots))
	}
	return resp.Msg.Roots[0].HandleID
}

// ---------------------------------------------------------------------------
// InspectService
// ---------------------------------------------------------------------------

func TestInspectService_Roots(t *testing.T) {
	svc, _ := newTestServices(t, nil)
	ctx := context.Background()

	resp, err := svc.Roots(ctx, connect.NewRequest(&RootsRequest{}))
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Msg.Roots) != 1 || resp.Msg.Roots[0].Class != "Object" {
		t.Fatalf("unexpected roots %+v", resp.Msg.Roots)
	}

	// Handles root their objects; those roots are not listed again, and
	// listing again reuses the handle.
	id := resp.Msg.Roots[0].HandleID
	for i := 0; i < 4; i++ {
		again, err := svc.Roots(ctx, connect.NewRequest(&RootsRequest{}))
		if err != nil {
			t.Fatal(err)
		}
		if len(again.Msg.Roots) != 1 || again.Msg.Roots[0].HandleID != id {
			t.Fatalf("call %d: roots %+v, want the single handle %s", i+2, again.Msg.Roots, id)
		}
	}
	if n := svc.handles.Len(); n != 1 {
		t.Errorf("handles after repeated listing = %d, want 1", n)
	}
	count, _ := svc.worker.Do(func(h *vm.Heap) any { return h.RootCount(h.Roots()[0]) })
	if count != 2 {
		t.Errorf("root count = %v, want 2 (program root plus one handle)", count)
	}
}

func TestInspectService_InspectSlotReusesHandle(t *testing.T) {
	svc, _ := newTestServices(t, nil)
	ctx := context.Background()
	id := firstRoot(t, svc)

	req := &InspectSlotRequest{HandleID: id, Name: "items"}
	first, err := svc.InspectSlot(ctx, connect.NewRequest(req))
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.InspectSlot(ctx, connect.NewRequest(req))
	if err != nil {
		t.Fatal(err)
	}
	if first.Msg.Handle.HandleID != second.Msg.Handle.HandleID {
		t.Errorf("handles %s and %s, want the same", first.Msg.Handle.HandleID, second.Msg.Handle.HandleID)
	}
	if n := svc.handles.Len(); n != 2 {
		t.Errorf("handles = %d, want 2 (root and items)", n)
	}
}

func TestInspectService_Inspect(t *testing.T) {
	svc, _ := newTestServices(t, nil)
	id := firstRoot(t, svc)

	resp, err := svc.Inspect(context.Background(), connect.NewRequest(&InspectRequest{HandleID: id}))
	if err != nil {
		t.Fatal(err)
	}
	r := resp.Msg.Result
	if r.ClassName != "Object" || len(r.Props) != 2 {
		t.Fatalf("unexpected result %+v", r)
	}
	if r.Props[0].Name != "count" || r.Props[0].Value.Value != "3" {
		t.Errorf("count property inspected as %+v", r.Props[0])
	}
	if !strings.Contains(resp.Msg.Text, "properties:") {
		t.Errorf("text missing properties:\n%s", resp.Msg.Text)
	}
}

func TestInspectService_InspectSlot(t *testing.T) {
	svc, _ := newTestServices(t, nil)
	ctx := context.Background()
	id := firstRoot(t, svc)

	items, err := svc.InspectSlot(ctx, connect.NewRequest(&InspectSlotRequest{HandleID: id, Name: "items"}))
	if err != nil {
		t.Fatal(err)
	}
	if items.Msg.Handle == nil || items.Msg.Handle.Class != "Array" {
		t.Fatalf("items handle %+v", items.Msg.Handle)
	}

	child, err := svc.InspectSlot(ctx, connect.NewRequest(&InspectSlotRequest{HandleID: items.Msg.Handle.HandleID, Name: "[0]"}))
	if err != nil {
		t.Fatal(err)
	}
	if child.Msg.Handle == nil || len(child.Msg.Result.Props) != 1 {
		t.Errorf("element 0 inspected as %+v", child.Msg.Result)
	}

	num, err := svc.InspectSlot(ctx, connect.NewRequest(&InspectSlotRequest{HandleID: id, Name: "count"}))
	if err != nil {
		t.Fatal(err)
	}
	if num.Msg.Handle != nil || num.Msg.Result.Type != "SmallInt" {
		t.Errorf("count inspected as %+v", num.Msg)
	}
}

func TestInspectService_Errors(t *testing.T) {
	svc, _ := newTestServices(t, nil)
	ctx := context.Background()
	id := firstRoot(t, svc)

	tests := []struct {
		name string
		call func() error
		code connect.Code
	}{
		{"missing handle id", func() error {
			_, err := svc.Inspect(ctx, connect.NewRequest(&InspectRequest{}))
			return err
		}, connect.CodeInvalidArgument},
		{"unknown handle", func() error {
			_, err := svc.Inspect(ctx, connect.NewRequest(&InspectRequest{HandleID: "h-999"}))
			return err
		}, connect.CodeNotFound},
		{"missing property", func() error {
			_, err := svc.InspectSlot(ctx, connect.NewRequest(&InspectSlotRequest{HandleID: id, Name: "nope"}))
			return err
		}, connect.CodeNotFound},
		{"missing element", func() error {
			_, err := svc.InspectSlot(ctx, connect.NewRequest(&InspectSlotRequest{HandleID: id, Name: "[4]"}))
			return err
		}, connect.CodeNotFound},
		{"missing name", func() error {
			_, err := svc.InspectSlot(ctx, connect.NewRequest(&InspectSlotRequest{HandleID: id}))
			return err
		}, connect.CodeInvalidArgument},
	}
	for _, tt := range tests {
		if code := connect.CodeOf(tt.call()); code != tt.code {
			t.Errorf("%s: code %v, want %v", tt.name, code, tt.code)
		}
	}
}

func TestInspectService_ReleaseUnroots(t *testing.T) {
	svc, heapSvc := newTestServices(t, nil)
	ctx := context.Background()
	id := firstRoot(t, svc)

	items, _ := svc.InspectSlot(ctx, connect.NewRequest(&InspectSlotRequest{HandleID: id, Name: "items"}))
	itemsID := items.Msg.Handle.HandleID

	rel, err := svc.Release(ctx, connect.NewRequest(&ReleaseRequest{HandleID: itemsID}))
	if err != nil || !rel.Msg.Released {
		t.Fatalf("Release = %+v, %v", rel, err)
	}
	rel, _ = svc.Release(ctx, connect.NewRequest(&ReleaseRequest{HandleID: itemsID}))
	if rel.Msg.Released {
		t.Error("second Release should report false")
	}

	stats, _ := heapSvc.Stats(ctx, connect.NewRequest(&StatsRequest{}))
	if stats.Msg.Handles != 1 || stats.Msg.Heap.Roots != 1 {
		t.Errorf("handles %d, roots %d; want 1, 1", stats.Msg.Handles, stats.Msg.Heap.Roots)
	}
}

// ---------------------------------------------------------------------------
// HeapService
// ---------------------------------------------------------------------------

func TestHeapService_StatsAndCollect(t *testing.T) {
	_, svc := newTestServices(t, nil)
	ctx := context.Background()

	stats, err := svc.Stats(ctx, connect.NewRequest(&StatsRequest{}))
	if err != nil {
		t.Fatal(err)
	}
	if stats.Msg.Heap.Live != 3 || stats.Msg.Sweeps != 0 || stats.Msg.Last != nil {
		t.Errorf("initial stats %+v", stats.Msg)
	}

	minor, err := svc.Collect(ctx, connect.NewRequest(&CollectRequest{Minor: true}))
	if err != nil {
		t.Fatal(err)
	}
	if !minor.Msg.Stats.Minor || minor.Msg.Stats.Tenured != 3 {
		t.Errorf("minor collection %+v", minor.Msg.Stats)
	}
	major, _ := svc.Collect(ctx, connect.NewRequest(&CollectRequest{}))
	if major.Msg.Stats.Minor || major.Msg.Stats.Marked != 3 || major.Msg.Stats.Swept != 0 {
		t.Errorf("major collection %+v", major.Msg.Stats)
	}

	stats, _ = svc.Stats(ctx, connect.NewRequest(&StatsRequest{}))
	if stats.Msg.Sweeps != 2 || stats.Msg.Last == nil {
		t.Errorf("stats after collections %+v", stats.Msg)
	}
}

func TestHeapService_Snapshot(t *testing.T) {
	ctx := context.Background()
	_, noStore := newTestServices(t, nil)
	if _, err := noStore.Snapshot(ctx, connect.NewRequest(&SnapshotRequest{})); connect.CodeOf(err) != connect.CodeFailedPrecondition {
		t.Errorf("snapshot without a store: %v", err)
	}

	store, err := snapshot.Open(filepath.Join(t.TempDir(), "snap.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	_, svc := newTestServices(t, store)

	resp, err := svc.Snapshot(ctx, connect.NewRequest(&SnapshotRequest{Label: "remote"}))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Msg.Objects != 3 {
		t.Errorf("snapshot has %d objects, want 3", resp.Msg.Objects)
	}
	s, err := store.Load(ctx, resp.Msg.ID)
	if err != nil || s.Label != "remote" {
		t.Errorf("archived snapshot %+v, %v", s, err)
	}
}

func TestWorkerRecoversPanics(t *testing.T) {
	w := NewHeapWorker(vm.NewHeap(vm.DefaultHeapConfig()))
	_, err := w.Do(func(h *vm.Heap) any { panic("boom") })
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("error = %v, want the panic message", err)
	}
	w.Stop()
	if _, err := w.Do(func(h *vm.Heap) any { return nil }); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("Do after Stop error = %v, want ErrWorkerStopped", err)
	}
}

func TestHandleSweep(t *testing.T) {
	h := newTestHeap(t)
	handles := NewHandleStore()
	obj, _ := h.Lookup(h.Roots()[0])
	handles.Create(h, obj)
	if h.RootCount(obj.Handle()) != 2 {
		t.Fatalf("handle should add a root, count %d", h.RootCount(obj.Handle()))
	}
	if n := handles.Sweep(h, -time.Second); n != 1 {
		t.Errorf("Sweep removed %d handles, want 1", n)
	}
	if h.RootCount(obj.Handle()) != 1 || handles.Len() != 0 {
		t.Error("sweep should unroot and forget the handle")
	}
}

func TestHandleSweeper(t *testing.T) {
	h := newTestHeap(t)
	w := NewHeapWorker(h)
	handles := NewHandleStore()
	w.Do(func(h *vm.Heap) any {
		obj, _ := h.Lookup(h.Roots()[0])
		return handles.Create(h, obj)
	})

	stop := handles.StartSweeper(w, time.Millisecond, -time.Second)
	deadline := time.Now().Add(2 * time.Second)
	for handles.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper never released the expired handle")
		}
		time.Sleep(time.Millisecond)
	}

	// Sweeps against a stopped worker fail and are logged; the sweeper
	// keeps running until stopped.
	w.Stop()
	time.Sleep(5 * time.Millisecond)
	stop()
}

// ---------------------------------------------------------------------------
// Over the wire
// ---------------------------------------------------------------------------

func startServer(t *testing.T, opts ...ServerOption) (*ObjimplServer, string) {
	t.Helper()
	srv := New(newTestHeap(t), opts...)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(l) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	return srv, l.Addr().String()
}

func TestGRPCClient(t *testing.T) {
	_, addr := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := Dial(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Heap.Live != 3 || stats.HeapID == "" {
		t.Errorf("stats %+v", stats)
	}

	roots, err := c.Roots(ctx)
	if err != nil || len(roots.Roots) != 1 {
		t.Fatalf("Roots = %+v, %v", roots, err)
	}
	insp, err := c.Inspect(ctx, roots.Roots[0].HandleID, 2)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if len(insp.Result.Props) != 2 || insp.Result.Props[1].Value.ClassName != "Array" {
		t.Errorf("inspect result %+v", insp.Result)
	}

	col, err := c.Collect(ctx, false)
	if err != nil || col.Stats.Marked != 3 {
		t.Errorf("Collect = %+v, %v", col, err)
	}

	_, err = c.Inspect(ctx, "h-404", 0)
	if status.Code(err) != codes.NotFound {
		t.Errorf("unknown handle error = %v, want NotFound", err)
	}
	_, err = c.Snapshot(ctx, "")
	if status.Code(err) != codes.FailedPrecondition {
		t.Errorf("snapshot without store error = %v, want FailedPrecondition", err)
	}
}

func TestConnectClient(t *testing.T) {
	_, addr := startServer(t)
	client := connect.NewClient[StatsRequest, StatsResponse](
		http.DefaultClient,
		"http://"+addr+StatsProcedure,
		connect.WithCodec(Codec{}),
	)
	resp, err := client.CallUnary(context.Background(), connect.NewRequest(&StatsRequest{}))
	if err != nil {
		t.Fatalf("CallUnary: %v", err)
	}
	if resp.Msg.Heap.Roots != 1 {
		t.Errorf("roots %d, want 1", resp.Msg.Heap.Roots)
	}
}
