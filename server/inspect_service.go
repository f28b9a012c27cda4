package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"connectrpc.com/connect"

	"github.com/chazu/objimpl/vm"
)

// errNotFound marks lookups that failed inside a worker function.
var errNotFound = errors.New("not found")

// InspectService implements the InspectionService handler.
type InspectService struct {
	worker  *HeapWorker
	handles *HandleStore
}

// NewInspectService creates an InspectService.
func NewInspectService(worker *HeapWorker, handles *HandleStore) *InspectService {
	return &InspectService{
		worker:  worker,
		handles: handles,
	}
}

// Inspect returns the description of an object by handle.
func (s *InspectService) Inspect(
	ctx context.Context,
	req *connect.Request[InspectRequest],
) (*connect.Response[InspectResponse], error) {
	if req.Msg.HandleID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("handle_id is required"))
	}
	obj, ok := s.handles.Lookup(req.Msg.HandleID)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("handle %q not found", req.Msg.HandleID))
	}
	depth := req.Msg.Depth
	if depth <= 0 {
		depth = vm.DefaultMaxDepth
	}

	result, err := s.worker.Do(func(h *vm.Heap) any {
		r := vm.NewInspector(h).InspectObject(obj, depth)
		return &InspectResponse{
			Handle: &HandleInfo{HandleID: req.Msg.HandleID, Class: r.ClassName, Display: r.Value},
			Result: r,
			Text:   r.String(),
		}
	})
	if err != nil {
		return nil, workerError(err)
	}
	return connect.NewResponse(result.(*InspectResponse)), nil
}

// InspectSlot drills into a named property of an object, or into an
// element when the name has the form "[index]". Object values get a
// handle, shared with earlier requests for the same object.
func (s *InspectService) InspectSlot(
	ctx context.Context,
	req *connect.Request[InspectSlotRequest],
) (*connect.Response[InspectResponse], error) {
	if req.Msg.HandleID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("handle_id is required"))
	}
	if req.Msg.Name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("name is required"))
	}
	obj, ok := s.handles.Lookup(req.Msg.HandleID)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("handle %q not found", req.Msg.HandleID))
	}

	result, err := s.worker.Do(func(h *vm.Heap) any {
		v, err := slotValue(obj, req.Msg.Name)
		if err != nil {
			return err
		}
		return s.inspectValue(h, v)
	})
	if err != nil {
		return nil, workerError(err)
	}
	if errVal, ok := result.(error); ok {
		return nil, connect.NewError(connect.CodeNotFound, errVal)
	}
	return connect.NewResponse(result.(*InspectResponse)), nil
}

// slotValue reads a property, or an element for names like "[3]".
func slotValue(obj *vm.Object, name string) (vm.Value, error) {
	if strings.HasPrefix(name, "[") && strings.HasSuffix(name, "]") {
		var idx uint32
		if _, err := fmt.Sscanf(name, "[%d]", &idx); err == nil {
			v, ok := obj.GetElement(idx)
			if !ok {
				return vm.Undefined, fmt.Errorf("element %d of %s: %w", idx, obj, errNotFound)
			}
			return v, nil
		}
	}
	key := vm.NameKey(name)
	prop, ok := obj.Shape().Lookup(key)
	if !ok {
		return vm.Undefined, fmt.Errorf("property %q of %s: %w", name, obj, errNotFound)
	}
	if prop.Attrs.IsAccessor() {
		return obj.GetSlot(prop.Slot), nil
	}
	v, _ := obj.GetProperty(key)
	return v, nil
}

// inspectValue describes v, handing out a handle when it is a live object.
func (s *InspectService) inspectValue(h *vm.Heap, v vm.Value) *InspectResponse {
	r := vm.NewInspector(h).InspectDepth(v, 1)
	resp := &InspectResponse{Result: r, Text: r.String()}
	if v.IsObject() {
		if obj, ok := h.Lookup(v.Handle()); ok {
			resp.Handle = &HandleInfo{
				HandleID: s.handles.Acquire(h, obj),
				Class:    r.ClassName,
				Display:  r.Value,
			}
		}
	}
	return resp
}

// Roots returns a handle for every rooted object that is not itself held
// only through a handle.
func (s *InspectService) Roots(
	ctx context.Context,
	req *connect.Request[RootsRequest],
) (*connect.Response[RootsResponse], error) {
	result, err := s.worker.Do(func(h *vm.Heap) any {
		resp := &RootsResponse{}
		for _, handle := range h.Roots() {
			obj, ok := h.Lookup(handle)
			if !ok || s.handles.Pins(obj) >= h.RootCount(handle) {
				continue
			}
			resp.Roots = append(resp.Roots, HandleInfo{
				HandleID: s.handles.Acquire(h, obj),
				Class:    obj.Class().FullName(),
				Display:  obj.String(),
			})
		}
		return resp
	})
	if err != nil {
		return nil, workerError(err)
	}
	return connect.NewResponse(result.(*RootsResponse)), nil
}

// Release drops a handle, unrooting its object.
func (s *InspectService) Release(
	ctx context.Context,
	req *connect.Request[ReleaseRequest],
) (*connect.Response[ReleaseResponse], error) {
	if req.Msg.HandleID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("handle_id is required"))
	}
	result, err := s.worker.Do(func(h *vm.Heap) any {
		return s.handles.Release(h, req.Msg.HandleID)
	})
	if err != nil {
		return nil, workerError(err)
	}
	return connect.NewResponse(&ReleaseResponse{Released: result.(bool)}), nil
}

// workerError maps a worker failure to a Connect error.
func workerError(err error) error {
	if errors.Is(err, ErrWorkerStopped) {
		return connect.NewError(connect.CodeUnavailable, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}
