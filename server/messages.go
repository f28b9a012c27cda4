package server

import (
	"time"

	"github.com/chazu/objimpl/vm"
)

// Service and procedure names.
const (
	InspectionServiceName = "objimpl.v1.InspectionService"
	HeapServiceName       = "objimpl.v1.HeapService"

	InspectProcedure     = "/" + InspectionServiceName + "/Inspect"
	InspectSlotProcedure = "/" + InspectionServiceName + "/InspectSlot"
	RootsProcedure       = "/" + InspectionServiceName + "/Roots"
	ReleaseProcedure     = "/" + InspectionServiceName + "/Release"

	StatsProcedure    = "/" + HeapServiceName + "/Stats"
	CollectProcedure  = "/" + HeapServiceName + "/Collect"
	SnapshotProcedure = "/" + HeapServiceName + "/Snapshot"
)

// HandleInfo names an object the server holds a handle for.
type HandleInfo struct {
	HandleID string `cbor:"1,keyasint"`
	Class    string `cbor:"2,keyasint"`
	Display  string `cbor:"3,keyasint"`
}

// InspectRequest asks for the description of a handle's object.
type InspectRequest struct {
	HandleID string `cbor:"1,keyasint"`
	Depth    int    `cbor:"2,keyasint,omitempty"`
}

// InspectSlotRequest drills into a named property, or an element when
// Name has the form "[index]".
type InspectSlotRequest struct {
	HandleID string `cbor:"1,keyasint"`
	Name     string `cbor:"2,keyasint"`
}

// InspectResponse describes one value. Handle is set when the value is an
// object the caller can inspect further.
type InspectResponse struct {
	Handle *HandleInfo          `cbor:"1,keyasint,omitempty"`
	Result *vm.InspectionResult `cbor:"2,keyasint"`
	Text   string               `cbor:"3,keyasint"`
}

// RootsRequest lists the heap's roots.
type RootsRequest struct{}

// RootsResponse holds one handle per rooted object.
type RootsResponse struct {
	Roots []HandleInfo `cbor:"1,keyasint"`
}

// ReleaseRequest drops a handle.
type ReleaseRequest struct {
	HandleID string `cbor:"1,keyasint"`
}

// ReleaseResponse reports whether the handle existed.
type ReleaseResponse struct {
	Released bool `cbor:"1,keyasint"`
}

// StatsRequest asks for heap and collector counters.
type StatsRequest struct{}

// StatsResponse carries heap and collector counters.
type StatsResponse struct {
	HeapID    string             `cbor:"1,keyasint"`
	Heap      vm.HeapStats       `cbor:"2,keyasint"`
	Sweeps    uint64             `cbor:"3,keyasint"`
	Last      *vm.CollectorStats `cbor:"4,keyasint,omitempty"`
	Handles   int                `cbor:"5,keyasint"`
	Marking   bool               `cbor:"6,keyasint,omitempty"`
	Timestamp time.Time          `cbor:"7,keyasint"`
}

// CollectRequest runs a collection. Minor collects only the nursery.
type CollectRequest struct {
	Minor bool `cbor:"1,keyasint,omitempty"`
}

// CollectResponse reports the finished collection.
type CollectResponse struct {
	Stats vm.CollectorStats `cbor:"1,keyasint"`
}

// SnapshotRequest captures the heap and archives it.
type SnapshotRequest struct {
	Label string `cbor:"1,keyasint,omitempty"`
}

// SnapshotResponse identifies the archived snapshot.
type SnapshotResponse struct {
	ID      string `cbor:"1,keyasint"`
	Objects int    `cbor:"2,keyasint"`
}
