package vm

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Collector: incremental mark/sweep with a nursery
// ---------------------------------------------------------------------------

// Collector reclaims objects of one heap that are unreachable from its
// roots. It is the barrier of every object in the heap.
//
// Major cycles are incremental snapshot-at-the-beginning mark/sweep:
// StartCycle greys the roots, Step scans a bounded number of objects, and
// the cycle sweeps once no grey objects remain. While marking, the
// pre-barrier greys every overwritten reference and new objects are
// allocated marked.
//
// Minor cycles collect only the nursery. The post-barrier records stores
// of nursery references into tenured objects in a store buffer, which
// CollectNursery uses as extra roots.
type Collector struct {
	heap *Heap
	log  commonlog.Logger

	phase gcPhase
	gray  []uint32
	cycle CollectorStats

	storeBuffer []SlotRef

	enabled    atomic.Bool
	requested  atomic.Bool
	sweepCount atomic.Uint64
	lastStats  atomic.Pointer[CollectorStats]

	mu      sync.Mutex // protects pacer start/stop
	stop    chan struct{}
	stopped chan struct{}
}

type gcPhase uint8

const (
	phaseIdle gcPhase = iota
	phaseMarking
)

const (
	flagMarked  uint32 = 1 << 0
	flagTenured uint32 = 1 << 1
)

// CollectorStats describes one finished collection.
type CollectorStats struct {
	Minor     bool
	Marked    int
	Swept     int
	Released  int
	Tenured   int
	Steps     int
	Duration  time.Duration
	Timestamp time.Time
}

func newCollector(h *Heap) *Collector {
	c := &Collector{
		heap: h,
		log:  commonlog.GetLogger("objimpl.gc"),
	}
	c.enabled.Store(true)
	return c
}

// Marking reports whether a major cycle is in progress.
func (c *Collector) Marking() bool { return c.phase == phaseMarking }

// SetEnabled turns allocation-triggered and paced collection on or off.
// Explicit calls to Collect, Step and CollectNursery always run.
func (c *Collector) SetEnabled(enabled bool) { c.enabled.Store(enabled) }

// IsEnabled reports whether automatic collection is enabled.
func (c *Collector) IsEnabled() bool { return c.enabled.Load() }

// SweepCount returns the number of finished collections.
func (c *Collector) SweepCount() uint64 { return c.sweepCount.Load() }

// LastStats returns the statistics of the most recent collection, or nil.
func (c *Collector) LastStats() *CollectorStats { return c.lastStats.Load() }

// StoreBufferLen returns the number of recorded tenured-to-nursery stores.
func (c *Collector) StoreBufferLen() int { return len(c.storeBuffer) }

// IsMarked reports whether obj is marked in the current cycle.
func (c *Collector) IsMarked(obj *Object) bool { return obj.gcFlags&flagMarked != 0 }

// IsTenured reports whether obj has survived a collection.
func (c *Collector) IsTenured(obj *Object) bool { return obj.gcFlags&flagTenured != 0 }

// ---------------------------------------------------------------------------
// Barrier
// ---------------------------------------------------------------------------

// BeforeOverwrite greys the old referent while marking, so everything
// reachable when the cycle started stays alive.
func (c *Collector) BeforeOverwrite(old Value) {
	if c.phase == phaseMarking {
		c.shade(old.Handle())
	}
}

// AfterStore remembers stores of nursery references into tenured objects.
func (c *Collector) AfterStore(loc SlotRef, v Value) {
	if loc.Object.gcFlags&flagTenured == 0 {
		return
	}
	target, ok := c.heap.Lookup(v.Handle())
	if ok && target.gcFlags&flagTenured == 0 {
		c.storeBuffer = append(c.storeBuffer, loc)
	}
}

// TraceValue greys a referenced object. It makes the collector a Tracer.
func (c *Collector) TraceValue(v Value) {
	c.shade(v.Handle())
}

func (c *Collector) shade(handle uint32) {
	if c.phase != phaseMarking {
		return
	}
	obj, ok := c.heap.Lookup(handle)
	if !ok || obj.gcFlags&flagMarked != 0 {
		return
	}
	obj.gcFlags |= flagMarked
	c.gray = append(c.gray, handle)
}

func (c *Collector) onAllocate(obj *Object) {
	if c.phase == phaseMarking {
		obj.gcFlags |= flagMarked
	}
}

// ---------------------------------------------------------------------------
// Major cycles
// ---------------------------------------------------------------------------

// StartCycle begins a major cycle. It does nothing if one is running.
func (c *Collector) StartCycle() {
	if c.phase == phaseMarking {
		return
	}
	c.heap.ForEach(func(obj *Object) { obj.gcFlags &^= flagMarked })
	c.cycle = CollectorStats{Timestamp: time.Now()}
	c.phase = phaseMarking
	for handle := range c.heap.roots {
		c.shade(handle)
	}
	c.log.Debugf("heap %s: major cycle started with %d roots", c.heap.id, len(c.heap.roots))
}

// Step scans up to budget grey objects, starting a cycle if none is
// running. It sweeps and reports true once marking is complete.
func (c *Collector) Step(budget int) bool {
	c.StartCycle()
	c.cycle.Steps++
	for budget > 0 && len(c.gray) > 0 {
		n := len(c.gray) - 1
		handle := c.gray[n]
		c.gray = c.gray[:n]
		if obj, ok := c.heap.Lookup(handle); ok {
			obj.MarkChildren(c)
			c.cycle.Marked++
		}
		budget--
	}
	if len(c.gray) > 0 {
		return false
	}
	c.finishMajor()
	return true
}

// Collect runs a full major cycle, finishing one already in progress.
func (c *Collector) Collect() *CollectorStats {
	for !c.Step(c.heap.cfg.StepBudget) {
	}
	return c.LastStats()
}

func (c *Collector) finishMajor() {
	h := c.heap
	var dead []*Object
	h.ForEach(func(obj *Object) {
		if obj.gcFlags&flagMarked == 0 {
			dead = append(dead, obj)
		}
	})
	for _, obj := range dead {
		c.cycle.Released += h.release(obj)
		c.cycle.Swept++
	}
	h.ForEach(func(obj *Object) {
		if obj.gcFlags&flagTenured == 0 {
			obj.gcFlags |= flagTenured
			c.cycle.Tenured++
		}
		obj.gcFlags &^= flagMarked
	})
	h.nursery = h.nursery[:0]
	c.storeBuffer = c.storeBuffer[:0]
	c.phase = phaseIdle
	c.finish()
}

// ---------------------------------------------------------------------------
// Minor cycles
// ---------------------------------------------------------------------------

// CollectNursery reclaims unreachable nursery objects and tenures the
// survivors. A major cycle in progress is finished first.
func (c *Collector) CollectNursery() *CollectorStats {
	if c.phase == phaseMarking {
		c.Collect()
	}
	h := c.heap
	c.cycle = CollectorStats{Minor: true, Timestamp: time.Now()}

	live := make(map[uint32]bool, len(h.nursery))
	var work []*Object
	visit := func(handle uint32) {
		obj, ok := h.Lookup(handle)
		if !ok || obj.gcFlags&flagTenured != 0 || live[handle] {
			return
		}
		live[handle] = true
		work = append(work, obj)
	}
	for handle := range h.roots {
		visit(handle)
	}
	for _, loc := range c.storeBuffer {
		if loc.Object.heap != h {
			continue
		}
		if v, ok := loc.Get(); ok && v.IsGCThing() {
			visit(v.Handle())
		}
	}
	t := tracerFunc(func(v Value) { visit(v.Handle()) })
	for len(work) > 0 {
		obj := work[len(work)-1]
		work = work[:len(work)-1]
		obj.MarkChildren(t)
		c.cycle.Marked++
	}

	for _, handle := range h.nursery {
		obj, ok := h.Lookup(handle)
		if !ok || obj.gcFlags&flagTenured != 0 {
			continue
		}
		if live[handle] {
			obj.gcFlags |= flagTenured
			c.cycle.Tenured++
			continue
		}
		c.cycle.Released += h.release(obj)
		c.cycle.Swept++
	}
	h.nursery = h.nursery[:0]
	c.storeBuffer = c.storeBuffer[:0]
	c.finish()
	return c.LastStats()
}

type tracerFunc func(v Value)

func (f tracerFunc) TraceValue(v Value) { f(v) }

func (c *Collector) finish() {
	stats := c.cycle
	stats.Duration = time.Since(stats.Timestamp)
	c.sweepCount.Add(1)
	c.lastStats.Store(&stats)
	kind := "major"
	if stats.Minor {
		kind = "minor"
	}
	c.log.Infof("heap %s: %s collection swept %d objects (%d allocations released), tenured %d, marked %d in %s",
		c.heap.id, kind, stats.Swept, stats.Released, stats.Tenured, stats.Marked, stats.Duration)
}

// ---------------------------------------------------------------------------
// Triggers
// ---------------------------------------------------------------------------

// maybeCollect runs on every allocation. It advances an incremental cycle
// when the pacer asked for one and collects the nursery once it is full.
func (c *Collector) maybeCollect() {
	if !c.heap.cfg.AutoCollect || !c.enabled.Load() {
		return
	}
	c.Poll()
	if c.phase == phaseIdle && len(c.heap.nursery) >= c.heap.cfg.NurseryLimit {
		c.CollectNursery()
	}
}

// Start launches the pacer goroutine, which requests one incremental step
// per PaceInterval. The step itself runs on the mutator at its next
// allocation. Calling Start more than once, or with no interval
// configured, does nothing.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stop != nil || c.heap.cfg.PaceInterval <= 0 {
		return
	}
	c.stop = make(chan struct{})
	c.stopped = make(chan struct{})

	stopCh := c.stop
	stoppedCh := c.stopped
	go c.pace(stopCh, stoppedCh)
}

// Stop halts the pacer and waits for it to exit. It is safe to call on a
// collector that was never started.
func (c *Collector) Stop() {
	c.mu.Lock()
	stopCh := c.stop
	stoppedCh := c.stopped
	c.stop = nil
	c.stopped = nil
	c.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-stoppedCh
	}
}

// Poll runs one incremental step if the pacer requested it or a cycle is
// in progress. Mutators that allocate rarely call it between operations.
func (c *Collector) Poll() bool {
	if !c.enabled.Load() {
		return false
	}
	if c.requested.Swap(false) || c.phase == phaseMarking {
		c.Step(c.heap.cfg.StepBudget)
		return true
	}
	return false
}

// StepRequested reports whether the pacer has asked for a step that has
// not run yet.
func (c *Collector) StepRequested() bool { return c.requested.Load() }

func (c *Collector) pace(stopCh <-chan struct{}, stoppedCh chan struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(c.heap.cfg.PaceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if c.enabled.Load() {
				c.requested.Store(true)
			}
		}
	}
}
