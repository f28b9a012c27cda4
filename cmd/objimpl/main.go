// objimpl CLI - builds demo heaps, inspects them and manages heap snapshots
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/objimpl/config"
	"github.com/chazu/objimpl/server"
	"github.com/chazu/objimpl/vm"
	"github.com/chazu/objimpl/vm/snapshot"
)

func main() {
	configPath := flag.String("config", "", "Path to objimpl.toml (default: search upward from the working directory)")
	verbose := flag.Int("v", -1, "Log verbosity (overrides the config file)")
	demo := flag.Bool("demo", false, "Build a demo heap, collect it and print an inspection")
	dbPath := flag.String("db", "", "Snapshot database (overrides the config file)")
	save := flag.Bool("save", false, "With -demo, save a snapshot of the demo heap")
	label := flag.String("label", "demo", "Label for a saved snapshot")
	list := flag.Bool("list", false, "List archived snapshots")
	show := flag.String("show", "", "Restore the snapshot with this ID and print an inspection")
	del := flag.String("delete", "", "Delete the snapshot with this ID")
	serve := flag.Bool("serve", false, "Serve the -demo or -show heap for inspection over Connect and gRPC")
	addr := flag.String("addr", "", "Server address (overrides the config file)")
	remote := flag.String("remote", "", "Run a command against a running server: stats, collect, minor, roots, inspect <handle>, snapshot [label]")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: objimpl [options]\n\n")
		fmt.Fprintf(os.Stderr, "Builds object heaps and manages their snapshots.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  objimpl -demo              # Build, collect and inspect a demo heap\n")
		fmt.Fprintf(os.Stderr, "  objimpl -demo -save        # Also archive a snapshot of it\n")
		fmt.Fprintf(os.Stderr, "  objimpl -list              # List archived snapshots\n")
		fmt.Fprintf(os.Stderr, "  objimpl -show <id>         # Restore and inspect a snapshot\n")
		fmt.Fprintf(os.Stderr, "  objimpl -demo -serve       # Serve the demo heap for inspection\n")
		fmt.Fprintf(os.Stderr, "  objimpl -remote roots      # List the roots of a served heap\n")
	}
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	verbosity := cfg.Log.Verbosity
	if *verbose >= 0 {
		verbosity = *verbose
	}
	var logPath *string
	if cfg.Log.File != "" {
		logPath = &cfg.Log.File
	}
	commonlog.Configure(verbosity, logPath)

	if *dbPath == "" {
		*dbPath = cfg.SnapshotDBPath()
	}
	heapCfg, err := cfg.HeapConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *addr == "" {
		*addr = cfg.Server.Addr
	}

	ctx := context.Background()
	ran := false
	var served *vm.Heap

	if *remote != "" {
		if err := runRemote(ctx, *addr, *remote, flag.Args()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if *demo {
		ran = true
		h, err := buildDemo(heapCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error building demo heap: %v\n", err)
			os.Exit(1)
		}
		minor := h.Collector().CollectNursery()
		major := h.Collector().Collect()
		fmt.Printf("minor collection: swept %d, tenured %d\n", minor.Swept, minor.Tenured)
		fmt.Printf("major collection: swept %d, marked %d\n", major.Swept, major.Marked)
		printHeap(h)
		served = h

		if *save {
			if err := saveSnapshot(ctx, *dbPath, h, *label); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}
	}

	if *list {
		ran = true
		if err := listSnapshots(ctx, *dbPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if *show != "" {
		ran = true
		h, err := showSnapshot(ctx, *dbPath, *show, heapCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		served = h
	}

	if *del != "" {
		ran = true
		if err := withStore(*dbPath, func(st *snapshot.Store) error { return st.Delete(ctx, *del) }); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("deleted %s\n", *del)
	}

	if *serve {
		if served == nil {
			fmt.Fprintf(os.Stderr, "Error: -serve needs -demo or -show\n")
			os.Exit(2)
		}
		ttl, err := cfg.HandleTTL()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := serveHeap(served, *addr, *dbPath, ttl); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if !ran {
		flag.Usage()
		os.Exit(2)
	}
}

// serveHeap serves h until interrupted. Snapshots taken through the server
// go to dbPath.
func serveHeap(h *vm.Heap, addr, dbPath string, ttl time.Duration) error {
	st, err := snapshot.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	h.Collector().Start()
	defer h.Collector().Stop()

	srv := server.New(h, server.WithSnapshotStore(st), server.WithHandleTTL(ttl/6, ttl))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(addr) }()

	fmt.Printf("objimpl inspection server listening on %s\n", addr)
	fmt.Printf("  Connect (HTTP/CBOR): http://%s%s\n", addr, server.StatsProcedure)
	fmt.Printf("  gRPC (CBOR):         grpc://%s\n", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		srv.Stop()
		return err
	case <-sigCh:
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// runRemote runs one command against a running server.
func runRemote(ctx context.Context, addr, cmd string, args []string) error {
	c, err := server.Dial(addr)
	if err != nil {
		return err
	}
	defer c.Close()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch cmd {
	case "stats":
		s, err := c.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("heap %s: %d live, %d nursery, %d roots, %d handles, %d collections\n",
			s.HeapID, s.Heap.Live, s.Heap.Nursery, s.Heap.Roots, s.Handles, s.Sweeps)
	case "collect", "minor":
		r, err := c.Collect(ctx, cmd == "minor")
		if err != nil {
			return err
		}
		fmt.Printf("swept %d, marked %d, tenured %d in %s\n", r.Stats.Swept, r.Stats.Marked, r.Stats.Tenured, r.Stats.Duration)
	case "roots":
		r, err := c.Roots(ctx)
		if err != nil {
			return err
		}
		for _, root := range r.Roots {
			fmt.Printf("%-8s %-12s %s\n", root.HandleID, root.Class, root.Display)
		}
	case "inspect":
		if len(args) == 0 {
			return fmt.Errorf("inspect needs a handle")
		}
		var r *server.InspectResponse
		if len(args) > 1 {
			r, err = c.InspectSlot(ctx, args[0], strings.Join(args[1:], " "))
		} else {
			r, err = c.Inspect(ctx, args[0], 0)
		}
		if err != nil {
			return err
		}
		if r.Handle != nil {
			fmt.Printf("handle %s\n", r.Handle.HandleID)
		}
		fmt.Print(r.Text)
	case "snapshot":
		label := ""
		if len(args) > 0 {
			label = args[0]
		}
		r, err := c.Snapshot(ctx, label)
		if err != nil {
			return err
		}
		fmt.Printf("saved snapshot %s (%d objects)\n", r.ID, r.Objects)
	default:
		return fmt.Errorf("unknown remote command %q", cmd)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	cfg, err := config.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// buildDemo populates a heap with one object of each storage family plus
// some garbage for the collector.
func buildDemo(cfg vm.HeapConfig) (*vm.Heap, error) {
	h := vm.NewHeap(cfg)

	proto, err := h.NewPlainObject(vm.AllocKind4, vm.Null)
	if err != nil {
		return nil, err
	}
	point, err := h.NewPlainObject(vm.AllocKind4, proto.ToValue())
	if err != nil {
		return nil, err
	}
	for i, name := range []string{"x", "y", "z", "w", "label", "next"} {
		if _, err := point.DefineProperty(vm.NameKey(name), vm.FromSmallInt(int64(i))); err != nil {
			return nil, err
		}
	}

	arr, err := h.NewArray(6)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < 20; i++ {
		if err := arr.SetElement(i, vm.FromNumber(float64(i)*1.5)); err != nil {
			return nil, err
		}
	}

	sparse, err := h.NewArray(0)
	if err != nil {
		return nil, err
	}
	for _, idx := range []uint32{0, 1, 1_000_000} {
		if err := sparse.SetElement(idx, point.ToValue()); err != nil {
			return nil, err
		}
	}

	buf, err := h.NewArrayBuffer(16)
	if err != nil {
		return nil, err
	}
	view, err := h.NewTypedArrayOnBuffer(vm.KindUint8Clamped, buf, 4, 8)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < 8; i++ {
		if err := view.SetElement(i, vm.FromFloat64(float64(i)*60.4)); err != nil {
			return nil, err
		}
	}

	root, err := h.NewPlainObject(vm.AllocKind8, vm.Null)
	if err != nil {
		return nil, err
	}
	for _, o := range []*vm.Object{point, arr, sparse, view} {
		if _, err := root.DefineProperty(vm.NameKey(fmt.Sprintf("o%d", o.Handle())), o.ToValue()); err != nil {
			return nil, err
		}
	}
	h.AddRoot(root)

	for i := 0; i < 10; i++ {
		if _, err := h.NewArray(4); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func printHeap(h *vm.Heap) {
	stats := h.Stats()
	fmt.Printf("heap %s: %d live objects, %d roots, %d extra bytes\n\n",
		h.ID(), stats.Live, stats.Roots, stats.ExtraBytes)
	fmt.Print(vm.NewInspector(h).Describe(1))
}

func withStore(path string, fn func(st *snapshot.Store) error) error {
	st, err := snapshot.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func saveSnapshot(ctx context.Context, path string, h *vm.Heap, label string) error {
	s, err := snapshot.Capture(h, label)
	if err != nil {
		return err
	}
	if err := withStore(path, func(st *snapshot.Store) error { return st.Save(ctx, s) }); err != nil {
		return err
	}
	fmt.Printf("saved snapshot %s\n", s.ID)
	return nil
}

func listSnapshots(ctx context.Context, path string) error {
	return withStore(path, func(st *snapshot.Store) error {
		sums, err := st.List(ctx)
		if err != nil {
			return err
		}
		for _, s := range sums {
			fmt.Printf("%s  %s  %-12s %5d objects %8d bytes\n",
				s.ID, s.Created.Format(time.RFC3339), s.Label, s.Objects, s.Size)
		}
		return nil
	})
}

func showSnapshot(ctx context.Context, path, id string, cfg vm.HeapConfig) (*vm.Heap, error) {
	var h *vm.Heap
	err := withStore(path, func(st *snapshot.Store) error {
		s, err := st.Load(ctx, id)
		if err != nil {
			return err
		}
		h, err = snapshot.Restore(s, cfg, vm.NewBuiltinClassTable())
		if err != nil {
			return err
		}
		fmt.Printf("snapshot %s (%q) of heap %s\n", s.ID, s.Label, s.HeapID)
		printHeap(h)
		return nil
	})
	return h, err
}
