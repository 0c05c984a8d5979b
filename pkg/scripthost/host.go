// Package scripthost embeds the ECMAScript runtime spec.md §4.5
// describes: a single goroutine owns a goja.Runtime; each Cluster's
// ClusterRef lives in an Arena keyed by opaque Handle, while Provider,
// Role and Storage objects carry their opaque ref in a __ref field.
// Script calls that do real work package themselves into a job and
// hand it to a worker goroutine; the worker reports back by enqueueing
// a second job that resolves or rejects the waiting promise, and only
// the Host's own goroutine ever runs that job, satisfying I5 (no
// concurrent host-object access).
package scripthost

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/discoproj/disco/pkg/discoerr"
	"github.com/dop251/goja"
)

// Host owns one goja.Runtime and the single goroutine that is allowed
// to touch it. Construct with New, load a module with LoadModule, then
// drive entry points with Invoke (for a one-shot call that must
// complete before returning, e.g. the CLI's bootstrap) or Enqueue+Pump
// (for a long-running daemon that reacts to events after its initial
// entry points have run).
type Host struct {
	rt      *goja.Runtime
	arena   *Arena
	backend Backend
	watcher Watcher
	stdin   *bufio.Reader
	stdout  io.Writer

	jobs chan func()
	ctx  context.Context
}

// New constructs a Script Host. backend fulfills the asynchronous host
// bindings (provider calls, SSH, scale); watcher, if non-nil, backs
// disco.key(k).on("change", ...).
func New(backend Backend, watcher Watcher, stdin io.Reader, stdout io.Writer) *Host {
	h := &Host{
		rt:      goja.New(),
		arena:   NewArena(),
		backend: backend,
		watcher: watcher,
		stdin:   bufio.NewReader(stdin),
		stdout:  stdout,
		jobs:    make(chan func(), 64),
		ctx:     context.Background(),
	}
	h.registerGlobals()
	return h
}

// LoadModule compiles and evaluates src's top-level code (cluster.js or
// client.js). Top-level code is expected to only declare the async
// functions named in spec.md §4.5 (init, bootstrap, leader); it must
// not itself await anything, since nothing is pumping jobs yet.
func (h *Host) LoadModule(name, src string) error {
	prog, err := goja.Compile(name, src, true)
	if err != nil {
		return &discoerr.Script{Err: fmt.Errorf("compile %s: %w", name, err)}
	}
	if _, err := h.rt.RunProgram(prog); err != nil {
		return &discoerr.Script{Err: err}
	}
	return nil
}

// Enqueue schedules job to run on the Host's owning goroutine. Safe to
// call from any goroutine; this is the only thread-safe entry point
// into a running Host other than the initial New/LoadModule/Invoke call
// made before any other goroutine exists.
func (h *Host) Enqueue(job func()) {
	h.jobs <- job
}

// Pump runs forever on the calling goroutine, executing jobs as they
// arrive, until ctx is cancelled. Call it after the node daemon's
// initial entry points have settled, to keep servicing host-callback
// notifications (leadership changes, watched-key changes) for the rest
// of the process's life. The caller becomes the Host's owning
// goroutine for as long as Pump runs.
func (h *Host) Pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-h.jobs:
			job()
		}
	}
}

// Invoke calls the named top-level async function with args, blocking
// the calling goroutine until its promise settles -- draining h.jobs
// itself while it waits, so nested Invoke calls (e.g. leader() invoked
// from inside a job dispatched while bootstrap() is still pending) stay
// on the same goroutine. Must only ever be called from the Host's
// single owning goroutine: either the goroutine that called New (before
// Pump starts), or from inside a job run by Pump/a previous Invoke.
func (h *Host) Invoke(ctx context.Context, name string, args ...interface{}) (interface{}, error) {
	fn := h.rt.Get(name)
	if fn == nil || goja.IsUndefined(fn) {
		return nil, nil
	}
	callable, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, &discoerr.Script{Err: fmt.Errorf("%s is not a function", name)}
	}

	prev := h.ctx
	h.ctx = ctx
	defer func() { h.ctx = prev }()

	argv := make([]goja.Value, len(args))
	for i, a := range args {
		argv[i] = h.rt.ToValue(a)
	}

	result, err := callable(goja.Undefined(), argv...)
	if err != nil {
		return nil, &discoerr.Script{Err: err}
	}

	promise, ok := result.Export().(*goja.Promise)
	if !ok {
		// A synchronous (non-async) entry point: nothing to await.
		return result.Export(), nil
	}

	for {
		switch promise.State() {
		case goja.PromiseStateFulfilled:
			return promise.Result().Export(), nil
		case goja.PromiseStateRejected:
			return nil, &discoerr.Script{Err: fmt.Errorf("%v", promise.Result().Export())}
		default:
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case job := <-h.jobs:
				job()
			}
		}
	}
}

// asyncCall is the shape every host binding that does real work uses:
// it returns a promise to script immediately, runs work on its own
// goroutine, and resolves or rejects the promise back on the Host's
// goroutine via Enqueue. onSuccess converts work's result into a
// script value; pass nil to resolve with undefined.
func (h *Host) asyncCall(work func(ctx context.Context) (interface{}, error), onSuccess func(interface{}) goja.Value) goja.Value {
	promise, resolve, reject := h.rt.NewPromise()
	ctx := h.ctx
	go func() {
		v, err := work(ctx)
		h.Enqueue(func() {
			if err != nil {
				reject(h.rt.NewGoError(err))
				return
			}
			out := goja.Value(goja.Undefined())
			if onSuccess != nil {
				out = onSuccess(v)
			}
			resolve(out)
		})
	}()
	return h.rt.ToValue(promise)
}

// watchKey subscribes cb to changes on key, dispatching each
// notification as a job so it always runs on the owning goroutine, in
// arrival order, per spec.md §5's ordering guarantee.
func (h *Host) watchKey(key string, cb goja.Callable) {
	if h.watcher == nil {
		return
	}
	ch, err := h.watcher.WatchKey(h.ctx, key)
	if err != nil {
		fmt.Fprintf(h.stdout, "disco.key(%q): watch failed: %v\n", key, err)
		return
	}
	go func() {
		for change := range ch {
			c := change
			h.Enqueue(func() {
				cb(goja.Undefined(), h.rt.ToValue(c.Key), h.rt.ToValue(c.Value), h.rt.ToValue(c.Deleted))
			})
		}
	}()
}

// readYesNo blocks on stdin for a yes/no answer, used by the ask()
// binding. It runs on a worker goroutine spawned by asyncCall, never on
// the Host's own goroutine, since it is a suspension point (spec.md §5).
func (h *Host) readYesNo(prompt string) (bool, error) {
	fmt.Fprintf(h.stdout, "%s [y/N] ", prompt)
	line, err := h.stdin.ReadString('\n')
	if err != nil && line == "" {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// Arena exposes the handle table for tests and metrics.
func (h *Host) Arena() *Arena {
	return h.arena
}

// LastClusterRef returns the ClusterRef behind the most recently
// constructed `new Cluster(...)`, so the CLI's bootstrap command can
// call Orchestrator.Init after a script's bootstrap() resolves: step 6
// of spec.md §4.6's sequence has no script binding of its own.
func (h *Host) LastClusterRef() (ClusterRef, bool) {
	_, v, ok := h.arena.Last()
	if !ok {
		return "", false
	}
	ref, ok := v.(ClusterRef)
	return ref, ok
}
