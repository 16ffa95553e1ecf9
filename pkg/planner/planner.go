// Package planner executes plans: it optimizes the graph, decides when to
// materialize, and drives parallel segment-wise execution into frame
// writers or user callbacks.
//
// The execution model is one worker per output segment, scheduled on a
// process-wide bounded pool sized to the CPU count. A worker owns its
// segment's sink exclusively, so the hot path has no cross-thread
// synchronization; coordination is limited to a shared stop flag checked at
// batch boundaries.
package planner

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"xframe/pkg/config"
	"xframe/pkg/errs"
	"xframe/pkg/logging"
	"xframe/pkg/plan"
	"xframe/pkg/tempfile"
	"xframe/pkg/types"
	"xframe/pkg/xframe"
)

// Callback receives one batch of rows for an output segment. Returning true
// asks the planner to stop: no new batches are scheduled and in-flight
// batches finish.
type Callback func(segment int, batch []xframe.Row) bool

// materializeDepthThreshold bounds plan depth before interior nodes are
// materialized to keep executor chains (and their buffered batches) small.
const materializeDepthThreshold = 32

var (
	poolOnce sync.Once
	pool     *ants.Pool

	jobCounter atomic.Uint64
)

// workerPool returns the process-wide execution pool.
func workerPool() *ants.Pool {
	poolOnce.Do(func() {
		p, err := ants.NewPool(runtime.NumCPU())
		if err != nil {
			// The only failure mode is a non-positive size.
			panic(fmt.Sprintf("planner pool init failed: %v", err))
		}
		pool = p
	})
	return pool
}

// panicError carries a worker panic to the driver for re-raise.
type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("worker panic: %v", p.value)
}

// InferLength exposes length inference on plans.
func InferLength(n *plan.Node) (int64, bool) {
	return plan.InferLength(n)
}

// InferTypes exposes type inference on plans.
func InferTypes(n *plan.Node) ([]types.Type, error) {
	return plan.InferTypes(n)
}

// Materialize executes the plan into a frame and installs the result as the
// node's cached materialization, after which the node behaves as a source.
func Materialize(node *plan.Node) (*xframe.Frame, error) {
	if f := node.Cached(); f != nil {
		return f, nil
	}

	opt := plan.Optimize(node)
	if f := opt.Cached(); f != nil {
		node.SetCached(f)
		return f, nil
	}
	if opt.Op == plan.OpSource {
		node.SetCached(opt.Frame)
		return opt.Frame, nil
	}

	if err := ensureInterior(opt, true, 0); err != nil {
		return nil, err
	}

	n := chooseSegments(opt, 0)
	colTypes, err := plan.InferTypes(opt)
	if err != nil {
		return nil, err
	}

	dir, err := tempfile.DefaultManager().NewTempDir("materialize")
	if err != nil {
		return nil, errs.Wrap(err, errs.IoFailure, "Materialize", "planner")
	}
	names := make([]string, len(colTypes)) // auto-generated X{k}
	fw, err := xframe.OpenForWrite(dir, names, colTypes, n)
	if err != nil {
		return nil, err
	}

	// Bind the per-segment sinks up front; workers then append with no
	// shared state.
	sinks := make([]*xframe.FrameSink, n)
	for s := 0; s < n; s++ {
		if sinks[s], err = fw.OutputIterator(s); err != nil {
			fw.Abort()
			return nil, err
		}
	}
	sink := func(segment int, batch []xframe.Row) (bool, error) {
		for _, row := range batch {
			if err := sinks[segment].AppendRow(row); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	if err := execute(opt, n, sink); err != nil {
		fw.Abort()
		return nil, err
	}

	out, err := fw.Close()
	if err != nil {
		return nil, err
	}
	out.BindTempDir(dir)
	node.SetCached(out)
	opt.SetCached(out)
	return out, nil
}

// MaterializeWithCallback drives the plan into a user sink with n output
// segments. The callback may stop execution early; the error return is nil
// on a clean or stopped run.
func MaterializeWithCallback(node *plan.Node, cb Callback, n int) error {
	if n < 1 {
		return errs.New(errs.OutOfRange, "segment count must be at least 1, got %d", n)
	}
	opt := plan.Optimize(node)
	if err := ensureInterior(opt, true, 0); err != nil {
		return err
	}
	return execute(opt, n, func(segment int, batch []xframe.Row) (bool, error) {
		return cb(segment, batch), nil
	})
}

// TestEqualLength reports whether two plans produce the same number of
// rows, materializing either side if its length cannot be inferred.
func TestEqualLength(a, b *plan.Node) (bool, error) {
	la, err := lengthOf(a)
	if err != nil {
		return false, err
	}
	lb, err := lengthOf(b)
	if err != nil {
		return false, err
	}
	return la == lb, nil
}

func lengthOf(n *plan.Node) (int64, error) {
	if l, ok := plan.InferLength(n); ok {
		return l, nil
	}
	f, err := Materialize(n)
	if err != nil {
		return 0, err
	}
	return f.NumRows(), nil
}

// ensureInterior materializes interior subtrees whose length execution
// needs but inference cannot provide (a logical filter below other
// operators), and deep subtrees past the depth threshold. The root itself
// may stay unknown: execution streams it.
func ensureInterior(n *plan.Node, isRoot bool, depth int) error {
	if n.IsSource() {
		return nil
	}
	for _, in := range n.Inputs {
		if err := ensureInterior(in, false, depth+1); err != nil {
			return err
		}
	}
	if isRoot {
		return nil
	}
	if _, ok := plan.InferLength(n); !ok || depth >= materializeDepthThreshold {
		logging.WithComponent("planner").Debug("materializing interior node",
			"op", n.Op.String(), "depth", depth)
		_, err := Materialize(n)
		return err
	}
	return nil
}

// chooseSegments picks the output fan-out: the primary source's segment
// count, bounded by the CPU count. userN overrides when positive.
func chooseSegments(n *plan.Node, userN int) int {
	if userN > 0 {
		return userN
	}
	segs := sourceSegments(n)
	if segs < 1 {
		segs = config.Get().DefaultNumSegments
	}
	if cpus := runtime.NumCPU(); segs > cpus {
		segs = cpus
	}
	if segs < 1 {
		segs = 1
	}
	return segs
}

// sourceSegments walks to the first materialized frame under n and returns
// its segment count, or 0 when the plan has no frame source.
func sourceSegments(n *plan.Node) int {
	if f := n.Cached(); f != nil {
		return f.NumSegments()
	}
	if n.Op == plan.OpSource {
		return n.Frame.NumSegments()
	}
	for _, in := range n.Inputs {
		if s := sourceSegments(in); s > 0 {
			return s
		}
	}
	return 0
}

// domainLength returns the row space workers are assigned over: the node's
// output length, or for a root filter the length of its filtered input.
func domainLength(n *plan.Node) (int64, error) {
	if l, ok := plan.InferLength(n); ok {
		return l, nil
	}
	if n.Op == plan.OpFilter {
		if l, ok := plan.InferLength(n.Inputs[0]); ok {
			return l, nil
		}
	}
	return 0, errs.New(errs.NotMaterialized,
		"plan length unknown; materialize the input first")
}

// execute runs the optimized plan with one worker per output segment.
// sink is called per batch with the segment id; it may request a stop.
func execute(opt *plan.Node, n int, sink func(int, []xframe.Row) (bool, error)) error {
	total, err := domainLength(opt)
	if err != nil {
		return err
	}

	jobID := jobCounter.Add(1)
	settings := config.Get()
	batchSize := settings.ReadBatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	log := logging.WithJob(jobID)
	log.Debug("executing plan", "segments", n, "rows", total)

	var stop atomic.Bool
	var wg sync.WaitGroup
	errCh := make(chan error, n)

	for s := 0; s < n; s++ {
		segment := s
		start := total * int64(segment) / int64(n)
		end := total * int64(segment+1) / int64(n)

		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					stop.Store(true)
					errCh <- &panicError{value: r}
				}
			}()

			exec, err := buildExec(opt, start, end)
			if err != nil {
				stop.Store(true)
				errCh <- err
				return
			}
			defer exec.close()

			for !stop.Load() {
				batch, err := exec.next(batchSize)
				if err != nil {
					stop.Store(true)
					errCh <- err
					return
				}
				if len(batch) == 0 {
					return
				}
				halt, err := sink(segment, batch)
				if err != nil {
					stop.Store(true)
					errCh <- err
					return
				}
				if halt {
					stop.Store(true)
					return
				}
			}
		}
		if err := workerPool().Submit(task); err != nil {
			// Pool rejected the task (released pool); run inline so the
			// job still completes.
			task()
		}
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		var pe *panicError
		if asPanic(err, &pe) {
			// Re-raise worker panics on the driver thread.
			panic(pe.value)
		}
		return err
	}
	return nil
}

func asPanic(err error, target **panicError) bool {
	pe, ok := err.(*panicError)
	if ok {
		*target = pe
	}
	return ok
}
