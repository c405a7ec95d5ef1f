// Package inject drives one boot stage through positioning and loading
// on a live target session, and chains stages into a boot sequence.
//
// Positioning differs for the first stage and the rest. The first stage
// starts from a clean slate: every breakpoint is cleared and the PC is
// pointed at an offset into the boot region. Later stages wait for the
// previous stage to reach the hand-off point with a run-to. The stage
// loader then installs symbols and image. The target is never resumed;
// continuing execution is left to the operator.
package inject

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/muurk/stagehand/internal/loader"
	"github.com/muurk/stagehand/internal/memmap"
	"github.com/muurk/stagehand/internal/runto"
	"github.com/muurk/stagehand/internal/target"
)

// Phase is the lifecycle state of a stage injection.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePositioned
	PhaseLoaded
)

func (p Phase) String() string {
	switch p {
	case PhasePositioned:
		return "positioned"
	case PhaseLoaded:
		return "loaded"
	default:
		return "idle"
	}
}

// MarshalText encodes the phase by name in reports.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Descriptor describes one stage to inject.
type Descriptor struct {
	Name string
	// Condition is where a non-first stage takes over.
	Condition runto.Condition
	// SymbolPath is the debug-symbol-bearing image of the stage.
	SymbolPath string
	// BinaryPath is the raw image written to target memory.
	BinaryPath string
	// First marks the stage that starts the chain from reset.
	First bool
	// Offset into the boot region where the first stage starts.
	Offset uint64
}

// Status of an Event.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Event is emitted as an injection progresses.
type Event struct {
	Stage   string `json:"stage"`
	Op      string `json:"op"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// Options tunes the orchestrator.
type Options struct {
	// HaltFirst halts a running target before positioning.
	HaltFirst bool
	// OnEvent receives progress events. It is called synchronously.
	OnEvent func(Event)
}

// Report is the outcome of one stage injection.
type Report struct {
	RunID    string          `json:"run_id"`
	Stage    string          `json:"stage"`
	Phase    Phase           `json:"phase"`
	Position *target.Address `json:"position,omitempty"`
	Load     *loader.Result  `json:"load,omitempty"`
	Duration time.Duration   `json:"duration"`
	Error    string          `json:"error,omitempty"`
}

// Orchestrator injects stages. Calls on the same session are
// serialised; calls on different sessions run independently.
type Orchestrator struct {
	resolver *memmap.Resolver
	runner   *runto.Controller
	loader   *loader.Loader
	opts     Options
	logger   *zap.Logger

	mu    sync.Mutex
	locks map[target.Session]*sync.Mutex
}

// New creates an Orchestrator.
func New(resolver *memmap.Resolver, runner *runto.Controller, ld *loader.Loader, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		resolver: resolver,
		runner:   runner,
		loader:   ld,
		opts:     opts,
		logger:   logger,
		locks:    make(map[target.Session]*sync.Mutex),
	}
}

func (o *Orchestrator) sessionLock(sess target.Session) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[sess]
	if !ok {
		l = &sync.Mutex{}
		o.locks[sess] = l
	}
	return l
}

func (o *Orchestrator) emit(stage, op string, status Status, format string, args ...interface{}) {
	if o.opts.OnEvent == nil {
		return
	}
	o.opts.OnEvent(Event{Stage: stage, Op: op, Status: status, Message: fmt.Sprintf(format, args...)})
}

// Inject positions the target for desc and loads the stage. The
// returned report is non-nil even on failure.
func (o *Orchestrator) Inject(ctx context.Context, sess target.Session, desc Descriptor) (*Report, error) {
	lock := o.sessionLock(sess)
	lock.Lock()
	defer lock.Unlock()

	return o.inject(ctx, sess, desc, uuid.NewString())
}

// Chain injects descs in order on one session, stopping at the first
// failure. Symbols loaded by earlier stages stay in the session.
func (o *Orchestrator) Chain(ctx context.Context, sess target.Session, descs []Descriptor) ([]*Report, error) {
	lock := o.sessionLock(sess)
	lock.Lock()
	defer lock.Unlock()

	runID := uuid.NewString()
	reports := make([]*Report, 0, len(descs))
	for _, desc := range descs {
		report, err := o.inject(ctx, sess, desc, runID)
		reports = append(reports, report)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

func (o *Orchestrator) inject(ctx context.Context, sess target.Session, desc Descriptor, runID string) (*Report, error) {
	start := time.Now()
	logger := o.logger.With(
		zap.String("run_id", runID),
		zap.String("stage", desc.Name),
	)
	report := &Report{RunID: runID, Stage: desc.Name, Phase: PhaseIdle}

	fail := func(op string, err error) (*Report, error) {
		o.emit(desc.Name, op, StatusFailed, "%v", err)
		logger.Error("stage injection failed",
			zap.String("op", op),
			zap.Stringer("phase", report.Phase),
			zap.Error(err),
		)
		report.Duration = time.Since(start)
		report.Error = err.Error()
		return report, &PhaseError{Stage: desc.Name, Phase: report.Phase, Op: op, Err: err}
	}

	logger.Info("injecting stage",
		zap.Bool("first", desc.First),
		zap.String("symbols", desc.SymbolPath),
		zap.String("binary", desc.BinaryPath),
	)

	if o.opts.HaltFirst {
		o.emit(desc.Name, "halt", StatusRunning, "Stopping target")
		if err := haltIfRunning(ctx, sess); err != nil {
			return fail("halt", err)
		}
		o.emit(desc.Name, "halt", StatusSuccess, "Target halted")
	}

	var (
		pos target.Address
		err error
	)
	if desc.First {
		o.emit(desc.Name, "position", StatusRunning, "Resetting PC to boot offset 0x%x", desc.Offset)
		pos, err = o.positionFirst(ctx, sess, desc)
	} else {
		o.emit(desc.Name, "position", StatusRunning, "Running to %s", desc.Condition)
		pos, err = o.positionAfter(ctx, sess, desc)
	}
	if err != nil {
		return fail("position", err)
	}
	report.Phase = PhasePositioned
	report.Position = &pos
	o.emit(desc.Name, "position", StatusSuccess, "Positioned at %s", pos)
	logger.Info("stage positioned", zap.String("pc", pos.String()))

	o.emit(desc.Name, "load", StatusRunning, "Loading %s", desc.BinaryPath)
	res, err := o.loader.LoadStage(ctx, sess, desc.Name, desc.SymbolPath, desc.BinaryPath)
	if err != nil {
		return fail("load", err)
	}
	report.Phase = PhaseLoaded
	report.Load = res
	report.Duration = time.Since(start)
	o.emit(desc.Name, "load", StatusSuccess, "Loaded %d bytes at 0x%08x", res.Size, res.LoadAddress)

	logger.Info("stage injected", zap.Duration("duration", report.Duration))
	return report, nil
}

// positionFirst clears every breakpoint and points the PC at the boot
// region offset. Breakpoints are left alone unless the offset resolves
// and the target is halted.
func (o *Orchestrator) positionFirst(ctx context.Context, sess target.Session, desc Descriptor) (target.Address, error) {
	addr, err := o.resolver.Resolve(ctx, sess, memmap.Offset(desc.Offset))
	if err != nil {
		return target.Address{}, err
	}
	if err := target.RequireHalted(ctx, sess, "set pc"); err != nil {
		return target.Address{}, err
	}
	if err := sess.RemoveAllBreakpoints(ctx); err != nil {
		return target.Address{}, fmt.Errorf("clear breakpoints: %w", err)
	}
	if err := sess.SetPC(ctx, addr); err != nil {
		return target.Address{}, fmt.Errorf("set pc to %s: %w", addr, err)
	}
	return addr, nil
}

func (o *Orchestrator) positionAfter(ctx context.Context, sess target.Session, desc Descriptor) (target.Address, error) {
	if err := o.runner.RunTo(ctx, sess, desc.Condition); err != nil {
		return target.Address{}, err
	}
	return sess.PC(ctx)
}

func haltIfRunning(ctx context.Context, sess target.Session) error {
	state, err := sess.State(ctx)
	if err != nil {
		return err
	}
	if state == target.StateHalted {
		return nil
	}
	return sess.Halt(ctx)
}
