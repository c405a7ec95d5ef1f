// Package runto resumes a halted target until execution reaches a boot
// stage entry point or an address, then leaves it halted there.
package runto

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/stagehand/internal/memmap"
	"github.com/muurk/stagehand/internal/target"
)

// DefaultTimeout bounds a single run-to when none is configured.
const DefaultTimeout = 60 * time.Second

// Controller runs a target to a condition.
type Controller struct {
	resolver *memmap.Resolver
	timeout  time.Duration
	logger   *zap.Logger
}

// NewController creates a controller. A zero timeout selects
// DefaultTimeout.
func NewController(resolver *memmap.Resolver, timeout time.Duration, logger *zap.Logger) *Controller {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		resolver: resolver,
		timeout:  timeout,
		logger:   logger,
	}
}

// Timeout returns the configured wait window.
func (c *Controller) Timeout() time.Duration {
	return c.timeout
}

// Resolve turns cond into a concrete address in the session's current
// state. Stage conditions use the platform stage table: a bound symbol
// is looked up in the symbols loaded so far, falling back to the
// stage's fixed address.
func (c *Controller) Resolve(ctx context.Context, sess target.Session, cond Condition) (target.Address, error) {
	if cond.Stage == "" {
		return c.resolver.Resolve(ctx, sess, memmap.Absolute(cond.Address))
	}

	platform := c.resolver.Platform()
	stage, ok := platform.Stage(cond.Stage)
	if !ok {
		return target.Address{}, &memmap.ResolutionError{
			Name:   cond.Stage,
			Reason: fmt.Sprintf("unknown stage for %s (known: %v)", platform.Name, platform.StageNames()),
		}
	}

	literal, hasLiteral := stage.Literal()
	if stage.Symbol != "" {
		if addr, found := sess.LookupSymbol(ctx, stage.Symbol); found {
			c.logger.Debug("stage entry from symbol",
				zap.String("stage", cond.Stage),
				zap.String("symbol", stage.Symbol),
				zap.Uint64("address", addr),
			)
			return c.resolver.Resolve(ctx, sess, memmap.Absolute(target.Address{Space: literal.Space, Value: addr}))
		}
	}
	if !hasLiteral {
		return target.Address{}, &memmap.ResolutionError{
			Name:   cond.Stage,
			Reason: fmt.Sprintf("symbol %s is not loaded and the stage has no fixed address", stage.Symbol),
		}
	}
	return c.resolver.Resolve(ctx, sess, memmap.Absolute(literal))
}

// RunTo resumes the halted target until it stops at cond. On success
// the target is halted with its PC at the resolved address and no
// breakpoint armed by the controller remains.
func (c *Controller) RunTo(ctx context.Context, sess target.Session, cond Condition) error {
	if err := target.RequireHalted(ctx, sess, "run to "+cond.String()); err != nil {
		return err
	}

	addr, err := c.Resolve(ctx, sess, cond)
	if err != nil {
		return err
	}

	logger := c.logger.With(
		zap.String("condition", cond.String()),
		zap.String("address", addr.String()),
	)

	if pc, err := sess.PC(ctx); err == nil && pc.Matches(addr) {
		logger.Info("target already at run-to address")
		return nil
	}

	existing, err := target.HasBreakpoint(ctx, sess, addr)
	if err != nil {
		return fmt.Errorf("list breakpoints: %w", err)
	}
	if !existing {
		if err := sess.AddBreakpoint(ctx, addr); err != nil {
			return fmt.Errorf("arm breakpoint at %s: %w", addr, err)
		}
	}
	// Cleanup must still reach the target after ctx is cancelled.
	cleanupCtx := context.WithoutCancel(ctx)
	disarm := func() {
		if existing {
			return
		}
		if err := sess.RemoveBreakpoint(cleanupCtx, addr); err != nil {
			logger.Warn("failed to remove run-to breakpoint", zap.Error(err))
		}
	}

	logger.Info("running to condition", zap.Duration("timeout", c.timeout))
	start := time.Now()
	deadline := start.Add(c.timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return c.timedOut(cleanupCtx, sess, cond, addr, disarm)
		}

		ev, err := sess.ResumeAndWait(ctx, remaining)
		switch {
		case errors.Is(err, target.ErrWaitTimeout):
			return c.timedOut(cleanupCtx, sess, cond, addr, disarm)
		case err != nil && ctx.Err() != nil:
			_ = sess.Halt(cleanupCtx)
			disarm()
			return fmt.Errorf("run to %s: %w", cond, ctx.Err())
		case err != nil:
			disarm()
			return &AbortedError{Condition: cond, Address: addr, Err: err}
		}

		switch ev.Reason {
		case target.StopFault, target.StopTerminated:
			disarm()
			logger.Warn("target stopped abnormally",
				zap.Stringer("reason", ev.Reason),
				zap.String("pc", ev.PC.String()),
				zap.String("detail", ev.Detail),
			)
			return &AbortedError{Condition: cond, Address: addr, Reason: ev.Reason, PC: ev.PC, Detail: ev.Detail}
		}

		if ev.PC.Matches(addr) {
			break
		}
		logger.Debug("stopped before run-to address, resuming",
			zap.Stringer("reason", ev.Reason),
			zap.String("pc", ev.PC.String()),
		)
	}

	disarm()

	pc, err := sess.PC(ctx)
	if err != nil {
		return fmt.Errorf("read pc after run to %s: %w", cond, err)
	}
	if !pc.Matches(addr) {
		return &AbortedError{Condition: cond, Address: addr, Reason: target.StopHalted, PC: pc, Detail: "pc moved after stop"}
	}

	logger.Info("reached run-to address", zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (c *Controller) timedOut(ctx context.Context, sess target.Session, cond Condition, addr target.Address, disarm func()) error {
	if err := sess.Halt(ctx); err != nil {
		c.logger.Warn("failed to halt target after run-to timeout", zap.Error(err))
	}
	disarm()

	timeoutErr := &TimeoutError{Condition: cond, Address: addr, Timeout: c.timeout}
	if pc, err := sess.PC(ctx); err == nil {
		timeoutErr.PC = &pc
	}
	c.logger.Warn("run-to timed out",
		zap.String("condition", cond.String()),
		zap.String("address", addr.String()),
		zap.Duration("timeout", c.timeout),
	)
	return timeoutErr
}
