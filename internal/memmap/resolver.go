package memmap

import (
	"context"
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/muurk/stagehand/internal/target"
)

// Mode selects how a Reference value is interpreted.
type Mode int

const (
	// ModeAbsolute treats the value as an address in a stage's view.
	ModeAbsolute Mode = iota
	// ModeOffset treats the value as an offset into the boot region.
	ModeOffset
)

func (m Mode) String() string {
	if m == ModeOffset {
		return "offset"
	}
	return "absolute"
}

// Reference is a logical address before translation.
type Reference struct {
	Mode  Mode
	Value uint64
	// Space tags the reference. SpaceAny means the core's current
	// security state.
	Space target.Space
}

// Offset returns a boot-region offset reference.
func Offset(v uint64) Reference {
	return Reference{Mode: ModeOffset, Value: v}
}

// Absolute returns an absolute reference for a.
func Absolute(a target.Address) Reference {
	return Reference{Mode: ModeAbsolute, Value: a.Value, Space: a.Space}
}

func (r Reference) String() string {
	if r.Mode == ModeOffset {
		return fmt.Sprintf("boot+0x%x", r.Value)
	}
	return target.Address{Space: r.Space, Value: r.Value}.String()
}

// StateReader is the part of a session the resolver reads from.
type StateReader interface {
	SecurityState(ctx context.Context) (target.Space, error)
	ReadMemory(ctx context.Context, addr uint64, size int) ([]byte, error)
}

// Options tunes resolution.
type Options struct {
	// SkipProbes treats every memory controller as online.
	SkipProbes bool
	// ProbeUnverified also runs controller probes not yet confirmed on
	// hardware. Without it such controllers are treated as online.
	ProbeUnverified bool
}

// Resolver translates references against one platform's memory map.
type Resolver struct {
	platform *Platform
	opts     Options
	logger   *zap.Logger
}

// NewResolver creates a resolver for platform.
func NewResolver(platform *Platform, opts Options, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		platform: platform,
		opts:     opts,
		logger:   logger,
	}
}

// Platform returns the platform the resolver translates for.
func (r *Resolver) Platform() *Platform {
	return r.platform
}

// Resolve translates ref into a concrete address. It reads the current
// security state from sess on every call.
func (r *Resolver) Resolve(ctx context.Context, sess StateReader, ref Reference) (target.Address, error) {
	space := ref.Space
	if space == target.SpaceAny {
		current, err := sess.SecurityState(ctx)
		if err != nil {
			return target.Address{}, &ResolutionError{
				Reference: ref,
				Reason:    "security state unavailable",
				Err:       err,
			}
		}
		space = current
	}

	var (
		addr target.Address
		err  error
	)
	switch ref.Mode {
	case ModeOffset:
		addr, err = r.resolveOffset(ctx, sess, ref, space)
	default:
		addr, err = r.resolveAbsolute(ctx, sess, ref, space)
	}
	if err != nil {
		return target.Address{}, err
	}

	r.logger.Debug("resolved address",
		zap.String("platform", r.platform.Name),
		zap.String("reference", ref.String()),
		zap.String("mode", ref.Mode.String()),
		zap.String("address", addr.String()),
	)
	return addr, nil
}

func (r *Resolver) resolveOffset(ctx context.Context, sess StateReader, ref Reference, space target.Space) (target.Address, error) {
	boot, _ := r.platform.Region(r.platform.BootRegion)
	_, tgt, ok := boot.view(space)
	if !ok {
		return target.Address{}, &ResolutionError{
			Reference: ref,
			Space:     space,
			Region:    boot.Name,
			Reason:    "boot region is not visible from this space",
		}
	}
	if ref.Value >= boot.Size {
		return target.Address{}, &ResolutionError{
			Reference: ref,
			Space:     space,
			Region:    boot.Name,
			Reason:    fmt.Sprintf("offset exceeds region size 0x%x", boot.Size),
		}
	}
	if err := r.checkOnline(ctx, sess, ref, space, boot); err != nil {
		return target.Address{}, err
	}
	return target.Address{Space: space, Value: tgt + ref.Value}, nil
}

func (r *Resolver) resolveAbsolute(ctx context.Context, sess StateReader, ref Reference, space target.Space) (target.Address, error) {
	for _, region := range r.platform.Regions {
		base, tgt, ok := region.view(space)
		if !ok || ref.Value < base || ref.Value-base >= region.Size {
			continue
		}
		if err := r.checkOnline(ctx, sess, ref, space, region); err != nil {
			return target.Address{}, err
		}
		return target.Address{Space: space, Value: tgt + (ref.Value - base)}, nil
	}
	return target.Address{}, &ResolutionError{
		Reference: ref,
		Space:     space,
		Reason:    fmt.Sprintf("no %s region maps this address", r.platform.Name),
	}
}

// checkOnline probes the controller a region depends on.
func (r *Resolver) checkOnline(ctx context.Context, sess StateReader, ref Reference, space target.Space, region *Region) error {
	if region.Requires == "" || r.opts.SkipProbes {
		return nil
	}
	ctrl := r.platform.Controllers[region.Requires]
	if !ctrl.Verified && !r.opts.ProbeUnverified {
		r.logger.Info("skipping unverified controller probe",
			zap.String("controller", region.Requires),
			zap.Uint64("address", ctrl.Address),
		)
		return nil
	}
	data, err := sess.ReadMemory(ctx, ctrl.Address, 4)
	if err != nil || len(data) < 4 {
		return &ResolutionError{
			Reference: ref,
			Space:     space,
			Region:    region.Name,
			Reason:    fmt.Sprintf("cannot read %s controller status at 0x%08x", region.Requires, ctrl.Address),
			Err:       err,
		}
	}
	status := binary.LittleEndian.Uint32(data)
	if status&ctrl.Mask != ctrl.Value {
		return &ResolutionError{
			Reference: ref,
			Space:     space,
			Region:    region.Name,
			Reason:    fmt.Sprintf("%s controller not online (status 0x%08x)", region.Requires, status),
		}
	}
	return nil
}
