// Package loader installs a boot stage into a halted target: its debug
// symbols into the session and its raw image into target memory.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/stagehand/internal/logging"
	"github.com/muurk/stagehand/internal/target"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum returns the CRC32C of data, the checksum the boot monitor
// uses for images.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// Options tunes stage loading.
type Options struct {
	// Verify reads the image back after writing and compares checksums.
	Verify bool
}

// Result describes a loaded stage.
type Result struct {
	Stage       string        `json:"stage"`
	SymbolPath  string        `json:"symbol_path"`
	BinaryPath  string        `json:"binary_path"`
	LoadAddress uint64        `json:"load_address"`
	Entry       uint64        `json:"entry"`
	Size        int           `json:"size"`
	Checksum    uint32        `json:"crc32c"`
	Symbols     int           `json:"symbols"`
	Verified    bool          `json:"verified"`
	Duration    time.Duration `json:"duration"`
}

// Loader loads stage images.
type Loader struct {
	opts   Options
	logger *zap.Logger
}

// New creates a Loader.
func New(opts Options, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{opts: opts, logger: logger}
}

// LoadStage loads symbolPath's symbols for stage, then writes the
// contents of binaryPath at the load address the symbol image declares.
// The two steps are independent: a failed write does not undo the
// symbols, and a failed symbol load leaves memory untouched.
func (l *Loader) LoadStage(ctx context.Context, sess target.Session, stage, symbolPath, binaryPath string) (*Result, error) {
	start := time.Now()
	logger := l.logger.With(zap.String("stage", stage))

	if err := target.RequireHalted(ctx, sess, "load stage "+stage); err != nil {
		return nil, err
	}

	image, err := os.ReadFile(binaryPath)
	if err != nil {
		return nil, &ImageLoadError{Stage: stage, Path: binaryPath, Op: "read", Err: err}
	}
	if len(image) == 0 {
		return nil, &ImageLoadError{Stage: stage, Path: binaryPath, Op: "read", Err: errors.New("image is empty")}
	}

	logger.Info("loading stage symbols", zap.String("path", symbolPath))
	img, err := sess.LoadSymbols(ctx, stage, symbolPath)
	if err != nil {
		return nil, &LoadSymbolError{Stage: stage, Path: symbolPath, Err: err}
	}

	result := &Result{
		Stage:       stage,
		SymbolPath:  symbolPath,
		BinaryPath:  binaryPath,
		LoadAddress: img.LoadAddress,
		Entry:       img.Entry,
		Size:        len(image),
		Checksum:    Checksum(image),
		Symbols:     len(img.Symbols),
	}

	logger.Info("writing stage image",
		zap.String("path", binaryPath),
		logging.Address("address", img.LoadAddress),
		zap.Int("size", len(image)),
		zap.String("crc32c", fmt.Sprintf("%08x", result.Checksum)),
	)
	if err := sess.WriteMemory(ctx, img.LoadAddress, image); err != nil {
		return nil, &ImageLoadError{Stage: stage, Path: binaryPath, Op: "write", Address: img.LoadAddress, Err: err}
	}

	if l.opts.Verify {
		if err := l.verify(ctx, sess, img.LoadAddress, image); err != nil {
			return nil, &ImageLoadError{Stage: stage, Path: binaryPath, Op: "verify", Address: img.LoadAddress, Err: err}
		}
		result.Verified = true
	}

	result.Duration = time.Since(start)
	logger.Info("stage loaded",
		zap.Int("symbols", result.Symbols),
		zap.Bool("verified", result.Verified),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (l *Loader) verify(ctx context.Context, sess target.Session, addr uint64, want []byte) error {
	got, err := sess.ReadMemory(ctx, addr, len(want))
	if err != nil {
		return fmt.Errorf("read back: %w", err)
	}
	if bytes.Equal(got, want) {
		return nil
	}
	l.logger.Warn("read back mismatch",
		logging.Address("address", addr),
		logging.HexDump("got", got),
		logging.HexDump("want", want),
	)
	return fmt.Errorf("read back crc32c %08x, expected %08x", Checksum(got), Checksum(want))
}
