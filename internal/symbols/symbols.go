// Package symbols reads debug-symbol-bearing ELF images of boot stages
// and keeps a stage-scoped symbol table across a boot chain.
package symbols

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

// ErrNoLoadSegment is returned for images with nothing to load.
var ErrNoLoadSegment = errors.New("image has no loadable segment")

// Image is the parsed symbol image of one boot stage.
type Image struct {
	Stage string `json:"stage"`
	Path  string `json:"path"`
	// Entry is the ELF entry point.
	Entry uint64 `json:"entry"`
	// LoadAddress is the lowest physical address of a loadable segment
	// with file content. A flat binary of the image is placed here.
	LoadAddress uint64 `json:"load_address"`
	// TextAddress is the address of .text, used by add-symbol-file.
	TextAddress uint64            `json:"text_address"`
	Machine     string            `json:"machine"`
	Symbols     map[string]uint64 `json:"-"`
}

// Load parses the ELF file at path.
func Load(stage, path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open symbol image %s: %w", path, err)
	}
	defer f.Close()

	img := &Image{
		Stage:   stage,
		Path:    path,
		Entry:   f.Entry,
		Machine: f.Machine.String(),
		Symbols: make(map[string]uint64),
	}

	found := false
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Filesz == 0 {
			continue
		}
		if !found || p.Paddr < img.LoadAddress {
			img.LoadAddress = p.Paddr
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("%s: %w", path, ErrNoLoadSegment)
	}

	if text := f.Section(".text"); text != nil {
		img.TextAddress = text.Addr
	} else {
		img.TextAddress = img.LoadAddress
	}

	syms, err := f.Symbols()
	if err != nil {
		return nil, fmt.Errorf("read symbols from %s: %w", path, err)
	}
	for _, s := range syms {
		if s.Name == "" || s.Section == elf.SHN_UNDEF {
			continue
		}
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_FUNC, elf.STT_OBJECT, elf.STT_NOTYPE:
			img.Symbols[s.Name] = s.Value
		}
	}
	return img, nil
}

// Lookup returns the address of name in this image.
func (img *Image) Lookup(name string) (uint64, bool) {
	addr, ok := img.Symbols[name]
	return addr, ok
}

// Table holds the images loaded so far, in load order. Loading a stage
// again replaces its previous image.
type Table struct {
	mu     sync.RWMutex
	images []*Image
}

func NewTable() *Table {
	return &Table{}
}

// Add appends img, replacing any image previously loaded for the same
// stage.
func (t *Table) Add(img *Image) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.images {
		if existing.Stage == img.Stage {
			t.images = append(t.images[:i], t.images[i+1:]...)
			break
		}
	}
	t.images = append(t.images, img)
}

// Lookup searches the most recently loaded stage first and returns the
// address and the stage that defined name.
func (t *Table) Lookup(name string) (uint64, string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(t.images) - 1; i >= 0; i-- {
		if addr, ok := t.images[i].Lookup(name); ok {
			return addr, t.images[i].Stage, true
		}
	}
	return 0, "", false
}

// Stage returns the image loaded for stage.
func (t *Table) Stage(stage string) (*Image, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, img := range t.images {
		if img.Stage == stage {
			return img, true
		}
	}
	return nil, false
}

// Stages lists the loaded stages in load order.
func (t *Table) Stages() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.images))
	for _, img := range t.images {
		out = append(out, img.Stage)
	}
	return out
}

// WriteGDBScript writes add-symbol-file commands for every loaded
// stage so a GDB session can be brought to the same symbol state.
func (t *Table) WriteGDBScript(w io.Writer) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, img := range t.images {
		if _, err := fmt.Fprintf(w, "# %s\nadd-symbol-file %s 0x%x\n", img.Stage, img.Path, img.TextAddress); err != nil {
			return err
		}
	}
	return nil
}

// SortedNames returns the image's symbol names in address order.
func (img *Image) SortedNames() []string {
	names := make([]string, 0, len(img.Symbols))
	for n := range img.Symbols {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		ai, aj := img.Symbols[names[i]], img.Symbols[names[j]]
		if ai != aj {
			return ai < aj
		}
		return names[i] < names[j]
	})
	return names
}
