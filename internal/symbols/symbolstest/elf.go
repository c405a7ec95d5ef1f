// Package symbolstest builds small ELF images for tests that need a
// symbol-bearing stage image on disk.
package symbolstest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// Image describes the ELF to generate.
type Image struct {
	// LoadAddress is the physical address of the single PT_LOAD segment.
	LoadAddress uint32
	// VirtAddress defaults to LoadAddress.
	VirtAddress uint32
	Entry       uint32
	// Text is the segment content. A four byte branch-to-self is used
	// when empty.
	Text    []byte
	Symbols map[string]uint32
}

const (
	ehsize    = 52
	phentsize = 32
	shentsize = 40
	symsize   = 16
)

// Write encodes img as a little-endian ARM ELF32 file in dir and
// returns its path.
func Write(t testing.TB, dir, name string, img Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, Encode(img), 0o644); err != nil {
		t.Fatalf("write ELF %s: %v", path, err)
	}
	return path
}

// WriteFile writes raw content to dir/name and returns its path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// Encode returns the ELF bytes for img.
func Encode(img Image) []byte {
	text := img.Text
	if len(text) == 0 {
		text = []byte{0xfe, 0xff, 0xff, 0xea}
	}
	vaddr := img.VirtAddress
	if vaddr == 0 {
		vaddr = img.LoadAddress
	}

	names := make([]string, 0, len(img.Symbols))
	for n := range img.Symbols {
		names = append(names, n)
	}
	sort.Strings(names)

	strtab := []byte{0}
	syms := []elf.Sym32{{}}
	for _, n := range names {
		syms = append(syms, elf.Sym32{
			Name:  uint32(len(strtab)),
			Value: img.Symbols[n],
			Info:  elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC),
			Shndx: 1,
		})
		strtab = append(strtab, n...)
		strtab = append(strtab, 0)
	}

	shstrtab := []byte{0}
	shname := func(s string) uint32 {
		off := uint32(len(shstrtab))
		shstrtab = append(shstrtab, s...)
		shstrtab = append(shstrtab, 0)
		return off
	}
	textName := shname(".text")
	symName := shname(".symtab")
	strName := shname(".strtab")
	shstrName := shname(".shstrtab")

	textOff := uint32(ehsize + phentsize)
	symOff := align4(textOff + uint32(len(text)))
	strOff := symOff + uint32(len(syms)*symsize)
	shstrOff := strOff + uint32(len(strtab))
	shOff := align4(shstrOff + uint32(len(shstrtab)))

	var buf bytes.Buffer
	hdr := elf.Header32{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_ARM),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     img.Entry,
		Phoff:     ehsize,
		Shoff:     shOff,
		Ehsize:    ehsize,
		Phentsize: phentsize,
		Phnum:     1,
		Shentsize: shentsize,
		Shnum:     5,
		Shstrndx:  4,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	write(&buf, hdr)

	write(&buf, elf.Prog32{
		Type:   uint32(elf.PT_LOAD),
		Off:    textOff,
		Vaddr:  vaddr,
		Paddr:  img.LoadAddress,
		Filesz: uint32(len(text)),
		Memsz:  uint32(len(text)),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Align:  4,
	})

	buf.Write(text)
	pad(&buf, symOff)
	for _, s := range syms {
		write(&buf, s)
	}
	buf.Write(strtab)
	buf.Write(shstrtab)
	pad(&buf, shOff)

	sections := []elf.Section32{
		{},
		{
			Name: textName, Type: uint32(elf.SHT_PROGBITS),
			Flags: uint32(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Addr:  vaddr, Off: textOff, Size: uint32(len(text)), Addralign: 4,
		},
		{
			Name: symName, Type: uint32(elf.SHT_SYMTAB),
			Off: symOff, Size: uint32(len(syms) * symsize),
			Link: 3, Info: 1, Addralign: 4, Entsize: symsize,
		},
		{Name: strName, Type: uint32(elf.SHT_STRTAB), Off: strOff, Size: uint32(len(strtab)), Addralign: 1},
		{Name: shstrName, Type: uint32(elf.SHT_STRTAB), Off: shstrOff, Size: uint32(len(shstrtab)), Addralign: 1},
	}
	for _, s := range sections {
		write(&buf, s)
	}
	return buf.Bytes()
}

func write(buf *bytes.Buffer, v interface{}) {
	// bytes.Buffer writes never fail.
	_ = binary.Write(buf, binary.LittleEndian, v)
}

func pad(buf *bytes.Buffer, to uint32) {
	for uint32(buf.Len()) < to {
		buf.WriteByte(0)
	}
}

func align4(v uint32) uint32 {
	return (v + 3) &^ 3
}
