package memmap

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/muurk/stagehand/internal/target"
)

func lan966x(t *testing.T) *Platform {
	t.Helper()
	cat, err := LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog() error = %v", err)
	}
	p, err := cat.Get("lan966x")
	if err != nil {
		t.Fatalf("Get(lan966x) error = %v", err)
	}
	return p
}

// simWithDDR returns a halted sim whose DDR controller reports the
// given operating mode.
func simWithDDR(mode uint32) *target.Sim {
	sim := target.NewSim(0)
	word := make([]byte, 4)
	binary.LittleEndian.PutUint32(word, mode)
	sim.Poke(0xe0080004, word)
	return sim
}

func TestLoadCatalog(t *testing.T) {
	cat, err := LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog() error = %v", err)
	}
	names := cat.Names()
	if len(names) < 2 {
		t.Fatalf("expected at least two platforms, got %v", names)
	}
	p, err := cat.Get("LAN966X")
	if err != nil {
		t.Fatalf("Get is not case-insensitive: %v", err)
	}
	if p.BootRegion != "bootrom" {
		t.Errorf("BootRegion = %q", p.BootRegion)
	}
	if _, ok := p.Stage("BL33"); !ok {
		t.Error("Stage(BL33) not found")
	}

	_, err = cat.Get("stm32")
	var unsupported *UnsupportedPlatformError
	if !errors.As(err, &unsupported) {
		t.Fatalf("Get(stm32) err = %v, want UnsupportedPlatformError", err)
	}
}

func TestParseCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "platforms: ["},
		{"unknown boot region", `
platforms:
  - name: x
    boot_region: rom
    regions:
      - {name: sram, base: 0x0, size: 0x100, views: [{space: S}]}
`},
		{"unknown space", `
platforms:
  - name: x
    boot_region: rom
    regions:
      - {name: rom, base: 0x0, size: 0x100, views: [{space: Q}]}
`},
		{"unknown controller", `
platforms:
  - name: x
    boot_region: rom
    regions:
      - {name: rom, base: 0x0, size: 0x100, requires: ddr, views: [{space: S}]}
`},
		{"bad stage address", `
platforms:
  - name: x
    boot_region: rom
    regions:
      - {name: rom, base: 0x0, size: 0x100, views: [{space: S}]}
    stages:
      bl2: {address: "Z:0x10"}
`},
		{"stage names differ only in case", `
platforms:
  - name: x
    boot_region: rom
    regions:
      - {name: rom, base: 0x0, size: 0x100, views: [{space: S}]}
    stages:
      bl2: {address: "S:0x10"}
      BL2: {address: "S:0x20"}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCatalog([]byte(tt.yaml)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestResolver_Resolve(t *testing.T) {
	p := lan966x(t)

	tests := []struct {
		name     string
		security target.Space
		ddrMode  uint32
		ref      Reference
		want     target.Address
		wantErr  bool
	}{
		{
			name:     "offset zero is boot rom base",
			security: target.SpaceSecure,
			ref:      Offset(0),
			want:     target.Secure(0),
		},
		{
			name:     "offset within boot rom",
			security: target.SpaceSecure,
			ref:      Offset(0x400),
			want:     target.Secure(0x400),
		},
		{
			name:     "offset past boot rom",
			security: target.SpaceSecure,
			ref:      Offset(0x14000),
			wantErr:  true,
		},
		{
			name:     "offset from nonsecure has no boot rom view",
			security: target.SpaceNonSecure,
			ref:      Offset(0),
			wantErr:  true,
		},
		{
			name:     "untagged sram in secure state",
			security: target.SpaceSecure,
			ref:      Absolute(target.Untagged(0x00100000)),
			want:     target.Secure(0x00100000),
		},
		{
			name:     "secure-only sram from nonsecure state",
			security: target.SpaceNonSecure,
			ref:      Absolute(target.Untagged(0x00100000)),
			wantErr:  true,
		},
		{
			name:     "tagged nonsecure ddr while secure",
			security: target.SpaceSecure,
			ddrMode:  1,
			ref:      Absolute(target.NonSecure(0x60000000)),
			want:     target.NonSecure(0x60000000),
		},
		{
			name:     "untagged ddr while secure",
			security: target.SpaceSecure,
			ddrMode:  1,
			ref:      Absolute(target.Untagged(0x60000000)),
			want:     target.Secure(0x60000000),
		},
		{
			name:     "ddr controller in init mode",
			security: target.SpaceSecure,
			ddrMode:  0,
			ref:      Absolute(target.NonSecure(0x60000000)),
			wantErr:  true,
		},
		{
			name:     "ddr controller in self refresh",
			security: target.SpaceSecure,
			ddrMode:  3,
			ref:      Absolute(target.NonSecure(0x60001000)),
			wantErr:  true,
		},
		{
			name:     "unmapped hole",
			security: target.SpaceSecure,
			ref:      Absolute(target.Untagged(0x40000000)),
			wantErr:  true,
		},
		{
			name:     "past end of ddr",
			security: target.SpaceNonSecure,
			ddrMode:  1,
			ref:      Absolute(target.Untagged(0xa0000000)),
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := simWithDDR(tt.ddrMode)
			sim.SetSecurity(tt.security)
			r := NewResolver(p, Options{ProbeUnverified: true}, zap.NewNop())

			got, err := r.Resolve(context.Background(), sim, tt.ref)
			if tt.wantErr {
				var resErr *ResolutionError
				if !errors.As(err, &resErr) {
					t.Fatalf("Resolve(%v) = %v, %v; want ResolutionError", tt.ref, got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%v) error = %v", tt.ref, err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%v) = %v, want %v", tt.ref, got, tt.want)
			}
		})
	}
}

func TestResolver_TaggedAndUntaggedDiffer(t *testing.T) {
	r := NewResolver(lan966x(t), Options{}, nil)
	sim := simWithDDR(1)
	ctx := context.Background()

	tagged, err := r.Resolve(ctx, sim, Absolute(target.NonSecure(0x60000000)))
	if err != nil {
		t.Fatal(err)
	}
	untagged, err := r.Resolve(ctx, sim, Absolute(target.Untagged(0x60000000)))
	if err != nil {
		t.Fatal(err)
	}
	if tagged == untagged {
		t.Errorf("N:0x60000000 and 0x60000000 resolved to the same address %v in secure state", tagged)
	}
}

func TestResolver_Deterministic(t *testing.T) {
	r := NewResolver(lan966x(t), Options{}, nil)
	sim := simWithDDR(1)
	ctx := context.Background()

	refs := []Reference{Offset(0), Absolute(target.NonSecure(0x60000000)), Absolute(target.Untagged(0x00100100))}
	for _, ref := range refs {
		first, err1 := r.Resolve(ctx, sim, ref)
		second, err2 := r.Resolve(ctx, sim, ref)
		if first != second || (err1 == nil) != (err2 == nil) {
			t.Errorf("Resolve(%v) not deterministic: %v/%v, %v/%v", ref, first, second, err1, err2)
		}
	}
}

func TestResolver_ReevaluatesSessionState(t *testing.T) {
	r := NewResolver(lan966x(t), Options{ProbeUnverified: true}, nil)
	sim := simWithDDR(0)
	ctx := context.Background()
	ref := Absolute(target.NonSecure(0x60000000))

	if _, err := r.Resolve(ctx, sim, ref); err == nil {
		t.Fatal("expected failure while DDR is down")
	}
	sim.Poke(0xe0080004, []byte{1, 0, 0, 0})
	if _, err := r.Resolve(ctx, sim, ref); err != nil {
		t.Fatalf("Resolve after DDR init error = %v", err)
	}
}

func TestResolver_SkipProbes(t *testing.T) {
	r := NewResolver(lan966x(t), Options{SkipProbes: true}, nil)
	got, err := r.Resolve(context.Background(), simWithDDR(0), Absolute(target.NonSecure(0x60000000)))
	if err != nil || got != target.NonSecure(0x60000000) {
		t.Errorf("Resolve() = %v, %v", got, err)
	}
}

func TestResolver_UnverifiedProbeSkipped(t *testing.T) {
	p := lan966x(t)
	if p.Controllers["ddr"].Verified {
		t.Skip("lan966x DDR probe is verified")
	}
	ref := Absolute(target.NonSecure(0x60000000))

	r := NewResolver(p, Options{}, nil)
	got, err := r.Resolve(context.Background(), simWithDDR(0), ref)
	if err != nil || got != target.NonSecure(0x60000000) {
		t.Errorf("Resolve() = %v, %v; want unverified probe skipped", got, err)
	}

	r = NewResolver(p, Options{ProbeUnverified: true}, nil)
	var resErr *ResolutionError
	if _, err := r.Resolve(context.Background(), simWithDDR(0), ref); !errors.As(err, &resErr) {
		t.Errorf("Resolve() with ProbeUnverified err = %v, want ResolutionError", err)
	}
}

func TestCatalog_ControllersNotMoreVerifiedThanPlatform(t *testing.T) {
	cat, err := LoadCatalog()
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range cat.Names() {
		p, _ := cat.Get(name)
		for ctrlName, ctrl := range p.Controllers {
			if ctrl.Verified && !p.Verified {
				t.Errorf("%s: controller %s verified on an unverified platform", name, ctrlName)
			}
		}
	}
}

func TestResolver_Alias(t *testing.T) {
	cat, err := ParseCatalog([]byte(`
platforms:
  - name: aliased
    boot_region: rom
    regions:
      - name: rom
        base: 0x0
        size: 0x1000
        views:
          - space: S
      - name: dram
        base: 0x80000000
        size: 0x10000
        views:
          - space: S
          - space: N
            base: 0x00800000
            target: 0x80000000
`))
	if err != nil {
		t.Fatalf("ParseCatalog() error = %v", err)
	}
	p, _ := cat.Get("aliased")
	r := NewResolver(p, Options{}, nil)

	got, err := r.Resolve(context.Background(), target.NewSim(0), Absolute(target.NonSecure(0x00800010)))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != target.NonSecure(0x80000010) {
		t.Errorf("Resolve() = %v, want N:0x80000010", got)
	}
}
