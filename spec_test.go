package shadertest

import (
	"errors"
	"math"
	"testing"
)

func TestResolveSpecs(t *testing.T) {
	tests := []struct {
		name    string
		specs   []BufferSpec
		wantErr error
	}{
		{
			name: "single storage buffer",
			specs: []BufferSpec{
				{Name: "out", Type: Uint32, Count: 16},
			},
		},
		{
			name: "uniform plus storage",
			specs: []BufferSpec{
				{Name: "params", Type: StructType("Params", 8, 4), Count: 1, Kind: BindingUniform},
				{Name: "result", Type: Float32, Count: 256},
			},
		},
		{
			name:    "no buffers",
			specs:   nil,
			wantErr: ErrInvalidBufferSpec,
		},
		{
			name: "empty name",
			specs: []BufferSpec{
				{Name: "", Type: Uint32, Count: 1},
			},
			wantErr: ErrInvalidBufferSpec,
		},
		{
			name: "duplicate name",
			specs: []BufferSpec{
				{Name: "buf", Type: Uint32, Count: 1},
				{Name: "buf", Type: Float32, Count: 1},
			},
			wantErr: ErrInvalidBufferSpec,
		},
		{
			name: "zero count",
			specs: []BufferSpec{
				{Name: "out", Type: Uint32, Count: 0},
			},
			wantErr: ErrInvalidBufferSpec,
		},
		{
			name: "negative count",
			specs: []BufferSpec{
				{Name: "out", Type: Uint32, Count: -4},
			},
			wantErr: ErrInvalidBufferSpec,
		},
		{
			name: "zero-size element type",
			specs: []BufferSpec{
				{Name: "out", Type: ElementType{Name: "empty"}, Count: 1},
			},
			wantErr: ErrInvalidBufferSpec,
		},
		{
			name: "misaligned struct type",
			specs: []BufferSpec{
				{Name: "out", Type: StructType("Odd", 6, 4), Count: 1},
			},
			wantErr: ErrInvalidBufferSpec,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := resolveSpecs(tt.specs)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("resolveSpecs() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveSpecs() error = %v", err)
			}
			if len(resolved) != len(tt.specs) {
				t.Fatalf("resolveSpecs() returned %d buffers, want %d", len(resolved), len(tt.specs))
			}
			for i, rb := range resolved {
				if rb.binding != uint32(i) {
					t.Errorf("buffer %q binding = %d, want %d", rb.spec.Name, rb.binding, i)
				}
				want := uint64(tt.specs[i].Type.Size) * uint64(tt.specs[i].Count)
				if rb.byteSize != want {
					t.Errorf("buffer %q byteSize = %d, want %d", rb.spec.Name, rb.byteSize, want)
				}
			}
		})
	}
}

func TestElementTypeSizes(t *testing.T) {
	tests := []struct {
		typ       ElementType
		wantSize  uint32
		wantAlign uint32
	}{
		{Uint32, 4, 4},
		{Int32, 4, 4},
		{Float32, 4, 4},
		{Vec2f, 8, 8},
		{Vec4f, 16, 16},
		{Vec2u, 8, 8},
		{Vec4u, 16, 16},
	}
	for _, tt := range tests {
		t.Run(tt.typ.Name, func(t *testing.T) {
			if tt.typ.Size != tt.wantSize {
				t.Errorf("%s.Size = %d, want %d", tt.typ.Name, tt.typ.Size, tt.wantSize)
			}
			if tt.typ.Align != tt.wantAlign {
				t.Errorf("%s.Align = %d, want %d", tt.typ.Name, tt.typ.Align, tt.wantAlign)
			}
		})
	}
}

func TestValidateWorkgroups(t *testing.T) {
	tests := []struct {
		name    string
		wg      WorkgroupCount
		local   [3]uint32
		wantErr error
	}{
		{
			name:  "small grid",
			wg:    WorkgroupCount{X: 4, Y: 4, Z: 1},
			local: [3]uint32{8, 8, 1},
		},
		{
			name:    "zero X",
			wg:      WorkgroupCount{X: 0, Y: 1, Z: 1},
			local:   [3]uint32{1, 1, 1},
			wantErr: ErrWorkgroupCountZero,
		},
		{
			name:    "zero Z",
			wg:      WorkgroupCount{X: 1, Y: 1, Z: 0},
			local:   [3]uint32{1, 1, 1},
			wantErr: ErrWorkgroupCountZero,
		},
		{
			name:  "large grid",
			wg:    WorkgroupCount{X: 1 << 15, Y: 1, Z: 1},
			local: [3]uint32{1 << 16, 1, 1},
		},
		{
			name:    "overflow",
			wg:      WorkgroupCount{X: 1 << 16, Y: 1 << 16, Z: 2},
			local:   [3]uint32{2, 1, 1},
			wantErr: ErrInvocationOverflow,
		},
		{
			// The product of these factors is exactly 2^64, which wraps a
			// plain uint64 multiply back to zero.
			name:    "overflow past 64 bits",
			wg:      WorkgroupCount{X: 1 << 31, Y: 1 << 31, Z: 4},
			local:   [3]uint32{1, 1, 1},
			wantErr: ErrInvocationOverflow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateWorkgroups(tt.wg, tt.local)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("validateWorkgroups() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("validateWorkgroups() error = %v", err)
			}
		})
	}
}

func TestWorkgroupCountInvocations(t *testing.T) {
	wg := WorkgroupCount{X: 3, Y: 2, Z: 4}
	got := wg.Invocations([3]uint32{8, 8, 1})
	if want := uint64(3 * 2 * 4 * 8 * 8); got != want {
		t.Errorf("Invocations() = %d, want %d", got, want)
	}

	wg = WorkgroupCount{X: 1 << 31, Y: 1 << 31, Z: 4}
	got = wg.Invocations([3]uint32{1, 1, 1})
	if want := uint64(math.MaxUint64); got != want {
		t.Errorf("Invocations() = %d, want saturation at %d", got, want)
	}
}
