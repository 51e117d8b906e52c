package shadertest

import (
	"errors"
	"math/bits"
	"os"
	"testing"
	"time"
)

// newHarness builds a harness for an integration test, skipping when no
// usable GPU is present. The configs used here are valid, so any New error
// means the device could not be acquired.
func newHarness(t *testing.T, cfg Config) *Harness {
	t.Helper()
	h, err := New(cfg)
	if err != nil {
		t.Skipf("GPU not available: %v", err)
	}
	t.Cleanup(h.Close)
	return h
}

// Construction-error paths run before any device resource is created, so
// these tests pass without a GPU.
func TestNewConstructionErrors(t *testing.T) {
	valid := []BufferSpec{
		{Name: "src", Type: Uint32, Count: 64},
		{Name: "dst", Type: Uint32, Count: 64},
	}

	t.Run("no buffers", func(t *testing.T) {
		_, err := New(Config{
			KernelPath: "testdata/copy.wgsl",
			Workgroups: WorkgroupCount{X: 1, Y: 1, Z: 1},
		})
		if !errors.Is(err, ErrInvalidBufferSpec) {
			t.Errorf("New() error = %v, want ErrInvalidBufferSpec", err)
		}
	})

	t.Run("no kernel source", func(t *testing.T) {
		_, err := New(Config{
			Workgroups: WorkgroupCount{X: 1, Y: 1, Z: 1},
			Buffers:    valid,
		})
		if !errors.Is(err, ErrNoKernelSource) {
			t.Errorf("New() error = %v, want ErrNoKernelSource", err)
		}
	})

	t.Run("broken kernel", func(t *testing.T) {
		_, err := New(Config{
			KernelSource: "fn main( {",
			Workgroups:   WorkgroupCount{X: 1, Y: 1, Z: 1},
			Buffers:      valid,
		})
		var ce *CompileError
		if !errors.As(err, &ce) {
			t.Errorf("New() error = %v, want *CompileError", err)
		}
	})

	t.Run("binding count mismatch", func(t *testing.T) {
		_, err := New(Config{
			KernelPath: "testdata/copy.wgsl",
			Workgroups: WorkgroupCount{X: 1, Y: 1, Z: 1},
			Buffers: []BufferSpec{
				{Name: "only", Type: Uint32, Count: 64},
			},
		})
		var lme *LayoutMismatchError
		if !errors.As(err, &lme) {
			t.Errorf("New() error = %v, want *LayoutMismatchError", err)
		}
	})

	t.Run("zero workgroup dimension", func(t *testing.T) {
		_, err := New(Config{
			KernelPath: "testdata/copy.wgsl",
			Workgroups: WorkgroupCount{X: 1, Y: 0, Z: 1},
			Buffers:    valid,
		})
		if !errors.Is(err, ErrWorkgroupCountZero) {
			t.Errorf("New() error = %v, want ErrWorkgroupCountZero", err)
		}
	})

	t.Run("invocation overflow", func(t *testing.T) {
		_, err := New(Config{
			KernelPath: "testdata/copy.wgsl",
			Workgroups: WorkgroupCount{X: 1 << 20, Y: 1 << 10, Z: 1 << 10},
			Buffers:    valid,
		})
		if !errors.Is(err, ErrInvocationOverflow) {
			t.Errorf("New() error = %v, want ErrInvocationOverflow", err)
		}
	})
}

func TestHarnessCopyRoundTrip(t *testing.T) {
	const n = 256
	h := newHarness(t, Config{
		KernelPath: "testdata/copy.wgsl",
		Workgroups: WorkgroupCount{X: n / 64, Y: 1, Z: 1},
		Buffers: []BufferSpec{
			{Name: "src", Type: Uint32, Count: n},
			{Name: "dst", Type: Uint32, Count: n},
		},
	})

	want := make([]uint32, n)
	for i := range want {
		want[i] = uint32(i) * 3
	}

	w, err := h.Buffer("src").AcquireWriteView(time.Second)
	if err != nil {
		t.Fatalf("AcquireWriteView() error = %v", err)
	}
	w.SetUint32s(want)
	w.Release()

	if err := h.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	r, err := h.Buffer("dst").AcquireReadView(time.Second)
	if err != nil {
		t.Fatalf("AcquireReadView() error = %v", err)
	}
	defer r.Release()
	got := r.Uint32s()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dst[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestHarnessInvocationCoverage(t *testing.T) {
	wg := WorkgroupCount{X: 5, Y: 3, Z: 2}
	local := [3]uint32{4, 2, 2}
	n := int(wg.Invocations(local))

	h := newHarness(t, Config{
		KernelPath: "testdata/uid.wgsl",
		Workgroups: wg,
		Buffers: []BufferSpec{
			{Name: "out", Type: Uint32, Count: n},
		},
	})

	if got := h.LocalSize(); got != local {
		t.Fatalf("LocalSize() = %v, want %v", got, local)
	}

	// Poison every slot so untouched invocation ids are visible.
	w, err := h.Buffer("out").AcquireWriteView(time.Second)
	if err != nil {
		t.Fatalf("AcquireWriteView() error = %v", err)
	}
	w.Fill(0xFFFFFFFF)
	w.Release()

	if err := h.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	r, err := h.Buffer("out").AcquireReadView(time.Second)
	if err != nil {
		t.Fatalf("AcquireReadView() error = %v", err)
	}
	defer r.Release()
	for i, got := range r.Uint32s() {
		if got != uint32(i) {
			t.Fatalf("out[%d] = %#x, want %d", i, got, i)
		}
	}
}

func TestHarnessUniformParams(t *testing.T) {
	wg := WorkgroupCount{X: 2, Y: 2, Z: 1}
	n := int(wg.Invocations([3]uint32{8, 8, 1}))

	h := newHarness(t, Config{
		KernelPath: "testdata/linear.wgsl",
		Workgroups: wg,
		Buffers: []BufferSpec{
			{Name: "params", Type: StructType("Params", 8, 4), Count: 1, Kind: BindingUniform},
			{Name: "result", Type: Float32, Count: n},
		},
	})

	const a, b = 2.0, 3.0
	w, err := h.Buffer("params").AcquireWriteView(time.Second)
	if err != nil {
		t.Fatalf("AcquireWriteView() error = %v", err)
	}
	w.PutFloat32(0, a)
	w.PutFloat32(1, b)
	w.Release()

	if err := h.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	r, err := h.Buffer("result").AcquireReadView(time.Second)
	if err != nil {
		t.Fatalf("AcquireReadView() error = %v", err)
	}
	defer r.Release()
	for i, got := range r.Float32s() {
		if want := a*float32(i) + b; got != want {
			t.Fatalf("result[%d] = %v, want %v", i, got, want)
		}
	}
}

// xoroshiro64Next is the host-side mirror of the kernel PRNG in
// testdata/xoroshiro.wgsl.
func xoroshiro64Next(s *[2]uint32) uint32 {
	s0, s1 := s[0], s[1]
	result := s0 * 0x9E3779BB
	s1 ^= s0
	s[0] = bits.RotateLeft32(s0, 26) ^ s1 ^ (s1 << 9)
	s[1] = bits.RotateLeft32(s1, 13)
	return result
}

func TestHarnessRandomMirrorsHost(t *testing.T) {
	const n = 128

	rng, err := SegmentFile("testdata/xoroshiro.wgsl")
	if err != nil {
		t.Fatal(err)
	}
	mainSeg, err := SegmentFile("testdata/random_main.wgsl")
	if err != nil {
		t.Fatal(err)
	}

	h := newHarness(t, Config{
		Segments:   []Segment{rng, mainSeg},
		Label:      "random",
		Workgroups: WorkgroupCount{X: n / 64, Y: 1, Z: 1},
		Buffers: []BufferSpec{
			{Name: "seeds", Type: Vec2u, Count: n},
			{Name: "out", Type: Uint32, Count: n},
		},
	})

	seeds := make([]uint32, 2*n)
	for i := range seeds {
		seeds[i] = uint32(i)*2654435761 + 1
	}

	w, err := h.Buffer("seeds").AcquireWriteView(time.Second)
	if err != nil {
		t.Fatalf("AcquireWriteView() error = %v", err)
	}
	w.SetUint32s(seeds)
	w.Release()

	if err := h.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	r, err := h.Buffer("out").AcquireReadView(time.Second)
	if err != nil {
		t.Fatalf("AcquireReadView() error = %v", err)
	}
	defer r.Release()
	got := r.Uint32s()
	for i := 0; i < n; i++ {
		state := [2]uint32{seeds[2*i], seeds[2*i+1]}
		var want uint32
		for k := 0; k < 4; k++ {
			want = xoroshiro64Next(&state)
		}
		if got[i] != want {
			t.Fatalf("out[%d] = %#x, want %#x", i, got[i], want)
		}
	}
}

func TestHarnessesAreIndependent(t *testing.T) {
	const n = 64
	cfg := Config{
		KernelPath: "testdata/copy.wgsl",
		Workgroups: WorkgroupCount{X: 1, Y: 1, Z: 1},
		Buffers: []BufferSpec{
			{Name: "src", Type: Uint32, Count: n},
			{Name: "dst", Type: Uint32, Count: n},
		},
	}
	h1 := newHarness(t, cfg)
	h2 := newHarness(t, cfg)

	fill := func(h *Harness, x uint32) {
		t.Helper()
		w, err := h.Buffer("src").AcquireWriteView(time.Second)
		if err != nil {
			t.Fatalf("AcquireWriteView() error = %v", err)
		}
		w.Fill(x)
		w.Release()
		if err := h.Run(); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	}
	fill(h1, 111)
	fill(h2, 222)

	check := func(h *Harness, want uint32) {
		t.Helper()
		r, err := h.Buffer("dst").AcquireReadView(time.Second)
		if err != nil {
			t.Fatalf("AcquireReadView() error = %v", err)
		}
		defer r.Release()
		for i, got := range r.Uint32s() {
			if got != want {
				t.Fatalf("dst[%d] = %d, want %d", i, got, want)
			}
		}
	}
	check(h1, 111)
	check(h2, 222)
}

func TestRunBlockedByHeldView(t *testing.T) {
	h := newHarness(t, Config{
		KernelPath:  "testdata/copy.wgsl",
		Workgroups:  WorkgroupCount{X: 1, Y: 1, Z: 1},
		ViewTimeout: 50 * time.Millisecond,
		Buffers: []BufferSpec{
			{Name: "src", Type: Uint32, Count: 64},
			{Name: "dst", Type: Uint32, Count: 64},
		},
	})

	w, err := h.Buffer("dst").AcquireWriteView(time.Second)
	if err != nil {
		t.Fatalf("AcquireWriteView() error = %v", err)
	}

	if err := h.Run(); !errors.Is(err, ErrDispatchTimeout) {
		t.Fatalf("Run() with held view error = %v, want ErrDispatchTimeout", err)
	}

	// Nothing was submitted; the harness must still be usable.
	w.Release()
	if err := h.Run(); err != nil {
		t.Fatalf("Run() after releasing view error = %v", err)
	}
}

func TestClosedHarness(t *testing.T) {
	h := newHarness(t, Config{
		KernelPath: "testdata/copy.wgsl",
		Workgroups: WorkgroupCount{X: 1, Y: 1, Z: 1},
		Buffers: []BufferSpec{
			{Name: "src", Type: Uint32, Count: 64},
			{Name: "dst", Type: Uint32, Count: 64},
		},
	})
	buf := h.Buffer("src")
	h.Close()
	h.Close() // idempotent

	if err := h.Run(); !errors.Is(err, ErrHarnessClosed) {
		t.Errorf("Run() on closed harness error = %v, want ErrHarnessClosed", err)
	}
	if _, err := buf.AcquireReadView(time.Second); !errors.Is(err, ErrHarnessClosed) {
		t.Errorf("AcquireReadView() on closed harness error = %v, want ErrHarnessClosed", err)
	}
	if _, err := buf.AcquireWriteView(time.Second); !errors.Is(err, ErrHarnessClosed) {
		t.Errorf("AcquireWriteView() on closed harness error = %v, want ErrHarnessClosed", err)
	}
}

// TestDispatchTimeoutInvalidates submits a kernel that never terminates.
// Some drivers only recover from a hung dispatch by resetting the device,
// which can take down later tests in the process, so this is opt-in.
func TestDispatchTimeoutInvalidates(t *testing.T) {
	if os.Getenv("SHADERTEST_HANG") == "" {
		t.Skip("set SHADERTEST_HANG=1 to run the hung-dispatch test")
	}

	h := newHarness(t, Config{
		KernelPath:      "testdata/spin.wgsl",
		Workgroups:      WorkgroupCount{X: 1, Y: 1, Z: 1},
		DispatchTimeout: 100 * time.Millisecond,
		Buffers: []BufferSpec{
			{Name: "out", Type: Uint32, Count: 2},
		},
	})

	if err := h.Run(); !errors.Is(err, ErrDispatchTimeout) {
		t.Fatalf("Run() error = %v, want ErrDispatchTimeout", err)
	}

	// The dispatch may still be writing; the session must refuse everything.
	if err := h.Run(); !errors.Is(err, ErrSessionInvalid) {
		t.Errorf("Run() after timeout error = %v, want ErrSessionInvalid", err)
	}
	if _, err := h.Buffer("out").AcquireReadView(time.Second); !errors.Is(err, ErrSessionInvalid) {
		t.Errorf("AcquireReadView() after timeout error = %v, want ErrSessionInvalid", err)
	}
}

func TestHarnessIntrospection(t *testing.T) {
	h := newHarness(t, Config{
		KernelPath: "testdata/copy.wgsl",
		Workgroups: WorkgroupCount{X: 2, Y: 1, Z: 1},
		Buffers: []BufferSpec{
			{Name: "src", Type: Uint32, Count: 64},
			{Name: "dst", Type: Uint32, Count: 64},
		},
	})

	layout := h.BindingLayout()
	if len(layout.Bindings) != 2 {
		t.Fatalf("BindingLayout() has %d bindings, want 2", len(layout.Bindings))
	}
	if !layout.Bindings[0].ReadOnly || layout.Bindings[1].ReadOnly {
		t.Errorf("unexpected access modes: %+v", layout.Bindings)
	}

	if got := h.Workgroups(); got != (WorkgroupCount{X: 2, Y: 1, Z: 1}) {
		t.Errorf("Workgroups() = %v", got)
	}
	if h.Buffer("nope") != nil {
		t.Error("Buffer() on unknown name should return nil")
	}
	bufs := h.Buffers()
	if len(bufs) != 2 || bufs[0].Name() != "src" || bufs[0].Binding() != 0 {
		t.Errorf("Buffers() = %v", bufs)
	}
	if got := bufs[0].Size(); got != 256 {
		t.Errorf("Size() = %d, want 256", got)
	}
}
