// Command kernelrun dispatches a WGSL compute kernel once and prints the
// contents of its buffers, for poking at a kernel outside a test.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gogpu/shadertest"
)

// bufferFlags collects repeated -buffer declarations in order.
type bufferFlags struct {
	specs []shadertest.BufferSpec
}

func (b *bufferFlags) String() string {
	names := make([]string, len(b.specs))
	for i, s := range b.specs {
		names[i] = s.Name
	}
	return strings.Join(names, ",")
}

// Set parses "name:type:count" with an optional ":uniform" suffix.
func (b *bufferFlags) Set(value string) error {
	parts := strings.Split(value, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return fmt.Errorf("want name:type:count[:uniform], got %q", value)
	}
	typ, err := elementType(parts[1])
	if err != nil {
		return err
	}
	count, err := strconv.Atoi(parts[2])
	if err != nil {
		return fmt.Errorf("bad count %q: %v", parts[2], err)
	}
	kind := shadertest.BindingStorage
	if len(parts) == 4 {
		if parts[3] != "uniform" {
			return fmt.Errorf("unknown buffer modifier %q", parts[3])
		}
		kind = shadertest.BindingUniform
	}
	b.specs = append(b.specs, shadertest.BufferSpec{
		Name:  parts[0],
		Type:  typ,
		Count: count,
		Kind:  kind,
	})
	return nil
}

func elementType(name string) (shadertest.ElementType, error) {
	switch name {
	case "u32":
		return shadertest.Uint32, nil
	case "i32":
		return shadertest.Int32, nil
	case "f32":
		return shadertest.Float32, nil
	case "vec2f":
		return shadertest.Vec2f, nil
	case "vec4f":
		return shadertest.Vec4f, nil
	case "vec2u":
		return shadertest.Vec2u, nil
	case "vec4u":
		return shadertest.Vec4u, nil
	default:
		return shadertest.ElementType{}, fmt.Errorf("unknown element type %q", name)
	}
}

func parseWorkgroups(s string) (shadertest.WorkgroupCount, error) {
	parts := strings.Split(s, ",")
	if len(parts) > 3 {
		return shadertest.WorkgroupCount{}, fmt.Errorf("want up to three dimensions, got %q", s)
	}
	dims := [3]uint32{1, 1, 1}
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return shadertest.WorkgroupCount{}, fmt.Errorf("bad dimension %q: %v", p, err)
		}
		dims[i] = uint32(v)
	}
	return shadertest.WorkgroupCount{X: dims[0], Y: dims[1], Z: dims[2]}, nil
}

func main() {
	var buffers bufferFlags
	var (
		kernel     = flag.String("kernel", "", "path to the WGSL kernel")
		entry      = flag.String("entry", "main", "compute entry point")
		workgroups = flag.String("workgroups", "1", "workgroup count as x[,y[,z]]")
		timeout    = flag.Duration("timeout", shadertest.DefaultDispatchTimeout, "dispatch timeout")
		floats     = flag.Bool("floats", false, "print buffer contents as f32 instead of u32")
		verbose    = flag.Bool("v", false, "enable debug logging")
	)
	flag.Var(&buffers, "buffer", "buffer as name:type:count[:uniform], repeatable, bound in order")
	flag.Parse()

	if *kernel == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *verbose {
		shadertest.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	wg, err := parseWorkgroups(*workgroups)
	if err != nil {
		log.Fatalf("Bad -workgroups: %v", err)
	}

	h, err := shadertest.New(shadertest.Config{
		KernelPath:      *kernel,
		EntryPoint:      *entry,
		Workgroups:      wg,
		Buffers:         buffers.specs,
		DispatchTimeout: *timeout,
	})
	if err != nil {
		log.Fatalf("Harness construction failed: %v", err)
	}
	defer h.Close()

	start := time.Now()
	if err := h.Run(); err != nil {
		log.Fatalf("Dispatch failed: %v", err)
	}
	log.Printf("Dispatch complete in %v", time.Since(start))

	for _, buf := range h.Buffers() {
		r, err := buf.AcquireReadView(time.Second)
		if err != nil {
			log.Fatalf("Read back %s: %v", buf.Name(), err)
		}
		fmt.Printf("%s (%d bytes):\n", buf.Name(), r.Len())
		if *floats {
			printSlice(r.Float32s())
		} else {
			printSlice(r.Uint32s())
		}
		r.Release()
	}
}

// printSlice prints values sixteen to a row.
func printSlice[T any](xs []T) {
	for i, x := range xs {
		if i%16 == 0 {
			if i > 0 {
				fmt.Println()
			}
			fmt.Printf("  [%4d]", i)
		}
		fmt.Printf(" %v", x)
	}
	fmt.Println()
}
