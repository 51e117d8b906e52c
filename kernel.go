package shadertest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gogpu/naga"

	"github.com/gogpu/shadertest/internal/wgslscan"
)

// kernel is a compiled, scanned compute kernel ready for pipeline creation.
type kernel struct {
	label  string
	source string
	entry  wgslscan.EntryPoint
	iface  *wgslscan.Module
}

// loadKernelSource resolves the kernel source from the config: segments win,
// then inline source, then the file at KernelPath. The returned label names
// the kernel in errors and GPU object labels; the SourceMap is non-nil only
// for composed kernels, where diagnostics must be translated back to
// segments.
func loadKernelSource(cfg *Config) (source, label string, srcMap *SourceMap, err error) {
	switch {
	case len(cfg.Segments) > 0:
		src, m := ComposeKernel(cfg.Segments...)
		label = cfg.Label
		if label == "" {
			label = "composed"
		}
		return src, label, m, nil
	case cfg.KernelSource != "":
		label = cfg.Label
		if label == "" {
			label = "inline"
		}
		return cfg.KernelSource, label, nil, nil
	case cfg.KernelPath != "":
		data, err := os.ReadFile(cfg.KernelPath)
		if err != nil {
			return "", "", nil, fmt.Errorf("shadertest: read kernel %s: %w", cfg.KernelPath, err)
		}
		label = cfg.Label
		if label == "" {
			label = filepath.Base(cfg.KernelPath)
		}
		return string(data), label, nil, nil
	default:
		return "", "", nil, ErrNoKernelSource
	}
}

// compileKernel validates the kernel before any device resource exists.
// naga compiles the WGSL host-side, so a syntactically or semantically broken
// kernel is reported with the compiler's own diagnostics instead of a device
// error later. For composed kernels srcMap rewrites those diagnostics to
// name the failing segment. The scan then extracts the binding interface and
// the entry point's local workgroup size.
func compileKernel(source, label, entryName string, srcMap *SourceMap) (*kernel, error) {
	fail := func(diags string) error {
		if srcMap != nil {
			diags = srcMap.Rewrite(diags)
		}
		return &CompileError{Label: label, Diagnostics: diags}
	}

	if _, err := naga.Compile(source); err != nil {
		return nil, fail(err.Error())
	}

	iface, err := wgslscan.Scan(source)
	if err != nil {
		return nil, fail(err.Error())
	}

	entry, ok := iface.EntryPoint(entryName)
	if !ok {
		return nil, fail(fmt.Sprintf("no compute entry point %q", entryName))
	}

	return &kernel{
		label:  label,
		source: source,
		entry:  entry,
		iface:  iface,
	}, nil
}

// LocalSize returns the entry point's workgroup size as declared in the
// kernel source.
func (k *kernel) LocalSize() [3]uint32 { return k.entry.WorkgroupSize }
