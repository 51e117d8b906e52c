// Package wgslscan extracts the binding interface of a WGSL compute kernel:
// its resource declarations, compute entry points, and local workgroup sizes.
//
// The scanner is intentionally shallow. It does not parse WGSL; it recognizes
// the declaration forms a compute kernel's interface is made of, which is all
// the harness needs to check a kernel against a declared buffer list. Full
// syntax checking is the compiler's job.
package wgslscan

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// BindingKind classifies a resource declaration's address space and access.
type BindingKind int

const (
	// KindStorageRW is var<storage, read_write>.
	KindStorageRW BindingKind = iota

	// KindStorageRO is var<storage> or var<storage, read>.
	KindStorageRO

	// KindUniform is var<uniform>.
	KindUniform
)

// String returns the WGSL spelling of the binding kind.
func (k BindingKind) String() string {
	switch k {
	case KindStorageRW:
		return "storage, read_write"
	case KindStorageRO:
		return "storage, read"
	case KindUniform:
		return "uniform"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Storage reports whether the kind is a storage buffer (either access mode).
func (k BindingKind) Storage() bool {
	return k == KindStorageRW || k == KindStorageRO
}

// Binding is one @group/@binding resource declaration.
type Binding struct {
	Group uint32
	Index uint32
	Name  string
	Kind  BindingKind
}

// EntryPoint is one @compute function and its local workgroup size.
type EntryPoint struct {
	Name          string
	WorkgroupSize [3]uint32
}

// Module is the scanned interface of a kernel source.
type Module struct {
	Bindings    []Binding
	EntryPoints []EntryPoint
}

// EntryPoint returns the named compute entry point.
func (m *Module) EntryPoint(name string) (EntryPoint, bool) {
	for _, e := range m.EntryPoints {
		if e.Name == name {
			return e, true
		}
	}
	return EntryPoint{}, false
}

// GroupBindings returns the bindings declared in the given group, sorted by
// binding index.
func (m *Module) GroupBindings(group uint32) []Binding {
	var out []Binding
	for _, b := range m.Bindings {
		if b.Group == group {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// MaxGroup returns the highest group index declared, or -1 when the kernel
// declares no bindings.
func (m *Module) MaxGroup() int {
	max := -1
	for _, b := range m.Bindings {
		if int(b.Group) > max {
			max = int(b.Group)
		}
	}
	return max
}

var (
	lineCommentRe  = regexp.MustCompile(`//[^\n]*`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)

	// @group(G) @binding(B) var<ADDRESS> name : type
	bindingRe = regexp.MustCompile(
		`@group\(\s*(\d+)\s*\)\s*@binding\(\s*(\d+)\s*\)\s*var\s*<([^>]*)>\s*([A-Za-z_][A-Za-z0-9_]*)`)

	// @workgroup_size(X[, Y[, Z]]) ... fn name
	entryRe = regexp.MustCompile(
		`@workgroup_size\(\s*([A-Za-z0-9_]+)\s*(?:,\s*([A-Za-z0-9_]+)\s*)?(?:,\s*([A-Za-z0-9_]+)\s*)?\)\s*fn\s+([A-Za-z_][A-Za-z0-9_]*)`)

	// const NAME [: type] = VALUE;
	constRe = regexp.MustCompile(
		`\bconst\s+([A-Za-z_][A-Za-z0-9_]*)\s*(?::\s*[A-Za-z0-9_<>]+\s*)?=\s*(\d+)u?\s*;`)
)

// Scan extracts the binding interface from WGSL source. Workgroup size
// dimensions may be integer literals or names of integer module constants.
func Scan(source string) (*Module, error) {
	src := blockCommentRe.ReplaceAllString(source, "")
	src = lineCommentRe.ReplaceAllString(src, "")

	consts := make(map[string]uint32)
	for _, m := range constRe.FindAllStringSubmatch(src, -1) {
		if v, err := strconv.ParseUint(m[2], 10, 32); err == nil {
			consts[m[1]] = uint32(v)
		}
	}

	mod := &Module{}

	for _, m := range bindingRe.FindAllStringSubmatch(src, -1) {
		group, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("wgslscan: bad group index %q", m[1])
		}
		index, err := strconv.ParseUint(m[2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("wgslscan: bad binding index %q", m[2])
		}
		kind, err := classify(m[3])
		if err != nil {
			return nil, err
		}
		mod.Bindings = append(mod.Bindings, Binding{
			Group: uint32(group),
			Index: uint32(index),
			Name:  m[4],
			Kind:  kind,
		})
	}

	for _, m := range entryRe.FindAllStringSubmatch(src, -1) {
		e := EntryPoint{Name: m[4], WorkgroupSize: [3]uint32{1, 1, 1}}
		for i, dim := range []string{m[1], m[2], m[3]} {
			if dim == "" {
				continue
			}
			v, err := resolveDim(dim, consts)
			if err != nil {
				return nil, fmt.Errorf("wgslscan: entry %s: %w", e.Name, err)
			}
			e.WorkgroupSize[i] = v
		}
		mod.EntryPoints = append(mod.EntryPoints, e)
	}

	return mod, nil
}

// classify maps a var<...> address space to a BindingKind.
func classify(addressSpace string) (BindingKind, error) {
	parts := strings.Split(addressSpace, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	switch parts[0] {
	case "uniform":
		return KindUniform, nil
	case "storage":
		// Access mode defaults to read.
		if len(parts) > 1 && parts[1] == "read_write" {
			return KindStorageRW, nil
		}
		return KindStorageRO, nil
	default:
		return 0, fmt.Errorf("wgslscan: unsupported address space %q", addressSpace)
	}
}

// resolveDim resolves a workgroup size dimension: a literal with optional
// u-suffix, or the name of an integer module constant.
func resolveDim(dim string, consts map[string]uint32) (uint32, error) {
	lit := strings.TrimSuffix(dim, "u")
	if v, err := strconv.ParseUint(lit, 10, 32); err == nil {
		if v == 0 {
			return 0, fmt.Errorf("workgroup size dimension is zero")
		}
		return uint32(v), nil
	}
	if v, ok := consts[dim]; ok {
		if v == 0 {
			return 0, fmt.Errorf("workgroup size constant %s is zero", dim)
		}
		return v, nil
	}
	return 0, fmt.Errorf("cannot resolve workgroup size dimension %q", dim)
}
