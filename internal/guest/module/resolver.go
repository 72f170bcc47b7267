package module

import (
	"context"
	"strings"

	"github.com/GriffinCanCode/nodebox/internal/vfs"
	"github.com/bytedance/sonic"
)

// Resolver maps require specifiers to absolute paths using the guest
// runtime's own algorithm over the VFS.
type Resolver struct {
	store *vfs.Store
	core  map[string]bool
}

// NewResolver creates a resolver recognising the given core module names.
func NewResolver(store *vfs.Store, core []string) *Resolver {
	r := &Resolver{store: store, core: make(map[string]bool, len(core))}
	for _, name := range core {
		r.core[name] = true
	}
	return r
}

// IsCore reports whether name is a core module.
func (r *Resolver) IsCore(name string) bool {
	return r.core[name]
}

// Resolve returns the path spec refers to from base. When nothing matches,
// the specifier comes back unresolved and loading it fails later.
func (r *Resolver) Resolve(ctx context.Context, base, spec string) string {
	switch {
	case r.core[spec]:
		return spec
	case strings.HasPrefix(spec, "/"):
		return r.resolveAbsolute(ctx, base, vfs.Clean(spec))
	case strings.HasPrefix(spec, "."):
		return r.Resolve(ctx, base, vfs.Join(base, spec))
	}

	// Walk up looking for node_modules until moving up changes nothing.
	for {
		attempt := r.Resolve(ctx, base, "./node_modules/"+spec)
		if r.store.ExistsFile(ctx, attempt) {
			return attempt
		}
		up := vfs.Join(base, "..")
		if up == base {
			return spec
		}
		base = up
	}
}

func (r *Resolver) resolveAbsolute(ctx context.Context, base, p string) string {
	for _, candidate := range []string{p, p + ".js", p + ".json"} {
		if r.store.ExistsFile(ctx, candidate) {
			return candidate
		}
	}

	manifest := vfs.Join(p, "package.json")
	if r.store.ExistsFile(ctx, manifest) {
		main := vfs.Join(p, r.mainField(ctx, manifest))
		if main != p {
			return r.Resolve(ctx, base, main)
		}
	}
	return p
}

func (r *Resolver) mainField(ctx context.Context, manifest string) string {
	data, err := r.store.Read(ctx, manifest)
	if err != nil {
		return "index.js"
	}
	var pkg struct {
		Main string `json:"main"`
	}
	if err := sonic.Unmarshal(data, &pkg); err != nil || pkg.Main == "" {
		return "index.js"
	}
	return pkg.Main
}
