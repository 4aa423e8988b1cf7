package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/modacct/internal/host"
	"github.com/roach88/modacct/internal/ir"
	"github.com/roach88/modacct/internal/version"
)

// Entry is one module version of a catalog.
type Entry struct {
	Info         ir.ModuleInfo    `json:"module"`
	Kind         ir.ReferenceKind `json:"kind"`
	Dependencies ir.Dependencies  `json:"dependencies"`
}

// Catalog is an ordered set of entries.
type Catalog struct {
	Entries []Entry `json:"entries"`
}

// Error is a catalog problem with its CUE position when known.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads a catalog from a .cue file or from a directory holding one
// CUE package.
func Load(path string) (*Catalog, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	if !info.IsDir() {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		return Parse(src, path)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: path})
	if len(instances) == 0 {
		return nil, &Error{Field: "load", Message: fmt.Sprintf("no CUE instances in %s", path)}
	}
	if err := instances[0].Err; err != nil {
		return nil, formatCUEError(err)
	}
	return Compile(cuecontext.New().BuildInstance(instances[0]))
}

// Parse compiles CUE source. filename is used in error positions.
func Parse(src []byte, filename string) (*Catalog, error) {
	v := cuecontext.New().CompileBytes(src, cue.Filename(filepath.Base(filename)))
	return Compile(v)
}

// Compile extracts the entries under the top-level "module" field.
// Entries come back ordered by module id, then by semantic version.
func Compile(v cue.Value) (*Catalog, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	modules := v.LookupPath(cue.ParsePath("module"))
	if !modules.Exists() {
		return nil, &Error{Field: "module", Message: "catalog declares no modules", Pos: v.Pos()}
	}

	var entries []Entry
	ids, err := modules.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for ids.Next() {
		id, err := ir.ParseModuleID(label(ids.Selector()))
		if err != nil {
			return nil, &Error{Field: "module", Message: err.Error(), Pos: ids.Value().Pos()}
		}
		versions, err := ids.Value().Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for versions.Next() {
			e, err := compileEntry(id, label(versions.Selector()), versions.Value())
			if err != nil {
				return nil, err
			}
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 {
		return nil, &Error{Field: "module", Message: "catalog declares no modules", Pos: modules.Pos()}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Info, entries[j].Info
		if a.ID() != b.ID() {
			return a.ID() < b.ID()
		}
		c, _ := version.Compare(a.Version.Concrete(), b.Version.Concrete())
		return c < 0
	})
	return &Catalog{Entries: entries}, nil
}

func compileEntry(id ir.ModuleID, v string, val cue.Value) (Entry, error) {
	field := fmt.Sprintf("module.%s.%s", id, v)
	if err := version.Validate(v); err != nil {
		return Entry{}, &Error{Field: field, Message: err.Error(), Pos: val.Pos()}
	}
	info, err := ir.NewModuleInfo(id, ir.Version(v))
	if err != nil {
		return Entry{}, &Error{Field: field, Message: err.Error(), Pos: val.Pos()}
	}

	kindVal := val.LookupPath(cue.ParsePath("kind"))
	if !kindVal.Exists() {
		return Entry{}, &Error{Field: field + ".kind", Message: "kind is required", Pos: val.Pos()}
	}
	kind, err := kindVal.String()
	if err != nil {
		return Entry{}, formatCUEError(err)
	}
	switch ir.ReferenceKind(kind) {
	case ir.KindApp, ir.KindAPI, ir.KindAccountBase, ir.KindStandalone, ir.KindNative:
	default:
		return Entry{}, &Error{Field: field + ".kind", Message: fmt.Sprintf("unknown kind %q", kind), Pos: kindVal.Pos()}
	}

	deps, err := compileDependencies(field, id, val)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Info: info, Kind: ir.ReferenceKind(kind), Dependencies: deps}, nil
}

func compileDependencies(field string, self ir.ModuleID, val cue.Value) (ir.Dependencies, error) {
	deps := ir.Dependencies{}
	depsVal := val.LookupPath(cue.ParsePath("dependencies"))
	if !depsVal.Exists() {
		return deps, nil
	}
	iter, err := depsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		d := iter.Value()
		var raw struct {
			ID       string   `json:"id"`
			Requires []string `json:"requires"`
		}
		if err := d.Decode(&raw); err != nil {
			return nil, formatCUEError(err)
		}
		id, err := ir.ParseModuleID(raw.ID)
		if err != nil {
			return nil, &Error{Field: field + ".dependencies", Message: err.Error(), Pos: d.Pos()}
		}
		if id == self {
			return nil, &Error{Field: field + ".dependencies", Message: "a module cannot depend on itself", Pos: d.Pos()}
		}
		if _, dup := deps.Find(id); dup {
			return nil, &Error{Field: field + ".dependencies", Message: fmt.Sprintf("duplicate dependency %s", id), Pos: d.Pos()}
		}
		if err := version.ValidateRequirement(raw.Requires); err != nil {
			return nil, &Error{Field: field + ".dependencies", Message: err.Error(), Pos: d.Pos()}
		}
		deps = append(deps, ir.Dependency{ID: id, VersionReq: raw.Requires})
	}
	return deps, nil
}

// Publisher is the part of the host a catalog publishes through.
type Publisher interface {
	UploadCode(ctx context.Context, spec host.CodeSpec) (uint64, error)
	InstantiateShared(ctx context.Context, codeID uint64, label string) (ir.Addr, error)
	AddModules(ctx context.Context, sender ir.Addr, modules []ir.Module) error
}

// Publish uploads code for every entry, deploys singletons for API and
// native entries and registers all of them with one registry call. The
// registry call is atomic; uploads and deployments made before a rejected
// registration stay behind as unreferenced code.
func (c *Catalog) Publish(ctx context.Context, p Publisher, sender ir.Addr) ([]ir.Module, error) {
	modules := make([]ir.Module, 0, len(c.Entries))
	for _, e := range c.Entries {
		code, err := p.UploadCode(ctx, host.CodeSpec{
			Module:       e.Info.ID(),
			Version:      e.Info.Version.Concrete(),
			Dependencies: e.Dependencies,
		})
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", e.Info, err)
		}

		var ref ir.ModuleReference
		switch e.Kind {
		case ir.KindApp:
			ref = ir.AppRef{CodeID: code}
		case ir.KindStandalone:
			ref = ir.StandaloneRef{CodeID: code}
		case ir.KindAccountBase:
			ref = ir.AccountBaseRef{CodeID: code}
		case ir.KindAPI, ir.KindNative:
			addr, err := p.InstantiateShared(ctx, code, e.Info.String())
			if err != nil {
				return nil, fmt.Errorf("deploy %s: %w", e.Info, err)
			}
			if e.Kind == ir.KindAPI {
				ref = ir.APIRef{Addr: addr}
			} else {
				ref = ir.NativeRef{Addr: addr}
			}
		default:
			return nil, fmt.Errorf("entry %s: unknown kind %q", e.Info, e.Kind)
		}
		modules = append(modules, ir.Module{Info: e.Info, Reference: ref})
	}

	if err := p.AddModules(ctx, sender, modules); err != nil {
		return nil, err
	}
	return modules, nil
}

func label(sel cue.Selector) string {
	return strings.Trim(sel.String(), `"`)
}

// formatCUEError keeps the first CUE error and its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &Error{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
