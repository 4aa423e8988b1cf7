package manager

import (
	"context"
	"fmt"

	"github.com/roach88/modacct/internal/ir"
	"github.com/roach88/modacct/internal/version"
)

// Ledger tracks which installed modules depend on which, and gates installs,
// migrations and removals against declared version requirements.
//
// Declared dependencies always come from the deployed module's metadata,
// never from the registry.
type Ledger struct {
	state   State
	book    *AddressBook
	querier Querier
}

// NewLedger creates a ledger over the account state.
func NewLedger(state State, book *AddressBook, querier Querier) *Ledger {
	return &Ledger{state: state, book: book, querier: querier}
}

// AssertInstallRequirements loads the declared dependencies of the module
// deployed at addr and checks each against the currently installed version
// of that dependency. Returns the dependency list on success.
func (l *Ledger) AssertInstallRequirements(ctx context.Context, id ir.ModuleID, addr ir.Addr) (ir.Dependencies, error) {
	data, err := l.querier.ModuleData(ctx, addr)
	if err != nil {
		return nil, err
	}

	for _, dep := range data.Dependencies {
		depAddr, err := l.book.Get(ctx, dep.ID)
		if ir.HasCode(err, ir.ErrCodeNotFound) {
			return nil, ir.ModuleError(ir.ErrCodeDependencyNotInstalled, dep.ID,
				fmt.Sprintf("%s depends on %s, which is not installed", id, dep.ID)).
				WithDetail("dependent", string(id))
		}
		if err != nil {
			return nil, err
		}
		depData, err := l.querier.ModuleData(ctx, depAddr)
		if err != nil {
			return nil, err
		}
		cmp, err := version.Unmet(dep.VersionReq, depData.Version)
		if err != nil {
			return nil, err
		}
		if cmp != "" {
			return nil, ir.NewRequirementNotMetError(id, dep.ID, cmp, depData.Version)
		}
	}
	return data.Dependencies, nil
}

// SetAsDependent records id as a dependent of every dependency in deps.
func (l *Ledger) SetAsDependent(ctx context.Context, id ir.ModuleID, deps ir.Dependencies) error {
	for _, dep := range deps {
		if err := l.state.AddDependent(ctx, dep.ID, id); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAsDependent drops id from the dependents of every dependency in deps.
func (l *Ledger) RemoveAsDependent(ctx context.Context, id ir.ModuleID, deps ir.Dependencies) error {
	for _, dep := range deps {
		if err := l.state.RemoveDependent(ctx, dep.ID, id); err != nil {
			return err
		}
	}
	return nil
}

// AssertMigrateRequirements checks newVersion of id against the requirement
// every recorded dependent declares on it. An empty dependents set is
// trivially satisfied. Returns id's own current dependency list for the
// migration context.
func (l *Ledger) AssertMigrateRequirements(ctx context.Context, id ir.ModuleID, newVersion string) (ir.Dependencies, error) {
	dependents, err := l.state.Dependents(ctx, id)
	if err != nil {
		return nil, err
	}

	for _, d := range dependents {
		dAddr, err := l.book.Get(ctx, d)
		if err != nil {
			return nil, inconsistent(d, id, "is not installed")
		}
		dData, err := l.querier.ModuleData(ctx, dAddr)
		if err != nil {
			return nil, err
		}
		dep, ok := dData.Dependencies.Find(id)
		if !ok {
			return nil, inconsistent(d, id, "declares no dependency on it")
		}
		cmp, err := version.Unmet(dep.VersionReq, newVersion)
		if err != nil {
			return nil, err
		}
		if cmp != "" {
			return nil, ir.NewRequirementNotMetError(d, id, cmp, newVersion)
		}
	}

	addr, err := l.book.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := l.querier.ModuleData(ctx, addr)
	if err != nil {
		return nil, err
	}
	return data.Dependencies, nil
}

// AssertRemovable fails with HAS_DEPENDENTS while anything depends on id.
func (l *Ledger) AssertRemovable(ctx context.Context, id ir.ModuleID) error {
	dependents, err := l.state.Dependents(ctx, id)
	if err != nil {
		return err
	}
	if len(dependents) > 0 {
		return ir.NewHasDependentsError(id, dependents)
	}
	return nil
}

// Dependents returns the recorded dependents of id.
func (l *Ledger) Dependents(ctx context.Context, id ir.ModuleID) ([]ir.ModuleID, error) {
	return l.state.Dependents(ctx, id)
}

func inconsistent(dependent, id ir.ModuleID, problem string) error {
	return ir.ModuleError(ir.ErrCodeInconsistentDependency, id,
		fmt.Sprintf("recorded dependent %s %s", dependent, problem)).
		WithDetail("dependent", string(dependent))
}
