package pipeline

import (
	"fmt"
	"strings"
)

// UnresolvedInputError reports an input with zero or multiple candidate
// producers.
type UnresolvedInputError struct {
	Cycler     string
	Module     string
	Path       string
	Candidates []string // "cycler/module", empty when no producer exists
}

func (e *UnresolvedInputError) Error() string {
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("pipeline: input %q of module %q in cycler %q has no producer",
			e.Path, e.Module, e.Cycler)
	}
	return fmt.Sprintf("pipeline: input %q of module %q in cycler %q is ambiguous, produced by %s",
		e.Path, e.Module, e.Cycler, strings.Join(e.Candidates, ", "))
}

// DependencyCycleError reports a cycle among one cycler's modules. Cycle
// holds the module names in requires-order, without repeating the first.
type DependencyCycleError struct {
	Cycler string
	Cycle  []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("pipeline: dependency cycle in cycler %q: %s -> %s",
		e.Cycler, strings.Join(e.Cycle, " -> "), e.Cycle[0])
}

// MissingHistoricBufferError reports a historic input whose producer does not
// maintain a historic buffer.
type MissingHistoricBufferError struct {
	Cycler   string
	Module   string
	Path     string
	Producer string
}

func (e *MissingHistoricBufferError) Error() string {
	return fmt.Sprintf("pipeline: module %q in cycler %q requires historic access to %q, but producing cycler %q has no historic buffer",
		e.Module, e.Cycler, e.Path, e.Producer)
}
