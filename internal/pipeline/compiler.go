package pipeline

import (
	"fmt"
	"sort"

	"github.com/striderobotics/cyclekit/internal/types"
)

// SourceKind identifies the concrete source an input is wired to.
type SourceKind string

const (
	// SourceSelf reads the cycler's own in-progress database.
	SourceSelf SourceKind = "self"
	// SourceChannel reads the latest snapshot from another cycler's channel.
	SourceChannel SourceKind = "channel"
	// SourceHistoric reads a producer's historic buffer by timestamp.
	SourceHistoric SourceKind = "historic"
)

// Wire binds one declared input to its resolved source.
type Wire struct {
	Path     string
	Kind     SourceKind
	Producer string // module name for SourceSelf, cycler name otherwise
}

// ModulePlan is one module with its resolved wiring.
type ModulePlan struct {
	Module types.Module
	Desc   types.Descriptor
	Wires  []Wire
}

// CyclerPlan is the compiled execution plan for one cycler: its modules in
// dependency order plus the external sources each tick must consult.
type CyclerPlan struct {
	Name             string
	Modules          []ModulePlan
	Channels         []string // upstream cyclers read through channels
	Historics        []string // cyclers whose historic buffers are consulted
	HistoricCapacity int
}

// Plan is the compiled execution plan for the whole process.
type Plan struct {
	Cyclers    []*CyclerPlan
	ParamPaths []string // every parameter path referenced by any module

	byName map[string]*CyclerPlan
}

// Cycler returns one cycler's plan by name.
func (p *Plan) Cycler(name string) (*CyclerPlan, bool) {
	plan, ok := p.byName[name]
	return plan, ok
}

// CyclerDecl declares one cycler to the compiler.
type CyclerDecl struct {
	Name             string
	Modules          []types.Module
	HistoricCapacity int // 0 means no historic buffer
}

type producer struct {
	cycler string
	module string
	index  int // declaration index within its cycler
}

// Compile validates all declarations and produces the execution plan. It is
// called once at startup; any error is fatal before the first tick.
func Compile(decls []CyclerDecl) (*Plan, error) {
	if len(decls) == 0 {
		return nil, fmt.Errorf("pipeline: no cyclers declared")
	}

	descs := make(map[string][]types.Descriptor, len(decls))
	seenCyclers := make(map[string]bool, len(decls))
	for _, decl := range decls {
		if seenCyclers[decl.Name] {
			return nil, fmt.Errorf("pipeline: duplicate cycler name %q", decl.Name)
		}
		seenCyclers[decl.Name] = true

		seenModules := make(map[string]bool, len(decl.Modules))
		for _, m := range decl.Modules {
			desc := m.Descriptor()
			if desc.Name == "" {
				return nil, fmt.Errorf("pipeline: unnamed module in cycler %q", decl.Name)
			}
			if seenModules[desc.Name] {
				return nil, fmt.Errorf("pipeline: duplicate module %q in cycler %q", desc.Name, decl.Name)
			}
			seenModules[desc.Name] = true
			descs[decl.Name] = append(descs[decl.Name], desc)
		}
	}

	producers := indexProducers(decls, descs)

	plan := &Plan{byName: make(map[string]*CyclerPlan, len(decls))}
	paramPaths := make(map[string]bool)

	for _, decl := range decls {
		cyclerPlan, err := compileCycler(decl, descs[decl.Name], producers, decls)
		if err != nil {
			return nil, err
		}
		plan.Cyclers = append(plan.Cyclers, cyclerPlan)
		plan.byName[decl.Name] = cyclerPlan

		for _, mp := range cyclerPlan.Modules {
			for _, path := range mp.Desc.Params {
				paramPaths[path] = true
			}
		}
	}

	for path := range paramPaths {
		plan.ParamPaths = append(plan.ParamPaths, path)
	}
	sort.Strings(plan.ParamPaths)

	return plan, nil
}

// indexProducers maps every declared output path to the modules producing it.
func indexProducers(decls []CyclerDecl, descs map[string][]types.Descriptor) map[string][]producer {
	index := make(map[string][]producer)
	for _, decl := range decls {
		for i, desc := range descs[decl.Name] {
			for _, path := range desc.Outputs {
				index[path] = append(index[path], producer{
					cycler: decl.Name,
					module: desc.Name,
					index:  i,
				})
			}
		}
	}
	return index
}

func compileCycler(decl CyclerDecl, descs []types.Descriptor, producers map[string][]producer, all []CyclerDecl) (*CyclerPlan, error) {
	n := len(descs)
	wires := make([][]Wire, n)
	// edges[consumer] holds declaration indices of same-cycler producers.
	edges := make([][]int, n)
	channels := make(map[string]bool)
	historics := make(map[string]bool)

	bufferCapacity := func(cycler string) int {
		for _, d := range all {
			if d.Name == cycler {
				return d.HistoricCapacity
			}
		}
		return 0
	}

	for i, desc := range descs {
		for _, input := range desc.Inputs {
			candidates := producers[input.Path]
			if len(candidates) != 1 {
				return nil, &UnresolvedInputError{
					Cycler:     decl.Name,
					Module:     desc.Name,
					Path:       input.Path,
					Candidates: candidateNames(candidates),
				}
			}
			src := candidates[0]

			switch input.Access {
			case types.AccessHistoric:
				if bufferCapacity(src.cycler) == 0 {
					return nil, &MissingHistoricBufferError{
						Cycler:   decl.Name,
						Module:   desc.Name,
						Path:     input.Path,
						Producer: src.cycler,
					}
				}
				wires[i] = append(wires[i], Wire{Path: input.Path, Kind: SourceHistoric, Producer: src.cycler})
				historics[src.cycler] = true

			default: // AccessLatest
				if src.cycler == decl.Name {
					wires[i] = append(wires[i], Wire{Path: input.Path, Kind: SourceSelf, Producer: src.module})
					edges[i] = append(edges[i], src.index)
				} else {
					wires[i] = append(wires[i], Wire{Path: input.Path, Kind: SourceChannel, Producer: src.cycler})
					channels[src.cycler] = true
				}
			}
		}
	}

	order, err := topoSort(decl.Name, descs, edges)
	if err != nil {
		return nil, err
	}

	plan := &CyclerPlan{
		Name:             decl.Name,
		HistoricCapacity: decl.HistoricCapacity,
	}
	for _, i := range order {
		plan.Modules = append(plan.Modules, ModulePlan{
			Module: decl.Modules[i],
			Desc:   descs[i],
			Wires:  wires[i],
		})
	}
	plan.Channels = sortedKeys(channels)
	plan.Historics = sortedKeys(historics)
	return plan, nil
}

// topoSort orders module declaration indices so every intra-cycler producer
// runs before its consumers. Among ready modules the lowest declaration index
// always wins, so the order is stable across rebuilds.
func topoSort(cycler string, descs []types.Descriptor, edges [][]int) ([]int, error) {
	n := len(descs)

	// Dedupe edges so indegrees count distinct producers.
	deps := make([]map[int]bool, n)
	for i, producerIdxs := range edges {
		deps[i] = make(map[int]bool, len(producerIdxs))
		for _, p := range producerIdxs {
			deps[i][p] = true
		}
	}

	placed := make([]bool, n)
	order := make([]int, 0, n)
	for len(order) < n {
		next := -1
		for i := 0; i < n; i++ {
			if placed[i] {
				continue
			}
			ready := true
			for p := range deps[i] {
				if !placed[p] {
					ready = false
					break
				}
			}
			if ready {
				next = i
				break
			}
		}
		if next == -1 {
			return nil, &DependencyCycleError{
				Cycler: cycler,
				Cycle:  extractCycle(descs, deps, placed),
			}
		}
		placed[next] = true
		order = append(order, next)
	}
	return order, nil
}

// extractCycle walks requires-edges among unplaced modules until a module
// repeats, returning the cycle's module names in requires-order.
func extractCycle(descs []types.Descriptor, deps []map[int]bool, placed []bool) []string {
	start := -1
	for i := range descs {
		if !placed[i] {
			start = i
			break
		}
	}

	onPath := make(map[int]int) // node -> position on the walk
	var path []int
	node := start
	for {
		if pos, seen := onPath[node]; seen {
			cycle := path[pos:]
			names := make([]string, len(cycle))
			for i, idx := range cycle {
				names[i] = descs[idx].Name
			}
			return names
		}
		onPath[node] = len(path)
		path = append(path, node)

		// Follow the lowest-index unplaced dependency; one always exists,
		// otherwise the node would have been placed.
		next := -1
		for p := range deps[node] {
			if !placed[p] && (next == -1 || p < next) {
				next = p
			}
		}
		node = next
	}
}

func candidateNames(candidates []producer) []string {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.cycler + "/" + c.module
	}
	sort.Strings(names)
	return names
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
