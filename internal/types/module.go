package types

// Access describes the freshness requirement of a declared input.
type Access string

const (
	// AccessLatest reads the most recent value available at tick start.
	AccessLatest Access = "latest"
	// AccessHistoric reads the value as of a timestamp supplied at runtime.
	AccessHistoric Access = "historic"
)

// Input declares one required input of a module, addressed by the field path
// the producing module writes it under.
type Input struct {
	Path   string
	Access Access
}

// Descriptor declares a module's data requirements and products. The pipeline
// compiler consumes descriptors to build the execution plan; a descriptor must
// not change after registration.
type Descriptor struct {
	Name    string
	Inputs  []Input
	Outputs []string
	Params  []string
	State   bool
}

// Module is a unit of computation scheduled by a cycler. Step is called once
// per tick with all declared inputs resolved; it must write every declared
// output or return an error.
type Module interface {
	Descriptor() Descriptor
	Step(*Context) error
}

// Stateful is implemented by modules that own persistent state. InitialState
// is called once at startup; the returned value is handed back through
// Context.State on every tick.
type Stateful interface {
	InitialState() any
}
