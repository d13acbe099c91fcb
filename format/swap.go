package format

import (
	"fmt"

	"machinerun.io/devtree"
)

func init() {
	register(func(tools Tools, fstype string, args Args) devtree.Format {
		return NewSwap(tools, args)
	}, "swap")
}

// Swap is a swap area.
type Swap struct {
	base
	label    string
	priority int
	active   bool
}

// NewSwap returns a swap format.
func NewSwap(tools Tools, args Args) *Swap {
	return &Swap{base: newBase(tools, "swap", args), label: args.Label, priority: args.Priority}
}

// Label returns the swap label.
func (s *Swap) Label() string {
	return s.label
}

// Priority returns the swap priority.
func (s *Swap) Priority() int {
	return s.priority
}

// Status reports whether the swap area is in use.
func (s *Swap) Status() bool {
	return s.active
}

// Resizable reports whether the swap area exists. Swap is recreated at the
// new size.
func (s *Swap) Resizable() bool {
	return s.exists
}

// MaxSize returns 128 GiB.
func (s *Swap) MaxSize() float64 {
	return 128 * 1024
}

// Create writes the swap signature.
func (s *Swap) Create() error {
	if err := s.checkCreate(); err != nil {
		return err
	}

	if s.uuid == "" {
		s.uuid = devtree.GenUUID()
	}

	if err := s.tools.MkSwap(s.device, s.label, s.uuid); err != nil {
		return err
	}

	s.exists = true

	return nil
}

// Setup turns the swap area on.
func (s *Swap) Setup() error {
	if s.active {
		return nil
	}

	if !s.exists {
		return fmt.Errorf("cannot activate swap on %s: no swap signature", s.device)
	}

	if err := s.tools.SwapOn(s.device, s.priority); err != nil {
		return err
	}

	s.active = true

	return nil
}

// Teardown turns the swap area off.
func (s *Swap) Teardown() error {
	if !s.active {
		return nil
	}

	if err := s.tools.SwapOff(s.device); err != nil {
		return err
	}

	s.active = false

	return nil
}

// Destroy wipes the swap signature. The area must be off.
func (s *Swap) Destroy() error {
	if s.active {
		return fmt.Errorf("cannot destroy active swap on %s", s.device)
	}

	return s.base.Destroy()
}

// Snapshot returns a copy of the swap state.
func (s *Swap) Snapshot() devtree.Format {
	c := *s
	return &c
}
