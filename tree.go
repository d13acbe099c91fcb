package devtree

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Tree owns a set of devices and the collaborators they use. Devices are
// created with the New* methods of a Tree and refer to each other by ID.
//
// A Tree is not safe for concurrent use. All mutating operations must be
// driven from a single goroutine.
type Tree struct {
	env     Env
	ids     idAllocator
	devices map[ID]Device
	order   []ID
	handler ErrorHandler
}

// Option configures a Tree.
type Option func(*Tree)

// WithErrorHandler sets the policy used by the Tree's bulk operations.
func WithErrorHandler(h ErrorHandler) Option {
	return func(t *Tree) {
		t.handler = h
	}
}

// WithFirstID makes the Tree hand out IDs starting at id.
func WithFirstID(id ID) Option {
	return func(t *Tree) {
		t.ids.next = id
	}
}

// NewTree returns an empty Tree whose devices use env.
func NewTree(env Env, opts ...Option) *Tree {
	if env.Progress == nil {
		env.Progress = nopProgress{}
	}

	t := &Tree{
		env:     env,
		devices: map[ID]Device{},
		handler: AbortOnError,
	}

	for _, o := range opts {
		o(t)
	}

	return t
}

type idAllocator struct {
	next ID
}

func (a *idAllocator) allocate() ID {
	id := a.next
	a.next++

	return id
}

// Env returns the collaborators used by the Tree's devices.
func (t *Tree) Env() Env {
	return t.env
}

// register gives d an ID, records its parents and adds it to the tree.
func (t *Tree) register(d Device, parents []Device) error {
	s := d.storage()

	for _, p := range parents {
		if p == nil {
			return deviceError(s.name, "nil parent")
		}

		if t.Get(p.ID()) != p {
			return deviceError(s.name, "parent %s does not belong to this tree", p.Name())
		}
	}

	s.id = t.ids.allocate()
	s.tree = t
	s.self = d

	for _, p := range parents {
		s.addParent(p)
	}

	s.finishInit()

	t.devices[s.id] = d
	t.order = append(t.order, s.id)

	log.Debug().Str("device", d.Name()).Str("type", d.Type()).Int("id", int(s.id)).Msg("registered device")

	return nil
}

// unregister undoes register for a device whose construction failed.
func (t *Tree) unregister(d Device) {
	s := d.storage()

	for _, p := range s.Parents() {
		s.removeParent(p)
	}

	delete(t.devices, s.id)

	for i, id := range t.order {
		if id == s.id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Get returns the device with the given ID, nil if there is none.
func (t *Tree) Get(id ID) Device {
	return t.devices[id]
}

// ByName returns the device named name, nil if there is none.
func (t *Tree) ByName(name string) Device {
	for _, id := range t.order {
		if d := t.devices[id]; d.Name() == name {
			return d
		}
	}

	return nil
}

// ByPath returns the device with device node path, nil if there is none.
func (t *Tree) ByPath(path string) Device {
	for _, id := range t.order {
		if d := t.devices[id]; d.Path() == path {
			return d
		}
	}

	return nil
}

// Devices returns all devices in the order they were added.
func (t *Tree) Devices() []Device {
	devs := make([]Device, 0, len(t.order))

	for _, id := range t.order {
		devs = append(devs, t.devices[id])
	}

	return devs
}

// Children returns the devices that have d as a direct parent.
func (t *Tree) Children(d Device) []Device {
	kids := []Device{}

	for _, c := range t.Devices() {
		if c.storage().hasParent(d) {
			kids = append(kids, c)
		}
	}

	return kids
}

// Leaves returns the devices nothing is built on.
func (t *Tree) Leaves() []Device {
	leaves := []Device{}

	for _, d := range t.Devices() {
		if d.IsLeaf() {
			leaves = append(leaves, d)
		}
	}

	return leaves
}

// Dependents returns every device that depends on d, directly or not.
func (t *Tree) Dependents(d Device) []Device {
	deps := []Device{}

	for _, c := range t.Devices() {
		if c.ID() != d.ID() && c.DependsOn(d) {
			deps = append(deps, c)
		}
	}

	return deps
}

// Remove takes the leaf device d out of the tree. Its parents lose a child
// and logical volumes leave their container.
func (t *Tree) Remove(d Device) error {
	if t.Get(d.ID()) != d {
		return deviceError(d.Name(), "device is not in the tree")
	}

	if !d.IsLeaf() {
		return deviceError(d.Name(), "Cannot remove non-leaf device")
	}

	if lv, ok := d.(LV); ok {
		if err := lv.container().removeLogVol(lv); err != nil {
			return err
		}
	}

	t.unregister(d)

	log.Debug().Str("device", d.Name()).Msg("removed device")

	return nil
}

// sorted returns the devices ordered so that every device comes after all
// of its parents.
func (t *Tree) sorted() []Device {
	visited := map[ID]bool{}
	out := []Device{}

	var visit func(d Device)
	visit = func(d Device) {
		if visited[d.ID()] {
			return
		}

		visited[d.ID()] = true

		for _, p := range d.Parents() {
			visit(p)
		}

		out = append(out, d)
	}

	for _, d := range t.Devices() {
		visit(d)
	}

	return out
}

func (t *Tree) handle(d Device, op string, err error) error {
	if err == nil {
		return nil
	}

	if t.handler.Handle(d, op, err) == Continue {
		log.Warn().Err(err).Str("device", d.Name()).Str("op", op).Msg("continuing after error")
		return nil
	}

	return errors.Wrapf(err, "%s %s", op, d.Name())
}

// SetupAll activates every existing device, parents first.
func (t *Tree) SetupAll(orig bool) error {
	for _, d := range t.sorted() {
		if !d.Exists() {
			continue
		}

		if err := t.handle(d, "setup", d.Setup(orig)); err != nil {
			return err
		}
	}

	return nil
}

// TeardownAll deactivates every existing device, children first.
func (t *Tree) TeardownAll() error {
	devs := t.sorted()

	for i := len(devs) - 1; i >= 0; i-- {
		d := devs[i]
		if !d.Exists() {
			continue
		}

		if err := t.handle(d, "teardown", d.Teardown(false)); err != nil {
			return err
		}
	}

	return nil
}

// CreateDevice creates d (and any parents that do not exist yet).
func (t *Tree) CreateDevice(d Device) error {
	return t.handle(d, "create", d.Create())
}

// CreateAll creates every device that does not exist yet, parents first.
func (t *Tree) CreateAll() error {
	for _, d := range t.sorted() {
		if d.Exists() {
			continue
		}

		if err := t.CreateDevice(d); err != nil {
			return err
		}
	}

	return nil
}

// DestroyDevice destroys d on the system and removes it from the tree.
func (t *Tree) DestroyDevice(d Device) error {
	if err := d.Destroy(); err != nil {
		return t.handle(d, "destroy", err)
	}

	return t.Remove(d)
}

// DestroyAll destroys d together with everything built on it, children
// first.
func (t *Tree) DestroyAll(d Device) error {
	for _, c := range t.Children(d) {
		if err := t.DestroyAll(c); err != nil {
			return err
		}
	}

	if !d.Exists() {
		return t.Remove(d)
	}

	return t.DestroyDevice(d)
}

// PreCommitFixup runs PreCommitFixup on every device.
func (t *Tree) PreCommitFixup(mountpoints []string) error {
	for _, d := range t.Devices() {
		if err := d.PreCommitFixup(mountpoints); err != nil {
			return err
		}
	}

	return nil
}

// Packages returns the packages needed by all devices in the tree.
func (t *Tree) Packages() []string {
	pkgs := []string{}

	for _, d := range t.Leaves() {
		pkgs = append(pkgs, d.Packages()...)
	}

	return dedupe(pkgs)
}

// Services returns the services needed by all devices in the tree.
func (t *Tree) Services() []string {
	svcs := []string{}

	for _, d := range t.Leaves() {
		svcs = append(svcs, d.Services()...)
	}

	return dedupe(svcs)
}

// DracutSetupArgs returns the kernel arguments for all devices d depends on.
func (t *Tree) DracutSetupArgs(d Device) []string {
	args := append([]string{}, d.DracutSetupArgs()...)

	for _, p := range t.sorted() {
		if d.DependsOn(p) {
			args = append(args, p.DracutSetupArgs()...)
		}
	}

	return dedupe(args)
}
