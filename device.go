package devtree

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Device is a node in the device graph. Every device kind in this package
// implements it by embedding Storage and overriding the lifecycle methods it
// needs.
type Device interface {
	// ID returns the identifier the owning Tree assigned.
	ID() ID

	// Name returns the device name.
	Name() string

	// Kind returns the device kind.
	Kind() Kind

	// Type returns the device type string ("disk", "lvmlv", ...).
	Type() string

	// Path returns the device node path.
	Path() string

	// Parents returns the devices this device is built on, in the order they
	// were added.
	Parents() []Device

	// Kids returns the number of devices built on this device.
	Kids() int

	// IsLeaf reports whether nothing is built on this device.
	IsLeaf() bool

	// DependsOn reports whether dep must exist and be active for this
	// device to work.
	DependsOn(dep Device) bool

	// Exists reports whether the device is present on the system, as
	// opposed to a pending request.
	Exists() bool

	// Status reports whether the device is active. It is queried from the
	// system on every call.
	Status() bool

	// Setup activates the device and everything it depends on. With orig the
	// formats the parents were discovered with are used.
	Setup(orig bool) error

	// Teardown deactivates the device, and with recursive its parents.
	Teardown(recursive bool) error

	// Create creates the device, creating and activating its parents first.
	Create() error

	// Destroy removes the device from the system. Only leaves can be
	// destroyed and the format must already have been destroyed.
	Destroy() error

	// Size returns the size in MiB after all pending operations.
	Size() float64

	// SetSize sets the requested size.
	SetSize(size float64) error

	// CurrentSize returns the size the device has on disk now.
	CurrentSize() float64

	// TargetSize returns the size a pending resize will produce.
	TargetSize() float64

	// SetTargetSize requests a resize to size.
	SetTargetSize(size float64) error

	MinSize() float64

	// MaxSize returns the largest size the device can be given, 0 when
	// unlimited.
	MaxSize() float64

	// Resizable reports whether the device can be resized now.
	Resizable() bool

	// MediaPresent reports whether the device has a medium.
	MediaPresent() bool

	Format() Format
	SetFormat(f Format) error

	// OriginalFormat returns the format the device was discovered with.
	OriginalFormat() Format

	// FstabSpec returns the device specifier for /etc/fstab.
	FstabSpec() string

	// CheckSize compares the size to the format limits.
	CheckSize() SizeProblem

	// PreCommitFixup is run just before any destructive change is written
	// to disk. mountpoints are the mountpoints of the new system.
	PreCommitFixup(mountpoints []string) error

	// Growable reports whether the device or any of its parents was
	// requested to fill available space.
	Growable() bool

	// Packages returns the packages needed to use the device.
	Packages() []string

	// Services returns the services needed to use the device.
	Services() []string

	// DracutSetupArgs returns the kernel arguments the initramfs needs to
	// bring up the device.
	DracutSetupArgs() []string

	// WriteKS writes the kickstart line recreating the device, if the device
	// kind has one.
	WriteKS(w io.Writer, preexisting, noformat bool) error

	storage() *Storage
}

// Resizable is implemented by devices that can be resized in place.
type Resizable interface {
	Device
	// Resize applies the pending target size.
	Resize() error
}

// NetworkBacked is implemented by devices reached over the network.
type NetworkBacked interface {
	Device
	HostAddress() string
	NIC() string
}

// Partitionable is implemented by devices that carry a disk label.
type Partitionable interface {
	Device
	// Label returns the in-memory disk label, including uncommitted changes.
	Label() (*DiskLabel, error)
	// OriginalLabel returns the label as it was on disk at discovery or at
	// the last commit.
	OriginalLabel() (*DiskLabel, error)
}

// Base holds the graph state every device has: identity, parents and a
// count of children.
type Base struct {
	id      ID
	name    string
	kind    Kind
	parents []ID
	kids    int
	tree    *Tree
	self    Device
}

// ID returns the identifier the owning Tree assigned.
func (b *Base) ID() ID {
	return b.id
}

// Name returns the device name.
func (b *Base) Name() string {
	return b.name
}

// Kind returns the device kind.
func (b *Base) Kind() Kind {
	return b.kind
}

// Type returns the device type string.
func (b *Base) Type() string {
	return b.kind.String()
}

// Parents returns the parent devices.
func (b *Base) Parents() []Device {
	parents := make([]Device, 0, len(b.parents))

	for _, id := range b.parents {
		if d := b.tree.Get(id); d != nil {
			parents = append(parents, d)
		}
	}

	return parents
}

// Kids returns the number of children.
func (b *Base) Kids() int {
	return b.kids
}

// IsLeaf reports whether the device has no children.
func (b *Base) IsLeaf() bool {
	return b.kids == 0
}

// DependsOn reports whether dep is a parent of this device or of one of
// its ancestors.
func (b *Base) DependsOn(dep Device) bool {
	for _, p := range b.Parents() {
		if p.ID() == dep.ID() || p.DependsOn(dep) {
			return true
		}
	}

	return false
}

func (b *Base) hasParent(d Device) bool {
	for _, id := range b.parents {
		if id == d.ID() {
			return true
		}
	}

	return false
}

func (b *Base) addParent(d Device) {
	b.parents = append(b.parents, d.ID())
	d.storage().addChild()
}

func (b *Base) removeParent(d Device) bool {
	for i, id := range b.parents {
		if id == d.ID() {
			b.parents = append(b.parents[:i], b.parents[i+1:]...)
			d.storage().removeChild()

			return true
		}
	}

	return false
}

func (b *Base) addChild() {
	b.kids++
}

func (b *Base) removeChild() {
	if b.kids == 0 {
		log.Warn().Str("device", b.name).Msg("removeChild called on a device with no children")
		return
	}

	b.kids--
}

func (b *Base) env() *Env {
	return &b.tree.env
}

func (b *Base) sys() System {
	return b.tree.env.System
}

func (b *Base) settle() error {
	return b.tree.env.System.Settle()
}

func (b *Base) logCall(method string) *zerolog.Event {
	return log.Debug().Str("device", b.name).Str("type", b.Type()).Str("method", method)
}

func (b *Base) setupParents(orig bool) error {
	for _, p := range b.Parents() {
		if err := p.Setup(orig); err != nil {
			return err
		}
	}

	return nil
}

func (b *Base) teardownParents(recursive bool) error {
	for _, p := range b.Parents() {
		if err := p.Teardown(recursive); err != nil {
			return err
		}
	}

	return nil
}

// createParents creates every parent that does not exist yet, which in turn
// creates its own parents.
func (b *Base) createParents() error {
	for _, p := range b.Parents() {
		if p.Exists() {
			continue
		}

		if err := p.Create(); err != nil {
			return err
		}
	}

	return nil
}

// Packages returns the packages needed by the device and its ancestors.
func (b *Base) Packages() []string {
	pkgs := append([]string{}, kindPackages[b.kind]...)

	for _, p := range b.Parents() {
		pkgs = append(pkgs, p.Packages()...)
	}

	return dedupe(pkgs)
}

// Services returns the services needed by the device and its ancestors.
func (b *Base) Services() []string {
	svcs := append([]string{}, kindServices[b.kind]...)

	for _, p := range b.Parents() {
		svcs = append(svcs, p.Services()...)
	}

	return dedupe(svcs)
}

// DracutSetupArgs returns nothing for kinds that the initramfs finds on
// its own.
func (b *Base) DracutSetupArgs() []string {
	return nil
}

// WriteKS writes nothing for kinds without a kickstart command.
func (b *Base) WriteKS(w io.Writer, preexisting, noformat bool) error {
	return nil
}
