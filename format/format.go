// Package format provides the formats devices carry: filesystems, swap, lvm
// physical volumes, luks containers and raid member signatures. Formats do
// their work through a Tools implementation; linux.Tools runs the real
// commands and mockos.System records the calls.
package format

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"machinerun.io/devtree"
)

// Tools is the set of host operations formats need.
type Tools interface {
	// Mkfs creates a filesystem of type fstype on device.
	Mkfs(fstype, device, label, uuid string) error

	// Mount mounts device on mountpoint. options may be empty.
	Mount(device, mountpoint, fstype, options string) error
	Unmount(mountpoint string) error

	MkSwap(device, label, uuid string) error
	SwapOn(device string, priority int) error
	SwapOff(device string) error

	PVCreate(device string) error
	PVRemove(device string) error

	LUKSFormat(device, passphrase, uuid string) error
	LUKSOpen(device, mapName, passphrase string) error
	LUKSClose(mapName string) error

	// WipeSignatures erases every signature on device.
	WipeSignatures(device string) error
}

// Args are the common arguments of the format constructors.
type Args struct {
	// Exists marks a format found on disk.
	Exists bool

	Device string
	UUID   string
	Label  string

	// Mountpoint is where a filesystem is mounted on the installed system.
	Mountpoint string

	// Options are the mount options.
	Options string

	// Passphrase unlocks a luks container.
	Passphrase string

	// MapName is the device-mapper name of an opened luks container.
	MapName string

	// VGName and VGUUID identify the volume group of a physical volume.
	VGName string
	VGUUID string

	// PEStart is the size of the physical volume header in MiB.
	PEStart float64

	// MDUUID is the uuid of the array a member belongs to.
	MDUUID string

	// RaidSet is the firmware raid set a member belongs to.
	RaidSet string

	// Priority is the swap priority, -1 for the kernel default.
	Priority int
}

type constructor func(tools Tools, fstype string, args Args) devtree.Format

var registry = map[string]constructor{}

func register(c constructor, types ...string) {
	for _, t := range types {
		registry[t] = c
	}
}

// New returns a format of type fstype.
func New(tools Tools, fstype string, args Args) (devtree.Format, error) {
	c, ok := registry[fstype]
	if !ok {
		return nil, fmt.Errorf("unknown format type '%s'", fstype)
	}

	return c(tools, fstype, args), nil
}

// Types returns the known format types, sorted.
func Types() []string {
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}

	sort.Strings(types)

	return types
}

// base carries the state every format has.
type base struct {
	typ    string
	device string
	uuid   string
	exists bool
	tools  Tools
}

func newBase(tools Tools, fstype string, args Args) base {
	return base{
		typ:    fstype,
		device: args.Device,
		uuid:   args.UUID,
		exists: args.Exists,
		tools:  tools,
	}
}

// Type returns the format type.
func (b *base) Type() string {
	return b.typ
}

// Exists reports whether the format is on disk.
func (b *base) Exists() bool {
	return b.exists
}

// Status reports false. Formats that can be active override it.
func (b *base) Status() bool {
	return false
}

// Resizable reports false.
func (b *base) Resizable() bool {
	return false
}

func (b *base) MinSize() float64 {
	return 0
}

func (b *base) MaxSize() float64 {
	return 0
}

// UUID returns the format uuid.
func (b *base) UUID() string {
	return b.uuid
}

// Device returns the device path.
func (b *base) Device() string {
	return b.device
}

// SetDevice sets the device path.
func (b *base) SetDevice(path string) {
	b.device = path
}

func (b *base) Setup() error {
	return nil
}

func (b *base) Teardown() error {
	return nil
}

// Create marks the format as existing. Formats written by a tool override
// it.
func (b *base) Create() error {
	b.exists = true
	return nil
}

// Destroy erases the signatures from the device.
func (b *base) Destroy() error {
	if !b.exists {
		return fmt.Errorf("%s format on %s does not exist", b.typ, b.device)
	}

	log.Debug().Str("device", b.device).Str("format", b.typ).Msg("destroying format")

	if err := b.tools.WipeSignatures(b.device); err != nil {
		return err
	}

	b.exists = false

	return nil
}

func (b *base) checkCreate() error {
	if b.exists {
		return fmt.Errorf("%s format on %s already exists", b.typ, b.device)
	}

	if b.device == "" {
		return fmt.Errorf("%s format has no device", b.typ)
	}

	return nil
}
