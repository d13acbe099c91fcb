package devtree

// Format is the content living on a device: a filesystem, swap, an lvm
// physical volume signature, an encryption header, a disk label. Devices
// call into their format but never look at its on-disk layout.
type Format interface {
	// Type returns the format type ("ext4", "swap", "lvmpv", "luks", ...).
	// The empty string means the device carries no format.
	Type() string

	// Exists reports whether the format is present on disk.
	Exists() bool

	// Status reports whether the format is active (mounted, opened, ...).
	Status() bool

	// Resizable reports whether the format can be resized.
	Resizable() bool

	// MinSize returns the smallest size the format can be shrunk to, 0 when
	// unknown.
	MinSize() float64

	// MaxSize returns the largest size the format supports, 0 when unlimited.
	MaxSize() float64

	// UUID returns the format's uuid, empty if it has none.
	UUID() string

	// Device returns the path of the device the format lives on.
	Device() string

	// SetDevice tells the format which device it lives on.
	SetDevice(path string)

	Setup() error
	Teardown() error
	Create() error
	Destroy() error
}

// Snapshotter is implemented by formats that can return a copy of their
// current state. Devices use it to keep the format they were discovered with.
type Snapshotter interface {
	Snapshot() Format
}

// Mountable is implemented by formats that get mounted.
type Mountable interface {
	Format
	Mountpoint() string
}

// Mounted is implemented by formats that know where they are mounted right
// now. The location differs from Mountpoint while the target system is
// mounted under a chroot.
type Mounted interface {
	Mountable
	MountedAt() string
}

// Labeled is implemented by formats that carry a label.
type Labeled interface {
	Format
	Label() string
}

// PhysicalVolumeFormat is implemented by lvm physical volume formats.
type PhysicalVolumeFormat interface {
	Format
	// PEStart returns the size of the pv header in MiB.
	PEStart() float64
	VGName() string
	VGUUID() string
}

// LUKSFormat is implemented by encryption formats.
type LUKSFormat interface {
	Format
	// MapName returns the device-mapper name used when the format is opened.
	MapName() string
}

// MDMemberFormat is implemented by md raid member formats.
type MDMemberFormat interface {
	Format
	MDUUID() string
	SetMDUUID(uuid string)
}

// DMRaidMemberFormat is implemented by firmware raid member formats.
type DMRaidMemberFormat interface {
	Format
	RaidSet() string
}

// NoFormat returns a Format with type "" that does nothing. It is what a
// device carries when it has no format.
func NoFormat() Format {
	return &blankFormat{}
}

type blankFormat struct {
	device string
}

func (f *blankFormat) Type() string          { return "" }
func (f *blankFormat) Exists() bool          { return false }
func (f *blankFormat) Status() bool          { return false }
func (f *blankFormat) Resizable() bool       { return false }
func (f *blankFormat) MinSize() float64      { return 0 }
func (f *blankFormat) MaxSize() float64      { return 0 }
func (f *blankFormat) UUID() string          { return "" }
func (f *blankFormat) Device() string        { return f.device }
func (f *blankFormat) SetDevice(path string) { f.device = path }
func (f *blankFormat) Setup() error          { return nil }
func (f *blankFormat) Teardown() error       { return nil }
func (f *blankFormat) Create() error         { return nil }
func (f *blankFormat) Destroy() error        { return nil }

func (f *blankFormat) Snapshot() Format {
	c := *f
	return &c
}

func snapshotFormat(f Format) Format {
	if s, ok := f.(Snapshotter); ok {
		return s.Snapshot()
	}

	return f
}

func formatMountpoint(f Format) string {
	if m, ok := f.(Mountable); ok {
		return m.Mountpoint()
	}

	return ""
}
