package devtree

import (
	"path"
)

// SizeProblem is the result of comparing a device size to its format limits.
type SizeProblem int

const (
	// SizeOK - the size fits the format.
	SizeOK SizeProblem = iota

	// SizeTooLarge - the size exceeds the format's maximum.
	SizeTooLarge

	// SizeTooSmall - the size is below the format's minimum.
	SizeTooSmall
)

func (p SizeProblem) String() string {
	switch p {
	case SizeTooLarge:
		return "large"
	case SizeTooSmall:
		return "small"
	}

	return ""
}

// StorageArgs are the arguments common to all storage devices.
type StorageArgs struct {
	// Format is the content of the device. nil means no format.
	Format Format

	// Size is the requested size in MiB for new devices, or the known size
	// of existing ones.
	Size float64

	// Exists marks a device that is present on the system.
	Exists bool

	// Grow requests the device to fill the available space, up to MaxSize.
	Grow bool

	// MaxSize is the upper bound for a growing device, 0 for unlimited.
	MaxSize float64

	UUID      string
	SysfsPath string
	Major     int
	Minor     int
	Serial    string
	Vendor    string
	Model     string
	Bus       string
}

// Storage is a device with a size and a format. It implements the generic
// parts of the Device interface. Concrete kinds embed it and override what
// they do differently.
type Storage struct {
	Base

	exists         bool
	size           float64
	targetSize     float64
	resizePending  bool
	resizable      bool
	format         Format
	originalFormat Format

	grow   bool
	reqMax float64
	devDir string
	uuid   string
	sysfs  string
	major  int
	minor  int
	serial string
	vendor string
	model  string
	bus    string
}

func (s *Storage) init(kind Kind, name string, args StorageArgs) {
	s.kind = kind
	s.name = name
	s.exists = args.Exists
	s.size = args.Size
	s.targetSize = args.Size
	s.format = args.Format
	s.grow = args.Grow
	s.reqMax = args.MaxSize
	s.devDir = "/dev"
	s.uuid = args.UUID
	s.sysfs = args.SysfsPath
	s.major = args.Major
	s.minor = args.Minor
	s.serial = args.Serial
	s.vendor = args.Vendor
	s.model = args.Model
	s.bus = args.Bus
}

// finishInit runs once the device is registered and its Path can be
// computed.
func (s *Storage) finishInit() {
	if s.format == nil {
		s.format = NoFormat()
	}

	s.format.SetDevice(s.self.Path())
	s.originalFormat = snapshotFormat(s.format)
}

func (s *Storage) storage() *Storage {
	return s
}

// Path returns the device node path.
func (s *Storage) Path() string {
	return path.Join(s.devDir, s.self.Name())
}

// Exists reports whether the device is present on the system.
func (s *Storage) Exists() bool {
	return s.exists
}

// UUID returns the device uuid (not the format's).
func (s *Storage) UUID() string {
	return s.uuid
}

// SysfsPath returns the device path below /sys.
func (s *Storage) SysfsPath() string {
	return s.sysfs
}

// Serial returns the device serial number.
func (s *Storage) Serial() string {
	return s.serial
}

// Vendor returns the device vendor.
func (s *Storage) Vendor() string {
	return s.vendor
}

// Model returns the device model.
func (s *Storage) Model() string {
	return s.model
}

// Bus returns the bus the device is attached to.
func (s *Storage) Bus() string {
	return s.bus
}

// MajorMinor returns the device major and minor numbers.
func (s *Storage) MajorMinor() (int, int) {
	return s.major, s.minor
}

// Status reports whether the device node is present and writable.
func (s *Storage) Status() bool {
	if !s.exists {
		return false
	}

	return s.sys().Writable(s.self.Path())
}

// MediaPresent is true for everything but removable drives.
func (s *Storage) MediaPresent() bool {
	return true
}

func (s *Storage) probe() (float64, bool) {
	size, err := s.sys().Probe(s.self.Path())
	if err != nil {
		return 0, false
	}

	return size, true
}

// Size returns the size after all pending operations. An existing device
// without media has size 0. An existing device that can be probed takes the
// probed size, unless a resize to another size is pending.
func (s *Storage) Size() float64 {
	if s.exists && !s.self.MediaPresent() {
		return 0
	}

	if s.exists {
		if size, ok := s.probe(); ok {
			s.size = size
		}
	}

	if s.exists && s.resizePending && s.self.Resizable() && s.targetSize != s.size {
		return s.targetSize
	}

	return s.size
}

// SetSize sets the requested size. It fails if size exceeds MaxSize.
func (s *Storage) SetSize(size float64) error {
	if max := s.self.MaxSize(); max > 0 && size > max {
		return deviceError(s.name, "device cannot be larger than %.2f MiB", max)
	}

	s.size = size

	return nil
}

// CurrentSize returns the size of the device on disk: the probed size if the
// device can be probed, the known size if it exists, 0 otherwise.
func (s *Storage) CurrentSize() float64 {
	if !s.exists {
		return 0
	}

	if size, ok := s.probe(); ok {
		return size
	}

	return s.size
}

// TargetSize returns the size a pending resize will produce.
func (s *Storage) TargetSize() float64 {
	if s.resizePending {
		return s.targetSize
	}

	return s.size
}

// SetTargetSize requests a resize.
func (s *Storage) SetTargetSize(size float64) error {
	s.targetSize = size
	s.resizePending = true

	return nil
}

// MinSize returns the format's minimum size, or the current size if the
// format does not know its minimum.
func (s *Storage) MinSize() float64 {
	if min := s.format.MinSize(); min > 0 {
		return min
	}

	return s.self.Size()
}

// MaxSize returns the largest size the device can have. For a new device
// this is the format limit. For an existing one the current size caps it.
func (s *Storage) MaxSize() float64 {
	fmax := s.format.MaxSize()
	if !s.exists {
		return fmax
	}

	cur := s.self.CurrentSize()
	if fmax == 0 || fmax > cur {
		return cur
	}

	return fmax
}

// Resizable reports whether the device kind supports resizing, the device
// exists and its format (if any) can be resized.
func (s *Storage) Resizable() bool {
	return s.resizable && s.exists && (s.format.Resizable() || s.format.Type() == "")
}

// validateTarget checks target against the format and device limits. It
// makes no changes.
func (s *Storage) validateTarget(target float64) error {
	if !s.self.Resizable() {
		return deviceError(s.name, "device type does not support resize")
	}

	if min := s.format.MinSize(); min > 0 && target < min {
		return deviceError(s.name, "target size %.2f MiB is below the minimum %.2f MiB", target, min)
	}

	if max := s.self.MaxSize(); max > 0 && target > max {
		return &InsufficientSpaceError{Device: s.name, Requested: target, Available: max}
	}

	return nil
}

// Format returns the device's format.
func (s *Storage) Format() Format {
	return s.format
}

// SetFormat replaces the device's format. An active format cannot be
// replaced.
func (s *Storage) SetFormat(f Format) error {
	if s.format != nil && s.format.Status() {
		return deviceError(s.name, "cannot replace active format")
	}

	if f == nil {
		f = NoFormat()
	}

	f.SetDevice(s.self.Path())
	s.format = f

	return nil
}

// OriginalFormat returns the format the device was discovered with.
func (s *Storage) OriginalFormat() Format {
	return s.originalFormat
}

// FstabSpec returns UUID=<uuid> if the format has a uuid, else the device
// path.
func (s *Storage) FstabSpec() string {
	if uuid := s.format.UUID(); uuid != "" {
		return "UUID=" + uuid
	}

	return s.self.Path()
}

// CheckSize compares the size to the format limits.
func (s *Storage) CheckSize() SizeProblem {
	size := s.self.Size()

	if max := s.format.MaxSize(); max > 0 && size > max {
		return SizeTooLarge
	}

	if min := s.format.MinSize(); min > 0 && size < min {
		return SizeTooSmall
	}

	return SizeOK
}

// checkGrowSize is CheckSize for devices that can grow: a growing device is
// only too large if its maximum is, and only too small if it cannot grow
// past the format minimum.
func (s *Storage) checkGrowSize() SizeProblem {
	if !s.grow {
		return s.CheckSize()
	}

	fmax, fmin := s.format.MaxSize(), s.format.MinSize()

	if fmax > 0 && s.reqMax > 0 && s.reqMax > fmax {
		return SizeTooLarge
	}

	if fmin > 0 && s.reqMax > 0 && s.reqMax < fmin {
		return SizeTooSmall
	}

	return SizeOK
}

// PreCommitFixup does nothing by default.
func (s *Storage) PreCommitFixup(mountpoints []string) error {
	return nil
}

// Growable reports whether the device or any ancestor was asked to grow.
func (s *Storage) Growable() bool {
	if s.grow {
		return true
	}

	for _, p := range s.Parents() {
		if p.Growable() {
			return true
		}
	}

	return false
}

// Setup activates the parents and their formats.
func (s *Storage) Setup(orig bool) error {
	s.logCall("setup").Bool("orig", orig).Msg("device setup")

	if !s.exists {
		return deviceError(s.name, "device has not been created")
	}

	if err := s.setupParents(orig); err != nil {
		return err
	}

	for _, p := range s.Parents() {
		f := p.Format()
		if orig {
			f = p.OriginalFormat()
		}

		if err := f.Setup(); err != nil {
			return err
		}
	}

	return nil
}

// Teardown deactivates the device's formats and, with recursive, the
// parents.
func (s *Storage) Teardown(recursive bool) error {
	s.logCall("teardown").Bool("recursive", recursive).Msg("device teardown")

	if !s.exists && !recursive {
		return deviceError(s.name, "device has not been created")
	}

	if s.self.Status() {
		if err := s.teardownFormats(); err != nil {
			return err
		}

		if err := s.settle(); err != nil {
			return err
		}
	}

	if recursive {
		return s.teardownParents(recursive)
	}

	return nil
}

func (s *Storage) teardownFormats() error {
	if s.originalFormat.Exists() {
		if err := s.originalFormat.Teardown(); err != nil {
			return err
		}
	}

	if s.format.Exists() {
		if err := s.format.Teardown(); err != nil {
			return err
		}
	}

	return nil
}

// Create creates the parents, marks the device as existing and sets it up.
// Kinds backed by a real object on disk override it.
func (s *Storage) Create() error {
	s.logCall("create").Msg("device create")

	if s.exists {
		return deviceError(s.name, "device has already been created")
	}

	if err := s.createParents(); err != nil {
		return err
	}

	if err := s.setupParents(false); err != nil {
		return err
	}

	s.exists = true

	return s.self.Setup(false)
}

// Destroy marks the device as not existing. The format must have been
// destroyed already.
func (s *Storage) Destroy() error {
	s.logCall("destroy").Msg("device destroy")

	if err := s.checkDestroy(); err != nil {
		return err
	}

	s.exists = false

	return nil
}

func (s *Storage) checkDestroy() error {
	if !s.exists {
		return deviceError(s.name, "device has not been created")
	}

	if !s.IsLeaf() {
		return deviceError(s.name, "Cannot destroy non-leaf device")
	}

	return nil
}

func (s *Storage) progress(action string) func(err error) {
	p := s.env().Progress
	p.Start(s.name, action)

	return func(err error) {
		p.Done(s.name, action, err)
	}
}
