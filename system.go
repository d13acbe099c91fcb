package devtree

// System interface provides the host level operations devices need: probing
// block devices, reading sysfs and udev, writing partition tables and
// creating backing files. linux.System is the real implementation,
// mockos.System an in-memory one.
type System interface {
	// Settle waits for outstanding udev events to be processed. It is called
	// after every mutating operation before a dependent operation runs.
	Settle() error

	// Probe returns the size in MiB of the block device at path. An error
	// means the device node could not be opened.
	Probe(path string) (float64, error)

	// Writable reports whether path exists and can be written to. It is the
	// status check for plain block devices.
	Writable(path string) bool

	// PathExists reports whether path exists.
	PathExists(path string) bool

	// MediaPresent reports whether removable media is present in the
	// device at path.
	MediaPresent(path string) bool

	// ReadSysfs returns the trimmed content of attr under /sys/<sysfsPath>.
	ReadSysfs(sysfsPath, attr string) (string, error)

	// UdevInfo returns the udev database entry for the device with kernel
	// name name.
	UdevInfo(name string) (UdevInfo, error)

	// DiskByPath returns the /dev/disk/by-path alias of the named device.
	DiskByPath(name string) (string, error)

	// CommitLabel writes label to the disk it belongs to and tells the kernel
	// about the new partitions.
	CommitLabel(label *DiskLabel) error

	// Wipe removes filesystem, raid and partition-table signatures from the
	// device at path.
	Wipe(path string) error

	// CreateFile creates a file of size MiB at path.
	CreateFile(path string, size float64) error

	// Mkdir creates the directory at path and any missing parents.
	Mkdir(path string) error

	// Remove removes the file or empty directory at path.
	Remove(path string) error

	// Eject ejects the media in the drive at path.
	Eject(path string) error
}

// VolumeManager provides the lvm operations used by volume groups and
// logical volumes. Sizes are in MiB.
type VolumeManager interface {
	// VGCreate creates volume group name over pvs with the given extent size.
	VGCreate(name string, pvs []string, peSize float64) error

	// VGRemove removes the volume group.
	VGRemove(name string) error

	// VGReduce removes pvs from the volume group. With removeMissing all
	// missing pvs are dropped instead.
	VGReduce(name string, pvs []string, removeMissing bool) error

	// VGDeactivate deactivates every logical volume in the group.
	VGDeactivate(name string) error

	// VGInfo returns live information about the volume group. The keys
	// "pe_size" (MiB) and "pe_free" (extents) are always present.
	VGInfo(name string) (map[string]string, error)

	LVCreate(vg, lv string, size float64, pvs []string) error
	LVRemove(vg, lv string) error
	LVResize(vg, lv string, size float64) error
	LVActivate(vg, lv string) error
	LVDeactivate(vg, lv string) error

	// ThinPoolCreate creates thin pool pool in vg. chunkSize of 0 leaves
	// the choice to lvm.
	ThinPoolCreate(vg, pool string, size, metaDataSize, chunkSize float64) error

	// ThinLVCreate creates thin volume lv in pool.
	ThinLVCreate(vg, pool, lv string, size float64) error
}

// RAIDManager provides the md raid operations used by MDArray.
type RAIDManager interface {
	// MDCreate creates the array at path from members.
	MDCreate(path string, level RAIDLevel, members []string, spares int,
		metadata string, bitmap bool) error

	// MDActivate assembles an existing array from members. When
	// updateSuperMinor is set the array keeps minor number superMinor.
	MDActivate(path string, members []string, superMinor int,
		updateSuperMinor bool, uuid string) error

	// MDDeactivate stops the array.
	MDDeactivate(path string) error

	// MDAdd incrementally adds member to the array it belongs to.
	MDAdd(member string) error
}

// DMMap describes one entry in the kernel's device-mapper table.
type DMMap struct {
	Name      string
	UUID      string
	Major     int
	Minor     int
	LiveTable bool
	Suspended bool
}

// Mapper provides the device-mapper operations used by the dm family.
type Mapper interface {
	// Maps returns the current device-mapper table. It is queried on every
	// status check.
	Maps() ([]DMMap, error)

	// MultipathActivate builds the multipath map for the named device.
	MultipathActivate(name string) error

	// KPartxAdd creates partition maps for the named dm device.
	KPartxAdd(name string) error

	DMRaidActivate(name string) error
	DMRaidDeactivate(name string) error
}

// ProgressReporter receives progress for long running operations.
type ProgressReporter interface {
	Start(device, action string)
	Done(device, action string, err error)
}

// Env bundles the collaborators used by the devices of a Tree.
type Env struct {
	System   System
	LVM      VolumeManager
	RAID     RAIDManager
	Mapper   Mapper
	Progress ProgressReporter
}

type nopProgress struct{}

func (nopProgress) Start(string, string)       {}
func (nopProgress) Done(string, string, error) {}
