// Package devtree models block storage (disks, partitions, device-mapper
// targets, md arrays, lvm volume groups and logical volumes, network backed
// disks) as a dependency graph and drives device setup, creation, resize
// and teardown in dependency order.
//
// Sizes are expressed in MiB throughout the package.
package devtree

import "encoding/json"

// Mebibyte - number of bytes in a MiB.
const Mebibyte = 1024 * 1024

// ID identifies a device within a Tree. IDs are handed out by the Tree that
// owns the device and are never reused by that Tree.
type ID int

// Kind enumerates the supported device kinds.
type Kind int

const (
	// KindNoDevice - a format with no backing block device (tmpfs, proc).
	KindNoDevice Kind = iota

	// KindFile - a regular file used as a block device (loop image, swap file).
	KindFile

	// KindDirectory - a directory (bind mount source).
	KindDirectory

	// KindDisk - a local disk.
	KindDisk

	// KindISCSI - an iSCSI disk.
	KindISCSI

	// KindFCoE - a Fibre Channel over Ethernet disk.
	KindFCoE

	// KindZFCP - a zSeries FCP disk.
	KindZFCP

	// KindDASD - a zSeries direct access storage device.
	KindDASD

	// KindOptical - a cdrom/dvd drive.
	KindOptical

	// KindNFS - an nfs export.
	KindNFS

	// KindPartition - a disk partition.
	KindPartition

	// KindDM - a generic device-mapper device.
	KindDM

	// KindLUKS - a dm-crypt mapping of a LUKS formatted device.
	KindLUKS

	// KindMultipath - a dm-multipath device.
	KindMultipath

	// KindDMRaid - a firmware raid set activated by dmraid.
	KindDMRaid

	// KindVolumeGroup - an lvm volume group.
	KindVolumeGroup

	// KindLogicalVolume - an lvm logical volume.
	KindLogicalVolume

	// KindThinPool - an lvm thin pool.
	KindThinPool

	// KindThinLV - an lvm thin logical volume.
	KindThinLV

	// KindMDArray - a linux software raid array.
	KindMDArray
)

//nolint:gochecknoglobals
var kindToString = map[Kind]string{
	KindNoDevice:      "nodev",
	KindFile:          "file",
	KindDirectory:     "directory",
	KindDisk:          "disk",
	KindISCSI:         "iscsi",
	KindFCoE:          "fcoe",
	KindZFCP:          "zfcp",
	KindDASD:          "dasd",
	KindOptical:       "cdrom",
	KindNFS:           "nfs",
	KindPartition:     "partition",
	KindDM:            "dm",
	KindLUKS:          "luks/dm-crypt",
	KindMultipath:     "dm-multipath",
	KindDMRaid:        "dm-raid array",
	KindVolumeGroup:   "lvmvg",
	KindLogicalVolume: "lvmlv",
	KindThinPool:      "lvmthinpool",
	KindThinLV:        "lvmthinlv",
	KindMDArray:       "mdarray",
}

func (k Kind) String() string {
	if s, ok := kindToString[k]; ok {
		return s
	}

	return "unknown"
}

// MarshalJSON returns the Kind as a json string.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// IsDisk reports whether devices of this kind are whole disks.
func (k Kind) IsDisk() bool {
	switch k {
	case KindDisk, KindISCSI, KindFCoE, KindZFCP, KindDASD, KindMultipath, KindDMRaid:
		return true
	}

	return false
}

//nolint:gochecknoglobals
var kindPackages = map[Kind][]string{
	KindISCSI:         {"iscsi-initiator-utils", "dracut-network"},
	KindFCoE:          {"fcoe-utils", "dracut-network"},
	KindNFS:           {"dracut-network"},
	KindLUKS:          {"cryptsetup-luks"},
	KindMultipath:     {"device-mapper-multipath", "dracut-network"},
	KindDMRaid:        {"dmraid"},
	KindVolumeGroup:   {"lvm2"},
	KindLogicalVolume: {"lvm2"},
	KindThinPool:      {"lvm2"},
	KindThinLV:        {"lvm2"},
	KindMDArray:       {"mdadm"},
}

//nolint:gochecknoglobals
var kindServices = map[Kind][]string{
	KindMultipath: {"multipathd"},
}
