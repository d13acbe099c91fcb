package devtree

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DiskType enumerates supported disk media types.
type DiskType int

const (
	// HDD - hard disk drive
	HDD DiskType = iota

	// SSD - solid state disk
	SSD

	// NVME - Non-volatile memory express
	NVME
)

func (t DiskType) String() string {
	return []string{"HDD", "SSD", "NVME"}[t]
}

// MarshalJSON returns the DiskType as a json string.
func (t DiskType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// AttachmentType enumerates the type of device to which the disks are
// attached to in the system.
type AttachmentType int

const (
	// UnknownAttach - indicates an unknown attachment.
	UnknownAttach AttachmentType = iota

	// RAID - indicates that the device is attached to RAID card
	RAID

	// SCSI - indicates device is attached to scsi, but not a RAID card.
	SCSI

	// ATA - indicates that the device is attached to ATA card
	ATA

	// PCIE - indicates that the device is attached to PCIE card
	PCIE

	// USB - indicates that the device is attached to USB bus
	USB

	// VIRTIO - indicates that the device is attached to virtio.
	VIRTIO

	// IDE - indicates that the device is attached to IDE.
	IDE
)

func (t AttachmentType) String() string {
	return []string{"UNKNOWN", "RAID", "SCSI", "ATA", "PCIE", "USB", "VIRTIO", "IDE"}[t]
}

// MarshalJSON returns the AttachmentType as a json string.
func (t AttachmentType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// AttachmentFromUdev returns the attachment of the disk described by info.
func AttachmentFromUdev(info UdevInfo) AttachmentType {
	switch info.Properties["ID_BUS"] {
	case "ata":
		return ATA
	case "usb":
		return USB
	case "scsi":
		return SCSI
	case "virtio":
		return VIRTIO
	case "":
		if strings.Contains(info.Properties["DEVPATH"], "virtio") {
			return VIRTIO
		} else if strings.HasPrefix(info.Name, "nvme") {
			return PCIE
		}
	}

	return UnknownAttach
}

// DiskArgs are the arguments for NewDisk.
type DiskArgs struct {
	StorageArgs
	Type       DiskType
	Attachment AttachmentType

	// DevDir is the directory holding the device node, "/dev" if empty.
	// Disk images use the directory they live in.
	DevDir string
}

// Disk is a local disk. Disks always exist. Their format is usually a
// DiskLabel.
type Disk struct {
	Storage
	diskType   DiskType
	attachment AttachmentType
}

// NewDisk adds the disk with kernel name name to the tree.
func (t *Tree) NewDisk(name string, args DiskArgs) (*Disk, error) {
	d := &Disk{}
	d.initDisk(KindDisk, name, args)

	return d, t.register(d, nil)
}

func (d *Disk) initDisk(kind Kind, name string, args DiskArgs) {
	d.init(kind, name, args.StorageArgs)
	d.exists = true

	if args.DevDir != "" {
		d.devDir = args.DevDir
	}
	d.diskType = args.Type
	d.attachment = args.Attachment
}

// DiskType returns the media type.
func (d *Disk) DiskType() DiskType {
	return d.diskType
}

// Attachment returns the type of controller the disk is attached to.
func (d *Disk) Attachment() AttachmentType {
	return d.attachment
}

// Description returns the disk model.
func (d *Disk) Description() string {
	if d.vendor == "" {
		return d.model
	}

	return fmt.Sprintf("%s %s", d.vendor, d.model)
}

// MediaPresent reports whether the disk reports a non-zero size.
func (d *Disk) MediaPresent() bool {
	size, err := d.sys().Probe(d.self.Path())
	return err == nil && size != 0
}

// Setup checks that the disk node is present. There is nothing to activate.
func (d *Disk) Setup(orig bool) error {
	d.logCall("setup").Bool("orig", orig).Msg("disk setup")

	if !d.sys().PathExists(d.self.Path()) {
		return deviceError(d.name, "device does not exist")
	}

	return nil
}

// Destroy tears the disk down. The disk itself stays.
func (d *Disk) Destroy() error {
	d.logCall("destroy").Msg("disk destroy")

	if !d.self.MediaPresent() {
		return deviceError(d.name, "cannot destroy disk with no media")
	}

	return d.self.Teardown(false)
}

// Label returns the in-memory disk label.
func (d *Disk) Label() (*DiskLabel, error) {
	return d.label()
}

// OriginalLabel returns the label as last read from or written to disk.
func (d *Disk) OriginalLabel() (*DiskLabel, error) {
	return d.originalLabel()
}

func (s *Storage) label() (*DiskLabel, error) {
	l, ok := s.format.(*DiskLabel)
	if !ok {
		return nil, deviceError(s.name, "device has no disk label")
	}

	return l, nil
}

func (s *Storage) originalLabel() (*DiskLabel, error) {
	l, ok := s.originalFormat.(*DiskLabel)
	if !ok {
		return nil, deviceError(s.name, "device had no disk label")
	}

	return l, nil
}

// syncOriginalLabel records the current label as the on-disk state after a
// successful commit.
func (s *Storage) syncOriginalLabel() {
	if l, err := s.label(); err == nil {
		s.originalFormat = l.Clone()
	}
}
