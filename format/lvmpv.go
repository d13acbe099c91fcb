package format

import (
	"machinerun.io/devtree"
)

// DefaultPEStart is the size of a new pv header in MiB.
const DefaultPEStart = 1.0

func init() {
	register(func(tools Tools, fstype string, args Args) devtree.Format {
		return NewPhysicalVolume(tools, args)
	}, "lvmpv")
}

// PhysicalVolume is an lvm physical volume signature.
type PhysicalVolume struct {
	base
	vgName  string
	vgUUID  string
	peStart float64
}

// NewPhysicalVolume returns a pv format.
func NewPhysicalVolume(tools Tools, args Args) *PhysicalVolume {
	pv := &PhysicalVolume{
		base:    newBase(tools, "lvmpv", args),
		vgName:  args.VGName,
		vgUUID:  args.VGUUID,
		peStart: args.PEStart,
	}

	if pv.peStart == 0 {
		pv.peStart = DefaultPEStart
	}

	return pv
}

// PEStart returns the header size in MiB.
func (pv *PhysicalVolume) PEStart() float64 {
	return pv.peStart
}

// VGName returns the name of the volume group the pv belongs to.
func (pv *PhysicalVolume) VGName() string {
	return pv.vgName
}

// VGUUID returns the uuid of the volume group the pv belongs to.
func (pv *PhysicalVolume) VGUUID() string {
	return pv.vgUUID
}

// SetVG records membership in a volume group.
func (pv *PhysicalVolume) SetVG(name, uuid string) {
	pv.vgName = name
	pv.vgUUID = uuid
}

// Create runs pvcreate.
func (pv *PhysicalVolume) Create() error {
	if err := pv.checkCreate(); err != nil {
		return err
	}

	if err := pv.tools.PVCreate(pv.device); err != nil {
		return err
	}

	pv.exists = true

	return nil
}

// Destroy runs pvremove and then wipes what is left.
func (pv *PhysicalVolume) Destroy() error {
	if err := pv.tools.PVRemove(pv.device); err != nil {
		return err
	}

	return pv.base.Destroy()
}

// Snapshot returns a copy of the pv state.
func (pv *PhysicalVolume) Snapshot() devtree.Format {
	c := *pv
	return &c
}
