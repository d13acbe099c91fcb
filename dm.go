package devtree

import (
	"fmt"
)

// DMArgs are the arguments for NewDM.
type DMArgs struct {
	StorageArgs
	// Target is the dm target type ("linear", "crypt", "multipath", ...).
	Target string
	// DMUUID is the uuid of the dm map.
	DMUUID string
}

// DM is a device-mapper device. Its status is read from the kernel's map
// table on every call.
type DM struct {
	Storage
	target string
	dmUUID string
}

// NewDM adds a generic device-mapper device to the tree.
func (t *Tree) NewDM(name string, parents []Device, args DMArgs) (*DM, error) {
	d := &DM{}
	d.initDM(KindDM, name, args)

	return d, t.register(d, parents)
}

func (d *DM) initDM(kind Kind, name string, args DMArgs) {
	d.init(kind, name, args.StorageArgs)
	d.devDir = "/dev/mapper"
	d.target = args.Target
	d.dmUUID = args.DMUUID
}

// Target returns the dm target type.
func (d *DM) Target() string {
	return d.target
}

// DMUUID returns the uuid of the dm map.
func (d *DM) DMUUID() string {
	return d.dmUUID
}

type mapNamed interface {
	MapName() string
}

// MapName returns the name of the dm map.
func (d *DM) MapName() string {
	return d.name
}

func (d *DM) mapName() string {
	if m, ok := d.self.(mapNamed); ok {
		return m.MapName()
	}

	return d.name
}

// Path returns /dev/mapper/<map name>.
func (d *DM) Path() string {
	return d.devDir + "/" + d.mapName()
}

func (d *DM) lookupMap() (DMMap, bool) {
	maps, err := d.env().Mapper.Maps()
	if err != nil {
		d.logCall("status").Err(err).Msg("failed to read device-mapper table")
		return DMMap{}, false
	}

	name := d.mapName()

	for _, m := range maps {
		if m.Name == name {
			return m, true
		}
	}

	return DMMap{}, false
}

// Status reports whether the map exists with a live table and is not
// suspended.
func (d *DM) Status() bool {
	m, ok := d.lookupMap()
	return ok && m.LiveTable && !m.Suspended
}

// SetName renames the device. Active devices cannot be renamed.
func (d *DM) SetName(name string) error {
	if d.self.Status() {
		return deviceError(d.name, "cannot rename active device")
	}

	d.name = name
	d.format.SetDevice(d.self.Path())

	return nil
}

// DMNode returns the kernel name (dm-N) of the active map.
func (d *DM) DMNode() (string, error) {
	if !d.exists {
		return "", deviceError(d.name, "device has not been created")
	}

	m, ok := d.lookupMap()
	if !ok {
		return "", deviceError(d.name, "device is not active")
	}

	return fmt.Sprintf("dm-%d", m.Minor), nil
}

// UpdateSysfsPath sets the sysfs path from the active map.
func (d *DM) UpdateSysfsPath() error {
	if !d.exists {
		return deviceError(d.name, "device has not been created")
	}

	if !d.self.Status() {
		d.sysfs = ""
		return nil
	}

	node, err := d.DMNode()
	if err != nil {
		return err
	}

	d.sysfs = "/devices/virtual/block/" + node

	return nil
}

// FstabSpec returns the map path. dm devices are always mounted by path.
func (d *DM) FstabSpec() string {
	return d.self.Path()
}

// Description returns the device model.
func (d *DM) Description() string {
	return d.model
}
