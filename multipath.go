package devtree

import (
	"sort"
	"strings"
)

// Multipath is a dm-multipath device combining several paths to one disk.
// Paths can be added while the device is in use.
type Multipath struct {
	DM
	info     UdevInfo
	identity string
}

// NewMultipath adds the multipath device over paths to the tree. info is
// the udev entry of one of the paths and provides the identity.
func (t *Tree) NewMultipath(name string, info UdevInfo, paths []Device, args StorageArgs) (*Multipath, error) {
	m := &Multipath{info: info}
	m.initDM(KindMultipath, name, DMArgs{StorageArgs: args, Target: "multipath"})
	m.exists = true
	m.identity = info.Properties["ID_SERIAL_RAW"]

	if m.identity == "" {
		m.identity = info.Properties["ID_SERIAL_SHORT"]
	}

	if m.identity == "" {
		return nil, deviceError(name, "no serial number for multipath device")
	}

	return m, t.register(m, paths)
}

// Identity returns the serial number shared by all paths.
func (m *Multipath) Identity() string {
	return m.identity
}

// WWID returns the identity as colon separated byte pairs.
func (m *Multipath) WWID() string {
	pairs := []string{}

	for i := 0; i < len(m.identity); i += 2 {
		end := i + 2
		if end > len(m.identity) {
			end = len(m.identity)
		}

		pairs = append(pairs, m.identity[i:end])
	}

	return strings.Join(pairs, ":")
}

// Model returns the model of the first path.
func (m *Multipath) Model() string {
	if p := m.firstPath(); p != nil {
		return p.model
	}

	return ""
}

// Vendor returns the vendor of the first path.
func (m *Multipath) Vendor() string {
	if p := m.firstPath(); p != nil {
		return p.vendor
	}

	return ""
}

func (m *Multipath) firstPath() *Storage {
	parents := m.Parents()
	if len(parents) == 0 {
		return nil
	}

	return parents[0].storage()
}

// Description returns the WWID.
func (m *Multipath) Description() string {
	return "WWID " + m.WWID()
}

// Config returns the multipath.conf settings for this device.
func (m *Multipath) Config() map[string]string {
	return map[string]string{
		"wwid":  m.identity,
		"alias": m.name,
		"mode":  "0600",
		"uid":   "0",
		"gid":   "0",
	}
}

// Paths returns the kernel names of the paths, sorted.
func (m *Multipath) Paths() []string {
	names := []string{}

	for _, p := range m.Parents() {
		names = append(names, p.Name())
	}

	sort.Strings(names)

	return names
}

// AddParent adds a path. An active device is torn down and set up again so
// multipath picks up the new path.
func (m *Multipath) AddParent(p Device) error {
	if m.hasParent(p) {
		return deviceError(m.name, "%s is already a path", p.Name())
	}

	if !m.self.Status() {
		m.addParent(p)
		return nil
	}

	if err := m.self.Teardown(false); err != nil {
		return err
	}

	m.addParent(p)

	return m.self.Setup(false)
}

// Setup activates the multipath map and its partition maps.
func (m *Multipath) Setup(orig bool) error {
	m.logCall("setup").Bool("orig", orig).Msg("multipath setup")

	if m.self.Status() {
		return nil
	}

	if err := m.Storage.Setup(orig); err != nil {
		return err
	}

	if err := m.settle(); err != nil {
		return err
	}

	if err := m.env().Mapper.MultipathActivate(m.name); err != nil {
		return &HardwareFaultError{Device: m.name, Kind: MultipathFault, Err: err}
	}

	if err := m.settle(); err != nil {
		return err
	}

	return m.SetupPartitions()
}

// SetupPartitions creates the maps for the partitions on the device.
func (m *Multipath) SetupPartitions() error {
	if err := m.env().Mapper.KPartxAdd(m.name); err != nil {
		return &HardwareFaultError{Device: m.name, Kind: MultipathFault, Err: err}
	}

	return m.settle()
}

// Teardown tears the formats down. The map stays; multipathd owns it.
func (m *Multipath) Teardown(recursive bool) error {
	m.logCall("teardown").Bool("recursive", recursive).Msg("multipath teardown")

	if !m.exists && !recursive {
		return deviceError(m.name, "device has not been created")
	}

	if m.self.Status() {
		if err := m.teardownFormats(); err != nil {
			return err
		}

		if err := m.settle(); err != nil {
			return err
		}
	}

	if recursive {
		return m.teardownParents(recursive)
	}

	return nil
}

// Label returns the in-memory disk label.
func (m *Multipath) Label() (*DiskLabel, error) {
	return m.label()
}

// OriginalLabel returns the label as last read from or written to disk.
func (m *Multipath) OriginalLabel() (*DiskLabel, error) {
	return m.originalLabel()
}
