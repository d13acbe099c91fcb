package devtree

import (
	"fmt"
	"io"
	"math"
	"strings"
)

// VGArgs are the arguments for NewVolumeGroup.
type VGArgs struct {
	StorageArgs

	// PESize is the physical extent size in MiB, DefaultPESize when 0.
	PESize float64

	// PVCount is the number of physical volumes an existing group has
	// according to its metadata. New groups count their parents.
	PVCount int

	// ReservedPercent keeps a percentage of the group unallocated. It takes
	// precedence over ReservedSpace.
	ReservedPercent float64

	// ReservedSpace keeps an absolute amount of MiB unallocated.
	ReservedSpace float64
}

// VolumeGroup is an lvm volume group. Its parents are the physical volumes.
// The logical volumes are tracked in a separate list since thin volumes are
// members of the group without being its children.
type VolumeGroup struct {
	DM
	peSize           float64
	pvCount          int
	lvs              []ID
	hasDuplicate     bool
	reservedPercent  float64
	reservedSpace    float64
	voriginSnapshots map[string]float64
}

// NewVolumeGroup adds volume group name over pvs to the tree. Every pv must
// carry a PhysicalVolumeFormat.
func (t *Tree) NewVolumeGroup(name string, pvs []Device, args VGArgs) (*VolumeGroup, error) {
	for _, pv := range pvs {
		if err := checkPV(name, pv); err != nil {
			return nil, err
		}
	}

	vg := &VolumeGroup{
		peSize:           args.PESize,
		pvCount:          args.PVCount,
		reservedPercent:  args.ReservedPercent,
		reservedSpace:    args.ReservedSpace,
		voriginSnapshots: map[string]float64{},
	}
	vg.initDM(KindVolumeGroup, name, DMArgs{StorageArgs: args.StorageArgs})

	if vg.peSize <= 0 {
		vg.peSize = DefaultPESize
	}

	if !vg.exists {
		vg.pvCount = len(pvs)
	}

	return vg, t.register(vg, pvs)
}

func checkPV(vgName string, pv Device) error {
	if pv == nil {
		return deviceError(vgName, "nil physical volume")
	}

	if _, ok := pv.Format().(PhysicalVolumeFormat); !ok {
		return deviceError(vgName, "%s is not an lvm physical volume", pv.Name())
	}

	return nil
}

// PESize returns the physical extent size in MiB.
func (vg *VolumeGroup) PESize() float64 {
	return vg.peSize
}

// PVCount returns the number of physical volumes the group should have.
func (vg *VolumeGroup) PVCount() int {
	return vg.pvCount
}

// PVs returns the physical volumes.
func (vg *VolumeGroup) PVs() []Device {
	return vg.Parents()
}

// LVs returns the logical volumes, thin pools and thin volumes in the group.
func (vg *VolumeGroup) LVs() []LV {
	lvs := []LV{}

	for _, id := range vg.lvs {
		if lv, ok := vg.tree.Get(id).(LV); ok {
			lvs = append(lvs, lv)
		}
	}

	return lvs
}

// ThinPools returns the thin pools in the group.
func (vg *VolumeGroup) ThinPools() []*ThinPool {
	pools := []*ThinPool{}

	for _, lv := range vg.LVs() {
		if p, ok := lv.(*ThinPool); ok {
			pools = append(pools, p)
		}
	}

	return pools
}

// ThinLVs returns the thin volumes in the group.
func (vg *VolumeGroup) ThinLVs() []*ThinLV {
	thin := []*ThinLV{}

	for _, lv := range vg.LVs() {
		if t, ok := lv.(*ThinLV); ok {
			thin = append(thin, t)
		}
	}

	return thin
}

// Align rounds size (MiB) to a multiple of the extent size, up with roundup
// and down otherwise. The computation is done in KiB and truncated to whole
// MiB the way lvm does it.
func (vg *VolumeGroup) Align(size float64, roundup bool) float64 {
	round := math.Floor
	if roundup {
		round = math.Ceil
	}

	sizeKiB := size * 1024.0
	peKiB := vg.peSize * 1024.0

	return float64(int64((round(sizeKiB/peKiB) * peKiB) / 1024))
}

// Size returns the sum of the aligned usable space of the physical volumes.
func (vg *VolumeGroup) Size() float64 {
	size := 0.0

	for _, pv := range vg.PVs() {
		peStart := 0.0
		if f, ok := pv.Format().(PhysicalVolumeFormat); ok {
			peStart = f.PEStart()
		}

		size += math.Max(0, vg.Align(pv.Size()-peStart, false))
	}

	return size
}

// CurrentSize returns Size. A volume group has no device node to probe.
func (vg *VolumeGroup) CurrentSize() float64 {
	return vg.Size()
}

// Extents returns the number of extents in the group.
func (vg *VolumeGroup) Extents() int {
	return int(vg.Size() / vg.peSize)
}

// ReservedSpace returns the space kept unallocated, aligned up.
func (vg *VolumeGroup) ReservedSpace() float64 {
	reserved := 0.0

	if vg.reservedPercent > 0 {
		reserved = vg.reservedPercent * 0.01 * vg.Size()
	} else if vg.reservedSpace > 0 {
		reserved = vg.reservedSpace
	}

	return vg.Align(reserved, true)
}

// SetReserved sets the reservation. percent takes precedence over space.
func (vg *VolumeGroup) SetReserved(percent, space float64) {
	vg.reservedPercent = percent
	vg.reservedSpace = space
}

// SnapshotSpace returns the space used by snapshots in the group, including
// those without an origin volume.
func (vg *VolumeGroup) SnapshotSpace() float64 {
	used := 0.0

	for _, lv := range vg.LVs() {
		used += vg.Align(lv.SnapshotSpace(), true)
	}

	for _, size := range vg.voriginSnapshots {
		used += vg.Align(size, true)
	}

	return used
}

// AddVOriginSnapshot records a snapshot created with --vorigin. It has no
// origin volume but occupies space in the group.
func (vg *VolumeGroup) AddVOriginSnapshot(name string, size float64) {
	vg.voriginSnapshots[name] = size
}

// FreeSpace returns the space not used by volumes, snapshots or the
// reservation.
func (vg *VolumeGroup) FreeSpace() float64 {
	used := vg.SnapshotSpace() + vg.ReservedSpace()

	for _, lv := range vg.LVs() {
		used += lv.VGSpaceUsed()
	}

	free := vg.Size() - used

	vg.logCall("freespace").Float64("size", vg.Size()).Float64("free", free).Msg("vg free space")

	return free
}

// FreeExtents returns the number of free extents.
func (vg *VolumeGroup) FreeExtents() int {
	return int(vg.FreeSpace() / vg.peSize)
}

// HasDuplicate reports whether another group with the same name and a
// different uuid was found. Once set it stays set.
func (vg *VolumeGroup) HasDuplicate() bool {
	return vg.hasDuplicate
}

// Complete reports whether all physical volumes are present. A group with
// a duplicate is never complete.
func (vg *VolumeGroup) Complete() bool {
	if vg.hasDuplicate {
		return false
	}

	return len(vg.parents) == vg.pvCount || !vg.exists
}

// IsModified reports whether the group has changes lvm does not know about.
func (vg *VolumeGroup) IsModified() bool {
	if !vg.exists {
		return true
	}

	for _, pv := range vg.PVs() {
		if !pv.Exists() {
			return true
		}
	}

	return false
}

// MapName returns the name with dashes doubled, as lvm does.
func (vg *VolumeGroup) MapName() string {
	return strings.ReplaceAll(vg.name, "-", "--")
}

// Status reports whether the group is active: any of its volumes is
// active, or all of its physical volumes are present and active.
func (vg *VolumeGroup) Status() bool {
	if !vg.exists {
		return false
	}

	for _, lv := range vg.LVs() {
		if lv.Status() {
			return true
		}
	}

	for _, pv := range vg.PVs() {
		if !pv.Status() {
			return false
		}
	}

	return vg.Complete()
}

// UpdateSysfsPath clears the sysfs path. Volume groups have none.
func (vg *VolumeGroup) UpdateSysfsPath() error {
	if !vg.exists {
		return deviceError(vg.name, "device has not been created")
	}

	vg.sysfs = ""

	return nil
}

// AddDevice adds a physical volume found while scanning the system. A pv
// whose group uuid differs belongs to another group of the same name; it
// is added anyway and the group is flagged as having a duplicate.
func (vg *VolumeGroup) AddDevice(pv Device) error {
	vg.logCall("adddevice").Str("pv", pv.Name()).Msg("vg add device")

	if !vg.exists {
		return deviceError(vg.name, "device does not exist")
	}

	if err := checkPV(vg.name, pv); err != nil {
		return err
	}

	pvf := pv.Format().(PhysicalVolumeFormat)
	if vg.uuid != "" && pvf.VGUUID() != vg.uuid {
		vg.logCall("adddevice").Str("pv", pv.Name()).Msg("found a duplicate volume group")
		vg.hasDuplicate = true
	}

	if vg.hasParent(pv) {
		return deviceError(vg.name, "%s is already a member of this VG", pv.Name())
	}

	vg.addParent(pv)

	if vg.Complete() {
		return vg.self.Setup(false)
	}

	return nil
}

// RemoveDevice removes a physical volume from the in-memory group, for
// example when its partition is being cleared.
func (vg *VolumeGroup) RemoveDevice(pv Device) error {
	if !vg.removeParent(pv) {
		return deviceError(vg.name, "cannot remove non-member PV device from VG")
	}

	return nil
}

// AddPV adds pv to a group that has not been created yet.
func (vg *VolumeGroup) AddPV(pv Device) error {
	if err := checkPV(vg.name, pv); err != nil {
		return err
	}

	if vg.hasParent(pv) {
		return deviceError(vg.name, "%s is already part of this vg", pv.Name())
	}

	if vg.exists {
		return deviceError(vg.name, "cannot add pv to existing vg")
	}

	vg.addParent(pv)
	vg.pvCount = len(vg.parents)

	return nil
}

// RemovePV removes pv from a group that has not been created yet.
func (vg *VolumeGroup) RemovePV(pv Device) error {
	if !vg.hasParent(pv) {
		return deviceError(vg.name, "specified pv is not part of this vg")
	}

	if vg.exists {
		return deviceError(vg.name, "cannot remove pv from existing vg")
	}

	vg.removeParent(pv)
	vg.pvCount = len(vg.parents)

	return nil
}

// addLogVol adds lv to the group. A new volume must fit in the free space
// unless the group is growable or the volume is thin.
func (vg *VolumeGroup) addLogVol(lv LV) error {
	if indexOfID(vg.lvs, lv.ID()) >= 0 {
		return deviceError(vg.name, "%s is already part of this vg", lv.Name())
	}

	_, thin := lv.(*ThinLV)

	if !lv.Exists() && !vg.Growable() && !thin {
		if free := vg.FreeSpace(); lv.Size() > free {
			return &InsufficientSpaceError{Device: lv.Name(), Requested: lv.Size(), Available: free}
		}
	}

	vg.logCall("addlogvol").Str("lv", lv.Name()).Float64("size", lv.Size()).Msg("adding lv to vg")
	vg.lvs = append(vg.lvs, lv.ID())

	return nil
}

func (vg *VolumeGroup) removeLogVol(lv LV) error {
	i := indexOfID(vg.lvs, lv.ID())
	if i < 0 {
		return deviceError(vg.name, "%s is not part of this vg", lv.Name())
	}

	vg.lvs = append(vg.lvs[:i], vg.lvs[i+1:]...)

	return nil
}

// Setup sets up the physical volumes. The logical volumes are not
// activated.
func (vg *VolumeGroup) Setup(orig bool) error {
	vg.logCall("setup").Bool("orig", orig).Msg("vg setup")

	if !vg.exists {
		return deviceError(vg.name, "device has not been created")
	}

	if vg.self.Status() {
		return nil
	}

	if !vg.Complete() {
		return deviceError(vg.name, "cannot activate VG with missing PV(s)")
	}

	return vg.setupParents(orig)
}

// Teardown deactivates the group and with recursive the physical volumes.
func (vg *VolumeGroup) Teardown(recursive bool) error {
	vg.logCall("teardown").Bool("recursive", recursive).Msg("vg teardown")

	if !vg.exists && !recursive {
		return deviceError(vg.name, "device has not been created")
	}

	if vg.self.Status() {
		if err := vg.env().LVM.VGDeactivate(vg.name); err != nil {
			return err
		}
	}

	if recursive {
		return vg.teardownParents(recursive)
	}

	return nil
}

// Create creates the physical volumes and the group.
func (vg *VolumeGroup) Create() error {
	done := vg.progress("create")
	err := vg.create()
	done(err)

	return err
}

func (vg *VolumeGroup) create() error {
	vg.logCall("create").Msg("vg create")

	if vg.exists {
		return deviceError(vg.name, "device already exists")
	}

	if err := vg.createParents(); err != nil {
		return err
	}

	if err := vg.setupParents(false); err != nil {
		return err
	}

	pvs := []string{}
	for _, pv := range vg.PVs() {
		pvs = append(pvs, pv.Path())
	}

	if err := vg.env().LVM.VGCreate(vg.name, pvs, vg.peSize); err != nil {
		return err
	}

	if err := vg.settle(); err != nil {
		return err
	}

	vg.exists = true

	return vg.self.Setup(false)
}

// Destroy removes the group. The physical volumes are set up with their
// original formats first since lvm needs them to remove the group. The
// group is marked as gone even when removal fails.
func (vg *VolumeGroup) Destroy() error {
	vg.logCall("destroy").Msg("vg destroy")

	if err := vg.checkDestroy(); err != nil {
		return err
	}

	if err := vg.setupParents(true); err != nil {
		return err
	}

	defer func() {
		vg.exists = false
	}()

	lvm := vg.env().LVM

	if err := lvm.VGReduce(vg.name, nil, true); err != nil {
		return deviceError(vg.name, "Could not completely remove VG: %s", err)
	}

	if err := lvm.VGRemove(vg.name); err != nil {
		return deviceError(vg.name, "Could not completely remove VG: %s", err)
	}

	return vg.settle()
}

// Reduce removes pvs from the existing group.
func (vg *VolumeGroup) Reduce(pvs []string) error {
	if !vg.exists {
		return deviceError(vg.name, "device has not been created")
	}

	return vg.env().LVM.VGReduce(vg.name, pvs, false)
}

// WriteKS writes a volgroup command.
func (vg *VolumeGroup) WriteKS(w io.Writer, preexisting, noformat bool) error {
	args := []string{vg.name, fmt.Sprintf("--pesize=%d", int(vg.peSize*1024))}

	if preexisting {
		args = append(args, "--useexisting")
	}

	if noformat {
		args = append(args, "--noformat")
	}

	if vg.reservedSpace > 0 {
		args = append(args, fmt.Sprintf("--reserved-space=%d", int(vg.reservedSpace)))
	} else if vg.reservedPercent > 0 {
		args = append(args, fmt.Sprintf("--reserved-percent=%d", int(vg.reservedPercent)))
	}

	for _, pv := range vg.PVs() {
		args = append(args, KickstartName(pv))
	}

	_, err := fmt.Fprintf(w, "#volgroup %s\n", strings.Join(args, " "))

	return err
}
