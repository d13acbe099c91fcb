package devtree

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// LVArgs are the arguments for NewLogicalVolume.
type LVArgs struct {
	StorageArgs

	// Copies is the number of copies for mirrored volumes, 1 when 0.
	Copies int

	// LogSize is the size of the mirror log.
	LogSize float64

	// SnapshotSpace is the sum of the sizes of existing snapshots.
	SnapshotSpace float64

	// Percent requests a percentage of the group for a new volume.
	Percent float64

	// SinglePV restricts the volume to one physical volume.
	SinglePV bool

	// SegType is the segment type, "linear" when empty.
	SegType string
}

// LogicalVolume is an lvm logical volume. Its single parent is the volume
// group.
type LogicalVolume struct {
	DM
	lvname        string
	copies        int
	logSize       float64
	metaDataSize  float64
	snapshotSpace float64
	snapshots     []string
	singlePV      bool
	percent       float64
	reqSize       float64
}

// NewLogicalVolume adds logical volume name to vg. A new volume must fit in
// the group's free space unless the group can grow.
func (t *Tree) NewLogicalVolume(name string, vg *VolumeGroup, args LVArgs) (*LogicalVolume, error) {
	if vg == nil {
		return nil, deviceError(name, "logical volume needs a volume group")
	}

	lv := &LogicalVolume{}
	if err := lv.initLV(KindLogicalVolume, name, vg, args); err != nil {
		return nil, err
	}

	return lv, t.registerLV(lv, vg)
}

func (l *LogicalVolume) initLV(kind Kind, name string, vg *VolumeGroup, args LVArgs) error {
	segType := args.SegType
	if segType == "" {
		segType = "linear"
	}

	l.initDM(kind, vg.Name()+"-"+name, DMArgs{StorageArgs: args.StorageArgs, Target: segType})
	l.lvname = name
	l.resizable = true
	l.copies = args.Copies
	l.logSize = args.LogSize
	l.snapshotSpace = args.SnapshotSpace
	l.singlePV = args.SinglePV

	if l.copies < 1 {
		l.copies = 1
	}

	if l.exists {
		l.grow = false
		l.reqMax = 0
	} else {
		l.reqSize = args.Size
		l.percent = args.Percent
	}

	if l.singlePV {
		if _, err := singlePV(vg, l.name, l.reqSize); err != nil {
			return err
		}
	}

	return nil
}

func singlePV(vg *VolumeGroup, lvName string, size float64) (Device, error) {
	for _, pv := range vg.PVs() {
		if pv.Size() >= size {
			return pv, nil
		}
	}

	return nil, &SinglePhysicalVolumeError{Device: lvName, VolumeGroup: vg.Name(), Size: size}
}

// LVName returns the name of the volume inside the group.
func (l *LogicalVolume) LVName() string {
	return l.lvname
}

// LVType returns THICK.
func (l *LogicalVolume) LVType() LVType {
	return THICK
}

// VG returns the volume group.
func (l *LogicalVolume) VG() *VolumeGroup {
	parents := l.Parents()
	if len(parents) == 0 {
		return nil
	}

	vg, _ := parents[0].(*VolumeGroup)

	return vg
}

func (l *LogicalVolume) vg() *VolumeGroup {
	return l.self.(LV).VG()
}

func (l *LogicalVolume) container() lvContainer {
	return l.VG()
}

// Copies returns the number of copies of a mirrored volume.
func (l *LogicalVolume) Copies() int {
	return l.copies
}

// Mirrored reports whether the volume has more than one copy.
func (l *LogicalVolume) Mirrored() bool {
	return l.copies > 1
}

// Percent returns the requested percentage of the group.
func (l *LogicalVolume) Percent() float64 {
	return l.percent
}

// SnapshotSpace returns the space used by snapshots of the volume.
func (l *LogicalVolume) SnapshotSpace() float64 {
	return l.snapshotSpace
}

// Snapshots returns the names of the snapshots of the volume.
func (l *LogicalVolume) Snapshots() []string {
	return append([]string{}, l.snapshots...)
}

// AddSnapshot records snapshot name of size MiB.
func (l *LogicalVolume) AddSnapshot(name string, size float64) {
	l.snapshots = append(l.snapshots, name)
	l.snapshotSpace += size
}

// Complete reports whether the group has all its physical volumes.
func (l *LogicalVolume) Complete() bool {
	return l.vg().Complete()
}

// MapName returns <vg map name>-<lv name with dashes doubled>.
func (l *LogicalVolume) MapName() string {
	return l.vg().MapName() + "-" + strings.ReplaceAll(l.lvname, "-", "--")
}

// VGSpaceUsed returns the aligned size times the copies plus the log and
// metadata overhead.
func (l *LogicalVolume) VGSpaceUsed() float64 {
	vg := l.vg()

	return vg.Align(l.self.Size(), true)*float64(l.copies) + l.logSize + l.metaDataSize
}

// SetSize aligns size down to the extent size and checks that it fits in
// the group's free space plus the current size. Nothing is changed when it
// does not fit.
func (l *LogicalVolume) SetSize(size float64) error {
	vg := l.vg()
	size = vg.Align(size, false)

	l.logCall("setsize").Float64("size", size).Msg("trying to set lv size")

	avail := vg.FreeSpace() + l.self.Size()
	if size > avail {
		l.logCall("setsize").Float64("short", size-avail).Msg("failed to set size")
		return &InsufficientSpaceError{Device: l.name, Requested: size, Available: avail}
	}

	l.size = size
	l.targetSize = size
	l.resizePending = l.exists

	return nil
}

// SetTargetSize requests a resize, with the same checks as SetSize.
func (l *LogicalVolume) SetTargetSize(size float64) error {
	return l.self.SetSize(size)
}

// MaxSize returns the size the volume can grow to within the group,
// limited by the format.
func (l *LogicalVolume) MaxSize() float64 {
	limit := l.self.Size() + l.vg().FreeSpace()

	if fmax := l.format.MaxSize(); fmax > 0 && fmax < limit {
		return fmax
	}

	return limit
}

// Setup sets up the group and activates the volume.
func (l *LogicalVolume) Setup(orig bool) error {
	l.logCall("setup").Bool("orig", orig).Msg("lv setup")

	if !l.exists {
		return deviceError(l.name, "device has not been created")
	}

	if l.self.Status() {
		return nil
	}

	vg := l.vg()

	if err := vg.Setup(orig); err != nil {
		return err
	}

	if err := l.env().LVM.LVActivate(vg.Name(), l.lvname); err != nil {
		return err
	}

	if err := l.settle(); err != nil {
		return err
	}

	if size, ok := l.probe(); ok {
		l.size = size
	}

	return nil
}

// Teardown tears down the formats and deactivates the volume. A recursive
// teardown of the group is attempted but its failure is ignored: other
// volumes of the group are likely still in use.
func (l *LogicalVolume) Teardown(recursive bool) error {
	l.logCall("teardown").Bool("recursive", recursive).Msg("lv teardown")

	if !l.exists && !recursive {
		return deviceError(l.name, "device has not been created")
	}

	vg := l.vg()

	if l.self.Status() {
		if err := l.teardownFormats(); err != nil {
			return err
		}

		if err := l.settle(); err != nil {
			return err
		}
	}

	if l.self.Status() {
		if err := l.env().LVM.LVDeactivate(vg.Name(), l.lvname); err != nil {
			return err
		}
	}

	if recursive {
		if err := vg.Teardown(recursive); err != nil {
			log.Debug().Err(err).Str("device", vg.Name()).Msg("vg teardown failed; continuing")
		}
	}

	return nil
}

// preCreate shrinks the volume to the free space lvm reports for the group
// when that is less than the volume's size.
func (l *LogicalVolume) preCreate() {
	vg := l.vg()

	info, err := l.env().LVM.VGInfo(vg.Name())
	if err != nil {
		log.Error().Err(err).Str("device", vg.Name()).Msg("failed to get free space for the VG")
		return
	}

	peSize, err := strconv.ParseFloat(info["pe_size"], 64)
	if err != nil {
		log.Error().Err(err).Str("device", vg.Name()).Msg("failed to get PE information for the VG")
		return
	}

	peFree, err := strconv.Atoi(info["pe_free"])
	if err != nil {
		log.Error().Err(err).Str("device", vg.Name()).Msg("failed to get PE information for the VG")
		return
	}

	canUse := peSize * float64(peFree)

	if size := l.self.Size(); size > canUse {
		log.Warn().Str("device", l.name).Float64("size", size).Float64("free", canUse).
			Msg("LV size exceeds the VG's usable free space, shrinking the LV")

		l.size = vg.Align(canUse, false)
		l.targetSize = l.size
	}
}

func (l *LogicalVolume) createLV() error {
	vg := l.vg()

	var pvs []string

	if l.singlePV {
		pv, err := singlePV(vg, l.name, l.self.Size())
		if err != nil {
			return err
		}

		pvs = []string{pv.Path()}
	}

	return l.env().LVM.LVCreate(vg.Name(), l.lvname, l.self.Size(), pvs)
}

// Create creates the group if needed, fits the volume to the space lvm
// reports and creates it.
func (l *LogicalVolume) Create() error {
	done := l.progress("create")
	err := l.create()
	done(err)

	return err
}

func (l *LogicalVolume) create() error {
	l.logCall("create").Msg("lv create")

	if l.exists {
		return deviceError(l.name, "device already exists")
	}

	if err := l.createParents(); err != nil {
		return err
	}

	if err := l.setupParents(false); err != nil {
		return err
	}

	c, ok := l.self.(lvCreator)
	if !ok {
		return deviceError(l.name, "cannot create %s", l.Type())
	}

	c.preCreate()

	if err := c.createLV(); err != nil {
		return err
	}

	if err := l.settle(); err != nil {
		return err
	}

	l.exists = true

	return l.self.Setup(false)
}

// Destroy removes the snapshots and the volume. A volume with children,
// such as a thin pool with thin volumes, is refused before anything is
// removed.
func (l *LogicalVolume) Destroy() error {
	done := l.progress("destroy")
	err := l.destroy()
	done(err)

	return err
}

func (l *LogicalVolume) destroy() error {
	l.logCall("destroy").Msg("lv destroy")

	if err := l.checkDestroy(); err != nil {
		return err
	}

	vg := l.vg()
	lvm := l.env().LVM

	for _, snap := range l.snapshots {
		if err := lvm.LVRemove(vg.Name(), snap); err != nil {
			return err
		}
	}

	if err := l.self.Teardown(false); err != nil {
		return err
	}

	if err := vg.setupParents(true); err != nil {
		return err
	}

	if err := lvm.LVRemove(vg.Name(), l.lvname); err != nil {
		return err
	}

	l.exists = false

	return l.settle()
}

// Resize applies the pending size with lvresize. The formats are torn down
// first.
func (l *LogicalVolume) Resize() error {
	done := l.progress("resize")
	err := l.resize()
	done(err)

	return err
}

func (l *LogicalVolume) resize() error {
	l.logCall("resize").Float64("target", l.targetSize).Msg("lv resize")

	if !l.exists {
		return deviceError(l.name, "device has not been created")
	}

	target := l.self.TargetSize()

	if err := l.validateTarget(target); err != nil {
		return err
	}

	vg := l.vg()

	if err := vg.setupParents(true); err != nil {
		return err
	}

	if err := l.teardownFormats(); err != nil {
		return err
	}

	if err := l.settle(); err != nil {
		return err
	}

	if err := l.env().LVM.LVResize(vg.Name(), l.lvname, target); err != nil {
		return err
	}

	l.size = target
	l.resizePending = false

	return nil
}

// DracutSetupArgs asks the initramfs to activate the volume.
func (l *LogicalVolume) DracutSetupArgs() []string {
	return []string{fmt.Sprintf("rd_LVM_LV=%s/%s", l.vg().Name(), l.lvname)}
}

// CheckSize compares the size to the format limits. A growing volume is
// too small only if its maximum is below the format minimum.
func (l *LogicalVolume) CheckSize() SizeProblem {
	size := l.self.Size()
	fmax, fmin := l.format.MaxSize(), l.format.MinSize()

	if fmax > 0 && size > fmax {
		return SizeTooLarge
	}

	if fmin > 0 && !l.grow && size < fmin {
		return SizeTooSmall
	}

	if fmin > 0 && l.grow && l.reqMax > 0 && l.reqMax < fmin {
		return SizeTooSmall
	}

	return SizeOK
}

// WriteKS writes a logvol command.
func (l *LogicalVolume) WriteKS(w io.Writer, preexisting, noformat bool) error {
	_, err := fmt.Fprintf(w, "#logvol %s\n", l.ksLine(ksFormatArgs(l.self), preexisting, noformat))

	return err
}

func (l *LogicalVolume) ksLine(fmtArgs string, preexisting, noformat bool) string {
	args := []string{fmtArgs, "--name=" + l.lvname, "--vgname=" + l.vg().Name()}
	args = append(args, l.thinArgs()...)

	if l.grow {
		size := roundMiB(l.reqSize)
		if size < 1 {
			size = 1
		}

		args = append(args, "--grow", fmt.Sprintf("--size=%d", size))

		if l.reqMax > 0 {
			args = append(args, fmt.Sprintf("--maxsize=%d", roundMiB(l.reqMax)))
		}

		if l.percent > 0 {
			args = append(args, fmt.Sprintf("--percent=%d", roundMiB(l.percent)))
		}
	} else if l.percent > 0 {
		args = append(args, fmt.Sprintf("--percent=%d", roundMiB(l.percent)))
	} else if l.reqSize > 0 {
		args = append(args, fmt.Sprintf("--size=%d", roundMiB(l.reqSize)))
	}

	if preexisting {
		args = append(args, "--useexisting")
	}

	if noformat {
		args = append(args, "--noformat")
	}

	return strings.Join(args, " ")
}
