package devtree

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// PartitionArgs are the arguments for NewPartition.
type PartitionArgs struct {
	StorageArgs

	// Number selects the partition of an existing label. For new partitions
	// 0 lets the label pick the number.
	Number uint

	// Role is the msdos role of a new partition.
	Role PartitionRole

	// Start is the start sector of a new partition. 0 picks the first free
	// region that is large enough.
	Start int64

	// Type is the partition type id (see package partid).
	Type [16]byte

	// Primary requests a primary partition.
	Primary bool

	Bootable bool
}

// Partition is a partition on a partitionable device. Its geometry lives in
// the disk's label. New partitions carry their geometry until they are
// created and added to the label.
type Partition struct {
	Storage
	part        *LabelPartition
	origPart    *LabelPartition
	currentSize float64
	primary     bool
	reqSize     float64
}

// NewPartition adds a partition of disk to the tree. For an existing
// partition args.Number selects the label entry. For a new one args.Size
// gives the size.
func (t *Tree) NewPartition(name string, disk Partitionable, args PartitionArgs) (*Partition, error) {
	if disk == nil {
		return nil, deviceError(name, "partition needs a disk")
	}

	label, err := disk.Label()
	if err != nil {
		return nil, err
	}

	p := &Partition{}
	p.init(KindPartition, name, args.StorageArgs)
	p.resizable = true
	p.devDir = disk.storage().devDir
	p.primary = args.Primary

	if args.Exists {
		lp := label.PartitionByNumber(args.Number)
		if lp == nil {
			return nil, deviceError(name, "cannot find partition %d on %s", args.Number, disk.Name())
		}

		p.part = lp
		p.size = label.PartitionSize(lp)
		p.targetSize = p.size
		p.currentSize = p.size

		if p.name == "" {
			p.name = PartitionName(disk.Name(), lp.Number)
		}
	} else {
		lp, err := newLabelPartition(label, args)
		if err != nil {
			return nil, errors.Wrapf(err, "partition %s", name)
		}

		p.part = lp
		p.reqSize = args.Size

		if p.name == "" {
			p.name = fmt.Sprintf("%s-req%d", disk.Name(), t.ids.next)
		}
	}

	return p, t.register(p, []Device{disk})
}

func newLabelPartition(label *DiskLabel, args PartitionArgs) (*LabelPartition, error) {
	if args.Size <= 0 {
		return nil, fmt.Errorf("new partitions need a size")
	}

	if args.Primary && args.Role == PartitionLogical {
		return nil, fmt.Errorf("a logical partition cannot be primary")
	}

	length := label.SectorsFor(args.Size)

	var g Geometry

	if args.Start == 0 {
		free, err := label.FindFree(args.Role, length)
		if err != nil {
			return nil, err
		}

		g = free
	} else {
		g = Geometry{Start: args.Start, End: args.Start + length - 1}
	}

	if end, err := label.EndAlignment().AlignDown(g, g.End); err == nil {
		g.End = end
	}

	return &LabelPartition{
		Number:   args.Number,
		Role:     args.Role,
		Geometry: g,
		Type:     args.Type,
		Bootable: args.Bootable,
	}, nil
}

// Disk returns the device the partition is on.
func (p *Partition) Disk() Partitionable {
	for _, d := range p.Parents() {
		if pd, ok := d.(Partitionable); ok {
			return pd
		}
	}

	return nil
}

func (p *Partition) diskLabel() (*DiskLabel, error) {
	disk := p.Disk()
	if disk == nil {
		return nil, deviceError(p.name, "partition has no disk")
	}

	return disk.Label()
}

// Number returns the partition number, 0 for a new partition that has not
// been added to the label yet.
func (p *Partition) Number() uint {
	return p.part.Number
}

// Geometry returns the partition's sectors.
func (p *Partition) Geometry() Geometry {
	return p.part.Geometry
}

// Role returns the msdos role of the partition.
func (p *Partition) Role() PartitionRole {
	return p.part.Role
}

// IsExtended reports whether this is the extended partition.
func (p *Partition) IsExtended() bool {
	return p.part.Role == PartitionExtended
}

// IsLogical reports whether this is a logical partition.
func (p *Partition) IsLogical() bool {
	return p.part.Role == PartitionLogical
}

// IsPrimary reports whether this is a primary partition.
func (p *Partition) IsPrimary() bool {
	return p.part.Role == PartitionNormal
}

// Bootable reports whether the boot flag is set.
func (p *Partition) Bootable() bool {
	return p.part.Bootable
}

// Size returns the size of the partition's geometry.
func (p *Partition) Size() float64 {
	label, err := p.diskLabel()
	if err != nil {
		return p.size
	}

	return label.PartitionSize(p.part)
}

// CurrentSize returns the size the partition has on disk.
func (p *Partition) CurrentSize() float64 {
	if !p.exists {
		return 0
	}

	return p.currentSize
}

// MaxSize returns the size the partition could grow to, capped by the
// format limit.
func (p *Partition) MaxSize() float64 {
	label, err := p.diskLabel()
	if err != nil {
		return 0
	}

	avail := label.MaxAvailableSize(p.part)

	if fmax := p.format.MaxSize(); fmax > 0 && fmax < avail {
		return fmax
	}

	return avail
}

// Resizable reports whether the partition can be resized. Partitions on
// DASDs cannot.
func (p *Partition) Resizable() bool {
	disk := p.Disk()
	if disk != nil && disk.Kind() == KindDASD {
		return false
	}

	return p.Storage.Resizable()
}

// SetSize changes the partition's geometry to size MiB.
func (p *Partition) SetSize(size float64) error {
	if !p.exists {
		return deviceError(p.name, "device does not exist")
	}

	label, err := p.diskLabel()
	if err != nil {
		return err
	}

	if size > label.Size() {
		return &InsufficientSpaceError{Device: p.name, Requested: size, Available: label.Size()}
	}

	if avail := label.MaxAvailableSize(p.part); size > avail {
		return &InsufficientSpaceError{Device: p.name, Requested: size, Available: avail}
	}

	g := Geometry{Start: p.part.Start, End: p.part.Start + label.SectorsFor(size) - 1}

	return label.SetPartitionGeometry(p.part, g)
}

// computeResize returns the geometry entry needs for the target size. The
// start sector is kept. When shrinking the end is aligned up, staying within
// the current geometry. When growing it is aligned down, staying within the
// new geometry.
func (p *Partition) computeResize(label *DiskLabel, entry *LabelPartition, size float64) (Geometry, error) {
	cur := entry.Geometry
	length := label.SectorsFor(size)
	g := Geometry{Start: cur.Start, End: cur.Start + length - 1}

	var end int64
	var err error

	if g.Length() < cur.Length() {
		end, err = label.EndAlignment().AlignUp(cur, g.End)
	} else {
		end, err = label.EndAlignment().AlignDown(g, g.End)
	}

	if err != nil {
		return Geometry{}, errors.Wrapf(err, "%s: cannot align resized partition", p.name)
	}

	g.End = end

	return g, nil
}

// SetTargetSize requests a resize. The target is checked against the
// format and label limits first. The in-memory geometry is changed right
// away so that other partitioning sees the new layout; going back to the
// current size puts back the geometry from the on-disk label.
func (p *Partition) SetTargetSize(size float64) error {
	if err := p.validateTarget(size); err != nil {
		return err
	}

	label, err := p.diskLabel()
	if err != nil {
		return err
	}

	var g Geometry

	if size == p.CurrentSize() {
		g, err = p.committedGeometry()
	} else {
		g, err = p.computeResize(label, p.part, size)
	}

	if err != nil {
		return err
	}

	if err := label.SetPartitionGeometry(p.part, g); err != nil {
		return err
	}

	p.targetSize = size
	p.resizePending = true

	return nil
}

// committedGeometry returns the geometry of the partition in the label as
// last read from or written to disk.
func (p *Partition) committedGeometry() (Geometry, error) {
	orig, err := p.Disk().OriginalLabel()
	if err != nil {
		return Geometry{}, err
	}

	var entry *LabelPartition

	if p.IsExtended() {
		entry = orig.ExtendedPartition()
	} else {
		entry = orig.PartitionBySector(p.part.Start)
	}

	if entry == nil || entry.Start != p.part.Start {
		return Geometry{}, deviceError(p.name, "cannot find partition on the original disk label")
	}

	return entry.Geometry, nil
}

// abandonResize drops a pending resize and puts back the on-disk geometry.
func (p *Partition) abandonResize() {
	if g, err := p.committedGeometry(); err == nil {
		p.part.Geometry = g
	} else {
		p.logCall("resize").Err(err).Msg("cannot restore partition geometry")
	}

	p.targetSize = p.currentSize
	p.resizePending = false
}

// Resize writes the pending geometry change to disk.
func (p *Partition) Resize() error {
	done := p.progress("resize")
	err := p.resize()
	done(err)

	return err
}

func (p *Partition) resize() (err error) {
	p.logCall("resize").Float64("target", p.targetSize).Msg("partition resize")

	if !p.exists {
		return deviceError(p.name, "device has not been created")
	}

	defer func() {
		if err != nil {
			p.abandonResize()
		}
	}()

	if err := p.validateTarget(p.targetSize); err != nil {
		return err
	}

	if p.targetSize == p.currentSize {
		p.resizePending = false
		return nil
	}

	label, err := p.diskLabel()
	if err != nil {
		return err
	}

	g, err := p.computeResize(label, p.part, p.targetSize)
	if err != nil {
		return err
	}

	if err := label.SetPartitionGeometry(p.part, g); err != nil {
		return err
	}

	if err := label.Commit(); err != nil {
		return err
	}

	p.Disk().storage().syncOriginalLabel()
	p.currentSize = label.PartitionSize(p.part)
	p.resizePending = false

	return nil
}

// Create adds the partition to the disk label and commits it.
func (p *Partition) Create() error {
	done := p.progress("create")
	err := p.create()
	done(err)

	return err
}

func (p *Partition) create() error {
	p.logCall("create").Msg("partition create")

	if p.exists {
		return deviceError(p.name, "device already exists")
	}

	if err := p.createParents(); err != nil {
		return err
	}

	if err := p.setupParents(false); err != nil {
		return err
	}

	disk := p.Disk()

	label, err := disk.Label()
	if err != nil {
		return err
	}

	number, id := p.part.Number, p.part.ID

	if err := label.AddPartition(p.part); err != nil {
		return errors.Wrapf(err, "%s: failed to add partition to the disk label", p.name)
	}

	if err := label.Commit(); err != nil {
		if rerr := label.RemovePartition(p.part); rerr != nil {
			p.logCall("create").Err(rerr).Msg("failed to roll back partition add")
		}

		p.part.Number, p.part.ID = number, id

		return err
	}

	disk.storage().syncOriginalLabel()

	p.name = PartitionName(disk.Name(), p.part.Number)
	p.format.SetDevice(p.Path())
	p.originalFormat.SetDevice(p.Path())

	if !p.IsExtended() {
		// remove signatures left behind by whatever used this region before.
		if err := p.sys().Wipe(p.Path()); err != nil {
			return err
		}
	}

	p.exists = true
	p.currentSize = p.Size()

	return p.self.Setup(false)
}

// Destroy removes the partition from the disk label as it is on disk. The
// partition is located in that label by start sector.
func (p *Partition) Destroy() error {
	done := p.progress("destroy")
	err := p.destroy()
	done(err)

	return err
}

func (p *Partition) destroy() error {
	p.logCall("destroy").Msg("partition destroy")

	if err := p.checkDestroy(); err != nil {
		return err
	}

	if err := p.setupParents(true); err != nil {
		return err
	}

	if err := p.PreCommitFixup(nil); err != nil {
		return err
	}

	if p.origPart == nil {
		return deviceError(p.name, "cannot find partition on the original disk label")
	}

	disk := p.Disk()

	orig, err := disk.OriginalLabel()
	if err != nil {
		return err
	}

	entry := p.origPart

	if err := orig.RemovePartition(entry); err != nil {
		return errors.Wrapf(err, "%s: failed to remove partition from the disk label", p.name)
	}

	if err := orig.Commit(); err != nil {
		orig.restorePartition(entry)
		return err
	}

	if cur, err := disk.Label(); err == nil && cur.indexOf(p.part) >= 0 {
		if err := cur.RemovePartition(p.part); err != nil {
			p.logCall("destroy").Err(err).Msg("failed to drop partition from the in-memory label")
		}
	}

	p.origPart = nil
	p.exists = false

	return nil
}

// PreCommitFixup re-resolves the partition against the original disk label.
// Partitions may have been renumbered since discovery, so the extended
// partition is found by role and the others by start sector.
func (p *Partition) PreCommitFixup(mountpoints []string) error {
	if !p.exists {
		return nil
	}

	orig, err := p.Disk().OriginalLabel()
	if err != nil {
		return err
	}

	if p.IsExtended() {
		p.origPart = orig.ExtendedPartition()
	} else {
		p.origPart = orig.PartitionBySector(p.part.Start)
	}

	return nil
}

// DependsOn adds the rule that a logical partition depends on the extended
// partition of the same disk.
func (p *Partition) DependsOn(dep Device) bool {
	if other, ok := dep.(*Partition); ok && other.IsExtended() && p.IsLogical() {
		if d1, d2 := p.Disk(), other.Disk(); d1 != nil && d2 != nil && d1.ID() == d2.ID() {
			return true
		}
	}

	return p.Base.DependsOn(dep)
}

// FstabSpec returns the by-path alias for partitions on a DASD, else the
// generic specifier.
func (p *Partition) FstabSpec() string {
	if disk := p.Disk(); disk != nil && disk.Kind() == KindDASD {
		if byPath, err := p.sys().DiskByPath(p.name); err == nil {
			return byPath
		}
	}

	return p.Storage.FstabSpec()
}

// CheckSize compares the size (or the requested maximum for a growing
// partition) to the format limits.
func (p *Partition) CheckSize() SizeProblem {
	return p.checkGrowSize()
}

// WriteKS writes a part command. The extended partition has none.
func (p *Partition) WriteKS(w io.Writer, preexisting, noformat bool) error {
	if p.IsExtended() {
		return nil
	}

	_, err := fmt.Fprintf(w, "#part %s\n", p.ksLine(ksFormatArgs(p), preexisting, noformat))

	return err
}

func (p *Partition) ksLine(fmtArgs string, preexisting, noformat bool) string {
	args := []string{fmtArgs}

	if p.grow {
		args = append(args, "--grow")
	}

	if p.reqMax > 0 {
		args = append(args, fmt.Sprintf("--maxsize=%d", roundMiB(p.reqMax)))
	}

	if p.primary {
		args = append(args, "--asprimary")
	}

	if p.reqSize > 0 {
		args = append(args, fmt.Sprintf("--size=%d", roundMiB(p.reqSize)))
	}

	if preexisting {
		args = append(args, "--onpart="+p.name)
	} else if disk := p.Disk(); disk != nil {
		args = append(args, "--ondisk="+disk.Name())
	}

	if noformat {
		args = append(args, "--noformat")
	}

	return strings.Join(args, " ")
}
