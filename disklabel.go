package devtree

import (
	"fmt"
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Disk label types.
const (
	LabelGPT   = "gpt"
	LabelMSDOS = "msdos"
	LabelDASD  = "dasd"
)

// gptReservedSectors is the number of sectors the gpt header and partition
// array take at each end of the disk.
const gptReservedSectors = 34

// PartitionRole is the role of a partition within an msdos label.
type PartitionRole int

const (
	// PartitionNormal - a primary partition (or any gpt partition).
	PartitionNormal PartitionRole = iota

	// PartitionExtended - the msdos extended partition container.
	PartitionExtended

	// PartitionLogical - a partition inside the extended partition.
	PartitionLogical
)

func (r PartitionRole) String() string {
	switch r {
	case PartitionExtended:
		return "extended"
	case PartitionLogical:
		return "logical"
	}

	return "normal"
}

// Geometry is an inclusive range of sectors.
type Geometry struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Length returns the number of sectors in g.
func (g Geometry) Length() int64 {
	return g.End - g.Start + 1
}

// Contains reports whether sector lies within g.
func (g Geometry) Contains(sector int64) bool {
	return sector >= g.Start && sector <= g.End
}

// Overlaps reports whether g and o share a sector.
func (g Geometry) Overlaps(o Geometry) bool {
	return g.Start <= o.End && o.Start <= g.End
}

// Alignment describes the sectors s with s = Offset + n * Grain.
type Alignment struct {
	Offset int64
	Grain  int64
}

func (a Alignment) rem(sector int64) int64 {
	return ((sector-a.Offset)%a.Grain + a.Grain) % a.Grain
}

// IsAligned reports whether sector satisfies the alignment.
func (a Alignment) IsAligned(sector int64) bool {
	return a.rem(sector) == 0
}

// AlignUp returns the closest aligned sector at or after sector. The result
// must lie within g.
func (a Alignment) AlignUp(g Geometry, sector int64) (int64, error) {
	aligned := sector
	if r := a.rem(sector); r != 0 {
		aligned = sector + a.Grain - r
	}

	if !g.Contains(aligned) {
		return 0, fmt.Errorf("no aligned sector at or after %d within %d-%d", sector, g.Start, g.End)
	}

	return aligned, nil
}

// AlignDown returns the closest aligned sector at or before sector. The
// result must lie within g.
func (a Alignment) AlignDown(g Geometry, sector int64) (int64, error) {
	aligned := sector - a.rem(sector)

	if !g.Contains(aligned) {
		return 0, fmt.Errorf("no aligned sector at or before %d within %d-%d", sector, g.Start, g.End)
	}

	return aligned, nil
}

// LabelPartition is one entry of a disk label.
type LabelPartition struct {
	Number uint          `json:"number"`
	Role   PartitionRole `json:"role"`
	Geometry
	Type     [16]byte `json:"type"`
	ID       GUID     `json:"id"`
	Name     string   `json:"name"`
	Bootable bool     `json:"bootable"`
}

// DiskLabelArgs describes a disk label.
type DiskLabelArgs struct {
	// Type is one of LabelGPT, LabelMSDOS or LabelDASD.
	Type       string
	SectorSize int64
	Sectors    int64

	// Grain is the alignment grain in sectors. 0 means 1MiB.
	Grain int64

	// Exists marks a label read from disk.
	Exists bool

	Partitions []*LabelPartition
}

// DiskLabel is an in-memory partition table. It is the Format of a
// partitionable device. Changes are made in memory and written out with
// Commit.
type DiskLabel struct {
	LabelType  string
	SectorSize int64
	Sectors    int64
	Grain      int64
	Partitions []*LabelPartition

	device string
	exists bool
	sys    System
}

// NewDiskLabel returns a DiskLabel that is committed through sys.
func NewDiskLabel(sys System, args DiskLabelArgs) (*DiskLabel, error) {
	switch args.Type {
	case LabelGPT, LabelMSDOS, LabelDASD:
	default:
		return nil, fmt.Errorf("unsupported disk label type '%s'", args.Type)
	}

	if args.SectorSize <= 0 || args.Sectors <= 0 {
		return nil, fmt.Errorf("invalid disk geometry %d sectors of %d bytes", args.Sectors, args.SectorSize)
	}

	grain := args.Grain
	if grain == 0 {
		grain = Mebibyte / args.SectorSize
	}

	l := &DiskLabel{
		LabelType:  args.Type,
		SectorSize: args.SectorSize,
		Sectors:    args.Sectors,
		Grain:      grain,
		Partitions: args.Partitions,
		exists:     args.Exists,
		sys:        sys,
	}

	l.sortPartitions()

	return l, nil
}

// Type returns "disklabel".
func (l *DiskLabel) Type() string {
	return "disklabel"
}

// Exists reports whether the label is on disk.
func (l *DiskLabel) Exists() bool {
	return l.exists
}

// Status is always false. A label is never active.
func (l *DiskLabel) Status() bool {
	return false
}

// Resizable is always false.
func (l *DiskLabel) Resizable() bool {
	return false
}

// MinSize returns 0.
func (l *DiskLabel) MinSize() float64 {
	return 0
}

// MaxSize returns 0 (unlimited).
func (l *DiskLabel) MaxSize() float64 {
	return 0
}

// UUID returns "".
func (l *DiskLabel) UUID() string {
	return ""
}

// Device returns the disk path.
func (l *DiskLabel) Device() string {
	return l.device
}

// SetDevice sets the disk path.
func (l *DiskLabel) SetDevice(path string) {
	l.device = path
}

// Setup does nothing.
func (l *DiskLabel) Setup() error {
	return nil
}

// Teardown does nothing.
func (l *DiskLabel) Teardown() error {
	return nil
}

// Create writes the label to disk.
func (l *DiskLabel) Create() error {
	return l.Commit()
}

// Destroy wipes the label from disk.
func (l *DiskLabel) Destroy() error {
	if err := l.sys.Wipe(l.device); err != nil {
		return err
	}

	l.exists = false

	return nil
}

// Snapshot returns a copy of the label.
func (l *DiskLabel) Snapshot() Format {
	return l.Clone()
}

// Clone returns a deep copy of the label.
func (l *DiskLabel) Clone() *DiskLabel {
	c := &DiskLabel{}

	if err := copier.CopyWithOption(c, l, copier.Option{DeepCopy: true}); err != nil {
		// copier only fails on mismatched types, which cannot happen here.
		panic(fmt.Sprintf("failed to copy disk label: %s", err))
	}

	c.device = l.device
	c.exists = l.exists
	c.sys = l.sys

	return c
}

// Equal reports whether l and o describe the same partition table.
func (l *DiskLabel) Equal(o *DiskLabel) bool {
	if l.LabelType != o.LabelType || l.SectorSize != o.SectorSize ||
		l.Sectors != o.Sectors || l.Grain != o.Grain {
		return false
	}

	return cmp.Equal(l.Partitions, o.Partitions, cmpopts.EquateEmpty())
}

// Commit writes the label to disk.
func (l *DiskLabel) Commit() error {
	if l.sys == nil {
		return &CommitError{Device: l.device, Err: errors.New("no system to commit through")}
	}

	log.Debug().Str("device", l.device).Str("label", l.LabelType).
		Int("partitions", len(l.Partitions)).Msg("committing disk label")

	if err := l.sys.CommitLabel(l); err != nil {
		return &CommitError{Device: l.device, Err: err}
	}

	l.exists = true

	return nil
}

// StartAlignment is the alignment of partition start sectors.
func (l *DiskLabel) StartAlignment() Alignment {
	return Alignment{Offset: 0, Grain: l.Grain}
}

// EndAlignment is the alignment of partition end sectors.
func (l *DiskLabel) EndAlignment() Alignment {
	return Alignment{Offset: l.Grain - 1, Grain: l.Grain}
}

// Usable returns the range of sectors partitions may occupy.
func (l *DiskLabel) Usable() Geometry {
	if l.LabelType == LabelGPT {
		return Geometry{Start: gptReservedSectors, End: l.Sectors - gptReservedSectors}
	}

	return Geometry{Start: 1, End: l.Sectors - 1}
}

// MaxPrimary returns the number of primary partition slots.
func (l *DiskLabel) MaxPrimary() uint {
	switch l.LabelType {
	case LabelGPT:
		return 128
	case LabelDASD:
		return 3
	}

	return 4
}

// SectorsFor returns the number of whole sectors in size MiB.
func (l *DiskLabel) SectorsFor(size float64) int64 {
	return int64(size*Mebibyte) / l.SectorSize
}

// SizeOf returns the size in MiB of n sectors.
func (l *DiskLabel) SizeOf(n int64) float64 {
	return float64(n*l.SectorSize) / Mebibyte
}

// PartitionSize returns the size of p in MiB.
func (l *DiskLabel) PartitionSize(p *LabelPartition) float64 {
	return l.SizeOf(p.Length())
}

// ExtendedPartition returns the extended partition, nil if there is none.
func (l *DiskLabel) ExtendedPartition() *LabelPartition {
	for _, p := range l.Partitions {
		if p.Role == PartitionExtended {
			return p
		}
	}

	return nil
}

// LogicalPartitions returns the logical partitions.
func (l *DiskLabel) LogicalPartitions() []*LabelPartition {
	parts := []*LabelPartition{}

	for _, p := range l.Partitions {
		if p.Role == PartitionLogical {
			parts = append(parts, p)
		}
	}

	return parts
}

// PartitionByNumber returns partition n, nil if there is none.
func (l *DiskLabel) PartitionByNumber(n uint) *LabelPartition {
	for _, p := range l.Partitions {
		if p.Number == n {
			return p
		}
	}

	return nil
}

// PartitionBySector returns the partition containing sector. The extended
// partition is only returned if no logical partition contains sector.
func (l *DiskLabel) PartitionBySector(sector int64) *LabelPartition {
	var ext *LabelPartition

	for _, p := range l.Partitions {
		if !p.Contains(sector) {
			continue
		}

		if p.Role == PartitionExtended {
			ext = p
			continue
		}

		return p
	}

	return ext
}

func (l *DiskLabel) indexOf(p *LabelPartition) int {
	for i, q := range l.Partitions {
		if q == p {
			return i
		}
	}

	return -1
}

func (l *DiskLabel) sortPartitions() {
	sort.SliceStable(l.Partitions, func(i, j int) bool {
		return l.Partitions[i].Number < l.Partitions[j].Number
	})
}

func (l *DiskLabel) numberUsed(n uint) bool {
	return l.PartitionByNumber(n) != nil
}

func (l *DiskLabel) nextNumber(role PartitionRole) (uint, error) {
	if role == PartitionLogical {
		n := l.MaxPrimary()

		for _, p := range l.LogicalPartitions() {
			if p.Number > n {
				n = p.Number
			}
		}

		return n + 1, nil
	}

	for n := uint(1); n <= l.MaxPrimary(); n++ {
		if !l.numberUsed(n) {
			return n, nil
		}
	}

	return 0, fmt.Errorf("no free primary partition slot on %s", l.device)
}

// checkGeometry verifies that p can have geometry g without leaving the
// usable area or overlapping another partition.
func (l *DiskLabel) checkGeometry(p *LabelPartition, g Geometry) error {
	if g.Start > g.End {
		return fmt.Errorf("invalid geometry %d-%d", g.Start, g.End)
	}

	usable := l.Usable()
	if g.Start < usable.Start || g.End > usable.End {
		return fmt.Errorf("geometry %d-%d is outside the usable area %d-%d",
			g.Start, g.End, usable.Start, usable.End)
	}

	if p.Role == PartitionLogical {
		ext := l.ExtendedPartition()
		if ext == nil {
			return fmt.Errorf("logical partition without an extended partition")
		}

		// the sector before a logical partition holds its boot record.
		if g.Start-1 <= ext.Start || g.End > ext.End {
			return fmt.Errorf("logical partition %d-%d is not within extended partition %d-%d",
				g.Start, g.End, ext.Start, ext.End)
		}
	}

	for _, q := range l.Partitions {
		if q == p {
			continue
		}

		switch {
		case p.Role == PartitionLogical && q.Role == PartitionExtended:
			continue
		case p.Role == PartitionExtended && q.Role == PartitionLogical:
			if q.Start-1 <= g.Start || q.End > g.End {
				return fmt.Errorf("extended partition %d-%d does not contain logical partition %d",
					g.Start, g.End, q.Number)
			}

			continue
		case p.Role == PartitionLogical && q.Role == PartitionLogical:
			if (Geometry{Start: g.Start - 1, End: g.End}).Overlaps(Geometry{Start: q.Start - 1, End: q.End}) {
				return fmt.Errorf("geometry %d-%d overlaps partition %d", g.Start, g.End, q.Number)
			}

			continue
		case q.Role == PartitionLogical:
			continue
		}

		if g.Overlaps(q.Geometry) {
			return fmt.Errorf("geometry %d-%d overlaps partition %d", g.Start, g.End, q.Number)
		}
	}

	return nil
}

// AddPartition adds p to the label, assigning it a number if it has none.
func (l *DiskLabel) AddPartition(p *LabelPartition) error {
	if l.indexOf(p) >= 0 {
		return fmt.Errorf("partition %d is already in the label", p.Number)
	}

	if p.Role != PartitionNormal && l.LabelType != LabelMSDOS {
		return fmt.Errorf("%s partitions need an msdos label", p.Role)
	}

	if p.Role == PartitionExtended && l.ExtendedPartition() != nil {
		return fmt.Errorf("disk %s already has an extended partition", l.device)
	}

	if err := l.checkGeometry(p, p.Geometry); err != nil {
		return err
	}

	if p.Number == 0 {
		n, err := l.nextNumber(p.Role)
		if err != nil {
			return err
		}

		p.Number = n
	} else if l.numberUsed(p.Number) {
		return fmt.Errorf("partition number %d is in use", p.Number)
	}

	if l.LabelType == LabelGPT && p.ID.IsZero() {
		p.ID = GenGUID()
	}

	l.Partitions = append(l.Partitions, p)
	l.sortPartitions()

	return nil
}

// RemovePartition removes p from the label. Logical partitions after p are
// renumbered the way the kernel numbers them.
func (l *DiskLabel) RemovePartition(p *LabelPartition) error {
	i := l.indexOf(p)
	if i < 0 {
		return fmt.Errorf("partition %d is not in the label", p.Number)
	}

	if p.Role == PartitionExtended && len(l.LogicalPartitions()) != 0 {
		return fmt.Errorf("cannot remove extended partition with logical partitions")
	}

	l.Partitions = append(l.Partitions[:i], l.Partitions[i+1:]...)

	if p.Role == PartitionLogical {
		for _, q := range l.LogicalPartitions() {
			if q.Number > p.Number {
				q.Number--
			}
		}
	}

	return nil
}

// restorePartition puts back a partition removed by RemovePartition.
func (l *DiskLabel) restorePartition(p *LabelPartition) {
	if p.Role == PartitionLogical {
		for _, q := range l.LogicalPartitions() {
			if q.Number >= p.Number {
				q.Number++
			}
		}
	}

	l.Partitions = append(l.Partitions, p)
	l.sortPartitions()
}

// SetPartitionGeometry changes the geometry of p, which must be in the
// label.
func (l *DiskLabel) SetPartitionGeometry(p *LabelPartition, g Geometry) error {
	if l.indexOf(p) < 0 {
		return fmt.Errorf("partition %d is not in the label", p.Number)
	}

	if err := l.checkGeometry(p, g); err != nil {
		return err
	}

	p.Geometry = g

	return nil
}

// maxEnd returns the last sector p could end on without moving its start.
func (l *DiskLabel) maxEnd(p *LabelPartition) int64 {
	limit := l.Usable().End

	if p.Role == PartitionLogical {
		if ext := l.ExtendedPartition(); ext != nil {
			limit = ext.End
		}
	}

	for _, q := range l.Partitions {
		if q == p || q.Start <= p.Start {
			continue
		}

		boundary := q.Start - 1

		switch {
		case p.Role == PartitionExtended && q.Role == PartitionLogical:
			continue
		case p.Role != PartitionLogical && q.Role == PartitionLogical:
			continue
		case p.Role == PartitionLogical && q.Role == PartitionExtended:
			continue
		case q.Role == PartitionLogical:
			boundary = q.Start - 2
		}

		if boundary < limit {
			limit = boundary
		}
	}

	return limit
}

// MaxAvailableSize returns the size in MiB p could grow to without moving
// its start sector.
func (l *DiskLabel) MaxAvailableSize(p *LabelPartition) float64 {
	end := l.maxEnd(p)
	if end < p.Start {
		return 0
	}

	if aligned, err := l.EndAlignment().AlignDown(Geometry{Start: p.Start, End: end}, end); err == nil {
		end = aligned
	}

	return l.SizeOf(end - p.Start + 1)
}

// FreeSpaces returns the unallocated regions of the disk outside the
// extended partition.
func (l *DiskLabel) FreeSpaces() []Geometry {
	used := []uRange{}

	for _, p := range l.Partitions {
		if p.Role == PartitionLogical {
			continue
		}

		used = append(used, uRange{uint64(p.Start), uint64(p.End)})
	}

	usable := l.Usable()
	free := []Geometry{}

	for _, r := range findRangeGaps(used, uint64(usable.Start), uint64(usable.End)) {
		free = append(free, Geometry{Start: int64(r.Start), End: int64(r.End)})
	}

	return free
}

// FindFree returns the first aligned region of length sectors a new
// partition of the given role fits in.
func (l *DiskLabel) FindFree(role PartitionRole, length int64) (Geometry, error) {
	gaps := l.FreeSpaces()

	if role == PartitionLogical {
		ext := l.ExtendedPartition()
		if ext == nil {
			return Geometry{}, fmt.Errorf("no extended partition on %s", l.device)
		}

		used := []uRange{}
		for _, p := range l.LogicalPartitions() {
			used = append(used, uRange{uint64(p.Start - 1), uint64(p.End)})
		}

		gaps = []Geometry{}
		for _, r := range findRangeGaps(used, uint64(ext.Start+1), uint64(ext.End)) {
			// leave room for the boot record in front of the partition.
			gaps = append(gaps, Geometry{Start: int64(r.Start) + 1, End: int64(r.End)})
		}
	}

	for _, gap := range gaps {
		if gap.Start > gap.End {
			continue
		}

		start, err := l.StartAlignment().AlignUp(gap, gap.Start)
		if err != nil {
			continue
		}

		if gap.End-start+1 >= length {
			return Geometry{Start: start, End: start + length - 1}, nil
		}
	}

	return Geometry{}, fmt.Errorf("no free region of %.2f MiB on %s", l.SizeOf(length), l.device)
}

// Size returns the size of the disk in MiB.
func (l *DiskLabel) Size() float64 {
	return l.SizeOf(l.Sectors)
}
