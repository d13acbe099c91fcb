package devtree

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// DefaultPESize is the physical extent size in MiB used when a volume group
// does not specify one.
const DefaultPESize = 4.0

// LVType defines the type of the logical volume.
type LVType int

const (
	// THICK indicates thickly provisioned logical volume.
	THICK LVType = iota

	// THIN indicates thinly provisioned logical volume.
	THIN

	// THINPOOL indicates a pool that thin logical volumes are carved from.
	THINPOOL
)

//nolint:gochecknoglobals
var lvTypeNames = []string{"THICK", "THIN", "THINPOOL"}

func (t LVType) String() string {
	if int(t) < 0 || int(t) >= len(lvTypeNames) {
		return fmt.Sprintf("LVType(%d)", int(t))
	}

	return lvTypeNames[t]
}

// MarshalJSON returns the LVType as a json string.
func (t LVType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts the type either by name or by number.
func (t *LVType) UnmarshalJSON(b []byte) error {
	var name string

	if err := json.Unmarshal(b, &name); err != nil {
		n, nerr := strconv.Atoi(string(b))
		if nerr != nil {
			return fmt.Errorf("invalid lv type %s", string(b))
		}

		name = LVType(n).String()
	}

	for i, n := range lvTypeNames {
		if n == name {
			*t = LVType(i)
			return nil
		}
	}

	return fmt.Errorf("invalid lv type %s", string(b))
}

// LV is implemented by logical volumes, thin pools and thin volumes.
type LV interface {
	Device

	// LVName returns the name of the volume inside its group.
	LVName() string

	// LVType returns how the volume is provisioned.
	LVType() LVType

	// VG returns the volume group the volume takes its space from.
	VG() *VolumeGroup

	// VGSpaceUsed returns the space in the group taken by the volume, not
	// counting snapshots.
	VGSpaceUsed() float64

	// SnapshotSpace returns the space taken by snapshots of the volume.
	SnapshotSpace() float64

	container() lvContainer
}

// lvContainer keeps the list of volumes that live in it. Volume groups
// contain logical volumes and thin pools, thin pools contain thin volumes.
type lvContainer interface {
	Device
	addLogVol(lv LV) error
	removeLogVol(lv LV) error
}

type lvCreator interface {
	preCreate()
	createLV() error
}

func indexOfID(ids []ID, id ID) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}

	return -1
}

// registerLV adds lv to the tree under parent and to the container's list.
// The registration is undone when the container refuses the volume.
func (t *Tree) registerLV(lv LV, parent Device) error {
	if err := t.register(lv, []Device{parent}); err != nil {
		return err
	}

	if err := lv.container().addLogVol(lv); err != nil {
		t.unregister(lv)
		return err
	}

	return nil
}

// thin pool metadata and chunk size limits, in MiB.
const (
	thinMetaMin   = 2.0
	thinMetaMax   = 16 * 1024.0
	thinChunkMin  = 64.0 / 1024.0
	thinChunkMax  = 1024.0
	poolPadFactor = 0.2
)

func validThinMetaDataSize(size float64) bool {
	return size >= thinMetaMin && size <= thinMetaMax
}

func validThinChunkSize(size float64) bool {
	if size < thinChunkMin || size > thinChunkMax {
		return false
	}

	return math.Mod(size, thinChunkMin) == 0
}

// poolPadding returns the extra space lvm allocates for a thin pool of
// size: the spare metadata area, at least one extent.
func poolPadding(size, peSize float64) float64 {
	pad := math.Ceil(size*poolPadFactor/peSize) * peSize

	return math.Max(pad, peSize)
}

// ThinPoolArgs are the arguments for NewThinPool.
type ThinPoolArgs struct {
	LVArgs

	// MetaDataSize is the size of the pool metadata volume. 0 lets lvm
	// decide.
	MetaDataSize float64

	// ChunkSize is the pool chunk size. 0 lets lvm decide.
	ChunkSize float64
}

// ThinPool is a logical volume thin volumes are allocated from. It keeps
// its own list of thin volumes which are also members of the volume group.
type ThinPool struct {
	LogicalVolume
	chunkSize float64
	lvs       []ID
}

// NewThinPool adds thin pool name to vg.
func (t *Tree) NewThinPool(name string, vg *VolumeGroup, args ThinPoolArgs) (*ThinPool, error) {
	if args.MetaDataSize != 0 && !validThinMetaDataSize(args.MetaDataSize) {
		return nil, deviceError(name, "invalid metadata size %.2f MiB", args.MetaDataSize)
	}

	if args.ChunkSize != 0 && !validThinChunkSize(args.ChunkSize) {
		return nil, deviceError(name, "invalid chunk size %.4f MiB", args.ChunkSize)
	}

	if vg == nil {
		return nil, deviceError(name, "thin pool needs a volume group")
	}

	p := &ThinPool{chunkSize: args.ChunkSize}
	if err := p.initLV(KindThinPool, name, vg, args.LVArgs); err != nil {
		return nil, err
	}

	p.metaDataSize = args.MetaDataSize
	p.resizable = false

	return p, t.registerLV(p, vg)
}

// LVType returns THINPOOL.
func (p *ThinPool) LVType() LVType {
	return THINPOOL
}

// ChunkSize returns the requested chunk size, 0 if lvm picks it.
func (p *ThinPool) ChunkSize() float64 {
	return p.chunkSize
}

// MetaDataSize returns the requested metadata size, 0 if lvm picks it.
func (p *ThinPool) MetaDataSize() float64 {
	return p.metaDataSize
}

func (p *ThinPool) addLogVol(lv LV) error {
	if indexOfID(p.lvs, lv.ID()) >= 0 {
		return deviceError(p.name, "%s is already part of this pool", lv.Name())
	}

	if err := p.VG().addLogVol(lv); err != nil {
		return err
	}

	p.lvs = append(p.lvs, lv.ID())

	return nil
}

func (p *ThinPool) removeLogVol(lv LV) error {
	i := indexOfID(p.lvs, lv.ID())
	if i < 0 {
		return deviceError(p.name, "%s is not part of this pool", lv.Name())
	}

	p.lvs = append(p.lvs[:i], p.lvs[i+1:]...)

	return p.VG().removeLogVol(lv)
}

// LVs returns the thin volumes in the pool.
func (p *ThinPool) LVs() []*ThinLV {
	lvs := []*ThinLV{}

	for _, id := range p.lvs {
		if lv, ok := p.tree.Get(id).(*ThinLV); ok {
			lvs = append(lvs, lv)
		}
	}

	return lvs
}

// VGSpaceUsed adds the pool padding to the space of a plain volume.
func (p *ThinPool) VGSpaceUsed() float64 {
	space := p.LogicalVolume.VGSpaceUsed()

	return space + poolPadding(space, p.VG().PESize())
}

// UsedSpace returns the space allocated to the thin volumes.
func (p *ThinPool) UsedSpace() float64 {
	used := 0.0

	for _, lv := range p.LVs() {
		used += lv.PoolSpaceUsed()
	}

	return used
}

// FreeSpace returns the pool size less the space of its thin volumes. The
// pool metadata is not subtracted.
func (p *ThinPool) FreeSpace() float64 {
	return p.self.Size() - p.UsedSpace()
}

func (p *ThinPool) createLV() error {
	return p.env().LVM.ThinPoolCreate(p.VG().Name(), p.lvname, p.self.Size(),
		p.metaDataSize, p.chunkSize)
}

// DracutSetupArgs returns nothing. The initramfs activates the pool along
// with the thin volumes on it.
func (p *ThinPool) DracutSetupArgs() []string {
	return nil
}

// ThinLV is a thinly provisioned logical volume in a ThinPool.
type ThinLV struct {
	LogicalVolume
}

// NewThinLV adds thin volume name to pool.
func (t *Tree) NewThinLV(name string, pool *ThinPool, args LVArgs) (*ThinLV, error) {
	if pool == nil {
		return nil, deviceError(name, "thin volume needs a pool")
	}

	lv := &ThinLV{}
	if err := lv.initLV(KindThinLV, name, pool.VG(), args); err != nil {
		return nil, err
	}

	return lv, t.registerLV(lv, pool)
}

// LVType returns THIN.
func (lv *ThinLV) LVType() LVType {
	return THIN
}

// Pool returns the pool the volume is allocated from.
func (lv *ThinLV) Pool() *ThinPool {
	parents := lv.Parents()
	if len(parents) == 0 {
		return nil
	}

	pool, _ := parents[0].(*ThinPool)

	return pool
}

// VG returns the volume group of the pool.
func (lv *ThinLV) VG() *VolumeGroup {
	if pool := lv.Pool(); pool != nil {
		return pool.VG()
	}

	return nil
}

func (lv *ThinLV) container() lvContainer {
	return lv.Pool()
}

// PoolSpaceUsed returns the space the volume takes in the pool, aligned up
// to the group's extent size.
func (lv *ThinLV) PoolSpaceUsed() float64 {
	return lv.VG().Align(lv.self.Size(), true)
}

// VGSpaceUsed is 0: the pool's size is already accounted for in the group.
func (lv *ThinLV) VGSpaceUsed() float64 {
	return 0
}

// SetSize aligns size to the extent size. Thin volumes may overcommit the
// pool, so there is no space check.
func (lv *ThinLV) SetSize(size float64) error {
	size = lv.VG().Align(size, false)

	lv.logCall("setsize").Float64("size", size).Msg("setting thin lv size")

	lv.size = size
	lv.targetSize = size
	lv.resizePending = lv.exists

	return nil
}

func (lv *ThinLV) preCreate() {}

func (lv *ThinLV) createLV() error {
	return lv.env().LVM.ThinLVCreate(lv.VG().Name(), lv.Pool().LVName(), lv.lvname, lv.self.Size())
}

func (l *LogicalVolume) thinArgs() []string {
	switch v := l.self.(type) {
	case *ThinPool:
		args := []string{"--thinpool"}
		if v.metaDataSize > 0 {
			args = append(args, fmt.Sprintf("--metadatasize=%d", roundMiB(v.metaDataSize)))
		}

		if v.chunkSize > 0 {
			args = append(args, fmt.Sprintf("--chunksize=%d", roundMiB(v.chunkSize*1024)))
		}

		return args
	case *ThinLV:
		return []string{"--thin", "--poolname=" + v.Pool().LVName()}
	}

	return nil
}
