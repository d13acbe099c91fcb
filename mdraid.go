package devtree

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// DefaultMDMetadata is the metadata version of new arrays.
const DefaultMDMetadata = "1.1"

// RAIDLevel is an md raid level.
type RAIDLevel int

// Supported raid levels.
const (
	RAID0  RAIDLevel = 0
	RAID1  RAIDLevel = 1
	RAID4  RAIDLevel = 4
	RAID5  RAIDLevel = 5
	RAID6  RAIDLevel = 6
	RAID10 RAIDLevel = 10
)

//nolint:gochecknoglobals
var raidMinMembers = map[RAIDLevel]int{
	RAID0:  2,
	RAID1:  2,
	RAID4:  3,
	RAID5:  3,
	RAID6:  4,
	RAID10: 2,
}

func (l RAIDLevel) String() string {
	return fmt.Sprintf("raid%d", int(l))
}

// ParseRAIDLevel parses "1", "raid1", "RAID1", "mirror" or "stripe".
func ParseRAIDLevel(s string) (RAIDLevel, error) {
	v := strings.ToLower(strings.TrimSpace(s))

	switch v {
	case "stripe":
		return RAID0, nil
	case "mirror":
		return RAID1, nil
	}

	n, err := strconv.Atoi(strings.TrimPrefix(v, "raid"))
	if err != nil {
		return 0, fmt.Errorf("invalid raid level %q", s)
	}

	level := RAIDLevel(n)
	if _, ok := raidMinMembers[level]; !ok {
		return 0, fmt.Errorf("invalid raid level %q", s)
	}

	return level, nil
}

// MinMembers returns the number of members an array of level needs.
func MinMembers(level RAIDLevel) (int, error) {
	n, ok := raidMinMembers[level]
	if !ok {
		return 0, fmt.Errorf("invalid raid level %d", int(level))
	}

	return n, nil
}

// MDArgs are the arguments for NewMDArray.
type MDArgs struct {
	StorageArgs

	Level RAIDLevel

	// MemberDevices is the number of active members. 0 means all members.
	MemberDevices int

	// TotalDevices is the number of members including spares. 0 means the
	// number of members given.
	TotalDevices int

	// Metadata is the md metadata version, DefaultMDMetadata when empty.
	Metadata string
}

// MDArray is a linux software raid array.
type MDArray struct {
	Storage
	level         RAIDLevel
	memberDevices int
	totalDevices  int
	metadata      string
	chunkSize     float64
	bitmap        bool
}

// NewMDArray adds array name over members to the tree. Every member must
// carry an MDMemberFormat. A new array needs the minimum number of members
// for its level.
func (t *Tree) NewMDArray(name string, members []Device, args MDArgs) (*MDArray, error) {
	need, err := MinMembers(args.Level)
	if err != nil {
		return nil, err
	}

	if !args.Exists && len(members) < need {
		return nil, deviceError(name, "A RAID%d set requires at least %d members", int(args.Level), need)
	}

	for _, m := range members {
		if m == nil {
			return nil, deviceError(name, "nil member")
		}

		if _, ok := m.Format().(MDMemberFormat); !ok {
			return nil, deviceError(name, "invalid device format for mdraid member %s", m.Name())
		}
	}

	a := &MDArray{
		level:         args.Level,
		memberDevices: args.MemberDevices,
		totalDevices:  args.TotalDevices,
		metadata:      args.Metadata,
		chunkSize:     512.0 / 1024.0,
	}
	a.init(KindMDArray, name, args.StorageArgs)
	a.sysfs = "/devices/virtual/block/" + name

	if a.metadata == "" {
		a.metadata = DefaultMDMetadata
	}

	if a.totalDevices == 0 {
		a.totalDevices = len(members)
	}

	if a.memberDevices == 0 {
		a.memberDevices = a.totalDevices
	}

	if a.memberDevices > a.totalDevices {
		return nil, deviceError(name, "memberDevices cannot be greater than totalDevices")
	}

	a.bitmap = a.level != RAID0

	return a, t.register(a, members)
}

// Level returns the raid level.
func (a *MDArray) Level() RAIDLevel {
	return a.level
}

// Metadata returns the metadata version.
func (a *MDArray) Metadata() string {
	return a.metadata
}

// Bitmap reports whether a write-intent bitmap is created with the array.
func (a *MDArray) Bitmap() bool {
	return a.bitmap
}

// Members returns the member devices, spares included.
func (a *MDArray) Members() []Device {
	return a.Parents()
}

// TotalDevices returns the number of members including spares.
func (a *MDArray) TotalDevices() int {
	if a.exists {
		return len(a.parents)
	}

	return a.totalDevices
}

// MemberDevices returns the number of active members.
func (a *MDArray) MemberDevices() int {
	return a.memberDevices
}

// SetMemberDevices sets the number of active members.
func (a *MDArray) SetMemberDevices(n int) error {
	if n > a.TotalDevices() {
		return deviceError(a.name, "memberDevices cannot be greater than totalDevices")
	}

	a.memberDevices = n

	return nil
}

// Spares returns the number of spare members.
func (a *MDArray) Spares() int {
	if total := a.TotalDevices(); total > a.memberDevices {
		return total - a.memberDevices
	}

	return 0
}

// SetSpares recomputes the number of active members from the number of
// spares.
func (a *MDArray) SetSpares(spares int) {
	if total := a.TotalDevices(); total > spares {
		a.memberDevices = total - spares
	}
}

func (a *MDArray) smallestMember() Device {
	var smallest Device

	for _, m := range a.Parents() {
		if smallest == nil || m.Size() < smallest.Size() {
			smallest = m
		}
	}

	return smallest
}

func (a *MDArray) levelSize(member float64) float64 {
	n := float64(a.memberDevices)

	switch a.level {
	case RAID0:
		return n * member
	case RAID1:
		return member
	case RAID4, RAID5:
		return (n - 1) * member
	case RAID6:
		return (n - 2) * member
	case RAID10:
		return (n / 2.0) * member
	}

	log.Error().Str("device", a.name).Int("level", int(a.level)).Msg("unknown RAID level")

	return member
}

// RawArraySize returns the size of the array before metadata and chunk
// alignment are taken into account.
func (a *MDArray) RawArraySize() float64 {
	smallest := a.smallestMember()
	if smallest == nil {
		return 0
	}

	return a.levelSize(smallest.Size())
}

// SuperBlockSize returns the space md reserves on each member. Metadata
// 0.90 and 1.0 use 2 MiB. 1.1 and 1.2 keep 0.1% of the array for reshape,
// at most 128 MiB.
func (a *MDArray) SuperBlockSize() float64 {
	if a.metadata != "1.1" && a.metadata != "1.2" {
		return 2.0
	}

	raw := a.RawArraySize()
	headroom := 128

	for headroom > 0 && float64(headroom<<10) > raw {
		headroom >>= 1
	}

	return float64(headroom)
}

// Size returns the probed size of an existing array. For a new array it is
// computed from the smallest member, the level and the superblock size,
// truncated to the chunk size for striped levels.
func (a *MDArray) Size() float64 {
	smallest := a.smallestMember()
	if smallest == nil {
		return 0
	}

	if a.exists {
		if size, ok := a.probe(); ok {
			a.size = size
			return size
		}
	}

	size := a.levelSize(smallest.Size() - a.SuperBlockSize())

	if a.level != RAID1 {
		size -= math.Mod(size, a.chunkSize)
	}

	return size
}

// Description names the array by its level.
func (a *MDArray) Description() string {
	switch a.level {
	case RAID0:
		return "MDRAID set (stripe)"
	case RAID1:
		return "MDRAID set (mirror)"
	}

	return fmt.Sprintf("MDRAID set (raid%d)", int(a.level))
}

// Status reads the array state from sysfs.
func (a *MDArray) Status() bool {
	if !a.exists {
		return false
	}

	state, err := a.sys().ReadSysfs(a.sysfs, "md/array_state")
	if err != nil {
		return false
	}

	log.Debug().Str("device", a.name).Str("state", state).Msg("md array state")

	switch state {
	case "clean", "active", "active-idle", "readonly", "read-auto":
		return true
	}

	return false
}

// Degraded reports whether the array runs with missing members.
func (a *MDArray) Degraded() bool {
	val, err := a.sys().ReadSysfs(a.sysfs, "md/degraded")

	return err == nil && val == "1"
}

// UpdateSysfsPath sets the sysfs path of an active array and clears it
// otherwise.
func (a *MDArray) UpdateSysfsPath() error {
	if !a.exists {
		return deviceError(a.name, "device has not been created")
	}

	a.sysfs = "/devices/virtual/block/" + a.name

	if !a.self.Status() {
		a.sysfs = ""
	}

	return nil
}

// AddMember adds a member found while scanning the system and tries to add
// it to the running array. Failure to add it to the array is logged, not
// returned.
func (a *MDArray) AddMember(d Device) error {
	a.logCall("addmember").Str("member", d.Name()).Msg("md add member")

	if !a.exists {
		return deviceError(a.name, "device has not been created")
	}

	f, ok := d.Format().(MDMemberFormat)
	if !ok {
		return deviceError(a.name, "invalid device format for mdraid member %s", d.Name())
	}

	if a.uuid != "" && f.MDUUID() != a.uuid {
		return deviceError(a.name, "cannot add member %s with non-matching UUID", d.Name())
	}

	if a.hasParent(d) {
		return deviceError(a.name, "%s is already a member of this array", d.Name())
	}

	a.addParent(d)

	if err := d.Setup(false); err != nil {
		return err
	}

	if err := a.settle(); err != nil {
		return err
	}

	if a.Spares() > 0 {
		return nil
	}

	if err := a.env().RAID.MDAdd(d.Path()); err != nil {
		log.Warn().Err(err).Str("device", a.name).Str("member", d.Name()).Msg("failed to add member to md array")
	} else if err := a.settle(); err != nil {
		return err
	}

	if a.self.Status() {
		if size, ok := a.probe(); ok {
			a.size = size
		}
	}

	return nil
}

// RemoveMember removes d from the in-memory array.
func (a *MDArray) RemoveMember(d Device) error {
	if !a.removeParent(d) {
		return deviceError(a.name, "cannot remove non-member device from array")
	}

	return nil
}

// Setup sets up the members and assembles the array. An array that comes
// up degraded is left running and reported as a RAIDDegraded fault.
func (a *MDArray) Setup(orig bool) error {
	a.logCall("setup").Bool("orig", orig).Msg("md setup")

	if !a.exists {
		return deviceError(a.name, "device has not been created")
	}

	if a.self.Status() {
		return nil
	}

	paths := []string{}

	for _, m := range a.Parents() {
		if err := m.Setup(orig); err != nil {
			return err
		}

		paths = append(paths, m.Path())
	}

	updateSuperMinor := a.metadata == "0" || a.metadata == "0.90"

	if err := a.env().RAID.MDActivate(a.self.Path(), paths, a.minor, updateSuperMinor, a.uuid); err != nil {
		return err
	}

	if err := a.settle(); err != nil {
		return err
	}

	if size, ok := a.probe(); ok {
		a.size = size
	}

	if a.Degraded() {
		return &HardwareFaultError{Device: a.name, Kind: RAIDDegraded}
	}

	return nil
}

// Teardown tears down the formats and stops the array if its node exists.
func (a *MDArray) Teardown(recursive bool) error {
	a.logCall("teardown").Bool("recursive", recursive).Msg("md teardown")

	if !a.exists && !recursive {
		return deviceError(a.name, "device has not been created")
	}

	if a.self.Status() {
		if err := a.teardownFormats(); err != nil {
			return err
		}

		if err := a.settle(); err != nil {
			return err
		}
	}

	if a.exists && a.sys().PathExists(a.self.Path()) {
		if err := a.env().RAID.MDDeactivate(a.self.Path()); err != nil {
			return err
		}

		if err := a.settle(); err != nil {
			return err
		}
	}

	if recursive {
		return a.teardownParents(recursive)
	}

	return nil
}

// Create creates the array and records the uuid md assigned to it on the
// array and its members.
func (a *MDArray) Create() error {
	done := a.progress("create")
	err := a.create()
	done(err)

	return err
}

func (a *MDArray) create() error {
	a.logCall("create").Msg("md create")

	if a.exists {
		return deviceError(a.name, "device already exists")
	}

	if err := a.createParents(); err != nil {
		return err
	}

	if err := a.setupParents(false); err != nil {
		return err
	}

	members := a.Parents()
	paths := make([]string, 0, len(members))

	for _, m := range members {
		paths = append(paths, m.Path())
	}

	spares := len(members) - a.memberDevices

	if err := a.env().RAID.MDCreate(a.self.Path(), a.level, paths, spares, a.metadata, a.bitmap); err != nil {
		return err
	}

	a.exists = true

	if err := a.self.Setup(false); err != nil {
		return err
	}

	if err := a.settle(); err != nil {
		return err
	}

	if err := a.UpdateSysfsPath(); err != nil {
		return err
	}

	info, err := a.sys().UdevInfo(a.name)
	if err != nil {
		return err
	}

	a.uuid = info.Properties["MD_UUID"]

	for _, m := range members {
		if f, ok := m.Format().(MDMemberFormat); ok {
			f.SetMDUUID(a.uuid)
		}
	}

	return nil
}

// Destroy stops the array. The member formats carry the array and are
// destroyed by the caller.
func (a *MDArray) Destroy() error {
	a.logCall("destroy").Msg("md destroy")

	if err := a.checkDestroy(); err != nil {
		return err
	}

	if err := a.self.Teardown(false); err != nil {
		return err
	}

	a.exists = false

	return nil
}

// PreCommitFixup switches to metadata 1.0 when the array holds the boot
// filesystem, and drops the bitmap for swap and small arrays.
func (a *MDArray) PreCommitFixup(mountpoints []string) error {
	boot := "/"

	for _, mp := range mountpoints {
		if mp == "/boot" {
			boot = "/boot"
			break
		}
	}

	mp := formatMountpoint(a.format)
	if mp == boot || mp == "/boot/efi" || a.format.Type() == "prepboot" {
		a.metadata = "1.0"
	}

	if a.self.Size() < 1000 || a.format.Type() == "swap" {
		a.bitmap = false
	}

	return nil
}

// MdadmConfEntry returns the ARRAY line for mdadm.conf.
func (a *MDArray) MdadmConfEntry() (string, error) {
	if a.memberDevices == 0 || a.uuid == "" {
		return "", deviceError(a.name, "array is not fully defined")
	}

	return fmt.Sprintf("ARRAY %s level=raid%d num-devices=%d UUID=%s\n",
		a.self.Path(), int(a.level), a.memberDevices, a.uuid), nil
}

// FormatArgs returns the extra mkfs arguments for an ext2 filesystem on a
// striped array.
func (a *MDArray) FormatArgs() []string {
	if a.format.Type() != "ext2" {
		return nil
	}

	switch a.level {
	case RAID4, RAID5:
		return []string{"-R", fmt.Sprintf("stride=%d", (a.memberDevices-1)*16)}
	case RAID0:
		return []string{"-R", fmt.Sprintf("stride=%d", a.memberDevices*16)}
	}

	return nil
}

// DracutSetupArgs asks the initramfs to assemble the array.
func (a *MDArray) DracutSetupArgs() []string {
	if a.uuid == "" {
		return nil
	}

	return []string{"rd_MD_UUID=" + a.uuid}
}

// WriteKS writes a raid command.
func (a *MDArray) WriteKS(w io.Writer, preexisting, noformat bool) error {
	_, err := fmt.Fprintf(w, "#raid %s\n", a.ksLine(ksFormatArgs(a), preexisting, noformat))

	return err
}

func (a *MDArray) ksLine(fmtArgs string, preexisting, noformat bool) string {
	args := []string{fmtArgs, fmt.Sprintf("--level=%d", int(a.level)), "--device=" + a.name}

	if spares := a.Spares(); spares > 0 {
		args = append(args, fmt.Sprintf("--spares=%d", spares))
	}

	if preexisting {
		args = append(args, "--useexisting")
	}

	if noformat {
		args = append(args, "--noformat")
	}

	for _, m := range a.Parents() {
		args = append(args, KickstartName(m))
	}

	return strings.Join(args, " ")
}
