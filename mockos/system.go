// Package mockos is an in-memory host for devtree. It implements
// devtree.System, devtree.VolumeManager, devtree.RAIDManager,
// devtree.Mapper and format.Tools, keeps enough state for status checks to
// follow the operations, records every call and can be told to fail any of
// them.
package mockos

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"machinerun.io/devtree"
)

// Node is a block device node.
type Node struct {
	Path     string            `json:"path"`
	Size     float64           `json:"size"`
	ReadOnly bool              `json:"readOnly"`
	NoMedia  bool              `json:"noMedia"`
	Udev     map[string]string `json:"udev"`
}

// VG is a volume group known to the mock lvm.
type VG struct {
	PVs    []string           `json:"pvs"`
	PESize float64            `json:"peSize"`
	LVs    map[string]float64 `json:"lvs"`

	// Free overrides the computed free extent count.
	Free *int `json:"free,omitempty"`

	thin map[string]bool
}

// MockSystem is the in-memory host.
type MockSystem struct {
	Nodes  []*Node             `json:"nodes"`
	Sysfs  map[string]string   `json:"sysfs"`
	VGs    map[string]*VG      `json:"vgs"`
	DMMaps []devtree.DMMap     `json:"maps"`
	Arrays map[string][]string `json:"arrays"`

	files    map[string]float64
	dirs     map[string]bool
	mounts   map[string]string
	swaps    map[string]bool
	pvs      map[string]bool
	labels   map[string]*devtree.DiskLabel
	degraded map[string]bool
	failOn   map[string]error
	calls    []string
	settled  int
	minor    int
}

// System returns a mock system loaded from the json layout file. It panics
// if the layout cannot be read.
func System(layout string) *MockSystem {
	file, err := os.ReadFile(layout)
	if err != nil {
		panic(err)
	}

	sys := New()

	if err := json.Unmarshal(file, sys); err != nil {
		panic(err)
	}

	sys.init()

	return sys
}

// New returns an empty mock system.
func New() *MockSystem {
	sys := &MockSystem{}
	sys.init()

	return sys
}

func (ms *MockSystem) init() {
	if ms.Sysfs == nil {
		ms.Sysfs = map[string]string{}
	}

	if ms.VGs == nil {
		ms.VGs = map[string]*VG{}
	}

	if ms.Arrays == nil {
		ms.Arrays = map[string][]string{}
	}

	for _, vg := range ms.VGs {
		if vg.LVs == nil {
			vg.LVs = map[string]float64{}
		}
	}

	for _, n := range ms.Nodes {
		if n.Udev == nil {
			n.Udev = map[string]string{}
		}
	}

	for _, m := range ms.DMMaps {
		if m.Minor >= ms.minor {
			ms.minor = m.Minor + 1
		}
	}

	ms.files = map[string]float64{}
	ms.dirs = map[string]bool{}
	ms.mounts = map[string]string{}
	ms.swaps = map[string]bool{}
	ms.pvs = map[string]bool{}
	ms.labels = map[string]*devtree.DiskLabel{}
	ms.degraded = map[string]bool{}
	ms.failOn = map[string]error{}
}

// Env returns an Env with every collaborator served by ms.
func (ms *MockSystem) Env() devtree.Env {
	return devtree.Env{System: ms, LVM: ms, RAID: ms, Mapper: ms}
}

// FailOn makes every later call of op return err. A nil err clears it.
func (ms *MockSystem) FailOn(op string, err error) {
	if err == nil {
		delete(ms.failOn, op)
		return
	}

	ms.failOn[op] = err
}

// Calls returns the recorded calls as "Op arg arg...".
func (ms *MockSystem) Calls() []string {
	return append([]string{}, ms.calls...)
}

// CallsTo returns the recorded calls of op.
func (ms *MockSystem) CallsTo(op string) []string {
	out := []string{}

	for _, c := range ms.calls {
		if c == op || strings.HasPrefix(c, op+" ") {
			out = append(out, c)
		}
	}

	return out
}

// ResetCalls forgets the recorded calls.
func (ms *MockSystem) ResetCalls() {
	ms.calls = nil
}

// Settled returns how often Settle was called.
func (ms *MockSystem) Settled() int {
	return ms.settled
}

func (ms *MockSystem) call(op string, args ...interface{}) error {
	parts := []string{op}
	for _, a := range args {
		parts = append(parts, fmt.Sprint(a))
	}

	ms.calls = append(ms.calls, strings.Join(parts, " "))

	return ms.failOn[op]
}

// AddNode adds a block device node.
func (ms *MockSystem) AddNode(p string, size float64) *Node {
	if n := ms.node(p); n != nil {
		n.Size = size
		return n
	}

	n := &Node{Path: p, Size: size, Udev: map[string]string{}}
	ms.Nodes = append(ms.Nodes, n)

	return n
}

// RemoveNode removes the block device node at p.
func (ms *MockSystem) RemoveNode(p string) bool {
	for i, n := range ms.Nodes {
		if n.Path == p {
			ms.Nodes = append(ms.Nodes[:i], ms.Nodes[i+1:]...)
			return true
		}
	}

	return false
}

// Node returns the node at p, nil if there is none.
func (ms *MockSystem) Node(p string) *Node {
	return ms.node(p)
}

func (ms *MockSystem) node(p string) *Node {
	for _, n := range ms.Nodes {
		if n.Path == p {
			return n
		}
	}

	return nil
}

// SetSysfs sets attr under sysfsPath.
func (ms *MockSystem) SetSysfs(sysfsPath, attr, value string) {
	ms.Sysfs[path.Join(sysfsPath, attr)] = value
}

// Label returns the label last committed to the disk at p.
func (ms *MockSystem) Label(p string) *devtree.DiskLabel {
	return ms.labels[p]
}

// Settle counts the call.
func (ms *MockSystem) Settle() error {
	ms.settled++
	return ms.failOn["Settle"]
}

// Probe returns the node size.
func (ms *MockSystem) Probe(p string) (float64, error) {
	n := ms.node(p)
	if n == nil {
		return 0, fmt.Errorf("%s: no such device", p)
	}

	if n.NoMedia {
		return 0, nil
	}

	return n.Size, nil
}

// Writable reports whether the node exists and is not read only.
func (ms *MockSystem) Writable(p string) bool {
	n := ms.node(p)
	return n != nil && !n.ReadOnly
}

// PathExists reports whether p is a node, file or directory.
func (ms *MockSystem) PathExists(p string) bool {
	if ms.node(p) != nil || ms.dirs[p] {
		return true
	}

	_, ok := ms.files[p]

	return ok
}

// MediaPresent reports whether the node has media.
func (ms *MockSystem) MediaPresent(p string) bool {
	n := ms.node(p)
	return n != nil && !n.NoMedia
}

// ReadSysfs returns the value set for attr.
func (ms *MockSystem) ReadSysfs(sysfsPath, attr string) (string, error) {
	v, ok := ms.Sysfs[path.Join(sysfsPath, attr)]
	if !ok {
		return "", fmt.Errorf("%s/%s: no such file", sysfsPath, attr)
	}

	return strings.TrimSpace(v), nil
}

// UdevInfo returns the udev properties of /dev/<name>.
func (ms *MockSystem) UdevInfo(name string) (devtree.UdevInfo, error) {
	n := ms.node("/dev/" + name)
	if n == nil {
		n = ms.node("/dev/mapper/" + name)
	}

	if n == nil {
		return devtree.UdevInfo{}, fmt.Errorf("no udev entry for %s", name)
	}

	props := map[string]string{}
	for k, v := range n.Udev {
		props[k] = v
	}

	return devtree.UdevInfo{Name: name, Properties: props}, nil
}

// DiskByPath returns the by-path alias built from ID_PATH.
func (ms *MockSystem) DiskByPath(name string) (string, error) {
	info, err := ms.UdevInfo(name)
	if err != nil {
		return "", err
	}

	idPath, ok := info.Properties["ID_PATH"]
	if !ok {
		return "", fmt.Errorf("%s has no by-path link", name)
	}

	return "/dev/disk/by-path/" + idPath, nil
}

// CommitLabel stores a copy of label and makes the partition nodes match
// it.
func (ms *MockSystem) CommitLabel(label *devtree.DiskLabel) error {
	disk := label.Device()

	if err := ms.call("CommitLabel", disk, len(label.Partitions)); err != nil {
		return err
	}

	if ms.node(disk) == nil {
		return fmt.Errorf("%s: no such device", disk)
	}

	want := map[string]float64{}
	for _, p := range label.Partitions {
		want[devtree.PartitionName(disk, p.Number)] = label.PartitionSize(p)
	}

	for _, n := range append([]*Node{}, ms.Nodes...) {
		if _, ok := want[n.Path]; !ok && isPartitionOf(n.Path, disk) {
			ms.RemoveNode(n.Path)
		}
	}

	for p, size := range want {
		ms.AddNode(p, size)
	}

	ms.labels[disk] = label.Clone()

	return nil
}

func isPartitionOf(p, disk string) bool {
	rest := strings.TrimPrefix(p, disk)
	if rest == p || rest == "" {
		return false
	}

	rest = strings.TrimPrefix(rest, "p")

	return strings.Trim(rest, "0123456789") == "" && rest != ""
}

// Wipe records the call.
func (ms *MockSystem) Wipe(p string) error {
	return ms.call("Wipe", p)
}

// CreateFile adds a file and a node for it.
func (ms *MockSystem) CreateFile(p string, size float64) error {
	if err := ms.call("CreateFile", p, size); err != nil {
		return err
	}

	ms.files[p] = size
	ms.AddNode(p, size)

	return nil
}

// Mkdir adds a directory.
func (ms *MockSystem) Mkdir(p string) error {
	if err := ms.call("Mkdir", p); err != nil {
		return err
	}

	ms.dirs[p] = true

	return nil
}

// Remove removes a file or directory.
func (ms *MockSystem) Remove(p string) error {
	if err := ms.call("Remove", p); err != nil {
		return err
	}

	if _, ok := ms.files[p]; ok {
		delete(ms.files, p)
		ms.RemoveNode(p)

		return nil
	}

	if ms.dirs[p] {
		delete(ms.dirs, p)
		return nil
	}

	return fmt.Errorf("%s: no such file or directory", p)
}

// Eject marks the drive empty.
func (ms *MockSystem) Eject(p string) error {
	if err := ms.call("Eject", p); err != nil {
		return err
	}

	if n := ms.node(p); n != nil {
		n.NoMedia = true
	}

	return nil
}

// Maps returns the device-mapper table sorted by name.
func (ms *MockSystem) Maps() ([]devtree.DMMap, error) {
	if err := ms.failOn["Maps"]; err != nil {
		return nil, err
	}

	maps := append([]devtree.DMMap{}, ms.DMMaps...)
	sort.Slice(maps, func(i, j int) bool { return maps[i].Name < maps[j].Name })

	return maps, nil
}

// AddMap adds an active map and its /dev/mapper node.
func (ms *MockSystem) AddMap(name string, size float64) {
	ms.RemoveMap(name)

	ms.DMMaps = append(ms.DMMaps, devtree.DMMap{Name: name, Major: 253, Minor: ms.minor, LiveTable: true})
	ms.minor++

	ms.AddNode("/dev/mapper/"+name, size)
}

// RemoveMap removes the map and its node.
func (ms *MockSystem) RemoveMap(name string) bool {
	for i, m := range ms.DMMaps {
		if m.Name == name {
			ms.DMMaps = append(ms.DMMaps[:i], ms.DMMaps[i+1:]...)
			ms.RemoveNode("/dev/mapper/" + name)

			return true
		}
	}

	return false
}

// MultipathActivate adds the multipath map.
func (ms *MockSystem) MultipathActivate(name string) error {
	if err := ms.call("MultipathActivate", name); err != nil {
		return err
	}

	size := 0.0
	if n := ms.node("/dev/mapper/" + name); n != nil {
		size = n.Size
	}

	ms.AddMap(name, size)

	return nil
}

// KPartxAdd records the call.
func (ms *MockSystem) KPartxAdd(name string) error {
	return ms.call("KPartxAdd", name)
}

// DMRaidActivate adds the raid set map.
func (ms *MockSystem) DMRaidActivate(name string) error {
	if err := ms.call("DMRaidActivate", name); err != nil {
		return err
	}

	size := 0.0
	if n := ms.node("/dev/mapper/" + name); n != nil {
		size = n.Size
	}

	ms.AddMap(name, size)

	return nil
}

// DMRaidDeactivate removes the raid set map.
func (ms *MockSystem) DMRaidDeactivate(name string) error {
	if err := ms.call("DMRaidDeactivate", name); err != nil {
		return err
	}

	ms.RemoveMap(name)

	return nil
}
