package devtree_test

import (
	"machinerun.io/devtree"
	"machinerun.io/devtree/format"
	"machinerun.io/devtree/mockos"
)

const sectorsPerMiB = 2048

// fixture is a tree on top of a mock system.
type fixture struct {
	sys  *mockos.MockSystem
	tree *devtree.Tree
}

func newFixture(opts ...devtree.Option) *fixture {
	sys := mockos.New()

	return &fixture{sys: sys, tree: devtree.NewTree(sys.Env(), opts...)}
}

// disk adds a disk node of size MiB and the matching tree device. A label
// type other than "" gives the disk an empty label.
func (f *fixture) disk(name string, size float64, labelType string, fmtArgs ...string) *devtree.Disk {
	f.sys.AddNode("/dev/"+name, size)

	var content devtree.Format

	switch {
	case labelType != "":
		l, err := devtree.NewDiskLabel(f.sys, devtree.DiskLabelArgs{
			Type:       labelType,
			SectorSize: 512,
			Sectors:    int64(size) * sectorsPerMiB,
			Exists:     true,
		})
		if err != nil {
			panic(err)
		}

		content = l
	case len(fmtArgs) > 0:
		content = f.format(fmtArgs[0], format.Args{Exists: true})
	}

	d, err := f.tree.NewDisk(name, devtree.DiskArgs{StorageArgs: devtree.StorageArgs{Format: content}})
	if err != nil {
		panic(err)
	}

	return d
}

func (f *fixture) format(fstype string, args format.Args) devtree.Format {
	fm, err := format.New(f.sys, fstype, args)
	if err != nil {
		panic(err)
	}

	return fm
}

// pvDisk adds a disk carrying an existing lvm pv signature.
func (f *fixture) pvDisk(name string, size float64) *devtree.Disk {
	return f.disk(name, size, "", "lvmpv")
}

func (f *fixture) vg(name string, pvs ...devtree.Device) *devtree.VolumeGroup {
	vg, err := f.tree.NewVolumeGroup(name, pvs, devtree.VGArgs{})
	if err != nil {
		panic(err)
	}

	return vg
}

func lvArgs(size float64) devtree.LVArgs {
	return devtree.LVArgs{StorageArgs: devtree.StorageArgs{Size: size}}
}

// labeledDisk adds a disk with an existing label holding parts, together
// with the partition nodes.
func (f *fixture) labeledDisk(name string, size float64, labelType string,
	parts ...*devtree.LabelPartition) *devtree.Disk {
	path := "/dev/" + name
	f.sys.AddNode(path, size)

	label, err := devtree.NewDiskLabel(f.sys, devtree.DiskLabelArgs{
		Type:       labelType,
		SectorSize: 512,
		Sectors:    int64(size) * sectorsPerMiB,
		Exists:     true,
		Partitions: parts,
	})
	if err != nil {
		panic(err)
	}

	for _, p := range parts {
		f.sys.AddNode(devtree.PartitionName(path, p.Number), label.PartitionSize(p))
	}

	d, err := f.tree.NewDisk(name, devtree.DiskArgs{StorageArgs: devtree.StorageArgs{Format: label}})
	if err != nil {
		panic(err)
	}

	return d
}

func part(n uint, start, mib int64) *devtree.LabelPartition {
	return &devtree.LabelPartition{
		Number:   n,
		Geometry: devtree.Geometry{Start: start, End: start + mib*sectorsPerMiB - 1},
	}
}
