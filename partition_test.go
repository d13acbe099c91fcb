package devtree_test

import (
	"errors"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"machinerun.io/devtree"
	"machinerun.io/devtree/format"
)

func existingPart(f *fixture, disk devtree.Partitionable, n uint) *devtree.Partition {
	p, err := f.tree.NewPartition("", disk, devtree.PartitionArgs{
		StorageArgs: devtree.StorageArgs{Exists: true},
		Number:      n,
	})
	if err != nil {
		panic(err)
	}

	return p
}

func TestPartitionResize(t *testing.T) {
	Convey("resizing existing gpt partitions", t, func() {
		f := newFixture()
		disk := f.labeledDisk("sda", 1024, devtree.LabelGPT, part(1, 2048, 100), part(2, 206848, 100))
		p1 := existingPart(f, disk, 1)
		p2 := existingPart(f, disk, 2)

		So(p1.Name(), ShouldEqual, "sda1")
		So(p1.Path(), ShouldEqual, "/dev/sda1")
		So(p1.Size(), ShouldEqual, 100)
		So(p1.CurrentSize(), ShouldEqual, 100)
		So(p1.Resizable(), ShouldBeTrue)

		Convey("a partition can only grow up to its neighbour", func() {
			So(p1.MaxSize(), ShouldEqual, 100)
			// up to the last aligned end before the gpt backup header.
			So(p2.MaxSize(), ShouldEqual, 922)
		})

		Convey("shrinking commits the label and updates the node", func() {
			So(p1.SetTargetSize(50), ShouldBeNil)
			So(p1.Size(), ShouldEqual, 50)
			So(p1.CurrentSize(), ShouldEqual, 100)
			So(p1.Geometry().End, ShouldEqual, 2048+50*sectorsPerMiB-1)

			So(p1.Resize(), ShouldBeNil)
			So(p1.CurrentSize(), ShouldEqual, 50)
			So(f.sys.Node("/dev/sda1").Size, ShouldEqual, 50)
			So(f.sys.Node("/dev/sda2").Size, ShouldEqual, 100)
			So(f.sys.CallsTo("CommitLabel"), ShouldResemble, []string{"CommitLabel /dev/sda 2"})

			orig, err := disk.OriginalLabel()
			So(err, ShouldBeNil)
			So(orig.PartitionByNumber(1).End, ShouldEqual, p1.Geometry().End)

			Convey("and the freed space can be taken back", func() {
				So(p1.MaxSize(), ShouldEqual, 100)
				So(p1.SetTargetSize(100), ShouldBeNil)
				So(p1.Resize(), ShouldBeNil)
				So(f.sys.Node("/dev/sda1").Size, ShouldEqual, 100)
			})
		})

		Convey("growing into the neighbour fails and leaves the geometry alone", func() {
			before := p1.Geometry()

			So(p1.SetTargetSize(150), ShouldBeError)
			So(p1.Geometry(), ShouldResemble, before)
			So(p1.TargetSize(), ShouldEqual, 100)
			So(f.sys.Calls(), ShouldBeEmpty)
		})

		Convey("a failed commit is reported as a CommitError", func() {
			f.sys.FailOn("CommitLabel", errors.New("device busy"))

			before := p2.Geometry()

			So(p2.SetTargetSize(300), ShouldBeNil)
			err := p2.Resize()
			So(devtree.IsCommitError(err), ShouldBeTrue)
			So(p2.CurrentSize(), ShouldEqual, 100)
			So(p2.Geometry(), ShouldResemble, before)
			So(f.sys.Node("/dev/sda2").Size, ShouldEqual, 100)
		})

		Convey("targets off the alignment grain stay inside the space they may use", func() {
			before := p1.Geometry()

			So(p1.SetTargetSize(50.3), ShouldBeNil)
			So(p1.Geometry().End, ShouldEqual, 2047+51*sectorsPerMiB)
			So(p1.Geometry().End, ShouldBeLessThanOrEqualTo, before.End)
			So(p1.Size(), ShouldEqual, 51)

			So(p2.SetTargetSize(300.3), ShouldBeNil)
			So(p2.Geometry().End, ShouldEqual, 2047+400*sectorsPerMiB)
			So(p2.Size(), ShouldEqual, 300)
		})

		Convey("going back to the current size puts the on-disk geometry back", func() {
			before := p1.Geometry()

			So(p1.SetTargetSize(50), ShouldBeNil)
			So(p1.SetTargetSize(100), ShouldBeNil)
			So(p1.Geometry(), ShouldResemble, before)
			So(p1.Size(), ShouldEqual, 100)

			So(p1.Resize(), ShouldBeNil)
			So(p1.TargetSize(), ShouldEqual, 100)
			So(f.sys.CallsTo("CommitLabel"), ShouldBeEmpty)
		})

		Convey("SetSize moves the end sector", func() {
			So(p2.SetSize(300), ShouldBeNil)
			So(p2.Size(), ShouldEqual, 300)

			err := p2.SetSize(2000)
			So(devtree.IsInsufficientSpace(err), ShouldBeTrue)
			So(p2.Size(), ShouldEqual, 300)
		})

		Convey("a resize below the format minimum is refused before the label changes", func() {
			So(p2.SetFormat(f.format("ext4", format.Args{Exists: true})), ShouldBeNil)
			before := p2.Geometry()

			So(p2.SetTargetSize(0.5), ShouldBeError)
			So(p2.Geometry(), ShouldResemble, before)
			So(p2.Size(), ShouldEqual, 100)
			So(p2.TargetSize(), ShouldEqual, 100)
			So(f.sys.CallsTo("CommitLabel"), ShouldBeEmpty)

			Convey("and a later commit writes the old geometry", func() {
				extra, err := f.tree.NewPartition("", disk, devtree.PartitionArgs{
					StorageArgs: devtree.StorageArgs{Size: 50},
				})
				So(err, ShouldBeNil)
				So(f.tree.CreateDevice(extra), ShouldBeNil)
				So(f.sys.Node("/dev/sda2").Size, ShouldEqual, 100)

				orig, err := disk.OriginalLabel()
				So(err, ShouldBeNil)
				So(orig.PartitionByNumber(2).Geometry, ShouldResemble, before)
			})
		})

		Convey("a resize refused when it is applied puts the geometry back", func() {
			before := p2.Geometry()

			So(p2.SetTargetSize(50), ShouldBeNil)
			So(p2.Size(), ShouldEqual, 50)

			// xfs cannot be resized.
			So(p2.SetFormat(f.format("xfs", format.Args{Exists: true})), ShouldBeNil)
			So(p2.Resize(), ShouldBeError)
			So(p2.Geometry(), ShouldResemble, before)
			So(p2.Size(), ShouldEqual, 100)
			So(p2.TargetSize(), ShouldEqual, 100)
			So(f.sys.CallsTo("CommitLabel"), ShouldBeEmpty)
		})
	})
}

func TestPartitionCreateDestroy(t *testing.T) {
	Convey("creating a new partition", t, func() {
		f := newFixture()
		disk := f.labeledDisk("sda", 1024, devtree.LabelGPT, part(1, 2048, 100), part(2, 206848, 100))
		existingPart(f, disk, 1)
		existingPart(f, disk, 2)

		p, err := f.tree.NewPartition("", disk, devtree.PartitionArgs{
			StorageArgs: devtree.StorageArgs{
				Size:   200,
				Format: f.format("ext4", format.Args{Mountpoint: "/boot"}),
			},
		})
		So(err, ShouldBeNil)
		So(p.Exists(), ShouldBeFalse)
		So(p.Number(), ShouldEqual, 0)
		So(p.Geometry().Start, ShouldEqual, 411648)
		So(p.Size(), ShouldEqual, 200)
		So(strings.HasPrefix(p.Name(), "sda-req"), ShouldBeTrue)

		Convey("its kickstart line asks for the size on the disk", func() {
			var sb strings.Builder
			So(p.WriteKS(&sb, false, false), ShouldBeNil)
			So(sb.String(), ShouldEqual, "#part /boot --fstype=ext4 --size=200 --ondisk=sda\n")
		})

		Convey("Create adds it to the label and wipes it", func() {
			So(f.tree.CreateDevice(p), ShouldBeNil)
			So(p.Exists(), ShouldBeTrue)
			So(p.Number(), ShouldEqual, 3)
			So(p.Name(), ShouldEqual, "sda3")
			So(p.Format().Device(), ShouldEqual, "/dev/sda3")
			So(p.CurrentSize(), ShouldEqual, 200)
			So(f.sys.Node("/dev/sda3").Size, ShouldEqual, 200)
			So(f.sys.Calls(), ShouldResemble, []string{"CommitLabel /dev/sda 3", "Wipe /dev/sda3"})

			label, _ := disk.Label()
			So(label.PartitionByNumber(3).ID.IsZero(), ShouldBeFalse)

			Convey("and destroying it restores the label", func() {
				f.sys.ResetCalls()

				So(f.tree.DestroyDevice(p), ShouldBeNil)
				So(f.sys.Node("/dev/sda3"), ShouldBeNil)
				So(f.sys.Calls(), ShouldResemble, []string{"CommitLabel /dev/sda 2"})
				So(f.tree.ByName("sda3"), ShouldBeNil)

				label, _ := disk.Label()
				So(len(label.Partitions), ShouldEqual, 2)
				So(disk.Kids(), ShouldEqual, 2)
			})
		})

		Convey("a failed commit leaves the label alone", func() {
			f.sys.FailOn("CommitLabel", errors.New("device busy"))

			err := f.tree.CreateDevice(p)
			So(devtree.IsCommitError(err), ShouldBeTrue)
			So(p.Exists(), ShouldBeFalse)
			So(p.Number(), ShouldEqual, 0)
			So(p.Geometry().Start, ShouldEqual, 411648)

			label, _ := disk.Label()
			So(len(label.Partitions), ShouldEqual, 2)
			So(f.sys.Node("/dev/sda3"), ShouldBeNil)

			Convey("and a retry takes the next free number", func() {
				f.sys.FailOn("CommitLabel", nil)

				So(f.tree.CreateDevice(p), ShouldBeNil)
				So(p.Number(), ShouldEqual, 3)

				label, _ = disk.Label()
				So(label.PartitionByNumber(3).ID.IsZero(), ShouldBeFalse)
			})
		})

		Convey("new partitions cannot be sized directly", func() {
			So(p.SetSize(100), ShouldBeError)
		})

		Convey("destroying a partition that holds something is refused", func() {
			So(f.tree.CreateDevice(p), ShouldBeNil)
			So(p.SetFormat(f.format("lvmpv", format.Args{})), ShouldBeNil)
			f.vg("vg0", p)
			f.sys.ResetCalls()

			err := f.tree.DestroyDevice(p)
			So(devtree.IsDeviceError(err), ShouldBeTrue)
			So(p.Exists(), ShouldBeTrue)
			So(f.sys.Calls(), ShouldBeEmpty)
		})
	})

	Convey("partitions need a label entry or a size", t, func() {
		f := newFixture()
		disk := f.labeledDisk("sda", 1024, devtree.LabelGPT, part(1, 2048, 100))

		_, err := f.tree.NewPartition("", disk, devtree.PartitionArgs{
			StorageArgs: devtree.StorageArgs{Exists: true},
			Number:      9,
		})
		So(err, ShouldBeError)

		_, err = f.tree.NewPartition("", disk, devtree.PartitionArgs{})
		So(err, ShouldBeError)

		_, err = f.tree.NewPartition("", disk, devtree.PartitionArgs{
			StorageArgs: devtree.StorageArgs{Size: 5000},
		})
		So(err, ShouldBeError)

		plain := f.disk("sdb", 100, "")
		_, err = f.tree.NewPartition("", plain, devtree.PartitionArgs{StorageArgs: devtree.StorageArgs{Size: 10}})
		So(devtree.IsDeviceError(err), ShouldBeTrue)
	})
}

func TestLogicalPartitions(t *testing.T) {
	Convey("msdos labels with an extended partition", t, func() {
		f := newFixture()

		ext := part(1, 2048, 512)
		ext.Role = devtree.PartitionExtended
		logical := part(5, 4096, 100)
		logical.Role = devtree.PartitionLogical

		disk := f.labeledDisk("sda", 1024, devtree.LabelMSDOS, ext, logical)
		extPart := existingPart(f, disk, 1)
		p5 := existingPart(f, disk, 5)

		So(extPart.IsExtended(), ShouldBeTrue)
		So(p5.IsLogical(), ShouldBeTrue)
		So(p5.DependsOn(extPart), ShouldBeTrue)
		So(extPart.DependsOn(p5), ShouldBeFalse)

		Convey("a new logical partition goes after the existing one", func() {
			p, err := f.tree.NewPartition("", disk, devtree.PartitionArgs{
				StorageArgs: devtree.StorageArgs{Size: 100},
				Role:        devtree.PartitionLogical,
			})
			So(err, ShouldBeNil)
			So(p.Geometry().Start, ShouldEqual, 210944)

			So(f.tree.CreateDevice(p), ShouldBeNil)
			So(p.Number(), ShouldEqual, 6)
			So(p.Name(), ShouldEqual, "sda6")
			So(f.tree.Dependents(extPart), ShouldContain, devtree.Device(p))
		})

		Convey("logical partitions cannot be primary", func() {
			_, err := f.tree.NewPartition("", disk, devtree.PartitionArgs{
				StorageArgs: devtree.StorageArgs{Size: 100},
				Role:        devtree.PartitionLogical,
				Primary:     true,
			})
			So(err, ShouldBeError)
		})

		Convey("the extended partition cannot go while it holds logical ones", func() {
			So(f.tree.DestroyDevice(extPart), ShouldBeError)
			So(f.sys.CallsTo("CommitLabel"), ShouldBeEmpty)
		})

		Convey("the extended partition writes no kickstart line", func() {
			var sb strings.Builder
			So(extPart.WriteKS(&sb, true, false), ShouldBeNil)
			So(p5.WriteKS(&sb, true, true), ShouldBeNil)
			So(sb.String(), ShouldEqual, "#part None --onpart=sda5 --noformat\n")
		})
	})
}
