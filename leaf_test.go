package devtree_test

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"machinerun.io/devtree"
	"machinerun.io/devtree/format"
)

func TestNoDevice(t *testing.T) {
	Convey("nodev filesystems", t, func() {
		f := newFixture()

		d, err := f.tree.NewNoDevice(f.format("tmpfs", format.Args{Mountpoint: "/tmp"}))
		So(err, ShouldBeNil)
		So(d.Name(), ShouldEqual, "tmpfs")
		So(d.Path(), ShouldEqual, "tmpfs")
		So(d.Setup(false), ShouldBeNil)
		So(d.Create(), ShouldBeNil)
		So(d.Teardown(true), ShouldBeNil)
		So(d.Destroy(), ShouldBeNil)

		none, err := f.tree.NewNoDevice(nil)
		So(err, ShouldBeNil)
		So(none.Name(), ShouldEqual, "none")
		So(f.sys.Calls(), ShouldBeEmpty)
	})
}

func TestFileDevice(t *testing.T) {
	Convey("a swap file on the root filesystem", t, func() {
		f := newFixture()
		root := f.format("ext4", format.Args{Exists: true, Mountpoint: "/"})
		sda := f.disk("sda", 1000, "")
		So(sda.SetFormat(root), ShouldBeNil)

		file, err := f.tree.NewFileDevice("/swapfile", []devtree.Device{sda}, devtree.StorageArgs{
			Size:   512,
			Format: f.format("swap", format.Args{Exists: true}),
		})
		So(err, ShouldBeNil)
		So(file.Path(), ShouldEqual, "/swapfile")
		So(file.FstabSpec(), ShouldEqual, "/swapfile")

		root.(*format.Filesystem).SetChroot("/mnt/sysimage")
		So(root.Setup(), ShouldBeNil)
		So(file.Path(), ShouldEqual, "/mnt/sysimage/swapfile")

		So(f.tree.CreateDevice(file), ShouldBeNil)
		So(file.Exists(), ShouldBeTrue)
		So(f.sys.PathExists("/mnt/sysimage/swapfile"), ShouldBeTrue)
		So(f.sys.CallsTo("CreateFile"), ShouldResemble, []string{"CreateFile /mnt/sysimage/swapfile 512"})
		So(file.FstabSpec(), ShouldEqual, "/swapfile")

		Convey("the swap format follows the file", func() {
			So(file.Format().Device(), ShouldEqual, "/swapfile")
			So(file.Teardown(false), ShouldBeNil)
			So(file.Format().Device(), ShouldEqual, "/mnt/sysimage/swapfile")

			So(file.Format().Setup(), ShouldBeNil)
			So(f.sys.SwapActive("/mnt/sysimage/swapfile"), ShouldBeTrue)
		})

		Convey("Destroy removes the file", func() {
			So(f.tree.DestroyDevice(file), ShouldBeNil)
			So(f.sys.PathExists("/mnt/sysimage/swapfile"), ShouldBeFalse)
			So(sda.IsLeaf(), ShouldBeTrue)
		})

		Convey("a failed write is a device error", func() {
			g := newFixture()
			other, err := g.tree.NewFileDevice("/img", nil, devtree.StorageArgs{Size: 10})
			So(err, ShouldBeNil)

			g.sys.FailOn("CreateFile", errors.New("no space left on device"))
			So(devtree.IsDeviceError(other.Create()), ShouldBeTrue)
			So(other.Exists(), ShouldBeFalse)
		})
	})
}

func TestDirectory(t *testing.T) {
	Convey("bind mount directories", t, func() {
		f := newFixture()

		d, err := f.tree.NewDirectory("/srv/data", nil, devtree.StorageArgs{})
		So(err, ShouldBeNil)
		So(d.Type(), ShouldEqual, "directory")
		So(d.Path(), ShouldEqual, "/srv/data")

		So(f.tree.CreateDevice(d), ShouldBeNil)
		So(f.sys.PathExists("/srv/data"), ShouldBeTrue)
		So(d.Create(), ShouldBeError)

		So(f.tree.DestroyDevice(d), ShouldBeNil)
		So(f.sys.PathExists("/srv/data"), ShouldBeFalse)
	})
}

func TestOptical(t *testing.T) {
	Convey("optical drives", t, func() {
		f := newFixture()
		f.sys.AddNode("/dev/sr0", 4000)

		cd, err := f.tree.NewOptical("sr0", devtree.StorageArgs{})
		So(err, ShouldBeNil)
		So(cd.Exists(), ShouldBeTrue)
		So(cd.MediaPresent(), ShouldBeTrue)
		So(cd.Size(), ShouldEqual, 4000)

		So(cd.Eject(), ShouldBeNil)
		So(cd.MediaPresent(), ShouldBeFalse)
		So(cd.Size(), ShouldEqual, 0)

		Convey("a failed eject is not an error", func() {
			f.sys.FailOn("Eject", errors.New("tray locked"))
			So(cd.Eject(), ShouldBeNil)
		})
	})
}
