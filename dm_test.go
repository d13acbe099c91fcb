package devtree_test

import (
	"errors"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"machinerun.io/devtree"
	"machinerun.io/devtree/format"
)

func TestDM(t *testing.T) {
	Convey("generic dm devices follow the map table", t, func() {
		f := newFixture()
		sda := f.disk("sda", 1000, "")

		dm, err := f.tree.NewDM("live-rw", []devtree.Device{sda}, devtree.DMArgs{
			StorageArgs: devtree.StorageArgs{Exists: true},
			Target:      "linear",
		})
		So(err, ShouldBeNil)
		So(dm.Path(), ShouldEqual, "/dev/mapper/live-rw")
		So(dm.FstabSpec(), ShouldEqual, "/dev/mapper/live-rw")
		So(dm.Target(), ShouldEqual, "linear")
		So(dm.Status(), ShouldBeFalse)

		_, err = dm.DMNode()
		So(err, ShouldBeError)

		f.sys.AddMap("live-rw", 500)
		So(dm.Status(), ShouldBeTrue)
		So(dm.Size(), ShouldEqual, 500)

		node, err := dm.DMNode()
		So(err, ShouldBeNil)
		So(node, ShouldEqual, "dm-0")

		So(dm.UpdateSysfsPath(), ShouldBeNil)
		So(dm.SysfsPath(), ShouldEqual, "/devices/virtual/block/dm-0")

		So(dm.SetName("other"), ShouldBeError)

		f.sys.RemoveMap("live-rw")
		So(dm.UpdateSysfsPath(), ShouldBeNil)
		So(dm.SysfsPath(), ShouldEqual, "")
		So(dm.SetName("other"), ShouldBeNil)
		So(dm.Path(), ShouldEqual, "/dev/mapper/other")

		Convey("an unreadable map table reads as inactive", func() {
			f.sys.AddMap("other", 500)
			f.sys.FailOn("Maps", errors.New("dmsetup failed"))
			So(dm.Status(), ShouldBeFalse)
		})
	})
}

func TestLUKSDevice(t *testing.T) {
	Convey("a luks mapping over a disk", t, func() {
		f := newFixture()
		sda := f.disk("sda", 1000, "")
		luksFmt := format.NewLUKS(f.sys, format.Args{Passphrase: "secret"})
		So(sda.SetFormat(luksFmt), ShouldBeNil)

		l, err := f.tree.NewLUKS("luks-new", sda, devtree.StorageArgs{})
		So(err, ShouldBeNil)
		So(l.Slave(), ShouldEqual, sda)
		So(l.Size(), ShouldEqual, 1000-devtree.LUKSHeaderSize)
		So(l.Setup(false), ShouldBeError)

		So(luksFmt.Create(), ShouldBeNil)
		So(f.tree.CreateDevice(l), ShouldBeNil)

		mapName := "luks-" + luksFmt.UUID()
		So(l.Name(), ShouldEqual, mapName)
		So(l.Path(), ShouldEqual, "/dev/mapper/"+mapName)
		So(l.Status(), ShouldBeTrue)
		So(l.Size(), ShouldEqual, 998)
		So(f.sys.Calls(), ShouldResemble, []string{
			"LUKSFormat /dev/sda",
			"LUKSOpen /dev/sda " + mapName,
		})

		So(l.DracutSetupArgs(), ShouldResemble, []string{"rd_LUKS_UUID=" + mapName})
		So(l.Packages(), ShouldResemble, []string{"cryptsetup-luks"})

		Convey("Teardown closes the mapping", func() {
			So(l.Teardown(false), ShouldBeNil)
			So(l.Status(), ShouldBeFalse)
			So(luksFmt.Status(), ShouldBeFalse)

			So(l.Setup(false), ShouldBeNil)
			So(l.Status(), ShouldBeTrue)
		})

		Convey("Destroy closes the mapping and keeps the header", func() {
			So(f.tree.DestroyDevice(l), ShouldBeNil)
			So(f.sys.CallsTo("LUKSClose"), ShouldResemble, []string{"LUKSClose " + mapName})
			So(luksFmt.Exists(), ShouldBeTrue)
			So(sda.IsLeaf(), ShouldBeTrue)
		})
	})

	Convey("a luks mapping writes the kickstart line of its slave", t, func() {
		f := newFixture()
		disk := f.labeledDisk("sda", 1024, devtree.LabelGPT, part(1, 2048, 100))
		p1 := existingPart(f, disk, 1)
		So(p1.SetFormat(f.format("luks", format.Args{Exists: true, UUID: "u1", Passphrase: "x"})), ShouldBeNil)

		l, err := f.tree.NewLUKS("luks-u1", p1, devtree.StorageArgs{
			Exists: true,
			Format: f.format("xfs", format.Args{Exists: true, Mountpoint: "/home"}),
		})
		So(err, ShouldBeNil)

		var sb strings.Builder
		So(l.WriteKS(&sb, true, true), ShouldBeNil)
		So(sb.String(), ShouldEqual, "#part /home --fstype=xfs --encrypted --onpart=sda1 --noformat\n")
	})
}

func TestMultipath(t *testing.T) {
	Convey("multipath devices", t, func() {
		f := newFixture()
		sda := f.disk("sda", 1000, "")
		sdb := f.disk("sdb", 1000, "")
		info := devtree.UdevInfo{Name: "sda", Properties: map[string]string{"ID_SERIAL_SHORT": "3600a0b8"}}

		m, err := f.tree.NewMultipath("mpatha", info, []devtree.Device{sda}, devtree.StorageArgs{})
		So(err, ShouldBeNil)
		So(m.Exists(), ShouldBeTrue)
		So(m.Identity(), ShouldEqual, "3600a0b8")
		So(m.WWID(), ShouldEqual, "36:00:a0:b8")
		So(m.Description(), ShouldEqual, "WWID 36:00:a0:b8")
		So(m.Kind().IsDisk(), ShouldBeTrue)
		So(m.Config()["alias"], ShouldEqual, "mpatha")
		So(m.Services(), ShouldResemble, []string{"multipathd"})

		_, err = f.tree.NewMultipath("mpathb", devtree.UdevInfo{Name: "sdc"}, nil, devtree.StorageArgs{})
		So(err, ShouldBeError)

		Convey("Setup activates the map and its partitions", func() {
			So(m.Setup(false), ShouldBeNil)
			So(m.Status(), ShouldBeTrue)
			So(f.sys.Calls(), ShouldResemble, []string{"MultipathActivate mpatha", "KPartxAdd mpatha"})

			Convey("and new paths are picked up while active", func() {
				So(m.AddParent(sdb), ShouldBeNil)
				So(m.Paths(), ShouldResemble, []string{"sda", "sdb"})
				So(m.Status(), ShouldBeTrue)
				So(m.AddParent(sdb), ShouldBeError)
			})

			Convey("and Teardown leaves the map to multipathd", func() {
				So(m.Teardown(false), ShouldBeNil)
				So(m.Status(), ShouldBeTrue)
			})
		})

		Convey("a failed activation is a hardware fault", func() {
			noPaths := errors.New("no paths")
			f.sys.FailOn("MultipathActivate", noPaths)

			err := f.tree.SetupAll(false)
			So(devtree.IsHardwareFault(err, devtree.MultipathFault), ShouldBeTrue)
			So(errors.Is(err, noPaths), ShouldBeTrue)
		})

		Convey("paths can be added while inactive", func() {
			So(m.AddParent(sdb), ShouldBeNil)
			So(len(m.Parents()), ShouldEqual, 2)
			So(f.sys.Calls(), ShouldBeEmpty)
		})
	})
}

func TestDMRaid(t *testing.T) {
	Convey("firmware raid sets", t, func() {
		f := newFixture()
		members := []devtree.Device{
			f.disk("sda", 1000, "", "dmraidmember"),
			f.disk("sdb", 1000, "", "dmraidmember"),
		}

		_, err := f.tree.NewDMRaidArray("isw_bad", []devtree.Device{f.disk("sdc", 1000, "")}, devtree.StorageArgs{})
		So(devtree.IsDeviceError(err), ShouldBeTrue)

		a, err := f.tree.NewDMRaidArray("isw_abc", members, devtree.StorageArgs{Exists: true})
		So(err, ShouldBeNil)
		So(a.Members(), ShouldHaveLength, 2)
		So(a.DracutSetupArgs(), ShouldResemble, []string{"rd_DM_UUID=isw_abc"})
		So(a.Packages(), ShouldResemble, []string{"dmraid"})

		So(a.Setup(false), ShouldBeNil)
		So(a.Status(), ShouldBeTrue)
		So(f.sys.Calls(), ShouldResemble, []string{"DMRaidActivate isw_abc"})

		So(a.Teardown(false), ShouldBeNil)
		So(a.Status(), ShouldBeTrue)

		So(a.Deactivate(), ShouldBeNil)
		So(a.Status(), ShouldBeFalse)

		So(a.AddMember(members[0]), ShouldBeError)
		So(a.AddMember(f.disk("sdd", 1000, "")), ShouldBeError)
		So(a.AddMember(f.disk("sde", 1000, "", "dmraidmember")), ShouldBeNil)
		So(a.Members(), ShouldHaveLength, 3)
	})
}
