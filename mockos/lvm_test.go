package mockos_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"machinerun.io/devtree"
	"machinerun.io/devtree/mockos"
)

func TestVG(t *testing.T) {
	Convey("testing lvm VGs", t, func() {
		sys := mockos.System("testdata/model_sys.json")

		Convey("VGInfo reports the free extents", func() {
			info, err := sys.VGInfo("vg0")
			So(err, ShouldBeNil)
			So(info["pe_size"], ShouldEqual, "4")
			// (5119 - 1) / 4 = 1279 extents, 512 used by root.
			So(info["pe_free"], ShouldEqual, "767")

			_, err = sys.VGInfo("nope")
			So(err, ShouldBeError)
		})

		Convey("VGCreate should need existing pvs", func() {
			So(sys.VGCreate("vg1", []string{"/dev/sdz"}, 4), ShouldBeError)
			So(sys.VGCreate("vg1", []string{"/dev/sda"}, 4), ShouldBeNil)
			So(sys.VGCreate("vg1", []string{"/dev/sda"}, 4), ShouldBeError)

			Convey("and VGRemove should refuse a group with lvs", func() {
				So(sys.LVCreate("vg1", "data", 1024, nil), ShouldBeNil)
				So(sys.VGRemove("vg1"), ShouldBeError)
				So(sys.LVRemove("vg1", "data"), ShouldBeNil)
				So(sys.VGRemove("vg1"), ShouldBeNil)
				So(sys.VGRemove("vg1"), ShouldBeError)
			})
		})

		Convey("VGReduce drops pvs", func() {
			So(sys.VGReduce("vg0", []string{"/dev/sdb1"}, false), ShouldBeNil)
			So(sys.VGs["vg0"].PVs, ShouldBeEmpty)
		})
	})
}

func TestLV(t *testing.T) {
	Convey("testing lvm LVs", t, func() {
		sys := mockos.System("testdata/model_sys.json")

		maps := func() []string {
			names := []string{}
			m, _ := sys.Maps()

			for _, dm := range m {
				names = append(names, dm.Name)
			}

			return names
		}

		Convey("LVCreate should activate the new lv", func() {
			So(sys.LVCreate("vg0", "my-home", 1024, nil), ShouldBeNil)
			So(maps(), ShouldContain, "vg0-my--home")
			So(sys.Node("/dev/mapper/vg0-my--home").Size, ShouldEqual, 1024)

			So(sys.LVCreate("vg0", "my-home", 1024, nil), ShouldBeError)
			So(sys.LVCreate("vgx", "home", 1024, nil), ShouldBeError)
		})

		Convey("LVDeactivate and LVActivate toggle the map", func() {
			So(sys.LVDeactivate("vg0", "root"), ShouldBeNil)
			So(maps(), ShouldNotContain, "vg0-root")
			So(sys.LVActivate("vg0", "root"), ShouldBeNil)
			So(maps(), ShouldContain, "vg0-root")

			So(sys.VGDeactivate("vg0"), ShouldBeNil)
			So(maps(), ShouldBeEmpty)
		})

		Convey("LVResize updates the node", func() {
			So(sys.LVResize("vg0", "root", 3072), ShouldBeNil)
			So(sys.Node("/dev/mapper/vg0-root").Size, ShouldEqual, 3072)
			So(sys.LVResize("vg0", "nope", 3072), ShouldBeError)
		})

		Convey("thin lvs take no extents", func() {
			before, _ := sys.VGInfo("vg0")

			So(sys.ThinLVCreate("vg0", "pool", "thin", 100), ShouldBeError)
			So(sys.ThinPoolCreate("vg0", "pool", 1024, 4, 0), ShouldBeNil)
			So(sys.ThinLVCreate("vg0", "pool", "thin", 4096), ShouldBeNil)

			after, _ := sys.VGInfo("vg0")
			So(before["pe_free"], ShouldEqual, "767")
			So(after["pe_free"], ShouldEqual, "511")
			So(sys.Node("/dev/mapper/vg0-thin").Size, ShouldEqual, 4096)
		})
	})
}

func TestRAID(t *testing.T) {
	Convey("testing md arrays", t, func() {
		sys := mockos.System("testdata/model_sys.json")
		sys.AddNode("/dev/sdc1", 1000)
		sys.AddNode("/dev/sdd1", 900)

		So(sys.MDCreate("/dev/md0", devtree.RAID1, []string{"/dev/sdc1", "/dev/sdx1"}, 0, "1.2", true),
			ShouldBeError)
		So(sys.MDCreate("/dev/md0", devtree.RAID1, []string{"/dev/sdc1", "/dev/sdd1"}, 0, "1.2", true),
			ShouldBeNil)

		So(sys.Node("/dev/md0").Size, ShouldEqual, 900)

		info, err := sys.UdevInfo("md0")
		So(err, ShouldBeNil)
		So(info.Properties["MD_UUID"], ShouldNotBeEmpty)

		state, _ := sys.ReadSysfs("/devices/virtual/block/md0", "md/array_state")
		So(state, ShouldEqual, "clean")

		So(sys.MDDeactivate("/dev/md0"), ShouldBeNil)
		So(sys.MDDeactivate("/dev/md0"), ShouldBeError)
		So(sys.PathExists("/dev/md0"), ShouldBeFalse)

		sys.SetDegraded("/dev/md0", true)
		So(sys.MDActivate("/dev/md0", []string{"/dev/sdc1"}, 0, false, "abc"), ShouldBeNil)

		deg, _ := sys.ReadSysfs("/devices/virtual/block/md0", "md/degraded")
		So(deg, ShouldEqual, "1")
	})
}
