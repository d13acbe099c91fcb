package devtree_test

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"machinerun.io/devtree"
	"machinerun.io/devtree/format"
)

var lvTypes = map[string]devtree.LVType{
	"THICK":    devtree.THICK,
	"THIN":     devtree.THIN,
	"THINPOOL": devtree.THINPOOL,
}

func TestLVTypeJSON(t *testing.T) {
	for name, ltype := range lvTypes {
		ltype := ltype

		assert.Equal(t, name, ltype.String())

		b, err := json.Marshal(&ltype)
		assert.NoError(t, err)
		assert.Equal(t, `"`+name+`"`, string(b))

		// a bare number is accepted as well as the name.
		for _, blob := range []string{fmt.Sprintf("%d", ltype), `"` + name + `"`} {
			var found devtree.LVType

			assert.NoError(t, json.Unmarshal([]byte(blob), &found), blob)
			assert.Equal(t, ltype, found, blob)
		}
	}

	assert.Equal(t, "LVType(7)", devtree.LVType(7).String())

	var bad devtree.LVType
	assert.Error(t, json.Unmarshal([]byte(`"FAT"`), &bad))
}

func TestVolumeGroupSize(t *testing.T) {
	Convey("a volume group over a 1000 and a 500 MiB pv", t, func() {
		f := newFixture()
		vg := f.vg("vg0", f.pvDisk("sda", 1000), f.pvDisk("sdb", 500))

		Convey("has the aligned usable space of both", func() {
			So(vg.PESize(), ShouldEqual, devtree.DefaultPESize)
			So(vg.Size(), ShouldEqual, 996+496)
			So(vg.PVCount(), ShouldEqual, 2)
			So(vg.Complete(), ShouldBeTrue)
			So(vg.Extents(), ShouldEqual, 373)
			So(vg.FreeSpace(), ShouldEqual, 1492)
		})

		Convey("aligns to whole extents", func() {
			So(vg.Align(5, false), ShouldEqual, 4)
			So(vg.Align(5, true), ShouldEqual, 8)
			So(vg.Align(8, true), ShouldEqual, 8)
			So(vg.Align(0.5, true), ShouldEqual, 4)

			for _, size := range []float64{0, 1, 3.9, 4, 4.1, 50.5, 999, 1023.75} {
				for _, up := range []bool{false, true} {
					once := vg.Align(size, up)
					So(vg.Align(once, up), ShouldEqual, once)
				}
			}
		})

		Convey("accounts for volumes, snapshots and the reservation", func() {
			lv1, err := f.tree.NewLogicalVolume("root", vg, lvArgs(100))
			So(err, ShouldBeNil)

			lv2, err := f.tree.NewLogicalVolume("home", vg, lvArgs(50.5))
			So(err, ShouldBeNil)
			So(lv2.VGSpaceUsed(), ShouldEqual, 52)

			lv1.AddSnapshot("root-snap", 10)
			vg.AddVOriginSnapshot("vsnap", 6)
			vg.SetReserved(10, 0)

			So(vg.SnapshotSpace(), ShouldEqual, 12+8)
			So(vg.ReservedSpace(), ShouldEqual, 152)

			used := lv1.VGSpaceUsed() + lv2.VGSpaceUsed() + vg.SnapshotSpace() + vg.ReservedSpace()
			So(vg.FreeSpace(), ShouldEqual, vg.Size()-used)
			So(vg.FreeExtents(), ShouldEqual, int(vg.FreeSpace()/4))
			So(len(vg.LVs()), ShouldEqual, 2)
			So(vg.IsLeaf(), ShouldBeFalse)
		})

		Convey("refuses a volume that does not fit", func() {
			_, err := f.tree.NewLogicalVolume("big", vg, lvArgs(2000))
			So(devtree.IsInsufficientSpace(err), ShouldBeTrue)
			So(f.tree.ByName("vg0-big"), ShouldBeNil)
			So(vg.Kids(), ShouldEqual, 0)
			So(vg.LVs(), ShouldBeEmpty)
		})

		Convey("SetSize leaves the volume alone when it does not fit", func() {
			lv, err := f.tree.NewLogicalVolume("data", vg, lvArgs(1000))
			So(err, ShouldBeNil)

			err = lv.SetSize(1600)
			So(devtree.IsInsufficientSpace(err), ShouldBeTrue)
			So(lv.Size(), ShouldEqual, 1000)

			So(lv.SetSize(1401), ShouldBeNil)
			So(lv.Size(), ShouldEqual, 1400)
			So(vg.FreeSpace(), ShouldEqual, 92)
			So(lv.MaxSize(), ShouldEqual, 1492)
		})

		Convey("single pv volumes need a pv large enough", func() {
			args := lvArgs(990)
			args.SinglePV = true

			_, err := f.tree.NewLogicalVolume("one", vg, args)
			So(err, ShouldBeNil)

			args = lvArgs(1200)
			args.SinglePV = true

			_, err = f.tree.NewLogicalVolume("two", vg, args)
			So(err, ShouldHaveSameTypeAs, &devtree.SinglePhysicalVolumeError{})
		})

		Convey("rejects members that are not pvs", func() {
			_, err := f.tree.NewVolumeGroup("bad", []devtree.Device{f.disk("sdc", 100, "")}, devtree.VGArgs{})
			So(devtree.IsDeviceError(err), ShouldBeTrue)
		})

		Convey("doubles dashes in map names", func() {
			dashed := f.vg("my-vg", f.pvDisk("sdd", 100))
			lv, err := f.tree.NewLogicalVolume("my-lv", dashed, lvArgs(8))
			So(err, ShouldBeNil)
			So(lv.Path(), ShouldEqual, "/dev/mapper/my--vg-my--lv")
			So(lv.Name(), ShouldEqual, "my-vg-my-lv")
		})
	})
}

func TestVolumeGroupMembership(t *testing.T) {
	Convey("an existing volume group being discovered", t, func() {
		f := newFixture()

		pv := func(name, vgUUID string) devtree.Device {
			f.sys.AddNode("/dev/"+name, 100)
			d, err := f.tree.NewDisk(name, devtree.DiskArgs{StorageArgs: devtree.StorageArgs{
				Format: f.format("lvmpv", format.Args{Exists: true, VGName: "vg0", VGUUID: vgUUID}),
			}})
			So(err, ShouldBeNil)

			return d
		}

		a, b, c := pv("sda", "u1"), pv("sdb", "u1"), pv("sdc", "other")

		vg, err := f.tree.NewVolumeGroup("vg0", []devtree.Device{a}, devtree.VGArgs{
			StorageArgs: devtree.StorageArgs{Exists: true, UUID: "u1"},
			PVCount:     2,
		})
		So(err, ShouldBeNil)
		So(vg.Complete(), ShouldBeFalse)
		So(vg.Setup(false), ShouldBeError)

		So(vg.AddDevice(b), ShouldBeNil)
		So(vg.Complete(), ShouldBeTrue)
		So(vg.AddDevice(b), ShouldBeError)

		Convey("a pv of a namesake group marks a duplicate for good", func() {
			So(vg.AddDevice(c), ShouldBeNil)
			So(vg.HasDuplicate(), ShouldBeTrue)
			So(vg.Complete(), ShouldBeFalse)

			So(vg.RemoveDevice(c), ShouldBeNil)
			So(vg.HasDuplicate(), ShouldBeTrue)
		})

		Convey("pvs cannot be added to or removed from it directly", func() {
			So(vg.AddPV(c), ShouldBeError)
			So(vg.RemovePV(b), ShouldBeError)
		})
	})

	Convey("a new volume group counts its pvs", t, func() {
		f := newFixture()
		a, b := f.pvDisk("sda", 100), f.pvDisk("sdb", 100)
		vg := f.vg("vg0", a)

		So(vg.AddPV(b), ShouldBeNil)
		So(vg.PVCount(), ShouldEqual, 2)
		So(vg.AddPV(b), ShouldBeError)
		So(vg.RemovePV(a), ShouldBeNil)
		So(vg.PVCount(), ShouldEqual, 1)
		So(vg.IsModified(), ShouldBeTrue)
	})
}

func TestLogicalVolumeLifecycle(t *testing.T) {
	Convey("creating volumes through the tree", t, func() {
		f := newFixture()
		vg := f.vg("vg0", f.pvDisk("sda", 1000), f.pvDisk("sdb", 500))

		lv, err := f.tree.NewLogicalVolume("data", vg, devtree.LVArgs{StorageArgs: devtree.StorageArgs{
			Size:   200,
			Format: f.format("ext4", format.Args{Mountpoint: "/data"}),
		}})
		So(err, ShouldBeNil)

		So(f.tree.CreateAll(), ShouldBeNil)
		So(vg.Exists(), ShouldBeTrue)
		So(lv.Exists(), ShouldBeTrue)
		So(lv.Status(), ShouldBeTrue)
		So(f.sys.CallsTo("VGCreate"), ShouldResemble, []string{"VGCreate vg0 /dev/sda,/dev/sdb 4"})
		So(f.sys.CallsTo("LVCreate"), ShouldResemble, []string{"LVCreate vg0 data 200 "})
		So(lv.DracutSetupArgs(), ShouldResemble, []string{"rd_LVM_LV=vg0/data"})

		Convey("an active format cannot be replaced", func() {
			fs := lv.Format()
			So(fs.Create(), ShouldBeNil)
			So(fs.Setup(), ShouldBeNil)

			err := lv.SetFormat(f.format("xfs", format.Args{}))
			So(devtree.IsDeviceError(err), ShouldBeTrue)
			So(lv.Format(), ShouldEqual, fs)

			So(fs.Teardown(), ShouldBeNil)
			So(lv.SetFormat(f.format("xfs", format.Args{})), ShouldBeNil)
			So(lv.Format().Type(), ShouldEqual, "xfs")
			So(lv.Format().Device(), ShouldEqual, "/dev/mapper/vg0-data")
		})

		Convey("the group cannot be destroyed while it has volumes", func() {
			err := vg.Destroy()
			So(devtree.IsDeviceError(err), ShouldBeTrue)
			So(f.sys.CallsTo("VGRemove"), ShouldBeEmpty)
		})

		Convey("destroying everything restores the system", func() {
			So(f.tree.DestroyAll(vg), ShouldBeNil)

			So(f.sys.CallsTo("LVRemove"), ShouldResemble, []string{"LVRemove vg0 data"})
			So(f.sys.CallsTo("VGRemove"), ShouldResemble, []string{"VGRemove vg0"})
			So(f.sys.VGs, ShouldBeEmpty)

			maps, err := f.sys.Maps()
			So(err, ShouldBeNil)
			So(maps, ShouldBeEmpty)

			So(f.tree.ByName("vg0"), ShouldBeNil)
			So(len(f.tree.Devices()), ShouldEqual, 2)
		})

		Convey("teardown and setup toggle the map", func() {
			So(lv.Teardown(false), ShouldBeNil)
			So(lv.Status(), ShouldBeFalse)
			So(lv.Setup(false), ShouldBeNil)
			So(lv.Status(), ShouldBeTrue)
		})

		Convey("resize goes through lvm", func() {
			So(lv.SetTargetSize(300), ShouldBeNil)
			So(lv.TargetSize(), ShouldEqual, 300)
			So(lv.Resize(), ShouldBeError)

			fresh, err := f.tree.NewLogicalVolume("plain", vg, lvArgs(100))
			So(err, ShouldBeNil)
			So(f.tree.CreateDevice(fresh), ShouldBeNil)
			So(fresh.SetTargetSize(150), ShouldBeNil)
			So(fresh.Resize(), ShouldBeNil)
			So(f.sys.CallsTo("LVResize"), ShouldResemble, []string{"LVResize vg0 plain 148"})
			So(fresh.Size(), ShouldEqual, 148)
		})
	})

	Convey("a volume larger than lvm's free space is shrunk at creation", t, func() {
		f := newFixture()
		vg := f.vg("vg0", f.pvDisk("sda", 1000))
		_, err := f.tree.NewLogicalVolume("data", vg, lvArgs(900))
		So(err, ShouldBeNil)

		So(f.tree.CreateDevice(vg), ShouldBeNil)

		free := 100
		f.sys.VGs["vg0"].Free = &free

		lv := f.tree.ByName("vg0-data")
		So(f.tree.CreateDevice(lv), ShouldBeNil)
		So(f.sys.CallsTo("LVCreate"), ShouldResemble, []string{"LVCreate vg0 data 400 "})
	})
}

func TestThinProvisioning(t *testing.T) {
	Convey("a thin pool with a thin volume", t, func() {
		f := newFixture()
		vg := f.vg("vg0", f.pvDisk("sda", 1000), f.pvDisk("sdb", 500))

		pool, err := f.tree.NewThinPool("pool", vg, devtree.ThinPoolArgs{
			LVArgs:       lvArgs(512),
			MetaDataSize: 4,
			ChunkSize:    0.0625,
		})
		So(err, ShouldBeNil)

		thin, err := f.tree.NewThinLV("thin", pool, lvArgs(100))
		So(err, ShouldBeNil)

		Convey("is accounted in the group and the pool", func() {
			So(pool.LVType(), ShouldEqual, devtree.THINPOOL)
			So(thin.LVType(), ShouldEqual, devtree.THIN)
			So(thin.VG(), ShouldEqual, vg)
			So(thin.VGSpaceUsed(), ShouldEqual, 0)

			// 512 + 4 MiB metadata, padded by 20% rounded up to extents.
			So(pool.VGSpaceUsed(), ShouldEqual, 516+104)
			So(vg.FreeSpace(), ShouldEqual, 1492-620)
			So(len(vg.LVs()), ShouldEqual, 2)
			So(len(vg.ThinLVs()), ShouldEqual, 1)
			So(pool.UsedSpace(), ShouldEqual, 100)
		})

		Convey("does not take pool metadata out of the pool's free space", func() {
			So(pool.FreeSpace(), ShouldEqual, 412)
		})

		Convey("may be overcommitted", func() {
			_, err := f.tree.NewThinLV("huge", pool, lvArgs(4000))
			So(err, ShouldBeNil)
			So(pool.FreeSpace(), ShouldBeLessThan, 0)
		})

		Convey("rejects bad pool parameters", func() {
			_, err := f.tree.NewThinPool("p2", vg, devtree.ThinPoolArgs{LVArgs: lvArgs(8), MetaDataSize: 1})
			So(err, ShouldBeError)
			_, err = f.tree.NewThinPool("p3", vg, devtree.ThinPoolArgs{LVArgs: lvArgs(8), ChunkSize: 0.1})
			So(err, ShouldBeError)
		})

		Convey("writes thin kickstart arguments", func() {
			var sb strings.Builder
			So(pool.WriteKS(&sb, false, false), ShouldBeNil)
			So(sb.String(), ShouldContainSubstring, "--thinpool --metadatasize=4 --chunksize=64")

			sb.Reset()
			So(thin.WriteKS(&sb, false, false), ShouldBeNil)
			So(sb.String(), ShouldContainSubstring, "--thin --poolname=pool")
		})

		Convey("once created", func() {
			So(f.tree.CreateAll(), ShouldBeNil)
			So(f.sys.CallsTo("ThinPoolCreate"), ShouldResemble, []string{"ThinPoolCreate vg0 pool 512 4 0.0625"})
			So(f.sys.CallsTo("ThinLVCreate"), ShouldResemble, []string{"ThinLVCreate vg0 pool thin 100"})
			So(thin.Status(), ShouldBeTrue)

			Convey("the pool cannot be destroyed before its volumes", func() {
				f.sys.ResetCalls()

				err := pool.Destroy()
				So(devtree.IsDeviceError(err), ShouldBeTrue)
				So(f.sys.Calls(), ShouldBeEmpty)
				So(pool.Exists(), ShouldBeTrue)

				So(f.tree.DestroyAll(pool), ShouldBeNil)
				So(f.sys.CallsTo("LVRemove"), ShouldResemble, []string{"LVRemove vg0 thin", "LVRemove vg0 pool"})
				So(vg.LVs(), ShouldBeEmpty)
				So(vg.IsLeaf(), ShouldBeTrue)
			})
		})
	})
}

func TestCheckSize(t *testing.T) {
	Convey("sizes are checked against the format limits", t, func() {
		f := newFixture()
		vg := f.vg("vg0", f.pvDisk("sda", 1000))

		lv := func(name string, args devtree.LVArgs) *devtree.LogicalVolume {
			args.Format = f.format("xfs", format.Args{})
			v, err := f.tree.NewLogicalVolume(name, vg, args)
			So(err, ShouldBeNil)

			return v
		}

		Convey("a fixed size below the xfs minimum is too small", func() {
			So(lv("small", lvArgs(8)).CheckSize(), ShouldEqual, devtree.SizeTooSmall)
			So(lv("fine", lvArgs(100)).CheckSize(), ShouldEqual, devtree.SizeOK)
		})

		Convey("a growing volume is judged by its maximum", func() {
			args := lvArgs(8)
			args.Grow = true
			args.MaxSize = 100
			So(lv("grows", args).CheckSize(), ShouldEqual, devtree.SizeOK)

			args.MaxSize = 12
			So(lv("capped", args).CheckSize(), ShouldEqual, devtree.SizeTooSmall)
		})

		Convey("disks use their probed size", func() {
			So(f.disk("sdb", 8, "", "xfs").CheckSize(), ShouldEqual, devtree.SizeTooSmall)
			So(f.disk("sdc", 10, "", "biosboot").CheckSize(), ShouldEqual, devtree.SizeTooLarge)
			So(f.disk("sdd", 64, "", "xfs").CheckSize(), ShouldEqual, devtree.SizeOK)
		})
	})
}
