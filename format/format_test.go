package format_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"machinerun.io/devtree"
	"machinerun.io/devtree/format"
	"machinerun.io/devtree/mockos"
)

func newSys() *mockos.MockSystem {
	sys := mockos.New()
	sys.AddNode("/dev/sda1", 1024)
	sys.AddNode("/dev/sda2", 2048)

	return sys
}

func TestNewUnknownType(t *testing.T) {
	_, err := format.New(newSys(), "zfs", format.Args{})
	assert.Error(t, err)
}

func TestTypes(t *testing.T) {
	types := format.Types()

	for _, want := range []string{"ext4", "xfs", "swap", "lvmpv", "luks", "mdmember", "dmraidmember", "prepboot"} {
		assert.Contains(t, types, want)
	}
}

func TestFilesystemLifecycle(t *testing.T) {
	sys := newSys()

	f, err := format.New(sys, "ext4", format.Args{Device: "/dev/sda1", Mountpoint: "/home", Label: "home"})
	require.NoError(t, err)

	fs, ok := f.(devtree.Mounted)
	require.True(t, ok)

	assert.False(t, fs.Exists())
	assert.Error(t, fs.Setup(), "mounting a filesystem that was never made")

	require.NoError(t, fs.Create())
	assert.True(t, fs.Exists())
	assert.NotEmpty(t, fs.UUID())
	assert.Error(t, fs.Create())

	fs.(*format.Filesystem).SetChroot("/mnt/sysimage")
	require.NoError(t, fs.Setup())
	assert.True(t, fs.Status())
	assert.Equal(t, "/mnt/sysimage/home", fs.MountedAt())
	assert.Equal(t, "/dev/sda1", sys.Mounted("/mnt/sysimage/home"))

	assert.Error(t, fs.Destroy(), "destroying a mounted filesystem")

	require.NoError(t, fs.Teardown())
	assert.False(t, fs.Status())
	assert.Equal(t, "", fs.MountedAt())

	require.NoError(t, fs.Destroy())
	assert.False(t, fs.Exists())

	assert.Equal(t, []string{
		"Mkfs ext4 /dev/sda1",
		"Mount /dev/sda1 /mnt/sysimage/home ext4",
		"Unmount /mnt/sysimage/home",
		"WipeSignatures /dev/sda1",
	}, sys.Calls())
}

func TestFilesystemLimits(t *testing.T) {
	fs := format.NewFilesystem(newSys(), "ext4", format.Args{})
	assert.False(t, fs.Resizable(), "new filesystems are not resizable")

	fs = format.NewFilesystem(newSys(), "ext4", format.Args{Exists: true})
	assert.True(t, fs.Resizable())
	assert.Equal(t, 1.0, fs.MinSize())

	xfs := format.NewFilesystem(newSys(), "xfs", format.Args{Exists: true})
	assert.False(t, xfs.Resizable())

	prep := format.NewFilesystem(newSys(), "prepboot", format.Args{})
	assert.Equal(t, 10.0, prep.MaxSize())
}

func TestFilesystemKickstartArgs(t *testing.T) {
	fs := format.NewFilesystem(newSys(), "xfs", format.Args{Mountpoint: "/", Label: "root", Options: "noatime"})
	assert.Equal(t, `/ --fstype=xfs --label=root --fsoptions="noatime"`, fs.KickstartArgs())

	fs = format.NewFilesystem(newSys(), "ext4", format.Args{})
	assert.Equal(t, "", fs.KickstartArgs())

	fs = format.NewFilesystem(newSys(), "biosboot", format.Args{})
	assert.Equal(t, "biosboot", fs.KickstartArgs())
}

func TestFilesystemSnapshot(t *testing.T) {
	sys := newSys()
	fs := format.NewFilesystem(sys, "ext4", format.Args{Device: "/dev/sda1", Mountpoint: "/srv", Exists: true})

	snap := fs.Snapshot()

	require.NoError(t, fs.Setup())
	assert.True(t, fs.Status())
	assert.False(t, snap.Status())

	snap.SetDevice("/dev/sda2")
	assert.Equal(t, "/dev/sda1", fs.Device())
}

func TestSwap(t *testing.T) {
	sys := newSys()
	sw := format.NewSwap(sys, format.Args{Device: "/dev/sda2", Priority: -1})

	assert.Error(t, sw.Setup())
	require.NoError(t, sw.Create())
	require.NoError(t, sw.Setup())
	assert.True(t, sw.Status())
	assert.True(t, sys.SwapActive("/dev/sda2"))
	assert.Error(t, sw.Destroy())

	require.NoError(t, sw.Teardown())
	assert.False(t, sys.SwapActive("/dev/sda2"))
	require.NoError(t, sw.Destroy())
}

func TestPhysicalVolume(t *testing.T) {
	sys := newSys()

	f, err := format.New(sys, "lvmpv", format.Args{Device: "/dev/sda1"})
	require.NoError(t, err)

	pv, ok := f.(devtree.PhysicalVolumeFormat)
	require.True(t, ok)
	assert.Equal(t, format.DefaultPEStart, pv.PEStart())

	require.NoError(t, pv.Create())
	assert.True(t, sys.HasPV("/dev/sda1"))

	pv.(*format.PhysicalVolume).SetVG("vg0", "abc")
	assert.Equal(t, "vg0", pv.VGName())
	assert.Equal(t, "abc", pv.VGUUID())

	require.NoError(t, pv.Destroy())
	assert.False(t, sys.HasPV("/dev/sda1"))
	assert.False(t, pv.Exists())
}

func TestLUKS(t *testing.T) {
	sys := newSys()
	l := format.NewLUKS(sys, format.Args{Device: "/dev/sda2"})

	assert.Error(t, l.Create(), "formatting without a passphrase")

	l.SetPassphrase("secret")
	require.NoError(t, l.Create())
	assert.Equal(t, "luks-"+l.UUID(), l.MapName())

	require.NoError(t, l.Setup())
	assert.True(t, l.Status())

	maps, err := sys.Maps()
	require.NoError(t, err)
	require.Len(t, maps, 1)
	assert.Equal(t, l.MapName(), maps[0].Name)
	assert.Error(t, l.Destroy())

	require.NoError(t, l.Teardown())
	assert.False(t, l.Status())

	named := format.NewLUKS(sys, format.Args{MapName: "cryptroot", UUID: "1234"})
	assert.Equal(t, "cryptroot", named.MapName())
}

func TestLUKSOpenFailure(t *testing.T) {
	sys := newSys()
	sys.FailOn("LUKSOpen", errors.New("no key available"))

	l := format.NewLUKS(sys, format.Args{Device: "/dev/sda2", Passphrase: "x", Exists: true, UUID: "u"})
	assert.Error(t, l.Setup())
	assert.False(t, l.Status())
}

func TestMembers(t *testing.T) {
	sys := newSys()

	md := format.NewMDMember(sys, format.Args{Device: "/dev/sda1"})
	require.NoError(t, md.Create())
	md.SetMDUUID("u1")
	assert.Equal(t, "u1", md.MDUUID())
	assert.Empty(t, sys.Calls(), "md members are written by the array")

	dm := format.NewDMRaidMember(sys, format.Args{Device: "/dev/sda2", RaidSet: "isw_abc", Exists: true})
	assert.Equal(t, "isw_abc", dm.RaidSet())
	assert.Error(t, dm.Create())
	assert.Error(t, dm.Destroy())

	var _ devtree.MDMemberFormat = md
	var _ devtree.DMRaidMemberFormat = dm
}
