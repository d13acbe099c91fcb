//go:build linux

package linux

import (
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"machinerun.io/devtree"
)

func TestParseDMInfo(t *testing.T) {
	assert := assert.New(t)

	out := []byte(`luks-0f8e:CRYPT-LUKS2-0f8e-luks-0f8e:253:0:L--w
mpatha:mpath-3600508b4000156d700012000000b0000:253:1:L-sw

`)

	maps, err := parseDMInfo(out)
	assert.Nil(err)
	assert.Equal(
		[]devtree.DMMap{
			{Name: "luks-0f8e", UUID: "CRYPT-LUKS2-0f8e-luks-0f8e", Major: 253, Minor: 0,
				LiveTable: true},
			{Name: "mpatha", UUID: "mpath-3600508b4000156d700012000000b0000", Major: 253, Minor: 1,
				LiveTable: true, Suspended: true},
		},
		maps)

	maps, err = parseDMInfo([]byte("No devices found\n"))
	assert.Nil(err)
	assert.Len(maps, 0)

	_, err = parseDMInfo([]byte("bad:line\n"))
	assert.NotNil(err)

	_, err = parseDMInfo([]byte("a:b:x:0:L--w\n"))
	assert.NotNil(err)
}

func TestReadByPath(t *testing.T) {
	assert := assert.New(t)
	tmpd := t.TempDir()

	devd := path.Join(tmpd, "dev")
	byPath := path.Join(tmpd, "by-path")

	for _, d := range []string{devd, byPath} {
		if err := os.Mkdir(d, 0755); err != nil {
			t.Fatalf("mkdir %s: %s", d, err)
		}
	}

	for _, n := range []string{"sda", "sdb"} {
		if err := os.WriteFile(path.Join(devd, n), []byte{}, 0600); err != nil {
			t.Fatalf("write %s: %s", n, err)
		}
	}

	links := map[string]string{
		"pci-0000:05:00.0-scsi-0:0:8:0": "../dev/sda",
		"pci-0000:05:00.0-scsi-0:0:9:0": "../dev/sdb",
		"pci-0000:05:00.0-scsi-0:0:a:0": "../dev/gone",
	}

	for l, target := range links {
		if err := os.Symlink(target, path.Join(byPath, l)); err != nil {
			t.Fatalf("symlink %s: %s", l, err)
		}
	}

	found, err := readByPath(byPath)
	assert.Nil(err)
	assert.Equal(
		map[string]string{
			"sda": path.Join(byPath, "pci-0000:05:00.0-scsi-0:0:8:0"),
			"sdb": path.Join(byPath, "pci-0000:05:00.0-scsi-0:0:9:0"),
		},
		found)

	_, err = readByPath(path.Join(tmpd, "missing"))
	assert.NotNil(err)
}

func TestMkfsArgs(t *testing.T) {
	assert := assert.New(t)

	for _, c := range []struct {
		fstype, label, uuid string
		expected            []string
	}{
		{"ext4", "root", "u1", []string{"mkfs.ext4", "-F", "-q", "-L", "root", "-U", "u1", "/dev/sda1"}},
		{"ext2", "", "", []string{"mkfs.ext2", "-F", "-q", "/dev/sda1"}},
		{"xfs", "data", "u2", []string{"mkfs.xfs", "-f", "-q", "-L", "data", "-m", "uuid=u2", "/dev/sda1"}},
		{"efi", "EFI", "ABCD-1234", []string{"mkfs.vfat", "-n", "EFI", "-i", "ABCD1234", "/dev/sda1"}},
		{"btrfs", "", "u3", []string{"mkfs.btrfs", "-f", "-U", "u3", "/dev/sda1"}},
	} {
		args, err := mkfsArgs(c.fstype, "/dev/sda1", c.label, c.uuid)
		assert.Nil(err, c.fstype)
		assert.Equal(c.expected, args, c.fstype)
	}

	_, err := mkfsArgs("ntfs", "/dev/sda1", "", "")
	assert.NotNil(err)
}

func TestMDArgs(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(
		[]string{"mdadm", "--create", "/dev/md0", "--run", "--level=raid1",
			"--raid-devices=2", "--spare-devices=1", "--metadata=1.2", "--bitmap=internal",
			"/dev/sda1", "/dev/sdb1", "/dev/sdc1"},
		mdCreateArgs("/dev/md0", devtree.RAID1, []string{"/dev/sda1", "/dev/sdb1", "/dev/sdc1"},
			1, "1.2", true))

	assert.Equal(
		[]string{"mdadm", "--create", "/dev/md1", "--run", "--level=raid0",
			"--raid-devices=2", "/dev/sda2", "/dev/sdb2"},
		mdCreateArgs("/dev/md1", devtree.RAID0, []string{"/dev/sda2", "/dev/sdb2"}, 0, "", false))

	assert.Equal(
		[]string{"mdadm", "--assemble", "/dev/md0", "--run", "--uuid=u1", "/dev/sda1", "/dev/sdb1"},
		mdAssembleArgs("/dev/md0", []string{"/dev/sda1", "/dev/sdb1"}, 0, false, "u1"))

	assert.Equal(
		[]string{"mdadm", "--assemble", "/dev/md3", "--run", "--super-minor=3",
			"--update=super-minor", "/dev/sda1"},
		mdAssembleArgs("/dev/md3", []string{"/dev/sda1"}, 3, true, ""))
}

func TestGetDiskTypeNVME(t *testing.T) {
	dtype, err := getDiskType(devtree.UdevInfo{Name: "nvme0n1"})
	assert.Nil(t, err)
	assert.Equal(t, devtree.NVME, dtype)
}

func TestSystemFiles(t *testing.T) {
	assert := assert.New(t)
	sys := New()
	tmpd := t.TempDir()

	fpath := path.Join(tmpd, "sub", "image")
	assert.Nil(sys.Mkdir(path.Dir(fpath)))
	assert.Nil(sys.CreateFile(fpath, 2))
	assert.NotNil(sys.CreateFile(fpath, 2), "existing file")

	assert.True(sys.PathExists(fpath))
	assert.True(sys.Writable(fpath))

	size, err := sys.Probe(fpath)
	assert.Nil(err)
	assert.Equal(float64(2), size)

	assert.Nil(sys.Remove(fpath))
	assert.False(sys.PathExists(fpath))
	assert.False(sys.Writable(fpath))
}
