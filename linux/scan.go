//go:build linux

package linux

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"machinerun.io/devtree"
)

// getDiskType returns the media type of the disk described by udInfo.
func getDiskType(udInfo devtree.UdevInfo) (devtree.DiskType, error) {
	var kname = udInfo.Name

	if strings.HasPrefix(kname, "nvme") {
		return devtree.NVME, nil
	}

	syspath, err := getSysPathForBlockDevicePath(kname)
	if err != nil {
		return devtree.HDD, nil
	}

	content, err := os.ReadFile(path.Join(syspath, "queue/rotational"))
	if err != nil {
		return devtree.HDD,
			fmt.Errorf("failed to read %s/queue/rotational for %s", syspath, kname)
	}

	if string(content) == "0\n" {
		return devtree.SSD, nil
	}

	return devtree.HDD, nil
}

// DiskNames returns the kernel names of the real disks on the host.
func DiskNames() ([]string, error) {
	realDiskKnameRegex := regexp.MustCompile("^((s|v|xv|h)d[a-z]+|nvme[0-9]+n[0-9]+|dasd[a-z]+)$")
	disks := []string{}

	files, err := os.ReadDir("/sys/block")
	if err != nil {
		return []string{}, err
	}

	for _, file := range files {
		if realDiskKnameRegex.MatchString(file.Name()) {
			disks = append(disks, file.Name())
		}
	}

	return disks, nil
}

func getSysPathForBlockDevicePath(dev string) (string, error) {
	// Return the path in /sys/class/block/<device> for a given
	// block device kname or path.
	var syspath string
	var sysdir = "/sys/class/block"

	if strings.Contains(dev, "/") {
		// after symlink resolution, devpath = '/dev/sda' or '/dev/sdb1'
		// no longer something like /dev/disk/by-id/foo
		devpath, err := filepath.EvalSymlinks(dev)
		if err != nil {
			return "", err
		}

		syspath = path.Join(sysdir, path.Base(devpath))
	} else {
		// assume this is 'sda', something that would be in /sys/class/block
		syspath = path.Join(sysdir, dev)
	}

	if _, err := os.Stat(syspath); err != nil {
		return "", err
	}

	return syspath, nil
}

// AddDisk adds the disk at devicePath to tree together with the partitions
// of its label. A disk image file is added under its base name.
func (s *System) AddDisk(tree *devtree.Tree, devicePath string) (*devtree.Disk, error) {
	var args devtree.DiskArgs

	name := path.Base(devicePath)

	if syspath, err := getSysPathForBlockDevicePath(devicePath); err == nil {
		name = path.Base(syspath)

		info, err := s.UdevInfo(name)
		if err != nil {
			return nil, err
		}

		if args.Type, err = getDiskType(info); err != nil {
			return nil, err
		}

		args.Attachment = devtree.AttachmentFromUdev(info)
		args.SysfsPath = info.SysPath
		args.Serial = info.Properties["ID_SERIAL_SHORT"]
		args.Vendor = info.Properties["ID_VENDOR"]
		args.Model = info.Properties["ID_MODEL"]
		args.Bus = info.Properties["ID_BUS"]
	} else {
		args.DevDir = path.Dir(devicePath)
	}

	label, err := s.ReadLabel(devicePath)

	switch {
	case err == nil:
		args.Format = label
	case errors.Is(err, ErrNoPartitionTable):
		log.Debug().Str("device", devicePath).Msg("no partition table")
	default:
		return nil, err
	}

	disk, err := tree.NewDisk(name, args)
	if err != nil {
		return nil, err
	}

	if label == nil {
		return disk, nil
	}

	for _, p := range label.Partitions {
		if _, err := tree.NewPartition("", disk, devtree.PartitionArgs{
			StorageArgs: devtree.StorageArgs{Exists: true},
			Number:      p.Number,
		}); err != nil {
			return disk, err
		}
	}

	return disk, nil
}
