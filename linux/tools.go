//go:build linux

package linux

import (
	"fmt"
	"os"
	"strings"

	"machinerun.io/devtree/format"
)

var _ format.Tools = (*Tools)(nil)

// Tools implements format.Tools with the host's commands.
type Tools struct {
	sys *System
}

// mkfsArgs returns the command that creates an fstype filesystem with the
// given label and uuid on device.
func mkfsArgs(fstype, device, label, uuid string) ([]string, error) {
	switch fstype {
	case "ext2", "ext3", "ext4":
		args := []string{"mkfs." + fstype, "-F", "-q"}
		if label != "" {
			args = append(args, "-L", label)
		}

		if uuid != "" {
			args = append(args, "-U", uuid)
		}

		return append(args, device), nil
	case "xfs":
		args := []string{"mkfs.xfs", "-f", "-q"}
		if label != "" {
			args = append(args, "-L", label)
		}

		if uuid != "" {
			args = append(args, "-m", "uuid="+uuid)
		}

		return append(args, device), nil
	case "vfat", "efi":
		args := []string{"mkfs.vfat"}
		if label != "" {
			args = append(args, "-n", label)
		}

		if uuid != "" {
			args = append(args, "-i", strings.ReplaceAll(uuid, "-", ""))
		}

		return append(args, device), nil
	case "btrfs":
		args := []string{"mkfs.btrfs", "-f"}
		if label != "" {
			args = append(args, "-L", label)
		}

		if uuid != "" {
			args = append(args, "-U", uuid)
		}

		return append(args, device), nil
	}

	return nil, fmt.Errorf("no mkfs command for %s filesystems", fstype)
}

// Mkfs creates a filesystem on device.
func (t *Tools) Mkfs(fstype, device, label, uuid string) error {
	args, err := mkfsArgs(fstype, device, label, uuid)
	if err != nil {
		return err
	}

	defer t.sys.invalidate()

	return runCommandSettled(args...)
}

// Mount mounts device on mountpoint, creating mountpoint if needed.
func (t *Tools) Mount(device, mountpoint, fstype, options string) error {
	if err := os.MkdirAll(mountpoint, 0755); err != nil {
		return err
	}

	args := []string{"mount", "-t", fstype}
	if options != "" {
		args = append(args, "-o", options)
	}

	return runCommand(append(args, device, mountpoint)...)
}

// Unmount unmounts mountpoint.
func (t *Tools) Unmount(mountpoint string) error {
	return runCommand("umount", mountpoint)
}

// MkSwap writes a swap signature on device.
func (t *Tools) MkSwap(device, label, uuid string) error {
	args := []string{"mkswap", "-f"}
	if label != "" {
		args = append(args, "-L", label)
	}

	if uuid != "" {
		args = append(args, "-U", uuid)
	}

	defer t.sys.invalidate()

	return runCommandSettled(append(args, device)...)
}

// SwapOn enables swapping on device. A negative priority leaves the
// choice to the kernel.
func (t *Tools) SwapOn(device string, priority int) error {
	args := []string{"swapon"}
	if priority >= 0 {
		args = append(args, fmt.Sprintf("--priority=%d", priority))
	}

	return runCommand(append(args, device)...)
}

// SwapOff disables swapping on device.
func (t *Tools) SwapOff(device string) error {
	return runCommand("swapoff", device)
}

// PVCreate writes an lvm physical volume header on device.
func (t *Tools) PVCreate(device string) error {
	return t.sys.lvmCommand("pvcreate", "--force", "--force", "--yes", device)
}

// PVRemove erases the physical volume header on device.
func (t *Tools) PVRemove(device string) error {
	return t.sys.lvmCommand("pvremove", "--force", "--force", "--yes", device)
}

// LUKSFormat writes a luks header on device. The passphrase is passed on
// stdin.
func (t *Tools) LUKSFormat(device, passphrase, uuid string) error {
	args := []string{"cryptsetup", "--batch-mode", "--key-file=-"}
	if uuid != "" {
		args = append(args, "--uuid="+uuid)
	}

	defer t.sys.invalidate()

	if err := runCommandStdin(passphrase, append(args, "luksFormat", device)...); err != nil {
		return err
	}

	return udevSettle()
}

// LUKSOpen opens the luks container on device as mapName.
func (t *Tools) LUKSOpen(device, mapName, passphrase string) error {
	if err := runCommandStdin(passphrase, "cryptsetup", "--key-file=-", "open", device, mapName); err != nil {
		return err
	}

	return udevSettle()
}

// LUKSClose closes the mapping mapName.
func (t *Tools) LUKSClose(mapName string) error {
	return runCommandSettled("cryptsetup", "close", mapName)
}

// WipeSignatures erases every signature on device.
func (t *Tools) WipeSignatures(device string) error {
	defer t.sys.invalidate()

	return runCommandSettled("wipefs", "--all", device)
}
