package format

import (
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog/log"
	"machinerun.io/devtree"
)

type fsInfo struct {
	minSize   float64
	maxSize   float64
	resizable bool
}

// limits in MiB. 0 means unknown or unlimited.
var filesystems = map[string]fsInfo{
	"ext2":     {minSize: 1, maxSize: 8 * 1024 * 1024, resizable: true},
	"ext3":     {minSize: 1, maxSize: 16 * 1024 * 1024, resizable: true},
	"ext4":     {minSize: 1, maxSize: 1024 * 1024 * 1024, resizable: true},
	"xfs":      {minSize: 16, maxSize: 16 * 1024 * 1024 * 1024},
	"btrfs":    {minSize: 256, maxSize: 16 * 1024 * 1024 * 1024},
	"vfat":     {maxSize: 1024 * 1024},
	"efi":      {minSize: 50, maxSize: 2 * 1024},
	"biosboot": {maxSize: 2},
	"prepboot": {maxSize: 10},
	"tmpfs":    {},
	"nfs":      {},
	"bind":     {},
}

func init() {
	types := make([]string, 0, len(filesystems))
	for t := range filesystems {
		types = append(types, t)
	}

	register(func(tools Tools, fstype string, args Args) devtree.Format {
		return NewFilesystem(tools, fstype, args)
	}, types...)
}

// Filesystem is a mountable filesystem.
type Filesystem struct {
	base
	label      string
	mountpoint string
	options    string
	chroot     string
	mountedAt  string
	info       fsInfo
}

// NewFilesystem returns a filesystem of type fstype.
func NewFilesystem(tools Tools, fstype string, args Args) *Filesystem {
	return &Filesystem{
		base:       newBase(tools, fstype, args),
		label:      args.Label,
		mountpoint: args.Mountpoint,
		options:    args.Options,
		info:       filesystems[fstype],
	}
}

// Label returns the filesystem label.
func (f *Filesystem) Label() string {
	return f.label
}

// Mountpoint returns where the filesystem lives on the installed system.
func (f *Filesystem) Mountpoint() string {
	return f.mountpoint
}

// Options returns the mount options.
func (f *Filesystem) Options() string {
	return f.options
}

// SetChroot sets the root the target system is mounted under.
func (f *Filesystem) SetChroot(root string) {
	f.chroot = root
}

// MountedAt returns where the filesystem is mounted right now, "" if it is
// not.
func (f *Filesystem) MountedAt() string {
	return f.mountedAt
}

// Status reports whether the filesystem is mounted.
func (f *Filesystem) Status() bool {
	return f.mountedAt != ""
}

// Resizable reports whether the filesystem exists and supports resizing.
func (f *Filesystem) Resizable() bool {
	return f.exists && f.info.resizable
}

func (f *Filesystem) MinSize() float64 {
	return f.info.minSize
}

func (f *Filesystem) MaxSize() float64 {
	return f.info.maxSize
}

// Create makes the filesystem.
func (f *Filesystem) Create() error {
	if err := f.checkCreate(); err != nil {
		return err
	}

	switch f.typ {
	case "tmpfs", "nfs", "bind", "biosboot", "prepboot":
		f.exists = true
		return nil
	}

	if f.uuid == "" {
		f.uuid = devtree.GenUUID()
	}

	log.Debug().Str("device", f.device).Str("fstype", f.typ).Str("label", f.label).Msg("making filesystem")

	if err := f.tools.Mkfs(f.typ, f.device, f.label, f.uuid); err != nil {
		return err
	}

	f.exists = true

	return nil
}

// Setup mounts the filesystem below the chroot. Filesystems without a
// mountpoint are left alone.
func (f *Filesystem) Setup() error {
	if f.mountpoint == "" || f.Status() {
		return nil
	}

	if !f.exists {
		return fmt.Errorf("cannot mount %s: filesystem does not exist", f.device)
	}

	target := path.Clean(f.chroot + "/" + f.mountpoint)

	if err := f.tools.Mount(f.device, target, f.mountType(), f.options); err != nil {
		return err
	}

	f.mountedAt = target

	return nil
}

// Teardown unmounts the filesystem.
func (f *Filesystem) Teardown() error {
	if !f.Status() {
		return nil
	}

	if err := f.tools.Unmount(f.mountedAt); err != nil {
		return err
	}

	f.mountedAt = ""

	return nil
}

// Destroy wipes the filesystem. It must not be mounted.
func (f *Filesystem) Destroy() error {
	if f.Status() {
		return fmt.Errorf("cannot destroy mounted filesystem on %s", f.device)
	}

	return f.base.Destroy()
}

func (f *Filesystem) mountType() string {
	if f.typ == "efi" {
		return "vfat"
	}

	return f.typ
}

// KickstartArgs returns "<mountpoint> --fstype=<type>" plus label and
// options. Filesystems with no mountpoint return "".
func (f *Filesystem) KickstartArgs() string {
	if f.mountpoint == "" {
		switch f.typ {
		case "biosboot", "prepboot":
			return f.typ
		}

		return ""
	}

	args := []string{f.mountpoint, "--fstype=" + f.typ}

	if f.label != "" {
		args = append(args, "--label="+f.label)
	}

	if f.options != "" {
		args = append(args, `--fsoptions="`+f.options+`"`)
	}

	return strings.Join(args, " ")
}

// Snapshot returns a copy of the filesystem state.
func (f *Filesystem) Snapshot() devtree.Format {
	c := *f
	return &c
}
