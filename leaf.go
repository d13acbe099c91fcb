package devtree

import (
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// NoDevice carries a filesystem with no backing device, such as tmpfs or
// proc. Its lifecycle operations do nothing.
type NoDevice struct {
	Storage
}

// NewNoDevice adds a nodev device for format f. The device is named after
// the format type.
func (t *Tree) NewNoDevice(f Format) (*NoDevice, error) {
	name := "none"
	if f != nil && f.Type() != "" {
		name = f.Type()
	}

	d := &NoDevice{}
	d.init(KindNoDevice, name, StorageArgs{Format: f})

	return d, t.register(d, nil)
}

// Path returns the name.
func (d *NoDevice) Path() string {
	return d.name
}

// Setup does nothing.
func (d *NoDevice) Setup(orig bool) error {
	d.logCall("setup").Bool("orig", orig).Msg("nodev setup")
	return nil
}

// Teardown does nothing.
func (d *NoDevice) Teardown(recursive bool) error {
	d.logCall("teardown").Msg("nodev teardown")
	return nil
}

// Create sets up the parents.
func (d *NoDevice) Create() error {
	d.logCall("create").Msg("nodev create")
	return d.setupParents(false)
}

// Destroy does nothing.
func (d *NoDevice) Destroy() error {
	d.logCall("destroy").Msg("nodev destroy")
	return nil
}

// FileDevice is a regular file used as a device, such as a swap file. Its
// name is the full path of the file on the filesystem of its parent.
type FileDevice struct {
	Storage
}

// NewFileDevice adds the file at filePath. parents are the devices holding
// the filesystem the file lives on.
func (t *Tree) NewFileDevice(filePath string, parents []Device, args StorageArgs) (*FileDevice, error) {
	d := &FileDevice{}
	d.init(KindFile, filePath, args)
	d.devDir = ""

	return d, t.register(d, parents)
}

// Path returns the location of the file. While the parent filesystem is
// mounted under a chroot the chroot is prepended.
func (d *FileDevice) Path() string {
	root := ""

	if parents := d.Parents(); len(parents) > 0 {
		f := parents[0].Format()
		if m, ok := f.(Mounted); ok && f.Status() {
			root = m.MountedAt()
			mountpoint := strings.TrimSuffix(m.Mountpoint(), "/")

			if mountpoint != "" {
				root = strings.TrimSuffix(root, mountpoint)
			}
		}
	}

	return path.Clean(root + "/" + d.name)
}

// FstabSpec returns the file path as seen from the installed system.
func (d *FileDevice) FstabSpec() string {
	return d.name
}

// Setup sets up the parents and points an inactive format at the file.
func (d *FileDevice) Setup(orig bool) error {
	if err := d.Storage.Setup(orig); err != nil {
		return err
	}

	d.refreshFormatDevice()

	return nil
}

// Teardown tears the formats down and points an inactive format at the
// file.
func (d *FileDevice) Teardown(recursive bool) error {
	if err := d.Storage.Teardown(false); err != nil {
		return err
	}

	d.refreshFormatDevice()

	return nil
}

func (d *FileDevice) refreshFormatDevice() {
	if d.format.Exists() && !d.format.Status() {
		d.format.SetDevice(d.self.Path())
	}
}

// Create writes a zero filled file of the requested size.
func (d *FileDevice) Create() error {
	d.logCall("create").Msg("file create")

	if d.exists {
		return deviceError(d.name, "device already exists")
	}

	if err := d.createParents(); err != nil {
		return err
	}

	if err := d.setupParents(false); err != nil {
		return err
	}

	if err := d.sys().CreateFile(d.self.Path(), d.size); err != nil {
		log.Error().Err(err).Str("device", d.name).Msg("error writing out file")
		return deviceError(d.name, "%s", errors.Wrap(err, "create file"))
	}

	d.exists = true

	return nil
}

// Destroy removes the file.
func (d *FileDevice) Destroy() error {
	d.logCall("destroy").Msg("file destroy")

	if err := d.checkDestroy(); err != nil {
		return err
	}

	if err := d.sys().Remove(d.self.Path()); err != nil {
		return deviceError(d.name, "%s", err)
	}

	d.exists = false

	return nil
}

// Directory is a directory used as the source of a bind mount.
type Directory struct {
	FileDevice
}

// NewDirectory adds the directory at dirPath.
func (t *Tree) NewDirectory(dirPath string, parents []Device, args StorageArgs) (*Directory, error) {
	d := &Directory{}
	d.init(KindDirectory, dirPath, args)
	d.devDir = ""

	return d, t.register(d, parents)
}

// Create creates the directory and any missing parent directories.
func (d *Directory) Create() error {
	d.logCall("create").Msg("directory create")

	if d.exists {
		return deviceError(d.name, "device already exists")
	}

	if err := d.createParents(); err != nil {
		return err
	}

	if err := d.setupParents(false); err != nil {
		return err
	}

	if err := d.sys().Mkdir(d.self.Path()); err != nil {
		return deviceError(d.name, "%s", err)
	}

	d.exists = true

	return nil
}

// Optical is a cdrom or dvd drive. Drives always exist; the media may not.
type Optical struct {
	Storage
}

// NewOptical adds the drive with kernel name name.
func (t *Tree) NewOptical(name string, args StorageArgs) (*Optical, error) {
	d := &Optical{}
	d.init(KindOptical, name, args)
	d.exists = true

	return d, t.register(d, nil)
}

// MediaPresent reports whether a disc is in the drive.
func (d *Optical) MediaPresent() bool {
	if !d.exists {
		return false
	}

	return d.sys().MediaPresent(d.self.Path())
}

// Eject tears the drive down and ejects the disc. A failed eject is only
// logged.
func (d *Optical) Eject() error {
	d.logCall("eject").Msg("optical eject")

	if !d.exists {
		return deviceError(d.name, "device has not been created")
	}

	if err := d.self.Teardown(false); err != nil {
		return err
	}

	if err := d.sys().Eject(d.self.Path()); err != nil {
		log.Warn().Err(err).Str("device", d.name).Msg("error ejecting cdrom")
	}

	return nil
}
