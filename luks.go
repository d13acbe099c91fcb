package devtree

import (
	"fmt"
	"io"
	"strings"
)

// LUKSHeaderSize is the space in MiB a LUKS header takes from the backing
// device.
const LUKSHeaderSize = 2

// LUKS is the dm-crypt mapping of a LUKS formatted device (the slave).
type LUKS struct {
	DM
}

// NewLUKS adds the mapping of slave to the tree. slave's format must be a
// LUKSFormat.
func (t *Tree) NewLUKS(name string, slave Device, args StorageArgs) (*LUKS, error) {
	if slave == nil {
		return nil, deviceError(name, "luks mapping needs a backing device")
	}

	l := &LUKS{}
	l.initDM(KindLUKS, name, DMArgs{StorageArgs: args, Target: "crypt"})

	return l, t.register(l, []Device{slave})
}

// Slave returns the backing device.
func (l *LUKS) Slave() Device {
	parents := l.Parents()
	if len(parents) == 0 {
		return nil
	}

	return parents[0]
}

func (l *LUKS) slaveFormat(orig bool) Format {
	if orig {
		return l.Slave().OriginalFormat()
	}

	return l.Slave().Format()
}

// Size returns the probed size of an open mapping, or the slave size less
// the header for a mapping that is not there yet.
func (l *LUKS) Size() float64 {
	if l.exists {
		if size, ok := l.probe(); ok {
			l.size = size
			return size
		}
	}

	return l.Slave().Size() - LUKSHeaderSize
}

// Create adopts the map name of the slave's format and opens it.
func (l *LUKS) Create() error {
	done := l.progress("create")
	err := l.create()
	done(err)

	return err
}

func (l *LUKS) create() error {
	l.logCall("create").Msg("luks create")

	if l.exists {
		return deviceError(l.name, "device already exists")
	}

	if err := l.createParents(); err != nil {
		return err
	}

	if err := l.setupParents(false); err != nil {
		return err
	}

	if lf, ok := l.Slave().Format().(LUKSFormat); ok && lf.MapName() != "" {
		l.name = lf.MapName()
		l.format.SetDevice(l.Path())
	}

	l.exists = true

	return l.self.Setup(false)
}

// Setup sets up the slave and opens its LUKS format.
func (l *LUKS) Setup(orig bool) error {
	l.logCall("setup").Bool("orig", orig).Msg("luks setup")

	if !l.exists {
		return deviceError(l.name, "device has not been created")
	}

	if err := l.Slave().Setup(orig); err != nil {
		return err
	}

	if err := l.slaveFormat(orig).Setup(); err != nil {
		return err
	}

	if err := l.settle(); err != nil {
		return err
	}

	if size, ok := l.probe(); ok {
		l.size = size
	}

	return nil
}

// Teardown closes the mapping by tearing down the slave's format.
func (l *LUKS) Teardown(recursive bool) error {
	l.logCall("teardown").Bool("recursive", recursive).Msg("luks teardown")

	if !l.exists && !recursive {
		return deviceError(l.name, "device has not been created")
	}

	if l.exists && l.self.Status() {
		if err := l.teardownFormats(); err != nil {
			return err
		}

		if err := l.settle(); err != nil {
			return err
		}
	}

	for _, f := range []Format{l.slaveFormat(true), l.slaveFormat(false)} {
		if f.Exists() {
			if err := f.Teardown(); err != nil {
				return err
			}

			if err := l.settle(); err != nil {
				return err
			}
		}
	}

	if recursive {
		return l.teardownParents(recursive)
	}

	return nil
}

// Destroy closes the mapping. The LUKS header belongs to the slave's format
// and is left alone.
func (l *LUKS) Destroy() error {
	l.logCall("destroy").Msg("luks destroy")

	if err := l.checkDestroy(); err != nil {
		return err
	}

	if err := l.format.Teardown(); err != nil {
		return err
	}

	if err := l.settle(); err != nil {
		return err
	}

	if err := l.self.Teardown(false); err != nil {
		return err
	}

	l.exists = false

	return nil
}

// DracutSetupArgs asks the initramfs to open the mapping.
func (l *LUKS) DracutSetupArgs() []string {
	uuid := l.Slave().Format().UUID()
	if uuid == "" {
		return nil
	}

	return []string{"rd_LUKS_UUID=luks-" + uuid}
}

// WriteKS writes the slave's kickstart line with this device's format and
// --encrypted.
func (l *LUKS) WriteKS(w io.Writer, preexisting, noformat bool) error {
	fmtArgs := ksFormatArgs(l) + " --encrypted"

	var line string

	switch s := l.Slave().(type) {
	case *Partition:
		line = "#part " + s.ksLine(fmtArgs, preexisting, noformat)
	case *LogicalVolume:
		line = "#logvol " + s.ksLine(fmtArgs, preexisting, noformat)
	case *MDArray:
		line = "#raid " + s.ksLine(fmtArgs, preexisting, noformat)
	default:
		return nil
	}

	_, err := fmt.Fprintln(w, strings.TrimSpace(line))

	return err
}
