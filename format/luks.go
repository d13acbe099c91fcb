package format

import (
	"fmt"

	"machinerun.io/devtree"
)

// LUKSHeaderSize is the space the luks header takes in MiB.
const LUKSHeaderSize = 2.0

func init() {
	register(func(tools Tools, fstype string, args Args) devtree.Format {
		return NewLUKS(tools, args)
	}, "luks")
}

// LUKS is a luks encryption header.
type LUKS struct {
	base
	mapName    string
	passphrase string
	opened     bool
}

// NewLUKS returns a luks format. The map name defaults to luks-<uuid> once
// the uuid is known.
func NewLUKS(tools Tools, args Args) *LUKS {
	return &LUKS{base: newBase(tools, "luks", args), mapName: args.MapName, passphrase: args.Passphrase}
}

// MapName returns the device-mapper name used while the container is open.
func (l *LUKS) MapName() string {
	if l.mapName == "" && l.uuid != "" {
		return "luks-" + l.uuid
	}

	return l.mapName
}

// HasKey reports whether a passphrase is set.
func (l *LUKS) HasKey() bool {
	return l.passphrase != ""
}

// SetPassphrase sets the passphrase used to format and open the container.
func (l *LUKS) SetPassphrase(p string) {
	l.passphrase = p
}

// Status reports whether the container is open.
func (l *LUKS) Status() bool {
	return l.opened
}

// Create writes the luks header.
func (l *LUKS) Create() error {
	if err := l.checkCreate(); err != nil {
		return err
	}

	if !l.HasKey() {
		return fmt.Errorf("cannot format %s: no passphrase", l.device)
	}

	if l.uuid == "" {
		l.uuid = devtree.GenUUID()
	}

	if err := l.tools.LUKSFormat(l.device, l.passphrase, l.uuid); err != nil {
		return err
	}

	l.exists = true

	return nil
}

// Setup opens the container.
func (l *LUKS) Setup() error {
	if l.opened {
		return nil
	}

	if !l.exists {
		return fmt.Errorf("cannot open %s: no luks header", l.device)
	}

	if !l.HasKey() {
		return fmt.Errorf("cannot open %s: no passphrase", l.device)
	}

	if err := l.tools.LUKSOpen(l.device, l.MapName(), l.passphrase); err != nil {
		return err
	}

	l.opened = true

	return nil
}

// Teardown closes the container.
func (l *LUKS) Teardown() error {
	if !l.opened {
		return nil
	}

	if err := l.tools.LUKSClose(l.MapName()); err != nil {
		return err
	}

	l.opened = false

	return nil
}

// Destroy wipes the header. The container must be closed.
func (l *LUKS) Destroy() error {
	if l.opened {
		return fmt.Errorf("cannot destroy open luks container on %s", l.device)
	}

	return l.base.Destroy()
}

// Snapshot returns a copy of the luks state.
func (l *LUKS) Snapshot() devtree.Format {
	c := *l
	return &c
}
