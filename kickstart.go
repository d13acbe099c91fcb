package devtree

import (
	"fmt"
)

// KickstartFormat is implemented by formats that render their own kickstart
// arguments (mountpoint, --fstype, --label, ...).
type KickstartFormat interface {
	KickstartArgs() string
}

// ksID returns the id used for the device in pv. and raid. kickstart names.
// New devices have no major/minor yet and use their tree ID instead.
func (s *Storage) ksID() string {
	if s.major == 0 && s.minor == 0 {
		return majorMinor(0, int(s.id))
	}

	return majorMinor(s.major, s.minor)
}

// KickstartName returns the name a kickstart file uses for a member
// device: pv.<id> for lvm physical volumes, raid.<id> for md members.
func KickstartName(d Device) string {
	switch d.Format().Type() {
	case "lvmpv":
		return "pv." + d.storage().ksID()
	case "mdmember":
		return "raid." + d.storage().ksID()
	}

	return d.Name()
}

func ksFormatArgs(d Device) string {
	f := d.Format()

	switch f.Type() {
	case "lvmpv", "mdmember":
		return KickstartName(d)
	case "swap":
		return "swap"
	}

	if k, ok := f.(KickstartFormat); ok {
		if args := k.KickstartArgs(); args != "" {
			return args
		}
	}

	if mp := formatMountpoint(f); mp != "" {
		return fmt.Sprintf("%s --fstype=%s", mp, f.Type())
	}

	return "None"
}
