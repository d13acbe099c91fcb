package format

import (
	"fmt"

	"machinerun.io/devtree"
)

func init() {
	register(func(tools Tools, fstype string, args Args) devtree.Format {
		return NewMDMember(tools, args)
	}, "mdmember")
	register(func(tools Tools, fstype string, args Args) devtree.Format {
		return NewDMRaidMember(tools, args)
	}, "dmraidmember")
}

// MDMember is the superblock of an md raid member. It is written when the
// array is created.
type MDMember struct {
	base
	mdUUID string
}

// NewMDMember returns an md member format.
func NewMDMember(tools Tools, args Args) *MDMember {
	return &MDMember{base: newBase(tools, "mdmember", args), mdUUID: args.MDUUID}
}

// MDUUID returns the uuid of the array.
func (m *MDMember) MDUUID() string {
	return m.mdUUID
}

// SetMDUUID records the uuid of the array.
func (m *MDMember) SetMDUUID(uuid string) {
	m.mdUUID = uuid
}

// Snapshot returns a copy of the member state.
func (m *MDMember) Snapshot() devtree.Format {
	c := *m
	return &c
}

// DMRaidMember is the metadata of a firmware raid member. It is only ever
// discovered.
type DMRaidMember struct {
	base
	raidSet string
}

// NewDMRaidMember returns a firmware raid member format.
func NewDMRaidMember(tools Tools, args Args) *DMRaidMember {
	return &DMRaidMember{base: newBase(tools, "dmraidmember", args), raidSet: args.RaidSet}
}

// RaidSet returns the name of the set.
func (m *DMRaidMember) RaidSet() string {
	return m.raidSet
}

// Create fails. Firmware raid sets are made in the firmware.
func (m *DMRaidMember) Create() error {
	return fmt.Errorf("cannot create firmware raid member on %s", m.device)
}

// Destroy fails for the same reason.
func (m *DMRaidMember) Destroy() error {
	return fmt.Errorf("cannot destroy firmware raid member on %s", m.device)
}

// Snapshot returns a copy of the member state.
func (m *DMRaidMember) Snapshot() devtree.Format {
	c := *m
	return &c
}
