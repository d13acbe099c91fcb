package devtree

// DMRaidArray is a firmware (BIOS) raid set activated through dmraid.
type DMRaidArray struct {
	DM
}

// NewDMRaidArray adds the raid set name built from members to the tree.
// Every member must carry a DMRaidMemberFormat.
func (t *Tree) NewDMRaidArray(name string, members []Device, args StorageArgs) (*DMRaidArray, error) {
	for _, m := range members {
		if _, ok := m.Format().(DMRaidMemberFormat); !ok {
			return nil, deviceError(name, "%s is not a dmraid member", m.Name())
		}
	}

	a := &DMRaidArray{}
	a.initDM(KindDMRaid, name, DMArgs{StorageArgs: args, Target: "raid"})

	return a, t.register(a, members)
}

// Members returns the member disks.
func (a *DMRaidArray) Members() []Device {
	return a.Parents()
}

// AddMember adds a member found while scanning the system.
func (a *DMRaidArray) AddMember(d Device) error {
	if !a.exists {
		return deviceError(a.name, "device has not been created")
	}

	if _, ok := d.Format().(DMRaidMemberFormat); !ok {
		return deviceError(a.name, "%s is not a dmraid member", d.Name())
	}

	if a.hasParent(d) {
		return deviceError(a.name, "%s is already a member", d.Name())
	}

	a.addParent(d)

	return nil
}

// Setup sets up the members and activates the set.
func (a *DMRaidArray) Setup(orig bool) error {
	if err := a.Storage.Setup(orig); err != nil {
		return err
	}

	return a.Activate()
}

// Activate activates the raid set.
func (a *DMRaidArray) Activate() error {
	a.logCall("activate").Msg("dmraid activate")

	if err := a.env().Mapper.DMRaidActivate(a.name); err != nil {
		return err
	}

	return a.settle()
}

// Deactivate deactivates the raid set.
func (a *DMRaidArray) Deactivate() error {
	a.logCall("deactivate").Msg("dmraid deactivate")

	if err := a.env().Mapper.DMRaidDeactivate(a.name); err != nil {
		return err
	}

	return a.settle()
}

// Teardown does not deactivate the set. Firmware raid sets stay active
// for the life of the system.
func (a *DMRaidArray) Teardown(recursive bool) error {
	if !a.exists && !recursive {
		return deviceError(a.name, "device has not been created")
	}

	a.logCall("teardown").Msg("not tearing down dmraid device")

	return nil
}

// DracutSetupArgs asks the initramfs to activate the set.
func (a *DMRaidArray) DracutSetupArgs() []string {
	return []string{"rd_DM_UUID=" + a.name}
}

// Label returns the in-memory disk label.
func (a *DMRaidArray) Label() (*DiskLabel, error) {
	return a.label()
}

// OriginalLabel returns the label as last read from or written to disk.
func (a *DMRaidArray) OriginalLabel() (*DiskLabel, error) {
	return a.originalLabel()
}
