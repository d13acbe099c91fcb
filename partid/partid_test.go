package partid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"machinerun.io/devtree/partid"
)

func TestText(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("Linux-FS", partid.Text[partid.LinuxFS])
	assert.Equal("LVM", partid.Text[partid.LinuxLVM])
	assert.Equal("RAID", partid.Text[partid.LinuxRAID])
	assert.Equal("PReP", partid.Text[partid.PRePBoot])
}

func TestMBRMapping(t *testing.T) {
	assert := assert.New(t)

	for gpt, mbr := range map[[16]byte]byte{
		partid.LinuxFS:   partid.MBRLinuxFS,
		partid.LinuxLVM:  partid.MBRLinuxLVM,
		partid.LinuxRAID: partid.MBRLinuxRAID,
		partid.LinuxSwap: partid.MBRLinuxSwap,
		partid.EFI:       partid.MBREFI,
		partid.PRePBoot:  partid.MBRPRePBoot,
	} {
		assert.Equal(mbr, partid.PartTypeToMBR(gpt), partid.Text[gpt])
		assert.Equal(gpt, partid.MBRToPartType(mbr), partid.Text[gpt])
	}

	// BIOS boot has no msdos type of its own.
	assert.Equal(partid.MBRLinuxFS, partid.PartTypeToMBR(partid.BIOSBoot))
	assert.Equal(partid.MBRLinuxFS, partid.PartTypeToMBR([16]byte{0xff}))
	assert.Equal(partid.LinuxFS, partid.MBRToPartType(0x07))
}
