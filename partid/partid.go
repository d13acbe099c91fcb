// Package partid contains the partition type identifiers used when writing
// gpt and msdos disk labels.
package partid

// Each GPT partition type GUID is stored in its on-disk (mixed endian) byte
// order, as the gpt library expects.
//nolint:gochecknoglobals
var (
	// Empty - unused partition entry.
	Empty = [16]byte{}

	// LinuxFS - Linux filesystem data (0FC63DAF-8483-4772-8E79-3D69D8477DE4).
	LinuxFS = [16]byte{0xaf, 0x3d, 0xc6, 0x0f, 0x83, 0x84, 0x72, 0x47,
		0x8e, 0x79, 0x3d, 0x69, 0xd8, 0x47, 0x7d, 0xe4}

	// LinuxLVM - Linux lvm physical volume (E6D6D379-F507-44C2-A23C-238F2A3DF928).
	LinuxLVM = [16]byte{0x79, 0xd3, 0xd6, 0xe6, 0x07, 0xf5, 0xc2, 0x44,
		0xa2, 0x3c, 0x23, 0x8f, 0x2a, 0x3d, 0xf9, 0x28}

	// LinuxRAID - Linux software raid member (A19D880F-05FC-4D3B-A006-743F0F84911E).
	LinuxRAID = [16]byte{0x0f, 0x88, 0x9d, 0xa1, 0xfc, 0x05, 0x3b, 0x4d,
		0xa0, 0x06, 0x74, 0x3f, 0x0f, 0x84, 0x91, 0x1e}

	// LinuxSwap - Linux swap (0657FD6D-A4AB-43C4-84E5-0933C84B4F4F).
	LinuxSwap = [16]byte{0x6d, 0xfd, 0x57, 0x06, 0xab, 0xa4, 0xc4, 0x43,
		0x84, 0xe5, 0x09, 0x33, 0xc8, 0x4b, 0x4f, 0x4f}

	// EFI - EFI system partition (C12A7328-F81F-11D2-BA4B-00A0C93EC93B).
	EFI = [16]byte{0x28, 0x73, 0x2a, 0xc1, 0x1f, 0xf8, 0xd2, 0x11,
		0xba, 0x4b, 0x00, 0xa0, 0xc9, 0x3e, 0xc9, 0x3b}

	// BIOSBoot - BIOS boot partition for grub (21686148-6449-6E6F-744E-656564454649).
	BIOSBoot = [16]byte{0x48, 0x61, 0x68, 0x21, 0x49, 0x64, 0x6f, 0x6e,
		0x74, 0x4e, 0x65, 0x65, 0x64, 0x45, 0x46, 0x49}

	// PRePBoot - PowerPC PReP boot (9E1A2D38-C612-4316-AA26-8B49521E5A8B).
	PRePBoot = [16]byte{0x38, 0x2d, 0x1a, 0x9e, 0x12, 0xc6, 0x16, 0x43,
		0xaa, 0x26, 0x8b, 0x49, 0x52, 0x1e, 0x5a, 0x8b}
)

// Text maps a partition type GUID to a short human readable name.
//nolint:gochecknoglobals
var Text = map[[16]byte]string{
	Empty:     "Empty",
	LinuxFS:   "Linux-FS",
	LinuxLVM:  "LVM",
	LinuxRAID: "RAID",
	LinuxSwap: "Swap",
	EFI:       "EFI",
	BIOSBoot:  "BIOS-Boot",
	PRePBoot:  "PReP",
}

// MBR partition type bytes.
const (
	MBREmpty     byte = 0x00
	MBRExtended  byte = 0x05
	MBRLinuxSwap byte = 0x82
	MBRLinuxFS   byte = 0x83
	MBRLinuxLVM  byte = 0x8e
	MBREFI       byte = 0xef
	MBRPRePBoot  byte = 0x41
	MBRLinuxRAID byte = 0xfd
)

//nolint:gochecknoglobals
var mbrTypes = map[[16]byte]byte{
	Empty:     MBREmpty,
	LinuxFS:   MBRLinuxFS,
	LinuxLVM:  MBRLinuxLVM,
	LinuxRAID: MBRLinuxRAID,
	LinuxSwap: MBRLinuxSwap,
	EFI:       MBREFI,
	BIOSBoot:  MBRLinuxFS,
	PRePBoot:  MBRPRePBoot,
}

// PartTypeToMBR returns the msdos partition type byte for a gpt partition
// type. Unknown types map to MBRLinuxFS.
func PartTypeToMBR(t [16]byte) byte {
	if b, ok := mbrTypes[t]; ok {
		return b
	}

	return MBRLinuxFS
}

// MBRToPartType returns the gpt partition type for an msdos partition type
// byte. Unknown types map to LinuxFS.
func MBRToPartType(b byte) [16]byte {
	for t, m := range mbrTypes {
		if m == b && t != BIOSBoot {
			return t
		}
	}

	return LinuxFS
}
