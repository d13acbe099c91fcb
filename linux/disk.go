//go:build linux

package linux

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/rekby/gpt"
	"github.com/rekby/mbr"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
	"machinerun.io/devtree"
	"machinerun.io/devtree/partid"
)

const (
	sectorSize512 = 512
	sectorSize4k  = 4096
)

// ErrNoPartitionTable is returned if there is no partition table.
var ErrNoPartitionTable = errors.New("no Partition Table Found")

// toGPTPartition - convert a label entry into a gpt.Partition
func toGPTPartition(p *devtree.LabelPartition) gpt.Partition {
	return gpt.Partition{
		Type:          gpt.PartType(p.Type),
		Id:            gpt.Guid(p.ID),
		FirstLBA:      uint64(p.Start),
		LastLBA:       uint64(p.End),
		Flags:         gpt.Flags{},
		PartNameUTF16: getPartName(p.Name),
		TrailingBytes: []byte{},
	}
}

func readGPTTableSearch(fp io.ReadSeeker, sizes []int64) (gpt.Table, int64, error) {
	const noGptFound = "Bad GPT signature"
	var gptTable gpt.Table
	var err error
	var size int64

	for _, size = range sizes {
		// consider seek failure to be fatal
		if _, err := fp.Seek(size, io.SeekStart); err != nil {
			return gpt.Table{}, size, err
		}

		if gptTable, err = gpt.ReadTable(fp, uint64(size)); err != nil {
			if err.Error() == noGptFound {
				continue
			}

			return gpt.Table{}, size, err
		}

		return gptTable, size, nil
	}

	return gpt.Table{}, size, ErrNoPartitionTable
}

func isExtendedType(b byte) bool {
	return b == 0x05 || b == 0x0f || b == 0x85
}

func readMBRTable(fp io.ReadSeeker) ([]*devtree.LabelPartition, bool, error) {
	parts := []*devtree.LabelPartition{}

	if _, err := fp.Seek(0, io.SeekStart); err != nil {
		return parts, false, err
	}

	mbrTable, err := mbr.Read(fp)
	if err == mbr.ErrorBadMbrSign {
		return parts, false, ErrNoPartitionTable
	} else if err != nil {
		return parts, false, err
	}

	extended := false

	for i, p := range mbrTable.GetAllPartitions() {
		if p.IsEmpty() {
			continue
		}

		t := byte(p.GetType())
		part := &devtree.LabelPartition{
			Number:   uint(i + 1),
			Geometry: devtree.Geometry{Start: int64(p.GetLBAStart()), End: int64(p.GetLBALast())},
			Type:     partid.MBRToPartType(t),
		}

		if isExtendedType(t) {
			part.Role = devtree.PartitionExtended
			part.Type = partid.Empty
			extended = true
		}

		parts = append(parts, part)
	}

	return parts, extended, nil
}

type sfdiskDump struct {
	PartitionTable struct {
		Label      string `json:"label"`
		SectorSize int64  `json:"sectorsize"`
		Partitions []struct {
			Node  string `json:"node"`
			Start int64  `json:"start"`
			Size  int64  `json:"size"`
			Type  string `json:"type"`
		} `json:"partitions"`
	} `json:"partitiontable"`
}

// readLogicalPartitions returns the partitions numbered 5 and up of an
// msdos label as reported by sfdisk.
func readLogicalPartitions(devicePath string) ([]*devtree.LabelPartition, error) {
	out, stderr, rc := runCommandWithOutputErrorRc("sfdisk", "--json", devicePath)
	if rc != 0 {
		return nil, fmt.Errorf("failed sfdisk --json %s [%d]: %s", devicePath, rc, stderr)
	}

	return parseSfdiskLogicals(out)
}

func parseSfdiskLogicals(out []byte) ([]*devtree.LabelPartition, error) {
	var dump sfdiskDump
	if err := json.Unmarshal(out, &dump); err != nil {
		return nil, err
	}

	parts := []*devtree.LabelPartition{}

	for _, sp := range dump.PartitionTable.Partitions {
		var n uint

		node := strings.TrimRight(sp.Node, "0123456789")
		if _, err := fmt.Sscanf(sp.Node[len(node):], "%d", &n); err != nil {
			return nil, fmt.Errorf("cannot parse partition number of %s", sp.Node)
		}

		if n < 5 {
			continue
		}

		var t byte
		if _, err := fmt.Sscanf(sp.Type, "%x", &t); err != nil {
			return nil, fmt.Errorf("cannot parse partition type %q of %s", sp.Type, sp.Node)
		}

		parts = append(parts, &devtree.LabelPartition{
			Number:   n,
			Role:     devtree.PartitionLogical,
			Geometry: devtree.Geometry{Start: sp.Start, End: sp.Start + sp.Size - 1},
			Type:     partid.MBRToPartType(t),
		})
	}

	return parts, nil
}

// findPartitions reads the label on fp. It returns the label type, the
// partitions and the sector size the label was found with.
func findPartitions(fp io.ReadSeeker, devicePath string, ssize int64) (string, []*devtree.LabelPartition, int64, error) {
	sizes := []int64{sectorSize512, sectorSize4k}
	if ssize != 0 {
		sizes = []int64{ssize}
	}

	gptTable, found, err := readGPTTableSearch(fp, sizes)
	if err == ErrNoPartitionTable {
		parts, extended, err := readMBRTable(fp)
		if err != nil {
			return "", parts, sectorSize512, err
		}

		if extended {
			logicals, err := readLogicalPartitions(devicePath)
			if err != nil {
				return devtree.LabelMSDOS, parts, sectorSize512, err
			}

			parts = append(parts, logicals...)
		}

		return devtree.LabelMSDOS, parts, sectorSize512, nil
	}

	if err != nil {
		return devtree.LabelGPT, nil, found, err
	}

	parts := []*devtree.LabelPartition{}

	for n, p := range gptTable.Partitions {
		if p.IsEmpty() {
			continue
		}

		parts = append(parts, &devtree.LabelPartition{
			Number:   uint(n + 1),
			Geometry: devtree.Geometry{Start: int64(p.FirstLBA), End: int64(p.LastLBA)},
			ID:       devtree.GUID(p.Id),
			Type:     [16]byte(p.Type),
			Name:     p.Name(),
		})
	}

	return devtree.LabelGPT, parts, found, nil
}

// ReadLabel reads the partition table of the disk or image at devicePath.
// It returns ErrNoPartitionTable for a disk with no label.
func (s *System) ReadLabel(devicePath string) (*devtree.DiskLabel, error) {
	fp, err := os.Open(devicePath)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	var ssize int64

	info, err := fp.Stat()
	if err != nil {
		return nil, err
	}

	if info.Mode()&os.ModeDevice != 0 {
		if ssize, err = getBlockDevSize(devicePath); err != nil {
			return nil, err
		}
	}

	size, err := getFileSize(fp)
	if err != nil {
		return nil, err
	}

	ltype, parts, found, err := findPartitions(fp, devicePath, ssize)
	if err != nil {
		return nil, err
	}

	label, err := devtree.NewDiskLabel(s, devtree.DiskLabelArgs{
		Type:       ltype,
		SectorSize: found,
		Sectors:    size / found,
		Exists:     true,
		Partitions: parts,
	})
	if err != nil {
		return nil, err
	}

	label.SetDevice(devicePath)

	return label, nil
}

func getPartName(s string) [72]byte {
	codes := utf16.Encode([]rune(s))
	b := [72]byte{}

	for i, r := range codes {
		if i*2+1 >= len(b) {
			break
		}

		b[i*2] = byte(r)
		b[i*2+1] = byte(r >> 8) //nolint:gomnd
	}

	return b
}

func zeroPathStartEnd(fpath string, start int64, last int64) error {
	fp, err := os.OpenFile(fpath, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer fp.Close()

	return zeroStartEnd(fp, start, last)
}

// zeroStartEnd - zero the start and end provided with 1MiB bytes of zeros.
func zeroStartEnd(fp io.WriteSeeker, start int64, last int64) error {
	if last <= start {
		return fmt.Errorf("last %d < start %d", last, start)
	}

	wlen := int64(devtree.Mebibyte)
	bufZero := make([]byte, wlen)

	// 3 cases.
	// a.) start + wlen < last - wlen (two full writes)
	// b.) start + wlen >= last (one possibly short write)
	// c.) start + wlen >= last - wlen (overlapping zero ranges)
	type ws struct{ start, size int64 }
	var writes = []ws{{start, wlen}, {last - wlen, wlen}}
	var wnum int
	var err error

	if start+wlen >= last {
		writes = []ws{{start, last - start}}
	} else if start+wlen >= last-wlen {
		writes = []ws{{start, wlen}, {start + wlen, last - (start + wlen)}}
	}

	for _, w := range writes {
		if _, err = fp.Seek(w.start, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek to %d to write %v", w.start, w)
		}

		wnum, err = fp.Write(bufZero[:w.size])
		if err != nil {
			return fmt.Errorf("failed to write %v", w)
		}

		if int64(wnum) != w.size {
			return fmt.Errorf("wrote only %d bytes of %v", wnum, w)
		}
	}

	return nil
}

func hasLogicals(label *devtree.DiskLabel) bool {
	for _, p := range label.Partitions {
		if p.Role != devtree.PartitionNormal {
			return true
		}
	}

	return false
}

func writeMBRLabel(fp io.ReadWriteSeeker, label *devtree.DiskLabel) error {
	if _, err := fp.Seek(0, io.SeekStart); err != nil {
		return err
	}

	mbrTable, err := mbr.Read(fp)
	if err == mbr.ErrorBadMbrSign {
		// the Read(0) does call Check(), but only returns the first error. That may be fixed
		// by FixingSignature, but need to check if that fixes everything.
		mbrTable.FixSignature()

		if err := mbrTable.Check(); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	for pnum := 1; pnum <= 4; pnum++ {
		pt := mbrTable.GetPartition(pnum)
		pt.SetType(mbr.PART_EMPTY)
		pt.SetLBAStart(0)
		pt.SetLBALen(0)
	}

	for _, p := range label.Partitions {
		if p.Number > 4 {
			return fmt.Errorf("partition number %d is out of range (1-4) for msdos", p.Number)
		}

		mPart := mbrTable.GetPartition(int(p.Number))
		mPart.SetLBAStart(uint32(p.Start))
		mPart.SetLBALen(uint32(p.Length()))
		mPart.SetType(mbr.PartitionType(partid.PartTypeToMBR(p.Type)))
	}

	if _, err := fp.Seek(0, io.SeekStart); err != nil {
		return err
	}

	return mbrTable.Write(fp)
}

// sfdiskScript renders label in the sfdisk dump format. It is used for
// msdos labels with logical partitions, which need an ebr chain.
func sfdiskScript(devicePath string, label *devtree.DiskLabel) string {
	var sb strings.Builder

	sb.WriteString("label: dos\nunit: sectors\n\n")

	parts := append([]*devtree.LabelPartition{}, label.Partitions...)
	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })

	for _, p := range parts {
		t := partid.PartTypeToMBR(p.Type)
		if p.Role == devtree.PartitionExtended {
			t = partid.MBRExtended
		}

		fmt.Fprintf(&sb, "%s : start=%d, size=%d, type=%x",
			devtree.PartitionName(devicePath, p.Number), p.Start, p.Length(), t)

		if p.Bootable {
			sb.WriteString(", bootable")
		}

		sb.WriteString("\n")
	}

	return sb.String()
}

func writeGPTLabel(fp io.ReadWriteSeeker, label *devtree.DiskLabel) error {
	diskSize := uint64(label.Sectors * label.SectorSize)

	gptTable, _, err := readGPTTableSearch(fp, []int64{label.SectorSize})
	if err == ErrNoPartitionTable {
		gptTable, err = writeNewGPTTable(fp, label.SectorSize, diskSize)
		if err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	for i := range gptTable.Partitions {
		gptTable.Partitions[i] = toGPTPartition(&devtree.LabelPartition{Type: partid.Empty})
	}

	for _, p := range label.Partitions {
		if int(p.Number) > len(gptTable.Partitions) || p.Number == 0 {
			return fmt.Errorf("partition number %d is out of range (1-%d) for gpt",
				p.Number, len(gptTable.Partitions))
		}

		if p.ID.IsZero() {
			p.ID = devtree.GenGUID()
		}

		gptTable.Partitions[p.Number-1] = toGPTPartition(p)
	}

	_, err = writeGPTTable(fp, gptTable)

	return err
}

// writeProtectiveMBR - add a ProtectiveMBR spanning the disk.
// This preserves anything in the first sector that is outside of the partition table.
func writeProtectiveMBR(fp io.ReadWriteSeeker, sectorSize int64, diskSize uint64) error {
	buf := make([]byte, sectorSize)

	if _, err := fp.Seek(0, io.SeekStart); err != nil {
		return err
	}

	if _, err := io.ReadFull(fp, buf); err != nil {
		return err
	}

	m, err := newProtectiveMBR(buf, sectorSize, diskSize)
	if err != nil {
		return err
	}

	if _, err := fp.Seek(0, io.SeekStart); err != nil {
		return err
	}

	return m.Write(fp)
}

func writeNewGPTTable(fp io.ReadWriteSeeker, sectorSize int64, diskSize uint64) (gpt.Table, error) {
	ntArgs := gpt.NewTableArgs{
		SectorSize: uint64(sectorSize),
		DiskGuid:   gpt.Guid(devtree.GenGUID())}
	gptTable := gpt.NewTable(diskSize, &ntArgs)

	if err := writeProtectiveMBR(fp, sectorSize, diskSize); err != nil {
		return gptTable, err
	}

	return writeGPTTable(fp, gptTable)
}

func writeGPTTable(fp io.ReadWriteSeeker, table gpt.Table) (gpt.Table, error) {
	if err := table.Write(fp); err != nil {
		log.Error().Err(err).Msg("failed write to gpt table")
		return gpt.Table{}, err
	}

	if err := table.CreateOtherSideTable().Write(fp); err != nil {
		log.Error().Err(err).Msg("failed write to backup gpt table")
		return gpt.Table{}, err
	}

	if _, err := fp.Seek(
		int64(table.Header.HeaderStartLBA*table.SectorSize),
		io.SeekStart); err != nil {
		return gpt.Table{}, err
	}

	return gpt.ReadTable(io.ReadSeeker(fp), table.SectorSize)
}

// newProtectiveMBR - return a Protective MBR for the
// pull request to upstream mbr at https://github.com/rekby/mbr/pull/2
func newProtectiveMBR(buf []byte, sectorSize int64, diskSize uint64) (mbr.MBR, error) {
	if len(buf) < int(sectorSize) {
		return mbr.MBR{},
			fmt.Errorf("buffer too small. Must be sectorSize(%d)", sectorSize)
	}

	// https://en.wikipedia.org/wiki/Master_boot_record
	// partition table takes up 440 (0x1BE) to 511 (0x1FF).  We zero locations
	// of the partitions, and leave the rest.
	for offset, i := 0x1BE, 0; i < 16*4; i++ {
		buf[offset+i] = 0
	}
	// then explicitly write the mbr signature
	buf[0x1FE] = 0x55
	buf[0x1FF] = 0xAA

	myMBR, err := mbr.Read(bytes.NewReader(buf))
	if err != nil {
		return mbr.MBR{}, err
	}

	pt := myMBR.GetPartition(1)
	pt.SetType(mbr.PART_GPT)
	pt.SetLBAStart(1)
	// UEFI says the protective entry covers size - 1 sectors; linux
	// partitioners write size - 2 and so do we.
	pt.SetLBALen(uint32(diskSize/uint64(sectorSize)) - 2) // nolint: gomnd

	for pnum := 2; pnum <= 4; pnum++ {
		pt := myMBR.GetPartition(pnum)
		pt.SetType(mbr.PART_EMPTY)
		pt.SetLBAStart(0)
		pt.SetLBALen(0)
	}

	return *myMBR, myMBR.Check()
}

// commitLabel writes label to the disk or image it belongs to. For block
// devices the kernel's view of the partitions is updated afterwards.
func commitLabel(label *devtree.DiskLabel) error {
	devicePath := label.Device()

	switch label.LabelType {
	case devtree.LabelGPT, devtree.LabelMSDOS:
	default:
		return fmt.Errorf("cannot write %s disk label on %s", label.LabelType, devicePath)
	}

	fp, err := os.OpenFile(devicePath, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer fp.Close()

	if err := unix.Flock(int(fp.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to lock %s: %s", devicePath, err)
	}

	switch {
	case label.LabelType == devtree.LabelGPT:
		err = writeGPTLabel(fp, label)
	case hasLogicals(label):
		err = runCommandStdin(sfdiskScript(devicePath, label), "sfdisk", "--no-reread", "--no-tell-kernel", devicePath)
	default:
		err = writeMBRLabel(fp, label)
	}

	if err != nil {
		return err
	}

	if err := fp.Sync(); err != nil {
		return err
	}

	info, err := os.Stat(devicePath)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %s", devicePath, err)
	}

	if info.Mode()&os.ModeDevice == 0 {
		return nil
	}

	// Close the filehandle and release the lock, then settle so that the
	// kernel can be told about the partitions.
	fp.Close()

	if err := udevSettle(); err != nil {
		return err
	}

	return syncKernelPartitions(devicePath, label)
}

// syncKernelPartitions makes the kernel's partitions of devicePath match
// label with addpart, resizepart and delpart.
func syncKernelPartitions(devicePath string, label *devtree.DiskLabel) error {
	want := map[uint]*devtree.LabelPartition{}
	for _, p := range label.Partitions {
		want[p.Number] = p
	}

	existing, err := kernelPartitions(devicePath)
	if err != nil {
		return err
	}

	for n := range existing {
		if _, ok := want[n]; ok {
			continue
		}

		if err := runCommand("delpart", devicePath, fmt.Sprintf("%d", n)); err != nil {
			return err
		}
	}

	// for the partx interfaces to the kernel, units are always 512.
	scale := label.SectorSize / sectorSize512

	for n, p := range want {
		start := fmt.Sprintf("%d", p.Start*scale)
		length := fmt.Sprintf("%d", p.Length()*scale)
		num := fmt.Sprintf("%d", n)

		if p.Role == devtree.PartitionExtended {
			// the kernel maps only the first sectors of an extended partition.
			length = fmt.Sprintf("%d", 2)
		}

		if existing[n] {
			err = runCommand("resizepart", devicePath, num, length)
		} else {
			err = runCommand("addpart", devicePath, num, start, length)
		}

		if err != nil {
			return err
		}
	}

	return udevSettle()
}

// kernelPartitions returns the partition numbers the kernel knows for
// devicePath.
func kernelPartitions(devicePath string) (map[uint]bool, error) {
	kname := path.Base(devicePath)
	found := map[uint]bool{}

	matches, err := filepath.Glob(path.Join("/sys/class/block", kname, kname+"*", "partition"))
	if err != nil {
		return nil, err
	}

	for _, m := range matches {
		content, err := os.ReadFile(m)
		if err != nil {
			return nil, err
		}

		var n uint
		if _, err := fmt.Sscanf(strings.TrimSpace(string(content)), "%d", &n); err != nil {
			return nil, fmt.Errorf("bad partition number in %s: %s", m, err)
		}

		found[n] = true
	}

	return found, nil
}
