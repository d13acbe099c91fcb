package devtree

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// UdevInfo captures the udev information about a device.
type UdevInfo struct {
	// Name of the device
	Name string

	// SysPath is the system path of this device.
	SysPath string

	// Symlinks for the device.
	Symlinks []string

	// Properties is udev information as a map of key, value pairs.
	Properties map[string]string
}

// ParseUdevInfo fills info from the output of
// 'udevadm info --query=all --export'. Properties already in info are kept.
func ParseUdevInfo(out []byte, info *UdevInfo) error {
	if info.Properties == nil {
		info.Properties = map[string]string{}
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		if len(line) < 3 || line[1:3] != ": " {
			return fmt.Errorf("bad udev line %q", line)
		}

		if err := info.addRecord(line[0], line[3:]); err != nil {
			return err
		}
	}

	return scanner.Err()
}

func (info *UdevInfo) addRecord(kind byte, payload string) error {
	switch kind {
	case 'P':
		info.SysPath = payload
	case 'N':
		info.Name = payload
	case 'S':
		info.Symlinks = append(info.Symlinks, strings.Fields(payload)...)
	case 'E':
		key, val, ok := strings.Cut(payload, "=")
		if !ok {
			return fmt.Errorf("bad udev property %q", payload)
		}

		// values are escaped: ID_MODEL_ENC=Integrated\x20Camera
		decoded, err := strconv.Unquote(`"` + val + `"`)
		if err != nil {
			return fmt.Errorf("bad udev property %s: %s", key, err)
		}

		info.Properties[key] = strings.TrimSpace(decoded)
	case 'L', 'M', 'R', 'U', 'I', 'J', 'Q', 'V', 'D', 'G', 'W':
	default:
		return fmt.Errorf("unknown udev record %q", kind)
	}

	return nil
}

type uRange struct {
	Start, End uint64
}

// findRangeGaps returns the inclusive ranges within [min, max] that none of
// used covers, in ascending order.
func findRangeGaps(used []uRange, min, max uint64) []uRange {
	sorted := append([]uRange{}, used...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	gaps := []uRange{}
	next := min

	for _, r := range sorted {
		if r.Start > max {
			break
		}

		if r.End < next {
			continue
		}

		if r.Start > next {
			gaps = append(gaps, uRange{next, r.Start - 1})
		}

		if r.End >= max {
			return gaps
		}

		next = r.End + 1
	}

	return append(gaps, uRange{next, max})
}

// Ceiling returns the smallest integer equal to or larger than val that is evenly
// divisible by unit.
func Ceiling(val, unit uint64) uint64 {
	if val%unit == 0 {
		return val
	}

	return ((val + unit) / unit) * unit
}

// Floor returns the largest integer equal to or less than val that is evenly
// divisible by unit.
func Floor(val, unit uint64) uint64 {
	if val%unit == 0 {
		return val
	}

	return (val / unit) * unit
}

// PartitionName returns the kernel name of partition number n on the disk
// with kernel name disk. Disks whose names end in a digit (nvme0n1,
// mmcblk0, md127) get a 'p' separator.
func PartitionName(disk string, n uint) string {
	if disk == "" {
		return ""
	}

	if unicode.IsDigit(rune(disk[len(disk)-1])) {
		return fmt.Sprintf("%sp%d", disk, n)
	}

	return fmt.Sprintf("%s%d", disk, n)
}

// majorMinor returns the "MMmmm" form used by kickstart pv. and raid. ids.
func majorMinor(major, minor int) string {
	return fmt.Sprintf("%02d%03d", major, minor)
}

func roundMiB(v float64) int64 {
	return int64(math.Round(v))
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := []string{}

	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	return out
}
