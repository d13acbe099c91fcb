//go:build linux

package linux

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// lvmRow is one row of an lvm json report. Reports are requested with
// --unit=B so every size carries a trailing 'B'.
type lvmRow map[string]string

func (r lvmRow) bytes(key string) (uint64, error) {
	s := strings.TrimSuffix(r[key], "B")
	if s == "" {
		return 0, nil
	}

	num, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad size %s=%q in lvm report", key, r[key])
	}

	return num, nil
}

// parseLVMReport returns the rows of section ("pv", "vg" or "lv") in the
// output of an lvm command run with --report-format=json.
func parseLVMReport(out []byte, section string) ([]lvmRow, error) {
	var doc struct {
		Report []map[string][]lvmRow `json:"report"`
	}

	if err := json.Unmarshal(out, &doc); err != nil {
		return nil, errors.Wrapf(err, "bad lvm %s report", section)
	}

	rows := []lvmRow{}
	for _, r := range doc.Report {
		rows = append(rows, r[section]...)
	}

	return rows, nil
}

func lvmReport(cmd, section string, options string, args ...string) ([]lvmRow, error) {
	argv := []string{"lvm", cmd, "--options=" + options, "--report-format=json", "--unit=B"}
	argv = append(argv, args...)

	out, stderr, rc := runCommandWithOutputErrorRc(argv...)
	if rc != 0 {
		return nil, cmdError(argv, out, stderr, rc)
	}

	return parseLVMReport(out, section)
}

// sizes reads the byte counts of keys from r into dests.
func (r lvmRow) sizes(keys []string, dests ...*uint64) error {
	for i, k := range keys {
		n, err := r.bytes(k)
		if err != nil {
			return err
		}

		*dests[i] = n
	}

	return nil
}

type lvmPVData struct {
	Path         string
	Size         uint64
	VGName       string
	UUID         string
	Free         uint64
	MetadataSize uint64
}

func pvFromRow(r lvmRow) (lvmPVData, error) {
	d := lvmPVData{Path: r["pv_name"], VGName: r["vg_name"], UUID: r["pv_uuid"]}
	err := r.sizes([]string{"pv_size", "pv_mda_size", "pv_free"}, &d.Size, &d.MetadataSize, &d.Free)

	return d, err
}

type lvmVGData struct {
	Name       string
	Size       uint64
	UUID       string
	Free       uint64
	ExtentSize uint64
	FreeCount  uint64
	PVCount    uint64
}

func vgFromRow(r lvmRow) (lvmVGData, error) {
	d := lvmVGData{Name: r["vg_name"], UUID: r["vg_uuid"]}
	err := r.sizes(
		[]string{"vg_size", "vg_free", "vg_extent_size", "vg_free_count", "pv_count"},
		&d.Size, &d.Free, &d.ExtentSize, &d.FreeCount, &d.PVCount)

	return d, err
}

type lvmLVData struct {
	Name   string
	VGName string
	Path   string
	Size   uint64
	UUID   string
	Active bool
	Pool   string
}

func lvFromRow(r lvmRow) (lvmLVData, error) {
	d := lvmLVData{
		Name:   r["lv_name"],
		VGName: r["vg_name"],
		Path:   r["lv_path"],
		UUID:   r["lv_uuid"],
		Active: r["lv_active"] == "active",
		Pool:   r["pool_lv"],
	}
	err := r.sizes([]string{"lv_size"}, &d.Size)

	return d, err
}

func convertRows[T any](rows []lvmRow, conv func(lvmRow) (T, error)) ([]T, error) {
	out := make([]T, 0, len(rows))

	for _, r := range rows {
		d, err := conv(r)
		if err != nil {
			return nil, err
		}

		out = append(out, d)
	}

	return out, nil
}

func getPvReport(args ...string) ([]lvmPVData, error) {
	rows, err := lvmReport("pvs", "pv", "pv_all,vg_name", args...)
	if err != nil {
		return nil, err
	}

	return convertRows(rows, pvFromRow)
}

func getVgReport(args ...string) ([]lvmVGData, error) {
	rows, err := lvmReport("vgs", "vg", "vg_all", args...)
	if err != nil {
		return nil, err
	}

	return convertRows(rows, vgFromRow)
}

func getLvReport(args ...string) ([]lvmLVData, error) {
	rows, err := lvmReport("lvs", "lv", "lv_all,vg_name", args...)
	if err != nil {
		return nil, err
	}

	return convertRows(rows, lvFromRow)
}
