//go:build linux

package linux

import (
	"fmt"
	"strconv"
)

// lvmCommand runs lvm subcommand cmd. Volume group changes invalidate the
// cached udev data.
func (s *System) lvmCommand(cmd string, args ...string) error {
	defer s.invalidate()

	return runCommandSettled(append([]string{"lvm", cmd}, args...)...)
}

// VGCreate creates volume group name over pvs.
func (s *System) VGCreate(name string, pvs []string, peSize float64) error {
	args := []string{"--force", "--zero=y", "--physicalextentsize=" + sizeArg(peSize), name}

	return s.lvmCommand("vgcreate", append(args, pvs...)...)
}

// VGRemove removes volume group name.
func (s *System) VGRemove(name string) error {
	return s.lvmCommand("vgremove", "--force", name)
}

// VGReduce removes pvs from name, or every missing pv with removeMissing.
func (s *System) VGReduce(name string, pvs []string, removeMissing bool) error {
	if removeMissing {
		return s.lvmCommand("vgreduce", "--removemissing", "--force", name)
	}

	return s.lvmCommand("vgreduce", append([]string{name}, pvs...)...)
}

// VGDeactivate deactivates every logical volume in name.
func (s *System) VGDeactivate(name string) error {
	return s.lvmCommand("vgchange", "--activate=n", name)
}

// VGInfo reports the extent size in MiB as pe_size and the free extents as
// pe_free.
func (s *System) VGInfo(name string) (map[string]string, error) {
	vgs, err := getVgReport(name)
	if err != nil {
		return nil, err
	}

	if len(vgs) != 1 {
		return nil, fmt.Errorf("lvm vgs %s returned %d volume groups", name, len(vgs))
	}

	vg := vgs[0]

	return map[string]string{
		"name":     vg.Name,
		"uuid":     vg.UUID,
		"pe_size":  strconv.FormatFloat(toMiB(int64(vg.ExtentSize)), 'f', -1, 64),
		"pe_free":  strconv.FormatUint(vg.FreeCount, 10),
		"pv_count": strconv.FormatUint(vg.PVCount, 10),
	}, nil
}

// LVCreate creates linear volume lv of size MiB in vg, optionally
// restricted to pvs.
func (s *System) LVCreate(vg, lv string, size float64, pvs []string) error {
	args := []string{"--yes", "--wipesignatures=y", "--size=" + sizeArg(size), "--name=" + lv, vg}

	return s.lvmCommand("lvcreate", append(args, pvs...)...)
}

// LVRemove removes lv from vg.
func (s *System) LVRemove(vg, lv string) error {
	return s.lvmCommand("lvremove", "--force", vgLv(vg, lv))
}

// LVResize sets the size of lv to size MiB.
func (s *System) LVResize(vg, lv string, size float64) error {
	return s.lvmCommand("lvresize", "--force", "--size="+sizeArg(size), vgLv(vg, lv))
}

// LVActivate activates lv.
func (s *System) LVActivate(vg, lv string) error {
	return s.lvmCommand("lvchange", "--activate=y", vgLv(vg, lv))
}

// LVDeactivate deactivates lv.
func (s *System) LVDeactivate(vg, lv string) error {
	return s.lvmCommand("lvchange", "--activate=n", vgLv(vg, lv))
}

// ThinPoolCreate creates thin pool pool of size MiB in vg.
func (s *System) ThinPoolCreate(vg, pool string, size, metaDataSize, chunkSize float64) error {
	args := []string{"--yes", "--type=thin-pool", "--size=" + sizeArg(size), "--name=" + pool}

	if metaDataSize > 0 {
		args = append(args, "--poolmetadatasize="+sizeArg(metaDataSize))
	}

	if chunkSize > 0 {
		args = append(args, fmt.Sprintf("--chunksize=%dk", int64(chunkSize*1024)))
	}

	return s.lvmCommand("lvcreate", append(args, vg)...)
}

// ThinLVCreate creates thin volume lv with virtual size MiB in pool.
func (s *System) ThinLVCreate(vg, pool, lv string, size float64) error {
	return s.lvmCommand("lvcreate", "--yes", "--type=thin",
		"--virtualsize="+sizeArg(size), "--name="+lv, "--thinpool="+vgLv(vg, pool))
}

// PhysicalVolumes reports the lvm physical volumes on the host.
func (s *System) PhysicalVolumes() ([]PVInfo, error) {
	pvds, err := getPvReport()
	if err != nil {
		return nil, err
	}

	pvs := []PVInfo{}
	for _, pvd := range pvds {
		pvs = append(pvs, pvd.toPVInfo())
	}

	return pvs, nil
}

// LogicalVolumes reports the logical volumes of vg.
func (s *System) LogicalVolumes(vg string) ([]LVInfo, error) {
	lvds, err := getLvReport(vg)
	if err != nil {
		return nil, err
	}

	lvs := []LVInfo{}
	for _, lvd := range lvds {
		lvs = append(lvs, lvd.toLVInfo())
	}

	return lvs, nil
}

// PVInfo describes a physical volume. Sizes are in MiB.
type PVInfo struct {
	Path   string  `json:"path"`
	VGName string  `json:"vgName"`
	UUID   string  `json:"uuid"`
	Size   float64 `json:"size"`
	Free   float64 `json:"free"`
}

// LVInfo describes a logical volume. Sizes are in MiB.
type LVInfo struct {
	Name   string  `json:"name"`
	VGName string  `json:"vgName"`
	Path   string  `json:"path"`
	UUID   string  `json:"uuid"`
	Size   float64 `json:"size"`
	Active bool    `json:"active"`
	Pool   string  `json:"pool"`
}

func (d *lvmPVData) toPVInfo() PVInfo {
	return PVInfo{
		Path:   d.Path,
		VGName: d.VGName,
		UUID:   d.UUID,
		Size:   toMiB(int64(d.Size)),
		Free:   toMiB(int64(d.Free)),
	}
}

func (d *lvmLVData) toLVInfo() LVInfo {
	lvpath := d.Path
	if lvpath == "" {
		lvpath = lvPath(d.VGName, d.Name)
	}

	return LVInfo{
		Name:   d.Name,
		VGName: d.VGName,
		Path:   lvpath,
		UUID:   d.UUID,
		Size:   toMiB(int64(d.Size)),
		Active: d.Active,
		Pool:   d.Pool,
	}
}
