package mockos

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// pvHeader is the pe start the mock assumes for every pv, in MiB.
const pvHeader = 1.0

func lvMapName(vg, lv string) string {
	return strings.ReplaceAll(vg, "-", "--") + "-" + strings.ReplaceAll(lv, "-", "--")
}

func (ms *MockSystem) vg(name string) (*VG, error) {
	vg, ok := ms.VGs[name]
	if !ok {
		return nil, fmt.Errorf("volume group %s not found", name)
	}

	return vg, nil
}

// VGCreate adds the volume group.
func (ms *MockSystem) VGCreate(name string, pvs []string, peSize float64) error {
	if err := ms.call("VGCreate", name, strings.Join(pvs, ","), peSize); err != nil {
		return err
	}

	if _, ok := ms.VGs[name]; ok {
		return fmt.Errorf("volume group %s already exists", name)
	}

	for _, pv := range pvs {
		if ms.node(pv) == nil {
			return fmt.Errorf("%s: no such device", pv)
		}
	}

	ms.VGs[name] = &VG{PVs: append([]string{}, pvs...), PESize: peSize, LVs: map[string]float64{}}

	return nil
}

// VGRemove removes the volume group. It must have no logical volumes.
func (ms *MockSystem) VGRemove(name string) error {
	if err := ms.call("VGRemove", name); err != nil {
		return err
	}

	vg, err := ms.vg(name)
	if err != nil {
		return err
	}

	if len(vg.LVs) != 0 {
		return fmt.Errorf("volume group %s still contains %d logical volumes", name, len(vg.LVs))
	}

	delete(ms.VGs, name)

	return nil
}

// VGReduce drops pvs from the volume group.
func (ms *MockSystem) VGReduce(name string, pvs []string, removeMissing bool) error {
	if err := ms.call("VGReduce", name, strings.Join(pvs, ","), removeMissing); err != nil {
		return err
	}

	vg, err := ms.vg(name)
	if err != nil {
		return err
	}

	keep := []string{}

	for _, pv := range vg.PVs {
		drop := removeMissing && ms.node(pv) == nil

		for _, r := range pvs {
			if r == pv {
				drop = true
			}
		}

		if !drop {
			keep = append(keep, pv)
		}
	}

	vg.PVs = keep

	return nil
}

// VGDeactivate removes the maps of every lv in the group.
func (ms *MockSystem) VGDeactivate(name string) error {
	if err := ms.call("VGDeactivate", name); err != nil {
		return err
	}

	vg, err := ms.vg(name)
	if err != nil {
		return err
	}

	for lv := range vg.LVs {
		ms.RemoveMap(lvMapName(name, lv))
	}

	return nil
}

// VGInfo returns pe_size and pe_free.
func (ms *MockSystem) VGInfo(name string) (map[string]string, error) {
	if err := ms.call("VGInfo", name); err != nil {
		return nil, err
	}

	vg, err := ms.vg(name)
	if err != nil {
		return nil, err
	}

	free := 0
	if vg.Free != nil {
		free = *vg.Free
	} else {
		for _, pv := range vg.PVs {
			if n := ms.node(pv); n != nil {
				free += int(math.Floor((n.Size - pvHeader) / vg.PESize))
			}
		}

		for lv, size := range vg.LVs {
			if vg.thin[lv] {
				continue
			}

			free -= int(math.Ceil(size / vg.PESize))
		}
	}

	return map[string]string{
		"name":     name,
		"pe_size":  strconv.FormatFloat(vg.PESize, 'f', -1, 64),
		"pe_free":  strconv.Itoa(free),
		"pv_count": strconv.Itoa(len(vg.PVs)),
	}, nil
}

func (ms *MockSystem) addLV(vg, lv string, size float64) error {
	g, err := ms.vg(vg)
	if err != nil {
		return err
	}

	if _, ok := g.LVs[lv]; ok {
		return fmt.Errorf("logical volume %s/%s already exists", vg, lv)
	}

	g.LVs[lv] = size
	ms.AddMap(lvMapName(vg, lv), size)

	return nil
}

// LVCreate adds the lv and activates it.
func (ms *MockSystem) LVCreate(vg, lv string, size float64, pvs []string) error {
	if err := ms.call("LVCreate", vg, lv, size, strings.Join(pvs, ",")); err != nil {
		return err
	}

	return ms.addLV(vg, lv, size)
}

// LVRemove removes the lv.
func (ms *MockSystem) LVRemove(vg, lv string) error {
	if err := ms.call("LVRemove", vg, lv); err != nil {
		return err
	}

	g, err := ms.vg(vg)
	if err != nil {
		return err
	}

	if _, ok := g.LVs[lv]; !ok {
		return fmt.Errorf("logical volume %s/%s not found", vg, lv)
	}

	delete(g.LVs, lv)
	delete(g.thin, lv)
	ms.RemoveMap(lvMapName(vg, lv))

	return nil
}

// LVResize changes the lv size.
func (ms *MockSystem) LVResize(vg, lv string, size float64) error {
	if err := ms.call("LVResize", vg, lv, size); err != nil {
		return err
	}

	g, err := ms.vg(vg)
	if err != nil {
		return err
	}

	if _, ok := g.LVs[lv]; !ok {
		return fmt.Errorf("logical volume %s/%s not found", vg, lv)
	}

	g.LVs[lv] = size

	if n := ms.node("/dev/mapper/" + lvMapName(vg, lv)); n != nil {
		n.Size = size
	}

	return nil
}

// LVActivate adds the lv map.
func (ms *MockSystem) LVActivate(vg, lv string) error {
	if err := ms.call("LVActivate", vg, lv); err != nil {
		return err
	}

	g, err := ms.vg(vg)
	if err != nil {
		return err
	}

	size, ok := g.LVs[lv]
	if !ok {
		return fmt.Errorf("logical volume %s/%s not found", vg, lv)
	}

	ms.AddMap(lvMapName(vg, lv), size)

	return nil
}

// LVDeactivate removes the lv map.
func (ms *MockSystem) LVDeactivate(vg, lv string) error {
	if err := ms.call("LVDeactivate", vg, lv); err != nil {
		return err
	}

	ms.RemoveMap(lvMapName(vg, lv))

	return nil
}

// ThinPoolCreate adds the pool as an lv.
func (ms *MockSystem) ThinPoolCreate(vg, pool string, size, metaDataSize, chunkSize float64) error {
	if err := ms.call("ThinPoolCreate", vg, pool, size, metaDataSize, chunkSize); err != nil {
		return err
	}

	return ms.addLV(vg, pool, size)
}

// ThinLVCreate adds the thin lv. Thin lvs take no space in the group.
func (ms *MockSystem) ThinLVCreate(vg, pool, lv string, size float64) error {
	if err := ms.call("ThinLVCreate", vg, pool, lv, size); err != nil {
		return err
	}

	g, err := ms.vg(vg)
	if err != nil {
		return err
	}

	if _, ok := g.LVs[pool]; !ok {
		return fmt.Errorf("thin pool %s/%s not found", vg, pool)
	}

	if err := ms.addLV(vg, lv, size); err != nil {
		return err
	}

	if g.thin == nil {
		g.thin = map[string]bool{}
	}

	g.thin[lv] = true

	return nil
}
