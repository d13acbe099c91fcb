//go:build linux

package linux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const lvsThinReport = `{
  "report": [
    {
      "lv": [
        {"lv_name": "pool", "vg_name": "vg0", "lv_path": "", "lv_size": "1073741824B",
         "lv_uuid": "m1pyuQ-Hs2T-2bUS-pXSq-8cAs-v0nQ-4YQmfE", "lv_active": "active", "pool_lv": ""},
        {"lv_name": "home", "vg_name": "vg0", "lv_path": "/dev/vg0/home", "lv_size": "524288000B",
         "lv_uuid": "S3ZkJv-3mCt-vrKx-Fq3Z-fZ5N-uGTo-CpUOnU", "lv_active": "", "pool_lv": "pool"}
      ]
    }
  ]
}`

func TestParseLVMReportLV(t *testing.T) {
	ast := assert.New(t)

	rows, err := parseLVMReport([]byte(lvsThinReport), "lv")
	if !ast.Nil(err) {
		return
	}

	lvs, err := convertRows(rows, lvFromRow)
	if !ast.Nil(err) {
		return
	}

	ast.Equal(
		[]lvmLVData{
			{Name: "pool", VGName: "vg0", Size: 1 << 30, UUID: "m1pyuQ-Hs2T-2bUS-pXSq-8cAs-v0nQ-4YQmfE", Active: true},
			{Name: "home", VGName: "vg0", Path: "/dev/vg0/home", Size: 500 << 20,
				UUID: "S3ZkJv-3mCt-vrKx-Fq3Z-fZ5N-uGTo-CpUOnU", Pool: "pool"},
		},
		lvs)

	ast.Equal("/dev/vg0/pool", lvs[0].toLVInfo().Path)
	ast.Equal(float64(500), lvs[1].toLVInfo().Size)
}

func TestParseLVMReportVG(t *testing.T) {
	ast := assert.New(t)

	rows, err := parseLVMReport([]byte(`{"report": [{"vg": [{
		"vg_name": "vg0", "vg_uuid": "Bq1ceW-0O2R-vRcN-aiTK-FbCo-L4pN-fJ1DXu",
		"vg_size": "10733223936B", "vg_free": "8585740288B",
		"vg_extent_size": "4194304B", "vg_free_count": "2047", "pv_count": "2",
		"vg_attr": "wz--n-"}]}]}`), "vg")
	if !ast.Nil(err) {
		return
	}

	vgs, err := convertRows(rows, vgFromRow)
	if !ast.Nil(err) {
		return
	}

	ast.Equal(
		[]lvmVGData{{
			Name:       "vg0",
			UUID:       "Bq1ceW-0O2R-vRcN-aiTK-FbCo-L4pN-fJ1DXu",
			Size:       10733223936,
			Free:       8585740288,
			ExtentSize: 4 << 20,
			FreeCount:  2047,
			PVCount:    2,
		}},
		vgs)
}

func TestParseLVMReportPV(t *testing.T) {
	ast := assert.New(t)

	rows, err := parseLVMReport([]byte(`{"report": [{"pv": [
		{"pv_name": "/dev/sda2", "vg_name": "vg0", "pv_uuid": "a",
		 "pv_size": "5368709120B", "pv_free": "0B", "pv_mda_size": "1044480B"},
		{"pv_name": "/dev/sdb", "vg_name": "", "pv_uuid": "b",
		 "pv_size": "2147483648B", "pv_free": "2147483648B", "pv_mda_size": "1044480B"}
	]}]}`), "pv")
	if !ast.Nil(err) {
		return
	}

	pvs, err := convertRows(rows, pvFromRow)
	if !ast.Nil(err) {
		return
	}

	ast.Len(pvs, 2)
	ast.Equal(PVInfo{Path: "/dev/sda2", VGName: "vg0", UUID: "a", Size: 5120}, pvs[0].toPVInfo())
	ast.Equal(PVInfo{Path: "/dev/sdb", UUID: "b", Size: 2048, Free: 2048}, pvs[1].toPVInfo())
	ast.Equal(uint64(1044480), pvs[1].MetadataSize)
}

func TestParseLVMReportEmpty(t *testing.T) {
	ast := assert.New(t)

	rows, err := parseLVMReport([]byte(`{"report": []}`), "lv")
	ast.Nil(err)
	ast.Empty(rows)

	rows, err = parseLVMReport([]byte(`{"report": [{"vg": []}]}`), "lv")
	ast.Nil(err)
	ast.Empty(rows)
}

func TestParseLVMReportErrors(t *testing.T) {
	ast := assert.New(t)

	_, err := parseLVMReport([]byte(`{"report": `), "pv")
	ast.NotNil(err)

	rows, err := parseLVMReport([]byte(`{"report": [{"lv": [{"lv_name": "x", "lv_size": "12.5mB"}]}]}`), "lv")
	if ast.Nil(err) {
		_, err = convertRows(rows, lvFromRow)
		ast.NotNil(err)
	}

	n, err := lvmRow{"vg_free_count": "7"}.bytes("vg_free_count")
	ast.Nil(err)
	ast.Equal(uint64(7), n)

	n, err = lvmRow{}.bytes("missing")
	ast.Nil(err)
	ast.Zero(n)
}
