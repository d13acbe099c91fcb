package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
	"machinerun.io/devtree"
	"machinerun.io/devtree/format"
	"machinerun.io/devtree/partid"
)

// Plan is a storage layout read from a yaml file. Devices refer to each
// other by their plan ids.
type Plan struct {
	Disks  []DiskPlan  `yaml:"disks"`
	VGs    []VGPlan    `yaml:"volumeGroups"`
	Arrays []ArrayPlan `yaml:"raids"`
}

// FormatPlan is the format of a device.
type FormatPlan struct {
	Type       string `yaml:"type"`
	Mountpoint string `yaml:"mountpoint"`
	Label      string `yaml:"label"`
	Options    string `yaml:"options"`
	Passphrase string `yaml:"passphrase"`
}

// DiskPlan is a disk and the partitions to create on it.
type DiskPlan struct {
	Path string `yaml:"path"`

	// Size in MiB of a mock disk that is not in the layout.
	Size float64 `yaml:"size"`

	// Label is the type of a new disk label. Empty keeps the label on disk.
	Label string `yaml:"label"`

	Partitions []PartitionPlan `yaml:"partitions"`
}

// PartitionPlan is a new partition.
type PartitionPlan struct {
	ID       string      `yaml:"id"`
	Size     float64     `yaml:"size"`
	Grow     bool        `yaml:"grow"`
	MaxSize  float64     `yaml:"maxsize"`
	Type     string      `yaml:"type"`
	Primary  bool        `yaml:"primary"`
	Bootable bool        `yaml:"bootable"`
	Format   *FormatPlan `yaml:"format"`
}

// VGPlan is a new volume group.
type VGPlan struct {
	Name            string   `yaml:"name"`
	PVs             []string `yaml:"pvs"`
	PESize          float64  `yaml:"pesize"`
	ReservedPercent float64  `yaml:"reservedPercent"`
	ReservedSpace   float64  `yaml:"reservedSpace"`
	Volumes         []LVPlan `yaml:"volumes"`
	Pools           []Pool   `yaml:"thinpools"`
}

// LVPlan is a new logical volume.
type LVPlan struct {
	Name     string      `yaml:"name"`
	Size     float64     `yaml:"size"`
	Grow     bool        `yaml:"grow"`
	MaxSize  float64     `yaml:"maxsize"`
	Percent  float64     `yaml:"percent"`
	SinglePV bool        `yaml:"singlePV"`
	Format   *FormatPlan `yaml:"format"`
}

// Pool is a new thin pool and its thin volumes.
type Pool struct {
	Name         string   `yaml:"name"`
	Size         float64  `yaml:"size"`
	MetaDataSize float64  `yaml:"metadatasize"`
	ChunkSize    float64  `yaml:"chunksize"`
	Volumes      []LVPlan `yaml:"volumes"`
}

// ArrayPlan is a new md array.
type ArrayPlan struct {
	Name     string      `yaml:"name"`
	Level    string      `yaml:"level"`
	Members  []string    `yaml:"members"`
	Spares   int         `yaml:"spares"`
	Metadata string      `yaml:"metadata"`
	Format   *FormatPlan `yaml:"format"`
}

//nolint:gochecknoglobals
var partTypes = map[string][16]byte{
	"linux":     partid.LinuxFS,
	"lvm":       partid.LinuxLVM,
	"raid":      partid.LinuxRAID,
	"swap":      partid.LinuxSwap,
	"efi":       partid.EFI,
	"bios-boot": partid.BIOSBoot,
	"prep":      partid.PRePBoot,
}

// LoadPlanFile loads a plan from a yaml file.
func LoadPlanFile(fpath string) (*Plan, error) {
	data, err := os.ReadFile(fpath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read plan %s", fpath)
	}

	return LoadPlan(data)
}

// LoadPlan loads a plan from yaml.
func LoadPlan(data []byte) (*Plan, error) {
	var p Plan

	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal plan")
	}

	if err := p.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid plan")
	}

	return &p, nil
}

func (p *Plan) validate() error {
	ids := map[string]bool{}

	addID := func(id string) error {
		if id == "" {
			return nil
		}

		if ids[id] {
			return fmt.Errorf("duplicate id '%s'", id)
		}

		ids[id] = true

		return nil
	}

	if len(p.Disks) == 0 {
		return fmt.Errorf("no disks")
	}

	for _, d := range p.Disks {
		if d.Path == "" {
			return fmt.Errorf("disk without a path")
		}

		for i, part := range d.Partitions {
			if part.Size <= 0 {
				return fmt.Errorf("%s: partition %d needs a size", d.Path, i+1)
			}

			if _, ok := partTypes[part.Type]; part.Type != "" && !ok {
				return fmt.Errorf("%s: unknown partition type '%s'", d.Path, part.Type)
			}

			if err := addID(part.ID); err != nil {
				return err
			}
		}
	}

	for _, a := range p.Arrays {
		if err := addID(a.Name); err != nil {
			return err
		}
	}

	for _, vg := range p.VGs {
		if vg.Name == "" {
			return fmt.Errorf("volume group without a name")
		}

		for _, pv := range vg.PVs {
			if !ids[pv] {
				return fmt.Errorf("volume group %s: unknown pv '%s'", vg.Name, pv)
			}
		}
	}

	for _, a := range p.Arrays {
		for _, m := range a.Members {
			if !ids[m] {
				return fmt.Errorf("raid %s: unknown member '%s'", a.Name, m)
			}
		}
	}

	return nil
}

// builder turns a plan into devices of a tree.
type builder struct {
	be   *backend
	tree *devtree.Tree
	refs map[string]devtree.Device
}

// Build adds the devices of the plan to a new tree.
func (p *Plan) Build(be *backend) (*devtree.Tree, error) {
	b := &builder{be: be, tree: be.newTree(), refs: map[string]devtree.Device{}}

	for _, d := range p.Disks {
		if err := b.disk(d); err != nil {
			return nil, errors.Wrapf(err, "disk %s", d.Path)
		}
	}

	// arrays may be pvs, and are built before the groups.
	for _, a := range p.Arrays {
		if err := b.array(a); err != nil {
			return nil, errors.Wrapf(err, "raid %s", a.Name)
		}
	}

	for _, vg := range p.VGs {
		if err := b.volumeGroup(vg); err != nil {
			return nil, errors.Wrapf(err, "volume group %s", vg.Name)
		}
	}

	return b.tree, nil
}

func (b *builder) format(fp *FormatPlan) (devtree.Format, error) {
	if fp == nil || fp.Type == "" {
		return nil, nil
	}

	return format.New(b.be.tools, fp.Type, format.Args{
		Mountpoint: fp.Mountpoint,
		Label:      fp.Label,
		Options:    fp.Options,
		Passphrase: fp.Passphrase,
		Priority:   -1,
	})
}

// partType picks the partition type from the plan or from the format.
func partType(pp PartitionPlan) [16]byte {
	if t, ok := partTypes[pp.Type]; ok {
		return t
	}

	if pp.Format == nil {
		return partid.LinuxFS
	}

	switch pp.Format.Type {
	case "lvmpv":
		return partid.LinuxLVM
	case "mdmember":
		return partid.LinuxRAID
	case "swap":
		return partid.LinuxSwap
	case "efi":
		return partid.EFI
	case "prepboot":
		return partid.PRePBoot
	case "biosboot":
		return partid.BIOSBoot
	}

	return partid.LinuxFS
}

func (b *builder) disk(dp DiskPlan) error {
	disk, err := b.be.addDisk(b.tree, dp.Path, dp.Size)
	if err != nil {
		return err
	}

	if dp.Label != "" {
		if len(b.tree.Children(disk)) != 0 {
			return fmt.Errorf("cannot replace the label of a disk with partitions")
		}

		label, err := devtree.NewDiskLabel(b.be.env.System, devtree.DiskLabelArgs{
			Type:       dp.Label,
			SectorSize: 512,
			Sectors:    int64(disk.Size() * 2048),
		})
		if err != nil {
			return err
		}

		if err := disk.SetFormat(label); err != nil {
			return err
		}
	}

	for _, pp := range dp.Partitions {
		f, err := b.format(pp.Format)
		if err != nil {
			return err
		}

		part, err := b.tree.NewPartition("", disk, devtree.PartitionArgs{
			StorageArgs: devtree.StorageArgs{
				Size:    pp.Size,
				Grow:    pp.Grow,
				MaxSize: pp.MaxSize,
				Format:  f,
			},
			Type:     partType(pp),
			Primary:  pp.Primary,
			Bootable: pp.Bootable,
		})
		if err != nil {
			return err
		}

		if pp.ID != "" {
			b.refs[pp.ID] = part
		}
	}

	return nil
}

func (b *builder) lookup(ids []string) []devtree.Device {
	devs := make([]devtree.Device, len(ids))
	for i, id := range ids {
		devs[i] = b.refs[id]
	}

	return devs
}

func (b *builder) array(ap ArrayPlan) error {
	level, err := devtree.ParseRAIDLevel(ap.Level)
	if err != nil {
		return err
	}

	f, err := b.format(ap.Format)
	if err != nil {
		return err
	}

	members := b.lookup(ap.Members)

	args := devtree.MDArgs{
		StorageArgs: devtree.StorageArgs{Format: f},
		Level:       level,
		Metadata:    ap.Metadata,
	}

	if ap.Spares > 0 {
		args.MemberDevices = len(members) - ap.Spares
	}

	md, err := b.tree.NewMDArray(ap.Name, members, args)
	if err != nil {
		return err
	}

	b.refs[ap.Name] = md

	return nil
}

func (b *builder) lvArgs(lp LVPlan) (devtree.LVArgs, error) {
	f, err := b.format(lp.Format)
	if err != nil {
		return devtree.LVArgs{}, err
	}

	return devtree.LVArgs{
		StorageArgs: devtree.StorageArgs{
			Size:    lp.Size,
			Grow:    lp.Grow,
			MaxSize: lp.MaxSize,
			Format:  f,
		},
		Percent:  lp.Percent,
		SinglePV: lp.SinglePV,
	}, nil
}

func (b *builder) volumeGroup(vp VGPlan) error {
	vg, err := b.tree.NewVolumeGroup(vp.Name, b.lookup(vp.PVs), devtree.VGArgs{
		PESize:          vp.PESize,
		ReservedPercent: vp.ReservedPercent,
		ReservedSpace:   vp.ReservedSpace,
	})
	if err != nil {
		return err
	}

	for _, lp := range vp.Volumes {
		args, err := b.lvArgs(lp)
		if err != nil {
			return err
		}

		if _, err := b.tree.NewLogicalVolume(lp.Name, vg, args); err != nil {
			return errors.Wrapf(err, "logical volume %s", lp.Name)
		}
	}

	for _, pp := range vp.Pools {
		pool, err := b.tree.NewThinPool(pp.Name, vg, devtree.ThinPoolArgs{
			LVArgs:       devtree.LVArgs{StorageArgs: devtree.StorageArgs{Size: pp.Size}},
			MetaDataSize: pp.MetaDataSize,
			ChunkSize:    pp.ChunkSize,
		})
		if err != nil {
			return errors.Wrapf(err, "thin pool %s", pp.Name)
		}

		for _, lp := range pp.Volumes {
			args, err := b.lvArgs(lp)
			if err != nil {
				return err
			}

			if _, err := b.tree.NewThinLV(lp.Name, pool, args); err != nil {
				return errors.Wrapf(err, "thin volume %s", lp.Name)
			}
		}
	}

	return nil
}

// apply creates every device and format of tree that does not exist yet.
// Devices come in the order they were added, which puts parents first.
func apply(tree *devtree.Tree) error {
	for _, d := range tree.Devices() {
		if !d.Exists() {
			log.Info().Str("device", d.Name()).Str("type", d.Type()).Msg("create device")

			if err := tree.CreateDevice(d); err != nil {
				return err
			}
		}

		f := d.Format()
		if f == nil || f.Type() == "" || f.Exists() {
			continue
		}

		log.Info().Str("device", d.Name()).Str("format", f.Type()).Msg("create format")

		if err := f.Create(); err != nil {
			return errors.Wrapf(err, "format %s on %s", f.Type(), d.Name())
		}
	}

	return nil
}
