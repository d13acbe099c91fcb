package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/urfave/cli/v2"
	"machinerun.io/devtree"
	"machinerun.io/devtree/format"
	"machinerun.io/devtree/mockos"
)

//nolint:gochecknoglobals
var vgMathCommand = cli.Command{
	Name:      "vg-math",
	Usage:     "Show volume group space for pvs of the given sizes",
	ArgsUsage: "pv-size-MiB...",
	Action:    vgMath,
	Flags: []cli.Flag{
		&cli.Float64Flag{
			Name:  "pesize",
			Value: devtree.DefaultPESize,
			Usage: "Physical extent size in MiB",
		},
		&cli.Float64Flag{
			Name:  "reserved-percent",
			Usage: "Percentage of the group to keep free",
		},
		&cli.Float64SliceFlag{
			Name:  "lv",
			Usage: "Size in MiB of a logical volume to allocate (repeatable)",
		},
	},
}

//nolint:gochecknoglobals
var raidMathCommand = cli.Command{
	Name:      "raid-math",
	Usage:     "Show the size of an md array over members of the given sizes",
	ArgsUsage: "member-size-MiB...",
	Action:    raidMath,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "level",
			Value: "raid1",
			Usage: "Raid level",
		},
		&cli.StringFlag{
			Name:  "metadata",
			Usage: "Metadata version (default " + devtree.DefaultMDMetadata + ")",
		},
		&cli.IntFlag{
			Name:  "spares",
			Usage: "Number of spare members",
		},
	},
}

//nolint:gochecknoglobals
var udevCommand = cli.Command{
	Name:      "udev",
	Usage:     "Show udev properties from 'udevadm info --export' output (- for stdin)",
	ArgsUsage: "[file]",
	Action:    udevShow,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "name",
			Usage: "Query the backend for the device with this kernel name instead",
		},
	},
}

func parseSizes(args []string) ([]float64, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no sizes given")
	}

	sizes := make([]float64, len(args))

	for i, a := range args {
		s, err := strconv.ParseFloat(a, 64)
		if err != nil || s <= 0 {
			return nil, fmt.Errorf("invalid size '%s'", a)
		}

		sizes[i] = s
	}

	return sizes, nil
}

// scratchDisks adds one disk per size to a tree on an empty mock host. Each
// disk carries a format of type fstype.
func scratchDisks(fstype string, sizes []float64) (*devtree.Tree, []devtree.Device, error) {
	sys := mockos.New()
	tree := devtree.NewTree(sys.Env())
	disks := []devtree.Device{}

	for i, size := range sizes {
		name := fmt.Sprintf("vd%c", 'a'+i)
		sys.AddNode("/dev/"+name, size)

		f, err := format.New(sys, fstype, format.Args{})
		if err != nil {
			return nil, nil, err
		}

		d, err := tree.NewDisk(name, devtree.DiskArgs{StorageArgs: devtree.StorageArgs{Size: size, Format: f}})
		if err != nil {
			return nil, nil, err
		}

		disks = append(disks, d)
	}

	return tree, disks, nil
}

type vgReport struct {
	vg   *devtree.VolumeGroup
	lvs  [][]string
	fail error
}

func vgSpace(sizes []float64, peSize, reserved float64, lvSizes []float64) (*vgReport, error) {
	tree, pvs, err := scratchDisks("lvmpv", sizes)
	if err != nil {
		return nil, err
	}

	vg, err := tree.NewVolumeGroup("vg", pvs, devtree.VGArgs{PESize: peSize, ReservedPercent: reserved})
	if err != nil {
		return nil, err
	}

	r := &vgReport{vg: vg}

	for i, size := range lvSizes {
		lv, err := tree.NewLogicalVolume(fmt.Sprintf("lv%d", i), vg, devtree.LVArgs{
			StorageArgs: devtree.StorageArgs{Size: size},
		})
		if err != nil {
			r.fail = err
			break
		}

		r.lvs = append(r.lvs, []string{lv.Name(), humanSize(size), humanSize(lv.Size()),
			humanSize(vg.FreeSpace())})
	}

	return r, nil
}

func vgMath(c *cli.Context) error {
	sizes, err := parseSizes(c.Args().Slice())
	if err != nil {
		return err
	}

	r, err := vgSpace(sizes, c.Float64("pesize"), c.Float64("reserved-percent"), c.Float64Slice("lv"))
	if err != nil {
		return err
	}

	vg := r.vg

	printTextTable([][]string{
		{"PE Size", "Extents", "Size", "Reserved", "Free", "Free Extents"},
		{humanSize(vg.PESize()), strconv.Itoa(vg.Extents()), humanSize(vg.Size()),
			humanSize(vg.ReservedSpace()), humanSize(vg.FreeSpace()), strconv.Itoa(vg.FreeExtents())},
	})

	if len(r.lvs) != 0 {
		fmt.Println()
		printTextTable(append([][]string{{"LV", "Requested", "Allocated", "VG Free"}}, r.lvs...))
	}

	return r.fail
}

func raidArray(sizes []float64, levelName, metadata string, spares int) (*devtree.MDArray, error) {
	level, err := devtree.ParseRAIDLevel(levelName)
	if err != nil {
		return nil, err
	}

	tree, members, err := scratchDisks("mdmember", sizes)
	if err != nil {
		return nil, err
	}

	args := devtree.MDArgs{Level: level, Metadata: metadata}
	if spares > 0 {
		args.MemberDevices = len(members) - spares
	}

	return tree.NewMDArray("md0", members, args)
}

func raidMath(c *cli.Context) error {
	sizes, err := parseSizes(c.Args().Slice())
	if err != nil {
		return err
	}

	md, err := raidArray(sizes, c.String("level"), c.String("metadata"), c.Int("spares"))
	if err != nil {
		return err
	}

	printTextTable([][]string{
		{"Level", "Members", "Spares", "Metadata", "Raw Size", "Superblock", "Size"},
		{md.Level().String(), strconv.Itoa(md.MemberDevices()), strconv.Itoa(md.Spares()),
			md.Metadata(), humanSize(md.RawArraySize()), humanSize(md.SuperBlockSize()),
			humanSize(md.Size())},
	})

	return nil
}

func udevShow(c *cli.Context) error {
	var info devtree.UdevInfo

	if name := c.String("name"); name != "" {
		be, err := getBackend(c)
		if err != nil {
			return err
		}

		if info, err = be.env.System.UdevInfo(name); err != nil {
			return err
		}
	} else {
		var r io.Reader = os.Stdin

		if fname := c.Args().First(); fname != "" && fname != "-" {
			fp, err := os.Open(fname)
			if err != nil {
				return err
			}

			defer fp.Close()

			r = fp
		}

		out, err := io.ReadAll(r)
		if err != nil {
			return err
		}

		if err := devtree.ParseUdevInfo(out, &info); err != nil {
			return err
		}
	}

	fmt.Printf("name: %s\nsyspath: %s\n", info.Name, info.SysPath)

	for _, s := range info.Symlinks {
		fmt.Printf("symlink: %s\n", s)
	}

	keys := make([]string, 0, len(info.Properties))
	for k := range info.Properties {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	data := [][]string{{"Property", "Value"}}
	for _, k := range keys {
		data = append(data, []string{k, info.Properties[k]})
	}

	printTextTable(data)

	return nil
}
