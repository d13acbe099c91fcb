package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"machinerun.io/devtree"
	"machinerun.io/devtree/linux"
	"machinerun.io/devtree/partid"
)

//nolint:gochecknoglobals
var diskCommands = cli.Command{
	Name:  "disk",
	Usage: "disk / partition commands",
	Subcommands: []*cli.Command{
		{
			Name:      "show",
			Usage:     "Scan disks and show their partitions (human)",
			ArgsUsage: "[disk...]",
			Action:    diskShow,
		},
		{
			Name:      "dump",
			Usage:     "Scan disks and dump their labels (json)",
			ArgsUsage: "[disk...]",
			Action:    diskDump,
		},
		{
			Name:      "wipe",
			Usage:     "Wipe the signatures and partition table of disks",
			ArgsUsage: "disk...",
			Action:    diskWipe,
		},
	},
}

// scanDisks adds the disks at paths to a new tree. With no paths every disk
// of a linux host is scanned.
func scanDisks(be *backend, paths []string) (*devtree.Tree, []*devtree.Disk, error) {
	if len(paths) == 0 {
		if be.sys == nil {
			return nil, nil, fmt.Errorf("the %s backend needs disk paths", backendMock)
		}

		names, err := linux.DiskNames()
		if err != nil {
			return nil, nil, err
		}

		for _, n := range names {
			paths = append(paths, "/dev/"+n)
		}
	}

	tree := be.newTree()
	disks := []*devtree.Disk{}

	for _, p := range paths {
		d, err := be.addDisk(tree, p, 0)
		if err != nil {
			return nil, nil, err
		}

		disks = append(disks, d)
	}

	return tree, disks, nil
}

func diskShow(c *cli.Context) error {
	be, err := getBackend(c)
	if err != nil {
		return err
	}

	_, disks, err := scanDisks(be, c.Args().Slice())
	if err != nil {
		return err
	}

	for _, d := range disks {
		fmt.Printf("%s %s %s %s %s\n", d.Path(), humanSize(d.Size()), d.DiskType(), d.Attachment(),
			d.Description())

		label, err := d.Label()
		if err != nil {
			fmt.Printf("  no partition table\n\n")
			continue
		}

		data := [][]string{{"Num", "Role", "Start", "End", "Size", "Type", "Name"}}

		for _, p := range label.Partitions {
			data = append(data, []string{
				strconv.Itoa(int(p.Number)),
				p.Role.String(),
				strconv.FormatInt(p.Start, 10),
				strconv.FormatInt(p.End, 10),
				humanSize(label.PartitionSize(p)),
				partid.Text[p.Type],
				p.Name,
			})
		}

		for _, g := range label.FreeSpaces() {
			data = append(data, []string{
				"-", "free",
				strconv.FormatInt(g.Start, 10),
				strconv.FormatInt(g.End, 10),
				humanSize(label.SizeOf(g.Length())),
				"", "",
			})
		}

		fmt.Printf("  %s label\n", label.LabelType)
		printTextTable(data)
		fmt.Println()
	}

	return nil
}

func diskDump(c *cli.Context) error {
	be, err := getBackend(c)
	if err != nil {
		return err
	}

	_, disks, err := scanDisks(be, c.Args().Slice())
	if err != nil {
		return err
	}

	labels := map[string]*devtree.DiskLabel{}

	for _, d := range disks {
		if label, err := d.Label(); err == nil {
			labels[d.Path()] = label
		}
	}

	jbytes, err := json.MarshalIndent(labels, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(jbytes))

	return nil
}

func diskWipe(c *cli.Context) error {
	if c.Args().Len() == 0 {
		return fmt.Errorf("no disks given")
	}

	be, err := getBackend(c)
	if err != nil {
		return err
	}

	_, disks, err := scanDisks(be, c.Args().Slice())
	if err != nil {
		return err
	}

	for _, d := range disks {
		if getConfig(c).DryRun {
			fmt.Printf("dry run, would wipe %s\n", d.Path())
			continue
		}

		log.Info().Str("disk", d.Path()).Msg("wipe")

		if err := be.env.System.Wipe(d.Path()); err != nil {
			return err
		}
	}

	return nil
}
