package main

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"
)

//nolint:gochecknoglobals
var lvmCommands = cli.Command{
	Name:  "lvm",
	Usage: "lvm commands (linux backend)",
	Subcommands: []*cli.Command{
		{
			Name:   "pvs",
			Usage:  "Show the physical volumes on the host",
			Action: lvmPVs,
		},
		{
			Name:      "lvs",
			Usage:     "Show the logical volumes of a volume group",
			ArgsUsage: "vg",
			Action:    lvmLVs,
		},
		{
			Name:      "vg",
			Usage:     "Show live information about a volume group",
			ArgsUsage: "vg",
			Action:    lvmVGInfo,
		},
	},
}

func linuxBackend(c *cli.Context) (*backend, error) {
	be, err := getBackend(c)
	if err != nil {
		return nil, err
	}

	if be.sys == nil {
		return nil, fmt.Errorf("%s needs the %s backend", c.Command.Name, backendLinux)
	}

	return be, nil
}

func lvmPVs(c *cli.Context) error {
	be, err := linuxBackend(c)
	if err != nil {
		return err
	}

	pvs, err := be.sys.PhysicalVolumes()
	if err != nil {
		return err
	}

	data := [][]string{{"Path", "VG", "Size", "Free", "UUID"}}
	for _, pv := range pvs {
		data = append(data, []string{pv.Path, pv.VGName, humanSize(pv.Size), humanSize(pv.Free), pv.UUID})
	}

	printTextTable(data)

	return nil
}

func oneArg(c *cli.Context) (string, error) {
	if c.Args().Len() != 1 {
		return "", fmt.Errorf("expected a single volume group name, got %d args", c.Args().Len())
	}

	return c.Args().First(), nil
}

func lvmLVs(c *cli.Context) error {
	vgName, err := oneArg(c)
	if err != nil {
		return err
	}

	be, err := linuxBackend(c)
	if err != nil {
		return err
	}

	lvs, err := be.sys.LogicalVolumes(vgName)
	if err != nil {
		return err
	}

	data := [][]string{{"Name", "Path", "Size", "Active", "Pool"}}
	for _, lv := range lvs {
		data = append(data, []string{lv.Name, lv.Path, humanSize(lv.Size), strconv.FormatBool(lv.Active), lv.Pool})
	}

	printTextTable(data)

	return nil
}

func lvmVGInfo(c *cli.Context) error {
	vgName, err := oneArg(c)
	if err != nil {
		return err
	}

	be, err := linuxBackend(c)
	if err != nil {
		return err
	}

	info, err := be.env.LVM.VGInfo(vgName)
	if err != nil {
		return err
	}

	data := [][]string{{"Key", "Value"}}
	for _, k := range []string{"name", "pe_size", "pe_free", "pv_count"} {
		if v, ok := info[k]; ok {
			data = append(data, []string{k, v})
		}
	}

	printTextTable(data)

	return nil
}
