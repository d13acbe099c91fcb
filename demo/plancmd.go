package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
	"machinerun.io/devtree"
	"machinerun.io/devtree/kickstart"
)

//nolint:gochecknoglobals
var planCommand = cli.Command{
	Name:  "plan",
	Usage: "Build a device tree from a yaml plan",
	Subcommands: []*cli.Command{
		{
			Name:      "show",
			Usage:     "Show the devices of a plan",
			ArgsUsage: "plan.yaml",
			Action:    planShow,
		},
		{
			Name:      "apply",
			Usage:     "Create the devices and formats of a plan",
			ArgsUsage: "plan.yaml",
			Action:    planApply,
		},
	},
}

//nolint:gochecknoglobals
var ksCommand = cli.Command{
	Name:  "ks",
	Usage: "Kickstart storage commands",
	Subcommands: []*cli.Command{
		{
			Name:      "write",
			Usage:     "Write the kickstart commands of a plan",
			ArgsUsage: "plan.yaml",
			Action:    ksWrite,
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "preexisting",
					Usage: "Refer to devices as already existing",
				},
				&cli.BoolFlag{
					Name:  "noformat",
					Usage: "Keep existing formats",
				},
			},
		},
		{
			Name:      "parse",
			Usage:     "Parse kickstart storage commands (- for stdin) and print them as yaml",
			ArgsUsage: "file",
			Action:    ksParse,
		},
	},
}

func loadPlanTree(c *cli.Context) (*backend, *devtree.Tree, error) {
	if c.Args().Len() != 1 {
		return nil, nil, fmt.Errorf("expected a single plan file, got %d args", c.Args().Len())
	}

	plan, err := LoadPlanFile(c.Args().First())
	if err != nil {
		return nil, nil, err
	}

	be, err := getBackend(c)
	if err != nil {
		return nil, nil, err
	}

	tree, err := plan.Build(be)
	if err != nil {
		return nil, nil, err
	}

	return be, tree, nil
}

func parentNames(d devtree.Device) string {
	names := []string{}
	for _, p := range d.Parents() {
		names = append(names, p.Name())
	}

	return strings.Join(names, ",")
}

func mountpoint(f devtree.Format) string {
	if m, ok := f.(devtree.Mountable); ok {
		return m.Mountpoint()
	}

	return ""
}

func treeTable(tree *devtree.Tree) [][]string {
	data := [][]string{{"Name", "Type", "Size", "Format", "Mountpoint", "Parents", "Exists"}}

	for _, d := range tree.Devices() {
		f := d.Format()
		ftype := ""

		if f != nil {
			ftype = f.Type()
		}

		data = append(data, []string{
			d.Name(),
			d.Type(),
			humanSize(d.Size()),
			ftype,
			mountpoint(f),
			parentNames(d),
			fmt.Sprintf("%t", d.Exists()),
		})
	}

	return data
}

func printTree(tree *devtree.Tree) {
	printTextTable(treeTable(tree))

	fmt.Printf("packages: %s\n", strings.Join(tree.Packages(), " "))
	fmt.Printf("services: %s\n", strings.Join(tree.Services(), " "))
}

func planShow(c *cli.Context) error {
	_, tree, err := loadPlanTree(c)
	if err != nil {
		return err
	}

	printTree(tree)

	return nil
}

func planApply(c *cli.Context) error {
	be, tree, err := loadPlanTree(c)
	if err != nil {
		return err
	}

	if getConfig(c).DryRun {
		fmt.Println("dry run, these devices would be created:")

		data := [][]string{{"Name", "Type", "Size", "Format"}}

		for _, d := range tree.Devices() {
			if d.Exists() {
				continue
			}

			data = append(data, []string{d.Name(), d.Type(), humanSize(d.Size()), d.Format().Type()})
		}

		printTextTable(data)

		return nil
	}

	if err := apply(tree); err != nil {
		return err
	}

	printTree(tree)

	if calls := be.calls(); len(calls) != 0 {
		fmt.Println("\nmock calls:")

		for _, call := range calls {
			fmt.Printf("  %s\n", call)
		}
	}

	return nil
}

func ksWrite(c *cli.Context) error {
	_, tree, err := loadPlanTree(c)
	if err != nil {
		return err
	}

	return kickstart.Write(os.Stdout, tree, c.Bool("preexisting"), c.Bool("noformat"))
}

func ksParse(c *cli.Context) error {
	var r io.Reader = os.Stdin

	if fname := c.Args().First(); fname != "" && fname != "-" {
		fp, err := os.Open(fname)
		if err != nil {
			return err
		}

		defer fp.Close()

		r = fp
	}

	reqs, err := kickstart.Parse(r)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)

	if err := enc.Encode(reqs); err != nil {
		return err
	}

	return enc.Close()
}
