package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"machinerun.io/devtree"
)

var version string

const configKey = "config"

func printTextTable(data [][]string) {
	var lengths = make([]int, len(data[0]))

	for _, line := range data {
		for i, field := range line {
			if len(field) > lengths[i] {
				lengths[i] = len(field)
			}
		}
	}

	fmts := make([]string, len(lengths))

	for i, l := range lengths {
		fmts[i] = fmt.Sprintf("%%-%ds", l)
	}

	pfmt := strings.Join(fmts, " | ") + " |\n"

	for _, line := range data {
		s := make([]interface{}, len(line))
		for i, v := range line {
			s[i] = v
		}

		fmt.Printf(pfmt, s...)
	}
}

// humanSize renders a size in MiB.
func humanSize(mib float64) string {
	if mib <= 0 {
		return "0 B"
	}

	return humanize.IBytes(uint64(mib * devtree.Mebibyte))
}

// setup loads the configuration before any command runs. Flags that were
// given on the command line win over every other source.
func setup(c *cli.Context) error {
	overrides := map[string]interface{}{}

	for flag, key := range map[string]string{
		"backend":   "backend",
		"log-level": "log_level",
		"layout":    "layout",
	} {
		if c.IsSet(flag) {
			overrides[key] = c.String(flag)
		}
	}

	if c.IsSet("dry-run") {
		overrides["dry_run"] = c.Bool("dry-run")
	}

	cfg, err := loadConfig(newViper(), c.String("config"), overrides)
	if err != nil {
		return err
	}

	setupLogging(cfg)
	c.App.Metadata[configKey] = cfg

	log.Debug().Str("backend", cfg.Backend).Str("layout", cfg.Layout).Bool("dry-run", cfg.DryRun).
		Msg("configuration loaded")

	return nil
}

func getConfig(c *cli.Context) *Config {
	return c.App.Metadata[configKey].(*Config)
}

func getBackend(c *cli.Context) (*backend, error) {
	return newBackend(getConfig(c))
}

func main() {
	app := &cli.App{
		Name:     "devtree-demo",
		Version:  version,
		Usage:    "Play around with device trees",
		Metadata: map[string]interface{}{},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "configuration file (default ./devtree.yaml)",
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "host backend: mock or linux",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "layout",
				Usage: "json layout file for the mock backend",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "show what would be done without doing it",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			&planCommand,
			&ksCommand,
			&vgMathCommand,
			&raidMathCommand,
			&udevCommand,
			&diskCommands,
			&lvmCommands,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("devtree-demo failed")
	}
}
