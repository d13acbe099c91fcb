// Package kickstart renders a device tree as kickstart storage commands and
// parses those commands back into requests.
package kickstart

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"machinerun.io/devtree"
)

// Storage commands.
const (
	Part     = "part"
	LogVol   = "logvol"
	VolGroup = "volgroup"
	Raid     = "raid"
)

// Request is one parsed storage command.
type Request struct {
	Command string `yaml:"command"`

	// Target is the first argument: a mountpoint, "swap", "None", a pv. or
	// raid. member name, or the group name of a volgroup.
	Target string `yaml:"target"`

	// Members are the pv. or raid. names of a volgroup or raid command.
	Members []string `yaml:"members,omitempty"`

	FSType    string `yaml:"fstype,omitempty"`
	Label     string `yaml:"label,omitempty"`
	FSOptions string `yaml:"fsoptions,omitempty"`

	// Size and MaxSize are in MiB.
	Size    int  `yaml:"size,omitempty"`
	MaxSize int  `yaml:"maxsize,omitempty"`
	Percent int  `yaml:"percent,omitempty"`
	Grow    bool `yaml:"grow,omitempty"`

	AsPrimary   bool   `yaml:"asprimary,omitempty"`
	OnDisk      string `yaml:"ondisk,omitempty"`
	OnPart      string `yaml:"onpart,omitempty"`
	NoFormat    bool   `yaml:"noformat,omitempty"`
	UseExisting bool   `yaml:"useexisting,omitempty"`

	Name   string `yaml:"name,omitempty"`
	VGName string `yaml:"vgname,omitempty"`

	ThinPool     bool   `yaml:"thinpool,omitempty"`
	Thin         bool   `yaml:"thin,omitempty"`
	PoolName     string `yaml:"poolname,omitempty"`
	MetaDataSize int    `yaml:"metadatasize,omitempty"`
	ChunkSize    int    `yaml:"chunksize,omitempty"`

	// PESize is in KiB.
	PESize          int `yaml:"pesize,omitempty"`
	ReservedSpace   int `yaml:"reserved-space,omitempty"`
	ReservedPercent int `yaml:"reserved-percent,omitempty"`

	Level  int    `yaml:"level,omitempty"`
	Device string `yaml:"device,omitempty"`
	Spares int    `yaml:"spares,omitempty"`
}

// Write writes the kickstart commands of every device in t, parents before
// children.
func Write(w io.Writer, t *devtree.Tree, preexisting, noformat bool) error {
	for _, d := range t.Devices() {
		if err := d.WriteKS(w, preexisting, noformat); err != nil {
			return errors.Wrapf(err, "kickstart for %s", d.Name())
		}
	}

	return nil
}

// RequestFor renders d and parses the result. It returns nil for devices
// that have no kickstart command.
func RequestFor(d devtree.Device, preexisting, noformat bool) (*Request, error) {
	var sb strings.Builder

	if err := d.WriteKS(&sb, preexisting, noformat); err != nil {
		return nil, err
	}

	reqs, err := Parse(strings.NewReader(sb.String()))
	if err != nil {
		return nil, err
	}

	switch len(reqs) {
	case 0:
		return nil, nil
	case 1:
		return reqs[0], nil
	}

	return nil, fmt.Errorf("%s rendered %d kickstart commands", d.Name(), len(reqs))
}

// Parse reads storage commands from r. The commands may be commented out
// with a leading '#', which is how devices render them. Other lines are
// ignored.
func Parse(r io.Reader) ([]*Request, error) {
	reqs := []*Request{}
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++

		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimSpace(strings.TrimPrefix(line, "#"))

		if !isStorageCommand(line) {
			continue
		}

		req, err := ParseLine(line)
		if err != nil {
			return reqs, errors.Wrapf(err, "line %d", lineNum)
		}

		reqs = append(reqs, req)
	}

	return reqs, scanner.Err()
}

func isStorageCommand(line string) bool {
	cmd := strings.SplitN(line, " ", 2)[0]

	switch cmd {
	case Part, "partition", LogVol, VolGroup, Raid:
		return true
	}

	return false
}

// ParseLine parses a single storage command.
func ParseLine(line string) (*Request, error) {
	toks, err := split(line)
	if err != nil {
		return nil, err
	}

	if len(toks) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	req := &Request{Command: toks[0]}
	if req.Command == "partition" {
		req.Command = Part
	}

	fs := pflag.NewFlagSet(req.Command, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}

	switch req.Command {
	case Part:
		formatFlags(fs, req)
		sizeFlags(fs, req)
		fs.BoolVar(&req.AsPrimary, "asprimary", false, "")
		fs.StringVar(&req.OnDisk, "ondisk", "", "")
		fs.StringVar(&req.OnPart, "onpart", "", "")
	case LogVol:
		formatFlags(fs, req)
		sizeFlags(fs, req)
		fs.IntVar(&req.Percent, "percent", 0, "")
		fs.StringVar(&req.Name, "name", "", "")
		fs.StringVar(&req.VGName, "vgname", "", "")
		fs.BoolVar(&req.UseExisting, "useexisting", false, "")
		fs.BoolVar(&req.ThinPool, "thinpool", false, "")
		fs.BoolVar(&req.Thin, "thin", false, "")
		fs.StringVar(&req.PoolName, "poolname", "", "")
		fs.IntVar(&req.MetaDataSize, "metadatasize", 0, "")
		fs.IntVar(&req.ChunkSize, "chunksize", 0, "")
	case VolGroup:
		fs.BoolVar(&req.NoFormat, "noformat", false, "")
		fs.BoolVar(&req.UseExisting, "useexisting", false, "")
		fs.IntVar(&req.PESize, "pesize", 0, "")
		fs.IntVar(&req.ReservedSpace, "reserved-space", 0, "")
		fs.IntVar(&req.ReservedPercent, "reserved-percent", 0, "")
	case Raid:
		formatFlags(fs, req)
		fs.BoolVar(&req.UseExisting, "useexisting", false, "")
		fs.IntVar(&req.Level, "level", 0, "")
		fs.StringVar(&req.Device, "device", "", "")
		fs.IntVar(&req.Spares, "spares", 0, "")
	default:
		return nil, fmt.Errorf("unknown storage command '%s'", req.Command)
	}

	if err := fs.Parse(toks[1:]); err != nil {
		return nil, errors.Wrapf(err, "%s", req.Command)
	}

	args := fs.Args()
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: missing %s", req.Command, targetName(req.Command))
	}

	req.Target = args[0]

	switch req.Command {
	case VolGroup, Raid:
		if len(args) > 1 {
			req.Members = args[1:]
		}
	default:
		if len(args) > 1 {
			return nil, fmt.Errorf("%s: unexpected arguments %v", req.Command, args[1:])
		}
	}

	return req, nil
}

func targetName(cmd string) string {
	if cmd == VolGroup {
		return "group name"
	}

	return "mountpoint"
}

func formatFlags(fs *pflag.FlagSet, req *Request) {
	fs.StringVar(&req.FSType, "fstype", "", "")
	fs.StringVar(&req.Label, "label", "", "")
	fs.StringVar(&req.FSOptions, "fsoptions", "", "")
	fs.BoolVar(&req.NoFormat, "noformat", false, "")
}

func sizeFlags(fs *pflag.FlagSet, req *Request) {
	fs.IntVar(&req.Size, "size", 0, "")
	fs.IntVar(&req.MaxSize, "maxsize", 0, "")
	fs.BoolVar(&req.Grow, "grow", false, "")
}

// split breaks line into words. Double quotes group words and are removed.
func split(line string) ([]string, error) {
	var (
		words   []string
		cur     strings.Builder
		inQuote bool
		inWord  bool
	)

	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			inWord = true
		case (r == ' ' || r == '\t') && !inQuote:
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}

	if inQuote {
		return nil, fmt.Errorf("unterminated quote in '%s'", line)
	}

	if inWord {
		words = append(words, cur.String())
	}

	return words, nil
}
