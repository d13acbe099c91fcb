package main

import (
	"fmt"
	"path"

	"machinerun.io/devtree"
	"machinerun.io/devtree/format"
	"machinerun.io/devtree/linux"
	"machinerun.io/devtree/mockos"
)

// backend is the host the demo works on.
type backend struct {
	env   devtree.Env
	tools format.Tools

	// exactly one of mock and sys is set.
	mock *mockos.MockSystem
	sys  *linux.System
}

func newBackend(cfg *Config) (*backend, error) {
	switch cfg.Backend {
	case backendMock:
		var ms *mockos.MockSystem
		if cfg.Layout != "" {
			ms = mockos.System(cfg.Layout)
		} else {
			ms = mockos.New()
		}

		return &backend{env: ms.Env(), tools: ms, mock: ms}, nil
	case backendLinux:
		sys := linux.New()

		return &backend{env: sys.Env(), tools: sys.Tools(), sys: sys}, nil
	}

	return nil, fmt.Errorf("unknown backend '%s'", cfg.Backend)
}

func (b *backend) newTree() *devtree.Tree {
	return devtree.NewTree(b.env)
}

// addDisk adds the disk at devPath to tree. The mock backend creates a node
// of size MiB if the layout does not have one.
func (b *backend) addDisk(tree *devtree.Tree, devPath string, size float64) (*devtree.Disk, error) {
	if b.sys != nil {
		return b.sys.AddDisk(tree, devPath)
	}

	if n := b.mock.Node(devPath); n != nil {
		size = n.Size
	} else {
		if size <= 0 {
			return nil, fmt.Errorf("%s: size is required for a disk not in the layout", devPath)
		}

		b.mock.AddNode(devPath, size)
	}

	var f devtree.Format
	if l := b.mock.Label(devPath); l != nil {
		f = l
	}

	return tree.NewDisk(path.Base(devPath), devtree.DiskArgs{
		StorageArgs: devtree.StorageArgs{Size: size, Format: f},
		DevDir:      path.Dir(devPath),
	})
}

// calls returns the operations the mock backend performed.
func (b *backend) calls() []string {
	if b.mock == nil {
		return nil
	}

	return b.mock.Calls()
}
