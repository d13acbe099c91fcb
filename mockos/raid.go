package mockos

import (
	"fmt"
	"path"
	"strings"

	"machinerun.io/devtree"
)

func mdSysfs(p string) string {
	return "/devices/virtual/block/" + path.Base(p)
}

// SetDegraded makes the array at p report degraded once it is activated.
func (ms *MockSystem) SetDegraded(p string, degraded bool) {
	ms.degraded[p] = degraded

	if _, ok := ms.Sysfs[path.Join(mdSysfs(p), "md/array_state")]; ok {
		ms.SetSysfs(mdSysfs(p), "md/degraded", degradedFlag(degraded))
	}
}

func degradedFlag(d bool) string {
	if d {
		return "1"
	}

	return "0"
}

func (ms *MockSystem) startArray(p string, members []string, uuid string) {
	size := 0.0

	for _, m := range members {
		if n := ms.node(m); n != nil && (size == 0 || n.Size < size) {
			size = n.Size
		}
	}

	n := ms.node(p)
	if n == nil {
		n = ms.AddNode(p, size)
	} else if n.Size == 0 {
		n.Size = size
	}

	if uuid != "" {
		n.Udev["MD_UUID"] = uuid
	}

	ms.Arrays[p] = append([]string{}, members...)
	ms.SetSysfs(mdSysfs(p), "md/array_state", "clean")
	ms.SetSysfs(mdSysfs(p), "md/degraded", degradedFlag(ms.degraded[p]))
}

// MDCreate creates and starts the array. Its node gets the size of the
// smallest member.
func (ms *MockSystem) MDCreate(p string, level devtree.RAIDLevel, members []string, spares int,
	metadata string, bitmap bool) error {
	if err := ms.call("MDCreate", p, level, strings.Join(members, ","), spares, metadata, bitmap); err != nil {
		return err
	}

	if _, ok := ms.Arrays[p]; ok {
		return fmt.Errorf("%s is already in use", p)
	}

	for _, m := range members {
		if ms.node(m) == nil {
			return fmt.Errorf("%s: no such device", m)
		}
	}

	ms.startArray(p, members, devtree.GenUUID())

	return nil
}

// MDActivate starts the array.
func (ms *MockSystem) MDActivate(p string, members []string, superMinor int,
	updateSuperMinor bool, uuid string) error {
	if err := ms.call("MDActivate", p, strings.Join(members, ","), uuid); err != nil {
		return err
	}

	ms.startArray(p, members, uuid)

	return nil
}

// MDDeactivate stops the array.
func (ms *MockSystem) MDDeactivate(p string) error {
	if err := ms.call("MDDeactivate", p); err != nil {
		return err
	}

	if _, ok := ms.Arrays[p]; !ok {
		return fmt.Errorf("%s is not active", p)
	}

	delete(ms.Arrays, p)
	delete(ms.Sysfs, path.Join(mdSysfs(p), "md/array_state"))
	delete(ms.Sysfs, path.Join(mdSysfs(p), "md/degraded"))
	ms.RemoveNode(p)

	return nil
}

// MDAdd records the call.
func (ms *MockSystem) MDAdd(member string) error {
	return ms.call("MDAdd", member)
}
