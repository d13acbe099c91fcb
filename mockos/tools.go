package mockos

import (
	"fmt"
)

// Mounted returns the device mounted on mountpoint, "" if none.
func (ms *MockSystem) Mounted(mountpoint string) string {
	return ms.mounts[mountpoint]
}

// SwapActive reports whether swap is on for device.
func (ms *MockSystem) SwapActive(device string) bool {
	return ms.swaps[device]
}

// HasPV reports whether device carries a pv signature.
func (ms *MockSystem) HasPV(device string) bool {
	return ms.pvs[device]
}

func (ms *MockSystem) checkNode(device string) error {
	if ms.node(device) == nil {
		return fmt.Errorf("%s: no such device", device)
	}

	return nil
}

// Mkfs records the call.
func (ms *MockSystem) Mkfs(fstype, device, label, uuid string) error {
	if err := ms.call("Mkfs", fstype, device); err != nil {
		return err
	}

	return ms.checkNode(device)
}

// Mount mounts device on mountpoint.
func (ms *MockSystem) Mount(device, mountpoint, fstype, options string) error {
	if err := ms.call("Mount", device, mountpoint, fstype); err != nil {
		return err
	}

	if err := ms.checkNode(device); err != nil {
		return err
	}

	if cur, ok := ms.mounts[mountpoint]; ok {
		return fmt.Errorf("%s is already mounted on %s", cur, mountpoint)
	}

	ms.mounts[mountpoint] = device

	return nil
}

// Unmount unmounts mountpoint.
func (ms *MockSystem) Unmount(mountpoint string) error {
	if err := ms.call("Unmount", mountpoint); err != nil {
		return err
	}

	if _, ok := ms.mounts[mountpoint]; !ok {
		return fmt.Errorf("%s is not mounted", mountpoint)
	}

	delete(ms.mounts, mountpoint)

	return nil
}

// MkSwap records the call.
func (ms *MockSystem) MkSwap(device, label, uuid string) error {
	if err := ms.call("MkSwap", device); err != nil {
		return err
	}

	return ms.checkNode(device)
}

// SwapOn turns swap on.
func (ms *MockSystem) SwapOn(device string, priority int) error {
	if err := ms.call("SwapOn", device); err != nil {
		return err
	}

	if err := ms.checkNode(device); err != nil {
		return err
	}

	ms.swaps[device] = true

	return nil
}

// SwapOff turns swap off.
func (ms *MockSystem) SwapOff(device string) error {
	if err := ms.call("SwapOff", device); err != nil {
		return err
	}

	delete(ms.swaps, device)

	return nil
}

// PVCreate writes a pv signature.
func (ms *MockSystem) PVCreate(device string) error {
	if err := ms.call("PVCreate", device); err != nil {
		return err
	}

	if err := ms.checkNode(device); err != nil {
		return err
	}

	ms.pvs[device] = true

	return nil
}

// PVRemove removes the pv signature.
func (ms *MockSystem) PVRemove(device string) error {
	if err := ms.call("PVRemove", device); err != nil {
		return err
	}

	if !ms.pvs[device] {
		return fmt.Errorf("%s is not a physical volume", device)
	}

	delete(ms.pvs, device)

	return nil
}

// LUKSFormat records the call.
func (ms *MockSystem) LUKSFormat(device, passphrase, uuid string) error {
	if err := ms.call("LUKSFormat", device); err != nil {
		return err
	}

	return ms.checkNode(device)
}

// LUKSOpen adds the crypt map. It is two MiB smaller than the device.
func (ms *MockSystem) LUKSOpen(device, mapName, passphrase string) error {
	if err := ms.call("LUKSOpen", device, mapName); err != nil {
		return err
	}

	n := ms.node(device)
	if n == nil {
		return fmt.Errorf("%s: no such device", device)
	}

	ms.AddMap(mapName, n.Size-2)

	return nil
}

// LUKSClose removes the crypt map.
func (ms *MockSystem) LUKSClose(mapName string) error {
	if err := ms.call("LUKSClose", mapName); err != nil {
		return err
	}

	if !ms.RemoveMap(mapName) {
		return fmt.Errorf("%s is not open", mapName)
	}

	return nil
}

// WipeSignatures records the call.
func (ms *MockSystem) WipeSignatures(device string) error {
	if err := ms.call("WipeSignatures", device); err != nil {
		return err
	}

	delete(ms.pvs, device)

	return nil
}
