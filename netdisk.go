package devtree

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

type netStorage struct {
	hostAddress string
	nic         string
}

// HostAddress returns the address of the server backing the device.
func (n *netStorage) HostAddress() string {
	return n.hostAddress
}

// NIC returns the interface the device is reached through.
func (n *netStorage) NIC() string {
	return n.nic
}

// ISCSIAuth holds CHAP credentials.
type ISCSIAuth struct {
	Username        string
	Password        string
	ReverseUsername string
	ReversePassword string
}

// ISCSINode is the target portal an iSCSI disk is logged in to.
type ISCSINode struct {
	Name    string
	Address string
	Port    int
	Iface   string
	Auth    *ISCSIAuth
}

// ISCSIArgs are the arguments for NewISCSIDisk.
type ISCSIArgs struct {
	DiskArgs

	// Node is the target. nil for disks a qla4xxx offload card logged in
	// to, described by the FW fields instead.
	Node *ISCSINode

	// IBFT marks a disk configured from the iSCSI boot firmware table.
	IBFT bool

	NIC       string
	Initiator string

	FWName    string
	FWAddress string
	FWPort    int
}

// ISCSIDisk is a disk reached over iSCSI.
type ISCSIDisk struct {
	Disk
	netStorage
	node      *ISCSINode
	ibft      bool
	initiator string
}

// NewISCSIDisk adds iSCSI disk name to the tree.
func (t *Tree) NewISCSIDisk(name string, args ISCSIArgs) (*ISCSIDisk, error) {
	d := &ISCSIDisk{node: args.Node, ibft: args.IBFT, initiator: args.Initiator}
	d.initDisk(KindISCSI, name, args.DiskArgs)
	d.nic = args.NIC

	if args.Node == nil {
		d.hostAddress = args.FWAddress
		log.Debug().Str("device", name).Str("target", args.FWName).
			Str("address", fmt.Sprintf("%s:%d", args.FWAddress, args.FWPort)).
			Str("initiator", args.Initiator).Msg("created new iscsi disk using fw initiator")
	} else {
		d.hostAddress = args.Node.Address
		log.Debug().Str("device", name).Str("target", args.Node.Name).
			Str("address", fmt.Sprintf("%s:%d", args.Node.Address, args.Node.Port)).
			Str("iface", args.Node.Iface).Str("nic", args.NIC).Msg("created new iscsi disk")
	}

	return d, t.register(d, nil)
}

// Node returns the target, nil for firmware offloaded disks.
func (d *ISCSIDisk) Node() *ISCSINode {
	return d.node
}

// DracutSetupArgs returns netroot and initiator arguments, or
// iscsi_firmware for a disk configured by the firmware.
func (d *ISCSIDisk) DracutSetupArgs() []string {
	if d.ibft {
		return []string{"iscsi_firmware"}
	}

	if d.node == nil {
		return nil
	}

	address := d.node.Address
	if strings.Contains(address, ":") {
		address = "[" + address + "]"
	}

	netroot := "netroot=iscsi:"

	if auth := d.node.Auth; auth != nil && auth.Username != "" {
		netroot += auth.Username + ":" + auth.Password
		if auth.ReverseUsername != "" || auth.ReversePassword != "" {
			netroot += ":" + auth.ReverseUsername + ":" + auth.ReversePassword
		}
	}

	ifaceSpec := ""
	if d.nic != "default" {
		ifaceSpec = fmt.Sprintf(":%s:%s", d.node.Iface, d.nic)
	}

	netroot += fmt.Sprintf("@%s::%d%s::%s", address, d.node.Port, ifaceSpec, d.node.Name)

	return []string{netroot, "iscsi_initiator=" + d.initiator}
}

// FCoEArgs are the arguments for NewFCoEDisk.
type FCoEArgs struct {
	DiskArgs
	NIC        string
	Identifier string

	// DCB enables data center bridging on the NIC.
	DCB bool

	// Kickstart marks a NIC configured from the kickstart file, which the
	// initramfs must bring up by name instead of through EDD.
	Kickstart bool
}

// FCoEDisk is a disk reached over Fibre Channel over Ethernet.
type FCoEDisk struct {
	Disk
	netStorage
	identifier string
	dcb        bool
	ksNIC      bool
}

// NewFCoEDisk adds FCoE disk name to the tree.
func (t *Tree) NewFCoEDisk(name string, args FCoEArgs) (*FCoEDisk, error) {
	d := &FCoEDisk{identifier: args.Identifier, dcb: args.DCB, ksNIC: args.Kickstart}
	d.initDisk(KindFCoE, name, args.DiskArgs)
	d.nic = args.NIC

	log.Debug().Str("device", name).Str("id", args.Identifier).Str("nic", args.NIC).Msg("created new fcoe disk")

	return d, t.register(d, nil)
}

// Identifier returns the FCoE identifier.
func (d *FCoEDisk) Identifier() string {
	return d.identifier
}

// DracutSetupArgs returns the fcoe= argument for the NIC.
func (d *FCoEDisk) DracutSetupArgs() []string {
	dcb := "nodcb"
	if d.dcb {
		dcb = "dcb"
	}

	if d.ksNIC {
		return []string{fmt.Sprintf("fcoe=%s:%s", d.nic, dcb)}
	}

	return []string{"fcoe=edd:" + dcb}
}

// ZFCPArgs are the arguments for NewZFCPDisk.
type ZFCPArgs struct {
	DiskArgs
	HBAID  string
	WWPN   string
	FCPLUN string
}

// ZFCPDisk is a mainframe SCSI disk attached through FCP.
type ZFCPDisk struct {
	Disk
	hbaID  string
	wwpn   string
	fcpLUN string
}

// NewZFCPDisk adds zFCP disk name to the tree.
func (t *Tree) NewZFCPDisk(name string, args ZFCPArgs) (*ZFCPDisk, error) {
	d := &ZFCPDisk{hbaID: args.HBAID, wwpn: args.WWPN, fcpLUN: args.FCPLUN}
	d.initDisk(KindZFCP, name, args.DiskArgs)

	return d, t.register(d, nil)
}

// Description names the adapter, port and lun.
func (d *ZFCPDisk) Description() string {
	return fmt.Sprintf("FCP device %s with WWPN %s and LUN %s", d.hbaID, d.wwpn, d.fcpLUN)
}

// DracutSetupArgs returns the rd_ZFCP argument.
func (d *ZFCPDisk) DracutSetupArgs() []string {
	return []string{fmt.Sprintf("rd_ZFCP=%s,%s,%s", d.hbaID, d.wwpn, d.fcpLUN)}
}

// DASDArgs are the arguments for NewDASD.
type DASDArgs struct {
	DiskArgs
	BusID string
	Opts  map[string]string
}

// DASD is a mainframe direct access storage device.
type DASD struct {
	Disk
	busID string
	opts  map[string]string
}

// NewDASD adds dasd name to the tree.
func (t *Tree) NewDASD(name string, args DASDArgs) (*DASD, error) {
	d := &DASD{busID: args.BusID, opts: map[string]string{}}
	d.initDisk(KindDASD, name, args.DiskArgs)

	for k, v := range args.Opts {
		d.opts[k] = v
	}

	return d, t.register(d, nil)
}

// BusID returns the channel bus id.
func (d *DASD) BusID() string {
	return d.busID
}

// Description names the bus id.
func (d *DASD) Description() string {
	return "DASD device " + d.busID
}

// Opts returns the device options as key=value strings, sorted by key.
func (d *DASD) Opts() []string {
	keys := make([]string, 0, len(d.opts))
	for k := range d.opts {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	opts := make([]string, 0, len(keys))
	for _, k := range keys {
		opts = append(opts, k+"="+d.opts[k])
	}

	return opts
}

// DracutSetupArgs returns the rd_DASD argument.
func (d *DASD) DracutSetupArgs() []string {
	return []string{"rd_DASD=" + strings.Join(append([]string{d.busID}, d.Opts()...), ",")}
}

// NFS is an nfs export, named host:/path. It has no device node and its
// lifecycle operations do nothing.
type NFS struct {
	Storage
	netStorage
}

// NewNFS adds the export to the tree.
func (t *Tree) NewNFS(export string, parents []Device, args StorageArgs) (*NFS, error) {
	d := &NFS{}
	d.init(KindNFS, export, args)
	d.hostAddress = strings.SplitN(export, ":", 2)[0]

	return d, t.register(d, parents)
}

// Path returns the export.
func (d *NFS) Path() string {
	return d.name
}

// Setup does nothing.
func (d *NFS) Setup(orig bool) error {
	d.logCall("setup").Bool("orig", orig).Msg("nfs setup")
	return nil
}

// Teardown does nothing.
func (d *NFS) Teardown(recursive bool) error {
	d.logCall("teardown").Msg("nfs teardown")
	return nil
}

// Create sets up the parents.
func (d *NFS) Create() error {
	d.logCall("create").Msg("nfs create")

	if err := d.createParents(); err != nil {
		return err
	}

	return d.setupParents(false)
}

// Destroy does nothing.
func (d *NFS) Destroy() error {
	d.logCall("destroy").Msg("nfs destroy")
	return nil
}
