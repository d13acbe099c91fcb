package devtree

import (
	"fmt"

	"github.com/pkg/errors"
)

// DeviceError - an operation was attempted on a device that is in the wrong
// state for it (already created, not created, not a leaf, active).
type DeviceError struct {
	Device string
	Msg    string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Device, e.Msg)
}

func deviceError(name string, format string, a ...interface{}) error {
	return &DeviceError{Device: name, Msg: fmt.Sprintf(format, a...)}
}

// InsufficientSpaceError - a size request does not fit in the space
// available to the device. It is always returned before any external change
// is made.
type InsufficientSpaceError struct {
	Device    string
	Requested float64
	Available float64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("%s: not enough free space (requested %.2f MiB, available %.2f MiB)",
		e.Device, e.Requested, e.Available)
}

// SinglePhysicalVolumeError - a logical volume that must live on a single
// physical volume does not fit on any of the volume group members.
type SinglePhysicalVolumeError struct {
	Device      string
	VolumeGroup string
	Size        float64
}

func (e *SinglePhysicalVolumeError) Error() string {
	return fmt.Sprintf("%s: no physical volume in %s has %.2f MiB for a single pv logical volume",
		e.Device, e.VolumeGroup, e.Size)
}

// FaultKind enumerates hardware faults.
type FaultKind int

const (
	// MultipathFault - multipath or its partition maps could not be activated.
	MultipathFault FaultKind = iota

	// RAIDDegraded - an md array was activated with missing members.
	RAIDDegraded
)

func (k FaultKind) String() string {
	if k == RAIDDegraded {
		return "raid degraded"
	}

	return "multipath activation failed"
}

// HardwareFaultError - a fault of the underlying hardware surfaced during
// activation. Callers may decide to continue (degraded raid) or abort.
type HardwareFaultError struct {
	Device string
	Kind   FaultKind
	Err    error
}

func (e *HardwareFaultError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Device, e.Kind)
	}

	return fmt.Sprintf("%s: %s: %s", e.Device, e.Kind, e.Err)
}

// Unwrap returns the error reported by the external tool, if any.
func (e *HardwareFaultError) Unwrap() error {
	return e.Err
}

// CommitError - writing a disk label to disk failed. The in-memory label has
// been restored to its state before the failed operation.
type CommitError struct {
	Device string
	Err    error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("%s: failed to commit disk label: %s", e.Device, e.Err)
}

// Unwrap returns the underlying commit failure.
func (e *CommitError) Unwrap() error {
	return e.Err
}

// IsDeviceError reports whether err is, or wraps, a DeviceError.
func IsDeviceError(err error) bool {
	var e *DeviceError
	return errors.As(err, &e)
}

// IsInsufficientSpace reports whether err is, or wraps, an
// InsufficientSpaceError.
func IsInsufficientSpace(err error) bool {
	var e *InsufficientSpaceError
	return errors.As(err, &e)
}

// IsHardwareFault reports whether err is, or wraps, a HardwareFaultError of
// the given kind.
func IsHardwareFault(err error, kind FaultKind) bool {
	var e *HardwareFaultError
	return errors.As(err, &e) && e.Kind == kind
}

// IsCommitError reports whether err is, or wraps, a CommitError.
func IsCommitError(err error) bool {
	var e *CommitError
	return errors.As(err, &e)
}

// Disposition is the decision an ErrorHandler makes about a failed operation.
type Disposition int

const (
	// Abort - stop processing and return the error to the caller.
	Abort Disposition = iota

	// Continue - log the error and go on with the next device.
	Continue
)

// ErrorHandler decides what to do when a lifecycle operation run by the Tree
// fails. op is one of "setup", "teardown", "create" or "destroy".
type ErrorHandler interface {
	Handle(dev Device, op string, err error) Disposition
}

// ErrorHandlerFunc adapts a function to the ErrorHandler interface.
type ErrorHandlerFunc func(dev Device, op string, err error) Disposition

// Handle calls f.
func (f ErrorHandlerFunc) Handle(dev Device, op string, err error) Disposition {
	return f(dev, op, err)
}

// AbortOnError is the default ErrorHandler: every error aborts.
//nolint:gochecknoglobals
var AbortOnError ErrorHandler = ErrorHandlerFunc(func(Device, string, error) Disposition {
	return Abort
})

// ContinueOnDegraded continues past degraded raid arrays and aborts on
// everything else.
//nolint:gochecknoglobals
var ContinueOnDegraded ErrorHandler = ErrorHandlerFunc(func(_ Device, _ string, err error) Disposition {
	if IsHardwareFault(err, RAIDDegraded) {
		return Continue
	}

	return Abort
})
