//go:build linux

package linux

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"machinerun.io/devtree"
)

// exitCode maps the error of exec.Cmd.Run to a shell style return code,
// 127 when the command could not be started at all.
func exitCode(err error) int {
	var exitErr *exec.ExitError

	switch {
	case err == nil:
		return 0
	case errors.As(err, &exitErr):
		return exitErr.ExitCode()
	default:
		return 127
	}
}

func cmdError(args []string, out []byte, stderr []byte, rc int) error {
	if rc == 0 {
		return nil
	}

	return fmt.Errorf("command failed [%d]:\n cmd: %v\nout:%s\nerr:%s", rc, args, out, stderr)
}

// runCommandWithOutputErrorRcStdin runs args with input on stdin. The input
// is never logged since it may carry a passphrase.
func runCommandWithOutputErrorRcStdin(input string, args ...string) ([]byte, []byte, int) {
	var stdout, stderr bytes.Buffer

	cmd := exec.Command(args[0], args[1:]...) //nolint:gosec
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}

	rc := exitCode(cmd.Run())
	log.Debug().Strs("cmd", args).Int("rc", rc).Msg("ran command")

	return stdout.Bytes(), stderr.Bytes(), rc
}

func runCommandWithOutputErrorRc(args ...string) ([]byte, []byte, int) {
	return runCommandWithOutputErrorRcStdin("", args...)
}

func runCommandStdin(input string, args ...string) error {
	out, stderr, rc := runCommandWithOutputErrorRcStdin(input, args...)

	return cmdError(args, out, stderr, rc)
}

func runCommand(args ...string) error {
	return runCommandStdin("", args...)
}

func udevSettle() error {
	return runCommand("udevadm", "settle")
}

func runCommandSettled(args ...string) error {
	err := runCommand(args...)
	if err != nil {
		return err
	}

	return udevSettle()
}

func pathExists(d string) bool {
	_, err := os.Stat(d)

	return !os.IsNotExist(err)
}

// getBlockDevSize returns the logical sector size of the block device dev.
func getBlockDevSize(dev string) (int64, error) {
	attr := path.Join("/sys/class/block", path.Base(dev), "queue/logical_block_size")

	content, err := os.ReadFile(attr)
	if err != nil {
		return 0, errors.Wrapf(err, "cannot read sector size of %s", dev)
	}

	v, err := strconv.ParseInt(strings.TrimSpace(string(content)), 10, 64)

	return v, errors.Wrapf(err, "bad sector size in %s", attr)
}

// getFileSize returns the length of file by seeking to its end. The offset
// is restored before returning.
func getFileSize(file io.Seeker) (int64, error) {
	cur, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}

	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}

	_, err = file.Seek(cur, io.SeekStart)

	return end, err
}

func toMiB(b int64) float64 {
	return float64(b) / devtree.Mebibyte
}

func fromMiB(size float64) int64 {
	return int64(size * devtree.Mebibyte)
}

// sizeArg formats a MiB size for the --size style arguments of lvm and
// mdadm.
func sizeArg(size float64) string {
	return strconv.FormatFloat(size, 'f', -1, 64) + "m"
}

func lvPath(vgName, lvName string) string {
	return path.Join("/dev", vgName, lvName)
}

func vgLv(vgName, lvName string) string {
	return path.Join(vgName, lvName)
}
