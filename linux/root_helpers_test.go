//go:build linux && !skipIntegration

// nolint:errcheck
package linux_test

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func cmdString(args []string, out []byte, stderr []byte, rc int) string {
	return fmt.Sprintf("command returned %d:\n cmd: %v\n out: %s\n err: %s\n",
		rc, args, strings.TrimSpace(string(out)), strings.TrimSpace(string(stderr)))
}

func runCommandWithOutputErrorRc(args ...string) ([]byte, []byte, int) {
	var stdout, stderr bytes.Buffer

	cmd := exec.Command(args[0], args[1:]...) //nolint:gosec
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	rc := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			rc = 127
		} else {
			rc = exitErr.ExitCode()
		}
	}

	return stdout.Bytes(), stderr.Bytes(), rc
}

func runCommand(args ...string) error {
	if out, stderr, rc := runCommandWithOutputErrorRc(args...); rc != 0 {
		return errors.New(cmdString(args, out, stderr, rc))
	}

	return nil
}

// connectLoop attaches fname to a free loop device and returns the device
// path with a func that detaches it.
func connectLoop(fname string) (func() error, string, error) {
	args := []string{"losetup", "--find", "--show", "--partscan", fname}

	out, stderr, rc := runCommandWithOutputErrorRc(args...)
	if rc != 0 {
		return func() error { return nil }, "", errors.New(cmdString(args, out, stderr, rc))
	}

	devPath := strings.TrimSpace(string(out))
	detach := func() error { return runCommand("losetup", "--detach="+devPath) }

	return detach, devPath, waitForSize(devPath, 30*time.Second)
}

// waitForSize polls until the block device at devPath reports a size.
func waitForSize(devPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		size, err := deviceSize(devPath)
		if err != nil {
			return err
		}

		if size != 0 {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%s still had zero size after %v", devPath, timeout)
		}

		time.Sleep(10 * time.Millisecond)
	}
}

func deviceSize(devPath string) (int64, error) {
	fp, err := os.Open(devPath)
	if err != nil {
		return 0, err
	}

	defer fp.Close()

	return fp.Seek(0, 2)
}

func getTempFile(t *testing.T, size int64) string {
	name := fmt.Sprintf("%s/disk-%s.img", t.TempDir(), randStr(6))

	if err := os.WriteFile(name, nil, 0600); err != nil {
		t.Fatalf("create %s: %s", name, err)
	}

	if err := os.Truncate(name, size); err != nil {
		t.Fatalf("truncate %s: %s", name, err)
	}

	return name
}

// cleanList runs its cleanups in reverse order of addition.
type cleanList struct {
	names []string
	funcs []func() error
}

func (c *cleanList) AddF(f func() error, name string) {
	c.names = append(c.names, name)
	c.funcs = append(c.funcs, f)
}

func (c *cleanList) Cleanup(t *testing.T) {
	for i := len(c.funcs) - 1; i >= 0; i-- {
		if err := c.funcs[i](); err != nil {
			t.Errorf("cleanup %s failed: %s", c.names[i], err)
		}
	}

	c.names, c.funcs = nil, nil
}

func randStr(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"

	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}

	return string(b)
}

// requirements checks that the test runs as root with write access to
// every control node and that every command is on PATH.
func requirements(controls []string, commands ...string) error {
	if uid := os.Geteuid(); uid != 0 {
		return fmt.Errorf("not root (euid=%d)", uid)
	}

	for _, ctl := range controls {
		fi, err := os.Stat(ctl)
		if err != nil {
			return err
		}

		if fi.Mode()&os.ModeCharDevice == 0 {
			return fmt.Errorf("%s: not a character device", ctl)
		}

		if err := unix.Access(ctl, unix.W_OK); err != nil {
			return fmt.Errorf("%s: not writable", ctl)
		}
	}

	for _, cmd := range commands {
		if _, err := exec.LookPath(cmd); err != nil {
			return err
		}
	}

	return nil
}

func skipIfNoLoop(t *testing.T) {
	if err := requirements([]string{"/dev/loop-control"}, "losetup", "sfdisk"); err != nil {
		t.Skip(err)
	}
}

func skipIfNoLVM(t *testing.T) {
	if err := requirements([]string{"/dev/loop-control", "/dev/mapper/control"}, "losetup", "lvm"); err != nil {
		t.Skip(err)
	}
}
