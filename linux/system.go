//go:build linux

package linux

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
	"machinerun.io/devtree"
)

const (
	sysfsRoot  = "/sys"
	byPathDir  = "/dev/disk/by-path"
	udevPrefix = "udev:"
	byPathKey  = "by-path"
)

var (
	_ devtree.System        = (*System)(nil)
	_ devtree.VolumeManager = (*System)(nil)
	_ devtree.RAIDManager   = (*System)(nil)
	_ devtree.Mapper        = (*System)(nil)
)

// System is the linux implementation of devtree.System and of the lvm,
// md raid and device-mapper interfaces. Udev lookups are cached until the
// next mutating operation.
type System struct {
	cache *cache.Cache
}

// New returns a linux System.
func New() *System {
	return &System{cache: cache.New(time.Minute, 5*time.Minute)}
}

// Env returns a devtree.Env whose collaborators are all s.
func (s *System) Env() devtree.Env {
	return devtree.Env{System: s, LVM: s, RAID: s, Mapper: s}
}

// Tools returns the format tools backed by the host's mkfs, mount, lvm and
// cryptsetup commands.
func (s *System) Tools() *Tools {
	return &Tools{sys: s}
}

func (s *System) invalidate() {
	s.cache.Flush()
}

// Settle waits for udev and drops cached udev data.
func (s *System) Settle() error {
	s.invalidate()

	return udevSettle()
}

// Probe returns the size of the block device or file at p in MiB.
func (s *System) Probe(p string) (float64, error) {
	fh, err := os.Open(p)
	if err != nil {
		return 0, err
	}
	defer fh.Close()

	size, err := getFileSize(fh)
	if err != nil {
		return 0, err
	}

	return toMiB(size), nil
}

// Writable reports whether p can be opened for writing.
func (s *System) Writable(p string) bool {
	return unix.Access(p, unix.W_OK) == nil
}

// PathExists reports whether p exists.
func (s *System) PathExists(p string) bool {
	return pathExists(p)
}

// MediaPresent reports whether the drive at p has media. ENOMEDIUM will
// occur on an empty drive.
func (s *System) MediaPresent(p string) bool {
	f, err := os.Open(p)
	if err != nil {
		if e, ok := err.(*os.PathError); ok && e.Err == syscall.ENOMEDIUM {
			return false
		}

		log.Debug().Err(err).Str("device", p).Msg("cannot open drive")

		return false
	}

	f.Close()

	return true
}

// ReadSysfs returns the trimmed content of /sys/<sysfsPath>/<attr>.
func (s *System) ReadSysfs(sysfsPath, attr string) (string, error) {
	content, err := os.ReadFile(path.Join(sysfsRoot, sysfsPath, attr))
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(content)), nil
}

// UdevInfo returns the udev database entry for the device with kernel name
// kname.
func (s *System) UdevInfo(kname string) (devtree.UdevInfo, error) {
	if v, ok := s.cache.Get(udevPrefix + kname); ok {
		return v.(devtree.UdevInfo), nil
	}

	out, stderr, rc := runCommandWithOutputErrorRc(
		"udevadm", "info", "--query=all", "--export", "--name="+kname)

	info := devtree.UdevInfo{Name: kname}

	if rc != 0 {
		return info,
			fmt.Errorf("error querying kname '%s' [%d]: %s", kname, rc, stderr)
	}

	if err := devtree.ParseUdevInfo(out, &info); err != nil {
		return info, err
	}

	s.cache.SetDefault(udevPrefix+kname, info)

	return info, nil
}

// DiskByPath returns the /dev/disk/by-path link that points at the device
// with kernel name kname.
func (s *System) DiskByPath(kname string) (string, error) {
	links, ok := s.cache.Get(byPathKey)
	if !ok {
		var err error
		if links, err = readByPath(byPathDir); err != nil {
			return "", err
		}

		s.cache.SetDefault(byPathKey, links)
	}

	if link, ok := links.(map[string]string)[kname]; ok {
		return link, nil
	}

	return "", fmt.Errorf("%s has no %s link", kname, byPathDir)
}

// readByPath maps kernel names to their links in dir.
func readByPath(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	links := map[string]string{}

	for _, e := range entries {
		link := path.Join(dir, e.Name())

		target, err := filepath.EvalSymlinks(link)
		if err != nil {
			continue
		}

		links[path.Base(target)] = link
	}

	return links, nil
}

// CommitLabel writes label to its disk.
func (s *System) CommitLabel(label *devtree.DiskLabel) error {
	defer s.invalidate()

	return commitLabel(label)
}

// Wipe zeroes the first and last MiB of the device at p, which is where
// filesystem, raid and partition table signatures live.
func (s *System) Wipe(p string) error {
	fh, err := os.Open(p)
	if err != nil {
		return err
	}

	size, err := getFileSize(fh)
	fh.Close()

	if err != nil {
		return err
	}

	if err := zeroPathStartEnd(p, 0, size); err != nil {
		return err
	}

	return runCommandSettled("wipefs", "--all", p)
}

// CreateFile allocates a file of size MiB at p.
func (s *System) CreateFile(p string, size float64) error {
	fh, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	defer fh.Close()

	if err := unix.Fallocate(int(fh.Fd()), 0, 0, fromMiB(size)); err != nil {
		os.Remove(p)
		return fmt.Errorf("failed to allocate %s: %s", p, err)
	}

	return fh.Sync()
}

// Mkdir creates p and its parents.
func (s *System) Mkdir(p string) error {
	return os.MkdirAll(p, 0755)
}

// Remove removes the file or empty directory p.
func (s *System) Remove(p string) error {
	return os.Remove(p)
}

// Eject ejects the media in the drive at p.
func (s *System) Eject(p string) error {
	return runCommand("eject", p)
}

// Maps returns the device-mapper table as reported by dmsetup.
func (s *System) Maps() ([]devtree.DMMap, error) {
	out, stderr, rc := runCommandWithOutputErrorRc(
		"dmsetup", "info", "-c", "--noheadings", "--separator=:",
		"-o", "name,uuid,major,minor,attr")
	if rc != 0 {
		return nil, fmt.Errorf("failed dmsetup info [%d]: %s", rc, stderr)
	}

	return parseDMInfo(out)
}

// parseDMInfo parses "name:uuid:major:minor:attr" lines. In attr an 'L'
// marks a live table and an 's' a suspended device.
func parseDMInfo(out []byte) ([]devtree.DMMap, error) {
	maps := []devtree.DMMap{}

	for _, line := range bytes.Split(out, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || string(line) == "No devices found" {
			continue
		}

		toks := strings.Split(string(line), ":")
		if len(toks) != 5 {
			return nil, fmt.Errorf("error parsing dmsetup line: %s", line)
		}

		major, err := strconv.Atoi(toks[2])
		if err != nil {
			return nil, fmt.Errorf("bad major in %s: %s", line, err)
		}

		minor, err := strconv.Atoi(toks[3])
		if err != nil {
			return nil, fmt.Errorf("bad minor in %s: %s", line, err)
		}

		attr := toks[4]
		maps = append(maps, devtree.DMMap{
			Name:      toks[0],
			UUID:      toks[1],
			Major:     major,
			Minor:     minor,
			LiveTable: strings.HasPrefix(attr, "L"),
			Suspended: strings.ContainsRune(attr, 's'),
		})
	}

	return maps, nil
}

// MultipathActivate builds the multipath map name.
func (s *System) MultipathActivate(name string) error {
	return runCommandSettled("multipath", name)
}

// KPartxAdd adds the partition maps of the dm device name.
func (s *System) KPartxAdd(name string) error {
	return runCommandSettled("kpartx", "-a", "-p", "p", path.Join("/dev/mapper", name))
}

// DMRaidActivate activates the firmware raid set name.
func (s *System) DMRaidActivate(name string) error {
	return runCommandSettled("dmraid", "-ay", "-i", "-p", name)
}

// DMRaidDeactivate deactivates the firmware raid set name.
func (s *System) DMRaidDeactivate(name string) error {
	return runCommandSettled("dmraid", "-an", "-i", "-p", name)
}
