//go:build linux

package linux

import (
	"fmt"

	"machinerun.io/devtree"
)

func mdCreateArgs(p string, level devtree.RAIDLevel, members []string, spares int,
	metadata string, bitmap bool) []string {
	args := []string{"mdadm", "--create", p, "--run", "--level=" + level.String(),
		fmt.Sprintf("--raid-devices=%d", len(members)-spares)}

	if spares > 0 {
		args = append(args, fmt.Sprintf("--spare-devices=%d", spares))
	}

	if metadata != "" {
		args = append(args, "--metadata="+metadata)
	}

	if bitmap {
		args = append(args, "--bitmap=internal")
	}

	return append(args, members...)
}

func mdAssembleArgs(p string, members []string, superMinor int,
	updateSuperMinor bool, uuid string) []string {
	args := []string{"mdadm", "--assemble", p, "--run"}

	if uuid != "" {
		args = append(args, "--uuid="+uuid)
	} else {
		args = append(args, fmt.Sprintf("--super-minor=%d", superMinor))
	}

	if updateSuperMinor {
		args = append(args, "--update=super-minor")
	}

	return append(args, members...)
}

// MDCreate creates the md array p.
func (s *System) MDCreate(p string, level devtree.RAIDLevel, members []string, spares int,
	metadata string, bitmap bool) error {
	defer s.invalidate()

	return runCommandSettled(mdCreateArgs(p, level, members, spares, metadata, bitmap)...)
}

// MDActivate assembles the existing array p from members.
func (s *System) MDActivate(p string, members []string, superMinor int,
	updateSuperMinor bool, uuid string) error {
	defer s.invalidate()

	return runCommandSettled(mdAssembleArgs(p, members, superMinor, updateSuperMinor, uuid)...)
}

// MDDeactivate stops the array p.
func (s *System) MDDeactivate(p string) error {
	defer s.invalidate()

	return runCommandSettled("mdadm", "--stop", p)
}

// MDAdd adds member to the array named in its superblock.
func (s *System) MDAdd(member string) error {
	return runCommandSettled("mdadm", "--incremental", "--quiet", member)
}
