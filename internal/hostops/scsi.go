// Package hostops implements the host side block device operations
// needed when Storage Center volumes are presented to, resized on, or
// removed from a Linux host.
package hostops

import (
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	cErrors "compellent/errors"
)

var (
	// sysfsRoot is a variable so tests can point it at a scratch
	// tree.
	sysfsRoot = "/sys"

	// geteuid is stubbed in tests.
	geteuid = os.Geteuid
)

// standard SCSI disks: sda, sdb, ... sdaa
var reBlockDisk = regexp.MustCompile(`^sd[a-z]+$`)

// RequireRoot returns an error if the current process does not run as
// root. All mutating host operations need it.
func RequireRoot() error {
	if geteuid() != 0 {
		return cErrors.NewUnauthorizedError("insufficient privileges. Run this program as root")
	}
	return nil
}

// RescanSCSIHosts rescans all SCSI hosts so newly presented LUNs are
// detected.
func RescanSCSIHosts(verbose bool) error {
	if err := RequireRoot(); err != nil {
		return err
	}

	hostsDir := filepath.Join(sysfsRoot, "class", "scsi_host")
	hosts, err := os.ReadDir(hostsDir)
	if err != nil {
		return errors.Wrap(err, "listing SCSI hosts")
	}

	for _, host := range hosts {
		if verbose {
			log.Printf("Scanning %s...", host.Name())
		}
		scanFile := filepath.Join(hostsDir, host.Name(), "scan")
		if err := os.WriteFile(scanFile, []byte("- - -\n"), 0200); err != nil {
			return errors.Wrapf(err, "scanning SCSI host %s", host.Name())
		}
	}
	return nil
}

// RescanDeviceSizes triggers a rescan of every standard SCSI disk so
// the kernel picks up geometry changes after a volume was grown on the
// Storage Center. When notifyMultipath is set, multipathd is asked to
// resize its maps as well.
func RescanDeviceSizes(notifyMultipath, verbose bool) error {
	if err := RequireRoot(); err != nil {
		return err
	}

	blockDir := filepath.Join(sysfsRoot, "class", "block")
	devices, err := os.ReadDir(blockDir)
	if err != nil {
		return errors.Wrap(err, "listing block devices")
	}

	for _, device := range devices {
		if !reBlockDisk.MatchString(device.Name()) {
			continue
		}
		if verbose {
			log.Printf("Rescanning %s...", device.Name())
		}
		rescanFile := filepath.Join(blockDir, device.Name(), "device", "rescan")
		if err := os.WriteFile(rescanFile, []byte("1\n"), 0200); err != nil {
			return errors.Wrapf(err, "rescanning device %s", device.Name())
		}
	}

	if notifyMultipath {
		if err := ResizeMultipathMaps(verbose); err != nil {
			return errors.Wrap(err, "resizing multipath maps")
		}
	}
	return nil
}

// BlockDeviceSize returns the size in bytes of a block device node.
func BlockDeviceSize(devicePath string) (uint64, error) {
	fd, err := os.OpenFile(devicePath, os.O_RDONLY, 0)
	if err != nil {
		return 0, errors.Wrapf(err, "opening %s", devicePath)
	}
	defer fd.Close()

	var size uint64
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL, fd.Fd(), unix.BLKGETSIZE64,
		uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, errors.Wrapf(errno, "BLKGETSIZE64 on %s", devicePath)
	}
	return size, nil
}

// RereadPartitionTable asks the kernel to re-read the partition table
// of a block device.
func RereadPartitionTable(devicePath string) error {
	fd, err := os.OpenFile(devicePath, os.O_RDONLY, 0)
	if err != nil {
		return errors.Wrapf(err, "opening %s", devicePath)
	}
	defer fd.Close()

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd.Fd(), unix.BLKRRPART, 0)
	if errno != 0 {
		return errors.Wrapf(errno, "BLKRRPART on %s", devicePath)
	}
	return nil
}

// DeleteDevices removes the given SCSI disks and multipath aliases
// from the host. Disks that are part of a selected multipath map pull
// in their sibling paths. Devices that are mounted or part of an LVM
// configuration are refused.
func DeleteDevices(disks, aliases []string, verbose bool) error {
	if err := RequireRoot(); err != nil {
		return err
	}
	if len(disks) == 0 && len(aliases) == 0 {
		return cErrors.NewValueError("select at least one disk or alias")
	}

	topology, err := MultipathTopology()
	if err != nil {
		return errors.Wrap(err, "reading multipath topology")
	}

	protected, err := protectedDevices(topology)
	if err != nil {
		return errors.Wrap(err, "determining protected devices")
	}

	diskSet := toSet(disks)
	aliasSet := toSet(aliases)

	// a disk that belongs to a multipath map drags the whole map in
	for _, device := range topology {
		for _, path := range device.Paths {
			if diskSet[path] {
				if verbose {
					log.Printf("Disk %s is part of multipath device %s. Adding its sibling paths.", path, device.Alias)
				}
				aliasSet[device.Alias] = true
			}
		}
	}
	for _, device := range topology {
		if aliasSet[device.Alias] {
			for _, path := range device.Paths {
				diskSet[path] = true
			}
		}
	}

	var refused []string
	for name := range diskSet {
		if protected[name] {
			refused = append(refused, name)
		}
	}
	for name := range aliasSet {
		if protected[name] {
			refused = append(refused, name)
		}
	}
	if len(refused) > 0 {
		return cErrors.NewDeviceProtectedErr(
			"refusing to delete protected devices: %s", strings.Join(refused, " "))
	}

	for alias := range aliasSet {
		if verbose {
			log.Printf("Flushing multipath device %s", alias)
		}
		if err := FlushMultipathDevice(alias); err != nil {
			return errors.Wrapf(err, "flushing multipath device %s", alias)
		}
	}

	for disk := range diskSet {
		if verbose {
			log.Printf("Deleting disk %s", disk)
		}
		deviceDir := filepath.Join(sysfsRoot, "block", disk, "device")
		if err := os.WriteFile(filepath.Join(deviceDir, "state"), []byte("offline\n"), 0200); err != nil {
			return errors.Wrapf(err, "offlining disk %s", disk)
		}
		if err := os.WriteFile(filepath.Join(deviceDir, "delete"), []byte("1\n"), 0200); err != nil {
			return errors.Wrapf(err, "deleting disk %s", disk)
		}
	}
	return nil
}

// ValidDisks returns the names of the standard SCSI disks present on
// the host.
func ValidDisks() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(sysfsRoot, "block"))
	if err != nil {
		return nil, errors.Wrap(err, "listing block devices")
	}

	var disks []string
	for _, entry := range entries {
		if reBlockDisk.MatchString(entry.Name()) {
			disks = append(disks, entry.Name())
		}
	}
	return disks, nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		if item != "" {
			set[item] = true
		}
	}
	return set
}

func validateSelection(selected, valid []string, kind string) error {
	validSet := toSet(valid)
	for _, name := range selected {
		if !validSet[name] {
			return cErrors.NewValueError(
				"invalid %s: %s. Choose from: %s", kind, name, strings.Join(valid, " "))
		}
	}
	return nil
}

// ValidateDeleteSelection verifies that the requested disks and
// aliases actually exist on the host before anything is torn down.
func ValidateDeleteSelection(disks, aliases []string) error {
	validDisks, err := ValidDisks()
	if err != nil {
		return err
	}
	if err := validateSelection(disks, validDisks, "block device"); err != nil {
		return err
	}

	topology, err := MultipathTopology()
	if err != nil {
		return err
	}
	validAliases := make([]string, 0, len(topology))
	for _, device := range topology {
		validAliases = append(validAliases, device.Alias)
	}
	if err := validateSelection(aliases, validAliases, "multipath alias"); err != nil {
		return err
	}
	return nil
}
