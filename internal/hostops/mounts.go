package hostops

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/disk"

	cErrors "compellent/errors"
)

// diskPartitions is stubbed in tests.
var diskPartitions = disk.Partitions

// filesystems we consider when protecting mounted devices
var dataFilesystems = map[string]bool{
	"ext2": true,
	"ext3": true,
	"ext4": true,
	"xfs":  true,
}

// MountedDevices returns a map of device path to mountpoint for all
// mounted data filesystems.
func MountedDevices() (map[string]string, error) {
	partitions, err := diskPartitions(false)
	if err != nil {
		return nil, errors.Wrap(err, "listing mounted filesystems")
	}

	mounts := map[string]string{}
	for _, partition := range partitions {
		if dataFilesystems[partition.Fstype] {
			mounts[partition.Device] = partition.Mountpoint
		}
	}
	return mounts, nil
}

// DeviceForMountpoint returns the device backing the given
// mountpoint.
func DeviceForMountpoint(mountpoint string) (string, error) {
	partitions, err := diskPartitions(false)
	if err != nil {
		return "", errors.Wrap(err, "listing mounted filesystems")
	}

	for _, partition := range partitions {
		if partition.Mountpoint == mountpoint {
			return partition.Device, nil
		}
	}
	return "", cErrors.NewNotFoundError("nothing mounted at %s", mountpoint)
}

// SerialForDevice returns the SCSI serial of a block device, as
// reported by lsblk. For Compellent volumes this matches the volume
// device ID on the Storage Center.
func SerialForDevice(device string) (string, error) {
	out, err := execCommand("lsblk", "--noheadings", "--list", "--output", "SERIAL", device)
	if err != nil {
		return "", errors.Wrapf(err, "reading serial of %s", device)
	}

	serial := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	if serial == "" {
		return "", cErrors.NewNotFoundError("device %s has no serial", device)
	}
	return serial, nil
}

var (
	rePlainDevice  = regexp.MustCompile(`^/dev/(?P<disk>[a-z]+)\d*$`)
	reMapperDevice = regexp.MustCompile(`^/dev/mapper/(?P<alias>\w+)$`)
	reLVMDisk      = regexp.MustCompile(`^/dev/(?P<disk>[a-z]+)\d*$`)
)

// protectedDevices builds the set of device names (disks and
// multipath aliases) that must never be deleted: anything mounted and
// anything in LVM use.
func protectedDevices(topology []MultipathDevice) (map[string]bool, error) {
	protected := map[string]bool{}

	pathsByAlias := map[string][]string{}
	for _, device := range topology {
		pathsByAlias[device.Alias] = device.Paths
	}

	mounts, err := MountedDevices()
	if err != nil {
		return nil, err
	}
	for device := range mounts {
		if match := rePlainDevice.FindStringSubmatch(device); match != nil {
			protected[match[rePlainDevice.SubexpIndex("disk")]] = true
			continue
		}
		if match := reMapperDevice.FindStringSubmatch(device); match != nil {
			alias := match[reMapperDevice.SubexpIndex("alias")]
			protected[alias] = true
			for _, path := range pathsByAlias[alias] {
				protected[path] = true
			}
		}
	}

	// LVM physical volumes are off limits as well
	out, err := execCommand("pvs", "--noheadings", "--options", "pv_name")
	if err == nil {
		for _, line := range strings.Split(string(out), "\n") {
			pv := strings.TrimSpace(line)
			if match := reLVMDisk.FindStringSubmatch(pv); match != nil {
				protected[match[reLVMDisk.SubexpIndex("disk")]] = true
			}
		}
	}
	return protected, nil
}

// EnsureFstabEntry adds or replaces the fstab line for the given
// mountpoint, so the mount persists across reboots.
func EnsureFstabEntry(fstabPath, device, mountpoint, fstype, options string) error {
	if options == "" {
		options = "defaults"
	}
	entry := fmt.Sprintf("%s\t%s\t%s\t%s\t0 0", device, mountpoint, fstype, options)

	data, err := os.ReadFile(fstabPath)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "reading %s", fstabPath)
	}

	var (
		out      []string
		replaced bool
	)
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && !strings.HasPrefix(fields[0], "#") && fields[1] == mountpoint {
			out = append(out, entry)
			replaced = true
			continue
		}
		out = append(out, line)
	}
	if !replaced {
		// drop a single trailing empty line before appending
		if len(out) > 0 && out[len(out)-1] == "" {
			out = out[:len(out)-1]
		}
		out = append(out, entry)
	}

	content := strings.Join(out, "\n")
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if err := os.WriteFile(fstabPath, []byte(content), 0644); err != nil {
		return errors.Wrapf(err, "writing %s", fstabPath)
	}
	return nil
}
