package hostops

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cErrors "compellent/errors"
)

func TestMountedDevices(t *testing.T) {
	stubPartitions(t, []disk.PartitionStat{
		{Device: "/dev/sdb1", Mountpoint: "/data", Fstype: "ext4"},
		{Device: "/dev/mapper/testvol1", Mountpoint: "/u05/oradata", Fstype: "xfs"},
		{Device: "tmpfs", Mountpoint: "/run", Fstype: "tmpfs"},
		{Device: "/dev/sda1", Mountpoint: "/boot/efi", Fstype: "vfat"},
	})

	mounts, err := MountedDevices()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"/dev/sdb1":            "/data",
		"/dev/mapper/testvol1": "/u05/oradata",
	}, mounts)
}

func TestDeviceForMountpoint(t *testing.T) {
	stubPartitions(t, []disk.PartitionStat{
		{Device: "/dev/mapper/testvol1", Mountpoint: "/u05/oradata", Fstype: "xfs"},
	})

	device, err := DeviceForMountpoint("/u05/oradata")
	require.NoError(t, err)
	assert.Equal(t, "/dev/mapper/testvol1", device)

	_, err = DeviceForMountpoint("/nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, &cErrors.NotFoundError{}))
}

func TestSerialForDevice(t *testing.T) {
	stubExec(t, func(name string, args ...string) ([]byte, error) {
		assert.Equal(t, "lsblk", name)
		assert.Equal(t, "/dev/mapper/testvol1", args[len(args)-1])
		return []byte("6000d31000d5f00000000000000000a5\n\n"), nil
	})

	serial, err := SerialForDevice("/dev/mapper/testvol1")
	require.NoError(t, err)
	assert.Equal(t, "6000d31000d5f00000000000000000a5", serial)
}

func TestSerialForDeviceMissing(t *testing.T) {
	stubExec(t, func(name string, args ...string) ([]byte, error) {
		return []byte("\n"), nil
	})

	_, err := SerialForDevice("/dev/loop0")
	require.Error(t, err)
	assert.True(t, errors.Is(err, &cErrors.NotFoundError{}))
}

func TestEnsureFstabEntryAppend(t *testing.T) {
	fstab := filepath.Join(t.TempDir(), "fstab")
	require.NoError(t, os.WriteFile(fstab, []byte(
		"# /etc/fstab\n/dev/sda1\t/\text4\tdefaults\t0 1\n"), 0644))

	require.NoError(t, EnsureFstabEntry(fstab, "/dev/mapper/testvol1", "/u05/oradata", "xfs", ""))

	data, err := os.ReadFile(fstab)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "/dev/sda1\t/\text4")
	assert.Contains(t, content, "/dev/mapper/testvol1\t/u05/oradata\txfs\tdefaults\t0 0")
	assert.True(t, strings.HasSuffix(content, "\n"))
}

func TestEnsureFstabEntryReplace(t *testing.T) {
	fstab := filepath.Join(t.TempDir(), "fstab")
	require.NoError(t, os.WriteFile(fstab, []byte(
		"/dev/sda1\t/\text4\tdefaults\t0 1\n"+
			"/dev/mapper/oldvol\t/u05/oradata\txfs\tdefaults\t0 0\n"), 0644))

	require.NoError(t, EnsureFstabEntry(fstab, "/dev/mapper/testvol1", "/u05/oradata", "xfs", "noatime"))

	data, err := os.ReadFile(fstab)
	require.NoError(t, err)
	content := string(data)
	assert.NotContains(t, content, "oldvol")
	assert.Contains(t, content, "/dev/mapper/testvol1\t/u05/oradata\txfs\tnoatime\t0 0")
	// no duplicate line for the mountpoint
	assert.Equal(t, 1, strings.Count(content, "/u05/oradata"))
}

func TestEnsureFstabEntryNewFile(t *testing.T) {
	fstab := filepath.Join(t.TempDir(), "fstab")

	require.NoError(t, EnsureFstabEntry(fstab, "/dev/mapper/testvol1", "/u05/oradata", "xfs", ""))

	data, err := os.ReadFile(fstab)
	require.NoError(t, err)
	assert.Contains(t, string(data), "/dev/mapper/testvol1\t/u05/oradata\txfs\tdefaults\t0 0")
}
