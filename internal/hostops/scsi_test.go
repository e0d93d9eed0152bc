package hostops

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cErrors "compellent/errors"
)

// stubSysfs points sysfsRoot at a scratch tree and pretends to be root.
func stubSysfs(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	origRoot := sysfsRoot
	origEuid := geteuid
	sysfsRoot = root
	geteuid = func() int { return 0 }
	t.Cleanup(func() {
		sysfsRoot = origRoot
		geteuid = origEuid
	})
	return root
}

func stubPartitions(t *testing.T, partitions []disk.PartitionStat) {
	t.Helper()
	orig := diskPartitions
	diskPartitions = func(all bool) ([]disk.PartitionStat, error) {
		return partitions, nil
	}
	t.Cleanup(func() {
		diskPartitions = orig
	})
}

func TestRequireRoot(t *testing.T) {
	orig := geteuid
	geteuid = func() int { return 1000 }
	t.Cleanup(func() {
		geteuid = orig
	})

	err := RequireRoot()
	require.Error(t, err)
	assert.True(t, errors.Is(err, &cErrors.UnauthorizedError{}))

	geteuid = func() int { return 0 }
	assert.NoError(t, RequireRoot())
}

func TestRescanSCSIHosts(t *testing.T) {
	root := stubSysfs(t)
	for _, host := range []string{"host0", "host1"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "class", "scsi_host", host), 0755))
	}

	require.NoError(t, RescanSCSIHosts(false))

	for _, host := range []string{"host0", "host1"} {
		data, err := os.ReadFile(filepath.Join(root, "class", "scsi_host", host, "scan"))
		require.NoError(t, err)
		assert.Equal(t, "- - -\n", string(data))
	}
}

func TestRescanDeviceSizes(t *testing.T) {
	root := stubSysfs(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "class", "block", "sda", "device"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "class", "block", "dm-0"), 0755))

	require.NoError(t, RescanDeviceSizes(false, false))

	data, err := os.ReadFile(filepath.Join(root, "class", "block", "sda", "device", "rescan"))
	require.NoError(t, err)
	assert.Equal(t, "1\n", string(data))

	// device mapper nodes are not SCSI disks and must be skipped
	_, err = os.Stat(filepath.Join(root, "class", "block", "dm-0", "device"))
	assert.True(t, os.IsNotExist(err))
}

func TestValidDisks(t *testing.T) {
	root := stubSysfs(t)
	for _, name := range []string{"sda", "sdb", "dm-0", "loop0"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "block", name), 0755))
	}

	disks, err := ValidDisks()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sda", "sdb"}, disks)
}

func TestValidateDeleteSelection(t *testing.T) {
	root := stubSysfs(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "block", "sda"), 0755))
	stubExec(t, func(name string, args ...string) ([]byte, error) {
		return []byte(sampleTopology), nil
	})

	assert.NoError(t, ValidateDeleteSelection([]string{"sda"}, []string{"testvol1"}))
	assert.Error(t, ValidateDeleteSelection([]string{"sdz"}, nil))
	assert.Error(t, ValidateDeleteSelection(nil, []string{"novol"}))
}

// deleteTestEnv wires up a sysfs tree, a multipath topology and a
// mount table for the delete tests.
func deleteTestEnv(t *testing.T, partitions []disk.PartitionStat) string {
	t.Helper()

	root := stubSysfs(t)
	for _, name := range []string{"sdb", "sde", "sdf", "sdg", "sdh"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "block", name, "device"), 0755))
	}
	stubPartitions(t, partitions)
	return root
}

func TestDeleteDevicesByAlias(t *testing.T) {
	var flushed []string
	stubExec(t, func(name string, args ...string) ([]byte, error) {
		cmd := name + " " + strings.Join(args, " ")
		switch {
		case cmd == "multipath -ll":
			return []byte(sampleTopology), nil
		case strings.HasPrefix(cmd, "multipath -f "):
			flushed = append(flushed, args[len(args)-1])
			return nil, nil
		case name == "pvs":
			return []byte(""), nil
		default:
			return nil, fmt.Errorf("unexpected command %q", cmd)
		}
	})
	root := deleteTestEnv(t, nil)

	require.NoError(t, DeleteDevices(nil, []string{"testvol1"}, false))
	assert.Equal(t, []string{"testvol1"}, flushed)

	for _, name := range []string{"sde", "sdg"} {
		state, err := os.ReadFile(filepath.Join(root, "block", name, "device", "state"))
		require.NoError(t, err)
		assert.Equal(t, "offline\n", string(state))

		deleted, err := os.ReadFile(filepath.Join(root, "block", name, "device", "delete"))
		require.NoError(t, err)
		assert.Equal(t, "1\n", string(deleted))
	}

	// the other map's paths are untouched
	_, err := os.Stat(filepath.Join(root, "block", "sdf", "device", "state"))
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteDevicesDiskPullsSiblings(t *testing.T) {
	var flushed []string
	stubExec(t, func(name string, args ...string) ([]byte, error) {
		cmd := name + " " + strings.Join(args, " ")
		switch {
		case cmd == "multipath -ll":
			return []byte(sampleTopology), nil
		case strings.HasPrefix(cmd, "multipath -f "):
			flushed = append(flushed, args[len(args)-1])
			return nil, nil
		case name == "pvs":
			return []byte(""), nil
		default:
			return nil, fmt.Errorf("unexpected command %q", cmd)
		}
	})
	root := deleteTestEnv(t, nil)

	// deleting one path of testvol2 must tear down the whole map
	require.NoError(t, DeleteDevices([]string{"sdf"}, nil, false))
	assert.Equal(t, []string{"testvol2"}, flushed)

	for _, name := range []string{"sdf", "sdh"} {
		_, err := os.Stat(filepath.Join(root, "block", name, "device", "state"))
		assert.NoError(t, err)
	}
}

func TestDeleteDevicesRefusesMounted(t *testing.T) {
	stubExec(t, func(name string, args ...string) ([]byte, error) {
		if name == "multipath" {
			return []byte(sampleTopology), nil
		}
		return []byte(""), nil
	})
	deleteTestEnv(t, []disk.PartitionStat{
		{Device: "/dev/mapper/testvol1", Mountpoint: "/u05/oradata", Fstype: "xfs"},
	})

	err := DeleteDevices(nil, []string{"testvol1"}, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, &cErrors.ErrDeviceProtected{}))

	// the mounted map also protects its paths
	err = DeleteDevices([]string{"sde"}, nil, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, &cErrors.ErrDeviceProtected{}))
}

func TestDeleteDevicesRefusesMountedDisk(t *testing.T) {
	stubExec(t, func(name string, args ...string) ([]byte, error) {
		if name == "multipath" {
			return []byte(sampleTopology), nil
		}
		return []byte(""), nil
	})
	deleteTestEnv(t, []disk.PartitionStat{
		{Device: "/dev/sdb1", Mountpoint: "/data", Fstype: "ext4"},
	})

	err := DeleteDevices([]string{"sdb"}, nil, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, &cErrors.ErrDeviceProtected{}))
}

func TestDeleteDevicesRefusesLVM(t *testing.T) {
	stubExec(t, func(name string, args ...string) ([]byte, error) {
		if name == "multipath" {
			return []byte(sampleTopology), nil
		}
		if name == "pvs" {
			return []byte("  /dev/sdb1\n"), nil
		}
		return []byte(""), nil
	})
	deleteTestEnv(t, nil)

	err := DeleteDevices([]string{"sdb"}, nil, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, &cErrors.ErrDeviceProtected{}))
}

func TestDeleteDevicesNothingSelected(t *testing.T) {
	stubSysfs(t)

	err := DeleteDevices(nil, nil, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, &cErrors.ValueError{}))
}
