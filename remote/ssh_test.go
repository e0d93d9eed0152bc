package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cErrors "compellent/errors"
)

// fakeRunner answers canned outputs keyed by the exact command line.
type fakeRunner struct {
	outputs  map[string]string
	commands []string
}

func (f *fakeRunner) run(ctx context.Context, command string) (string, error) {
	f.commands = append(f.commands, command)
	out, ok := f.outputs[command]
	if !ok {
		return "", fmt.Errorf("unexpected command %q", command)
	}
	return out, nil
}

func testHost(outputs map[string]string) (*Host, *fakeRunner) {
	runner := &fakeRunner{outputs: outputs}
	return &Host{host: "psdbdev26a.example.com", run: runner.run}, runner
}

func TestMountpointDeviceNotMounted(t *testing.T) {
	// findmnt prints nothing (and exits non-zero, swallowed by || true)
	// when the target is not a mountpoint
	host, _ := testHost(map[string]string{
		"findmnt --noheadings --list --output SOURCE /u05/oradata || true": "",
	})

	_, err := host.MountpointDevice(context.Background(), "/u05/oradata")
	require.Error(t, err)
	assert.True(t, errors.Is(err, &cErrors.NotFoundError{}))
}

func TestMountpointDevice(t *testing.T) {
	host, _ := testHost(map[string]string{
		"findmnt --noheadings --list --output SOURCE /u05/oradata || true": "/dev/mapper/testvol1\n",
	})

	device, err := host.MountpointDevice(context.Background(), "/u05/oradata")
	require.NoError(t, err)
	assert.Equal(t, "/dev/mapper/testvol1", device)
}

func TestMountpointToSerialNotMounted(t *testing.T) {
	host, runner := testHost(map[string]string{
		"findmnt --noheadings --list --output SOURCE /u05/oradata || true": "\n",
	})

	_, err := host.MountpointToSerial(context.Background(), "/u05/oradata")
	require.Error(t, err)
	assert.True(t, errors.Is(err, &cErrors.NotFoundError{}))
	// lsblk must not run against an empty device
	assert.Len(t, runner.commands, 1)
}

func TestMountpointToSerial(t *testing.T) {
	host, _ := testHost(map[string]string{
		"findmnt --noheadings --list --output SOURCE /u05/oradata || true": "/dev/mapper/testvol1\n",
		"lsblk --noheadings --list --output SERIAL /dev/mapper/testvol1":   "36000d31000d5f00000000000000000a5\n\n",
	})

	serial, err := host.MountpointToSerial(context.Background(), "/u05/oradata")
	require.NoError(t, err)
	assert.Equal(t, "36000d31000d5f00000000000000000a5", serial)
}

func TestMountpointToSerialNoSerial(t *testing.T) {
	host, _ := testHost(map[string]string{
		"findmnt --noheadings --list --output SOURCE /u05/oradata || true": "/dev/mapper/testvol1\n",
		"lsblk --noheadings --list --output SERIAL /dev/mapper/testvol1":   "\n",
	})

	_, err := host.MountpointToSerial(context.Background(), "/u05/oradata")
	require.Error(t, err)
	assert.True(t, errors.Is(err, &cErrors.NotFoundError{}))
}

func TestAliasForSerial(t *testing.T) {
	topology := "testvol1 (36000d31000d5f00000000000000000a5) dm-2 COMPELNT,Compellent Vol\n" +
		"mpatha (3600508b1001c5d9e00000000000000aa) dm-4 HP,LOGICAL VOLUME\n"
	host, _ := testHost(map[string]string{
		"multipath -ll": topology,
	})

	alias, err := host.AliasForSerial(context.Background(), "6000d31000d5f00000000000000000a5")
	require.NoError(t, err)
	assert.Equal(t, "testvol1", alias)

	_, err = host.AliasForSerial(context.Background(), "600508b1001c5d9e00000000000000aa")
	require.Error(t, err)
	assert.True(t, errors.Is(err, &cErrors.NotFoundError{}))
}
