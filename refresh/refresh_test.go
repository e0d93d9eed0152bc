package refresh

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compellent/config"
	"compellent/db"
	"compellent/dsm"
	"compellent/dsm/dsmtest"
	cErrors "compellent/errors"
)

// fakeHost is an in-memory HostConn recording every operation.
type fakeHost struct {
	// mountpoint -> serial as lsblk would report it
	serials map[string]string
	// mountpoint -> backing device
	devices map[string]string
	// multipath alias -> SCSI paths
	paths map[string][]string
	// alias reported for any newly presented volume
	newAlias string

	calls []string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		serials:  map[string]string{},
		devices:  map[string]string{},
		paths:    map[string][]string{},
		newAlias: "vvnew",
	}
}

func (f *fakeHost) record(format string, a ...interface{}) {
	f.calls = append(f.calls, fmt.Sprintf(format, a...))
}

func (f *fakeHost) MountpointToSerial(ctx context.Context, mountpoint string) (string, error) {
	serial, ok := f.serials[mountpoint]
	if !ok {
		return "", cErrors.NewNotFoundError("nothing mounted at %s", mountpoint)
	}
	return serial, nil
}

func (f *fakeHost) MountpointDevice(ctx context.Context, mountpoint string) (string, error) {
	device, ok := f.devices[mountpoint]
	if !ok {
		return "", cErrors.NewNotFoundError("nothing mounted at %s", mountpoint)
	}
	return device, nil
}

func (f *fakeHost) Unmount(ctx context.Context, mountpoint string) error {
	f.record("unmount %s", mountpoint)
	delete(f.devices, mountpoint)
	delete(f.serials, mountpoint)
	return nil
}

func (f *fakeHost) Mount(ctx context.Context, device, mountpoint string) error {
	f.record("mount %s %s", device, mountpoint)
	f.devices[mountpoint] = device
	return nil
}

func (f *fakeHost) RescanSCSIBus(ctx context.Context) error {
	f.record("rescan")
	return nil
}

func (f *fakeHost) FlushMultipath(ctx context.Context, alias string) error {
	f.record("flush %s", alias)
	return nil
}

func (f *fakeHost) DeleteDisk(ctx context.Context, disk string) error {
	f.record("delete %s", disk)
	return nil
}

func (f *fakeHost) MultipathPaths(ctx context.Context, alias string) ([]string, error) {
	return f.paths[alias], nil
}

func (f *fakeHost) AliasForSerial(ctx context.Context, serial string) (string, error) {
	f.record("alias-for %s", serial)
	return f.newAlias, nil
}

func (f *fakeHost) UpdateFstab(ctx context.Context, device, mountpoint, fstype string) error {
	f.record("fstab %s %s %s", device, mountpoint, fstype)
	return nil
}

func (f *fakeHost) ChangeFilesystemUUID(ctx context.Context, device string) error {
	f.record("uuid %s", device)
	return nil
}

func (f *fakeHost) Close() error {
	return nil
}

type testEnv struct {
	srv      *dsmtest.Server
	manager  *Manager
	database *db.Database
	srcHost  *fakeHost
	destHost *fakeHost

	srcServer  dsm.ScServer
	destServer dsm.ScServer
	volume     dsm.ScVolume
}

const testDeviceID = "6000d31000d5f00000000000000000a5"

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	srv := dsmtest.NewServer("64702", "scadmin", "secret", nil)
	t.Cleanup(srv.Close)
	host, port := srv.Addr()

	cfg := &config.Config{
		DBFile: filepath.Join(t.TempDir(), "compellent.db"),
		DSM: config.DSM{
			Host:          host,
			Port:          port,
			User:          "scadmin",
			StorageCenter: "64702",
			Insecure:      true,
		},
		SearchDomains: []string{"example.com"},
	}

	client, err := dsm.NewClient(&cfg.DSM, "secret")
	require.NoError(t, err)
	require.NoError(t, client.Login(context.Background()))

	database, err := db.NewDatabase(cfg.DBFile)
	require.NoError(t, err)
	t.Cleanup(func() {
		database.Close()
	})

	env := &testEnv{
		srv:      srv,
		database: database,
		srcHost:  newFakeHost(),
		destHost: newFakeHost(),
	}
	dial := func(host string) (HostConn, error) {
		switch host {
		case "psdbprd16a.example.com":
			return env.srcHost, nil
		case "psdbdev26a.example.com":
			return env.destHost, nil
		}
		return nil, fmt.Errorf("unexpected dial target %s", host)
	}

	manager, err := NewManager(cfg, client, database, dial)
	require.NoError(t, err)
	manager.resolve = func(hostname string, domains []string) (string, string, error) {
		short := strings.SplitN(strings.ToLower(hostname), ".", 2)[0]
		return short, short + ".example.com", nil
	}
	manager.now = func() time.Time {
		return time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	}
	env.manager = manager

	env.srcServer = srv.AddServer("psdbprd16a")
	env.destServer = srv.AddServer("psdbdev26a")
	env.volume = srv.AddVolume("oradata01", testDeviceID)
	srv.MapVolumeToServer(env.volume, env.srcServer)
	env.srcHost.serials["/u05/oradata"] = "3" + testDeviceID
	return env
}

func testParams() Params {
	return Params{
		Source:           "psdbprd16a",
		SourceMount:      "/u05/oradata",
		Destination:      "psdbdev26a",
		DestinationMount: "/u05/oradata",
		Environment:      "tst",
	}
}

func TestParamsValidate(t *testing.T) {
	params := testParams()
	require.NoError(t, params.Validate())

	params = testParams()
	params.Destination = "PSDBPRD16A"
	assert.Error(t, params.Validate(), "source and destination must differ")

	params = testParams()
	params.Destination = "psdbprd26a"
	assert.Error(t, params.Validate(), "production destinations are refused")

	params = testParams()
	params.SourceMount = ""
	assert.Error(t, params.Validate())
}

func TestRunFreshDestination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record, err := env.manager.Run(ctx, testParams())
	require.NoError(t, err)

	assert.Equal(t, db.RefreshStatusSucceeded, record.Status)
	assert.Equal(t, "oradata01", record.VolumeName)
	assert.Equal(t, "vv_psdbprd16a_oradata_tst_2026-01-15T10:30:00", record.ViewVolumeName)
	assert.NotEmpty(t, record.ReplayID)
	assert.NotEmpty(t, record.ViewVolumeID)

	// the view volume exists, has the recommended storage profile and
	// is mapped to the destination server
	view, ok := env.srv.GetVolume(record.ViewVolumeID)
	require.True(t, ok)
	assert.Equal(t, record.ViewVolumeName, view.Name)
	assert.Equal(t, "64702.1", view.StorageProfile.InstanceID)

	mappings := env.srv.VolumeMappings(record.ViewVolumeID)
	require.Len(t, mappings, 1)
	assert.Equal(t, env.destServer.InstanceID, mappings[0].Server.InstanceID)

	// the backing replay carries the run ID and a short expiration
	replays := env.srv.Replays(env.volume.InstanceID)
	require.Len(t, replays, 1)
	assert.Contains(t, replays[0].Description, record.ID)
	assert.Equal(t, "15", replays[0].ExpireTime)

	// destination host operations, in order
	assert.Equal(t, []string{
		"rescan",
		"alias-for " + view.DeviceID,
		"uuid /dev/mapper/vvnew",
		"mount /dev/mapper/vvnew /u05/oradata",
		"fstab /dev/mapper/vvnew /u05/oradata xfs",
	}, env.destHost.calls)

	// the run is journaled
	journaled, err := env.database.GetRefreshRecord(record.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RefreshStatusSucceeded, journaled.Status)
	assert.False(t, journaled.FinishedAt.IsZero())
}

func TestRunReplacesPreviousView(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	oldView := env.srv.AddVolume("vv_old", "deadbeef00000000000000000000000a")
	env.srv.MapVolumeToServer(oldView, env.destServer)
	env.destHost.devices["/u05/oradata"] = "/dev/mapper/oldvv"
	env.destHost.serials["/u05/oradata"] = "3deadbeef00000000000000000000000a"
	env.destHost.paths["oldvv"] = []string{"sde", "sdg"}

	record, err := env.manager.Run(ctx, testParams())
	require.NoError(t, err)
	assert.Equal(t, db.RefreshStatusSucceeded, record.Status)

	// the old view volume was unmapped and recycled
	recycled, ok := env.srv.GetVolume(oldView.InstanceID)
	require.True(t, ok)
	assert.True(t, recycled.InRecycleBin)
	assert.Empty(t, env.srv.VolumeMappings(oldView.InstanceID))

	// and its host side devices were torn down first
	assert.Equal(t, []string{
		"unmount /u05/oradata",
		"flush oldvv",
		"delete sde",
		"delete sdg",
	}, env.destHost.calls[:4])
}

func TestRunCreatesViewFolderOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	folder := env.srv.AddFolder("Linux/View Volumes/psdbprd16a")

	record, err := env.manager.Run(ctx, testParams())
	require.NoError(t, err)

	view, ok := env.srv.GetVolume(record.ViewVolumeID)
	require.True(t, ok)
	assert.Equal(t, folder.InstanceID, view.VolumeFolder.InstanceID)
}

func TestRunJournalsFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// the source volume is not visible at the source mountpoint
	env.srcHost.serials = map[string]string{}

	record, err := env.manager.Run(ctx, testParams())
	require.Error(t, err)
	assert.Equal(t, db.RefreshStatusFailed, record.Status)

	journaled, jErr := env.database.GetRefreshRecord(record.ID)
	require.NoError(t, jErr)
	assert.Equal(t, db.RefreshStatusFailed, journaled.Status)
	assert.NotEmpty(t, journaled.Error)
}

func TestRunUnknownServer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	params := testParams()
	params.Destination = "unknowndev01"

	_, err := env.manager.Run(ctx, params)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknowndev01")
}

func TestViewVolumeName(t *testing.T) {
	env := newTestEnv(t)

	params := testParams()
	params.DestinationMount = "/u05/oradata-CSDEV90_data01"
	name := env.manager.ViewVolumeName("psdbprd16a", params)
	assert.Equal(t, "vv_psdbprd16a_data01_tst_2026-01-15T10:30:00", name)
}
