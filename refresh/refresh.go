// Package refresh implements the view volume refresh workflow: clone
// a volume mounted on a source server and mount the clone on a
// destination server. This is mostly intended for database workloads
// refreshing a test environment from production, and as a result it
// is very opinionated.
package refresh

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pkg/errors"

	"compellent/config"
	"compellent/db"
	"compellent/dsm"
	cErrors "compellent/errors"
	"compellent/util"
)

// replayExpireMinutes is the lifetime of the temporary replay a view
// volume is created from. Once the view exists, the replay is no
// longer needed.
const replayExpireMinutes = 15

// viewVolumeFolderPrefix is where view volumes are filed on the
// Storage Center, one folder per source server.
const viewVolumeFolderPrefix = "Linux/View Volumes"

// HostConn is the subset of remote.Host the workflow needs, so tests
// can run against a fake host.
type HostConn interface {
	MountpointToSerial(ctx context.Context, mountpoint string) (string, error)
	MountpointDevice(ctx context.Context, mountpoint string) (string, error)
	Unmount(ctx context.Context, mountpoint string) error
	Mount(ctx context.Context, device, mountpoint string) error
	RescanSCSIBus(ctx context.Context) error
	FlushMultipath(ctx context.Context, alias string) error
	DeleteDisk(ctx context.Context, disk string) error
	MultipathPaths(ctx context.Context, alias string) ([]string, error)
	AliasForSerial(ctx context.Context, serial string) (string, error)
	UpdateFstab(ctx context.Context, device, mountpoint, fstype string) error
	ChangeFilesystemUUID(ctx context.Context, device string) error
	Close() error
}

// DialFunc opens a connection to a managed host.
type DialFunc func(host string) (HostConn, error)

// ResolveFunc resolves a hostname to (short, fqdn).
type ResolveFunc func(hostname string, domains []string) (string, string, error)

// NewManager returns a refresh workflow manager.
func NewManager(cfg *config.Config, client *dsm.Client, database *db.Database, dial DialFunc) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	if dial == nil {
		return nil, cErrors.NewValueError("no host dialer provided")
	}
	return &Manager{
		cfg:     cfg,
		client:  client,
		db:      database,
		dial:    dial,
		resolve: util.ResolveHost,
		now:     time.Now,
	}, nil
}

// Manager drives view volume refreshes.
type Manager struct {
	cfg    *config.Config
	client *dsm.Client
	db     *db.Database
	dial   DialFunc

	// overridable in tests
	resolve ResolveFunc
	now     func() time.Time
}

// Params describes one refresh run.
type Params struct {
	// Source is the server the volume is currently mounted on.
	Source string
	// SourceMount is the mountpoint of the volume on the source.
	SourceMount string
	// Destination is the server the clone gets mounted on.
	Destination string
	// DestinationMount is the mountpoint of the clone.
	DestinationMount string
	// Environment is the target environment tag (tst, dev, ...).
	// It becomes part of the view volume name.
	Environment string
}

// Validate checks the refresh parameters.
func (p *Params) Validate() error {
	if p.Source == "" || p.SourceMount == "" || p.Destination == "" || p.DestinationMount == "" {
		return cErrors.NewValueError("source, source mount, destination and destination mount are required")
	}
	if strings.EqualFold(p.Source, p.Destination) {
		return cErrors.NewValueError("source cannot be the same as destination")
	}
	if strings.Contains(strings.ToLower(p.Destination), "prd") {
		return cErrors.NewValueError("refreshing to production servers is not allowed")
	}
	return nil
}

// mountTail reduces a mountpoint like /u05/oradata-CSDEV90_data01 to
// its final name component, used in the view volume name.
func mountTail(mountpoint string) string {
	tail := mountpoint
	for _, sep := range []string{"/", "-", "_"} {
		if idx := strings.LastIndex(tail, sep); idx >= 0 {
			tail = tail[idx+1:]
		}
	}
	return tail
}

// ViewVolumeName returns the name the view volume will be created
// under.
func (m *Manager) ViewVolumeName(srcShort string, params Params) string {
	return fmt.Sprintf("vv_%s_%s_%s_%s",
		srcShort,
		mountTail(params.DestinationMount),
		params.Environment,
		m.now().Format("2006-01-02T15:04:05"))
}

// Run executes a refresh. Every run is journaled in the local
// database; the returned record carries the final state.
func (m *Manager) Run(ctx context.Context, params Params) (db.RefreshRecord, error) {
	if err := params.Validate(); err != nil {
		return db.RefreshRecord{}, err
	}

	srcShort, srcFQDN, err := m.resolve(params.Source, m.cfg.SearchDomains)
	if err != nil {
		return db.RefreshRecord{}, err
	}
	destShort, destFQDN, err := m.resolve(params.Destination, m.cfg.SearchDomains)
	if err != nil {
		return db.RefreshRecord{}, err
	}

	record, err := m.db.CreateRefreshRecord(db.RefreshRecord{
		Source:           srcShort,
		SourceMount:      params.SourceMount,
		Destination:      destShort,
		DestinationMount: params.DestinationMount,
		Environment:      params.Environment,
	})
	if err != nil {
		return db.RefreshRecord{}, errors.Wrap(err, "journaling refresh run")
	}

	record, err = m.run(ctx, record, params, srcShort, srcFQDN, destShort, destFQDN)
	if err != nil {
		if jErr := m.db.CloseRefreshRecord(record.ID, db.RefreshStatusFailed, err.Error()); jErr != nil {
			log.Printf("failed to journal refresh failure: %q", jErr)
		}
		record.Status = db.RefreshStatusFailed
		record.Error = err.Error()
		return record, err
	}

	if err := m.db.CloseRefreshRecord(record.ID, db.RefreshStatusSucceeded, ""); err != nil {
		log.Printf("failed to journal refresh success: %q", err)
	}
	record.Status = db.RefreshStatusSucceeded
	return record, nil
}

func (m *Manager) run(ctx context.Context, record db.RefreshRecord, params Params, srcShort, srcFQDN, destShort, destFQDN string) (db.RefreshRecord, error) {
	srcServer, err := m.findServer(ctx, srcShort)
	if err != nil {
		return record, err
	}
	destServer, err := m.findServer(ctx, destShort)
	if err != nil {
		return record, err
	}

	// find the volume backing the source mountpoint
	srcHost, err := m.dial(srcFQDN)
	if err != nil {
		return record, errors.Wrapf(err, "connecting to source %s", srcFQDN)
	}
	defer srcHost.Close()

	serial, err := srcHost.MountpointToSerial(ctx, params.SourceMount)
	if err != nil {
		return record, errors.Wrapf(err, "determining serial of %s on %s", params.SourceMount, srcShort)
	}

	srcVolume, err := m.findMappedVolume(ctx, srcServer, serial)
	if err != nil {
		return record, err
	}
	record.VolumeName = srcVolume.Name
	if err := m.db.UpdateRefreshRecord(record); err != nil {
		return record, errors.Wrap(err, "updating journal")
	}

	destHost, err := m.dial(destFQDN)
	if err != nil {
		return record, errors.Wrapf(err, "connecting to destination %s", destFQDN)
	}
	defer destHost.Close()

	// clear out whatever was previously mounted at the destination
	if err := m.cleanDestination(ctx, destHost, destServer, params.DestinationMount); err != nil {
		return record, errors.Wrap(err, "cleaning destination")
	}

	// short lived replay to build the view from
	replay, err := m.client.CreateReplay(ctx, srcVolume.InstanceID,
		fmt.Sprintf("view volume refresh %s", record.ID), replayExpireMinutes)
	if err != nil {
		return record, err
	}
	record.ReplayID = replay.InstanceID

	folder, err := m.ensureViewFolder(ctx, srcShort)
	if err != nil {
		return record, err
	}

	viewName := m.ViewVolumeName(srcShort, params)
	view, err := m.client.CreateViewVolume(ctx, replay.InstanceID, viewName, folder.InstanceID)
	if err != nil {
		return record, err
	}
	record.ViewVolumeName = view.Name
	record.ViewVolumeID = view.InstanceID
	if err := m.db.UpdateRefreshRecord(record); err != nil {
		return record, errors.Wrap(err, "updating journal")
	}

	// the recommended storage profile, so the view is not pinned to
	// the tier the replay lives on
	recommendedProfile := m.client.StorageCenter() + ".1"
	if _, err := m.client.ModifyVolume(ctx, view.InstanceID, dsm.ModifyVolumeParams{
		StorageProfile: recommendedProfile,
	}); err != nil {
		return record, err
	}

	if _, err := m.client.MapVolume(ctx, view.InstanceID, destServer.InstanceID); err != nil {
		return record, err
	}

	if err := m.mountView(ctx, destHost, view, params.DestinationMount); err != nil {
		return record, err
	}
	return record, nil
}

func (m *Manager) findServer(ctx context.Context, name string) (dsm.ScServer, error) {
	matches, err := m.client.SearchServers(ctx, name)
	if err != nil {
		return dsm.ScServer{}, err
	}
	switch len(matches) {
	case 0:
		return dsm.ScServer{}, cErrors.NewServerNotFoundErr("server %s not found", name)
	case 1:
		return matches[0], nil
	default:
		return dsm.ScServer{}, cErrors.NewAmbiguousMatchErr("server name %s matched %d objects", name, len(matches))
	}
}

// findMappedVolume locates the server mapped volume whose device ID
// matches the serial seen by the host.
func (m *Manager) findMappedVolume(ctx context.Context, server dsm.ScServer, serial string) (dsm.ScVolume, error) {
	mappings, err := m.client.ListServerMappings(ctx, server.InstanceID)
	if err != nil {
		return dsm.ScVolume{}, err
	}

	serial = strings.ToLower(serial)
	for _, mapping := range mappings {
		volume, err := m.client.GetVolume(ctx, mapping.Volume.InstanceName)
		if err != nil {
			return dsm.ScVolume{}, err
		}
		deviceID := strings.ToLower(volume.DeviceID)
		if deviceID != "" && (strings.Contains(serial, deviceID) || strings.Contains(deviceID, serial)) {
			return volume, nil
		}
	}
	return dsm.ScVolume{}, cErrors.NewVolumeNotFoundErr(
		"no volume mapped to %s matches serial %s", server.Name, serial)
}

// cleanDestination unmounts and removes whatever view volume was
// previously presented at the destination mountpoint, both on the
// host and on the Storage Center.
func (m *Manager) cleanDestination(ctx context.Context, host HostConn, server dsm.ScServer, mountpoint string) error {
	device, err := host.MountpointDevice(ctx, mountpoint)
	if err != nil {
		if errors.Is(err, &cErrors.NotFoundError{}) {
			// nothing mounted, nothing to clean
			return nil
		}
		return err
	}

	serial, err := host.MountpointToSerial(ctx, mountpoint)
	if err != nil {
		return err
	}

	if err := host.Unmount(ctx, mountpoint); err != nil {
		return errors.Wrapf(err, "unmounting %s", mountpoint)
	}

	// tear down the multipath map and its paths
	if strings.HasPrefix(device, "/dev/mapper/") {
		alias := strings.TrimPrefix(device, "/dev/mapper/")
		paths, err := host.MultipathPaths(ctx, alias)
		if err != nil {
			return err
		}
		if err := host.FlushMultipath(ctx, alias); err != nil {
			return err
		}
		for _, path := range paths {
			if err := host.DeleteDisk(ctx, path); err != nil {
				return err
			}
		}
	}

	// retire the old view volume on the Storage Center
	oldVolume, err := m.findMappedVolume(ctx, server, serial)
	if err != nil {
		if errors.Is(err, &cErrors.ErrVolumeNotFound{}) {
			return nil
		}
		return err
	}
	if err := m.client.UnmapVolume(ctx, oldVolume.InstanceID, server.InstanceID); err != nil {
		return err
	}
	if err := m.client.RecycleVolume(ctx, oldVolume.InstanceID); err != nil {
		return err
	}
	return nil
}

// ensureViewFolder finds or creates the view volume folder for a
// source server.
func (m *Manager) ensureViewFolder(ctx context.Context, srcShort string) (dsm.ScVolumeFolder, error) {
	folderName := fmt.Sprintf("%s/%s", viewVolumeFolderPrefix, srcShort)
	folders, err := m.client.SearchVolumeFolders(ctx, folderName)
	if err != nil {
		return dsm.ScVolumeFolder{}, err
	}
	if len(folders) > 0 {
		return folders[0], nil
	}
	return m.client.CreateVolumeFolder(ctx, folderName, dsm.RootFolderID,
		fmt.Sprintf("view volumes cloned from %s", srcShort))
}

// mountView brings the freshly mapped view volume up on the
// destination host and persists the mount.
func (m *Manager) mountView(ctx context.Context, host HostConn, view dsm.ScVolume, mountpoint string) error {
	if err := host.RescanSCSIBus(ctx); err != nil {
		return errors.Wrap(err, "rescanning SCSI bus")
	}

	alias, err := host.AliasForSerial(ctx, view.DeviceID)
	if err != nil {
		return errors.Wrapf(err, "locating multipath device for %s", view.Name)
	}
	device := "/dev/mapper/" + alias

	// a clone carries its origin's filesystem UUID, which collides
	// if both end up visible on the same host
	if err := host.ChangeFilesystemUUID(ctx, device); err != nil {
		return errors.Wrapf(err, "regenerating filesystem UUID on %s", device)
	}

	if err := host.Mount(ctx, device, mountpoint); err != nil {
		return errors.Wrapf(err, "mounting %s at %s", device, mountpoint)
	}
	if err := host.UpdateFstab(ctx, device, mountpoint, "xfs"); err != nil {
		return errors.Wrapf(err, "persisting %s in fstab", mountpoint)
	}
	return nil
}
