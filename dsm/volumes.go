package dsm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"

	cErrors "compellent/errors"
	"compellent/util"
)

// ListVolumes returns all volumes managed by the Storage Center.
func (c *Client) ListVolumes(ctx context.Context) ([]ScVolume, error) {
	var volumes []*ScVolume
	path := fmt.Sprintf("/StorageCenter/ScVolumeFolder/%s/VolumeList", c.cfg.StorageCenter)
	if err := c.do(ctx, http.MethodGet, path, nil, &volumes); err != nil {
		return nil, errors.Wrap(err, "listing volumes")
	}
	return compact(volumes), nil
}

// SearchVolumes returns all volumes whose name matches the given
// shell style pattern.
func (c *Client) SearchVolumes(ctx context.Context, pattern string) ([]ScVolume, error) {
	volumes, err := c.ListVolumes(ctx)
	if err != nil {
		return nil, err
	}

	var matches []ScVolume
	for _, volume := range volumes {
		if util.MatchPattern(volume.Name, pattern) {
			matches = append(matches, volume)
		}
	}
	return matches, nil
}

// GetVolume retrieves the volume object with the given name. Exactly
// one volume must match.
func (c *Client) GetVolume(ctx context.Context, name string) (ScVolume, error) {
	body := andFilter(map[string]string{
		"scSerialNumber": c.cfg.StorageCenter,
		"instanceName":   name,
	})

	var volumes []*ScVolume
	if err := c.do(ctx, http.MethodPost, "/StorageCenter/ScVolume/GetList", body, &volumes); err != nil {
		return ScVolume{}, errors.Wrapf(err, "fetching volume %s", name)
	}

	matches := compact(volumes)
	switch len(matches) {
	case 0:
		return ScVolume{}, cErrors.NewVolumeNotFoundErr("volume %s not found", name)
	case 1:
		return matches[0], nil
	default:
		return ScVolume{}, cErrors.NewAmbiguousMatchErr("volume name %s matched %d objects", name, len(matches))
	}
}

// ListVolumeMappings returns all mappings associated with a volume.
func (c *Client) ListVolumeMappings(ctx context.Context, volumeID string) ([]ScMapping, error) {
	var mappings []*ScMapping
	path := fmt.Sprintf("/StorageCenter/ScVolume/%s/MappingList", c.qualifyID(volumeID))
	if err := c.do(ctx, http.MethodGet, path, nil, &mappings); err != nil {
		return nil, errors.Wrapf(err, "listing mappings for volume %s", volumeID)
	}
	return compact(mappings), nil
}

// ListVolumeMappingProfiles returns all mapping profiles associated
// with a volume.
func (c *Client) ListVolumeMappingProfiles(ctx context.Context, volumeID string) ([]ScMappingProfile, error) {
	var profiles []*ScMappingProfile
	path := fmt.Sprintf("/StorageCenter/ScVolume/%s/MappingProfileList", c.qualifyID(volumeID))
	if err := c.do(ctx, http.MethodGet, path, nil, &profiles); err != nil {
		return nil, errors.Wrapf(err, "listing mapping profiles for volume %s", volumeID)
	}
	return compact(profiles), nil
}

// MapVolume maps a volume to a server. If the volume is already
// mapped to the server, the existing mapping is returned.
func (c *Client) MapVolume(ctx context.Context, volumeID, serverID string) (ScMapping, error) {
	mappings, err := c.ListVolumeMappings(ctx, volumeID)
	if err != nil {
		return ScMapping{}, err
	}
	for _, mapping := range mappings {
		if mapping.Server.InstanceID == c.qualifyID(serverID) {
			return mapping, nil
		}
	}

	body := map[string]string{
		"Server": c.qualifyID(serverID),
	}
	var mapping ScMapping
	path := fmt.Sprintf("/StorageCenter/ScVolume/%s/MapToServer", c.qualifyID(volumeID))
	if err := c.do(ctx, http.MethodPost, path, body, &mapping); err != nil {
		return ScMapping{}, errors.Wrapf(err, "mapping volume %s to server %s", volumeID, serverID)
	}
	return mapping, nil
}

// UnmapVolume removes all mapping profiles between a volume and a
// server.
func (c *Client) UnmapVolume(ctx context.Context, volumeID, serverID string) error {
	profiles, err := c.ListVolumeMappingProfiles(ctx, volumeID)
	if err != nil {
		return err
	}

	for _, profile := range profiles {
		if profile.Server.InstanceID != c.qualifyID(serverID) {
			continue
		}
		path := fmt.Sprintf("/StorageCenter/ScMappingProfile/%s", profile.InstanceID)
		if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
			return errors.Wrapf(err, "deleting mapping profile %s", profile.InstanceID)
		}
	}
	return nil
}

// RecycleVolume moves a volume to the recycle bin.
func (c *Client) RecycleVolume(ctx context.Context, volumeID string) error {
	path := fmt.Sprintf("/StorageCenter/ScVolume/%s/Recycle", c.qualifyID(volumeID))
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return errors.Wrapf(err, "recycling volume %s", volumeID)
	}
	return nil
}

// ModifyVolumeParams holds the modifiable volume attributes. Empty
// fields are left untouched.
type ModifyVolumeParams struct {
	Name           string `json:"Name,omitempty"`
	StorageProfile string `json:"StorageProfile,omitempty"`
	VolumeFolder   string `json:"VolumeFolder,omitempty"`
}

// ModifyVolume updates attributes of an existing volume.
func (c *Client) ModifyVolume(ctx context.Context, volumeID string, params ModifyVolumeParams) (ScVolume, error) {
	var volume ScVolume
	path := fmt.Sprintf("/StorageCenter/ScVolume/%s", c.qualifyID(volumeID))
	if err := c.do(ctx, http.MethodPut, path, params, &volume); err != nil {
		return ScVolume{}, errors.Wrapf(err, "modifying volume %s", volumeID)
	}
	return volume, nil
}
