package dsm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"

	"compellent/util"
)

// RootFolderID is the folder ID of the root of the volume tree.
const RootFolderID = "0"

// ListVolumeFolders lists all volume folders that are children of the
// given folder. Pass RootFolderID to list from the top level.
func (c *Client) ListVolumeFolders(ctx context.Context, folderID string) ([]ScVolumeFolder, error) {
	var folders []*ScVolumeFolder
	path := fmt.Sprintf("/StorageCenter/ScVolumeFolder/%s/VolumeFolderList", c.qualifyID(folderID))
	if err := c.do(ctx, http.MethodGet, path, nil, &folders); err != nil {
		return nil, errors.Wrapf(err, "listing volume folders under %s", folderID)
	}
	return compact(folders), nil
}

// SearchVolumeFolders returns the top level volume folders whose name
// matches the given shell style pattern.
func (c *Client) SearchVolumeFolders(ctx context.Context, pattern string) ([]ScVolumeFolder, error) {
	folders, err := c.ListVolumeFolders(ctx, RootFolderID)
	if err != nil {
		return nil, err
	}

	var matches []ScVolumeFolder
	for _, folder := range folders {
		if util.MatchPattern(folder.Name, pattern) {
			matches = append(matches, folder)
		}
	}
	return matches, nil
}

// CreateVolumeFolder creates a new volume folder under the given
// parent.
func (c *Client) CreateVolumeFolder(ctx context.Context, name, parentID, notes string) (ScVolumeFolder, error) {
	body := map[string]string{
		"StorageCenter": c.cfg.StorageCenter,
		"Name":          name,
		"Parent":        c.qualifyID(parentID),
	}
	if notes != "" {
		body["Notes"] = notes
	}

	var folder ScVolumeFolder
	if err := c.do(ctx, http.MethodPost, "/StorageCenter/ScVolumeFolder", body, &folder); err != nil {
		return ScVolumeFolder{}, errors.Wrapf(err, "creating volume folder %s", name)
	}
	return folder, nil
}
