package dsm

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
)

// CreateReplay creates a point in time snapshot of a volume. The
// expiration is given in minutes. An expiration of 0 means the replay
// never expires.
func (c *Client) CreateReplay(ctx context.Context, volumeID, description string, expireMinutes int) (ScReplay, error) {
	body := map[string]string{
		"Description": description,
		"ExpireTime":  strconv.Itoa(expireMinutes),
	}

	var replay ScReplay
	path := fmt.Sprintf("/StorageCenter/ScVolume/%s/CreateReplay", c.qualifyID(volumeID))
	if err := c.do(ctx, http.MethodPost, path, body, &replay); err != nil {
		return ScReplay{}, errors.Wrapf(err, "creating replay of volume %s", volumeID)
	}
	return replay, nil
}

// ListReplays returns all replays of a volume.
func (c *Client) ListReplays(ctx context.Context, volumeID string) ([]ScReplay, error) {
	var replays []*ScReplay
	path := fmt.Sprintf("/StorageCenter/ScVolume/%s/ReplayList", c.qualifyID(volumeID))
	if err := c.do(ctx, http.MethodGet, path, nil, &replays); err != nil {
		return nil, errors.Wrapf(err, "listing replays of volume %s", volumeID)
	}
	return compact(replays), nil
}

// CreateViewVolume creates a new volume exposing the data of a replay.
// The view volume is placed in the given folder.
func (c *Client) CreateViewVolume(ctx context.Context, replayID, name, folderID string) (ScVolume, error) {
	body := map[string]string{
		"Name": name,
	}
	if folderID != "" {
		body["VolumeFolder"] = c.qualifyID(folderID)
	}

	var volume ScVolume
	path := fmt.Sprintf("/StorageCenter/ScReplay/%s/CreateView", replayID)
	if err := c.do(ctx, http.MethodPost, path, body, &volume); err != nil {
		return ScVolume{}, errors.Wrapf(err, "creating view volume from replay %s", replayID)
	}
	return volume, nil
}
