package dsm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"

	cErrors "compellent/errors"
	"compellent/util"
)

// The Data Collector pads list responses with null entries for objects
// the session is not allowed to see. Those are dropped here.
func compact[T any](in []*T) []T {
	out := make([]T, 0, len(in))
	for _, item := range in {
		if item != nil {
			out = append(out, *item)
		}
	}
	return out
}

// ListServers returns all server objects attached to the Storage
// Center.
func (c *Client) ListServers(ctx context.Context) ([]ScServer, error) {
	var servers []*ScServer
	path := fmt.Sprintf("/StorageCenter/StorageCenter/%s/ServerList", c.cfg.StorageCenter)
	if err := c.do(ctx, http.MethodGet, path, nil, &servers); err != nil {
		return nil, errors.Wrap(err, "listing servers")
	}
	return compact(servers), nil
}

// SearchServers returns all servers whose name matches the given
// shell style pattern.
func (c *Client) SearchServers(ctx context.Context, pattern string) ([]ScServer, error) {
	servers, err := c.ListServers(ctx)
	if err != nil {
		return nil, err
	}

	var matches []ScServer
	for _, server := range servers {
		if util.MatchPattern(server.Name, pattern) {
			matches = append(matches, server)
		}
	}
	return matches, nil
}

// GetServer retrieves the server object with the given name. Exactly
// one server must match.
func (c *Client) GetServer(ctx context.Context, name string) (ScServer, error) {
	body := andFilter(map[string]string{
		"scSerialNumber": c.cfg.StorageCenter,
		"instanceName":   name,
	})

	var servers []*ScServer
	if err := c.do(ctx, http.MethodPost, "/StorageCenter/ScServer/GetList", body, &servers); err != nil {
		return ScServer{}, errors.Wrapf(err, "fetching server %s", name)
	}

	matches := compact(servers)
	switch len(matches) {
	case 0:
		return ScServer{}, cErrors.NewServerNotFoundErr("server %s not found", name)
	case 1:
		return matches[0], nil
	default:
		return ScServer{}, cErrors.NewAmbiguousMatchErr("server name %s matched %d objects", name, len(matches))
	}
}

// ListServerMappings returns all mappings associated with a server.
func (c *Client) ListServerMappings(ctx context.Context, serverID string) ([]ScMapping, error) {
	var mappings []*ScMapping
	path := fmt.Sprintf("/StorageCenter/ScServer/%s/MappingList", c.qualifyID(serverID))
	if err := c.do(ctx, http.MethodGet, path, nil, &mappings); err != nil {
		return nil, errors.Wrapf(err, "listing mappings for server %s", serverID)
	}
	return compact(mappings), nil
}

// SearchServerMappings returns the server mappings whose volume name
// matches the given shell style pattern.
func (c *Client) SearchServerMappings(ctx context.Context, serverID, pattern string) ([]ScMapping, error) {
	mappings, err := c.ListServerMappings(ctx, serverID)
	if err != nil {
		return nil, err
	}

	var matches []ScMapping
	for _, mapping := range mappings {
		if util.MatchPattern(mapping.Volume.InstanceName, pattern) {
			matches = append(matches, mapping)
		}
	}
	return matches, nil
}
