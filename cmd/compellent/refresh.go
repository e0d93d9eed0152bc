package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"compellent/config"
	"compellent/db"
	"compellent/dsm"
	cErrors "compellent/errors"
	"compellent/refresh"
	"compellent/remote"
)

// sshPassword prompts for an SSH password when no agent is available.
// With a running agent its keys are used and no password is needed.
func sshPassword(cfg *config.Config) (string, error) {
	if os.Getenv("SSH_AUTH_SOCK") != "" {
		return "", nil
	}

	fmt.Printf("SSH password for %s: ", cfg.SSH.SSHUser())
	raw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", errors.Wrap(err, "reading SSH password")
	}
	return string(raw), nil
}

var refreshCommand = cli.Command{
	Name:      "refresh",
	Usage:     "clone a volume from a source server onto a destination server",
	ArgsUsage: "<source> <source-mount> <destination> <destination-mount> <environment>",
	Description: `Creates a snapshot of the volume mounted at <source-mount> on
   <source>, builds a view volume from it and mounts it at
   <destination-mount> on <destination>. A view volume previously
   presented at the destination mountpoint is unmounted and recycled
   first. Refreshing onto production servers is refused.

   Host access uses keys from a running SSH agent when one is
   available, otherwise an SSH password is prompted for.`,
	Action: func(c *cli.Context) error {
		if len(c.Args()) != 5 {
			return cErrors.NewValueError(
				"expected <source> <source-mount> <destination> <destination-mount> <environment>")
		}
		params := refresh.Params{
			Source:           c.Args().Get(0),
			SourceMount:      c.Args().Get(1),
			Destination:      c.Args().Get(2),
			DestinationMount: c.Args().Get(3),
			Environment:      c.Args().Get(4),
		}
		if err := params.Validate(); err != nil {
			return err
		}

		if !confirm(c, fmt.Sprintf(
			"Replace the volume at %s:%s with a clone of %s:%s",
			params.Destination, params.DestinationMount,
			params.Source, params.SourceMount)) {
			return cErrors.NewValueError("aborted")
		}

		return withClient(c, func(ctx context.Context, cfg *config.Config, client *dsm.Client, database *db.Database) error {
			password, err := sshPassword(cfg)
			if err != nil {
				return err
			}
			dial := func(host string) (refresh.HostConn, error) {
				return remote.Dial(host, password, &cfg.SSH)
			}
			manager, err := refresh.NewManager(cfg, client, database, dial)
			if err != nil {
				return err
			}

			record, err := manager.Run(ctx, params)
			if err != nil {
				if record.ID != "" {
					return fmt.Errorf("refresh %s failed: %w", record.ID, err)
				}
				return err
			}
			fmt.Printf("Refreshed %s:%s from %s:%s (view volume %s)\n",
				record.Destination, record.DestinationMount,
				record.Source, record.SourceMount, record.ViewVolumeName)
			return nil
		})
	},
}
