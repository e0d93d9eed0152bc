package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli"

	"compellent/config"
	"compellent/db"
	"compellent/dsm"
	cErrors "compellent/errors"
	"compellent/util"
)

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
}

var listCommand = cli.Command{
	Name:  "list",
	Usage: "list servers, volumes, mappings and snapshots",
	Subcommands: []cli.Command{
		{
			Name:      "servers",
			Usage:     "list servers attached to the Storage Center",
			ArgsUsage: "[pattern]",
			Action: func(c *cli.Context) error {
				return withClient(c, func(ctx context.Context, cfg *config.Config, client *dsm.Client, database *db.Database) error {
					var (
						servers []dsm.ScServer
						err     error
					)
					if pattern := c.Args().First(); pattern != "" {
						servers, err = client.SearchServers(ctx, pattern)
					} else {
						servers, err = client.ListServers(ctx)
					}
					if err != nil {
						return err
					}

					table := newTable()
					fmt.Fprintln(table, "NAME\tSTATUS\tOS\tID")
					for _, server := range servers {
						fmt.Fprintf(table, "%s\t%s\t%s\t%s\n",
							server.Name, server.Status,
							server.OperatingSystem.InstanceName, server.InstanceID)
					}
					return table.Flush()
				})
			},
		},
		{
			Name:      "volumes",
			Usage:     "list volumes on the Storage Center",
			ArgsUsage: "[pattern]",
			Action: func(c *cli.Context) error {
				return withClient(c, func(ctx context.Context, cfg *config.Config, client *dsm.Client, database *db.Database) error {
					var (
						volumes []dsm.ScVolume
						err     error
					)
					if pattern := c.Args().First(); pattern != "" {
						volumes, err = client.SearchVolumes(ctx, pattern)
					} else {
						volumes, err = client.ListVolumes(ctx)
					}
					if err != nil {
						return err
					}

					table := newTable()
					fmt.Fprintln(table, "NAME\tSIZE\tSTATUS\tFOLDER\tID")
					for _, volume := range volumes {
						fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%s\n",
							volume.Name, volume.ConfiguredSize, volume.Status,
							volume.VolumeFolder.InstanceName, volume.InstanceID)
					}
					return table.Flush()
				})
			},
		},
		{
			Name:      "mappings",
			Usage:     "list volumes mapped to a server",
			ArgsUsage: "<server> [volume-pattern]",
			Action: func(c *cli.Context) error {
				name := c.Args().First()
				if name == "" {
					return cErrors.NewValueError("missing server name")
				}
				return withClient(c, func(ctx context.Context, cfg *config.Config, client *dsm.Client, database *db.Database) error {
					server, err := client.GetServer(ctx, name)
					if err != nil {
						return err
					}

					var mappings []dsm.ScMapping
					if pattern := c.Args().Get(1); pattern != "" {
						mappings, err = client.SearchServerMappings(ctx, server.InstanceID, pattern)
					} else {
						mappings, err = client.ListServerMappings(ctx, server.InstanceID)
					}
					if err != nil {
						return err
					}

					table := newTable()
					fmt.Fprintln(table, "VOLUME\tLUN\tID")
					for _, mapping := range mappings {
						fmt.Fprintf(table, "%s\t%d\t%s\n",
							mapping.Volume.InstanceName, mapping.Lun, mapping.InstanceID)
					}
					return table.Flush()
				})
			},
		},
		{
			Name:      "snapshots",
			Usage:     "list snapshots of a volume",
			ArgsUsage: "<volume>",
			Action: func(c *cli.Context) error {
				name := c.Args().First()
				if name == "" {
					return cErrors.NewValueError("missing volume name")
				}
				return withClient(c, func(ctx context.Context, cfg *config.Config, client *dsm.Client, database *db.Database) error {
					volume, err := client.GetVolume(ctx, name)
					if err != nil {
						return err
					}

					replays, err := client.ListReplays(ctx, volume.InstanceID)
					if err != nil {
						return err
					}

					table := newTable()
					fmt.Fprintln(table, "DESCRIPTION\tFROZEN\tEXPIRES\tID")
					for _, replay := range replays {
						expires := replay.ExpireTime
						if !replay.Expires {
							expires = "never"
						}
						fmt.Fprintf(table, "%s\t%s\t%s\t%s\n",
							replay.Description, replay.FreezeTime, expires, replay.InstanceID)
					}
					return table.Flush()
				})
			},
		},
		{
			Name:  "refreshes",
			Usage: "list journaled view volume refresh runs",
			Action: func(c *cli.Context) error {
				cfg, err := loadConfig(c)
				if err != nil {
					return err
				}
				database, err := db.NewDatabase(cfg.DBFile)
				if err != nil {
					return err
				}
				defer database.Close()

				records, err := database.ListRefreshRecords()
				if err != nil {
					return err
				}

				table := newTable()
				fmt.Fprintln(table, "STARTED\tSOURCE\tDESTINATION\tVIEW VOLUME\tSTATUS")
				for _, record := range records {
					fmt.Fprintf(table, "%s\t%s:%s\t%s:%s\t%s\t%s\n",
						record.StartedAt.Format("2006-01-02 15:04"),
						record.Source, record.SourceMount,
						record.Destination, record.DestinationMount,
						record.ViewVolumeName, record.Status)
				}
				return table.Flush()
			},
		},
	},
}

var snapshotCommand = cli.Command{
	Name:      "snapshot",
	Usage:     "create a snapshot of a volume",
	ArgsUsage: "<volume>",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "expiration, e",
			Value: "0",
			Usage: "snapshot lifetime, e.g. 90, 12h, 7d, 2w, 1m, 1y. 0 never expires",
		},
		cli.StringFlag{
			Name:  "description, d",
			Value: "created by compellent cli",
			Usage: "snapshot description",
		},
	},
	Action: func(c *cli.Context) error {
		name := c.Args().First()
		if name == "" {
			return cErrors.NewValueError("missing volume name")
		}
		expiration, err := util.ParseExpiration(c.String("expiration"))
		if err != nil {
			return err
		}

		return withClient(c, func(ctx context.Context, cfg *config.Config, client *dsm.Client, database *db.Database) error {
			volume, err := client.GetVolume(ctx, name)
			if err != nil {
				return err
			}

			replay, err := client.CreateReplay(ctx, volume.InstanceID, c.String("description"), expiration)
			if err != nil {
				return err
			}
			fmt.Printf("Created snapshot %s of volume %s\n", replay.InstanceID, volume.Name)
			return nil
		})
	},
}

var viewCommand = cli.Command{
	Name:      "view",
	Usage:     "create a view volume exposing a fresh snapshot of a volume",
	ArgsUsage: "<volume>",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "name, n",
			Usage: "view volume name. Defaults to vv_<volume>",
		},
		cli.StringFlag{
			Name:  "server, s",
			Usage: "map the view volume to this server",
		},
		cli.StringFlag{
			Name:  "folder, f",
			Usage: "place the view volume in this folder",
		},
		cli.StringFlag{
			Name:  "expiration, e",
			Value: "15",
			Usage: "lifetime of the backing snapshot in minutes or with a modifier",
		},
	},
	Action: func(c *cli.Context) error {
		name := c.Args().First()
		if name == "" {
			return cErrors.NewValueError("missing volume name")
		}
		expiration, err := util.ParseExpiration(c.String("expiration"))
		if err != nil {
			return err
		}

		return withClient(c, func(ctx context.Context, cfg *config.Config, client *dsm.Client, database *db.Database) error {
			volume, err := client.GetVolume(ctx, name)
			if err != nil {
				return err
			}

			viewName := c.String("name")
			if viewName == "" {
				viewName = "vv_" + volume.Name
			}

			var folderID string
			if folderName := c.String("folder"); folderName != "" {
				folders, err := client.SearchVolumeFolders(ctx, folderName)
				if err != nil {
					return err
				}
				switch len(folders) {
				case 0:
					folder, err := client.CreateVolumeFolder(ctx, folderName, dsm.RootFolderID, "")
					if err != nil {
						return err
					}
					folderID = folder.InstanceID
				default:
					folderID = folders[0].InstanceID
				}
			}

			replay, err := client.CreateReplay(ctx, volume.InstanceID,
				fmt.Sprintf("view volume %s", viewName), expiration)
			if err != nil {
				return err
			}

			view, err := client.CreateViewVolume(ctx, replay.InstanceID, viewName, folderID)
			if err != nil {
				return err
			}
			fmt.Printf("Created view volume %s (%s)\n", view.Name, view.InstanceID)

			if serverName := c.String("server"); serverName != "" {
				server, err := client.GetServer(ctx, serverName)
				if err != nil {
					return err
				}
				mapping, err := client.MapVolume(ctx, view.InstanceID, server.InstanceID)
				if err != nil {
					return err
				}
				fmt.Printf("Mapped %s to %s as LUN %d\n", view.Name, server.Name, mapping.Lun)
			}
			return nil
		})
	},
}
