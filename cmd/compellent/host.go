package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli"

	cErrors "compellent/errors"
	"compellent/internal/hostops"
)

// defaultMultipathConf is where multipath aliases live on our hosts.
const defaultMultipathConf = "/etc/multipath.conf"

var hostCommand = cli.Command{
	Name:  "host",
	Usage: "local block device operations",
	Subcommands: []cli.Command{
		{
			Name:  "rescan",
			Usage: "rescan all SCSI hosts for newly presented volumes",
			Action: func(c *cli.Context) error {
				return hostops.RescanSCSIHosts(c.GlobalBool("verbose"))
			},
		},
		{
			Name:  "resize",
			Usage: "rescan disk sizes after volumes were grown on the Storage Center",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "no-multipath",
					Usage: "do not ask multipathd to resize its maps",
				},
				cli.BoolFlag{
					Name:  "reread-partitions",
					Usage: "re-read the partition table of every disk after rescanning",
				},
			},
			Action: func(c *cli.Context) error {
				if err := hostops.RescanDeviceSizes(!c.Bool("no-multipath"), c.GlobalBool("verbose")); err != nil {
					return err
				}

				disks, err := hostops.ValidDisks()
				if err != nil {
					return err
				}
				table := newTable()
				fmt.Fprintln(table, "DISK\tSIZE")
				for _, disk := range disks {
					device := "/dev/" + disk
					if c.Bool("reread-partitions") {
						if err := hostops.RereadPartitionTable(device); err != nil {
							return err
						}
					}
					size, err := hostops.BlockDeviceSize(device)
					if err != nil {
						return err
					}
					fmt.Fprintf(table, "%s\t%d\n", disk, size)
				}
				return table.Flush()
			},
		},
		{
			Name:  "topology",
			Usage: "show the multipath maps present on this host",
			Action: func(c *cli.Context) error {
				topology, err := hostops.MultipathTopology()
				if err != nil {
					return err
				}

				table := newTable()
				fmt.Fprintln(table, "ALIAS\tWWID\tPRODUCT\tPATHS")
				for _, device := range topology {
					fmt.Fprintf(table, "%s\t%s\t%s\t%s\n",
						device.Alias, device.WWID, device.Product,
						strings.Join(device.Paths, " "))
				}
				return table.Flush()
			},
		},
		{
			Name:      "delete",
			Usage:     "remove SCSI disks and multipath maps from this host",
			ArgsUsage: "",
			Flags: []cli.Flag{
				cli.StringSliceFlag{
					Name:  "disk, d",
					Usage: "SCSI disk to delete (sdg). Repeatable",
				},
				cli.StringSliceFlag{
					Name:  "alias, a",
					Usage: "multipath alias to delete, including its paths. Repeatable",
				},
			},
			Action: func(c *cli.Context) error {
				disks := c.StringSlice("disk")
				aliases := c.StringSlice("alias")
				if len(disks) == 0 && len(aliases) == 0 {
					return cErrors.NewValueError("select at least one --disk or --alias")
				}

				if err := hostops.ValidateDeleteSelection(disks, aliases); err != nil {
					return err
				}

				if !confirm(c, fmt.Sprintf("Delete %s",
					strings.Join(append(append([]string{}, disks...), aliases...), " "))) {
					return cErrors.NewValueError("aborted")
				}
				return hostops.DeleteDevices(disks, aliases, c.GlobalBool("verbose"))
			},
		},
		{
			Name:      "wwid-alias",
			Usage:     "update multipath aliases for Compellent volumes",
			ArgsUsage: "<wwid:alias>...",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "multipath-conf",
					Value: defaultMultipathConf,
					Usage: "multipath configuration file to rewrite",
				},
				cli.BoolFlag{
					Name:  "reload",
					Usage: "reload multipathd after rewriting the configuration",
				},
			},
			Action: func(c *cli.Context) error {
				if len(c.Args()) == 0 {
					return cErrors.NewValueError("pass at least one wwid:alias pair")
				}
				if err := hostops.RequireRoot(); err != nil {
					return err
				}

				aliases, err := hostops.WWIDAliases()
				if err != nil {
					return err
				}
				mounted, err := hostops.MountedDevices()
				if err != nil {
					return err
				}
				if err := hostops.ApplyAliasUpdates(aliases, c.Args(), mounted, c.GlobalBool("verbose")); err != nil {
					return err
				}

				if err := hostops.RewriteAliasConfig(c.String("multipath-conf"), aliases); err != nil {
					return err
				}
				if c.Bool("reload") {
					return hostops.ReloadMultipathd(c.GlobalBool("verbose"))
				}
				return nil
			},
		},
	},
}
