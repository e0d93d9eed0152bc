package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"golang.org/x/term"

	"compellent/db"
	cErrors "compellent/errors"
)

var credentialCommand = cli.Command{
	Name:  "credential",
	Usage: "manage the stored Data Collector credential",
	Subcommands: []cli.Command{
		{
			Name:  "set",
			Usage: "prompt for and store the Data Collector password",
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

				fmt.Printf("Password for %s@%s: ", cfg.DSM.User, cfg.DSM.Host)
				raw, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Println()
				if err != nil {
					return errors.Wrap(err, "reading password")
				}
				if len(raw) == 0 {
					return cErrors.NewValueError("empty password")
				}

				if _, err := database.SetCredential(cfg.DSM.User, cfg.DSM.Host, string(raw)); err != nil {
					return err
				}
				fmt.Printf("Stored credential for %s@%s\n", cfg.DSM.User, cfg.DSM.Host)
				return nil
			},
		},
		{
			Name:  "delete",
			Usage: "remove the stored Data Collector password",
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

				if err := database.DeleteCredential(cfg.DSM.User, cfg.DSM.Host); err != nil {
					return err
				}
				fmt.Printf("Removed credential for %s@%s\n", cfg.DSM.User, cfg.DSM.Host)
				return nil
			},
		},
	},
}
