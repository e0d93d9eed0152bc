// compellent is a command line toolkit for managing Dell Compellent
// volumes, snapshots and view volumes through the Dell Storage Manager
// Data Collector, along with the host side block device plumbing.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"golang.org/x/term"

	"compellent/config"
	"compellent/db"
	"compellent/dsm"
	cErrors "compellent/errors"
	"compellent/util"
)

// Version is set through ldflags at build time.
var Version = "v1.0.0"

func main() {
	app := cli.NewApp()
	app.Name = "compellent"
	app.Version = Version
	app.Usage = "manage Compellent volumes, snapshots and view volumes"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Value: config.DefaultConfigFile,
			Usage: "path to the config file",
		},
		cli.BoolFlag{
			Name:  "password, p",
			Usage: "prompt for the Data Collector password again and store it",
		},
		cli.BoolFlag{
			Name:  "insecure, i",
			Usage: "skip TLS certificate and SSH host key verification",
		},
		cli.BoolFlag{
			Name:  "assume-yes, y",
			Usage: "answer yes to all confirmation prompts",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "verbose output",
		},
	}
	app.Commands = []cli.Command{
		listCommand,
		snapshotCommand,
		viewCommand,
		refreshCommand,
		hostCommand,
		credentialCommand,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// mainContext returns a context cancelled on SIGINT/SIGTERM.
func mainContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// loadConfig parses the config file and applies global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.ParseConfig(c.GlobalString("config"))
	if err != nil {
		return nil, errors.Wrap(err, "loading config")
	}
	if c.GlobalBool("insecure") {
		cfg.DSM.Insecure = true
		cfg.SSH.Insecure = true
	}

	writer, err := util.GetLoggingWriter(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "getting log writer")
	}
	log.SetOutput(writer)
	return cfg, nil
}

// readPassword is stubbed in tests.
var readPassword = term.ReadPassword

// dsmPassword determines the Data Collector password: the stored
// credential is used unless -p forces a new interactive prompt, whose
// answer is stored for next time. The second return value reports
// whether the password came from the store.
func dsmPassword(c *cli.Context, cfg *config.Config, database *db.Database) (string, bool, error) {
	if !c.GlobalBool("password") {
		if cred, err := database.GetCredential(cfg.DSM.User, cfg.DSM.Host); err == nil {
			return cred.Password, true, nil
		}
	}

	fmt.Printf("Password for %s@%s: ", cfg.DSM.User, cfg.DSM.Host)
	raw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", false, errors.Wrap(err, "reading password")
	}
	password := string(raw)
	if password == "" {
		return "", false, cErrors.NewValueError("empty password")
	}

	if _, err := database.SetCredential(cfg.DSM.User, cfg.DSM.Host, password); err != nil {
		log.Printf("failed to store credential: %q", err)
	}
	return password, false, nil
}

// withClient runs fn with a logged in Data Collector client. The
// configured pre and post hooks run around fn.
func withClient(c *cli.Context, fn func(ctx context.Context, cfg *config.Config, client *dsm.Client, database *db.Database) error) error {
	ctx, cancel := mainContext()
	defer cancel()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	database, err := db.NewDatabase(cfg.DBFile)
	if err != nil {
		return errors.Wrap(err, "opening local database")
	}
	defer database.Close()

	password, fromStore, err := dsmPassword(c, cfg, database)
	if err != nil {
		return err
	}

	client, err := dsm.NewClient(&cfg.DSM, password)
	if err != nil {
		return err
	}

	if out, err := util.RunHook(cfg.PreCommand); err != nil {
		return errors.Wrapf(err, "pre command failed: %s", out)
	}

	if err := client.Login(ctx); err != nil {
		if fromStore && errors.Is(err, &cErrors.UnauthorizedError{}) {
			// drop the stale credential so the next run prompts again
			if delErr := database.DeleteCredential(cfg.DSM.User, cfg.DSM.Host); delErr != nil {
				log.Printf("failed to remove stale credential: %q", delErr)
			}
			return errors.Wrap(err, "stored credential rejected, removed it")
		}
		return err
	}
	defer func() {
		if err := client.Logout(ctx); err != nil {
			log.Printf("logout failed: %q", err)
		}
	}()

	runErr := fn(ctx, cfg, client, database)

	if out, err := util.RunHook(cfg.PostCommand); err != nil {
		log.Printf("post command failed: %q: %s", err, out)
	}
	return runErr
}

// confirm asks the user for confirmation, unless -y was given.
func confirm(c *cli.Context, prompt string) bool {
	if c.GlobalBool("assume-yes") {
		return true
	}
	fmt.Printf("%s [y/N]: ", prompt)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
