package main

import (
	"flag"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"

	"compellent/config"
	"compellent/db"
)

func stubReadPassword(t *testing.T, password string) {
	t.Helper()
	orig := readPassword
	readPassword = func(fd int) ([]byte, error) {
		return []byte(password), nil
	}
	t.Cleanup(func() {
		readPassword = orig
	})
}

func refuseReadPassword(t *testing.T) {
	t.Helper()
	orig := readPassword
	readPassword = func(fd int) ([]byte, error) {
		t.Fatal("unexpected password prompt")
		return nil, nil
	}
	t.Cleanup(func() {
		readPassword = orig
	})
}

// testContext builds a cli context with the -p flag set as given.
func testContext(t *testing.T, reprompt bool) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("compellent", flag.ContinueOnError)
	set.Bool("password", reprompt, "")
	return cli.NewContext(cli.NewApp(), set, nil)
}

func testCredentialEnv(t *testing.T) (*config.Config, *db.Database) {
	t.Helper()
	cfg := &config.Config{
		DSM: config.DSM{
			Host: "dsm01",
			User: "scadmin",
		},
	}
	database, err := db.NewDatabase(filepath.Join(t.TempDir(), "compellent.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		database.Close()
	})
	return cfg, database
}

func TestDsmPasswordPromptsAndStores(t *testing.T) {
	cfg, database := testCredentialEnv(t)
	stubReadPassword(t, "hunter2")

	password, fromStore, err := dsmPassword(testContext(t, false), cfg, database)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", password)
	assert.False(t, fromStore)

	cred, err := database.GetCredential("scadmin", "dsm01")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cred.Password)
}

func TestDsmPasswordFromStore(t *testing.T) {
	cfg, database := testCredentialEnv(t)
	_, err := database.SetCredential("scadmin", "dsm01", "stored")
	require.NoError(t, err)
	refuseReadPassword(t)

	password, fromStore, err := dsmPassword(testContext(t, false), cfg, database)
	require.NoError(t, err)
	assert.Equal(t, "stored", password)
	assert.True(t, fromStore)
}

func TestDsmPasswordRepromptReplacesStored(t *testing.T) {
	cfg, database := testCredentialEnv(t)
	_, err := database.SetCredential("scadmin", "dsm01", "stale")
	require.NoError(t, err)
	stubReadPassword(t, "fresh")

	password, fromStore, err := dsmPassword(testContext(t, true), cfg, database)
	require.NoError(t, err)
	assert.Equal(t, "fresh", password)
	assert.False(t, fromStore)

	cred, err := database.GetCredential("scadmin", "dsm01")
	require.NoError(t, err)
	assert.Equal(t, "fresh", cred.Password)
}

func TestDsmPasswordEmpty(t *testing.T) {
	cfg, database := testCredentialEnv(t)
	stubReadPassword(t, "")

	_, _, err := dsmPassword(testContext(t, false), cfg, database)
	assert.Error(t, err)
}

func TestSSHPasswordAgentRunning(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "/run/user/1000/agent.sock")
	refuseReadPassword(t)

	password, err := sshPassword(&config.Config{})
	require.NoError(t, err)
	assert.Empty(t, password)
}

func TestSSHPasswordPrompted(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	stubReadPassword(t, "hunter2")

	password, err := sshPassword(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, "hunter2", password)
}
