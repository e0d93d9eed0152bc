package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/timshannon/bolthold"
	"go.etcd.io/bbolt"

	cErrors "compellent/errors"
)

// Open opens the database at path and returns a *bolthold.Store
func Open(path string) (*bolthold.Store, error) {
	bboltOptions := bbolt.Options{
		Timeout: 1 * time.Second,
	}
	store, err := bolthold.Open(path, 0600, &bolthold.Options{Options: &bboltOptions})
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	return store, nil
}

// NewDatabase returns a new *Database object
func NewDatabase(dbFile string) (*Database, error) {
	con, err := Open(dbFile)
	if err != nil {
		return nil, errors.Wrap(err, "opening database file")
	}
	return &Database{
		location: dbFile,
		con:      con,
	}, nil
}

// Database is the interface to the local state store. It holds stored
// Data Collector credentials and the refresh journal.
type Database struct {
	location string
	con      *bolthold.Store
}

// Close closes the underlying bolt store.
func (d *Database) Close() error {
	return d.con.Close()
}

func credentialID(user, host string) string {
	return fmt.Sprintf("%s@%s", user, host)
}

// GetCredential fetches the stored password for user@host.
func (d *Database) GetCredential(user, host string) (Credential, error) {
	var cred Credential
	if err := d.con.Get(credentialID(user, host), &cred); err != nil {
		if errors.Is(err, bolthold.ErrNotFound) {
			return Credential{}, cErrors.NewNotFoundError("no stored credential for %s", credentialID(user, host))
		}
		return Credential{}, errors.Wrap(err, "fetching credential")
	}
	return cred, nil
}

// SetCredential stores or replaces the password for user@host.
func (d *Database) SetCredential(user, host, password string) (Credential, error) {
	cred := Credential{
		ID:        credentialID(user, host),
		Host:      host,
		User:      user,
		Password:  password,
		UpdatedAt: time.Now().UTC(),
	}
	if err := d.con.Upsert(cred.ID, &cred); err != nil {
		return Credential{}, errors.Wrap(err, "storing credential")
	}
	return cred, nil
}

// DeleteCredential removes the stored password for user@host.
func (d *Database) DeleteCredential(user, host string) error {
	if err := d.con.Delete(credentialID(user, host), &Credential{}); err != nil {
		if errors.Is(err, bolthold.ErrNotFound) {
			return nil
		}
		return errors.Wrap(err, "deleting credential")
	}
	return nil
}

// CreateRefreshRecord journals the start of a refresh run.
func (d *Database) CreateRefreshRecord(record RefreshRecord) (RefreshRecord, error) {
	newUUID := uuid.New()
	record.ID = newUUID.String()
	record.Status = RefreshStatusRunning
	record.StartedAt = time.Now().UTC()
	if err := d.con.Insert(record.ID, &record); err != nil {
		return RefreshRecord{}, errors.Wrap(err, "inserting refresh record into db")
	}
	return record, nil
}

// GetRefreshRecord fetches one refresh record by ID.
func (d *Database) GetRefreshRecord(id string) (RefreshRecord, error) {
	var record RefreshRecord
	if err := d.con.Get(id, &record); err != nil {
		if errors.Is(err, bolthold.ErrNotFound) {
			return RefreshRecord{}, cErrors.NewNotFoundError("refresh record %s not found in db", id)
		}
		return RefreshRecord{}, errors.Wrap(err, "fetching refresh record")
	}
	return record, nil
}

// ListRefreshRecords fetches all refresh records from the journal,
// oldest first.
func (d *Database) ListRefreshRecords() ([]RefreshRecord, error) {
	var records []RefreshRecord
	if err := d.con.Find(&records, (&bolthold.Query{}).SortBy("StartedAt")); err != nil {
		return nil, errors.Wrap(err, "fetching refresh records")
	}
	return records, nil
}

// UpdateRefreshRecord replaces an existing refresh record.
func (d *Database) UpdateRefreshRecord(record RefreshRecord) error {
	if err := d.con.Update(record.ID, &record); err != nil {
		return errors.Wrap(err, "updating refresh record")
	}
	return nil
}

// CloseRefreshRecord marks a refresh run as finished with the given
// status. The error message is only recorded for failed runs.
func (d *Database) CloseRefreshRecord(id string, status RefreshStatus, errMsg string) error {
	record, err := d.GetRefreshRecord(id)
	if err != nil {
		return err
	}
	record.Status = status
	record.FinishedAt = time.Now().UTC()
	if status == RefreshStatusFailed {
		record.Error = errMsg
	}
	return d.UpdateRefreshRecord(record)
}
