package freq

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS meta (
  key   TEXT PRIMARY KEY,
  value TEXT NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS frequencies (
  token_id INTEGER PRIMARY KEY,
  count    INTEGER NOT NULL
);`,
}

// OpenSQLite opens, creating if needed, the database at path and ensures the
// frequency tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "create sqlite directory")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set busy_timeout")
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "bootstrap schema")
		}
	}
	return db, nil
}

// SaveSQLite replaces the contents of the database at path with table, in a
// single transaction.
func SaveSQLite(ctx context.Context, path string, table *Table) (err error) {
	if table.Checksum == "" {
		table.Checksum = table.ComputeChecksum()
	}
	db, err := OpenSQLite(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range []string{"DELETE FROM meta;", "DELETE FROM frequencies;"} {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "clear tables")
		}
	}

	meta := map[string]string{
		"dataset":   table.Dataset,
		"tokenizer": table.Tokenizer,
		"run_id":    table.RunID,
		"created":   table.Created.Format(time.RFC3339Nano),
		"records":   strconv.FormatInt(table.Records, 10),
		"total":     strconv.FormatUint(table.Total, 10),
		"checksum":  table.Checksum,
	}
	for key, value := range table.Settings {
		meta[settingPrefix+key] = value
	}
	for key, value := range meta {
		if _, err = tx.ExecContext(ctx,
			"INSERT INTO meta (key, value) VALUES (?, ?);", key, value); err != nil {
			return errors.Wrapf(err, "insert meta %s", key)
		}
	}

	insert, err := tx.PrepareContext(ctx,
		"INSERT INTO frequencies (token_id, count) VALUES (?, ?);")
	if err != nil {
		return errors.Wrap(err, "prepare insert")
	}
	defer insert.Close()
	for _, entry := range table.Counts.Entries() {
		// SQLite integers are signed 64-bit.
		if _, err = insert.ExecContext(ctx,
			int64(entry.Token), int64(entry.Count)); err != nil {
			return errors.Wrapf(err, "insert token %d", entry.Token)
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

// LoadSQLite reads a table written by SaveSQLite and verifies its checksum.
func LoadSQLite(ctx context.Context, path string) (*Table, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	db, err := OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	table := &Table{Counts: NewCounter()}
	rows, err := db.QueryContext(ctx, "SELECT key, value FROM meta;")
	if err != nil {
		return nil, errors.Wrap(err, "query meta")
	}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan meta")
		}
		if err := table.setMeta(key, value); err != nil {
			rows.Close()
			return nil, err
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate meta")
	}

	rows, err = db.QueryContext(ctx, "SELECT token_id, count FROM frequencies;")
	if err != nil {
		return nil, errors.Wrap(err, "query frequencies")
	}
	defer rows.Close()
	for rows.Next() {
		var id, count int64
		if err := rows.Scan(&id, &count); err != nil {
			return nil, errors.Wrap(err, "scan frequency")
		}
		table.Counts[uint32(id)] = uint64(count)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate frequencies")
	}
	if err := table.Verify(); err != nil {
		return nil, errors.Wrapf(err, "verifying %s", path)
	}
	return table, nil
}

// Settings are stored in meta under this key prefix.
const settingPrefix = "setting."

func (t *Table) setMeta(key, value string) (err error) {
	if name, ok := strings.CutPrefix(key, settingPrefix); ok {
		if t.Settings == nil {
			t.Settings = make(map[string]string)
		}
		t.Settings[name] = value
		return nil
	}
	switch key {
	case "dataset":
		t.Dataset = value
	case "tokenizer":
		t.Tokenizer = value
	case "run_id":
		t.RunID = value
	case "checksum":
		t.Checksum = value
	case "created":
		t.Created, err = time.Parse(time.RFC3339Nano, value)
	case "records":
		t.Records, err = strconv.ParseInt(value, 10, 64)
	case "total":
		t.Total, err = strconv.ParseUint(value, 10, 64)
	}
	return errors.Wrapf(err, "parse meta %s", key)
}
