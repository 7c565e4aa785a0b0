package output

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	// registers the "sqlite" driver
	_ "modernc.org/sqlite"

	"dtiseed/internal/models"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS grid (
                width INTEGER NOT NULL,
                height INTEGER NOT NULL,
                depth INTEGER NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS voxels (
                idx INTEGER PRIMARY KEY,
                x INTEGER NOT NULL,
                y INTEGER NOT NULL,
                z INTEGER NOT NULL,
                dx REAL NOT NULL,
                dy REAL NOT NULL,
                dz REAL NOT NULL,
                fa REAL NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS seeds (
                ord INTEGER PRIMARY KEY,
                x REAL NOT NULL,
                y REAL NOT NULL,
                z REAL NOT NULL
        );`,
	`CREATE INDEX IF NOT EXISTS idx_voxels_fa ON voxels(fa);`,
}

// OpenSQLite opens or creates the SQLite database at path.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("output: database path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "output: create db dir")
		}
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, multierr.Combine(err, db.Close())
	}
	return db, nil
}

// WriteSQLite stores rec in a fresh SQLite database at path. Voxels without
// anisotropy are not stored.
func WriteSQLite(ctx context.Context, path string, rec *models.Record) (err error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "output: replacing database")
	}
	db, err := OpenSQLite(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, db.Close())
	}()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "output: begin")
	}
	if err := writeRecord(ctx, tx, rec); err != nil {
		return multierr.Combine(err, tx.Rollback())
	}
	return errors.Wrap(tx.Commit(), "output: commit")
}

func writeRecord(ctx context.Context, tx *sql.Tx, rec *models.Record) error {
	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "apply schema %q", stmt)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO grid (width, height, depth) VALUES (?, ?, ?)`,
		rec.Width, rec.Height, rec.Depth); err != nil {
		return errors.Wrap(err, "insert grid")
	}

	voxStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO voxels (idx, x, y, z, dx, dy, dz, fa) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare voxels")
	}
	defer voxStmt.Close()
	for i, v := range rec.Voxels {
		if v.FA == 0 {
			continue
		}
		x := i % rec.Width
		y := (i / rec.Width) % rec.Height
		z := i / (rec.Width * rec.Height)
		if _, err := voxStmt.ExecContext(ctx, i, x, y, z, v.DirX, v.DirY, v.DirZ, v.FA); err != nil {
			return errors.Wrapf(err, "insert voxel %d", i)
		}
	}

	for i, p := range rec.Seeds {
		if _, err := tx.ExecContext(ctx, `INSERT INTO seeds (ord, x, y, z) VALUES (?, ?, ?, ?)`,
			i, p.X, p.Y, p.Z); err != nil {
			return errors.Wrapf(err, "insert seed %d", i)
		}
	}
	return nil
}
