// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package jobs

import (
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// migrationFile matches up-migration names: V<version>_<name>.sql, with
// the paired rollback at V<version>_<name>.down.sql.
var migrationFile = regexp.MustCompile(`^V(\d+)_(.+)\.sql$`)

const migrationsSchema = `
CREATE TABLE IF NOT EXISTS _migrations (
	version    INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	checksum   TEXT NOT NULL,
	applied_at DATETIME NOT NULL
);`

type migration struct {
	Version  int
	Name     string
	UpSQL    string
	DownSQL  string // "" when no .down.sql file exists
	Checksum string // sha256 hex of UpSQL
}

// Migrator applies versioned schema migrations to the embedded
// relational store, recording each in the _migrations table. A
// migration already recorded is skipped, but its checksum is verified
// so an edited-after-apply file fails loudly instead of silently
// diverging from the deployed schema.
type Migrator struct {
	db  *sql.DB
	fys fs.FS
}

// NewMigrator reads migrations from fsys; pass nil to use the package's
// embedded migration set (the _jobs schema).
func NewMigrator(db *sql.DB, fsys fs.FS) *Migrator {
	if fsys == nil {
		sub, err := fs.Sub(embeddedMigrations, "migrations")
		if err != nil {
			panic("jobs: embedded migrations missing: " + err.Error())
		}
		fsys = sub
	}
	return &Migrator{db: db, fys: fsys}
}

func (m *Migrator) load() ([]migration, error) {
	entries, err := fs.ReadDir(m.fys, ".")
	if err != nil {
		return nil, fmt.Errorf("jobs: read migrations: %w", err)
	}
	byVersion := make(map[int]*migration)
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".down.sql") {
			continue
		}
		match := migrationFile.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		version, err := strconv.Atoi(match[1])
		if err != nil {
			return nil, fmt.Errorf("jobs: migration %q: bad version: %w", name, err)
		}
		if prior, dup := byVersion[version]; dup {
			return nil, fmt.Errorf("jobs: duplicate migration version %d (%s, %s)", version, prior.Name, match[2])
		}
		up, err := fs.ReadFile(m.fys, name)
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(up)
		mg := &migration{
			Version:  version,
			Name:     match[2],
			UpSQL:    string(up),
			Checksum: hex.EncodeToString(sum[:]),
		}
		if down, err := fs.ReadFile(m.fys, strings.TrimSuffix(name, ".sql")+".down.sql"); err == nil {
			mg.DownSQL = string(down)
		}
		byVersion[version] = mg
	}
	out := make([]migration, 0, len(byVersion))
	for _, mg := range byVersion {
		out = append(out, *mg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Apply runs every not-yet-applied migration in version order, each in
// its own transaction with its _migrations record.
func (m *Migrator) Apply() error {
	if _, err := m.db.Exec(migrationsSchema); err != nil {
		return fmt.Errorf("jobs: init _migrations schema: %w", err)
	}
	migs, err := m.load()
	if err != nil {
		return err
	}
	for _, mg := range migs {
		var applied string
		err := m.db.QueryRow(`SELECT checksum FROM _migrations WHERE version=?`, mg.Version).Scan(&applied)
		switch {
		case err == nil:
			if applied != mg.Checksum {
				return fmt.Errorf("jobs: migration V%d_%s checksum mismatch: file changed after it was applied", mg.Version, mg.Name)
			}
			continue
		case err != sql.ErrNoRows:
			return err
		}

		tx, err := m.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(mg.UpSQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("jobs: apply migration V%d_%s: %w", mg.Version, mg.Name, err)
		}
		if _, err := tx.Exec(`INSERT INTO _migrations (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)`,
			mg.Version, mg.Name, mg.Checksum, time.Now()); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Rollback reverts the single migration at version using its .down.sql,
// removing its _migrations record. Migrations without a down file
// cannot be rolled back.
func (m *Migrator) Rollback(version int) error {
	migs, err := m.load()
	if err != nil {
		return err
	}
	for _, mg := range migs {
		if mg.Version != version {
			continue
		}
		if mg.DownSQL == "" {
			return fmt.Errorf("jobs: migration V%d_%s has no down migration", version, mg.Name)
		}
		tx, err := m.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(mg.DownSQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("jobs: roll back migration V%d_%s: %w", version, mg.Name, err)
		}
		if _, err := tx.Exec(`DELETE FROM _migrations WHERE version=?`, version); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	}
	return fmt.Errorf("jobs: no migration with version %d", version)
}

// Applied lists the versions recorded in _migrations, ascending.
func (m *Migrator) Applied() ([]int, error) {
	rows, err := m.db.Query(`SELECT version FROM _migrations ORDER BY version ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
