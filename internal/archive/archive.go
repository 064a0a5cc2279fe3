// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package archive implements SQLite archive of SI/TI analysis runs.
package archive

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/evolution-gaming/siti/internal/siti"
	_ "modernc.org/sqlite"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	in_dir TEXT NOT NULL,
	max_frames INTEGER NOT NULL DEFAULT 0,
	started_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS videos (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	video_id TEXT NOT NULL,
	frames INTEGER NOT NULL DEFAULT 0,
	si_mean REAL,
	si_max REAL,
	ti_mean REAL,
	ti_max REAL,
	category TEXT,
	failure_kind TEXT,
	failure TEXT,
	UNIQUE (run_id, video_id)
);

CREATE TABLE IF NOT EXISTS frames (
	video_row INTEGER NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
	n INTEGER NOT NULL,
	si REAL NOT NULL,
	ti REAL,
	PRIMARY KEY (video_row, n)
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_videos_video_id ON videos(video_id);
`

// ErrNoRun is returned when saving results without a run started.
var ErrNoRun = errors.New("no run started, call BeginRun() first")

// Archive stores analysis results of batch runs in SQLite database.
type Archive struct {
	db    *sql.DB
	mu    sync.Mutex
	runID int64
}

// Open opens (creating if needed) archive database at given path.
func Open(dbPath string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("insert schema version: %w", err)
		}
	case err != nil:
		db.Close()
		return nil, fmt.Errorf("check schema version: %w", err)
	case version > schemaVersion:
		db.Close()
		return nil, fmt.Errorf("archive schema version %d is newer than supported %d", version, schemaVersion)
	}

	return &Archive{db: db}, nil
}

// BeginRun registers a new batch run, subsequent results are saved under it.
func (a *Archive) BeginRun(inDir string, maxFrames int) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := a.db.Exec("INSERT INTO runs (in_dir, max_frames, started_at) VALUES (?, ?, ?)",
		inDir, maxFrames, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	a.runID, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("run id: %w", err)
	}
	return a.runID, nil
}

// SaveResult stores summary and per-frame values of analysed video.
func (a *Archive) SaveResult(r siti.Result) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.runID == 0 {
		return ErrNoRun
	}

	tx, err := a.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var tiMean, tiMax sql.NullFloat64
	if r.HasTI() {
		tiMean = sql.NullFloat64{Float64: r.TIMean, Valid: true}
		tiMax = sql.NullFloat64{Float64: r.TIMax, Valid: true}
	}
	res, err := tx.Exec(`
		INSERT INTO videos (run_id, video_id, frames, si_mean, si_max, ti_mean, ti_max, category)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.runID, r.VideoID, len(r.SI), r.SIMean, r.SIMax, tiMean, tiMax, r.Category())
	if err != nil {
		return fmt.Errorf("insert video %s: %w", r.VideoID, err)
	}
	videoRow, err := res.LastInsertId()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare("INSERT INTO frames (video_row, n, si, ti) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, si := range r.SI {
		var ti sql.NullFloat64
		if i > 0 {
			ti = sql.NullFloat64{Float64: r.TI[i-1], Valid: true}
		}
		if _, err := stmt.Exec(videoRow, i, si, ti); err != nil {
			return fmt.Errorf("insert frame %d of %s: %w", i, r.VideoID, err)
		}
	}

	return tx.Commit()
}

// SaveFailure stores a failed video analysis along with its failure kind.
func (a *Archive) SaveFailure(videoID string, cause error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.runID == 0 {
		return ErrNoRun
	}

	_, err := a.db.Exec(`
		INSERT INTO videos (run_id, video_id, failure_kind, failure) VALUES (?, ?, ?, ?)`,
		a.runID, videoID, siti.Kind(cause), cause.Error())
	if err != nil {
		return fmt.Errorf("insert failure of %s: %w", videoID, err)
	}
	return nil
}

// Close closes archive database.
func (a *Archive) Close() error {
	return a.db.Close()
}
