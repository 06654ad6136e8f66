package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/sitecheck/pkg/models"
)

var migrations = []migration{
	{
		version:     1,
		description: "create runs and device results",
		up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE runs (
					id          TEXT     PRIMARY KEY,
					project     TEXT     NOT NULL,
					reference   TEXT     NOT NULL,
					started_at  DATETIME NOT NULL,
					finished_at DATETIME NOT NULL,
					total       INTEGER  NOT NULL,
					pass        INTEGER  NOT NULL,
					fail        INTEGER  NOT NULL,
					skipped     INTEGER  NOT NULL DEFAULT 0,
					aborted     INTEGER  NOT NULL DEFAULT 0,
					public_ip   TEXT     NOT NULL DEFAULT '',
					payload     TEXT     NOT NULL
				)`,
				`CREATE INDEX idx_runs_started ON runs(started_at)`,
				`CREATE TABLE device_results (
					run_id     TEXT     NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
					device     TEXT     NOT NULL,
					ip         TEXT     NOT NULL,
					category   TEXT     NOT NULL,
					online     INTEGER  NOT NULL,
					mode       TEXT     NOT NULL,
					serial     TEXT     NOT NULL,
					mac        TEXT     NOT NULL,
					firmware   TEXT     NOT NULL,
					error      TEXT     NOT NULL DEFAULT '',
					checked_at DATETIME NOT NULL,
					PRIMARY KEY (run_id, device, ip)
				)`,
			}
			for _, q := range stmts {
				if _, err := tx.Exec(q); err != nil {
					return err
				}
			}
			return nil
		},
	},
	{
		version:     2,
		description: "create device identity cache",
		up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE TABLE device_identity (
				ip         TEXT     PRIMARY KEY,
				device     TEXT     NOT NULL,
				serial     TEXT     NOT NULL,
				mac        TEXT     NOT NULL,
				firmware   TEXT     NOT NULL,
				uptime     TEXT     NOT NULL,
				updated_at DATETIME NOT NULL
			)`)
			return err
		},
	},
}

// RunSummary is one row of run history.
type RunSummary struct {
	ID         string
	Project    string
	Reference  string
	StartedAt  time.Time
	FinishedAt time.Time
	Stats      models.RunStats
	Skipped    int
	Aborted    bool
	PublicIP   string
}

// Identity is the last successfully observed identity of a device.
type Identity struct {
	Device    string
	Serial    string
	MAC       string
	Firmware  string
	Uptime    string
	UpdatedAt time.Time
}

// SaveRun records a completed run, its per-device rows, and refreshes the
// identity cache from every online result.
func (h *History) SaveRun(ctx context.Context, p *models.ReportPayload) error {
	if p == nil || p.RunID == "" {
		return fmt.Errorf("save run: missing run id")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", p.RunID, err)
	}

	return h.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, project, reference, started_at, finished_at,
				total, pass, fail, skipped, aborted, public_ip, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.RunID, p.Project.Name, p.Project.Reference, p.StartedAt.UTC(), p.FinishedAt.UTC(),
			p.Stats.Total, p.Stats.Pass, p.Stats.Fail, len(p.Skipped), p.Aborted, p.WAN.PublicIP,
			string(payload),
		)
		if err != nil {
			return fmt.Errorf("insert run %s: %w", p.RunID, err)
		}

		for _, g := range p.Groups {
			for _, dr := range g.Results {
				if err := insertResult(ctx, tx, p.RunID, dr); err != nil {
					return err
				}
				if dr.Result.Online {
					if err := upsertIdentity(ctx, tx, dr); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}

func insertResult(ctx context.Context, tx *sql.Tx, runID string, dr models.DeviceResult) error {
	r := dr.Result
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO device_results (run_id, device, ip, category, online,
			mode, serial, mac, firmware, error, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, dr.Device.Name, dr.Device.IP, string(dr.Device.Category), r.Online,
		r.Mode, r.Serial, r.MAC, r.Firmware, string(r.Error), r.CheckedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert result %s: %w", dr.Device.Name, err)
	}
	return nil
}

// upsertIdentity keeps any previously known value when the new result only
// carries a sentinel for that field.
func upsertIdentity(ctx context.Context, tx *sql.Tx, dr models.DeviceResult) error {
	r := dr.Result
	_, err := tx.ExecContext(ctx, `
		INSERT INTO device_identity (ip, device, serial, mac, firmware, uptime, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ip) DO UPDATE SET
			device     = excluded.device,
			serial     = CASE WHEN excluded.serial   = '' THEN device_identity.serial   ELSE excluded.serial   END,
			mac        = CASE WHEN excluded.mac      = '' THEN device_identity.mac      ELSE excluded.mac      END,
			firmware   = CASE WHEN excluded.firmware = '' THEN device_identity.firmware ELSE excluded.firmware END,
			uptime     = CASE WHEN excluded.uptime   = '' THEN device_identity.uptime   ELSE excluded.uptime   END,
			updated_at = excluded.updated_at`,
		dr.Device.IP, dr.Device.Name,
		known(r.Serial), known(r.MAC), known(r.Firmware), known(r.Uptime),
		r.CheckedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert identity %s: %w", dr.Device.Name, err)
	}
	return nil
}

// known maps display sentinels to the empty string.
func known(v string) string {
	switch v {
	case models.SentinelMissing, models.SentinelNoSerial, models.SentinelOffline, models.SentinelOnline:
		return ""
	}
	return v
}

// ListRuns returns the most recent runs first.
func (h *History) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, project, reference, started_at, finished_at,
			total, pass, fail, skipped, aborted, public_ip
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.Project, &r.Reference, &r.StartedAt, &r.FinishedAt,
			&r.Stats.Total, &r.Stats.Pass, &r.Stats.Fail, &r.Skipped, &r.Aborted, &r.PublicIP); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun returns the full payload of a stored run.
func (h *History) GetRun(ctx context.Context, id string) (*models.ReportPayload, error) {
	var raw string
	err := h.db.QueryRowContext(ctx, "SELECT payload FROM runs WHERE id = ?", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	var p models.ReportPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &p, nil
}

// ErrNotFound is returned for unknown runs.
var ErrNotFound = errors.New("not found")

// LastKnown returns the cached identity for ip. ok is false when the device
// has never been seen online.
func (h *History) LastKnown(ctx context.Context, ip string) (Identity, bool, error) {
	var id Identity
	err := h.db.QueryRowContext(ctx, `
		SELECT device, serial, mac, firmware, uptime, updated_at
		FROM device_identity WHERE ip = ?`, ip,
	).Scan(&id.Device, &id.Serial, &id.MAC, &id.Firmware, &id.Uptime, &id.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, fmt.Errorf("last known %s: %w", ip, err)
	}
	return id, true, nil
}
