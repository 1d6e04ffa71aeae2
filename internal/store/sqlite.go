package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	_ "modernc.org/sqlite" // sqlite driver

	"github.com/dantte-lp/gotopo/internal/model"
)

const schemaVersion = 1

const schema = `
CREATE TABLE switches (
	datapath INTEGER PRIMARY KEY
);

CREATE TABLE isls (
	src_datapath INTEGER NOT NULL,
	src_port     INTEGER NOT NULL,
	dst_datapath INTEGER NOT NULL,
	dst_port     INTEGER NOT NULL,
	status       TEXT    NOT NULL,
	PRIMARY KEY (src_datapath, src_port, dst_datapath, dst_port)
);

CREATE TABLE bfd_sessions (
	datapath      INTEGER NOT NULL,
	port          INTEGER NOT NULL,
	discriminator INTEGER NOT NULL,
	PRIMARY KEY (datapath, port)
);
`

// ErrSchemaVersion indicates a database written by an incompatible version.
var ErrSchemaVersion = errors.New("database schema version mismatch")

// SQLite is a Repository in a SQLite database file.
type SQLite struct {
	db *sql.DB
}

var _ Repository = (*SQLite)(nil)

// OpenSQLite opens or creates the database at path and sets up its schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" || strings.Contains(path, ":memory:") {
		return nil, fmt.Errorf("open sqlite %q: a database file path is required", path)
	}

	params := make(url.Values)
	params.Add("_txlock", "immediate")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "busy_timeout(1000)")
	params.Add("_pragma", "synchronous(NORMAL)")

	dsn := path + "?" + params.Encode()
	if !strings.HasPrefix(path, "file:") {
		dsn = "file:" + dsn
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.setup(ctx); err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return s, nil
}

func (s *SQLite) setup(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}

	switch version {
	case 0:
		if _, err := s.db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return fmt.Errorf("write schema version: %w", err)
		}
		return nil
	case schemaVersion:
		return nil
	default:
		return fmt.Errorf("expected %d, have %d: %w", schemaVersion, version, ErrSchemaVersion)
	}
}

// LoadAllSwitches returns the saved switches in ascending order.
func (s *SQLite) LoadAllSwitches(ctx context.Context) ([]model.SwitchID, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT datapath FROM switches")
	if err != nil {
		return nil, fmt.Errorf("load switches: %w", err)
	}
	defer rows.Close()

	var out []model.SwitchID
	for rows.Next() {
		var dp int64
		if err := rows.Scan(&dp); err != nil {
			return nil, fmt.Errorf("scan switch: %w", err)
		}
		out = append(out, model.SwitchID(uint64(dp)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load switches: %w", err)
	}
	sortSwitches(out)
	return out, nil
}

// SaveSwitch records a switch.
func (s *SQLite) SaveSwitch(ctx context.Context, id model.SwitchID) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO switches (datapath) VALUES (?) ON CONFLICT DO NOTHING",
		int64(id),
	)
	if err != nil {
		return fmt.Errorf("save switch %s: %w", id, err)
	}
	return nil
}

// LoadAllIsls returns every link record ordered by source then destination.
func (s *SQLite) LoadAllIsls(ctx context.Context) ([]model.Isl, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT src_datapath, src_port, dst_datapath, dst_port, status FROM isls")
	if err != nil {
		return nil, fmt.Errorf("load isls: %w", err)
	}
	defer rows.Close()

	var out []model.Isl
	for rows.Next() {
		var (
			srcDp, dstDp     int64
			srcPort, dstPort uint32
			status           string
		)
		if err := rows.Scan(&srcDp, &srcPort, &dstDp, &dstPort, &status); err != nil {
			return nil, fmt.Errorf("scan isl: %w", err)
		}
		out = append(out, model.Isl{
			Source: model.NewEndpoint(model.SwitchID(uint64(srcDp)), srcPort),
			Dest:   model.NewEndpoint(model.SwitchID(uint64(dstDp)), dstPort),
			Status: model.ParseIslStatus(status),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load isls: %w", err)
	}
	sortIsls(out)
	return out, nil
}

// PersistIslStatus writes status for both directions of ref in one
// transaction.
func (s *SQLite) PersistIslStatus(ctx context.Context, ref model.IslReference, status model.IslStatus) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persist isl %s: %w", ref, err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	const upsert = `INSERT INTO isls (src_datapath, src_port, dst_datapath, dst_port, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (src_datapath, src_port, dst_datapath, dst_port) DO UPDATE SET status = excluded.status`

	for _, dir := range [][2]model.Endpoint{{ref.Source, ref.Dest}, {ref.Dest, ref.Source}} {
		_, err = tx.ExecContext(ctx, upsert,
			int64(dir[0].Datapath), dir[0].Port,
			int64(dir[1].Datapath), dir[1].Port,
			status.String(),
		)
		if err != nil {
			return fmt.Errorf("persist isl %s: %w", ref, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("persist isl %s: commit: %w", ref, err)
	}
	return nil
}

// LoadBfdSessions returns every discriminator binding ordered by endpoint.
func (s *SQLite) LoadBfdSessions(ctx context.Context) ([]model.BfdSession, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT datapath, port, discriminator FROM bfd_sessions ")
	if err != nil {
		return nil, fmt.Errorf("load bfd sessions: %w", err)
	}
	defer rows.Close()

	var out []model.BfdSession
	for rows.Next() {
		var (
			dp         int64
			port, disc uint32
		)
		if err := rows.Scan(&dp, &port, &disc); err != nil {
			return nil, fmt.Errorf("scan bfd session: %w", err)
		}
		out = append(out, model.BfdSession{
			Endpoint:      model.NewEndpoint(model.SwitchID(uint64(dp)), port),
			Discriminator: disc,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load bfd sessions: %w", err)
	}
	sortSessions(out)
	return out, nil
}

// SaveBfdSession records the discriminator bound to an endpoint.
func (s *SQLite) SaveBfdSession(ctx context.Context, session model.BfdSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bfd_sessions (datapath, port, discriminator) VALUES (?, ?, ?)
		ON CONFLICT (datapath, port) DO UPDATE SET discriminator = excluded.discriminator`,
		int64(session.Endpoint.Datapath), session.Endpoint.Port, session.Discriminator,
	)
	if err != nil {
		return fmt.Errorf("save bfd session %s: %w", session.Endpoint, err)
	}
	return nil
}

// DeleteBfdSession removes the binding of ep, if any.
func (s *SQLite) DeleteBfdSession(ctx context.Context, ep model.Endpoint) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM bfd_sessions WHERE datapath = ? AND port = ?",
		int64(ep.Datapath), ep.Port,
	)
	if err != nil {
		return fmt.Errorf("delete bfd session %s: %w", ep, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
