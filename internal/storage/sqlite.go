package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"docground/internal/catalog"
	"docground/internal/ddr"

	_ "github.com/mattn/go-sqlite3"
)

var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates or opens a SQLite database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS symbol_sets (
			source TEXT,
			path TEXT,
			content_hash TEXT,
			symbol_count INTEGER,
			created_at INTEGER,
			PRIMARY KEY (source, path, content_hash)
		);`,
		`CREATE TABLE IF NOT EXISTS symbols (
			source TEXT,
			path TEXT,
			content_hash TEXT,
			seq INTEGER,
			id TEXT,
			name TEXT,
			kind TEXT,
			file_path TEXT,
			line INTEGER,
			documentation TEXT,
			PRIMARY KEY (source, path, content_hash, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS rounds (
			round_id TEXT,
			attempt INTEGER,
			session_id TEXT,
			accepted INTEGER,
			total INTEGER,
			verified INTEGER,
			hall_rate REAL,
			threshold REAL,
			exceeded INTEGER,
			taken_at INTEGER,
			PRIMARY KEY (round_id, attempt)
		);`,
		`CREATE TABLE IF NOT EXISTS claim_results (
			round_id TEXT,
			attempt INTEGER,
			idx INTEGER,
			claim TEXT,
			key TEXT,
			validated INTEGER,
			confidence REAL,
			sources_agreeing INTEGER,
			reason TEXT,
			best JSON,
			PRIMARY KEY (round_id, attempt, idx)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);`,
		`CREATE INDEX IF NOT EXISTS idx_rounds_session ON rounds(session_id);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// --- SymbolStore Implementation ---

func (s *SQLiteStore) CachedSymbols(ctx context.Context, source catalog.Source, path, contentHash string) ([]catalog.Symbol, bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT symbol_count FROM symbol_sets WHERE source = ? AND path = ? AND content_hash = ?",
		string(source), path, contentHash).Scan(&count)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query symbol set: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, file_path, line, documentation FROM symbols
		WHERE source = ? AND path = ? AND content_hash = ?
		ORDER BY seq
	`, string(source), path, contentHash)
	if err != nil {
		return nil, false, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	syms := make([]catalog.Symbol, 0, count)
	for rows.Next() {
		sym := catalog.Symbol{Source: source}
		var kind string
		if err := rows.Scan(&sym.ID, &sym.Name, &kind, &sym.FilePath, &sym.Line, &sym.Documentation); err != nil {
			return nil, false, fmt.Errorf("failed to scan symbol: %w", err)
		}
		sym.Kind = catalog.Kind(kind)
		syms = append(syms, sym)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	// A partially written set is treated as a miss.
	if len(syms) != count {
		return nil, false, nil
	}
	return syms, true, nil
}

func (s *SQLiteStore) CacheSymbols(ctx context.Context, source catalog.Source, path, contentHash string, symbols []catalog.Symbol) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM symbols WHERE source = ? AND path = ? AND content_hash = ?", string(source), path, contentHash); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO symbols (source, path, content_hash, seq, id, name, kind, file_path, line, documentation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, sym := range symbols {
		if _, err := stmt.ExecContext(ctx, string(source), path, contentHash, i, sym.ID, sym.Name, string(sym.Kind), sym.FilePath, sym.Line, sym.Documentation); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO symbol_sets (source, path, content_hash, symbol_count, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source, path, content_hash) DO UPDATE SET
			symbol_count=excluded.symbol_count,
			created_at=excluded.created_at
	`, string(source), path, contentHash, len(symbols), s.now().UnixNano()); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) CachedSets(ctx context.Context) ([]SymbolSet, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT source, path, content_hash, symbol_count, created_at FROM symbol_sets ORDER BY created_at, source, path")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []SymbolSet
	for rows.Next() {
		var set SymbolSet
		var source string
		var created int64
		if err := rows.Scan(&source, &set.Path, &set.ContentHash, &set.Symbols, &created); err != nil {
			return nil, err
		}
		set.Source = catalog.Source(source)
		set.CreatedAt = time.Unix(0, created)
		sets = append(sets, set)
	}
	return sets, rows.Err()
}

// --- RoundStore Implementation ---

func (s *SQLiteStore) RecordRound(ctx context.Context, r ddr.RoundReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	m := r.Metrics
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rounds (round_id, attempt, session_id, accepted, total, verified, hall_rate, threshold, exceeded, taken_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(round_id, attempt) DO UPDATE SET
			session_id=excluded.session_id,
			accepted=excluded.accepted,
			total=excluded.total,
			verified=excluded.verified,
			hall_rate=excluded.hall_rate,
			threshold=excluded.threshold,
			exceeded=excluded.exceeded,
			taken_at=excluded.taken_at
	`, r.RoundID, r.Attempt, r.SessionID, r.Accepted, m.TotalClaims, m.VerifiedClaims, m.HallRate, m.Threshold, m.Exceeded, r.At.UnixNano()); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM claim_results WHERE round_id = ? AND attempt = ?", r.RoundID, r.Attempt); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO claim_results (round_id, attempt, idx, claim, key, validated, confidence, sources_agreeing, reason, best)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, res := range r.Results {
		idx := i
		if i < len(r.Indices) {
			idx = r.Indices[i]
		}
		var best []byte
		if sym, ok := res.Best(); ok {
			if best, err = json.Marshal(sym); err != nil {
				return fmt.Errorf("failed to encode best symbol of %q: %w", res.Claim.Text, err)
			}
		}
		if _, err := stmt.ExecContext(ctx, r.RoundID, r.Attempt, idx, res.Claim.Text, res.Key, res.Validated, res.Confidence, res.SourcesAgreeing, string(res.Reason), best); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListRounds(ctx context.Context, roundID string) ([]RoundSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT round_id, attempt, session_id, accepted, total, verified, hall_rate, threshold, exceeded, taken_at
		FROM rounds WHERE round_id = ? ORDER BY attempt
	`, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	defer rows.Close()

	var out []RoundSummary
	for rows.Next() {
		var r RoundSummary
		var taken int64
		if err := rows.Scan(&r.RoundID, &r.Attempt, &r.SessionID, &r.Accepted, &r.Total, &r.Verified, &r.HallRate, &r.Threshold, &r.Exceeded, &taken); err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		r.TakenAt = time.Unix(0, taken)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ClaimResults(ctx context.Context, roundID string, attempt int) ([]ClaimRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, claim, key, validated, confidence, sources_agreeing, reason, best
		FROM claim_results WHERE round_id = ? AND attempt = ? ORDER BY idx
	`, roundID, attempt)
	if err != nil {
		return nil, fmt.Errorf("failed to query claim results: %w", err)
	}
	defer rows.Close()

	var out []ClaimRecord
	for rows.Next() {
		var c ClaimRecord
		var best []byte
		if err := rows.Scan(&c.Index, &c.Claim, &c.Key, &c.Validated, &c.Confidence, &c.SourcesAgreeing, &c.Reason, &best); err != nil {
			return nil, fmt.Errorf("failed to scan claim result: %w", err)
		}
		if len(best) > 0 {
			var sym catalog.Symbol
			if err := json.Unmarshal(best, &sym); err == nil {
				c.Best = &sym
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
