package storage

// sqlite.go — cache local de rondas y winners.
//
// El ledger es la única fuente de verdad; esta cache es un espejo
// idempotente para la capa de presentación. Decisiones:
//   - INSERT estricto (sin ON CONFLICT): el conflicto de unicidad se
//     devuelve como ports.ErrDuplicate para que el synchronizer haga el
//     fallback lookup→update. Un upsert silencioso escondería la carrera.
//   - La retención (K rondas por partición) la aplica el synchronizer vía
//     ListRounds+DeleteRound; la cache solo expone el contrato genérico.
//   - Borrar una ronda borra sus winners en la misma transacción: nunca
//     quedan winners huérfanos visibles.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/winzalabs/chainsync/internal/domain"
	"github.com/winzalabs/chainsync/internal/ports"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS rounds (
    domain            TEXT    NOT NULL,
    round_id          INTEGER NOT NULL,
    status            TEXT    NOT NULL,
    prize_pool        REAL    NOT NULL DEFAULT 0,
    ticket_price      REAL    NOT NULL DEFAULT 0,
    tickets_sold      INTEGER NOT NULL DEFAULT 0,
    closing_price     REAL    NOT NULL DEFAULT 0,
    resolution_price  REAL    NOT NULL DEFAULT 0,
    up_bets           INTEGER NOT NULL DEFAULT 0,
    down_bets         INTEGER NOT NULL DEFAULT 0,
    up_bets_pool      REAL    NOT NULL DEFAULT 0,
    down_bets_pool    REAL    NOT NULL DEFAULT 0,
    created_at        DATETIME,
    closed_at         DATETIME,
    resolved_at       DATETIME,
    PRIMARY KEY (domain, round_id)
);

CREATE TABLE IF NOT EXISTS winners (
    domain          TEXT    NOT NULL,
    round_id        INTEGER NOT NULL,
    ticket_number   INTEGER NOT NULL,
    source_chain_id TEXT    NOT NULL DEFAULT '',
    owner           TEXT    NOT NULL,
    prize_amount    REAL    NOT NULL DEFAULT 0,
    claimed         INTEGER NOT NULL DEFAULT 0,
    created_at      DATETIME,
    PRIMARY KEY (domain, round_id, ticket_number, source_chain_id)
);

CREATE INDEX IF NOT EXISTS idx_rounds_domain  ON rounds(domain, round_id DESC);
CREATE INDEX IF NOT EXISTS idx_winners_round  ON winners(domain, round_id, created_at);
`

// SQLiteCache implementa ports.Cache usando SQLite (pure Go, sin CGo).
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLiteCache abre (o crea) la base en la ruta dada y aplica el schema.
func NewSQLiteCache(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteCache: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteCache: apply schema: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

// Close cierra la conexión limpiamente.
func (s *SQLiteCache) Close() error {
	return s.db.Close()
}

// --- rounds ---

// CreateRound inserta una ronda nueva; ErrDuplicate si la clave ya existe.
func (s *SQLiteCache) CreateRound(ctx context.Context, r domain.Round) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rounds (domain, round_id, status, prize_pool, ticket_price, tickets_sold,
			closing_price, resolution_price, up_bets, down_bets, up_bets_pool, down_bets_pool,
			created_at, closed_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Domain, r.ID, string(r.Status), r.PrizePool, r.TicketPrice, r.TotalTicketsSold,
		r.ClosingPrice, r.ResolutionPrice, r.UpBets, r.DownBets, r.UpBetsPool, r.DownBetsPool,
		nullTime(r.CreatedAt), nullTime(r.ClosedAt), nullTime(r.ResolvedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("storage.CreateRound: (%s, %d): %w", r.Domain, r.ID, ports.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("storage.CreateRound: %w", err)
	}
	return nil
}

// UpdateRound reescribe la ronda; ErrNotFound si no existe.
func (s *SQLiteCache) UpdateRound(ctx context.Context, r domain.Round) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rounds SET status = ?, prize_pool = ?, ticket_price = ?, tickets_sold = ?,
			closing_price = ?, resolution_price = ?, up_bets = ?, down_bets = ?,
			up_bets_pool = ?, down_bets_pool = ?, created_at = ?, closed_at = ?, resolved_at = ?
		WHERE domain = ? AND round_id = ?`,
		string(r.Status), r.PrizePool, r.TicketPrice, r.TotalTicketsSold,
		r.ClosingPrice, r.ResolutionPrice, r.UpBets, r.DownBets,
		r.UpBetsPool, r.DownBetsPool,
		nullTime(r.CreatedAt), nullTime(r.ClosedAt), nullTime(r.ResolvedAt),
		r.Domain, r.ID,
	)
	if err != nil {
		return fmt.Errorf("storage.UpdateRound: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.UpdateRound: (%s, %d): %w", r.Domain, r.ID, ports.ErrNotFound)
	}
	return nil
}

// FindRound busca por clave natural; ErrNotFound si no existe.
func (s *SQLiteCache) FindRound(ctx context.Context, dom string, id uint64) (domain.Round, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT domain, round_id, status, prize_pool, ticket_price, tickets_sold,
			closing_price, resolution_price, up_bets, down_bets, up_bets_pool, down_bets_pool,
			created_at, closed_at, resolved_at
		FROM rounds WHERE domain = ? AND round_id = ?`, dom, id)

	r, err := scanRound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Round{}, fmt.Errorf("storage.FindRound: (%s, %d): %w", dom, id, ports.ErrNotFound)
	}
	if err != nil {
		return domain.Round{}, fmt.Errorf("storage.FindRound: %w", err)
	}
	return r, nil
}

// ListRounds devuelve las rondas de la partición, más reciente primero.
func (s *SQLiteCache) ListRounds(ctx context.Context, dom string) ([]domain.Round, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, round_id, status, prize_pool, ticket_price, tickets_sold,
			closing_price, resolution_price, up_bets, down_bets, up_bets_pool, down_bets_pool,
			created_at, closed_at, resolved_at
		FROM rounds WHERE domain = ? ORDER BY round_id DESC`, dom)
	if err != nil {
		return nil, fmt.Errorf("storage.ListRounds: %w", err)
	}
	defer rows.Close()

	var out []domain.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListRounds: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRound borra la ronda y sus winners en una sola transacción.
func (s *SQLiteCache) DeleteRound(ctx context.Context, dom string, id uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.DeleteRound: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM winners WHERE domain = ? AND round_id = ?`, dom, id); err != nil {
		return fmt.Errorf("storage.DeleteRound: winners: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rounds WHERE domain = ? AND round_id = ?`, dom, id); err != nil {
		return fmt.Errorf("storage.DeleteRound: round: %w", err)
	}
	return tx.Commit()
}

// --- winners ---

// CreateWinner inserta un winner; ErrDuplicate si la tripleta ya existe.
func (s *SQLiteCache) CreateWinner(ctx context.Context, w domain.Winner) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO winners (domain, round_id, ticket_number, source_chain_id, owner,
			prize_amount, claimed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.Domain, w.RoundID, w.TicketNumber, w.SourceChainID, w.Owner,
		w.PrizeAmount, w.Claimed, nullTime(w.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("storage.CreateWinner: %s: %w", w.Key(), ports.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("storage.CreateWinner: %w", err)
	}
	return nil
}

// UpdateWinner reescribe el winner; ErrNotFound si no existe.
func (s *SQLiteCache) UpdateWinner(ctx context.Context, w domain.Winner) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE winners SET owner = ?, prize_amount = ?, claimed = ?, created_at = ?
		WHERE domain = ? AND round_id = ? AND ticket_number = ? AND source_chain_id = ?`,
		w.Owner, w.PrizeAmount, w.Claimed, nullTime(w.CreatedAt),
		w.Domain, w.RoundID, w.TicketNumber, w.SourceChainID,
	)
	if err != nil {
		return fmt.Errorf("storage.UpdateWinner: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.UpdateWinner: %s: %w", w.Key(), ports.ErrNotFound)
	}
	return nil
}

// FindWinner busca por la tripleta; ErrNotFound si no existe.
func (s *SQLiteCache) FindWinner(ctx context.Context, dom string, roundID, ticket uint64, sourceChainID string) (domain.Winner, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT domain, round_id, ticket_number, source_chain_id, owner, prize_amount, claimed, created_at
		FROM winners WHERE domain = ? AND round_id = ? AND ticket_number = ? AND source_chain_id = ?`,
		dom, roundID, ticket, sourceChainID)

	w, err := scanWinner(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Winner{}, fmt.Errorf("storage.FindWinner: %w", ports.ErrNotFound)
	}
	if err != nil {
		return domain.Winner{}, fmt.Errorf("storage.FindWinner: %w", err)
	}
	return w, nil
}

// ListWinners devuelve los winners de la ronda en orden de creación.
func (s *SQLiteCache) ListWinners(ctx context.Context, dom string, roundID uint64) ([]domain.Winner, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, round_id, ticket_number, source_chain_id, owner, prize_amount, claimed, created_at
		FROM winners WHERE domain = ? AND round_id = ?
		ORDER BY created_at ASC, ticket_number ASC`, dom, roundID)
	if err != nil {
		return nil, fmt.Errorf("storage.ListWinners: %w", err)
	}
	defer rows.Close()

	var out []domain.Winner
	for rows.Next() {
		w, err := scanWinner(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListWinners: scan: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (domain.Round, error) {
	var r domain.Round
	var status string
	var createdAt, closedAt, resolvedAt sql.NullTime
	err := row.Scan(&r.Domain, &r.ID, &status, &r.PrizePool, &r.TicketPrice, &r.TotalTicketsSold,
		&r.ClosingPrice, &r.ResolutionPrice, &r.UpBets, &r.DownBets, &r.UpBetsPool, &r.DownBetsPool,
		&createdAt, &closedAt, &resolvedAt)
	if err != nil {
		return domain.Round{}, err
	}
	r.Status = domain.RoundStatus(status)
	r.CreatedAt = timePtr(createdAt)
	r.ClosedAt = timePtr(closedAt)
	r.ResolvedAt = timePtr(resolvedAt)
	return r, nil
}

func scanWinner(row rowScanner) (domain.Winner, error) {
	var w domain.Winner
	var createdAt sql.NullTime
	err := row.Scan(&w.Domain, &w.RoundID, &w.TicketNumber, &w.SourceChainID, &w.Owner,
		&w.PrizeAmount, &w.Claimed, &createdAt)
	if err != nil {
		return domain.Winner{}, err
	}
	w.CreatedAt = timePtr(createdAt)
	return w, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}

// isUniqueViolation detecta el conflicto de clave primaria del driver.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
