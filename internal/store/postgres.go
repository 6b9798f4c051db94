package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/range-exchange/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All amounts and prices are BIGINT; the core arithmetic is integer-exact
// so nothing here needs NUMERIC.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// InitSchema creates the tables. Idempotent; run by the init command.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS participants (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL UNIQUE,
			credit_limit BIGINT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS participant_ranges (
			participant_id TEXT NOT NULL REFERENCES participants(id),
			contract_id    TEXT NOT NULL,
			low            BIGINT NOT NULL,
			high           BIGINT NOT NULL,
			PRIMARY KEY (participant_id, contract_id)
		);
		CREATE TABLE IF NOT EXISTS contracts (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL UNIQUE,
			resolution SMALLINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS ious (
			id               TEXT PRIMARY KEY,
			issuer           TEXT NOT NULL,
			holder           TEXT NOT NULL,
			cond_kind        SMALLINT NOT NULL,
			cond_contract_id TEXT NOT NULL,
			amount           BIGINT NOT NULL,
			status           SMALLINT NOT NULL,
			split_from       TEXT NOT NULL DEFAULT '',
			seq              BIGSERIAL,
			created_at       TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS records (
			kind       TEXT NOT NULL,
			id         TEXT NOT NULL,
			data       JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (kind, id)
		)`)
	return err
}

func (s *PostgresStore) CreateParticipant(ctx context.Context, p *model.Participant) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO participants (id, name, credit_limit, created_at)
		 VALUES ($1, $2, $3, $4)`,
		p.ID, p.Name, p.CreditLimit, p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetParticipant(ctx context.Context, id string) (*model.Participant, error) {
	p := model.Participant{Ranges: make(map[string]model.Range)}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, credit_limit, created_at FROM participants WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.CreditLimit, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get participant %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT contract_id, low, high FROM participant_ranges WHERE participant_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var r model.Range
		if err := rows.Scan(&r.ContractID, &r.Low, &r.High); err != nil {
			return nil, err
		}
		p.Ranges[r.ContractID] = r
	}
	return &p, rows.Err()
}

func (s *PostgresStore) ListParticipants(ctx context.Context) ([]model.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, credit_limit, created_at FROM participants ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]*model.Participant)
	var out []model.Participant
	for rows.Next() {
		p := model.Participant{Ranges: make(map[string]model.Range)}
		if err := rows.Scan(&p.ID, &p.Name, &p.CreditLimit, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		byID[out[i].ID] = &out[i]
	}

	rangeRows, err := s.pool.Query(ctx,
		`SELECT participant_id, contract_id, low, high FROM participant_ranges`)
	if err != nil {
		return nil, err
	}
	defer rangeRows.Close()
	for rangeRows.Next() {
		var pid string
		var r model.Range
		if err := rangeRows.Scan(&pid, &r.ContractID, &r.Low, &r.High); err != nil {
			return nil, err
		}
		if p, ok := byID[pid]; ok {
			p.Ranges[r.ContractID] = r
		}
	}
	return out, rangeRows.Err()
}

func (s *PostgresStore) UpdateParticipant(ctx context.Context, p *model.Participant) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := updateParticipantTx(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// updateParticipantTx rewrites credit and the whole range set; ranges are
// replace-wholesale by contract, matching the declaration semantics.
func updateParticipantTx(ctx context.Context, tx pgx.Tx, p *model.Participant) error {
	tag, err := tx.Exec(ctx,
		`UPDATE participants SET credit_limit = $2 WHERE id = $1`, p.ID, p.CreditLimit)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM participant_ranges WHERE participant_id = $1`, p.ID); err != nil {
		return err
	}
	for _, r := range p.Ranges {
		if _, err := tx.Exec(ctx,
			`INSERT INTO participant_ranges (participant_id, contract_id, low, high)
			 VALUES ($1, $2, $3, $4)`,
			p.ID, r.ContractID, r.Low, r.High); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) CreateContract(ctx context.Context, c *model.Contract) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contracts (id, name, resolution, created_at)
		 VALUES ($1, $2, $3, $4)`,
		c.ID, c.Name, int(c.Resolution), c.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	var c model.Contract
	var resolution int
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, resolution, created_at FROM contracts WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &resolution, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contract %s: %w", id, err)
	}
	c.Resolution = model.Resolution(resolution)
	return &c, nil
}

func (s *PostgresStore) ListContracts(ctx context.Context) ([]model.Contract, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, resolution, created_at FROM contracts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Contract
	for rows.Next() {
		var c model.Contract
		var resolution int
		if err := rows.Scan(&c.ID, &c.Name, &resolution, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Resolution = model.Resolution(resolution)
		out = append(out, c)
	}
	return out, rows.Err()
}

const iouColumns = `id, issuer, holder, cond_kind, cond_contract_id, amount, status, split_from, created_at`

func scanIOU(row pgx.Row) (*model.IOU, error) {
	var iou model.IOU
	var kind, status int
	err := row.Scan(&iou.ID, &iou.Issuer, &iou.Holder,
		&kind, &iou.Condition.ContractID,
		&iou.Amount, &status, &iou.SplitFrom, &iou.CreatedAt)
	if err != nil {
		return nil, err
	}
	iou.Condition.Kind = model.CondKind(kind)
	iou.Status = model.Status(status)
	return &iou, nil
}

func (s *PostgresStore) GetIOU(ctx context.Context, id string) (*model.IOU, error) {
	iou, err := scanIOU(s.pool.QueryRow(ctx,
		`SELECT `+iouColumns+` FROM ious WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get iou %s: %w", id, err)
	}
	return iou, nil
}

func (s *PostgresStore) ListIOUs(ctx context.Context) ([]model.IOU, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+iouColumns+` FROM ious ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.IOU
	for rows.Next() {
		iou, err := scanIOU(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *iou)
	}
	return out, rows.Err()
}

func insertIOUTx(ctx context.Context, tx pgx.Tx, iou *model.IOU) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO ious (id, issuer, holder, cond_kind, cond_contract_id, amount, status, split_from, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		iou.ID, iou.Issuer, iou.Holder,
		int(iou.Condition.Kind), iou.Condition.ContractID,
		iou.Amount, int(iou.Status), iou.SplitFrom, iou.CreatedAt,
	)
	return err
}

func (s *PostgresStore) CommitSession(ctx context.Context, minted []model.IOU) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := range minted {
		if err := insertIOUTx(ctx, tx, &minted[i]); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) CommitResolution(ctx context.Context, c *model.Contract, settled []model.IOU, participants []model.Participant) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE contracts SET resolution = $2 WHERE id = $1`, c.ID, int(c.Resolution))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	for i := range settled {
		if _, err := tx.Exec(ctx,
			`UPDATE ious SET status = $2 WHERE id = $1`,
			settled[i].ID, int(settled[i].Status)); err != nil {
			return err
		}
	}
	for i := range participants {
		if err := updateParticipantTx(ctx, tx, &participants[i]); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) CommitSplit(ctx context.Context, parent *model.IOU, replacements []model.IOU) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE ious SET status = $2 WHERE id = $1`, parent.ID, int(parent.Status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	for i := range replacements {
		if err := insertIOUTx(ctx, tx, &replacements[i]); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) PutRecord(ctx context.Context, r *model.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO records (kind, id, data, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (kind, id) DO UPDATE SET data = EXCLUDED.data`,
		r.Kind, r.ID, []byte(r.Data), r.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetRecord(ctx context.Context, kind, id string) (*model.Record, error) {
	r := model.Record{Kind: kind, ID: id}
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data, created_at FROM records WHERE kind = $1 AND id = $2`, kind, id).
		Scan(&data, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s/%s: %w", kind, id, err)
	}
	r.Data = data
	return &r, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, kind string) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, data, created_at FROM records WHERE kind = $1 ORDER BY created_at`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		r := model.Record{Kind: kind}
		var data []byte
		if err := rows.Scan(&r.ID, &data, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Data = data
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteRecord(ctx context.Context, kind, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM records WHERE kind = $1 AND id = $2`, kind, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Counts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64)
	for _, table := range []string{"participants", "contracts", "ious", "records"} {
		var n int64
		if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
