package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/papersim/trade-engine/internal/model"
)

// ledgerChannel is the NOTIFY channel for ledger changes; the payload is the
// account ID.
const ledgerChannel = "ledger_changed"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// The full ledger snapshot is stored as a JSONB document per account;
// settled transactions are additionally mirrored into an append-only audit
// table. Change pushes use LISTEN/NOTIFY.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ledgers (
			account_id TEXT PRIMARY KEY,
			doc        JSONB NOT NULL,
			revision   BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS transactions (
			id          TEXT PRIMARY KEY,
			account_id  TEXT NOT NULL,
			asset_id    TEXT NOT NULL,
			side        TEXT NOT NULL,
			kind        TEXT NOT NULL,
			quantity    BIGINT NOT NULL,
			price       NUMERIC NOT NULL,
			executed_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS transactions_account_idx ON transactions (account_id, executed_at);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, accountID string) (*model.Ledger, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM ledgers WHERE account_id = $1`, accountID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load ledger %s: %w", accountID, err)
	}

	var l model.Ledger
	if err := json.Unmarshal(doc, &l); err != nil {
		return nil, fmt.Errorf("decode ledger %s: %w", accountID, err)
	}
	l.Normalize()
	return &l, nil
}

func (s *PostgresStore) Save(ctx context.Context, accountID string, l *model.Ledger) error {
	doc, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode ledger %s: %w", accountID, err)
	}

	batch := &pgx.Batch{}
	batch.Queue(
		`INSERT INTO ledgers (account_id, doc, revision, updated_at)
		 VALUES ($1, $2::JSONB, $3, now())
		 ON CONFLICT (account_id)
		 DO UPDATE SET doc = EXCLUDED.doc, revision = EXCLUDED.revision, updated_at = now()`,
		accountID, string(doc), int64(l.Revision),
	)
	for _, tx := range l.Transactions {
		batch.Queue(
			`INSERT INTO transactions (id, account_id, asset_id, side, kind, quantity, price, executed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8)
			 ON CONFLICT (id) DO NOTHING`,
			tx.ID, accountID, tx.AssetID, string(tx.Type), string(tx.Kind),
			tx.Quantity, tx.Price.String(), tx.Timestamp,
		)
	}
	batch.Queue(`SELECT pg_notify($1, $2)`, ledgerChannel, accountID)

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("save ledger %s: %w", accountID, err)
		}
	}
	return nil
}

// Subscribe holds a dedicated connection on LISTEN and reloads the snapshot
// whenever another writer notifies for this account. Self-notifications are
// filtered by the caller via the ledger revision.
func (s *PostgresStore) Subscribe(ctx context.Context, accountID string, onChange func(*model.Ledger)) (func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", accountID, err)
	}
	if _, err := conn.Exec(ctx, `LISTEN `+ledgerChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("subscribe %s: %w", accountID, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer conn.Release()
		for {
			n, err := conn.Conn().WaitForNotification(subCtx)
			if err != nil {
				if subCtx.Err() == nil {
					slog.Warn("ledger subscription lost", "account", accountID, "err", err)
				}
				return
			}
			if n.Payload != accountID {
				continue
			}
			l, err := s.Load(subCtx, accountID)
			if err != nil {
				slog.Warn("reload after notify failed", "account", accountID, "err", err)
				continue
			}
			onChange(l)
		}
	}()

	return cancel, nil
}
