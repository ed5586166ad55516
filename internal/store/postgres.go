package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bxcodec/dbresolver/v2"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/vanshika/fintrace/txnengine/internal/config"
	"github.com/vanshika/fintrace/txnengine/internal/domain"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const uniqueViolation = "23505"

// Postgres stores records in a relational table. Writes go to the primary;
// reads are balanced across replicas when one is configured.
type Postgres struct {
	db  dbresolver.DB
	log *zap.Logger
}

// OpenPostgres connects to the primary (and optional replica), applies
// embedded migrations when enabled and returns a ready store.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (*Postgres, error) {
	if cfg.PrimaryDSN == "" {
		return nil, errors.New("postgres primary dsn is required")
	}

	primary, err := sql.Open("pgx", cfg.PrimaryDSN)
	if err != nil {
		return nil, fmt.Errorf("open primary: %w", err)
	}
	dbs := []*sql.DB{primary}

	replicas := []*sql.DB{primary}
	if cfg.ReplicaDSN != "" {
		replica, err := sql.Open("pgx", cfg.ReplicaDSN)
		if err != nil {
			_ = primary.Close()
			return nil, fmt.Errorf("open replica: %w", err)
		}
		dbs = append(dbs, replica)
		replicas = []*sql.DB{replica}
	}

	for _, db := range dbs {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := primary.PingContext(ctx); err != nil {
		for _, db := range dbs {
			_ = db.Close()
		}
		return nil, fmt.Errorf("ping primary: %w", err)
	}

	if cfg.RunMigrations {
		if err := migrateUp(primary, logger); err != nil {
			for _, db := range dbs {
				_ = db.Close()
			}
			return nil, err
		}
	}

	resolved := dbresolver.New(
		dbresolver.WithPrimaryDBs(primary),
		dbresolver.WithReplicaDBs(replicas...),
		dbresolver.WithLoadBalancer(dbresolver.RoundRobinLB),
	)
	return &Postgres{db: resolved, log: logger}, nil
}

func migrateUp(db *sql.DB, logger *zap.Logger) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no new migrations")
			return nil
		}
		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			return fmt.Errorf("migration failed: dirty database version %d", dirty.Version)
		}
		return fmt.Errorf("migration failed: %w", err)
	}
	version, _, _ := m.Version()
	logger.Info("migrations applied", zap.Uint("version", version))
	return nil
}

const insertTransactionSQL = `
INSERT INTO transactions (
	transaction_id, user_id, transaction_type, amount, currency,
	source_account, destination_account, status, priority, processing_node,
	retry_count, max_retries, timeout_seconds, metadata, checksum,
	created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

func (p *Postgres) Create(ctx context.Context, tx *domain.Transaction) error {
	metadata, err := encodeMetadata(tx.Metadata)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, insertTransactionSQL,
		tx.ID, tx.UserID, string(tx.Type), tx.Amount, tx.Currency,
		tx.SourceAccount, tx.DestinationAccount, string(tx.Status), int(tx.Priority), tx.ProcessingNode,
		tx.RetryCount, tx.MaxRetries, tx.TimeoutSeconds, metadata, tx.Checksum,
		tx.CreatedAt.UTC(), tx.UpdatedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateTransaction
		}
		return fmt.Errorf("insert transaction %s: %w", tx.ID, err)
	}
	return nil
}

const selectTransactionSQL = `
SELECT transaction_id, user_id, transaction_type, amount, currency,
       source_account, destination_account, status, priority, processing_node,
       retry_count, max_retries, timeout_seconds, metadata, checksum,
       created_at, updated_at, completed_at, processing_time, error_message
FROM transactions
WHERE transaction_id = $1`

func (p *Postgres) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	var (
		tx        domain.Transaction
		txType    string
		status    string
		priority  int
		metadata  []byte
		completed sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, selectTransactionSQL, id).Scan(
		&tx.ID, &tx.UserID, &txType, &tx.Amount, &tx.Currency,
		&tx.SourceAccount, &tx.DestinationAccount, &status, &priority, &tx.ProcessingNode,
		&tx.RetryCount, &tx.MaxRetries, &tx.TimeoutSeconds, &metadata, &tx.Checksum,
		&tx.CreatedAt, &tx.UpdatedAt, &completed, &tx.ProcessingTime, &tx.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select transaction %s: %w", id, err)
	}
	tx.Type = domain.Type(txType)
	tx.Status = domain.Status(status)
	tx.Priority = domain.Priority(priority)
	if completed.Valid {
		ts := completed.Time.UTC()
		tx.CompletedAt = &ts
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata %s: %w", id, err)
		}
		if len(tx.Metadata) == 0 {
			tx.Metadata = nil
		}
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.UpdatedAt = tx.UpdatedAt.UTC()
	return &tx, nil
}

const transitionSQL = `
UPDATE transactions
SET status = $1,
    updated_at = $2,
    processing_node = CASE WHEN $3::text <> '' THEN $3::text ELSE processing_node END,
    completed_at = CASE WHEN $4::boolean THEN $2 ELSE NULL END,
    error_message = CASE WHEN $4::boolean THEN error_message ELSE '' END
WHERE transaction_id = $5 AND status = ANY($6)`

func (p *Postgres) Transition(ctx context.Context, id string, from []domain.Status, to domain.Status, node string) (bool, error) {
	res, err := p.db.ExecContext(ctx, transitionSQL,
		string(to), time.Now().UTC(), node, to.Terminal(), id, statusStrings(from))
	if err != nil {
		return false, fmt.Errorf("transition %s to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition %s rows affected: %w", id, err)
	}
	if n > 0 {
		return true, nil
	}
	if _, err := p.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

const saveResultSQL = `
UPDATE transactions
SET status = $1, processing_node = $2, processing_time = $3, error_message = $4,
    retry_count = $5, updated_at = $6, completed_at = $6
WHERE transaction_id = $7`

func (p *Postgres) SaveResult(ctx context.Context, res domain.ProcessingResult, retryCount int) error {
	out, err := p.db.ExecContext(ctx, saveResultSQL,
		string(res.Status), res.NodeID, res.ProcessingTime, res.ErrorMessage,
		retryCount, res.CompletedAt.UTC(), res.TransactionID)
	if err != nil {
		return fmt.Errorf("save result %s: %w", res.TransactionID, err)
	}
	if n, _ := out.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const recentOutcomesSQL = `
SELECT transaction_id, transaction_type, status, processing_time, completed_at
FROM transactions
WHERE status IN ('COMPLETED', 'FAILED') AND completed_at >= $1 AND processing_node <> ''
ORDER BY completed_at`

func (p *Postgres) RecentOutcomes(ctx context.Context, since time.Time) ([]domain.Outcome, error) {
	rows, err := p.db.QueryContext(ctx, recentOutcomesSQL, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query recent outcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.Outcome
	for rows.Next() {
		var (
			o      domain.Outcome
			txType string
			status string
		)
		if err := rows.Scan(&o.TransactionID, &txType, &status, &o.ProcessingTime, &o.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Type = domain.Type(txType)
		o.Status = domain.Status(status)
		out = append(out, o)
	}
	return out, rows.Err()
}

const countByStatusSQL = `
SELECT status, count(*)
FROM transactions
WHERE created_at >= $1
GROUP BY status`

func (p *Postgres) CountByStatus(ctx context.Context, since time.Time) (map[domain.Status]int64, error) {
	rows, err := p.db.QueryContext(ctx, countByStatusSQL, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Status]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[domain.Status(status)] = n
	}
	return counts, rows.Err()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func encodeMetadata(metadata map[string]any) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(raw), nil
}
