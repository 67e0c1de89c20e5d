package partition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/storepilot/sync-orchestrator/internal/db"
)

// Catalog reads and changes the partitions of a range partitioned table.
type Catalog interface {
	Exists(ctx context.Context, name string) (bool, error)
	Create(ctx context.Context, parent, name string, from, to time.Time) error
	Drop(ctx context.Context, name string) error
	ListChildren(ctx context.Context, parent string) ([]string, error)
}

type pgCatalog struct {
	db db.Conn
}

// NewPGCatalog creates a Catalog over the PostgreSQL system catalogs.
func NewPGCatalog(conn db.Conn) Catalog {
	return &pgCatalog{db: conn}
}

func (c *pgCatalog) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := c.db.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, pgx.Identifier{name}.Sanitize()).Scan(&exists)
	return exists, err
}

// Create adds the partition [from, to) to parent. Rows of that range that
// already sit in the parent's default partition would make PostgreSQL reject
// the new partition, so they are moved into it in the same transaction.
func (c *pgCatalog) Create(ctx context.Context, parent, name string, from, to time.Time) error {
	return db.WithTx(ctx, c.db, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`,
			pgx.Identifier{name}.Sanitize()).Scan(&exists); err != nil {
			return fmt.Errorf("failed to look up %s: %w", name, err)
		}
		if exists {
			return nil
		}

		var column, defaultPart string
		err := tx.QueryRow(ctx, `
SELECT a.attname, coalesce(d.relname, '')
FROM pg_partitioned_table pt
JOIN pg_class p ON p.oid = pt.partrelid
JOIN pg_attribute a ON a.attrelid = pt.partrelid AND a.attnum = pt.partattrs[0]
LEFT JOIN pg_class d ON d.oid = pt.partdefid
WHERE p.relname = $1`, parent).Scan(&column, &defaultPart)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%s is not a partitioned table", parent)
		}
		if err != nil {
			return fmt.Errorf("failed to read partitioning of %s: %w", parent, err)
		}

		parentIdent := pgx.Identifier{parent}.Sanitize()
		inRange := fmt.Sprintf(`%s >= $1 AND %s < $2`,
			pgx.Identifier{column}.Sanitize(), pgx.Identifier{column}.Sanitize())

		moved := false
		if defaultPart != "" {
			// Park the rows in a temporary table until the partition exists.
			if _, err := tx.Exec(ctx, fmt.Sprintf(
				`CREATE TEMP TABLE partition_move (LIKE %s) ON COMMIT DROP`, parentIdent)); err != nil {
				return fmt.Errorf("failed to create staging table: %w", err)
			}
			tag, err := tx.Exec(ctx, fmt.Sprintf(
				`WITH moved AS (DELETE FROM %s WHERE %s RETURNING *) INSERT INTO partition_move SELECT * FROM moved`,
				pgx.Identifier{defaultPart}.Sanitize(), inRange), from, to)
			if err != nil {
				return fmt.Errorf("failed to move rows out of %s: %w", defaultPart, err)
			}
			moved = tag.RowsAffected() > 0
		}

		// DDL takes no bind parameters; identifiers are quoted and bounds are
		// formatted from time values.
		stmt := fmt.Sprintf(`CREATE TABLE %s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')`,
			pgx.Identifier{name}.Sanitize(),
			parentIdent,
			from.UTC().Format(time.RFC3339),
			to.UTC().Format(time.RFC3339))
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return err
		}

		if moved {
			if _, err := tx.Exec(ctx, fmt.Sprintf(
				`INSERT INTO %s SELECT * FROM partition_move`, parentIdent)); err != nil {
				return fmt.Errorf("failed to restore rows into %s: %w", name, err)
			}
		}
		return nil
	})
}

func (c *pgCatalog) Drop(ctx context.Context, name string) error {
	_, err := c.db.Exec(ctx, `DROP TABLE IF EXISTS `+pgx.Identifier{name}.Sanitize())
	return err
}

func (c *pgCatalog) ListChildren(ctx context.Context, parent string) ([]string, error) {
	rows, err := c.db.Query(ctx, `
SELECT child.relname
FROM pg_inherits i
JOIN pg_class child ON child.oid = i.inhrelid
JOIN pg_class parent ON parent.oid = i.inhparent
WHERE parent.relname = $1
ORDER BY child.relname`, parent)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
