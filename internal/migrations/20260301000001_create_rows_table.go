package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/zathomas/sparsemapcontent/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20260301000001, down_20260301000001)
}

// up_20260301000001 creates the row table and its equality index
func up_20260301000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating sparse_rows table...")
	if _, err := db.NewCreateTable().
		Model((*models.StorageRow)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create sparse_rows table: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_sparse_rows_cf ON sparse_rows(keyspace, column_family)`); err != nil {
		return fmt.Errorf("failed to create sparse_rows cf index: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [up] creating sparse_row_index table...")
	if _, err := db.NewCreateTable().
		Model((*models.RowIndexEntry)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create sparse_row_index table: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_sparse_row_index_lookup ON sparse_row_index(keyspace, column_family, field, value)`); err != nil {
		return fmt.Errorf("failed to create sparse_row_index lookup index: %w", err)
	}
	fmt.Println(" OK")
	return nil
}

func down_20260301000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping sparse_row_index table...")
	if _, err := db.NewDropTable().Model((*models.RowIndexEntry)(nil)).IfExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to drop sparse_row_index table: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [down] dropping sparse_rows table...")
	if _, err := db.NewDropTable().Model((*models.StorageRow)(nil)).IfExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to drop sparse_rows table: %w", err)
	}
	fmt.Println(" OK")
	return nil
}
