package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/zathomas/sparsemapcontent/internal/auth/bunadapter"
)

func init() {
	Migrations.MustRegister(up_20260301000002, down_20260301000002)
}

// up_20260301000002 creates the admin-zone policy table read by casbin
func up_20260301000002(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating sparse_admin_policies table...")
	if _, err := db.NewCreateTable().
		Model((*bunadapter.PolicyRule)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create sparse_admin_policies table: %w", err)
	}
	fmt.Println(" OK")
	return nil
}

func down_20260301000002(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping sparse_admin_policies table...")
	if _, err := db.NewDropTable().Model((*bunadapter.PolicyRule)(nil)).IfExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to drop sparse_admin_policies table: %w", err)
	}
	fmt.Println(" OK")
	return nil
}
