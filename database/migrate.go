package database

import (
	"fmt"

	"gorm.io/gorm"
)

// migratePostgres applies the postgres-only pieces (idempotent):
// - snapshot column as jsonb
// - non-negative version CHECK constraint
func migratePostgres(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		alter := `ALTER TABLE state_documents ALTER COLUMN snapshot TYPE jsonb USING snapshot::jsonb`
		if err := tx.Exec(alter).Error; err != nil {
			return fmt.Errorf("jsonb migration failed: %w", err)
		}

		check := `
DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_constraint
		WHERE conrelid = 'state_documents'::regclass
		  AND conname  = 'chk_state_documents_version_nonneg'
	) THEN
		ALTER TABLE state_documents
		ADD CONSTRAINT chk_state_documents_version_nonneg
		CHECK (version >= 0);
	END IF;
END $$;`
		if err := tx.Exec(check).Error; err != nil {
			return fmt.Errorf("check constraint migration failed: %w", err)
		}
		return nil
	})
}
