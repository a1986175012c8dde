package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"adunlock/database"
	"adunlock/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps the state as one JSON row in state_documents. Writers take
// a row lock (SELECT ... FOR UPDATE on postgres) inside a transaction, so
// several relay processes can share the database.
type GormStore struct {
	db   *gorm.DB
	name string
	// serializes writers of this process; sqlite has no row locks
	mu sync.Mutex
}

// OpenGormStore connects to dsn and migrates the schema.
func OpenGormStore(dsn string) (*GormStore, error) {
	db, err := database.Connect(dsn)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(db); err != nil {
		_ = database.Close(db)
		return nil, err
	}
	return NewGormStore(db), nil
}

// NewGormStore wraps an already migrated connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, name: models.DefaultDocumentKey}
}

func (s *GormStore) Update(ctx context.Context, fn func(state *models.State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := s.lockDocument(tx)
		if err != nil {
			return err
		}
		state, err := decodeDocument(doc.Snapshot)
		if err != nil {
			return err
		}
		if err := fn(state); err != nil {
			return err
		}
		payload, err := json.Marshal(state)
		if err != nil {
			return err
		}

		res := tx.Model(&models.StateDocument{}).
			Where("name = ? AND version = ?", s.name, doc.Version).
			Updates(map[string]any{
				"snapshot":   datatypes.JSON(payload),
				"version":    doc.Version + 1,
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("write state document: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		return nil
	})
}

func (s *GormStore) View(ctx context.Context, fn func(state *models.State) error) error {
	var doc models.StateDocument
	err := s.db.WithContext(ctx).Where("name = ?", s.name).First(&doc).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("read state document: %w", err)
		}
		return fn(models.NewState())
	}
	state, err := decodeDocument(doc.Snapshot)
	if err != nil {
		return err
	}
	return fn(state)
}

func (s *GormStore) Close() error {
	return database.Close(s.db)
}

// lockDocument makes sure the row exists, then reads it under a row lock.
func (s *GormStore) lockDocument(tx *gorm.DB) (models.StateDocument, error) {
	seed := models.StateDocument{
		Name:      s.name,
		Snapshot:  datatypes.JSON(`{}`),
		UpdatedAt: time.Now().UTC(),
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return models.StateDocument{}, fmt.Errorf("seed state document: %w", err)
	}

	var doc models.StateDocument
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("name = ?", s.name).
		First(&doc).Error
	if err != nil {
		return models.StateDocument{}, fmt.Errorf("lock state document: %w", err)
	}
	return doc, nil
}

func decodeDocument(raw datatypes.JSON) (*models.State, error) {
	state := models.NewState()
	if len(raw) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(raw, state); err != nil {
		return nil, fmt.Errorf("decode state document: %w", err)
	}
	state.Normalize()
	return state, nil
}
