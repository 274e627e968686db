package store

import (
	"context"

	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Execution() Execution
	InitialMigration() error
	Close() error
}

type DataStore struct {
	db        *gorm.DB
	execution Execution
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		execution: NewExecutionStore(db),
		db:        db,
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Execution() Execution {
	return s.execution
}

func (s *DataStore) InitialMigration() error {
	return s.execution.InitialMigration()
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
