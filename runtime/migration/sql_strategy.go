package migration

import (
	"context"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
)

// SQLStrategy executes DDL statements through an ent SQL driver.
type SQLStrategy struct {
	drv        *entsql.Driver
	statements []string
}

func NewSQLStrategy(drv *entsql.Driver, statements ...string) *SQLStrategy {
	return &SQLStrategy{drv: drv, statements: statements}
}

func (s *SQLStrategy) Name() string {
	return "sql"
}

func (s *SQLStrategy) Migrate(ctx context.Context) error {
	if s == nil || s.drv == nil {
		return nil
	}
	for i, stmt := range s.statements {
		if err := s.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("migration statement %d: %w", i+1, err)
		}
	}
	return nil
}
