package migration

import "context"

// Strategy applies the schema the plugin record store needs before the
// manager starts. SQLStrategy runs DDL through ent's SQL driver.
type Strategy interface {
	// Name labels the strategy in migration errors.
	Name() string
	Migrate(ctx context.Context) error
}
