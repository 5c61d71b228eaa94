package store

import (
	"context"
	"errors"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	apperrors "github.com/leeforge/pluginhost/errors"
	"github.com/leeforge/pluginhost/plugin"
)

// PluginsTable is the table SQLStore reads and writes.
const PluginsTable = "plugins"

var pluginColumns = []string{"id", "name", "version", "active", "plugin_type", "load_error", "load_error_detail"}

// PluginsTableDDL returns the CREATE TABLE statement for the plugins table.
func PluginsTableDDL(dialectName string) (string, error) {
	switch dialectName {
	case dialect.SQLite:
		return "CREATE TABLE IF NOT EXISTS `plugins` (" +
			"`id` integer PRIMARY KEY AUTOINCREMENT, " +
			"`name` varchar(255) NOT NULL UNIQUE, " +
			"`version` varchar(32) NOT NULL DEFAULT '', " +
			"`active` bool NOT NULL DEFAULT false, " +
			"`plugin_type` varchar(16) NOT NULL DEFAULT 'user', " +
			"`load_error` bool NOT NULL DEFAULT false, " +
			"`load_error_detail` text NULL)", nil
	case dialect.MySQL:
		return "CREATE TABLE IF NOT EXISTS `plugins` (" +
			"`id` bigint AUTO_INCREMENT PRIMARY KEY, " +
			"`name` varchar(255) NOT NULL UNIQUE, " +
			"`version` varchar(32) NOT NULL DEFAULT '', " +
			"`active` bool NOT NULL DEFAULT false, " +
			"`plugin_type` varchar(16) NOT NULL DEFAULT 'user', " +
			"`load_error` bool NOT NULL DEFAULT false, " +
			"`load_error_detail` text NULL)", nil
	case dialect.Postgres:
		return `CREATE TABLE IF NOT EXISTS "plugins" (` +
			`"id" bigserial PRIMARY KEY, ` +
			`"name" varchar(255) NOT NULL UNIQUE, ` +
			`"version" varchar(32) NOT NULL DEFAULT '', ` +
			`"active" boolean NOT NULL DEFAULT false, ` +
			`"plugin_type" varchar(16) NOT NULL DEFAULT 'user', ` +
			`"load_error" boolean NOT NULL DEFAULT false, ` +
			`"load_error_detail" text NULL)`, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", dialectName)
	}
}

// SQLStore keeps plugin records in a SQL table through ent's dialect driver.
type SQLStore struct {
	drv *entsql.Driver
}

// NewSQLStore creates a SQLStore over drv.
func NewSQLStore(drv *entsql.Driver) *SQLStore {
	return &SQLStore{drv: drv}
}

func (s *SQLStore) builder() *entsql.DialectBuilder {
	return entsql.Dialect(s.drv.Dialect())
}

func (s *SQLStore) Find(ctx context.Context, name string) (*plugin.Record, error) {
	query, args := s.builder().
		Select(pluginColumns...).
		From(entsql.Table(PluginsTable)).
		Where(entsql.EQ("name", name)).
		Limit(1).
		Query()

	records, err := s.query(ctx, query, args)
	if err != nil {
		return nil, apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "find plugin "+name)
	}
	if len(records) == 0 {
		return nil, plugin.ErrRecordNotFound
	}
	return records[0], nil
}

func (s *SQLStore) FindAllActive(ctx context.Context) ([]*plugin.Record, error) {
	query, args := s.builder().
		Select(pluginColumns...).
		From(entsql.Table(PluginsTable)).
		Where(entsql.EQ("active", true)).
		OrderBy("id").
		Query()

	records, err := s.query(ctx, query, args)
	if err != nil {
		return nil, apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "find active plugins")
	}
	return records, nil
}

func (s *SQLStore) FindAll(ctx context.Context) ([]*plugin.Record, error) {
	query, args := s.builder().
		Select(pluginColumns...).
		From(entsql.Table(PluginsTable)).
		OrderBy("id").
		Query()

	records, err := s.query(ctx, query, args)
	if err != nil {
		return nil, apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "find plugins")
	}
	return records, nil
}

func (s *SQLStore) Save(ctx context.Context, r *plugin.Record) error {
	if err := checkRecord(r); err != nil {
		return err
	}
	detail, err := encodeDetail(r.LoadErrorDetail)
	if err != nil {
		return err
	}

	if r.ID != 0 {
		query, args := s.builder().
			Update(PluginsTable).
			Set("name", r.Name).
			Set("version", r.Version).
			Set("active", r.Active).
			Set("plugin_type", string(r.Type)).
			Set("load_error", r.LoadError).
			Set("load_error_detail", detail).
			Where(entsql.EQ("id", r.ID)).
			Query()
		if err := s.drv.Exec(ctx, query, args, nil); err != nil {
			return apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "update plugin "+r.Name)
		}
		return nil
	}

	insert := s.builder().
		Insert(PluginsTable).
		Columns("name", "version", "active", "plugin_type", "load_error", "load_error_detail").
		Values(r.Name, r.Version, r.Active, string(r.Type), r.LoadError, detail)

	if s.drv.Dialect() == dialect.MySQL {
		var res entsql.Result
		query, args := insert.Query()
		if err := s.drv.Exec(ctx, query, args, &res); err != nil {
			return apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "insert plugin "+r.Name)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "insert plugin "+r.Name)
		}
		r.ID = id
		return nil
	}

	query, args := insert.Returning("id").Query()
	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "insert plugin "+r.Name)
	}
	defer rows.Close()
	id, err := entsql.ScanInt64(rows)
	if err != nil {
		return apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "insert plugin "+r.Name)
	}
	r.ID = id
	return nil
}

func (s *SQLStore) MarkLoadError(ctx context.Context, r *plugin.Record, detail plugin.LoadErrorDetail) error {
	if err := checkRecord(r); err != nil {
		return err
	}
	if r.ID == 0 {
		existing, err := s.Find(ctx, r.Name)
		switch {
		case err == nil:
			r.ID = existing.ID
		case !errors.Is(err, plugin.ErrRecordNotFound):
			return err
		}
	}
	markFaulted(r, detail)
	return s.Save(ctx, r)
}

func (s *SQLStore) query(ctx context.Context, query string, args []any) ([]*plugin.Record, error) {
	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*plugin.Record
	for rows.Next() {
		var (
			r          plugin.Record
			pluginType string
			detail     entsql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Version, &r.Active, &pluginType, &r.LoadError, &detail); err != nil {
			return nil, err
		}
		r.Type = plugin.LocationType(pluginType)
		if detail.Valid && detail.String != "" {
			r.LoadErrorDetail = &plugin.LoadErrorDetail{}
			if err := json.UnmarshalFromString(detail.String, r.LoadErrorDetail); err != nil {
				return nil, fmt.Errorf("decode load error of %s: %w", r.Name, err)
			}
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func encodeDetail(d *plugin.LoadErrorDetail) (entsql.NullString, error) {
	if d == nil {
		return entsql.NullString{}, nil
	}
	s, err := json.MarshalToString(d)
	if err != nil {
		return entsql.NullString{}, err
	}
	return entsql.NullString{String: s, Valid: true}, nil
}

var _ plugin.Store = (*SQLStore)(nil)
