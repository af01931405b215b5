// Package repo provides a generic CRUD repository over the pgkit database
// facade.
package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/kestreldb/pgkit/database"
	"github.com/kestreldb/pgkit/errs"
	"github.com/kestreldb/pgkit/observability"
)

// Mapper converts between typed entities and database rows. The repository
// never inspects entity structure directly; both directions go through the
// mapper.
type Mapper[T any] interface {
	ToEntity(row database.Row) (T, error)
	ToRow(entity T) (database.Row, error)
}

// Conditions filters rows by column value. Entries combine with AND; a nil
// value compiles to IS NULL rather than an equality comparison.
type Conditions = map[string]any

// FindOpts controls pagination and ordering for listing operations. A zero
// Limit means unbounded.
type FindOpts struct {
	Limit      int
	Offset     int
	OrderBy    string
	Descending bool
}

// Repository is a reusable CRUD layer for one entity type and table.
type Repository[T any] struct {
	db         *database.DB
	mapper     Mapper[T]
	table      string
	primaryKey string
	schema     string
}

// Option configures a Repository during construction.
type Option func(*options)

type options struct {
	primaryKey string
	schema     string
}

// WithPrimaryKey overrides the primary-key column ("id" by default).
func WithPrimaryKey(column string) Option {
	return func(o *options) { o.primaryKey = column }
}

// WithSchema overrides the table schema ("public" by default).
func WithSchema(schema string) Option {
	return func(o *options) { o.schema = schema }
}

// New constructs a repository for the given table.
func New[T any](db *database.DB, mapper Mapper[T], table string, opts ...Option) (*Repository[T], error) {
	if strings.TrimSpace(table) == "" {
		return nil, errs.New(errs.KindRepository,
			errs.WithOp("new"),
			errs.WithMessage("table name must not be empty"))
	}
	o := options{primaryKey: "id", schema: "public"}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return &Repository[T]{
		db:         db,
		mapper:     mapper,
		table:      table,
		primaryKey: o.primaryKey,
		schema:     o.schema,
	}, nil
}

// Table returns the repository's table name.
func (r *Repository[T]) Table() string { return r.table }

func (r *Repository[T]) qualifiedTable() string {
	return pgx.Identifier{r.schema, r.table}.Sanitize()
}

// FindByID looks up a single entity by primary key. The second return value
// reports whether a match was found.
func (r *Repository[T]) FindByID(ctx context.Context, id any) (T, bool, error) {
	var zero T
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1",
		r.qualifiedTable(), pgx.Identifier{r.primaryKey}.Sanitize())
	row, err := r.db.FetchRow(ctx, query, id)
	if err != nil {
		return zero, false, r.wrap("findByID", err,
			errs.WithMessage(fmt.Sprintf("find by id %v", id)))
	}
	if row == nil {
		return zero, false, nil
	}
	entity, err := r.mapper.ToEntity(row)
	if err != nil {
		return zero, false, r.wrap("findByID", err)
	}
	return entity, true, nil
}

// FindAll lists every entity, honouring pagination and ordering options.
func (r *Repository[T]) FindAll(ctx context.Context, opts FindOpts) ([]T, error) {
	query, args := r.buildSelect(nil, opts)
	rows, err := r.db.FetchAll(ctx, query, args...)
	if err != nil {
		return nil, r.wrap("findAll", err)
	}
	return r.toEntities("findAll", rows)
}

// FindBy lists entities matching the conditions. Empty conditions delegate
// to FindAll.
func (r *Repository[T]) FindBy(ctx context.Context, conditions Conditions, opts FindOpts) ([]T, error) {
	if len(conditions) == 0 {
		return r.FindAll(ctx, opts)
	}
	query, args := r.buildSelect(conditions, opts)
	rows, err := r.db.FetchAll(ctx, query, args...)
	if err != nil {
		return nil, r.wrap("findBy", err)
	}
	return r.toEntities("findBy", rows)
}

// FindOneBy returns the first entity matching the conditions.
func (r *Repository[T]) FindOneBy(ctx context.Context, conditions Conditions) (T, bool, error) {
	var zero T
	results, err := r.FindBy(ctx, conditions, FindOpts{Limit: 1})
	if err != nil {
		return zero, false, err
	}
	if len(results) == 0 {
		return zero, false, nil
	}
	return results[0], true, nil
}

// Create inserts the entity and returns it reconstructed from the row the
// database produced, capturing server-generated fields.
func (r *Repository[T]) Create(ctx context.Context, entity T) (T, error) {
	var zero T
	row, err := r.mapper.ToRow(entity)
	if err != nil {
		return zero, r.wrap("create", err)
	}
	query, args := r.buildInsert(row)
	result, err := r.db.FetchRow(ctx, query, args...)
	if err != nil {
		return zero, r.wrap("create", err)
	}
	if result == nil {
		return zero, errs.New(errs.KindRepository,
			errs.WithOp("create"),
			errs.WithTable(r.table),
			errs.WithMessage("insert returned no result"))
	}
	observability.Log().Debug("entity created", observability.F("table", r.table))
	created, err := r.mapper.ToEntity(result)
	if err != nil {
		return zero, r.wrap("create", err)
	}
	return created, nil
}

// CreateMany inserts all entities in one transaction. Any failure rolls the
// whole batch back.
func (r *Repository[T]) CreateMany(ctx context.Context, entities []T) ([]T, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	rows := make([]database.Row, 0, len(entities))
	for _, entity := range entities {
		row, err := r.mapper.ToRow(entity)
		if err != nil {
			return nil, r.wrap("createMany", err)
		}
		rows = append(rows, row)
	}

	created := make([]T, 0, len(entities))
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, row := range rows {
			query, args := r.buildInsert(row)
			result, err := fetchTxRow(ctx, tx, query, args...)
			if err != nil {
				return err
			}
			if result == nil {
				return errs.New(errs.KindRepository,
					errs.WithOp("createMany"),
					errs.WithTable(r.table),
					errs.WithMessage("insert returned no result"))
			}
			entity, err := r.mapper.ToEntity(result)
			if err != nil {
				return err
			}
			created = append(created, entity)
		}
		return nil
	})
	if err != nil {
		return nil, r.wrap("createMany", err)
	}
	observability.Log().Debug("entities created",
		observability.F("table", r.table),
		observability.F("count", len(created)))
	return created, nil
}

// Update writes the entity back by primary key and returns the updated
// entity. The converted row must contain the primary-key column; it is used
// in the WHERE clause, never in SET.
func (r *Repository[T]) Update(ctx context.Context, entity T) (T, error) {
	var zero T
	row, err := r.mapper.ToRow(entity)
	if err != nil {
		return zero, r.wrap("update", err)
	}
	pkValue, ok := row[r.primaryKey]
	if !ok {
		return zero, errs.New(errs.KindRepository,
			errs.WithOp("update"),
			errs.WithTable(r.table),
			errs.WithMessage(fmt.Sprintf("entity must have %q for update", r.primaryKey)))
	}
	delete(row, r.primaryKey)
	if len(row) == 0 {
		return zero, errs.New(errs.KindRepository,
			errs.WithOp("update"),
			errs.WithTable(r.table),
			errs.WithMessage("no columns to update"))
	}

	query, args := r.buildUpdate(row, pkValue)
	result, err := r.db.FetchRow(ctx, query, args...)
	if err != nil {
		return zero, r.wrap("update", err)
	}
	if result == nil {
		return zero, errs.New(errs.KindRepository,
			errs.WithOp("update"),
			errs.WithTable(r.table),
			errs.WithMessage(fmt.Sprintf("entity with %s=%v not found", r.primaryKey, pkValue)))
	}
	observability.Log().Debug("entity updated", observability.F("table", r.table))
	updated, err := r.mapper.ToEntity(result)
	if err != nil {
		return zero, r.wrap("update", err)
	}
	return updated, nil
}

// Delete removes an entity by primary key and reports whether a row was
// actually removed.
func (r *Repository[T]) Delete(ctx context.Context, id any) (bool, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1",
		r.qualifiedTable(), pgx.Identifier{r.primaryKey}.Sanitize())
	affected, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, r.wrap("delete", err,
			errs.WithMessage(fmt.Sprintf("delete id %v", id)))
	}
	if affected > 0 {
		observability.Log().Debug("entity deleted", observability.F("table", r.table))
	}
	return affected > 0, nil
}

// DeleteBy removes entities matching the conditions and returns the number
// removed. Empty conditions fail before any SQL is issued, preventing
// accidental full-table deletes.
func (r *Repository[T]) DeleteBy(ctx context.Context, conditions Conditions) (int64, error) {
	if len(conditions) == 0 {
		return 0, errs.New(errs.KindRepository,
			errs.WithOp("deleteBy"),
			errs.WithTable(r.table),
			errs.WithMessage("conditions required for deleteBy"))
	}
	where, args := buildWhere(conditions, 1)
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", r.qualifiedTable(), where)
	affected, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, r.wrap("deleteBy", err)
	}
	observability.Log().Debug("entities deleted",
		observability.F("table", r.table),
		observability.F("count", affected))
	return affected, nil
}

// Count returns the number of rows, optionally filtered with the same
// semantics as FindBy.
func (r *Repository[T]) Count(ctx context.Context, conditions Conditions) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", r.qualifiedTable())
	var args []any
	if len(conditions) > 0 {
		where, whereArgs := buildWhere(conditions, 1)
		query += " WHERE " + where
		args = whereArgs
	}
	value, err := r.db.FetchValue(ctx, query, args...)
	if err != nil {
		return 0, r.wrap("count", err)
	}
	count, _ := value.(int64)
	return count, nil
}

// Exists reports whether an entity with the given primary key exists.
func (r *Repository[T]) Exists(ctx context.Context, id any) (bool, error) {
	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE %s = $1)",
		r.qualifiedTable(), pgx.Identifier{r.primaryKey}.Sanitize())
	value, err := r.db.FetchValue(ctx, query, id)
	if err != nil {
		return false, r.wrap("exists", err,
			errs.WithMessage(fmt.Sprintf("check existence of id %v", id)))
	}
	exists, _ := value.(bool)
	return exists, nil
}

func (r *Repository[T]) wrap(op string, err error, opts ...errs.Option) error {
	all := append([]errs.Option{errs.WithTable(r.table)}, opts...)
	return errs.Wrap(errs.KindRepository, op, err, all...)
}

func (r *Repository[T]) toEntities(op string, rows []database.Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		entity, err := r.mapper.ToEntity(row)
		if err != nil {
			return nil, r.wrap(op, err)
		}
		out = append(out, entity)
	}
	return out, nil
}

// buildSelect composes a SELECT with optional conditions and the fixed
// suffix order ORDER BY, LIMIT, OFFSET.
func (r *Repository[T]) buildSelect(conditions Conditions, opts FindOpts) (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(r.qualifiedTable())

	var args []any
	if len(conditions) > 0 {
		where, whereArgs := buildWhere(conditions, 1)
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
		args = whereArgs
	}

	if opts.OrderBy != "" {
		direction := "ASC"
		if opts.Descending {
			direction = "DESC"
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(pgx.Identifier{opts.OrderBy}.Sanitize())
		sb.WriteString(" ")
		sb.WriteString(direction)
	}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}
	return sb.String(), args
}

func (r *Repository[T]) buildInsert(row database.Row) (string, []any) {
	columns := sortedColumns(row)
	quoted := make([]string, 0, len(columns))
	placeholders := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns))
	for i, column := range columns {
		quoted = append(quoted, pgx.Identifier{column}.Sanitize())
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, row[column])
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		r.qualifiedTable(),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "))
	return query, args
}

func (r *Repository[T]) buildUpdate(row database.Row, pkValue any) (string, []any) {
	columns := sortedColumns(row)
	assignments := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns)+1)
	for i, column := range columns {
		assignments = append(assignments, fmt.Sprintf("%s = $%d",
			pgx.Identifier{column}.Sanitize(), i+1))
		args = append(args, row[column])
	}
	args = append(args, pkValue)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d RETURNING *",
		r.qualifiedTable(),
		strings.Join(assignments, ", "),
		pgx.Identifier{r.primaryKey}.Sanitize(),
		len(args))
	return query, args
}

// buildWhere renders AND-combined predicates with deterministic column
// order. Nil values compile to IS NULL; everything else binds positionally
// starting at startIndex.
func buildWhere(conditions Conditions, startIndex int) (string, []any) {
	columns := sortedColumns(conditions)
	parts := make([]string, 0, len(columns))
	var args []any
	n := startIndex
	for _, column := range columns {
		ident := pgx.Identifier{column}.Sanitize()
		if conditions[column] == nil {
			parts = append(parts, ident+" IS NULL")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s = $%d", ident, n))
		args = append(args, conditions[column])
		n++
	}
	return strings.Join(parts, " AND "), args
}

func sortedColumns(row map[string]any) []string {
	columns := make([]string, 0, len(row))
	for column := range row {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}

func fetchTxRow(ctx context.Context, tx pgx.Tx, query string, args ...any) (database.Row, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	row, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row, nil
}
