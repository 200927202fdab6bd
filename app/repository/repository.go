package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/vibast-solutions/ms-go-accounts/app/repository"

// Aggregate names a SQL aggregate function usable by GroupBy.
type Aggregate string

const (
	AggCount Aggregate = "COUNT"
	AggSum   Aggregate = "SUM"
	AggAvg   Aggregate = "AVG"
	AggMin   Aggregate = "MIN"
	AggMax   Aggregate = "MAX"
)

func (a Aggregate) valid() bool {
	switch a {
	case AggCount, AggSum, AggAvg, AggMin, AggMax:
		return true
	}
	return false
}

// Group is one row of a GroupBy result.
type Group struct {
	Key   any
	Value any
}

// Row is one result row of RawQuery keyed by column name.
type Row map[string]any

// Repository implements entity-agnostic persistence for one table. All filters
// are equality-only and combined with AND.
type Repository[T any] struct {
	schema *Schema[T]
	conn   Conn
	tracer trace.Tracer
}

func New[T any](schema *Schema[T], conn Conn) *Repository[T] {
	return &Repository[T]{
		schema: schema,
		conn:   conn,
		tracer: otel.Tracer(tracerName),
	}
}

// WithConn returns a copy of the repository bound to conn, typically a pooled
// session connection.
func (r *Repository[T]) WithConn(conn Conn) *Repository[T] {
	return &Repository[T]{schema: r.schema, conn: conn, tracer: r.tracer}
}

// Schema returns the schema the repository is bound to.
func (r *Repository[T]) Schema() *Schema[T] {
	return r.schema
}

func (r *Repository[T]) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, r.schema.Table+"."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "mysql"),
			attribute.String("db.sql.table", r.schema.Table),
			attribute.String("db.operation", op),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// AddOne inserts a row and returns its generated key.
func (r *Repository[T]) AddOne(ctx context.Context, fields Fields) (id uint64, err error) {
	ctx, span := r.startSpan(ctx, "add_one")
	defer func() { endSpan(span, err) }()

	if len(fields) == 0 {
		return 0, ErrNoFields
	}
	if err := r.schema.Check(fields); err != nil {
		return 0, err
	}

	err = WithTx(ctx, r.conn, func(tx DBTX) error {
		var txErr error
		id, txErr = r.insert(ctx, tx, fields)
		return txErr
	})
	if err != nil {
		return 0, translateError(r.schema.Table, err)
	}
	return id, nil
}

func (r *Repository[T]) insert(ctx context.Context, db DBTX, fields Fields) (uint64, error) {
	values, args := fields.insert()
	query := fmt.Sprintf("INSERT INTO %s %s", r.schema.Table, values)

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	lastID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(lastID), nil
}

// FindAll returns every row of the table.
func (r *Repository[T]) FindAll(ctx context.Context) (items []*T, err error) {
	ctx, span := r.startSpan(ctx, "find_all")
	defer func() { endSpan(span, err) }()

	return r.selectMany(ctx, r.conn, nil, "")
}

// FindAllBy returns every row matching filters.
func (r *Repository[T]) FindAllBy(ctx context.Context, filters Fields) (items []*T, err error) {
	ctx, span := r.startSpan(ctx, "find_all_by")
	defer func() { endSpan(span, err) }()

	if err := r.schema.Check(filters); err != nil {
		return nil, err
	}
	return r.selectMany(ctx, r.conn, filters, "")
}

// FindOne returns the single row matching filters or nil when nothing matches.
func (r *Repository[T]) FindOne(ctx context.Context, filters Fields) (item *T, err error) {
	ctx, span := r.startSpan(ctx, "find_one")
	defer func() { endSpan(span, err) }()

	if err := r.schema.Check(filters); err != nil {
		return nil, err
	}
	return r.findOne(ctx, r.conn, filters)
}

func (r *Repository[T]) findOne(ctx context.Context, db DBTX, filters Fields) (*T, error) {
	items, err := r.selectMany(ctx, db, filters, " LIMIT 2")
	if err != nil {
		return nil, err
	}
	switch len(items) {
	case 0:
		return nil, nil
	case 1:
		return items[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrMultipleRows, r.schema.Table)
	}
}

func (r *Repository[T]) findByKey(ctx context.Context, db DBTX, id any) (*T, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", r.schema.selectList(), r.schema.Table, r.schema.Key)
	item, err := r.schema.Scan(db.QueryRowContext(ctx, query, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *Repository[T]) selectMany(ctx context.Context, db DBTX, filters Fields, suffix string) ([]*T, error) {
	where, args := filters.where()
	query := fmt.Sprintf("SELECT %s FROM %s%s%s", r.schema.selectList(), r.schema.Table, where, suffix)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*T, 0)
	for rows.Next() {
		item, err := r.schema.Scan(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// RemoveOne deletes the row with the given key and reports whether one was deleted.
func (r *Repository[T]) RemoveOne(ctx context.Context, id any) (removed bool, err error) {
	ctx, span := r.startSpan(ctx, "remove_one")
	defer func() { endSpan(span, err) }()

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", r.schema.Table, r.schema.Key)
	err = WithTx(ctx, r.conn, func(tx DBTX) error {
		result, err := tx.ExecContext(ctx, query, id)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		removed = affected > 0
		return nil
	})
	if err != nil {
		return false, translateError(r.schema.Table, err)
	}
	return removed, nil
}

// UpdateOne applies a partial update to the row with the given key and returns
// the row as stored afterwards, or nil when no row has that key.
func (r *Repository[T]) UpdateOne(ctx context.Context, id any, fields Fields) (item *T, err error) {
	ctx, span := r.startSpan(ctx, "update_one")
	defer func() { endSpan(span, err) }()

	if len(fields) == 0 {
		return nil, ErrNoFields
	}
	if err := r.schema.Check(fields); err != nil {
		return nil, err
	}

	err = WithTx(ctx, r.conn, func(tx DBTX) error {
		var txErr error
		item, txErr = r.updateByKey(ctx, tx, id, fields)
		return txErr
	})
	if err != nil {
		return nil, translateError(r.schema.Table, err)
	}
	return item, nil
}

func (r *Repository[T]) updateByKey(ctx context.Context, db DBTX, id any, fields Fields) (*T, error) {
	matched, err := r.exec(ctx, db, fields, Fields{F(r.schema.Key, id)})
	if err != nil {
		return nil, err
	}
	if matched == 0 {
		return nil, nil
	}
	return r.findByKey(ctx, db, id)
}

// UpdateWhere applies fields to every row matching all filters and returns the
// matched row count. Filters are required so the update is never table wide.
func (r *Repository[T]) UpdateWhere(ctx context.Context, filters, fields Fields) (matched int64, err error) {
	ctx, span := r.startSpan(ctx, "update_where")
	defer func() { endSpan(span, err) }()

	if len(fields) == 0 || len(filters) == 0 {
		return 0, ErrNoFields
	}
	if err := r.schema.Check(fields); err != nil {
		return 0, err
	}
	if err := r.schema.Check(filters); err != nil {
		return 0, err
	}

	err = WithTx(ctx, r.conn, func(tx DBTX) error {
		var txErr error
		matched, txErr = r.exec(ctx, tx, fields, filters)
		return txErr
	})
	if err != nil {
		return 0, translateError(r.schema.Table, err)
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", matched))
	return matched, nil
}

// exec runs UPDATE ... SET fields WHERE filters and returns the matched row count.
func (r *Repository[T]) exec(ctx context.Context, db DBTX, fields, filters Fields) (int64, error) {
	set, args := fields.assignments()
	where, whereArgs := filters.where()
	query := fmt.Sprintf("UPDATE %s SET %s%s", r.schema.Table, set, where)

	result, err := db.ExecContext(ctx, query, append(args, whereArgs...)...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GetOrCreate returns the row matching lookup, inserting lookup merged with
// defaults when there is none. If a concurrent writer inserts the same row
// first, the conflict is absorbed and the winner's row is returned with
// created=false. A conflict with no row to re-read is returned as is.
func (r *Repository[T]) GetOrCreate(ctx context.Context, lookup, defaults Fields) (item *T, created bool, err error) {
	ctx, span := r.startSpan(ctx, "get_or_create")
	defer func() { endSpan(span, err) }()

	if len(lookup) == 0 {
		return nil, false, ErrNoFields
	}
	values := lookup.Merge(defaults)
	if err := r.schema.Check(values); err != nil {
		return nil, false, err
	}

	existing, err := r.findOne(ctx, r.conn, lookup)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	err = WithTx(ctx, r.conn, func(tx DBTX) error {
		id, err := r.insert(ctx, tx, values)
		if err != nil {
			return err
		}
		item, err = r.findByKey(ctx, tx, id)
		return err
	})
	if err == nil {
		return item, true, nil
	}

	err = translateError(r.schema.Table, err)
	if !IsConflict(err) {
		return nil, false, err
	}

	span.AddEvent("conflict_recovery")
	winner, readErr := r.findOne(ctx, r.conn, lookup)
	if readErr != nil {
		return nil, false, readErr
	}
	if winner == nil {
		return nil, false, err
	}
	return winner, false, nil
}

// UpdateOrCreate applies update to the row matching lookup, or inserts lookup
// merged with defaults and update when there is none. Conflicts from a
// concurrent insert are recovered the same way as in GetOrCreate.
func (r *Repository[T]) UpdateOrCreate(ctx context.Context, lookup, update, defaults Fields) (item *T, created bool, err error) {
	ctx, span := r.startSpan(ctx, "update_or_create")
	defer func() { endSpan(span, err) }()

	if len(lookup) == 0 {
		return nil, false, ErrNoFields
	}
	values := lookup.Merge(defaults).Merge(update)
	if err := r.schema.Check(values); err != nil {
		return nil, false, err
	}

	existing, err := r.findOne(ctx, r.conn, lookup)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		item, err = r.applyUpdate(ctx, lookup, update, existing)
		return item, false, err
	}

	err = WithTx(ctx, r.conn, func(tx DBTX) error {
		id, err := r.insert(ctx, tx, values)
		if err != nil {
			return err
		}
		item, err = r.findByKey(ctx, tx, id)
		return err
	})
	if err == nil {
		return item, true, nil
	}

	err = translateError(r.schema.Table, err)
	if !IsConflict(err) {
		return nil, false, err
	}

	span.AddEvent("conflict_recovery")
	winner, readErr := r.findOne(ctx, r.conn, lookup)
	if readErr != nil {
		return nil, false, readErr
	}
	if winner == nil {
		return nil, false, err
	}
	item, err = r.applyUpdate(ctx, lookup, update, winner)
	return item, false, err
}

// applyUpdate writes update to the rows matching lookup and re-reads the row.
// An empty update returns current unchanged.
func (r *Repository[T]) applyUpdate(ctx context.Context, lookup, update Fields, current *T) (*T, error) {
	if len(update) == 0 {
		return current, nil
	}

	var item *T
	err := WithTx(ctx, r.conn, func(tx DBTX) error {
		if _, err := r.exec(ctx, tx, update, lookup); err != nil {
			return err
		}
		// update may rewrite lookup columns, so re-read through the merged filter.
		var err error
		item, err = r.findOne(ctx, tx, lookup.Merge(update.only(lookup)))
		return err
	})
	if err != nil {
		return nil, translateError(r.schema.Table, err)
	}
	if item == nil {
		return current, nil
	}
	return item, nil
}

// BulkUpdate applies each item as an independent partial update keyed by
// keyColumn, all inside one transaction. Items without keyColumn are skipped.
// A failing item does not undo the others; the returned error joins every item
// failure and the count covers the items that succeeded.
func (r *Repository[T]) BulkUpdate(ctx context.Context, items []Fields, keyColumn string) (updated int64, err error) {
	ctx, span := r.startSpan(ctx, "bulk_update")
	defer func() { endSpan(span, err) }()

	if len(items) == 0 {
		return 0, nil
	}
	if err := r.schema.checkColumn(keyColumn); err != nil {
		return 0, err
	}

	var itemErrs []error
	txErr := WithTx(ctx, r.conn, func(tx DBTX) error {
		for i, item := range items {
			key, ok := item.Get(keyColumn)
			if !ok {
				continue
			}
			fields := item.Without(keyColumn)
			if len(fields) == 0 {
				continue
			}
			if err := r.schema.Check(fields); err != nil {
				itemErrs = append(itemErrs, fmt.Errorf("item %d: %w", i, err))
				continue
			}
			matched, err := r.exec(ctx, tx, fields, Fields{F(keyColumn, key)})
			if err != nil {
				itemErrs = append(itemErrs, fmt.Errorf("item %d: %w", i, translateError(r.schema.Table, err)))
				continue
			}
			updated += matched
		}
		return nil
	})
	if txErr != nil {
		return 0, translateError(r.schema.Table, txErr)
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", updated))
	return updated, errors.Join(itemErrs...)
}

// SoftDelete sets flagColumn to true on the row with the given key.
func (r *Repository[T]) SoftDelete(ctx context.Context, id any, flagColumn string) (bool, error) {
	return r.setFlag(ctx, "soft_delete", id, flagColumn, true)
}

// Restore sets flagColumn back to false on the row with the given key.
func (r *Repository[T]) Restore(ctx context.Context, id any, flagColumn string) (bool, error) {
	return r.setFlag(ctx, "restore", id, flagColumn, false)
}

func (r *Repository[T]) setFlag(ctx context.Context, op string, id any, flagColumn string, value bool) (matched bool, err error) {
	ctx, span := r.startSpan(ctx, op)
	defer func() { endSpan(span, err) }()

	if err := r.schema.checkColumn(flagColumn); err != nil {
		return false, err
	}

	err = WithTx(ctx, r.conn, func(tx DBTX) error {
		n, err := r.exec(ctx, tx, Fields{F(flagColumn, value)}, Fields{F(r.schema.Key, id)})
		if err != nil {
			return err
		}
		matched = n > 0
		return nil
	})
	if err != nil {
		return false, translateError(r.schema.Table, err)
	}
	return matched, nil
}

// Count returns the number of rows matching filters.
func (r *Repository[T]) Count(ctx context.Context, filters Fields) (n int64, err error) {
	ctx, span := r.startSpan(ctx, "count")
	defer func() { endSpan(span, err) }()

	if err := r.schema.Check(filters); err != nil {
		return 0, err
	}
	where, args := filters.where()
	query := fmt.Sprintf("SELECT COUNT(%s) FROM %s%s", r.schema.Key, r.schema.Table, where)
	if err := r.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Min returns the smallest value of column over the filtered rows; invalid on an empty set.
func (r *Repository[T]) Min(ctx context.Context, column string, filters Fields) (sql.Null[any], error) {
	return r.extreme(ctx, AggMin, column, filters)
}

// Max returns the largest value of column over the filtered rows; invalid on an empty set.
func (r *Repository[T]) Max(ctx context.Context, column string, filters Fields) (sql.Null[any], error) {
	return r.extreme(ctx, AggMax, column, filters)
}

// Avg returns the mean of column over the filtered rows; invalid on an empty set.
func (r *Repository[T]) Avg(ctx context.Context, column string, filters Fields) (sql.NullFloat64, error) {
	return r.numeric(ctx, AggAvg, column, filters)
}

// Sum returns the sum of column over the filtered rows; invalid on an empty set.
func (r *Repository[T]) Sum(ctx context.Context, column string, filters Fields) (sql.NullFloat64, error) {
	return r.numeric(ctx, AggSum, column, filters)
}

func (r *Repository[T]) aggregateQuery(fn Aggregate, column string, filters Fields) (string, []any, error) {
	if err := r.schema.checkColumn(column); err != nil {
		return "", nil, err
	}
	if err := r.schema.Check(filters); err != nil {
		return "", nil, err
	}
	where, args := filters.where()
	return fmt.Sprintf("SELECT %s(%s) FROM %s%s", fn, column, r.schema.Table, where), args, nil
}

func (r *Repository[T]) extreme(ctx context.Context, fn Aggregate, column string, filters Fields) (result sql.Null[any], err error) {
	ctx, span := r.startSpan(ctx, "aggregate_"+string(fn))
	defer func() { endSpan(span, err) }()

	query, args, err := r.aggregateQuery(fn, column, filters)
	if err != nil {
		return result, err
	}
	var v any
	if err := r.conn.QueryRowContext(ctx, query, args...).Scan(&v); err != nil {
		return result, err
	}
	if v == nil {
		return result, nil
	}
	return sql.Null[any]{V: normalizeValue(v), Valid: true}, nil
}

func (r *Repository[T]) numeric(ctx context.Context, fn Aggregate, column string, filters Fields) (result sql.NullFloat64, err error) {
	ctx, span := r.startSpan(ctx, "aggregate_"+string(fn))
	defer func() { endSpan(span, err) }()

	query, args, err := r.aggregateQuery(fn, column, filters)
	if err != nil {
		return result, err
	}
	if err := r.conn.QueryRowContext(ctx, query, args...).Scan(&result); err != nil {
		return sql.NullFloat64{}, err
	}
	return result, nil
}

// GroupBy groups the filtered rows by groupColumn and applies fn to aggColumn
// within each group.
func (r *Repository[T]) GroupBy(ctx context.Context, groupColumn, aggColumn string, fn Aggregate, filters Fields) (groups []Group, err error) {
	ctx, span := r.startSpan(ctx, "group_by_aggregate")
	defer func() { endSpan(span, err) }()

	if !fn.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAggregate, fn)
	}
	if err := r.schema.checkColumn(groupColumn); err != nil {
		return nil, err
	}
	if err := r.schema.checkColumn(aggColumn); err != nil {
		return nil, err
	}
	if err := r.schema.Check(filters); err != nil {
		return nil, err
	}

	where, args := filters.where()
	query := fmt.Sprintf("SELECT %s, %s(%s) FROM %s%s GROUP BY %s",
		groupColumn, fn, aggColumn, r.schema.Table, where, groupColumn)

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups = make([]Group, 0)
	for rows.Next() {
		var key, value any
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		groups = append(groups, Group{Key: normalizeValue(key), Value: normalizeValue(value)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return groups, nil
}

// RawQuery runs a parameterized free-form query on the repository connection.
func (r *Repository[T]) RawQuery(ctx context.Context, query string, args ...any) (result []Row, err error) {
	ctx, span := r.startSpan(ctx, "raw_query")
	defer func() { endSpan(span, err) }()

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result = make([]Row, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make(Row, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// normalizeValue turns driver byte slices into strings.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
