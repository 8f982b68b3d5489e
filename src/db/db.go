package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"git.handmade.network/hmn/imghost/src/oops"
	"github.com/jackc/pgx/v5"
)

/*
A general error to be used when no results are found. This is the error returned
by QueryOne, and can generally be used by other database helpers that fetch a single
result but find nothing.
*/
var NotFound = errors.New("not found")

/*
Performs a SQL query and returns a slice of all the result rows. You must
explicitly provide the type argument, since it decides how rows are mapped.

Any query that returns a result set works, including INSERT ... RETURNING.
Results are always pointers; use QueryScalar for plain values.
*/
func Query[T any](
	ctx context.Context,
	conn ConnOrTx,
	query string,
	args ...any,
) ([]*T, error) {
	it, err := QueryIterator[T](ctx, conn, query, args...)
	if err != nil {
		return nil, err
	}
	return it.ToSlice()
}

/*
Identical to Query, but returns only the first result row. If there are no
rows in the result set, returns NotFound.
*/
func QueryOne[T any](
	ctx context.Context,
	conn ConnOrTx,
	query string,
	args ...any,
) (*T, error) {
	it, err := QueryIterator[T](ctx, conn, query, args...)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	result, hasRow := it.Next()
	if !hasRow {
		if it.Err() != nil {
			return nil, it.Err()
		}
		return nil, NotFound
	}

	return result, nil
}

func QueryScalar[T any](
	ctx context.Context,
	conn ConnOrTx,
	query string,
	args ...any,
) ([]T, error) {
	rows, err := Query[T](ctx, conn, query, args...)
	if err != nil {
		return nil, err
	}

	result := make([]T, 0, len(rows))
	for _, row := range rows {
		result = append(result, *row)
	}
	return result, nil
}

func QueryOneScalar[T any](
	ctx context.Context,
	conn ConnOrTx,
	query string,
	args ...any,
) (T, error) {
	result, err := QueryOne[T](ctx, conn, query, args...)
	if err != nil {
		var zero T
		return zero, err
	}
	return *result, nil
}

/*
Identical to Query, but returns an Iterator instead of a slice. The iterator
must be closed after use. It is also closed automatically if ctx ends, so an
abandoned request cannot hold a pool connection forever.
*/
func QueryIterator[T any](
	ctx context.Context,
	conn ConnOrTx,
	query string,
	args ...any,
) (*Iterator[T], error) {
	var destExample T
	compiled, err := compileQuery(query, reflect.TypeOf(destExample))
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(ctx, compiled.query, args...)
	if err != nil {
		return nil, err
	}

	it := &Iterator[T]{
		fieldPaths: compiled.fieldPaths,
		rows:       rows,
		scalar:     compiled.fieldPaths == nil,
		closed:     make(chan struct{}, 1),
	}

	go func() {
		done := ctx.Done()
		if done == nil {
			return
		}
		select {
		case <-done:
			it.Close()
		case <-it.closed:
		}
	}()

	return it, nil
}

type compiledQuery struct {
	query      string
	fieldPaths []fieldPath
}

var reColumnsPlaceholder = regexp.MustCompile(`\$columns({(.*?)})?`)

func compileQuery(query string, destType reflect.Type) (compiledQuery, error) {
	columnsMatch := reColumnsPlaceholder.FindStringSubmatch(query)
	if columnsMatch == nil {
		if !typeIsQueryable(destType) {
			return compiledQuery{}, fmt.Errorf("type %s must be queried with $columns", destType)
		}
		return compiledQuery{query: query}, nil
	}

	if destType.Kind() != reflect.Struct {
		return compiledQuery{}, fmt.Errorf("$columns can only be used when querying into a struct, not %s", destType)
	}

	names, paths, err := getColumnNamesAndPaths(destType, nil, columnsMatch[2])
	if err != nil {
		return compiledQuery{}, err
	}
	if len(names) == 0 {
		return compiledQuery{}, fmt.Errorf("type %s has no db-tagged fields", destType)
	}

	return compiledQuery{
		query:      reColumnsPlaceholder.ReplaceAllString(query, strings.Join(names, ", ")),
		fieldPaths: paths,
	}, nil
}

// A path to a particular field in a query's destination type. Each index
// is a field index for use with Field on a reflect.Value.
type fieldPath []int

func getColumnNamesAndPaths(destType reflect.Type, pathSoFar []int, prefix string) (names []string, paths []fieldPath, err error) {
	if destType.Kind() == reflect.Ptr {
		destType = destType.Elem()
	}
	if destType.Kind() != reflect.Struct {
		return nil, nil, fmt.Errorf("can only get column names and paths from a struct, got type '%v' (at prefix '%v')", destType, prefix)
	}

	for i := 0; i < destType.NumField(); i++ {
		field := destType.Field(i)
		columnName := field.Tag.Get("db")
		if columnName == "" || !field.IsExported() {
			continue
		}

		path := make(fieldPath, len(pathSoFar), len(pathSoFar)+1)
		copy(path, pathSoFar)
		path = append(path, i)

		fullName := columnName
		if prefix != "" {
			fullName = prefix + "." + columnName
		}

		fieldType := field.Type
		if fieldType.Kind() == reflect.Ptr {
			fieldType = fieldType.Elem()
		}

		if typeIsQueryable(fieldType) {
			names = append(names, fullName)
			paths = append(paths, path)
		} else if fieldType.Kind() == reflect.Struct {
			subNames, subPaths, err := getColumnNamesAndPaths(fieldType, path, fullName)
			if err != nil {
				return nil, nil, err
			}
			names = append(names, subNames...)
			paths = append(paths, subPaths...)
		} else {
			return nil, nil, fmt.Errorf("field '%s' in type %s has invalid type '%s'", field.Name, destType, field.Type)
		}
	}

	return names, paths, nil
}

var (
	timeType    = reflect.TypeOf(time.Time{})
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
)

/*
Checks whether pgx can scan a column directly into a value of this type.
Everything that is not a struct is handed to pgx as-is. Structs are
only scanned directly when pgx knows them (time.Time) or they implement
sql.Scanner; otherwise we look for more `db` tags inside them.
*/
func typeIsQueryable(t reflect.Type) bool {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return true
	}
	return t == timeType || reflect.PtrTo(t).Implements(scannerType)
}

type Iterator[T any] struct {
	fieldPaths []fieldPath
	rows       pgx.Rows
	scalar     bool
	err        error
	closed     chan struct{}
}

// Next returns the next row. When it returns false, check Err.
func (it *Iterator[T]) Next() (*T, bool) {
	if it.err != nil {
		return nil, false
	}

	if !it.rows.Next() {
		it.Close()
		it.err = it.rows.Err()
		return nil, false
	}

	result := new(T)
	var err error
	if it.scalar {
		err = it.rows.Scan(result)
	} else {
		resultVal := reflect.ValueOf(result)
		dests := make([]any, len(it.fieldPaths))
		for i, path := range it.fieldPaths {
			dests[i] = followPathThroughStructs(resultVal, path).Addr().Interface()
		}
		err = it.rows.Scan(dests...)
	}
	if err != nil {
		it.err = oops.New(err, "failed to scan row into %T", result)
		it.Close()
		return nil, false
	}

	return result, true
}

func (it *Iterator[T]) Err() error {
	return it.err
}

func (it *Iterator[T]) Close() {
	it.rows.Close()
	select {
	case it.closed <- struct{}{}:
	default:
	}
}

// ToSlice pulls all remaining rows into a slice and closes the iterator.
func (it *Iterator[T]) ToSlice() ([]*T, error) {
	defer it.Close()
	var result []*T
	for {
		row, ok := it.Next()
		if !ok {
			break
		}
		result = append(result, row)
	}
	if it.Err() != nil {
		return nil, oops.New(it.Err(), "error while iterating through db results")
	}
	return result, nil
}

// Walks a pointer-to-struct down the given field path, allocating any nil
// struct pointers along the way.
func followPathThroughStructs(structPtrVal reflect.Value, path fieldPath) reflect.Value {
	val := structPtrVal
	for _, i := range path {
		if val.Kind() == reflect.Ptr {
			if val.IsNil() {
				val.Set(reflect.New(val.Type().Elem()))
			}
			val = val.Elem()
		}
		val = val.Field(i)
	}
	return val
}
