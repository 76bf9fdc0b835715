package postgres

import (
	"reflect"
	"slices"
	"sync"
)

// ExtractDBColumns returns the "db" tag names of T in field order,
// descending into embedded structs. Fields tagged "-" are skipped.
func ExtractDBColumns[T any]() []string {
	var zero T
	return fieldsOf(reflect.TypeOf(zero)).columns()
}

// ColumnsExcept returns cols without the listed names.
func ColumnsExcept(cols []string, drop ...string) []string {
	return slices.DeleteFunc(slices.Clone(cols), func(c string) bool {
		return slices.Contains(drop, c)
	})
}

type field struct {
	index  []int
	column string
}

type fieldSet []field

func (fs fieldSet) columns() []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.column
	}
	return out
}

var fieldCache sync.Map // reflect.Type -> fieldSet

func fieldsOf(t reflect.Type) fieldSet {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if cached, ok := fieldCache.Load(t); ok {
		return cached.(fieldSet)
	}

	var fs fieldSet
	if t.Kind() == reflect.Struct {
		collectFields(t, nil, &fs)
	}
	fieldCache.Store(t, fs)
	return fs
}

func collectFields(t reflect.Type, prefix []int, out *fieldSet) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		index := append(slices.Clone(prefix), i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			collectFields(f.Type, index, out)
			continue
		}
		tag := f.Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		*out = append(*out, field{index: index, column: tag})
	}
}

// StructToMap converts a struct to a column map using "db" tags.
// When only is non-empty, columns outside it are left out.
func StructToMap(v any, only ...string) map[string]any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	fs := fieldsOf(rv.Type())
	res := make(map[string]any, len(fs))
	for _, f := range fs {
		if len(only) > 0 && !slices.Contains(only, f.column) {
			continue
		}
		res[f.column] = rv.FieldByIndex(f.index).Interface()
	}
	return res
}
