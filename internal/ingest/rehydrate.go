package ingest

import (
	"fmt"

	"github.com/basekick-labs/monitorframe/pkg/models"
)

// Rehydrate parses the named array columns of a query result back into typed slices.
//
// The element type for arrayColumns[i] is dtypes[i] when given and non-empty,
// otherwise the row's "<column>_dtype" value when that column was selected,
// otherwise float64.
func Rehydrate(t *models.Table, arrayColumns []string, dtypes []DType) (*models.Table, error) {
	if t == nil || len(arrayColumns) == 0 {
		return t, nil
	}
	if len(dtypes) > len(arrayColumns) {
		return nil, fmt.Errorf("%d dtypes given for %d array columns", len(dtypes), len(arrayColumns))
	}

	out := t
	for i, name := range arrayColumns {
		values, ok := t.Column(name)
		if !ok {
			return nil, fmt.Errorf("array column %q not present in query result", name)
		}

		var explicit DType
		if i < len(dtypes) {
			explicit = dtypes[i]
		}
		stored, _ := t.Column(name + DTypeSuffix)

		parsed := make([]interface{}, len(values))
		for row, v := range values {
			dtype := explicit
			if dtype == "" {
				dtype = storedDType(stored, row)
			}

			p, err := rehydrateCell(v, dtype)
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", name, row, err)
			}
			parsed[row] = p
		}

		var err error
		if out, err = out.WithColumn(name, parsed); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func storedDType(stored []interface{}, row int) DType {
	if row >= len(stored) {
		return DTypeFloat64
	}
	var name string
	switch v := stored[row].(type) {
	case string:
		name = v
	case []byte:
		name = string(v)
	default:
		return DTypeFloat64
	}
	dtype, err := ParseDType(name)
	if err != nil {
		return DTypeFloat64
	}
	return dtype
}

func rehydrateCell(v interface{}, dtype DType) (interface{}, error) {
	switch c := v.(type) {
	case nil:
		return nil, nil
	case string:
		return ParseArray(c, dtype)
	case []byte:
		return ParseArray(string(c), dtype)
	}
	if IsArray(v) {
		return v, nil
	}
	return nil, fmt.Errorf("%w: unexpected %T cell", ErrArrayParse, v)
}
