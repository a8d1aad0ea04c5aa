package ingest

import (
	"fmt"

	"github.com/basekick-labs/monitorframe/pkg/models"
)

// Format renders each array column as bracketed text and adds a sibling
// "<column>_dtype" column recording the element type. Other columns are untouched.
// Null cells stay null in both columns.
func Format(t *models.Table, arrayColumns []string) (*models.Table, error) {
	if t == nil || len(arrayColumns) == 0 {
		return t, nil
	}

	out := t
	for _, name := range arrayColumns {
		values, ok := t.Column(name)
		if !ok {
			return nil, fmt.Errorf("array column %q not found", name)
		}

		encoded := make([]interface{}, len(values))
		dtypes := make([]interface{}, len(values))
		for i, v := range values {
			if v == nil {
				continue
			}
			text, err := EncodeArray(v)
			if err != nil {
				return nil, fmt.Errorf("failed to encode column %q row %d: %w", name, i, err)
			}
			encoded[i] = text
			dtypes[i] = string(InferDType(v))
		}

		var err error
		if out, err = out.WithColumn(name, encoded); err != nil {
			return nil, err
		}
		if out, err = out.WithColumn(name+DTypeSuffix, dtypes); err != nil {
			return nil, err
		}
	}
	return out, nil
}
