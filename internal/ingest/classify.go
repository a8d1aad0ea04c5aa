package ingest

import "github.com/basekick-labs/monitorframe/pkg/models"

// Classify returns the names of columns whose first-row value is array-like, in column order.
// Only the first row is inspected; an empty table has no array columns.
func Classify(t *models.Table) []string {
	if t.Empty() {
		return nil
	}

	var arrays []string
	for _, name := range t.Columns() {
		if IsArray(t.Value(0, name)) {
			arrays = append(arrays, name)
		}
	}
	return arrays
}
