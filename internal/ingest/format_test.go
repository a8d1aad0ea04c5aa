package ingest

import (
	"testing"

	"github.com/basekick-labs/monitorframe/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable(t *testing.T) *models.Table {
	t.Helper()
	table, err := models.Build(map[string][]interface{}{
		"a": {1, 2, 3},
		"b": {4, 5, 6},
		"c": {[]int{7, 8, 9}, []int{10, 11, 12}, []int{13, 14, 15}},
	})
	require.NoError(t, err)
	return table
}

func TestClassify(t *testing.T) {
	assert.Equal(t, []string{"c"}, Classify(sampleTable(t)))

	scalars, err := models.Build(map[string][]interface{}{"a": {1}, "s": {"text"}})
	require.NoError(t, err)
	assert.Empty(t, Classify(scalars))

	empty, err := models.Build(nil)
	require.NoError(t, err)
	assert.Empty(t, Classify(empty))
	assert.Empty(t, Classify(nil))
}

func TestClassify_FirstRowOnly(t *testing.T) {
	table, err := models.Build(map[string][]interface{}{
		"mixed": {1.0, []float64{1, 2}},
	})
	require.NoError(t, err)
	assert.Empty(t, Classify(table))
}

func TestFormat(t *testing.T) {
	table := sampleTable(t)

	formatted, err := Format(table, Classify(table))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c", "c_dtype"}, formatted.Columns())

	c, _ := formatted.Column("c")
	assert.Equal(t, []interface{}{"[7, 8, 9]", "[10, 11, 12]", "[13, 14, 15]"}, c)

	dtypes, _ := formatted.Column("c_dtype")
	assert.Equal(t, []interface{}{"int64", "int64", "int64"}, dtypes)

	a, _ := formatted.Column("a")
	assert.Equal(t, []interface{}{1, 2, 3}, a)

	// input is not modified
	original, _ := table.Column("c")
	assert.Equal(t, []int{7, 8, 9}, original[0])
}

func TestFormat_NoArrays(t *testing.T) {
	table := sampleTable(t)
	formatted, err := Format(table, nil)
	require.NoError(t, err)
	assert.Same(t, table, formatted)
}

func TestFormat_NullCells(t *testing.T) {
	table, err := models.Build(map[string][]interface{}{
		"c": {[]float64{1}, nil},
	})
	require.NoError(t, err)

	formatted, err := Format(table, []string{"c"})
	require.NoError(t, err)
	assert.Nil(t, formatted.Value(1, "c"))
	assert.Nil(t, formatted.Value(1, "c_dtype"))
}

func TestFormat_Errors(t *testing.T) {
	table := sampleTable(t)

	_, err := Format(table, []string{"missing"})
	assert.Error(t, err)

	_, err = Format(table, []string{"a"})
	assert.Error(t, err)

	detectors, err := models.Build(map[string][]interface{}{
		"segments": {[]string{"FUVA", "FUVB"}, []string{"FUVA,FUVB"}},
	})
	require.NoError(t, err)
	_, err = Format(detectors, []string{"segments"})
	assert.ErrorIs(t, err, ErrArrayEncode)
}
