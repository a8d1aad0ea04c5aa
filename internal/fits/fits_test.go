package fits

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func card(s string) []byte {
	return []byte(padCard(s))
}

func padCard(s string) string {
	if len(s) > CardSize {
		return s[:CardSize]
	}
	return s + strings.Repeat(" ", CardSize-len(s))
}

func TestParseCard(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		key     string
		value   interface{}
		comment string
	}{
		{"string", "EXPTYPE = 'ACQ/IMAGE'          / exposure type", "EXPTYPE", "ACQ/IMAGE", "exposure type"},
		{"quoted quote", "OBJECT  = 'O''BRIEN '", "OBJECT", "O'BRIEN", ""},
		{"int", "PROPOSID=                15459 / PEP proposal identifier", "PROPOSID", int64(15459), "PEP proposal identifier"},
		{"float", "ACQSLEWX=           -0.3455432 / slew in x", "ACQSLEWX", -0.3455432, "slew in x"},
		{"fortran exponent", "EXPSTART=       5.8123456789D4", "EXPSTART", 58123.456789, ""},
		{"bool", "SIMPLE  =                    T", "SIMPLE", true, ""},
		{"slash in string", "FILENAME= 'a/b.fits'", "FILENAME", "a/b.fits", ""},
		{"comment card", "COMMENT this is commentary", "COMMENT", nil, "this is commentary"},
		{"blank", "", "", nil, ""},
		{"no value", "UNDEF   =                      / nothing", "UNDEF", nil, "nothing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := parseCard(card(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.key, c.Key)
			if f, ok := tt.value.(float64); ok {
				assert.InDelta(t, f, c.Value, 1e-9)
			} else {
				assert.Equal(t, tt.value, c.Value)
			}
			assert.Equal(t, tt.comment, c.Comment)
		})
	}

	_, err := parseCard([]byte("short"))
	assert.ErrorIs(t, err, ErrMalformedHeader)
}

func TestParseCard_InvalidUTF8(t *testing.T) {
	c, err := parseCard(card("TARGNAME= 'bad\xffname'"))
	require.NoError(t, err)
	assert.Equal(t, "bad\uFFFDname", c.Value)
}

func primaryCards() []Card {
	return []Card{
		{Key: "SIMPLE", Value: true},
		{Key: "BITPIX", Value: int64(8)},
		{Key: "NAXIS", Value: int64(0)},
		{Key: "ROOTNAME", Value: "la8q99aaq"},
		{Key: "EXPTYPE", Value: "ACQ/IMAGE"},
		{Key: "ACQSLEWX", Value: 1.5},
		{Key: "PROPOSID", Value: int64(15459)},
		{Key: "COMMENT", Comment: "synthetic test file"},
	}
}

func extensionCards(rows int64) []Card {
	return []Card{
		{Key: "XTENSION", Value: "BINTABLE"},
		{Key: "BITPIX", Value: int64(8)},
		{Key: "NAXIS", Value: int64(2)},
		{Key: "NAXIS1", Value: int64(100)},
		{Key: "NAXIS2", Value: rows},
		{Key: "PCOUNT", Value: int64(0)},
		{Key: "GCOUNT", Value: int64(1)},
		{Key: "EXPSTART", Value: 58000.25},
	}
}

func buildFile(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(Encode(primaryCards()))
	buf.Write(Encode(extensionCards(40)))
	buf.Write(make([]byte, padded(100*40)))
	buf.Write(Encode([]Card{
		{Key: "XTENSION", Value: "IMAGE"},
		{Key: "BITPIX", Value: int64(-32)},
		{Key: "NAXIS", Value: int64(0)},
		{Key: "EXTNAME", Value: "LAST"},
	}))
	return buf.Bytes()
}

func TestReadHeaders(t *testing.T) {
	data := buildFile(t)

	headers, err := ReadHeaders(bytes.NewReader(data), AllHDUs)
	require.NoError(t, err)
	require.Len(t, headers, 3)

	root, err := headers[0].String("rootname")
	require.NoError(t, err)
	assert.Equal(t, "la8q99aaq", root)

	slew, err := headers[0].Float("ACQSLEWX")
	require.NoError(t, err)
	assert.Equal(t, 1.5, slew)

	prop, err := headers[0].Float("PROPOSID")
	require.NoError(t, err)
	assert.Equal(t, 15459.0, prop)

	expstart, err := headers[1].Float("EXPSTART")
	require.NoError(t, err)
	assert.Equal(t, 58000.25, expstart)

	name, err := headers[2].String("EXTNAME")
	require.NoError(t, err)
	assert.Equal(t, "LAST", name)

	_, err = headers[0].Get("MISSING")
	assert.ErrorIs(t, err, ErrKeywordNotFound)
	_, err = headers[0].Int("ROOTNAME")
	assert.Error(t, err)

	// stops after the requested HDU
	headers, err = ReadHeaders(bytes.NewReader(data), 1)
	require.NoError(t, err)
	assert.Len(t, headers, 2)
}

func TestReadHeaders_Errors(t *testing.T) {
	_, err := ReadHeaders(bytes.NewReader(nil), 0)
	assert.Error(t, err)

	_, err = ReadHeaders(bytes.NewReader(Encode([]Card{{Key: "NOTFITS", Value: true}})), 0)
	assert.ErrorIs(t, err, ErrMalformedHeader)

	// header without END
	noEnd := bytes.Repeat([]byte(" "), BlockSize)
	copy(noEnd, padCard("SIMPLE  =                    T"))
	_, err = ReadHeaders(bytes.NewReader(noEnd), 0)
	assert.ErrorIs(t, err, ErrMalformedHeader)

	// data unit cut short
	var buf bytes.Buffer
	buf.Write(Encode(primaryCards()))
	buf.Write(Encode(extensionCards(40)))
	buf.Write(make([]byte, 100))
	_, err = ReadHeaders(bytes.NewReader(buf.Bytes()), AllHDUs)
	assert.ErrorIs(t, err, ErrMalformedHeader)
}

func TestLongStringContinue(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(padCard("SIMPLE  =                    T"))
	buf.WriteString(padCard("NAXIS   =                    0"))
	buf.WriteString(padCard("HISTORY = 'first part&'"))
	buf.WriteString(padCard("LONGSTR = 'first part&'"))
	buf.WriteString(padCard("CONTINUE  ' second part'"))
	buf.WriteString(padCard("END"))
	for buf.Len()%BlockSize != 0 {
		buf.WriteByte(' ')
	}

	headers, err := ReadHeaders(&buf, 0)
	require.NoError(t, err)
	s, err := headers[0].String("LONGSTR")
	require.NoError(t, err)
	assert.Equal(t, "first part second part", s)
}

func TestReadFile_Gzip(t *testing.T) {
	dir := t.TempDir()
	data := buildFile(t)

	plain := filepath.Join(dir, "la8q99aaq_rawacq.fits")
	require.NoError(t, os.WriteFile(plain, data, 0644))

	var zbuf bytes.Buffer
	zw := gzip.NewWriter(&zbuf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	compressed := filepath.Join(dir, "la8q99aaq_rawacq.fits.gz")
	require.NoError(t, os.WriteFile(compressed, zbuf.Bytes(), 0644))

	for _, path := range []string{plain, compressed} {
		headers, err := ReadFile(path, 1)
		require.NoError(t, err, path)
		require.Len(t, headers, 2)
		exptype, err := headers[0].String("EXPTYPE")
		require.NoError(t, err)
		assert.Equal(t, "ACQ/IMAGE", exptype)
	}

	_, err = ReadFile(filepath.Join(dir, "missing.fits"), 0)
	assert.Error(t, err)
}

func TestDataSize(t *testing.T) {
	h := newHeader()
	for _, c := range extensionCards(3) {
		h.add(c)
	}
	size, err := h.DataSize()
	require.NoError(t, err)
	assert.Equal(t, int64(300), size)
	assert.Equal(t, int64(BlockSize), padded(size))
	assert.Equal(t, int64(0), padded(0))
}
