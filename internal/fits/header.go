// Package fits reads keyword headers from FITS files. Data units are skipped, never decoded.
package fits

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// BlockSize is the FITS logical record length
	BlockSize = 2880
	// CardSize is the length of one header card
	CardSize = 80
)

var (
	// ErrKeywordNotFound is returned when a header lacks the requested keyword
	ErrKeywordNotFound = errors.New("keyword not found")

	// ErrMalformedHeader is returned for headers that do not follow the card layout
	ErrMalformedHeader = errors.New("malformed FITS header")
)

// Card is one keyword record
type Card struct {
	Key     string
	Value   interface{} // string, bool, int64, float64 or nil
	Comment string
}

// Header is the ordered set of cards of one HDU
type Header struct {
	cards []Card
	index map[string]int
}

func newHeader() *Header {
	return &Header{index: make(map[string]int)}
}

func (h *Header) add(c Card) {
	switch c.Key {
	case "", "COMMENT", "HISTORY":
	default:
		if _, dup := h.index[c.Key]; !dup {
			h.index[c.Key] = len(h.cards)
		}
	}
	h.cards = append(h.cards, c)
}

// Len returns the number of cards, commentary cards included
func (h *Header) Len() int { return len(h.cards) }

// Cards returns a copy of the cards in file order
func (h *Header) Cards() []Card {
	return append([]Card(nil), h.cards...)
}

// Has reports whether key is present
func (h *Header) Has(key string) bool {
	_, ok := h.index[strings.ToUpper(key)]
	return ok
}

// Get returns the value of key. The first occurrence wins.
func (h *Header) Get(key string) (interface{}, error) {
	i, ok := h.index[strings.ToUpper(key)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeywordNotFound, key)
	}
	return h.cards[i].Value, nil
}

// String returns key as a string
func (h *Header) String(key string) (string, error) {
	v, err := h.Get(key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("keyword %s is %T, not a string", key, v)
	}
	return s, nil
}

// Float returns key as a float64; integer values are converted
func (h *Header) Float(key string) (float64, error) {
	v, err := h.Get(key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("keyword %s is %T, not numeric", key, v)
}

// Int returns key as an int64
func (h *Header) Int(key string) (int64, error) {
	v, err := h.Get(key)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("keyword %s is %T, not an integer", key, v)
	}
	return n, nil
}

func (h *Header) intOr(key string, def int64) int64 {
	n, err := h.Int(key)
	if err != nil {
		return def
	}
	return n
}

// DataSize returns the byte length of the data unit following the header, padding excluded
func (h *Header) DataSize() (int64, error) {
	naxis := h.intOr("NAXIS", 0)
	if naxis == 0 {
		return 0, nil
	}
	bitpix, err := h.Int("BITPIX")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if bitpix < 0 {
		bitpix = -bitpix
	}

	size := int64(1)
	for i := int64(1); i <= naxis; i++ {
		n, err := h.Int("NAXIS" + strconv.FormatInt(i, 10))
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
		}
		// random groups: NAXIS1 = 0 does not count
		if i == 1 && n == 0 && h.Has("GROUPS") {
			continue
		}
		size *= n
	}

	pcount := h.intOr("PCOUNT", 0)
	gcount := h.intOr("GCOUNT", 1)
	return bitpix / 8 * gcount * (pcount + size), nil
}

// parseCard decodes one 80-byte card
func parseCard(raw []byte) (Card, error) {
	if len(raw) != CardSize {
		return Card{}, fmt.Errorf("%w: card has %d bytes", ErrMalformedHeader, len(raw))
	}
	line := string(raw)
	key := sanitize(strings.TrimRight(line[:8], " "))

	// commentary and value-less cards
	if line[8:10] != "= " || key == "COMMENT" || key == "HISTORY" {
		c := Card{Key: key}
		if key == "CONTINUE" {
			c.Value, c.Comment = parseValue(line[8:])
		} else {
			c.Comment = strings.TrimRight(line[8:], " ")
		}
		return clean(c), nil
	}

	value, comment := parseValue(line[10:])
	return clean(Card{Key: key, Value: value, Comment: comment}), nil
}

func clean(c Card) Card {
	if s, ok := c.Value.(string); ok {
		c.Value = sanitize(s)
	}
	c.Comment = sanitize(c.Comment)
	return c
}

func parseValue(field string) (interface{}, string) {
	s := strings.TrimLeft(field, " ")
	if s == "" {
		return nil, ""
	}

	if s[0] == '\'' {
		var sb strings.Builder
		i := 1
		for i < len(s) {
			if s[i] == '\'' {
				if i+1 < len(s) && s[i+1] == '\'' {
					sb.WriteByte('\'')
					i += 2
					continue
				}
				break
			}
			sb.WriteByte(s[i])
			i++
		}
		rest := ""
		if i+1 < len(s) {
			rest = s[i+1:]
		}
		return strings.TrimRight(sb.String(), " "), comment(rest)
	}

	raw, rest := s, ""
	if slash := strings.IndexByte(s, '/'); slash >= 0 {
		raw, rest = s[:slash], s[slash:]
	}
	raw = strings.TrimSpace(raw)

	switch raw {
	case "":
		return nil, comment(rest)
	case "T":
		return true, comment(rest)
	case "F":
		return false, comment(rest)
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n, comment(rest)
	}
	if f, err := strconv.ParseFloat(strings.NewReplacer("D", "E", "d", "e").Replace(raw), 64); err == nil {
		return f, comment(rest)
	}
	// complex and other forms are kept verbatim
	return raw, comment(rest)
}

func comment(rest string) string {
	rest = strings.TrimSpace(rest)
	return strings.TrimSpace(strings.TrimPrefix(rest, "/"))
}

// sanitize replaces invalid UTF-8 so header strings can be stored as TEXT
func sanitize(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}
