package fits

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// AllHDUs makes ReadHeaders read every header in the stream
const AllHDUs = -1

// ReadHeaders reads the headers of the first n+1 HDUs (0 through n) from r.
// Data units are skipped. Reading stops cleanly at end of stream.
func ReadHeaders(r io.Reader, n int) ([]*Header, error) {
	br := bufio.NewReaderSize(r, BlockSize*4)

	var headers []*Header
	for n == AllHDUs || len(headers) <= n {
		h, err := readHeader(br)
		if errors.Is(err, io.EOF) && len(headers) > 0 {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("HDU %d: %w", len(headers), err)
		}
		headers = append(headers, h)

		if n != AllHDUs && len(headers) > n {
			break
		}

		size, err := h.DataSize()
		if err != nil {
			return nil, fmt.Errorf("HDU %d: %w", len(headers)-1, err)
		}
		if skip := padded(size); skip > 0 {
			if _, err := io.CopyN(io.Discard, br, skip); err != nil {
				if errors.Is(err, io.EOF) {
					return nil, fmt.Errorf("HDU %d: %w: truncated data unit", len(headers)-1, ErrMalformedHeader)
				}
				return nil, err
			}
		}
	}
	return headers, nil
}

func readHeader(r io.Reader) (*Header, error) {
	h := newHeader()
	block := make([]byte, BlockSize)
	first := true

	for {
		if _, err := io.ReadFull(r, block); err != nil {
			if first && errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("%w: truncated header", ErrMalformedHeader)
		}
		if first {
			key := string(bytes.TrimRight(block[:8], " "))
			if key != "SIMPLE" && key != "XTENSION" {
				return nil, fmt.Errorf("%w: header starts with %q", ErrMalformedHeader, key)
			}
			first = false
		}

		for off := 0; off < BlockSize; off += CardSize {
			card, err := parseCard(block[off : off+CardSize])
			if err != nil {
				return nil, err
			}
			if card.Key == "END" {
				return h, nil
			}
			h.appendCard(card)
		}
	}
}

// appendCard joins CONTINUE cards onto a preceding long string ending in '&'
func (h *Header) appendCard(c Card) {
	if c.Key == "CONTINUE" && len(h.cards) > 0 {
		last := &h.cards[len(h.cards)-1]
		prev, okPrev := last.Value.(string)
		next, okNext := c.Value.(string)
		if okPrev && okNext && strings.HasSuffix(prev, "&") {
			last.Value = strings.TrimSuffix(prev, "&") + next
			return
		}
	}
	h.add(c)
}

func padded(size int64) int64 {
	if rem := size % BlockSize; rem != 0 {
		return size + BlockSize - rem
	}
	return size
}

// ReadFile reads HDU headers 0 through n from path. Gzip-compressed files are
// detected by their magic bytes and decompressed on the fly.
func ReadFile(path string, n int) ([]*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := decompress(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if rc, ok := r.(io.Closer); ok {
		defer rc.Close()
	}

	headers, err := ReadHeaders(r, n)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return headers, nil
}

func decompress(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("invalid gzip stream: %w", err)
		}
		return zr, nil
	}
	return br, nil
}

// Encode renders cards as a header: 80-byte cards, END, padded to a block.
// Values are written in fixed format; strings are quoted.
//
// Encode exists to build header fixtures for tests here and in the packages
// that scan FITS archives. Nothing in the monitoring runtime writes FITS files.
func Encode(cards []Card) []byte {
	var buf bytes.Buffer
	for _, c := range cards {
		buf.WriteString(formatCard(c))
	}
	buf.WriteString(fmt.Sprintf("%-80s", "END"))
	for buf.Len()%BlockSize != 0 {
		buf.WriteByte(' ')
	}
	return buf.Bytes()
}

func formatCard(c Card) string {
	var value string
	switch v := c.Value.(type) {
	case nil:
		return fmt.Sprintf("%-80.80s", fmt.Sprintf("%-8s%s", c.Key, c.Comment))
	case string:
		value = fmt.Sprintf("%-20s", "'"+strings.ReplaceAll(v, "'", "''")+"'")
	case bool:
		value = fmt.Sprintf("%20s", map[bool]string{true: "T", false: "F"}[v])
	case int:
		value = fmt.Sprintf("%20d", v)
	case int64:
		value = fmt.Sprintf("%20d", v)
	case float64:
		value = fmt.Sprintf("%20s", formatFloat(v))
	default:
		value = fmt.Sprintf("%20v", v)
	}

	card := fmt.Sprintf("%-8s= %s", c.Key, value)
	if c.Comment != "" {
		card += " / " + c.Comment
	}
	return fmt.Sprintf("%-80.80s", card)
}

func formatFloat(f float64) string {
	s := fmt.Sprintf("%.15G", f)
	if !strings.ContainsAny(s, ".E") {
		s += "."
	}
	return s
}
