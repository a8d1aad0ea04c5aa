package ingest

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/basekick-labs/monitorframe/internal/metrics"
	"github.com/basekick-labs/monitorframe/pkg/models"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// TableCodec encodes tables to MessagePack and decodes them back.
// Supports columnar ({order, columns}), batch ({batch: [...]}) and bare row array payloads.
type TableCodec struct {
	logger       zerolog.Logger
	totalDecoded atomic.Uint64
	totalErrors  atomic.Uint64
}

// NewTableCodec creates a new MessagePack table codec
func NewTableCodec(logger zerolog.Logger) *TableCodec {
	return &TableCodec{
		logger: logger.With().Str("component", "msgpack-codec").Logger(),
	}
}

// Encode writes t in columnar format
func (c *TableCodec) Encode(t *models.Table) ([]byte, error) {
	data, err := msgpack.Marshal(t.Payload())
	if err != nil {
		c.totalErrors.Add(1)
		return nil, fmt.Errorf("failed to marshal msgpack: %w", err)
	}
	metrics.Get().IncMsgPackBytes(int64(len(data)))
	return data, nil
}

// Decode reads a table from MessagePack bytes
func (c *TableCodec) Decode(data []byte) (*models.Table, error) {
	// Decode to a generic value first so both map and array payloads are accepted
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		c.totalErrors.Add(1)
		return nil, fmt.Errorf("failed to unmarshal msgpack: %w", err)
	}

	var (
		table *models.Table
		err   error
	)
	switch payload := normalizeDecoded(raw).(type) {
	case map[string]interface{}:
		table, err = c.decodeMap(payload)
	case []interface{}:
		table, err = models.FromRows(c.rowsFrom(payload))
	default:
		err = fmt.Errorf("unsupported msgpack payload type: %T", raw)
	}
	if err != nil {
		c.totalErrors.Add(1)
		return nil, err
	}

	c.totalDecoded.Add(uint64(table.Len()))
	metrics.Get().IncMsgPackRecords(int64(table.Len()))
	return table, nil
}

func (c *TableCodec) decodeMap(m map[string]interface{}) (*models.Table, error) {
	var p models.TablePayload

	if batch, ok := m["batch"].([]interface{}); ok {
		p.Batch = c.rowsFrom(batch)
		return models.FromPayload(p)
	}

	cols, ok := m["columns"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("payload requires 'columns' or 'batch'")
	}
	p.Columns = make(map[string][]interface{}, len(cols))
	for name, v := range cols {
		arr, ok := v.([]interface{})
		if !ok {
			return nil, fmt.Errorf("column '%s' is %T, expected array", name, v)
		}
		p.Columns[name] = arr
	}

	if order, ok := m["order"].([]interface{}); ok {
		for _, name := range order {
			s, ok := name.(string)
			if !ok {
				return nil, fmt.Errorf("column order entry is %T, expected string", name)
			}
			p.Order = append(p.Order, s)
		}
	}
	return models.FromPayload(p)
}

func (c *TableCodec) rowsFrom(items []interface{}) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		row, ok := item.(map[string]interface{})
		if !ok {
			c.logger.Warn().Str("type", fmt.Sprintf("%T", item)).Msg("Skipping unknown array item type")
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// normalizeDecoded folds the loose decoder's unsigned integers into int64 and
// re-keys nested maps to string keys.
func normalizeDecoded(v interface{}) interface{} {
	switch x := v.(type) {
	case uint64:
		if x <= 1<<63-1 {
			return int64(x)
		}
		return x
	case float32:
		return float64(x)
	case []interface{}:
		for i := range x {
			x[i] = normalizeDecoded(x[i])
		}
		return x
	case map[string]interface{}:
		for k, e := range x {
			x[k] = normalizeDecoded(e)
		}
		return x
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = normalizeDecoded(e)
		}
		return out
	}
	return v
}

// Stats returns codec statistics
func (c *TableCodec) Stats() map[string]uint64 {
	return map[string]uint64{
		"total_decoded": c.totalDecoded.Load(),
		"total_errors":  c.totalErrors.Load(),
	}
}
