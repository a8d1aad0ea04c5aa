package models

// TablePayload is the MessagePack envelope for a Table.
// Either Columns (with Order) or Batch is set.
type TablePayload struct {
	// Columnar format
	Order   []string                 `msgpack:"order,omitempty"`
	Columns map[string][]interface{} `msgpack:"columns,omitempty"`

	// Row format
	Batch []map[string]interface{} `msgpack:"batch,omitempty"`
}

// Payload returns the columnar envelope for t
func (t *Table) Payload() TablePayload {
	p := TablePayload{
		Order:   t.Columns(),
		Columns: make(map[string][]interface{}, t.Width()),
	}
	for _, name := range p.Order {
		p.Columns[name], _ = t.Column(name)
	}
	return p
}

// FromPayload rebuilds a table from an envelope, honouring Order when present
func FromPayload(p TablePayload) (*Table, error) {
	if len(p.Batch) > 0 {
		return FromRows(p.Batch)
	}
	if len(p.Order) == 0 {
		return FromColumnMap(p.Columns)
	}
	if len(p.Order) != len(p.Columns) {
		return nil, malformed("order lists %d columns, payload has %d", len(p.Order), len(p.Columns))
	}
	cols := make(Columns, 0, len(p.Order))
	for _, name := range p.Order {
		values, ok := p.Columns[name]
		if !ok {
			return nil, malformed("ordered column %q missing from payload", name)
		}
		cols = append(cols, Column{Name: name, Values: values})
	}
	return FromColumns(cols)
}
