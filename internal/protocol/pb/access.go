package pb

// last returns the final occurrence of a possibly repeated field.
func (m Message) last(tag uint32) any {
	v := m[tag]
	if l, ok := v.([]any); ok {
		if len(l) == 0 {
			return nil
		}
		return l[len(l)-1]
	}
	return v
}

// Uint returns a varint field as uint64.
func (m Message) Uint(tag uint32) uint64 {
	switch x := m.last(tag).(type) {
	case uint64:
		return x
	case int:
		return uint64(x)
	case int64:
		return uint64(x)
	case uint32:
		return uint64(x)
	}
	return 0
}

// Int returns a varint field reinterpreted as signed.
func (m Message) Int(tag uint32) int64 {
	return int64(m.Uint(tag))
}

// Bytes returns the raw bytes of a length-delimited field.
func (m Message) Bytes(tag uint32) []byte {
	switch x := m.last(tag).(type) {
	case *Bytes:
		return x.Raw()
	case []byte:
		return x
	case string:
		return []byte(x)
	}
	return nil
}

// String returns a length-delimited field as text.
func (m Message) String(tag uint32) string {
	return string(m.Bytes(tag))
}

// Message returns the nested view of a length-delimited field.
func (m Message) Message(tag uint32) Message {
	switch x := m.last(tag).(type) {
	case *Bytes:
		nested, _ := x.Message()
		return nested
	case Message:
		return x
	}
	return nil
}

// Repeated returns every occurrence of tag in wire order.
func (m Message) Repeated(tag uint32) []any {
	switch x := m[tag].(type) {
	case nil:
		return nil
	case []any:
		return x
	default:
		return []any{x}
	}
}

// Has reports whether tag is present.
func (m Message) Has(tag uint32) bool {
	_, ok := m[tag]
	return ok
}
