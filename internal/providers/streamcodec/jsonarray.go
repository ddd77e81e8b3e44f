package streamcodec

// JSONArrayDecoder decodes streams where bytes arrive as fragments of one
// large JSON array of objects (Google's streamGenerateContent wire format).
// The decoder accumulates a buffer and repeatedly isolates the first
// syntactically complete object with a brace-depth scan that treats braces
// inside string literals, including escaped quotes, as non-structural.
type JSONArrayDecoder struct {
	buf []byte
}

// NewJSONArrayDecoder returns a decoder for incrementally-flushed JSON arrays.
func NewJSONArrayDecoder() *JSONArrayDecoder {
	return &JSONArrayDecoder{}
}

// Feed appends raw bytes and returns every complete object now available.
func (d *JSONArrayDecoder) Feed(p []byte) [][]byte {
	d.buf = append(d.buf, p...)

	var events [][]byte
	for {
		obj, rest, ok := scanFirstObject(d.buf)
		if !ok {
			break
		}
		events = append(events, obj)
		d.buf = rest
	}
	return events
}

// Finish gives leftover buffer content one final complete-object attempt.
func (d *JSONArrayDecoder) Finish() [][]byte {
	if len(d.buf) == 0 {
		return nil
	}
	obj, _, ok := scanFirstObject(d.buf)
	d.buf = nil
	if !ok {
		return nil
	}
	return [][]byte{obj}
}

// scanFirstObject strips any leading array punctuation (brackets, commas,
// whitespace), then scans for the first complete top-level JSON object.
// Returns a copy of the object, the remaining buffer, and whether a
// complete object was found.
func scanFirstObject(buf []byte) (obj []byte, rest []byte, ok bool) {
	start := -1
	for i, b := range buf {
		switch b {
		case '{':
			start = i
		case ' ', '\t', '\r', '\n', '[', ']', ',':
			continue
		default:
			// Not object-start and not array punctuation: unparseable
			// leading garbage, skip a byte and keep looking.
			continue
		}
		break
	}
	if start < 0 {
		return nil, buf, false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(buf); i++ {
		b := buf[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				obj = append([]byte(nil), buf[start:i+1]...)
				rest = append([]byte(nil), buf[i+1:]...)
				return obj, rest, true
			}
		}
	}
	return nil, buf, false
}
