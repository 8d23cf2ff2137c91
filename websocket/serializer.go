package websocket

import "strings"

// SerializeResponse assembles a JSON object from a map of already-serialized
// fragments. Values must be valid JSON; they are written verbatim, never
// quoted or re-escaped. A snapshot field rendered once this way serves every
// connected client.
func SerializeResponse(fields map[string]string) string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	for key, value := range fields {
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteByte('"')
		b.WriteString(key)
		b.WriteString(`":`)
		b.WriteString(value)
	}
	b.WriteByte('}')
	return b.String()
}
