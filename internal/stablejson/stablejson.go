// Package stablejson renders a canonical, bit-identical JSON text for the
// argument maps the compiler builds: object keys sorted lexicographically,
// arrays preserved in order, and null preserved (spec §3, §9).
package stablejson

import (
	"sort"
	"strconv"
	"strings"
)

// Stringify renders v as stable JSON. It panics on values it doesn't know
// how to encode (anything outside the scalar/map/slice shapes that
// buildArgs ever produces), the same way a malformed-input assumption
// would panic deep in json.Marshal.
func Stringify(v interface{}) string {
	var b strings.Builder
	write(&b, v)
	return b.String()
}

func write(b *strings.Builder, v interface{}) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case string:
		writeString(b, val)
	case bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case float64:
		b.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case float32:
		b.WriteString(strconv.FormatFloat(float64(val), 'g', -1, 32))
	case int:
		b.WriteString(strconv.Itoa(val))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case map[string]interface{}:
		writeObject(b, val)
	case []interface{}:
		writeArray(b, val)
	default:
		panic("stablejson: unsupported value type")
	}
}

func writeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}

func writeObject(b *strings.Builder, m map[string]interface{}) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		writeString(b, k)
		b.WriteByte(':')
		write(b, m[k])
	}
	b.WriteByte('}')
}

func writeArray(b *strings.Builder, items []interface{}) {
	b.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			b.WriteByte(',')
		}
		write(b, item)
	}
	b.WriteByte(']')
}
