package frame

import "strings"

const (
	HdrAcceptVersion = "accept-version"
	HdrAck           = "ack"
	HdrContentLength = "content-length"
	HdrContentType   = "content-type"
	HdrDestination   = "destination"
	HdrHeartBeat     = "heart-beat"
	HdrHost          = "host"
	HdrID            = "id"
	HdrLogin         = "login"
	HdrMessage       = "message"
	HdrMessageID     = "message-id"
	HdrPasscode      = "passcode"
	HdrReceipt       = "receipt"
	HdrReceiptID     = "receipt-id"
	HdrServer        = "server"
	HdrSession       = "session"
	HdrSubscription  = "subscription"
	HdrTransaction   = "transaction"
	HdrVersion       = "version"
	HdrGroup         = "group"
)

// Field is a single header line.
type Field struct {
	Key   string
	Value string
}

// Header is an ordered list of header fields. Keys are case-sensitive.
// Lookups return the first occurrence of a key; later duplicates are
// kept so that encoding reproduces what was received.
//
// The zero value is an empty header. Header values are never mutated in
// place: With and Without return new headers.
type Header struct {
	fields []Field
}

// NewHeader builds a header from alternating key/value strings.
// A trailing key without a value is ignored.
func NewHeader(kv ...string) Header {
	fields := make([]Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, Field{Key: kv[i], Value: kv[i+1]})
	}
	return Header{fields: fields}
}

// HeaderFromFields copies fields into a new Header.
func HeaderFromFields(fields []Field) Header {
	return Header{fields: append([]Field(nil), fields...)}
}

// Get returns the value of the first field with the given key.
func (h Header) Get(key string) (string, bool) {
	for _, f := range h.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Value is Get without the presence flag.
func (h Header) Value(key string) string {
	v, _ := h.Get(key)
	return v
}

// Has reports whether key is present.
func (h Header) Has(key string) bool {
	_, ok := h.Get(key)
	return ok
}

// Len returns the number of fields, duplicates included.
func (h Header) Len() int { return len(h.fields) }

// Field returns the i-th field.
func (h Header) Field(i int) Field { return h.fields[i] }

// Fields returns a copy of all fields in order.
func (h Header) Fields() []Field {
	return append([]Field(nil), h.fields...)
}

// With returns a copy of h with key set to value. An existing first
// occurrence is replaced, otherwise the field is appended.
func (h Header) With(key, value string) Header {
	out := make([]Field, 0, len(h.fields)+1)
	replaced := false
	for _, f := range h.fields {
		if f.Key == key && !replaced {
			out = append(out, Field{Key: key, Value: value})
			replaced = true
			continue
		}
		out = append(out, f)
	}
	if !replaced {
		out = append(out, Field{Key: key, Value: value})
	}
	return Header{fields: out}
}

// Without returns a copy of h with every occurrence of the given keys removed.
func (h Header) Without(keys ...string) Header {
	out := make([]Field, 0, len(h.fields))
outer:
	for _, f := range h.fields {
		for _, k := range keys {
			if f.Key == k {
				continue outer
			}
		}
		out = append(out, f)
	}
	return Header{fields: out}
}

// Unique returns the fields with duplicates resolved, first occurrence winning.
func (h Header) Unique() []Field {
	seen := make(map[string]struct{}, len(h.fields))
	out := make([]Field, 0, len(h.fields))
	for _, f := range h.fields {
		if _, ok := seen[f.Key]; ok {
			continue
		}
		seen[f.Key] = struct{}{}
		out = append(out, f)
	}
	return out
}

func (h Header) String() string {
	var sb strings.Builder
	for i, f := range h.fields {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(f.Key)
		sb.WriteByte(':')
		sb.WriteString(f.Value)
	}
	return sb.String()
}
