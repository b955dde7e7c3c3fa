package event

import "encoding/json"

// Payload is the event payload as a sum of two shapes: a recognized
// structured object (flat key/value attributes) or an unparsable raw string.
// Downstream aggregation branches on Structured instead of probing fields.
type Payload struct {
	Raw        string
	Attrs      map[string]string
	Structured bool
}

// Well-known attribute names the aggregator understands.
const (
	AttrUserID    = "userId"
	AttrSessionID = "sessionId"
	AttrCountry   = "country"
	AttrDevice    = "device"
	AttrReferrer  = "referrer"
)

// ParsePayload parses a payload string into its structured form.
// A parse failure degrades to an empty attribute set; the raw string is
// always preserved so persistence keeps the payload byte-for-byte.
func ParsePayload(raw string) Payload {
	p := Payload{Raw: raw}
	if raw == "" {
		return p
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return p
	}

	attrs := make(map[string]string, len(obj))
	for k, v := range obj {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			attrs[k] = s
			continue
		}
		// Non-string scalars keep their JSON text form.
		attrs[k] = string(v)
	}

	p.Attrs = attrs
	p.Structured = true
	return p
}

// Attr returns a named attribute, or fallback when the payload is
// unstructured or the attribute is absent/empty.
func (p Payload) Attr(name, fallback string) string {
	if !p.Structured {
		return fallback
	}
	if v, ok := p.Attrs[name]; ok && v != "" {
		return v
	}
	return fallback
}

// MarshalJSON emits the original raw payload when unstructured, and the
// attribute object otherwise, so round-trips preserve what the client sent.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.Structured {
		return []byte(p.Raw), nil
	}
	return json.Marshal(p.Raw)
}
