package fanout

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// TagID identifies a tag. Broker payloads carry numeric or string ids; both
// normalize to their decimal/string form so 7 and "7" are the same tag.
type TagID string

// Message is one tag-value update from the upstream broker
type Message struct {
	TagID       TagID  `json:"tag_id"`
	Value       string `json:"value"`
	Timestamp   string `json:"timestamp"`
	Unit        string `json:"unit,omitempty"`
	Description string `json:"description,omitempty"`
}

// DecodeMessage parses a broker payload of the form
// {"tag_id":..., "value":..., "timestamp":..., "unit":..., "description":...}.
// Only tag_id is required. value and timestamp are kept as strings whatever
// their JSON type.
func DecodeMessage(payload []byte) (Message, error) {
	if len(payload) == 0 {
		return Message{}, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if !gjson.ValidBytes(payload) {
		return Message{}, fmt.Errorf("%w: invalid JSON", ErrDecode)
	}

	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return Message{}, fmt.Errorf("%w: payload is not an object", ErrDecode)
	}

	fields := root.Map()
	tag, ok := fields["tag_id"]
	if !ok {
		return Message{}, fmt.Errorf("%w: missing tag_id", ErrDecode)
	}
	id, err := tagIDFrom(tag)
	if err != nil {
		return Message{}, err
	}

	return Message{
		TagID:       id,
		Value:       scalar(fields["value"]),
		Timestamp:   scalar(fields["timestamp"]),
		Unit:        scalar(fields["unit"]),
		Description: scalar(fields["description"]),
	}, nil
}

func tagIDFrom(r gjson.Result) (TagID, error) {
	switch r.Type {
	case gjson.Number:
		return TagID(r.Raw), nil
	case gjson.String:
		s := strings.TrimSpace(r.Str)
		if s == "" {
			return "", fmt.Errorf("%w: empty tag_id", ErrDecode)
		}
		return TagID(s), nil
	default:
		return "", fmt.Errorf("%w: tag_id must be a number or string, got %s", ErrDecode, r.Type)
	}
}

// scalar renders a field for the wire. Missing and null become "".
func scalar(r gjson.Result) string {
	switch r.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		return r.Str
	default:
		return r.Raw
	}
}

// TagIDs converts ids of any printable type into TagIDs
func TagIDs[T any](ids ...T) []TagID {
	out := make([]TagID, 0, len(ids))
	for _, id := range ids {
		out = append(out, TagID(fmt.Sprint(id)))
	}
	return out
}
