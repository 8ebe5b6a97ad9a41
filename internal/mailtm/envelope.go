package mailtm

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// envelopeKind identifies which collection shape a list endpoint returned.
type envelopeKind int

const (
	envelopeEmpty  envelopeKind = iota // empty body or JSON null
	envelopeHydra                      // {"hydra:member": [...]}
	envelopeMember                     // {"member": [...]}
	envelopeArray                      // [...]
	envelopeObject                     // a single bare item
)

func (k envelopeKind) String() string {
	switch k {
	case envelopeEmpty:
		return "empty"
	case envelopeHydra:
		return "hydra"
	case envelopeMember:
		return "member"
	case envelopeArray:
		return "array"
	case envelopeObject:
		return "object"
	default:
		return fmt.Sprintf("envelope(%d)", int(k))
	}
}

// Wrapper keys of the JSON-LD collection shapes Mail.tm returns for
// Accept: application/ld+json (and older deployments by default).
const (
	hydraMemberKey = "hydra:member"
	memberKey      = "member"
)

// decodeCollection classifies data and decodes its items.
func decodeCollection[T any](data []byte) ([]T, envelopeKind, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, envelopeEmpty, nil
	}

	switch trimmed[0] {
	case '[':
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, envelopeArray, fmt.Errorf("decode array: %w", err)
		}
		return items, envelopeArray, nil

	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, envelopeObject, fmt.Errorf("decode object: %w", err)
		}
		if raw, ok := fields[hydraMemberKey]; ok {
			items, err := decodeItems[T](raw)
			return items, envelopeHydra, err
		}
		if raw, ok := fields[memberKey]; ok {
			items, err := decodeItems[T](raw)
			return items, envelopeMember, err
		}
		var item T
		if err := json.Unmarshal(trimmed, &item); err != nil {
			return nil, envelopeObject, fmt.Errorf("decode item: %w", err)
		}
		return []T{item}, envelopeObject, nil

	default:
		return nil, envelopeEmpty, fmt.Errorf("unexpected collection payload starting with %q", trimmed[0])
	}
}

func decodeItems[T any](raw json.RawMessage) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode members: %w", err)
	}
	return items, nil
}
