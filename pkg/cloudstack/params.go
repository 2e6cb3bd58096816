package cloudstack

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Params holds the arguments of one API command. Values may be strings,
// numbers, booleans, byte slices, lists of those, or maps (and lists of
// maps) for repeated structured arguments such as details or tags.
type Params map[string]any

// Parameters injected by the client. Caller arguments may not collide with
// these, not even by casing: the server treats parameter names
// case-insensitively once signed.
var reservedParams = map[string]struct{}{
	"command":          {},
	"response":         {},
	"apikey":           {},
	"signature":        {},
	"signatureversion": {},
	"expires":          {},
}

// canonicalize flattens command arguments into the wire parameter mapping.
//
// Nil values, empty lists and empty maps are dropped. Booleans become
// "true"/"false", lists are comma-joined, and maps (or lists of maps)
// expand to key[index].subkey entries. The command name and the fixed
// response=json parameter are always injected.
func canonicalize(command string, params Params) (map[string]string, error) {
	out := make(map[string]string, len(params)+2)
	seen := make(map[string]string, len(params)+2)

	add := func(key, value string) error {
		lower := strings.ToLower(key)
		if _, ok := reservedParams[lower]; ok {
			return fmt.Errorf("cloudstack: parameter %q is reserved", key)
		}
		if prev, ok := seen[lower]; ok {
			return fmt.Errorf("cloudstack: duplicate parameter %q (already given as %q)", key, prev)
		}
		seen[lower] = key
		out[key] = value
		return nil
	}

	for key, value := range params {
		if value == nil {
			continue
		}
		switch v := value.(type) {
		case map[string]any:
			if len(v) == 0 {
				continue
			}
			if err := addIndexed(add, key, []map[string]any{v}); err != nil {
				return nil, err
			}
		case []map[string]any:
			if len(v) == 0 {
				continue
			}
			if err := addIndexed(add, key, v); err != nil {
				return nil, err
			}
		case []string:
			if len(v) == 0 {
				continue
			}
			if err := add(key, strings.Join(v, ",")); err != nil {
				return nil, err
			}
		case []any:
			if len(v) == 0 {
				continue
			}
			if m, ok := v[0].(map[string]any); ok {
				maps := make([]map[string]any, 0, len(v))
				maps = append(maps, m)
				for _, e := range v[1:] {
					em, ok := e.(map[string]any)
					if !ok {
						return nil, fmt.Errorf("cloudstack: parameter %q mixes maps and scalars", key)
					}
					maps = append(maps, em)
				}
				if err := addIndexed(add, key, maps); err != nil {
					return nil, err
				}
				continue
			}
			elems := make([]string, len(v))
			for i, e := range v {
				s, err := scalarString(e)
				if err != nil {
					return nil, fmt.Errorf("cloudstack: parameter %q: %w", key, err)
				}
				elems[i] = s
			}
			if err := add(key, strings.Join(elems, ",")); err != nil {
				return nil, err
			}
		default:
			s, err := scalarString(value)
			if err != nil {
				return nil, fmt.Errorf("cloudstack: parameter %q: %w", key, err)
			}
			if err := add(key, s); err != nil {
				return nil, err
			}
		}
	}

	out["command"] = command
	out["response"] = "json"
	return out, nil
}

func addIndexed(add func(key, value string) error, key string, maps []map[string]any) error {
	for i, m := range maps {
		for sub, v := range m {
			s, err := scalarString(v)
			if err != nil {
				return fmt.Errorf("cloudstack: parameter %q: %w", key, err)
			}
			if err := add(fmt.Sprintf("%s[%d].%s", key, i, sub), s); err != nil {
				return err
			}
		}
	}
	return nil
}

func scalarString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int8, int16, int32, int64:
		return fmt.Sprintf("%d", t), nil
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", t), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case json.Number:
		return t.String(), nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// csEncode percent-encodes a parameter value the way the server does before
// verifying signatures: java.net.URLEncoder.encode with '+' replaced by
// %20, keeping '*' and the unreserved characters literal.
func csEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch >= 'A' && ch <= 'Z' || ch >= 'a' && ch <= 'z' || ch >= '0' && ch <= '9' {
			b.WriteByte(ch)
			continue
		}
		switch ch {
		case '-', '.', '_', '~', '*':
			b.WriteByte(ch)
		default:
			b.WriteByte('%')
			b.WriteByte(upperhex[ch>>4])
			b.WriteByte(upperhex[ch&0xf])
		}
	}
	return b.String()
}

const upperhex = "0123456789ABCDEF"
