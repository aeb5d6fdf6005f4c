package requestcache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
)

// CanonicalKey derives the cache key for a request. Mapping keys are sorted at
// every depth and sequences keep their order, so two requests that differ only
// in field order share a key while any value or element-order change does not.
//
// body may be nil, raw JSON ([]byte or json.RawMessage), or any value
// encoding/json can marshal.
func CanonicalKey(method, url string, query map[string]any, body any) (string, error) {
	normQuery, err := normalize(query)
	if err != nil {
		return "", fmt.Errorf("normalize query: %w", err)
	}
	normBody, err := normalize(body)
	if err != nil {
		return "", fmt.Errorf("normalize body: %w", err)
	}
	if query == nil {
		normQuery = map[string]any{}
	}

	var buf bytes.Buffer
	signature := []any{strings.ToUpper(strings.TrimSpace(method)), url, normQuery, normBody}
	if err := writeCanonical(&buf, signature); err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

// normalize converts v into the generic JSON tree (map[string]any, []any,
// json.Number, string, bool, nil).
func normalize(v any) (any, error) {
	var raw []byte
	switch typed := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		raw = typed
	case []byte:
		raw = typed
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch typed := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(typed))
	case json.Number:
		buf.WriteString(canonicalNumber(typed))
	case string:
		encoded, err := marshalString(typed)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	case []any:
		buf.WriteByte('[')
		for i, elem := range typed {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for k := range typed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encoded, err := marshalString(k)
			if err != nil {
				return err
			}
			buf.Write(encoded)
			buf.WriteByte(':')
			if err := writeCanonical(buf, typed[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported canonical value %T", v)
	}
	return nil
}

// maxExponent bounds the exponents expanded exactly; larger ones keep their
// literal form.
const maxExponent = 1000

// canonicalNumber gives every distinct numeric value its own form and every
// spelling of one value the same form, so 1, 1.0 and 1e0 collapse to "1".
// Integer literals never pass through float64.
func canonicalNumber(n json.Number) string {
	lit := n.String()
	if !strings.ContainsAny(lit, ".eE") {
		return canonicalInteger(lit)
	}
	if exp, ok := literalExponent(lit); !ok || exp > maxExponent || exp < -maxExponent {
		return strings.ToLower(lit)
	}
	exact, ok := new(big.Rat).SetString(lit)
	if !ok {
		return lit
	}
	if exact.IsInt() {
		return exact.Num().String()
	}
	if f, err := strconv.ParseFloat(lit, 64); err == nil {
		short := strconv.FormatFloat(f, 'g', -1, 64)
		if back, ok := new(big.Rat).SetString(short); ok && back.Cmp(exact) == 0 {
			return short
		}
	}
	// Reduced fraction; cannot collide with the float or integer forms.
	return exact.RatString()
}

func canonicalInteger(lit string) string {
	neg := strings.HasPrefix(lit, "-")
	digits := strings.TrimLeft(strings.TrimLeft(lit, "+-"), "0")
	if digits == "" {
		return "0"
	}
	if neg {
		return "-" + digits
	}
	return digits
}

func literalExponent(lit string) (int, bool) {
	idx := strings.IndexAny(lit, "eE")
	if idx < 0 {
		return 0, true
	}
	exp, err := strconv.Atoi(lit[idx+1:])
	if err != nil {
		return 0, false
	}
	return exp, true
}

func marshalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
