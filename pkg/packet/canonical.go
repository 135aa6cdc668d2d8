package packet

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Canonicalize produces the canonical serialization of a decoded JSON value:
// object keys in lexicographic order, compact form, UTF-8, null members and
// empty objects dropped. Two logically-equivalent documents canonicalize to
// the same bytes regardless of key order in the submission.
func Canonicalize(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CanonicalizeRaw decodes raw JSON and canonicalizes it. Numbers are decoded
// as json.Number so integer precision survives the round trip.
func CanonicalizeRaw(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode for canonicalization: %w", err)
	}
	return Canonicalize(v)
}

// ContentHash computes the packet id: the 64-hex-char SHA-256 of the
// canonical serialization of the content subtree.
func ContentHash(content any) (string, error) {
	canonical, err := Canonicalize(content)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ContentHashRaw computes the packet id from the raw JSON bytes of the
// content subtree.
func ContentHashRaw(raw []byte) (string, error) {
	canonical, err := CanonicalizeRaw(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// HashContent computes the packet id for a typed Content value. Used by
// producers inside Nancy (the legacy processor) and by tests.
func HashContent(c *Content) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal content: %w", err)
	}
	return ContentHashRaw(data)
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		// Null members are dropped at the object level; a bare null
		// serializes explicitly.
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		enc, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(enc)
	case json.Number:
		buf.WriteString(canonicalNumber(val))
	case float64:
		buf.WriteString(canonicalNumber(json.Number(strconv.FormatFloat(val, 'g', -1, 64))))
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k, member := range val {
			if member == nil {
				continue // absent and null are the same thing on the wire
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			enc, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(enc)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonicalize: unsupported type %T", v)
	}
	return nil
}

// canonicalNumber normalizes numeric representation so that 1, 1.0 and 1e0
// canonicalize identically. Integers print without exponent or fraction;
// everything else uses the shortest float64 form.
func canonicalNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	f, err := n.Float64()
	if err != nil {
		return n.String()
	}
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
