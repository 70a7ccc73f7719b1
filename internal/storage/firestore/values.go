package firestore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// value is a Firestore typed value as it arrives on the wire: a single key
// naming the type, holding the payload.
type value map[string]json.RawMessage

type document struct {
	Name       string           `json:"name,omitempty"`
	Fields     map[string]value `json:"fields,omitempty"`
	UpdateTime string           `json:"updateTime,omitempty"`
}

// encodeFields turns a JSON object into Firestore document fields.
func encodeFields(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	fields := make(map[string]any, len(obj))
	for k, v := range obj {
		enc, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		fields[k] = enc
	}
	return fields, nil
}

func encodeValue(v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return map[string]any{"nullValue": nil}, nil
	case bool:
		return map[string]any{"booleanValue": t}, nil
	case string:
		return map[string]any{"stringValue": t}, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return map[string]any{"integerValue": strconv.FormatInt(i, 10)}, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("number %q: %w", t, err)
		}
		return map[string]any{"doubleValue": f}, nil
	case []any:
		values := make([]map[string]any, 0, len(t))
		for _, elem := range t {
			enc, err := encodeValue(elem)
			if err != nil {
				return nil, err
			}
			values = append(values, enc)
		}
		return map[string]any{"arrayValue": map[string]any{"values": values}}, nil
	case map[string]any:
		fields := make(map[string]any, len(t))
		for k, elem := range t {
			enc, err := encodeValue(elem)
			if err != nil {
				return nil, err
			}
			fields[k] = enc
		}
		return map[string]any{"mapValue": map[string]any{"fields": fields}}, nil
	}
	return nil, fmt.Errorf("unsupported JSON value %T", v)
}

// decodeFields turns Firestore document fields back into a JSON object.
func decodeFields(fields map[string]value) ([]byte, error) {
	obj, err := decodeMap(fields)
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

func decodeMap(fields map[string]value) (map[string]any, error) {
	obj := make(map[string]any, len(fields))
	for k, v := range fields {
		dec, err := decodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		obj[k] = dec
	}
	return obj, nil
}

func decodeValue(v value) (any, error) {
	for kind, raw := range v {
		switch kind {
		case "nullValue":
			return nil, nil
		case "booleanValue":
			var b bool
			err := json.Unmarshal(raw, &b)
			return b, err
		case "integerValue":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				var n json.Number
				if err := json.Unmarshal(raw, &n); err != nil {
					return nil, err
				}
				return n, nil
			}
			return json.Number(s), nil
		case "doubleValue":
			var f float64
			err := json.Unmarshal(raw, &f)
			return f, err
		case "stringValue", "timestampValue", "referenceValue":
			var s string
			err := json.Unmarshal(raw, &s)
			return s, err
		case "arrayValue":
			var arr struct {
				Values []value `json:"values"`
			}
			if err := json.Unmarshal(raw, &arr); err != nil {
				return nil, err
			}
			out := make([]any, 0, len(arr.Values))
			for _, elem := range arr.Values {
				dec, err := decodeValue(elem)
				if err != nil {
					return nil, err
				}
				out = append(out, dec)
			}
			return out, nil
		case "mapValue":
			var m struct {
				Fields map[string]value `json:"fields"`
			}
			if err := json.Unmarshal(raw, &m); err != nil {
				return nil, err
			}
			return decodeMap(m.Fields)
		default:
			return nil, fmt.Errorf("unsupported value type %q", kind)
		}
	}
	return nil, fmt.Errorf("empty value")
}
