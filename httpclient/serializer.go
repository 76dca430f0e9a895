package httpclient

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"sort"

	json "github.com/goccy/go-json"
)

// Serializer converts request and response bodies.
type Serializer interface {
	Serialize(v any) ([]byte, error)
	Deserialize(data []byte, v any) error
	// ContentType is the media type sent with serialized bodies.
	ContentType() string
	// Name labels the format in ErrParsing messages, e.g. "JSON".
	Name() string
}

// JSONSerializer encodes bodies with goccy/go-json.
type JSONSerializer struct{}

// Serialize implements Serializer.
func (JSONSerializer) Serialize(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Deserialize implements Serializer. An empty body leaves v untouched.
func (JSONSerializer) Deserialize(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// ContentType implements Serializer.
func (JSONSerializer) ContentType() string { return "application/json" }

// Name implements Serializer.
func (JSONSerializer) Name() string { return "JSON" }

// errFormTarget is returned when a form body cannot be decoded into the target.
var errFormTarget = errors.New("form bodies decode only into *url.Values or *map[string]string")

// FormSerializer encodes application/x-www-form-urlencoded bodies.
//
// It accepts url.Values, map[string]string, map[string]any and flat structs.
// Structs are flattened through their json tags.
type FormSerializer struct{}

// Serialize implements Serializer.
func (FormSerializer) Serialize(v any) ([]byte, error) {
	values, err := toFormValues(v)
	if err != nil {
		return nil, err
	}
	return []byte(values.Encode()), nil
}

// Deserialize implements Serializer.
func (FormSerializer) Deserialize(data []byte, v any) error {
	values, err := url.ParseQuery(string(data))
	if err != nil {
		return err
	}

	switch dst := v.(type) {
	case *url.Values:
		*dst = values
	case *map[string]string:
		m := make(map[string]string, len(values))
		for k := range values {
			m[k] = values.Get(k)
		}
		*dst = m
	default:
		return fmt.Errorf("%w, got %T", errFormTarget, v)
	}
	return nil
}

// ContentType implements Serializer.
func (FormSerializer) ContentType() string { return "application/x-www-form-urlencoded" }

// Name implements Serializer.
func (FormSerializer) Name() string { return "URL-encoded form" }

func toFormValues(v any) (url.Values, error) {
	switch src := v.(type) {
	case nil:
		return url.Values{}, nil
	case url.Values:
		return src, nil
	case map[string]string:
		values := make(url.Values, len(src))
		for k, val := range src {
			values.Set(k, val)
		}
		return values, nil
	case map[string][]string:
		return url.Values(src), nil
	case map[string]any:
		return flatten(src), nil
	}

	if rv := reflect.Indirect(reflect.ValueOf(v)); rv.Kind() != reflect.Struct && rv.Kind() != reflect.Map {
		return nil, fmt.Errorf("cannot form-encode %T", v)
	}

	// Round-trip through JSON so struct tags decide the field names.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("cannot form-encode %T: %w", v, err)
	}
	return flatten(m), nil
}

// flatten skips nil values and renders slices as repeated keys.
func flatten(m map[string]any) url.Values {
	values := make(url.Values, len(m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch val := m[k].(type) {
		case nil:
		case []any:
			for _, item := range val {
				values.Add(k, fmt.Sprint(item))
			}
		case []string:
			for _, item := range val {
				values.Add(k, item)
			}
		default:
			values.Set(k, fmt.Sprint(val))
		}
	}
	return values
}
