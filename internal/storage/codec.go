package storage

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

var ErrCorruptedValue = errors.New("stored value could not be decoded")

func bytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}

// Encode serializes a payload into its persisted form.
func Encode(v map[string]interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "could not marshal value %+v", v)
	}

	return b, nil
}

// Decode turns a persisted value into a fresh payload. Integral numbers become
// int64, everything else follows encoding/json.
func Decode(b []byte) (map[string]interface{}, error) {
	d := json.NewDecoder(bytesReader(b))
	d.UseNumber()

	v := make(map[string]interface{})
	if err := d.Decode(&v); err != nil {
		return nil, errors.Wrapf(ErrCorruptedValue, "%s: %v", string(b), err)
	}

	for k := range v {
		v[k] = normalize(v[k])
	}

	return v, nil
}

func normalize(v interface{}) interface{} {
	switch typed := v.(type) {
	case json.Number:
		if n, err := typed.Int64(); err == nil {
			return n
		}
		if f, err := typed.Float64(); err == nil {
			return f
		}
		return typed.String()
	case map[string]interface{}:
		for k := range typed {
			typed[k] = normalize(typed[k])
		}
		return typed
	case []interface{}:
		for i := range typed {
			typed[i] = normalize(typed[i])
		}
		return typed
	}

	return v
}
