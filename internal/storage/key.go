package storage

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

var ErrInvalidKey = errors.New("invalid key")

type keyKind int8

const (
	intKey keyKind = iota
	strKey
)

// Key is a record identity. Integer keys sort before string keys.
type Key struct {
	kind keyKind
	n    int64
	s    string
}

func IntKey(n int64) Key {
	return Key{kind: intKey, n: n}
}

func StringKey(s string) Key {
	return Key{kind: strKey, s: s}
}

// KeyOf converts a payload value into a Key.
func KeyOf(v interface{}) (Key, error) {
	switch typed := v.(type) {
	case Key:
		return typed, nil
	case int:
		return IntKey(int64(typed)), nil
	case int8:
		return IntKey(int64(typed)), nil
	case int16:
		return IntKey(int64(typed)), nil
	case int32:
		return IntKey(int64(typed)), nil
	case int64:
		return IntKey(typed), nil
	case uint:
		return IntKey(int64(typed)), nil
	case uint8:
		return IntKey(int64(typed)), nil
	case uint16:
		return IntKey(int64(typed)), nil
	case uint32:
		return IntKey(int64(typed)), nil
	case uint64:
		if typed > math.MaxInt64 {
			return Key{}, errors.Wrapf(ErrInvalidKey, "%d overflows int64", typed)
		}
		return IntKey(int64(typed)), nil
	case float32:
		return floatKey(float64(typed))
	case float64:
		return floatKey(typed)
	case json.Number:
		if n, err := typed.Int64(); err == nil {
			return IntKey(n), nil
		}
		f, err := typed.Float64()
		if err != nil {
			return Key{}, errors.Wrapf(ErrInvalidKey, "%s is not a number", typed.String())
		}
		return floatKey(f)
	case string:
		return StringKey(typed), nil
	case nil:
		return Key{}, errors.Wrap(ErrInvalidKey, "nil key")
	}

	return Key{}, errors.Wrapf(ErrInvalidKey, "unsupported key type %T", v)
}

func floatKey(f float64) (Key, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return Key{}, errors.Wrapf(ErrInvalidKey, "%v is not an integral number", f)
	}

	return IntKey(int64(f)), nil
}

// IsZero reports whether k is the integer zero or the empty string.
func (k Key) IsZero() bool {
	if k.kind == strKey {
		return k.s == ""
	}
	return k.n == 0
}

func (k Key) IsInt() bool {
	return k.kind == intKey
}

func (k Key) Int() int64 {
	return k.n
}

// Value returns the key as it appears in a payload: int64 or string.
func (k Key) Value() interface{} {
	if k.kind == strKey {
		return k.s
	}
	return k.n
}

func (k Key) String() string {
	if k.kind == strKey {
		return k.s
	}
	return strconv.FormatInt(k.n, 10)
}

// Typed is a string form that keeps integer and string keys apart.
func (k Key) Typed() string {
	if k.kind == strKey {
		return "s:" + k.s
	}
	return "n:" + strconv.FormatInt(k.n, 10)
}

func (k Key) Equal(other Key) bool {
	return k == other
}

func (k Key) Less(other Key) bool {
	if k.kind != other.kind {
		return k.kind < other.kind
	}

	if k.kind == strKey {
		return k.s < other.s
	}

	return k.n < other.n
}

func (k Key) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.Value())
}

func (k *Key) UnmarshalJSON(b []byte) error {
	d := json.NewDecoder(bytesReader(b))
	d.UseNumber()

	var v interface{}
	if err := d.Decode(&v); err != nil {
		return errors.Wrapf(ErrInvalidKey, "could not decode %s", string(b))
	}

	parsed, err := KeyOf(v)
	if err != nil {
		return err
	}

	*k = parsed
	return nil
}
