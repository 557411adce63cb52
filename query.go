package lemonproxy

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

type Order string

const (
	Ascend  Order = "ASC"
	Descend Order = "DESC"
)

// Sorter orders records by Property, or by Compare when it is set.
type Sorter struct {
	Property string
	Order    Order
	Compare  func(a, b *Record) int
}

func (s Sorter) compare(a, b *Record) int {
	var c int
	if s.Compare != nil {
		c = s.Compare(a, b)
	} else {
		c = compareValues(a.Get(s.Property), b.Get(s.Property))
	}

	if s.Order == Descend {
		return -c
	}
	return c
}

// Filter approves a record.
type Filter func(r *Record) bool

// Eq approves records whose property equals v.
func Eq(property string, v interface{}) Filter {
	return func(r *Record) bool {
		return compareValues(r.Get(property), v) == 0
	}
}

// Contains approves records whose string property contains sub, ignoring case.
func Contains(property, sub string) Filter {
	sub = strings.ToLower(sub)
	return func(r *Record) bool {
		s, ok := r.Get(property).(string)
		return ok && strings.Contains(strings.ToLower(s), sub)
	}
}

type queryOptions struct {
	op *Operation
}

// Q starts building a read operation.
func Q() *queryOptions {
	return &queryOptions{op: &Operation{}}
}

func (q *queryOptions) Sort(property string, o Order) *queryOptions {
	q.op.Sorters = append(q.op.Sorters, Sorter{Property: property, Order: o})
	return q
}

func (q *queryOptions) SortBy(cmp func(a, b *Record) int) *queryOptions {
	q.op.Sorters = append(q.op.Sorters, Sorter{Compare: cmp})
	return q
}

func (q *queryOptions) Filter(f Filter) *queryOptions {
	q.op.Filters = append(q.op.Filters, f)
	return q
}

func (q *queryOptions) Page(start, limit int) *queryOptions {
	q.op.Start = start
	q.op.Limit = limit
	return q
}

func (q *queryOptions) ID(id interface{}) *queryOptions {
	q.op.ID = id
	return q
}

func (q *queryOptions) Creator(fn func(data M) *Record) *queryOptions {
	q.op.RecordCreator = fn
	return q
}

func (q *queryOptions) Operation() *Operation {
	return q.op
}

// sortRecords is a stable multi-key sort over the whole set.
func sortRecords(records []*Record, sorters []Sorter) {
	if len(sorters) == 0 {
		return
	}

	sort.SliceStable(records, func(i, j int) bool {
		for _, s := range sorters {
			if c := s.compare(records[i], records[j]); c != 0 {
				return c < 0
			}
		}
		return false
	})
}

// page scans records from start, keeping those every filter approves, until
// limit records are kept. Every filter runs for every record.
func page(records []*Record, filters []Filter, start, limit int) []*Record {
	if start < 0 {
		start = 0
	}

	result := make([]*Record, 0)
	valid := 0
	for i := start; i < len(records); i++ {
		keep := true
		for _, f := range filters {
			keep = f(records[i]) && keep
		}

		if keep {
			result = append(result, records[i])
			valid++
		}

		if limit > 0 && valid == limit {
			break
		}
	}

	return result
}

type valueClass int

const (
	nilClass valueClass = iota
	boolClass
	numberClass
	stringClass
	otherClass
)

func classify(v interface{}) (valueClass, float64) {
	switch typed := v.(type) {
	case nil:
		return nilClass, 0
	case bool:
		if typed {
			return boolClass, 1
		}
		return boolClass, 0
	case int:
		return numberClass, float64(typed)
	case int8:
		return numberClass, float64(typed)
	case int16:
		return numberClass, float64(typed)
	case int32:
		return numberClass, float64(typed)
	case int64:
		return numberClass, float64(typed)
	case uint:
		return numberClass, float64(typed)
	case uint8:
		return numberClass, float64(typed)
	case uint16:
		return numberClass, float64(typed)
	case uint32:
		return numberClass, float64(typed)
	case uint64:
		return numberClass, float64(typed)
	case float32:
		return numberClass, float64(typed)
	case float64:
		return numberClass, typed
	case string:
		return stringClass, 0
	}

	return otherClass, 0
}

// integerOf reports v as int64 when it is an integer kind that fits.
func integerOf(v interface{}) (int64, bool) {
	switch typed := v.(type) {
	case int:
		return int64(typed), true
	case int8:
		return int64(typed), true
	case int16:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case int64:
		return typed, true
	case uint:
		if uint64(typed) > math.MaxInt64 {
			return 0, false
		}
		return int64(typed), true
	case uint8:
		return int64(typed), true
	case uint16:
		return int64(typed), true
	case uint32:
		return int64(typed), true
	case uint64:
		if typed > math.MaxInt64 {
			return 0, false
		}
		return int64(typed), true
	}

	return 0, false
}

// compareValues orders nil < bool < number < string < anything else.
func compareValues(a, b interface{}) int {
	ca, na := classify(a)
	cb, nb := classify(b)

	if ca != cb {
		if ca < cb {
			return -1
		}
		return 1
	}

	switch ca {
	case nilClass:
		return 0
	case numberClass:
		if ia, ok := integerOf(a); ok {
			if ib, ok := integerOf(b); ok {
				switch {
				case ia < ib:
					return -1
				case ia > ib:
					return 1
				}
				return 0
			}
		}
		fallthrough
	case boolClass:
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	case stringClass:
		return strings.Compare(a.(string), b.(string))
	}

	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
