// Package tree implements the PartialTree value model: a tagged union of
// JSON value kinds that preserves object-key insertion order. An
// insertion-ordered mapping is used in place of a bare Go map because the
// differ and the content hasher both depend on it (see spec §3, §9).
package tree

import (
	"encoding/json"
	"sort"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a JSON value node. Every concrete variant in this package
// implements it. Completeness distinguishes a node that is "observed and
// closed" from one that is "observed so far but still open to extension"
// (spec §3, PartialTree).
type Value interface {
	Kind() Kind
	// Complete reports whether this node is closed to further extension.
	Complete() bool
}

// Null is the JSON null value.
type Null struct{ complete bool }

func NewNull(complete bool) Null  { return Null{complete: complete} }
func (Null) Kind() Kind           { return KindNull }
func (n Null) Complete() bool     { return n.complete }

// Bool is a JSON boolean.
type Bool struct {
	V        bool
	complete bool
}

func NewBool(v, complete bool) Bool { return Bool{V: v, complete: complete} }
func (Bool) Kind() Kind            { return KindBool }
func (b Bool) Complete() bool      { return b.complete }

// Number preserves the original source representation (spec §3) so that
// round-tripping never loses precision or formatting such as trailing
// zeros or exponent notation.
type Number struct {
	Raw      string
	complete bool
}

func NewNumber(raw string, complete bool) Number { return Number{Raw: raw, complete: complete} }
func (Number) Kind() Kind                        { return KindNumber }
func (n Number) Complete() bool                  { return n.complete }

// Float64 best-effort parses the raw representation. Callers that need
// exact source text should use Raw directly.
func (n Number) Float64() (float64, error) {
	return strconv.ParseFloat(n.Raw, 64)
}

// String is a JSON string value.
type String struct {
	V        string
	complete bool
}

func NewString(v string, complete bool) String { return String{V: v, complete: complete} }
func (String) Kind() Kind                      { return KindString }
func (s String) Complete() bool                { return s.complete }

// Array is an ordered sequence of values.
type Array struct {
	Items    []Value
	complete bool
}

func NewArray(items []Value, complete bool) Array { return Array{Items: items, complete: complete} }
func (Array) Kind() Kind                          { return KindArray }
func (a Array) Complete() bool                    { return a.complete }

// Member is one key/value pair of an Object, kept in insertion order.
type Member struct {
	Key   string
	Value Value
}

// Object is an ordered mapping from string keys to values. Insertion
// order is preserved because LLMs produce keys in a meaningful order
// (spec §3) and both the differ and the content hash depend on it.
type Object struct {
	members  []Member
	index    map[string]int
	complete bool
}

// NewObject builds an Object from members in the given order. Duplicate
// keys overwrite the earlier value but keep the earlier position, matching
// how a streaming parser would merge a re-emitted key.
func NewObject(members []Member, complete bool) Object {
	o := Object{index: make(map[string]int, len(members)), complete: complete}
	for _, m := range members {
		o.Set(m.Key, m.Value)
	}
	return o
}

func (Object) Kind() Kind      { return KindObject }
func (o Object) Complete() bool { return o.complete }

// Set inserts or updates a key, preserving first-seen order.
func (o *Object) Set(key string, v Value) {
	if o.index == nil {
		o.index = make(map[string]int)
	}
	if i, ok := o.index[key]; ok {
		o.members[i].Value = v
		return
	}
	o.index[key] = len(o.members)
	o.members = append(o.members, Member{Key: key, Value: v})
}

// Get returns the value for key and whether it was present.
func (o Object) Get(key string) (Value, bool) {
	i, ok := o.index[key]
	if !ok {
		return nil, false
	}
	return o.members[i].Value, true
}

// Members returns the ordered member slice. Callers must not mutate it.
func (o Object) Members() []Member { return o.members }

// Len returns the number of members.
func (o Object) Len() int { return len(o.members) }

// Keys returns the insertion-ordered key list.
func (o Object) Keys() []string {
	keys := make([]string, len(o.members))
	for i, m := range o.members {
		keys[i] = m.Key
	}
	return keys
}

// SortedKeys returns a lexicographically sorted copy of Keys, for callers
// that need a deterministic, order-independent key listing (e.g.
// diagnostics). The differ does not use it: its object diff walks keys in
// insertion order.
func (o Object) SortedKeys() []string {
	keys := o.Keys()
	sort.Strings(keys)
	return keys
}

// Equal reports deep structural equality between two values.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Null:
		return true
	case Bool:
		return av.V == b.(Bool).V
	case Number:
		return av.Raw == b.(Number).Raw
	case String:
		return av.V == b.(String).V
	case Array:
		bv := b.(Array)
		if len(av.Items) != len(bv.Items) {
			return false
		}
		for i := range av.Items {
			if !Equal(av.Items[i], bv.Items[i]) {
				return false
			}
		}
		return true
	case Object:
		bv := b.(Object)
		if av.Len() != bv.Len() {
			return false
		}
		for i, m := range av.members {
			if bv.members[i].Key != m.Key || !Equal(bv.members[i].Value, m.Value) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ToGo converts v into a plain Go value (nil, bool, float64, string,
// []interface{}, or an insertion-ordered []KV) suitable for a generic JSON
// encoder. Objects decode to []KV rather than map[string]any specifically
// to preserve the insertion order that is load-bearing throughout this
// package (see package doc).
func ToGo(v Value) interface{} {
	switch vv := v.(type) {
	case nil:
		return nil
	case Null:
		return nil
	case Bool:
		return vv.V
	case Number:
		f, err := vv.Float64()
		if err != nil {
			return vv.Raw
		}
		return f
	case String:
		return vv.V
	case Array:
		items := make([]interface{}, len(vv.Items))
		for i, it := range vv.Items {
			items[i] = ToGo(it)
		}
		return items
	case Object:
		kvs := make(Obj, vv.Len())
		for i, m := range vv.members {
			kvs[i] = KV{Key: m.Key, Value: ToGo(m.Value)}
		}
		return kvs
	default:
		return nil
	}
}

// KV is one ordered key/value pair of an Obj.
type KV struct {
	Key   string
	Value interface{}
}

// Obj is the Go-native shape ToGo produces for an Object: an
// insertion-ordered slice of KV rather than a map[string]any, so a
// generic JSON encoder preserves key order. It implements json.Marshaler
// to render as a normal JSON object.
type Obj []KV

func (o Obj) MarshalJSON() ([]byte, error) {
	var b []byte
	b = append(b, '{')
	for i, kv := range o {
		if i > 0 {
			b = append(b, ',')
		}
		keyJSON, err := json.Marshal(kv.Key)
		if err != nil {
			return nil, err
		}
		b = append(b, keyJSON...)
		b = append(b, ':')
		valJSON, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, err
		}
		b = append(b, valJSON...)
	}
	b = append(b, '}')
	return b, nil
}

// Clone returns a deep copy of v.
func Clone(v Value) Value {
	switch vv := v.(type) {
	case Null, Bool, Number, String:
		return v
	case Array:
		items := make([]Value, len(vv.Items))
		for i, it := range vv.Items {
			items[i] = Clone(it)
		}
		return Array{Items: items, complete: vv.complete}
	case Object:
		members := make([]Member, len(vv.members))
		for i, m := range vv.members {
			members[i] = Member{Key: m.Key, Value: Clone(m.Value)}
		}
		return NewObject(members, vv.complete)
	default:
		return v
	}
}
