package utils

import (
	"bytes"
	"encoding/json"
	"sort"
)

type OrderedKV[T any] struct {
	Value T
	Order int64
}

// OrderedKVMap is a map whose JSON encoding and iteration follow Order, then key.
type OrderedKVMap[T any] map[string]OrderedKV[T]

type orderedPair[T any] struct {
	key   string
	value T
	order int64
}

func (om OrderedKVMap[T]) sorted() []orderedPair[T] {
	pairs := make([]orderedPair[T], 0, len(om))
	for k, v := range om {
		pairs = append(pairs, orderedPair[T]{
			key:   k,
			value: v.Value,
			order: v.Order,
		})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].order == pairs[j].order {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].order < pairs[j].order
	})
	return pairs
}

func (om OrderedKVMap[T]) Keys() []string {
	pairs := om.sorted()
	keys := make([]string, len(pairs))
	for i, p := range pairs {
		keys[i] = p.key
	}
	return keys
}

func (om OrderedKVMap[T]) Values() []T {
	pairs := om.sorted()
	values := make([]T, len(pairs))
	for i, p := range pairs {
		values[i] = p.value
	}
	return values
}

func (om OrderedKVMap[T]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range om.sorted() {
		if i > 0 {
			buf.WriteByte(',')
		}

		keyBytes, err := json.Marshal(p.key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valueBytes, err := json.Marshal(p.value)
		if err != nil {
			return nil, err
		}
		buf.Write(valueBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
