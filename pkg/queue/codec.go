package queue

import (
	"encoding/json"
	"fmt"

	"github.com/Sriram-PR/crawl-scheduler/pkg/utils"
)

// Codec turns queue elements into bytes for the overflow file and back
type Codec[T any] interface {
	Encode(item T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// JSONCodec is the default codec; T must round-trip through encoding/json
type JSONCodec[T any] struct{}

// Encode implements Codec
func (JSONCodec[T]) Encode(item T) ([]byte, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding JSON element: %w", utils.ErrParsing, err)
	}
	return data, nil
}

// Decode implements Codec
func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var item T
	if err := json.Unmarshal(data, &item); err != nil {
		return item, fmt.Errorf("%w: decoding JSON element: %w", utils.ErrParsing, err)
	}
	return item, nil
}

// StringCodec stores strings as raw bytes
type StringCodec struct{}

// Encode implements Codec
func (StringCodec) Encode(item string) ([]byte, error) { return []byte(item), nil }

// Decode implements Codec
func (StringCodec) Decode(data []byte) (string, error) { return string(data), nil }
