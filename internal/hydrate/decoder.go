// Package hydrate decodes stored JSON records back into typed values.
//
// Numbers are the sharp edge: encoding/json turns every number inside an
// `any` into float64, so an int cell value would come back with a different
// type. WithNumbers decodes with UseNumber and then narrows integral values
// to int and the rest to float64.
package hydrate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Context identifies the record being decoded.
type Context struct {
	Key string
}

// PostHook lets callers adjust or validate the decoded value.
type PostHook[T any] func(Context, *T) error

// DecoderOption configures a Decoder instance.
type DecoderOption[T any] func(*Decoder[T])

// Decoder converts stored payloads into T.
type Decoder[T any] struct {
	postHooks    []PostHook[T]
	configureDec []func(*json.Decoder)
}

// WithPostHook applies hook after decoding completes.
func WithPostHook[T any](hook PostHook[T]) DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.postHooks = append(d.postHooks, hook)
	}
}

// WithDisallowUnknownFields invokes json.Decoder.DisallowUnknownFields.
func WithDisallowUnknownFields[T any]() DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.configureDec = append(d.configureDec, func(dec *json.Decoder) {
			dec.DisallowUnknownFields()
		})
	}
}

// WithNumbers decodes numbers as json.Number and narrows the values reached
// by pick with Numbers. pick returns nil to skip.
func WithNumbers[T any](pick func(*T) map[string]any) DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.configureDec = append(d.configureDec, func(dec *json.Decoder) {
			dec.UseNumber()
		})
		d.postHooks = append(d.postHooks, func(_ Context, value *T) error {
			if pick == nil {
				return nil
			}
			if m := pick(value); m != nil {
				for k, v := range m {
					m[k] = Numbers(v)
				}
			}
			return nil
		})
	}
}

func NewDecoder[T any](opts ...DecoderOption[T]) *Decoder[T] {
	d := &Decoder[T]{}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Decode converts raw into T applying configured hooks.
func (d *Decoder[T]) Decode(ctx Context, raw []byte) (T, error) {
	var zero T
	if len(raw) == 0 {
		return zero, fmt.Errorf("hydrate: payload is empty for key %q", ctx.Key)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	for _, configure := range d.configureDec {
		configure(decoder)
	}
	var result T
	if err := decoder.Decode(&result); err != nil {
		return zero, fmt.Errorf("hydrate: decode key %q: %w", ctx.Key, err)
	}

	for _, hook := range d.postHooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, &result); err != nil {
			return zero, fmt.Errorf("hydrate: post-hook for key %q failed: %w", ctx.Key, err)
		}
	}
	return result, nil
}

// Numbers walks maps and slices replacing json.Number with int when the value
// is integral and fits, float64 otherwise.
func Numbers(v any) any {
	switch value := v.(type) {
	case json.Number:
		if i, err := value.Int64(); err == nil && i >= math.MinInt && i <= math.MaxInt {
			return int(i)
		}
		if f, err := value.Float64(); err == nil {
			return f
		}
		return value.String()
	case map[string]any:
		for k, item := range value {
			value[k] = Numbers(item)
		}
		return value
	case []any:
		for i, item := range value {
			value[i] = Numbers(item)
		}
		return value
	default:
		return v
	}
}
