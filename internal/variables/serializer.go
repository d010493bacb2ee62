package variables

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/rendis/mtaflow/pkg/schema"
)

// CurrentVersion is the envelope version written by every serializer.
const CurrentVersion byte = 1

// Encoding identifies how the body of a payload is encoded.
type Encoding byte

const (
	EncodingScalar Encoding = 1
	EncodingJSON   Encoding = 2
	EncodingBinary Encoding = 3 // zstd-compressed JSON
)

func (e Encoding) String() string {
	switch e {
	case EncodingScalar:
		return "scalar"
	case EncodingJSON:
		return "json"
	case EncodingBinary:
		return "binary"
	default:
		return fmt.Sprintf("encoding(%d)", byte(e))
	}
}

// Serializer converts a typed value to and from a versioned payload.
type Serializer[T any] interface {
	Serialize(value T) ([]byte, error)
	Deserialize(payload []byte) (T, error)
}

// seal prefixes body with the [version][encoding] header.
func seal(enc Encoding, body []byte) []byte {
	out := make([]byte, 0, len(body)+2)
	out = append(out, CurrentVersion, byte(enc))
	return append(out, body...)
}

// open validates the header and returns the body.
func open(want Encoding, payload []byte) ([]byte, error) {
	if len(payload) < 2 {
		return nil, schema.NewErrorf(schema.ErrCodeSerialization,
			"payload too short (%d bytes)", len(payload))
	}
	if payload[0] != CurrentVersion {
		return nil, schema.NewErrorf(schema.ErrCodeSerialization,
			"unsupported payload version %d", payload[0])
	}
	if got := Encoding(payload[1]); got != want {
		return nil, schema.NewErrorf(schema.ErrCodeSerialization,
			"payload encoded as %s, expected %s", got, want)
	}
	return payload[2:], nil
}

// --- Scalar ---

// ScalarType lists the types the scalar serializer handles.
type ScalarType interface {
	string | int | int64 | bool | float64 | time.Duration | time.Time
}

type scalarSerializer[T ScalarType] struct{}

// Scalar returns a serializer storing T as plain text.
func Scalar[T ScalarType]() Serializer[T] {
	return scalarSerializer[T]{}
}

func (scalarSerializer[T]) Serialize(value T) ([]byte, error) {
	var text string
	switch v := any(value).(type) {
	case string:
		text = v
	case int:
		text = strconv.Itoa(v)
	case int64:
		text = strconv.FormatInt(v, 10)
	case bool:
		text = strconv.FormatBool(v)
	case float64:
		text = strconv.FormatFloat(v, 'g', -1, 64)
	case time.Duration:
		text = strconv.FormatInt(int64(v), 10)
	case time.Time:
		text = v.UTC().Format(time.RFC3339Nano)
	}
	return seal(EncodingScalar, []byte(text)), nil
}

func (scalarSerializer[T]) Deserialize(payload []byte) (T, error) {
	var out T
	body, err := open(EncodingScalar, payload)
	if err != nil {
		return out, err
	}
	text := string(body)

	switch p := any(&out).(type) {
	case *string:
		*p = text
	case *int:
		*p, err = strconv.Atoi(text)
	case *int64:
		*p, err = strconv.ParseInt(text, 10, 64)
	case *bool:
		*p, err = strconv.ParseBool(text)
	case *float64:
		*p, err = strconv.ParseFloat(text, 64)
	case *time.Duration:
		var n int64
		n, err = strconv.ParseInt(text, 10, 64)
		*p = time.Duration(n)
	case *time.Time:
		*p, err = time.Parse(time.RFC3339Nano, text)
	}
	if err != nil {
		return out, schema.NewErrorf(schema.ErrCodeSerialization,
			"decode %T from %q: %s", out, text, err.Error()).WithCause(err)
	}
	return out, nil
}

// --- Text (string-kinded enums) ---

type textSerializer[T ~string] struct{}

// Text returns a serializer for named string types such as schema.StepPhase.
func Text[T ~string]() Serializer[T] {
	return textSerializer[T]{}
}

func (textSerializer[T]) Serialize(value T) ([]byte, error) {
	return seal(EncodingScalar, []byte(value)), nil
}

func (textSerializer[T]) Deserialize(payload []byte) (T, error) {
	body, err := open(EncodingScalar, payload)
	if err != nil {
		return "", err
	}
	return T(body), nil
}

// --- JSON ---

type jsonSerializer[T any] struct{}

// JSON returns a serializer storing T as a JSON document.
func JSON[T any]() Serializer[T] {
	return jsonSerializer[T]{}
}

func (jsonSerializer[T]) Serialize(value T) ([]byte, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSerialization, "marshal json: %s", err.Error()).WithCause(err)
	}
	return seal(EncodingJSON, body), nil
}

func (jsonSerializer[T]) Deserialize(payload []byte) (T, error) {
	var out T
	body, err := open(EncodingJSON, payload)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, schema.NewErrorf(schema.ErrCodeSerialization, "unmarshal json: %s", err.Error()).WithCause(err)
	}
	return out, nil
}

// --- Binary collections ---

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdInitErr error
)

// codecs returns the shared zstd encoder and decoder. Both are safe for
// concurrent EncodeAll/DecodeAll calls.
func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdInitErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdInitErr != nil {
			return
		}
		zstdDecoder, zstdInitErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, zstdInitErr
}

type binarySerializer[T any] struct{}

// Binary returns a serializer for larger collections: JSON compressed with
// zstd. Use it for module lists and similar payloads.
func Binary[T any]() Serializer[T] {
	return binarySerializer[T]{}
}

func (binarySerializer[T]) Serialize(value T) ([]byte, error) {
	enc, _, err := codecs()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSerialization, "init zstd: %s", err.Error()).WithCause(err)
	}
	body, err := json.Marshal(value)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSerialization, "marshal collection: %s", err.Error()).WithCause(err)
	}
	return seal(EncodingBinary, enc.EncodeAll(body, nil)), nil
}

func (binarySerializer[T]) Deserialize(payload []byte) (T, error) {
	var out T
	_, dec, err := codecs()
	if err != nil {
		return out, schema.NewErrorf(schema.ErrCodeSerialization, "init zstd: %s", err.Error()).WithCause(err)
	}
	compressed, err := open(EncodingBinary, payload)
	if err != nil {
		return out, err
	}
	body, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return out, schema.NewErrorf(schema.ErrCodeSerialization, "decompress collection: %s", err.Error()).WithCause(err)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, schema.NewErrorf(schema.ErrCodeSerialization, "unmarshal collection: %s", err.Error()).WithCause(err)
	}
	return out, nil
}
