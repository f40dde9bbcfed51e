package redis

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Encode serializes obj with msgpack and compresses it with LZ4
func Encode(obj interface{}) ([]byte, error) {
	data, err := msgpack.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write LZ4 compressed data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close LZ4 writer: %w", err)
	}

	return buf.Bytes(), nil
}

// Decode reverses Encode into obj
func Decode(data []byte, obj interface{}) error {
	decompressed, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return fmt.Errorf("failed to read LZ4 decompressed data: %w", err)
	}

	if err := msgpack.Unmarshal(decompressed, obj); err != nil {
		return fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return nil
}
