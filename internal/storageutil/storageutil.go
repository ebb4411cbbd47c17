package storageutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pierrec/lz4/v4"
)

// ErrObjectNotFound indicates an object was not found.
var ErrObjectNotFound = errors.New("object not found")

// Timeout bounds a single object read or write.
const Timeout = 30 * time.Second

type ReadSizeCloser interface {
	io.Reader
	io.Closer
	Size() int64
}

// ObjectHandler provides common interface for multiple storage providers.
type ObjectHandler interface {
	// Put writes a file to the storage provider with name being the path.
	Put(ctx context.Context, name string) (io.WriteCloser, error)
	// Get reads a file from the storage provider with name being the path.
	// If a key was not found, it will return ErrObjectNotFound.
	Get(ctx context.Context, name string) (ReadSizeCloser, error)
}

// Lister is implemented by handlers able to enumerate stored objects.
type Lister interface {
	List(ctx context.Context, prefix string) ([]string, error)
}

// Write stores data as is.
func Write(ctx context.Context, b ObjectHandler, objectName string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	ow, err := b.Put(ctx, objectName)
	if err != nil {
		return err
	}
	if _, err := ow.Write(data); err != nil {
		_ = ow.Close()
		return err
	}
	return ow.Close()
}

// CompressedWrite stores data in an lz4 frame.
func CompressedWrite(ctx context.Context, b ObjectHandler, objectName string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	ow, err := b.Put(ctx, objectName)
	if err != nil {
		return err
	}
	zw := lz4.NewWriter(ow)
	_ = zw.Apply(lz4.CompressionLevelOption(lz4.Level9))
	if _, err := zw.Write(data); err != nil {
		_ = ow.Close()
		return err
	}
	err = zw.Close()
	if err != nil {
		_ = ow.Close()
		return err
	}
	err = ow.Close()
	if err != nil {
		return err
	}
	return nil
}

// Read returns the content of an object, decompressing it when compressed
// is set.
func Read(ctx context.Context, b ObjectHandler, objectName string, compressed bool) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	or, err := b.Get(ctx, objectName)
	if err != nil {
		return nil, err
	}
	defer or.Close()

	var r io.Reader = or
	if compressed {
		r = lz4.NewReader(or)
	}
	var buf bytes.Buffer
	if size := or.Size(); size > 0 && !compressed {
		buf.Grow(int(size))
	}
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("storageutil: reading %s: %w", objectName, err)
	}
	return buf.Bytes(), nil
}
