package testutil

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var defaultCmpOptions = []cmp.Option{
	// Nil and empty slices of records are the same trace.
	cmpopts.EquateEmpty(),
}

func Diff(a, b interface{}, opts ...cmp.Option) string {
	opts = append(opts, defaultCmpOptions...)
	return cmp.Diff(a, b, opts...)
}

// Int32 returns a pointer to v, for optional fields.
func Int32(v int32) *int32 {
	return &v
}

// Uint64 returns a pointer to v, for optional fields.
func Uint64(v uint64) *uint64 {
	return &v
}
