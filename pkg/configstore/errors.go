package configstore

import (
	"github.com/concordkv/concord/pkg/types"
	"github.com/dustin/go-humanize"
)

// errContentTooLarge builds the validation error for an oversized publish,
// formatting both sizes the way a human reads them rather than as raw
// byte counts.
func errContentTooLarge(size, max int) *types.Error {
	return types.NewError(types.KindValidation,
		"content size %s exceeds maximum of %s",
		humanize.Bytes(uint64(size)), humanize.Bytes(uint64(max)))
}
