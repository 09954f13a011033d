package pager

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/nrupprecht/NeverSQL/internal/nserr"
)

// Magic is the ASCII tag written at offset 0 of the meta page.
var Magic = [8]byte{'N', 'e', 'v', 'e', 'r', 'S', 'Q', 'L'}

const (
	// MetaPageNumber is the fixed page number of the meta page.
	MetaPageNumber uint64 = 0

	metaOffsetMagic         = 0
	metaOffsetPageSizePower = 8
	metaOffsetFreeListPage  = 9
	metaOffsetIndexPage     = 17
	metaEncodedSize         = 25

	// MinPageSizePower and MaxPageSizePower bound the page size exponent,
	// per spec.md's "2^p, 9 <= p <= 16".
	MinPageSizePower = 9
	MaxPageSizePower = 16

	// DefaultPageSizePower yields a 4096-byte page.
	DefaultPageSizePower = 12
)

// Meta mirrors the byte-exact layout of page 0.
type Meta struct {
	Magic         [8]byte
	PageSizePower uint8
	FreeListPage  uint64
	IndexPage     uint64
}

// PageSize returns 2^PageSizePower.
func (m Meta) PageSize() int {
	return 1 << m.PageSizePower
}

// encodeMeta writes m into the first metaEncodedSize bytes of page, which
// must be at least that long.
func encodeMeta(page []byte, m Meta) {
	copy(page[metaOffsetMagic:metaOffsetMagic+8], m.Magic[:])
	page[metaOffsetPageSizePower] = m.PageSizePower
	binary.LittleEndian.PutUint64(page[metaOffsetFreeListPage:metaOffsetFreeListPage+8], m.FreeListPage)
	binary.LittleEndian.PutUint64(page[metaOffsetIndexPage:metaOffsetIndexPage+8], m.IndexPage)
}

// decodeMeta parses a Meta out of page, validating the magic tag and the
// page-size exponent range.
func decodeMeta(page []byte) (Meta, error) {
	if len(page) < metaEncodedSize {
		return Meta{}, errors.Errorf("meta page too short: %d bytes", len(page))
	}
	var m Meta
	copy(m.Magic[:], page[metaOffsetMagic:metaOffsetMagic+8])
	if m.Magic != Magic {
		return Meta{}, nserr.CorruptPage(MetaPageNumber, "bad magic tag")
	}
	m.PageSizePower = page[metaOffsetPageSizePower]
	if m.PageSizePower < MinPageSizePower || m.PageSizePower > MaxPageSizePower {
		return Meta{}, nserr.CorruptPage(MetaPageNumber, "page size power out of range")
	}
	m.FreeListPage = binary.LittleEndian.Uint64(page[metaOffsetFreeListPage : metaOffsetFreeListPage+8])
	m.IndexPage = binary.LittleEndian.Uint64(page[metaOffsetIndexPage : metaOffsetIndexPage+8])
	return m, nil
}
