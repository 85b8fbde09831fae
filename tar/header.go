package tar

import (
	"bytes"
	"fmt"
)

// blockSize is the fixed width of every tar header block, and the unit that
// payload data is padded up to.
const blockSize = 512

type block [blockSize]byte

// Field offsets and widths shared by the classic V7 layout and its USTAR/GNU
// extensions. This is the same fixed layout archive/tar (and, in turn,
// internal/tar in the teacher repo) decodes; it is restated here rather than
// imported because the core decoder has no dependency on either.
const (
	offName, lenName         = 0, 100
	offMode, lenMode         = 100, 8
	offUid, lenUid           = 108, 8
	offGid, lenGid           = 116, 8
	offSize, lenSize         = 124, 12
	offMtime, lenMtime       = 136, 12
	offChksum, lenChksum     = 148, 8
	offTypeflag              = 156
	offLinkname, lenLinkname = 157, 100
	offMagic, lenMagic       = 257, 6
	offVersion, lenVersion   = 263, 2
	offUname, lenUname       = 265, 32
	offGname, lenGname       = 297, 32
	offDevmajor, lenDevmajor = 329, 8
	offDevminor, lenDevminor = 337, 8
	offPrefix, lenPrefix     = 345, 155

	// GNU-only fields; GNU headers reuse the USTAR uname/gname/devmajor/devminor
	// slots but replace the prefix field with atime/ctime and sparse-file
	// bookkeeping this decoder does not interpret.
	offGNUAtime, lenGNUAtime = 345, 12
	offGNUCtime, lenGNUCtime = 357, 12
)

var (
	ustarMagic = []byte("ustar\x00" + "00")
	gnuMagic   = []byte("ustar " + " \x00")
)

// Type flags for TarHeader.Typeflag, as defined by the ustar/GNU/PAX formats.
const (
	TypeReg  = '0'
	TypeRegA = '\x00' // legacy V7 regular file

	TypeLink    = '1'
	TypeSymlink = '2'
	TypeChar    = '3'
	TypeBlock   = '4'
	TypeDir     = '5'
	TypeFifo    = '6'
	TypeCont    = '7'

	TypeXHeader       = 'x' // PAX extended header, applies to the next entry only
	TypeXGlobalHeader = 'g' // PAX global extended header, ignored by this decoder

	TypeGNULongName = 'L'
	TypeGNULongLink = 'K'
	TypeGNUSparse   = 'S'
)

// isHeaderOnlyType reports whether flag's entries never have a payload block
// on the wire, regardless of what its size field claims.
func isHeaderOnlyType(flag byte) bool {
	switch flag {
	case TypeLink, TypeSymlink, TypeChar, TypeBlock, TypeDir, TypeFifo:
		return true
	default:
		return false
	}
}

// Format identifies which header dialect a raw block was written in. It is
// used only to decide which optional fields to decode; LogicalEntry carries
// no trace of it, since spec.md's data model never surfaces format to callers.
type Format int

const (
	FormatUnknown Format = iota
	FormatV7
	FormatUSTAR
	FormatGNU
)

// TarHeader is the decoded form of one on-wire 512-byte header block. Fields
// absent from a given format/block are left at their zero value.
type TarHeader struct {
	Name     string
	Prefix   string // USTAR-only path prefix; empty unless the format is USTAR/PAX
	Mode     int64
	Uid      int64
	Gid      int64
	Size     int64
	ModTime  FileTime
	Checksum int64
	Typeflag byte
	Linkname string
	Magic    string
	Version  string
	Uname    string
	Gname    string
	Devmajor int64
	Devminor int64

	// GNU-only, absent (nil) outside GNU-format headers with a non-zero field.
	AccessTime *FileTime
	ChangeTime *FileTime

	format Format
}

// PathBytes returns the effective path of the entry described by h: the
// USTAR prefix spliced in front of the short name when present.
func (h *TarHeader) PathBytes() []byte {
	if h.Prefix == "" {
		return []byte(h.Name)
	}
	return []byte(h.Prefix + "/" + h.Name)
}

// readHeader decodes a 512-byte block. It returns (nil, nil) for an all-zero
// block (the caller distinguishes EmptyHeader from Header on that basis).
func readHeader(b *block) (*TarHeader, error) {
	if isZeroBlock(b) {
		return nil, nil
	}

	h := &TarHeader{}
	h.Typeflag = b[offTypeflag]
	h.Name = parseString(b[offName : offName+lenName])
	h.Linkname = parseString(b[offLinkname : offLinkname+lenLinkname])

	var err error
	if h.Mode, err = parseNumeric(b[offMode : offMode+lenMode]); err != nil {
		return nil, &HeaderError{fmt.Errorf("mode: %w", err)}
	}
	if h.Uid, err = parseNumeric(b[offUid : offUid+lenUid]); err != nil {
		return nil, &HeaderError{fmt.Errorf("uid: %w", err)}
	}
	if h.Gid, err = parseNumeric(b[offGid : offGid+lenGid]); err != nil {
		return nil, &HeaderError{fmt.Errorf("gid: %w", err)}
	}
	if h.Size, err = parseNumeric(b[offSize : offSize+lenSize]); err != nil {
		return nil, &HeaderError{fmt.Errorf("size: %w", err)}
	}
	var mtimeSecs int64
	if mtimeSecs, err = parseNumeric(b[offMtime : offMtime+lenMtime]); err != nil {
		return nil, &HeaderError{fmt.Errorf("mtime: %w", err)}
	}
	h.ModTime = FileTime{Sec: uint64(mtimeSecs)}
	if h.Checksum, err = parseNumeric(b[offChksum : offChksum+lenChksum]); err != nil {
		return nil, &HeaderError{fmt.Errorf("checksum: %w", err)}
	}

	magic := b[offMagic : offMagic+lenMagic]
	version := b[offVersion : offVersion+lenVersion]
	h.Magic = string(bytes.TrimRight(magic, "\x00"))
	h.Version = string(bytes.TrimRight(version, "\x00"))

	switch {
	case bytes.Equal(magic, ustarMagic[:lenMagic]) && bytes.Equal(version, ustarMagic[lenMagic:]):
		h.format = FormatUSTAR
	case bytes.Equal(magic, gnuMagic[:lenMagic]) && bytes.Equal(version, gnuMagic[lenMagic:]):
		h.format = FormatGNU
	default:
		h.format = FormatV7
	}

	if h.format == FormatUSTAR || h.format == FormatGNU {
		h.Uname = parseString(b[offUname : offUname+lenUname])
		h.Gname = parseString(b[offGname : offGname+lenGname])
		if h.Devmajor, err = parseNumeric(b[offDevmajor : offDevmajor+lenDevmajor]); err != nil {
			return nil, &HeaderError{fmt.Errorf("devmajor: %w", err)}
		}
		if h.Devminor, err = parseNumeric(b[offDevminor : offDevminor+lenDevminor]); err != nil {
			return nil, &HeaderError{fmt.Errorf("devminor: %w", err)}
		}
	}

	switch h.format {
	case FormatUSTAR:
		h.Prefix = parseString(b[offPrefix : offPrefix+lenPrefix])
	case FormatGNU:
		if atimeField := b[offGNUAtime : offGNUAtime+lenGNUAtime]; atimeField[0] != 0 {
			secs, err := parseNumeric(atimeField)
			if err != nil {
				return nil, &HeaderError{fmt.Errorf("atime: %w", err)}
			}
			t := FileTime{Sec: uint64(secs)}
			h.AccessTime = &t
		}
		if ctimeField := b[offGNUCtime : offGNUCtime+lenGNUCtime]; ctimeField[0] != 0 {
			secs, err := parseNumeric(ctimeField)
			if err != nil {
				return nil, &HeaderError{fmt.Errorf("ctime: %w", err)}
			}
			t := FileTime{Sec: uint64(secs)}
			h.ChangeTime = &t
		}
	}

	if h.Typeflag == TypeRegA {
		if len(h.Name) > 0 && h.Name[len(h.Name)-1] == '/' {
			h.Typeflag = TypeDir
		} else {
			h.Typeflag = TypeReg
		}
	}

	if isHeaderOnlyType(h.Typeflag) && h.Size != 0 {
		return nil, &HeaderError{fmt.Errorf("typeflag %q declares a payload of %d bytes", h.Typeflag, h.Size)}
	}

	return h, nil
}

var zeroBlock block

func isZeroBlock(b *block) bool {
	return bytes.Equal(b[:], zeroBlock[:])
}

// parseString cuts a fixed-width field at its first NUL byte. Space padding
// is not trimmed.
func parseString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// parseNumeric decodes either POSIX octal-ASCII or GNU base-256 binary,
// distinguished by the high bit of the first byte (archive/tar's own
// convention for representing values too large for octal-ASCII).
func parseNumeric(b []byte) (int64, error) {
	if len(b) > 0 && b[0]&0x80 != 0 {
		return parseBase256(b)
	}
	return parseOctal(b)
}

func parseOctal(b []byte) (int64, error) {
	b = bytes.TrimRight(b, " \x00")
	b = bytes.TrimLeft(b, " ")
	if len(b) == 0 {
		return 0, nil
	}
	var v int64
	for _, c := range b {
		if c < '0' || c > '7' {
			return 0, fmt.Errorf("invalid octal digit %q", c)
		}
		if v > (1<<60)/8 {
			return 0, fmt.Errorf("octal field overflow")
		}
		v = v<<3 | int64(c-'0')
	}
	return v, nil
}

// parseBase256 decodes GNU's base-256 extension: the first byte's top bit is
// the marker, its remaining 7 bits plus the following bytes form a big-endian
// unsigned magnitude. Negative (two's complement) encodings are not produced
// by any field this decoder reads (size, mode, uid, gid, mtime are never
// negative) and are treated as a plain positive magnitude.
func parseBase256(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, nil
	}
	v := uint64(b[0] & 0x7f)
	for _, c := range b[1:] {
		if v > 1<<55 {
			return 0, fmt.Errorf("base-256 field overflow")
		}
		v = v<<8 | uint64(c)
	}
	return int64(v), nil
}
