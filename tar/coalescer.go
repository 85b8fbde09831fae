package tar

import (
	"context"
	"errors"
	"io"
)

// LogicalItemKind distinguishes the two shapes MetadataCoalescer emits.
type LogicalItemKind int

const (
	LogicalEntryItem LogicalItemKind = iota
	LogicalChunkItem
)

// LogicalItem is the tagged union MetadataCoalescer produces.
type LogicalItem struct {
	Kind  LogicalItemKind
	Entry *LogicalEntry // valid when Kind == LogicalEntryItem
	Chunk []byte        // valid when Kind == LogicalChunkItem
}

// LogicalEntry is the fully resolved metadata for one real archive member,
// after folding any GNU long-name/long-link or PAX extended attributes that
// preceded it.
type LogicalEntry struct {
	EntryType  byte
	Path       []byte
	LinkPath   []byte
	Size       int64
	Uid        int64
	Gid        int64
	Uname      []byte
	Gname      []byte
	ModTime    FileTime
	AccessTime *FileTime
	ChangeTime *FileTime
}

// rawItemSource is the interface MetadataCoalescer consumes; satisfied by
// *RawFramer, and by fakes in tests.
type rawItemSource interface {
	Next(ctx context.Context) (RawItem, error)
}

type coalescerState int

const (
	coalClean coalescerState = iota
	coalGnuLongName
	coalGnuLongLink
	coalPaxExtensions
)

// MetadataCoalescer folds GNU long-name, GNU long-link, and PAX
// local-extension pseudo-entries into the LogicalEntry for the real header
// that follows them.
type MetadataCoalescer struct {
	src   rawItemSource
	state coalescerState

	gnuNameBuf []byte
	gnuLinkBuf []byte
	paxParser  *PaxRecordParser
	paxGlobal  bool

	pendingPath *[]byte
	pendingLink *[]byte
	pendingPax  *PaxAttributes
}

func NewMetadataCoalescer(src rawItemSource) *MetadataCoalescer {
	return &MetadataCoalescer{src: src, state: coalClean}
}

func (c *MetadataCoalescer) Next(ctx context.Context) (LogicalItem, error) {
	for {
		item, err := c.src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if c.state != coalClean {
					return LogicalItem{}, ErrUnexpectedEOF
				}
				return LogicalItem{}, io.EOF
			}
			return LogicalItem{}, err
		}

		if c.state == coalClean {
			switch item.Kind {
			case RawEmptyHeader:
				continue
			case RawPayloadChunk:
				return LogicalItem{Kind: LogicalChunkItem, Chunk: item.Chunk}, nil
			case RawHeader:
				out, emit, err := c.handleHeader(item.Header)
				if err != nil {
					return LogicalItem{}, err
				}
				if emit {
					return out, nil
				}
				continue
			}
		}

		// Non-Clean: accumulating a pseudo-entry's payload.
		switch item.Kind {
		case RawPayloadChunk:
			if err := c.consumePending(item.Chunk); err != nil {
				return LogicalItem{}, err
			}
			continue
		case RawEmptyHeader:
			return LogicalItem{}, ErrUnexpectedEOF
		case RawHeader:
			if err := c.commitPending(); err != nil {
				return LogicalItem{}, err
			}
			out, emit, err := c.handleHeader(item.Header)
			if err != nil {
				return LogicalItem{}, err
			}
			if emit {
				return out, nil
			}
			continue
		}
	}
}

func (c *MetadataCoalescer) consumePending(b []byte) error {
	switch c.state {
	case coalGnuLongName:
		c.gnuNameBuf = append(c.gnuNameBuf, b...)
	case coalGnuLongLink:
		c.gnuLinkBuf = append(c.gnuLinkBuf, b...)
	case coalPaxExtensions:
		return c.paxParser.Decode(b)
	}
	return nil
}

// commitPending finalizes whatever pseudo-entry is currently being
// accumulated into the pending* fields, ready for the next handleHeader call
// to consult (and to detect duplicates against).
func (c *MetadataCoalescer) commitPending() error {
	switch c.state {
	case coalGnuLongName:
		name := trimTrailingNUL(c.gnuNameBuf)
		c.pendingPath = &name
		c.gnuNameBuf = nil
	case coalGnuLongLink:
		link := trimTrailingNUL(c.gnuLinkBuf)
		c.pendingLink = &link
		c.gnuLinkBuf = nil
	case coalPaxExtensions:
		if !c.paxGlobal {
			attrs := c.paxParser.Attributes()
			c.pendingPax = &attrs
		}
		c.paxParser = nil
	}
	c.state = coalClean
	return nil
}

func trimTrailingNUL(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == 0 {
		return b[:n-1]
	}
	return b
}

// handleHeader classifies a header arriving in the Clean state: either it
// starts a new pseudo-entry accumulation (emit=false), or it is a real entry
// and out is ready to return (emit=true).
func (c *MetadataCoalescer) handleHeader(h *TarHeader) (out LogicalItem, emit bool, err error) {
	switch h.Typeflag {
	case TypeGNULongName:
		if c.pendingPath != nil {
			return LogicalItem{}, false, FormatError("two long name entries describing the same member")
		}
		c.state = coalGnuLongName
		return LogicalItem{}, false, nil
	case TypeGNULongLink:
		if c.pendingLink != nil {
			return LogicalItem{}, false, FormatError("two long link entries describing the same member")
		}
		c.state = coalGnuLongLink
		return LogicalItem{}, false, nil
	case TypeXHeader:
		if c.pendingPax != nil {
			return LogicalItem{}, false, FormatError("two pax extension entries describing the same member")
		}
		c.state = coalPaxExtensions
		c.paxParser = NewPaxRecordParser()
		c.paxGlobal = false
		return LogicalItem{}, false, nil
	case TypeXGlobalHeader:
		c.state = coalPaxExtensions
		c.paxParser = NewPaxRecordParser()
		c.paxGlobal = true
		return LogicalItem{}, false, nil
	}

	if h.Typeflag == TypeGNUSparse {
		return LogicalItem{}, false, ErrSparseUnsupported
	}
	if c.pendingPax != nil && c.pendingPax.SawGNUSparse {
		return LogicalItem{}, false, ErrSparseUnsupported
	}

	entry := c.resolveEntry(h)
	c.pendingPath = nil
	c.pendingLink = nil
	c.pendingPax = nil
	return LogicalItem{Kind: LogicalEntryItem, Entry: entry}, true, nil
}

func (c *MetadataCoalescer) resolveEntry(h *TarHeader) *LogicalEntry {
	pax := c.pendingPax

	path := h.PathBytes()
	if c.pendingPath != nil {
		path = *c.pendingPath
	}
	if pax != nil && pax.Path != nil {
		path = pax.Path
	}

	var linkPath []byte
	if h.Linkname != "" {
		linkPath = []byte(h.Linkname)
	}
	if c.pendingLink != nil {
		linkPath = *c.pendingLink
	}
	if pax != nil && pax.LinkPath != nil {
		linkPath = pax.LinkPath
	}

	size := h.Size
	if pax != nil && pax.Size != nil {
		size = *pax.Size
	}

	uid := h.Uid
	if pax != nil && pax.Uid != nil {
		uid = *pax.Uid
	}
	gid := h.Gid
	if pax != nil && pax.Gid != nil {
		gid = *pax.Gid
	}

	var uname []byte
	if h.Uname != "" {
		uname = []byte(h.Uname)
	}
	if pax != nil && pax.Uname != nil {
		uname = pax.Uname
	}
	var gname []byte
	if h.Gname != "" {
		gname = []byte(h.Gname)
	}
	if pax != nil && pax.Gname != nil {
		gname = pax.Gname
	}

	mtime := h.ModTime
	if pax != nil && pax.Mtime != nil {
		mtime = *pax.Mtime
	}

	var atime *FileTime
	if h.AccessTime != nil {
		atime = h.AccessTime
	}
	if pax != nil && pax.Atime != nil {
		atime = pax.Atime
	}
	var ctime *FileTime
	if h.ChangeTime != nil {
		ctime = h.ChangeTime
	}
	if pax != nil && pax.Ctime != nil {
		ctime = pax.Ctime
	}

	return &LogicalEntry{
		EntryType:  h.Typeflag,
		Path:       path,
		LinkPath:   linkPath,
		Size:       size,
		Uid:        uid,
		Gid:        gid,
		Uname:      uname,
		Gname:      gname,
		ModTime:    mtime,
		AccessTime: atime,
		ChangeTime: ctime,
	}
}
