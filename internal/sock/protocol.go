// Package sock serves the query engine over a Unix socket. Every frame,
// in both directions, is a 4-byte big-endian length followed by that many
// bytes of msgpack.
package sock

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/CageChen/markkeep/internal/query"
	"github.com/vmihailenco/msgpack/v5"
)

// MaxFrameSize bounds a single frame
const MaxFrameSize = 16 << 20

// Request tags.
const (
	TagSingle  = "Single"
	TagList    = "List"
	TagCollate = "Collate"
)

// Response tags.
const (
	TagOk                  = "Ok"
	TagBadRequest          = "BadRequest"
	TagInternalServerError = "InternalServerError"
)

// ErrFrameTooLarge is returned for frames above MaxFrameSize
var ErrFrameTooLarge = errors.New("frame too large")

// Request is the envelope of every request; Value holds the msgpack
// encoding of the request type named by Tag.
type Request struct {
	Tag   string             `msgpack:"tag"`
	Value msgpack.RawMessage `msgpack:"value"`
}

// Response is the envelope of every response. Value is the payload for
// Ok and an error message otherwise.
type Response struct {
	Tag   string `msgpack:"tag"`
	Value any    `msgpack:"value"`
}

// SingleRequest asks for one file and its neighbours. A nil Query uses
// every tracked file.
type SingleRequest struct {
	Name      string       `msgpack:"name"`
	Query     *query.Query `msgpack:"query"`
	SortKey   string       `msgpack:"sort_key"`
	OrderDesc bool         `msgpack:"order_desc"`
}

// ListRequest asks for a page of file summaries
type ListRequest struct {
	Query     query.Query `msgpack:"query"`
	SortKey   string      `msgpack:"sort_key"`
	OrderDesc bool        `msgpack:"order_desc"`
	Offset    int         `msgpack:"offset"`
	Limit     int         `msgpack:"limit"`
}

// CollateRequest asks for the distinct string values of Key
type CollateRequest struct {
	Query query.Query `msgpack:"query"`
	Key   string      `msgpack:"key"`
}

// FileResponse is a full tracked file
type FileResponse struct {
	Name        string         `msgpack:"name"`
	Frontmatter map[string]any `msgpack:"frontmatter"`
	Content     string         `msgpack:"content"`
	Generation  uint64         `msgpack:"generation"`
	Modified    time.Time      `msgpack:"modified"`
	Created     time.Time      `msgpack:"created"`
}

// SingleResponse carries the file, nil when it is not tracked
type SingleResponse struct {
	File         *FileResponse `msgpack:"file"`
	PrevFileName string        `msgpack:"prev_file_name"`
	NextFileName string        `msgpack:"next_file_name"`
}

// ListResponse is one page of summaries and the total number of matches
type ListResponse struct {
	Files []query.Summary `msgpack:"files"`
	Total int             `msgpack:"total"`
}

// WriteFrame encodes v and writes it as one frame
func WriteFrame(w io.Writer, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads the payload of one frame. It returns io.EOF only when
// the stream ends cleanly before a frame starts.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(header[:])
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return data, nil
}
