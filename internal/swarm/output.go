package swarm

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Output is the download's target file: a single mutex serializes piece
// writes, each a WriteAt at the piece's offset, one piece at a time.
type Output struct {
	mu   sync.Mutex
	file *os.File
}

// OpenOutput opens (creating if necessary) the file at path, sized to
// length bytes so any piece offset can be written to directly.
func OpenOutput(path string, length int64) (*Output, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open output file %q", path)
	}
	if err := f.Truncate(length); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "size output file %q", path)
	}
	return &Output{file: f}, nil
}

// WritePiece writes buf at byte offset index*pieceLength.
func (o *Output) WritePiece(index int, pieceLength int64, buf []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	offset := int64(index) * pieceLength
	if _, err := o.file.WriteAt(buf, offset); err != nil {
		return errors.Wrapf(err, "write piece %d", index)
	}
	return nil
}

// Close closes the underlying file.
func (o *Output) Close() error {
	return o.file.Close()
}
