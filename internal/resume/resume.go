// Package resume recovers already-downloaded pieces from an existing
// output file so a restarted download doesn't re-fetch them.
package resume

import (
	"crypto/sha1"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/spectre-xenon/rubit/internal/metainfo"
)

// Scan hashes each piece-sized region of the file at path and compares it
// against m's piece hashes, returning the set of piece indices already
// present and correct. A missing file, or a file shorter than a piece's
// region, counts that piece (and everything past it) as not completed —
// it is never an error, since a fresh download has no output file yet.
func Scan(path string, m *metainfo.Metainfo) (map[int]bool, error) {
	done := make(map[int]bool)

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return done, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %q for resume scan", path)
	}
	defer f.Close()

	buf := make([]byte, m.Info.PieceLength)
	for i := 0; i < m.NumPieces(); i++ {
		size := m.PieceSize(i)
		region := buf[:size]

		n, err := io.ReadFull(f, region)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			// File ends partway through this piece (or earlier): this
			// piece and every later one are incomplete.
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read piece %d during resume scan", i)
		}

		sum := sha1.Sum(region[:n])
		if sum == m.Info.Pieces[i] {
			done[i] = true
		}
	}

	return done, nil
}
