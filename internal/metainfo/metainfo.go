// Package metainfo projects a decoded bencode tree into the fields the
// swarm engine and tracker client need from a .torrent file.
package metainfo

import (
	"io"

	"github.com/pkg/errors"

	"github.com/spectre-xenon/rubit/internal/bencode"
)

// ErrBadTorrent is returned when a required metainfo field is missing or
// malformed. Only single-file torrents are accepted.
var ErrBadTorrent = errors.New("metainfo: bad torrent")

// Info is the projection of the torrent's "info" dictionary.
type Info struct {
	Name        string
	Length      int64
	PieceLength int64
	Pieces      [][20]byte
}

// Metainfo is the projection of a whole .torrent file.
type Metainfo struct {
	InfoHash     [20]byte
	Announce     string
	AnnounceList [][]string
	CreatedBy    string
	CreationDate uint64
	Encoding     string
	Info         Info
}

// NumPieces returns the number of pieces described by the torrent.
func (m *Metainfo) NumPieces() int {
	return len(m.Info.Pieces)
}

// PieceSize returns the size in bytes of piece i: PieceLength for every
// piece but the last, which is Length mod PieceLength (or PieceLength
// itself if that remainder is zero).
func (m *Metainfo) PieceSize(i int) int64 {
	if i == m.NumPieces()-1 {
		if rem := m.Info.Length % m.Info.PieceLength; rem != 0 {
			return rem
		}
	}
	return m.Info.PieceLength
}

// Parse reads a .torrent file from r and projects it into a Metainfo.
func Parse(r io.Reader) (*Metainfo, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read torrent file")
	}
	root, _, err := bencode.Decode(buf)
	if err != nil {
		return nil, errors.Wrap(ErrBadTorrent, err.Error())
	}
	return Project(root)
}

// Project builds a Metainfo out of an already-decoded top-level bencode
// dictionary, failing if any required field is missing or the wrong kind.
func Project(root *bencode.Value) (*Metainfo, error) {
	if root == nil || root.Kind != bencode.KindDict {
		return nil, errors.Wrap(ErrBadTorrent, "top level value is not a dictionary")
	}
	if len(root.InfoHash) != 20 {
		return nil, errors.Wrap(ErrBadTorrent, "missing info dictionary (info_hash not captured)")
	}
	announce, ok := root.GetString("announce")
	if !ok {
		return nil, errors.Wrap(ErrBadTorrent, "missing announce")
	}
	infoVal, ok := root.Get("info")
	if !ok || infoVal.Kind != bencode.KindDict {
		return nil, errors.Wrap(ErrBadTorrent, "missing info dictionary")
	}

	info, err := projectInfo(infoVal)
	if err != nil {
		return nil, err
	}

	m := &Metainfo{
		Announce: announce,
		Info:     *info,
	}
	copy(m.InfoHash[:], root.InfoHash)

	if list, ok := root.GetList("announce-list"); ok {
		m.AnnounceList = projectAnnounceList(list)
	}
	if createdBy, ok := root.GetString("created by"); ok {
		m.CreatedBy = createdBy
	}
	if creationDate, ok := root.GetInt("creation date"); ok {
		m.CreationDate = uint64(creationDate)
	}
	if encoding, ok := root.GetString("encoding"); ok {
		m.Encoding = encoding
	}

	return m, nil
}

func projectInfo(v *bencode.Value) (*Info, error) {
	name, ok := v.GetString("name")
	if !ok {
		return nil, errors.Wrap(ErrBadTorrent, "missing info.name")
	}
	length, ok := v.GetInt("length")
	if !ok {
		return nil, errors.Wrap(ErrBadTorrent, "missing info.length (multi-file torrents are not supported)")
	}
	pieceLength, ok := v.GetInt("piece length")
	if !ok {
		return nil, errors.Wrap(ErrBadTorrent, "missing info.piece length")
	}
	if pieceLength <= 0 {
		return nil, errors.Wrap(ErrBadTorrent, "info.piece length must be positive")
	}
	piecesVal, ok := v.Get("pieces")
	if !ok || piecesVal.Pieces == nil {
		return nil, errors.Wrap(ErrBadTorrent, "missing or malformed info.pieces")
	}

	return &Info{
		Name:        name,
		Length:      length,
		PieceLength: pieceLength,
		Pieces:      piecesVal.Pieces,
	}, nil
}

// projectAnnounceList flattens BEP 12's list-of-lists into [][]string,
// silently dropping any tier entry that isn't a byte-string (a type
// mismatch on an optional field drops it rather than failing the parse).
func projectAnnounceList(tiers []*bencode.Value) [][]string {
	out := make([][]string, 0, len(tiers))
	for _, tier := range tiers {
		if tier.Kind != bencode.KindList {
			continue
		}
		var urls []string
		for _, u := range tier.List {
			if u.Kind == bencode.KindString {
				urls = append(urls, string(u.Str))
			}
		}
		if len(urls) > 0 {
			out = append(out, urls)
		}
	}
	return out
}

// FlattenTrackers returns every tracker URL the torrent names, in the order
// the orchestrator should try them: the announce-list tiers first (in tier
// and in-tier order), then the primary announce URL appended last, per
// spec §4.2/§4.6.
func (m *Metainfo) FlattenTrackers() []string {
	var out []string
	seen := make(map[string]bool)
	for _, tier := range m.AnnounceList {
		for _, u := range tier {
			if !seen[u] {
				seen[u] = true
				out = append(out, u)
			}
		}
	}
	if !seen[m.Announce] {
		out = append(out, m.Announce)
	}
	return out
}
