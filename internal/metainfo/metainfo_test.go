package metainfo

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bstr encodes s as a bencode byte-string, computing the length prefix
// rather than relying on hand-counted literals.
func bstr(s string) string {
	return fmt.Sprintf("%d:%s", len(s), s)
}

func bint(n int64) string {
	return fmt.Sprintf("i%de", n)
}

func buildInfo(name string, length, pieceLength int64, pieces string) string {
	var b strings.Builder
	b.WriteByte('d')
	b.WriteString(bstr("length"))
	b.WriteString(bint(length))
	b.WriteString(bstr("name"))
	b.WriteString(bstr(name))
	b.WriteString(bstr("piece length"))
	b.WriteString(bint(pieceLength))
	b.WriteString(bstr("pieces"))
	b.WriteString(bstr(pieces))
	b.WriteByte('e')
	return b.String()
}

func buildTorrent(t *testing.T, extra string) ([]byte, [20]byte) {
	t.Helper()
	pieces := strings.Repeat("a", 20) + strings.Repeat("b", 20)
	info := buildInfo("file", 40, 20, pieces)

	var b strings.Builder
	b.WriteByte('d')
	b.WriteString(bstr("announce"))
	b.WriteString(bstr("http://tracker.test"))
	b.WriteString(bstr("info"))
	b.WriteString(info)
	b.WriteString(extra)
	b.WriteByte('e')

	sum := sha1.Sum([]byte(info))
	return []byte(b.String()), sum
}

func TestParseBasicTorrent(t *testing.T) {
	buf, wantHash := buildTorrent(t, "")
	m, err := Parse(bytes.NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, wantHash, m.InfoHash)
	assert.Equal(t, "http://tracker.test", m.Announce)
	assert.Equal(t, "file", m.Info.Name)
	assert.EqualValues(t, 40, m.Info.Length)
	assert.EqualValues(t, 20, m.Info.PieceLength)
	require.Len(t, m.Info.Pieces, 2)
	assert.Equal(t, 2, m.NumPieces())
}

func TestPieceSizeLastPieceRemainder(t *testing.T) {
	buf, _ := buildTorrent(t, "")
	m, err := Parse(bytes.NewReader(buf))
	require.NoError(t, err)
	assert.EqualValues(t, 20, m.PieceSize(0))
	assert.EqualValues(t, 20, m.PieceSize(1)) // 40 % 20 == 0, last piece is full size
}

func TestPieceSizeLastPieceShort(t *testing.T) {
	pieces := strings.Repeat("a", 20) + strings.Repeat("b", 20)
	info := buildInfo("file", 30, 20, pieces)
	full := "d" + bstr("announce") + bstr("http://tracker.test") + bstr("info") + info + "e"
	m, err := Parse(bytes.NewReader([]byte(full)))
	require.NoError(t, err)
	assert.EqualValues(t, 20, m.PieceSize(0))
	assert.EqualValues(t, 10, m.PieceSize(1))
}

func TestParseMissingAnnounceFails(t *testing.T) {
	pieces := strings.Repeat("a", 20)
	info := buildInfo("file", 20, 20, pieces)
	full := "d" + bstr("info") + info + "e"
	_, err := Parse(bytes.NewReader([]byte(full)))
	assert.ErrorIs(t, err, ErrBadTorrent)
}

func TestParseZeroPieceLengthRejected(t *testing.T) {
	pieces := strings.Repeat("a", 20)
	info := buildInfo("file", 20, 0, pieces)
	full := "d" + bstr("announce") + bstr("http://tracker.test") + bstr("info") + info + "e"
	_, err := Parse(bytes.NewReader([]byte(full)))
	assert.ErrorIs(t, err, ErrBadTorrent)
}

func TestParseMultiFileTorrentRejected(t *testing.T) {
	// info without "length" (multi-file torrents use a "files" list
	// instead) is rejected: only single-file torrents are supported.
	pieces := strings.Repeat("a", 20)
	filesEntry := "d" + bstr("length") + bint(5) + bstr("path") + "l" + bstr("a.txt") + "e" + "e"
	info := "d" + bstr("files") + "l" + filesEntry + "e" +
		bstr("name") + bstr("dir") +
		bstr("piece length") + bint(20) +
		bstr("pieces") + bstr(pieces) + "e"
	full := "d" + bstr("announce") + bstr("http://tracker.test") + bstr("info") + info + "e"
	_, err := Parse(bytes.NewReader([]byte(full)))
	assert.ErrorIs(t, err, ErrBadTorrent)
}

func TestOptionalFieldTypeMismatchIsDropped(t *testing.T) {
	buf, _ := buildTorrent(t, bstr("created by")+bint(5))
	m, err := Parse(bytes.NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, "", m.CreatedBy)
}

func TestFlattenTrackersAppendsAnnounceLast(t *testing.T) {
	m := &Metainfo{
		Announce: "http://primary.test",
		AnnounceList: [][]string{
			{"http://tier1a.test", "http://tier1b.test"},
			{"http://tier2.test"},
		},
	}
	got := m.FlattenTrackers()
	assert.Equal(t, []string{
		"http://tier1a.test", "http://tier1b.test", "http://tier2.test", "http://primary.test",
	}, got)
}

func TestFlattenTrackersDedupsPrimary(t *testing.T) {
	m := &Metainfo{
		Announce:     "http://primary.test",
		AnnounceList: [][]string{{"http://primary.test"}},
	}
	assert.Equal(t, []string{"http://primary.test"}, m.FlattenTrackers())
}
