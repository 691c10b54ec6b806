package swarm

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectre-xenon/rubit/internal/metainfo"
	"github.com/spectre-xenon/rubit/internal/peerwire"
)

func TestRegistryTryRegisterOnce(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.TryRegister("1.2.3.4:6881"))
	assert.False(t, r.TryRegister("1.2.3.4:6881"))
	assert.Equal(t, 1, r.Len())
	r.Release("1.2.3.4:6881")
	assert.Equal(t, 0, r.Len())
	assert.True(t, r.TryRegister("1.2.3.4:6881"))
}

func TestQueueFIFOAndRequeue(t *testing.T) {
	q := NewQueue([]int{0, 1, 2})
	i, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 0, i)
	q.PushBack(i)
	assert.Equal(t, 3, q.Len())

	i, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, i)

	_, _ = q.Pop()
	_, _ = q.Pop()
	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestProgressTracksCompletedBytes(t *testing.T) {
	p := &Progress{}
	assert.EqualValues(t, 0, p.Completed())
	p.Add(16384)
	p.Add(4096)
	assert.EqualValues(t, 16384+4096, p.Completed())
}

func TestOutputWritePieceAtOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	out, err := OpenOutput(path, 8)
	require.NoError(t, err)
	defer out.Close()

	require.NoError(t, out.WritePiece(1, 4, []byte("BBBB")))
	require.NoError(t, out.WritePiece(0, 4, []byte("AAAA")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("AAAABBBB"), got)
}

// fakePeer speaks just enough of the wire protocol to exercise one worker:
// handshake echo, a bitfield claiming piece 0, an unchoke, then a single
// piece's worth of block data in response to requests.
func fakePeer(t *testing.T, infoHash, peerID [20]byte, pieceData []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		hs, err := peerwire.ReadHandshake(conn)
		if err != nil {
			return
		}
		reply := peerwire.New(infoHash, peerID)
		conn.Write(reply.Serialize())
		_ = hs

		bitfieldMsg := &peerwire.Message{ID: peerwire.MsgBitfield, Payload: []byte{0b10000000}}
		conn.Write(bitfieldMsg.Serialize())

		unchoke := &peerwire.Message{ID: peerwire.MsgUnchoke}
		conn.Write(unchoke.Serialize())

		// Single request expected (piece fits in one block).
		msg, err := peerwire.ReadMessage(conn)
		if err != nil || msg.ID != peerwire.MsgInterested {
			return
		}
		msg, err = peerwire.ReadMessage(conn)
		if err != nil || msg.ID != peerwire.MsgRequest {
			return
		}
		index := binary.BigEndian.Uint32(msg.Payload[0:4])
		begin := binary.BigEndian.Uint32(msg.Payload[4:8])

		payload := make([]byte, 8+len(pieceData))
		binary.BigEndian.PutUint32(payload[0:4], index)
		binary.BigEndian.PutUint32(payload[4:8], begin)
		copy(payload[8:], pieceData)
		pieceMsg := &peerwire.Message{ID: peerwire.MsgPiece, Payload: payload}
		conn.Write(pieceMsg.Serialize())

		// Read the worker's next message (its "have" for the piece)
		// before closing; the worker then finds the queue empty and exits.
		peerwire.ReadMessage(conn)
	}()

	return ln.Addr().String()
}

func TestWorkerDownloadsSinglePiece(t *testing.T) {
	var infoHash, peerID [20]byte
	copy(infoHash[:], "aaaaaaaaaaaaaaaaaaaa")
	copy(peerID[:], "bbbbbbbbbbbbbbbbbbbb")

	pieceData := []byte("HELLO-PIECE-DATA")
	m := &metainfo.Metainfo{
		InfoHash: infoHash,
		Info: metainfo.Info{
			Length:      int64(len(pieceData)),
			PieceLength: int64(len(pieceData)),
			Pieces:      [][20]byte{sha1.Sum(pieceData)},
		},
	}

	addr := fakePeer(t, infoHash, peerID, pieceData)

	path := filepath.Join(t.TempDir(), "out.bin")
	out, err := OpenOutput(path, m.Info.Length)
	require.NoError(t, err)
	defer out.Close()

	queue := NewQueue([]int{0})
	w := newWorker(addr, peerID, infoHash, m, queue, out, &Progress{})

	done := make(chan error, 1)
	go func() { done <- w.run() }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrEmptyQueue)
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not finish in time")
	}

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, pieceData, got)
}

func TestEngineRunShortCircuitsWhenAlreadyComplete(t *testing.T) {
	pieceData := []byte("ALREADY-DONE-DATA")
	m := &metainfo.Metainfo{
		Announce: "http://tracker.test/announce",
		Info: metainfo.Info{
			Length:      int64(len(pieceData)),
			PieceLength: int64(len(pieceData)),
			Pieces:      [][20]byte{sha1.Sum(pieceData)},
		},
	}

	path := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, os.WriteFile(path, pieceData, 0o644))

	e, err := New(Config{Metainfo: m, OutputPath: path})
	require.NoError(t, err)

	err = e.Run(context.Background())
	require.NoError(t, err)
}

func TestNewRejectsTorrentWithNoUsableTrackers(t *testing.T) {
	m := &metainfo.Metainfo{Announce: "ftp://tracker.test/announce"}
	path := filepath.Join(t.TempDir(), "out.bin")
	_, err := New(Config{Metainfo: m, OutputPath: path})
	assert.Error(t, err)
}

// TestEngineHonorsOverrideAnnounceInterval drives the announce loop against a
// tracker that hands out zero peers and asserts re-announces happen on the
// configured cadence rather than once and never again.
func TestEngineHonorsOverrideAnnounceInterval(t *testing.T) {
	var announces int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&announces, 1)
		body := "d" +
			bstrSwarm("interval") + bintSwarm(3600) +
			bstrSwarm("peers") + bstrSwarm("") +
			"e"
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	pieceData := []byte("SOME-PIECE-DATA-")
	m := &metainfo.Metainfo{
		Announce: srv.URL,
		Info: metainfo.Info{
			Length:      int64(len(pieceData)),
			PieceLength: int64(len(pieceData)),
			Pieces:      [][20]byte{sha1.Sum(pieceData)},
		},
	}

	path := filepath.Join(t.TempDir(), "out.bin")
	e, err := New(Config{Metainfo: m, OutputPath: path, OverrideInterval: 30 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err = e.Run(ctx)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, atomic.LoadInt64(&announces), int64(2),
		"expected multiple announces within the override interval window")
}

func bstrSwarm(s string) string { return fmt.Sprintf("%d:%s", len(s), s) }
func bintSwarm(n int64) string  { return fmt.Sprintf("i%de", n) }
