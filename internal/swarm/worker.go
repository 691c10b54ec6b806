package swarm

import (
	"crypto/sha1"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/spectre-xenon/rubit/internal/bitfield"
	"github.com/spectre-xenon/rubit/internal/metainfo"
	"github.com/spectre-xenon/rubit/internal/peerwire"
	"github.com/spectre-xenon/rubit/internal/xlog"
)

const (
	connectTimeout   = 2 * time.Second
	handshakeTimeout = 2 * time.Second
	steadyTimeout    = 10 * time.Second
)

// myState tracks what this client has told the peer about its interest.
type myState int

const (
	stateNone myState = iota
	stateInterested
	stateNotInterested
)

// peerChokeState tracks whether the remote peer is letting us request.
type peerChokeState int

const (
	stateChoked peerChokeState = iota
	stateUnchoked
)

// ErrTimeOut is returned when a peer fails to connect or respond in time.
var ErrTimeOut = errors.New("swarm: timed out")

// ErrEmptyQueue signals a clean worker exit: there was nothing left to
// download when this worker asked for more work.
var ErrEmptyQueue = errors.New("swarm: queue empty")

// ErrWrongTorrent is returned when a peer's handshake carries a different
// info-hash than the one we're downloading.
var ErrWrongTorrent = errors.New("swarm: peer handshake info-hash mismatch")

// worker downloads pieces from a single peer connection until the queue
// drains, the peer disconnects, or a fatal protocol error occurs.
type worker struct {
	addr     string
	peerID   [20]byte
	infoHash [20]byte
	m        *metainfo.Metainfo
	queue    *Queue
	out      *Output
	progress *Progress

	conn       net.Conn
	peerPieces bitfield.Bitfield
	my         myState
	peerState  peerChokeState
}

func newWorker(addr string, peerID, infoHash [20]byte, m *metainfo.Metainfo, queue *Queue, out *Output, progress *Progress) *worker {
	return &worker{
		addr:     addr,
		peerID:   peerID,
		infoHash: infoHash,
		m:        m,
		queue:    queue,
		out:      out,
		progress: progress,
	}
}

// run drives the full worker lifecycle. It never returns an error that the
// orchestrator needs to treat as fatal: every outcome here is local to this
// one peer connection.
func (w *worker) run() error {
	conn, err := net.DialTimeout("tcp", w.addr, connectTimeout)
	if err != nil {
		return errors.Wrapf(ErrTimeOut, "connect to %s: %v", w.addr, err)
	}
	w.conn = conn
	defer conn.Close()

	if err := w.handshake(); err != nil {
		return err
	}

	if err := w.preamble(); err != nil {
		return err
	}

	return w.downloadLoop()
}

func (w *worker) handshake() error {
	if err := w.conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return errors.Wrap(err, "set handshake deadline")
	}

	hs := peerwire.New(w.infoHash, w.peerID)
	if _, err := w.conn.Write(hs.Serialize()); err != nil {
		return errors.Wrap(err, "send handshake")
	}

	resp, err := peerwire.ReadHandshake(w.conn)
	if err != nil {
		return errors.Wrap(err, "read handshake")
	}
	if resp.InfoHash != w.infoHash {
		return errors.Wrapf(ErrWrongTorrent, "peer %s", w.addr)
	}
	return nil
}

// preamble absorbs bitfield/have messages into peerPieces until the first
// unchoke, which ends it normally; any other message id ends it too, just
// without peerState becoming Unchoked.
func (w *worker) preamble() error {
	w.peerPieces = bitfield.New(w.m.NumPieces())

	for {
		msg, err := peerwire.ReadMessage(w.conn)
		if err != nil {
			return errors.Wrap(err, "read preamble message")
		}
		if msg == nil {
			continue // keep-alive
		}
		switch msg.ID {
		case peerwire.MsgBitfield:
			copy(w.peerPieces, msg.Payload)
		case peerwire.MsgHave:
			idx, err := peerwire.ParseHave(msg)
			if err != nil {
				return errors.Wrap(err, "parse preamble have")
			}
			w.peerPieces.SetPiece(idx)
		case peerwire.MsgUnchoke:
			w.peerState = stateUnchoked
			return nil
		default:
			return nil
		}
	}
}

func (w *worker) downloadLoop() error {
	for {
		if err := w.refreshSteadyDeadline(); err != nil {
			return err
		}

		if w.my == stateNone {
			if err := w.send(&peerwire.Message{ID: peerwire.MsgInterested}); err != nil {
				return err
			}
			w.my = stateInterested
		}

		if w.peerState == stateChoked {
			if err := w.waitForUnchoke(); err != nil {
				return err
			}
			continue
		}

		index, ok := w.queue.Pop()
		if !ok {
			_ = w.send(&peerwire.Message{ID: peerwire.MsgNotInterested})
			return ErrEmptyQueue
		}

		if !w.peerPieces.HasPiece(index) {
			w.queue.PushBack(index)
			continue
		}
		w.peerPieces.ClearPiece(index)

		buf, choked, err := w.downloadPiece(index)
		if err != nil {
			// An unexpected mid-piece disconnection drops the claimed index;
			// the next run's resume scan recovers it.
			return err
		}
		if choked {
			w.peerState = stateChoked
			w.queue.PushBack(index)
			w.peerPieces.SetPiece(index)
			continue
		}

		sum := sha1.Sum(buf)
		if sum != w.m.Info.Pieces[index] {
			xlog.Warnf("piece %d failed hash check from %s, re-queueing", index, w.addr)
			w.queue.PushBack(index)
			w.peerPieces.SetPiece(index)
			continue
		}

		if err := w.out.WritePiece(index, w.m.Info.PieceLength, buf); err != nil {
			return err
		}
		if w.progress != nil {
			w.progress.Add(int64(len(buf)))
		}
		_ = w.send(peerwire.Have(index))
	}
}

// refreshSteadyDeadline resets the connection's deadline to steadyTimeout
// from now, so the timeout tracks idle time between reads rather than the
// connection's total lifetime.
func (w *worker) refreshSteadyDeadline() error {
	if err := w.conn.SetDeadline(time.Now().Add(steadyTimeout)); err != nil {
		return errors.Wrap(err, "set steady-state deadline")
	}
	return nil
}

func (w *worker) waitForUnchoke() error {
	for {
		if err := w.refreshSteadyDeadline(); err != nil {
			return err
		}
		msg, err := peerwire.ReadMessage(w.conn)
		if err != nil {
			return errors.Wrap(err, "read while choked")
		}
		if msg == nil {
			continue
		}
		switch msg.ID {
		case peerwire.MsgUnchoke:
			w.peerState = stateUnchoked
			return nil
		case peerwire.MsgChoke:
			// already choked, nothing changes
		case peerwire.MsgHave:
			if idx, err := peerwire.ParseHave(msg); err == nil {
				w.peerPieces.SetPiece(idx)
			}
		case peerwire.MsgBitfield:
			copy(w.peerPieces, msg.Payload)
		}
	}
}

// downloadPiece requests and reads one full piece. The second return value
// reports whether the peer choked us mid-piece (a normal requeue, not an
// error).
func (w *worker) downloadPiece(index int) ([]byte, bool, error) {
	pieceSize := w.m.PieceSize(index)
	buf := make([]byte, pieceSize)

	blockSize := int64(peerwire.BlockSize)
	if pieceSize < blockSize {
		blockSize = pieceSize
	}
	numBlocks := (pieceSize + blockSize - 1) / blockSize

	for k := int64(0); k < numBlocks; k++ {
		begin := k * blockSize
		length := blockSize
		if k == numBlocks-1 {
			if rem := pieceSize % blockSize; rem != 0 {
				length = rem
			}
		}

		if err := w.send(peerwire.Request(index, int(begin), int(length))); err != nil {
			return nil, false, err
		}

		for {
			if err := w.refreshSteadyDeadline(); err != nil {
				return nil, false, err
			}
			msg, err := peerwire.ReadMessage(w.conn)
			if err != nil {
				return nil, false, errors.Wrap(err, "read piece block")
			}
			if msg == nil {
				continue
			}
			if msg.ID == peerwire.MsgChoke {
				return nil, true, nil
			}
			if msg.ID != peerwire.MsgPiece {
				continue
			}
			if _, err := peerwire.ParsePiece(index, buf, msg); err != nil {
				return nil, false, errors.Wrap(err, "parse piece block")
			}
			break
		}
	}

	return buf, false, nil
}

func (w *worker) send(msg *peerwire.Message) error {
	if _, err := w.conn.Write(msg.Serialize()); err != nil {
		return errors.Wrap(err, "write peer message")
	}
	return nil
}
