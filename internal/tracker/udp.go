package tracker

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

const udpProtocolID uint64 = 0x41727101980

const (
	actionConnect  uint32 = 0
	actionAnnounce uint32 = 1
)

// ErrTransactionMismatch is returned when a UDP tracker's reply carries a
// transaction id different from the one we sent.
var ErrTransactionMismatch = errors.New("tracker: transaction id mismatch")

// udpMaxAttempts caps how many times a connect or announce round trip is
// tried before the client gives up on this tracker.
const udpMaxAttempts = 8

func announceUDP(ctx context.Context, rawURL string, req AnnounceRequest) (*AnnounceResponse, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse UDP tracker URL %q", rawURL)
	}

	addr, err := net.ResolveUDPAddr("udp", u.Host)
	if err != nil {
		return nil, errors.Wrap(err, "resolve UDP tracker address")
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, errors.Wrap(err, "dial UDP tracker")
	}
	defer conn.Close()

	var connID uint64
	err = retryUDP(ctx, func() error {
		var rerr error
		connID, rerr = udpConnect(conn)
		return rerr
	})
	if err != nil {
		return nil, errors.Wrap(err, "UDP tracker connect")
	}

	var resp *AnnounceResponse
	err = retryUDP(ctx, func() error {
		var rerr error
		resp, rerr = udpAnnounce(conn, connID, req)
		return rerr
	})
	if err != nil {
		return nil, errors.Wrap(err, "UDP tracker announce")
	}
	return resp, nil
}

// retryUDP runs op up to udpMaxAttempts times, waiting between attempts with
// an exponential backoff that starts at 15 seconds and doubles (with the
// backoff package's default 60-second cap per wait and random jitter). op
// sets its own read deadline per attempt.
func retryUDP(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 15 * time.Second
	b.Multiplier = 2
	b.MaxElapsedTime = 0 // bounded by MaxRetries below instead
	policy := backoff.WithMaxRetries(b, udpMaxAttempts-1)
	return backoff.Retry(op, backoff.WithContext(policy, ctx))
}

func newTransactionID() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, errors.Wrap(err, "generate transaction id")
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func udpConnect(conn *net.UDPConn) (uint64, error) {
	txID, err := newTransactionID()
	if err != nil {
		return 0, err
	}

	var req [16]byte
	binary.BigEndian.PutUint64(req[0:8], udpProtocolID)
	binary.BigEndian.PutUint32(req[8:12], actionConnect)
	binary.BigEndian.PutUint32(req[12:16], txID)

	if err := conn.SetDeadline(time.Now().Add(15 * time.Second)); err != nil {
		return 0, errors.Wrap(err, "set deadline")
	}
	if _, err := conn.Write(req[:]); err != nil {
		return 0, errors.Wrap(err, "send connect request")
	}

	var resp [16]byte
	n, err := conn.Read(resp[:])
	if err != nil {
		return 0, errors.Wrap(err, "read connect response")
	}
	if n < 16 {
		return 0, errors.Errorf("connect response too short: %d bytes", n)
	}

	respAction := binary.BigEndian.Uint32(resp[0:4])
	respTxID := binary.BigEndian.Uint32(resp[4:8])
	if respTxID != txID {
		return 0, ErrTransactionMismatch
	}
	if respAction != actionConnect {
		return 0, errors.Errorf("unexpected action %d in connect response", respAction)
	}

	return binary.BigEndian.Uint64(resp[8:16]), nil
}

func udpAnnounce(conn *net.UDPConn, connID uint64, req AnnounceRequest) (*AnnounceResponse, error) {
	txID, err := newTransactionID()
	if err != nil {
		return nil, err
	}

	var pkt [98]byte
	binary.BigEndian.PutUint64(pkt[0:8], connID)
	binary.BigEndian.PutUint32(pkt[8:12], actionAnnounce)
	binary.BigEndian.PutUint32(pkt[12:16], txID)
	copy(pkt[16:36], req.InfoHash[:])
	copy(pkt[36:56], req.PeerID[:])
	binary.BigEndian.PutUint64(pkt[56:64], req.Downloaded)
	binary.BigEndian.PutUint64(pkt[64:72], req.Left)
	binary.BigEndian.PutUint64(pkt[72:80], req.Uploaded)
	binary.BigEndian.PutUint32(pkt[80:84], 0) // event: none
	binary.BigEndian.PutUint32(pkt[84:88], 0) // IP: default

	key, err := newTransactionID()
	if err != nil {
		return nil, errors.Wrap(err, "generate announce key")
	}
	binary.BigEndian.PutUint32(pkt[88:92], key)
	binary.BigEndian.PutUint32(pkt[92:96], 0xFFFFFFFF) // num_want: no preference
	binary.BigEndian.PutUint16(pkt[96:98], req.Port)

	if err := conn.SetDeadline(time.Now().Add(15 * time.Second)); err != nil {
		return nil, errors.Wrap(err, "set deadline")
	}
	if _, err := conn.Write(pkt[:]); err != nil {
		return nil, errors.Wrap(err, "send announce request")
	}

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, errors.Wrap(err, "read announce response")
	}
	if n < 20 {
		return nil, errors.Errorf("announce response too short: %d bytes", n)
	}

	respAction := binary.BigEndian.Uint32(buf[0:4])
	respTxID := binary.BigEndian.Uint32(buf[4:8])
	if respTxID != txID {
		return nil, ErrTransactionMismatch
	}
	if respAction != actionAnnounce {
		return nil, errors.Errorf("unexpected action %d in announce response", respAction)
	}

	interval := binary.BigEndian.Uint32(buf[8:12])
	leechers := binary.BigEndian.Uint32(buf[12:16])
	seeders := binary.BigEndian.Uint32(buf[16:20])

	peerData := buf[20:n]
	if len(peerData)%6 != 0 {
		return nil, errors.Wrapf(ErrFailedDecode, "invalid peer data length: %d", len(peerData))
	}

	resp := &AnnounceResponse{
		Interval:      time.Duration(interval) * time.Second,
		Complete:      uint64(seeders),
		Incomplete:    uint64(leechers),
		HasComplete:   true,
		HasIncomplete: true,
	}
	for i := 0; i+6 <= len(peerData); i += 6 {
		chunk := peerData[i : i+6]
		if isZeroPeerRecord(chunk) {
			continue
		}
		var p PeerAddr
		copy(p.IP[:], chunk[0:4])
		p.Port = binary.BigEndian.Uint16(chunk[4:6])
		resp.Peers = append(resp.Peers, p)
	}
	return resp, nil
}

// isZeroPeerRecord reports whether a 6-byte peer record is all-zero padding,
// which trackers sometimes emit and which must be dropped rather than
// treated as a peer at 0.0.0.0:0.
func isZeroPeerRecord(chunk []byte) bool {
	for _, b := range chunk {
		if b != 0 {
			return false
		}
	}
	return true
}
