// Package tracker implements the BitTorrent tracker protocol: HTTP(S)
// GET announces and the UDP tracker protocol (BEP 15), behind a single
// Announce entry point that dispatches on the tracker's URL scheme.
package tracker

import (
	"context"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// Protocol identifies which wire protocol a Tracker speaks.
type Protocol int

const (
	ProtocolHTTP Protocol = iota
	ProtocolUDP
)

// ErrUnsupportedScheme is returned by New when the announce URL's scheme is
// neither http(s) nor udp.
var ErrUnsupportedScheme = errors.New("tracker: unsupported URL scheme")

// ErrFailedDecode is returned when a tracker's announce response cannot be
// parsed: an HTTP body that is not the expected bencode dictionary, or a
// UDP reply whose peer data is not a whole number of 6-byte records.
var ErrFailedDecode = errors.New("tracker: failed to decode response")

// Tracker identifies one tracker endpoint and the protocol to speak to it.
type Tracker struct {
	URL      string
	Protocol Protocol
}

// New parses rawURL and classifies its protocol. Schemes other than
// http, https and udp are rejected.
func New(rawURL string) (*Tracker, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse tracker URL %q", rawURL)
	}
	switch u.Scheme {
	case "http", "https":
		return &Tracker{URL: rawURL, Protocol: ProtocolHTTP}, nil
	case "udp":
		return &Tracker{URL: rawURL, Protocol: ProtocolUDP}, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedScheme, "%q", u.Scheme)
	}
}

// AnnounceRequest is the parameters sent with every announce, regardless of
// transport.
type AnnounceRequest struct {
	InfoHash   [20]byte
	PeerID     [20]byte
	Port       uint16
	Uploaded   uint64
	Downloaded uint64
	Left       uint64
}

// PeerAddr is one peer returned by a tracker, normalized across HTTP's
// compact/dictionary forms and UDP's fixed-width records.
type PeerAddr struct {
	IP   [4]byte
	Port uint16
}

// AnnounceResponse is the normalized result of an announce the tracker
// answered: either a FailureReason, or the interval and peer data.
type AnnounceResponse struct {
	FailureReason string
	Interval      time.Duration
	MinInterval   time.Duration // zero if absent
	Complete      uint64
	Incomplete    uint64
	HasComplete   bool
	HasIncomplete bool
	Peers         []PeerAddr
}

// Failed reports whether the tracker sent back a "failure reason" instead
// of peer data.
func (r *AnnounceResponse) Failed() bool {
	return r.FailureReason != ""
}

// Announce dispatches req to t's protocol and returns the normalized
// response.
func (t *Tracker) Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error) {
	switch t.Protocol {
	case ProtocolHTTP:
		return announceHTTP(ctx, t.URL, req)
	case ProtocolUDP:
		return announceUDP(ctx, t.URL, req)
	default:
		return nil, errors.Errorf("tracker: unknown protocol %d", t.Protocol)
	}
}
