package tracker

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/spectre-xenon/rubit/internal/bencode"
)

const httpClientTimeout = 15 * time.Second

var httpClient = &http.Client{Timeout: httpClientTimeout}

// buildTrackerURL assembles the announce GET URL. info_hash and peer_id are
// raw 20-byte strings: url.Values would over-escape them through Go's UTF-8
// aware QueryEscape, so they're percent-encoded by hand, byte for byte.
func buildTrackerURL(base string, req AnnounceRequest) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrapf(err, "parse announce URL %q", base)
	}

	q := url.Values{
		"port":       []string{strconv.FormatUint(uint64(req.Port), 10)},
		"uploaded":   []string{strconv.FormatUint(req.Uploaded, 10)},
		"downloaded": []string{strconv.FormatUint(req.Downloaded, 10)},
		"left":       []string{strconv.FormatUint(req.Left, 10)},
		"compact":    []string{"1"},
		"event":      []string{"started"},
	}
	u.RawQuery = q.Encode() +
		"&info_hash=" + percentEncodeBytes(req.InfoHash[:]) +
		"&peer_id=" + percentEncodeBytes(req.PeerID[:])
	return u.String(), nil
}

const hexDigits = "0123456789ABCDEF"

// percentEncodeBytes percent-encodes raw bytes per RFC 3986's unreserved
// set, leaving every other byte (including non-UTF8 info-hash bytes)
// escaped as %XX.
func percentEncodeBytes(b []byte) string {
	out := make([]byte, 0, len(b)*3)
	for _, c := range b {
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '_' || c == '.' || c == '~' {
			out = append(out, c)
		} else {
			out = append(out, '%', hexDigits[c>>4], hexDigits[c&0x0F])
		}
	}
	return string(out)
}

func announceHTTP(ctx context.Context, base string, req AnnounceRequest) (*AnnounceResponse, error) {
	trackerURL, err := buildTrackerURL(base, req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, trackerURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build tracker request")
	}

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "tracker GET failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read tracker response")
	}

	root, _, err := bencode.Decode(body)
	if err != nil {
		return nil, errors.Wrapf(ErrFailedDecode, "tracker %q: %v", base, err)
	}
	if root.Kind != bencode.KindDict {
		return nil, errors.Wrapf(ErrFailedDecode, "tracker %q: response is not a dictionary", base)
	}

	if reason, ok := root.GetString("failure reason"); ok {
		return &AnnounceResponse{FailureReason: reason}, nil
	}

	out := &AnnounceResponse{}
	if interval, ok := root.GetInt("interval"); ok {
		out.Interval = time.Duration(interval) * time.Second
	}
	if minInterval, ok := root.GetInt("min interval"); ok {
		out.MinInterval = time.Duration(minInterval) * time.Second
	}
	if complete, ok := root.GetInt("complete"); ok {
		out.Complete = uint64(complete)
		out.HasComplete = true
	}
	if incomplete, ok := root.GetInt("incomplete"); ok {
		out.Incomplete = uint64(incomplete)
		out.HasIncomplete = true
	}

	peersVal, ok := root.Get("peers")
	if !ok {
		return out, nil
	}
	switch peersVal.Kind {
	case bencode.KindString:
		// Compact form: re-tagged by the decoder into peersVal.Peers.
		for _, p := range peersVal.Peers {
			out.Peers = append(out.Peers, PeerAddr{IP: p.IP, Port: p.Port})
		}
	case bencode.KindList:
		for _, entry := range peersVal.List {
			addr, ok := parseDictPeer(entry)
			if ok {
				out.Peers = append(out.Peers, addr)
			}
		}
	}

	return out, nil
}

// parseDictPeer decodes the non-compact peers form: a list of dicts each
// holding "ip" and "port".
func parseDictPeer(v *bencode.Value) (PeerAddr, bool) {
	var addr PeerAddr
	ipStr, ok := v.GetString("ip")
	if !ok {
		return addr, false
	}
	port, ok := v.GetInt("port")
	if !ok {
		return addr, false
	}
	parsed := net.ParseIP(ipStr)
	if parsed == nil {
		return addr, false
	}
	v4 := parsed.To4()
	if v4 == nil {
		return addr, false
	}
	copy(addr.IP[:], v4)
	addr.Port = uint16(port)
	return addr, true
}
