// Package swarm is the download orchestrator: peer registry, piece queue,
// per-peer worker lifecycle, and the announce loop that drives them.
package swarm

import (
	"context"
	"math/rand"
	"time"

	"github.com/andres-erbsen/clock"
	"golang.org/x/sync/errgroup"

	"github.com/pkg/errors"

	"github.com/spectre-xenon/rubit/internal/metainfo"
	"github.com/spectre-xenon/rubit/internal/resume"
	"github.com/spectre-xenon/rubit/internal/tracker"
	"github.com/spectre-xenon/rubit/internal/xlog"
)

// maxPeers is the registry size at or above which the orchestrator stops
// announcing for more peers. Every peer a single announce returns is still
// admitted, so the registry can grow past it.
const maxPeers = 300

// listenPort is advertised to trackers; this client never accepts inbound
// peer connections, only outbound.
const listenPort = 6881

// Config configures one Engine run.
type Config struct {
	Metainfo         *metainfo.Metainfo
	OutputPath       string
	PeerID           [20]byte
	OverrideInterval time.Duration // zero means "use the tracker's interval"
	Clock            clock.Clock   // nil defaults to the real clock
}

// Engine drives one full download of a single torrent.
type Engine struct {
	cfg      Config
	registry *Registry
	queue    *Queue
	out      *Output
	progress *Progress
	clock    clock.Clock
	trackers []*tracker.Tracker
}

// New builds an Engine, resolving trackers and opening the output file.
// It does not start downloading until Run is called.
func New(cfg Config) (*Engine, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	out, err := OpenOutput(cfg.OutputPath, cfg.Metainfo.Info.Length)
	if err != nil {
		return nil, err
	}

	var trackers []*tracker.Tracker
	for _, url := range cfg.Metainfo.FlattenTrackers() {
		tr, err := tracker.New(url)
		if err != nil {
			xlog.Warnf("skipping unusable tracker %q: %v", url, err)
			continue
		}
		trackers = append(trackers, tr)
	}
	if len(trackers) == 0 {
		out.Close()
		return nil, errors.New("swarm: no usable trackers in torrent")
	}

	return &Engine{
		cfg:      cfg,
		registry: NewRegistry(),
		out:      out,
		progress: &Progress{},
		clock:    cfg.Clock,
		trackers: trackers,
	}, nil
}

// Run scans for already-complete pieces, then announces and spawns workers
// until every piece is downloaded (or every worker has given up and the
// queue is empty).
func (e *Engine) Run(ctx context.Context) error {
	defer e.out.Close()

	done, err := resume.Scan(e.cfg.OutputPath, e.cfg.Metainfo)
	if err != nil {
		return errors.Wrap(err, "resume scan")
	}

	var remaining []int
	for i := 0; i < e.cfg.Metainfo.NumPieces(); i++ {
		if !done[i] {
			remaining = append(remaining, i)
			continue
		}
		e.progress.Add(e.cfg.Metainfo.PieceSize(i))
	}
	rand.Shuffle(len(remaining), func(i, j int) { remaining[i], remaining[j] = remaining[j], remaining[i] })
	e.queue = NewQueue(remaining)

	if e.queue.Len() == 0 {
		xlog.Infof("nothing to do, %s already complete", e.cfg.OutputPath)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	var nextAnnounce time.Time
	trackerIdx := 0

	for {
		if e.queue.Len() == 0 && e.registry.Len() == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return g.Wait()
		default:
		}

		if e.registry.Len() < maxPeers && !e.clock.Now().Before(nextAnnounce) {
			interval, err := e.announceOnce(gctx, trackerIdx, g)
			trackerIdx++
			if err == nil && interval > 0 {
				nextAnnounce = e.clock.Now().Add(interval)
			} else {
				// Failure or no usable interval: back off briefly before
				// retrying the next tracker in round-robin order.
				nextAnnounce = e.clock.Now().Add(5 * time.Second)
			}
		}

		e.clock.Sleep(200 * time.Millisecond)
	}

	return g.Wait()
}

// announceOnce contacts the tracker at trackers[idx % len(trackers)] and
// spawns a worker per returned peer. It returns the interval to wait before
// the next announce.
func (e *Engine) announceOnce(ctx context.Context, idx int, g *errgroup.Group) (time.Duration, error) {
	tr := e.trackers[idx%len(e.trackers)]

	left := e.cfg.Metainfo.Info.Length - e.progress.Completed()
	if left < 0 {
		left = 0
	}
	req := tracker.AnnounceRequest{
		InfoHash: e.cfg.Metainfo.InfoHash,
		PeerID:   e.cfg.PeerID,
		Port:     listenPort,
		Left:     uint64(left),
	}

	resp, err := tr.Announce(ctx, req)
	if err != nil {
		xlog.Warnf("tracker %s announce failed: %v", tr.URL, err)
		return 0, err
	}
	if resp.Failed() {
		xlog.Warnf("tracker %s rejected announce: %s", tr.URL, resp.FailureReason)
		return 0, errors.Errorf("tracker failure: %s", resp.FailureReason)
	}

	for _, p := range resp.Peers {
		addr := peerAddrString(p)
		if !e.registry.TryRegister(addr) {
			continue
		}
		e.spawnWorker(g, addr)
	}

	interval := resp.Interval
	if resp.MinInterval > 0 {
		interval = resp.MinInterval
	}
	if e.cfg.OverrideInterval > 0 {
		interval = e.cfg.OverrideInterval
	}
	return interval, nil
}

func (e *Engine) spawnWorker(g *errgroup.Group, addr string) {
	g.Go(func() error {
		defer e.registry.Release(addr)
		w := newWorker(addr, e.cfg.PeerID, e.cfg.Metainfo.InfoHash, e.cfg.Metainfo, e.queue, e.out, e.progress)
		if err := w.run(); err != nil && !errors.Is(err, ErrEmptyQueue) {
			xlog.Debugf("worker for %s exited: %v", addr, err)
		}
		return nil
	})
}

func peerAddrString(p tracker.PeerAddr) string {
	ip := net4(p.IP)
	return ip.String() + ":" + portString(p.Port)
}
