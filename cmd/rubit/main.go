// Command rubit downloads a single-file torrent given a .torrent metainfo
// file and an output path.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin"

	"github.com/spectre-xenon/rubit/internal/metainfo"
	"github.com/spectre-xenon/rubit/internal/peerid"
	"github.com/spectre-xenon/rubit/internal/swarm"
	"github.com/spectre-xenon/rubit/internal/xlog"
)

var (
	app         = kingpin.New("rubit", "A minimal BitTorrent client")
	torrentFile = app.Flag("torrent-file", "path to the .torrent metainfo file").Short('t').Required().String()
	outPath     = app.Flag("out", "output file path; defaults to the torrent's name").Short('o').String()
	interval    = app.Flag("interval", "override the tracker-advertised announce interval, in seconds").Short('i').Uint()
	verbose     = app.Flag("verbose", "enable structured debug logging").Short('V').Bool()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	if *verbose {
		xlog.SetVerbose(true)
	}

	if err := run(); err != nil {
		xlog.Errorf("%v", err)
		os.Exit(1)
	}
}

func run() error {
	f, err := os.Open(*torrentFile)
	if err != nil {
		return err
	}
	defer f.Close()

	m, err := metainfo.Parse(f)
	if err != nil {
		return err
	}

	out := *outPath
	if out == "" {
		out = m.Info.Name
	}

	peerID := peerid.Generate()

	var overrideInterval time.Duration
	if *interval > 0 {
		overrideInterval = time.Duration(*interval) * time.Second
	}

	engine, err := swarm.New(swarm.Config{
		Metainfo:         m,
		OutputPath:       out,
		PeerID:           peerID,
		OverrideInterval: overrideInterval,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := engine.Run(ctx); err != nil {
		return err
	}

	xlog.Infof("download of %s complete", out)
	return nil
}
