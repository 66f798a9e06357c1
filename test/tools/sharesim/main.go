// sharesim drives a bridge with synthetic sharers for soak testing.
// Each sharer runs the full capture → encode → publish pipeline on its
// own bridge connection and reconnects whenever the bridge drops it, so
// receivers see session supersedes as well as steady traffic.
//
// Usage:
//
//	go run ./test/tools/sharesim -n 5 -url ws://127.0.0.1:7443
//	go run ./test/tools/sharesim -n 1 -view   (also watch, print jitter stats)
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/The404Studios/Yurt-Cord-sub006/broadcast"
	"github.com/The404Studios/Yurt-Cord-sub006/capture"
	"github.com/The404Studios/Yurt-Cord-sub006/certs"
	"github.com/The404Studios/Yurt-Cord-sub006/channel/wsbridge"
	"github.com/The404Studios/Yurt-Cord-sub006/config"
	"github.com/The404Studios/Yurt-Cord-sub006/playback"
)

const statsInterval = 10 * time.Second

func main() {
	nFlag := flag.Int("n", 3, "Number of simultaneous sharers")
	urlFlag := flag.String("url", "ws://127.0.0.1:7443", "Bridge URL")
	groupFlag := flag.String("group", "soak", "Group to share into")
	fpsFlag := flag.Int("fps", 15, "Capture rate per sharer")
	sizeFlag := flag.String("size", "1280x720", "Synthetic display size (WxH)")
	durFlag := flag.Duration("duration", 0, "Stop after this long (0 = run until interrupted)")
	viewFlag := flag.Bool("view", false, "Attach a viewer and report jitter stats")
	fpFlag := flag.String("fingerprint", "", "Pin the bridge certificate (base64 SHA-256)")
	flag.Parse()

	// Progress goes to stdout; keep library logging down to warnings.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	width, height, err := parseSize(*sizeFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bad -size: %v\n", err)
		os.Exit(1)
	}

	var tlsConf *tls.Config
	if *fpFlag != "" {
		tlsConf, err = certs.PinnedClientConfig(*fpFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Bad -fingerprint: %v\n", err)
			os.Exit(1)
		}
	}

	cfg := config.Default()
	cfg.FPS = *fpsFlag
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Bad config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if *durFlag > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, *durFlag)
		defer tcancel()
	}

	fmt.Printf("Starting %d sharers -> %s (group %q, %dx%d @ %d fps)\n",
		*nFlag, *urlFlag, *groupFlag, width, height, *fpsFlag)

	var wg sync.WaitGroup
	for i := 1; i <= *nFlag; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			runSharer(ctx, id, *urlFlag, *groupFlag, cfg, tlsConf, width, height)
		}(fmt.Sprintf("sim-%d", i))

		time.Sleep(100 * time.Millisecond)
	}

	if *viewFlag {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runViewer(ctx, *urlFlag, *groupFlag, cfg, tlsConf)
		}()
	}

	wg.Wait()
	fmt.Println("All sharers stopped")
}

// runSharer keeps one synthetic share alive against the bridge until ctx
// ends. Every reconnect starts a fresh session, which receivers handle as
// a supersede.
func runSharer(ctx context.Context, peerID, url, group string, cfg config.Config, tlsConf *tls.Config, width, height int) {
	for {
		if ctx.Err() != nil {
			return
		}

		client, err := wsbridge.DialTLS(ctx, url, group, peerID, tlsConf)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[%s] connect failed: %v, retrying...\n", peerID, err)
			if !sleepCtx(ctx, time.Second) {
				return
			}
			continue
		}

		mgr := broadcast.NewManager(cfg, client, nil)
		src := capture.NewSyntheticSource(width, height, cfg.FPS)
		sess, err := mgr.StartShare(ctx, peerID, group, src)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[%s] share failed: %v\n", peerID, err)
			client.Close()
			return
		}
		fmt.Printf("[%s] sharing session %s\n", peerID, sess.ID)

		ticker := time.NewTicker(statsInterval)
	run:
		for {
			select {
			case <-ctx.Done():
				break run
			case <-client.Done():
				fmt.Fprintf(os.Stderr, "[%s] connection lost, reconnecting...\n", peerID)
				break run
			case <-ticker.C:
				st := sess.Stats()
				fmt.Printf("[%s] sent=%d skipped=%d qdrop=%d profile=%s q=%d enc=%s\n",
					peerID, st.Sent, st.Skipped, st.QueueDropped,
					st.Resolution, st.Quality, st.Encoder)
			}
		}
		ticker.Stop()

		mgr.StopAll()
		client.Close()
		if ctx.Err() != nil {
			return
		}
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

// runViewer watches the group and prints per-stream jitter stats.
func runViewer(ctx context.Context, url, group string, cfg config.Config, tlsConf *tls.Config) {
	for {
		if ctx.Err() != nil {
			return
		}

		client, err := wsbridge.DialTLS(ctx, url, group, "sim-viewer", tlsConf)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[viewer] connect failed: %v, retrying...\n", err)
			if !sleepCtx(ctx, time.Second) {
				return
			}
			continue
		}

		recv := playback.NewReceiver(cfg, client, nil, nil, nil)
		if err := recv.Watch(group); err != nil {
			fmt.Fprintf(os.Stderr, "[viewer] watch failed: %v\n", err)
			client.Close()
			return
		}

		ticker := time.NewTicker(statsInterval)
	run:
		for {
			select {
			case <-ctx.Done():
				break run
			case <-client.Done():
				fmt.Fprintf(os.Stderr, "[viewer] connection lost, reconnecting...\n")
				break run
			case <-ticker.C:
				for _, st := range recv.Streams() {
					fmt.Printf("[viewer] %s state=%s depth=%d recv=%d dup=%d drop=%d skip=%d decoded=%d\n",
						st.SharerID, st.State, st.Depth, st.Received,
						st.Duplicates, st.Dropped, st.Skipped, st.Decoded)
				}
			}
		}
		ticker.Stop()

		recv.Close()
		client.Close()
		if ctx.Err() != nil {
			return
		}
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// parseSize parses a "WxH" display size.
func parseSize(s string) (int, int, error) {
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0, fmt.Errorf("want WxH, got %q", s)
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return 0, 0, fmt.Errorf("bad width %q", w)
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return 0, 0, fmt.Errorf("bad height %q", h)
	}
	if width < 16 || height < 16 {
		return 0, 0, fmt.Errorf("size %dx%d too small", width, height)
	}
	return width, height, nil
}
