package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/The404Studios/Yurt-Cord-sub006/broadcast"
	"github.com/The404Studios/Yurt-Cord-sub006/capture"
	"github.com/The404Studios/Yurt-Cord-sub006/certs"
	"github.com/The404Studios/Yurt-Cord-sub006/channel/wsbridge"
	"github.com/The404Studios/Yurt-Cord-sub006/config"
	"github.com/The404Studios/Yurt-Cord-sub006/encode/gsthw"
	"github.com/The404Studios/Yurt-Cord-sub006/media"
	"github.com/The404Studios/Yurt-Cord-sub006/playback"
)

var version = "dev"

const usage = `usage: yurtshare <role> [role ...]

roles:
  bridge   run the websocket bridge hub
  share    capture this machine's display and share it to the group
  view     watch the group's shares

Roles may be combined ("yurtshare bridge share view" runs a loopback demo
in one process). Addressing comes from BRIDGE_ADDR, BRIDGE_URL, GROUP and
PEER_ID; set BRIDGE_TLS=1 to serve wss (the bridge logs its certificate
fingerprint, clients pin it via BRIDGE_FINGERPRINT). Session tuning comes
from the YURT_* variables and an optional .env file.
`

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	roles, err := parseRoles(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		slog.Error("bad configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	bridgeAddr := envOr("BRIDGE_ADDR", ":7443")
	bridgeURL := envOr("BRIDGE_URL", "ws://127.0.0.1:7443")
	group := envOr("GROUP", "main")
	peerID := envOr("PEER_ID", defaultPeerID())

	slog.Info("yurtshare starting",
		"version", version,
		"roles", strings.Join(roles.names(), ","),
		"group", group,
		"peer", peerID,
	)

	g, ctx := errgroup.WithContext(ctx)

	if roles.bridge {
		if err := runBridge(ctx, g, bridgeAddr); err != nil {
			slog.Error("bridge failed to start", "error", err)
			os.Exit(1)
		}
	}
	if roles.share {
		if err := runShare(ctx, g, cfg, bridgeURL, group, peerID); err != nil {
			slog.Error("share failed to start", "error", err)
			os.Exit(1)
		}
	}
	if roles.view {
		if err := runView(ctx, g, cfg, bridgeURL, group, peerID); err != nil {
			slog.Error("view failed to start", "error", err)
			os.Exit(1)
		}
	}

	if err := g.Wait(); err != nil {
		slog.Error("daemon error", "error", err)
		os.Exit(1)
	}
}

type roleSet struct {
	bridge, share, view bool
}

func parseRoles(args []string) (roleSet, error) {
	var rs roleSet
	for _, arg := range args {
		for _, r := range strings.Split(arg, ",") {
			switch strings.TrimSpace(r) {
			case "bridge":
				rs.bridge = true
			case "share":
				rs.share = true
			case "view":
				rs.view = true
			case "":
			default:
				return rs, fmt.Errorf("unknown role %q", r)
			}
		}
	}
	if !rs.bridge && !rs.share && !rs.view {
		return rs, errors.New("no role given")
	}
	return rs, nil
}

func (r roleSet) names() []string {
	var out []string
	if r.bridge {
		out = append(out, "bridge")
	}
	if r.share {
		out = append(out, "share")
	}
	if r.view {
		out = append(out, "view")
	}
	return out
}

// runBridge serves the websocket hub, with wss when BRIDGE_TLS is set.
func runBridge(ctx context.Context, g *errgroup.Group, addr string) error {
	hub := wsbridge.NewHub()
	srv := &http.Server{Addr: addr, Handler: hub}

	if os.Getenv("BRIDGE_TLS") != "" {
		cert, err := certs.Generate(certs.DefaultValidity, splitHosts(os.Getenv("BRIDGE_HOSTS"))...)
		if err != nil {
			return fmt.Errorf("generate bridge certificate: %w", err)
		}
		slog.Info("bridge certificate generated",
			"fingerprint", cert.FingerprintBase64(),
			"expires", cert.NotAfter.Format(time.RFC3339),
		)
		srv.TLSConfig = cert.ServerConfig()
	}

	g.Go(func() error {
		slog.Info("bridge listening", "addr", addr, "tls", srv.TLSConfig != nil)
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("bridge server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	return nil
}

// runShare captures the display and publishes it to the group until the
// context ends.
func runShare(ctx context.Context, g *errgroup.Group, cfg config.Config, bridgeURL, group, peerID string) error {
	client, err := dialBridge(ctx, bridgeURL, group, peerID)
	if err != nil {
		return fmt.Errorf("share: %w", err)
	}

	src, err := openSource(cfg)
	if err != nil {
		client.Close()
		return fmt.Errorf("share: %w", err)
	}

	mgr := broadcast.NewManager(cfg, client, slog.Default())
	if cfg.PreferHardware {
		mgr.SetNative(gsthw.NewEncoder(cfg.FullFrameInterval))
	}
	mgr.OnTerminate(func(s *broadcast.Session, err error) {
		if err != nil {
			slog.Error("share terminated", "session", s.ID, "error", err)
		}
	})

	sess, err := mgr.StartShare(ctx, peerID, group, src)
	if err != nil {
		client.Close()
		return fmt.Errorf("share: %w", err)
	}
	slog.Info("sharing display",
		"session", sess.ID,
		"size", fmt.Sprintf("%dx%d", sess.Width, sess.Height),
		"fps", sess.FPS,
	)

	g.Go(func() error {
		<-ctx.Done()
		mgr.StopAll()
		client.Close()
		return nil
	})
	g.Go(func() error { return watchClient(ctx, client) })
	return nil
}

// runView watches the group's shares and keeps the decoded frame and
// thumbnail caches warm.
func runView(ctx context.Context, g *errgroup.Group, cfg config.Config, bridgeURL, group, peerID string) error {
	client, err := dialBridge(ctx, bridgeURL, group, peerID)
	if err != nil {
		return fmt.Errorf("view: %w", err)
	}

	playback.RegisterDecoder(media.CodecH264, func() (playback.FrameDecoder, error) {
		return gsthw.NewDecoder()
	})

	thumbs := playback.NewThumbnailCache(cfg)
	recv := playback.NewReceiver(cfg, client, playback.NewFrameCache(), thumbs, slog.Default())
	if err := recv.Watch(group); err != nil {
		thumbs.Close()
		client.Close()
		return fmt.Errorf("view: %w", err)
	}

	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				recv.Close()
				thumbs.Close()
				client.Close()
				return nil
			case <-ticker.C:
				for _, st := range recv.Streams() {
					slog.Debug("stream stats",
						"sharer", st.SharerID,
						"state", st.State,
						"depth", st.Depth,
						"decoded", st.Decoded,
						"dropped", st.Dropped,
						"skipped", st.Skipped,
					)
				}
			}
		}
	})
	g.Go(func() error { return watchClient(ctx, client) })
	return nil
}

// dialBridge connects to the bridge, pinning the server certificate when
// BRIDGE_FINGERPRINT is set. The bridge may still be binding when roles are
// combined in one process, so the dial retries briefly.
func dialBridge(ctx context.Context, bridgeURL, group, peerID string) (*wsbridge.Client, error) {
	var tlsConf *tls.Config
	if fp := os.Getenv("BRIDGE_FINGERPRINT"); fp != "" {
		var err error
		tlsConf, err = certs.PinnedClientConfig(fp)
		if err != nil {
			return nil, err
		}
	}

	var lastErr error
	for attempt := 0; attempt < 12; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(250 * time.Millisecond):
			}
		}
		c, err := wsbridge.DialTLS(ctx, bridgeURL, group, peerID, tlsConf)
		if err == nil {
			return c, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// watchClient turns a lost bridge connection into a daemon error so the
// process exits instead of idling disconnected.
func watchClient(ctx context.Context, c *wsbridge.Client) error {
	select {
	case <-ctx.Done():
		return nil
	case <-c.Done():
		if ctx.Err() != nil {
			return nil
		}
		return errors.New("bridge connection lost")
	}
}

// openSource picks the capture source. SHARE_SOURCE=synthetic swaps the
// display grab for a generated pattern, for machines without one.
func openSource(cfg config.Config) (capture.Source, error) {
	if envOr("SHARE_SOURCE", "display") == "synthetic" {
		return capture.NewSyntheticSource(1280, 720, cfg.FPS), nil
	}
	return capture.NewDisplaySource(cfg)
}

func defaultPeerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "peer-" + uuid.NewString()[:8]
	}
	return host
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitHosts(s string) []string {
	var hosts []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}
