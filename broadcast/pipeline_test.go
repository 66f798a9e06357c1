package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/The404Studios/Yurt-Cord-sub006/capture"
	"github.com/The404Studios/Yurt-Cord-sub006/channel"
	"github.com/The404Studios/Yurt-Cord-sub006/config"
	"github.com/The404Studios/Yurt-Cord-sub006/encode"
	"github.com/The404Studios/Yurt-Cord-sub006/internal/wire"
	"github.com/The404Studios/Yurt-Cord-sub006/quality"
)

// recordChannel captures everything published through it.
type recordChannel struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (c *recordChannel) Publish(_ context.Context, _ string, payload []byte) error {
	c.mu.Lock()
	c.payloads = append(c.payloads, append([]byte(nil), payload...))
	c.mu.Unlock()
	return nil
}

func (c *recordChannel) snapshot() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.payloads...)
}

func (c *recordChannel) waitForPayloads(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d published payloads", n)
	return nil
}

type busyVoice struct{}

func (busyVoice) PendingVoice(string) bool { return true }

func testPipeline(t *testing.T, voice channel.VoiceGate) (*Pipeline, *Session, *recordChannel) {
	t.Helper()
	cfg := config.Default()
	cfg.FPS = 60

	src := capture.NewSyntheticSource(64, 48, cfg.FPS)
	log := slog.New(slog.DiscardHandler)
	enc := encode.Select(cfg, 64, 48, nil, log)
	ctrl := quality.NewController(cfg, 64, 48, enc.Kind(), log)

	session := &Session{
		ID:       uuid.New(),
		SharerID: "sharer",
		GroupID:  "room",
		Width:    64,
		Height:   48,
		FPS:      cfg.FPS,
	}
	ch := &recordChannel{}
	p := NewPipeline(cfg, session, src, enc, ctrl, ch, voice, log)
	return p, session, ch
}

func TestPipelineDeliversFrames(t *testing.T) {
	t.Parallel()
	p, session, ch := testPipeline(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()

	payloads := ch.waitForPayloads(t, 2)

	mt, err := wire.MessageType(payloads[0])
	if err != nil || mt != wire.MsgFrame {
		t.Fatalf("first payload type = %d (err %v), want MsgFrame", mt, err)
	}
	first, err := wire.ParseFrame(payloads[0])
	if err != nil {
		t.Fatalf("ParseFrame() error = %v", err)
	}
	if first.SessionID != session.ID {
		t.Errorf("frame session = %s, want %s", first.SessionID, session.ID)
	}
	if !first.IsKeyframe {
		t.Error("first delivered frame is not a keyframe")
	}
	if first.Seq != 1 {
		t.Errorf("first frame seq = %d, want 1", first.Seq)
	}
	if first.Width != 64 || first.Height != 48 {
		t.Errorf("frame dimensions = %dx%d, want 64x48", first.Width, first.Height)
	}

	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run() returned %v, want nil", err)
	}

	stats := p.Stats()
	if stats.Sent < 2 {
		t.Errorf("stats.Sent = %d, want at least 2", stats.Sent)
	}
	if stats.Captured < stats.Encoded {
		t.Errorf("captured %d below encoded %d", stats.Captured, stats.Encoded)
	}
}

func TestPipelineSaysGoodbyeOnStop(t *testing.T) {
	t.Parallel()
	p, session, ch := testPipeline(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()

	ch.waitForPayloads(t, 1)
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run() returned %v, want nil", err)
	}

	payloads := ch.snapshot()
	last := payloads[len(payloads)-1]
	mt, err := wire.MessageType(last)
	if err != nil || mt != wire.MsgGoodbye {
		t.Fatalf("last payload type = %d (err %v), want MsgGoodbye", mt, err)
	}
	bye, err := wire.ParseGoodbye(last)
	if err != nil {
		t.Fatalf("ParseGoodbye() error = %v", err)
	}
	if bye.SessionID != session.ID {
		t.Errorf("goodbye session = %s, want %s", bye.SessionID, session.ID)
	}
}

func TestPipelineSurvivesBusyVoiceGate(t *testing.T) {
	t.Parallel()
	p, _, ch := testPipeline(t, busyVoice{})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()

	// The yield is bounded, so a permanently busy voice path slows video
	// down without stopping it.
	ch.waitForPayloads(t, 2)

	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run() returned %v, want nil", err)
	}
}

func TestPipelineStrictlyMonotonicSeq(t *testing.T) {
	t.Parallel()
	p, _, ch := testPipeline(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()

	payloads := ch.waitForPayloads(t, 4)
	cancel()
	<-errc

	var last uint64
	for _, pl := range payloads {
		mt, err := wire.MessageType(pl)
		if err != nil || mt != wire.MsgFrame {
			continue
		}
		f, err := wire.ParseFrame(pl)
		if err != nil {
			t.Fatalf("ParseFrame() error = %v", err)
		}
		if f.Seq <= last {
			t.Fatalf("seq %d after %d, want strictly increasing", f.Seq, last)
		}
		last = f.Seq
	}
	if last == 0 {
		t.Fatal("no frames parsed")
	}
}
