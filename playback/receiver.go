package playback

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/The404Studios/Yurt-Cord-sub006/channel"
	"github.com/The404Studios/Yurt-Cord-sub006/config"
	"github.com/The404Studios/Yurt-Cord-sub006/internal/wire"
	"github.com/The404Studios/Yurt-Cord-sub006/media"
)

var (
	// ErrAlreadyWatching means Watch was called twice.
	ErrAlreadyWatching = errors.New("playback: receiver already watching a group")
	// ErrReceiverClosed means the receiver was shut down.
	ErrReceiverClosed = errors.New("playback: receiver closed")
)

// Receiver is a viewer's demux point for one group. It subscribes to the
// channel, sorts incoming frames into one stream per sharer, and keeps the
// frame and thumbnail caches current. Each stream runs its own release
// goroutine, so one slow share cannot stall another.
type Receiver struct {
	log    *slog.Logger
	cfg    config.Config
	sub    channel.Subscriber
	frames *FrameCache
	thumbs *ThumbnailCache

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	closed      bool
	unsubscribe func()
	streams     map[string]*stream
	dead        map[string]uuid.UUID // last torn-down session per sharer
}

// NewReceiver wires a receiver to a channel subscription and its caches.
// A nil frames cache gets a fresh one; a nil thumbs cache disables
// thumbnails; a nil log falls back to the default logger.
func NewReceiver(cfg config.Config, sub channel.Subscriber, frames *FrameCache, thumbs *ThumbnailCache, log *slog.Logger) *Receiver {
	if log == nil {
		log = slog.Default()
	}
	if frames == nil {
		frames = NewFrameCache()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Receiver{
		log:     log.With("component", "receiver"),
		cfg:     cfg,
		sub:     sub,
		frames:  frames,
		thumbs:  thumbs,
		ctx:     ctx,
		cancel:  cancel,
		streams: make(map[string]*stream),
		dead:    make(map[string]uuid.UUID),
	}
}

// Frames exposes the receiver's frame cache.
func (r *Receiver) Frames() *FrameCache { return r.frames }

// Watch subscribes to a group's share traffic. A receiver watches one
// group for its whole life.
func (r *Receiver) Watch(groupID string) error {
	if err := r.cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrReceiverClosed
	}
	if r.unsubscribe != nil {
		return ErrAlreadyWatching
	}
	r.unsubscribe = r.sub.Subscribe(groupID, r.handlePayload)
	r.log.Info("watching group", "group", groupID)
	return nil
}

// Close unsubscribes and tears down every stream, waiting for their
// release loops to exit. The receiver cannot be reused afterwards.
func (r *Receiver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	unsub := r.unsubscribe
	r.unsubscribe = nil
	streams := make([]*stream, 0, len(r.streams))
	for _, s := range r.streams {
		streams = append(streams, s)
	}
	r.streams = make(map[string]*stream)
	r.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	r.cancel()
	for _, s := range streams {
		<-s.done
	}
	r.log.Info("receiver closed")
}

// StreamStats describes one watched share.
type StreamStats struct {
	SharerID     string `json:"sharer_id"`
	SessionID    string `json:"session_id"`
	State        string `json:"state"`
	Depth        int    `json:"depth"`
	Received     uint64 `json:"received"`
	Duplicates   uint64 `json:"duplicates"`
	Dropped      uint64 `json:"dropped"`
	Skipped      uint64 `json:"skipped"`
	Decoded      uint64 `json:"decoded"`
	DecodeFailed uint64 `json:"decode_failed"`
}

// Streams snapshots the stats of every live stream.
func (r *Receiver) Streams() []StreamStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StreamStats, 0, len(r.streams))
	for _, s := range r.streams {
		js := s.buffer.Stats()
		out = append(out, StreamStats{
			SharerID:     s.sharerID,
			SessionID:    s.sessionID.String(),
			State:        js.State,
			Depth:        js.Depth,
			Received:     js.Received,
			Duplicates:   js.Duplicates,
			Dropped:      js.Dropped,
			Skipped:      js.Skipped,
			Decoded:      s.decoded.Load(),
			DecodeFailed: s.decodeFailed.Load(),
		})
	}
	return out
}

func (r *Receiver) handlePayload(senderID string, payload []byte) {
	msgType, err := wire.MessageType(payload)
	if err != nil {
		r.log.Debug("unreadable message", "sender", senderID, "error", err)
		return
	}
	switch msgType {
	case wire.MsgFrame:
		r.handleFrame(senderID, payload)
	case wire.MsgGoodbye:
		r.handleGoodbye(senderID, payload)
	default:
		r.log.Debug("unknown message type", "sender", senderID, "type", msgType)
	}
}

func (r *Receiver) handleFrame(senderID string, payload []byte) {
	f, err := wire.ParseFrame(payload)
	if err != nil {
		r.log.Debug("discarding damaged frame", "sender", senderID, "error", err)
		return
	}
	// The parsed payload aliases the delivery buffer, which the channel
	// reclaims after this callback returns.
	f.Payload = append([]byte(nil), f.Payload...)

	s := r.stream(senderID, f.SessionID)
	if s == nil {
		return
	}
	s.buffer.Insert(f)
}

func (r *Receiver) handleGoodbye(senderID string, payload []byte) {
	g, err := wire.ParseGoodbye(payload)
	if err != nil {
		r.log.Debug("discarding damaged goodbye", "sender", senderID, "error", err)
		return
	}

	r.mu.Lock()
	r.dead[senderID] = g.SessionID
	s, ok := r.streams[senderID]
	if ok && s.sessionID == g.SessionID {
		delete(r.streams, senderID)
	} else {
		s = nil
	}
	r.mu.Unlock()

	if s == nil {
		return
	}
	s.cancel()
	<-s.done
	r.frames.Remove(senderID)
	r.log.Info("share ended", "sharer", senderID, "session", g.SessionID.String(), "reason", g.Reason)
}

// stream returns the live stream for (sharer, session), creating it on
// first sight. A different session id from the same sharer supersedes the
// old stream: the sharer restarted, and the old buffers are useless.
// Stragglers from a torn-down session are dropped, not resurrected.
func (r *Receiver) stream(sharerID string, sessionID uuid.UUID) *stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.unsubscribe == nil {
		return nil
	}

	cur, ok := r.streams[sharerID]
	if ok && cur.sessionID == sessionID {
		return cur
	}
	if r.dead[sharerID] == sessionID {
		return nil
	}
	if ok {
		r.dead[sharerID] = cur.sessionID
		cur.cancel()
		<-cur.done
		r.log.Info("stream superseded", "sharer", sharerID, "session", cur.sessionID.String())
	}

	s := r.newStreamLocked(sharerID, sessionID)
	r.streams[sharerID] = s
	r.log.Info("share discovered", "sharer", sharerID, "session", sessionID.String())
	return s
}

func (r *Receiver) newStreamLocked(sharerID string, sessionID uuid.UUID) *stream {
	ctx, cancel := context.WithCancel(r.ctx)
	interval := r.cfg.FrameInterval()
	s := &stream{
		log:       r.log.With("sharer", sharerID),
		sharerID:  sharerID,
		sessionID: sessionID,
		buffer:    NewJitterBuffer(r.cfg.JitterTarget, r.cfg.JitterCap, interval, r.cfg.JitterGapTimeout),
		interval:  interval,
		frames:    r.frames,
		thumbs:    r.thumbs,
		decoders:  make(map[media.Codec]FrameDecoder),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

// stream is one sharer's playout state: a jitter buffer, the decoders and
// canvas, and the release loop draining them.
type stream struct {
	log       *slog.Logger
	sharerID  string
	sessionID uuid.UUID
	buffer    *JitterBuffer
	interval  time.Duration
	frames    *FrameCache
	thumbs    *ThumbnailCache

	decoders map[media.Codec]FrameDecoder
	canvas   *image.RGBA

	cancel context.CancelFunc
	done   chan struct{}

	decoded      atomic.Uint64
	decodeFailed atomic.Uint64
}

func (s *stream) run(ctx context.Context) {
	defer close(s.done)
	defer s.closeDecoders()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if f := s.buffer.Pop(now); f != nil {
				s.present(f)
			}
		}
	}
}

func (s *stream) present(f *media.EncodedFrame) {
	dec, ok := s.decoders[f.Codec]
	if !ok {
		var err error
		dec, err = newDecoder(f.Codec)
		if err != nil {
			s.decodeFailed.Add(1)
			s.log.Debug("frame not decodable", "seq", f.Seq, "codec", f.Codec.String(), "error", err)
			return
		}
		s.decoders[f.Codec] = dec
	}

	img, err := dec.Decode(f, s.canvas)
	if err != nil {
		s.decodeFailed.Add(1)
		if !errors.Is(err, ErrNoReference) {
			s.log.Debug("decode failed", "seq", f.Seq, "error", err)
		}
		return
	}
	s.canvas = img
	s.decoded.Add(1)

	now := time.Now()
	s.frames.Store(&CachedFrame{
		SharerID:  s.sharerID,
		SessionID: s.sessionID,
		Seq:       f.Seq,
		Image:     cloneRGBA(img),
		DecodedAt: now,
	})
	if s.thumbs != nil {
		s.thumbs.Offer(s.sharerID, img, now)
	}
}

func (s *stream) closeDecoders() {
	for _, dec := range s.decoders {
		if c, ok := dec.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
