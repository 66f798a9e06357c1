// Package broadcast runs the sharer side of a session: capture, encode,
// and send loops wired back to back, plus the manager that owns session
// lifecycles. Each loop sheds load independently so a congested link
// degrades frame delivery instead of growing memory.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/The404Studios/Yurt-Cord-sub006/capture"
	"github.com/The404Studios/Yurt-Cord-sub006/channel"
	"github.com/The404Studios/Yurt-Cord-sub006/config"
	"github.com/The404Studios/Yurt-Cord-sub006/encode"
	"github.com/The404Studios/Yurt-Cord-sub006/internal/wire"
	"github.com/The404Studios/Yurt-Cord-sub006/media"
	"github.com/The404Studios/Yurt-Cord-sub006/motion"
	"github.com/The404Studios/Yurt-Cord-sub006/quality"
)

// voiceYield bounds how long a video publish waits for pending voice
// traffic to clear.
const voiceYield = 2 * time.Millisecond

// Pipeline owns one session's three loops. Capture feeds the mailbox,
// encode turns bitmaps into frames behind the queue, send serializes and
// publishes. Teardown cascades front to back: the capture loop stops
// first, the mailbox close ends the encode loop, the queue close ends the
// send loop, and the send loop says goodbye on its way out.
type Pipeline struct {
	log     *slog.Logger
	session *Session

	source   capture.Source
	detector *motion.Detector
	encoder  encode.Encoder
	quality  *quality.Controller
	queue    *Queue
	ch       channel.Channel
	voice    channel.VoiceGate
	groupID  string

	seq       atomic.Uint64
	captured  atomic.Uint64
	encoded   atomic.Uint64
	skipped   atomic.Uint64
	sent      atomic.Uint64
	bytesSent atomic.Uint64
	lastSeq   atomic.Uint64
}

// NewPipeline wires a session's loops together. The encoder kind decides
// whether motion detection participates.
func NewPipeline(cfg config.Config, session *Session, source capture.Source,
	enc encode.Encoder, ctrl *quality.Controller,
	ch channel.Channel, voice channel.VoiceGate, log *slog.Logger) *Pipeline {

	if voice == nil {
		voice = channel.NoVoice{}
	}
	p := &Pipeline{
		log:      log.With("component", "broadcast", "session", session.ID.String()),
		session:  session,
		source:   source,
		detector: motion.NewDetector(cfg.BlockSize, cfg.MotionThreshold, cfg.MinChangeRatio),
		encoder:  enc,
		quality:  ctrl,
		queue:    NewQueue(cfg.QueueHighWater, cfg.QueueDropFraction),
		ch:       ch,
		voice:    voice,
		groupID:  session.GroupID,
	}
	session.pipeline = p
	return p
}

// Run blocks until the context is cancelled or a loop fails. The goodbye
// message goes out on every exit path so receivers drop their buffers.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.source.Start(ctx) })
	g.Go(func() error { return p.encodeLoop(ctx) })
	g.Go(func() error { return p.sendLoop(ctx) })

	err := g.Wait()
	p.encoder.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		p.log.Warn("share pipeline failed", "error", err)
		return err
	}
	p.log.Info("share pipeline stopped",
		"captured", p.captured.Load(),
		"sent", p.sent.Load(),
	)
	return nil
}

func (p *Pipeline) encodeLoop(ctx context.Context) error {
	defer p.queue.Close()

	mailbox := p.source.Frames()
	for {
		bm, err := mailbox.Take(ctx)
		if err != nil {
			if errors.Is(err, capture.ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		p.captured.Add(1)

		prof := p.quality.Profile()
		force := p.queue.NeedKeyframe()

		var change *motion.Result
		if prof.Kind == media.EncoderSoftware {
			change = p.detector.Detect(bm)
		}

		frame, err := p.encoder.Encode(bm, prof, change, force)
		if err != nil {
			if force {
				p.queue.RequestKeyframe()
			}
			p.log.Warn("encode failed, dropping frame", "capture_seq", bm.Seq, "error", err)
			continue
		}
		if frame == nil {
			p.skipped.Add(1)
			continue
		}
		if change != nil {
			p.detector.Commit()
		}

		frame.SessionID = p.session.ID
		frame.Seq = p.seq.Add(1)
		p.encoded.Add(1)
		p.queue.Push(frame)
	}
}

func (p *Pipeline) sendLoop(ctx context.Context) error {
	for {
		frame, err := p.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || errors.Is(err, context.Canceled) {
				p.sayGoodbye()
				return nil
			}
			return err
		}

		p.yieldToVoice(ctx)

		buf := wire.AppendFrame(make([]byte, 0, len(frame.Payload)+64), frame)
		start := time.Now()
		if err := p.ch.Publish(ctx, p.groupID, buf); err != nil {
			// The channel gives no delivery guarantee anyway; a failed
			// publish is just a lost frame.
			p.log.Debug("publish failed, dropping frame", "seq", frame.Seq, "error", err)
			continue
		}

		p.sent.Add(1)
		p.bytesSent.Add(uint64(len(buf)))
		p.lastSeq.Store(frame.Seq)
		p.quality.Observe(time.Since(start))
	}
}

// yieldToVoice briefly holds video back while the sharer's voice path has
// audio waiting. Bounded so video can never be starved outright.
func (p *Pipeline) yieldToVoice(ctx context.Context) {
	if !p.voice.PendingVoice(p.session.SharerID) {
		return
	}
	deadline := time.Now().Add(voiceYield)
	for p.voice.PendingVoice(p.session.SharerID) {
		if time.Now().After(deadline) || ctx.Err() != nil {
			return
		}
		time.Sleep(200 * time.Microsecond)
	}
}

func (p *Pipeline) sayGoodbye() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	buf := wire.AppendGoodbye(nil, p.session.ID, "share ended")
	if err := p.ch.Publish(ctx, p.groupID, buf); err != nil {
		p.log.Debug("goodbye publish failed", "error", err)
	}
}

// Stats returns a point-in-time snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	prof := p.quality.Profile()
	return Stats{
		Captured:       p.captured.Load(),
		Encoded:        p.encoded.Load(),
		Skipped:        p.skipped.Load(),
		Sent:           p.sent.Load(),
		BytesSent:      p.bytesSent.Load(),
		LastSeq:        p.lastSeq.Load(),
		MailboxDropped: p.source.Frames().Drops(),
		QueueDropped:   p.queue.Dropped(),
		QueueDepth:     p.queue.Len(),
		Quality:        prof.Quality,
		Resolution:     prof.Resolution(),
		QualityState:   p.quality.State().String(),
		Encoder:        prof.Kind.String(),
	}
}
