package gsthw

import (
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/The404Studios/Yurt-Cord-sub006/media"
)

const decodeWait = 200 * time.Millisecond

// Decoder turns H.264 access units back into RGBA images for playback. One
// instance holds one stream's decode state; frames must arrive in playout
// order, which the jitter buffer guarantees.
type Decoder struct {
	log      *slog.Logger
	pipeline *gst.Pipeline
	src      *app.Source
	sink     *app.Sink
	out      chan []byte
}

// NewDecoder builds the decode pipeline. Element creation failure means the
// machine cannot play hardware-encoded shares; callers skip registering the
// codec in that case.
func NewDecoder() (*Decoder, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	src, err := app.NewAppSrc()
	if err != nil {
		return nil, fmt.Errorf("create appsrc: %w", err)
	}
	src.SetProperty("is-live", true)
	src.SetProperty("do-timestamp", true)
	src.SetProperty("format", gst.FormatTime)
	src.SetCaps(gst.NewCapsFromString("video/x-h264,stream-format=byte-stream,alignment=au"))

	parse, err := gst.NewElement("h264parse")
	if err != nil {
		return nil, fmt.Errorf("create h264parse: %w", err)
	}
	dec, err := gst.NewElement("avdec_h264")
	if err != nil {
		return nil, fmt.Errorf("create avdec_h264: %w", err)
	}
	dec.SetProperty("max-threads", 0)

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("create videoconvert: %w", err)
	}
	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString("video/x-raw,format=RGBA"))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 4)
	sink.SetProperty("drop", true)

	pipeline.AddMany(src.Element, parse, dec, convert, capsfilter, sink.Element)
	if err := gst.ElementLinkMany(src.Element, parse, dec, convert, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("link pipeline: %w", err)
	}

	d := &Decoder{
		log:      slog.With("component", "gsthw"),
		pipeline: pipeline,
		src:      src,
		sink:     sink,
		out:      make(chan []byte, 4),
	}
	sink.SetCallbacks(&app.SinkCallbacks{NewSampleFunc: d.onSample})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("start pipeline: %w", err)
	}
	return d, nil
}

// Decode feeds one access unit in and returns the next decoded image. The
// previous image is ignored; H.264 reference state lives in the decoder.
func (d *Decoder) Decode(f *media.EncodedFrame, _ *image.RGBA) (*image.RGBA, error) {
	if ret := d.src.PushBuffer(gst.NewBufferFromBytes(f.Payload)); ret != gst.FlowOK {
		return nil, fmt.Errorf("push access unit: %s", ret)
	}

	select {
	case data := <-d.out:
		need := f.Width * f.Height * 4
		if len(data) < need {
			return nil, fmt.Errorf("decoded %d bytes, need %d for %dx%d", len(data), need, f.Width, f.Height)
		}
		return &image.RGBA{
			Pix:    data[:need],
			Stride: f.Width * 4,
			Rect:   image.Rect(0, 0, f.Width, f.Height),
		}, nil
	case <-time.After(decodeWait):
		return nil, fmt.Errorf("decoder produced nothing within %v", decodeWait)
	}
}

func (d *Decoder) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	frame := make([]byte, len(data))
	copy(frame, data)
	buffer.Unmap()

	select {
	case d.out <- frame:
	default:
	}
	return gst.FlowOK
}

// Close tears the decode pipeline down.
func (d *Decoder) Close() {
	if d.pipeline == nil {
		return
	}
	d.src.EndStream()
	if err := d.pipeline.SetState(gst.StateNull); err != nil {
		d.log.Warn("decoder teardown", "error", err)
	}
	d.pipeline = nil
}
