// Package gsthw adapts GStreamer hardware H.264 elements to the native
// encoder contract and provides the matching decoder for playback. Element
// creation is the availability probe: when neither NVENC nor VAAPI encoders
// exist on the machine, Init fails and session setup falls back to the
// software encoder.
package gsthw

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/The404Studios/Yurt-Cord-sub006/encode"
	"github.com/The404Studios/Yurt-Cord-sub006/media"
)

// Hardware encoder elements, probed in order of preference.
var encoderElements = []string{"nvh264enc", "vaapih264enc"}

var _ encode.Native = (*Encoder)(nil)

const outBufferDepth = 8

// Encoder feeds RGBA bitmaps through an appsrc into a hardware encoder and
// collects Annex B access units from an appsink callback. One instance
// serves one session's encode loop.
type Encoder struct {
	log *slog.Logger

	pipeline *gst.Pipeline
	src      *app.Source
	sink     *app.Sink

	element string
	gop     int
	fps     int
	width   int // output dimensions from Init
	height  int
	inW     int // appsrc caps follow the pushed bitmaps
	inH     int

	out     chan []byte
	dropped atomic.Int64
	pulled  atomic.Int64
}

// NewEncoder sets the keyframe cadence in frames; gopFrames <= 0 keeps the
// element default.
func NewEncoder(gopFrames int) *Encoder {
	return &Encoder{log: slog.With("component", "gsthw"), gop: gopFrames}
}

// Init builds the encode pipeline for the given output resolution. Input
// resolution is taken from the first pushed bitmap; a videoscale stage
// bridges the two, so profile downscaling works without touching capture.
func (e *Encoder) Init(width, height, fps, bitrateKbps int) error {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	var enc *gst.Element
	for _, name := range encoderElements {
		enc, err = gst.NewElement(name)
		if err == nil {
			e.element = name
			break
		}
	}
	if enc == nil {
		return fmt.Errorf("no hardware encoder element available (tried %v)", encoderElements)
	}
	e.configureEncoder(enc, bitrateKbps)

	src, err := app.NewAppSrc()
	if err != nil {
		return fmt.Errorf("create appsrc: %w", err)
	}
	src.SetProperty("is-live", true)
	src.SetProperty("do-timestamp", true)
	src.SetProperty("format", gst.FormatTime)

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return fmt.Errorf("create videoconvert: %w", err)
	}
	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return fmt.Errorf("create videoscale: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(
		fmt.Sprintf("video/x-raw,format=NV12,width=%d,height=%d", width, height),
	))

	parse, err := gst.NewElement("h264parse")
	if err != nil {
		return fmt.Errorf("create h264parse: %w", err)
	}
	// Repeat SPS/PPS with every IDR so keyframes alone resynchronize a
	// late-joining decoder.
	parse.SetProperty("config-interval", -1)

	outCaps, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("create output capsfilter: %w", err)
	}
	outCaps.SetProperty("caps", gst.NewCapsFromString(
		"video/x-h264,stream-format=byte-stream,alignment=au",
	))

	sink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", outBufferDepth)
	sink.SetProperty("drop", true)

	pipeline.AddMany(src.Element, convert, scale, capsfilter, enc, parse, outCaps, sink.Element)
	if err := gst.ElementLinkMany(src.Element, convert, scale, capsfilter, enc, parse, outCaps, sink.Element); err != nil {
		return fmt.Errorf("link pipeline: %w", err)
	}

	e.out = make(chan []byte, outBufferDepth)
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: e.onSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}

	e.pipeline = pipeline
	e.src = src
	e.sink = sink
	e.fps = fps
	e.width, e.height = width, height
	e.inW, e.inH = 0, 0

	e.log.Info("hardware encode pipeline running",
		"element", e.element,
		"width", width,
		"height", height,
		"bitrate_kbps", bitrateKbps,
	)
	return nil
}

func (e *Encoder) configureEncoder(enc *gst.Element, bitrateKbps int) {
	switch e.element {
	case "nvh264enc":
		enc.SetProperty("bitrate", uint(bitrateKbps))
		enc.SetProperty("zerolatency", true)
		if e.gop > 0 {
			enc.SetProperty("gop-size", e.gop)
		}
	case "vaapih264enc":
		enc.SetProperty("bitrate", uint(bitrateKbps))
		if e.gop > 0 {
			enc.SetProperty("keyframe-period", uint(e.gop))
		}
	}
}

// Encode pushes one bitmap and returns the next available access unit, or
// nil while the encoder is still priming.
func (e *Encoder) Encode(bm *media.Bitmap, _ int) ([]byte, error) {
	if e.pipeline == nil {
		return nil, fmt.Errorf("encoder not initialized")
	}

	if bm.Width != e.inW || bm.Height != e.inH {
		e.src.SetCaps(gst.NewCapsFromString(fmt.Sprintf(
			"video/x-raw,format=RGBA,width=%d,height=%d,framerate=%d/1",
			bm.Width, bm.Height, e.fps,
		)))
		e.inW, e.inH = bm.Width, bm.Height
	}

	buf := gst.NewBufferFromBytes(bm.Data)
	if ret := e.src.PushBuffer(buf); ret != gst.FlowOK {
		return nil, fmt.Errorf("push buffer: %s", ret)
	}

	// Half a frame interval covers steady-state encode latency; during
	// priming the deadline passes and the frame reports as pending.
	wait := time.Second / time.Duration(e.fps*2)
	select {
	case data := <-e.out:
		return data, nil
	case <-time.After(wait):
		return nil, nil
	}
}

func (e *Encoder) onSample(sink *app.Sink) gst.FlowReturn {
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
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	au := make([]byte, len(data))
	copy(au, data)
	buffer.Unmap()

	select {
	case e.out <- au:
		e.pulled.Add(1)
	default:
		e.dropped.Add(1)
	}
	return gst.FlowOK
}

// Dispose tears the pipeline down. The encoder can be re-initialized after.
func (e *Encoder) Dispose() {
	if e.pipeline == nil {
		return
	}
	e.src.EndStream()
	if err := e.pipeline.SetState(gst.StateNull); err != nil {
		e.log.Warn("pipeline teardown", "error", err)
	}
	e.pipeline = nil
	e.src = nil
	e.sink = nil
}
