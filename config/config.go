// Package config carries the tunable parameter set for share sessions and
// playback. Defaults encode the shipped behavior; every knob can be
// overridden through YURT_* environment variables, optionally seeded from a
// .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is one session's parameter set. Zero values are not usable; start
// from Default or FromEnv.
type Config struct {
	// Capture.
	Display          int           // capture display index
	FPS              int           // capture cadence, never adapted
	CaptureTolerance time.Duration // deadline slack before a tick counts as late

	// Motion detection (software encoder path only).
	BlockSize       int     // square block edge in pixels
	MotionThreshold int     // per-block mean intensity delta, 0-255
	MinChangeRatio  float64 // below this fraction of changed blocks the frame is skipped

	// Encoding.
	InitialQuality      int   // starting JPEG quality
	QualityLadder       []int // descending adaptation rungs
	FullFrameInterval   int   // forced keyframe cadence in encoded frames
	HardwareBitrateKbps int
	PreferHardware      bool

	// Congestion response.
	BudgetFactor  float64 // degrade when send time exceeds this fraction of the frame interval
	RecoverFactor float64 // recover when send time stays under this fraction
	DegradeWindow int     // consecutive slow frames before stepping down
	RecoverWindow int     // consecutive fast frames before stepping up

	// Send queue.
	QueueHighWater    int
	QueueDropFraction float64 // share of oldest frames dropped on overflow

	// Playback.
	JitterTarget     int           // buffered frames before playout starts
	JitterCap        int           // hard depth bound
	JitterGapTimeout time.Duration // wait for a missing seq before skipping it

	// Thumbnails.
	ThumbnailWidth    int
	ThumbnailHeight   int
	ThumbnailInterval time.Duration // minimum spacing between refreshes
	ThumbnailExpiry   time.Duration // entry lifetime without refresh
}

// Default returns the shipped parameter set.
func Default() Config {
	return Config{
		Display:          0,
		FPS:              30,
		CaptureTolerance: 500 * time.Microsecond,

		BlockSize:       16,
		MotionThreshold: 15,
		MinChangeRatio:  0.02,

		InitialQuality:      80,
		QualityLadder:       []int{90, 75, 60, 45},
		FullFrameInterval:   120,
		HardwareBitrateKbps: 8000,
		PreferHardware:      true,

		BudgetFactor:  0.8,
		RecoverFactor: 0.5,
		DegradeWindow: 10,
		RecoverWindow: 10,

		QueueHighWater:    10,
		QueueDropFraction: 1.0 / 3,

		JitterTarget:     5,
		JitterCap:        45,
		JitterGapTimeout: 250 * time.Millisecond,

		ThumbnailWidth:    320,
		ThumbnailHeight:   180,
		ThumbnailInterval: 2 * time.Second,
		ThumbnailExpiry:   10 * time.Second,
	}
}

// FromEnv returns Default overridden by YURT_* environment variables. A .env
// file in the working directory is loaded first when present; already-set
// variables win over the file.
func FromEnv() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		// A present but unreadable .env is worth surfacing; a missing one
		// is the normal case.
		fmt.Fprintf(os.Stderr, "config: skipping .env: %v\n", err)
	}

	c := Default()
	c.Display = envInt("YURT_DISPLAY", c.Display)
	c.FPS = envInt("YURT_FPS", c.FPS)
	c.BlockSize = envInt("YURT_BLOCK_SIZE", c.BlockSize)
	c.MotionThreshold = envInt("YURT_MOTION_THRESHOLD", c.MotionThreshold)
	c.MinChangeRatio = envFloat("YURT_MIN_CHANGE_RATIO", c.MinChangeRatio)
	c.InitialQuality = envInt("YURT_QUALITY", c.InitialQuality)
	c.FullFrameInterval = envInt("YURT_KEYFRAME_INTERVAL", c.FullFrameInterval)
	c.HardwareBitrateKbps = envInt("YURT_HW_BITRATE_KBPS", c.HardwareBitrateKbps)
	c.PreferHardware = envBool("YURT_HW", c.PreferHardware)
	c.BudgetFactor = envFloat("YURT_BUDGET_FACTOR", c.BudgetFactor)
	c.RecoverFactor = envFloat("YURT_RECOVER_FACTOR", c.RecoverFactor)
	c.DegradeWindow = envInt("YURT_DEGRADE_WINDOW", c.DegradeWindow)
	c.RecoverWindow = envInt("YURT_RECOVER_WINDOW", c.RecoverWindow)
	c.QueueHighWater = envInt("YURT_QUEUE_HIGH_WATER", c.QueueHighWater)
	c.QueueDropFraction = envFloat("YURT_QUEUE_DROP_FRACTION", c.QueueDropFraction)
	c.JitterTarget = envInt("YURT_JITTER_TARGET", c.JitterTarget)
	c.JitterCap = envInt("YURT_JITTER_CAP", c.JitterCap)
	c.JitterGapTimeout = envDuration("YURT_JITTER_GAP_TIMEOUT", c.JitterGapTimeout)
	c.ThumbnailInterval = envDuration("YURT_THUMB_INTERVAL", c.ThumbnailInterval)
	c.ThumbnailExpiry = envDuration("YURT_THUMB_EXPIRY", c.ThumbnailExpiry)
	return c
}

// FrameInterval is the nominal spacing between captured frames.
func (c Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.FPS)
}

// Validate rejects parameter combinations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.FPS < 1 || c.FPS > 240 {
		return fmt.Errorf("config: fps %d out of range [1,240]", c.FPS)
	}
	if c.BlockSize < 4 {
		return fmt.Errorf("config: block size %d below minimum 4", c.BlockSize)
	}
	if c.MotionThreshold < 0 || c.MotionThreshold > 255 {
		return fmt.Errorf("config: motion threshold %d out of range [0,255]", c.MotionThreshold)
	}
	if c.MinChangeRatio < 0 || c.MinChangeRatio > 1 {
		return fmt.Errorf("config: min change ratio %v out of range [0,1]", c.MinChangeRatio)
	}
	if c.InitialQuality < 1 || c.InitialQuality > 100 {
		return fmt.Errorf("config: quality %d out of range [1,100]", c.InitialQuality)
	}
	for i, q := range c.QualityLadder {
		if q < 1 || q > 100 {
			return fmt.Errorf("config: quality ladder rung %d out of range [1,100]", q)
		}
		if i > 0 && q >= c.QualityLadder[i-1] {
			return fmt.Errorf("config: quality ladder not strictly descending at rung %d", q)
		}
	}
	if c.FullFrameInterval < 1 {
		return fmt.Errorf("config: keyframe interval %d below minimum 1", c.FullFrameInterval)
	}
	if c.BudgetFactor <= 0 || c.BudgetFactor > 1 {
		return fmt.Errorf("config: budget factor %v out of range (0,1]", c.BudgetFactor)
	}
	if c.RecoverFactor <= 0 || c.RecoverFactor >= c.BudgetFactor {
		return fmt.Errorf("config: recover factor %v must sit below budget factor %v", c.RecoverFactor, c.BudgetFactor)
	}
	if c.DegradeWindow < 1 || c.RecoverWindow < 1 {
		return fmt.Errorf("config: adaptation windows must be at least 1")
	}
	if c.QueueHighWater < 2 {
		return fmt.Errorf("config: queue high water %d below minimum 2", c.QueueHighWater)
	}
	if c.QueueDropFraction <= 0 || c.QueueDropFraction >= 1 {
		return fmt.Errorf("config: queue drop fraction %v out of range (0,1)", c.QueueDropFraction)
	}
	if c.JitterTarget < 1 {
		return fmt.Errorf("config: jitter target %d below minimum 1", c.JitterTarget)
	}
	if c.JitterCap <= c.JitterTarget {
		return fmt.Errorf("config: jitter cap %d must exceed target %d", c.JitterCap, c.JitterTarget)
	}
	if c.ThumbnailWidth < 1 || c.ThumbnailHeight < 1 {
		return fmt.Errorf("config: thumbnail dimensions %dx%d invalid", c.ThumbnailWidth, c.ThumbnailHeight)
	}
	return nil
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
