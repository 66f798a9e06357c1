package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/The404Studios/Yurt-Cord-sub006/capture"
	"github.com/The404Studios/Yurt-Cord-sub006/channel"
	"github.com/The404Studios/Yurt-Cord-sub006/config"
	"github.com/The404Studios/Yurt-Cord-sub006/encode"
	"github.com/The404Studios/Yurt-Cord-sub006/quality"
)

var (
	// ErrAlreadySharing is returned when a sharer starts a second share.
	ErrAlreadySharing = errors.New("broadcast: sharer already has an active share")

	// ErrNotSharing is returned by StopShare for an unknown sharer.
	ErrNotSharing = errors.New("broadcast: no active share for sharer")
)

// TerminateFunc is called after a share's pipeline has fully stopped. err
// is nil for a requested stop and non-nil when the pipeline failed.
type TerminateFunc func(session *Session, err error)

type share struct {
	session *Session
	cancel  context.CancelFunc
	done    chan struct{}
}

// Manager owns the active shares of one daemon. One sharer gets at most
// one share; stopping is synchronous and the terminated callback fires
// after the pipeline's goodbye has gone out.
type Manager struct {
	log   *slog.Logger
	cfg   config.Config
	ch    channel.Channel
	voice channel.VoiceGate

	// native is probed per share; nil means software only.
	native encode.Native

	mu          sync.Mutex
	shares      map[string]*share
	onTerminate TerminateFunc
}

// NewManager creates a share registry publishing through ch. If log is
// nil, slog.Default() is used.
func NewManager(cfg config.Config, ch channel.Channel, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:    log.With("component", "share-manager"),
		cfg:    cfg,
		ch:     ch,
		voice:  channel.NoVoice{},
		shares: make(map[string]*share),
	}
}

// SetVoiceGate wires the voice transport's gate in. Call before StartShare.
func (m *Manager) SetVoiceGate(g channel.VoiceGate) {
	if g != nil {
		m.voice = g
	}
}

// SetNative supplies the vendor encoder implementation to probe for new
// shares. Without one, every share encodes in software. The instance is
// stateful: leave it unset on a Manager that runs several shares at once.
func (m *Manager) SetNative(n encode.Native) {
	m.native = n
}

// OnTerminate registers the terminated-share callback.
func (m *Manager) OnTerminate(fn TerminateFunc) {
	m.onTerminate = fn
}

// StartShare begins sharing src into the group. The pipeline runs until
// StopShare, ctx cancellation, or a fatal capture error.
func (m *Manager) StartShare(ctx context.Context, sharerID, groupID string, src capture.Source) (*Session, error) {
	if err := m.cfg.Validate(); err != nil {
		return nil, err
	}

	width, height := src.Bounds()
	enc := encode.Select(m.cfg, width, height, m.native, m.log)
	ctrl := quality.NewController(m.cfg, width, height, enc.Kind(), m.log)

	session := &Session{
		ID:        uuid.New(),
		SharerID:  sharerID,
		GroupID:   groupID,
		Width:     width,
		Height:    height,
		FPS:       m.cfg.FPS,
		StartedAt: time.Now(),
	}
	pipeline := NewPipeline(m.cfg, session, src, enc, ctrl, m.ch, m.voice, m.log)

	runCtx, cancel := context.WithCancel(ctx)
	sh := &share{session: session, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if _, exists := m.shares[sharerID]; exists {
		m.mu.Unlock()
		cancel()
		enc.Close()
		m.log.Warn("share already active, rejecting duplicate", "sharer", sharerID)
		return nil, ErrAlreadySharing
	}
	m.shares[sharerID] = sh
	m.mu.Unlock()

	m.log.Info("share started",
		"sharer", sharerID,
		"group", groupID,
		"session", session.ID.String(),
		"resolution", session.Profile().Resolution(),
		"encoder", session.Profile().Kind.String(),
	)

	go func() {
		err := pipeline.Run(runCtx)
		m.finish(sharerID, sh, err)
	}()
	return session, nil
}

// finish runs the callback before releasing done, so StopShare returns
// only after the callback completed. The callback must not call back into
// StopShare for the same sharer.
func (m *Manager) finish(sharerID string, sh *share, err error) {
	m.mu.Lock()
	if cur, ok := m.shares[sharerID]; ok && cur == sh {
		delete(m.shares, sharerID)
	}
	fn := m.onTerminate
	m.mu.Unlock()

	m.log.Info("share ended", "sharer", sharerID, "session", sh.session.ID.String(), "error", err)
	if fn != nil {
		fn(sh.session, err)
	}
	close(sh.done)
}

// StopShare cancels a sharer's pipeline and waits for it to wind down,
// goodbye included.
func (m *Manager) StopShare(sharerID string) error {
	m.mu.Lock()
	sh, ok := m.shares[sharerID]
	m.mu.Unlock()
	if !ok {
		return ErrNotSharing
	}

	sh.cancel()
	<-sh.done
	return nil
}

// StopAll stops every active share, used at daemon shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	shs := make([]*share, 0, len(m.shares))
	for _, sh := range m.shares {
		shs = append(shs, sh)
	}
	m.mu.Unlock()

	for _, sh := range shs {
		sh.cancel()
		<-sh.done
	}
}

// List returns the active sessions.
func (m *Manager) List() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessions := make([]*Session, 0, len(m.shares))
	for _, sh := range m.shares {
		sessions = append(sessions, sh.session)
	}
	return sessions
}

// Get returns the active session for a sharer.
func (m *Manager) Get(sharerID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.shares[sharerID]
	if !ok {
		return nil, false
	}
	return sh.session, true
}
