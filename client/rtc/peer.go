// Package rtc owns the single negotiated peer media session of a client:
// offer/answer negotiation, candidate exchange and teardown. Exactly one
// peer connection is live at a time; starting a new session tears down the
// previous one.
package rtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/teamline-app/realtime/internal/proto"
)

// ErrNoConnection is returned when an operation requires a live session.
var ErrNoConnection = errors.New("no peer connection")

// candidatePoolSize and the bundle policy are fixed protocol configuration.
const candidatePoolSize = 2

// StateHandler observes connection-state transitions.
type StateHandler func(ConnectionState)

// Manager owns one peer connection at a time and translates signaling
// payloads into connection-state transitions.
type Manager struct {
	devices    MediaDevices
	iceServers []string
	log        zerolog.Logger

	mu          sync.Mutex
	pc          *webrtc.PeerConnection
	local       *LocalStream
	remote      map[string]*RemoteStream
	pending     []webrtc.ICECandidateInit
	onStream    func(*RemoteStream)
	onState     []StateHandler
	targetID    int64
	deadHandled bool
}

// NewManager creates a manager. The devices implementation is chosen by the
// hosting environment; see SampleDevices and NullDevices.
func NewManager(devices MediaDevices, iceServers []string, logger *zerolog.Logger) *Manager {
	lg := zerolog.Nop()
	if logger != nil {
		lg = *logger
	}
	return &Manager{
		devices:    devices,
		iceServers: iceServers,
		log:        lg,
		remote:     make(map[string]*RemoteStream),
	}
}

// Start tears down any prior session, creates a fresh connection, captures
// local media (audio always, video when requested), attaches the local
// tracks and returns the local stream. Remote candidates discovered locally
// are delivered through onCandidate.
func (m *Manager) Start(video bool, targetID int64, onCandidate func(*proto.ICECandidate)) (*LocalStream, error) {
	// Candidates can arrive before the session exists, e.g. for a callee
	// still ringing. They belong to the session being started, so they
	// survive the teardown of the previous one.
	m.mu.Lock()
	carried := m.pending
	m.pending = nil
	m.mu.Unlock()

	m.Cleanup()

	cfg := webrtc.Configuration{
		ICECandidatePoolSize: candidatePoolSize,
		BundlePolicy:         webrtc.BundlePolicyMaxBundle,
	}
	if len(m.iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: m.iceServers}}
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	local, err := m.devices.Capture(video)
	if err != nil {
		pc.Close()
		var mediaErr *MediaAccessError
		if errors.As(err, &mediaErr) {
			return nil, err
		}
		return nil, &MediaAccessError{Err: err}
	}

	for _, track := range local.Tracks {
		if _, err := pc.AddTrack(track); err != nil {
			local.Stop()
			pc.Close()
			return nil, fmt.Errorf("attach local track: %w", err)
		}
	}
	if err := ensureReceivers(pc, local); err != nil {
		local.Stop()
		pc.Close()
		return nil, err
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || onCandidate == nil {
			return
		}
		init := cand.ToJSON()
		onCandidate(&proto.ICECandidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.handleRemoteTrack(track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.handleStateChange(fromWebRTCState(state))
	})

	m.mu.Lock()
	m.pc = pc
	m.local = local
	m.targetID = targetID
	m.pending = carried
	m.deadHandled = false
	handlers := append([]StateHandler(nil), m.onState...)
	m.mu.Unlock()

	for _, fn := range handlers {
		fn(StateNew)
	}

	return local, nil
}

// ensureReceivers adds receive-only transceivers for kinds without a local
// track, so every offer proposes audio and video reception capability.
func ensureReceivers(pc *webrtc.PeerConnection, local *LocalStream) error {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		found := false
		for _, track := range local.Tracks {
			if track.Kind() == kind {
				found = true
				break
			}
		}
		if found {
			continue
		}
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s receiver: %w", kind, err)
		}
	}
	return nil
}

// CreateOffer produces and locally applies a session description. When the
// connection is mid-negotiation, the pending local description is rolled
// back first to avoid an offer/offer collision.
func (m *Manager) CreateOffer() (*proto.SessionDescription, error) {
	m.mu.Lock()
	pc := m.pc
	m.mu.Unlock()
	if pc == nil {
		return nil, ErrNoConnection
	}

	if pc.SignalingState() != webrtc.SignalingStateStable {
		m.log.Debug().Str("state", pc.SignalingState().String()).Msg("rolling back before offer")
		if err := pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			return nil, fmt.Errorf("rollback: %w", err)
		}
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local offer: %w", err)
	}
	return toProtoSDP(offer), nil
}

// HandleOffer applies a remote offer, flushes buffered candidates, then
// creates and locally applies the answering description.
func (m *Manager) HandleOffer(offer *proto.SessionDescription) (*proto.SessionDescription, error) {
	m.mu.Lock()
	pc := m.pc
	m.mu.Unlock()
	if pc == nil {
		return nil, ErrNoConnection
	}

	remote, err := fromProtoSDP(offer)
	if err != nil {
		return nil, err
	}
	if err := pc.SetRemoteDescription(remote); err != nil {
		return nil, fmt.Errorf("set remote offer: %w", err)
	}
	m.flushCandidates(pc)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local answer: %w", err)
	}
	return toProtoSDP(answer), nil
}

// HandleAnswer applies a remote answer. A duplicate or late answer — any
// arrival while the connection is not awaiting one — is logged and ignored.
func (m *Manager) HandleAnswer(answer *proto.SessionDescription) error {
	m.mu.Lock()
	pc := m.pc
	m.mu.Unlock()
	if pc == nil {
		return ErrNoConnection
	}

	if pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		m.log.Warn().Str("state", pc.SignalingState().String()).Msg("ignoring answer: not awaiting one")
		return nil
	}

	remote, err := fromProtoSDP(answer)
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	m.flushCandidates(pc)
	return nil
}

// AddCandidate applies a remote network-path candidate. Candidates arriving
// before the remote description is set — or before the session exists at
// all, as happens for a callee still ringing — are buffered, never dropped,
// and flushed once negotiation allows them.
func (m *Manager) AddCandidate(cand *proto.ICECandidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	}

	m.mu.Lock()
	pc := m.pc
	if pc == nil || pc.RemoteDescription() == nil {
		m.pending = append(m.pending, init)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

// flushCandidates applies every buffered candidate. Called after a remote
// description lands.
func (m *Manager) flushCandidates(pc *webrtc.PeerConnection) {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, init := range pending {
		if err := pc.AddICECandidate(init); err != nil {
			m.log.Warn().Err(err).Msg("failed to apply buffered candidate")
		}
	}
}

// SetOnStreamUpdate registers the remote-stream callback. It fires exactly
// once per remote stream, not per track.
func (m *Manager) SetOnStreamUpdate(fn func(*RemoteStream)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStream = fn
}

// OnConnectionStateChange registers a state handler. If a connection already
// exists the handler is invoked synchronously with the current state, then
// on every subsequent transition.
func (m *Manager) OnConnectionStateChange(fn StateHandler) {
	m.mu.Lock()
	m.onState = append(m.onState, fn)
	pc := m.pc
	m.mu.Unlock()

	if pc != nil {
		fn(fromWebRTCState(pc.ConnectionState()))
	}
}

// ConnectionState reports the current state; ok is false when no session
// exists.
func (m *Manager) ConnectionState() (ConnectionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pc == nil {
		return StateClosed, false
	}
	return fromWebRTCState(m.pc.ConnectionState()), true
}

// TargetID returns the counterpart of the current session, zero when idle.
func (m *Manager) TargetID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.targetID
}

func (m *Manager) handleRemoteTrack(track *webrtc.TrackRemote) {
	m.mu.Lock()
	id := track.StreamID()
	stream, seen := m.remote[id]
	if !seen {
		stream = &RemoteStream{ID: id}
		m.remote[id] = stream
	}
	stream.Tracks = append(stream.Tracks, track)
	onStream := m.onStream
	m.mu.Unlock()

	// One callback per stream; additional tracks of a known stream only
	// extend it.
	if !seen && onStream != nil {
		onStream(stream)
	}
}

func (m *Manager) handleStateChange(state ConnectionState) {
	m.mu.Lock()
	handlers := append([]StateHandler(nil), m.onState...)
	runCleanup := state.Dead() && !m.deadHandled && m.pc != nil
	if runCleanup {
		m.deadHandled = true
	}
	m.mu.Unlock()

	for _, fn := range handlers {
		fn(state)
	}
	if runCleanup {
		m.Cleanup()
	}
}

// Cleanup stops local tracks, closes the connection and clears all retained
// state. It tolerates being called with no connection and is safe to call
// repeatedly.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	pc := m.pc
	local := m.local
	m.pc = nil
	m.local = nil
	m.remote = make(map[string]*RemoteStream)
	m.pending = nil
	m.onStream = nil
	m.onState = nil
	m.targetID = 0
	m.deadHandled = true
	m.mu.Unlock()

	if local != nil {
		local.Stop()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			m.log.Warn().Err(err).Msg("close peer connection")
		}
	}
}

func toProtoSDP(desc webrtc.SessionDescription) *proto.SessionDescription {
	return &proto.SessionDescription{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func fromProtoSDP(desc *proto.SessionDescription) (webrtc.SessionDescription, error) {
	if desc == nil {
		return webrtc.SessionDescription{}, errors.New("nil session description")
	}
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	}, nil
}
