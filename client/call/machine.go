// Package call implements the application-level call lifecycle on top of
// the peer connection manager: idle -> ringing -> connected -> ended, driven
// by signaling events and local user actions.
package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/teamline-app/realtime/client/rtc"
	"github.com/teamline-app/realtime/internal/proto"
)

var (
	// ErrBusy is returned when a call already exists.
	ErrBusy = errors.New("a call is already in progress")
	// ErrNoIncomingCall is returned when accept/reject has nothing to act on.
	ErrNoIncomingCall = errors.New("no incoming call")
	// ErrNoOffer is returned when an incoming call carries no offer.
	ErrNoOffer = errors.New("incoming call has no offer")
)

const (
	defaultEndSignalAttempts = 3
	defaultEndSignalDelay    = time.Second
	defaultMonitorInterval   = 2 * time.Second
)

// Peer is the peer connection manager as the machine sees it. *rtc.Manager
// implements it; tests substitute fakes.
type Peer interface {
	Start(video bool, targetID int64, onCandidate func(*proto.ICECandidate)) (*rtc.LocalStream, error)
	CreateOffer() (*proto.SessionDescription, error)
	HandleOffer(offer *proto.SessionDescription) (*proto.SessionDescription, error)
	HandleAnswer(answer *proto.SessionDescription) error
	AddCandidate(cand *proto.ICECandidate) error
	OnConnectionStateChange(fn rtc.StateHandler)
	ConnectionState() (rtc.ConnectionState, bool)
	Cleanup()
}

// Signaler delivers outbound envelopes. *transport.Client implements it.
type Signaler interface {
	Send(ctx context.Context, env *proto.Envelope) (*proto.Message, error)
}

// Config configures a Machine.
type Config struct {
	SelfID   int64
	SelfName string
	Peer     Peer
	Signaler Signaler

	// Tones defaults to NullTones.
	Tones Tones
	// EndSignalAttempts defaults to 3, EndSignalDelay to 1s.
	EndSignalAttempts int
	EndSignalDelay    time.Duration
	// MonitorInterval defaults to 2s.
	MonitorInterval time.Duration
	Logger          *zerolog.Logger
}

// Machine is the call state machine. All transitions funnel failures through
// the shared teardown path so no call is ever left dangling between states.
type Machine struct {
	selfID   int64
	selfName string
	peer     Peer
	sig      Signaler
	tones    Tones
	log      zerolog.Logger

	endAttempts     int
	endDelay        time.Duration
	monitorInterval time.Duration

	mu       sync.Mutex
	state    State
	peerLive bool
	onChange func(State)

	monitorStop chan struct{}
	closeOnce   sync.Once
}

// NewMachine creates a machine in the Idle state and starts the passive
// connection monitor.
func NewMachine(cfg Config) *Machine {
	tones := cfg.Tones
	if tones == nil {
		tones = NullTones{}
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	attempts := cfg.EndSignalAttempts
	if attempts <= 0 {
		attempts = defaultEndSignalAttempts
	}
	delay := cfg.EndSignalDelay
	if delay <= 0 {
		delay = defaultEndSignalDelay
	}
	interval := cfg.MonitorInterval
	if interval <= 0 {
		interval = defaultMonitorInterval
	}

	m := &Machine{
		selfID:          cfg.SelfID,
		selfName:        cfg.SelfName,
		peer:            cfg.Peer,
		sig:             cfg.Signaler,
		tones:           tones,
		log:             logger,
		endAttempts:     attempts,
		endDelay:        delay,
		monitorInterval: interval,
		state:           Idle{},
		monitorStop:     make(chan struct{}),
	}
	go m.monitor()
	return m
}

// SetOnStateChange registers the transition observer the UI re-renders from.
func (m *Machine) SetOnStateChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ActiveCall returns the outbound or connected call, nil otherwise.
func (m *Machine) ActiveCall() *proto.CallData {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch st := m.state.(type) {
	case Ringing:
		if st.Role == RoleCaller {
			return st.Call
		}
	case Connected:
		return st.Call
	}
	return nil
}

// IncomingCall returns the unanswered inbound call, nil otherwise.
func (m *Machine) IncomingCall() *proto.CallData {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.state.(Ringing); ok && st.Role == RoleCallee {
		return st.Call
	}
	return nil
}

// Initiate places an outbound call: builds the call record, negotiates an
// offer, starts the dial tone and signals the receiver. Any setup failure
// resets the machine to Idle.
func (m *Machine) Initiate(ctx context.Context, targetID int64, callType string) error {
	call := &proto.CallData{
		ID:         uuid.New().String(),
		CallerID:   m.selfID,
		CallerName: m.selfName,
		ReceiverID: targetID,
		Type:       callType,
		Status:     proto.CallStatusRinging,
		CreatedAt:  time.Now().UnixMilli(),
	}

	m.mu.Lock()
	if _, idle := m.state.(Idle); !idle {
		m.mu.Unlock()
		return ErrBusy
	}
	m.state = Ringing{Role: RoleCaller, Call: call}
	m.mu.Unlock()

	if err := m.startPeer(call, targetID); err != nil {
		m.reset()
		return err
	}

	offer, err := m.peer.CreateOffer()
	if err != nil {
		m.reset()
		return err
	}
	call.SDP = offer

	m.tones.PlayDial()

	env := &proto.Envelope{
		Type:       proto.TypeCallInitiate,
		ReceiverID: targetID,
		CallData:   call,
	}
	if _, err := m.sig.Send(ctx, env); err != nil {
		m.reset()
		return err
	}

	m.notify()
	return nil
}

// Accept answers the inbound ringing call: initializes local media for the
// negotiated type, produces the answer from the stored offer and signals the
// caller. Failures end the call.
func (m *Machine) Accept(ctx context.Context) error {
	m.mu.Lock()
	st, ok := m.state.(Ringing)
	if !ok || st.Role != RoleCallee {
		m.mu.Unlock()
		return ErrNoIncomingCall
	}
	call := st.Call
	m.mu.Unlock()

	if call.SDP == nil {
		m.reset()
		return ErrNoOffer
	}

	m.tones.Stop()

	if err := m.startPeer(call, call.CallerID); err != nil {
		m.hangup(call, proto.TypeCallReject)
		return err
	}

	answer, err := m.peer.HandleOffer(call.SDP)
	if err != nil {
		m.hangup(call, proto.TypeCallReject)
		return err
	}

	m.mu.Lock()
	call.Status = proto.CallStatusConnected
	m.state = Connected{Call: call}
	m.mu.Unlock()

	env := &proto.Envelope{
		Type:       proto.TypeCallAccept,
		ReceiverID: call.CallerID,
		CallData:   call,
		SDP:        answer,
	}
	if _, err := m.sig.Send(ctx, env); err != nil {
		m.End(ctx)
		return err
	}

	m.notify()
	return nil
}

// Reject declines the inbound ringing call.
func (m *Machine) Reject(ctx context.Context) error {
	m.mu.Lock()
	st, ok := m.state.(Ringing)
	if !ok || st.Role != RoleCallee {
		m.mu.Unlock()
		return ErrNoIncomingCall
	}
	call := st.Call
	m.state = Idle{}
	m.peerLive = false
	m.mu.Unlock()

	m.finishLocal(call)
	go m.sendEndSignal(proto.TypeCallReject, call.CallerID, call)
	m.notify()
	return nil
}

// End hangs up the current call, whatever its phase and role. Local state is
// cleared immediately; notifying the other party is best-effort with retry.
// A call to End while Idle is a no-op.
func (m *Machine) End(ctx context.Context) error {
	m.mu.Lock()
	call := callOf(m.state)
	if call == nil {
		m.mu.Unlock()
		return nil
	}
	other := call.ReceiverID
	if m.selfID != call.CallerID {
		other = call.CallerID
	}
	m.state = Idle{}
	m.peerLive = false
	m.mu.Unlock()

	m.finishLocal(call)
	go m.sendEndSignal(proto.TypeCallEnd, other, call)
	m.notify()
	return nil
}

// HandleEvent routes an inbound call-signaling envelope.
func (m *Machine) HandleEvent(ctx context.Context, env *proto.Envelope) {
	switch env.Type {
	case proto.TypeCallInitiate:
		m.handleInitiate(ctx, env)
	case proto.TypeCallAccept:
		m.handleAccept(env)
	case proto.TypeCallICE:
		m.handleICE(env)
	case proto.TypeCallReject, proto.TypeCallEnd:
		m.handleRemoteEnd(env)
	}
}

// Close stops the monitor and ends any in-flight call.
func (m *Machine) Close() {
	m.closeOnce.Do(func() {
		close(m.monitorStop)
	})
	m.End(context.Background())
}

func (m *Machine) handleInitiate(ctx context.Context, env *proto.Envelope) {
	if env.CallData == nil {
		return
	}

	m.mu.Lock()
	if _, idle := m.state.(Idle); !idle {
		m.mu.Unlock()
		// Already on a call: auto-reject the new one, current call untouched.
		m.log.Info().Str("call_id", env.CallData.ID).Msg("busy, auto-rejecting incoming call")
		reject := &proto.Envelope{
			Type:       proto.TypeCallReject,
			ReceiverID: env.CallData.CallerID,
			CallData:   env.CallData,
		}
		if _, err := m.sig.Send(ctx, reject); err != nil {
			m.log.Warn().Err(err).Msg("failed to auto-reject call")
		}
		return
	}

	call := env.CallData
	call.Status = proto.CallStatusRinging
	m.state = Ringing{Role: RoleCallee, Call: call}
	m.mu.Unlock()

	m.tones.PlayRing()
	m.notify()
}

func (m *Machine) handleAccept(env *proto.Envelope) {
	m.mu.Lock()
	st, ok := m.state.(Ringing)
	if !ok || st.Role != RoleCaller || env.CallData == nil || env.CallData.ID != st.Call.ID {
		m.mu.Unlock()
		m.log.Debug().Msg("ignoring accept for unknown call")
		return
	}
	call := st.Call
	live := m.peerLive
	m.mu.Unlock()

	m.tones.Stop()

	// Offer/answer race: local media may not be up yet.
	if !live {
		if err := m.startPeer(call, call.ReceiverID); err != nil {
			m.log.Error().Err(err).Msg("media init on accept failed")
			m.End(context.Background())
			return
		}
	}

	answer := env.SDP
	if answer == nil && env.CallData != nil {
		answer = env.CallData.SDP
	}
	if answer == nil {
		m.log.Error().Str("call_id", call.ID).Msg("accept without answer")
		m.End(context.Background())
		return
	}

	if err := m.peer.HandleAnswer(answer); err != nil {
		m.log.Error().Err(err).Msg("applying answer failed")
		m.End(context.Background())
		return
	}

	m.mu.Lock()
	call.Status = proto.CallStatusConnected
	m.state = Connected{Call: call}
	m.mu.Unlock()

	m.notify()
}

func (m *Machine) handleICE(env *proto.Envelope) {
	if env.Candidate == nil {
		return
	}

	m.mu.Lock()
	call := callOf(m.state)
	match := call != nil && env.CallData != nil && env.CallData.ID == call.ID
	m.mu.Unlock()

	// Stale or foreign candidates are dropped silently.
	if !match {
		return
	}

	if err := m.peer.AddCandidate(env.Candidate); err != nil {
		m.log.Warn().Err(err).Msg("failed to add candidate")
	}
}

func (m *Machine) handleRemoteEnd(env *proto.Envelope) {
	m.mu.Lock()
	call := callOf(m.state)
	if call == nil {
		m.mu.Unlock()
		return
	}
	match := env.CallData != nil && env.CallData.ID == call.ID
	if !match {
		match = env.SenderID == call.CallerID || env.SenderID == call.ReceiverID
	}
	if !match {
		m.mu.Unlock()
		return
	}
	m.state = Idle{}
	m.peerLive = false
	m.mu.Unlock()

	// Same cleanup as a local end, without re-sending the end signal.
	m.finishLocal(call)
	m.notify()
}

// startPeer initializes local media toward targetID and wires candidate and
// state-change plumbing.
func (m *Machine) startPeer(call *proto.CallData, targetID int64) error {
	// Candidates reference the call by a detached copy so the signaling
	// goroutine never races the live record.
	ref := &proto.CallData{
		ID:         call.ID,
		CallerID:   call.CallerID,
		ReceiverID: call.ReceiverID,
		Type:       call.Type,
		CreatedAt:  call.CreatedAt,
	}

	_, err := m.peer.Start(call.Type == proto.CallTypeVideo, targetID, func(cand *proto.ICECandidate) {
		env := &proto.Envelope{
			Type:       proto.TypeCallICE,
			ReceiverID: targetID,
			CallData:   ref,
			Candidate:  cand,
		}
		if _, sendErr := m.sig.Send(context.Background(), env); sendErr != nil {
			m.log.Warn().Err(sendErr).Msg("failed to send candidate")
		}
	})
	if err != nil {
		return err
	}

	m.peer.OnConnectionStateChange(func(st rtc.ConnectionState) {
		if st.Dead() {
			go m.End(context.Background())
		}
	})

	m.mu.Lock()
	m.peerLive = true
	m.mu.Unlock()
	return nil
}

// reset is the shared failure path for setup errors: no remote signal, just
// local teardown back to Idle.
func (m *Machine) reset() {
	m.mu.Lock()
	call := callOf(m.state)
	m.state = Idle{}
	m.peerLive = false
	m.mu.Unlock()

	if call != nil {
		m.finishLocal(call)
	} else {
		m.tones.Stop()
		m.peer.Cleanup()
	}
	m.notify()
}

// hangup tears down locally and notifies the other party with the given
// signal type.
func (m *Machine) hangup(call *proto.CallData, signalType string) {
	m.mu.Lock()
	m.state = Idle{}
	m.peerLive = false
	m.mu.Unlock()

	other := call.ReceiverID
	if m.selfID != call.CallerID {
		other = call.CallerID
	}
	m.finishLocal(call)
	go m.sendEndSignal(signalType, other, call)
	m.notify()
}

// finishLocal stops audio feedback, tears down the peer session and marks
// the call record ended.
func (m *Machine) finishLocal(call *proto.CallData) {
	m.tones.Stop()
	m.peer.Cleanup()
	call.Status = proto.CallStatusEnded
}

// sendEndSignal notifies the other party that the call is over. Delivery is
// best-effort: up to endAttempts tries with endDelay pauses, then give up
// with a logged failure. Local state was already cleared by the caller.
func (m *Machine) sendEndSignal(signalType string, to int64, call *proto.CallData) {
	env := &proto.Envelope{
		Type:       signalType,
		ReceiverID: to,
		CallData:   call,
	}

	for attempt := 1; attempt <= m.endAttempts; attempt++ {
		_, err := m.sig.Send(context.Background(), env)
		if err == nil {
			return
		}
		m.log.Warn().Err(err).Int("attempt", attempt).Str("call_id", call.ID).Msg("end signal delivery failed")
		if attempt < m.endAttempts {
			time.Sleep(m.endDelay)
		}
	}
	m.log.Error().Str("call_id", call.ID).Msg("giving up on end signal delivery")
}

// monitor periodically checks the peer session health; together with the
// event-driven state handler it guards against missed transitions.
func (m *Machine) monitor() {
	ticker := time.NewTicker(m.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.monitorStop:
			return
		case <-ticker.C:
			m.mu.Lock()
			active := callOf(m.state) != nil && m.peerLive
			m.mu.Unlock()
			if !active {
				continue
			}
			st, ok := m.peer.ConnectionState()
			if !ok || st.Dead() {
				m.log.Info().Str("state", st.String()).Msg("peer session dead, ending call")
				m.End(context.Background())
			}
		}
	}
}

func (m *Machine) notify() {
	m.mu.Lock()
	fn := m.onChange
	state := m.state
	m.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}
