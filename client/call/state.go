package call

import "github.com/teamline-app/realtime/internal/proto"

// Role distinguishes who placed the call.
type Role int

const (
	RoleCaller Role = iota
	RoleCallee
)

func (r Role) String() string {
	if r == RoleCallee {
		return "callee"
	}
	return "caller"
}

// State is the call lifecycle as a tagged union: exactly one of Idle,
// Ringing or Connected. Conflicting active/incoming slots cannot be
// represented.
type State interface {
	isState()
}

// Idle means no call exists.
type Idle struct{}

// Ringing is an unanswered call: as caller the offer is sent and awaiting an
// answer, as callee the offer arrived and awaits a local accept or reject.
type Ringing struct {
	Role Role
	Call *proto.CallData
}

// Connected means the answer was exchanged and media is flowing.
type Connected struct {
	Call *proto.CallData
}

func (Idle) isState()      {}
func (Ringing) isState()   {}
func (Connected) isState() {}

// callOf extracts the call a state holds, nil for Idle.
func callOf(s State) *proto.CallData {
	switch st := s.(type) {
	case Ringing:
		return st.Call
	case Connected:
		return st.Call
	default:
		return nil
	}
}
