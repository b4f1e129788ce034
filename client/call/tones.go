package call

// Tones is the audio feedback a call plays while dialing or ringing. The
// hosting UI supplies a real implementation; NullTones is the default.
type Tones interface {
	// PlayDial starts the outbound dial tone.
	PlayDial()
	// PlayRing starts the inbound ring tone.
	PlayRing()
	// Stop silences any playing tone. Safe to call when nothing plays.
	Stop()
}

// NullTones plays nothing.
type NullTones struct{}

func (NullTones) PlayDial() {}
func (NullTones) PlayRing() {}
func (NullTones) Stop()     {}
