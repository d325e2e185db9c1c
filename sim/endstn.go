// endstn
package sim

// EndStn generates and absorbs test frames through a single Iss, which may
// be a Mac, an Aggregator, or a Distributed Relay.
type EndStn struct {
	ctx      *SimCtx
	SystemId MacAddr
	PIss     Iss

	seq      uint16
	Received []*Frame
}

func NewEndStn(ctx *SimCtx, systemId MacAddr) *EndStn {
	return &EndStn{ctx: ctx, SystemId: systemId}
}

// GenerateTestFrame creates and transmits one test frame, pushing the given
// tags (outermost first) onto the stack.
func (e *EndStn) GenerateTestFrame(tags ...VlanTag) {
	if e.PIss == nil {
		return
	}
	e.seq++
	f := &Frame{
		Da:        BroadcastDA,
		Sa:        e.SystemId,
		EtherType: TestEtherType,
		Payload:   []byte{byte(e.seq >> 8), byte(e.seq)},
	}
	for i := len(tags) - 1; i >= 0; i-- {
		f.PushTag(tags[i])
	}
	e.PIss.Request(f)
}

// Run drains received frames into the record the tests inspect.
func (e *EndStn) Run() {
	if e.PIss == nil {
		return
	}
	for f := e.PIss.Indication(); f != nil; f = e.PIss.Indication() {
		e.Received = append(e.Received, f)
	}
}
