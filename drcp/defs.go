// defs
package drcp

// DRCP timer constants, in ticks (one tick == one second)
const DrcpFastPeriodicTime = 1
const DrcpSlowPeriodicTime = 30

// number of seconds before invalidating received DRCPDU info
// (3 x DrcpFastPeriodicTime)
const DrcpShortTimeoutTime = 3

// ipp states
const (
	IppStateInit = iota + 1
	IppStateExpired
	IppStateDefaulted
	IppStateCurrent
)

var IppStateStrMap = map[int]string{
	IppStateInit:      "IppInit",
	IppStateExpired:   "IppExpired",
	IppStateDefaulted: "IppDefaulted",
	IppStateCurrent:   "IppCurrent",
}

// DR states
const (
	DrStateSolo = iota + 1
	DrStatePaired
	DrStateSuspend
)

var DrStateStrMap = map[int]string{
	DrStateSolo:    "DR_SOLO",
	DrStatePaired:  "DR_PAIRED",
	DrStateSuspend: "DR_SUSPEND",
}

// gateway conversation owner, per Conversation ID
const (
	GatewayNone uint8 = iota
	GatewayHome
	GatewayPeer
)

// number of admin edits retained per Conversation ID for diagnosing
// edit/edit races across the IRP
const GatewayEditHistoryDepth = 3
