// simctx
package sim

import (
	"go.uber.org/zap"
)

// SimCtx carries the global simulation time and the event logger.  It is
// threaded explicitly through every entity rather than living in package
// globals, so two simulations can coexist in one process (and in one test).
type SimCtx struct {
	// Time is the current tick.  One tick corresponds to one second of
	// 802.1AX timer units when the default periodic intervals are used.
	Time int

	// Debug selects log verbosity.  0 silences all logging; any positive
	// value logs every level.
	Debug int

	Log *zap.SugaredLogger
}

// NewSimCtx creates a context with a development logger when debug is
// positive and a silent logger otherwise.
func NewSimCtx(debug int) *SimCtx {
	var logger *zap.Logger
	var err error
	if debug > 0 {
		logger, err = zap.NewDevelopment()
		if err != nil {
			logger = zap.NewNop()
		}
	} else {
		logger = zap.NewNop()
	}
	return &SimCtx{
		Debug: debug,
		Log:   logger.Sugar(),
	}
}

// NewTestSimCtx is the context used by the package tests, silent by default.
func NewTestSimCtx() *SimCtx {
	return &SimCtx{Log: zap.NewNop().Sugar()}
}
