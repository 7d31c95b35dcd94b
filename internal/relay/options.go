// Package relay bridges a Chrome-extension CDP producer to standard CDP
// clients. Clients connect on /cdp and see an ordinary browser endpoint; the
// extension connects on /extension and sees a single automation client. The
// relay multiplexes client sessions onto the one tab the extension exposes.
package relay

import (
	"log/slog"
	"time"
)

// ProductionExtensionID is the store-published extension id accepted on
// /extension.
const ProductionExtensionID = "jfeammnjpkecdekppnclgkkffahnhfhe"

// defaultExtensionIDs is the compiled-in origin allowlist: the production id
// plus unpacked development builds.
var defaultExtensionIDs = []string{
	ProductionExtensionID,
	"dgmanlpmmkibanfdgjocnabmcaclkmod", // unpacked dev build
	"oboiabpaomhojbgkoadlonjpgnjcakbe", // CI build
}

const (
	defaultPingInterval         = 30 * time.Second
	defaultCommandTimeout       = 30 * time.Second
	defaultLongCommandTimeout   = 60 * time.Second
	defaultMaxClientQueueBytes  = 1 << 20
	defaultMaxClientQueueFrames = 1024

	// handshakeTimeout bounds how long a freshly connected extension may wait
	// before announcing its target.
	handshakeTimeout = 5 * time.Second

	// shutdownGrace is how long Close waits for peers to acknowledge the
	// close frame before terminating them.
	shutdownGrace = 2 * time.Second

	sweepInterval = time.Second

	maxFrameSize = 64 << 20 // screenshots come back base64-encoded
)

// longMethods get the extended command deadline.
var longMethods = map[string]bool{
	"Page.navigate":          true,
	"Runtime.evaluate":       true,
	"Runtime.callFunctionOn": true,
	"Page.captureScreenshot": true,
	"Page.printToPDF":        true,
}

// Options configures a Relay. The zero value is usable: no client token,
// compiled-in extension allowlist, default intervals.
type Options struct {
	// Token, when non-empty, is required as the token query parameter on
	// /cdp upgrades.
	Token string

	// ExtensionIDs overrides the compiled-in origin allowlist.
	ExtensionIDs []string

	PingInterval       time.Duration
	CommandTimeout     time.Duration
	LongCommandTimeout time.Duration

	MaxClientQueueBytes  int
	MaxClientQueueFrames int

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if len(o.ExtensionIDs) == 0 {
		o.ExtensionIDs = defaultExtensionIDs
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = defaultCommandTimeout
	}
	if o.LongCommandTimeout <= 0 {
		o.LongCommandTimeout = defaultLongCommandTimeout
	}
	if o.MaxClientQueueBytes <= 0 {
		o.MaxClientQueueBytes = defaultMaxClientQueueBytes
	}
	if o.MaxClientQueueFrames <= 0 {
		o.MaxClientQueueFrames = defaultMaxClientQueueFrames
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// deadlineFor returns the command deadline for a method.
func (o Options) deadlineFor(method string, now time.Time) time.Time {
	if longMethods[method] {
		return now.Add(o.LongCommandTimeout)
	}
	return now.Add(o.CommandTimeout)
}
