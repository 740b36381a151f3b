package tollgate

import (
	"github.com/btcsuite/btclog/v2"
	"github.com/lightninglabs/lndclient"
	"github.com/lightninglabs/tollgate/auth"
	"github.com/lightninglabs/tollgate/challenger"
	"github.com/lightninglabs/tollgate/client"
	"github.com/lightninglabs/tollgate/l402"
	"github.com/lightninglabs/tollgate/lnc"
	"github.com/lightninglabs/tollgate/middleware"
	"github.com/lightninglabs/tollgate/payer"
	"github.com/lightninglabs/tollgate/proxy"
	"github.com/lightninglabs/tollgate/tollgatedb"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/signal"
)

// Subsystem defines the logging code for this subsystem.
const Subsystem = "TOLL"

var (
	logWriter = build.NewRotatingLogWriter()

	// log is a logger that is initialized with no output filters. Real
	// output is only produced once SetupLoggers has run.
	log btclog.Logger = build.NewSubLogger(Subsystem, nil)
)

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.SubLoggerManager, intercept signal.Interceptor) {
	genLogger := genSubLogger(root, intercept)

	log = build.NewSubLogger(Subsystem, genLogger)

	setSubLogger(root, Subsystem, log, nil)
	addSubLogger(root, genLogger, auth.Subsystem, auth.UseLogger)
	addSubLogger(root, genLogger, l402.Subsystem, l402.UseLogger)
	addSubLogger(root, genLogger, proxy.Subsystem, proxy.UseLogger)
	addSubLogger(root, genLogger, challenger.Subsystem, challenger.UseLogger)
	addSubLogger(root, genLogger, client.Subsystem, client.UseLogger)
	addSubLogger(root, genLogger, payer.Subsystem, payer.UseLogger)
	addSubLogger(root, genLogger, middleware.Subsystem, middleware.UseLogger)
	addSubLogger(root, genLogger, tollgatedb.Subsystem, tollgatedb.UseLogger)
	addSubLogger(root, genLogger, lnc.Subsystem, lnc.UseLogger)
	addSubLogger(root, genLogger, "LNDC", lndclient.UseLogger)
}

// genSubLogger creates a logger generator for the given root logger manager
// that requests a shutdown through the signal interceptor if a critical error
// is logged.
func genSubLogger(root *build.SubLoggerManager,
	intercept signal.Interceptor) func(string) btclog.Logger {

	shutdown := func() {
		intercept.RequestShutdown()
	}

	return func(tag string) btclog.Logger {
		return root.GenSubLogger(tag, shutdown)
	}
}

// addSubLogger is a helper method to conveniently create and register the
// logger of a sub system.
func addSubLogger(root *build.SubLoggerManager,
	genLogger func(string) btclog.Logger, subsystem string,
	useLogger func(btclog.Logger)) {

	logger := build.NewSubLogger(subsystem, genLogger)
	setSubLogger(root, subsystem, logger, useLogger)
}

// setSubLogger is a helper method to conveniently register the logger of a
// sub system.
func setSubLogger(root *build.SubLoggerManager, subsystem string,
	logger btclog.Logger, useLogger func(btclog.Logger)) {

	root.RegisterSubLogger(subsystem, logger)
	if useLogger != nil {
		useLogger(logger)
	}
}
