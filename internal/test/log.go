package test

import (
	"os"

	"github.com/btcsuite/btclog/v2"
)

// The mocks log everything to stdout so test failures can be correlated with
// the mocked lnd activity.
var (
	backendLog = btclog.NewDefaultHandler(stdoutWriter{}).SubSystem("TEST")
	logger     = btclog.NewSLogger(backendLog)
)

// stdoutWriter sends all log output to standard output.
type stdoutWriter struct{}

func (stdoutWriter) Write(p []byte) (n int, err error) {
	return os.Stdout.Write(p)
}
