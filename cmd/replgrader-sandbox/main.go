// replgrader-sandbox is the child started by the sandbox runner. It reads one
// grading request from stdin and writes the response to stdout. Logs go to
// stderr.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/inconshreveable/log15"
	base "github.com/omegaup/go-base/v3"
	"github.com/omegaup/replgrader/common"
	"github.com/omegaup/replgrader/sandbox"
	"github.com/omegaup/replgrader/session"
	"github.com/omegaup/replgrader/starlarkengine"
)

var (
	memoryLimit = flag.Int64("memory-limit", int64(50*base.Mebibyte),
		"Soft memory limit of the Go runtime, in bytes. 0 disables it.")
	logLevel = flag.String("log-level", "error", "Minimum level of the logs written to stderr.")
	version  = flag.Bool("version", false, "Print the version and exit")

	// ProgramVersion is the version of the code from which the binary was built from.
	ProgramVersion string
)

func newFactory(config *common.GraderConfig, log log15.Logger) session.EngineFactory {
	return starlarkengine.NewFactory(config.MaxExecutionSteps, log)
}

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("replgrader-sandbox %s\n", ProgramVersion)
		return
	}

	if *memoryLimit > 0 {
		// Collect garbage aggressively before the runner's hard ceiling kills
		// the process.
		debug.SetMemoryLimit(*memoryLimit * 3 / 4)
	}

	config := common.DefaultConfig()
	config.Logging.File = "stderr"
	config.Logging.Level = *logLevel
	ctx, err := common.NewContext(&config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create the context: %v\n", err)
		os.Exit(1)
	}

	if err := sandbox.Serve(ctx, newFactory, os.Stdin, os.Stdout); err != nil {
		ctx.Log.Error("Failed to serve the request", "err", err)
		ctx.Close()
		os.Exit(1)
	}
	ctx.Close()
}
