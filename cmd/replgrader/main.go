package main

import (
	"encoding/json"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/inconshreveable/log15"
	"github.com/omegaup/replgrader/common"
	"github.com/omegaup/replgrader/grader"
	"github.com/omegaup/replgrader/sandbox"
	"github.com/omegaup/replgrader/session"
	"github.com/omegaup/replgrader/starlarkengine"
	"github.com/omegaup/replgrader/store"
	"github.com/pkg/errors"
)

var (
	// One-shot mode: Performs a single operation and exits.
	oneshot = flag.String("oneshot", "grade",
		"Perform one action and return. Valid values are 'grade', 'console' and 'show'.")
	verbose = flag.Bool("verbose", false, "Enable verbose logging.")
	request = flag.String("request", "-",
		"With -oneshot=grade, the path to the JSON request, or - for stdin.")
	program = flag.String("program", "",
		"With -oneshot=console, the path to a program to run before the first prompt.")
	stdin = flag.String("stdin", "",
		"With -oneshot=console, the path to the predetermined input.")
	batchID = flag.Int64("batch", 0, "With -oneshot=show, the id of the stored batch.")
	local   = flag.Bool("local", false,
		"Grade in this process instead of a sandboxed child.")

	version    = flag.Bool("version", false, "Print the version and exit")
	configPath = flag.String("config", "",
		"Grader configuration file. The built-in defaults are used if empty.")

	// ProgramVersion is the version of the code from which the binary was built from.
	ProgramVersion string
)

// A gradeRequest is a program and the cases to grade it against.
type gradeRequest struct {
	Program string            `json:"program"`
	Cases   []grader.TestCase `json:"cases"`
}

type caseOutput struct {
	Outcome grader.Outcome `json:"outcome"`
	Output  string         `json:"output"`
}

type gradeResponse struct {
	Results []caseOutput     `json:"results"`
	Failure *sandbox.Failure `json:"failure,omitempty"`
	BatchID int64            `json:"batch_id,omitempty"`
}

func loadContext() (*common.Context, error) {
	config := common.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		loaded, err := common.NewConfig(f)
		if err != nil {
			return nil, err
		}
		config = *loaded
	}
	if *verbose {
		config.Logging.Level = "debug"
	}
	return common.NewContext(&config)
}

func newFactory(config *common.GraderConfig, log log15.Logger) session.EngineFactory {
	return starlarkengine.NewFactory(config.MaxExecutionSteps, log)
}

func newRunner() sandbox.Runner {
	if *local {
		return &sandbox.LocalRunner{NewFactory: newFactory}
	}
	return sandbox.NewProcessRunner()
}

func openStore(ctx *common.Context) (*store.Store, error) {
	if ctx.Config.Db.DataSourceName == "" {
		return nil, nil
	}
	return store.Open(ctx.Context, &ctx.Config.Db)
}

func readRequest(path string) (*gradeRequest, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var req gradeRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.Wrap(err, "failed to decode request")
	}
	return &req, nil
}

// grade runs the request, stores the batch if there is a store, and returns
// the response to print.
func grade(
	ctx *common.Context,
	runner sandbox.Runner,
	db *store.Store,
	req *gradeRequest,
) (*gradeResponse, error) {
	results, err := runner.Run(ctx, req.Program, req.Cases)
	resp := &gradeResponse{Results: make([]caseOutput, len(results))}
	for i, result := range results {
		resp.Results[i] = caseOutput{Outcome: result.Outcome, Output: result.Transcript}
	}
	if err != nil {
		if !stderrors.As(err, &resp.Failure) {
			return nil, err
		}
	}
	gaugesUpdate()

	if db != nil {
		var reason sandbox.Reason
		var detail string
		if resp.Failure != nil {
			reason = resp.Failure.Reason
			detail = resp.Failure.Detail
		}
		resp.BatchID, err = db.SaveBatch(
			ctx.Context,
			&ctx.Config.Grader,
			req.Program,
			len(req.Cases),
			results,
			string(reason),
			detail,
		)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func runOneshotGrade(ctx *common.Context, db *store.Store) error {
	req, err := readRequest(*request)
	if err != nil {
		return err
	}
	resp, err := grade(ctx, newRunner(), db, req)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(resp)
}

func runOneshotShow(ctx *common.Context, db *store.Store) error {
	if db == nil {
		return errors.New("-oneshot=show needs a database")
	}
	batch, err := db.Batch(ctx.Context, *batchID)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(batch)
}

func run(ctx *common.Context) error {
	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	switch *oneshot {
	case "grade":
		return runOneshotGrade(ctx, db)
	case "console":
		return runConsole(ctx)
	case "show":
		return runOneshotShow(ctx, db)
	}
	return errors.Errorf("unknown -oneshot mode %q", *oneshot)
}

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("replgrader %s\n", ProgramVersion)
		return
	}

	ctx, err := loadContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load the configuration: %v\n", err)
		os.Exit(1)
	}
	defer ctx.Close()

	var cancel func()
	ctx.Context, cancel = signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	setupMetrics(ctx)
	ctx.Log.Info("replgrader ready", "version", ProgramVersion, "oneshot", *oneshot)

	if err := run(ctx); err != nil {
		ctx.Log.Error("Failed", "oneshot", *oneshot, "err", err)
		ctx.Close()
		os.Exit(1)
	}
}
