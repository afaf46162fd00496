package sandbox

import (
	"bufio"
	stderrors "errors"
	"io"

	"github.com/inconshreveable/log15"
	"github.com/omegaup/replgrader/common"
	"github.com/omegaup/replgrader/grader"
	"github.com/omegaup/replgrader/session"
	"github.com/pkg/errors"
)

// A FactoryFunc creates the engine factory used to grade one request.
type FactoryFunc func(config *common.GraderConfig, log log15.Logger) session.EngineFactory

// Serve reads one request from r, grades it and writes the response to w.
// It is the whole life of a sandboxed child.
func Serve(ctx *common.Context, newFactory FactoryFunc, r io.Reader, w io.Writer) error {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return errors.Wrap(err, "failed to read request")
	}
	var req Request
	if err := Decode(line, &req); err != nil {
		return err
	}

	gradeCtx := *ctx
	gradeCtx.Config.Grader = req.Grader
	if err := gradeCtx.Config.Validate(); err != nil {
		return err
	}
	ctx.Log.Debug("Serving request", "cases", len(req.Cases), "compress", req.Compress)

	results, err := grader.Grade(
		&gradeCtx,
		newFactory(&req.Grader, ctx.Log),
		string(req.Program),
		req.TestCases(),
	)
	var failure *Failure
	if err != nil {
		failure = &Failure{Reason: ReasonNoResult, Detail: err.Error()}
		if stderrors.Is(err, session.ErrCancelled) {
			failure.Reason = ReasonTimeout
		}
		var noResult *grader.NoResultError
		if stderrors.As(err, &noResult) {
			failure.Partial = []byte(noResult.Transcript)
		}
		ctx.Log.Error("Request produced no result", "err", err, "graded", len(results))
	}

	encoded, err := Encode(NewResponse(results, failure), req.Compress)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, encoded+"\n"); err != nil {
		return errors.Wrap(err, "failed to write response")
	}
	return nil
}
