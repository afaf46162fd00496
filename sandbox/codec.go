// Package sandbox runs a grading request in a separate, resource-limited
// process and reads its results back.
//
// The parent and the child exchange exactly one request and one response.
// Each one is a single line holding a base64 data URL whose payload is JSON,
// optionally compressed with zstd.
package sandbox

import (
	"encoding/json"

	"github.com/klauspost/compress/zstd"
	"github.com/omegaup/replgrader/common"
	"github.com/omegaup/replgrader/grader"
	"github.com/pkg/errors"
	"github.com/vincent-petithory/dataurl"
)

const (
	mediaTypeJSON = "application/json"
	mediaTypeZstd = "application/zstd"

	// maxPayloadSize bounds the size of a decompressed payload.
	maxPayloadSize = 256 * 1024 * 1024
)

// A Case is the wire form of a grader.TestCase. Byte slices keep arbitrary
// bytes intact across the JSON encoding. A nil Stdin means that the case
// has no predetermined input at all, which is different from an empty one.
type Case struct {
	Script   []byte `json:"script"`
	Stdin    []byte `json:"stdin"`
	Expected []byte `json:"expected"`
}

// A Request asks the child to grade a program.
type Request struct {
	Program  []byte              `json:"program"`
	Cases    []Case              `json:"cases"`
	Grader   common.GraderConfig `json:"grader"`
	Compress bool                `json:"compress"`
}

// A Result is the wire form of a grader.CaseResult.
type Result struct {
	Outcome    grader.Outcome `json:"outcome"`
	Transcript []byte         `json:"transcript"`
}

// A Response carries the results of every graded case. When a case
// produced no result, Failure says why and Results holds the cases graded
// before it.
type Response struct {
	Results []Result `json:"results"`
	Failure *Failure `json:"failure,omitempty"`
}

// NewRequest builds the request for grading program against cases.
func NewRequest(config *common.GraderConfig, compress bool, program string, cases []grader.TestCase) *Request {
	req := &Request{
		Program:  []byte(program),
		Cases:    make([]Case, len(cases)),
		Grader:   *config,
		Compress: compress,
	}
	for i, tc := range cases {
		req.Cases[i] = Case{
			Script:   []byte(tc.Script),
			Expected: []byte(tc.Expected),
		}
		if tc.Stdin != nil {
			req.Cases[i].Stdin = []byte(*tc.Stdin)
		}
	}
	return req
}

// TestCases returns the cases of the request.
func (req *Request) TestCases() []grader.TestCase {
	cases := make([]grader.TestCase, len(req.Cases))
	for i, c := range req.Cases {
		cases[i] = grader.TestCase{
			Script:   string(c.Script),
			Expected: string(c.Expected),
		}
		if c.Stdin != nil {
			stdin := string(c.Stdin)
			cases[i].Stdin = &stdin
		}
	}
	return cases
}

// NewResponse builds the response for the results of grader.Grade.
func NewResponse(results []grader.CaseResult, failure *Failure) *Response {
	resp := &Response{
		Results: make([]Result, len(results)),
		Failure: failure,
	}
	for i, result := range results {
		resp.Results[i] = Result{
			Outcome:    result.Outcome,
			Transcript: []byte(result.Transcript),
		}
	}
	return resp
}

// CaseResults returns the results carried by the response.
func (resp *Response) CaseResults() []grader.CaseResult {
	results := make([]grader.CaseResult, len(resp.Results))
	for i, result := range resp.Results {
		results[i] = grader.CaseResult{
			Outcome:    result.Outcome,
			Transcript: string(result.Transcript),
		}
	}
	return results
}

// Encode serializes v as a data URL.
func Encode(v interface{}, compress bool) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal payload")
	}
	mediaType := mediaTypeJSON
	if compress {
		encoder, err := zstd.NewWriter(nil)
		if err != nil {
			return "", errors.Wrap(err, "failed to create compressor")
		}
		payload = encoder.EncodeAll(payload, nil)
		encoder.Close()
		mediaType = mediaTypeZstd
	}
	return dataurl.New(payload, mediaType).String(), nil
}

// Decode parses a data URL produced by Encode into v.
func Decode(encoded string, v interface{}) error {
	url, err := dataurl.DecodeString(encoded)
	if err != nil {
		return errors.Wrap(err, "failed to decode data url")
	}
	payload := url.Data
	switch url.MediaType.ContentType() {
	case mediaTypeJSON:
	case mediaTypeZstd:
		decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxPayloadSize))
		if err != nil {
			return errors.Wrap(err, "failed to create decompressor")
		}
		defer decoder.Close()
		payload, err = decoder.DecodeAll(url.Data, nil)
		if err != nil {
			return errors.Wrap(err, "failed to decompress payload")
		}
	default:
		return errors.Errorf("unexpected media type %q", url.MediaType.ContentType())
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return errors.Wrap(err, "failed to unmarshal payload")
	}
	return nil
}
