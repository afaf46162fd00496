package common

import (
	"context"
	"io"

	"github.com/inconshreveable/log15"
)

// A Context holds the configuration, logger and metrics that are shared by
// the components of one process. Mutable grading state (file systems,
// sessions) is never stored here: it is owned by each grading invocation.
type Context struct {
	Context context.Context
	Config  Config
	Log     log15.Logger
	Metrics Metrics
}

// NewContext creates a new Context from the specified Config. This also
// creates a Logger.
func NewContext(config *Config) (*Context, error) {
	log, err := NewLogger(config.Logging)
	if err != nil {
		return nil, err
	}
	return &Context{
		Context: context.Background(),
		Config:  *config,
		Log:     log,
		Metrics: &NoOpMetrics{},
	}, nil
}

// NewContextFromReader creates a new Context from the configuration in the
// specified reader.
func NewContextFromReader(reader io.Reader) (*Context, error) {
	config, err := NewConfig(reader)
	if err != nil {
		return nil, err
	}
	return NewContext(config)
}

// NewTestingContext returns a Context with the default configuration whose
// logger discards everything.
func NewTestingContext() *Context {
	return &Context{
		Context: context.Background(),
		Config:  DefaultConfig(),
		Log:     NewDiscardLogger(),
		Metrics: &NoOpMetrics{},
	}
}

// WithContext returns a shallow copy of ctx that uses the provided
// context.Context for cancellation.
func (ctx *Context) WithContext(c context.Context) *Context {
	child := *ctx
	child.Context = c
	return &child
}

// Close releases all resources owned by the context.
func (ctx *Context) Close() {
	CloseLogger(ctx.Log)
}
