package common

import (
	"encoding/json"
	"io"
	"time"

	base "github.com/omegaup/go-base/v3"
	"github.com/pkg/errors"
)

// ComparatorPolicy is the name of the policy used to compare a transcript
// against the expected output.
type ComparatorPolicy string

const (
	// ComparatorExact requires an exact match, but tolerates a single extra
	// trailing newline in the transcript when the expected output lacks one.
	ComparatorExact ComparatorPolicy = "exact"

	// ComparatorTrailingWhitespace ignores trailing newlines and spaces on
	// both sides.
	ComparatorTrailingWhitespace ComparatorPolicy = "trailing-whitespace"
)

// FileSystemScope determines the lifetime of the virtual file system table
// within a single grading invocation.
type FileSystemScope string

const (
	// FileSystemPerCase gives every test case a fresh, empty table.
	FileSystemPerCase FileSystemScope = "case"

	// FileSystemPerBatch shares one table between all the test cases of an
	// invocation, in order.
	FileSystemPerBatch FileSystemScope = "batch"
)

// LoggingConfig represents the configuration for logging.
type LoggingConfig struct {
	File  string
	Level string
	JSON  bool
}

// MetricsConfig represents the configuration for metrics.
type MetricsConfig struct {
	Port uint16
}

// DbConfig represents the configuration for the results database.
type DbConfig struct {
	Driver         string
	DataSourceName string
}

// GraderConfig represents the configuration for the test harness.
type GraderConfig struct {
	Comparator        ComparatorPolicy
	FileSystemScope   FileSystemScope
	MaxExecutionSteps uint64
	CaseTimeLimit     base.Duration
}

// SandboxConfig represents the configuration for the Sandbox Runner.
type SandboxConfig struct {
	// Command is the command line of the sandboxed child. It is split using
	// shell quoting rules.
	Command      string
	TimeLimit    base.Duration
	MemoryLimit  base.Byte
	PollInterval base.Duration
	Compress     bool
}

// Config represents the configuration for the whole program.
type Config struct {
	Logging LoggingConfig
	Metrics MetricsConfig
	Db      DbConfig
	Grader  GraderConfig
	Sandbox SandboxConfig
}

var defaultConfig = Config{
	Logging: LoggingConfig{
		File:  "stderr",
		Level: "info",
	},
	Metrics: MetricsConfig{
		Port: 0,
	},
	Db: DbConfig{
		Driver:         "sqlite3",
		DataSourceName: "",
	},
	Grader: GraderConfig{
		Comparator:        ComparatorExact,
		FileSystemScope:   FileSystemPerCase,
		MaxExecutionSteps: 100_000_000,
		CaseTimeLimit:     base.Duration(time.Duration(5) * time.Second),
	},
	Sandbox: SandboxConfig{
		Command:      "replgrader-sandbox",
		TimeLimit:    base.Duration(time.Duration(5) * time.Second),
		MemoryLimit:  base.Byte(50) * base.Mebibyte,
		PollInterval: base.Duration(time.Duration(50) * time.Millisecond),
		Compress:     false,
	},
}

// DefaultConfig returns a default Config.
func DefaultConfig() Config {
	return defaultConfig
}

// NewConfig creates a new Config from the specified reader. Any field that
// is not present keeps its default value.
func NewConfig(reader io.Reader) (*Config, error) {
	config := defaultConfig

	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(&config); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks that the enumerated settings hold known values.
func (config *Config) Validate() error {
	switch config.Grader.Comparator {
	case ComparatorExact, ComparatorTrailingWhitespace:
	default:
		return errors.Errorf("unknown comparator %q", config.Grader.Comparator)
	}
	switch config.Grader.FileSystemScope {
	case FileSystemPerCase, FileSystemPerBatch:
	default:
		return errors.Errorf("unknown file system scope %q", config.Grader.FileSystemScope)
	}
	return nil
}

func (config *Config) String() string {
	buf, err := json.MarshalIndent(*config, "", "  ")
	if err != nil {
		return err.Error()
	}
	return string(buf)
}
