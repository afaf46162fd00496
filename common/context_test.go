package common

import (
	"bytes"
	"io/ioutil"
	"os"
	"path"
	"strings"
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	config, err := NewConfig(bytes.NewBufferString("{}"))
	if err != nil {
		t.Fatalf("NewConfig failed with %v", err)
	}
	if config.Grader.Comparator != ComparatorExact {
		t.Errorf("Expected comparator %q, got %q", ComparatorExact, config.Grader.Comparator)
	}
	if config.Grader.FileSystemScope != FileSystemPerCase {
		t.Errorf("Expected scope %q, got %q", FileSystemPerCase, config.Grader.FileSystemScope)
	}
	if time.Duration(config.Sandbox.TimeLimit) != 5*time.Second {
		t.Errorf("Expected time limit 5s, got %v", time.Duration(config.Sandbox.TimeLimit))
	}
	if int64(config.Sandbox.MemoryLimit) != 50*1024*1024 {
		t.Errorf("Expected memory limit 50MiB, got %d", int64(config.Sandbox.MemoryLimit))
	}
}

func TestConfigOverrides(t *testing.T) {
	config, err := NewConfig(bytes.NewBufferString(
		`{"Grader": {"Comparator": "trailing-whitespace", "FileSystemScope": "batch"}}`,
	))
	if err != nil {
		t.Fatalf("NewConfig failed with %v", err)
	}
	if config.Grader.Comparator != ComparatorTrailingWhitespace {
		t.Errorf("Expected comparator %q, got %q", ComparatorTrailingWhitespace, config.Grader.Comparator)
	}
	if config.Grader.FileSystemScope != FileSystemPerBatch {
		t.Errorf("Expected scope %q, got %q", FileSystemPerBatch, config.Grader.FileSystemScope)
	}
	if config.Sandbox.Command != "replgrader-sandbox" {
		t.Errorf("Expected default sandbox command, got %q", config.Sandbox.Command)
	}
}

func TestConfigValidation(t *testing.T) {
	for _, raw := range []string{
		`{"Grader": {"Comparator": "token"}}`,
		`{"Grader": {"FileSystemScope": "process"}}`,
		`{"Grader": `,
	} {
		if _, err := NewConfig(bytes.NewBufferString(raw)); err == nil {
			t.Errorf("NewConfig(%q) succeeded, expected an error", raw)
		}
	}
}

func TestConfigSerializability(t *testing.T) {
	ctx := NewTestingContext()
	defer ctx.Close()
	if !strings.Contains(ctx.Config.String(), "Comparator") {
		t.Errorf("Config string does not mention the comparator: %q", ctx.Config.String())
	}
}

func TestLoggerToFile(t *testing.T) {
	dirname, err := ioutil.TempDir("/tmp", "replgraderlog")
	if err != nil {
		t.Fatalf("ioutil.TempDir failed with %v", err)
	}
	defer os.RemoveAll(dirname)

	logFilename := path.Join(dirname, "service.log")
	ctx, err := NewContextFromReader(bytes.NewBufferString(
		`{"Logging": {"File": "` + logFilename + `", "Level": "info"}}`,
	))
	if err != nil {
		t.Fatalf("NewContextFromReader failed with %v", err)
	}
	ctx.Log.Debug("Debug statement")
	ctx.Log.Info("Info statement", "cases", 3)
	ctx.Close()

	contents, err := ioutil.ReadFile(logFilename)
	if err != nil {
		t.Fatalf("ReadFile(%s) failed with %v", logFilename, err)
	}
	logStr := string(contents)
	if strings.Contains(logStr, "Debug statement") {
		t.Errorf("\"Debug statement\" present in log: %q", logStr)
	}
	if !strings.Contains(logStr, "Info statement") || !strings.Contains(logStr, "cases=3") {
		t.Errorf("\"Info statement\" not present in log: %q", logStr)
	}
}

func TestInvalidLoggingLevel(t *testing.T) {
	if _, err := NewLogger(LoggingConfig{File: "/dev/null", Level: "chatty"}); err == nil {
		t.Errorf("NewLogger succeeded with an invalid level")
	}
}
