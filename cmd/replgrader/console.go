package main

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/chzyer/readline"
	"github.com/omegaup/replgrader/common"
	"github.com/omegaup/replgrader/session"
	"github.com/omegaup/replgrader/vfs"
)

const (
	primaryPrompt      = ">>> "
	continuationPrompt = "... "
)

// lineReader is the part of *readline.Instance used by the console.
type lineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

// A console runs a Session interactively. A fault ends the session, which
// is then restarted with the same program and file system.
type console struct {
	ctx     *common.Context
	factory session.EngineFactory
	fs      *vfs.FileSystem
	program string
	stdin   *string
	out     io.Writer

	session *session.Session
	shown   int
}

// start creates a new session and runs the program. It returns false if
// the program itself failed.
func (c *console) start() (bool, error) {
	s, err := session.New(c.factory, c.fs, session.ParseInput(c.stdin), c.ctx.Log)
	if err != nil {
		return false, err
	}
	c.session = s
	c.shown = 0
	if err := s.Execute(c.program); err != nil {
		return false, err
	}
	c.flush()
	return !s.State().Terminal(), nil
}

// flush shows the part of the transcript that has not been shown yet.
func (c *console) flush() {
	transcript := c.session.Transcript()
	if len(transcript) > c.shown {
		io.WriteString(c.out, transcript[c.shown:])
		c.shown = len(transcript)
	}
}

func (c *console) run(rl lineReader) error {
	ok, err := c.start()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(c.out, "[program failed: %s]\n", c.session.State())
		return nil
	}

	rl.SetPrompt(primaryPrompt)
	for {
		line, err := rl.Readline()
		if stderrors.Is(err, readline.ErrInterrupt) {
			if line == "" && !c.session.Pending() {
				return nil
			}
			continue
		}
		if stderrors.Is(err, io.EOF) {
			if err := c.session.Finish(); err != nil {
				return err
			}
			c.flush()
			return nil
		}
		if err != nil {
			return err
		}

		step, err := c.session.Submit(line)
		if err != nil {
			return err
		}
		c.flush()
		if step == session.StepPending {
			rl.SetPrompt(continuationPrompt)
			continue
		}
		rl.SetPrompt(primaryPrompt)
		if c.session.State().Terminal() {
			fmt.Fprintf(c.out, "[%s, restarting]\n", c.session.State())
			if ok, err := c.start(); err != nil || !ok {
				return err
			}
		}
	}
}

func runConsole(ctx *common.Context) error {
	c := &console{
		ctx:     ctx,
		factory: newFactory(&ctx.Config.Grader, ctx.Log),
		fs:      vfs.New(),
	}
	if *program != "" {
		contents, err := os.ReadFile(*program)
		if err != nil {
			return err
		}
		c.program = string(contents)
	}
	if *stdin != "" {
		contents, err := os.ReadFile(*stdin)
		if err != nil {
			return err
		}
		input := string(contents)
		c.stdin = &input
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          primaryPrompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "",
	})
	if err != nil {
		return err
	}
	defer rl.Close()
	c.out = rl.Stdout()
	return c.run(rl)
}
