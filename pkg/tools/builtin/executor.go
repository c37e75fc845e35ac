package builtin

import (
	"context"
	"io"
	"os/exec"
)

// Executor abstracts how bash commands are run. The default runs a local
// subprocess; implementations can delegate to a container, an SSH host, or a
// sandbox instead.
type Executor interface {
	// Exec runs command in the given working directory. onData receives
	// chunks of combined stdout+stderr as they arrive and may be nil.
	// The exit code is returned separately from execution errors; a non-zero
	// exit is a command result, not an error.
	Exec(ctx context.Context, command, cwd string, onData func(chunk string)) (exitCode int, err error)
}

// LocalExecutor runs commands in a local bash subprocess.
type LocalExecutor struct{}

func (e *LocalExecutor) Exec(ctx context.Context, command, cwd string, onData func(chunk string)) (int, error) {
	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	if cwd != "" {
		cmd.Dir = cwd
	}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		return -1, err
	}

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		buf := make([]byte, 32*1024)
		for {
			n, err := pr.Read(buf)
			if n > 0 && onData != nil {
				onData(string(buf[:n]))
			}
			if err != nil {
				return
			}
		}
	}()

	cmdErr := cmd.Wait()
	pw.Close()
	<-readDone

	if cmdErr != nil {
		if exitErr, ok := cmdErr.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, cmdErr
	}
	return 0, nil
}
