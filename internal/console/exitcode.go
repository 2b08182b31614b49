package console

import (
	"errors"
	"os/exec"
)

// exitCode maps the result of exec.Cmd.Wait to a shell-style exit code.
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if code := ee.ExitCode(); code >= 0 {
			return code, nil
		}
		if sig, ok := signalOf(ee); ok {
			return 128 + sig, nil
		}
		return -1, nil
	}
	return -1, err
}
