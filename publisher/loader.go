package publisher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/guardian/kuberunner/common/logging"
	"go.uber.org/zap"
)

/**
ClusterImageLoader pushes a locally built image straight into a local cluster's image cache
*/
type ClusterImageLoader interface {
	Load(ctx context.Context, ref string) error
}

/**
CommandLoader runs an external command with the image reference as its last argument,
e.g. `minikube image load <ref>` or `kind load docker-image <ref>`
*/
type CommandLoader struct {
	Command []string
	logger  *zap.Logger
}

func NewCommandLoader(command []string, logger *zap.Logger) *CommandLoader {
	return &CommandLoader{Command: command, logger: logging.OrNop(logger)}
}

func (l *CommandLoader) Load(ctx context.Context, ref string) error {
	if len(l.Command) == 0 {
		return errors.New("no image load command configured")
	}
	args := append(append([]string{}, l.Command[1:]...), ref)
	cmd := exec.CommandContext(ctx, l.Command[0], args...)

	outContent, errContent, err := runCommand(cmd, l.logger)
	if err != nil {
		return fmt.Errorf("%s failed: %w\n%s%s", cmd, err, outContent, errContent)
	}
	return nil
}

/**
helper function to run the given command and capture output
*/
func runCommand(cmd *exec.Cmd, logger *zap.Logger) ([]byte, []byte, error) {
	logger.Debug("exec command", zap.String("command", cmd.String()))
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	if startErr := cmd.Start(); startErr != nil {
		logger.Error("could not start command", zap.Error(startErr))
		return nil, nil, startErr
	}

	completeErr := cmd.Wait()
	if completeErr != nil {
		var exitErr *exec.ExitError
		if errors.As(completeErr, &exitErr) {
			logger.Error("subprocess exited with an error",
				zap.Int("exitCode", exitErr.ExitCode()),
				zap.ByteString("stderr", errBuf.Bytes()))
		} else {
			logger.Error("could not run subprocess", zap.Error(completeErr))
		}
		return outBuf.Bytes(), errBuf.Bytes(), completeErr
	}
	return outBuf.Bytes(), errBuf.Bytes(), nil
}
