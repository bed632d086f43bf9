package terminal

import (
	"context"
	"os/exec"

	log "github.com/sirupsen/logrus"
)

// ExecSupervisor is the default ProcessSupervisor: a check command decides
// whether the terminal process is up (exit 0 = running) and a launch command
// starts it detached when it is not. With no commands configured it is a
// no-op, leaving supervision to the deployment.
type ExecSupervisor struct {
	CheckCommand  []string
	LaunchCommand []string
}

func (s *ExecSupervisor) EnsureRunning(ctx context.Context) error {
	if len(s.CheckCommand) > 0 {
		if err := exec.CommandContext(ctx, s.CheckCommand[0], s.CheckCommand[1:]...).Run(); err == nil {
			return nil
		}
	}
	if len(s.LaunchCommand) == 0 {
		return nil
	}

	cmd := exec.Command(s.LaunchCommand[0], s.LaunchCommand[1:]...)
	if err := cmd.Start(); err != nil {
		return err
	}
	log.Printf("supervisor: launched terminal process pid=%d", cmd.Process.Pid)
	// the process outlives us; don't wait on it beyond reaping
	go func() { _ = cmd.Wait() }()
	return nil
}
