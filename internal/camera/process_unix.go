//go:build unix

package camera

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ExecLauncher はos/execで外部プロセスを起動するLauncher実装
type ExecLauncher struct{}

// NewExecLauncher は新しいExecLauncherを作成する
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{}
}

// Launch はプロセスを新しいプロセスグループで起動する
// シグナルはグループ全体に送るため、パイプラインが生んだ子プロセスも一緒に止まる
func (l *ExecLauncher) Launch(spec LaunchSpec) (Process, error) {
	cmd := exec.Command(spec.Name, spec.Args...)
	if spec.Output != nil {
		cmd.Stdout = spec.Output
		cmd.Stderr = spec.Output
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s の起動に失敗: %w", spec.Name, err)
	}

	p := &execProcess{
		cmd:  cmd,
		done: make(chan struct{}),
	}

	// 終了したプロセスを回収する。Exitedはdoneのクローズで判定する
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

// execProcess はos/execで起動したプロセスのハンドル
type execProcess struct {
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *execProcess) Terminate() error {
	return p.signal(unix.SIGTERM)
}

func (p *execProcess) Kill() error {
	return p.signal(unix.SIGKILL)
}

func (p *execProcess) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return true
	case <-timer.C:
		return false
	}
}

func (p *execProcess) ExitError() error {
	if !p.Exited() {
		return nil
	}
	return p.waitErr
}

// signal はプロセスグループにシグナルを送る
// グループへの送信に失敗した場合はプロセス本体にだけ送る
func (p *execProcess) signal(sig unix.Signal) error {
	if p.Exited() {
		return nil
	}

	pid := p.cmd.Process.Pid
	err := unix.Kill(-pid, sig)
	if err == nil {
		return nil
	}

	if errors.Is(err, unix.ESRCH) {
		if err := unix.Kill(pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("pid %d へのシグナル送信に失敗: %w", pid, err)
		}
		return nil
	}

	return fmt.Errorf("プロセスグループ %d へのシグナル送信に失敗: %w", pid, err)
}
