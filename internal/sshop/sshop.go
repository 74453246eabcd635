// Package sshop drives remote start/stop of the scheduler service over SSH,
// the observer's only side channel onto peer machines.
package sshop

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

const service = "airflow-multischeduler"

// Action is a remote systemctl verb the observer may invoke.
type Action string

const (
	Start Action = "start"
	Stop  Action = "stop"
)

// Runner invokes the remote command. Exists so the observer's command
// dispatch can be tested without shelling out.
type Runner interface {
	Run(ctx context.Context, action Action, addr string) (output string, err error)
}

// SSH shells out to the system ssh client, mirroring the original
// implementation's command shape but as an argument vector instead of an
// interpolated shell string — the original builds
// "ssh ... -i <key> ubuntu@<ip> sudo systemctl {action} <service>" via
// os.system, which is shell-injectable if ip or key ever contained
// metacharacters; exec.CommandContext with a discrete argument slice never
// invokes a shell, so no such injection is possible here.
type SSH struct {
	KeyPath        string
	User           string
	ConnectTimeout time.Duration
}

// NewSSH builds a runner. A zero ConnectTimeout defaults to 5s, matching
// the original's -o ConnectTimeout=5.
func NewSSH(keyPath, user string, connectTimeout time.Duration) *SSH {
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	if user == "" {
		user = "ubuntu"
	}
	return &SSH{KeyPath: keyPath, User: user, ConnectTimeout: connectTimeout}
}

func (s *SSH) Run(ctx context.Context, action Action, addr string) (string, error) {
	remote := fmt.Sprintf("sudo systemctl %s %s", action, service)
	args := []string{
		"-o", fmt.Sprintf("ConnectTimeout=%d", int(s.ConnectTimeout.Seconds())),
		"-o", "StrictHostKeyChecking=no",
		"-i", s.KeyPath,
		fmt.Sprintf("%s@%s", s.User, addr),
		remote,
	}
	cmd := exec.CommandContext(ctx, "ssh", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("sshop: %s %s on %s: %w", action, service, addr, err)
	}
	return string(out), nil
}
