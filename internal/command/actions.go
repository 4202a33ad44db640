package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"hostwatch-agent/internal/system"
)

var (
	ErrMalformedCommand = errors.New("malformed command payload")
	ErrActionNotAllowed = errors.New("action not allowed")
	ErrInvalidParams    = errors.New("invalid action parameters")
)

type Action string

const (
	ActionContainerRestart Action = "container.restart"
	ActionContainerStart   Action = "container.start"
	ActionContainerStop    Action = "container.stop"
	ActionServiceRestart   Action = "service.restart"
	ActionDatabaseBackup   Action = "database.backup"
)

// Actions lists every action the agent knows how to run.
func Actions() []Action {
	return []Action{
		ActionContainerRestart,
		ActionContainerStart,
		ActionContainerStop,
		ActionServiceRestart,
		ActionDatabaseBackup,
	}
}

var actionParams = map[Action][]string{
	ActionContainerRestart: {"container"},
	ActionContainerStart:   {"container"},
	ActionContainerStop:    {"container"},
	ActionServiceRestart:   {"unit"},
	ActionDatabaseBackup:   {"target"},
}

var (
	containerRefPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,127}$`)
	unitPattern         = regexp.MustCompile(`^[a-zA-Z0-9@_.:-]{1,256}$`)
)

// Command is the JSON body of an app_cmd message.
type Command struct {
	Action Action            `json:"action"`
	Params map[string]string `json:"params"`
}

func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	if cmd.Action == "" {
		return Command{}, fmt.Errorf("%w: action is required", ErrMalformedCommand)
	}
	return cmd, nil
}

// ContainerController is implemented by container.DockerRuntime.
type ContainerController interface {
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string) error
	RestartContainer(ctx context.Context, id string) error
}

type ExecutorConfig struct {
	AllowedActions []string
	AllowedUnits   []string
	BackupDir      string
	// BackupTargets maps a configured postgres target name to its connection string.
	BackupTargets map[string]string
	Timeout       time.Duration
}

// ActionExecutor validates a Command against the allow-list and runs it.
type ActionExecutor struct {
	allowed    map[Action]struct{}
	units      map[string]struct{}
	backups    map[string]string
	backupDir  string
	timeout    time.Duration
	containers ContainerController
	runner     system.CommandRunner
	now        func() time.Time
}

// NewExecutor builds an executor. containers may be nil, in which case the
// container actions are rejected.
func NewExecutor(cfg ExecutorConfig, containers ContainerController, runner system.CommandRunner) *ActionExecutor {
	e := &ActionExecutor{
		allowed:    make(map[Action]struct{}, len(cfg.AllowedActions)),
		units:      make(map[string]struct{}, len(cfg.AllowedUnits)),
		backups:    cfg.BackupTargets,
		backupDir:  cfg.BackupDir,
		timeout:    cfg.Timeout,
		containers: containers,
		runner:     runner,
		now:        time.Now,
	}
	for _, a := range cfg.AllowedActions {
		if _, known := actionParams[Action(a)]; known {
			e.allowed[Action(a)] = struct{}{}
		}
	}
	for _, u := range cfg.AllowedUnits {
		e.units[u] = struct{}{}
	}
	if e.runner == nil {
		e.runner = system.ExecRunner{}
	}
	return e
}

// Allowed returns the enabled actions in a stable order.
func (e *ActionExecutor) Allowed() []Action {
	out := make([]Action, 0, len(e.allowed))
	for a := range e.allowed {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *ActionExecutor) Validate(cmd Command) error {
	want, known := actionParams[cmd.Action]
	if !known {
		return fmt.Errorf("%w: unknown action %q", ErrActionNotAllowed, cmd.Action)
	}
	if _, ok := e.allowed[cmd.Action]; !ok {
		return fmt.Errorf("%w: %s", ErrActionNotAllowed, cmd.Action)
	}
	if len(cmd.Params) != len(want) {
		return fmt.Errorf("%w: %s expects %v", ErrInvalidParams, cmd.Action, want)
	}
	for _, name := range want {
		if _, ok := cmd.Params[name]; !ok {
			return fmt.Errorf("%w: %s requires %q", ErrInvalidParams, cmd.Action, name)
		}
	}

	switch cmd.Action {
	case ActionContainerRestart, ActionContainerStart, ActionContainerStop:
		if e.containers == nil {
			return fmt.Errorf("%w: container runtime disabled", ErrActionNotAllowed)
		}
		if !containerRefPattern.MatchString(cmd.Params["container"]) {
			return fmt.Errorf("%w: bad container reference", ErrInvalidParams)
		}
	case ActionServiceRestart:
		unit := cmd.Params["unit"]
		if !unitPattern.MatchString(unit) {
			return fmt.Errorf("%w: bad unit name", ErrInvalidParams)
		}
		if _, ok := e.units[unit]; !ok {
			return fmt.Errorf("%w: unit %q is not allowed", ErrActionNotAllowed, unit)
		}
	case ActionDatabaseBackup:
		if _, ok := e.backups[cmd.Params["target"]]; !ok {
			return fmt.Errorf("%w: unknown backup target %q", ErrInvalidParams, cmd.Params["target"])
		}
	}
	return nil
}

func (e *ActionExecutor) Execute(ctx context.Context, cmd Command) error {
	if err := e.Validate(cmd); err != nil {
		return err
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	switch cmd.Action {
	case ActionContainerRestart:
		return e.containers.RestartContainer(ctx, cmd.Params["container"])
	case ActionContainerStart:
		return e.containers.StartContainer(ctx, cmd.Params["container"])
	case ActionContainerStop:
		return e.containers.StopContainer(ctx, cmd.Params["container"])
	case ActionServiceRestart:
		_, err := e.runner.Run(ctx, "systemctl", "restart", cmd.Params["unit"])
		return err
	case ActionDatabaseBackup:
		return e.backup(ctx, cmd.Params["target"])
	}
	return fmt.Errorf("%w: %s", ErrActionNotAllowed, cmd.Action)
}

func (e *ActionExecutor) backup(ctx context.Context, target string) error {
	if err := os.MkdirAll(e.backupDir, 0o750); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	file := filepath.Join(e.backupDir, fmt.Sprintf("%s-%s.dump", target, e.now().UTC().Format("20060102T150405Z")))
	_, err := e.runner.Run(ctx, "pg_dump",
		"--format=custom",
		"--file="+file,
		"--dbname="+e.backups[target],
	)
	if err != nil {
		return fmt.Errorf("backup %s: %w", target, err)
	}
	return nil
}
