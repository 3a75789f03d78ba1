package security

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// CommandPolicy restricts which programs may be spawned and rejects
// arguments carrying shell metacharacters. Commands are always run without
// a shell; the policy guards against config values being mistaken for one.
type CommandPolicy struct {
	// Allowed holds program names or absolute paths that may be executed.
	Allowed map[string]bool
}

// NewCommandPolicy creates a policy allowing only the given programs.
func NewCommandPolicy(programs ...string) *CommandPolicy {
	p := &CommandPolicy{Allowed: make(map[string]bool, len(programs))}
	for _, prog := range programs {
		p.Allow(prog)
	}
	return p
}

// Allow adds a program to the policy. Absolute paths are cleaned.
func (p *CommandPolicy) Allow(program string) {
	if program == "" {
		return
	}
	if filepath.IsAbs(program) {
		program = filepath.Clean(program)
	}
	p.Allowed[program] = true
}

// Validate checks cmdParts against the policy without executing anything.
func (p *CommandPolicy) Validate(cmdParts []string) error {
	if err := p.ValidateProgram(cmdParts); err != nil {
		return err
	}

	for i, arg := range cmdParts[1:] {
		if containsShellMetachars(arg) {
			return fmt.Errorf("argument %d contains shell metacharacters: %q", i+1, arg)
		}
	}

	return nil
}

// ValidateProgram only checks that the program is allowed. Used for argv
// built from already validated values, such as paths and ref names.
func (p *CommandPolicy) ValidateProgram(cmdParts []string) error {
	if len(cmdParts) == 0 {
		return fmt.Errorf("empty command")
	}

	program := cmdParts[0]
	if filepath.IsAbs(program) {
		program = filepath.Clean(program)
	}
	if !p.Allowed[program] {
		return fmt.Errorf("command not allowed: %s (must be one of: %s)",
			cmdParts[0], strings.Join(p.allowedList(), ", "))
	}
	return nil
}

func (p *CommandPolicy) allowedList() []string {
	commands := make([]string, 0, len(p.Allowed))
	for cmd := range p.Allowed {
		commands = append(commands, cmd)
	}
	sort.Strings(commands)
	return commands
}

// containsShellMetachars checks if a string contains characters a shell
// would interpret.
func containsShellMetachars(s string) bool {
	return strings.ContainsAny(s, ";|&$`\n><(){}*?[]\\'\"")
}
