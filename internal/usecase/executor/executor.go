package executor

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"runtime"
)

const separator = "======================================================="

// facts are host properties captured once per process.
type facts struct {
	osName    string
	osVersion string
	arch      string
	userName  string
	userHome  string
}

// SystemFacts answers every query with this host's system facts.
// It makes no network calls and its output depends only on the query text.
type SystemFacts struct {
	node  string
	facts facts
}

// New captures host facts for the node with the given id.
func New(nodeID string) *SystemFacts {
	return &SystemFacts{node: nodeID, facts: collectFacts()}
}

// Execute returns the fact sheet for text, framed by separator lines.
func (e *SystemFacts) Execute(ctx context.Context, text string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	return []string{
		separator,
		"query: " + text,
		"Node: " + e.node,
		"OS Name: " + e.facts.osName,
		"OS Version: " + e.facts.osVersion,
		"OS Architecture: " + e.facts.arch,
		"User Name: " + e.facts.userName,
		"User Home: " + e.facts.userHome,
		separator,
	}, nil
}

func collectFacts() facts {
	f := facts{
		osName:    runtime.GOOS,
		osVersion: kernelRelease(),
		arch:      runtime.GOARCH,
		userName:  "unknown",
		userHome:  "unknown",
	}
	if u, err := user.Current(); err == nil {
		f.userName = u.Username
		if u.HomeDir != "" {
			f.userHome = u.HomeDir
		}
	} else if name := os.Getenv("USER"); name != "" {
		f.userName = name
	}
	if f.userHome == "unknown" {
		if home, err := os.UserHomeDir(); err == nil {
			f.userHome = home
		}
	}
	return f
}
