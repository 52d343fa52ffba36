// Package dbtool invokes the external database dump/restore/import/
// export utilities. The utilities are opaque: they are observed only
// through their exit code and combined output, and they are never
// retried.
package dbtool

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// ToolError is a non-zero exit from an external utility, with the
// diagnostic output the tool produced attached.
type ToolError struct {
	Bin    string
	Output []byte
	Err    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Bin, e.Err, e.Output)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Runner executes an external utility to completion.
type Runner interface {
	Run(ctx context.Context, bin string, args ...string) ([]byte, error)
}

// ExecRunner runs utilities as subprocesses.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, &ToolError{Bin: bin, Output: out, Err: err}
		}
		return out, fmt.Errorf("run %s: %w", bin, err)
	}
	return out, nil
}

// Commands builds the argument lists for each utility against one
// database target.
type Commands struct {
	// Target is the connection target (URI or file path) handed to
	// every utility.
	Target string
	// Database is the logical database name.
	Database string
}

// DumpArgs dumps the full database into outDir.
func (c Commands) DumpArgs(outDir string) []string {
	return []string{"--uri", c.Target, "--db", c.Database, "--out", outDir}
}

// RestoreArgs loads a previously produced dump from dir. With drop set
// the destination collections are cleared first (replace policy);
// without it existing data is kept and incoming documents are merged.
func (c Commands) RestoreArgs(dir string, drop bool) []string {
	args := []string{"--uri", c.Target, "--db", c.Database}
	if drop {
		args = append(args, "--drop")
	}
	return append(args, dir)
}

// ImportArgs loads a JSON array file into the records collection.
// Merge mode inserts without touching existing documents; otherwise
// matching documents are replaced.
func (c Commands) ImportArgs(file string, merge bool) []string {
	mode := "upsert"
	if merge {
		mode = "merge"
	}
	return []string{
		"--uri", c.Target, "--db", c.Database,
		"--collection", "records",
		"--file", file,
		"--jsonArray",
		"--mode=" + mode,
	}
}

// ExportArgs writes the records collection to outFile as a JSON array.
func (c Commands) ExportArgs(outFile string) []string {
	return []string{
		"--uri", c.Target, "--db", c.Database,
		"--collection", "records",
		"--out", outFile,
		"--jsonArray",
	}
}
