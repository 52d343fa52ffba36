package dbtool

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestExecRunnerSuccess(t *testing.T) {
	out, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo done")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(string(out)) != "done" {
		t.Errorf("output = %q, want done", out)
	}
}

func TestExecRunnerNonZeroExit(t *testing.T) {
	out, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("err = %v, want *ToolError", err)
	}
	if !strings.Contains(string(out), "boom") {
		t.Errorf("output %q should contain diagnostics", out)
	}
	if !strings.Contains(toolErr.Error(), "boom") {
		t.Errorf("ToolError message %q should carry diagnostics", toolErr.Error())
	}
}

func TestExecRunnerMissingBinary(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), "definitely-not-a-real-binary-xyz")
	if err == nil {
		t.Fatal("expected an error")
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		t.Error("a missing binary is not a tool exit failure")
	}
}

func TestCommandArgs(t *testing.T) {
	c := Commands{Target: "file:geo.db", Database: "geoinsight"}

	if args := c.RestoreArgs("/staging/x", true); !slices.Contains(args, "--drop") {
		t.Errorf("replace restore args %v should carry --drop", args)
	}
	if args := c.RestoreArgs("/staging/x", false); slices.Contains(args, "--drop") {
		t.Errorf("merge restore args %v must not drop existing data", args)
	}
	if args := c.ImportArgs("up.json", true); !slices.Contains(args, "--mode=merge") {
		t.Errorf("merge import args %v should use merge mode", args)
	}
	if args := c.DumpArgs("/staging/out"); !slices.Contains(args, "/staging/out") {
		t.Errorf("dump args %v should carry the output dir", args)
	}
	if args := c.ExportArgs("out.json"); !slices.Contains(args, "--jsonArray") {
		t.Errorf("export args %v should request a JSON array", args)
	}
}
