package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const (
	topologyPath = "../../configs/networks/default.txt"
	trafficPath  = "../../configs/datasets/traffic.csv"
	attacksPath  = "../../configs/datasets/attacks.csv"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LOG_LEVEL", "error")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "netgame version "+version) {
		t.Fatalf("unexpected output %q", out)
	}

	out, err = execute(t, "version", "--json")
	if err != nil {
		t.Fatalf("version --json: %v", err)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if payload["version"] != version {
		t.Fatalf("version = %q, want %q", payload["version"], version)
	}
}

func TestRunRequiresInputs(t *testing.T) {
	if _, err := execute(t, "run", "--episodes", "1", "--topology", ""); err == nil {
		t.Fatalf("expected error without a topology path")
	}
	if _, err := execute(t, "run", "--episodes", "1", "--topology", "missing.txt", "--traffic", trafficPath, "--attacks", attacksPath); err == nil {
		t.Fatalf("expected error for a missing topology file")
	}
}

func TestRunTrainsAndRecordsLosses(t *testing.T) {
	dir := t.TempDir()
	models := filepath.Join(dir, "models")
	logs := filepath.Join(dir, "logs")

	out, err := execute(t, "run",
		"--episodes", "2",
		"--topology", topologyPath,
		"--traffic", trafficPath,
		"--attacks", attacksPath,
		"--seed", "11",
		"--train",
		"--store", "file",
		"--models-dir", models,
		"--logs-dir", logs,
	)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if got := strings.Count(out, "episode "); got != 2 {
		t.Fatalf("printed %d episode lines, want 2:\n%s", got, out)
	}
	for _, name := range []string{"AttackerModel.m", "DefenderModel.m"} {
		if _, err := os.Stat(filepath.Join(models, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}

	out, err = execute(t, "losses", "--role", "defender", "--store", "file", "--models-dir", models, "--logs-dir", logs)
	if err != nil {
		t.Fatalf("losses: %v", err)
	}
	if lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n"); len(lines) != 2 {
		t.Fatalf("loss log has %d lines, want 2:\n%q", len(lines), out)
	}

	out, err = execute(t, "run",
		"--episodes", "1",
		"--topology", topologyPath,
		"--traffic", trafficPath,
		"--attacks", attacksPath,
		"--seed", "12",
		"--load",
		"--epsilon", "0",
		"--store", "file",
		"--models-dir", models,
		"--logs-dir", logs,
	)
	if err != nil {
		t.Fatalf("run --load: %v\n%s", err, out)
	}
}

func TestRunLoadWithoutModelsFails(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "run",
		"--topology", topologyPath,
		"--traffic", trafficPath,
		"--attacks", attacksPath,
		"--seed", "3",
		"--load",
		"--store", "sqlite",
		"--db-path", filepath.Join(dir, "netgame.db"),
	)
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected missing model error, got %v", err)
	}
}

func TestLossesRejectsUnknownRole(t *testing.T) {
	if _, err := execute(t, "losses", "--role", "Referee", "--store", "memory"); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}
