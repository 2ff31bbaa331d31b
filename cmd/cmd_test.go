package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionCommandOutput(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)

	out := buf.String()
	for _, want := range []string{"fiqhbridge", AppVersion, "Build Time:", "Git Commit:"} {
		if !strings.Contains(out, want) {
			t.Errorf("version output missing %q:\n%s", want, out)
		}
	}
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"sk-abcdefadmin1234", "sk-a...1234"},
		{"short", "configured"},
		{"", "configured"},
	}
	for _, tt := range tests {
		if got := maskKey(tt.key); got != tt.want {
			t.Errorf("maskKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestRootRegistersSubcommands(t *testing.T) {
	want := map[string]bool{
		"chat": false, "ask": false, "token": false, "contract": false,
		"ingest": false, "mcp": false, "status": false, "version": false,
	}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}
