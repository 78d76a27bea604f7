package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/provisio/provisio/pkg/engine"
)

const validDescriptor = `
deployment: {
	name:        "analytics-stack"
	environment: "staging"
	labels: {team: "data", owner: "platform"}
	steps: [
		{id: "ws", kind: "workspace", name: "analytics", params: {region: "eu-west-1"}},
		{id: "etl", kind: "container", name: "etl-worker", params: {image: "etl:1.4"}},
		{id: "grant", kind: "role-binding", name: "data-writer"},
	]
}
`

func TestLoader_ParseInline(t *testing.T) {
	dep, err := NewLoader().ParseInline(validDescriptor)
	if err != nil {
		t.Fatalf("ParseInline: %v", err)
	}

	if dep.Name != "analytics-stack" || dep.Environment != "staging" {
		t.Errorf("deployment = %q/%q", dep.Name, dep.Environment)
	}
	if dep.Labels["team"] != "data" {
		t.Errorf("labels = %v", dep.Labels)
	}
	if len(dep.Steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(dep.Steps))
	}
	if dep.Steps[0].Kind != engine.KindWorkspace || dep.Steps[1].Kind != engine.KindContainer {
		t.Errorf("step kinds = %v, %v", dep.Steps[0].Kind, dep.Steps[1].Kind)
	}
	if dep.Steps[0].Params["region"] != "eu-west-1" {
		t.Errorf("workspace params = %v", dep.Steps[0].Params)
	}
}

func TestLoader_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploy.cue")
	if err := os.WriteFile(path, []byte(validDescriptor), 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}

	dep, err := NewLoader().Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if dep.Name != "analytics-stack" {
		t.Errorf("Name = %q", dep.Name)
	}
}

func TestLoader_LoadMissingFile(t *testing.T) {
	_, err := NewLoader().Load(filepath.Join(t.TempDir(), "absent.cue"))
	if err == nil {
		t.Fatal("missing file should error")
	}
}

func TestLoader_RejectsBadDescriptors(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantIn  string
	}{
		{
			name:    "no deployment block",
			content: `other: {x: 1}`,
			wantIn:  "deployment",
		},
		{
			name: "empty steps",
			content: `deployment: {
				name: "d", environment: "dev", steps: []
			}`,
			wantIn: "steps",
		},
		{
			name: "unknown kind",
			content: `deployment: {
				name: "d", environment: "dev"
				steps: [{id: "s", kind: "volume", name: "v"}]
			}`,
			wantIn: "kind",
		},
		{
			name: "missing environment",
			content: `deployment: {
				name: "d"
				steps: [{id: "s", kind: "workspace", name: "w"}]
			}`,
			wantIn: "environment",
		},
		{
			name: "duplicate step id",
			content: `deployment: {
				name: "d", environment: "dev"
				steps: [
					{id: "s", kind: "workspace", name: "a"},
					{id: "s", kind: "container", name: "b"},
				]
			}`,
			wantIn: "duplicate step id",
		},
		{
			name:    "not CUE at all",
			content: `{{{`,
			wantIn:  "manifest:",
		},
	}

	loader := NewLoader()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loader.ParseInline(tc.content)
			if err == nil {
				t.Fatal("want error")
			}
			if !strings.Contains(err.Error(), tc.wantIn) {
				t.Errorf("error %q does not mention %q", err, tc.wantIn)
			}
		})
	}
}
