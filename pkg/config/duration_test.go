package config

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDuration_Unmarshal(t *testing.T) {
	var out struct {
		D Duration `yaml:"d"`
	}

	if err := yaml.Unmarshal([]byte("d: 2m30s"), &out); err != nil {
		t.Fatalf("string form: %v", err)
	}
	if out.D.Std() != 2*time.Minute+30*time.Second {
		t.Errorf("string form = %v", out.D.Std())
	}

	if err := yaml.Unmarshal([]byte("d: 1500000000"), &out); err != nil {
		t.Fatalf("integer form: %v", err)
	}
	if out.D.Std() != 1500*time.Millisecond {
		t.Errorf("integer form = %v", out.D.Std())
	}

	if err := yaml.Unmarshal([]byte("d: fast"), &out); err == nil {
		t.Error("garbage duration should fail")
	}
}

func TestDuration_MarshalRoundTrip(t *testing.T) {
	raw, err := yaml.Marshal(struct {
		D Duration `yaml:"d"`
	}{D: Duration(750 * time.Millisecond)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out struct {
		D Duration `yaml:"d"`
	}
	if err := yaml.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.D.Std() != 750*time.Millisecond {
		t.Errorf("round trip = %v", out.D.Std())
	}
}
