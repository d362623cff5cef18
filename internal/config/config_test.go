package config

import (
	"os"
	"path/filepath"
	"testing"

	"legalinterpret/internal/types"
)

const expertYAML = `
experts:
  literal:
    model: gpt-4o
    temperature: 0.1
    use_react: false
    traversal_weights:
      contiene: 1.0
      disciplina: 0.95
  systemic:
    use_react: true
    react_max_iterations: 7
    react_novelty_threshold: 0.15
defaults:
  model: gpt-4o-mini
  temperature: 0.3
`

const routerYAML = `
gating:
  query_type_weights:
    jurisprudential:
      literal: 0.1
      systemic: 0.1
      principles: 0.1
      precedent: 0.7
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadExpertsFile(t *testing.T) {
	path := writeTemp(t, "experts.yaml", expertYAML)
	ef, err := LoadExpertsFile(path)
	if err != nil {
		t.Fatal(err)
	}

	literal := ef.Entry(types.ExpertLiteral)
	if literal.Model != "gpt-4o" {
		t.Errorf("literal model = %q", literal.Model)
	}
	if literal.Temperature == nil || *literal.Temperature != 0.1 {
		t.Errorf("literal temperature = %v", literal.Temperature)
	}
	if literal.TraversalWeights["contiene"] != 1.0 {
		t.Errorf("traversal weights not parsed: %v", literal.TraversalWeights)
	}

	systemic := ef.Entry(types.ExpertSystemic)
	if !systemic.UseReact || systemic.ReactMaxIterations != 7 {
		t.Errorf("systemic react config = %+v", systemic)
	}
	// Defaults fold into unset fields.
	if systemic.Model != "gpt-4o-mini" {
		t.Errorf("systemic model should fall back to defaults, got %q", systemic.Model)
	}

	// Unconfigured expert gets pure defaults.
	precedent := ef.Entry(types.ExpertPrecedent)
	if precedent.Model != "gpt-4o-mini" || precedent.Temperature == nil || *precedent.Temperature != 0.3 {
		t.Errorf("precedent entry = %+v", precedent)
	}
}

func TestLoadExpertsFileRejectsUnknownExpert(t *testing.T) {
	path := writeTemp(t, "experts.yaml", "experts:\n  romanista:\n    model: x\n")
	if _, err := LoadExpertsFile(path); err == nil {
		t.Error("unknown expert name should fail at load time")
	}
}

func TestLoadRouterFile(t *testing.T) {
	path := writeTemp(t, "router.yaml", routerYAML)
	rf, err := LoadRouterFile(path)
	if err != nil {
		t.Fatal(err)
	}

	typed := rf.QueryTypeWeights()
	w, ok := typed[types.QueryJurisprudential]
	if !ok {
		t.Fatal("jurisprudential table missing")
	}
	if w[types.ExpertPrecedent] != 0.7 {
		t.Errorf("precedent weight = %v", w[types.ExpertPrecedent])
	}
}

func TestNilFilesAreSafe(t *testing.T) {
	var ef *ExpertsFile
	entry := ef.Entry(types.ExpertLiteral)
	if entry.Model != "" {
		t.Errorf("nil file should yield a zero entry, got %+v", entry)
	}

	var rf *RouterFile
	if rf.QueryTypeWeights() != nil {
		t.Error("nil router file should yield no override table")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load("/nonexistent/experts.yaml", ""); err == nil {
		t.Error("missing expert config should fail construction")
	}
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("RETRIEVAL_MAX_GRAPH_HOPS", "2")
	t.Setenv("EXPERT_TIMEOUT_SECONDS", "12.5")
	t.Setenv("ROUTING_STRATEGY", "thompson")

	cfg, err := Load("", "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Retrieval.MaxGraphHops != 2 {
		t.Errorf("max_graph_hops = %d", cfg.Retrieval.MaxGraphHops)
	}
	if cfg.Orchestration.TimeoutSeconds != 12.5 {
		t.Errorf("timeout = %v", cfg.Orchestration.TimeoutSeconds)
	}
	if cfg.Orchestration.RoutingStrategy != "thompson" {
		t.Errorf("strategy = %q", cfg.Orchestration.RoutingStrategy)
	}
}

func TestEnvOverlayRejectsOutOfRange(t *testing.T) {
	t.Setenv("RETRIEVAL_MAX_GRAPH_HOPS", "9")
	cfg, err := Load("", "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Retrieval.MaxGraphHops != 3 {
		t.Errorf("out-of-range hops should keep the default, got %d", cfg.Retrieval.MaxGraphHops)
	}
}

func TestSnapshotIsStable(t *testing.T) {
	cfg := Default()
	h1, configs := cfg.Snapshot()
	h2, _ := cfg.Snapshot()

	if h1 == "" || h1 != h2 {
		t.Errorf("snapshot hash unstable: %q vs %q", h1, h2)
	}
	if configs == nil {
		t.Fatal("snapshot should carry the rendered configuration")
	}

	cfg.Retrieval.MaxGraphHops = 5
	h3, _ := cfg.Snapshot()
	if h3 == h1 {
		t.Error("changed configuration must change the hash")
	}
}
