// Package config provides configuration management for the legal
// interpretation server.
//
// Configuration can be loaded from multiple sources (in order of
// precedence):
// 1. Environment variables (highest priority)
// 2. The expert and router configuration files (YAML)
// 3. Default values (lowest priority)
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"legalinterpret/internal/types"
)

// Config represents the complete server configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Retrieval settings
	Retrieval RetrievalConfig `json:"retrieval"`

	// Orchestration settings
	Orchestration OrchestrationConfig `json:"orchestration"`

	// Expert configuration file contents, nil when no file was given
	Experts *ExpertsFile `json:"experts,omitempty"`

	// Router configuration file contents, nil when no file was given
	Router *RouterFile `json:"router,omitempty"`
}

// ServerConfig contains server-level configuration.
type ServerConfig struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Debug   bool   `json:"debug"`
}

// RetrievalConfig tunes the hybrid retriever.
type RetrievalConfig struct {
	OverRetrieveFactor  int     `json:"over_retrieve_factor"`
	MaxGraphHops        int     `json:"max_graph_hops"`
	GraphScoringEnabled bool    `json:"graph_scoring_enabled"`
	DefaultGraphScore   float64 `json:"default_graph_score"`
	VectorPersistPath   string  `json:"vector_persist_path"`
	BridgePath          string  `json:"bridge_path"`
}

// OrchestrationConfig tunes dispatch and aggregation.
type OrchestrationConfig struct {
	TimeoutSeconds     float64 `json:"timeout_seconds"`
	MaxExperts         int     `json:"max_experts"`
	SelectionThreshold float64 `json:"selection_threshold"`
	RoutingStrategy    string  `json:"routing_strategy"` // "pattern" (default) or "thompson"
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:    "legalinterpret-server",
			Version: "1.0.0",
		},
		Retrieval: RetrievalConfig{
			OverRetrieveFactor:  3,
			MaxGraphHops:        3,
			GraphScoringEnabled: true,
			DefaultGraphScore:   0.5,
		},
		Orchestration: OrchestrationConfig{
			TimeoutSeconds:     30,
			MaxExperts:         4,
			SelectionThreshold: 0.2,
			RoutingStrategy:    "pattern",
		},
	}
}

// Load builds the effective configuration: defaults, overlaid with the
// expert and router configuration files when their paths are non-empty,
// overlaid with environment variables.
func Load(expertFilePath, routerFilePath string) (*Config, error) {
	cfg := Default()

	if expertFilePath != "" {
		ef, err := LoadExpertsFile(expertFilePath)
		if err != nil {
			return nil, err
		}
		cfg.Experts = ef
	}
	if routerFilePath != "" {
		rf, err := LoadRouterFile(routerFilePath)
		if err != nil {
			return nil, err
		}
		cfg.Router = rf
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays environment variables onto the configuration.
func (c *Config) applyEnv() {
	if v := os.Getenv("DEBUG"); v == "true" {
		c.Server.Debug = true
	}
	if v := os.Getenv("RETRIEVAL_OVER_RETRIEVE_FACTOR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			c.Retrieval.OverRetrieveFactor = n
		}
	}
	if v := os.Getenv("RETRIEVAL_MAX_GRAPH_HOPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 5 {
			c.Retrieval.MaxGraphHops = n
		}
	}
	if v := os.Getenv("RETRIEVAL_GRAPH_SCORING"); v == "false" {
		c.Retrieval.GraphScoringEnabled = false
	}
	if v := os.Getenv("VECTOR_PERSIST_PATH"); v != "" {
		c.Retrieval.VectorPersistPath = v
	}
	if v := os.Getenv("BRIDGE_DB_PATH"); v != "" {
		c.Retrieval.BridgePath = v
	}
	if v := os.Getenv("EXPERT_TIMEOUT_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.Orchestration.TimeoutSeconds = f
		}
	}
	if v := os.Getenv("ROUTING_STRATEGY"); v != "" {
		c.Orchestration.RoutingStrategy = v
	}
}

// ExpertsFile is the hierarchical expert configuration map:
// {experts: {literal|systemic|principles|precedent: {...}}, defaults: {...}}.
type ExpertsFile struct {
	Experts  map[string]ExpertEntry `yaml:"experts" json:"experts"`
	Defaults ExpertDefaults         `yaml:"defaults" json:"defaults"`
}

// ExpertEntry is one expert's file-level configuration; zero fields fall
// back to Defaults, then to the built-in values at expert construction.
type ExpertEntry struct {
	Model                 string             `yaml:"model" json:"model,omitempty"`
	Temperature           *float64           `yaml:"temperature" json:"temperature,omitempty"`
	PromptTemplate        string             `yaml:"prompt_template" json:"prompt_template,omitempty"`
	TraversalWeights      map[string]float64 `yaml:"traversal_weights" json:"traversal_weights,omitempty"`
	UseReact              bool               `yaml:"use_react" json:"use_react,omitempty"`
	ReactMaxIterations    int                `yaml:"react_max_iterations" json:"react_max_iterations,omitempty"`
	ReactNoveltyThreshold float64            `yaml:"react_novelty_threshold" json:"react_novelty_threshold,omitempty"`
	TopK                  int                `yaml:"top_k" json:"top_k,omitempty"`
}

// ExpertDefaults applies to every expert the file does not configure
// explicitly.
type ExpertDefaults struct {
	Model       string   `yaml:"model" json:"model,omitempty"`
	Temperature *float64 `yaml:"temperature" json:"temperature,omitempty"`
}

// LoadExpertsFile parses the YAML expert configuration file.
func LoadExpertsFile(path string) (*ExpertsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read expert config: %w", err)
	}
	var ef ExpertsFile
	if err := yaml.Unmarshal(data, &ef); err != nil {
		return nil, fmt.Errorf("parse expert config: %w", err)
	}
	for name := range ef.Experts {
		if !validExpertName(name) {
			return nil, fmt.Errorf("expert config names unknown expert %q", name)
		}
	}
	return &ef, nil
}

func validExpertName(name string) bool {
	for _, k := range types.AllExpertTypes {
		if string(k) == name {
			return true
		}
	}
	return false
}

// Entry resolves one expert's effective file configuration, folding
// Defaults into unset fields.
func (ef *ExpertsFile) Entry(kind types.ExpertType) ExpertEntry {
	var entry ExpertEntry
	if ef != nil {
		entry = ef.Experts[string(kind)]
		if entry.Model == "" {
			entry.Model = ef.Defaults.Model
		}
		if entry.Temperature == nil {
			entry.Temperature = ef.Defaults.Temperature
		}
	}
	return entry
}

// RouterFile is the router configuration file shape:
// {gating: {query_type_weights: {definitional|...: {literal|...: weight}}}}.
type RouterFile struct {
	Gating struct {
		QueryTypeWeights map[string]map[string]float64 `yaml:"query_type_weights" json:"query_type_weights"`
	} `yaml:"gating" json:"gating"`
}

// LoadRouterFile parses the YAML router configuration file.
func LoadRouterFile(path string) (*RouterFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read router config: %w", err)
	}
	var rf RouterFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse router config: %w", err)
	}
	return &rf, nil
}

// QueryTypeWeights converts the file's string-keyed tables into the typed
// map the Router consumes; nil when the file carries no table.
func (rf *RouterFile) QueryTypeWeights() map[types.QueryType]map[types.ExpertType]float64 {
	if rf == nil || len(rf.Gating.QueryTypeWeights) == 0 {
		return nil
	}
	out := make(map[types.QueryType]map[types.ExpertType]float64, len(rf.Gating.QueryTypeWeights))
	for family, table := range rf.Gating.QueryTypeWeights {
		typed := make(map[types.ExpertType]float64, len(table))
		for expert, weight := range table {
			typed[types.ExpertType(expert)] = weight
		}
		out[types.QueryType(family)] = typed
	}
	return out
}

// Snapshot condenses the effective configuration into a hash plus its
// JSON rendering, pinned into every query's trace document.
func (c *Config) Snapshot() (hash string, configs map[string]interface{}) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", nil
	}
	sum := sha256.Sum256(data)

	configs = make(map[string]interface{})
	if err := json.Unmarshal(data, &configs); err != nil {
		configs = nil
	}
	return hex.EncodeToString(sum[:]), configs
}
