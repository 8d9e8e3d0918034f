package graph

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type mapFile struct {
	Regions []struct {
		ID    string   `yaml:"id"`
		Nodes []string `yaml:"nodes"`
	} `yaml:"regions"`
	Nodes []struct {
		ID       string   `yaml:"id"`
		Region   string   `yaml:"region"`
		Adjacent []string `yaml:"adjacent"`
		Noise    int      `yaml:"noise"`
		Danger   int      `yaml:"danger"`
	} `yaml:"nodes"`
}

// Load reads a map.yaml file.
func Load(path string, w Weights) (*Graph, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw, w)
}

func Parse(raw []byte, w Weights) (*Graph, error) {
	var f mapFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("map.yaml: %w", err)
	}
	if len(f.Nodes) == 0 {
		return nil, fmt.Errorf("map.yaml: no nodes")
	}
	nodes := make([]Node, 0, len(f.Nodes))
	for _, n := range f.Nodes {
		nodes = append(nodes, Node{
			ID:       n.ID,
			Region:   n.Region,
			Adjacent: n.Adjacent,
			Noise:    n.Noise,
			Danger:   n.Danger,
		})
	}
	regions := make([]Region, 0, len(f.Regions))
	for _, r := range f.Regions {
		regions = append(regions, Region{ID: r.ID, Nodes: r.Nodes})
	}
	g, err := New(nodes, regions, w)
	if err != nil {
		return nil, fmt.Errorf("map.yaml: %w", err)
	}
	return g, nil
}
