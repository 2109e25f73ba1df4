package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v2"
)

type catalogFile struct {
	Reports []*Definition `yaml:"reports"`
}

// FileLoader reads definitions from a YAML file, or from every .yaml/.yml
// file in a directory in name order. Each file holds a top level "reports"
// list.
type FileLoader struct {
	Path string
}

func (l FileLoader) Load(ctx context.Context) ([]*Definition, error) {
	info, err := os.Stat(l.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat catalog path: %w", err)
	}
	paths := []string{l.Path}
	if info.IsDir() {
		entries, err := os.ReadDir(l.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog directory: %w", err)
		}
		paths = paths[:0]
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
				continue
			}
			paths = append(paths, filepath.Join(l.Path, e.Name()))
		}
		slices.Sort(paths)
	}

	var defs []*Definition
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		var f catalogFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		defs = append(defs, f.Reports...)
	}
	return defs, nil
}
