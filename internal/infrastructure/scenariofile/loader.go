// Package scenariofile reads scenario definitions from YAML seed files.
package scenariofile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/chatsim/joinsync/internal/domain/scenario"
)

// namespace derives stable scenario ids from scenario names, so reseeding
// the same file updates the stored scenario instead of adding a copy.
var namespace = uuid.MustParse("6f1d7c2e-3b0a-4e55-9a43-2c1e8f0b7d19")

type document struct {
	ID                string `yaml:"id"`
	scenario.Scenario `yaml:",inline"`
}

// Parse decodes one or more YAML documents from r.
func Parse(r io.Reader) ([]*scenario.Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var out []*scenario.Scenario
	for {
		var doc document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode scenario: %w", err)
		}
		sc, err := doc.build()
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

func (d document) build() (*scenario.Scenario, error) {
	sc := d.Scenario
	sc.Name = strings.TrimSpace(sc.Name)
	switch id := strings.TrimSpace(d.ID); id {
	case "":
		sc.ScenarioID = uuid.NewSHA1(namespace, []byte(sc.Name))
	default:
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: invalid id: %w", sc.Name, err)
		}
		sc.ScenarioID = parsed
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
	}
	return &sc, nil
}

// LoadDir reads every .yaml and .yml file in fsys in name order.
func LoadDir(fsys fs.FS) ([]*scenario.Scenario, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		ext := path.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []*scenario.Scenario
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		list, err := Parse(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, list...)
	}
	return out, nil
}
