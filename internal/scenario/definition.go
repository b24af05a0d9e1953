package scenario

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// SearchScenario is one search query. Position and SubjectURI together make
// it an accuracy scenario.
type SearchScenario struct {
	Query        string `yaml:"query"`
	Subauthority string `yaml:"subauth"`
	MaxRecords   int    `yaml:"max_records"`
	Position     int    `yaml:"position"`
	SubjectURI   string `yaml:"subject_uri"`
}

// Accuracy reports whether the scenario checks result ranking.
func (s SearchScenario) Accuracy() bool {
	return s.Position > 0 && s.SubjectURI != ""
}

// TermScenario fetches a single term.
type TermScenario struct {
	Identifier   string `yaml:"identifier"`
	Subauthority string `yaml:"subauth"`
}

// Definition is every scenario configured for one authority.
type Definition struct {
	Authority     string           `yaml:"authority"`
	Service       string           `yaml:"service"`
	MinResultSize int              `yaml:"min_result_size"`
	Search        []SearchScenario `yaml:"search"`
	Term          []TermScenario   `yaml:"term"`
}

func (d *Definition) validate() error {
	if d.Authority == "" {
		return eris.New("authority is required")
	}
	for i, s := range d.Search {
		if s.Query == "" {
			return eris.Errorf("search[%d]: query is required", i)
		}
	}
	for i, s := range d.Term {
		if s.Identifier == "" {
			return eris.Errorf("term[%d]: identifier is required", i)
		}
	}
	if d.MinResultSize <= 0 {
		d.MinResultSize = 1
	}
	return nil
}

// ParseDefinition decodes one YAML document.
func ParseDefinition(data []byte) (Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Definition{}, eris.Wrap(err, "scenario: parse definition")
	}
	if err := d.validate(); err != nil {
		return Definition{}, eris.Wrap(err, "scenario: invalid definition")
	}
	return d, nil
}

// LoadDefinitions reads every *.yml and *.yaml file in dir, sorted by
// authority name.
func LoadDefinitions(dir string) ([]Definition, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, eris.Wrapf(err, "scenario: open %s", dir)
	}
	var files []string
	for _, pattern := range []string{"*.yml", "*.yaml"} {
		m, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, eris.Wrapf(err, "scenario: glob %s", dir)
		}
		files = append(files, m...)
	}

	defs := make([]Definition, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, eris.Wrapf(err, "scenario: read %s", f)
		}
		d, err := ParseDefinition(data)
		if err != nil {
			return nil, eris.Wrapf(err, "scenario: %s", filepath.Base(f))
		}
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Authority < defs[j].Authority })
	return defs, nil
}

// Authorities returns the authority names in defs.
func Authorities(defs []Definition) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Authority
	}
	return out
}
