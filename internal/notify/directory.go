package notify

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Directory maps person names, as stored on tasks, to email addresses.
type Directory struct {
	people map[string]string
}

type directoryFile struct {
	People map[string]string `yaml:"people"`
}

// NewDirectory builds a directory from a name to address map.
func NewDirectory(people map[string]string) *Directory {
	d := &Directory{people: make(map[string]string, len(people))}
	for name, addr := range people {
		d.people[normalizeName(name)] = strings.TrimSpace(addr)
	}
	return d
}

// LoadDirectory reads a YAML file of the form:
//
//	people:
//	  Asha Rao: asha.rao@example.com
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	var file directoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse directory %s: %w", path, err)
	}
	return NewDirectory(file.People), nil
}

// Resolve returns the addresses for names, skipping unknown names and duplicates.
// Entries that already look like addresses pass through. The second result lists
// the names that could not be resolved.
func (d *Directory) Resolve(names []string) ([]string, []string) {
	seen := make(map[string]bool)
	var addrs, unknown []string
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		addr := ""
		if strings.Contains(name, "@") {
			addr = name
		} else if d != nil {
			addr = d.people[normalizeName(name)]
		}
		if addr == "" {
			unknown = append(unknown, name)
			continue
		}
		if !seen[addr] {
			seen[addr] = true
			addrs = append(addrs, addr)
		}
	}
	return addrs, unknown
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
