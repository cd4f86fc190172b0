package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rpattn/rentalreports/internal/domain"
)

// definitionFile is the YAML document shape of a report catalog file.
type definitionFile struct {
	Reports []domain.Definition `yaml:"reports"`
}

// LoadDefinitions decodes report definitions from a YAML document.
func LoadDefinitions(r io.Reader) ([]domain.Definition, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var file definitionFile
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode report catalog: %w", err)
	}
	return file.Reports, nil
}

// LoadDefinitionsFile reads report definitions from a YAML file.
func LoadDefinitionsFile(path string) ([]domain.Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open report catalog: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadDefinitions(f)
}
