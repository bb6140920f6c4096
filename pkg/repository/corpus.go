package repository

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/maplebond/maplebond/pkg/model"
	"gopkg.in/yaml.v3"
)

// LoadCorpus reads passages from a JSON or YAML file chosen by extension
func LoadCorpus(path string) ([]*model.Passage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read corpus file", goerr.V("path", path))
	}

	var passages []*model.Passage
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if err := json.Unmarshal(data, &passages); err != nil {
			return nil, goerr.Wrap(err, "failed to parse JSON corpus", goerr.V("path", path))
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &passages); err != nil {
			return nil, goerr.Wrap(err, "failed to parse YAML corpus", goerr.V("path", path))
		}
	default:
		return nil, goerr.Wrap(model.ErrInvalidInput, "unsupported corpus format", goerr.V("path", path), goerr.V("ext", ext))
	}

	return passages, nil
}

// SaveCorpus writes passages as JSON or YAML chosen by extension
func SaveCorpus(path string, passages []*model.Passage) error {
	var (
		data []byte
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		data, err = json.MarshalIndent(passages, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(passages)
	default:
		return goerr.Wrap(model.ErrInvalidInput, "unsupported corpus format", goerr.V("path", path), goerr.V("ext", ext))
	}
	if err != nil {
		return goerr.Wrap(err, "failed to encode corpus", goerr.V("path", path))
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return goerr.Wrap(err, "failed to write corpus file", goerr.V("path", path))
	}
	return nil
}
