// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

package template

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	templarerr "github.com/templar-dev/templar/pkg/errors"
)

// catalogFile is the on-disk shape of a template catalog.
type catalogFile struct {
	Templates []Template `yaml:"templates" json:"templates"`
}

// LoadCatalog reads a template catalog from a YAML or JSON file, validates
// every entry, and rejects duplicate template IDs.
func LoadCatalog(path string) ([]Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, templarerr.Wrapf(err, templarerr.CodeConfigLoadReadFailure, "reading template catalog %s", path)
	}

	var file catalogFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &file)
	default:
		err = yaml.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, templarerr.Wrapf(err, templarerr.CodeConfigLoadReadFailure, "parsing template catalog %s", path)
	}

	seen := make(map[string]struct{}, len(file.Templates))
	for _, tpl := range file.Templates {
		if err := tpl.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[tpl.ID]; dup {
			return nil, templarerr.New(templarerr.CodeStoreInvalidInput, "template catalog: duplicate template id",
				templarerr.FieldTemplateID(tpl.ID))
		}
		seen[tpl.ID] = struct{}{}
	}

	return file.Templates, nil
}
