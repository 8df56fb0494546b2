package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// OrgKeys binds one organization to its API keys.
type OrgKeys struct {
	OrgID string   `yaml:"orgId" json:"orgId"`
	Name  string   `yaml:"name,omitempty" json:"name,omitempty"`
	Keys  []string `yaml:"keys" json:"keys"`
}

// KeyFile is the static API key configuration:
//
//	orgs:
//	  - orgId: org-a
//	    name: produktion
//	    keys:
//	      - ak_live_orga_4f3a9c1e7b2d
type KeyFile struct {
	Orgs []OrgKeys `yaml:"orgs" json:"orgs"`
}

// LoadKeys reads and checks a key file. A key that appears under two
// orgs would make authentication ambiguous, so it fails the load.
func LoadKeys(path string) (*KeyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read keys %s: %w", path, err)
	}

	var kf KeyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("config: parse keys %s: %w", path, err)
	}
	if len(kf.Orgs) == 0 {
		return nil, fmt.Errorf("config: keys file %s has no orgs", path)
	}

	owner := make(map[string]string)
	for i, org := range kf.Orgs {
		if org.OrgID == "" {
			return nil, fmt.Errorf("config: keys file: org %d has no orgId", i)
		}
		if len(org.Keys) == 0 {
			return nil, fmt.Errorf("config: keys file: org %s has no keys", org.OrgID)
		}
		for _, key := range org.Keys {
			if strings.TrimSpace(key) == "" {
				return nil, fmt.Errorf("config: keys file: org %s has an empty key", org.OrgID)
			}
			if prev, taken := owner[key]; taken {
				return nil, fmt.Errorf("config: keys file: key shared by %s and %s", prev, org.OrgID)
			}
			owner[key] = org.OrgID
		}
	}
	return &kf, nil
}
