package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ClaimTypeMapping maps free-text claim-type labels to canonical codes.
type ClaimTypeMapping map[string]string

// defaultClaimTypes covers the labels seen on scanned claim forms.
var defaultClaimTypes = ClaimTypeMapping{
	"individual":              "IFR",
	"individual forest right": "IFR",
	"ifr":                     "IFR",
	"community forest":        "CFR",
	"community forest right":  "CFR",
	"community forest resource": "CFR",
	"cfr":              "CFR",
	"community":        "CR",
	"community right":  "CR",
	"community rights": "CR",
	"cr":               "CR",
}

// LoadClaimTypes reads a claim-type synonym mapping from YAML, falling back
// to the built-in mapping when path is empty.
func LoadClaimTypes(path string) (ClaimTypeMapping, error) {
	if path == "" {
		return defaultClaimTypes, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read claim types %s", path)
	}

	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal claim types")
	}

	m := make(ClaimTypeMapping, len(raw))
	for k, v := range raw {
		m[strings.ToLower(strings.TrimSpace(k))] = strings.ToUpper(strings.TrimSpace(v))
	}
	return m, nil
}

// Code resolves a free-text label to a canonical claim-type code.
// Unknown labels return the empty string.
func (m ClaimTypeMapping) Code(label string) string {
	return m[strings.ToLower(strings.TrimSpace(label))]
}
