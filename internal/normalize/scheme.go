package normalize

import "strings"

// CodeVersion names the normalization algorithm revision. It participates
// in composite versions so algorithm changes invalidate prior outputs.
const CodeVersion = "1.0"

// Scheme pins the full normalization configuration of one source: service
// versions, code version, and the strictness and conflation policies.
type Scheme struct {
	NodeNormVersion string `mapstructure:"node_normalization_version" yaml:"node_normalization_version"`
	EdgeNormVersion string `mapstructure:"edge_normalization_version" yaml:"edge_normalization_version"`
	NormCodeVersion string `mapstructure:"normalization_code_version" yaml:"normalization_code_version"`
	Strict          bool   `mapstructure:"strict_normalization"       yaml:"strict_normalization"`
	Conflation      bool   `mapstructure:"conflation"                 yaml:"conflation"`
}

// DefaultScheme returns the scheme used when a graph spec leaves
// normalization settings out: strict, no conflation, current code version.
func DefaultScheme(nodeNormVersion, edgeNormVersion string) Scheme {
	return Scheme{
		NodeNormVersion: nodeNormVersion,
		EdgeNormVersion: edgeNormVersion,
		NormCodeVersion: CodeVersion,
		Strict:          true,
	}
}

// CompositeVersion derives the deterministic version string naming this
// scheme. It is used as a directory name component and feeds graph version
// hashes, so its shape must stay stable.
func (s Scheme) CompositeVersion() string {
	parts := []string{
		s.NodeNormVersion,
		s.EdgeNormVersion,
		s.NormCodeVersion,
	}

	if s.Strict {
		parts = append(parts, "strict")
	} else {
		parts = append(parts, "lenient")
	}

	if s.Conflation {
		parts = append(parts, "conflated")
	}

	return strings.Join(parts, "_")
}
