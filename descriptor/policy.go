package descriptor

import (
	"encoding/json"
	"sort"
	"strings"

	"coursechatbot/errors"
)

// PolicySet is a set of managed policy grants keyed by policy name.
// Adding a name twice is a no-op.
type PolicySet struct {
	names map[string]struct{}
}

// NewPolicySet returns a set holding the given names
func NewPolicySet(names ...string) *PolicySet {
	s := &PolicySet{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// Add grants a policy; blank names are ignored
func (s *PolicySet) Add(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	s.names[name] = struct{}{}
}

// Len returns the number of distinct grants
func (s *PolicySet) Len() int {
	return len(s.names)
}

// Names returns the grants sorted by name
func (s *PolicySet) Names() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func managedPolicyARN(name string) string {
	return "arn:aws:iam::aws:policy/" + name
}

// AssumeRolePolicy renders the trust policy letting principal assume a role
func AssumeRolePolicy(principal string) (string, error) {
	doc := map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{{
			"Effect":    "Allow",
			"Action":    "sts:AssumeRole",
			"Principal": map[string]string{"Service": principal},
		}},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", errors.New(errors.ErrGraph, "cannot encode assume role policy",
			map[string]interface{}{"principal": principal}, err)
	}
	return string(raw), nil
}
