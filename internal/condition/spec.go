// Package condition compiles declarative trigger conditions into typed,
// side-effect-free expression trees and evaluates them against a snapshot.
//
// Conditions are written in YAML:
//
//	all:
//	  - field: trust.ember
//	    op: "<="
//	    value: -50
//	  - time_since:
//	      event: milestone:first_contact
//	      op: ">="
//	      duration: 3d
//	  - any:
//	      - milestone: key_used
//	      - not: {spawned: kessler}
//
// Compile rejects anything it does not understand, so evaluation never has to.
package condition

// Spec is the decoded form of one condition node. Exactly one of its
// members may be set.
type Spec struct {
	All []Spec `yaml:"all,omitempty"`
	Any []Spec `yaml:"any,omitempty"`
	Not *Spec  `yaml:"not,omitempty"`

	// Field comparison.
	Field string `yaml:"field,omitempty"`
	Op    string `yaml:"op,omitempty"`
	Value any    `yaml:"value,omitempty"`

	Milestone         string         `yaml:"milestone,omitempty"`
	TimeSince         *TimeSinceSpec `yaml:"time_since,omitempty"`
	KnowledgeContains string         `yaml:"knowledge_contains,omitempty"`
	Spawned           string         `yaml:"spawned,omitempty"`
	Deadline          string         `yaml:"deadline,omitempty"`
	Fired             string         `yaml:"fired,omitempty"`
	Always            bool           `yaml:"always,omitempty"`
}

// TimeSinceSpec is an elapsed-time predicate.
type TimeSinceSpec struct {
	Event    string `yaml:"event"`
	Op       string `yaml:"op"`
	Duration string `yaml:"duration"`
}

// members counts how many node kinds are set.
func (s *Spec) members() int {
	n := 0
	for _, set := range []bool{
		s.All != nil, s.Any != nil, s.Not != nil, s.Field != "",
		s.Milestone != "", s.TimeSince != nil, s.KnowledgeContains != "",
		s.Spawned != "", s.Deadline != "", s.Fired != "", s.Always,
	} {
		if set {
			n++
		}
	}
	return n
}
