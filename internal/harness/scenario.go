package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of store operations with the outcomes
// they must produce and assertions over the final state.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Config overrides node configuration keys (prune_limits,
	// storage_units, ...). It is validated like a config file.
	Config map[string]any `yaml:"config,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions"`
}

// Step operations.
const (
	OpMerge        = "merge"
	OpRevoke       = "revoke"
	OpPrune        = "prune"
	OpRevokeSigner = "revoke_signer"
)

// Step is one operation against the node.
type Step struct {
	Op string `yaml:"op"`

	// ID labels the message merged by this step so later steps and
	// assertions can refer to it.
	ID string `yaml:"id,omitempty"`

	// Message is built by a merge step.
	Message *MessageSpec `yaml:"message,omitempty"`

	// Ref names an earlier message to revoke.
	Ref string `yaml:"ref,omitempty"`

	// Fid, Class and Units drive prune; Fid and Signer drive revoke_signer.
	Fid    uint64 `yaml:"fid,omitempty"`
	Class  string `yaml:"class,omitempty"`
	Units  uint32 `yaml:"units,omitempty"`
	Signer uint8  `yaml:"signer,omitempty"`

	// Expect is the outcome: ok (the default) or an error code without its
	// bad_request prefix, such as conflict or duplicate.
	Expect string `yaml:"expect,omitempty"`

	// Count is the expected number of events of a prune or revoke_signer
	// step.
	Count *int `yaml:"count,omitempty"`
}

// MessageSpec describes a message to build. Only the fields of its type
// are read.
type MessageSpec struct {
	Type      string `yaml:"type"`
	Fid       uint64 `yaml:"fid"`
	Timestamp uint32 `yaml:"timestamp"`

	// Signer is the seed byte of the signing key; zero uses the default key.
	Signer uint8 `yaml:"signer,omitempty"`
	// Hash replaces the message hash with 20 copies of this byte.
	Hash uint8 `yaml:"hash,omitempty"`

	Text      string   `yaml:"text,omitempty"`
	Parent    string   `yaml:"parent,omitempty"`
	ParentURL string   `yaml:"parent_url,omitempty"`
	Mentions  []uint64 `yaml:"mentions,omitempty"`

	// Target names an earlier cast (cast_remove, reactions).
	Target    string `yaml:"target,omitempty"`
	TargetURL string `yaml:"target_url,omitempty"`

	ReactionType string `yaml:"reaction_type,omitempty"`

	LinkType  string `yaml:"link_type,omitempty"`
	TargetFid uint64 `yaml:"target_fid,omitempty"`

	Address string `yaml:"address,omitempty"`

	UserDataType string `yaml:"user_data_type,omitempty"`
	Value        string `yaml:"value,omitempty"`

	Name string `yaml:"name,omitempty"`
}

// Assertion checks the state left by the steps.
type Assertion struct {
	// Type is one of the Assert constants.
	Type string `yaml:"type"`

	Ref   string `yaml:"ref,omitempty"`
	Event string `yaml:"event,omitempty"`
	Fid   uint64 `yaml:"fid,omitempty"`
	Class string `yaml:"class,omitempty"`
	Count int    `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertPresent          = "present"
	AssertAbsent           = "absent"
	AssertEventCount       = "event_count"
	AssertTrieItems        = "trie_items"
	AssertMessageCount     = "message_count"
	AssertTrieMatchesStore = "trie_matches_store"
)

// LoadScenario reads a scenario file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and checks a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	labels := make(map[string]bool)
	for i, step := range s.Steps {
		switch step.Op {
		case OpMerge:
			if step.Message == nil {
				return fmt.Errorf("steps[%d]: message is required for merge", i)
			}
			if step.Message.Type == "" {
				return fmt.Errorf("steps[%d]: message type is required", i)
			}
			if step.ID != "" {
				if labels[step.ID] {
					return fmt.Errorf("steps[%d]: duplicate id %q", i, step.ID)
				}
				labels[step.ID] = true
			}
		case OpRevoke:
			if !labels[step.Ref] {
				return fmt.Errorf("steps[%d]: ref %q does not name an earlier message", i, step.Ref)
			}
		case OpPrune:
			if step.Fid == 0 {
				return fmt.Errorf("steps[%d]: fid is required for prune", i)
			}
		case OpRevokeSigner:
			if step.Fid == 0 || step.Signer == 0 {
				return fmt.Errorf("steps[%d]: fid and signer are required for revoke_signer", i)
			}
		case "":
			return fmt.Errorf("steps[%d]: op is required", i)
		default:
			return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, labels); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion, labels map[string]bool) error {
	switch a.Type {
	case AssertPresent, AssertAbsent:
		if !labels[a.Ref] {
			return fmt.Errorf("assertions[%d]: ref %q does not name a message", index, a.Ref)
		}
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_count", index)
		}
	case AssertMessageCount:
		if a.Fid == 0 || a.Class == "" {
			return fmt.Errorf("assertions[%d]: fid and class are required for message_count", index)
		}
	case AssertTrieItems, AssertTrieMatchesStore:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
