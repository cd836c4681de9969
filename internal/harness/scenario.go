package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/relgraph/internal/mail"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Partner is the session's current partner. Omit for an anonymous
	// session.
	Partner *Partner `yaml:"partner,omitempty"`

	// TokenPrefix prefixes the numbered call tokens. Defaults to "call".
	TokenPrefix string `yaml:"token_prefix,omitempty"`

	// Answers script the transport. Unscripted calls answer true.
	Answers []Answer `yaml:"answers,omitempty"`

	// Setup steps establish initial state and must not fail.
	Setup []Step `yaml:"setup,omitempty"`

	// Steps is the flow under test.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state, calls and events.
	Assertions []Assertion `yaml:"assertions"`
}

// Partner identifies the current partner.
type Partner struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
}

// Answer scripts the server's reply to one method.
type Answer struct {
	// Model defaults to mail.message.
	Model  string `yaml:"model,omitempty"`
	Method string `yaml:"method"`

	// Result is returned on success.
	Result any `yaml:"result,omitempty"`

	// Error, if set, makes the call fail with this message.
	Error string `yaml:"error,omitempty"`
}

// Step is either a server push or a message operation.
type Step struct {
	// Push is the channel a payload arrives on: mail.message or res.partner.
	Push    string         `yaml:"push,omitempty"`
	Payload map[string]any `yaml:"payload,omitempty"`

	// Do names a message operation (see Operations).
	Do string `yaml:"do,omitempty"`

	// Message is the server id of the message the operation targets.
	Message int64 `yaml:"message,omitempty"`

	// Args are operation arguments: decision and kwargs for moderate,
	// domain for mark_all_as_read, mailbox and domain for the checks.
	Args map[string]any `yaml:"args,omitempty"`

	// ExpectError makes the step pass only if it fails with an error
	// containing this text.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Operation names accepted by Step.Do.
const (
	OpMarkAsRead       = "mark_as_read"
	OpMarkAllAsRead    = "mark_all_as_read"
	OpToggleStar       = "toggle_star"
	OpModerate         = "moderate"
	OpUnstarAll        = "unstar_all"
	OpReplyTo          = "reply_to"
	OpOpenResendAction = "open_resend_action"
	OpToggleCheck      = "toggle_check"
	OpCheckAll         = "check_all"
	OpUncheckAll       = "uncheck_all"
	OpDelete           = "delete"
)

// Operations lists every Step.Do value, and whether it targets a message.
var Operations = map[string]bool{
	OpMarkAsRead:       true,
	OpMarkAllAsRead:    false,
	OpToggleStar:       true,
	OpModerate:         true,
	OpUnstarAll:        false,
	OpReplyTo:          true,
	OpOpenResendAction: true,
	OpToggleCheck:      true,
	OpCheckAll:         false,
	OpUncheckAll:       false,
	OpDelete:           true,
}

// Assertion validates the outcome of a scenario.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Model and Key (or LocalID) select a record (record, absent, count).
	Model   string `yaml:"model,omitempty"`
	Key     []any  `yaml:"key,omitempty"`
	LocalID string `yaml:"local_id,omitempty"`

	// Expect holds field values (record). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number (count, call_count).
	Count int `yaml:"count,omitempty"`

	// Method and Methods name remote calls (call_count, call_order).
	Method  string   `yaml:"method,omitempty"`
	Methods []string `yaml:"methods,omitempty"`

	// Name and Payload match a bus event (event). Payload is a subset.
	Name    string         `yaml:"name,omitempty"`
	Payload map[string]any `yaml:"payload,omitempty"`
}

// Assertion type constants.
const (
	AssertRecord    = "record"
	AssertAbsent    = "absent"
	AssertCount     = "count"
	AssertCallCount = "call_count"
	AssertCallOrder = "call_order"
	AssertEvent     = "event"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches "assertion:" for "assertions:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Partner != nil && s.Partner.ID <= 0 {
		return fmt.Errorf("partner.id must be positive")
	}

	for i, a := range s.Answers {
		if a.Method == "" {
			return fmt.Errorf("answers[%d]: method is required", i)
		}
	}
	for i, step := range s.Setup {
		if err := ValidateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if step.ExpectError != "" {
			return fmt.Errorf("setup[%d]: expect_error is not allowed in setup", i)
		}
	}
	for i, step := range s.Steps {
		if err := ValidateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

// ValidateStep checks that a step names a known channel or operation and
// carries what it needs.
func ValidateStep(step Step) error {
	switch {
	case step.Push != "" && step.Do != "":
		return fmt.Errorf("push and do are mutually exclusive")
	case step.Push != "":
		if step.Push != mail.PartnerChannel && step.Push != "mail.message" {
			return fmt.Errorf("unknown push channel %q", step.Push)
		}
		if step.Payload == nil {
			return fmt.Errorf("payload is required for push")
		}
	case step.Do != "":
		needsMessage, ok := Operations[step.Do]
		if !ok {
			return fmt.Errorf("unknown operation %q", step.Do)
		}
		if needsMessage && step.Message == 0 {
			return fmt.Errorf("message is required for %s", step.Do)
		}
	default:
		return fmt.Errorf("one of push or do is required")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("type is required")
	case AssertRecord, AssertAbsent:
		if a.Model == "" {
			return fmt.Errorf("model is required for %s", a.Type)
		}
		if len(a.Key) == 0 && a.LocalID == "" {
			return fmt.Errorf("key or local_id is required for %s", a.Type)
		}
		if a.Type == AssertRecord && len(a.Expect) == 0 {
			return fmt.Errorf("expect is required for record")
		}
	case AssertCount:
		if a.Model == "" {
			return fmt.Errorf("model is required for count")
		}
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative")
		}
	case AssertCallCount:
		if a.Method == "" {
			return fmt.Errorf("method is required for call_count")
		}
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative")
		}
	case AssertCallOrder:
		if len(a.Methods) == 0 {
			return fmt.Errorf("methods list is required for call_order")
		}
	case AssertEvent:
		if a.Name == "" {
			return fmt.Errorf("name is required for event")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
