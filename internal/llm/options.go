package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Options are the optional sampling controls of a request. A nil pointer
// means "not set" and the field is left out of the payload entirely, so an
// explicit zero is still transmitted.
type Options struct {
	Temperature      *float64       `json:"temperature,omitempty"`
	TopP             *float64       `json:"top_p,omitempty"`
	N                *int           `json:"n,omitempty"`
	MaxTokens        *int           `json:"max_tokens,omitempty"`
	Stop             []string       `json:"stop,omitempty"`
	PresencePenalty  *float64       `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64       `json:"frequency_penalty,omitempty"`
	LogitBias        map[string]int `json:"logit_bias,omitempty"`
	Seed             *int           `json:"seed,omitempty"`
	User             *string        `json:"user,omitempty"`
}

func Float(value float64) *float64 { return &value }
func Int(value int) *int           { return &value }
func String(value string) *string  { return &value }

const maxStopSequences = 4

func (options Options) validate() error {
	if err := checkRange("temperature", options.Temperature, 0, 2); err != nil {
		return err
	}
	if err := checkRange("top_p", options.TopP, 0, 1); err != nil {
		return err
	}
	if err := checkRange("presence_penalty", options.PresencePenalty, -2, 2); err != nil {
		return err
	}
	if err := checkRange("frequency_penalty", options.FrequencyPenalty, -2, 2); err != nil {
		return err
	}
	if options.N != nil && *options.N < 1 {
		return configErrorf("n", "must be >= 1, got %d", *options.N)
	}
	if options.MaxTokens != nil && *options.MaxTokens < 1 {
		return configErrorf("max_tokens", "must be >= 1, got %d", *options.MaxTokens)
	}
	if len(options.Stop) > maxStopSequences {
		return configErrorf("stop", "at most %d sequences allowed, got %d", maxStopSequences, len(options.Stop))
	}
	for _, stop := range options.Stop {
		if stop == "" {
			return configErrorf("stop", "sequences must not be empty")
		}
	}
	for token, bias := range options.LogitBias {
		if bias < -100 || bias > 100 {
			return configErrorf("logit_bias", "bias for token %q must be within [-100, 100], got %d", token, bias)
		}
	}
	return nil
}

func checkRange(option string, value *float64, min, max float64) error {
	if value == nil {
		return nil
	}
	if *value < min || *value > max {
		return configErrorf(option, "must be within [%g, %g], got %g", min, max, *value)
	}
	return nil
}

const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceRequired = "required"
)

// ToolChoice is the tool selection policy. Exactly one of Mode or Function
// is set; Function forces the model to call that tool.
type ToolChoice struct {
	Mode     string
	Function string
}

func ToolChoiceMode(mode string) *ToolChoice {
	return &ToolChoice{Mode: mode}
}

func ForceTool(name string) *ToolChoice {
	return &ToolChoice{Function: name}
}

// ParseToolChoice maps a configuration value to a policy: the three
// keywords select a mode, anything else names a tool to force. An empty
// value means unset.
func ParseToolChoice(value string) *ToolChoice {
	trimmed := strings.TrimSpace(value)
	switch strings.ToLower(trimmed) {
	case "":
		return nil
	case ToolChoiceAuto, ToolChoiceNone, ToolChoiceRequired:
		return ToolChoiceMode(strings.ToLower(trimmed))
	default:
		return ForceTool(trimmed)
	}
}

func (choice ToolChoice) String() string {
	if choice.Function != "" {
		return "function:" + choice.Function
	}
	return choice.Mode
}

type namedToolChoiceJSON struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

func (choice ToolChoice) MarshalJSON() ([]byte, error) {
	if choice.Function != "" {
		named := namedToolChoiceJSON{Type: ToolTypeFunction}
		named.Function.Name = choice.Function
		return json.Marshal(named)
	}
	return json.Marshal(choice.Mode)
}

func (choice *ToolChoice) UnmarshalJSON(data []byte) error {
	var mode string
	if err := json.Unmarshal(data, &mode); err == nil {
		*choice = ToolChoice{Mode: mode}
		return nil
	}
	var named namedToolChoiceJSON
	if err := json.Unmarshal(data, &named); err != nil {
		return fmt.Errorf("tool_choice must be a string or a function object: %w", err)
	}
	if named.Type != ToolTypeFunction || named.Function.Name == "" {
		return fmt.Errorf("tool_choice object must name a function")
	}
	*choice = ToolChoice{Function: named.Function.Name}
	return nil
}

func (choice ToolChoice) validate(definitions []ToolDefinition) error {
	if choice.Function != "" {
		if choice.Mode != "" {
			return configErrorf("tool_choice", "mode %q and forced tool %q are mutually exclusive", choice.Mode, choice.Function)
		}
		for _, definition := range definitions {
			if definition.Name == choice.Function {
				return nil
			}
		}
		return configErrorf("tool_choice", "forced tool %q is not among the offered tools", choice.Function)
	}

	switch choice.Mode {
	case ToolChoiceAuto, ToolChoiceNone:
		return nil
	case ToolChoiceRequired:
		if len(definitions) == 0 {
			return configErrorf("tool_choice", "%q requires at least one tool", choice.Mode)
		}
		return nil
	default:
		return configErrorf("tool_choice", "unknown mode %q (use: auto, none, required, or a tool name)", choice.Mode)
	}
}
