package prompts

import "fmt"

// ProseOption names one writing-assistant action over a text selection.
type ProseOption string

const (
	ProseContinue ProseOption = "continue"
	ProseImprove  ProseOption = "improve"
	ProseShorter  ProseOption = "shorter"
	ProseLonger   ProseOption = "longer"
	ProseFix      ProseOption = "fix"
	ProseZap      ProseOption = "zap"
)

// ProseSystem returns the system prompt for a prose action, or an error for
// an unknown option.
func ProseSystem(option ProseOption) (string, error) {
	switch option {
	case ProseContinue:
		return "You are a writing assistant. Continue the user's text in the same voice and register. Output only the continuation, without repeating the provided text.", nil
	case ProseImprove:
		return "You are a writing assistant. Rewrite the user's text to be clearer and better structured while preserving meaning and voice. Output only the rewritten text.", nil
	case ProseShorter:
		return "You are a writing assistant. Condense the user's text, keeping every essential point. Output only the shortened text.", nil
	case ProseLonger:
		return "You are a writing assistant. Expand the user's text with relevant detail and smoother transitions, preserving its voice. Output only the expanded text.", nil
	case ProseFix:
		return "You are a writing assistant. Fix grammar, spelling, and punctuation in the user's text without changing meaning or tone. Output only the corrected text.", nil
	case ProseZap:
		return "You are a writing assistant. Transform the user's text according to the command they provide. Output only the transformed text.", nil
	default:
		return "", fmt.Errorf("unknown prose option %q", option)
	}
}
