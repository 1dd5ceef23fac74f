// Package oracle asks the language model for the next dialog decision and
// validates the structured answer.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"crm_dialog_relay/internal/dialogs/domain"
	"crm_dialog_relay/internal/dialogs/ports"
	"crm_dialog_relay/platform/ai/openai"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// ErrMalformedDecision is returned when the model answer is not a valid decision object.
var ErrMalformedDecision = errors.New("malformed oracle decision")

const decisionContract = `Ты ведёшь переписку с клиентом в WhatsApp от лица менеджера.
Ответь строго одним JSON-объектом без пояснений:
{
  "reply_text": "текст сообщения клиенту или пустая строка, если отвечать не нужно",
  "new_state": "краткая метка состояния диалога; escalated передаёт диалог человеку",
  "action": "NONE | LOG_COMMENT | CREATE_TASK_AND_LOG | ESCALATE_TO_MANAGER",
  "action_params": {
    "comment_text": "для LOG_COMMENT и CREATE_TASK_AND_LOG",
    "task_title": "для CREATE_TASK_AND_LOG",
    "task_description": "для CREATE_TASK_AND_LOG",
    "deadline_hours": 24,
    "reason": "для ESCALATE_TO_MANAGER"
  }
}`

const defaultTemperature = 0.3

// Oracle implements ports.Oracle on top of any ADK model.
type Oracle struct {
	llm model.LLM
}

func New(llm model.LLM) *Oracle {
	return &Oracle{llm: llm}
}

// Decide sends the policy and history to the model and parses its decision.
func (o *Oracle) Decide(ctx context.Context, history []domain.Entry, policyText string) (domain.Decision, error) {
	req := &model.LLMRequest{
		Contents: buildContents(history),
		Config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(buildSystemPrompt(policyText), genai.RoleUser),
			ResponseMIMEType:  "application/json",
			Temperature:       genai.Ptr[float32](defaultTemperature),
		},
	}

	var output strings.Builder
	for resp, err := range o.llm.GenerateContent(ctx, req, false) {
		if err != nil {
			return domain.Decision{}, fmt.Errorf("oracle call failed: %w", err)
		}
		if resp == nil || resp.Content == nil {
			continue
		}
		for _, part := range resp.Content.Parts {
			if part != nil {
				output.WriteString(part.Text)
			}
		}
	}

	return ParseDecision(output.String())
}

func buildSystemPrompt(policyText string) string {
	policyText = strings.TrimSpace(policyText)
	if policyText == "" {
		return decisionContract
	}
	return policyText + "\n\n" + decisionContract
}

func buildContents(history []domain.Entry) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, entry := range history {
		if strings.TrimSpace(entry.Content) == "" {
			continue
		}
		var role genai.Role
		switch entry.Role {
		case domain.RoleAssistant:
			role = genai.RoleModel
		case domain.RoleSystem:
			role = openai.RoleSystem
		default:
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromText(entry.Content, role))
	}
	return contents
}

type decisionPayload struct {
	ReplyText    string         `json:"reply_text"`
	NewState     string         `json:"new_state"`
	Action       string         `json:"action"`
	ActionParams map[string]any `json:"action_params"`
}

// ParseDecision extracts the decision object from raw model output. Code fences
// and text around the object are tolerated; a missing state is not. An absent
// or null reply_text means nothing is sent to the client.
func ParseDecision(raw string) (domain.Decision, error) {
	body := strings.TrimSpace(raw)
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return domain.Decision{}, fmt.Errorf("%w: no JSON object in output", ErrMalformedDecision)
	}

	var payload decisionPayload
	if err := json.Unmarshal([]byte(body[start:end+1]), &payload); err != nil {
		return domain.Decision{}, fmt.Errorf("%w: %v", ErrMalformedDecision, err)
	}

	state := strings.TrimSpace(payload.NewState)
	if state == "" {
		return domain.Decision{}, fmt.Errorf("%w: new_state is empty", ErrMalformedDecision)
	}
	return domain.Decision{
		ReplyText:    strings.TrimSpace(payload.ReplyText),
		NewState:     state,
		Action:       domain.ParseAction(payload.Action),
		ActionParams: payload.ActionParams,
	}, nil
}

// Compile-time check.
var _ ports.Oracle = (*Oracle)(nil)
