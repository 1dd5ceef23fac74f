package ingress

import (
	"fmt"
	"strings"

	"crm_dialog_relay/internal/dialogs/ports"
)

const (
	fallbackClientName  = "Уважаемый клиент"
	fallbackManagerName = "Ваш менеджер"
	fallbackDealTitle   = "название должника не указано"
)

// Scenario names the conversation a trigger stage starts.
type Scenario string

const (
	ScenarioWelcome    Scenario = "welcome"
	ScenarioTouchToday Scenario = "touch_today"
	ScenarioNewLot     Scenario = "new_lot"
)

// StageRoutes maps trigger stage ids to scenarios. Blank stage ids are not routed.
type StageRoutes struct {
	FunnelID     string
	WelcomeStage string
	TouchToday   string
	NewLot       string
}

// Match returns the scenario for a deal, or false when the deal is outside the
// funnel or not on a trigger stage.
func (r StageRoutes) Match(categoryID, stageID string) (Scenario, bool) {
	if strings.TrimSpace(categoryID) != r.FunnelID || stageID == "" {
		return "", false
	}
	switch stageID {
	case r.WelcomeStage:
		return ScenarioWelcome, true
	case r.TouchToday:
		return ScenarioTouchToday, true
	case r.NewLot:
		return ScenarioNewLot, true
	}
	return "", false
}

// TriggerContext carries the personalization data of a CRM event.
type TriggerContext struct {
	Scenario    Scenario
	Deal        ports.Deal
	ClientName  string
	ManagerName string
	Activity    *ports.Activity
}

func clientName(c ports.Contact) string {
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	return fallbackClientName
}

func managerName(u *ports.User) string {
	if u == nil {
		return fallbackManagerName
	}
	if name := u.FullName(); name != "" {
		return name
	}
	return fallbackManagerName
}

// BuildInstruction renders the system entry that tells the oracle why it is
// speaking first.
func BuildInstruction(tc TriggerContext) string {
	title := strings.TrimSpace(tc.Deal.Title)
	if title == "" {
		title = fallbackDealTitle
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Событие CRM: сделка %d («%s») перешла на стадию %s.\n", tc.Deal.ID, title, tc.Deal.StageID)
	fmt.Fprintf(&b, "Клиент: %s. Менеджер: %s.\n", tc.ClientName, tc.ManagerName)

	switch tc.Scenario {
	case ScenarioWelcome:
		b.WriteString("Сценарий ПРИВЕТСТВИЕ: поздоровайся с клиентом от имени менеджера, представься как менеджер по сопровождению и предложи помощь.")
	case ScenarioTouchToday:
		b.WriteString("Сценарий КАСАНИЕ СЕГОДНЯ: спроси, как идёт работа по текущим делам, есть ли новые должники или вопросы, и напомни о программе «Приведи друга».")
	case ScenarioNewLot:
		fmt.Fprintf(&b, "Сценарий НОВЫЙ ЛОТ: сообщи, что появились новые лоты по %s, спроси, можно ли работать по этому должнику, и предложи оформить заявку на открытие спецсчетов.", title)
	}

	if tc.Activity != nil && (tc.Activity.Subject != "" || tc.Activity.Description != "") {
		b.WriteString("\nПоследняя активность по сделке: ")
		b.WriteString(strings.TrimSpace(tc.Activity.Subject))
		if desc := strings.TrimSpace(tc.Activity.Description); desc != "" {
			b.WriteString(". ")
			b.WriteString(desc)
		}
	}
	return b.String()
}
