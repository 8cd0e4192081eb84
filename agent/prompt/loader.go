package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	contractx "github.com/recmonkey/scout/agent/contract"
)

var (
	//go:embed template/quick_decision.txt
	quickDecisionRaw string

	//go:embed template/recommendation.txt
	recommendationRaw string

	//go:embed template/product_discovery.txt
	productDiscoveryRaw string

	//go:embed template/research.txt
	researchRaw string

	//go:embed template/correction.txt
	correctionRaw string

	//go:embed template/router.txt
	routerRaw string

	//go:embed template/budget_question.txt
	budgetQuestionRaw string

	//go:embed template/diagnostic_questions.txt
	diagnosticQuestionsRaw string

	//go:embed template/quick_prep.txt
	quickPrepRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	QuickDecision       string
	Recommendation      string
	ProductDiscovery    string
	Research            string
	Correction          string
	Router              string
	BudgetQuestion      string
	DiagnosticQuestions string
	QuickPrep           string
}

// LoadPromptSet returns the embedded prompts, trimmed.
func LoadPromptSet() PromptSet {
	return PromptSet{
		QuickDecision:       strings.TrimSpace(quickDecisionRaw),
		Recommendation:      strings.TrimSpace(recommendationRaw),
		ProductDiscovery:    strings.TrimSpace(productDiscoveryRaw),
		Research:            strings.TrimSpace(researchRaw),
		Correction:          strings.TrimSpace(correctionRaw),
		Router:              strings.TrimSpace(routerRaw),
		BudgetQuestion:      strings.TrimSpace(budgetQuestionRaw),
		DiagnosticQuestions: strings.TrimSpace(diagnosticQuestionsRaw),
		QuickPrep:           strings.TrimSpace(quickPrepRaw),
	}
}

// System returns the system prompt for a research mode.
func (s PromptSet) System(mode contractx.Mode) (string, error) {
	switch mode {
	case contractx.ModeQuickDecision:
		return s.QuickDecision, nil
	case contractx.ModeRecommendation:
		return s.Recommendation, nil
	case contractx.ModeProductDiscovery:
		return s.ProductDiscovery, nil
	case contractx.ModeResearch:
		return s.Research, nil
	}
	return "", fmt.Errorf("%w: no system prompt for mode %q", contractx.ErrValidation, mode)
}

// RenderCorrection fills the correction template with the schema
// validation error from the rejected terminal payload.
func (s PromptSet) RenderCorrection(detail string) string {
	return strings.ReplaceAll(s.Correction, "{error}", detail)
}
