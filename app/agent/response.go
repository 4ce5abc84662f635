package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"contractrag/model"
	"contractrag/types"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type clauseWire struct {
	ClauseType     string `json:"clause_type" validate:"required"`
	Description    string `json:"description" validate:"required"`
	Recommendation string `json:"recommendation"`
	RiskLevel      string `json:"risk_level" validate:"omitempty,oneof=high medium low"`
}

type protectionWire struct {
	ProtectionType  string `json:"protection_type" validate:"required"`
	Description     string `json:"description" validate:"required"`
	Importance      string `json:"importance"`
	SuggestedClause string `json:"suggested_clause"`
}

// analysisWire is the shape the model must answer with. The score is read as
// a float so that "7.0" is accepted and rounded.
type analysisWire struct {
	RiskScore          *float64               `json:"risk_score" validate:"required"`
	Summary            string                 `json:"summary" validate:"required"`
	RiskyClauses       []clauseWire           `json:"risky_clauses" validate:"dive"`
	MissingProtections []protectionWire       `json:"missing_protections" validate:"dive"`
	DetailedAnalysis   types.DetailedAnalysis `json:"detailed_analysis"`
}

// parseAnalysis turns raw model output into a result. Any error it returns is
// a schema problem worth quoting back to the model.
func parseAnalysis(raw string) (*types.AnalysisResult, error) {
	body, err := model.ExtractJSON(raw)
	if err != nil {
		return nil, err
	}

	var w analysisWire
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return nil, fmt.Errorf("invalid json: %v", err)
	}
	for i := range w.RiskyClauses {
		w.RiskyClauses[i].RiskLevel = strings.ToLower(strings.TrimSpace(w.RiskyClauses[i].RiskLevel))
	}
	if err := validate.Struct(&w); err != nil {
		return nil, describeValidation(err)
	}

	result := &types.AnalysisResult{
		RiskScore:          types.ClampRiskScore(int(math.Round(*w.RiskScore))),
		Summary:            strings.TrimSpace(w.Summary),
		RiskyClauses:       make([]types.RiskyClause, len(w.RiskyClauses)),
		MissingProtections: make([]types.MissingProtection, len(w.MissingProtections)),
		DetailedAnalysis:   w.DetailedAnalysis,
	}
	for i, c := range w.RiskyClauses {
		level := c.RiskLevel
		if level == "" {
			level = "medium"
		}
		result.RiskyClauses[i] = types.RiskyClause{
			ClauseType:     c.ClauseType,
			Description:    c.Description,
			Recommendation: c.Recommendation,
			RiskLevel:      level,
		}
	}
	for i, p := range w.MissingProtections {
		result.MissingProtections[i] = types.MissingProtection{
			ProtectionType:  p.ProtectionType,
			Description:     p.Description,
			Importance:      p.Importance,
			SuggestedClause: p.SuggestedClause,
		}
	}
	return result, nil
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		_, field, _ := strings.Cut(e.Namespace(), ".")
		msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", field, e.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
