// Package analyzer provides claim-risk assessment and multi-policy
// comparison over retrieved clauses.
package analyzer

import (
	"regexp"
	"strconv"
	"strings"

	"policyqa/internal/domain"
)

// WaitingPeriod describes a waiting-period clause found in the context.
type WaitingPeriod struct {
	Found          bool
	RequiredMonths int
	Description    string
}

// RiskAssessment is the claim-risk view of a question over its clauses.
type RiskAssessment struct {
	ClaimProbability float64
	EstimatedPayout  string
	WaitingPeriod    WaitingPeriod
	RiskFactors      []string
	Confidence       float64
}

// RiskEngine derives a claim-risk assessment from policy clauses with
// lexical heuristics. It never calls a backend.
type RiskEngine struct {
	sumPatterns     []*regexp.Regexp
	waitingPatterns []*regexp.Regexp
}

// NewRiskEngine creates a risk engine with the standard clause patterns.
func NewRiskEngine() *RiskEngine {
	return &RiskEngine{
		sumPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)sum insured[:\s]+(?:rs\.?\s*|₹\s*)?(\d+(?:,\d+)*(?:\.\d+)?)\s*(?:lakh|crore|thousand)?`),
			regexp.MustCompile(`(?i)coverage[:\s]+(?:rs\.?\s*|₹\s*)?(\d+(?:,\d+)*(?:\.\d+)?)`),
			regexp.MustCompile(`(?i)limit[:\s]+(?:rs\.?\s*|₹\s*)?(\d+(?:,\d+)*(?:\.\d+)?)`),
		},
		waitingPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)waiting period[:\s]+(?:of\s+)?(\d+)\s*(months?|years?)`),
			regexp.MustCompile(`(?i)(\d+)\s*(months?|years?)\s+waiting period`),
			regexp.MustCompile(`(?i)after completion of\s+(\d+)\s*(months?|years?)`),
		},
	}
}

// AssessClaimRisk evaluates the likelihood that a claim matching the
// question would be approved under the given clauses.
func (e *RiskEngine) AssessClaimRisk(clauses []domain.Chunk, question string) RiskAssessment {
	var b strings.Builder
	for _, c := range clauses {
		b.WriteString(c.Text)
		b.WriteString(" ")
	}
	combined := b.String()

	payout := e.extractPayout(combined)
	waiting := e.checkWaitingPeriods(combined)
	factors := e.identifyRiskFactors(combined, question)
	probability := e.probability(waiting, factors, combined)

	confidence := probability + 0.1
	if confidence > 0.95 {
		confidence = 0.95
	}
	return RiskAssessment{
		ClaimProbability: probability,
		EstimatedPayout:  payout,
		WaitingPeriod:    waiting,
		RiskFactors:      factors,
		Confidence:       confidence,
	}
}

func (e *RiskEngine) extractPayout(text string) string {
	for _, p := range e.sumPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			return "₹" + m[1] + " (subject to policy terms)"
		}
	}
	return "Coverage limit dependent"
}

func (e *RiskEngine) checkWaitingPeriods(text string) WaitingPeriod {
	for _, p := range e.waitingPatterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		period, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		months := period
		if strings.HasPrefix(strings.ToLower(m[2]), "year") {
			months = period * 12
		}
		return WaitingPeriod{
			Found:          true,
			RequiredMonths: months,
			Description:    m[1] + " " + m[2] + " waiting period applies",
		}
	}
	return WaitingPeriod{}
}

var riskKeywords = []struct {
	keyword     string
	description string
}{
	{"pre-existing", "Pre-existing condition clause"},
	{"exclusion", "Policy exclusions may apply"},
	{"maternity", "Maternity-specific conditions"},
	{"surgery", "Surgical procedure requirements"},
	{"emergency", "Emergency treatment protocols"},
}

func (e *RiskEngine) identifyRiskFactors(text, question string) []string {
	textLower := strings.ToLower(text)
	questionLower := strings.ToLower(question)
	var factors []string
	for _, rk := range riskKeywords {
		if strings.Contains(textLower, rk.keyword) || strings.Contains(questionLower, rk.keyword) {
			factors = append(factors, rk.description)
		}
		if len(factors) == 3 {
			break
		}
	}
	return factors
}

func (e *RiskEngine) probability(waiting WaitingPeriod, factors []string, text string) float64 {
	p := 0.75
	if waiting.RequiredMonths > 0 {
		p -= 0.15
	}
	p -= float64(len(factors)) * 0.05
	lower := strings.ToLower(text)
	if strings.Contains(lower, "covered") && !strings.Contains(lower, "not covered") {
		p += 0.10
	}
	if p < 0.1 {
		p = 0.1
	}
	if p > 0.95 {
		p = 0.95
	}
	return p
}
