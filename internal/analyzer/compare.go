package analyzer

import (
	"context"
	"errors"
	"fmt"

	"policyqa/internal/domain"
)

// ClauseRetriever is the slice of the retriever the analyzer needs.
type ClauseRetriever interface {
	Retrieve(ctx context.Context, documentID, question string, k int) ([]domain.SearchResult, error)
}

// ErrTooFewPolicies is returned when a comparison is requested over fewer
// than two documents.
var ErrTooFewPolicies = errors.New("need at least 2 policies")

// PolicyReport is one policy's standing on a compared question.
type PolicyReport struct {
	DocumentID       string
	ClaimProbability float64
	EstimatedPayout  string
	WaitingPeriod    WaitingPeriod
	RiskFactors      []string
	RelevantClauses  int
	TopClause        string
}

// Comparison is the result of comparing several policies on one question.
type Comparison struct {
	Question       string
	Reports        []PolicyReport
	BestDocumentID string
	Reason         string
}

// AreaCoverage is one policy's coverage of one area.
type AreaCoverage struct {
	DocumentID string
	Covered    bool
	Details    string
	Confidence float64
}

// Gap is a coverage area some policies cover and others miss.
type Gap struct {
	Area      string
	CoveredBy []string
	MissingIn []string
	Impact    string
}

// GapAnalysis summarizes coverage gaps across policies.
type GapAnalysis struct {
	Policies     int
	AreasChecked int
	Coverage     map[string][]AreaCoverage
	Gaps         []Gap
}

// coverageAreas are the standard areas probed during gap analysis.
var coverageAreas = []string{
	"maternity", "dental", "eye care", "mental health",
	"pre-existing", "surgery", "emergency", "ambulance",
	"room rent", "ICU", "daycare", "AYUSH",
}

// highImpactAreas mark gaps that matter most for claims.
var highImpactAreas = map[string]bool{"surgery": true, "emergency": true, "ICU": true}

// coverageThreshold is the minimum similarity for an area to count as
// covered by a policy.
const coverageThreshold = 0.3

// Analyzer runs risk assessment and cross-policy analysis, reusing the
// retriever for per-document clause lookup.
type Analyzer struct {
	retriever ClauseRetriever
	risk      *RiskEngine
}

// New creates an analyzer.
func New(retriever ClauseRetriever, risk *RiskEngine) *Analyzer {
	return &Analyzer{retriever: retriever, risk: risk}
}

// ComparePolicies reports how each indexed policy handles the question and
// recommends the one with the highest claim probability.
func (a *Analyzer) ComparePolicies(ctx context.Context, documentIDs []string, question string) (Comparison, error) {
	if len(documentIDs) < 2 {
		return Comparison{}, fmt.Errorf("%w, got %d", ErrTooFewPolicies, len(documentIDs))
	}
	cmp := Comparison{Question: question}
	for _, id := range documentIDs {
		results, err := a.retriever.Retrieve(ctx, id, question, 3)
		if err != nil {
			return Comparison{}, fmt.Errorf("retrieve for policy %s: %w", id, err)
		}
		clauses := make([]domain.Chunk, len(results))
		for i, r := range results {
			clauses[i] = r.Chunk
		}
		assessment := a.risk.AssessClaimRisk(clauses, question)
		report := PolicyReport{
			DocumentID:       id,
			ClaimProbability: assessment.ClaimProbability,
			EstimatedPayout:  assessment.EstimatedPayout,
			WaitingPeriod:    assessment.WaitingPeriod,
			RiskFactors:      assessment.RiskFactors,
			RelevantClauses:  len(clauses),
		}
		if len(clauses) > 0 {
			report.TopClause = truncate(clauses[0].Text, 200)
		} else {
			report.TopClause = "No relevant clauses found"
		}
		cmp.Reports = append(cmp.Reports, report)
	}

	best := cmp.Reports[0]
	for _, r := range cmp.Reports[1:] {
		if r.ClaimProbability > best.ClaimProbability {
			best = r
		}
	}
	cmp.BestDocumentID = best.DocumentID
	cmp.Reason = fmt.Sprintf("Highest claim probability (%.0f%%)", best.ClaimProbability*100)
	return cmp, nil
}

// FindCoverageGaps probes the standard coverage areas in each policy and
// reports areas that some policies cover and others do not.
func (a *Analyzer) FindCoverageGaps(ctx context.Context, documentIDs []string) (GapAnalysis, error) {
	if len(documentIDs) < 2 {
		return GapAnalysis{}, fmt.Errorf("%w, got %d", ErrTooFewPolicies, len(documentIDs))
	}
	analysis := GapAnalysis{
		Policies:     len(documentIDs),
		AreasChecked: len(coverageAreas),
		Coverage:     make(map[string][]AreaCoverage, len(coverageAreas)),
	}
	for _, area := range coverageAreas {
		for _, id := range documentIDs {
			results, err := a.retriever.Retrieve(ctx, id, area, 2)
			if err != nil {
				return GapAnalysis{}, fmt.Errorf("probe %q in policy %s: %w", area, id, err)
			}
			cov := AreaCoverage{DocumentID: id, Details: "No specific coverage found"}
			if len(results) > 0 && results[0].Score > coverageThreshold {
				cov.Covered = true
				cov.Details = truncate(results[0].Chunk.Text, 150)
				cov.Confidence = results[0].Score
			}
			analysis.Coverage[area] = append(analysis.Coverage[area], cov)
		}
	}

	for _, area := range coverageAreas {
		var coveredBy, missingIn []string
		for _, cov := range analysis.Coverage[area] {
			if cov.Covered {
				coveredBy = append(coveredBy, cov.DocumentID)
			} else {
				missingIn = append(missingIn, cov.DocumentID)
			}
		}
		if len(coveredBy) == 0 || len(missingIn) == 0 {
			continue
		}
		impact := "medium"
		if highImpactAreas[area] {
			impact = "high"
		}
		analysis.Gaps = append(analysis.Gaps, Gap{
			Area:      area,
			CoveredBy: coveredBy,
			MissingIn: missingIn,
			Impact:    impact,
		})
	}
	return analysis, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
