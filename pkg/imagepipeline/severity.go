package imagepipeline

// rank gives severities a total order for folding. Higher wins.
var severityRank = map[Severity]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// categorySeverity maps moderation top-level categories to a severity.
// Categories absent from the table default to medium.
var categorySeverity = map[string]Severity{
	"Explicit Nudity":      SeverityCritical,
	"Violence":             SeverityCritical,
	"Hate Symbols":         SeverityCritical,
	"Drugs":                SeverityCritical,
	"Suggestive":           SeverityHigh,
	"Visually Disturbing":  SeverityHigh,
	"Rude Gestures":        SeverityMedium,
	"Gambling":             SeverityMedium,
	"Tobacco":              SeverityLow,
	"Alcohol":              SeverityLow,
}

var severityAction = map[Severity]Action{
	SeverityNone:     ActionLog,
	SeverityLow:      ActionLog,
	SeverityMedium:   ActionFlag,
	SeverityHigh:     ActionQuarantine,
	SeverityCritical: ActionDelete,
}

// CategorySeverity returns the severity assigned to a moderation
// category, defaulting to medium for categories not in the table.
func CategorySeverity(category string) Severity {
	if s, ok := categorySeverity[category]; ok {
		return s
	}
	return SeverityMedium
}

// MaxSeverity folds two severities, keeping the higher one.
func MaxSeverity(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// ActionFor maps a folded severity to the action the moderator takes.
func ActionFor(s Severity) Action {
	if a, ok := severityAction[s]; ok {
		return a
	}
	return ActionFlag
}

// Verdict is the outcome of evaluating a set of moderation findings.
type Verdict struct {
	Passed      bool
	Issues      []ModerationIssue
	MaxSeverity Severity
	Action      Action
}

// Evaluate folds moderation findings into a verdict. Findings below
// minConfidence are ignored. An empty (or fully filtered) finding set
// passes with severity none and action log.
func Evaluate(findings []ModerationFinding, minConfidence float64) Verdict {
	v := Verdict{Passed: true, MaxSeverity: SeverityNone, Action: ActionLog}
	for _, f := range findings {
		if f.Confidence < minConfidence {
			continue
		}
		sev := CategorySeverity(f.Category)
		v.Issues = append(v.Issues, ModerationIssue{
			Category:   f.Category,
			Label:      f.Label,
			Confidence: f.Confidence,
			Severity:   sev,
		})
		v.MaxSeverity = MaxSeverity(v.MaxSeverity, sev)
	}
	if len(v.Issues) > 0 {
		v.Passed = false
		v.Action = ActionFor(v.MaxSeverity)
	}
	return v
}
