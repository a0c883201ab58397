package classifier

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/fentz26/taskrelay/internal/models"
)

// KeywordClassifier implements keyword-based classification.
type KeywordClassifier struct {
	config   *Config
	registry *Registry
	patterns map[int]*regexp.Regexp
}

// NewKeywordClassifier creates a classifier. Nil arguments use the defaults.
func NewKeywordClassifier(cfg *Config, reg *Registry) *KeywordClassifier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if reg == nil {
		reg, _ = cfg.Registry()
	}

	patterns := make(map[int]*regexp.Regexp)
	for i, rule := range cfg.Rules {
		if rule.Pattern == "" {
			continue
		}
		if re, err := regexp.Compile(rule.Pattern); err == nil {
			patterns[i] = re
		}
	}

	return &KeywordClassifier{
		config:   cfg,
		registry: reg,
		patterns: patterns,
	}
}

type candidate struct {
	project  string
	priority int
	matched  []string
}

// Classify picks the project whose rules match the description best.
func (k *KeywordClassifier) Classify(ctx context.Context, req models.ClassificationRequest) (*models.ClassificationResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := strings.ToLower(strings.TrimSpace(req.Description))
	if text == "" {
		return nil, ErrEmptyDescription
	}

	scores := make(map[string]*candidate)
	vote := func(project, why string) {
		c, ok := scores[project]
		if !ok {
			p, _ := k.registry.Get(project)
			c = &candidate{project: project, priority: p.Priority}
			scores[project] = c
		}
		c.matched = append(c.matched, why)
	}

	for i, rule := range k.config.Rules {
		if !k.registry.IsValid(rule.Project) {
			continue
		}
		if re, ok := k.patterns[i]; ok && re.MatchString(text) {
			vote(rule.Project, "/"+rule.Pattern+"/")
		}
		for _, keyword := range rule.Keywords {
			if containsWord(text, strings.ToLower(keyword)) {
				vote(rule.Project, keyword)
			}
		}
	}

	if len(scores) == 0 {
		return k.fallback(req, "No keyword matched; using default project"), nil
	}

	ranked := make([]*candidate, 0, len(scores))
	for _, c := range scores {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if len(ranked[i].matched) != len(ranked[j].matched) {
			return len(ranked[i].matched) > len(ranked[j].matched)
		}
		if ranked[i].priority != ranked[j].priority {
			return ranked[i].priority > ranked[j].priority
		}
		return ranked[i].project < ranked[j].project
	})

	best := ranked[0]
	confidence := confidenceFor(len(best.matched))
	if confidence < k.config.MinConfidence {
		return k.fallback(req, fmt.Sprintf("Best match %s below minimum confidence", best.project)), nil
	}

	return &models.ClassificationResponse{
		ProjectName: best.project,
		Confidence:  confidence,
		RequestID:   req.RequestID,
		Reasoning:   "Matched keywords: " + strings.Join(best.matched, ", "),
	}, nil
}

func (k *KeywordClassifier) fallback(req models.ClassificationRequest, reason string) *models.ClassificationResponse {
	return &models.ClassificationResponse{
		ProjectName: k.config.DefaultProject,
		Confidence:  0.3,
		RequestID:   req.RequestID,
		Reasoning:   reason,
	}
}

// confidenceFor grows with the number of matches and caps at 0.95.
func confidenceFor(matches int) float64 {
	c := 0.5 + 0.15*float64(matches)
	if c > 0.95 {
		c = 0.95
	}
	return c
}

// containsWord checks if text contains keyword as a whole word.
func containsWord(text, keyword string) bool {
	// For multi-word keywords like "mcp server", use simple contains
	if strings.Contains(keyword, " ") {
		return strings.Contains(text, keyword)
	}

	words := strings.Fields(text)
	for _, word := range words {
		cleaned := strings.Trim(word, ".,;:!?\"'()[]{}")
		if cleaned == keyword {
			return true
		}
	}
	return false
}
