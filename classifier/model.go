package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

const (
	KindMultinomialNB = "multinomial_nb"
	KindLinear        = "linear"
)

// Model is the fitted state of a binary text classifier.
//
// multinomial_nb uses Classes, ClassLogPrior and FeatureLogProb
// (sklearn's class_log_prior_ and feature_log_prob_). linear uses Classes,
// Coef and Intercept and predicts Classes[1] for a positive decision value.
type Model struct {
	Kind           string      `json:"kind" yaml:"kind"`
	Classes        []any       `json:"classes" yaml:"classes"`
	ClassLogPrior  []float64   `json:"class_log_prior,omitempty" yaml:"class_log_prior,omitempty"`
	FeatureLogProb [][]float64 `json:"feature_log_prob,omitempty" yaml:"feature_log_prob,omitempty"`
	Coef           []float64   `json:"coef,omitempty" yaml:"coef,omitempty"`
	Intercept      float64     `json:"intercept,omitempty" yaml:"intercept,omitempty"`
	// PositiveClass names the class that means spam; "1" when empty.
	PositiveClass string `json:"positive_class,omitempty" yaml:"positive_class,omitempty"`

	classes  []string
	positive int
}

func (m *Model) prepare(numFeatures int) error {
	m.Kind = strings.ToLower(strings.TrimSpace(m.Kind))
	if m.Kind == "" {
		m.Kind = KindMultinomialNB
	}

	m.classes = make([]string, len(m.Classes))
	for i, c := range m.Classes {
		m.classes[i] = classString(c)
	}
	if len(m.classes) != 2 {
		return fmt.Errorf("binary model needs exactly 2 classes, got %d", len(m.classes))
	}

	positive := m.PositiveClass
	if positive == "" {
		positive = "1"
	}
	m.positive = -1
	for i, c := range m.classes {
		if strings.EqualFold(c, positive) {
			m.positive = i
		}
	}
	if m.positive < 0 {
		return fmt.Errorf("positive class %q not in classes %v", positive, m.classes)
	}

	switch m.Kind {
	case KindMultinomialNB:
		if len(m.ClassLogPrior) != len(m.classes) {
			return fmt.Errorf("class_log_prior has %d entries for %d classes", len(m.ClassLogPrior), len(m.classes))
		}
		if len(m.FeatureLogProb) != len(m.classes) {
			return fmt.Errorf("feature_log_prob has %d rows for %d classes", len(m.FeatureLogProb), len(m.classes))
		}
		for i, row := range m.FeatureLogProb {
			if len(row) != numFeatures {
				return fmt.Errorf("feature_log_prob row %d has %d columns, vocabulary has %d", i, len(row), numFeatures)
			}
			if err := finite(row); err != nil {
				return fmt.Errorf("feature_log_prob row %d: %w", i, err)
			}
		}
		if err := finite(m.ClassLogPrior); err != nil {
			return fmt.Errorf("class_log_prior: %w", err)
		}
	case KindLinear:
		if len(m.Coef) != numFeatures {
			return fmt.Errorf("coef has %d entries, vocabulary has %d", len(m.Coef), numFeatures)
		}
		if err := finite(append(m.Coef[:len(m.Coef):len(m.Coef)], m.Intercept)); err != nil {
			return fmt.Errorf("coef: %w", err)
		}
	default:
		return fmt.Errorf("unknown model kind %q", m.Kind)
	}
	return nil
}

// Predict returns the index into Classes of the predicted class. Ties go to
// the lower index.
func (m *Model) Predict(x []Feature) int {
	switch m.Kind {
	case KindLinear:
		score := m.Intercept
		for _, f := range x {
			score += m.Coef[f.Index] * f.Value
		}
		if score > 0 {
			return 1
		}
		return 0
	default:
		best, bestScore := 0, math.Inf(-1)
		for c := range m.FeatureLogProb {
			score := m.ClassLogPrior[c]
			for _, f := range x {
				score += m.FeatureLogProb[c][f.Index] * f.Value
			}
			if score > bestScore {
				best, bestScore = c, score
			}
		}
		return best
	}
}

func (m *Model) IsSpam(x []Feature) bool {
	return m.Predict(x) == m.positive
}

// classString renders a class label the way it would print in Python, so
// 1, 1.0 and "1" all compare equal.
func classString(c any) string {
	switch v := c.(type) {
	case string:
		return v
	case bool:
		if v {
			return "1"
		}
		return "0"
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return fmt.Sprint(i)
		}
		if f, err := v.Float64(); err == nil {
			return classString(f)
		}
		return v.String()
	case float64:
		if v == math.Trunc(v) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprint(v)
	default:
		return fmt.Sprint(v)
	}
}

func finite(values []float64) error {
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 1) {
			return fmt.Errorf("value %d is %v", i, v)
		}
	}
	return nil
}
