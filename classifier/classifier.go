// Package classifier turns message bodies into Spam / Not Spam labels.
//
// The default backend replays a pre-fitted bag-of-words pipeline exported
// from scikit-learn: a CountVectorizer vocabulary plus a MultinomialNB or
// linear model. Artifacts are loaded once; a loaded Oracle is immutable and
// safe for concurrent use.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dhcgn/spam-report/model"
)

var ErrModelLoad = errors.New("classifier model could not be loaded")

const (
	BackendArtifact = "artifact"
	BackendRules    = "rules"
)

// Oracle labels a message body. Implementations are pure: the same body
// always yields the same label.
type Oracle interface {
	Classify(body string) model.Label
}

type Options struct {
	Backend       string
	VectorizerURI string
	ModelURI      string
	// AWSRegion is used for s3:// artifact URIs.
	AWSRegion string
}

// Load builds the Oracle selected by opts.Backend. Every failure wraps
// ErrModelLoad.
func Load(ctx context.Context, opts Options, logger *slog.Logger) (Oracle, error) {
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	if backend == "" {
		backend = BackendArtifact
	}

	switch backend {
	case BackendRules:
		if logger != nil {
			logger.Info("classifier loaded", "backend", backend)
		}
		return NewRules(), nil
	case BackendArtifact:
		fetcher := newFetcher(opts.AWSRegion)
		pipeline, err := loadPipeline(ctx, fetcher, opts.VectorizerURI, opts.ModelURI)
		if err != nil {
			return nil, err
		}
		if logger != nil {
			logger.Info("classifier loaded",
				"backend", backend,
				"kind", pipeline.model.Kind,
				"features", len(pipeline.vectorizer.Vocabulary),
				"vectorizer", opts.VectorizerURI,
				"model", opts.ModelURI,
			)
		}
		return pipeline, nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrModelLoad, opts.Backend)
	}
}

// Pipeline is a vectorizer followed by a fitted binary model.
type Pipeline struct {
	vectorizer *CountVectorizer
	model      *Model
}

// NewPipeline validates that v and m fit together.
func NewPipeline(v *CountVectorizer, m *Model) (*Pipeline, error) {
	if err := v.prepare(); err != nil {
		return nil, fmt.Errorf("%w: vectorizer: %w", ErrModelLoad, err)
	}
	if err := m.prepare(v.NumFeatures()); err != nil {
		return nil, fmt.Errorf("%w: model: %w", ErrModelLoad, err)
	}
	return &Pipeline{vectorizer: v, model: m}, nil
}

func (p *Pipeline) Classify(body string) model.Label {
	return model.LabelFor(p.model.IsSpam(p.vectorizer.Transform(body)))
}

func loadPipeline(ctx context.Context, f *fetcher, vectorizerURI, modelURI string) (*Pipeline, error) {
	if strings.TrimSpace(vectorizerURI) == "" || strings.TrimSpace(modelURI) == "" {
		return nil, fmt.Errorf("%w: vectorizer and model artifacts are required", ErrModelLoad)
	}

	var v CountVectorizer
	if err := f.decode(ctx, vectorizerURI, &v); err != nil {
		return nil, fmt.Errorf("%w: vectorizer %s: %w", ErrModelLoad, vectorizerURI, err)
	}
	var m Model
	if err := f.decode(ctx, modelURI, &m); err != nil {
		return nil, fmt.Errorf("%w: model %s: %w", ErrModelLoad, modelURI, err)
	}
	return NewPipeline(&v, &m)
}
