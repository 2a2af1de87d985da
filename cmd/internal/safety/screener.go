// Package safety screens user input with two independent classifiers before it reaches the model.
package safety

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// AttackTypeAPIError labels a verdict produced because a classifier call failed.
const AttackTypeAPIError = "API Error"

// DefaultSeverityThreshold flags a category at medium severity or above.
const DefaultSeverityThreshold = 4

// InjectionResult is the output of a prompt-injection classifier.
type InjectionResult struct {
	Detected   bool
	AttackType string
}

// CategoryScore is one content-policy category with its severity.
type CategoryScore struct {
	Category string
	Severity int
}

// InjectionClassifier detects prompt-injection attacks.
type InjectionClassifier interface {
	DetectInjection(ctx context.Context, text string) (InjectionResult, error)
}

// ContentClassifier scores text against content-policy categories.
type ContentClassifier interface {
	AnalyzeContent(ctx context.Context, text string) ([]CategoryScore, error)
}

// Verdict is the transient outcome of screening one input. It is never persisted.
type Verdict struct {
	Safe              bool
	InjectionDetected bool
	AttackType        string
	ContentUnsafe     bool
	Violations        []string
	Severities        map[string]int
}

// Label is a low-cardinality description for metrics and logs.
func (v Verdict) Label() string {
	switch {
	case v.Safe:
		return "safe"
	case v.AttackType == AttackTypeAPIError || (len(v.Violations) == 1 && v.Violations[0] == AttackTypeAPIError):
		return "error"
	case v.InjectionDetected:
		return "injection"
	default:
		return "content"
	}
}

// Screener runs both classifiers concurrently and combines their results.
//
// Failure policy: fail closed. A failed or timed-out classifier call makes the
// verdict unsafe with the "API Error" label. Injection always takes priority
// over content findings.
type Screener struct {
	injection InjectionClassifier
	content   ContentClassifier
	threshold int
	timeout   time.Duration
	log       *slog.Logger
}

// Option configures a Screener.
type Option func(*Screener)

// WithSeverityThreshold sets the minimum severity that makes a category a violation.
func WithSeverityThreshold(n int) Option {
	return func(s *Screener) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// WithTimeout bounds each classifier call.
func WithTimeout(d time.Duration) Option {
	return func(s *Screener) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Screener) {
		if l != nil {
			s.log = l
		}
	}
}

// NewScreener returns a Screener over the two classifiers.
func NewScreener(injection InjectionClassifier, content ContentClassifier, opts ...Option) (*Screener, error) {
	if injection == nil || content == nil {
		return nil, errors.New("safety: both classifiers are required")
	}
	s := &Screener{
		injection: injection,
		content:   content,
		threshold: DefaultSeverityThreshold,
		timeout:   10 * time.Second,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Screen classifies text. Blank input is trivially safe and makes no remote calls.
func (s *Screener) Screen(ctx context.Context, text string) Verdict {
	if strings.TrimSpace(text) == "" {
		return Verdict{Safe: true}
	}

	var (
		inj            InjectionResult
		scores         []CategoryScore
		injErr, conErr error
		g              errgroup.Group
	)
	// Both calls always run to completion; neither failure cancels the other.
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		inj, injErr = s.injection.DetectInjection(cctx, text)
		return nil
	})
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		scores, conErr = s.content.AnalyzeContent(cctx, text)
		return nil
	})
	_ = g.Wait()

	if injErr != nil {
		s.log.Warn("safety.injection_failed", "err", injErr)
		inj = InjectionResult{Detected: true, AttackType: AttackTypeAPIError}
	}
	if inj.Detected {
		attack := inj.AttackType
		if attack == "" {
			attack = "Prompt Injection"
		}
		return Verdict{InjectionDetected: true, AttackType: attack}
	}

	if conErr != nil {
		s.log.Warn("safety.content_failed", "err", conErr)
		return Verdict{ContentUnsafe: true, Violations: []string{AttackTypeAPIError}}
	}

	v := Verdict{Safe: true}
	for _, sc := range scores {
		if sc.Severity < s.threshold {
			continue
		}
		if v.Severities == nil {
			v.Severities = make(map[string]int)
		}
		v.Safe = false
		v.ContentUnsafe = true
		v.Violations = append(v.Violations, sc.Category)
		v.Severities[sc.Category] = sc.Severity
	}
	sort.Strings(v.Violations)
	return v
}

// AllowAll is a classifier that never flags anything. Local development only.
type AllowAll struct{}

func (AllowAll) DetectInjection(context.Context, string) (InjectionResult, error) {
	return InjectionResult{}, nil
}

func (AllowAll) AnalyzeContent(context.Context, string) ([]CategoryScore, error) {
	return nil, nil
}
