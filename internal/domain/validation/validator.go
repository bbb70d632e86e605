// Package validation checks the two metric snapshots for mutual
// consistency before scoring: timestamp drift, staleness, and
// cross-source activity/user plausibility.
package validation

import (
	"fmt"
	"time"

	"github.com/okian/merit/internal/domain/model"
)

// Default validation thresholds.
const (
	defaultMaxTimeDrift     = 6 * time.Hour
	defaultMaxDataAge       = 24 * time.Hour
	defaultMinCorrelation   = 0.3
	defaultMaxUserDiffRatio = 0.5
	validationType          = "cross_source"
	validationSource        = "github+chain"
)

// Option applies a configuration option to the CrossValidator.
type Option func(*CrossValidator)

// WithMaxTimeDrift sets the maximum allowed gap between the two
// snapshots' collection timestamps.
func WithMaxTimeDrift(d time.Duration) Option {
	return func(v *CrossValidator) {
		if d > 0 {
			v.maxTimeDrift = d
		}
	}
}

// WithMaxDataAge sets the maximum snapshot age before it counts as stale.
func WithMaxDataAge(d time.Duration) Option {
	return func(v *CrossValidator) {
		if d > 0 {
			v.maxDataAge = d
		}
	}
}

// WithMinActivityCorrelation sets the warning threshold for the
// cross-source activity ratio.
func WithMinActivityCorrelation(r float64) Option {
	return func(v *CrossValidator) {
		if r > 0 && r <= 1 {
			v.minCorrelation = r
		}
	}
}

// WithMaxUserDiffRatio sets the warning threshold for the participant
// count discrepancy between sources.
func WithMaxUserDiffRatio(r float64) Option {
	return func(v *CrossValidator) {
		if r > 0 {
			v.maxUserDiffRatio = r
		}
	}
}

// CrossValidator validates a GitHub snapshot against a chain snapshot.
// It is a pure function over the two snapshots, the thresholds, and the
// caller-supplied "now"; it keeps no state and is safe for concurrent use.
type CrossValidator struct {
	maxTimeDrift     time.Duration
	maxDataAge       time.Duration
	minCorrelation   float64
	maxUserDiffRatio float64
}

// New creates a CrossValidator with default thresholds.
func New(opts ...Option) *CrossValidator {
	v := &CrossValidator{
		maxTimeDrift:     defaultMaxTimeDrift,
		maxDataAge:       defaultMaxDataAge,
		minCorrelation:   defaultMinCorrelation,
		maxUserDiffRatio: defaultMaxUserDiffRatio,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks both snapshots and aggregates findings. Errors block
// scoring for the cycle; warnings only annotate it. The caller passes
// now explicitly so repeated calls with identical inputs produce
// identical results.
func (v *CrossValidator) Validate(github *model.GitHubMetrics, chain *model.ChainMetrics, now time.Time) model.ValidationResult {
	res := model.ValidationResult{
		EvaluatedAt: now,
		Metadata: model.ValidationMetadata{
			Source: validationSource,
			Type:   validationType,
		},
	}

	if github == nil || chain == nil {
		res.Errors = append(res.Errors, model.ValidationError{
			Code:    model.CodeMalformedSnapshot,
			Message: "both snapshots are required for cross-source validation",
		})
		res.IsValid = false
		return res
	}

	if github.Project != chain.Project {
		res.Errors = append(res.Errors, model.ValidationError{
			Code:    model.CodeProjectMismatch,
			Message: fmt.Sprintf("snapshots belong to different projects: %q vs %q", github.Project, chain.Project),
			Context: map[string]any{"github_project": github.Project, "chain_project": chain.Project},
		})
	}

	v.checkDrift(&res, github, chain)
	v.checkStaleness(&res, "github", github.CollectedAt, now)
	v.checkStaleness(&res, "chain", chain.CollectedAt, now)
	v.checkActivityCorrelation(&res, github, chain)
	v.checkUserOverlap(&res, github, chain)

	res.IsValid = len(res.Errors) == 0
	return res
}

func (v *CrossValidator) checkDrift(res *model.ValidationResult, github *model.GitHubMetrics, chain *model.ChainMetrics) {
	drift := github.CollectedAt.Sub(chain.CollectedAt)
	if drift < 0 {
		drift = -drift
	}
	if drift > v.maxTimeDrift {
		res.Errors = append(res.Errors, model.ValidationError{
			Code:    model.CodeTimestampDrift,
			Message: fmt.Sprintf("snapshot timestamps drift by %s, max allowed %s", drift, v.maxTimeDrift),
			Context: map[string]any{
				"github_collected_at": github.CollectedAt,
				"chain_collected_at":  chain.CollectedAt,
				"drift":               drift.String(),
				"max_time_drift":      v.maxTimeDrift.String(),
			},
		})
	}
}

func (v *CrossValidator) checkStaleness(res *model.ValidationResult, source string, collectedAt, now time.Time) {
	age := now.Sub(collectedAt)
	if age > v.maxDataAge {
		res.Errors = append(res.Errors, model.ValidationError{
			Code:    model.CodeStaleData,
			Message: fmt.Sprintf("%s snapshot is %s old, max allowed %s", source, age.Round(time.Minute), v.maxDataAge),
			Context: map[string]any{
				"source":       source,
				"collected_at": collectedAt,
				"age":          age.String(),
				"max_data_age": v.maxDataAge.String(),
			},
		})
	}
}

// checkActivityCorrelation compares the mean activity levels of the two
// sources. The metric is a min/max ratio in [0,1], NOT a statistical
// correlation coefficient: it only says whether the two sides are in the
// same order of magnitude.
func (v *CrossValidator) checkActivityCorrelation(res *model.ValidationResult, github *model.GitHubMetrics, chain *model.ChainMetrics) {
	githubActivity := mean(
		float64(github.Commits.Count),
		float64(github.PullRequests.Merged),
		float64(github.Issues.Closed),
	)
	chainActivity := mean(
		float64(chain.TxCount),
		float64(chain.ContractCalls),
	)

	correlation := activityRatio(githubActivity, chainActivity)
	if correlation < v.minCorrelation {
		res.Warnings = append(res.Warnings, model.ValidationWarning{
			Code:    model.CodeLowCorrelation,
			Message: fmt.Sprintf("activity ratio %.3f below threshold %.3f", correlation, v.minCorrelation),
			Context: map[string]any{
				"github_activity": githubActivity,
				"chain_activity":  chainActivity,
				"correlation":     correlation,
				"min_correlation": v.minCorrelation,
			},
		})
	}
}

func (v *CrossValidator) checkUserOverlap(res *model.ValidationResult, github *model.GitHubMetrics, chain *model.ChainMetrics) {
	ghUsers := len(github.Participants())
	chainUsers := len(chain.Wallets())

	larger := ghUsers
	if chainUsers > larger {
		larger = chainUsers
	}
	if larger == 0 {
		return
	}

	diff := ghUsers - chainUsers
	if diff < 0 {
		diff = -diff
	}
	if float64(diff) > float64(larger)*v.maxUserDiffRatio {
		res.Warnings = append(res.Warnings, model.ValidationWarning{
			Code:    model.CodeUserDiscrepancy,
			Message: fmt.Sprintf("participant counts diverge: %d github vs %d chain", ghUsers, chainUsers),
			Context: map[string]any{
				"github_users":        ghUsers,
				"chain_users":         chainUsers,
				"diff":                diff,
				"max_user_diff_ratio": v.maxUserDiffRatio,
			},
		})
	}
}

// activityRatio returns min/max of the two activity levels, 1 when both
// are zero and 0 when exactly one is zero.
func activityRatio(a, b float64) float64 {
	if a == 0 && b == 0 {
		return 1
	}
	if a == 0 || b == 0 {
		return 0
	}
	if a < b {
		return a / b
	}
	return b / a
}

func mean(vals ...float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
