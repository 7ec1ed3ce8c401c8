package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/contexta-ai/contexta-engine/pkg/config"
	"github.com/contexta-ai/contexta-engine/pkg/models"
	"github.com/contexta-ai/contexta-engine/pkg/repositories"
)

// Evaluation is the outcome of scoring one source: the new relevance, the
// status it should hold and the cadence derived from the relevance tier.
type Evaluation struct {
	Relevance      float64
	Status         models.SourceStatus
	Cadence        models.ScrapeCadence
	ArchivedReason *string
	Changed        bool
}

// LifecycleService recomputes relevance and transitions source status on a
// schedule. Every evaluation is a pure function of stored metrics, so
// re-running a pass with unchanged metrics is a no-op.
type LifecycleService interface {
	// EvaluateSource scores one source without persisting anything.
	EvaluateSource(source *models.Source, now time.Time) Evaluation

	// RunPass evaluates and persists all non-archived sources.
	RunPass(ctx context.Context) (*models.BatchReport, error)
}

type lifecycleService struct {
	sources repositories.SourceRepository
	config  *config.LifecycleConfig
	logger  *zap.Logger
}

var _ LifecycleService = (*lifecycleService)(nil)

// NewLifecycleService creates a new LifecycleService.
func NewLifecycleService(sources repositories.SourceRepository, cfg *config.LifecycleConfig, logger *zap.Logger) LifecycleService {
	return &lifecycleService{
		sources: sources,
		config:  cfg,
		logger:  logger.Named("lifecycle"),
	}
}

// ScoreSource computes the relevance score from accumulated metrics.
// The result is always in [0,1].
func ScoreSource(source *models.Source, now time.Time, usageSaturation int) float64 {
	usageScore := float64(source.UsageCount) / float64(usageSaturation)
	if usageScore > 1 {
		usageScore = 1
	}

	// A source that has never produced content has no frequency signal;
	// scoring it zero keeps dead trial sources from drifting toward active.
	var frequencyScore float64
	if source.ContentCount > 0 {
		switch {
		case source.AvgContentIntervalDays <= 7:
			frequencyScore = 1.0
		case source.AvgContentIntervalDays <= 30:
			frequencyScore = 0.6
		default:
			frequencyScore = 0.3
		}
	}

	recencyPenalty := 1.0
	switch days := source.DaysSinceLastContent(now); {
	case days > 60:
		recencyPenalty = 0.3
	case days > 30:
		recencyPenalty = 0.7
	}

	qualityScore := 0.0
	if source.QualitySampleCount > 0 {
		qualityScore = source.AvgQualityScore
	}

	return 0.4*usageScore + 0.3*frequencyScore*recencyPenalty + 0.3*qualityScore
}

// CadenceFor maps a relevance tier to a scrape cadence.
func CadenceFor(relevance float64) models.ScrapeCadence {
	switch {
	case relevance >= 0.7:
		return models.CadenceDaily
	case relevance >= 0.4:
		return models.CadenceWeekly
	default:
		return models.CadenceMonthly
	}
}

func (s *lifecycleService) EvaluateSource(source *models.Source, now time.Time) Evaluation {
	relevance := ScoreSource(source, now, s.config.UsageSaturation)

	eval := Evaluation{
		Relevance: relevance,
		Status:    source.Status,
		Cadence:   CadenceFor(relevance),
	}

	switch source.Status {
	case models.SourceStatusTrial:
		if relevance >= s.config.PromotionThreshold {
			eval.Status = models.SourceStatusActive
		} else if source.TrialEndsAt != nil && now.After(*source.TrialEndsAt) {
			eval.Status = models.SourceStatusArchived
			reason := "trial ended below promotion threshold"
			eval.ArchivedReason = &reason
		}

	case models.SourceStatusActive:
		if source.DaysSinceLastContent(now) > float64(s.config.InactiveCooldownDays) {
			eval.Status = models.SourceStatusInactive
		}

	case models.SourceStatusInactive:
		if relevance >= s.config.PromotionThreshold {
			eval.Status = models.SourceStatusActive
		} else if relevance < s.config.ArchiveFloor &&
			source.DaysSinceLastContent(now) > float64(s.config.ArchiveWindowDays) {
			eval.Status = models.SourceStatusArchived
			reason := "relevance below archive floor with no recovery"
			eval.ArchivedReason = &reason
		}
	}

	eval.Changed = eval.Status != source.Status ||
		eval.Cadence != source.ScrapeCadence ||
		eval.Relevance != source.RelevanceScore

	return eval
}

func (s *lifecycleService) RunPass(ctx context.Context) (*models.BatchReport, error) {
	sources, err := s.sources.ListNonArchived(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources for lifecycle pass: %w", err)
	}

	now := time.Now()
	report := &models.BatchReport{}

	for _, source := range sources {
		report.Processed++

		eval := s.EvaluateSource(source, now)
		if !eval.Changed {
			report.Skipped++
			continue
		}

		err := s.sources.UpdateLifecycle(ctx, source.ID, eval.Status, eval.Relevance, eval.Cadence, eval.ArchivedReason)
		if err != nil {
			// One bad row must not abort the pass; the next cycle retries.
			s.logger.Warn("failed to update source lifecycle",
				zap.String("source_id", source.ID.String()),
				zap.Error(err))
			report.Failed++
			continue
		}

		report.Admitted++
		if eval.Status != source.Status {
			s.logger.Info("source transitioned",
				zap.String("source_id", source.ID.String()),
				zap.String("from", string(source.Status)),
				zap.String("to", string(eval.Status)),
				zap.Float64("relevance", eval.Relevance))
		}
	}

	s.logger.Info("lifecycle pass complete",
		zap.Int("processed", report.Processed),
		zap.Int("updated", report.Admitted),
		zap.Int("unchanged", report.Skipped),
		zap.Int("failed", report.Failed))

	return report, nil
}
