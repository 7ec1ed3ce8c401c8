package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contexta-ai/contexta-engine/pkg/config"
	"github.com/contexta-ai/contexta-engine/pkg/models"
)

func defaultLifecycleConfig() *config.LifecycleConfig {
	return &config.LifecycleConfig{
		UsageSaturation:      10,
		PromotionThreshold:   0.5,
		InactiveCooldownDays: 60,
		ArchiveFloor:         0.3,
		ArchiveWindowDays:    90,
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestScoreSource_WeightedFormula(t *testing.T) {
	now := time.Now()
	source := &models.Source{
		UsageCount:             8,
		ContentCount:           20,
		LastContentAt:          timePtr(now.AddDate(0, 0, -10)),
		AvgContentIntervalDays: 5,
		AvgQualityScore:        0.8,
		QualitySampleCount:     5,
	}

	// 0.4*0.8 + 0.3*1.0*1.0 + 0.3*0.8
	assert.InDelta(t, 0.86, ScoreSource(source, now, 10), 1e-9)
}

func TestScoreSource_Bounded(t *testing.T) {
	now := time.Now()

	best := &models.Source{
		UsageCount:             1000,
		ContentCount:           100,
		LastContentAt:          timePtr(now),
		AvgContentIntervalDays: 1,
		AvgQualityScore:        1.0,
		QualitySampleCount:     100,
	}
	assert.InDelta(t, 1.0, ScoreSource(best, now, 10), 1e-9)

	worst := &models.Source{CreatedAt: now.AddDate(-1, 0, 0)}
	assert.Equal(t, 0.0, ScoreSource(worst, now, 10))
}

func TestScoreSource_NoContentScoresZeroFrequency(t *testing.T) {
	now := time.Now()
	source := &models.Source{
		UsageCount:         0,
		ContentCount:       0,
		AvgQualityScore:    0.9,
		QualitySampleCount: 0,
		CreatedAt:          now.AddDate(0, 0, -5),
	}
	// No usage, no content, no quality samples.
	assert.Equal(t, 0.0, ScoreSource(source, now, 10))
}

func TestCadenceFor_Tiers(t *testing.T) {
	assert.Equal(t, models.CadenceDaily, CadenceFor(0.85))
	assert.Equal(t, models.CadenceDaily, CadenceFor(0.7))
	assert.Equal(t, models.CadenceWeekly, CadenceFor(0.5))
	assert.Equal(t, models.CadenceWeekly, CadenceFor(0.4))
	assert.Equal(t, models.CadenceMonthly, CadenceFor(0.2))
}

func TestEvaluateSource_TrialPromotion(t *testing.T) {
	svc := NewLifecycleService(newMockSourceRepo(), defaultLifecycleConfig(), zap.NewNop())
	now := time.Now()

	source := &models.Source{
		Status:                 models.SourceStatusTrial,
		TrialEndsAt:            timePtr(now.AddDate(0, 0, 10)),
		UsageCount:             8,
		ContentCount:           20,
		LastContentAt:          timePtr(now.AddDate(0, 0, -10)),
		AvgContentIntervalDays: 5,
		AvgQualityScore:        0.8,
		QualitySampleCount:     5,
		ScrapeCadence:          models.CadenceWeekly,
	}

	eval := svc.EvaluateSource(source, now)
	assert.Equal(t, models.SourceStatusActive, eval.Status)
	assert.Equal(t, models.CadenceDaily, eval.Cadence)
	assert.True(t, eval.Changed)
}

func TestEvaluateSource_TrialFloorArchivesNeverActive(t *testing.T) {
	svc := NewLifecycleService(newMockSourceRepo(), defaultLifecycleConfig(), zap.NewNop())
	now := time.Now()

	source := &models.Source{
		Status:      models.SourceStatusTrial,
		TrialEndsAt: timePtr(now.AddDate(0, 0, -1)),
		CreatedAt:   now.AddDate(0, 0, -31),
	}

	eval := svc.EvaluateSource(source, now)
	assert.Equal(t, models.SourceStatusArchived, eval.Status)
	require.NotNil(t, eval.ArchivedReason)
}

func TestEvaluateSource_ActiveGoesInactiveAfterCooldown(t *testing.T) {
	svc := NewLifecycleService(newMockSourceRepo(), defaultLifecycleConfig(), zap.NewNop())
	now := time.Now()

	source := &models.Source{
		Status:                 models.SourceStatusActive,
		ContentCount:           10,
		LastContentAt:          timePtr(now.AddDate(0, 0, -70)),
		AvgContentIntervalDays: 40,
		AvgQualityScore:        0.5,
		QualitySampleCount:     10,
		ScrapeCadence:          models.CadenceDaily,
	}

	eval := svc.EvaluateSource(source, now)
	assert.Equal(t, models.SourceStatusInactive, eval.Status)
	assert.Equal(t, models.CadenceMonthly, eval.Cadence)
}

func TestEvaluateSource_InactiveArchivesBelowFloor(t *testing.T) {
	svc := NewLifecycleService(newMockSourceRepo(), defaultLifecycleConfig(), zap.NewNop())
	now := time.Now()

	source := &models.Source{
		Status:             models.SourceStatusInactive,
		ContentCount:       2,
		LastContentAt:      timePtr(now.AddDate(0, 0, -120)),
		AvgQualityScore:    0.2,
		QualitySampleCount: 2,
	}

	eval := svc.EvaluateSource(source, now)
	assert.Equal(t, models.SourceStatusArchived, eval.Status)
	require.NotNil(t, eval.ArchivedReason)
}

func TestEvaluateSource_InactiveRecovers(t *testing.T) {
	svc := NewLifecycleService(newMockSourceRepo(), defaultLifecycleConfig(), zap.NewNop())
	now := time.Now()

	source := &models.Source{
		Status:                 models.SourceStatusInactive,
		UsageCount:             10,
		ContentCount:           30,
		LastContentAt:          timePtr(now.AddDate(0, 0, -2)),
		AvgContentIntervalDays: 3,
		AvgQualityScore:        0.9,
		QualitySampleCount:     30,
	}

	eval := svc.EvaluateSource(source, now)
	assert.Equal(t, models.SourceStatusActive, eval.Status)
}

func TestRunPass_Idempotent(t *testing.T) {
	repo := newMockSourceRepo()
	now := time.Now()
	repo.add(&models.Source{
		TenantID:               uuid.New(),
		URL:                    "https://example.org/news",
		Status:                 models.SourceStatusTrial,
		TrialEndsAt:            timePtr(now.AddDate(0, 0, 10)),
		UsageCount:             8,
		ContentCount:           20,
		LastContentAt:          timePtr(now.AddDate(0, 0, -10)),
		AvgContentIntervalDays: 5,
		AvgQualityScore:        0.8,
		QualitySampleCount:     5,
		ScrapeCadence:          models.CadenceWeekly,
	})

	svc := NewLifecycleService(repo, defaultLifecycleConfig(), zap.NewNop())

	first, err := svc.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Processed)
	assert.Equal(t, 1, first.Admitted)

	// Metrics unchanged: the second pass must not write anything.
	second, err := svc.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Processed)
	assert.Equal(t, 0, second.Admitted)
	assert.Equal(t, 1, second.Skipped)
}
