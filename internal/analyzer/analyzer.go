package analyzer

import (
	"context"
	"fmt"
	"time"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/repository"

	"go.uber.org/zap"
)

// 时段划分（小时，左闭右开）
const (
	morningStart = 6
	morningEnd   = 12
	eveningStart = 17
	eveningEnd   = 23
	nightStart   = 0
	nightEnd     = 6
)

// 风险判定常量
const (
	highVariabilityCV      = 0.15
	morningSurgeThreshold  = 20.0
	elevatedSystolic       = 140
	sustainedElevationRate = 0.30
)

const unknownActivity = "unknown"

// Analyzer 历史读数模式分析
type Analyzer struct {
	store  repository.ReadingStore
	loc    *time.Location
	now    func() time.Time
	logger *zap.Logger
}

// NewAnalyzer 创建模式分析器
// loc 决定时段划分所用的时区，为空时使用 UTC
func NewAnalyzer(store repository.ReadingStore, loc *time.Location, logger *zap.Logger) *Analyzer {
	if loc == nil {
		loc = time.UTC
	}
	return &Analyzer{
		store:  store,
		loc:    loc,
		now:    time.Now,
		logger: logger,
	}
}

// Analyze 分析 [start, end] 内的读数，窗口内没有读数时返回 nil
func (a *Analyzer) Analyze(ctx context.Context, patientID string, start, end time.Time) (*models.PatternReport, error) {
	readings, err := a.store.Query(ctx, patientID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings for %s: %w", patientID, err)
	}
	if len(readings) == 0 {
		a.logger.Debug("No readings in analysis window",
			zap.String("patient_id", patientID),
			zap.Time("start", start),
			zap.Time("end", end),
		)
		return nil, nil
	}

	report := BuildReport(patientID, start, end, readings, a.loc, a.now())
	a.logger.Debug("Pattern report built",
		zap.String("patient_id", patientID),
		zap.Int("readings", report.ReadingCount),
		zap.Int("risk_factors", len(report.RiskFactors)),
	)
	return report, nil
}

// BuildReport 由读数生成模式报告（readings 不能为空）
func BuildReport(patientID string, start, end time.Time, readings []models.VitalsReading, loc *time.Location, now time.Time) *models.PatternReport {
	if loc == nil {
		loc = time.UTC
	}

	var (
		systolic, diastolic    []float64
		morningSys, morningDia []float64
		eveningSys, eveningDia []float64
		nightSys               []float64
		hrPairs, sysPairs      []float64
		elevated               int
	)
	byActivity := make(map[string][]models.VitalsReading)

	for _, r := range readings {
		sys, dia := float64(r.Systolic), float64(r.Diastolic)
		systolic = append(systolic, sys)
		diastolic = append(diastolic, dia)

		switch h := r.Timestamp.In(loc).Hour(); {
		case h >= nightStart && h < nightEnd:
			nightSys = append(nightSys, sys)
		case h >= morningStart && h < morningEnd:
			morningSys = append(morningSys, sys)
			morningDia = append(morningDia, dia)
		case h >= eveningStart && h < eveningEnd:
			eveningSys = append(eveningSys, sys)
			eveningDia = append(eveningDia, dia)
		}

		if r.HeartRate != nil {
			hrPairs = append(hrPairs, float64(*r.HeartRate))
			sysPairs = append(sysPairs, sys)
		}
		if r.Systolic >= elevatedSystolic {
			elevated++
		}

		activity := unknownActivity
		if r.ActivityType != nil && *r.ActivityType != "" {
			activity = *r.ActivityType
		}
		byActivity[activity] = append(byActivity[activity], r)
	}

	report := &models.PatternReport{
		PatientID:        patientID,
		WindowStart:      start,
		WindowEnd:        end,
		ReadingCount:     len(readings),
		ActivityPatterns: make(map[string]models.ActivityStats, len(byActivity)),
		Variability: models.Variability{
			Systolic:  sampleStd(systolic),
			Diastolic: sampleStd(diastolic),
		},
		RiskFactors: []models.RiskFactor{},
		GeneratedAt: now,
	}

	if len(morningSys) > 0 {
		report.TimePatterns.MorningAverage = &models.BPAverage{Systolic: mean(morningSys), Diastolic: mean(morningDia)}
	}
	if len(eveningSys) > 0 {
		report.TimePatterns.EveningAverage = &models.BPAverage{Systolic: mean(eveningSys), Diastolic: mean(eveningDia)}
	}
	if len(morningSys) > 0 && len(eveningSys) > 0 {
		surge := mean(morningSys) - mean(eveningSys)
		report.TimePatterns.MorningSurge = &surge
	}

	for activity, group := range byActivity {
		report.ActivityPatterns[activity] = activityStats(group)
	}

	if r, ok := pearson(hrPairs, sysPairs); ok {
		report.HeartRateSystolicCorrelation = &r
	}

	// 风险因素
	if m := mean(systolic); m > 0 && report.Variability.Systolic/m > highVariabilityCV {
		report.RiskFactors = append(report.RiskFactors, models.RiskFactor{
			Type:           models.RiskHighVariability,
			Description:    "High blood pressure variability detected",
			Severity:       models.SeverityModerate,
			Recommendation: "Consider more frequent monitoring and lifestyle modifications",
		})
	}
	if len(morningSys) > 0 && len(nightSys) > 0 && mean(morningSys)-mean(nightSys) > morningSurgeThreshold {
		report.RiskFactors = append(report.RiskFactors, models.RiskFactor{
			Type:           models.RiskMorningSurge,
			Description:    "Significant morning blood pressure surge detected",
			Severity:       models.SeverityHigh,
			Recommendation: "Consider adjusting medication timing and evening routine",
		})
	}
	if float64(elevated)/float64(len(readings)) > sustainedElevationRate {
		report.RiskFactors = append(report.RiskFactors, models.RiskFactor{
			Type:           models.RiskSustainedElevation,
			Description:    "Sustained blood pressure elevation detected",
			Severity:       models.SeverityHigh,
			Recommendation: "Urgent medical review recommended",
		})
	}

	return report
}

func activityStats(group []models.VitalsReading) models.ActivityStats {
	sys := make([]float64, 0, len(group))
	dia := make([]float64, 0, len(group))
	for _, r := range group {
		sys = append(sys, float64(r.Systolic))
		dia = append(dia, float64(r.Diastolic))
	}
	return models.ActivityStats{
		Count:         len(group),
		SystolicMean:  mean(sys),
		SystolicStd:   sampleStd(sys),
		DiastolicMean: mean(dia),
		DiastolicStd:  sampleStd(dia),
	}
}
