package analyzer

import (
	"context"
	"fmt"
	"time"

	"wisefido-vitals/internal/models"
)

const (
	trendWindow = 5
	trendDelta  = 5
)

// Trend 血压趋势摘要，窗口内没有读数时返回 nil
func (a *Analyzer) Trend(ctx context.Context, patientID string, start, end time.Time) (*models.TrendSummary, error) {
	readings, err := a.store.Query(ctx, patientID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings for %s: %w", patientID, err)
	}
	if len(readings) == 0 {
		return nil, nil
	}
	return BuildTrend(patientID, readings), nil
}

// BuildTrend 由按时间升序的读数计算趋势摘要
func BuildTrend(patientID string, readings []models.VitalsReading) *models.TrendSummary {
	summary := &models.TrendSummary{
		PatientID:     patientID,
		ReadingsCount: len(readings),
		Trend:         trendDirection(readings),
	}
	if len(readings) == 0 {
		return summary
	}

	summary.MaxSystolic, summary.MinSystolic = readings[0].Systolic, readings[0].Systolic
	summary.MaxDiastolic, summary.MinDiastolic = readings[0].Diastolic, readings[0].Diastolic

	var sumSys, sumDia int
	for i := range readings {
		r := &readings[i]
		sumSys += r.Systolic
		sumDia += r.Diastolic
		summary.MaxSystolic = max(summary.MaxSystolic, r.Systolic)
		summary.MinSystolic = min(summary.MinSystolic, r.Systolic)
		summary.MaxDiastolic = max(summary.MaxDiastolic, r.Diastolic)
		summary.MinDiastolic = min(summary.MinDiastolic, r.Diastolic)
		if r.Abnormal() {
			summary.AbnormalReadings++
		}
	}
	summary.AverageSystolic = float64(sumSys) / float64(len(readings))
	summary.AverageDiastolic = float64(sumDia) / float64(len(readings))
	return summary
}

// trendDirection 取最近 5 条读数首尾收缩压比较
func trendDirection(readings []models.VitalsReading) string {
	if len(readings) < 2 {
		return models.TrendInsufficientData
	}
	recent := readings
	if len(recent) > trendWindow {
		recent = recent[len(recent)-trendWindow:]
	}
	first, last := recent[0].Systolic, recent[len(recent)-1].Systolic
	switch {
	case last-first > trendDelta:
		return models.TrendIncreasing
	case first-last > trendDelta:
		return models.TrendDecreasing
	default:
		return models.TrendStable
	}
}
