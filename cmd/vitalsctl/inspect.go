package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"wisefido-vitals/common/database"
	"wisefido-vitals/common/logger"
	"wisefido-vitals/internal/analyzer"
	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/repository"
	"wisefido-vitals/internal/threshold"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var inspectDays int

var inspectCmd = &cobra.Command{
	Use:   "inspect <patient_id>",
	Short: "Show resolved thresholds, recent readings and trend for a patient",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if inspectDays <= 0 {
			return fmt.Errorf("--days must be positive")
		}
		return inspect(args[0], inspectDays)
	},
}

func init() {
	inspectCmd.Flags().IntVar(&inspectDays, "days", 7, "Window of readings to show")
}

func inspect(patientID string, days int) error {
	log, err := logger.NewLogger("warn", "console", "vitalsctl")
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	thresholdsRepo := repository.NewThresholdsRepository(db, log)
	readingsRepo := repository.NewReadingsRepository(db, log)
	resolver := threshold.NewResolver(thresholdsRepo, repository.NewPatientsRepository(db, log), threshold.AlertPolicy{
		Frequency: cfg.Vitals.Thresholds.DefaultAlertFrequency,
		Methods:   cfg.Vitals.Thresholds.DefaultAlertMethods,
	}, log)

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	// 1. 阈值
	override, err := thresholdsRepo.GetOverride(ctx, patientID)
	if err != nil {
		return err
	}
	set, err := resolver.Resolve(ctx, patientID)
	if err != nil {
		return err
	}
	source := "condition default"
	if override != nil {
		source = "patient override"
	}

	fmt.Printf("\n%s\n", cyan("=== Thresholds ==="))
	fmt.Printf("  %-18s %s\n", "source", source)
	fmt.Printf("  %-18s %s\n", "condition", set.Condition)
	fmt.Printf("  %-18s %d-%d\n", "systolic", set.Systolic.Min, set.Systolic.Max)
	fmt.Printf("  %-18s %d-%d\n", "diastolic", set.Diastolic.Min, set.Diastolic.Max)
	fmt.Printf("  %-18s %d-%d\n", "heart_rate", set.HeartRate.Min, set.HeartRate.Max)
	fmt.Printf("  %-18s %d min\n", "alert_frequency", set.AlertFrequency)
	fmt.Printf("  %-18s %s\n", "alert_methods", strings.Join(set.AlertMethods, ","))

	// 2. 最近读数
	end := time.Now()
	readings, err := readingsRepo.Query(ctx, patientID, end.AddDate(0, 0, -days), end)
	if err != nil {
		return err
	}

	fmt.Printf("\n%s\n", cyan(fmt.Sprintf("=== Readings (last %d days) ===", days)))
	if len(readings) == 0 {
		fmt.Printf("  %s\n", gray("No readings in window"))
		return nil
	}
	fmt.Printf("  %-25s %-9s %-9s %-6s %-10s %s\n", "timestamp", "systolic", "diastolic", "hr", "severity", "exceeded")
	for _, r := range readings {
		fmt.Printf("  %-25s %-9d %-9d %-6s %s %s\n",
			r.Timestamp.Format(time.RFC3339), r.Systolic, r.Diastolic, formatInt(r.HeartRate),
			severityColor(r.Alert.Severity)(fmt.Sprintf("%-10s", r.Alert.Severity)), joinKinds(r.Alert.Exceeded))
	}

	// 3. 趋势
	summary := analyzer.BuildTrend(patientID, readings)
	fmt.Printf("\n%s\n", cyan("=== Trend ==="))
	fmt.Printf("  %-18s %d (abnormal %d)\n", "readings", summary.ReadingsCount, summary.AbnormalReadings)
	fmt.Printf("  %-18s %.1f/%.1f\n", "average", summary.AverageSystolic, summary.AverageDiastolic)
	fmt.Printf("  %-18s %d/%d\n", "max", summary.MaxSystolic, summary.MaxDiastolic)
	fmt.Printf("  %-18s %d/%d\n", "min", summary.MinSystolic, summary.MinDiastolic)
	fmt.Printf("  %-18s %s\n", "trend", summary.Trend)
	fmt.Println()
	return nil
}

func severityColor(s models.Severity) func(a ...interface{}) string {
	switch s {
	case models.SeverityCritical:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	case models.SeverityHigh:
		return color.New(color.FgRed).SprintFunc()
	case models.SeverityModerate:
		return color.New(color.FgYellow).SprintFunc()
	default:
		return color.New(color.FgGreen).SprintFunc()
	}
}

func formatInt(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func joinKinds(kinds []models.ThresholdKind) string {
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, string(k))
	}
	return strings.Join(parts, ",")
}
