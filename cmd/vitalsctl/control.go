package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	rediscommon "wisefido-vitals/common/redis"
	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/service"
	"wisefido-vitals/internal/threshold"

	"github.com/spf13/cobra"
)

var thresholdsFile string

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Start or stop monitoring sessions",
}

var sessionStartCmd = &cobra.Command{
	Use:   "start <patient_id> <device_id>",
	Short: "Ask the service to start monitoring a patient",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(map[string]interface{}{
			"action":     service.ActionStart,
			"patient_id": args[0],
			"device_id":  args[1],
		})
	},
}

var sessionStopCmd = &cobra.Command{
	Use:   "stop <patient_id>",
	Short: "Ask the service to stop monitoring a patient",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(map[string]interface{}{
			"action":     service.ActionStop,
			"patient_id": args[0],
		})
	},
}

var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Manage per-patient threshold overrides",
}

var thresholdsSetCmd = &cobra.Command{
	Use:   "set <patient_id> --file thresholds.json",
	Short: "Store a threshold override for a patient",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(thresholdsFile)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", thresholdsFile, err)
		}
		var set models.ThresholdSet
		if err := json.Unmarshal(raw, &set); err != nil {
			return fmt.Errorf("failed to parse %s: %w", thresholdsFile, err)
		}
		if err := set.Validate(); err != nil {
			return err
		}
		return sendCommand(map[string]interface{}{
			"action":     service.ActionSetThresholds,
			"patient_id": args[0],
			"thresholds": string(raw),
		})
	},
}

var thresholdsClearCmd = &cobra.Command{
	Use:   "clear <patient_id>",
	Short: "Remove a patient's threshold override",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(map[string]interface{}{
			"action":     service.ActionClearThresholds,
			"patient_id": args[0],
		})
	},
}

var thresholdsDefaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "List the built-in condition defaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		printDefaults()
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionStopCmd)

	thresholdsSetCmd.Flags().StringVar(&thresholdsFile, "file", "", "ThresholdSet JSON file")
	_ = thresholdsSetCmd.MarkFlagRequired("file")
	thresholdsCmd.AddCommand(thresholdsSetCmd)
	thresholdsCmd.AddCommand(thresholdsClearCmd)
	thresholdsCmd.AddCommand(thresholdsDefaultsCmd)
}

// sendCommand 写入会话控制流，由服务异步执行
func sendCommand(values map[string]interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := rediscommon.NewRedisClient(&cfg.Redis)
	defer client.Close()

	id, err := rediscommon.PublishToStream(ctx, client, cfg.Vitals.Sessions.Stream, values)
	if err != nil {
		return fmt.Errorf("failed to publish command: %w", err)
	}
	fmt.Printf("queued %s for %s (%s)\n", values["action"], values["patient_id"], id)
	return nil
}

func printDefaults() {
	table := threshold.DefaultTable()
	for _, name := range threshold.KnownConditions() {
		set := table[name]
		fmt.Printf("%-14s systolic %3d-%-3d diastolic %3d-%-3d heart_rate %3d-%-3d\n",
			name,
			set.Systolic.Min, set.Systolic.Max,
			set.Diastolic.Min, set.Diastolic.Max,
			set.HeartRate.Min, set.HeartRate.Max,
		)
	}
}
