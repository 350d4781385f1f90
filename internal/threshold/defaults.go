package threshold

import "wisefido-vitals/internal/models"

// ConditionNormal 全局默认病症
const ConditionNormal = "normal"

// conditionDefaults 按病症的默认阈值表
var conditionDefaults = map[string]models.ThresholdSet{
	ConditionNormal: {
		Condition: ConditionNormal,
		Systolic:  models.Range{Min: 90, Max: 130},
		Diastolic: models.Range{Min: 60, Max: 85},
		HeartRate: models.Range{Min: 60, Max: 100},
	},
	"hypertension": {
		Condition: "hypertension",
		Systolic:  models.Range{Min: 90, Max: 140},
		Diastolic: models.Range{Min: 60, Max: 90},
		HeartRate: models.Range{Min: 60, Max: 100},
	},
	"pregnancy": {
		Condition: "pregnancy",
		Systolic:  models.Range{Min: 90, Max: 135},
		Diastolic: models.Range{Min: 60, Max: 85},
		HeartRate: models.Range{Min: 60, Max: 110},
	},
	"elderly": {
		Condition: "elderly",
		Systolic:  models.Range{Min: 95, Max: 135},
		Diastolic: models.Range{Min: 65, Max: 85},
		HeartRate: models.Range{Min: 55, Max: 90},
	},
	"diabetes": {
		Condition: "diabetes",
		Systolic:  models.Range{Min: 90, Max: 130},
		Diastolic: models.Range{Min: 60, Max: 80},
		HeartRate: models.Range{Min: 60, Max: 100},
	},
	"athlete": {
		Condition: "athlete",
		Systolic:  models.Range{Min: 85, Max: 140},
		Diastolic: models.Range{Min: 55, Max: 90},
		HeartRate: models.Range{Min: 40, Max: 120},
	},
}

// DefaultTable 返回内置病症阈值表的副本
func DefaultTable() map[string]models.ThresholdSet {
	table := make(map[string]models.ThresholdSet, len(conditionDefaults))
	for k, v := range conditionDefaults {
		table[k] = v
	}
	return table
}

// KnownConditions 内置表支持的病症
func KnownConditions() []string {
	return []string{ConditionNormal, "hypertension", "pregnancy", "elderly", "diabetes", "athlete"}
}
