package repository

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"wisefido-vitals/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func intPtr(i int) *int { return &i }
func stringPtr(s string) *string { return &s }

func setupMockReadingsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *ReadingsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	return db, mock, NewReadingsRepository(db, zap.NewNop())
}

func setupMockThresholdsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *ThresholdsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	return db, mock, NewThresholdsRepository(db, zap.NewNop())
}

var readingColumns = []string{
	"reading_id", "patient_id", "device_id", "timestamp", "systolic", "diastolic",
	"heart_rate", "oxygen_saturation", "temperature", "activity_type", "steps_count",
	"location", "ambient_temperature", "alert_generated", "alert_details", "created_at",
}

// ============================================
// ReadingsRepository
// ============================================

func TestAppend_Success(t *testing.T) {
	db, mock, repo := setupMockReadingsDB(t)
	defer db.Close()

	now := time.Now()
	reading := &models.VitalsReading{
		ID:        uuid.New().String(),
		PatientID: "p1",
		DeviceID:  "dev-1",
		Timestamp: now,
		Measurement: models.Measurement{
			Systolic:     170,
			Diastolic:    85,
			HeartRate:    intPtr(80),
			ActivityType: stringPtr("resting"),
		},
		Alert: models.AlertAnnotation{
			Generated: true,
			Severity:  models.SeverityCritical,
			Exceeded:  []models.ThresholdKind{models.HighSystolic},
		},
		CreatedAt: now,
	}

	mock.ExpectExec(`INSERT INTO vitals_readings`).
		WithArgs(
			reading.ID, "p1", "dev-1", now, 170, 85,
			80, nil, nil, "resting", nil,
			nil, nil, true, sqlmock.AnyArg(), now,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Append(context.Background(), reading))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_DBErrorWrapsStoreError(t *testing.T) {
	db, mock, repo := setupMockReadingsDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO vitals_readings`).
		WillReturnError(errors.New("connection reset"))

	err := repo.Append(context.Background(), &models.VitalsReading{ID: "r1", PatientID: "p1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrStore))
	assert.Contains(t, err.Error(), "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_RequiresPatient(t *testing.T) {
	db, mock, repo := setupMockReadingsDB(t)
	defer db.Close()

	err := repo.Append(context.Background(), &models.VitalsReading{ID: "r1"})
	assert.True(t, errors.Is(err, models.ErrStore))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_Success(t *testing.T) {
	db, mock, repo := setupMockReadingsDB(t)
	defer db.Close()

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	t1 := start.Add(7 * time.Hour)
	t2 := start.Add(20 * time.Hour)

	rows := sqlmock.NewRows(readingColumns).
		AddRow("r1", "p1", "dev-1", t1, 150, 95, 88, nil, nil, "walking", 1200, nil, 21.5, true,
			`{"severity":"high","threshold_exceeded":["high_systolic","high_diastolic"],"context":{"time_of_day":"07:00","activity":"walking","location":"unknown"}}`, t1).
		AddRow("r2", "p1", "dev-1", t2, 120, 80, nil, 97, 36.6, nil, nil, "home", nil, false,
			`{"severity":"none","threshold_exceeded":[],"context":{"time_of_day":"20:00","activity":"unknown","location":"home"}}`, t2)

	mock.ExpectQuery(`SELECT`).
		WithArgs("p1", start, end).
		WillReturnRows(rows)

	readings, err := repo.Query(context.Background(), "p1", start, end)
	require.NoError(t, err)
	require.Len(t, readings, 2)

	assert.Equal(t, "r1", readings[0].ID)
	assert.Equal(t, 150, readings[0].Systolic)
	require.NotNil(t, readings[0].HeartRate)
	assert.Equal(t, 88, *readings[0].HeartRate)
	assert.Nil(t, readings[0].OxygenSaturation)
	assert.Equal(t, "walking", *readings[0].ActivityType)
	assert.Equal(t, 1200, *readings[0].StepsCount)
	assert.Equal(t, 21.5, *readings[0].AmbientTemperature)
	assert.Equal(t, models.SeverityHigh, readings[0].Alert.Severity)
	assert.Equal(t, []models.ThresholdKind{models.HighSystolic, models.HighDiastolic}, readings[0].Alert.Exceeded)
	assert.Equal(t, "07:00", readings[0].Alert.Context.TimeOfDay)

	assert.Nil(t, readings[1].HeartRate)
	assert.Equal(t, 97, *readings[1].OxygenSaturation)
	assert.Equal(t, 36.6, *readings[1].Temperature)
	assert.Equal(t, "home", *readings[1].Location)
	assert.False(t, readings[1].Alert.Generated)
	assert.Equal(t, models.SeverityNone, readings[1].Alert.Severity)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_Empty(t *testing.T) {
	db, mock, repo := setupMockReadingsDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).WillReturnRows(sqlmock.NewRows(readingColumns))

	readings, err := repo.Query(context.Background(), "p1", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Empty(t, readings)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// ThresholdsRepository
// ============================================

var thresholdColumns = []string{
	"patient_id", "condition", "systolic_min", "systolic_max", "diastolic_min", "diastolic_max",
	"heart_rate_min", "heart_rate_max", "oxygen_saturation_min", "temperature_max",
	"alert_frequency", "alert_methods", "alert_recipients",
}

func TestGetOverride_Success(t *testing.T) {
	db, mock, repo := setupMockThresholdsDB(t)
	defer db.Close()

	rows := sqlmock.NewRows(thresholdColumns).
		AddRow("p1", "hypertension", 95, 145, 60, 92, 55, 105, 93, 37.8, 30, `["webhook","stream"]`, `["nurse-1"]`)
	mock.ExpectQuery(`SELECT`).WithArgs("p1").WillReturnRows(rows)

	set, err := repo.GetOverride(context.Background(), "p1")
	require.NoError(t, err)
	require.NotNil(t, set)
	assert.Equal(t, "hypertension", set.Condition)
	assert.Equal(t, models.Range{Min: 95, Max: 145}, set.Systolic)
	assert.Equal(t, models.Range{Min: 60, Max: 92}, set.Diastolic)
	assert.Equal(t, models.Range{Min: 55, Max: 105}, set.HeartRate)
	assert.Equal(t, 93, *set.OxygenSaturationMin)
	assert.Equal(t, 37.8, *set.TemperatureMax)
	assert.Equal(t, 30, set.AlertFrequency)
	assert.Equal(t, []string{"webhook", "stream"}, set.AlertMethods)
	assert.Equal(t, []string{"nurse-1"}, set.AlertRecipients)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOverride_NotFound(t *testing.T) {
	db, mock, repo := setupMockThresholdsDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).WithArgs("p1").WillReturnError(sql.ErrNoRows)

	set, err := repo.GetOverride(context.Background(), "p1")
	require.NoError(t, err)
	assert.Nil(t, set)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOverride_InvalidStoredRange(t *testing.T) {
	db, mock, repo := setupMockThresholdsDB(t)
	defer db.Close()

	rows := sqlmock.NewRows(thresholdColumns).
		AddRow("p1", nil, 150, 100, 60, 90, 60, 100, nil, nil, 15, nil, nil)
	mock.ExpectQuery(`SELECT`).WithArgs("p1").WillReturnRows(rows)

	_, err := repo.GetOverride(context.Background(), "p1")
	assert.True(t, errors.Is(err, models.ErrInvalidThreshold))
}

func TestSaveOverride_Upsert(t *testing.T) {
	db, mock, repo := setupMockThresholdsDB(t)
	defer db.Close()

	set := &models.ThresholdSet{
		PatientID:      "p1",
		Condition:      "elderly",
		Systolic:       models.Range{Min: 95, Max: 135},
		Diastolic:      models.Range{Min: 65, Max: 85},
		HeartRate:      models.Range{Min: 55, Max: 90},
		AlertFrequency: 10,
	}

	mock.ExpectExec(`INSERT INTO patient_vitals_thresholds .* ON CONFLICT \(patient_id\) DO UPDATE`).
		WithArgs("p1", "elderly", 95, 135, 65, 85, 55, 90, nil, nil, 10, `[]`, `[]`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.SaveOverride(context.Background(), set))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveOverride_RejectsInvalid(t *testing.T) {
	db, mock, repo := setupMockThresholdsDB(t)
	defer db.Close()

	err := repo.SaveOverride(context.Background(), &models.ThresholdSet{
		PatientID: "p1",
		HeartRate: models.Range{Min: 120, Max: 60},
	})
	assert.True(t, errors.Is(err, models.ErrInvalidThreshold))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteOverride(t *testing.T) {
	db, mock, repo := setupMockThresholdsDB(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM patient_vitals_thresholds`).
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.DeleteOverride(context.Background(), "p1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// PatientsRepository
// ============================================

func TestGetCondition(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPatientsRepository(db, zap.NewNop())

	mock.ExpectQuery(`SELECT medical_condition`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"medical_condition"}).AddRow("pregnancy"))
	mock.ExpectQuery(`SELECT medical_condition`).
		WithArgs("p2").
		WillReturnRows(sqlmock.NewRows([]string{"medical_condition"}).AddRow(nil))
	mock.ExpectQuery(`SELECT medical_condition`).
		WithArgs("p3").
		WillReturnError(sql.ErrNoRows)

	c, err := repo.GetCondition(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "pregnancy", c)

	c, err = repo.GetCondition(context.Background(), "p2")
	require.NoError(t, err)
	assert.Empty(t, c)

	c, err = repo.GetCondition(context.Background(), "p3")
	require.NoError(t, err)
	assert.Empty(t, c)

	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// MemoryReadingStore
// ============================================

func TestMemoryReadingStore_OrderAndWindow(t *testing.T) {
	store := NewMemoryReadingStore()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, h := range []int{5, 1, 3, 8} {
		require.NoError(t, store.Append(ctx, &models.VitalsReading{
			ID:          "r" + string(rune('0'+h)),
			PatientID:   "p1",
			Timestamp:   base.Add(time.Duration(h) * time.Hour),
			Measurement: models.Measurement{Systolic: 100 + h},
		}))
	}

	all, err := store.Query(ctx, "p1", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Timestamp.Before(all[i].Timestamp))
	}

	// 闭区间
	window, err := store.Query(ctx, "p1", base.Add(3*time.Hour), base.Add(5*time.Hour))
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, 103, window[0].Systolic)
	assert.Equal(t, 105, window[1].Systolic)

	none, err := store.Query(ctx, "p2", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryReadingStore_ConcurrentAppend(t *testing.T) {
	store := NewMemoryReadingStore()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for _, p := range []string{"p1", "p2", "p3"} {
		wg.Add(1)
		go func(patientID string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = store.Append(ctx, &models.VitalsReading{
					PatientID: patientID,
					Timestamp: base.Add(time.Duration(i) * time.Minute),
				})
			}
		}(p)
	}
	wg.Wait()

	for _, p := range []string{"p1", "p2", "p3"} {
		assert.Equal(t, 50, store.Count(p))
		readings, err := store.Query(ctx, p, base, base.Add(time.Hour))
		require.NoError(t, err)
		for i := 1; i < len(readings); i++ {
			assert.False(t, readings[i].Timestamp.Before(readings[i-1].Timestamp))
		}
	}
}
