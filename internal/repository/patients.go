package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// PatientsRepository 患者信息（只读：病症）
type PatientsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPatientsRepository 创建患者仓库
func NewPatientsRepository(db *sql.DB, logger *zap.Logger) *PatientsRepository {
	return &PatientsRepository{
		db:     db,
		logger: logger,
	}
}

// GetCondition 获取患者记录的病症，患者不存在或未记录时返回空字符串
func (r *PatientsRepository) GetCondition(ctx context.Context, patientID string) (string, error) {
	query := `
		SELECT medical_condition
		FROM patients
		WHERE patient_id = $1
	`

	var condition sql.NullString
	err := r.db.QueryRowContext(ctx, query, patientID).Scan(&condition)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug("Patient not found, using default condition", zap.String("patient_id", patientID))
			return "", nil
		}
		return "", fmt.Errorf("failed to get patient condition: %w", err)
	}
	return condition.String, nil
}
