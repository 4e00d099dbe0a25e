package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/yoockh/intervue/internal/models"
	"github.com/yoockh/intervue/internal/utils"
	"gorm.io/gorm"
)

type EvaluationRepo interface {
	Insert(ctx context.Context, ev *models.Evaluation) error
	ListBySession(ctx context.Context, sessionID string) ([]models.Evaluation, error)
	GetByQuestion(ctx context.Context, sessionID, questionID string) (*models.Evaluation, error)
}

type evaluationRepo struct {
	db *gorm.DB
}

func NewEvaluationRepo(db *gorm.DB) EvaluationRepo {
	return &evaluationRepo{db: db}
}

// AutoMigrate creates or updates the evaluations table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.Evaluation{})
}

func (r *evaluationRepo) Insert(ctx context.Context, ev *models.Evaluation) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(ev).Error
}

func (r *evaluationRepo) ListBySession(ctx context.Context, sessionID string) ([]models.Evaluation, error) {
	var rows []models.Evaluation
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// GetByQuestion returns the latest evaluation of a question.
func (r *evaluationRepo) GetByQuestion(ctx context.Context, sessionID, questionID string) (*models.Evaluation, error) {
	var row models.Evaluation
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND question_id = ?", sessionID, questionID).
		Order("created_at DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
