package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yoockh/intervue/internal/models"
	"github.com/yoockh/intervue/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type SessionRepository interface {
	Create(ctx context.Context, s *models.InterviewSession) error
	FindByID(ctx context.Context, id string) (*models.InterviewSession, error)
	UpdateByID(ctx context.Context, id string, upd models.SessionUpdate) (*models.InterviewSession, error)
	SetQuestionCode(ctx context.Context, id string, questionIndex int, code, language string) error
}

type sessionRepo struct {
	col *mongo.Collection
}

func NewSessionRepo(db *mongo.Database) SessionRepository {
	return &sessionRepo{col: db.Collection("interview_sessions")}
}

func (r *sessionRepo) Create(ctx context.Context, s *models.InterviewSession) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.Status == "" {
		s.Status = models.SessionStatusSetup
	}
	_, err := r.col.InsertOne(ctx, s)
	if mongo.IsDuplicateKeyError(err) {
		return utils.E(utils.CodeConflict, "SessionRepo.Create", "session already exists", err)
	}
	return err
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*models.InterviewSession, error) {
	var s models.InterviewSession
	err := r.col.FindOne(ctx, bson.M{"id": id}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateByID applies the non-nil fields of upd atomically and returns the
// updated record.
func (r *sessionRepo) UpdateByID(ctx context.Context, id string, upd models.SessionUpdate) (*models.InterviewSession, error) {
	set := bson.M{}
	if upd.Status != nil {
		set["status"] = *upd.Status
	}
	if upd.Phase != nil {
		set["phase"] = *upd.Phase
	}
	if upd.CurrentQuestionIndex != nil {
		set["current_question_index"] = *upd.CurrentQuestionIndex
	}
	if upd.StartTime != nil {
		set["start_time"] = upd.StartTime.UTC()
	}
	if upd.EndTime != nil {
		set["end_time"] = upd.EndTime.UTC()
	}
	if len(set) == 0 {
		return r.FindByID(ctx, id)
	}

	var s models.InterviewSession
	err := r.col.FindOneAndUpdate(ctx,
		bson.M{"id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepo) SetQuestionCode(ctx context.Context, id string, questionIndex int, code, language string) error {
	prefix := fmt.Sprintf("questions.%d.", questionIndex)
	res, err := r.col.UpdateOne(ctx,
		bson.M{"id": id},
		bson.M{"$set": bson.M{
			prefix + "submitted_code": code,
			prefix + "code_language":  language,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return utils.ErrNotFound
	}
	return nil
}
