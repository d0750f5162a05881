package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"skipper-live-service/internal/domain"
)

// TemplateLoader loads quiz template JSONB from Postgres.
type TemplateLoader struct {
	pool *pgxpool.Pool
}

func NewTemplateLoader(pool *pgxpool.Pool) *TemplateLoader {
	return &TemplateLoader{pool: pool}
}

func (l *TemplateLoader) LoadTemplate(ctx context.Context, quizID string) (domain.QuizTemplate, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM quiz_templates WHERE id=$1`, quizID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuizTemplate{}, domain.ErrTemplateNotFound
	}
	if err != nil {
		return domain.QuizTemplate{}, fmt.Errorf("load template: %w", err)
	}
	var template domain.QuizTemplate
	if err := json.Unmarshal(raw, &template); err != nil {
		return domain.QuizTemplate{}, fmt.Errorf("unmarshal template: %w", err)
	}
	return template, nil
}
