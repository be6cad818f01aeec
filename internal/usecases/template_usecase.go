package usecases

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/your-org/consolegrid/internal/domain"
)

// TemplatesGrid is the grid listing email templates
const TemplatesGrid = "email-templates"

// GridInvalidator forgets the cached total of a grid
type GridInvalidator interface {
	Invalidate(name string) error
}

// TemplateUsecase creates email templates from the template index
type TemplateUsecase struct {
	repo     domain.TemplateRepository
	grids    GridInvalidator
	notifier domain.Notifier
	validate *validator.Validate
	logger   *zap.Logger
}

// NewTemplateUsecase creates the usecase
func NewTemplateUsecase(repo domain.TemplateRepository, grids GridInvalidator, notifier domain.Notifier, logger *zap.Logger) *TemplateUsecase {
	return &TemplateUsecase{
		repo:     repo,
		grids:    grids,
		notifier: notifier,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Create stores a template with an empty body and makes the template grid
// recount its rows on the next draw
func (u *TemplateUsecase) Create(ctx context.Context, subject string, active bool) (*domain.EmailTemplate, error) {
	tpl := &domain.EmailTemplate{Subject: subject, Active: active}
	if err := u.validate.Struct(tpl); err != nil {
		return nil, fmt.Errorf("%w: subject is required", domain.ErrInvalidInput)
	}

	created, err := u.repo.Create(ctx, tpl)
	if err != nil {
		u.logger.Error("ошибка создания шаблона",
			zap.String("subject", subject),
			zap.Error(err),
		)
		if u.notifier != nil {
			u.notifier.Notify(ctx, domain.Notification{
				Severity: domain.SeverityError,
				Title:    "Create Template Error",
				Message:  err.Error(),
				Source:   TemplatesGrid,
			})
		}
		return nil, err
	}

	if u.grids != nil {
		if err := u.grids.Invalidate(TemplatesGrid); err != nil {
			u.logger.Warn("не удалось сбросить счетчик таблицы",
				zap.String("grid", TemplatesGrid),
				zap.Error(err),
			)
		}
	}
	return created, nil
}
