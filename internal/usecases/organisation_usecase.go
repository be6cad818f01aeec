package usecases

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/your-org/consolegrid/internal/domain"
)

// OrganisationUsecase backs the organisation editor.
// Lookups go through the cache (Cache-Aside), writes invalidate it.
type OrganisationUsecase struct {
	repo     domain.OrganisationRepository
	cache    domain.Cache[*domain.Organisation]
	notifier domain.Notifier
	validate *validator.Validate
	logger   *zap.Logger
	limiter  *RateLimiter

	// versions растет при каждой инвалидации: запись в кэш, начатая до
	// Update/Delete, не должна вернуть туда старую организацию
	mu       sync.Mutex
	versions map[int64]uint64

	wg sync.WaitGroup
}

// NewOrganisationUsecase creates the usecase
func NewOrganisationUsecase(
	repo domain.OrganisationRepository,
	cache domain.Cache[*domain.Organisation],
	notifier domain.Notifier,
	logger *zap.Logger,
	maxConcurrentOps int,
) *OrganisationUsecase {
	return &OrganisationUsecase{
		repo:     repo,
		cache:    cache,
		notifier: notifier,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		limiter:  NewRateLimiter(maxConcurrentOps),
		versions: make(map[int64]uint64),
	}
}

func organisationKey(id int64) string {
	return "organisation:" + strconv.FormatInt(id, 10)
}

// Get получает организацию по ID.
// 1. Ищем в кэше. Нашли -> вернули.
// 2. Не нашли -> идем в API.
// 3. Нашли -> асинхронно кладем в кэш, если с начала чтения не было инвалидации -> вернули результат.
func (u *OrganisationUsecase) Get(ctx context.Context, id int64) (*domain.Organisation, error) {
	key := organisationKey(id)

	if org, ok := u.cache.Get(ctx, key); ok && org != nil {
		u.logger.Debug("попадание в кэш", zap.Int64("id", id))
		return org, nil
	}

	if err := u.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("превышен лимит запросов: %w", err)
	}
	defer u.limiter.Release()

	u.mu.Lock()
	version := u.versions[id]
	u.mu.Unlock()

	org, err := u.repo.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			u.logger.Error("не удалось получить организацию",
				zap.Int64("id", id),
				zap.Error(err),
			)
			u.notify(ctx, domain.SeverityWarning, GraphQLErrorTitle, err.Error())
		}
		return nil, err
	}

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		cacheCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		u.mu.Lock()
		defer u.mu.Unlock()
		if u.versions[id] != version {
			u.logger.Debug("организация изменилась во время чтения, в кэш не кладем", zap.Int64("id", id))
			return
		}
		if err := u.cache.Set(cacheCtx, key, org); err != nil {
			u.logger.Warn("не удалось закэшировать организацию",
				zap.Int64("id", id),
				zap.Error(err),
			)
		}
	}()

	return org, nil
}

// Update validates and saves an organisation
func (u *OrganisationUsecase) Update(ctx context.Context, org *domain.Organisation) (*domain.Organisation, error) {
	if err := u.Validate(org); err != nil {
		return nil, err
	}

	if err := u.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("превышен лимит запросов: %w", err)
	}
	defer u.limiter.Release()

	saved, err := u.repo.Update(ctx, org)
	if err != nil {
		u.logger.Error("ошибка обновления организации",
			zap.Int64("id", org.ID),
			zap.Error(err),
		)
		u.notify(ctx, domain.SeverityError, "Update Error", err.Error())
		return nil, err
	}

	// кэш чистим синхронно: следующий Get должен увидеть новую версию
	u.invalidate(ctx, org.ID)
	u.notify(ctx, domain.SeverityInfo, "Organisation Updated",
		fmt.Sprintf("Successfully updated organisation %s", saved.Name))
	return saved, nil
}

// Delete removes an organisation
func (u *OrganisationUsecase) Delete(ctx context.Context, id int64) error {
	if err := u.limiter.Acquire(ctx); err != nil {
		return fmt.Errorf("превышен лимит запросов: %w", err)
	}
	defer u.limiter.Release()

	name := ""
	if org, ok := u.cache.Get(ctx, organisationKey(id)); ok && org != nil {
		name = org.Name
	}

	if err := u.repo.Delete(ctx, id); err != nil {
		u.logger.Error("ошибка удаления организации",
			zap.Int64("id", id),
			zap.Error(err),
		)
		u.notify(ctx, domain.SeverityError, "Error Deleting Organisation", err.Error())
		return err
	}

	u.invalidate(ctx, id)
	if name == "" {
		name = strconv.FormatInt(id, 10)
	}
	u.notify(ctx, domain.SeverityInfo, "Organisation Deleted",
		fmt.Sprintf("Successfully deleted organisation %s", name))
	return nil
}

// Validate checks the editor rules: name and contact are required, the email
// must be well formed and at least one of email or phone is set
func (u *OrganisationUsecase) Validate(org *domain.Organisation) error {
	if org == nil {
		return fmt.Errorf("%w: organisation is empty", domain.ErrInvalidInput)
	}
	if err := u.validate.Struct(org); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if strings.TrimSpace(org.Email) == "" && strings.TrimSpace(org.PhoneNumber) == "" {
		return fmt.Errorf("%w: email or phone number is required", domain.ErrInvalidInput)
	}
	return nil
}

// Shutdown waits for background cache writes
func (u *OrganisationUsecase) Shutdown() {
	u.wg.Wait()
}

func (u *OrganisationUsecase) invalidate(ctx context.Context, id int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.versions[id]++
	if err := u.cache.Delete(ctx, organisationKey(id)); err != nil {
		u.logger.Warn("не удалось инвалидировать кэш",
			zap.Int64("id", id),
			zap.Error(err),
		)
	}
}

func (u *OrganisationUsecase) notify(ctx context.Context, severity domain.Severity, title, msg string) {
	if u.notifier == nil {
		return
	}
	u.notifier.Notify(ctx, domain.Notification{
		Severity: severity,
		Title:    title,
		Message:  msg,
		Source:   "organisations",
	})
}
