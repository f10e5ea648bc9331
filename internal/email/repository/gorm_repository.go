package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/CafeIT25/pmo-agent/internal/email/domain"
)

// gormEmailRepository implements EmailRepository using GORM
type gormEmailRepository struct {
	db *gorm.DB
}

func NewEmailRepository(db *gorm.DB) EmailRepository {
	return &gormEmailRepository{db: db}
}

func (r *gormEmailRepository) Create(email *domain.Email) error {
	if email.ID == "" {
		email.ID = uuid.New().String()
	}
	if email.CreatedAt.IsZero() {
		email.CreatedAt = time.Now()
	}
	return r.db.Create(email).Error
}

func (r *gormEmailRepository) ExistsByProviderID(providerID string) (bool, error) {
	var count int64
	err := r.db.Model(&domain.Email{}).Where("provider_id = ?", providerID).Count(&count).Error
	return count > 0, err
}

func (r *gormEmailRepository) FindByID(id string) (*domain.Email, error) {
	var email domain.Email
	err := r.db.Where("id = ?", id).First(&email).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &email, nil
}

func (r *gormEmailRepository) FindUnanalyzedByUser(userID string) ([]*domain.Email, error) {
	var emails []*domain.Email
	err := r.db.Where("user_id = ? AND analyzed = ?", userID, false).
		Order("sent_at ASC").Find(&emails).Error
	return emails, err
}

func (r *gormEmailRepository) MarkAnalyzed(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.Model(&domain.Email{}).Where("id IN ?", ids).
		Update("analyzed", true).Error
}

func (r *gormEmailRepository) MarkTaskLinked(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.Model(&domain.Email{}).Where("id IN ?", ids).
		Updates(map[string]interface{}{"analyzed": true, "task_linked": true}).Error
}

// gormAccountRepository implements AccountRepository using GORM
type gormAccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &gormAccountRepository{db: db}
}

func (r *gormAccountRepository) Create(account *domain.MailAccount) error {
	now := time.Now()
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.CreatedAt = now
	account.UpdatedAt = now
	return r.db.Create(account).Error
}

func (r *gormAccountRepository) FindByID(id string) (*domain.MailAccount, error) {
	var account domain.MailAccount
	err := r.db.Where("id = ?", id).First(&account).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *gormAccountRepository) FindByEmail(address string) (*domain.MailAccount, error) {
	var account domain.MailAccount
	err := r.db.Where("email = ? AND is_active = ?", address, true).First(&account).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *gormAccountRepository) FindByUserID(userID string) ([]*domain.MailAccount, error) {
	var accounts []*domain.MailAccount
	err := r.db.Where("user_id = ? AND is_active = ?", userID, true).Find(&accounts).Error
	return accounts, err
}

func (r *gormAccountRepository) FindAllActive() ([]*domain.MailAccount, error) {
	var accounts []*domain.MailAccount
	err := r.db.Where("is_active = ?", true).Find(&accounts).Error
	return accounts, err
}

func (r *gormAccountRepository) UpdateSyncToken(id, token string) error {
	return r.db.Model(&domain.MailAccount{}).Where("id = ?", id).
		Updates(map[string]interface{}{"sync_token": token, "updated_at": time.Now()}).Error
}

func (r *gormAccountRepository) Update(account *domain.MailAccount) error {
	account.UpdatedAt = time.Now()
	return r.db.Save(account).Error
}

// gormSyncJobRepository implements SyncJobRepository using GORM
type gormSyncJobRepository struct {
	db *gorm.DB
}

func NewSyncJobRepository(db *gorm.DB) SyncJobRepository {
	return &gormSyncJobRepository{db: db}
}

func (r *gormSyncJobRepository) Create(job *domain.SyncJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now()
	}
	return r.db.Create(job).Error
}

func (r *gormSyncJobRepository) Update(job *domain.SyncJob) error {
	return r.db.Save(job).Error
}

func (r *gormSyncJobRepository) FindByID(id string) (*domain.SyncJob, error) {
	var job domain.SyncJob
	err := r.db.Where("id = ?", id).First(&job).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (r *gormSyncJobRepository) FindByUserID(userID string, limit int) ([]*domain.SyncJob, error) {
	var jobs []*domain.SyncJob
	err := r.db.Where("user_id = ?", userID).Order("started_at DESC").Limit(limit).Find(&jobs).Error
	return jobs, err
}

// gormExcludeDomainRepository implements ExcludeDomainRepository using GORM
type gormExcludeDomainRepository struct {
	db *gorm.DB
}

func NewExcludeDomainRepository(db *gorm.DB) ExcludeDomainRepository {
	return &gormExcludeDomainRepository{db: db}
}

func (r *gormExcludeDomainRepository) FindDomainsByUserID(userID string) ([]string, error) {
	var domains []string
	err := r.db.Model(&domain.ExcludeDomain{}).Where("user_id = ?", userID).
		Pluck("domain", &domains).Error
	return domains, err
}
