package database

import (
	"errors"

	"gorm.io/gorm"

	"github.com/autumn-ma/django-culture/internal/domain"
	"github.com/autumn-ma/django-culture/internal/repository"
)

// SeedReport summarizes what a seed run changed; Noop means the database
// already held every seeded record.
type SeedReport struct {
	CreatedUsers int
	CreatedFlags int
	Noop         bool
}

var seedUsers = []domain.User{
	{Email: "admin@example.com", Username: "admin", IsStaff: true, IsActive: true},
	{Email: "demo@example.com", Username: "demo", IsActive: true},
}

var seedFlags = []domain.FeatureFlag{
	{
		Name:            "new-dashboard",
		Description:     "Redesigned dashboard UI",
		RolloutStrategy: domain.StrategyPercentage,
		IsActive:        false,
	},
	{
		Name:            "dark-mode",
		Description:     "Dark color scheme",
		RolloutStrategy: domain.StrategyAll,
		IsActive:        false,
	},
}

// SeedSync inserts the development fixtures that are missing and leaves
// existing rows untouched; safe to run on every boot.
func SeedSync(db *gorm.DB) (*SeedReport, error) {
	report := &SeedReport{}

	err := db.Transaction(func(tx *gorm.DB) error {
		users := repository.NewUserRepository(tx)
		for _, user := range seedUsers {
			_, err := users.FindByEmail(user.Email)
			if errors.Is(err, repository.ErrUserNotFound) {
				u := user
				if err := users.Create(&u); err != nil {
					return err
				}
				report.CreatedUsers++
				continue
			}
			if err != nil {
				return err
			}
		}
		for _, flag := range seedFlags {
			var existing domain.FeatureFlag
			err := tx.Where("name = ?", flag.Name).First(&existing).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				f := flag
				if err := tx.Create(&f).Error; err != nil {
					return err
				}
				report.CreatedFlags++
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	report.Noop = report.CreatedUsers == 0 && report.CreatedFlags == 0
	return report, nil
}
