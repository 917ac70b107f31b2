package service

import (
	"errors"
	"fmt"
	"slices"

	"github.com/autumn-ma/django-culture/internal/domain"
)

var (
	ErrInvalidRolloutStrategy = errors.New("invalid rollout strategy")
	ErrInvalidRolloutConfig   = errors.New("invalid rollout config")
)

var validConditionOperators = map[string]struct{}{
	"eq":       {},
	"in":       {},
	"contains": {},
}

// validateRolloutConfig enforces the strategy-specific schema at write time.
// Reads never rely on this: the evaluator fails closed on malformed config.
func (s *FlagAdminService) validateRolloutConfig(strategy string, percentage int, config domain.JSONMap) error {
	switch strategy {
	case domain.StrategyAll:
		return nil
	case domain.StrategyPercentage:
		if percentage == 0 {
			return fmt.Errorf("%w: percentage strategy requires rollout_percentage > 0", ErrInvalidRolloutConfig)
		}
		return nil
	case domain.StrategyUserList:
		return s.validateUserList(config)
	case domain.StrategyUserAttributes:
		return validateConditions(config)
	case domain.StrategyGradual:
		return validateGradual(config)
	}
	return fmt.Errorf("%w: %q is not one of %v", ErrInvalidRolloutStrategy, strategy, domain.KnownStrategies())
}

func (s *FlagAdminService) validateUserList(config domain.JSONMap) error {
	raw, ok := config["user_ids"]
	if !ok {
		return fmt.Errorf("%w: user_list strategy requires a user_ids list", ErrInvalidRolloutConfig)
	}
	list, ok := raw.([]any)
	if !ok {
		return fmt.Errorf("%w: user_ids must be a list", ErrInvalidRolloutConfig)
	}
	ids := make([]uint, 0, len(list))
	for _, v := range list {
		id, ok := asUserID(v)
		if !ok {
			return fmt.Errorf("%w: user_ids must contain non-negative integers, got %v", ErrInvalidRolloutConfig, v)
		}
		ids = append(ids, id)
	}
	existing, err := s.users.ExistingIDs(ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if !slices.Contains(existing, id) {
			return fmt.Errorf("%w: unknown user id %d", ErrInvalidRolloutConfig, id)
		}
	}
	return nil
}

func validateConditions(config domain.JSONMap) error {
	raw, ok := config["conditions"]
	if !ok {
		return fmt.Errorf("%w: user_attributes strategy requires a conditions list", ErrInvalidRolloutConfig)
	}
	list, ok := raw.([]any)
	if !ok {
		return fmt.Errorf("%w: conditions must be a list", ErrInvalidRolloutConfig)
	}
	for i, c := range list {
		condition, ok := c.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: condition %d must be an object", ErrInvalidRolloutConfig, i)
		}
		attribute, _ := condition["attribute"].(string)
		operator, _ := condition["operator"].(string)
		if _, hasValue := condition["value"]; attribute == "" || operator == "" || !hasValue {
			return fmt.Errorf("%w: condition %d must have attribute, operator and value", ErrInvalidRolloutConfig, i)
		}
		if _, ok := userAttributeAccessors[attribute]; !ok {
			return fmt.Errorf("%w: condition %d references unknown attribute %q (allowed: %v)", ErrInvalidRolloutConfig, i, attribute, AllowedUserAttributes())
		}
		if _, ok := validConditionOperators[operator]; !ok {
			return fmt.Errorf("%w: condition %d has unknown operator %q", ErrInvalidRolloutConfig, i, operator)
		}
	}
	return nil
}

func validateGradual(config domain.JSONMap) error {
	for _, key := range []string{"start_time", "end_time", "start_percentage", "end_percentage"} {
		if _, ok := config[key]; !ok {
			return fmt.Errorf("%w: gradual strategy requires %s", ErrInvalidRolloutConfig, key)
		}
	}
	for _, key := range []string{"start_time", "end_time"} {
		raw, _ := config[key].(string)
		if raw == "" {
			return fmt.Errorf("%w: %s must be a timestamp string", ErrInvalidRolloutConfig, key)
		}
		if _, err := parseConfigTime(raw); err != nil {
			return fmt.Errorf("%w: %s is not a valid timestamp: %v", ErrInvalidRolloutConfig, key, err)
		}
	}
	for _, key := range []string{"start_percentage", "end_percentage"} {
		pct, ok := asFloat(config[key])
		if !ok || pct < 0 || pct > 100 {
			return fmt.Errorf("%w: %s must be a number between 0 and 100", ErrInvalidRolloutConfig, key)
		}
	}
	return nil
}
