package service

import (
	"crypto/md5"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/autumn-ma/django-culture/internal/domain"
)

// userAttributeAccessors is the fixed allow-list of attributes the
// user_attributes strategy may reference. Admin-supplied attribute names
// outside this map never match.
var userAttributeAccessors = map[string]func(u *domain.User) any{
	"email":       func(u *domain.User) any { return u.Email },
	"username":    func(u *domain.User) any { return u.Username },
	"is_staff":    func(u *domain.User) any { return u.IsStaff },
	"is_active":   func(u *domain.User) any { return u.IsActive },
	"date_joined": func(u *domain.User) any { return u.DateJoined.UTC().Format(time.RFC3339) },
}

func AllowedUserAttributes() []string {
	out := make([]string, 0, len(userAttributeAccessors))
	for name := range userAttributeAccessors {
		out = append(out, name)
	}
	return out
}

// RolloutEvaluator decides flag enablement from rollout configuration, user
// identity and the current time. It has no side effects and fails closed:
// any missing prerequisite resolves to false rather than an error.
type RolloutEvaluator struct {
	now func() time.Time
}

func NewRolloutEvaluator() *RolloutEvaluator {
	return &RolloutEvaluator{now: time.Now}
}

func NewRolloutEvaluatorAt(now func() time.Time) *RolloutEvaluator {
	if now == nil {
		now = time.Now
	}
	return &RolloutEvaluator{now: now}
}

func (e *RolloutEvaluator) Evaluate(flag *domain.FeatureFlag, user *domain.User, _ map[string]any) bool {
	if flag == nil {
		return false
	}
	switch flag.RolloutStrategy {
	case domain.StrategyAll:
		return true
	case domain.StrategyPercentage:
		if user == nil {
			return false
		}
		return userBucket(flag.Name, user.ID) < float64(flag.RolloutPercentage)
	case domain.StrategyUserList:
		if user == nil {
			return false
		}
		return containsUserID(flag.RolloutConfig, user.ID)
	case domain.StrategyUserAttributes:
		if user == nil {
			return false
		}
		return matchesUserAttributes(flag.RolloutConfig, user)
	case domain.StrategyGradual:
		return e.evaluateGradual(flag, user)
	}
	return false
}

// userBucket maps (flag, user) to a stable 0-99 bucket. The bucket is the
// MD5 digest of "name:id" taken as an unsigned integer modulo 100, which
// keeps a user's rollout outcome sticky across processes and restarts.
func userBucket(flagName string, userID uint) float64 {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d", flagName, userID)))
	n := new(big.Int).SetBytes(sum[:])
	return float64(n.Mod(n, big.NewInt(100)).Int64())
}

func containsUserID(config domain.JSONMap, userID uint) bool {
	raw, ok := config["user_ids"]
	if !ok {
		return false
	}
	ids, ok := raw.([]any)
	if !ok {
		return false
	}
	for _, v := range ids {
		if id, ok := asUserID(v); ok && id == userID {
			return true
		}
	}
	return false
}

func asUserID(v any) (uint, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 || n != float64(uint(n)) {
			return 0, false
		}
		return uint(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint(n), true
	case uint:
		return n, true
	}
	return 0, false
}

// matchesUserAttributes applies conditions in list order; the first match
// wins. Conditions missing attribute, operator or value are skipped.
func matchesUserAttributes(config domain.JSONMap, user *domain.User) bool {
	raw, ok := config["conditions"]
	if !ok {
		return false
	}
	conditions, ok := raw.([]any)
	if !ok {
		return false
	}
	for _, c := range conditions {
		condition, ok := c.(map[string]any)
		if !ok {
			continue
		}
		attribute, _ := condition["attribute"].(string)
		operator, _ := condition["operator"].(string)
		value, hasValue := condition["value"]
		if attribute == "" || operator == "" || !hasValue || value == nil {
			continue
		}
		accessor, ok := userAttributeAccessors[attribute]
		if !ok {
			continue
		}
		if matchesCondition(accessor(user), operator, value) {
			return true
		}
	}
	return false
}

func matchesCondition(userValue any, operator string, value any) bool {
	switch operator {
	case "eq":
		return valuesEqual(userValue, value)
	case "in":
		members, ok := value.([]any)
		if !ok {
			return false
		}
		for _, m := range members {
			if valuesEqual(userValue, m) {
				return true
			}
		}
		return false
	case "contains":
		userStr, ok := userValue.(string)
		if !ok {
			return false
		}
		substr, ok := value.(string)
		if !ok {
			return false
		}
		return strings.Contains(userStr, substr)
	}
	return false
}

func valuesEqual(userValue, value any) bool {
	if userValue == value {
		return true
	}
	// JSON decoding yields float64 for numbers; normalize before comparing.
	uf, uok := asFloat(userValue)
	vf, vok := asFloat(value)
	return uok && vok && uf == vf
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}

// evaluateGradual interpolates the rollout percentage linearly over the
// configured time window, then applies the same stable bucketing as the
// percentage strategy.
func (e *RolloutEvaluator) evaluateGradual(flag *domain.FeatureFlag, user *domain.User) bool {
	config := flag.RolloutConfig
	startRaw, _ := config["start_time"].(string)
	endRaw, _ := config["end_time"].(string)
	if startRaw == "" || endRaw == "" {
		return false
	}
	start, err := parseConfigTime(startRaw)
	if err != nil {
		return false
	}
	end, err := parseConfigTime(endRaw)
	if err != nil {
		return false
	}
	startPct := configFloat(config, "start_percentage", 0)
	endPct := configFloat(config, "end_percentage", 100)

	now := e.now()
	var currentPct float64
	switch {
	case now.Before(start):
		return false
	case now.After(end):
		currentPct = endPct
	default:
		total := end.Sub(start).Seconds()
		if total <= 0 {
			currentPct = endPct
		} else {
			progress := now.Sub(start).Seconds() / total
			currentPct = startPct + (endPct-startPct)*progress
		}
	}

	if user == nil {
		return false
	}
	return userBucket(flag.Name, user.ID) < currentPct
}

func parseConfigTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", raw)
}

func configFloat(config domain.JSONMap, key string, def float64) float64 {
	raw, ok := config[key]
	if !ok {
		return def
	}
	if f, ok := asFloat(raw); ok {
		return f
	}
	return def
}
