// Package pricing реализует подбор правил объёмного ценообразования.
package pricing

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/cartengine-system/internal/model"
)

// FindTier выбирает единственное применимое правило для товара в заданной стране.
// Кандидатом считается активное правило, чей список стран содержит страну
// позиции (без учёта регистра), а список участников — товар или вариацию.
// Правило, адресованное текущему клиенту, имеет приоритет над любым общим;
// внутри группы побеждает наибольший priority, при равенстве — наименьший id.
func FindTier(rules []model.TierRule, country string, ref model.ProductRef, clientID int64) *model.TierRule {
	var targeted, global *model.TierRule

	for i := range rules {
		r := &rules[i]
		if !isCandidate(r, country, ref) {
			continue
		}

		if len(r.ClientIDs) == 0 {
			global = better(global, r)
			continue
		}
		if slices.Contains(r.ClientIDs, clientID) {
			targeted = better(targeted, r)
		}
	}

	if targeted != nil {
		return targeted
	}
	return global
}

// better сравнивает кандидатов детерминированно: больший priority, затем меньший id.
func better(cur, next *model.TierRule) *model.TierRule {
	if cur == nil {
		return next
	}
	if next.Priority > cur.Priority {
		return next
	}
	if next.Priority == cur.Priority && next.ID < cur.ID {
		return next
	}
	return cur
}

func isCandidate(r *model.TierRule, country string, ref model.ProductRef) bool {
	if !r.Active {
		return false
	}
	if !containsFold(r.Countries, country) {
		return false
	}
	return IsMember(r, ref)
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// IsMember сообщает, входит ли позиция в список участников правила.
// Партнёрские позиции в объёмном ценообразовании не участвуют.
func IsMember(r *model.TierRule, ref model.ProductRef) bool {
	if ref.Kind != model.KindRegular {
		return false
	}
	if slices.Contains(r.ProductIDs, ref.ItemID) {
		return true
	}
	return ref.VariationID != "" && slices.Contains(r.VariationIDs, ref.VariationID)
}

// PriceForQuantity возвращает цену наибольшей ступени, чей порог не превышает
// суммарное количество. Если ни одна ступень не подходит, возвращает false,
// и вызывающая сторона использует базовую цену.
func PriceForQuantity(steps []model.TierStep, qty int) (decimal.Decimal, bool) {
	best := -1
	for i, s := range steps {
		if s.MinQuantity <= qty && (best == -1 || s.MinQuantity >= steps[best].MinQuantity) {
			best = i
		}
	}
	if best == -1 {
		return decimal.Decimal{}, false
	}
	return steps[best].Price, true
}
