// Package service реализует трансакцию мутации позиции корзины.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/cartengine-system/internal/model"
	"github.com/mmeshcher/cartengine-system/internal/pricing"
	"github.com/mmeshcher/cartengine-system/internal/repository"
)

// ErrLineNotFound возвращается при subtract по товару, которого нет в корзине.
var (
	ErrLineNotFound = errors.New("cart line not found")
	// ErrLevelNotEligible возвращается, если уровень клиента не допускает покупку партнёрского товара.
	ErrLevelNotEligible = errors.New("affiliate level not eligible")
	// ErrNegativeQuantity возвращается, если мутация привела бы к отрицательному количеству.
	ErrNegativeQuantity = errors.New("quantity must not go negative")
	// ErrSharedProductForbidden возвращается при попытке продать чужой товар через POS-канал.
	ErrSharedProductForbidden = errors.New("shared product forbidden in pos channel")
	// ErrTxAborted возвращается при истечении дедлайна трансакции; вызов можно повторить.
	ErrTxAborted = errors.New("mutation aborted, safe to retry")
	// ErrBadQuantity возвращается при некорректном количестве единиц в запросе.
	ErrBadQuantity = errors.New("quantity must be between 1 and 100")
)

const maxUnitsPerCall = 100

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	EnsureCart(ctx context.Context, clientID int64, orgID string, channel model.Channel) (*model.Cart, error)
	GetCartSnapshot(ctx context.Context, cartID int64, orgID string) (*model.CartSnapshot, error)
	MutateCart(ctx context.Context, fn func(ctx context.Context, tx repository.CartTx) error) error
}

// TierRuleProvider возвращает правила объёмного ценообразования организации.
type TierRuleProvider interface {
	RulesForOrg(ctx context.Context, orgID string) ([]model.TierRule, error)
	Refresh(ctx context.Context)
}

// Service содержит бизнес-логику движка корзины.
type Service struct {
	repo            Repository
	rules           TierRuleProvider
	mutationTimeout time.Duration
}

// NewService создаёт новый сервис с указанным репозиторием и провайдером правил.
func NewService(repo Repository, rules TierRuleProvider, mutationTimeout time.Duration) *Service {
	if mutationTimeout <= 0 {
		mutationTimeout = 5 * time.Second
	}
	return &Service{
		repo:            repo,
		rules:           rules,
		mutationTimeout: mutationTimeout,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// EnsureCart возвращает корзину клиента для канала, создавая её при первом обращении.
func (s *Service) EnsureCart(ctx context.Context, clientID int64, orgID string, channel model.Channel) (*model.Cart, error) {
	return s.repo.EnsureCart(ctx, clientID, orgID, channel)
}

// GetCartSnapshot возвращает снимок корзины без каких-либо изменений.
func (s *Service) GetCartSnapshot(ctx context.Context, cartID int64, orgID string) (*model.CartSnapshot, error) {
	return s.repo.GetCartSnapshot(ctx, cartID, orgID)
}

// MutateCartLine применяет qty единиц действия add/subtract к позиции корзины.
// Все единицы применяются в одной трансакции БД; при любой ошибке не остаётся
// ни одного частичного эффекта. Отпечаток корзины пересчитывается перед фиксацией.
func (s *Service) MutateCartLine(ctx context.Context, cartID int64, orgID, productID, variationID string, action model.Action, qty int) (*model.CartSnapshot, error) {
	if qty < 1 || qty > maxUnitsPerCall {
		return nil, ErrBadQuantity
	}

	// Правила читаются до открытия трансакции: в её рамках они неизменяемы.
	var rules []model.TierRule
	if s.rules != nil {
		var err error
		rules, err = s.rules.RulesForOrg(ctx, orgID)
		if err != nil {
			return nil, fmt.Errorf("fetch tier rules: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.mutationTimeout)
	defer cancel()

	var snapshot *model.CartSnapshot

	err := s.repo.MutateCart(ctx, func(ctx context.Context, tx repository.CartTx) error {
		cart, err := tx.GetCart(ctx, cartID, orgID)
		if err != nil {
			return err
		}

		item, err := tx.FindCatalogItem(ctx, productID)
		if err != nil {
			return err
		}

		ref := model.ProductRef{Kind: item.Kind, ItemID: item.ID, VariationID: variationID}

		for i := 0; i < qty; i++ {
			if err := s.applyUnit(ctx, tx, cart, item, ref, action, rules); err != nil {
				return err
			}
		}

		lines, err := tx.ListLinesForUpdate(ctx, cart.ID)
		if err != nil {
			return err
		}

		hash := model.CartContentHash(lines)
		if err := tx.StampCartHash(ctx, cart.ID, hash); err != nil {
			return err
		}

		views, err := tx.ListLineViews(ctx, cart.ID)
		if err != nil {
			return err
		}

		snapshot = &model.CartSnapshot{Lines: views, UpdatedHash: hash}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, repository.ErrTxConflict) {
			return nil, ErrTxAborted
		}
		return nil, err
	}

	return snapshot, nil
}

// applyUnit применяет ровно одну единицу действия к позиции корзины.
func (s *Service) applyUnit(ctx context.Context, tx repository.CartTx, cart *model.Cart, item *model.CatalogItem, ref model.ProductRef, action model.Action, rules []model.TierRule) error {
	line, err := tx.GetLineForUpdate(ctx, cart.ID, ref)
	if err != nil {
		return err
	}
	if line == nil && action == model.ActionSubtract {
		return ErrLineNotFound
	}

	delta := 1
	if action == model.ActionSubtract {
		delta = -1
	}

	oldQty := 0
	if line != nil {
		oldQty = line.Quantity
	}
	newQty := oldQty + delta
	if newQty < 0 {
		return ErrNegativeQuantity
	}

	// POS-канал не продаёт товары чужих организаций.
	if cart.Channel == model.ChannelPOS && item.OrganizationID != cart.OrganizationID {
		return ErrSharedProductForbidden
	}

	var unitPrice decimal.Decimal

	if ref.Kind == model.KindAffiliate {
		points, err := tx.ResolvePoints(ctx, ref, cart.LevelID)
		if err != nil {
			return err
		}
		unitPrice = decimal.NewFromInt(points)

		if item.MinLevelID != "" && item.MinLevelID != cart.LevelID {
			return ErrLevelNotEligible
		}

		description := fmt.Sprintf("cart %s: affiliate product %s", action, ref.ItemID)
		if action == model.ActionAdd {
			err = tx.ReservePoints(ctx, cart.ClientID, cart.OrganizationID, points, description)
		} else {
			err = tx.RefundPoints(ctx, cart.ClientID, cart.OrganizationID, points, description)
		}
		if err != nil {
			return err
		}
	} else {
		unitPrice, err = tx.ResolvePrice(ctx, ref, cart.Country, cart.LevelID)
		if err != nil {
			return err
		}

		tier := pricing.FindTier(rules, cart.Country, ref, cart.ClientID)
		if tier != nil {
			unitPrice, err = s.applyTierPricing(ctx, tx, cart, tier, line, ref, newQty, unitPrice)
			if err != nil {
				return err
			}
		}
	}

	switch {
	case newQty == 0:
		if err := tx.DeleteLine(ctx, line.ID); err != nil {
			return err
		}
	case line == nil:
		newLine := &model.CartLine{CartID: cart.ID, Ref: ref, Quantity: newQty, UnitPrice: unitPrice}
		if _, err := tx.InsertLine(ctx, newLine); err != nil {
			return err
		}
	default:
		if err := tx.UpdateLine(ctx, line.ID, newQty, unitPrice); err != nil {
			return err
		}
	}

	// add резервирует остаток (-1), subtract возвращает (+1).
	return tx.AdjustStock(ctx, ref, cart.Country, -delta)
}

// applyTierPricing пересчитывает цену по суммарному количеству всех участников
// правила в корзине и переписывает цены соседних позиций. Возвращает цену
// мутируемой позиции.
func (s *Service) applyTierPricing(ctx context.Context, tx repository.CartTx, cart *model.Cart, tier *model.TierRule, line *model.CartLine, ref model.ProductRef, newQty int, basePrice decimal.Decimal) (decimal.Decimal, error) {
	lines, err := tx.ListLinesForUpdate(ctx, cart.ID)
	if err != nil {
		return decimal.Decimal{}, err
	}

	cumulative := newQty
	for _, l := range lines {
		if line != nil && l.ID == line.ID {
			continue
		}
		if pricing.IsMember(tier, l.Ref) {
			cumulative += l.Quantity
		}
	}

	stepPrice, stepFound := pricing.PriceForQuantity(tier.Steps, cumulative)

	unitPrice := basePrice
	if stepFound {
		unitPrice = stepPrice
	}

	for _, l := range lines {
		if line != nil && l.ID == line.ID {
			continue
		}
		if !pricing.IsMember(tier, l.Ref) {
			continue
		}

		siblingPrice := stepPrice
		if !stepFound {
			siblingPrice, err = tx.ResolvePrice(ctx, l.Ref, cart.Country, cart.LevelID)
			if err != nil {
				return decimal.Decimal{}, err
			}
		}

		if !siblingPrice.Equal(l.UnitPrice) {
			if err := tx.UpdateLinePrice(ctx, l.ID, siblingPrice); err != nil {
				return decimal.Decimal{}, err
			}
		}
	}

	return unitPrice, nil
}

// StartTierRuleUpdates запускает фоновое обновление кэша правил объёмного ценообразования.
func (s *Service) StartTierRuleUpdates(ctx context.Context) {
	if s.rules == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.rules.Refresh(ctx)
			}
		}
	}()
}
