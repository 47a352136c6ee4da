// Package model содержит доменные сущности движка корзины.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Channel описывает канал продаж, к которому привязана корзина.
type Channel string

const (
	ChannelWeb Channel = "web"
	ChannelPOS Channel = "pos"
)

// Action описывает операцию над позицией корзины.
type Action string

const (
	ActionAdd      Action = "add"
	ActionSubtract Action = "subtract"
)

// LineKind различает обычные товары (цена в валюте) и партнёрские (цена в баллах).
type LineKind string

const (
	KindRegular   LineKind = "regular"
	KindAffiliate LineKind = "affiliate"
)

// ProductRef однозначно идентифицирует товар позиции: вид, идентификатор
// товара и необязательная вариация. Обычный и партнёрский товар в одной
// позиции не смешиваются.
type ProductRef struct {
	Kind        LineKind
	ItemID      string
	VariationID string
}

// Client представляет покупателя: страна и партнёрский уровень — входные данные ценообразования.
type Client struct {
	ID             int64
	OrganizationID string
	Country        string
	LevelID        string
	CreatedAt      time.Time
}

// Cart описывает корзину покупателя вместе с данными клиента,
// необходимыми трансакции мутации.
type Cart struct {
	ID             int64
	ClientID       int64
	OrganizationID string
	Channel        Channel
	Country        string
	LevelID        string
	UpdatedHash    string
	UpdatedAt      time.Time
}

// CartLine описывает одну позицию корзины.
type CartLine struct {
	ID        int64
	CartID    int64
	Ref       ProductRef
	Quantity  int
	UnitPrice decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CatalogItem содержит сведения каталога, нужные для проверок и витрины.
type CatalogItem struct {
	Kind           LineKind
	ID             string
	OrganizationID string
	MinLevelID     string
	Title          string
	Description    string
	Image          string
	SKU            string
}

// PointBalance содержит баллы клиента в рамках одной организации.
type PointBalance struct {
	ClientID       int64
	OrganizationID string
	Current        int64
	Spent          int64
}

// PointLogAction описывает тип записи в журнале баллов.
type PointLogAction string

const (
	PointActionSpend  PointLogAction = "spend"
	PointActionRefund PointLogAction = "refund"
)

// TierStep задаёт цену, действующую начиная с минимального суммарного количества.
type TierStep struct {
	MinQuantity int             `json:"minQuantity"`
	Price       decimal.Decimal `json:"price"`
}

// TierRule описывает правило объёмного ценообразования организации.
// Правила приходят от внешнего провайдера и в рамках трансакции неизменяемы.
type TierRule struct {
	ID           string     `json:"id"`
	Active       bool       `json:"active"`
	Priority     int        `json:"priority"`
	Countries    []string   `json:"countries"`
	ProductIDs   []string   `json:"productIds"`
	VariationIDs []string   `json:"variationIds"`
	ClientIDs    []int64    `json:"clientIds"`
	Steps        []TierStep `json:"steps"`
}

// CartLineView — представление позиции для ответа API.
type CartLineView struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Image       string          `json:"image"`
	SKU         string          `json:"sku"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	VariationID string          `json:"variationId,omitempty"`
	IsAffiliate bool            `json:"isAffiliate"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// CartSnapshot — итоговое состояние корзины после мутации.
type CartSnapshot struct {
	Lines       []CartLineView `json:"lines"`
	UpdatedHash string         `json:"cartUpdatedHash"`
}

// CartContentHash вычисляет детерминированный отпечаток содержимого корзины:
// SHA-256 по отсортированным кортежам (вид, товар, вариация, количество, цена).
// Пустая корзина имеет отпечаток пустого входа; он же ставится при создании
// корзины, чтобы взаимно обратные мутации возвращали исходный отпечаток.
func CartContentHash(lines []CartLine) string {
	sorted := slices.Clone(lines)
	slices.SortFunc(sorted, func(a, b CartLine) int {
		if c := strings.Compare(string(a.Ref.Kind), string(b.Ref.Kind)); c != 0 {
			return c
		}
		if c := strings.Compare(a.Ref.ItemID, b.Ref.ItemID); c != 0 {
			return c
		}
		return strings.Compare(a.Ref.VariationID, b.Ref.VariationID)
	})

	h := sha256.New()
	for _, l := range sorted {
		fmt.Fprintf(h, "%s|%s|%s|%d|%s\n", l.Ref.Kind, l.Ref.ItemID, l.Ref.VariationID, l.Quantity, l.UnitPrice.StringFixed(2))
	}
	return hex.EncodeToString(h.Sum(nil))
}
