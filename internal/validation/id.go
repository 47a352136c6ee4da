// Package validation содержит функции валидации входных данных.
package validation

import (
	"github.com/google/uuid"

	"github.com/mmeshcher/cartengine-system/internal/model"
)

// IsValidItemID проверяет, что идентификатор товара или вариации является корректным UUID.
func IsValidItemID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// IsValidAction проверяет, что действие над позицией корзины поддерживается.
func IsValidAction(action string) bool {
	switch model.Action(action) {
	case model.ActionAdd, model.ActionSubtract:
		return true
	}
	return false
}

// IsValidChannel проверяет канал продаж из запроса сессии.
func IsValidChannel(channel string) bool {
	switch model.Channel(channel) {
	case model.ChannelWeb, model.ChannelPOS:
		return true
	}
	return false
}
