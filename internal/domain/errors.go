package domain

import "errors"

var (
	// Ошибка, если ID позиции не совпадает с составным ключом.
	ErrItemKeyMismatch = errors.New("item id does not match product/color/size key")
	// Ошибка дублирования составного ключа в корзине.
	ErrItemDuplicate = errors.New("duplicate cart item key")
	// Ошибка при некорректном количестве товара (< 1).
	ErrItemQtyInvalid = errors.New("item quantity must be at least one")
	// Ошибка, если количество превышает MaxItemQuantity.
	ErrItemQtyTooLarge = errors.New("item quantity exceeds the limit")
	// Ошибка, если price * quantity не помещается в int64.
	ErrItemTotalOverflow = errors.New("item total overflows")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия total позиции и price * quantity.
	ErrItemTotalMismatch = errors.New("item total does not match price * quantity")
	// Ошибка несоответствия итогов корзины сумме позиций.
	ErrTotalsMismatch = errors.New("cart totals do not match items sum")
	// ErrSnapshotNotFound возвращается слотом, если по ключу ничего не сохранено.
	ErrSnapshotNotFound = errors.New("cart snapshot not found")
	// ErrSnapshotCorrupt — сохранённый снимок не удалось разобрать.
	ErrSnapshotCorrupt = errors.New("cart snapshot is corrupt")
	// ErrSnapshotVersion — снимок записан в неизвестной версии формата.
	ErrSnapshotVersion = errors.New("cart snapshot version mismatch")
	// ErrSlotUnavailable — хранилище снимков недоступно (отключено или переполнено).
	ErrSlotUnavailable = errors.New("snapshot storage unavailable")
	// ErrCartEmpty — оформление заказа с пустой корзиной.
	ErrCartEmpty = errors.New("cart is empty")
	// ErrCheckoutFieldRequired — в форме оформления не заполнено обязательное поле.
	ErrCheckoutFieldRequired = errors.New("checkout field is required")
	// ErrCheckoutOptionInvalid — неизвестный способ доставки или оплаты.
	ErrCheckoutOptionInvalid = errors.New("checkout option is invalid")
)

// IsSnapshotNotFound проверяет, что ошибка означает отсутствие снимка.
func IsSnapshotNotFound(err error) bool {
	return errors.Is(err, ErrSnapshotNotFound)
}
