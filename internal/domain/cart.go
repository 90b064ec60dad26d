package domain

import (
	"math"
	"strings"
	"time"
)

// MaxItemQuantity — верхняя граница количества одной позиции.
const MaxItemQuantity int32 = 999

var idPartEscaper = strings.NewReplacer("%", "%25", "-", "%2D")

// CartItem — одна конфигурация товара (товар + цвет + размер) в корзине.
type CartItem struct {
	// ID — составной естественный ключ, см. ItemID.
	ID        string
	ProductID string
	Slug      string
	Name      string
	// Price — цена за единицу в целых рублях, как в каталоге.
	Price int64
	Image string
	Color string
	Size  string
	// Quantity — количество единиц, от 1 до MaxItemQuantity.
	Quantity int32
	// Total — производное поле, всегда Price * Quantity.
	Total int64
}

// Cart агрегирует позиции корзины и производные итоги.
type Cart struct {
	Items         []CartItem
	TotalQuantity int64
	TotalPrice    int64
	// UpdatedAt — момент последней мутации, только для диагностики.
	UpdatedAt time.Time
}

// ProductInput — данные товара, которые каталог передаёт в корзину.
// Поля уже провалидированы и очищены на стороне поставщика контента.
type ProductInput struct {
	ProductID string
	Slug      string
	Name      string
	Price     int64
	Image     string
	Color     string
	Size      string
}

// ItemPatch описывает частичное обновление позиции.
// Поля, входящие в составной ключ, не изменяются.
type ItemPatch struct {
	Slug     *string
	Name     *string
	Price    *int64
	Image    *string
	Quantity *int32
}

// Totals — агрегаты корзины.
type Totals struct {
	Quantity int64
	Price    int64
}

// ItemID строит составной ключ позиции из товара, цвета и размера.
// Символы "-" и "%" внутри частей экранируются, поэтому разные тройки
// всегда дают разные ключи.
func ItemID(productID, color, size string) string {
	return idPartEscaper.Replace(productID) + "-" + idPartEscaper.Replace(color) + "-" + idPartEscaper.Replace(size)
}

// LineTotalFits сообщает, что price * quantity помещается в int64.
func LineTotalFits(price int64, quantity int32) bool {
	if price <= 0 || quantity <= 0 {
		return true
	}
	return price <= math.MaxInt64/int64(quantity)
}

// NewCartItem создаёт позицию с указанным количеством и пересчитанной суммой.
func NewCartItem(in ProductInput, quantity int32) CartItem {
	item := CartItem{
		ID:        ItemID(in.ProductID, in.Color, in.Size),
		ProductID: in.ProductID,
		Slug:      in.Slug,
		Name:      in.Name,
		Price:     in.Price,
		Image:     in.Image,
		Color:     in.Color,
		Size:      in.Size,
		Quantity:  quantity,
	}
	item.Recalculate()
	return item
}

// Recalculate пересчитывает Total из Price и Quantity.
func (i *CartItem) Recalculate() {
	i.Total = i.Price * int64(i.Quantity)
}

// CalculateTotals считает итоги заново по всему списку позиций.
func CalculateTotals(items []CartItem) Totals {
	var totals Totals
	for _, item := range items {
		totals.Quantity += int64(item.Quantity)
		totals.Price += item.Total
	}
	return totals
}

// NewCart собирает корзину из позиций, пересчитывая итоги и проставляя UpdatedAt.
func NewCart(items []CartItem, now time.Time) Cart {
	totals := CalculateTotals(items)
	return Cart{
		Items:         items,
		TotalQuantity: totals.Quantity,
		TotalPrice:    totals.Price,
		UpdatedAt:     now,
	}
}

// EmptyCart возвращает пустую корзину.
func EmptyCart(now time.Time) Cart {
	return NewCart([]CartItem{}, now)
}

// IndexOf возвращает индекс позиции с заданным ID или -1.
func (c *Cart) IndexOf(id string) int {
	for idx := range c.Items {
		if c.Items[idx].ID == id {
			return idx
		}
	}
	return -1
}

// IndexOfKey ищет позицию по тройке товар, цвет, размер и возвращает индекс или -1.
func (c *Cart) IndexOfKey(productID, color, size string) int {
	for idx := range c.Items {
		item := &c.Items[idx]
		if item.ProductID == productID && item.Color == color && item.Size == size {
			return idx
		}
	}
	return -1
}

// IsEmpty сообщает, что в корзине нет позиций.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Clone возвращает глубокую копию корзины.
func (c Cart) Clone() Cart {
	items := make([]CartItem, len(c.Items))
	copy(items, c.Items)
	c.Items = items
	return c
}

// ValidateInvariants проверяет инварианты корзины и возвращает список замечаний.
func (c *Cart) ValidateInvariants() []error {
	var errs []error

	type itemKey struct{ productID, color, size string }
	seen := make(map[itemKey]struct{}, len(c.Items))
	for _, item := range c.Items {
		if item.ID != ItemID(item.ProductID, item.Color, item.Size) {
			errs = append(errs, ErrItemKeyMismatch)
		}
		key := itemKey{item.ProductID, item.Color, item.Size}
		if _, dup := seen[key]; dup {
			errs = append(errs, ErrItemDuplicate)
		}
		seen[key] = struct{}{}

		if item.Quantity < 1 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.Quantity > MaxItemQuantity {
			errs = append(errs, ErrItemQtyTooLarge)
		}
		if item.Price < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if !LineTotalFits(item.Price, item.Quantity) {
			errs = append(errs, ErrItemTotalOverflow)
		} else if item.Total != item.Price*int64(item.Quantity) {
			errs = append(errs, ErrItemTotalMismatch)
		}
	}

	totals := CalculateTotals(c.Items)
	if totals.Quantity != c.TotalQuantity || totals.Price != c.TotalPrice {
		errs = append(errs, ErrTotalsMismatch)
	}

	return errs
}
