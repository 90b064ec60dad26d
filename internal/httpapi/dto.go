package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/notify"
)

type itemDTO struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int32  `json:"quantity"`
	Image     string `json:"image"`
	Color     string `json:"color"`
	Size      string `json:"size"`
	Total     int64  `json:"total"`
}

type cartDTO struct {
	Items         []itemDTO `json:"items"`
	TotalQuantity int64     `json:"totalQuantity"`
	TotalPrice    int64     `json:"totalPrice"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type cartResponse struct {
	Cart     cartDTO          `json:"cart"`
	IsOpen   bool             `json:"isOpen"`
	Toasts   []notify.Toast   `json:"toasts"`
	Checkout *checkout.Result `json:"checkout,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type addItemRequest struct {
	ProductID string `json:"productId"`
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Image     string `json:"image"`
	Color     string `json:"color"`
	Size      string `json:"size"`
}

func (r addItemRequest) toInput() domain.ProductInput {
	return domain.ProductInput{
		ProductID: r.ProductID,
		Slug:      r.Slug,
		Name:      r.Name,
		Price:     r.Price,
		Image:     r.Image,
		Color:     r.Color,
		Size:      r.Size,
	}
}

type updateItemRequest struct {
	Slug     *string `json:"slug"`
	Name     *string `json:"name"`
	Price    *int64  `json:"price"`
	Image    *string `json:"image"`
	Quantity *int32  `json:"quantity"`
}

func (r updateItemRequest) toPatch() domain.ItemPatch {
	return domain.ItemPatch{
		Slug:     r.Slug,
		Name:     r.Name,
		Price:    r.Price,
		Image:    r.Image,
		Quantity: r.Quantity,
	}
}

func toCartDTO(cart domain.Cart) cartDTO {
	items := make([]itemDTO, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, itemDTO{
			ID:        item.ID,
			ProductID: item.ProductID,
			Slug:      item.Slug,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Image:     item.Image,
			Color:     item.Color,
			Size:      item.Size,
			Total:     item.Total,
		})
	}
	return cartDTO{
		Items:         items,
		TotalQuantity: cart.TotalQuantity,
		TotalPrice:    cart.TotalPrice,
		UpdatedAt:     cart.UpdatedAt,
	}
}
