package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/notify"
)

const (
	// DefaultSessionCookie — cookie с идентификатором корзины.
	DefaultSessionCookie = "cart_session"

	defaultCookieMaxAge = 30 * 24 * time.Hour
	maxBodyBytes        = 64 << 10
)

var errInvalidRequest = errors.New("invalid request")

// Handler — HTTP API корзины витрины.
type Handler struct {
	registry     *cart.Registry
	checkout     *checkout.Service
	cookieName   string
	cookieMaxAge time.Duration
	logger       *log.Entry
}

// Option настраивает Handler.
type Option func(*Handler)

// WithSessionCookie задаёт имя cookie сессии.
func WithSessionCookie(name string) Option {
	return func(h *Handler) {
		if name != "" {
			h.cookieName = name
		}
	}
}

// WithCookieMaxAge задаёт срок жизни cookie сессии.
func WithCookieMaxAge(maxAge time.Duration) Option {
	return func(h *Handler) {
		if maxAge > 0 {
			h.cookieMaxAge = maxAge
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler создаёт HTTP API поверх реестра сессий и сервиса оформления.
func NewHandler(registry *cart.Registry, checkoutSvc *checkout.Service, options ...Option) *Handler {
	h := &Handler{
		registry:     registry,
		checkout:     checkoutSvc,
		cookieName:   DefaultSessionCookie,
		cookieMaxAge: defaultCookieMaxAge,
	}
	for _, option := range options {
		option(h)
	}
	if h.logger == nil {
		h.logger = log.WithField("component", "http-api")
	}
	return h
}

// Router собирает маршруты /api/v1. {id} позиции передаётся в URL-кодировке,
// так что "/" в цвете или размере приходит как %2F.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter().UseEncodedPath()
	s := r.PathPrefix("/api/v1").Subrouter()

	s.HandleFunc("/cart", h.getCart).Methods(http.MethodGet)
	s.HandleFunc("/cart", h.clearCart).Methods(http.MethodDelete)
	s.HandleFunc("/cart/open", h.openCart).Methods(http.MethodPost)
	s.HandleFunc("/cart/close", h.closeCart).Methods(http.MethodPost)
	s.HandleFunc("/cart/items", h.addItem).Methods(http.MethodPost)
	s.HandleFunc("/cart/items/{id}", h.updateItem).Methods(http.MethodPatch)
	s.HandleFunc("/cart/items/{id}", h.removeItem).Methods(http.MethodDelete)
	s.HandleFunc("/cart/items/{id}/increment", h.incrementItem).Methods(http.MethodPost)
	s.HandleFunc("/cart/items/{id}/decrement", h.decrementItem).Methods(http.MethodPost)
	s.HandleFunc("/checkout", h.submitCheckout).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		h.writeError(w, http.StatusNotFound, errors.New("not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		h.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})

	return h.logMiddleware(r)
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(*cart.Store) {})
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(s *cart.Store) { s.ClearCart() })
}

func (h *Handler) openCart(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(s *cart.Store) { s.OpenCart() })
}

func (h *Handler) closeCart(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(s *cart.Store) { s.CloseCart() })
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: productId is required", errInvalidRequest))
		return
	}
	if req.Price < 0 {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: price must be non-negative", errInvalidRequest))
		return
	}

	h.respond(w, r, func(s *cart.Store) { s.AddItem(req.toInput()) })
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req updateItemRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.respond(w, r, func(s *cart.Store) { s.UpdateItem(id, req.toPatch()) })
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	h.withItem(w, r, (*cart.Store).RemoveItem)
}

func (h *Handler) incrementItem(w http.ResponseWriter, r *http.Request) {
	h.withItem(w, r, (*cart.Store).IncrementQuantity)
}

func (h *Handler) decrementItem(w http.ResponseWriter, r *http.Request) {
	h.withItem(w, r, (*cart.Store).DecrementQuantity)
}

func (h *Handler) withItem(w http.ResponseWriter, r *http.Request, op func(*cart.Store, string)) {
	id, err := itemID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.respond(w, r, func(s *cart.Store) { op(s, id) })
}

// itemID декодирует {id} из пути.
func itemID(r *http.Request) (string, error) {
	id, err := url.PathUnescape(mux.Vars(r)["id"])
	if err != nil {
		return "", fmt.Errorf("%w: malformed item id: %v", errInvalidRequest, err)
	}
	return id, nil
}

func (h *Handler) submitCheckout(w http.ResponseWriter, r *http.Request) {
	var form checkout.Form
	if err := decodeJSON(r, &form); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	session := h.session(w, r)
	var (
		result checkout.Result
		view   cartView
		err    error
	)
	toasts := session.Do(func(s *cart.Store) {
		result, err = h.checkout.Submit(session.ID(), s, form)
		view = snapshot(s)
	})
	if err != nil {
		h.writeError(w, checkoutStatus(err), err)
		return
	}

	h.writeCart(w, view, toasts, &result)
}

func checkoutStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrCartEmpty):
		return http.StatusConflict
	case errors.Is(err, domain.ErrCheckoutFieldRequired), errors.Is(err, domain.ErrCheckoutOptionInvalid):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// cartView — состояние корзины, снятое в том же вызове Do, что и уведомления.
type cartView struct {
	cart   domain.Cart
	isOpen bool
}

func snapshot(s *cart.Store) cartView {
	return cartView{cart: s.Cart(), isOpen: s.IsOpen()}
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, fn func(*cart.Store)) {
	session := h.session(w, r)
	var view cartView
	toasts := session.Do(func(s *cart.Store) {
		fn(s)
		view = snapshot(s)
	})
	h.writeCart(w, view, toasts, nil)
}

// session находит сессию по cookie или заводит новую.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) *cart.Session {
	if c, err := r.Cookie(h.cookieName); err == nil {
		if _, parseErr := uuid.Parse(c.Value); parseErr == nil {
			return h.registry.Get(c.Value)
		}
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(h.cookieMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	h.logger.WithField("session_id", id).Debug("new cart session issued")
	return h.registry.Get(id)
}

func (h *Handler) writeCart(w http.ResponseWriter, view cartView, toasts []notify.Toast, result *checkout.Result) {
	if toasts == nil {
		toasts = []notify.Toast{}
	}
	h.writeJSON(w, http.StatusOK, cartResponse{
		Cart:     toCartDTO(view.cart),
		IsOpen:   view.isOpen,
		Toasts:   toasts,
		Checkout: result,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).Error("request failed")
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	b, err := json.Marshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err = w.Write(b); err != nil {
		h.logger.WithError(err).Error("write response")
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return nil
}
