package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/core/service"
)

const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
	roleAdmin      = "admin"

	maxRequestBodySize = 1 << 20
)

type ctxKey int

const userIDKey ctxKey = iota

type HTTPHandler struct {
	carts    *service.CartService
	checkout *service.CheckoutService
	catalog  *service.CatalogService
	log      zerolog.Logger
}

type AddItemRequest struct {
	BookID   string `json:"bookId"`
	Quantity int    `json:"quantity"`
}

type UpdateItemRequest struct {
	Quantity *int `json:"quantity"`
}

type BookRequest struct {
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Author        string          `json:"author"`
	Category      domain.Category `json:"category"`
	ImageURL      string          `json:"imageUrl"`
	ISBN          string          `json:"isbn"`
	Publisher     string          `json:"publisher"`
	PublishedYear int             `json:"publishedYear"`
	Stock         int             `json:"stock"`
	Price         decimal.Decimal `json:"price"`
}

func (b BookRequest) item(id string) domain.CatalogItem {
	return domain.CatalogItem{
		ID:            id,
		Title:         b.Title,
		Description:   b.Description,
		Author:        b.Author,
		Category:      b.Category,
		ImageURL:      b.ImageURL,
		ISBN:          b.ISBN,
		Publisher:     b.Publisher,
		PublishedYear: b.PublishedYear,
		Stock:         b.Stock,
		Price:         b.Price,
	}
}

type StockRequest struct {
	Stock *int `json:"stock"`
}

func NewHTTPHandler(carts *service.CartService, checkout *service.CheckoutService, catalog *service.CatalogService, logger zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		carts:    carts,
		checkout: checkout,
		catalog:  catalog,
		log:      logger.With().Str("component", "http").Logger(),
	}
}

// Routes builds the router. allowedOrigins configures CORS; "*" allows any.
func (h *HTTPHandler) Routes(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", headerUserID, headerUserRole},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}).Handler)

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Use(requireUser)
			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Post("/items", h.AddItem)
			r.Put("/items/{itemId}", h.UpdateItem)
			r.Delete("/items/{itemId}", h.RemoveItem)
			r.Post("/order", h.PlaceOrder)
		})

		r.Route("/books", func(r chi.Router) {
			r.Get("/", h.ListBooks)
			r.Get("/{id}", h.GetBook)

			r.Group(func(r chi.Router) {
				r.Use(requireAdmin)
				r.Post("/", h.CreateBook)
				r.Post("/reset", h.ResetCatalog)
				r.Put("/{id}", h.UpdateBook)
				r.Put("/{id}/stock", h.UpdateStock)
				r.Delete("/{id}", h.DeleteBook)
			})
		})
	})

	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.GetCart(r.Context(), userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *HTTPHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.BookID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bookId is required", Code: "invalid_argument"})
		return
	}

	cart, err := h.carts.AddLine(r.Context(), userID(r), req.BookID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *HTTPHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Quantity == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "quantity is required", Code: "invalid_argument"})
		return
	}

	cart, err := h.carts.SetLineQuantity(r.Context(), userID(r), chi.URLParam(r, "itemId"), *req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *HTTPHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.RemoveLine(r.Context(), userID(r), chi.URLParam(r, "itemId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *HTTPHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.Clear(r.Context(), userID(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	result, err := h.checkout.PlaceOrder(r.Context(), userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, orderStatus(result), result)
}

func (h *HTTPHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.catalog.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (h *HTTPHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *HTTPHandler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if !h.decode(w, r, &req) {
		return
	}

	book, err := h.catalog.Create(r.Context(), req.item(""))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (h *HTTPHandler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if !h.decode(w, r, &req) {
		return
	}

	book, err := h.catalog.Update(r.Context(), req.item(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *HTTPHandler) UpdateStock(w http.ResponseWriter, r *http.Request) {
	var req StockRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Stock == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "stock is required", Code: "invalid_argument"})
		return
	}

	book, err := h.catalog.UpdateStock(r.Context(), chi.URLParam(r, "id"), *req.Stock)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *HTTPHandler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) ResetCatalog(w http.ResponseWriter, r *http.Request) {
	books, err := h.catalog.ResetCatalog(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "invalid_request"})
		return false
	}
	return true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, _, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: publicMessage(err), Code: code})
}

func (h *HTTPHandler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		h.log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerUserID)
		if id == "" {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing " + headerUserID + " header", Code: "unauthorized"})
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerUserRole) != roleAdmin {
			writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "admin role required", Code: "forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
