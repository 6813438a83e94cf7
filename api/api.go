// Package api exposes a Market over HTTP with a chi router.
//
// The caller identity is taken from the X-Account header. Amounts travel as
// decimal strings in major units of the market currency, e.g. "0.5".
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/market"
)

// AccountHeader carries the caller identity.
const AccountHeader = "X-Account"

// Handler serves the market HTTP surface.
type Handler struct {
	market *market.Market
	logger *slog.Logger
	router chi.Router
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger used for request errors.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// New builds the router for m.
func New(m *market.Market, opts ...Option) *Handler {
	h := &Handler{market: m, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	h.router = h.routes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(callerFromHeader)

	r.Get("/owner", h.getOwner)

	r.Route("/items", func(r chi.Router) {
		r.Get("/", h.listItems)
		r.Get("/{id}", h.getItem)
		r.Put("/{id}", h.putItem)
		r.Post("/{id}/buy", h.buyItem)
	})

	r.Route("/orders/{buyer}", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Get("/count", h.countOrders)
		r.Get("/{index}", h.getOrder)
	})

	r.Route("/treasury", func(r chi.Router) {
		r.Get("/", h.getTreasury)
		r.Get("/withdrawals", h.listWithdrawals)
		r.Post("/withdraw", h.withdraw)
	})

	return r
}
