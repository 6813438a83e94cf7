package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/market/account"
	"github.com/xraph/market/item"
	"github.com/xraph/market/types"
)

func (h *Handler) getOwner(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, map[string]string{
		"owner":    h.market.Owner().String(),
		"currency": h.market.Currency(),
	})
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := item.ListOpts{Category: q.Get("category")}

	var err error
	if opts.Limit, err = queryInt(q.Get("limit")); err != nil {
		h.writeError(w, r, &requestError{msg: "limit must be a non-negative integer"})
		return
	}
	if opts.Offset, err = queryInt(q.Get("offset")); err != nil {
		h.writeError(w, r, &requestError{msg: "offset must be a non-negative integer"})
		return
	}

	items, err := h.market.ListItems(r.Context(), opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, items)
}

// getItem answers with the zero record for ids that were never listed.
func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.itemID(w, r)
	if !ok {
		return
	}
	it, err := h.market.GetItem(r.Context(), itemID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, it)
}

func (h *Handler) putItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.itemID(w, r)
	if !ok {
		return
	}

	var req listItemRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	cost, err := types.ParseMoney(req.Cost, h.market.Currency())
	if err != nil {
		h.writeError(w, r, &requestError{msg: err.Error()})
		return
	}

	it := &item.Item{
		ID:       itemID,
		Name:     req.Name,
		Category: req.Category,
		Image:    req.Image,
		Cost:     cost,
		Rating:   req.Rating,
		Stock:    req.Stock,
	}
	if err := h.market.List(r.Context(), caller(r), it); err != nil {
		h.writeError(w, r, err)
		return
	}

	stored, err := h.market.GetItem(r.Context(), itemID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, stored)
}

func (h *Handler) buyItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.itemID(w, r)
	if !ok {
		return
	}

	var req buyRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	tendered, err := types.ParseMoney(req.Amount, h.market.Currency())
	if err != nil {
		h.writeError(w, r, &requestError{msg: err.Error()})
		return
	}

	o, err := h.market.Buy(r.Context(), caller(r), itemID, tendered)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, successEnvelope{Data: o})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.market.ListOrders(r.Context(), buyerParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, orders)
}

func (h *Handler) countOrders(w http.ResponseWriter, r *http.Request) {
	n, err := h.market.GetOrderCount(r.Context(), buyerParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, map[string]int64{"count": n})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseInt(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		h.writeError(w, r, &requestError{msg: "index must be an integer"})
		return
	}
	o, err := h.market.GetOrder(r.Context(), buyerParam(r), index)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, o)
}

func (h *Handler) getTreasury(w http.ResponseWriter, r *http.Request) {
	balance, err := h.market.TreasuryBalance(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, map[string]types.Money{"balance": balance})
}

func (h *Handler) listWithdrawals(w http.ResponseWriter, r *http.Request) {
	history, err := h.market.Withdrawals(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, history)
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	wd, err := h.market.Withdraw(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, wd)
}

func (h *Handler) itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, r, &requestError{msg: "item id must be an integer"})
		return 0, false
	}
	return itemID, true
}

// buyerParam parses the path identity. A blank value stays zero and reads
// as an empty history.
func buyerParam(r *http.Request) account.Account {
	a, _ := account.Parse(chi.URLParam(r, "buyer"))
	return a
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, &requestError{msg: "invalid integer"}
	}
	return n, nil
}
