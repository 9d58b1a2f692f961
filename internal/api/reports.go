package api

import "net/http"

func (h *Handler) dailySales(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, stockManagers...) {
		return
	}
	day, err := parseDate("date", r.URL.Query().Get("date"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	totals, err := h.svc.Reports.Daily(r.Context(), day)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, totals)
}

func (h *Handler) monthlySales(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, stockManagers...) {
		return
	}
	day, err := parseDate("date", r.URL.Query().Get("date"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	totals, err := h.svc.Reports.Monthly(r.Context(), day)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, totals)
}

func (h *Handler) salesReport(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, stockManagers...) {
		return
	}
	q := r.URL.Query()
	from, err := parseDate("from", q.Get("from"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	to, err := parseDate("to", q.Get("to"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	entries, err := h.svc.Reports.SalesReport(r.Context(), from, to)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}
