package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ntptech/invoice-collector/internal/export"
	"github.com/ntptech/invoice-collector/internal/models"
)

func (r *Router) exportInvoices(req *http.Request) ([]*models.InvoiceRecord, error) {
	// The in-memory result (with attachment statuses fresh) wins over the
	// disk cache
	if invoices, ok := r.ops.getLast(); ok {
		return invoices, nil
	}
	return r.store.LoadInvoices()
}

func (r *Router) exportExcel(w http.ResponseWriter, req *http.Request) {
	invoices, err := r.exportInvoices(req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	data, err := export.ExcelReport(invoices)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	filename := fmt.Sprintf("invoices_%s.xlsx", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Write(data)
}

func (r *Router) exportPDF(w http.ResponseWriter, req *http.Request) {
	invoices, err := r.exportInvoices(req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	data, err := export.PDFReport(invoices)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	filename := fmt.Sprintf("invoices_%s.pdf", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Write(data)
}
