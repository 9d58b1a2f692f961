package domain

import "time"

// Invoice is the metadata of a rendered sale document. A sale may be
// invoiced more than once.
type Invoice struct {
	ID          int64     `db:"id" json:"id"`
	SaleID      int64     `db:"sale_id" json:"sale_id"`
	Number      string    `db:"number" json:"number"`
	InvoiceDate time.Time `db:"invoice_date" json:"invoice_date"`
	FilePath    string    `db:"file_path" json:"file_path"`
	SentEmail   bool      `db:"sent_email" json:"sent_email"`
	SentSMS     bool      `db:"sent_sms" json:"sent_sms"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
