package cryptocloud

// CreateInvoiceRequest запрос на создание счёта.
type CreateInvoiceRequest struct {
	ShopID      string `json:"shop_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	OrderID     string `json:"order_id"`
	Description string `json:"desc,omitempty"`
}

// Invoice созданный счёт.
type Invoice struct {
	UUID string `json:"uuid"`
	Link string `json:"link"`
}

type createInvoiceResponse struct {
	Status string  `json:"status"`
	Result Invoice `json:"result"`
}

type invoiceInfoRequest struct {
	UUIDs []string `json:"uuids"`
}

// InvoiceInfo состояние счёта у провайдера.
type InvoiceInfo struct {
	UUID   string `json:"uuid"`
	Status string `json:"status"`
}

type invoiceInfoResponse struct {
	Status string        `json:"status"`
	Result []InvoiceInfo `json:"result"`
}

// Paid сообщает, оплачен ли счёт. Переплата считается оплатой.
func (i InvoiceInfo) Paid() bool {
	return i.Status == "paid" || i.Status == "overpaid"
}
