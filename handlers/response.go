package handlers

// Response is the structured outcome of a command. It is what the
// idempotency store records, so a redelivered command returns the same
// response the first delivery produced.
type Response struct {
	Success    bool   `json:"success"`
	CheckoutID string `json:"checkout_id,omitempty"`
	OrderID    string `json:"order_id,omitempty"`
	Error      string `json:"error,omitempty"`
}
