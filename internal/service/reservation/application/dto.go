package application

// CheckoutItemInput 是下单请求里的一行。
type CheckoutItemInput struct {
	SellableItemID string `json:"itemId"`
	Quantity       int    `json:"quantity"`
}

// CheckoutRequest 是创建支付意图（下单）用例的输入。
type CheckoutRequest struct {
	StoreID    string              `json:"storeId"`
	CartID     string              `json:"cartId"`
	CustomerID string              `json:"customerId,omitempty"`
	CouponCode string              `json:"couponCode,omitempty"`
	Address    string              `json:"address"`
	Items      []CheckoutItemInput `json:"items"`
}

// CheckoutResponse 是下单成功后的输出。
type CheckoutResponse struct {
	OrderID         string `json:"orderId"`
	PaymentIntentID string `json:"paymentIntentId"`
	TotalCents      int64  `json:"totalCents"`
	Status          string `json:"status"`
}

// CreateReservationRequest 是创建购物车预占的输入。
type CreateReservationRequest struct {
	StoreID    string `json:"storeId"`
	CartID     string `json:"cartId"`
	ItemID     string `json:"itemId"`
	CustomerID string `json:"customerId,omitempty"`
	Quantity   int    `json:"quantity"`
	TTLMinutes int    `json:"ttlMinutes,omitempty"`
}

// CreateReservationResponse 携带新占用与剩余可售量。
type CreateReservationResponse struct {
	ReservationID      string `json:"reservationId"`
	Status             string `json:"status"`
	ExpiresAt          string `json:"expiresAt"`
	RemainingAvailable int    `json:"remainingAvailable"`
}

// SweepResult 是一轮过期清扫的汇总。
type SweepResult struct {
	Expired  int
	Released int
	Errors   []error
}
