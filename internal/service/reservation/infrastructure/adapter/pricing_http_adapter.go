package adapter

import (
	"context"

	"github.com/pkg/errors"

	"bazaar/internal/pkg/httpclient"
	"bazaar/internal/service/reservation/domain/port"
)

// HTTPPricingAdapter 通过 HTTP 调用外部定价引擎。
// 引擎负责整条定价链（基准价、店铺覆盖、动态定价、优惠券），
// 本服务只消费它的结论。
type HTTPPricingAdapter struct {
	client     *httpclient.Client
	resolveURL string
}

func NewHTTPPricingAdapter(client *httpclient.Client, resolveURL string) *HTTPPricingAdapter {
	return &HTTPPricingAdapter{client: client, resolveURL: resolveURL}
}

type resolvePriceRequest struct {
	StoreID        string `json:"storeId"`
	SellableItemID string `json:"sellableItemId"`
	Quantity       int    `json:"quantity"`
	CouponCode     string `json:"couponCode,omitempty"`
}

func (a *HTTPPricingAdapter) ResolvePrice(ctx context.Context, storeID, itemID string, quantity int, couponCode string) (*port.PricedLine, error) {
	req := resolvePriceRequest{
		StoreID:        storeID,
		SellableItemID: itemID,
		Quantity:       quantity,
		CouponCode:     couponCode,
	}
	var line port.PricedLine
	if err := a.client.PostJSON(ctx, a.resolveURL, req, &line); err != nil {
		return nil, errors.Wrapf(err, "resolve price for item %s", itemID)
	}
	if line.UnitPriceCents < 0 {
		return nil, errors.Errorf("pricing engine returned negative price for item %s", itemID)
	}
	return &line, nil
}
