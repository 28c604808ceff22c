package broker

import (
	"context"
	"fmt"

	"github.com/russianinvestments/invest-api-go-sdk/investgo"
	pb "github.com/russianinvestments/invest-api-go-sdk/proto"
)

// PlaceMarketOrder sends a market order for the symbol. Transport
// failures come back as ConnectivityError so the caller can queue the
// order instead of dropping it.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side Side, quantity int64) (*Fill, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("invalid quantity %d", quantity)
	}

	uid, err := c.resolveUID(symbol)
	if err != nil {
		c.connected.Store(false)
		return nil, &ConnectivityError{Op: "resolve instrument", Err: err}
	}

	orderID := investgo.CreateUid()
	req := &investgo.PostOrderRequestShort{
		InstrumentId: uid,
		Quantity:     quantity,
		AccountId:    c.AccountID(),
		OrderType:    pb.OrderType_ORDER_TYPE_MARKET,
		OrderId:      orderID,
	}

	direction := pb.OrderDirection_ORDER_DIRECTION_BUY
	if side == SideSell {
		direction = pb.OrderDirection_ORDER_DIRECTION_SELL
	}

	var resp *investgo.PostOrderResponse
	if c.cfg.IsSandbox() {
		sandbox := c.client.NewSandboxServiceClient()
		resp, err = sandbox.PostSandboxOrder(&investgo.PostOrderRequest{
			InstrumentId: req.InstrumentId,
			Quantity:     req.Quantity,
			Direction:    direction,
			AccountId:    req.AccountId,
			OrderType:    req.OrderType,
			OrderId:      req.OrderId,
		})
	} else {
		orders := c.client.NewOrdersServiceClient()
		if side == SideBuy {
			resp, err = orders.Buy(req)
		} else {
			resp, err = orders.Sell(req)
		}
	}
	if err != nil {
		c.connected.Store(false)
		return nil, &ConnectivityError{Op: string(side) + " order", Err: err}
	}
	c.connected.Store(true)

	fill := &Fill{
		OrderID:      resp.GetOrderId(),
		ExecutedLots: resp.GetLotsExecuted(),
	}
	if ep := resp.GetExecutedOrderPrice(); ep != nil {
		fill.ExecutedPrice = ep.ToFloat()
	}

	c.logger.Info("order executed",
		"symbol", symbol,
		"side", side,
		"lots", fill.ExecutedLots,
		"price", fill.ExecutedPrice)
	return fill, nil
}
