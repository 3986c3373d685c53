package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"tradeguard/internal/application/port"
	"tradeguard/internal/domain/model"
	"tradeguard/internal/infrastructure/exchange"
)

const Name = "binance"

// orderResponse POST /fapi/v1/order 响应（newOrderRespType=RESULT）
type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	ClientOrderID string `json:"clientOrderId"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
}

// positionRisk GET /fapi/v2/positionRisk 单条记录
type positionRisk struct {
	Symbol       string `json:"symbol"`
	PositionAmt  string `json:"positionAmt"`
	EntryPrice   string `json:"entryPrice"`
	PositionSide string `json:"positionSide"`
}

// accountResponse GET /fapi/v2/account 中用到的字段
type accountResponse struct {
	TotalMarginBalance string `json:"totalMarginBalance"`
	TotalWalletBalance string `json:"totalWalletBalance"`
}

// Gateway 通过 USDⓈ-M 合约 REST 接口下单和查询，实现 port.Gateway
type Gateway struct {
	client   *APIClient
	tickSize float64
}

var _ port.Gateway = (*Gateway)(nil)

// NewGateway tickSize 为下单价格精度，<= 0 时不做取整
func NewGateway(client *APIClient, tickSize float64) *Gateway {
	return &Gateway{client: client, tickSize: tickSize}
}

func (g *Gateway) Name() string { return Name }

// PlaceOrder 以 IOC 限价单下单。未成交即过期的订单按拒单处理
func (g *Gateway) PlaceOrder(ctx context.Context, req port.OrderRequest) (port.OrderResult, error) {
	if req.Quantity <= 0 {
		return port.OrderResult{Status: port.OrderErr}, &model.RejectedOrderError{Symbol: req.Symbol, Reason: "quantity must be positive"}
	}
	side := "BUY"
	if req.Side == model.SideShort {
		side = "SELL"
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", side)
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "IOC")
	params.Set("quantity", exchange.RoundToStep(req.Quantity, 0).String())
	params.Set("price", exchange.RoundToStep(req.Price, g.tickSize).String())
	params.Set("newOrderRespType", "RESULT")
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	body, err := g.client.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && !model.IsTransient(err) {
			return port.OrderResult{Status: port.OrderErr}, &model.RejectedOrderError{Symbol: req.Symbol, Code: apiErr.Code, Reason: apiErr.Msg}
		}
		return port.OrderResult{Status: port.OrderErr}, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return port.OrderResult{Status: port.OrderErr}, fmt.Errorf("decode order response: %w", err)
	}
	res := port.OrderResult{
		Status:    port.OrderOK,
		OrderID:   strconv.FormatInt(resp.OrderID, 10),
		FilledQty: parseFloat(resp.ExecutedQty),
		AvgPrice:  parseFloat(resp.AvgPrice),
	}
	if res.FilledQty <= 0 {
		res.Status = port.OrderErr
		return res, &model.RejectedOrderError{Symbol: req.Symbol, Reason: "order " + resp.Status + " without fill"}
	}
	if res.AvgPrice <= 0 {
		res.AvgPrice = req.Price
	}
	return res, nil
}

// QueryPositions 返回非零持仓。positionAmt 的符号决定方向
func (g *Gateway) QueryPositions(ctx context.Context) ([]model.ExchangePosition, error) {
	body, err := g.client.signedRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", nil)
	if err != nil {
		return nil, err
	}
	var rows []positionRisk
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode positionRisk: %w", err)
	}
	out := make([]model.ExchangePosition, 0, len(rows))
	for _, r := range rows {
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := model.SideLong
		if amt < 0 {
			side = model.SideShort
		}
		out = append(out, model.ExchangePosition{
			Symbol:     r.Symbol,
			Side:       side,
			Quantity:   math.Abs(amt),
			EntryPrice: parseFloat(r.EntryPrice),
		})
	}
	return out, nil
}

// QueryEquity 账户权益取 totalMarginBalance（钱包余额 + 未实现盈亏）
func (g *Gateway) QueryEquity(ctx context.Context) (float64, error) {
	body, err := g.client.signedRequest(ctx, http.MethodGet, "/fapi/v2/account", nil)
	if err != nil {
		return 0, err
	}
	var acc accountResponse
	if err := json.Unmarshal(body, &acc); err != nil {
		return 0, fmt.Errorf("decode account: %w", err)
	}
	if acc.TotalMarginBalance != "" {
		return parseFloat(acc.TotalMarginBalance), nil
	}
	return parseFloat(acc.TotalWalletBalance), nil
}
