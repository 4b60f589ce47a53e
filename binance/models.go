package binance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rustyeddy/futures/broker"
)

// wireOrder is the venue order envelope. Prices and quantities arrive as
// strings.
type wireOrder struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	Price         string `json:"price"`
	StopPrice     string `json:"stopPrice"`
	ActivatePrice string `json:"activatePrice"`
	PriceRate     string `json:"priceRate"`
	OrigQty       string `json:"origQty"`
	ReduceOnly    bool   `json:"reduceOnly"`
	UpdateTime    int64  `json:"updateTime"`
}

func (w wireOrder) order() broker.Order {
	return broker.Order{
		OrderID:       w.OrderID,
		ClientOrderID: w.ClientOrderID,
		Symbol:        w.Symbol,
		Side:          broker.Side(w.Side),
		Type:          broker.OrderType(w.Type),
		Status:        broker.OrderStatus(w.Status),
		Price:         atof(w.Price),
		StopPrice:     atof(w.StopPrice),
		ActivatePrice: atof(w.ActivatePrice),
		CallbackRate:  atof(w.PriceRate),
		Quantity:      atof(w.OrigQty),
		ReduceOnly:    w.ReduceOnly,
		Time:          time.UnixMilli(w.UpdateTime),
	}
}

type wirePosition struct {
	Symbol           string `json:"symbol"`
	PositionSide     string `json:"positionSide"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	UnrealizedProfit string `json:"unrealizedProfit"`
}

func (w wirePosition) record() broker.PositionRecord {
	return broker.PositionRecord{
		Symbol:           w.Symbol,
		PositionSide:     w.PositionSide,
		PositionAmt:      atof(w.PositionAmt),
		EntryPrice:       atof(w.EntryPrice),
		UnrealizedProfit: atof(w.UnrealizedProfit),
	}
}

type wireAccount struct {
	TotalWalletBalance string         `json:"totalWalletBalance"`
	AvailableBalance   string         `json:"availableBalance"`
	Positions          []wirePosition `json:"positions"`
}

func (w wireAccount) snapshot() broker.AccountSnapshot {
	positions := make([]broker.PositionRecord, len(w.Positions))
	for i, p := range w.Positions {
		positions[i] = p.record()
	}
	return broker.AccountSnapshot{
		Balance:          atof(w.TotalWalletBalance),
		AvailableBalance: atof(w.AvailableBalance),
		Positions:        positions,
		Time:             time.Now(),
	}
}

// klineFromRow parses one row of the REST kline response:
// [openTime, open, high, low, close, volume, closeTime, ...].
func klineFromRow(row []any) (broker.Kline, error) {
	if len(row) < 7 {
		return broker.Kline{}, fmt.Errorf("binance: short kline row (%d fields)", len(row))
	}
	openMs, ok := row[0].(float64)
	if !ok {
		return broker.Kline{}, fmt.Errorf("binance: bad kline open time %T", row[0])
	}
	closeMs, ok := row[6].(float64)
	if !ok {
		return broker.Kline{}, fmt.Errorf("binance: bad kline close time %T", row[6])
	}

	vals := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		s, ok := row[i].(string)
		if !ok {
			return broker.Kline{}, fmt.Errorf("binance: bad kline field %d: %T", i, row[i])
		}
		vals[i-1] = atof(s)
	}

	return broker.Kline{
		OpenTime:  time.UnixMilli(int64(openMs)),
		CloseTime: time.UnixMilli(int64(closeMs)),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

// --- websocket payloads ---

// streamEnvelope wraps combined-stream messages.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type wsBookTicker struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
	Time     int64  `json:"E"`
}

type wsAggTrade struct {
	Symbol string `json:"s"`
	Price  string `json:"p"`
	Time   int64  `json:"T"`
}

type wsKlineEvent struct {
	Symbol string  `json:"s"`
	Kline  wsKline `json:"k"`
}

type wsKline struct {
	OpenTime  int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
	Closed    bool   `json:"x"`
}

func (k wsKline) kline() broker.Kline {
	return broker.Kline{
		OpenTime:  time.UnixMilli(k.OpenTime),
		CloseTime: time.UnixMilli(k.CloseTime),
		Open:      atof(k.Open),
		High:      atof(k.High),
		Low:       atof(k.Low),
		Close:     atof(k.Close),
		Volume:    atof(k.Volume),
		Closed:    k.Closed,
	}
}

// userEvent is the user-data stream envelope; only the event type is decoded
// up front.
type userEvent struct {
	EventType string `json:"e"`
}

type wsAccountUpdate struct {
	Time int64 `json:"E"`
	Data struct {
		Balances []struct {
			Asset              string `json:"a"`
			WalletBalance      string `json:"wb"`
			CrossWalletBalance string `json:"cw"`
		} `json:"B"`
		Positions []struct {
			Symbol           string `json:"s"`
			PositionAmt      string `json:"pa"`
			EntryPrice       string `json:"ep"`
			UnrealizedProfit string `json:"up"`
			PositionSide     string `json:"ps"`
		} `json:"P"`
	} `json:"a"`
}

type wsOrderUpdate struct {
	Time  int64 `json:"E"`
	Order struct {
		Symbol        string `json:"s"`
		ClientOrderID string `json:"c"`
		Side          string `json:"S"`
		Type          string `json:"o"`
		Quantity      string `json:"q"`
		Price         string `json:"p"`
		StopPrice     string `json:"sp"`
		Status        string `json:"X"`
		OrderID       int64  `json:"i"`
		ReduceOnly    bool   `json:"R"`
		ActivatePrice string `json:"AP"`
		CallbackRate  string `json:"cr"`
	} `json:"o"`
}

func (u wsOrderUpdate) order() broker.Order {
	o := u.Order
	return broker.Order{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          broker.Side(o.Side),
		Type:          broker.OrderType(o.Type),
		Status:        broker.OrderStatus(o.Status),
		Price:         atof(o.Price),
		StopPrice:     atof(o.StopPrice),
		ActivatePrice: atof(o.ActivatePrice),
		CallbackRate:  atof(o.CallbackRate),
		Quantity:      atof(o.Quantity),
		ReduceOnly:    o.ReduceOnly,
		Time:          time.UnixMilli(u.Time),
	}
}

func atof(s string) float64 {
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
