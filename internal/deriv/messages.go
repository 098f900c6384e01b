package deriv

import (
	"encoding/json"

	"derivbot/internal/domain"
)

// Message is one inbound frame from the venue. Err is set when the frame
// carries the venue's structured error envelope; the frame is still a valid
// correlated response in that case.
type Message struct {
	MsgType string
	ReqID   int64
	Err     *APIError
	Raw     json.RawMessage
}

// Decode unmarshals the full frame into v.
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Raw, v)
}

type envelope struct {
	MsgType string    `json:"msg_type"`
	ReqID   int64     `json:"req_id"`
	Error   *APIError `json:"error"`
}

func parseMessage(data []byte) (*Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &Message{
		MsgType: env.MsgType,
		ReqID:   env.ReqID,
		Err:     env.Error,
		Raw:     json.RawMessage(data),
	}, nil
}

// HistoryResponse answers a ticks_history request in candle style.
type HistoryResponse struct {
	Candles []domain.Candle `json:"candles"`
}

// ProposalResponse is the price quote required before a purchase.
type ProposalResponse struct {
	Proposal struct {
		ID           string  `json:"id"`
		AskPrice     float64 `json:"ask_price"`
		Payout       float64 `json:"payout"`
		DisplayValue string  `json:"display_value"`
		Spot         float64 `json:"spot"`
	} `json:"proposal"`
}

// BuyResponse confirms a contract purchase.
type BuyResponse struct {
	Buy struct {
		ContractID    int64   `json:"contract_id"`
		TransactionID int64   `json:"transaction_id"`
		EntryTick     float64 `json:"entry_tick"`
		Price         float64 `json:"buy_price"`
		Payout        float64 `json:"payout"`
		BalanceAfter  float64 `json:"balance_after"`
		Longcode      string  `json:"longcode"`
	} `json:"buy"`
}

func authorizeRequest(token string) map[string]any {
	return map[string]any{"authorize": token}
}

func pingRequest() map[string]any {
	return map[string]any{"ping": 1}
}

// HistoryRequest fetches the most recent count candles for symbol at the
// given granularity in seconds.
func HistoryRequest(symbol string, granularity, count int) map[string]any {
	return map[string]any{
		"ticks_history":     symbol,
		"style":             "candles",
		"granularity":       granularity,
		"count":             count,
		"end":               "latest",
		"start":             1,
		"adjust_start_time": 1,
	}
}

// ProposalRequest quotes a stake-basis contract in USD with a duration in
// minutes.
func ProposalRequest(amount float64, contractType domain.ContractType, symbol string, durationMinutes int) map[string]any {
	return map[string]any{
		"proposal":      1,
		"amount":        amount,
		"basis":         "stake",
		"contract_type": string(contractType),
		"currency":      "USD",
		"duration":      durationMinutes,
		"duration_unit": "m",
		"symbol":        symbol,
	}
}

// BuyRequest purchases the quoted proposal at up to price.
func BuyRequest(proposalID string, price float64) map[string]any {
	return map[string]any{
		"buy":   proposalID,
		"price": price,
	}
}
