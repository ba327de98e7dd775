// internal/events/types.go
package events

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventType represents the type of event.
type EventType string

const (
	// Trade events
	TokenBuy  EventType = "market.buy"
	TokenSell EventType = "market.sell"
	TokenFees EventType = "market.fees"

	// Lifecycle events
	MarketGraduated EventType = "market.graduated"
	TokenRegistered EventType = "factory.registered"
	TokenDeployed   EventType = "factory.deployed"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// NewBase stamps an event of type t with the current UTC time.
func NewBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now().UTC()}
}

// TradeEvent is emitted for every buy (TokenBuy) and sell (TokenSell).
// For sells Fee is zero and NetEth equals TotalEth.
type TradeEvent struct {
	BaseEvent
	Token            common.Address
	Trader           common.Address
	Recipient        common.Address
	OrderReferrer    common.Address
	TotalEth         *uint256.Int // value sent (buy) or paid out (sell)
	Fee              *uint256.Int
	NetEth           *uint256.Int
	TokenAmount      *uint256.Int
	ResultingBalance *uint256.Int // recipient (buy) or trader (sell) balance after the trade
	TotalSupply      *uint256.Int
	Price            *uint256.Int // marginal price after the trade, wei per token
	Comment          string
	MarketType       string
}

// FeesEvent carries the per-recipient split of a buy's fee.
type FeesEvent struct {
	BaseEvent
	Token                common.Address
	TokenCreator         common.Address
	PlatformReferrer     common.Address
	OrderReferrer        common.Address
	ProtocolFeeRecipient common.Address
	OriginFeeRecipient   common.Address
	TokenCreatorFee      *uint256.Int
	PlatformReferrerFee  *uint256.Int
	OrderReferrerFee     *uint256.Int
	ProtocolFee          *uint256.Int
	OriginFee            *uint256.Int
	TotalFee             *uint256.Int
}

// GraduatedEvent is emitted once, when a market moves into its pool.
type GraduatedEvent struct {
	BaseEvent
	Token          common.Address
	Pool           common.Address
	EthLiquidity   *uint256.Int
	TokenLiquidity *uint256.Int
	PositionID     uint64
	MarketType     string
}

// RegisteredEvent is emitted when content metadata is registered.
type RegisteredEvent struct {
	BaseEvent
	ContentID        string
	Token            common.Address
	Creator          common.Address
	PlatformReferrer common.Address
	Name             string
	Symbol           string
	URI              string
}

// DeployedEvent is emitted when a registered token's market is created.
type DeployedEvent struct {
	BaseEvent
	ContentID string
	Token     common.Address
	Creator   common.Address
}
