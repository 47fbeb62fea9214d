package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side of a resting level or an order. Wire values follow the gateway
// protocol: "b" for bid/buy, "s" for ask/sell.
type Side string

const (
	SideBid Side = "b"
	SideAsk Side = "s"
)

// Valid reports whether s is one of the two protocol side values.
func (s Side) Valid() bool {
	return s == SideBid || s == SideAsk
}

// Opposite returns the other book side.
func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

// Order statuses as stored in the authoritative order table.
const (
	OrderStatusOpen     = "o"
	OrderStatusMatched  = "m"
	OrderStatusFilled   = "f"
	OrderStatusCanceled = "c"
	OrderStatusExpired  = "e"
)

// LiquidityLevel is a single resting price level streamed by a maker.
type LiquidityLevel struct {
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	ExpiresAt int64           `json:"expires"`
	OwnerID   string          `json:"owner_id"`
}

// Expired reports whether the level is past its expiry at the given time.
func (l LiquidityLevel) Expired(now time.Time) bool {
	return l.ExpiresAt > 0 && l.ExpiresAt <= now.Unix()
}

// BookLevel is one aggregated (price, size) entry of a consolidated book.
type BookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// ConsolidatedBook is the periodically rebuilt merged view of all makers'
// resting liquidity for one market. Bids are sorted descending by price,
// asks ascending. Mid is the size-weighted mid price of the bounded book
// (zero when one side is empty).
type ConsolidatedBook struct {
	Market    string          `json:"market"`
	Bids      []BookLevel     `json:"bids"`
	Asks      []BookLevel     `json:"asks"`
	Mid       decimal.Decimal `json:"mid"`
	Timestamp int64           `json:"timestamp"`
}

// TopOfBook is the O(1) level-1 view.
type TopOfBook struct {
	BestBid decimal.Decimal `json:"best_bid"`
	BestAsk decimal.Decimal `json:"best_ask"`
}

// Order mirrors the authoritative order row consumed from the relational
// store. Matching here only ever reads open rows and transitions them to
// matched; everything else about the row belongs to the limit-order engine.
type Order struct {
	ChainID        int64           `json:"chain_id" gorm:"primaryKey;column:chainid"`
	OrderID        int64           `json:"order_id" gorm:"primaryKey;column:id"`
	Owner          string          `json:"owner" gorm:"column:userid;index"`
	Market         string          `json:"market" gorm:"column:market;index"`
	Side           Side            `json:"side" gorm:"column:side"`
	Price          decimal.Decimal `json:"price" gorm:"column:price;type:numeric"`
	BaseQuantity   decimal.Decimal `json:"base_quantity" gorm:"column:base_quantity;type:numeric"`
	QuoteQuantity  decimal.Decimal `json:"quote_quantity" gorm:"column:quote_quantity;type:numeric"`
	RemainingBase  decimal.Decimal `json:"remaining_base" gorm:"column:unfilled;type:numeric"`
	RemainingQuote decimal.Decimal `json:"remaining_quote" gorm:"column:unfilled_quote;type:numeric"`
	Status         string          `json:"status" gorm:"column:order_status;index"`
	Expires        int64           `json:"expires" gorm:"column:expires"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

// Fill is one matched-fill row inserted when an auction selects a winner.
type Fill struct {
	ID           int64           `json:"id" gorm:"primaryKey;autoIncrement"`
	ChainID      int64           `json:"chain_id" gorm:"column:chainid;index"`
	OrderID      int64           `json:"order_id" gorm:"column:taker_order_id;index"`
	Market       string          `json:"market" gorm:"column:market"`
	Side         Side            `json:"side" gorm:"column:side"`
	Amount       decimal.Decimal `json:"amount" gorm:"column:amount;type:numeric"`
	Price        decimal.Decimal `json:"price" gorm:"column:price;type:numeric"`
	MakerID      string          `json:"maker_id" gorm:"column:maker_user_id"`
	TakerID      string          `json:"taker_id" gorm:"column:taker_user_id"`
	Status       string          `json:"status" gorm:"column:fill_status"`
	RoutingToken string          `json:"routing_token" gorm:"column:routing_token"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (Fill) TableName() string { return "fills" }

// FillOffer is a maker's answer to a broadcast fill intent: the quote
// amount it will trade for the order's remaining base. Consumed exactly
// once, either selected as winner or discarded.
type FillOffer struct {
	MakerID      string          `json:"maker_id"`
	Amount       decimal.Decimal `json:"amount"`
	RoutingToken string          `json:"routing_token"`
}

// MakerBusyLock marks a maker that has won an auction and is awaiting
// settlement confirmation. While present the maker may not win again and
// may not push liquidity. Expires only by store TTL.
type MakerBusyLock struct {
	OrderID      int64  `json:"order_id"`
	RoutingToken string `json:"routing_token"`
}

// MarketInfo is the static per-market configuration the engine needs:
// display precision, flat fees, and the fallback minimum level size used
// when no USD price is known for the base asset.
type MarketInfo struct {
	Market        string          `json:"market" yaml:"market" mapstructure:"market"`
	BaseAsset     string          `json:"base_asset" yaml:"base_asset" mapstructure:"base_asset"`
	QuoteAsset    string          `json:"quote_asset" yaml:"quote_asset" mapstructure:"quote_asset"`
	PriceDecimals int32           `json:"price_decimals" yaml:"price_decimals" mapstructure:"price_decimals"`
	BaseFee       decimal.Decimal `json:"base_fee" yaml:"base_fee" mapstructure:"base_fee"`
	QuoteFee      decimal.Decimal `json:"quote_fee" yaml:"quote_fee" mapstructure:"quote_fee"`
	MinBaseSize   decimal.Decimal `json:"min_base_size" yaml:"min_base_size" mapstructure:"min_base_size"`
}

// LastPriceEntry is one element of the per-chain lastprice broadcast.
type LastPriceEntry struct {
	Market      string          `json:"market"`
	Price       decimal.Decimal `json:"price"`
	Change      decimal.Decimal `json:"change"`
	QuoteVolume decimal.Decimal `json:"quote_volume"`
	BaseVolume  decimal.Decimal `json:"base_volume"`
}

// OrderStatusUpdate is one element of the orderstatus broadcast.
type OrderStatusUpdate struct {
	ChainID       int64            `json:"chain_id"`
	OrderID       int64            `json:"order_id"`
	Status        string           `json:"status"`
	RemainingBase *decimal.Decimal `json:"remaining_base,omitempty"`
}
