package models

import "github.com/shopspring/decimal"

// AlertPath addresses one user's rule.
type AlertPath struct {
	User   string `param:"user" json:"-" validate:"required,max=64"`
	Symbol string `param:"symbol" json:"-" validate:"required,max=15"`
}

type ListAlertsRequest struct {
	User string `param:"user" json:"-" validate:"required,max=64"`
}

// UpsertAlertRequest carries a partial threshold update; absent fields keep
// their current value.
type UpsertAlertRequest struct {
	AlertPath
	High *decimal.Decimal `json:"high" validate:"omitempty,positive"`
	Low  *decimal.Decimal `json:"low" validate:"omitempty,positive"`
}

// LimitRequest sets exactly one side of the band.
type LimitRequest struct {
	AlertPath
	Price *decimal.Decimal `json:"price" validate:"required,positive"`
}

type PriceRequest struct {
	Symbol string `param:"symbol" json:"-" validate:"required,max=15"`
}

type PriceHistoryRequest struct {
	Symbol string `param:"symbol" json:"-" validate:"required,max=15"`
	From   string `query:"from" json:"from"`
	To     string `query:"to" json:"to"`
	Limit  int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=10000"`
}

// RemoveAlertResponse reports whether a rule existed.
type RemoveAlertResponse struct {
	Removed bool `json:"removed"`
}
