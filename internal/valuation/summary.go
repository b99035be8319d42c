package valuation

import (
	"sort"
	"strings"
	"time"

	"stock-ledger/internal/models"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Summary splits the value of positive stock by expiry status. Sellable
// includes the expiring-soon bucket.
type Summary struct {
	SellableValue     decimal.Decimal `json:"sellable_value"`
	ExpiringSoonValue decimal.Decimal `json:"expiring_soon_value"`
	ExpiredValue      decimal.Decimal `json:"expired_value"`
	AlertPeriodDays   int             `json:"alert_period_days"`
	AsOf              string          `json:"as_of"`
}

// OverviewRow is the stock position of one product
type OverviewRow struct {
	Name          string  `json:"name"`
	Type          *string `json:"type,omitempty"`
	TotalQuantity int64   `json:"total_quantity"`
	ExpireSoon    int64   `json:"expire_soon"`
}

type expiryStatus int

const (
	expiryUnknown expiryStatus = iota
	expiryGood
	expirySoon
	expiryPast
)

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// classify places an expiry date relative to today and the alert window.
// Expiry strings that are not dates are unknown and counted nowhere.
func classify(expiry string, today time.Time, alertDays int) expiryStatus {
	if len(expiry) > len(dateLayout) {
		expiry = expiry[:len(dateLayout)]
	}
	date, err := time.ParseInLocation(dateLayout, expiry, today.Location())
	if err != nil {
		return expiryUnknown
	}

	alertEnd := today.AddDate(0, 0, alertDays)
	switch {
	case date.Before(today):
		return expiryPast
	case date.Before(alertEnd):
		return expirySoon
	default:
		return expiryGood
	}
}

// Summarize values every positive batch that has a known product. A NULL
// price counts as zero here, unlike the grand total.
func Summarize(products []models.Product, stock []models.Stock, now time.Time, alertDays int) Summary {
	prices := make(map[string]int64, len(products))
	known := make(map[string]bool, len(products))
	for _, p := range products {
		known[p.Name] = true
		if p.Price != nil {
			prices[p.Name] = *p.Price
		}
	}

	today := startOfDay(now)
	good, soon, past := decimal.Zero, decimal.Zero, decimal.Zero
	for _, st := range stock {
		if st.Quantity <= 0 || !known[st.Name] {
			continue
		}
		value := decimal.NewFromInt(st.Quantity).Mul(decimal.NewFromInt(prices[st.Name]))
		switch classify(st.Expiry, today, alertDays) {
		case expiryGood:
			good = good.Add(value)
		case expirySoon:
			soon = soon.Add(value)
		case expiryPast:
			past = past.Add(value)
		}
	}

	return Summary{
		SellableValue:     good.Add(soon),
		ExpiringSoonValue: soon,
		ExpiredValue:      past,
		AlertPeriodDays:   alertDays,
		AsOf:              today.Format(dateLayout),
	}
}

// Overview lists products with positive total stock, with the quantity that
// expires inside the alert window, ordered by name ignoring case.
func Overview(products []models.Product, stock []models.Stock, now time.Time, alertDays int) []OverviewRow {
	types := make(map[string]*string, len(products))
	for _, p := range products {
		types[p.Name] = p.Type
	}

	today := startOfDay(now)
	byName := make(map[string]*OverviewRow)
	for _, st := range stock {
		typ, ok := types[st.Name]
		if !ok {
			continue
		}
		row := byName[st.Name]
		if row == nil {
			row = &OverviewRow{Name: st.Name, Type: typ}
			byName[st.Name] = row
		}
		row.TotalQuantity += st.Quantity
		if classify(st.Expiry, today, alertDays) == expirySoon {
			row.ExpireSoon += st.Quantity
		}
	}

	rows := make([]OverviewRow, 0, len(byName))
	for _, row := range byName {
		if row.TotalQuantity > 0 {
			rows = append(rows, *row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := strings.ToLower(rows[i].Name), strings.ToLower(rows[j].Name)
		if a == b {
			return rows[i].Name < rows[j].Name
		}
		return a < b
	})
	return rows
}
