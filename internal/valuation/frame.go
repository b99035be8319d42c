package valuation

import (
	"sort"

	"stock-ledger/internal/models"

	"github.com/shopspring/decimal"
)

// group is one row of the stock extent grouped by product name
type group struct {
	Name     string
	TotalQty int64
}

// filterStock drops batches whose product name is in excluded
func filterStock(stock []models.Stock, excluded map[string]struct{}) []models.Stock {
	out := make([]models.Stock, 0, len(stock))
	for _, st := range stock {
		if _, skip := excluded[st.Name]; skip {
			continue
		}
		out = append(out, st)
	}
	return out
}

// groupByName sums quantity per name, sorted by name ascending
func groupByName(stock []models.Stock) []group {
	totals := make(map[string]int64)
	for _, st := range stock {
		totals[st.Name] += st.Quantity
	}

	groups := make([]group, 0, len(totals))
	for name, qty := range totals {
		groups = append(groups, group{Name: name, TotalQty: qty})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups
}

// joinPrices left-joins the groups with the product prices and computes
// total_value. A missing product or a NULL price leaves total_value NULL and
// is reported as an anomaly.
func joinPrices(groups []group, products []models.Product) ([]Row, []Anomaly) {
	prices := make(map[string]*int64, len(products))
	for _, p := range products {
		prices[p.Name] = p.Price
	}

	rows := make([]Row, 0, len(groups))
	var anomalies []Anomaly
	for _, g := range groups {
		row := Row{Name: g.Name, TotalQty: g.TotalQty}

		price, found := prices[g.Name]
		switch {
		case !found:
			anomalies = append(anomalies, Anomaly{Kind: AnomalyMissingProduct, Name: g.Name, TotalQty: g.TotalQty})
		case price == nil:
			anomalies = append(anomalies, Anomaly{Kind: AnomalyMissingPrice, Name: g.Name, TotalQty: g.TotalQty})
		default:
			p := *price
			value := decimal.NewFromInt(g.TotalQty).Mul(decimal.NewFromInt(p))
			row.Price = &p
			row.TotalValue = &value
		}
		rows = append(rows, row)
	}
	return rows, anomalies
}

// sumValues adds every non-NULL total_value; no rows sum to zero
func sumValues(rows []Row) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		if r.TotalValue != nil {
			total = total.Add(*r.TotalValue)
		}
	}
	return total
}
