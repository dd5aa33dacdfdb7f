package cmd

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/Aman-CERP/docindex/pkg/docindex"
)

// OrdersEntity is the entity of generated documents.
const OrdersEntity = "Orders"

// orderGenerator produces deterministic synthetic orders.
type orderGenerator struct {
	customers int
	lines     int
	start     time.Time
	seed      uint64
}

func newOrderGenerator(customers, lines int, seed uint64) *orderGenerator {
	return &orderGenerator{
		customers: max(customers, 1),
		lines:     max(lines, 0),
		start:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		seed:      seed,
	}
}

// order returns the i-th order. The same i always yields the same document.
func (g *orderGenerator) order(i int) *docindex.Document {
	rng := rand.New(rand.NewPCG(g.seed, uint64(i)))

	lines := make([]any, g.lines)
	total := 0.0
	for l := range lines {
		qty := 1 + rng.IntN(5)
		price := float64(rng.IntN(10_000)) / 100
		total += float64(qty) * price
		lines[l] = map[string]any{
			"Product":  fmt.Sprintf("products/%d", rng.IntN(500)),
			"Quantity": qty,
			"Price":    price,
		}
	}

	shipping := time.Duration(rng.Int64N(int64(72*time.Hour))).Truncate(time.Second)
	payload := map[string]any{
		"Customer": fmt.Sprintf("customers/%d", rng.IntN(g.customers)),
		"Total":    float64(int(total*100)) / 100,
		"Placed":   g.start.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
		"Shipping": docindex.FormatTimeSpan(shipping),
		"Lines":    lines,
	}
	if rng.IntN(10) == 0 {
		payload["Shipping"] = nil
	}
	return &docindex.Document{ID: fmt.Sprintf("orders/%d", i), Entity: OrdersEntity, Payload: payload}
}

// orderLinesIndex maps every order line to an entry, so an order with n
// lines fans out into n entries.
func orderLinesIndex(name string) *docindex.Definition {
	return &docindex.Definition{
		Name: name,
		Fields: []docindex.Field{
			{Name: "Order"},
			{Name: "Product"},
			{Name: "Quantity", Kind: docindex.FieldNumber},
		},
		Maps: []docindex.Map{{
			Entity: OrdersEntity,
			Mapper: docindex.MapFunc(func(doc *docindex.Document) ([]docindex.Draft, error) {
				lines, _ := doc.Payload["Lines"].([]any)
				drafts := make([]docindex.Draft, 0, len(lines))
				for _, raw := range lines {
					line, _ := raw.(map[string]any)
					drafts = append(drafts, docindex.Draft{Fields: map[string]any{
						"Order":    doc.ID,
						"Product":  line["Product"],
						"Quantity": line["Quantity"],
					}})
				}
				return drafts, nil
			}),
		}},
	}
}

// ordersByTotalIndex maps every order to one entry keyed by its total.
func ordersByTotalIndex(name string) *docindex.Definition {
	return &docindex.Definition{
		Name: name,
		Fields: []docindex.Field{
			{Name: "Customer"},
			{Name: "Total", Kind: docindex.FieldNumber},
			{Name: "Shipping", Kind: docindex.FieldDuration},
		},
		Maps: []docindex.Map{{
			Entity: OrdersEntity,
			Mapper: docindex.MapFunc(func(doc *docindex.Document) ([]docindex.Draft, error) {
				return []docindex.Draft{{Fields: map[string]any{
					"Customer": doc.Payload["Customer"],
					"Total":    doc.Payload["Total"],
					"Shipping": doc.Payload["Shipping"],
				}}}, nil
			}),
		}},
	}
}
