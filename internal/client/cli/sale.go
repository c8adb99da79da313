package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/storekit/storesync/internal/models"
)

// RunSaleAdd обрабатывает 'sale-add': оформление продажи на кассе.
// Позиции задаются как productLocalID:quantity; продажа коммитится
// локально мгновенно, даже без сети.
func (c *Cli) RunSaleAdd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sale-add", flag.ContinueOnError)
	items := fs.String("items", "", "Comma-separated items as <productLocalID>:<quantity> (required)")
	payment := fs.String("payment", "cash", "Payment method")
	customerID := fs.Uint64("customer", 0, "Customer local id (optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *items == "" {
		return fmt.Errorf("missing -items. Usage: storesync sale-add -items 1:2,3:1 [-payment cash]")
	}

	saleItems, total, err := c.parseSaleItems(ctx, *items)
	if err != nil {
		return err
	}

	sale := models.Sale{
		Items:   saleItems,
		Payment: *payment,
		Status:  models.SaleStatusCompleted,
		Total:   total,
	}
	if *customerID != 0 {
		customer, err := c.store.GetByLocalID(ctx, c.tenantID, models.EntityCustomer, *customerID)
		if err != nil {
			return fmt.Errorf("customer %d not found: %w", *customerID, err)
		}
		if customer.Promoted() {
			sale.CustomerID = customer.ServerID
		} else {
			sale.CustomerLocalID = customer.LocalID
		}
	}

	payload, err := json.Marshal(&sale)
	if err != nil {
		return err
	}

	result, err := c.engine.Create(ctx, models.EntitySale, payload)
	if err != nil {
		return fmt.Errorf("failed to record sale: %w", err)
	}

	fmt.Printf("Sale recorded: local id %d, total %.2f, %s\n", result.LocalID, total, syncedMark(result.Synced))
	return nil
}

// RunSaleVoid обрабатывает 'sale-void <localID>': отмена продажи.
func (c *Cli) RunSaleVoid(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing sale id. Usage: storesync sale-void <localID>")
	}
	localID, err := parseLocalID(args[0])
	if err != nil {
		return err
	}

	if err := c.engine.VoidSale(ctx, localID); err != nil {
		return fmt.Errorf("failed to void sale: %w", err)
	}

	fmt.Printf("Sale %d voided; stock restored\n", localID)
	return nil
}

// parseSaleItems превращает "1:2,3:1" в позиции продажи по локальному
// каталогу. Промоушенные товары идут по server id, остальные по local id.
func (c *Cli) parseSaleItems(ctx context.Context, spec string) ([]models.SaleItem, float64, error) {
	var saleItems []models.SaleItem
	var total float64

	for _, part := range strings.Split(spec, ",") {
		pieces := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(pieces) != 2 {
			return nil, 0, fmt.Errorf("invalid item %q, expected <productLocalID>:<quantity>", part)
		}
		productLocalID, err := strconv.ParseUint(pieces[0], 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid product id in %q", part)
		}
		quantity, err := strconv.ParseInt(pieces[1], 10, 64)
		if err != nil || quantity <= 0 {
			return nil, 0, fmt.Errorf("invalid quantity in %q", part)
		}

		product, err := c.store.GetByLocalID(ctx, c.tenantID, models.EntityProduct, productLocalID)
		if err != nil {
			return nil, 0, fmt.Errorf("product %d not found: %w", productLocalID, err)
		}
		var p models.Product
		if err := json.Unmarshal(product.Payload, &p); err != nil {
			return nil, 0, fmt.Errorf("failed to decode product %d: %w", productLocalID, err)
		}

		item := models.SaleItem{
			Quantity:  quantity,
			UnitPrice: p.Price,
		}
		if product.Promoted() {
			item.ProductID = product.ServerID
		} else {
			item.ProductLocalID = product.LocalID
		}
		saleItems = append(saleItems, item)
		total += float64(quantity) * p.Price
	}

	return saleItems, total, nil
}
