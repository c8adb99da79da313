package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"

	"github.com/storekit/storesync/internal/models"
)

// RunProductAdd обрабатывает 'product-add': создание товара в каталоге.
// Товар сохраняется локально и сразу пригоден к продаже; промоция на
// сервер идет следом или через drain.
func (c *Cli) RunProductAdd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("product-add", flag.ContinueOnError)
	name := fs.String("name", "", "Product name (required)")
	sku := fs.String("sku", "", "Stock keeping unit")
	category := fs.String("category", "", "Category")
	price := fs.Float64("price", 0, "Sale price")
	cost := fs.Float64("cost", 0, "Purchase cost")
	quantity := fs.Int64("quantity", 0, "Initial quantity on hand")
	minStock := fs.Int64("min-stock", 0, "Reorder floor")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *name == "" {
		return fmt.Errorf("missing -name. Usage: storesync product-add -name <name> [-sku ...] [-price ...]")
	}

	payload, err := json.Marshal(&models.Product{
		Name:     *name,
		SKU:      *sku,
		Category: *category,
		Price:    *price,
		Cost:     *cost,
		Quantity: *quantity,
		MinStock: *minStock,
		Active:   true,
	})
	if err != nil {
		return err
	}

	result, err := c.engine.Create(ctx, models.EntityProduct, payload)
	if err != nil {
		return fmt.Errorf("failed to add product: %w", err)
	}

	fmt.Printf("Product %q added: local id %d, %s\n", *name, result.LocalID, syncedMark(result.Synced))
	return nil
}

// RunProductList обрабатывает 'product-list': локальный каталог.
func (c *Cli) RunProductList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("product-list", flag.ContinueOnError)
	category := fs.String("category", "", "Filter by category")
	lowStock := fs.Bool("low-stock", false, "Only products at or below their reorder floor")
	if err := fs.Parse(args); err != nil {
		return err
	}

	records, err := c.store.FindByTenant(ctx, c.tenantID, models.EntityProduct, func(r *models.Record) bool {
		return !r.Tombstone && r.Active
	})
	if err != nil {
		return fmt.Errorf("failed to list products: %w", err)
	}

	fmt.Println("=== Products ===")
	fmt.Println()

	shown := 0
	for _, record := range records {
		var p models.Product
		if err := json.Unmarshal(record.Payload, &p); err != nil {
			continue
		}
		if *category != "" && p.Category != *category {
			continue
		}
		if *lowStock && !p.LowStock() {
			continue
		}
		shown++

		state := "synced"
		switch {
		case record.Conflicted:
			state = "CONFLICT"
		case record.NeedsSync:
			state = "pending"
		}

		fmt.Printf("%d. %s\n", record.LocalID, p.Name)
		if p.SKU != "" {
			fmt.Printf("   SKU:      %s\n", p.SKU)
		}
		fmt.Printf("   Price:    %.2f\n", p.Price)
		fmt.Printf("   Quantity: %d", p.Quantity)
		if p.LowStock() {
			fmt.Printf("  (LOW STOCK, floor %d)", p.MinStock)
		}
		fmt.Println()
		fmt.Printf("   Sync:     %s\n", state)
		fmt.Println()
	}

	if shown == 0 {
		fmt.Println("No products found.")
		return nil
	}
	fmt.Printf("Total: %d product(s)\n", shown)
	return nil
}
