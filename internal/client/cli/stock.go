package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/storekit/storesync/internal/models"
)

// RunStockAdjust обрабатывает 'stock-adjust': знаковая поправка остатка.
// Это единственный путь изменения количества; generic update количество
// не трогает.
func (c *Cli) RunStockAdjust(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stock-adjust", flag.ContinueOnError)
	product := fs.Uint64("product", 0, "Product local id (required)")
	delta := fs.Int64("delta", 0, "Signed quantity delta (required)")
	reason := fs.String("reason", models.StockReasonAdjustment, "Movement reason")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *product == 0 || *delta == 0 {
		return fmt.Errorf("missing arguments. Usage: storesync stock-adjust -product <localID> -delta <n> [-reason receipt]")
	}

	result, err := c.engine.UpdateStock(ctx, *product, *delta, *reason)
	if err != nil {
		return fmt.Errorf("failed to adjust stock: %w", err)
	}

	if result.Synced {
		fmt.Printf("Stock adjusted: product %d now at %d (movement %d, synced)\n",
			*product, result.Quantity, result.MovementLocalID)
	} else {
		fmt.Printf("Stock adjustment queued: movement %d waits for sync; server quantity unchanged until confirmed\n",
			result.MovementLocalID)
	}
	return nil
}
