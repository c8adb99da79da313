package cli

import (
	"context"
	"fmt"

	"github.com/storekit/storesync/internal/models"
)

// RunStatus обрабатывает 'status': состояние офлайн-очереди.
func (c *Cli) RunStatus(ctx context.Context, args []string) error {
	fmt.Println("=== Sync Status ===")
	fmt.Println()
	fmt.Printf("Store: %s\n", c.tenantID)
	fmt.Println()

	queued, err := c.store.AllNeedingSync(ctx, c.tenantID)
	if err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}

	if len(queued) == 0 {
		fmt.Println("All records synchronized with server.")
		return nil
	}

	perEntity := make(map[string]int)
	conflicts := 0
	for _, record := range queued {
		perEntity[record.Entity]++
		if record.Conflicted {
			conflicts++
		}
	}

	fmt.Printf("Pending sync: %d record(s)\n", len(queued))
	for _, entity := range models.Entities {
		if n := perEntity[entity]; n > 0 {
			fmt.Printf("  %-16s %d\n", entity, n)
		}
	}
	if conflicts > 0 {
		fmt.Println()
		fmt.Printf("Conflicts: %d record(s) need a resolution\n", conflicts)
	}
	fmt.Println()
	fmt.Println("Run 'storesync drain' to push the queue.")
	return nil
}
