package cli

import (
	"context"
	"fmt"
)

// RunDrain обрабатывает 'drain': проигрывание офлайн-очереди на сервер.
func (c *Cli) RunDrain(ctx context.Context, args []string) error {
	fmt.Println("=== Drain ===")
	fmt.Println()

	stats, err := c.engine.Drain(ctx)
	if err != nil {
		return fmt.Errorf("drain aborted: %w", err)
	}

	fmt.Printf("Pushed:    %d\n", stats.Pushed)
	fmt.Printf("Conflicts: %d\n", stats.Conflicts)
	fmt.Printf("Skipped:   %d (still queued, will retry)\n", stats.Skipped)
	fmt.Printf("Failures:  %d\n", len(stats.Failures))

	if len(stats.Failures) > 0 {
		fmt.Println()
		for _, f := range stats.Failures {
			fmt.Printf("  %s/%d: %s\n", f.Entity, f.LocalID, f.Message)
		}
	}
	if stats.Conflicts > 0 {
		fmt.Println()
		fmt.Println("Run 'storesync resolve <entity> <localID> <acceptServer|acceptClient>' to settle conflicts.")
	}
	return nil
}
