package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/storekit/storesync/pkg/api"
)

// RunResolve обрабатывает 'resolve <entity> <localID> <strategy>':
// развязку зафиксированного конфликта версий. Для merge объединенный
// payload читается из файла -merged.
func (c *Cli) RunResolve(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: storesync resolve <entity> <localID> <acceptServer|acceptClient|merge> [mergedPayloadFile]")
	}

	entity := args[0]
	localID, err := parseLocalID(args[1])
	if err != nil {
		return err
	}
	strategy := args[2]

	var merged json.RawMessage
	if strategy == api.ResolutionMerge {
		if len(args) < 4 {
			return fmt.Errorf("merge requires a merged payload file")
		}
		content, err := os.ReadFile(args[3])
		if err != nil {
			return fmt.Errorf("failed to read merged payload: %w", err)
		}
		merged = json.RawMessage(content)
	}

	if err := c.engine.Resolve(ctx, entity, localID, strategy, merged); err != nil {
		return fmt.Errorf("failed to resolve conflict: %w", err)
	}

	fmt.Printf("Conflict on %s/%d resolved with %s\n", entity, localID, strategy)
	return nil
}
