package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vanshika/fintrace/txnengine/internal/config"
	"github.com/vanshika/fintrace/txnengine/internal/graph"
)

// Open builds the backend named in cfg.Store.Backend.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return NewMemory(), nil
	case "postgres":
		return OpenPostgres(ctx, cfg.Postgres, logger)
	case "neo4j":
		client, err := graph.NewNeo4jClient(ctx, graph.OptionsFromConfig(cfg.Graph))
		if err != nil {
			return nil, err
		}
		return NewGraph(client), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
