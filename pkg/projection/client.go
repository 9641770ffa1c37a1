// Package projection mirrors the entity graph into Neo4j or Memgraph over Bolt.
// The mirror is never read by the core and can be rebuilt from events.
package projection

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/fern/internal/tracing"
)

// Writer runs one write statement in its own transaction.
type Writer interface {
	Write(ctx context.Context, cypher string, params map[string]any) error
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Client wraps the Neo4j driver.
type Client struct {
	driver neo4j.DriverWithContext
	logger ectologger.Logger
}

func NewClient(cfg Config, logger ectologger.Logger) (*Client, error) {
	uri := fmt.Sprintf("bolt://%s:%d", cfg.Host, cfg.Port)

	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph driver: %w", err)
	}

	return &Client{
		driver: driver,
		logger: logger,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) VerifyConnectivity(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

func (c *Client) Write(ctx context.Context, cypher string, params map[string]any) error {
	ctx, span := tracing.StartSpan(ctx, "projection.Client.Write")
	defer span.End()

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	return err
}
