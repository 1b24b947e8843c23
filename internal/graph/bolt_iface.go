package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// resultIterator abstracts the subset of neo4j.ResultWithContext we use.
type resultIterator interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// sessionRunner abstracts the subset of neo4j.SessionWithContext we use.
type sessionRunner interface {
	Run(ctx context.Context, statement string, params map[string]any) (resultIterator, error)
	Close(ctx context.Context) error
}

// sessionFactory creates a new sessionRunner for a given context.
type sessionFactory func(ctx context.Context) sessionRunner

// boltSessionAdapter wraps a real neo4j.SessionWithContext to implement sessionRunner.
type boltSessionAdapter struct {
	session neo4j.SessionWithContext
}

func (a *boltSessionAdapter) Run(ctx context.Context, statement string, params map[string]any) (resultIterator, error) {
	return a.session.Run(ctx, statement, params)
}

func (a *boltSessionAdapter) Close(ctx context.Context) error {
	return a.session.Close(ctx)
}

// newBoltSessionFactory returns a sessionFactory backed by a real driver.
func newBoltSessionFactory(driver neo4j.DriverWithContext) sessionFactory {
	return func(ctx context.Context) sessionRunner {
		return &boltSessionAdapter{session: driver.NewSession(ctx, neo4j.SessionConfig{})}
	}
}
