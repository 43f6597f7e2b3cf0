package datasource

import "context"

// Repository is the external collaborator that persists DataSource
// descriptors. dsengine never picks a concrete store; an embedder wires
// in whatever it already uses (SQL, a CRD, a config file watcher, ...).
type Repository interface {
	GetAllIDs(ctx context.Context) ([]string, error)
	GetAll(ctx context.Context) ([]DataSource, error)
	Get(ctx context.Context, id string) (DataSource, error)
	Save(ctx context.Context, ds DataSource) error
	Delete(ctx context.Context, id string) error
}
