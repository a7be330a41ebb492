package history

import "context"

// Source hydrates the local history log before dedup runs. The strategy is
// picked by configuration: local-only, or local plus a remote artifact merge
// for ephemeral execution environments.
type Source interface {
	Hydrate(ctx context.Context) error
}

// LocalSource relies entirely on the local log file.
type LocalSource struct{}

func (LocalSource) Hydrate(context.Context) error { return nil }
