package mirror

import (
	"context"
	"errors"

	"github.com/italolelis/ftpmirror/internal/transfer"
)

// List returns the names in the connection's working directory in server
// order. Blank entries are kept; callers decide what to do with them.
func List(ctx context.Context, conn transfer.SourceConn) ([]transfer.RemoteFileRef, error) {
	names, err := conn.List(ctx)
	if err != nil {
		var listErr *transfer.ListError
		if !errors.As(err, &listErr) {
			err = &transfer.ListError{Err: err}
		}

		return nil, err
	}

	refs := make([]transfer.RemoteFileRef, 0, len(names))
	for _, name := range names {
		refs = append(refs, transfer.RemoteFileRef{Name: name})
	}

	return refs, nil
}
