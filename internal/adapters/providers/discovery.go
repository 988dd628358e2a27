package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrModelUnavailable = errors.New("configured model is not available")

// ModelLister is implemented by backends that can report their models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
	Model() string
}

// CheckModel verifies that the backend serves its configured model.
// Backends that cannot list models pass unchecked.
func CheckModel(ctx context.Context, backend any) error {
	lister, ok := backend.(ModelLister)
	if !ok {
		return nil
	}
	models, err := lister.ListModels(ctx)
	if err != nil {
		return err
	}
	want := lister.Model()
	for _, m := range models {
		if sameModel(m, want) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q (found %d models)", ErrModelUnavailable, want, len(models))
}

// sameModel treats "name" and "name:latest" as the same Ollama tag.
func sameModel(a, b string) bool {
	norm := func(s string) string {
		return strings.TrimSuffix(strings.TrimSpace(s), ":latest")
	}
	return norm(a) == norm(b)
}
