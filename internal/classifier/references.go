package classifier

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kursadbilgin/callscreen/internal/domain"
)

// Reference is a labeled screen fragment the visual classifier looks for.
type Reference struct {
	Status domain.Status
	Image  []byte
}

var referenceOrder = []struct {
	status   domain.Status
	required bool
}{
	{status: domain.StatusAllowed, required: true},
	{status: domain.StatusBlocked, required: true},
	{status: domain.StatusCaution, required: false},
}

// LoadReferences reads <dir>/<appPackage>/<status>-part.png in match
// priority order. The caution fragment is optional.
func LoadReferences(dir string, appPackage string) ([]Reference, error) {
	base := filepath.Join(dir, filepath.Base(appPackage))
	refs := make([]Reference, 0, len(referenceOrder))

	for _, entry := range referenceOrder {
		path := filepath.Join(base, entry.status.String()+"-part.png")
		image, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && !entry.required {
				continue
			}
			return nil, fmt.Errorf("failed to read %s reference for %s: %w", entry.status, appPackage, err)
		}
		refs = append(refs, Reference{Status: entry.status, Image: image})
	}

	return refs, nil
}
