package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"flipbook/pkg/domain"
	"flipbook/pkg/store"
)

const (
	fallbackSlug  = "flipbook"
	maxSlugProbes = 1000
)

// Slugify lowercases title and collapses every run of characters outside
// [a-z0-9] into a single hyphen.
func Slugify(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	pendingHyphen := false
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	if b.Len() == 0 {
		return fallbackSlug
	}
	return b.String()
}

func slugCandidate(base string, n int) string {
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, n)
}

// createWithUniqueSlug inserts doc under the first free slug derived from
// its title. A concurrent insert that wins the unique index pushes this one
// to the next suffix.
func (a *App) createWithUniqueSlug(ctx context.Context, doc domain.Document) (domain.Document, error) {
	base := Slugify(doc.Title)
	for n := 0; n < maxSlugProbes; n++ {
		candidate := slugCandidate(base, n)
		taken, err := a.store.SlugExists(ctx, candidate)
		if err != nil {
			return domain.Document{}, err
		}
		if taken {
			continue
		}
		doc.Slug = candidate
		err = a.store.CreateDocument(ctx, doc)
		if errors.Is(err, store.ErrSlugTaken) {
			continue
		}
		if err != nil {
			return domain.Document{}, err
		}
		return doc, nil
	}
	return domain.Document{}, fmt.Errorf("%w: no free slug for %q after %d attempts", domain.ErrPersistence, base, maxSlugProbes)
}
