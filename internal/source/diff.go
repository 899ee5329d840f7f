package source

import (
	"time"

	"github.com/google/uuid"

	"github.com/hamed0406/uptimebatch/internal/domain"
)

// Change is the outcome of comparing the source with the local list.
type Change struct {
	Added    []domain.Target
	Removed  []domain.Target
	Modified []domain.Target
	Merged   []domain.Target
}

func (c Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Modified) == 0
}

// Diff merges entries into current. Identity is the source id; URL, group
// and receiver are compared to detect modifications. Only targets that came
// from the source can be removed by it; inactive entries count as removed.
// Entries whose URL already exists locally are not added twice, and an
// external target moved onto a URL already in the list is removed.
func Diff(current []domain.Target, entries []Entry, now time.Time) Change {
	active := make(map[string]Entry, len(entries))
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		id := string(e.ID)
		if id == "" {
			id = domain.NormalizeHTTPURL(e.URL)
		}
		if !e.IsActive.Active() || !domain.ValidHTTPURL(e.URL) {
			continue
		}
		if _, dup := active[id]; !dup {
			order = append(order, id)
		}
		active[id] = e
	}

	var ch Change
	seenURL := map[string]bool{}
	for _, t := range current {
		if t.Origin != domain.OriginExternal {
			seenURL[domain.NormalizeHTTPURL(t.URL)] = true
		}
	}
	matched := map[string]bool{}
	for _, t := range current {
		if t.Origin != domain.OriginExternal {
			ch.Merged = append(ch.Merged, t)
			continue
		}
		e, ok := active[t.ExternalID]
		if !ok {
			ch.Removed = append(ch.Removed, t)
			continue
		}
		matched[t.ExternalID] = true

		url := domain.NormalizeHTTPURL(e.URL)
		if seenURL[url] {
			ch.Removed = append(ch.Removed, t)
			continue
		}
		if url != t.URL || e.CallbackName != t.Group || e.CallbackURL != t.ReceiverURL {
			if url != t.URL {
				t.Status = domain.StatusChecking
				t.LastCheckedAt = nil
				t.History = nil
			}
			t.URL = url
			t.Group = e.CallbackName
			t.ReceiverURL = e.CallbackURL
			ch.Modified = append(ch.Modified, t)
		}
		ch.Merged = append(ch.Merged, t)
		seenURL[url] = true
	}

	for _, id := range order {
		if matched[id] {
			continue
		}
		e := active[id]
		url := domain.NormalizeHTTPURL(e.URL)
		if seenURL[url] {
			continue
		}
		seenURL[url] = true
		t := domain.Target{
			ID:          domain.TargetID(uuid.NewString()),
			URL:         url,
			Status:      domain.StatusChecking,
			History:     []domain.CheckRecord{},
			CreatedAt:   now.UTC(),
			Origin:      domain.OriginExternal,
			ExternalID:  id,
			Group:       e.CallbackName,
			ReceiverURL: e.CallbackURL,
		}
		ch.Added = append(ch.Added, t)
		ch.Merged = append(ch.Merged, t)
	}
	return ch
}
