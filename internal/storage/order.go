package storage

import (
	"sort"

	"github.com/xaenox/memo-web/internal/models"
)

// sortNotes orders pinned notes first and keeps insertion order otherwise.
func sortNotes(notes []*models.Note) {
	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].Pinned != notes[j].Pinned {
			return notes[i].Pinned
		}
		return notes[i].Seq < notes[j].Seq
	})
}

// window applies offset/limit to an already ordered slice. A zero limit
// means no limit.
func window(notes []*models.Note, offset, limit int) []*models.Note {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(notes) {
		return []*models.Note{}
	}
	notes = notes[offset:]
	if limit > 0 && limit < len(notes) {
		notes = notes[:limit]
	}
	return notes
}
