package library

import (
	"time"

	"github.com/aura-webinar/screenrec/internal/models"
)

// DisplayItem is one library row as shown to the user.
type DisplayItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Duration  string `json:"duration"`
	ShareLink string `json:"share_link,omitempty"`
}

// Present projects entries to display rows in loc (nil = local time). It has no side effects.
func Present(entries []models.LibraryEntry, loc *time.Location) []DisplayItem {
	if loc == nil {
		loc = time.Local
	}
	out := make([]DisplayItem, 0, len(entries))
	for _, e := range entries {
		ts := e.Timestamp.In(loc)
		out = append(out, DisplayItem{
			ID:        e.ID,
			Title:     e.Name,
			Date:      ts.Format("2006-01-02"),
			Time:      ts.Format("15:04:05"),
			Duration:  models.FormatDuration(e.Duration),
			ShareLink: e.ShareLink,
		})
	}
	return out
}
