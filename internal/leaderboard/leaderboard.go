// Package leaderboard renders the paginated list of server boosters.
package leaderboard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
)

// Page is one page of a paginated list. Number is 1-based.
type Page[T any] struct {
	Items  []T
	Number int
	Total  int
	Offset int
}

// Paginate returns the given page of items. The page number is clamped into
// range, so an empty list still yields page 1 of 1.
func Paginate[T any](items []T, page, perPage int) Page[T] {
	if perPage <= 0 {
		perPage = 10
	}

	total := (len(items) + perPage - 1) / perPage
	if total == 0 {
		total = 1
	}

	page = max(1, min(page, total))

	start := min((page-1)*perPage, len(items))
	end := min(start+perPage, len(items))

	return Page[T]{
		Items:  items[start:end],
		Number: page,
		Total:  total,
		Offset: start,
	}
}

// Boosters returns the members that are boosting, longest-boosting first.
func Boosters(members []discord.Member) []discord.Member {
	boosters := make([]discord.Member, 0, len(members))
	for _, m := range members {
		if m.BoostedSince.IsValid() {
			boosters = append(boosters, m)
		}
	}

	sort.SliceStable(boosters, func(i, j int) bool {
		return boosters[i].BoostedSince.Time().Before(boosters[j].BoostedSince.Time())
	})

	return boosters
}

// Embed renders a page of boosters.
func Embed(page Page[discord.Member], now time.Time) discord.Embed {
	var desc strings.Builder
	if len(page.Items) == 0 {
		desc.WriteString("Nobody is boosting this server yet.")
	}

	for i, m := range page.Items {
		since := m.BoostedSince.Time()
		fmt.Fprintf(&desc, "**%d.** %s, boosting for %s (since <t:%d:D>)\n",
			page.Offset+i+1, m.User.Mention(), humanizeDays(now.Sub(since)), since.Unix())
	}

	return discord.Embed{
		Title:       "Server Boosters",
		Description: desc.String(),
		Color:       0xF47FFF,
		Footer: &discord.EmbedFooter{
			Text: fmt.Sprintf("Page %d of %d", page.Number, page.Total),
		},
	}
}

func humanizeDays(d time.Duration) string {
	days := int(d / (24 * time.Hour))
	switch days {
	case 0:
		return "less than a day"
	case 1:
		return "1 day"
	default:
		return fmt.Sprintf("%d days", days)
	}
}
