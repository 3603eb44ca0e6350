// Package profile holds the presentation logic behind actor, film and
// trailer pages.
package profile

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"
	"golang.org/x/net/html"

	"github.com/mark-c-hall/movieshelf/internal/models"
	"github.com/mark-c-hall/movieshelf/internal/slug"
)

const (
	metaBioLength = 150
	topGenreCount = 5
)

type AgeInfo struct {
	Years    int
	Deceased bool
}

func (a AgeInfo) String() string {
	if a.Deceased {
		return fmt.Sprintf("✝ %d Jahre", a.Years)
	}
	return fmt.Sprintf("%d Jahre", a.Years)
}

// Age computes completed years from birth until death or now. It returns
// false when birth is unknown.
func Age(birth, death *time.Time, now time.Time) (AgeInfo, bool) {
	if birth == nil {
		return AgeInfo{}, false
	}
	end := now
	info := AgeInfo{}
	if death != nil {
		end = *death
		info.Deceased = true
	}

	years := end.Year() - birth.Year()
	if end.Month() < birth.Month() || (end.Month() == birth.Month() && end.Day() < birth.Day()) {
		years--
	}
	if years < 0 {
		years = 0
	}
	info.Years = years
	return info, true
}

type GenreCount struct {
	Name  string
	Count int
}

type Stats struct {
	TotalFilms int
	MainRoles  int
	TopGenres  []GenreCount
	FirstYear  int
	LastYear   int
}

// YearSpan renders the first and last film year, or "" without years.
func (s Stats) YearSpan() string {
	if s.FirstYear == 0 || s.LastYear == 0 {
		return ""
	}
	return fmt.Sprintf("%d - %d", s.FirstYear, s.LastYear)
}

func ComputeStats(films []models.FilmographyEntry) Stats {
	stats := Stats{TotalFilms: len(films)}
	genres := map[string]int{}

	for _, f := range films {
		if f.IsMainRole {
			stats.MainRoles++
		}
		for _, g := range strings.Split(f.Genre, ",") {
			if g = strings.TrimSpace(g); g != "" {
				genres[g]++
			}
		}
		if f.Year > 0 {
			if stats.FirstYear == 0 || f.Year < stats.FirstYear {
				stats.FirstYear = f.Year
			}
			if f.Year > stats.LastYear {
				stats.LastYear = f.Year
			}
		}
	}

	for name, count := range genres {
		stats.TopGenres = append(stats.TopGenres, GenreCount{Name: name, Count: count})
	}
	sort.Slice(stats.TopGenres, func(i, j int) bool {
		a, b := stats.TopGenres[i], stats.TopGenres[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Name < b.Name
	})
	if len(stats.TopGenres) > topGenreCount {
		stats.TopGenres = stats.TopGenres[:topGenreCount]
	}
	return stats
}

// StripTags returns the text content of an HTML fragment.
func StripTags(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		}
	}
}

func MetaDescription(name, bio string) string {
	desc := "Profil von " + name
	text := strings.TrimSpace(StripTags(bio))
	if text == "" {
		return desc
	}
	runes := []rune(text)
	if len(runes) > metaBioLength {
		runes = runes[:metaBioLength]
	}
	return desc + " - " + string(runes)
}

func FormatRuntime(minutes int) string {
	if minutes <= 0 {
		return ""
	}
	h, m := minutes/60, minutes%60
	if h == 0 {
		return fmt.Sprintf("%dmin", m)
	}
	return fmt.Sprintf("%dh %dmin", h, m)
}

var youtubeHosts = map[string]bool{
	"youtube.com": true, "www.youtube.com": true, "m.youtube.com": true,
	"youtu.be": true, "www.youtube-nocookie.com": true,
}

// YouTubeEmbedURL converts watch, short and embed links to an embed URL.
// Links to other hosts yield "".
func YouTubeEmbedURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !youtubeHosts[strings.ToLower(u.Host)] {
		return ""
	}
	id, err := youtube.ExtractVideoID(u.String())
	if err != nil {
		return ""
	}
	return "https://www.youtube.com/embed/" + id
}

type LetterGroup struct {
	Letter string
	Actors []models.ActorCard
}

// GroupByLetter buckets cards by index letter, A to Z with "#" last. The
// input order is kept within each group.
func GroupByLetter(cards []models.ActorCard) []LetterGroup {
	index := map[string]int{}
	var groups []LetterGroup
	for _, c := range cards {
		l := slug.Letter(c.SortName())
		i, ok := index[l]
		if !ok {
			i = len(groups)
			index[l] = i
			groups = append(groups, LetterGroup{Letter: l})
		}
		groups[i].Actors = append(groups[i].Actors, c)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i].Letter, groups[j].Letter
		if a == "#" || b == "#" {
			return b == "#" && a != "#"
		}
		return a < b
	})
	return groups
}

// Alphabet is the letter navigation of the public index.
func Alphabet() []string {
	letters := make([]string, 0, 26)
	for c := 'A'; c <= 'Z'; c++ {
		letters = append(letters, string(c))
	}
	return letters
}
