package handler

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mark-c-hall/movieshelf/internal/models"
)

var imdbPattern = regexp.MustCompile(`^nm\d{7,8}$`)

// actorFields are the form keys of the actor editor.
var actorFields = []string{
	"first_name", "last_name", "birth_date", "birth_place", "death_date",
	"nationality", "bio", "website", "imdb_id", "tmdb_id",
}

// formValues collects the trimmed actor fields from a request form.
func formValues(get func(string) string) map[string]string {
	values := make(map[string]string, len(actorFields))
	for _, f := range actorFields {
		values[f] = strings.TrimSpace(get(f))
	}
	return values
}

// actorFormValues is the inverse of parseActorInput, used to prefill the editor.
func actorFormValues(a models.Actor) map[string]string {
	values := map[string]string{
		"first_name":  a.FirstName,
		"last_name":   a.LastName,
		"birth_date":  isoDate(a.BirthDate),
		"birth_place": a.BirthPlace,
		"death_date":  isoDate(a.DeathDate),
		"nationality": a.Nationality,
		"bio":         a.Bio,
		"website":     a.Website,
		"imdb_id":     a.IMDbID,
		"tmdb_id":     "",
	}
	if a.TmdbID != nil {
		values["tmdb_id"] = strconv.Itoa(*a.TmdbID)
	}
	return values
}

// parseActorInput validates the editor fields. All problems are reported,
// not only the first.
func parseActorInput(values map[string]string) (models.ActorInput, []string) {
	var errs []string
	in := models.ActorInput{
		FirstName:   values["first_name"],
		LastName:    values["last_name"],
		BirthPlace:  values["birth_place"],
		Nationality: values["nationality"],
		Bio:         values["bio"],
		Website:     values["website"],
		IMDbID:      values["imdb_id"],
	}

	if in.FirstName == "" && in.LastName == "" {
		errs = append(errs, "Vor- oder Nachname ist erforderlich")
	}

	var ok bool
	if in.BirthDate, ok = parseFormDate(values["birth_date"]); !ok {
		errs = append(errs, "Ungültiges Geburtsdatum (Format: JJJJ-MM-TT)")
	}
	if in.DeathDate, ok = parseFormDate(values["death_date"]); !ok {
		errs = append(errs, "Ungültiges Sterbedatum (Format: JJJJ-MM-TT)")
	}
	if in.BirthDate != nil && in.DeathDate != nil && in.DeathDate.Before(*in.BirthDate) {
		errs = append(errs, "Das Sterbedatum liegt vor dem Geburtsdatum")
	}

	if in.Website != "" {
		u, err := url.Parse(in.Website)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, "Ungültige Website-URL (http oder https)")
		}
	}

	if in.IMDbID != "" && !imdbPattern.MatchString(in.IMDbID) {
		errs = append(errs, "Ungültige IMDb-ID (Format: nm1234567)")
	}

	if raw := values["tmdb_id"]; raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id <= 0 {
			errs = append(errs, "Ungültige TMDb-ID")
		} else {
			in.TmdbID = &id
		}
	}

	return in, errs
}

// parseFormDate accepts an empty value or YYYY-MM-DD.
func parseFormDate(s string) (*time.Time, bool) {
	if s == "" {
		return nil, true
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, false
	}
	return &t, true
}
