package handler

import (
	"slices"
	"testing"

	"github.com/mark-c-hall/movieshelf/internal/models"
)

func TestParseActorInput(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]string
		errs   []string
	}{
		{
			name:   "minimal",
			values: map[string]string{"last_name": "Adorf"},
		},
		{
			name:   "no name",
			values: map[string]string{"nationality": "Deutsch"},
			errs:   []string{"Vor- oder Nachname ist erforderlich"},
		},
		{
			name: "death before birth",
			values: map[string]string{
				"first_name": "Götz", "birth_date": "1938-07-23", "death_date": "1930-01-01",
			},
			errs: []string{"Das Sterbedatum liegt vor dem Geburtsdatum"},
		},
		{
			name: "bad dates",
			values: map[string]string{
				"first_name": "Götz", "birth_date": "1938-13-01", "death_date": "gestern",
			},
			errs: []string{
				"Ungültiges Geburtsdatum (Format: JJJJ-MM-TT)",
				"Ungültiges Sterbedatum (Format: JJJJ-MM-TT)",
			},
		},
		{
			name:   "website without scheme",
			values: map[string]string{"first_name": "Götz", "website": "www.example.org"},
			errs:   []string{"Ungültige Website-URL (http oder https)"},
		},
		{
			name:   "ftp website",
			values: map[string]string{"first_name": "Götz", "website": "ftp://example.org"},
			errs:   []string{"Ungültige Website-URL (http oder https)"},
		},
		{
			name:   "imdb title id",
			values: map[string]string{"first_name": "Götz", "imdb_id": "tt0082096"},
			errs:   []string{"Ungültige IMDb-ID (Format: nm1234567)"},
		},
		{
			name:   "eight digit imdb id",
			values: map[string]string{"first_name": "Götz", "imdb_id": "nm10000001"},
		},
		{
			name:   "negative tmdb id",
			values: map[string]string{"first_name": "Götz", "tmdb_id": "-3"},
			errs:   []string{"Ungültige TMDb-ID"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errs := parseActorInput(tt.values)
			if !slices.Equal(errs, tt.errs) {
				t.Errorf("expected errors %q, got %q", tt.errs, errs)
			}
		})
	}
}

func TestParseActorInput_Values(t *testing.T) {
	in, errs := parseActorInput(map[string]string{
		"first_name": "Hanna",
		"last_name":  "Schygulla",
		"birth_date": "1943-12-25",
		"tmdb_id":    "4617",
		"website":    "https://example.org",
	})
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if in.BirthDate == nil || in.BirthDate.Year() != 1943 {
		t.Errorf("expected birth year 1943, got %v", in.BirthDate)
	}
	if in.DeathDate != nil {
		t.Errorf("expected no death date, got %v", in.DeathDate)
	}
	if in.TmdbID == nil || *in.TmdbID != 4617 {
		t.Errorf("expected tmdb id 4617, got %v", in.TmdbID)
	}
}

func TestFormValuesRoundTrip(t *testing.T) {
	values := map[string]string{
		"first_name": "Hanna", "last_name": "Schygulla", "birth_date": "1943-12-25",
		"birth_place": "Königshütte", "death_date": "", "nationality": "Deutsch",
		"bio": "", "website": "", "imdb_id": "nm0778478", "tmdb_id": "4617",
	}
	in, errs := parseActorInput(values)
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}

	var a models.Actor
	newFakeCatalog().applyInput(&a, in)
	got := actorFormValues(a)
	for k, want := range values {
		if got[k] != want {
			t.Errorf("field %s: expected %q, got %q", k, want, got[k])
		}
	}
}
