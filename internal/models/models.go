package models

import (
	"strings"
	"time"
)

type Actor struct {
	ID          int        `json:"id"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	Slug        string     `json:"slug"`
	BirthDate   *time.Time `json:"birth_date,omitempty"`
	BirthPlace  string     `json:"birth_place"`
	DeathDate   *time.Time `json:"death_date,omitempty"`
	Nationality string     `json:"nationality"`
	Bio         string     `json:"bio"`
	PhotoPath   string     `json:"photo_path"`
	IMDbID      string     `json:"imdb_id"`
	TmdbID      *int       `json:"tmdb_id,omitempty"`
	Website     string     `json:"website"`
	ViewCount   int        `json:"view_count"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (a Actor) FullName() string {
	return FullName(a.FirstName, a.LastName)
}

func FullName(first, last string) string {
	return strings.TrimSpace(first + " " + last)
}

// ActorInput carries the editable fields of an actor. An empty PhotoPath
// leaves the stored photo untouched on update.
type ActorInput struct {
	FirstName   string
	LastName    string
	BirthDate   *time.Time
	BirthPlace  string
	DeathDate   *time.Time
	Nationality string
	Bio         string
	PhotoPath   string
	IMDbID      string
	TmdbID      *int
	Website     string
}

type ActorListItem struct {
	ID          int        `json:"id"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	Slug        string     `json:"slug"`
	BirthDate   *time.Time `json:"birth_date,omitempty"`
	BirthPlace  string     `json:"birth_place"`
	Nationality string     `json:"nationality"`
	PhotoPath   string     `json:"photo_path"`
	ViewCount   int        `json:"view_count"`
	CreatedAt   time.Time  `json:"created_at"`
	FilmCount   int        `json:"film_count"`
}

func (a ActorListItem) FullName() string {
	return FullName(a.FirstName, a.LastName)
}

type ActorCard struct {
	ID        int
	FirstName string
	LastName  string
	Slug      string
	BirthYear int
	PhotoPath string
}

func (a ActorCard) FullName() string {
	return FullName(a.FirstName, a.LastName)
}

// SortName is the name an actor is filed under in the alphabet index.
func (a ActorCard) SortName() string {
	if a.LastName != "" {
		return a.LastName
	}
	return a.FirstName
}

type Film struct {
	ID           int       `json:"id"`
	Title        string    `json:"title"`
	Year         int       `json:"year"`
	Genre        string    `json:"genre"`
	CoverID      string    `json:"cover_id"`
	CoverPath    string    `json:"cover_path,omitempty"`
	Runtime      int       `json:"runtime"`
	RatingAge    int       `json:"rating_age"`
	TrailerURL   string    `json:"trailer_url,omitempty"`
	BoxsetParent *int      `json:"boxset_parent,omitempty"`
	Deleted      bool      `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type CastMember struct {
	ActorID    int    `json:"id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Slug       string `json:"slug"`
	Role       string `json:"role"`
	IsMainRole bool   `json:"is_main_role"`
	SortOrder  int    `json:"sort_order"`
}

func (c CastMember) FullName() string {
	return FullName(c.FirstName, c.LastName)
}

type FilmographyEntry struct {
	Film
	Role       string `json:"role"`
	IsMainRole bool   `json:"is_main_role"`
}

type FilmSummary struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	Year      int    `json:"year"`
	CoverPath string `json:"cover_path"`
}

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type User struct {
	ID           int
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

type Session struct {
	Token     string
	UserID    int
	Username  string
	Role      string
	CSRFToken string
	ExpiresAt time.Time
}

func (s Session) IsAdmin() bool {
	return s.Role == RoleAdmin
}
