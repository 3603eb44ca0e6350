package catalog

import "testing"

func TestListParams_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   ListParams
		want ListParams
	}{
		{
			name: "defaults",
			in:   ListParams{},
			want: ListParams{Sort: "id", Order: "desc", Page: 1, PerPage: DefaultPerPage},
		},
		{
			name: "unknown sort falls back to id",
			in:   ListParams{Sort: "password; DROP TABLE actors", Order: "ASC", Page: 3, PerPage: 10},
			want: ListParams{Sort: "id", Order: "asc", Page: 3, PerPage: 10},
		},
		{
			name: "invalid order and negative page",
			in:   ListParams{Search: "  Pitt ", Sort: "last_name", Order: "sideways", Page: -2},
			want: ListParams{Search: "Pitt", Sort: "last_name", Order: "desc", Page: 1, PerPage: DefaultPerPage},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalize()
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestListParams_OrderBy(t *testing.T) {
	tests := []struct {
		sort, order string
		want        string
	}{
		{"id", "desc", "a.id DESC"},
		{"last_name", "asc", "a.last_name ASC, a.first_name ASC, a.id DESC"},
		{"birth_date", "desc", "a.birth_date DESC NULLS LAST, a.id DESC"},
	}

	for _, tt := range tests {
		p := ListParams{Sort: tt.sort, Order: tt.order}.Normalize()
		if got := p.orderBy(); got != tt.want {
			t.Errorf("orderBy(%s %s): expected %q, got %q", tt.sort, tt.order, tt.want, got)
		}
	}
}

func TestEscapeLike(t *testing.T) {
	tests := map[string]string{
		"Matrix":    "Matrix",
		"100%":      `100\%`,
		"a_b":       `a\_b`,
		`back\none`: `back\\none`,
	}
	for in, want := range tests {
		if got := escapeLike(in); got != want {
			t.Errorf("escapeLike(%q): expected %q, got %q", in, want, got)
		}
	}
}
