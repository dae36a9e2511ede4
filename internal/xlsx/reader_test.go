package xlsx

import "testing"

func TestRowsFromRawIndexesFromHeader(t *testing.T) {
	raw := [][]string{
		{"reservation_id", "guest_name"},
		{"r1", "Alice"},
		{"r2", "Bob"},
	}
	rows, err := rowsFromRaw(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Index != 2 || rows[0].Values["reservation_id"] != "r1" {
		t.Fatalf("unexpected first row: %+v", rows[0])
	}
	if rows[1].Index != 3 {
		t.Fatalf("expected second row indexed 3, got %d", rows[1].Index)
	}
}

func TestRowsFromRawEmptySheet(t *testing.T) {
	cases := [][][]string{
		nil,
		{{"reservation_id"}},
	}
	for _, raw := range cases {
		if _, err := rowsFromRaw(raw); err != ErrEmptySheet {
			t.Fatalf("expected ErrEmptySheet, got %v", err)
		}
	}
}

func TestRowsFromRawPadsShortRows(t *testing.T) {
	raw := [][]string{
		{"reservation_id", "guest_name"},
		{"r1"},
	}
	rows, err := rowsFromRaw(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rows[0].Values["guest_name"] != "" {
		t.Fatalf("expected missing trailing cell to be empty, got %q", rows[0].Values["guest_name"])
	}
}
