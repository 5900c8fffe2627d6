package referee

import (
	"strings"
	"testing"
)

func TestExtractName(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		want   string
		found  bool
	}{
		{
			name:   "minimal wrapper shape",
			markup: `Referee</span><span><div><span>Michael Oliver</span>`,
			want:   "Michael Oliver",
			found:  true,
		},
		{
			name:   "surrounding whitespace trimmed",
			markup: "Referee</span><span>\n  <div>\n <span>  Anthony Taylor \n</span>",
			want:   "Anthony Taylor",
			found:  true,
		},
		{
			name: "attributes and nested label wrapper",
			markup: `<div class="Box"><span class="Text ktn">Referee</span>` +
				`<span class="Text"><div class="Box kfbdQB"><span class="Text hMVKix">Clément Turpin</span></div></span></div>`,
			want:  "Clément Turpin",
			found: true,
		},
		{
			name:   "no-break space between names",
			markup: "Referee</span><span><div><span>Michael\u00a0Oliver</span>",
			want:   "Michael Oliver",
			found:  true,
		},
		{
			name:   "apostrophe and hyphen",
			markup: `<span>referee</span><span><div><span>Jean-Paul O'Neill</span>`,
			want:   "Jean-Paul O'Neill",
			found:  true,
		},
		{
			name:   "swedish letters",
			markup: `REFEREE</span><span><div><span>Åsa Öberg</span>`,
			want:   "Åsa Öberg",
			found:  true,
		},
		{
			name:   "no label",
			markup: `<span><div><span>Michael Oliver</span></div></span>`,
			found:  false,
		},
		{
			name:   "label without wrapper shape",
			markup: `<span>Referee</span><span>Michael Oliver</span>`,
			found:  false,
		},
		{
			name:   "shape beyond the window",
			markup: `Referee</span>` + strings.Repeat("x", WindowSize+10) + `<span><div><span>Michael Oliver</span>`,
			found:  false,
		},
		{
			name:   "digits are not a name",
			markup: `Referee</span><span><div><span>Ref 123</span>`,
			found:  false,
		},
		{
			name:   "whitespace only capture",
			markup: "Referee</span><span><div><span>   \n </span>",
			found:  false,
		},
		{
			name:   "overlong capture",
			markup: `Referee</span><span><div><span>` + strings.Repeat("abcde ", 20) + `</span>`,
			found:  false,
		},
		{
			name:   "empty markup",
			markup: "",
			found:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractName(tt.markup)
			if ok != tt.found {
				t.Fatalf("ExtractName() found = %v, want %v (name %q)", ok, tt.found, got)
			}
			if got != tt.want {
				t.Errorf("ExtractName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractName_FirstSuccessfulWindow(t *testing.T) {
	// The first label has no usable shape in its window; the second does.
	markup := `<h2>Referee stats</h2>` + strings.Repeat(" ", WindowSize+5) +
		`<span>Referee</span><span><div><span>Stuart Attwell</span></div></span>` +
		`<span>Referee</span><span><div><span>Paul Tierney</span></div></span>`

	got, ok := ExtractName(markup)
	if !ok {
		t.Fatal("expected a match")
	}
	if got != "Stuart Attwell" {
		t.Errorf("ExtractName() = %q, want the first successful window", got)
	}
}

func TestLabelSnippet(t *testing.T) {
	markup := `<html>… <span>Referee</span><span>Jönsson</span>`
	got := LabelSnippet(markup, 20)
	if !strings.HasPrefix(got, "Referee") {
		t.Errorf("LabelSnippet should start at the label, got %q", got)
	}
	if len(got) > 20 {
		t.Errorf("LabelSnippet length = %d, want <= 20", len(got))
	}
	if LabelSnippet("<html></html>", 20) != "" {
		t.Error("LabelSnippet without a label should be empty")
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Michael Oliver", "M Oliver"},
		{"Pol", "Pol"},
		{"Jean-Paul Van Damme", "J Van Damme"},
		{"  Anthony   Taylor ", "A Taylor"},
		{"Michael John Oliver", "M Oliver"},
		{"Björn Kuipers", "B Kuipers"},
		{"Élodie de la Cruz", "É de la Cruz"},
		{"Jan de Vries", "J de Vries"},
		{"Danny Makkelie-Smith", "D Makkelie-Smith"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeKey(tt.in); got != tt.want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
