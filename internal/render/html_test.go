package render

import (
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	r := NewHTMLRenderer()

	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "empty input",
			html: "",
			want: "",
		},
		{
			name: "plain paragraph",
			html: "<p>Hello world</p>",
			want: "Hello world",
		},
		{
			name: "strips script and style",
			html: "<style>body { color: red }</style><script>alert(1)</script><p>Visible</p>",
			want: "Visible",
		},
		{
			name: "block elements become lines",
			html: "<div>First</div><div>Second</div>",
			want: "First\nSecond",
		},
		{
			name: "collapses runs of whitespace",
			html: "<p>Too     many    spaces</p>",
			want: "Too many spaces",
		},
		{
			name: "removes zero-width characters",
			html: "<p>He\u200Bllo\uFEFF there</p>",
			want: "Hello there",
		},
		{
			name: "list items on separate lines",
			html: "<ul><li>one</li><li>two</li></ul>",
			want: "one\ntwo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Render(tt.html)
			if err != nil {
				t.Fatalf("Render returned error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Render = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderFullDocument(t *testing.T) {
	r := NewHTMLRenderer()

	html := `<html><head><title>ignored</title></head><body>
		<h1>Quarterly report</h1>
		<p>Hi team,</p>
		<p>Numbers attached.</p>
	</body></html>`

	got, err := r.Render(html)
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if strings.Contains(got, "ignored") {
		t.Errorf("head content leaked into output: %q", got)
	}
	for _, want := range []string{"Quarterly report", "Hi team,", "Numbers attached."} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q: %q", want, got)
		}
	}
}
