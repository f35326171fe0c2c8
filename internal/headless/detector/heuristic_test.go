package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeuristic_ShouldPromote(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)

	tests := []struct {
		name string
		body string
		want bool
	}{
		{
			name: "empty body",
			body: "",
			want: true,
		},
		{
			name: "react root marker",
			body: `<html><body><div id="root"></div></body></html>`,
			want: true,
		},
		{
			name: "next.js shell",
			body: `<html><body><div id="__next"></div></body></html>`,
			want: true,
		},
		{
			name: "short script-heavy shell",
			body: `<html><body><script>` + strings.Repeat("window.x=1;", 40) + `</script><p>hi</p></body></html>`,
			want: true,
		},
		{
			name: "plain article",
			body: `<html><body>` + strings.Repeat("<p>Readable paragraph text with no scripts at all.</p>", 60) + `</body></html>`,
			want: false,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, h.ShouldPromote([]byte(tt.body)))
		})
	}
}
