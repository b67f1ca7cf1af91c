package assets

import "testing"

func TestResolve(t *testing.T) {
	r := NewResolver("http://localhost:3001/", "cars")

	cases := []struct {
		name string
		ref  string
		want string
	}{
		{"absolute http passthrough", "http://cdn.example.com/a.webp", "http://cdn.example.com/a.webp"},
		{"absolute https passthrough", "https://cdn.example.com/a.webp", "https://cdn.example.com/a.webp"},
		{"rooted path joins base", "/uploads/cars/camry.webp", "http://localhost:3001/uploads/cars/camry.webp"},
		{"bare filename under owner dir", "camry.webp", "http://localhost:3001/uploads/cars/camry.webp"},
		{"empty ref", "", ""},
		{"whitespace ref", "   ", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.Resolve(tc.ref); got != tc.want {
				t.Errorf("Resolve(%q) = %q, want %q", tc.ref, got, tc.want)
			}
		})
	}
}

func TestResolveDefaultsOwner(t *testing.T) {
	r := NewResolver("http://localhost:3001", "")
	if got := r.Resolve("x.webp"); got != "http://localhost:3001/uploads/cars/x.webp" {
		t.Fatalf("Resolve = %q", got)
	}
}
