package site

import "testing"

func TestDomain(t *testing.T) {
	cases := map[string]string{
		"https://www.example.com/login?next=/":  "example.com",
		"http://Example.COM:8080/x":             "example.com",
		"https://accounts.google.com/o/oauth2":  "accounts.google.com",
		"www.github.com":                        "github.com",
		"https://www.www.example.com/":          "www.example.com",
		"":                                      "",
		"https://[::1]:443/":                    "::1",
		"file:///tmp/index.html":                "",
		"https://wwwexample.com/":               "wwwexample.com",
	}
	for in, want := range cases {
		if got := Domain(in); got != want {
			t.Errorf("Domain(%q) = %q, want %q", in, got, want)
		}
	}
}
