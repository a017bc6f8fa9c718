package provider

// defaultProviders is the built-in catalog. Order matters: an element that
// mentions both "google" and "github" classifies as Google.
var defaultProviders = []Provider{
	{Name: "Google", Keywords: []string{"google", "gmail", "g+"}},
	{Name: "Facebook", Keywords: []string{"facebook", "fb", "meta"}},
	{Name: "GitHub", Keywords: []string{"github", "git hub"}},
	{Name: "Apple", Keywords: []string{"apple", "icloud", "sign in with apple"}},
	{Name: "Microsoft", Keywords: []string{"microsoft", "outlook", "hotmail", "live", "msn"}},
	{Name: "Twitter", Keywords: []string{"twitter", "x.com"}},
	{Name: "LinkedIn", Keywords: []string{"linkedin"}},
	{Name: "Discord", Keywords: []string{"discord"}},
	{Name: "Amazon", Keywords: []string{"amazon"}},
	{Name: "Yahoo", Keywords: []string{"yahoo"}},
}

var defaultCatalog = mustCatalog(defaultProviders)

// DefaultCatalog returns the built-in provider catalog.
func DefaultCatalog() *Catalog {
	return defaultCatalog
}

func mustCatalog(ps []Provider) *Catalog {
	c, err := NewCatalog(ps)
	if err != nil {
		panic(err)
	}
	return c
}
