package composer

import "github.com/microcosm-cc/bluemonday"

// richTextPolicy allows the composer's formatting subset and nothing else.
// Stored content is filtered here before persistence; renderers should run
// untrusted content through Sanitize again before display.
var richTextPolicy = buildPolicy()

func buildPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "br", "strong", "em", "s", "u",
		"code", "pre", "blockquote",
		"ul", "ol", "li",
	)
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.RequireNoFollowOnLinks(true)
	return p
}

// Sanitize strips markup down to the allow-listed rich-text subset.
func Sanitize(text string) string {
	return richTextPolicy.Sanitize(text)
}
