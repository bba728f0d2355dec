package render

import (
	"github.com/Sriram-PR/bookfetch/pkg/compose"
)

// WriteFallbackDocument generates the placeholder shipped as the bundled fallback.
func WriteFallbackDocument(path string) error {
	sections := []compose.Section{
		{
			Heading: "This book is not available right now",
			Body: "None of the sources listed for this book produced a readable document.\n" +
				"The download may succeed later, once the source is reachable again.\n" +
				"Removing the book from the local cache and opening it again starts a fresh attempt.",
		},
		{
			Heading: "Why am I seeing this page?",
			Body: "The book catalog links each title to one or more remote sources: a direct document, " +
				"a landing page, or an alternate format. Every source was tried in turn and none of them " +
				"yielded a document that passed validation.\n" +
				"This placeholder is shown instead so that the reader always has something to open.",
		},
	}
	return compose.WriteText(path, sections, compose.Options{Title: "Document unavailable", Author: "bookfetch"})
}
