package provider

import (
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/bookfetch/pkg/config"
	"github.com/Sriram-PR/bookfetch/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func exampleProviders() []config.ProviderConfig {
	return []config.ProviderConfig{
		{
			Name:      "example",
			Hosts:     []string{"example.org", "www.example.org"},
			IDPattern: `^/ebooks/(\d+)`,
			Templates: []string{
				"{scheme}://{host}/files/{id}/{id}-pdf.pdf",
				"{scheme}://{host}/ebooks/{id}.pdf",
				"{scheme}://{host}/files/{id}/{id}-pdf.pdf", // duplicate
				"{scheme}://{host}/cache/epub/{id}/pg{id}.pdf",
			},
		},
	}
}

func TestGuesser_Guess_OrderAndDedupe(t *testing.T) {
	g, err := NewGuesser(exampleProviders(), testLogger())
	require.NoError(t, err)

	got := g.Guess("https://example.org/ebooks/1342")

	assert.Equal(t, []string{
		"https://example.org/files/1342/1342-pdf.pdf",
		"https://example.org/ebooks/1342.pdf",
		"https://example.org/cache/epub/1342/pg1342.pdf",
	}, got)
	for _, c := range got {
		assert.True(t, strings.Contains(c, "1342"), "candidate %s lacks the id", c)
	}
}

func TestGuesser_Guess_HostVariants(t *testing.T) {
	g, err := NewGuesser(exampleProviders(), testLogger())
	require.NoError(t, err)

	got := g.Guess("http://WWW.Example.org/ebooks/84/")
	require.NotEmpty(t, got)
	assert.Equal(t, "http://WWW.Example.org/files/84/84-pdf.pdf", got[0], "scheme and host are carried over from the landing page")
}

func TestGuesser_Guess_Unrecognized(t *testing.T) {
	g, err := NewGuesser(exampleProviders(), testLogger())
	require.NoError(t, err)

	tests := []string{
		"https://unknown.example/ebooks/1342",
		"https://example.org/about",
		"https://example.org/ebooks/abc",
		"not a url",
		"",
		"ftp://example.org/ebooks/1",
	}
	for _, u := range tests {
		got := g.Guess(u)
		assert.NotNil(t, got)
		assert.Empty(t, got, "expected no guesses for %q", u)
	}
	assert.NotEmpty(t, g.Guess("https://example.org/ebooks/1342"))
}

func TestGuesser_DefaultProviders(t *testing.T) {
	g, err := NewGuesser(nil, testLogger())
	require.NoError(t, err)

	gutenberg := g.Guess("https://www.gutenberg.org/ebooks/1342")
	require.NotEmpty(t, gutenberg)
	for _, c := range gutenberg {
		assert.Contains(t, c, "1342")
		assert.True(t, strings.HasPrefix(c, "https://www.gutenberg.org/"))
	}

	archive := g.Guess("https://archive.org/details/prideprejudice00aust")
	require.NotEmpty(t, archive)
	assert.Equal(t, "https://archive.org/download/prideprejudice00aust/prideprejudice00aust.pdf", archive[0])
}

func TestGuesser_FirstMatchingProviderWins(t *testing.T) {
	providers := []config.ProviderConfig{
		{Name: "narrow", Hosts: []string{"example.org"}, IDPattern: `^/special/(\d+)`, Templates: []string{"{scheme}://{host}/s/{id}.pdf"}},
		{Name: "broad", Hosts: []string{"example.org"}, IDPattern: `^/\w+/(\d+)`, Templates: []string{"{scheme}://{host}/b/{id}.pdf"}},
	}
	g, err := NewGuesser(providers, testLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{"https://example.org/s/5.pdf"}, g.Guess("https://example.org/special/5"))
	assert.Equal(t, []string{"https://example.org/b/6.pdf"}, g.Guess("https://example.org/ebooks/6"))
}

func TestNewGuesser_InvalidPattern(t *testing.T) {
	_, err := NewGuesser([]config.ProviderConfig{{Name: "bad", Hosts: []string{"x"}, IDPattern: `(`}}, testLogger())
	assert.ErrorIs(t, err, utils.ErrConfigValidation)

	_, err = NewGuesser([]config.ProviderConfig{{Name: "nogroup", Hosts: []string{"x"}, IDPattern: `\d+`}}, testLogger())
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
}
