package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

// CleanText collapses runs of whitespace and strips non-printable
// characters, which question pages are full of (entity soup, zero-width
// joiners inside furigana markup).
func CleanText(s string) string {
	var out strings.Builder
	for _, c := range s {
		if unicode.IsPrint(c) {
			out.WriteRune(c)
		}
	}
	cleaned := strings.Trim(out.String(), " \t\n")
	return innerWhitespace.ReplaceAllString(cleaned, " ")
}

// HiddenValue returns the value of <input name=...> inside doc, or ""
// when the input is absent or carries no value attribute.
func HiddenValue(doc *goquery.Document, name string) string {
	return doc.Find("input[name='" + name + "']").AttrOr("value", "")
}

// SelectionText is CleanText applied to the combined text of a selection.
func SelectionText(sel *goquery.Selection) string {
	return CleanText(sel.Text())
}
