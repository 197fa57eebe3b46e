package apsiken

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"kakomon-harvester/lib/corpus"
	"kakomon-harvester/lib/htmlutil"
)

// Extractor turns a fetched quiz page into corpus records. The walker
// is parameterized on this so tests can swap in a canned extractor.
type Extractor func(page string, meta SessionMeta) []corpus.Record

var answerChars = map[string]int{
	"ア": 0,
	"イ": 1,
	"ウ": 2,
	"エ": 3,
}

var choiceSelectors = []string{"#select_a", "#select_i", "#select_u", "#select_e"}

var totalPattern = regexp.MustCompile(`選択中の問題(\d+)問`)
var trailingDigits = regexp.MustCompile(`\d+$`)

var categorySeparators = strings.NewReplacer("&raquo;", "»", "＞", "»", ">", "»")

// ExtractQuestions pulls every answered question off a quiz result
// page. Pages without a choice list (the form pages between steps)
// yield nil.
func ExtractQuestions(page string, meta SessionMeta) []corpus.Record {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil
	}
	if doc.Find(".selectList").Length() == 0 {
		return nil
	}

	record := corpus.Record{
		PartitionKey: meta.Year,
		AnswerIndex:  corpus.UnknownAnswer,
	}

	if text := questionText(doc); text != "" {
		record.Text = &text
	}

	for _, selector := range choiceSelectors {
		sel := doc.Find(selector)
		if sel.Length() == 0 {
			// keep the slot so validation flags the page
			record.Choices = append(record.Choices, "")
			continue
		}
		record.Choices = append(record.Choices, htmlutil.SelectionText(sel))
	}

	if char := htmlutil.SelectionText(doc.Find("#answerChar")); char != "" {
		if idx, ok := answerChars[char]; ok {
			record.AnswerIndex = idx
		}
	}

	record.Explanation = htmlutil.SelectionText(doc.Find("#kaisetsu"))
	record.SourceURL = doc.Find("meta[property='og:url']").AttrOr("content", meta.BaseURL)
	record.Category, record.CategoryPath = questionCategory(doc)
	record.ID = questionID(doc, meta)

	return []corpus.Record{record}
}

// questionText reads the statement that follows the 第N問 heading.
func questionText(doc *goquery.Document) string {
	var text string
	doc.Find("h3.qno").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text = htmlutil.SelectionText(sel.NextFiltered("div"))
		return false
	})
	return text
}

// questionCategory reads the 分類 breadcrumb, e.g.
// テクノロジ系 » 基礎理論 » 離散数学.
func questionCategory(doc *goquery.Document) (string, []string) {
	var path []string
	doc.Find("h3").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if !strings.Contains(sel.Text(), "分類") {
			return true
		}
		raw := categorySeparators.Replace(htmlutil.SelectionText(sel.NextFiltered("div")))
		for _, part := range strings.Split(raw, "»") {
			if part = strings.TrimSpace(part); part != "" {
				path = append(path, part)
			}
		}
		return false
	})
	if len(path) == 0 {
		return "unknown", nil
	}
	return strings.Join(path, " » "), path
}

// questionID derives a stable id from the question's hidden form token
// when one is present. Pages without it get an id synthesized by the
// store later.
func questionID(doc *goquery.Document, meta SessionMeta) string {
	token := htmlutil.HiddenValue(doc, "_q")
	if token == "" {
		return ""
	}
	digits := trailingDigits.FindString(token)
	if digits == "" {
		return ""
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return ""
	}
	return corpus.SynthesizeID(meta.Year, n)
}

// ParseTotalQuestions reads the 選択中の問題N問 banner telling how many
// questions the chosen filters selected. Returns 0 when absent.
func ParseTotalQuestions(page string) int {
	match := totalPattern.FindStringSubmatch(page)
	if match == nil {
		return 0
	}
	n, _ := strconv.Atoi(match[1])
	return n
}
