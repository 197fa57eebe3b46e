package apsiken

import (
	"strconv"

	"github.com/PuerkitoBio/goquery"

	"kakomon-harvester/lib/fetch"
	"kakomon-harvester/lib/htmlutil"
)

// carrySet holds the hidden tokens each quiz page hands to the next
// step. The site rejects a step whose tokens do not match the page it
// served, so the walker replays them verbatim.
type carrySet struct {
	Q      string
	R      string
	C      string
	Result string
}

func readCarrySet(doc *goquery.Document) carrySet {
	return carrySet{
		Q:      htmlutil.HiddenValue(doc, "_q"),
		R:      htmlutil.HiddenValue(doc, "_r"),
		C:      htmlutil.HiddenValue(doc, "_c"),
		Result: htmlutil.HiddenValue(doc, "result"),
	}
}

// field category codes by exam division, matching the site's filter
// checkboxes: technology 1-13, management 14-16, strategy 17-23.
var fieldGroups = []struct {
	name string
	from int
	to   int
}{
	{"te_all", 1, 13},
	{"ma_all", 14, 16},
	{"st_all", 17, 23},
}

// stepForm builds the POST body for step qno; the reply shows question
// qno+1. The site reads repeated keys positionally, so pair order
// matters.
func stepForm(meta SessionMeta, qno int, sid, startTime string, carry carrySet) []fetch.Pair {
	form := []fetch.Pair{
		{Key: "times[]", Value: meta.TimesCode},
	}
	for _, group := range fieldGroups {
		form = append(form, fetch.Pair{Key: "fields[]", Value: group.name})
		for i := group.from; i <= group.to; i++ {
			form = append(form, fetch.Pair{Key: "categories[]", Value: strconv.Itoa(i)})
		}
	}
	result := carry.Result
	if result == "" {
		result = "-1"
	}
	form = append(form,
		fetch.Pair{Key: "options[]", Value: "timesFilter"},
		fetch.Pair{Key: "moshi", Value: "mix_all"},
		fetch.Pair{Key: "moshi_cnt", Value: "40"},
		fetch.Pair{Key: "addition", Value: "0"},
		fetch.Pair{Key: "mode", Value: "1"},
		fetch.Pair{Key: "qno", Value: strconv.Itoa(qno)},
		fetch.Pair{Key: "sid", Value: sid},
		fetch.Pair{Key: "result", Value: result},
		fetch.Pair{Key: "checkflag", Value: "-1"},
		fetch.Pair{Key: "startTime", Value: startTime},
		fetch.Pair{Key: "_q", Value: carry.Q},
		fetch.Pair{Key: "_r", Value: carry.R},
		fetch.Pair{Key: "_c", Value: carry.C},
	)
	return form
}
