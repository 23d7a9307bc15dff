package mockd

import (
	"strings"

	"github.com/campuskit/sage/pkg/chat"
)

// fixture is one canned answer, selected by keyword match on the question.
type fixture struct {
	keywords []string
	answer   string
	refs     []chat.ReferenceArticle
}

var fixtures = []fixture{
	{
		keywords: []string{"library", "book"},
		answer: "The main library is open from 8am to 10pm on weekdays and 9am to 6pm on weekends. " +
			"During exam weeks the reading rooms stay open until midnight.",
		refs: []chat.ReferenceArticle{
			{ID: 101, Title: "Library opening hours", URL: "https://campus.example.edu/articles/101"},
			{ID: 102, Title: "Exam week extended hours", URL: "https://campus.example.edu/articles/102"},
		},
	},
	{
		keywords: []string{"gym", "sport", "fitness"},
		answer: "The campus gym is open daily from 6am to 10pm. A student card gets you in; " +
			"court bookings open three days in advance on the campus portal.",
		refs: []chat.ReferenceArticle{
			{ID: 201, Title: "Sports center guide", URL: "https://campus.example.edu/articles/201"},
		},
	},
	{
		keywords: []string{"dining", "canteen", "food", "eat"},
		answer: "There are three dining halls on campus. The north hall serves breakfast from 7am, " +
			"and the west hall stays open for late dinner until 9:30pm.",
		refs: []chat.ReferenceArticle{
			{ID: 301, Title: "Dining hall locations and hours", URL: "https://campus.example.edu/articles/301"},
		},
	},
	{
		keywords: []string{"wifi", "network", "internet"},
		answer: "Connect to the CampusNet wireless network and sign in with your student account. " +
			"Dorm rooms also have wired ports; cables are available at the IT help desk.",
		refs: []chat.ReferenceArticle{
			{ID: 401, Title: "Getting online in the dorms", URL: "https://campus.example.edu/articles/401"},
		},
	},
}

const defaultAnswer = "I don't have a precise answer for that yet. " +
	"Try asking about the library, dining halls, sports facilities, or campus network."

// answerFor picks the canned answer whose keywords appear in the question.
func answerFor(question string) fixture {
	q := strings.ToLower(question)
	for _, f := range fixtures {
		for _, kw := range f.keywords {
			if strings.Contains(q, kw) {
				return f
			}
		}
	}
	return fixture{answer: defaultAnswer}
}
