package portal

import (
	"bytes"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/WillyEverGreen/CRCE-calc/internal/grading"
	"github.com/WillyEverGreen/CRCE-calc/pkg/htmlutil"
)

// LoginMarker is present on the portal's login page, a fetch that lands on it has no valid session.
const LoginMarker = "Login to Your Account"

const unknownSubject = "Unknown Subject"

// ParseSubjectLinks returns the absolute, de-duplicated subject detail links of a dashboard page
// in document order. fallback is only consulted when primary matches nothing.
func ParseSubjectLinks(base *url.URL, html, primary, fallback string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	anchors := htmlutil.GetAnchors(base, doc.Find(primary))
	if len(anchors) == 0 && fallback != "" {
		anchors = htmlutil.GetAnchors(base, doc.Find(fallback))
	}

	seen := map[string]bool{}
	links := []string{}
	for _, a := range anchors {
		link := a.Url.String()
		if seen[link] {
			continue
		}
		seen[link] = true
		links = append(links, link)
	}
	return links, nil
}

var errorWords = []string{"invalid", "error"}

// IsLoginFailure reports whether the page reached after submitting the login form means the
// credentials were rejected: the form is still there, or the page is not the dashboard and
// shows an error.
func IsLoginFailure(pageURL, html, usernameSelector string) (bool, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false, err
	}
	if strings.Contains(html, LoginMarker) || doc.Find(usernameSelector).Length() > 0 {
		return true, nil
	}
	if strings.Contains(strings.ToLower(pageURL), "dashboard") {
		return false, nil
	}
	text := strings.ToLower(htmlutil.SelectionText(doc.Find("body")))
	for _, w := range errorWords {
		if strings.Contains(text, w) {
			return true, nil
		}
	}
	return false, nil
}

type SubjectPage struct {
	Name       string
	Components []grading.MarksComponent
	// LoginRedirect is set when the portal served its login page instead of the subject.
	LoginRedirect bool
	// MarksTables counts the tables that contained marks, only the first one is used.
	MarksTables int
}

var marksRegex = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*/\s*(\d+(?:\.\d+)?)`)

func parseMarks(text string) (grading.MarksComponent, bool) {
	match := marksRegex.FindStringSubmatch(text)
	if match == nil {
		return grading.MarksComponent{}, false
	}
	obtained, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return grading.MarksComponent{}, false
	}
	max, err := strconv.ParseFloat(match[2], 64)
	if err != nil {
		return grading.MarksComponent{}, false
	}
	return grading.MarksComponent{Obtained: obtained, Max: max}, true
}

func tableComponents(table *goquery.Selection) []grading.MarksComponent {
	var components []grading.MarksComponent
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		// rows of nested tables belong to the nested table
		if !row.Closest("table").IsSelection(table) {
			return
		}
		cells := row.Find("td, th")
		cells.EachWithBreak(func(i int, cell *goquery.Selection) bool {
			component, ok := parseMarks(cell.Text())
			if !ok {
				return true
			}
			if i > 0 {
				component.Label = htmlutil.SelectionText(cells.First())
			}
			components = append(components, component)
			return false
		})
	})
	return components
}

// ParseSubjectPage extracts the subject name and its marks components from a subject detail page.
func ParseSubjectPage(body []byte) (SubjectPage, error) {
	if bytes.Contains(body, []byte(LoginMarker)) {
		return SubjectPage{LoginRedirect: true}, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return SubjectPage{}, err
	}

	page := SubjectPage{Name: htmlutil.SelectionText(doc.Find("caption").First())}
	if page.Name == "" {
		page.Name = htmlutil.SelectionText(doc.Find("h3").First())
	}
	if page.Name == "" {
		page.Name = unknownSubject
	}

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		components := tableComponents(table)
		if len(components) == 0 {
			return
		}
		page.MarksTables++
		if page.Components == nil {
			page.Components = components
		}
	})
	return page, nil
}
