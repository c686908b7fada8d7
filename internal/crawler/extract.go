package crawler

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractLinks pulls anchor targets out of rendered HTML, resolved
// against the page URL, with fragments stripped and trailing slashes
// trimmed.
func ExtractLinks(pageURL, html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		resolved.Fragment = ""
		link := strings.TrimSuffix(resolved.String(), "/")
		if link == "" {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links, nil
}

// FormField is one fillable input discovered in a page form.
type FormField struct {
	Name string
	Type string
}

// Form is a discovered HTML form with its submission target.
type Form struct {
	Action string
	Method string
	Fields []FormField
}

// ExtractForms finds forms in rendered HTML. The action is resolved
// against the page URL; the method defaults to GET as browsers do.
func ExtractForms(pageURL, html string) ([]Form, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	var forms []Form
	doc.Find("form").Each(func(_ int, f *goquery.Selection) {
		action := strings.TrimSpace(f.AttrOr("action", ""))
		resolved := base
		if action != "" {
			if r, err := base.Parse(action); err == nil {
				resolved = r
			}
		}
		method := strings.ToUpper(strings.TrimSpace(f.AttrOr("method", "GET")))
		if method == "" {
			method = "GET"
		}

		form := Form{Action: resolved.String(), Method: method}
		f.Find("input:not([type=hidden]):not([type=submit]), textarea").Each(func(_ int, in *goquery.Selection) {
			name := strings.TrimSpace(in.AttrOr("name", ""))
			if name == "" {
				return
			}
			form.Fields = append(form.Fields, FormField{
				Name: name,
				Type: strings.ToLower(in.AttrOr("type", "text")),
			})
		})
		forms = append(forms, form)
	})
	return forms, nil
}

// DummyValue picks a plausible fill value for a form field, matching how
// a tester would exercise a login or search form.
func DummyValue(field FormField) string {
	name := strings.ToLower(field.Name)
	switch {
	case field.Type == "password":
		return "Password123!"
	case field.Type == "email" || strings.Contains(name, "email"):
		return "test@example.com"
	case field.Type == "number":
		return "1"
	case field.Type == "text" || field.Type == "search" || field.Type == "url" || field.Type == "":
		return "testuser"
	default:
		return ""
	}
}
