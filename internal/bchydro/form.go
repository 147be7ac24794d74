package bchydro

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// loginForm is an HTML form with all of its prefilled inputs (csrf tokens etc)
type loginForm struct {
	Action    *url.URL
	Values    url.Values
	UserField string
	PassField string
}

// findLoginForm returns the first form that has a password input
func findLoginForm(r io.Reader) (*loginForm, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing login page: %w", err)
	}

	form := findFirst(doc, func(n *html.Node) bool {
		return isElement(n, "form") && findFirst(n, isPasswordInput) != nil
	})
	if form == nil {
		return nil, fmt.Errorf("no login form found")
	}

	ret := &loginForm{Values: url.Values{}}
	ret.Action, err = url.Parse(attr(form, "action"))
	if err != nil {
		return nil, fmt.Errorf("parsing login form action: %w", err)
	}

	walk(form, func(n *html.Node) {
		if !isElement(n, "input") {
			return
		}
		name := attr(n, "name")
		if name == "" {
			return
		}
		ret.Values.Add(name, attr(n, "value"))

		switch strings.ToLower(attr(n, "type")) {
		case "password":
			if ret.PassField == "" {
				ret.PassField = name
			}
		case "", "text", "email":
			if ret.UserField == "" {
				ret.UserField = name
			}
		}
	})

	if ret.UserField == "" {
		return nil, fmt.Errorf("login form has no username field")
	}

	return ret, nil
}

// hasLoginForm reports whether the page still asks for a password
func hasLoginForm(body []byte) bool {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return false
	}
	return findFirst(doc, isPasswordInput) != nil
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

func isPasswordInput(n *html.Node) bool {
	return isElement(n, "input") && strings.EqualFold(attr(n, "type"), "password")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if match(c) {
			return c
		}
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func walk(n *html.Node, fn func(*html.Node)) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		fn(c)
		walk(c, fn)
	}
}
