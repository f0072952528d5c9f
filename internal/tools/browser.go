package tools

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/go-rod/rod"

	"github.com/castellan-dev/castellan/internal/engine"
)

// browserOnce/sharedBrowser lazily launch a single headless Chromium
// instance shared by every turn that uses the "browser" capability in
// this process, rather than paying a fresh launch per turn.
var (
	browserOnce   sync.Once
	sharedBrowser *rod.Browser
	browserErr    error
)

func getBrowser() (*rod.Browser, error) {
	browserOnce.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				browserErr = errRecover(r)
			}
		}()
		sharedBrowser = rod.New().MustConnect()
	})
	return sharedBrowser, browserErr
}

func errRecover(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicErr{r}
}

type panicErr struct{ v interface{} }

func (p *panicErr) Error() string { return "browser: " + toString(p.v) }

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "unknown error"
}

// withPage runs fn against a fresh page navigated to url, recovering any
// go-rod panic (its Must* API panics on failure, by design, for
// short-lived scripted use like this) into a normal error.
func withPage(url string, fn func(page *rod.Page) string) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errRecover(r)
		}
	}()
	b, berr := getBrowser()
	if berr != nil {
		return "", berr
	}
	page := b.MustPage(url)
	defer page.MustClose()
	page.MustWaitLoad()
	return fn(page), nil
}

// BrowserFactory backs the "browser" capability: minimal headless
// navigate/extract/screenshot tools over go-rod.
func BrowserFactory(_ context.Context, _ FactoryContext) (Server, error) {
	return Server{
		Name: "browser",
		Tools: []engine.ToolDefinition{
			{
				Name:        "browser_extract_text",
				Description: "Navigate to a URL and return the visible text of an element (or the whole body).",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"url"},
					"properties": map[string]interface{}{
						"url":      map[string]interface{}{"type": "string"},
						"selector": map[string]interface{}{"type": "string", "description": "CSS selector, defaults to body"},
					},
				},
				Handler: func(_ context.Context, args map[string]interface{}) (string, bool) {
					url, _ := args["url"].(string)
					selector, _ := args["selector"].(string)
					if selector == "" {
						selector = "body"
					}
					text, err := withPage(url, func(page *rod.Page) string {
						return page.MustElement(selector).MustText()
					})
					if err != nil {
						return errResult("browser_extract_text: %v", err)
					}
					return textResult(text)
				},
			},
			{
				Name:        "browser_screenshot",
				Description: "Navigate to a URL and return a base64-encoded PNG screenshot of the page.",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"url"},
					"properties": map[string]interface{}{
						"url": map[string]interface{}{"type": "string"},
					},
				},
				Handler: func(_ context.Context, args map[string]interface{}) (string, bool) {
					url, _ := args["url"].(string)
					var encoded string
					_, err := withPage(url, func(page *rod.Page) string {
						png := page.MustScreenshot()
						encoded = base64.StdEncoding.EncodeToString(png)
						return ""
					})
					if err != nil {
						return errResult("browser_screenshot: %v", err)
					}
					return textResult(encoded)
				},
			},
		},
	}, nil
}
