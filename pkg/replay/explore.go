package replay

import (
	"context"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/replayer/pkg/scan"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/types"
	"github.com/PuerkitoBio/goquery"
)

// ExtractForms returns every top-level <form> in content. Nested forms are
// part of their parent's HTML.
func ExtractForms(pageURL, content string) []scan.Form {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil
	}

	var forms []scan.Form
	doc.Find("form").Each(func(_ int, sel *goquery.Selection) {
		if sel.ParentsFiltered("form").Length() > 0 {
			return
		}
		html, err := goquery.OuterHtml(sel)
		if err != nil {
			return
		}
		forms = append(forms, scan.Form{
			Action:  sel.AttrOr("action", ""),
			HTML:    html,
			PageURL: pageURL,
		})
	})
	return forms
}

// explore records every non-404 hop the task has not seen before.
func (e *Engine) explore(ctx context.Context, history types.History) {
	if e.state == nil {
		return
	}
	for _, hop := range history {
		resp := hop.Response
		if resp == nil || resp.Status == 404 {
			continue
		}
		sig := scan.PageSignature(e.state.TaskID, hop.Request.Method, hop.Request.Params, resp.Content)
		if !e.state.MarkExplored(sig) {
			continue
		}

		forms := ExtractForms(resp.URL, resp.Content)
		e.state.AddForms(forms)

		if e.state.Sink == nil {
			continue
		}
		page := &scan.Page{
			ID:        scan.PageID(e.state.TaskID, hop.Request),
			TaskID:    e.state.TaskID,
			Signature: sig,
			Request:   hop.Request,
			Response:  resp,
			Forms:     forms,
			CreatedAt: time.Now().UTC(),
		}
		if err := e.state.Sink.SavePage(ctx, page); err != nil {
			e.log.Warnw("Failed to save explored page",
				"url", resp.URL,
				"error", err,
			)
		}
	}
}
