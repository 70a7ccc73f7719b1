package model

import "html/template"

// ItemPage is an item together with its rendered body, as served to readers
// that ask for HTML.
type ItemPage struct {
	ContentItem
	HTML template.HTML `json:"html"`
}
