package webhook

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/google/uuid"
)

// Delivery describes a webhook request for logging and history.
// All fields except ID and Event may be empty.
type Delivery struct {
	ID         string
	Event      string
	Ref        string
	Commit     string
	Repository string // owner/name
}

// ParseDelivery extracts delivery metadata. It must only be called on a body
// whose signature was already verified; parse failures leave fields empty.
func ParseDelivery(r *http.Request, body []byte) Delivery {
	d := Delivery{
		ID:    github.DeliveryID(r),
		Event: github.WebHookType(r),
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Event == "" {
		d.Event = "unknown"
		return d
	}

	payload := body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return d
		}
		payload = []byte(form.Get("payload"))
	}

	event, err := github.ParseWebHook(d.Event, payload)
	if err != nil {
		return d
	}

	if push, ok := event.(*github.PushEvent); ok {
		d.Ref = push.GetRef()
		d.Commit = push.GetAfter()
		d.Repository = push.GetRepo().GetFullName()
	}

	return d
}

// OwnerRepo splits Repository into owner and name
func (d Delivery) OwnerRepo() (string, string, bool) {
	owner, repo, ok := strings.Cut(d.Repository, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", false
	}
	return owner, repo, true
}
