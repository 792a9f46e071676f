package reminder

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"

	"mealreminder/internal/types"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// MessageData is the single field set both bodies are rendered from, so the
// plain text and HTML versions always agree.
type MessageData struct {
	MealName     string
	Slot         types.MealSlot
	Weekday      string
	MealTime     string
	ReminderTime string
}

// TimeLabel is the "07:30 (meal at 08:00)" line shown in both bodies.
func (d MessageData) TimeLabel() string {
	return fmt.Sprintf("%s (meal at %s)", d.ReminderTime, d.MealTime)
}

// RenderedMessage is the subject and both bodies of a reminder email.
type RenderedMessage struct {
	Subject string
	Text    string
	HTML    string
}

// Renderer renders reminder emails from the embedded templates.
type Renderer struct {
	html *htmltemplate.Template
	text *texttemplate.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	html, err := htmltemplate.ParseFS(templateFS, "templates/reminder.html")
	if err != nil {
		return nil, fmt.Errorf("parsing html template: %w", err)
	}
	text, err := texttemplate.ParseFS(templateFS, "templates/reminder.txt")
	if err != nil {
		return nil, fmt.Errorf("parsing text template: %w", err)
	}
	return &Renderer{html: html, text: text}, nil
}

// Subject returns the subject line for a meal.
func Subject(mealName string) string {
	return "Time to cook: " + mealName
}

// Render produces the subject and bodies for one reminder.
func (r *Renderer) Render(data MessageData) (RenderedMessage, error) {
	var textBuf, htmlBuf bytes.Buffer
	if err := r.text.Execute(&textBuf, data); err != nil {
		return RenderedMessage{}, types.NewAppError(types.ErrCodeInternalRender, "failed to render text body", err)
	}
	if err := r.html.Execute(&htmlBuf, data); err != nil {
		return RenderedMessage{}, types.NewAppError(types.ErrCodeInternalRender, "failed to render html body", err)
	}
	return RenderedMessage{
		Subject: Subject(data.MealName),
		Text:    textBuf.String(),
		HTML:    htmlBuf.String(),
	}, nil
}
