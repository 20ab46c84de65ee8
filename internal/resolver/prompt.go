package resolver

import (
	"fmt"
	"strings"
	"text/template"

	"zeroledger/internal/apperr"
	"zeroledger/internal/models"
)

type promptData struct {
	LabelID   string
	LabelName string
	Policy    string
}

func parseTemplate(text string) (*template.Template, error) {
	tmpl, err := template.New("system").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, apperr.Configuration("prompt.system_template", err.Error())
	}
	return tmpl, nil
}

func renderSystemPrompt(tmpl *template.Template, label models.Label) (string, error) {
	var sb strings.Builder
	err := tmpl.Execute(&sb, promptData{
		LabelID:   label.ID,
		LabelName: label.Name,
		Policy:    label.Policy,
	})
	if err != nil {
		return "", apperr.Configuration("prompt.system_template", fmt.Sprintf("render for %s: %v", label.ID, err))
	}
	return sb.String(), nil
}
