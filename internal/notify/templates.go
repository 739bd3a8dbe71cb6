package notify

import (
	"bytes"
	"fmt"
	"html/template"
)

const layoutHead = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Subject}}</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 0; padding: 0; background-color: #f5f5f5;">
<table role="presentation" style="max-width: 520px; margin: 40px auto; background: #ffffff; border-radius: 8px;">
<tr><td style="padding: 32px 40px;">
<h1 style="margin: 0 0 16px; font-size: 22px; color: #1a1a1a;">{{.Subject}}</h1>
`

const layoutFoot = `</td></tr>
</table>
</body>
</html>`

var templates = template.Must(template.New("receipt").Parse(layoutHead + `
<p style="color: #444; font-size: 15px; line-height: 1.5;">We received your payment of <strong>{{.Amount}}</strong>. Thank you.</p>
<p style="color: #999; font-size: 13px;">Reference: {{.PaymentID}}</p>
` + layoutFoot))

func init() {
	template.Must(templates.New("dispute_alert").Parse(layoutHead + `
<p style="color: #444; font-size: 15px; line-height: 1.5;">A payer has disputed payment <strong>{{.PaymentID}}</strong>{{if .Amount}} for {{.Amount}}{{end}}.</p>
{{if .Reason}}<p style="color: #444; font-size: 15px;">Reason given: {{.Reason}}</p>{{end}}
<p style="color: #444; font-size: 15px; line-height: 1.5;">Respond in your processor dashboard before the evidence deadline.</p>
` + layoutFoot))

	template.Must(templates.New("integrity_alert").Parse(layoutHead + `
<p style="color: #444; font-size: 15px; line-height: 1.5;">Processor event <strong>{{.EventID}}</strong> was not applied and needs review.</p>
<p style="color: #444; font-size: 15px;">Reason: {{.Reason}}</p>
{{if .Detail}}<pre style="background: #f5f5f5; padding: 12px; font-size: 13px; white-space: pre-wrap;">{{.Detail}}</pre>{{end}}
{{if .OrganizationID}}<p style="color: #999; font-size: 13px;">Organization: {{.OrganizationID}}</p>{{end}}
` + layoutFoot))
}

type templateData struct {
	Subject        string
	EventID        string
	OrganizationID string
	PaymentID      string
	Amount         string
	Reason         string
	Detail         string
}

func subjectFor(n Notification) string {
	switch n.Kind {
	case KindReceipt:
		return "Payment receipt"
	case KindDisputeAlert:
		return "Payment disputed"
	case KindIntegrityAlert:
		return "Reconciliation alarm: " + n.Reason
	default:
		return string(n.Kind)
	}
}

// Render builds the subject, HTML body and plain-text body of a notification.
func Render(n Notification) (subject, html, text string, err error) {
	data := templateData{
		Subject:        subjectFor(n),
		EventID:        n.EventID,
		OrganizationID: n.OrganizationID,
		PaymentID:      n.PaymentID,
		Reason:         n.Reason,
		Detail:         n.Detail,
	}
	if n.Amount != nil {
		data.Amount = n.Amount.String()
	}

	tmpl := templates.Lookup(string(n.Kind))
	if tmpl == nil {
		return "", "", "", fmt.Errorf("no template for notification kind %q", n.Kind)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", "", fmt.Errorf("render %s template: %w", n.Kind, err)
	}

	switch n.Kind {
	case KindReceipt:
		text = fmt.Sprintf("We received your payment of %s. Thank you.\n\nReference: %s", data.Amount, n.PaymentID)
	case KindDisputeAlert:
		text = fmt.Sprintf("A payer has disputed payment %s (%s). Reason: %s", n.PaymentID, data.Amount, n.Reason)
	default:
		text = fmt.Sprintf("Processor event %s was not applied.\nReason: %s\n%s", n.EventID, n.Reason, n.Detail)
	}
	return data.Subject, buf.String(), text, nil
}
