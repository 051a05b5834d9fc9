package email

import (
	"bytes"
	"fmt"
	"log"
	"net/smtp"
	"os"
	"text/template"
)

type Sender interface {
	Send(to, subject, htmlBody string) error
}

type SMTPSender struct {
	host string
	port string
	from string
	auth smtp.Auth // nil for local dev (MailHog)
}

func NewSMTPSender() *SMTPSender {
	return &SMTPSender{
		host: getenv("SMTP_HOST", "localhost"),
		port: getenv("SMTP_PORT", "1025"),
		from: getenv("SMTP_FROM", "no-reply@astrofood.app"),
		// auth: add when using a real provider (smtp.PlainAuth("", user, pass, host))
	}
}

func (s *SMTPSender) Send(to, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	msg := buildRFC822(s.from, to, subject, htmlBody)
	return smtp.SendMail(addr, s.auth, s.from, []string{to}, msg)
}

func buildRFC822(from, to, subject, html string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&buf, "\r\n%s\r\n", html)
	return buf.Bytes()
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

var deliveryTpl = template.Must(template.New("delivery").Parse(`
<p>Bonjour,</p>
<p>Merci pour votre achat ! Téléchargez votre carte recette imprimable (disponible 72h) :</p>
<p><a href="{{.FileURL}}">Télécharger la carte recette</a></p>
<p>Bonne dégustation — L'équipe AstroFood</p>
`))

// RenderDeliveryEmail builds the download-link email sent right after a card
// is uploaded.
func RenderDeliveryEmail(fileURL string) string {
	var buf bytes.Buffer
	_ = deliveryTpl.Execute(&buf, map[string]any{
		"FileURL": fileURL,
	})
	return buf.String()
}

var receiptTpl = template.Must(template.New("receipt").Parse(`
<h2>Reçu d'achat AstroFood</h2>
<p>Commande: <b>{{.OrderID}}</b></p>
<p>Carte recette: <b>{{.RecipeID}}</b></p>
<p>Votre lien de téléchargement vous a été envoyé séparément.</p>
`))

// RenderReceiptEmail builds the purchase receipt sent by the receipt worker.
func RenderReceiptEmail(orderID, recipeID string) string {
	var buf bytes.Buffer
	_ = receiptTpl.Execute(&buf, map[string]any{
		"OrderID":  orderID,
		"RecipeID": recipeID,
	})
	return buf.String()
}

// Fallback logger sender: fulfillment still completes when SMTP is not
// configured, the notification just no-ops into the log.
type LogSender struct{}

func (LogSender) Send(to, subject, htmlBody string) error {
	log.Printf("[Email] to=%s subject=%q body=%q", to, subject, htmlBody)
	return nil
}
