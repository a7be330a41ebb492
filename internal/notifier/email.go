package notifier

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"

	"github.com/wneessen/go-mail"

	"github.com/oakhurst/inf-report-bot/internal/config"
	"github.com/oakhurst/inf-report-bot/internal/models"
	"github.com/oakhurst/inf-report-bot/internal/util"
)

const reportTemplate = `<html>
<body style="font-family: Arial, sans-serif; color: #202124;">
<h2>INF Report: {{.Store}}</h2>
<p>{{.Date}} &mdash; {{.Count}} item{{if ne .Count 1}}s{{end}} not found</p>
<table border="1" cellpadding="6" cellspacing="0" style="border-collapse: collapse;">
<tr style="background-color: #f1f3f4;">
<th></th><th>SKU</th><th>Product</th><th>INF Units</th><th>Orders</th><th>INF %</th>{{if .HasStock}}<th>Stock</th><th>Location</th>{{end}}
</tr>
{{range .Items}}
<tr>
<td>{{if .ImageURL}}<img src="{{.ImageURL}}" alt="" width="{{$.ThumbSize}}">{{end}}</td>
<td>{{.SKU}}</td>
<td>{{.ProductName}}</td>
<td align="right">{{.INFUnits}}</td>
<td align="right">{{.OrdersImpacted}}</td>
<td align="right">{{.INFPercent}}</td>
{{if $.HasStock}}<td align="right">{{.StockText}}</td><td>{{.LocationText}}</td>{{end}}
</tr>
{{end}}
</table>
</body>
</html>`

var reportTmpl = template.Must(template.New("report").Parse(reportTemplate))

// EmailClient sends the full daily report as an HTML email over SMTP.
type EmailClient struct {
	cfg *config.Config
}

func NewEmailClient(cfg *config.Config) *EmailClient {
	return &EmailClient{cfg: cfg}
}

type emailRow struct {
	SKU            string
	ProductName    string
	ImageURL       string
	INFUnits       int
	OrdersImpacted int
	INFPercent     string
	StockText      string
	LocationText   string
}

type emailData struct {
	Store     string
	Date      string
	Count     int
	ThumbSize int
	HasStock  bool
	Items     []emailRow
}

// Notify renders and sends the report. Unlike the chat sink, an empty set is
// still sent: "nothing was missed today" is itself the report.
func (c *EmailClient) Notify(ctx context.Context, date string, records []models.ItemRecord) error {
	html, err := c.renderHTML(date, records)
	if err != nil {
		return err
	}

	msg := mail.NewMsg()
	if err := msg.From(c.cfg.Email.From); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(c.cfg.Email.To...); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(fmt.Sprintf("INF Report %s: %s (%d items)", date, c.cfg.Store.Name, len(records)))
	msg.SetBodyString(mail.TypeTextHTML, html)

	opts := []mail.Option{
		mail.WithPort(c.cfg.Email.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if c.cfg.Email.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(c.cfg.Email.Username),
			mail.WithPassword(c.cfg.Email.Password),
		)
	}

	client, err := mail.NewClient(c.cfg.Email.Host, opts...)
	if err != nil {
		return fmt.Errorf("failed to build SMTP client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send report email: %w", err)
	}

	slog.Info("Email report sent", "items", len(records), "recipients", len(c.cfg.Email.To))
	return nil
}

func (c *EmailClient) renderHTML(date string, records []models.ItemRecord) (string, error) {
	data := emailData{
		Store:     c.cfg.Store.Name,
		Date:      date,
		Count:     len(records),
		ThumbSize: c.cfg.ThumbnailSize,
	}
	for _, rec := range records {
		row := emailRow{
			SKU:            rec.SKU,
			ProductName:    rec.ProductName,
			INFUnits:       rec.INFUnits,
			OrdersImpacted: rec.OrdersImpacted,
			INFPercent:     rec.INFPercent,
		}
		if rec.ImageURL != "" {
			row.ImageURL = util.ResizeImageURL(rec.ImageURL, c.cfg.ThumbnailSize)
		}
		if rec.Stock != nil {
			data.HasStock = true
			row.StockText = fmt.Sprintf("%d %s", rec.Stock.OnHand, rec.Stock.Unit)
			row.LocationText = rec.Stock.Location
			if rec.Stock.PromoLocation != "" {
				row.LocationText += " (promo: " + rec.Stock.PromoLocation + ")"
			}
		}
		data.Items = append(data.Items, row)
	}

	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render report template: %w", err)
	}
	return buf.String(), nil
}
